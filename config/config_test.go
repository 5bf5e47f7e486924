package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jinmuyano/processnet/netflow"
	"github.com/jinmuyano/processnet/netif"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []netif.Class{netif.Ethernet}, c.Classes)
	assert.Empty(t, c.Names)
	assert.False(t, c.IncludeUnknown)
	assert.False(t, c.FoldAncestors)
	assert.Equal(t, time.Second, c.Interval)
	assert.Equal(t, 65536, c.SnapLen)
	assert.Equal(t, 500*time.Millisecond, c.ReadTimeout)
	assert.Equal(t, 65536, c.QueueSize)
	assert.Zero(t, c.CPU)
	assert.Zero(t, c.MemoryMB)
	assert.False(t, c.Debug)
	assert.Equal(t, "pcap", c.Engine)
}

func TestFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processnet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interfaces:
  classes: [ethernet, loopback]
  names: [eth0]
sampling:
  include_unknown: true
  interval: 5s
capture:
  read_timeout: 250ms
  bpf_filter: "port 443"
limits:
  cpu: 0.5
  memory_mb: 200
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []netif.Class{netif.Ethernet, netif.Loopback}, c.Classes)
	assert.Equal(t, []string{"eth0"}, c.Names)
	assert.True(t, c.IncludeUnknown)
	assert.Equal(t, 5*time.Second, c.Interval)
	assert.Equal(t, 250*time.Millisecond, c.ReadTimeout)
	assert.Equal(t, "port 443", c.BPFFilter)
	assert.Equal(t, 0.5, c.CPU)
	assert.Equal(t, 200, c.MemoryMB)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROCESSNET_INTERFACES_CLASSES", "ethernet,tunnel")
	t.Setenv("PROCESSNET_SAMPLING_INTERVAL", "3s")
	t.Setenv("PROCESSNET_SAMPLING_FOLD_ANCESTORS", "true")
	t.Setenv("PROCESSNET_LOG_DEBUG", "1")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []netif.Class{netif.Ethernet, netif.Tunnel}, c.Classes)
	assert.Equal(t, 3*time.Second, c.Interval)
	assert.True(t, c.FoldAncestors)
	assert.True(t, c.Debug)
}

func TestInvalid(t *testing.T) {
	cases := map[string]string{
		"PROCESSNET_INTERFACES_CLASSES": "wormhole",
		"PROCESSNET_SAMPLING_INTERVAL":  "0s",
		"PROCESSNET_CAPTURE_SNAPLEN":    "lots",
		"PROCESSNET_LIMITS_CPU":         "-1",
		"PROCESSNET_CAPTURE_ENGINE":     "dpdk",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := Load("")
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNetflowOptions(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	nf, err := netflow.NewNetflow(c.NetflowOptions(zaptest.NewLogger(t))...)
	require.NoError(t, err)
	assert.False(t, nf.IsRunning())
}
