package netflow

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinmuyano/processnet/packet/packettest"
)

func TestRecordThenReplay(t *testing.T) {
	pkt := packettest.Ethernet(t, packettest.Template{
		SrcIP: "10.0.0.5", DstIP: "1.1.1.1",
		Protocol: layers.IPProtocolUDP, SrcPort: 5353, DstPort: 53,
	})

	src, err := NewReplaySource(bytes.NewReader(pcapBytes(t, captured{pkt, 900})), nil)
	require.NoError(t, err)

	dir := t.TempDir()
	rec, err := recordSource(src, dir, "en0", defaultSnapLen)
	require.NoError(t, err)

	data, ci, err := rec.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, pkt, data)
	assert.Equal(t, 900, ci.Length)
	rec.Close()

	path := filepath.Join(dir, "en0.pcap")
	_, err = os.Stat(path)
	require.NoError(t, err)

	replay, err := ReplayOpener(map[string]string{"en0": path})(en0, CaptureConfig{})
	require.NoError(t, err)
	defer replay.Close()

	assert.Equal(t, layers.LinkTypeEthernet, replay.LinkType())
	data, ci, err = replay.ReadPacketData()
	require.NoError(t, err)
	assert.Equal(t, pkt, data)
	assert.Equal(t, 900, ci.Length)

	_, err = ReplayOpener(nil)(en1, CaptureConfig{})
	assert.Error(t, err)
}
