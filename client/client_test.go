package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pnet "github.com/jinmuyano/processnet"
)

type fakeEngine struct {
	started, stopped int
	results          []pnet.SampleResult
	err              error
}

func (e *fakeEngine) Start() error { e.started++; return nil }

func (e *fakeEngine) Stop() { e.stopped++ }

func (e *fakeEngine) Sample(context.Context) (pnet.SampleResult, error) {
	if e.err != nil {
		return pnet.SampleResult{}, e.err
	}
	if len(e.results) == 0 {
		return pnet.SampleResult{}, nil
	}
	res := e.results[0]
	e.results = e.results[1:]
	return res, nil
}

func executables(m map[uint32]string) Lookup {
	return func(pid uint32) string { return m[pid] }
}

func newTestClient(t *testing.T, conf PacketClientConfig, engine pnet.PacketClient) *PacketClient {
	t.Helper()

	c, err := NewPacketClient(conf, engine, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	c.lookup = executables(map[uint32]string{
		42:  "/usr/local/jdk/bin/java",
		7:   "/usr/bin/curl",
		100: "/usr/sbin/nginx",
	})
	return c
}

func TestRunOnceRanksAndRates(t *testing.T) {
	engine := &fakeEngine{results: []pnet.SampleResult{{
		Items: []pnet.ProcessByteCount{
			{PID: 7, UploadBytes: 100},
			{PID: 42, UploadBytes: 1500, DownloadBytes: 500},
			{PID: 100, DownloadBytes: 800},
		},
		Elapsed:     2 * time.Second,
		TotalUpload: 1600, TotalDownload: 1300,
		Frames: 3,
	}}}
	c := newTestClient(t, NewPacketClientConfig(), engine)

	report, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Processes, 3)
	assert.Equal(t, []uint32{42, 100, 7}, []uint32{report.Processes[0].Pid, report.Processes[1].Pid, report.Processes[2].Pid})

	java := report.Processes[0]
	assert.Equal(t, "java", java.Name)
	assert.InDelta(t, 750.0, java.OutRate, 1e-9)
	assert.InDelta(t, 250.0, java.InRate, 1e-9)
	assert.Equal(t, uint64(1300), report.TotalDownload)

	assert.Equal(t, report, c.GetBandWidth())
	assert.Equal(t, 0, c.registry.Outstanding())

	p, ok := c.GetProcess(100)
	require.True(t, ok)
	assert.Equal(t, uint64(800), p.DownloadBytes)
	_, ok = c.GetProcess(9)
	assert.False(t, ok)
}

func TestKeywordFilterAndLimit(t *testing.T) {
	engine := &fakeEngine{results: []pnet.SampleResult{{
		Items: []pnet.ProcessByteCount{
			{PID: 7, UploadBytes: 100},
			{PID: 42, UploadBytes: 1500},
			{PID: 100, DownloadBytes: 800},
		},
		Elapsed: time.Second,
	}}}
	conf := NewPacketClientConfig()
	conf.ProcessKeyword = []string{"java", "curl"}
	conf.Limit = 1
	c := newTestClient(t, conf, engine)

	report, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Processes, 1)
	assert.Equal(t, uint32(42), report.Processes[0].Pid)
}

func TestIdleWindowHasNoRate(t *testing.T) {
	c := newTestClient(t, NewPacketClientConfig(), &fakeEngine{results: []pnet.SampleResult{{
		Items: []pnet.ProcessByteCount{{PID: pnet.UnknownPID, UploadBytes: 10}},
	}}})

	report, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Processes, 1)
	assert.Equal(t, "-", report.Processes[0].Name)
	assert.Zero(t, report.Processes[0].OutRate)
}

func TestSampleErrorCounted(t *testing.T) {
	boom := errors.New("boom")
	c := newTestClient(t, NewPacketClientConfig(), &fakeEngine{err: boom})

	_, err := c.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)

	runs, errs := c.Stats()
	assert.Equal(t, 0, runs)
	assert.Equal(t, 1, errs)
}

func TestStartStop(t *testing.T) {
	engine := &fakeEngine{}
	c := newTestClient(t, NewPacketClientConfig(), engine)

	require.NoError(t, c.Start())
	c.Stop()
	c.Stop()
	assert.Equal(t, 1, engine.started)
	assert.Equal(t, 2, engine.stopped)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, NewPacketClientConfig().Validate())
	assert.Error(t, PacketClientConfig{Interval: "10"}.Validate())
	assert.Error(t, PacketClientConfig{Interval: "100ms"}.Validate())
	assert.Error(t, PacketClientConfig{Interval: "1s", Limit: -1}.Validate())

	_, err := NewPacketClient(PacketClientConfig{Interval: "x"}, &fakeEngine{}, nil, nil)
	assert.Error(t, err)
}
