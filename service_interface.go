package pnet

import (
	"context"
	"time"
)

// UnknownPID collects bytes whose local port had no live socket owner.
const UnknownPID uint32 = 0

// ProcessByteCount is the traffic attributed to one process during a single
// sampling window. PID 0 means the bytes could not be attributed.
type ProcessByteCount struct {
	PID           uint32
	UploadBytes   uint64
	DownloadBytes uint64
}

// SampleResult is what one Sample call hands to the host.
type SampleResult struct {
	Items   []ProcessByteCount
	Elapsed time.Duration // since the previous sample, 0 when idle

	TotalUpload   uint64 // every upload byte of the window, attributed or not
	TotalDownload uint64
	Frames        int // frames drained for this window
}

func (r SampleResult) Count() int {
	return len(r.Items)
}

func (r SampleResult) ElapsedMillis() uint64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return uint64(r.Elapsed / time.Millisecond)
}

type PacketClient interface {
	Start() error                                   // 启动抓包
	Stop()                                          // 关闭退出抓包
	Sample(ctx context.Context) (SampleResult, error) // 取出并统计上次采样以来的流量
}
