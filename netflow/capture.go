package netflow

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"github.com/jinmuyano/processnet/netif"
	"github.com/jinmuyano/processnet/packet"
)

// run is the state of one Start..Stop cycle.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	queue chan packet.Frame

	workers  chan struct{} // closed when every capture worker returned
	consumer chan struct{} // closed when the queue is drained into the buffer
}

// captureDevice reads one interface until the run is cancelled or the source
// fails. The stop signal is only seen between reads.
func (nf *Netflow) captureDevice(r *run, ifc netif.Interface, src Source) {
	defer src.Close()

	var (
		parser = packet.NewParser(ifc, src.LinkType(), nf.logger)
		logger = nf.logger.With(zap.String("interface", ifc.Name))
		count  int64
	)

	logger.Debug("capture started", zap.Stringer("link", src.LinkType()))
	for {
		if r.ctx.Err() != nil {
			logger.Debug("capture stopped", zap.Int64("frames", count))
			return
		}

		data, ci, err := src.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF):
			logger.Info("capture source exhausted", zap.Int64("frames", count))
			return
		default:
			logger.Warn("capture read failed, worker exits", zap.Error(err))
			return
		}

		frame, ok := parser.Parse(data, ci.Length)
		if !ok {
			continue
		}
		if !nf.enqueue(r, frame) {
			return
		}
		count++
	}
}

// enqueue never blocks on a full queue, the frame is dropped and counted.
// It returns false once the run is cancelled.
func (nf *Netflow) enqueue(r *run, f packet.Frame) bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
	}

	select {
	case r.queue <- f:
	default:
		n := atomic.AddInt64(&nf.dropped, 1)
		if nf.overflowLog.Allow() {
			nf.logger.Warn("frame queue overflow", zap.Int("size", cap(r.queue)), zap.Int64("dropped", n))
		}
	}
	return true
}

// loopHandleFrames moves queued frames into the buffer until the queue is
// closed.
func (nf *Netflow) loopHandleFrames(r *run) {
	defer close(r.consumer)

	var failed bool
	for f := range r.queue {
		if err := nf.buffer.Append(f); err != nil {
			if !failed {
				nf.logger.Error("append to frame buffer", zap.Error(err))
				failed = true
			}
			continue
		}
		atomic.AddInt64(&nf.counter, 1)
	}
}
