package main

/*
#include <stdlib.h>
#include "processnet.h"
*/
import "C"

import (
	"unsafe"

	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/handoff"
)

var (
	statusOK          = int(C.PROCESSNET_OK)
	statusNotStarted  = int(C.PROCESSNET_ERR_NOT_STARTED)
	statusSample      = int(C.PROCESSNET_ERR_SAMPLE)
	statusHandle      = int(C.PROCESSNET_ERR_HANDLE)
	statusGuard       = int(C.PROCESSNET_ERR_GUARD)
	statusMismatch    = int(C.PROCESSNET_ERR_MISMATCH)
	statusBadArgument = int(C.PROCESSNET_ERR_ARGUMENT)
)

// sampleOut is a processnet_sample_t in C memory, as a host would pass it.
type sampleOut struct {
	c *C.processnet_sample_t
}

func newSampleOut() *sampleOut {
	ptr := C.calloc(1, C.size_t(unsafe.Sizeof(C.processnet_sample_t{})))
	return &sampleOut{c: (*C.processnet_sample_t)(ptr)}
}

func (s *sampleOut) free() {
	C.free(unsafe.Pointer(s.c))
	s.c = nil
}

// clone copies the struct as a host would before reusing it.
func (s *sampleOut) clone() *sampleOut {
	cp := newSampleOut()
	*cp.c = *s.c
	return cp
}

func (s *sampleOut) sample() int  { return int(processnet_sample(s.c)) }
func (s *sampleOut) release() int { return int(processnet_release(s.c)) }

func (s *sampleOut) items() []pnet.ProcessByteCount {
	if s.c.items == nil {
		return nil
	}
	raw := unsafe.Slice(s.c.items, int(s.c.count))
	out := make([]pnet.ProcessByteCount, len(raw))
	for i, it := range raw {
		out[i] = pnet.ProcessByteCount{
			PID:           uint32(it.pid),
			UploadBytes:   uint64(it.upload_bytes),
			DownloadBytes: uint64(it.download_bytes),
		}
	}
	return out
}

func (s *sampleOut) count() int { return int(s.c.count) }
func (s *sampleOut) elapsedMS() uint64 { return uint64(s.c.elapsed_ms) }
func (s *sampleOut) totals() (uint64, uint64) {
	return uint64(s.c.total_upload), uint64(s.c.total_download)
}

func (s *sampleOut) handle() handoff.Handle {
	return handoff.Handle{ID: uint64(s.c.handle), Guard: uint64(s.c.guard)}
}

func (s *sampleOut) setGuard(g uint64) { s.c.guard = C.uint64_t(g) }

func (s *sampleOut) setCount(n int) { s.c.count = C.uint64_t(n) }
