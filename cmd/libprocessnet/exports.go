// Command libprocessnet builds the capture engine as a C shared library:
//
//	go build -buildmode=c-shared -o libprocessnet.so ./cmd/libprocessnet
//
// The types and status codes are in processnet.h, which ships next to the
// generated header. Every sample returned by processnet_sample must be
// handed back to processnet_release exactly once, unchanged.
package main

/*
#include <stdlib.h>
#include "processnet.h"
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/config"
	"github.com/jinmuyano/processnet/handoff"
	"github.com/jinmuyano/processnet/logging"
	"github.com/jinmuyano/processnet/netflow"
)

var state struct {
	sync.Mutex
	nf     *netflow.Netflow
	b      *boundary
	logger *zap.Logger
}

func main() {}

func allocItems(items []pnet.ProcessByteCount) (unsafe.Pointer, error) {
	ptr := C.malloc(C.size_t(len(items)) * C.size_t(unsafe.Sizeof(C.processnet_item_t{})))
	if ptr == nil {
		return nil, fmt.Errorf("%w: %d items", errAllocFailed, len(items))
	}
	out := unsafe.Slice((*C.processnet_item_t)(ptr), len(items))
	for i, it := range items {
		out[i] = C.processnet_item_t{
			pid:            C.uint32_t(it.PID),
			upload_bytes:   C.uint64_t(it.UploadBytes),
			download_bytes: C.uint64_t(it.DownloadBytes),
		}
	}
	return ptr, nil
}

func freeItems(ptr unsafe.Pointer) {
	C.free(ptr)
}

// processnet_start loads the configuration from config_path, which may be
// NULL, and the PROCESSNET_ environment, then starts capturing. Calling it
// while running does nothing.
//
//export processnet_start
func processnet_start(configPath *C.char) C.int {
	state.Lock()
	defer state.Unlock()

	if state.nf != nil {
		return C.PROCESSNET_OK
	}

	var path string
	if configPath != nil {
		path = C.GoString(configPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return C.PROCESSNET_ERR_CONFIG
	}

	logger := logging.Must(cfg.Debug)
	nf, err := netflow.NewNetflow(cfg.NetflowOptions(logger)...)
	if err != nil {
		logger.Error("create netflow", zap.Error(err))
		return C.PROCESSNET_ERR_CONFIG
	}
	if err := nf.Start(); err != nil {
		logger.Error("start netflow", zap.Error(err))
		return C.PROCESSNET_ERR_START
	}

	state.nf = nf
	state.logger = logger
	if state.b == nil {
		state.b = newBoundary(nf, allocItems, freeItems)
	} else {
		state.b.setEngine(nf)
	}
	return C.PROCESSNET_OK
}

// processnet_sample fills out with everything captured since the previous
// call. out->items is NULL when count is 0.
//
//export processnet_sample
func processnet_sample(out *C.processnet_sample_t) C.int {
	if out == nil {
		return C.PROCESSNET_ERR_ARGUMENT
	}

	state.Lock()
	b := state.b
	logger := state.logger
	state.Unlock()
	if b == nil {
		return C.PROCESSNET_ERR_NOT_STARTED
	}

	l, err := b.sample(context.Background())
	if err != nil {
		logger.Error("sample", zap.Error(err))
		return C.PROCESSNET_ERR_SAMPLE
	}

	out.items = (*C.processnet_item_t)(l.items)
	out.count = C.uint64_t(l.count)
	out.elapsed_ms = C.uint64_t(l.elapsedMS)
	out.total_upload = C.uint64_t(l.totalUpload)
	out.total_download = C.uint64_t(l.totalDownload)
	out.handle = C.uint64_t(l.handle.ID)
	out.guard = C.uint64_t(l.handle.Guard)
	return C.PROCESSNET_OK
}

// processnet_release frees a sample. The struct is zeroed on success.
//
//export processnet_release
func processnet_release(s *C.processnet_sample_t) C.int {
	if s == nil {
		return C.PROCESSNET_ERR_ARGUMENT
	}

	state.Lock()
	b := state.b
	state.Unlock()
	if b == nil {
		return C.PROCESSNET_ERR_HANDLE
	}

	h := handoff.Handle{ID: uint64(s.handle), Guard: uint64(s.guard)}
	err := b.release(h, unsafe.Pointer(s.items), int(s.count))
	switch {
	case err == nil:
		*s = C.processnet_sample_t{}
		return C.PROCESSNET_OK
	case errors.Is(err, handoff.ErrGuardMismatch):
		return C.PROCESSNET_ERR_GUARD
	case errors.Is(err, errItemsMismatch):
		return C.PROCESSNET_ERR_MISMATCH
	default:
		return C.PROCESSNET_ERR_HANDLE
	}
}

// processnet_stop stops capturing. Outstanding samples must still be
// released.
//
//export processnet_stop
func processnet_stop() {
	state.Lock()
	defer state.Unlock()

	if state.nf == nil {
		return
	}
	state.nf.Close()
	state.nf = nil
	if n := state.b.outstanding(); n != 0 {
		state.logger.Warn("stopped with samples not released", zap.Int("count", n))
	}
	state.logger.Sync()
}

// processnet_outstanding reports samples not released yet.
//
//export processnet_outstanding
func processnet_outstanding() C.int {
	state.Lock()
	defer state.Unlock()

	if state.b == nil {
		return 0
	}
	return C.int(state.b.outstanding())
}
