// Package cgroup caps the cpu and memory the capture engine may use.
package cgroup

import (
	"errors"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	defaultGroup  = "/processnet"
	cpuPeriodUsec = 100000
)

var ErrUnsupported = errors.New("cgroup limits are only supported on linux")

// Limits of zero are left unset.
type Limits struct {
	CPU      float64 // cores
	MemoryMB int
}

func (l Limits) IsZero() bool {
	return l.CPU <= 0 && l.MemoryMB <= 0
}

// Resources converts the limits into an OCI resource block.
func (l Limits) Resources() *specs.LinuxResources {
	res := &specs.LinuxResources{}
	if l.CPU > 0 {
		period := uint64(cpuPeriodUsec)
		quota := int64(l.CPU * cpuPeriodUsec)
		res.CPU = &specs.LinuxCPU{Period: &period, Quota: &quota}
	}
	if l.MemoryMB > 0 {
		limit := int64(l.MemoryMB) * 1024 * 1024
		res.Memory = &specs.LinuxMemory{Limit: &limit}
	}
	return res
}

// Limiter holds a process inside a resource-limited group until Free.
type Limiter interface {
	Free() error
}
