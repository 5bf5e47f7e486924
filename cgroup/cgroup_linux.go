//go:build linux

package cgroup

import (
	"fmt"

	"github.com/containerd/cgroups"
	cgroup2 "github.com/containerd/cgroups/v2"
)

const unifiedMountpoint = "/sys/fs/cgroup"

// a group still holding the process cannot be removed, so Free moves it
// back to the root group first

type v1Limiter struct {
	pid     int
	control cgroups.Cgroup
}

func (l *v1Limiter) Free() error {
	root, err := cgroups.Load(cgroups.V1, cgroups.RootPath)
	if err != nil {
		return fmt.Errorf("load root cgroup: %w", err)
	}
	if err := root.Add(cgroups.Process{Pid: l.pid}); err != nil {
		return fmt.Errorf("move pid %d to root cgroup: %w", l.pid, err)
	}
	return l.control.Delete()
}

type v2Limiter struct {
	pid     int
	manager *cgroup2.Manager
}

func (l *v2Limiter) Free() error {
	root, err := cgroup2.LoadManager(unifiedMountpoint, "/")
	if err != nil {
		return fmt.Errorf("load root cgroup2: %w", err)
	}
	if err := root.AddProc(uint64(l.pid)); err != nil {
		return fmt.Errorf("move pid %d to root cgroup2: %w", l.pid, err)
	}
	return l.manager.Delete()
}

// Apply creates the group and moves pid into it.
func Apply(pid int, limits Limits) (Limiter, error) {
	res := limits.Resources()

	if cgroups.Mode() == cgroups.Unified {
		m, err := cgroup2.NewManager(unifiedMountpoint, defaultGroup, cgroup2.ToResources(res))
		if err != nil {
			return nil, fmt.Errorf("create cgroup2 %s: %w", defaultGroup, err)
		}
		if err := m.AddProc(uint64(pid)); err != nil {
			_ = m.Delete()
			return nil, fmt.Errorf("add pid %d to cgroup2: %w", pid, err)
		}
		return &v2Limiter{pid: pid, manager: m}, nil
	}

	control, err := cgroups.New(cgroups.V1, cgroups.StaticPath(defaultGroup), res)
	if err != nil {
		return nil, fmt.Errorf("create cgroup %s: %w", defaultGroup, err)
	}
	if err := control.Add(cgroups.Process{Pid: pid}); err != nil {
		_ = control.Delete()
		return nil, fmt.Errorf("add pid %d to cgroup: %w", pid, err)
	}
	return &v1Limiter{pid: pid, control: control}, nil
}
