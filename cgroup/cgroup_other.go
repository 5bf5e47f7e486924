//go:build !linux

package cgroup

func Apply(pid int, limits Limits) (Limiter, error) {
	return nil, ErrUnsupported
}
