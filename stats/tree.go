package stats

import (
	"fmt"

	ps "github.com/mitchellh/go-ps"
)

const initPID = 1

// ProcessTree is a snapshot of parent links. Ancestor climbs to the top-most
// process below init, so the bytes of forked workers land on the process
// that started them.
type ProcessTree struct {
	parent map[uint32]uint32
	memo   map[uint32]uint32
}

func NewProcessTree(parents map[uint32]uint32) *ProcessTree {
	return &ProcessTree{parent: parents, memo: make(map[uint32]uint32)}
}

// LoadProcessTree reads the current process table.
func LoadProcessTree() (*ProcessTree, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("read process table: %w", err)
	}

	parents := make(map[uint32]uint32, len(procs))
	for _, p := range procs {
		if p.Pid() <= 0 || p.PPid() < 0 {
			continue
		}
		parents[uint32(p.Pid())] = uint32(p.PPid())
	}
	return NewProcessTree(parents), nil
}

func (t *ProcessTree) Ancestor(pid uint32) uint32 {
	if a, ok := t.memo[pid]; ok {
		return a
	}

	cur := pid
	// bounded by the table size in case of a cycle from a racy snapshot
	for steps := 0; steps <= len(t.parent); steps++ {
		ppid, ok := t.parent[cur]
		if !ok || ppid <= initPID || ppid == cur {
			break
		}
		cur = ppid
	}
	t.memo[pid] = cur
	return cur
}
