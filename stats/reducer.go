package stats

import (
	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/packet"
)

// AncestorResolver rewrites a pid before its bytes are counted.
type AncestorResolver interface {
	Ancestor(pid uint32) uint32
}

// Reducer folds one window of frames into per-process totals.
type Reducer struct {
	// IncludeUnknown keeps a pnet.UnknownPID entry for bytes no socket owned.
	// When false those bytes only show up in the window totals.
	IncludeUnknown bool

	// Resolver, when set, charges every process's bytes to its ancestor.
	Resolver AncestorResolver
}

type Reduction struct {
	Items         []pnet.ProcessByteCount // ordered by first appearance, len == cap
	TotalUpload   uint64
	TotalDownload uint64
}

func (r Reducer) Reduce(frames []packet.Frame, ports map[packet.ProtocolPort]uint32) Reduction {
	var (
		res   Reduction
		items = make([]pnet.ProcessByteCount, 0, 16)
		index = make(map[uint32]int, 16)
	)

	for _, f := range frames {
		if f.Direction == packet.Upload {
			res.TotalUpload += f.ByteLength
		} else {
			res.TotalDownload += f.ByteLength
		}

		pid := ports[f.Key()]
		if pid != pnet.UnknownPID && r.Resolver != nil {
			pid = r.Resolver.Ancestor(pid)
		}
		if pid == pnet.UnknownPID && !r.IncludeUnknown {
			continue
		}

		i, ok := index[pid]
		if !ok {
			i = len(items)
			index[pid] = i
			items = append(items, pnet.ProcessByteCount{PID: pid})
		}
		if f.Direction == packet.Upload {
			items[i].UploadBytes += f.ByteLength
		} else {
			items[i].DownloadBytes += f.ByteLength
		}
	}

	res.Items = make([]pnet.ProcessByteCount, len(items))
	copy(res.Items, items)
	return res
}
