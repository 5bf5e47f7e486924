package socket

import (
	"context"

	"go.uber.org/zap"

	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/packet"
)

// Correlator maps the local ports seen in a batch of frames to the processes
// owning them.
//
// The socket table is read after the frames were captured, so a socket that
// closed in between is not found and its bytes end up under pnet.UnknownPID.
type Correlator struct {
	lister Lister
	logger *zap.Logger
}

func NewCorrelator(lister Lister, logger *zap.Logger) *Correlator {
	if lister == nil {
		lister = NewLister()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{lister: lister, logger: logger}
}

// BuildPortMap returns an entry for every key in frames. Keys without a live
// owner map to pnet.UnknownPID, and so does everything when the socket table
// cannot be read.
func (c *Correlator) BuildPortMap(ctx context.Context, frames []packet.Frame) map[packet.ProtocolPort]uint32 {
	ports := make(map[packet.ProtocolPort]uint32, 64)
	for _, f := range frames {
		ports[f.Key()] = pnet.UnknownPID
	}
	if len(ports) == 0 {
		return ports
	}

	entries, err := c.lister.List(ctx)
	if err != nil {
		c.logger.Warn("socket table query failed, frames stay unattributed",
			zap.Int("ports", len(ports)),
			zap.Error(err),
		)
		return ports
	}

	for _, e := range entries {
		if len(e.PIDs) == 0 {
			continue
		}
		key := e.Key()
		pid, sought := ports[key]
		if !sought || pid != pnet.UnknownPID {
			continue
		}
		ports[key] = e.PIDs[0]
	}
	return ports
}
