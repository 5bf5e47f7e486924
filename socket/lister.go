package socket

import (
	"context"
	"fmt"

	psnet "github.com/shirou/gopsutil/v3/net"
	"golang.org/x/sync/errgroup"

	"github.com/jinmuyano/processnet/packet"
)

// Entry is one live socket from the OS table.
type Entry struct {
	Protocol  packet.Protocol
	LocalPort uint16
	PIDs      []uint32
}

func (e Entry) Key() packet.ProtocolPort {
	return packet.ProtocolPort{Protocol: e.Protocol, LocalPort: e.LocalPort}
}

// Lister snapshots the OS socket table.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

type ListerFunc func(ctx context.Context) ([]Entry, error)

func (f ListerFunc) List(ctx context.Context) ([]Entry, error) {
	return f(ctx)
}

type systemLister struct{}

// NewLister returns a Lister over every TCP and UDP socket of both address
// families.
func NewLister() Lister {
	return systemLister{}
}

func (systemLister) List(ctx context.Context) ([]Entry, error) {
	var (
		wg       errgroup.Group
		tcp, udp []psnet.ConnectionStat
	)

	wg.Go(func() error {
		conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
		if err != nil {
			return fmt.Errorf("read tcp sockets: %w", err)
		}
		tcp = conns
		return nil
	})
	wg.Go(func() error {
		conns, err := psnet.ConnectionsWithContext(ctx, "udp")
		if err != nil {
			return fmt.Errorf("read udp sockets: %w", err)
		}
		udp = conns
		return nil
	})
	if err := wg.Wait(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(tcp)+len(udp))
	entries = appendEntries(entries, packet.TCP, tcp)
	entries = appendEntries(entries, packet.UDP, udp)
	return entries, nil
}

func appendEntries(dst []Entry, proto packet.Protocol, conns []psnet.ConnectionStat) []Entry {
	for _, c := range conns {
		e := Entry{Protocol: proto, LocalPort: uint16(c.Laddr.Port)}
		if c.Pid > 0 {
			e.PIDs = []uint32{uint32(c.Pid)}
		}
		dst = append(dst, e)
	}
	return dst
}
