package netflow

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"

	"github.com/jinmuyano/processnet/netif"
)

const (
	defaultSnapLen     = 65536
	defaultReadTimeout = 500 * time.Millisecond
	defaultFilter      = "tcp or udp"
)

// Source is one interface's stream of captured link-layer buffers.
type Source interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

type CaptureConfig struct {
	SnapLen     int32
	ReadTimeout time.Duration // pcap.BlockForever disables the periodic stop check
	Filter      string        // extra BPF expression, and-ed with the default
}

// Opener opens the capture source for an interface.
type Opener func(ifc netif.Interface, cfg CaptureConfig) (Source, error)

// OpenLive captures from the interface with libpcap.
func OpenLive(ifc netif.Interface, cfg CaptureConfig) (Source, error) {
	// if captured size >= snaplen or the read timeout expires, the read returns
	handle, err := pcap.OpenLive(ifc.Name, cfg.SnapLen, false, cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ifc.Name, err)
	}

	filter := captureFilter(cfg.Filter)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set filter %q on %s: %w", filter, ifc.Name, err)
	}
	return handle, nil
}

func captureFilter(extra string) string {
	if extra == "" {
		return defaultFilter
	}
	return fmt.Sprintf("(%s) and (%s)", defaultFilter, extra)
}

// OpenerFor picks the capture engine by name: "pcap" (default) or "afpacket".
func OpenerFor(engine string) (Opener, error) {
	switch engine {
	case "", "pcap":
		return OpenLive, nil
	case "afpacket":
		return OpenAFPacket, nil
	}
	return nil, fmt.Errorf("unknown capture engine %q", engine)
}

type replaySource struct {
	*pcapgo.Reader
	closer io.Closer
}

func (s *replaySource) Close() {
	if s.closer != nil {
		s.closer.Close()
	}
}

// NewReplaySource reads a pcap stream as if it were captured live. closer may
// be nil.
func NewReplaySource(r io.Reader, closer io.Closer) (Source, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	return &replaySource{Reader: reader, closer: closer}, nil
}

// ReplayOpener serves interfaces from pcap files keyed by interface name.
// Interfaces without a file fail to open.
func ReplayOpener(files map[string]string) Opener {
	return func(ifc netif.Interface, _ CaptureConfig) (Source, error) {
		path, ok := files[ifc.Name]
		if !ok {
			return nil, fmt.Errorf("no replay file for %s", ifc.Name)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open replay file: %w", err)
		}
		src, err := NewReplaySource(f, f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return src, nil
	}
}
