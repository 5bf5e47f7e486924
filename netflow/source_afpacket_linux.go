package netflow

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"github.com/jinmuyano/processnet/netif"
)

const (
	afpacketFrameSize = 4096
	afpacketBlockSize = afpacketFrameSize * 128 // 512KB blocks
	afpacketNumBlocks = 64
)

type afpacketSource struct {
	tp *afpacket.TPacket
}

// OpenAFPacket captures through a memory mapped AF_PACKET ring instead of
// libpcap. The link is always ethernet.
func OpenAFPacket(ifc netif.Interface, cfg CaptureConfig) (Source, error) {
	opts := []interface{}{
		afpacket.OptInterface(ifc.Name),
		afpacket.OptFrameSize(afpacketFrameSize),
		afpacket.OptBlockSize(afpacketBlockSize),
		afpacket.OptNumBlocks(afpacketNumBlocks),
	}
	if cfg.ReadTimeout > 0 {
		opts = append(opts, afpacket.OptPollTimeout(cfg.ReadTimeout))
	}

	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return nil, fmt.Errorf("open af_packet %s: %w", ifc.Name, err)
	}

	filter, err := compileFilter(captureFilter(cfg.Filter), int(cfg.SnapLen))
	if err == nil {
		err = tp.SetBPF(filter)
	}
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("set filter on %s: %w", ifc.Name, err)
	}
	return &afpacketSource{tp: tp}, nil
}

// compileFilter borrows libpcap's compiler for the ring's socket filter.
func compileFilter(expr string, snaplen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snaplen, expr)
	if err != nil {
		return nil, err
	}

	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

func (s *afpacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.tp.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		err = pcap.NextErrorTimeoutExpired
	}
	return data, ci, err
}

func (s *afpacketSource) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (s *afpacketSource) Close() {
	s.tp.Close()
}

