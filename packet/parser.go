package packet

import (
	"encoding/binary"
	"net"
	"runtime"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"

	"github.com/jinmuyano/processnet/netif"
)

const ethernetHeaderLen = 14

var nullEthernet [ethernetHeaderLen]byte

// pcap reports the DLT value for raw IP links, which differs from the
// LINKTYPE_RAW number gopacket names.
const (
	dltRaw        = layers.LinkType(12)
	dltRawOpenBSD = layers.LinkType(14)
)

// Parser turns captured link-layer buffers from one interface into Frames.
// It reuses its decoding state between calls and must not be shared between
// goroutines.
type Parser struct {
	ifc    netif.Interface
	logger *zap.Logger

	// bytes before the IP header on links without a real ethernet header,
	// -1 for ethernet links
	rawPrefix int

	eth  layers.Ethernet
	vlan layers.Dot1Q
	ip4  layers.IPv4
	ip6  layers.IPv6
	ext  layers.IPv6ExtensionSkipper
	tcp  layers.TCP
	udp  layers.UDP

	dlp     *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
	synth   []byte
}

func NewParser(ifc netif.Interface, link layers.LinkType, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Parser{
		ifc:       ifc,
		logger:    logger,
		rawPrefix: rawPrefix(ifc, link),
		decoded:   make([]gopacket.LayerType, 0, 6),
	}
	p.dlp = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&p.eth,
		&p.vlan,
		&p.ip4,
		&p.ip6,
		&p.ext,
		&p.tcp,
		&p.udp,
	)
	p.dlp.IgnoreUnsupported = true
	return p
}

// Parse decodes a single buffer with a throwaway parser.
func Parse(ifc netif.Interface, link layers.LinkType, data []byte) (Frame, bool) {
	return NewParser(ifc, link, nil).Parse(data, 0)
}

func rawPrefix(ifc netif.Interface, link layers.LinkType) int {
	switch link {
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return 4 // address family word
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6, dltRaw, dltRawOpenBSD:
		return 0
	case layers.LinkTypeLinuxSLL:
		return 16
	case layers.LinkTypeEthernet:
		// darwin hands loopback out behind a zeroed ethernet header and
		// tun devices with no header at all
		if runtime.GOOS == "darwin" && ifc.IsUp() && ifc.Flags&net.FlagBroadcast == 0 {
			if ifc.IsLoopback() {
				return ethernetHeaderLen
			}
			if ifc.IsPointToPoint() {
				return 0
			}
		}
	}
	return -1
}

// Parse returns the frame carried by data, or false when the buffer is not a
// well formed TCP or UDP packet over IPv4/IPv6. wireLen is the original length
// on the wire; when zero the captured length is billed.
func (p *Parser) Parse(data []byte, wireLen int) (Frame, bool) {
	buf := data
	if p.rawPrefix >= 0 {
		var ok bool
		if buf, ok = p.wrap(data); !ok {
			return Frame{}, false
		}
	}

	if err := p.dlp.DecodeLayers(buf, &p.decoded); err != nil {
		p.logger.Debug("drop undecodable packet",
			zap.String("interface", p.ifc.Name),
			zap.Int("length", len(data)),
			zap.Error(err),
		)
		return Frame{}, false
	}

	var (
		f         Frame
		network   bool
		transport bool
	)
	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			f.SourceIP = cloneIP(p.ip4.SrcIP)
			f.DestinationIP = cloneIP(p.ip4.DstIP)
			network = true
		case layers.LayerTypeIPv6:
			f.SourceIP = cloneIP(p.ip6.SrcIP)
			f.DestinationIP = cloneIP(p.ip6.DstIP)
			network = true
		case layers.LayerTypeTCP:
			f.Protocol = TCP
			f.SourcePort = uint16(p.tcp.SrcPort)
			f.DestinationPort = uint16(p.tcp.DstPort)
			transport = true
		case layers.LayerTypeUDP:
			f.Protocol = UDP
			f.SourcePort = uint16(p.udp.SrcPort)
			f.DestinationPort = uint16(p.udp.DstPort)
			transport = true
		}
	}
	if !network || !transport {
		return Frame{}, false
	}

	f.InterfaceName = p.ifc.Name
	f.ByteLength = uint64(len(data))
	if wireLen > 0 {
		f.ByteLength = uint64(wireLen)
	}
	f.Direction = p.direction(f.SourceIP)
	return f, true
}

// direction trusts the source address. The source MAC is only compared to
// spot interfaces whose class was guessed wrong.
func (p *Parser) direction(src net.IP) Direction {
	byIP := Download
	if p.ifc.HasIP(src) {
		byIP = Upload
	}

	if p.rawPrefix < 0 && len(p.ifc.HardwareAddr) > 0 {
		byMAC := Download
		if p.ifc.OwnsMAC(p.eth.SrcMAC) {
			byMAC = Upload
		}
		if byMAC != byIP {
			p.logger.Debug("direction by address and by mac disagree",
				zap.String("interface", p.ifc.Name),
				zap.Stringer("src_ip", src),
				zap.Stringer("src_mac", p.eth.SrcMAC),
				zap.Stringer("by_ip", byIP),
			)
		}
	}
	return byIP
}

// wrap puts a null-MAC ethernet header in front of a bare IP packet so it can
// go through the ethernet decoder.
func (p *Parser) wrap(data []byte) ([]byte, bool) {
	if len(data) <= p.rawPrefix {
		return nil, false
	}
	payload := data[p.rawPrefix:]

	var etherType layers.EthernetType
	switch payload[0] >> 4 {
	case 4:
		etherType = layers.EthernetTypeIPv4
	case 6:
		etherType = layers.EthernetTypeIPv6
	default:
		return nil, false
	}

	p.synth = append(p.synth[:0], nullEthernet[:]...)
	binary.BigEndian.PutUint16(p.synth[12:ethernetHeaderLen], uint16(etherType))
	p.synth = append(p.synth, payload...)
	return p.synth, true
}

func cloneIP(ip net.IP) net.IP {
	return append(net.IP(nil), ip...)
}
