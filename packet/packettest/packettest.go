// Package packettest builds wire-format packets for tests.
package packettest

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	HostMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	PeerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Template describes one packet. Protocol defaults to TCP.
type Template struct {
	SrcMAC   net.HardwareAddr
	DstMAC   net.HardwareAddr
	SrcIP    string
	DstIP    string
	Protocol layers.IPProtocol
	SrcPort  uint16
	DstPort  uint16
	Payload  []byte
}

// Ethernet serializes the packet behind an ethernet header.
func Ethernet(tb testing.TB, s Template) []byte {
	tb.Helper()

	ls, v6 := build(tb, s)
	eth := &layers.Ethernet{
		SrcMAC:       orDefault(s.SrcMAC, HostMAC),
		DstMAC:       orDefault(s.DstMAC, PeerMAC),
		EthernetType: layers.EthernetTypeIPv4,
	}
	if v6 {
		eth.EthernetType = layers.EthernetTypeIPv6
	}
	return serialize(tb, append([]gopacket.SerializableLayer{eth}, ls...)...)
}

// IP serializes the packet without any link header, as a tun device sees it.
func IP(tb testing.TB, s Template) []byte {
	tb.Helper()

	ls, _ := build(tb, s)
	return serialize(tb, ls...)
}

// Loopback prefixes IP with the 4-byte address family word of BSD loopback.
func Loopback(tb testing.TB, s Template) []byte {
	tb.Helper()

	family := byte(2)
	if net.ParseIP(s.SrcIP).To4() == nil {
		family = 30
	}
	return append([]byte{family, 0, 0, 0}, IP(tb, s)...)
}

type checksummer interface {
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func build(tb testing.TB, s Template) ([]gopacket.SerializableLayer, bool) {
	tb.Helper()

	proto := s.Protocol
	if proto == 0 {
		proto = layers.IPProtocolTCP
	}
	src, dst := net.ParseIP(s.SrcIP), net.ParseIP(s.DstIP)
	if src == nil || dst == nil {
		tb.Fatalf("invalid addresses %q -> %q", s.SrcIP, s.DstIP)
	}

	var (
		network gopacket.NetworkLayer
		head    gopacket.SerializableLayer
		v6      = src.To4() == nil
	)
	if !v6 {
		if proto == layers.IPProtocolICMPv6 {
			proto = layers.IPProtocolICMPv4
		}
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: src.To4(), DstIP: dst.To4()}
		network, head = ip, ip
	} else {
		if proto == layers.IPProtocolICMPv4 {
			proto = layers.IPProtocolICMPv6
		}
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: src, DstIP: dst}
		network, head = ip, ip
	}

	var transport gopacket.SerializableLayer
	switch proto {
	case layers.IPProtocolTCP:
		transport = &layers.TCP{SrcPort: layers.TCPPort(s.SrcPort), DstPort: layers.TCPPort(s.DstPort), ACK: true, Window: 1024}
	case layers.IPProtocolUDP:
		transport = &layers.UDP{SrcPort: layers.UDPPort(s.SrcPort), DstPort: layers.UDPPort(s.DstPort)}
	case layers.IPProtocolICMPv4:
		transport = &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	case layers.IPProtocolICMPv6:
		transport = &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)}
	default:
		tb.Fatalf("unsupported protocol %v", proto)
	}
	if c, ok := transport.(checksummer); ok {
		if err := c.SetNetworkLayerForChecksum(network); err != nil {
			tb.Fatal(err)
		}
	}

	return []gopacket.SerializableLayer{head, transport, gopacket.Payload(s.Payload)}, v6
}

func serialize(tb testing.TB, ls ...gopacket.SerializableLayer) []byte {
	tb.Helper()

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		tb.Fatal(err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func orDefault(mac, def net.HardwareAddr) net.HardwareAddr {
	if len(mac) == 0 {
		return def
	}
	return mac
}
