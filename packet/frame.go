package packet

import (
	"fmt"
	"net"
)

// Direction is relative to the monitored host.
type Direction uint8

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Upload {
		return "upload"
	}
	return "download"
}

// Protocol values match the IP protocol numbers.
type Protocol uint8

const (
	TCP Protocol = 6
	UDP Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	}
	return fmt.Sprintf("proto(%d)", uint8(p))
}

// Frame is one captured TCP or UDP packet reduced to what attribution needs.
type Frame struct {
	InterfaceName   string
	ByteLength      uint64
	Direction       Direction
	Protocol        Protocol
	SourceIP        net.IP
	DestinationIP   net.IP
	SourcePort      uint16
	DestinationPort uint16
}

// ProtocolPort identifies the local end of a socket.
type ProtocolPort struct {
	Protocol  Protocol
	LocalPort uint16
}

func (k ProtocolPort) String() string {
	return fmt.Sprintf("%s/%d", k.Protocol, k.LocalPort)
}

// LocalPort is the port on this host's side of the conversation.
func (f Frame) LocalPort() uint16 {
	if f.Direction == Upload {
		return f.SourcePort
	}
	return f.DestinationPort
}

func (f Frame) Key() ProtocolPort {
	return ProtocolPort{Protocol: f.Protocol, LocalPort: f.LocalPort()}
}
