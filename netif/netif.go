package netif

import (
	"bytes"
	"fmt"
	"net"
)

// Interface is a point-in-time view of one OS network interface.
type Interface struct {
	Name         string
	Index        int
	Flags        net.Flags
	HardwareAddr net.HardwareAddr
	IPs          []net.IP
}

func (i Interface) IsUp() bool {
	return i.Flags&net.FlagUp != 0
}

func (i Interface) IsLoopback() bool {
	return i.Flags&net.FlagLoopback != 0
}

func (i Interface) IsPointToPoint() bool {
	return i.Flags&net.FlagPointToPoint != 0
}

// HasIP reports whether ip is assigned to the interface.
func (i Interface) HasIP(ip net.IP) bool {
	for _, own := range i.IPs {
		if own.Equal(ip) {
			return true
		}
	}
	return false
}

// OwnsMAC reports whether mac is the interface's own hardware address.
// Interfaces without a hardware address own nothing.
func (i Interface) OwnsMAC(mac net.HardwareAddr) bool {
	if len(i.HardwareAddr) == 0 {
		return false
	}
	return bytes.Equal(i.HardwareAddr, mac)
}

// Snapshot lists the interfaces currently known to the OS together with their
// assigned addresses.
func Snapshot() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	list := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		item := Interface{
			Name:         iface.Name,
			Index:        iface.Index,
			Flags:        iface.Flags,
			HardwareAddr: iface.HardwareAddr,
		}

		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					item.IPs = append(item.IPs, v.IP)
				case *net.IPAddr:
					item.IPs = append(item.IPs, v.IP)
				}
			}
		}
		list = append(list, item)
	}
	return list, nil
}

// Eligible keeps the interfaces worth capturing on: up, with at least one
// address, and matching one of the allowed classes. An empty class list means
// DefaultClasses.
func Eligible(list []Interface, classes []Class) []Interface {
	if len(classes) == 0 {
		classes = DefaultClasses
	}

	var out []Interface
	for _, ifc := range list {
		if !ifc.IsUp() || len(ifc.IPs) == 0 {
			continue
		}
		for _, c := range classes {
			if c.Matches(ifc) {
				out = append(out, ifc)
				break
			}
		}
	}
	return out
}

// ByName picks the named interfaces out of list, keeping the order of names.
func ByName(list []Interface, names []string) []Interface {
	index := make(map[string]Interface, len(list))
	for _, ifc := range list {
		index[ifc.Name] = ifc
	}

	var out []Interface
	for _, name := range names {
		if ifc, ok := index[name]; ok {
			out = append(out, ifc)
		}
	}
	return out
}
