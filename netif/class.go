package netif

import (
	"fmt"
	"net"
	"runtime"
	"strings"
)

// Class groups interfaces by what kind of link they are.
type Class int

const (
	Ethernet Class = iota // physical adapters
	Loopback
	Tunnel
	AWDL // apple wireless direct link, ad-hoc wifi
	LLW  // low latency wlan
	Bridge
	PointToPoint
)

var classNames = map[Class]string{
	Ethernet:     "ethernet",
	Loopback:     "loopback",
	Tunnel:       "tunnel",
	AWDL:         "awdl",
	LLW:          "llw",
	Bridge:       "bridge",
	PointToPoint: "p2p",
}

// DefaultClasses only monitors physical adapters.
var DefaultClasses = []Class{Ethernet}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseClass accepts the names produced by Class.String plus a few aliases.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ethernet", "en", "physical":
		return Ethernet, nil
	case "loopback", "lo":
		return Loopback, nil
	case "tunnel", "utun", "tun":
		return Tunnel, nil
	case "awdl":
		return AWDL, nil
	case "llw":
		return LLW, nil
	case "bridge":
		return Bridge, nil
	case "p2p", "ppp", "pointtopoint":
		return PointToPoint, nil
	}
	return 0, fmt.Errorf("unknown interface class %q", s)
}

// ParseClasses converts a config list into classes, failing on the first bad name.
func ParseClasses(names []string) ([]Class, error) {
	classes := make([]Class, 0, len(names))
	for _, name := range names {
		c, err := ParseClass(name)
		if err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, nil
}

func physicalPrefixes() []string {
	if runtime.GOOS == "darwin" {
		return []string{"en"}
	}
	return []string{"eth", "en", "em", "wl"}
}

func hasAnyPrefix(name string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Matches reports whether the interface belongs to the class.
func (c Class) Matches(ifc Interface) bool {
	name := ifc.Name
	switch c {
	case Ethernet:
		return ifc.Flags&(net.FlagLoopback|net.FlagPointToPoint) == 0 &&
			hasAnyPrefix(name, physicalPrefixes()...)
	case Loopback:
		return strings.HasPrefix(name, "lo") || ifc.Flags&net.FlagLoopback != 0
	case Tunnel:
		return hasAnyPrefix(name, "utun", "tun", "tap")
	case AWDL:
		return strings.HasPrefix(name, "awdl")
	case LLW:
		return strings.HasPrefix(name, "llw")
	case Bridge:
		return hasAnyPrefix(name, "br", "docker", "virbr")
	case PointToPoint:
		return hasAnyPrefix(name, "p2p", "ppp") || ifc.Flags&net.FlagPointToPoint != 0
	}
	return false
}
