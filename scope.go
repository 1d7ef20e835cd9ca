package krt

import "net"

// addrClass is the result of classifying an address value locally: the
// wire scope field on address messages is semantically unreliable, so the
// core recomputes reachability from the bits of the address itself.
type addrClass struct {
	Scope Scope
	Host  bool // a regular unicast host address, as opposed to multicast/broadcast
}

// classifyIP classifies an IPv4 or IPv6 address. ok is false for values
// that cannot be classified at all (wrong length, reserved ranges); such
// addresses are rejected by the address decoder and such destinations by
// the route decoder.
func classifyIP(ip net.IP) (addrClass, bool) {
	if v4 := ip.To4(); v4 != nil {
		return classifyIP4(v4)
	}
	if len(ip) == net.IPv6len {
		return classifyIP6(ip)
	}
	return addrClass{}, false
}

func classifyIP4(a net.IP) (addrClass, bool) {
	b := a[0]
	switch {
	case a.Equal(net.IPv4zero):
		// The zero address stands in for the default route's prefix
		// address and classifies as an ordinary universe host.
		return addrClass{Scope: ScopeUniverse, Host: true}, true
	case b == 127:
		return addrClass{Scope: ScopeHost, Host: true}, true
	case b == 169 && a[1] == 254:
		return addrClass{Scope: ScopeLink, Host: true}, true
	case b >= 1 && b <= 223:
		return addrClass{Scope: ScopeUniverse, Host: true}, true
	case b >= 224 && b <= 239:
		// Multicast: classifiable, but not a host address.
		return addrClass{Scope: ScopeUniverse, Host: false}, true
	case a.Equal(net.IPv4bcast):
		return addrClass{Scope: ScopeUniverse, Host: false}, true
	default:
		return addrClass{}, false
	}
}

func classifyIP6(a net.IP) (addrClass, bool) {
	switch {
	case a.Equal(net.IPv6zero):
		return addrClass{Scope: ScopeUniverse, Host: true}, true
	case a.Equal(net.IPv6loopback):
		return addrClass{Scope: ScopeHost, Host: true}, true
	case a[0] == 0xfe && a[1]&0xc0 == 0x80: // fe80::/10
		return addrClass{Scope: ScopeLink, Host: true}, true
	case a[0] == 0xfe && a[1]&0xc0 == 0xc0: // fec0::/10
		return addrClass{Scope: ScopeSite, Host: true}, true
	case a[0] == 0xff: // multicast
		return addrClass{Scope: ScopeUniverse, Host: false}, true
	default:
		return addrClass{Scope: ScopeUniverse, Host: true}, true
	}
}

// in6to4Relay reports whether gw lies inside ::/96, the IPv4-compatible
// prefix that 6to4-style tunnel setups leave behind as next-hops. Such
// gateways are silently discarded during route decode.
func in6to4Relay(gw net.IP) bool {
	a := gw.To16()
	if a == nil || a.To4() != nil {
		return false
	}
	for _, b := range a[:12] {
		if b != 0 {
			return false
		}
	}
	return true
}
