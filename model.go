package krt

import "net"

// Family identifies an address family this core speaks.
type Family uint8

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
	FamilyMPLS
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	case FamilyMPLS:
		return "mpls"
	default:
		return "unknown"
	}
}

// Scope classifies how far an address or route reaches, derived locally
// from the address value rather than trusted from the wire.
type Scope uint8

const (
	ScopeHost Scope = iota
	ScopeLink
	ScopeSite
	ScopeUniverse
)

// InterfaceFlags are capability bits on an InterfaceRecord.
type InterfaceFlags uint16

const (
	IfAdminUp InterfaceFlags = 1 << iota
	IfLinkUp
	IfLoopback
	IfBroadcast
	IfPointToPoint
	IfMulticast
	IfMultiAccess
	IfIgnore
	IfNBMA // non-broadcast multi-access
)

// InterfaceRecord is the normalized view of a kernel link. It
// is identified to the daemon by Index; a name change at the same index is
// surfaced by the link decoder as a delete followed by an add, not as an
// in-place update.
type InterfaceRecord struct {
	Name  string
	Index uint32
	MTU   uint32
	Flags InterfaceFlags
}

// AddressFlags are derived flags on an AddressRecord.
type AddressFlags uint8

const (
	AddrHost AddressFlags = 1 << iota
	AddrPeer
	AddrSecondary
)

// AddressRecord is the normalized view of one interface address.
type AddressRecord struct {
	IfIndex   uint32
	Local     net.IP
	Prefix    net.IPNet
	Broadcast net.IP // nil when not applicable
	Opposite  net.IP // nil when not applicable
	Scope     Scope
	Flags     AddressFlags
}

// Disposition is the route's forwarding disposition.
type Disposition uint8

const (
	DispUnicast Disposition = iota
	DispBlackhole
	DispUnreachable
	DispProhibit
)

// Source classifies where a route came from.
type Source uint8

const (
	SrcOther Source = iota
	SrcKernel
	SrcRedirect
	SrcThisDaemon
)

// NextHop is the 4-tuple used to forward packets for a route.
type NextHop struct {
	IfIndex uint32
	Gateway net.IP // nil for a directly attached next-hop
	Weight  uint8
	OnLink  bool
	Labels  []uint32 // MPLS label stack to impose, outgoing
}

// RouteMetrics is the optional per-route metrics vector. A
// presence bit in Set records which fields were explicitly carried, so a
// route can be rebuilt for re-installation without inventing zero values
// the kernel never sent.
type RouteMetrics struct {
	Set        uint16 // bitmap, bit i set iff field i (RTAX_* index) is present
	Lock       uint32
	MTU        uint32
	Window     uint32
	RTT        uint32
	RTTVar     uint32
	SSThresh   uint32
	CWnd       uint32
	AdvMSS     uint32
	Reordering uint32
	HopLimit   uint32
	InitCWnd   uint32
	Features   uint32
	RTOMin     uint32
	InitRWnd   uint32
	QuickACK   uint32
}

// RouteRecord is the normalized view of one kernel route.
type RouteRecord struct {
	Family      Family
	Table       uint32
	Prefix      net.IPNet // zero-value for MPLS; see Label
	Label       uint32    // valid destination label when Family == FamilyMPLS
	Disposition Disposition
	NextHops    []NextHop
	Source      Source
	Metric      uint32
	PrefSrc     net.IP        // optional
	Realm       uint32        // optional, present iff HasRealm
	HasRealm    bool
	Metrics     *RouteMetrics // optional
	Mark        uint32
	HasMark     bool
	Expires     uint32
	HasExpires  bool
}

// UnicastNextHop returns the single next-hop of a non-multipath unicast
// route, or the zero value and false if the route is multipath or not
// unicast.
func (r *RouteRecord) UnicastNextHop() (NextHop, bool) {
	if r.Disposition != DispUnicast || len(r.NextHops) != 1 {
		return NextHop{}, false
	}
	return r.NextHops[0], true
}
