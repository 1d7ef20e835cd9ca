package krt

import (
	"net"

	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"

	"github.com/vplaned/krt/internal/attr"
	"github.com/vplaned/krt/internal/nlconst"
)

// Per-family descriptor tables for route-message attributes.
// Each family is a dialect of the same TLV grammar: the tables differ in
// which codes exist and what payload size an address-shaped value has.
var (
	rtmWant4 = attr.NewTable(nlconst.RTA_EXPIRES, map[int]attr.Desc{
		nlconst.RTA_DST:        {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_IIF:        {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_OIF:        {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_GATEWAY:    {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_PRIORITY:   {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_PREFSRC:    {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_METRICS:    {Defined: true},
		nlconst.RTA_MULTIPATH:  {Defined: true},
		nlconst.RTA_FLOW:       {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_TABLE:      {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_MARK:       {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_EXPIRES:    {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_ENCAP_TYPE: {Defined: true, CheckSize: true, Size: 2},
		nlconst.RTA_ENCAP:      {Defined: true},
	})

	rtmWant6 = attr.NewTable(nlconst.RTA_EXPIRES, map[int]attr.Desc{
		nlconst.RTA_DST:        {Defined: true, CheckSize: true, Size: 16},
		nlconst.RTA_IIF:        {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_OIF:        {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_GATEWAY:    {Defined: true, CheckSize: true, Size: 16},
		nlconst.RTA_PRIORITY:   {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_PREFSRC:    {Defined: true, CheckSize: true, Size: 16},
		nlconst.RTA_METRICS:    {Defined: true},
		nlconst.RTA_FLOW:       {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_TABLE:      {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_MARK:       {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_EXPIRES:    {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_ENCAP_TYPE: {Defined: true, CheckSize: true, Size: 2},
		nlconst.RTA_ENCAP:      {Defined: true},
	})

	rtmWantMPLS = attr.NewTable(nlconst.RTA_ENCAP, map[int]attr.Desc{
		nlconst.RTA_DST:      {Defined: true},
		nlconst.RTA_IIF:      {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_OIF:      {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_PRIORITY: {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_METRICS:  {Defined: true},
		nlconst.RTA_FLOW:     {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_TABLE:    {Defined: true, CheckSize: true, Size: 4},
		nlconst.RTA_VIA:      {Defined: true},
		nlconst.RTA_NEWDST:   {Defined: true},
	})

	// A multipath entry's private attribute stream carries at least the
	// gateway; multipath is an IPv4-only dialect here.
	nexthopWant4 = attr.NewTable(nlconst.RTA_ENCAP, map[int]attr.Desc{
		nlconst.RTA_GATEWAY: {Defined: true, CheckSize: true, Size: 4},
	})

	// Inside an MPLS-typed RTA_ENCAP group, the destination code carries
	// the label stack to impose.
	encapMPLSWant = attr.NewTable(nlconst.RTA_ENCAP, map[int]attr.Desc{
		nlconst.RTA_DST: {Defined: true},
	})

	// Every recognized metrics sub-attribute is exactly one u32.
	metricsWant = func() attr.Table {
		set := make(map[int]attr.Desc, nlconst.RTAX_MAX-1)
		for t := 1; t < nlconst.RTAX_MAX; t++ {
			set[t] = attr.Desc{Defined: true, CheckSize: true, Size: 4}
		}
		return attr.NewTable(nlconst.RTAX_MAX-1, set)
	}()
)

// maxLabelStack bounds how many MPLS labels a next-hop may carry; longer
// stacks from the kernel are dropped with a warning.
const maxLabelStack = 8

// parseRoute interprets one RTM_NEWROUTE/RTM_DELROUTE message and, when
// it survives the import policy, hands the normalized record to the
// protocol instance owning its (family, table) pair.
func (c *Conn) parseRoute(m netlink.Message, scan bool) {
	isNew := m.Header.Type == netlink.HeaderType(nlconst.RTM_NEWROUTE)

	payload, area, err := checkin(m.Data, sizeofRtMsg)
	if err != nil {
		c.log.decodeRejected(warnMalformedAttr, "malformed route message", logrus.Fields{"err": err})
		return
	}
	i := unmarshalRtMsg(payload)

	var (
		family Family
		table  attr.Table
	)
	switch i.Family {
	case nlconst.AF_INET:
		family, table = FamilyIPv4, rtmWant4
	case nlconst.AF_INET6:
		family, table = FamilyIPv6, rtmWant6
	case nlconst.AF_MPLS:
		family, table = FamilyMPLS, rtmWantMPLS
	default:
		return
	}

	a, err := parseAttrs(table, area)
	if err != nil {
		c.log.decodeRejected(warnMalformedAttr, "malformed route attributes", logrus.Fields{"family": family.String(), "err": err})
		return
	}

	rec := RouteRecord{Family: family}

	switch family {
	case FamilyIPv4:
		if a.Has(nlconst.RTA_DST) {
			rec.Prefix = net.IPNet{
				IP:   net.IP(a.Bytes(nlconst.RTA_DST)),
				Mask: net.CIDRMask(int(i.DstLength), 32),
			}
		} else {
			rec.Prefix = net.IPNet{IP: net.IPv4zero.To4(), Mask: net.CIDRMask(0, 32)}
		}
	case FamilyIPv6:
		if a.Has(nlconst.RTA_DST) {
			rec.Prefix = net.IPNet{
				IP:   net.IP(a.Bytes(nlconst.RTA_DST)),
				Mask: net.CIDRMask(int(i.DstLength), 128),
			}
		} else {
			rec.Prefix = net.IPNet{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)}
		}
	case FamilyMPLS:
		// No support for MPLS routes without a destination label.
		if !a.Has(nlconst.RTA_DST) {
			return
		}
		stack, err := attr.DecodeMPLSStack(a.Bytes(nlconst.RTA_DST))
		if err != nil {
			c.log.decodeRejected(warnMalformedAttr, "malformed MPLS destination", logrus.Fields{"err": err})
			return
		}
		if len(stack) != 1 {
			c.log.decodeRejected(warnMalformedAttr, "multi-label MPLS destination", logrus.Fields{"labels": len(stack)})
			return
		}
		rec.Label = stack[0]
	}

	// The explicit table attribute wins over the 8-bit payload field,
	// which cannot name tables above 255.
	if a.Has(nlconst.RTA_TABLE) {
		rec.Table = a.Uint32(nlconst.RTA_TABLE)
	} else {
		rec.Table = uint32(i.Table)
	}

	owner, ok := c.tables.Lookup(family, rec.Table)
	if !ok {
		c.log.debugSkip("route for unregistered table", logrus.Fields{"family": family.String(), "table": rec.Table})
		return
	}

	if a.Has(nlconst.RTA_IIF) {
		c.log.debugSkip("route with incoming interface", logrus.Fields{"family": family.String()})
		return
	}
	if i.Tos != 0 {
		c.log.debugSkip("route with TOS", logrus.Fields{"tos": i.Tos})
		return
	}
	if scan && !isNew {
		c.log.debugSkip("route delete during scan", nil)
		return
	}

	if family != FamilyMPLS {
		cl, ok := classifyIP(rec.Prefix.IP)
		if !ok || !cl.Host || cl.Scope <= ScopeLink {
			c.log.debugSkip("route with strange destination class", logrus.Fields{"dst": rec.Prefix.String()})
			return
		}
	}

	switch i.Protocol {
	case nlconst.RTPROT_UNSPEC:
		c.log.debugSkip("route with unspec protocol", nil)
		return
	case nlconst.RTPROT_REDIRECT:
		rec.Source = SrcRedirect
	case nlconst.RTPROT_KERNEL:
		// Kernel-self routes are never imported.
		return
	case nlconst.RTPROT_THISDAEMON:
		if !scan {
			// Async echo of our own install.
			c.log.debugSkip("route echo", nil)
			return
		}
		rec.Source = SrcThisDaemon
	default:
		rec.Source = SrcOther
	}

	switch i.Type {
	case nlconst.RTN_UNICAST:
		rec.Disposition = DispUnicast

		if a.Has(nlconst.RTA_MULTIPATH) && family == FamilyIPv4 {
			nhs, ok := c.parseMultipath(a.Bytes(nlconst.RTA_MULTIPATH))
			if !ok {
				c.log.decodeRejected(warnMalformedAttr, "strange multipath route", logrus.Fields{"dst": rec.Prefix.String()})
				return
			}
			rec.NextHops = nhs
			break
		}

		var oif uint32 = ^uint32(0)
		if a.Has(nlconst.RTA_OIF) {
			oif = a.Uint32(nlconst.RTA_OIF)
		}
		if _, ok := c.cfg.Interfaces.ByIndex(oif); !ok {
			c.log.decodeRejected(warnMalformedAttr, "route with unknown ifindex", logrus.Fields{"dst": rec.Prefix.String(), "ifindex": oif})
			return
		}
		nh := NextHop{IfIndex: oif, OnLink: i.Flags&nlconst.RTNH_F_ONLINK != 0}

		var gw net.IP
		if family == FamilyMPLS && a.Has(nlconst.RTA_VIA) {
			gw, err = decodeVia(a.Bytes(nlconst.RTA_VIA))
			if err != nil {
				c.log.decodeRejected(warnMalformedAttr, "malformed via gateway", logrus.Fields{"err": err})
				return
			}
		} else if family != FamilyMPLS && a.Has(nlconst.RTA_GATEWAY) {
			gw = net.IP(a.Bytes(nlconst.RTA_GATEWAY))
		}
		if gw != nil {
			// Silently skip strange 6to4 next-hops.
			if family == FamilyIPv6 && in6to4Relay(gw) {
				return
			}
			if !c.neighborReachable(gw, nh.IfIndex, nh.OnLink) {
				c.log.decodeRejected(warnMalformedAttr, "route with strange next-hop", logrus.Fields{"dst": rec.Prefix.String(), "gw": gw.String()})
				return
			}
			nh.Gateway = gw
		}
		rec.NextHops = []NextHop{nh}

	case nlconst.RTN_BLACKHOLE:
		rec.Disposition = DispBlackhole
	case nlconst.RTN_UNREACHABLE:
		rec.Disposition = DispUnreachable
	case nlconst.RTN_PROHIBIT:
		rec.Disposition = DispProhibit
	default:
		c.log.debugSkip("route with unsupported type", logrus.Fields{"type": i.Type})
		return
	}

	singlepath := len(rec.NextHops) == 1

	if family == FamilyMPLS && a.Has(nlconst.RTA_NEWDST) && singlepath {
		stack, err := attr.DecodeMPLSStack(a.Bytes(nlconst.RTA_NEWDST))
		if err != nil {
			c.log.decodeRejected(warnMalformedAttr, "malformed label stack", logrus.Fields{"err": err})
			return
		}
		rec.NextHops[0].Labels = clampLabels(stack, c.log)
	}

	if a.Has(nlconst.RTA_ENCAP) && a.Has(nlconst.RTA_ENCAP_TYPE) && singlepath {
		switch a.Uint16(nlconst.RTA_ENCAP_TYPE) {
		case nlconst.LWTUNNEL_ENCAP_MPLS:
			enca, err := parseAttrs(encapMPLSWant, a.Bytes(nlconst.RTA_ENCAP))
			if err != nil {
				c.log.decodeRejected(warnMalformedAttr, "malformed MPLS encapsulation", logrus.Fields{"err": err})
				return
			}
			stack, err := attr.DecodeMPLSStack(enca.Bytes(nlconst.RTA_DST))
			if err != nil {
				c.log.decodeRejected(warnMalformedAttr, "malformed label stack", logrus.Fields{"err": err})
				return
			}
			rec.NextHops[0].Labels = clampLabels(stack, c.log)
		default:
			c.log.decodeRejected(warnMalformedAttr, "unknown encapsulation type", logrus.Fields{"type": a.Uint16(nlconst.RTA_ENCAP_TYPE)})
			return
		}
	}

	if a.Has(nlconst.RTA_PRIORITY) {
		rec.Metric = a.Uint32(nlconst.RTA_PRIORITY)
	}
	if a.Has(nlconst.RTA_PREFSRC) {
		rec.PrefSrc = net.IP(a.Bytes(nlconst.RTA_PREFSRC))
	}
	if a.Has(nlconst.RTA_FLOW) {
		rec.Realm = a.Uint32(nlconst.RTA_FLOW)
		rec.HasRealm = true
	}
	if a.Has(nlconst.RTA_MARK) {
		rec.Mark = a.Uint32(nlconst.RTA_MARK)
		rec.HasMark = true
	}
	if a.Has(nlconst.RTA_EXPIRES) {
		rec.Expires = a.Uint32(nlconst.RTA_EXPIRES)
		rec.HasExpires = true
	}
	if a.Has(nlconst.RTA_METRICS) {
		metrics, err := parseMetrics(a.Bytes(nlconst.RTA_METRICS))
		if err != nil {
			c.log.decodeRejected(warnMalformedAttr, "strange metrics attribute", logrus.Fields{"dst": rec.Prefix.String(), "err": err})
			return
		}
		if metrics.Set != 0 {
			rec.Metrics = &metrics
		}
	}

	if scan {
		owner.GotRoute(rec)
	} else {
		owner.GotRouteAsync(rec, isNew)
	}
}

// parseMultipath decodes a multipath attribute's next-hop list into the
// per-core scratch arena, which is reused (and grows as needed) across
// messages since the daemon copies next-hops out immediately. Any
// failure cancels the entire route import.
func (c *Conn) parseMultipath(data []byte) ([]NextHop, bool) {
	c.nhScratch = c.nhScratch[:0]

	for len(data) > 0 {
		if len(data) < sizeofRtNexthop {
			return nil, false
		}
		nh := unmarshalRtNexthop(data)
		if int(nh.Length) < sizeofRtNexthop || int(nh.Length) > len(data) {
			return nil, false
		}

		if _, ok := c.cfg.Interfaces.ByIndex(nh.IfIndex); !ok {
			return nil, false
		}

		out := NextHop{
			IfIndex: nh.IfIndex,
			Weight:  nh.Hops,
			OnLink:  nh.Flags&nlconst.RTNH_F_ONLINK != 0,
		}

		a, err := parseAttrs(nexthopWant4, data[sizeofRtNexthop:nh.Length])
		if err != nil || !a.Has(nlconst.RTA_GATEWAY) {
			return nil, false
		}
		out.Gateway = net.IP(a.Bytes(nlconst.RTA_GATEWAY))
		if !c.neighborReachable(out.Gateway, out.IfIndex, out.OnLink) {
			return nil, false
		}

		c.nhScratch = append(c.nhScratch, out)

		adv := nlconst.Align(int(nh.Length))
		if adv > len(data) {
			adv = len(data)
		}
		data = data[adv:]
	}

	if len(c.nhScratch) == 0 {
		return nil, false
	}
	return c.nhScratch, true
}

// neighborReachable reports whether gw resolves in the daemon's neighbor
// cache to an entry whose scope is not host-local. Routes through a
// gateway that fails this are not importable.
func (c *Conn) neighborReachable(gw net.IP, iface uint32, onLink bool) bool {
	nbr, ok := c.cfg.Neighbors.Find(gw, iface, onLink)
	return ok && nbr.Scope != ScopeHost
}

// parseMetrics decodes the nested per-route metrics vector,
// recording which slots were present in the Set bitmap.
func parseMetrics(area []byte) (RouteMetrics, error) {
	a, err := parseAttrs(metricsWant, area)
	if err != nil {
		return RouteMetrics{}, err
	}

	var m RouteMetrics
	slots := []*uint32{
		nil, &m.Lock, &m.MTU, &m.Window, &m.RTT, &m.RTTVar, &m.SSThresh,
		&m.CWnd, &m.AdvMSS, &m.Reordering, &m.HopLimit, &m.InitCWnd,
		&m.Features, &m.RTOMin, &m.InitRWnd, &m.QuickACK,
	}
	for t := 1; t < nlconst.RTAX_MAX; t++ {
		if a.Has(uint16(t)) {
			m.Set |= 1 << t
			*slots[t] = a.Uint32(uint16(t))
		}
	}
	return m, nil
}

// decodeVia reads an RTA_VIA family-tagged gateway record: a u16 address
// family followed by the raw address bytes.
func decodeVia(b []byte) (net.IP, error) {
	if len(b) < 2 {
		return nil, ErrMalformed
	}
	family := nativeEndian.Uint16(b[0:2])
	addr := b[2:]
	switch {
	case family == nlconst.AF_INET && len(addr) == 4:
		return net.IP(addr), nil
	case family == nlconst.AF_INET6 && len(addr) == 16:
		return net.IP(addr), nil
	default:
		return nil, ErrMalformed
	}
}

// clampLabels drops over-long label stacks from the kernel instead of
// carrying a stack the forwarding model cannot hold.
func clampLabels(stack []uint32, log *logger) []uint32 {
	if len(stack) > maxLabelStack {
		log.decodeRejected(warnMalformedAttr, "too long MPLS label stack, ignoring", logrus.Fields{"labels": len(stack)})
		return nil
	}
	if len(stack) == 0 {
		return nil
	}
	return stack
}
