package krt

import (
	"net"

	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"

	"github.com/vplaned/krt/internal/attr"
	"github.com/vplaned/krt/internal/nlconst"
)

// Per-family descriptor tables for address-message attributes. The IPv4
// dialect wants a broadcast attribute; the IPv6 dialect has none.
var (
	ifaWant4 = attr.NewTable(nlconst.IFA_ANYCAST, map[int]attr.Desc{
		nlconst.IFA_ADDRESS:   {Defined: true, CheckSize: true, Size: 4},
		nlconst.IFA_LOCAL:     {Defined: true, CheckSize: true, Size: 4},
		nlconst.IFA_BROADCAST: {Defined: true, CheckSize: true, Size: 4},
	})
	ifaWant6 = attr.NewTable(nlconst.IFA_ANYCAST, map[int]attr.Desc{
		nlconst.IFA_ADDRESS: {Defined: true, CheckSize: true, Size: 16},
		nlconst.IFA_LOCAL:   {Defined: true, CheckSize: true, Size: 16},
	})
)

// parseAddr interprets one RTM_NEWADDR/RTM_DELADDR message, dispatching on
// the address family in the fixed payload.
func (c *Conn) parseAddr(m netlink.Message, scan bool) {
	payload, area, err := checkin(m.Data, sizeofIfAddrMsg)
	if err != nil {
		c.log.decodeRejected(warnMalformedAttr, "malformed address message", logrus.Fields{"err": err})
		return
	}
	i := unmarshalIfAddr(payload)
	isNew := m.Header.Type == netlink.HeaderType(nlconst.RTM_NEWADDR)

	switch i.Family {
	case nlconst.AF_INET:
		c.parseAddr4(i, area, scan, isNew)
	case nlconst.AF_INET6:
		c.parseAddr6(i, area, scan, isNew)
	}
}

func (c *Conn) parseAddr4(i ifAddrMsg, area []byte, scan, isNew bool) {
	a, err := parseAttrs(ifaWant4, area)
	if err != nil {
		c.log.decodeRejected(warnMalformedAttr, "malformed address attributes", logrus.Fields{"index": i.Index, "err": err})
		return
	}
	if !a.Has(nlconst.IFA_LOCAL) {
		c.log.decodeRejected(warnMalformedAttr, "address message missing local address", logrus.Fields{"index": i.Index})
		return
	}
	if !a.Has(nlconst.IFA_ADDRESS) {
		c.log.decodeRejected(warnMalformedAttr, "address message missing address", logrus.Fields{"index": i.Index})
		return
	}

	iface, ok := c.cfg.Interfaces.ByIndex(i.Index)
	if !ok {
		c.log.decodeRejected(warnMalformedAttr, "address message for unknown interface", logrus.Fields{"index": i.Index})
		return
	}

	rec := AddressRecord{
		IfIndex: i.Index,
		Local:   net.IP(a.Bytes(nlconst.IFA_LOCAL)),
	}
	if i.Flags&nlconst.IFA_F_SECONDARY != 0 {
		rec.Flags |= AddrSecondary
	}

	addrAttr := net.IP(a.Bytes(nlconst.IFA_ADDRESS))

	if i.PrefixLen > 32 {
		// Beyond the family maximum the operation degrades to a
		// delete of whatever the daemon had.
		c.log.decodeRejected(warnMalformedAttr, "invalid address prefix length", logrus.Fields{"iface": iface.Name, "plen": i.PrefixLen})
		isNew = false
		i.PrefixLen = 32
	}
	if i.PrefixLen == 32 {
		// A single-address prefix: the address attribute holds either
		// the host itself or the remote peer.
		rec.Broadcast = addrAttr
		rec.Prefix = net.IPNet{IP: addrAttr, Mask: net.CIDRMask(32, 32)}
		if rec.Local.Equal(addrAttr) {
			rec.Flags |= AddrHost
		} else {
			rec.Flags |= AddrPeer
			rec.Opposite = addrAttr
		}
	} else {
		mask := net.CIDRMask(int(i.PrefixLen), 32)
		rec.Prefix = net.IPNet{IP: rec.Local.Mask(mask), Mask: mask}

		switch i.PrefixLen {
		case 31:
			rec.Opposite = oppositeM1(rec.Local)
		case 30:
			rec.Opposite = oppositeM2(rec.Local)
		}

		if iface.Flags&IfBroadcast != 0 && a.Has(nlconst.IFA_BROADCAST) {
			xbrd := net.IP(a.Bytes(nlconst.IFA_BROADCAST))
			ybrd := hostPartAllOnes(rec.Local, mask)
			switch {
			case xbrd.Equal(rec.Prefix.IP) || xbrd.Equal(ybrd):
				rec.Broadcast = xbrd
			default:
				// Complain only the first time this interface shows
				// up with a bogus broadcast; resyncs correct silently.
				if !c.brdWarned[i.Index] {
					c.brdWarned[i.Index] = true
					c.log.decodeRejected(warnBroadcastMismatch, "invalid broadcast address corrected", logrus.Fields{
						"iface": iface.Name,
						"brd":   xbrd.String(),
					})
				}
				rec.Broadcast = ybrd
			}
		}
	}

	cl, ok := classifyIP(rec.Local)
	if !ok {
		c.log.decodeRejected(warnMalformedAttr, "unclassifiable interface address", logrus.Fields{"iface": iface.Name, "addr": rec.Local.String()})
		return
	}
	rec.Scope = cl.Scope

	c.submitAddr(rec, scan, isNew)
}

func (c *Conn) parseAddr6(i ifAddrMsg, area []byte, scan, isNew bool) {
	a, err := parseAttrs(ifaWant6, area)
	if err != nil {
		c.log.decodeRejected(warnMalformedAttr, "malformed address attributes", logrus.Fields{"index": i.Index, "err": err})
		return
	}
	if !a.Has(nlconst.IFA_ADDRESS) {
		c.log.decodeRejected(warnMalformedAttr, "address message missing address", logrus.Fields{"index": i.Index})
		return
	}

	iface, ok := c.cfg.Interfaces.ByIndex(i.Index)
	if !ok {
		c.log.decodeRejected(warnMalformedAttr, "address message for unknown interface", logrus.Fields{"index": i.Index})
		return
	}

	rec := AddressRecord{IfIndex: i.Index}
	if i.Flags&nlconst.IFA_F_SECONDARY != 0 {
		rec.Flags |= AddrSecondary
	}

	addrAttr := net.IP(a.Bytes(nlconst.IFA_ADDRESS))

	// IFA_LOCAL can be unset for IPv6 interfaces.
	if a.Has(nlconst.IFA_LOCAL) {
		rec.Local = net.IP(a.Bytes(nlconst.IFA_LOCAL))
	} else {
		rec.Local = addrAttr
	}

	if i.PrefixLen > 128 {
		c.log.decodeRejected(warnMalformedAttr, "invalid address prefix length", logrus.Fields{"iface": iface.Name, "plen": i.PrefixLen})
		isNew = false
		i.PrefixLen = 128
	}
	if i.PrefixLen == 128 {
		rec.Broadcast = addrAttr
		rec.Prefix = net.IPNet{IP: addrAttr, Mask: net.CIDRMask(128, 128)}
		if rec.Local.Equal(addrAttr) {
			rec.Flags |= AddrHost
		} else {
			rec.Flags |= AddrPeer
			rec.Opposite = addrAttr
		}
	} else {
		mask := net.CIDRMask(int(i.PrefixLen), 128)
		rec.Prefix = net.IPNet{IP: rec.Local.Mask(mask), Mask: mask}

		if i.PrefixLen == 127 {
			rec.Opposite = oppositeM1(rec.Local)
		}
	}

	cl, ok := classifyIP(rec.Local)
	if !ok {
		c.log.decodeRejected(warnMalformedAttr, "unclassifiable interface address", logrus.Fields{"iface": iface.Name, "addr": rec.Local.String()})
		return
	}
	rec.Scope = cl.Scope

	c.submitAddr(rec, scan, isNew)
}

func (c *Conn) submitAddr(rec AddressRecord, scan, isNew bool) {
	if isNew {
		c.cfg.Addresses.UpdateAddress(rec)
	} else {
		c.cfg.Addresses.DeleteAddress(rec)
	}
	if !scan {
		c.cfg.Interfaces.EndPartialUpdate(rec.IfIndex)
	}
}

// oppositeM1 returns the other host of a /31 (or /127) pair: the address
// with its lowest bit flipped.
func oppositeM1(ip net.IP) net.IP {
	out := cloneIP(ip)
	out[len(out)-1] ^= 1
	return out
}

// oppositeM2 returns the other usable host of a /30: flip the low two
// bits, which maps each of the two inner addresses onto the other while
// the network and broadcast slots are never handed in here.
func oppositeM2(ip net.IP) net.IP {
	out := cloneIP(ip)
	out[len(out)-1] ^= 3
	return out
}

// hostPartAllOnes computes the directed-broadcast address for ip in mask.
func hostPartAllOnes(ip net.IP, mask net.IPMask) net.IP {
	out := cloneIP(ip)
	for i := range out {
		out[i] |= ^mask[i]
	}
	return out
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}
