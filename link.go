package krt

import (
	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"

	"github.com/vplaned/krt/internal/attr"
	"github.com/vplaned/krt/internal/nlconst"
)

// iflaWant is the descriptor table for link-message attributes: name and
// MTU are the only attributes the core consumes, plus the wireless marker
// used to recognize (and silently drop) wireless-event messages.
var iflaWant = attr.NewTable(nlconst.IFLA_WIRELESS, map[int]attr.Desc{
	nlconst.IFLA_IFNAME:   {Defined: true},
	nlconst.IFLA_MTU:      {Defined: true, CheckSize: true, Size: 4},
	nlconst.IFLA_WIRELESS: {Defined: true},
})

// parseLink interprets one RTM_NEWLINK/RTM_DELLINK message and submits the
// resulting interface record to the daemon's interface registry. scan
// distinguishes a bulk-scan delivery from a live update.
func (c *Conn) parseLink(m netlink.Message, scan bool) {
	isNew := m.Header.Type == netlink.HeaderType(nlconst.RTM_NEWLINK)

	payload, area, err := checkin(m.Data, sizeofIfInfoMsg)
	if err != nil {
		c.log.decodeRejected(warnMalformedAttr, "malformed link message", logrus.Fields{"err": err})
		return
	}
	i := unmarshalIfInfo(payload)

	a, err := parseAttrs(iflaWant, area)
	if err != nil {
		c.log.decodeRejected(warnMalformedAttr, "malformed link attributes", logrus.Fields{"err": err})
		return
	}

	if !a.Has(nlconst.IFLA_IFNAME) || len(a.Bytes(nlconst.IFLA_IFNAME)) < 2 || !a.Has(nlconst.IFLA_MTU) {
		// Wireless extension events arrive as link messages carrying
		// only IFLA_WIRELESS, with no name at all. They are dropped
		// without notice; anything else missing a required attribute
		// is malformed.
		if a.Has(nlconst.IFLA_WIRELESS) {
			return
		}
		c.log.decodeRejected(warnMalformedAttr, "link message missing name or MTU", logrus.Fields{"index": i.Index})
		return
	}

	name := cstring(a.Bytes(nlconst.IFLA_IFNAME))

	if !isNew {
		if _, known := c.ifNames[i.Index]; !known {
			return
		}
		delete(c.ifNames, i.Index)
		c.cfg.Interfaces.DeleteInterface(i.Index)
		return
	}

	// A reused index carrying a different name means the old device is
	// gone: surface it as a delete followed by an add.
	if prev, known := c.ifNames[i.Index]; known && prev != name {
		c.cfg.Interfaces.DeleteInterface(i.Index)
	}
	c.ifNames[i.Index] = name

	rec := InterfaceRecord{
		Name:  name,
		Index: i.Index,
		MTU:   a.Uint32(nlconst.IFLA_MTU),
		Flags: linkFlags(i.Flags),
	}
	c.cfg.Interfaces.UpdateInterface(rec)

	if !scan {
		c.cfg.Interfaces.EndPartialUpdate(i.Index)
	}
}

// linkFlags projects the kernel's IFF_* bits into the daemon's capability
// flags.
func linkFlags(fl uint32) InterfaceFlags {
	var f InterfaceFlags
	if fl&nlconst.IFF_UP != 0 {
		f |= IfAdminUp
	}
	if fl&nlconst.IFF_LOWER_UP != 0 {
		f |= IfLinkUp
	}
	switch {
	case fl&nlconst.IFF_LOOPBACK != 0:
		f |= IfMultiAccess | IfLoopback | IfIgnore
	case fl&nlconst.IFF_POINTOPOINT != 0:
		f |= IfPointToPoint | IfMulticast
	case fl&nlconst.IFF_BROADCAST != 0:
		f |= IfMultiAccess | IfBroadcast | IfMulticast
	default:
		f |= IfMultiAccess | IfNBMA
	}
	if fl&nlconst.IFF_MULTICAST != 0 {
		f |= IfMulticast
	}
	return f
}

// cstring trims a NUL-terminated attribute payload into a Go string.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
