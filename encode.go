package krt

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"

	"github.com/vplaned/krt/internal/attr"
	"github.com/vplaned/krt/internal/nlconst"
)

// mplsDstLength is the destination length the kernel expects on an MPLS
// route: the 20 bits of a single label.
const mplsDstLength = 20

// InstallRoute pushes r into the kernel, tagged as originated by this
// daemon. A kernel nack is returned as an *AckError so the caller can
// record a sync error on the owning route and retry on the next sync.
func (c *Conn) InstallRoute(r *RouteRecord) error {
	m, err := buildRouteRequest(r, true)
	if err != nil {
		return err
	}
	return c.req.requestAck(m)
}

// WithdrawRoute removes a previously installed route. Only the route's
// identity (destination, table) is serialized; the kernel does not need
// the attributes to match.
func (c *Conn) WithdrawRoute(r *RouteRecord) error {
	m, err := buildRouteRequest(r, false)
	if err != nil {
		return err
	}
	return c.req.requestAck(m)
}

// ReplaceRoute withdraws old and installs new, either of which may be
// nil. The withdraw's ack is not consulted: when the daemon replaces a
// route it no longer cares whether the old one was still present. The
// returned error reflects the install alone.
func (c *Conn) ReplaceRoute(old, new *RouteRecord) error {
	if old != nil {
		if err := c.WithdrawRoute(old); err != nil {
			var ack *AckError
			if !errors.As(err, &ack) {
				return err
			}
		}
	}
	if new != nil {
		return c.InstallRoute(new)
	}
	return nil
}

// buildRouteRequest serializes a daemon route as a single new-route or
// del-route request.
func buildRouteRequest(r *RouteRecord, install bool) (netlink.Message, error) {
	var m netlink.Message

	if install {
		m.Header.Type = netlink.HeaderType(nlconst.RTM_NEWROUTE)
		m.Header.Flags = netlink.Request | netlink.Acknowledge | netlink.Create | netlink.Excl
	} else {
		m.Header.Type = netlink.HeaderType(nlconst.RTM_DELROUTE)
		m.Header.Flags = netlink.Request | netlink.Acknowledge
	}

	fixed := rtMsg{
		Protocol: nlconst.RTPROT_THISDAEMON,
		Scope:    nlconst.RT_SCOPE_UNIVERSE,
	}

	b := attr.NewBuilder()

	switch r.Family {
	case FamilyIPv4:
		fixed.Family = nlconst.AF_INET
		ones, _ := r.Prefix.Mask.Size()
		fixed.DstLength = uint8(ones)
		b.Bytes(nlconst.RTA_DST, r.Prefix.IP.To4())
	case FamilyIPv6:
		fixed.Family = nlconst.AF_INET6
		ones, _ := r.Prefix.Mask.Size()
		fixed.DstLength = uint8(ones)
		b.Bytes(nlconst.RTA_DST, r.Prefix.IP.To16())
	case FamilyMPLS:
		fixed.Family = nlconst.AF_MPLS
		fixed.DstLength = mplsDstLength
		b.MPLSStack(nlconst.RTA_DST, []uint32{r.Label})
	default:
		return netlink.Message{}, fmt.Errorf("krt: cannot serialize route family %v", r.Family)
	}

	// Small table ids ride in the 8-bit fixed field; larger ones need
	// the 32-bit attribute.
	if r.Table < 256 {
		fixed.Table = uint8(r.Table)
	} else {
		b.Uint32(nlconst.RTA_TABLE, r.Table)
	}

	if install {
		if err := buildRouteBody(b, &fixed, r); err != nil {
			return netlink.Message{}, err
		}
	}

	attrs, err := b.Encode()
	if err != nil {
		return netlink.Message{}, fatalf("encode route request", err)
	}
	m.Data = append(fixed.marshal(), attrs...)
	return m, nil
}

// buildRouteBody appends the install-only portion of a route request: the
// extended attributes and the next-hop encoding for the disposition.
func buildRouteBody(b *attr.Builder, fixed *rtMsg, r *RouteRecord) error {
	if r.Metric != 0 {
		b.Uint32(nlconst.RTA_PRIORITY, r.Metric)
	}
	if r.PrefSrc != nil {
		b.IP(nlconst.RTA_PREFSRC, r.PrefSrc)
	}
	if r.HasRealm {
		b.Uint32(nlconst.RTA_FLOW, r.Realm)
	}
	if r.HasMark {
		b.Uint32(nlconst.RTA_MARK, r.Mark)
	}
	if r.Metrics != nil && r.Metrics.Set != 0 {
		buildMetrics(b, r.Metrics)
	}

	switch r.Disposition {
	case DispUnicast:
		fixed.Type = nlconst.RTN_UNICAST
		if len(r.NextHops) == 0 {
			return fmt.Errorf("krt: unicast route %s has no next-hop", r.Prefix.String())
		}
		if len(r.NextHops) > 1 {
			buildMultipath(b, r.NextHops)
			return nil
		}

		nh := r.NextHops[0]
		b.Uint32(nlconst.RTA_OIF, nh.IfIndex)
		if nh.Gateway != nil {
			if r.Family == FamilyMPLS {
				b.Via(nlconst.RTA_VIA, nh.Gateway)
			} else {
				b.IP(nlconst.RTA_GATEWAY, nh.Gateway)
			}
		}
		if len(nh.Labels) > 0 {
			if r.Family == FamilyMPLS {
				b.MPLSStack(nlconst.RTA_NEWDST, nh.Labels)
			} else {
				b.Uint16(nlconst.RTA_ENCAP_TYPE, nlconst.LWTUNNEL_ENCAP_MPLS)
				labels := nh.Labels
				b.Nested(nlconst.RTA_ENCAP, func(nb *attr.Builder) {
					nb.MPLSStack(nlconst.RTA_DST, labels)
				})
			}
		}
	case DispBlackhole:
		fixed.Type = nlconst.RTN_BLACKHOLE
	case DispUnreachable:
		fixed.Type = nlconst.RTN_UNREACHABLE
	case DispProhibit:
		fixed.Type = nlconst.RTN_PROHIBIT
	default:
		return fmt.Errorf("krt: cannot serialize route disposition %d", r.Disposition)
	}
	return nil
}

// buildMetrics emits the nested metrics vector, only the slots whose
// presence bit is set.
func buildMetrics(b *attr.Builder, m *RouteMetrics) {
	values := []uint32{
		0, m.Lock, m.MTU, m.Window, m.RTT, m.RTTVar, m.SSThresh,
		m.CWnd, m.AdvMSS, m.Reordering, m.HopLimit, m.InitCWnd,
		m.Features, m.RTOMin, m.InitRWnd, m.QuickACK,
	}
	b.Nested(nlconst.RTA_METRICS, func(nb *attr.Builder) {
		for t := 1; t < nlconst.RTAX_MAX; t++ {
			if m.Set&(1<<t) != 0 {
				nb.Uint32(uint16(t), values[t])
			}
		}
	})
}

// buildMultipath emits the multipath attribute: each entry is the fixed
// next-hop record followed by its own attribute stream.
func buildMultipath(b *attr.Builder, nhs []NextHop) {
	var buf []byte
	for _, nh := range nhs {
		var inner []byte
		if nh.Gateway != nil {
			gb := attr.NewBuilder()
			gb.IP(nlconst.RTA_GATEWAY, nh.Gateway)
			inner, _ = gb.Encode()
		}

		rec := rtNexthop{
			Length:  uint16(sizeofRtNexthop + len(inner)),
			Hops:    nh.Weight,
			IfIndex: nh.IfIndex,
		}
		if nh.OnLink {
			rec.Flags |= nlconst.RTNH_F_ONLINK
		}
		buf = append(buf, rec.marshal()...)
		buf = append(buf, inner...)
		for len(buf)%nlconst.NLMSG_ALIGNTO != 0 {
			buf = append(buf, 0)
		}
	}
	b.Bytes(nlconst.RTA_MULTIPATH, buf)
}
