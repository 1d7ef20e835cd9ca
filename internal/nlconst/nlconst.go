// Package nlconst collects the rtnetlink wire constants this core depends
// on. Most come straight from golang.org/x/sys/unix; a handful of
// attribute codes are younger than some vendored unix snapshots carry, so
// they are defined locally with their kernel header values.
package nlconst

import "golang.org/x/sys/unix"

// Address families.
const (
	AF_UNSPEC = unix.AF_UNSPEC
	AF_INET   = unix.AF_INET
	AF_INET6  = unix.AF_INET6
	AF_MPLS   = unix.AF_MPLS
)

// Message types.
const (
	RTM_NEWLINK  = unix.RTM_NEWLINK
	RTM_DELLINK  = unix.RTM_DELLINK
	RTM_GETLINK  = unix.RTM_GETLINK
	RTM_NEWADDR  = unix.RTM_NEWADDR
	RTM_DELADDR  = unix.RTM_DELADDR
	RTM_GETADDR  = unix.RTM_GETADDR
	RTM_NEWROUTE = unix.RTM_NEWROUTE
	RTM_DELROUTE = unix.RTM_DELROUTE
	RTM_GETROUTE = unix.RTM_GETROUTE
)

// Multicast groups for the async endpoint.
const (
	RTMGRP_LINK        = unix.RTMGRP_LINK
	RTMGRP_IPV4_IFADDR = unix.RTMGRP_IPV4_IFADDR
	RTMGRP_IPV4_ROUTE  = unix.RTMGRP_IPV4_ROUTE
	RTMGRP_IPV6_IFADDR = unix.RTMGRP_IPV6_IFADDR
	RTMGRP_IPV6_ROUTE  = unix.RTMGRP_IPV6_ROUTE
)

// Link flags.
const (
	IFF_UP          = unix.IFF_UP
	IFF_BROADCAST   = unix.IFF_BROADCAST
	IFF_LOOPBACK    = unix.IFF_LOOPBACK
	IFF_POINTOPOINT = unix.IFF_POINTOPOINT
	IFF_MULTICAST   = unix.IFF_MULTICAST
	// IFF_LOWER_UP is missing from some vendored unix snapshots; several
	// glibc headers omitted it historically too.
	IFF_LOWER_UP = 0x10000
)

// Link attributes.
const (
	IFLA_UNSPEC   = unix.IFLA_UNSPEC
	IFLA_ADDRESS  = unix.IFLA_ADDRESS
	IFLA_IFNAME   = unix.IFLA_IFNAME
	IFLA_MTU      = unix.IFLA_MTU
	IFLA_WIRELESS = 18 // IFLA_WIRELESS, not exported by all unix snapshots
)

// Address attributes.
const (
	IFA_UNSPEC    = unix.IFA_UNSPEC
	IFA_ADDRESS   = unix.IFA_ADDRESS
	IFA_LOCAL     = unix.IFA_LOCAL
	IFA_LABEL     = unix.IFA_LABEL
	IFA_BROADCAST = unix.IFA_BROADCAST
	IFA_ANYCAST   = unix.IFA_ANYCAST
	IFA_CACHEINFO = unix.IFA_CACHEINFO

	IFA_F_SECONDARY = 0x01
)

// Route attributes.
const (
	RTA_UNSPEC    = unix.RTA_UNSPEC
	RTA_DST       = unix.RTA_DST
	RTA_IIF       = unix.RTA_IIF
	RTA_OIF       = unix.RTA_OIF
	RTA_GATEWAY   = unix.RTA_GATEWAY
	RTA_PRIORITY  = unix.RTA_PRIORITY
	RTA_PREFSRC   = unix.RTA_PREFSRC
	RTA_METRICS   = unix.RTA_METRICS
	RTA_MULTIPATH = unix.RTA_MULTIPATH
	RTA_FLOW      = unix.RTA_FLOW
	RTA_TABLE     = unix.RTA_TABLE
	RTA_MARK      = unix.RTA_MARK
	RTA_EXPIRES   = unix.RTA_EXPIRES

	// Younger attributes: defined locally in case the vendored unix
	// constants predate the kernel headers that introduced them.
	RTA_VIA        = 18
	RTA_NEWDST     = 19
	RTA_ENCAP_TYPE = 21
	RTA_ENCAP      = 22
)

// Route metrics (RTAX_*) slots.
const (
	RTAX_UNSPEC     = 0
	RTAX_LOCK       = 1
	RTAX_MTU        = 2
	RTAX_WINDOW     = 3
	RTAX_RTT        = 4
	RTAX_RTTVAR     = 5
	RTAX_SSTHRESH   = 6
	RTAX_CWND       = 7
	RTAX_ADVMSS     = 8
	RTAX_REORDERING = 9
	RTAX_HOPLIMIT   = 10
	RTAX_INITCWND   = 11
	RTAX_FEATURES   = 12
	RTAX_RTO_MIN    = 13
	RTAX_INITRWND   = 14
	RTAX_QUICKACK   = 15
	RTAX_MAX        = 16
)

// RTAX_FEATURES bits.
const (
	RTAX_FEATURE_ECN     = 1 << 0
	RTAX_FEATURE_ALLFRAG = 1 << 3
)

// Route types (rtm_type).
const (
	RTN_UNICAST     = unix.RTN_UNICAST
	RTN_BLACKHOLE   = unix.RTN_BLACKHOLE
	RTN_UNREACHABLE = unix.RTN_UNREACHABLE
	RTN_PROHIBIT    = unix.RTN_PROHIBIT
)

// Route protocol tags (rtm_protocol).
const (
	RTPROT_UNSPEC   = unix.RTPROT_UNSPEC
	RTPROT_REDIRECT = unix.RTPROT_REDIRECT
	RTPROT_KERNEL   = unix.RTPROT_KERNEL
	RTPROT_BOOT     = unix.RTPROT_BOOT
	// RTPROT_THISDAEMON tags routes this daemon installs so they can be
	// told apart from kernel and operator routes; the value sits in the
	// range the kernel leaves to routing daemons.
	RTPROT_THISDAEMON = 186
)

// Route scope.
const (
	RT_SCOPE_UNIVERSE = unix.RT_SCOPE_UNIVERSE
	RT_SCOPE_SITE     = unix.RT_SCOPE_SITE
	RT_SCOPE_LINK     = unix.RT_SCOPE_LINK
	RT_SCOPE_HOST     = unix.RT_SCOPE_HOST
	RT_SCOPE_NOWHERE  = unix.RT_SCOPE_NOWHERE
)

const RT_TABLE_MAIN = unix.RT_TABLE_MAIN

// NETLINK_ROUTE is the netlink protocol family for the routing control
// channel.
const NETLINK_ROUTE = unix.NETLINK_ROUTE

// ENOBUFS is how the kernel reports that async notifications were dropped
// because the receive buffer overran.
const ENOBUFS = unix.ENOBUFS

// Multipath / nexthop flags.
const (
	RTNH_F_ONLINK = unix.RTNH_F_ONLINK
)

// Header flags used when building requests.
const (
	NLM_F_REQUEST = unix.NLM_F_REQUEST
	NLM_F_ACK     = unix.NLM_F_ACK
	NLM_F_CREATE  = unix.NLM_F_CREATE
	NLM_F_EXCL    = unix.NLM_F_EXCL
	NLM_F_DUMP    = unix.NLM_F_DUMP
)

// Encapsulation types (lwtunnel_encap_types).
const (
	LWTUNNEL_ENCAP_NONE = 0
	LWTUNNEL_ENCAP_MPLS = 1
)

// NLMSG_ALIGNTO is the alignment boundary for message and attribute data.
const NLMSG_ALIGNTO = 4

// Align rounds n up to the next multiple of NLMSG_ALIGNTO.
func Align(n int) int {
	return (n + NLMSG_ALIGNTO - 1) &^ (NLMSG_ALIGNTO - 1)
}
