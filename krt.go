package krt

import (
	"errors"

	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"

	"github.com/vplaned/krt/internal/nlconst"
)

// Config carries the daemon collaborators and options a Conn needs. The
// three sink/lookup fields are required; everything else has a usable
// zero value.
type Config struct {
	// Interfaces is the daemon's interface registry.
	Interfaces InterfaceRegistry
	// Addresses receives interface-address records.
	Addresses AddressSink
	// Neighbors answers gateway reachability queries during route decode.
	Neighbors NeighborCache

	// Logger receives the core's structured log output. Nil falls back
	// to the logrus standard logger.
	Logger logrus.FieldLogger
	// Hooks are optional callbacks for conditions the core detects but
	// does not act on.
	Hooks Hooks
	// NetNS selects a network namespace for all three endpoints. Nil
	// means the current namespace.
	NetNS *NetNS
}

// Conn is one process's connection to the kernel routing subsystem: the
// three control-channel endpoints, the table registry, and the decoder
// state shared between the scan and async paths.
type Conn struct {
	cfg    Config
	log    *logger
	tables *TableRegistry

	scan  *endpoint
	req   *endpoint
	async *endpoint

	// ifNames remembers the last name submitted per index so a reused
	// index with a different name becomes delete-then-add.
	ifNames map[uint32]string
	// brdWarned marks interfaces already warned about a bogus broadcast
	// address, so resyncs correct silently.
	brdWarned map[uint32]bool
	// nhScratch is the grow-on-demand arena for multipath next-hops.
	nhScratch []NextHop
}

// asyncGroups is the multicast subscription of the async endpoint: link,
// address, and route changes for IPv4 and IPv6. MPLS has no notification
// group and is picked up by scans only.
const asyncGroups = nlconst.RTMGRP_LINK |
	nlconst.RTMGRP_IPV4_IFADDR | nlconst.RTMGRP_IPV4_ROUTE |
	nlconst.RTMGRP_IPV6_IFADDR | nlconst.RTMGRP_IPV6_ROUTE

// Dial opens the scan, request, and async endpoints and returns a ready
// Conn.
func Dial(cfg Config) (*Conn, error) {
	if cfg.Interfaces == nil || cfg.Addresses == nil || cfg.Neighbors == nil {
		return nil, errors.New("krt: Config needs Interfaces, Addresses and Neighbors")
	}

	log := newLogger(cfg.Logger)
	scan, err := dialEndpoint(modeScan, withNetNS(nil, cfg.NetNS), log)
	if err != nil {
		return nil, err
	}
	req, err := dialEndpoint(modeRequest, withNetNS(nil, cfg.NetNS), log)
	if err != nil {
		scan.Close()
		return nil, err
	}
	async, err := dialEndpoint(modeAsync, withNetNS(&netlink.Config{Groups: asyncGroups}, cfg.NetNS), log)
	if err != nil {
		scan.Close()
		req.Close()
		return nil, err
	}
	return newConn(cfg, log, scan, req, async), nil
}

// newConn wires a Conn from already-open endpoints sharing log; tests
// hand in fakes.
func newConn(cfg Config, log *logger, scan, req, async *endpoint) *Conn {
	return &Conn{
		cfg:       cfg,
		log:       log,
		tables:    NewTableRegistry(),
		scan:      scan,
		req:       req,
		async:     async,
		ifNames:   make(map[uint32]string),
		brdWarned: make(map[uint32]bool),
	}
}

// Close shuts down all three endpoints.
func (c *Conn) Close() error {
	var first error
	for _, e := range []*endpoint{c.scan, c.req, c.async} {
		if e == nil {
			continue
		}
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RegisterTable binds (family, table) to the protocol instance that will
// receive its routes. Registration must happen before the first scan and
// is exclusive per pair.
func (c *Conn) RegisterTable(family Family, table uint32, owner RouteSink) error {
	return c.tables.Register(family, table, owner)
}

// UnregisterTable releases (family, table) on protocol shutdown.
func (c *Conn) UnregisterTable(family Family, table uint32) {
	c.tables.Unregister(family, table)
}

// Scan enumerates the kernel's interfaces, addresses, and routes, in
// that fixed order, and feeds every record through the decoders.
func (c *Conn) Scan() error {
	if err := c.ScanInterfaces(); err != nil {
		return err
	}
	return c.ScanRoutes()
}

// ScanInterfaces dumps links and then per-family addresses, bracketed by
// an interface-update epoch so the registry can detect removals.
func (c *Conn) ScanInterfaces() error {
	c.cfg.Interfaces.BeginUpdate()

	err := c.dump(nlconst.RTM_GETLINK, ifInfoMsg{Family: nlconst.AF_UNSPEC}.marshal(), func(m netlink.Message) {
		switch m.Header.Type {
		case netlink.HeaderType(nlconst.RTM_NEWLINK), netlink.HeaderType(nlconst.RTM_DELLINK):
			c.parseLink(m, true)
		default:
			c.log.debugSkip("unknown message in link dump", logrus.Fields{"type": m.Header.Type})
		}
	})
	if err != nil {
		return err
	}

	for _, af := range []uint8{nlconst.AF_INET, nlconst.AF_INET6} {
		err := c.dump(nlconst.RTM_GETADDR, ifAddrMsg{Family: af}.marshal(), func(m netlink.Message) {
			switch m.Header.Type {
			case netlink.HeaderType(nlconst.RTM_NEWADDR), netlink.HeaderType(nlconst.RTM_DELADDR):
				c.parseAddr(m, true)
			default:
				c.log.debugSkip("unknown message in address dump", logrus.Fields{"type": m.Header.Type})
			}
		})
		if err != nil {
			return err
		}
	}

	c.cfg.Interfaces.EndUpdate()
	return nil
}

// ScanRoutes dumps the routing tables for IPv4, IPv6, and MPLS in order.
func (c *Conn) ScanRoutes() error {
	for _, af := range []uint8{nlconst.AF_INET, nlconst.AF_INET6, nlconst.AF_MPLS} {
		err := c.dump(nlconst.RTM_GETROUTE, rtMsg{Family: af}.marshal(), func(m netlink.Message) {
			switch m.Header.Type {
			case netlink.HeaderType(nlconst.RTM_NEWROUTE), netlink.HeaderType(nlconst.RTM_DELROUTE):
				c.parseRoute(m, true)
			default:
				c.log.debugSkip("unknown message in route dump", logrus.Fields{"type": m.Header.Type})
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// dump issues one DUMP request on the scan endpoint and streams every
// reply through handle. A kernel ERROR reply ends the dump after a logged
// warning rather than failing the whole scan; transport failures stay fatal.
func (c *Conn) dump(msgType int, payload []byte, handle func(netlink.Message)) error {
	m := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(msgType),
			Flags: netlink.Request | netlink.Dump,
		},
		Data: payload,
	}
	seq, err := c.scan.send(m)
	if err != nil {
		return err
	}
	err = c.scan.dumpIter(seq, func(m netlink.Message) error {
		handle(m)
		return nil
	})
	if err != nil {
		var ack *AckError
		if errors.As(err, &ack) {
			c.log.decodeRejected(warnUnknownTable, "dump terminated by kernel error", logrus.Fields{"errno": ack.Errno})
			return nil
		}
		return err
	}
	return nil
}

// HandleAsync is invoked by the daemon event loop when the async endpoint
// is readable. It reads exactly one datagram, dispatches every message it
// contains, and returns to the loop without blocking further.
func (c *Conn) HandleAsync() error {
	if len(c.async.pending) == 0 {
		msgs, err := c.async.c.Receive()
		if err != nil {
			if errors.Is(err, nlconst.ENOBUFS) {
				// The kernel dropped notifications. Acknowledge and
				// let the caller decide whether to rescan.
				c.log.overrun()
				if c.cfg.Hooks.OnReceiveOverrun != nil {
					c.cfg.Hooks.OnReceiveOverrun()
				}
				return nil
			}
			return fatalf("receive on async endpoint", err)
		}
		c.async.pending = msgs
	}

	for len(c.async.pending) > 0 {
		m := c.async.pending[0]
		c.async.pending = c.async.pending[1:]
		if m.Header.PID != 0 {
			c.log.nonKernelSource(c.async.mode.String(), m.Header.PID)
			continue
		}
		c.asyncMsg(m)
	}
	return nil
}

func (c *Conn) asyncMsg(m netlink.Message) {
	switch int(m.Header.Type) {
	case nlconst.RTM_NEWROUTE, nlconst.RTM_DELROUTE:
		c.parseRoute(m, false)
	case nlconst.RTM_NEWLINK, nlconst.RTM_DELLINK:
		c.parseLink(m, false)
	case nlconst.RTM_NEWADDR, nlconst.RTM_DELADDR:
		c.parseAddr(m, false)
	default:
		c.log.debugSkip("unknown async notification", logrus.Fields{"type": m.Header.Type})
	}
}
