package krt

import (
	"os"
	"path/filepath"

	"github.com/mdlayher/netlink"
)

// NetNS identifies a Linux network namespace to dial the control channel
// into, so a protocol instance can mirror a table that lives outside the
// default namespace.
type NetNS struct {
	file *os.File
}

// OpenNetNS opens the named namespace under /var/run/netns. The returned
// NetNS must be closed after Dial has used it.
func OpenNetNS(name string) (*NetNS, error) {
	file, err := os.Open(filepath.Join("/var/run/netns", name))
	if err != nil {
		return nil, err
	}
	return &NetNS{file: file}, nil
}

// Close releases the namespace file descriptor.
func (n *NetNS) Close() error {
	if n == nil || n.file == nil {
		return nil
	}
	return n.file.Close()
}

// fd returns the namespace's file descriptor for netlink.Config.NetNS,
// which wants an int, not a *NetNS.
func (n *NetNS) fd() int {
	if n == nil || n.file == nil {
		return 0
	}
	return int(n.file.Fd())
}

// withNetNS returns a copy of cfg (or a fresh one if cfg is nil) with its
// NetNS field set from ns, leaving cfg untouched when ns is nil so the
// default (current) namespace is used.
func withNetNS(cfg *netlink.Config, ns *NetNS) *netlink.Config {
	if ns == nil {
		return cfg
	}
	out := netlink.Config{}
	if cfg != nil {
		out = *cfg
	}
	out.NetNS = ns.fd()
	return &out
}
