package krt

import (
	"io"
	"net"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"

	"github.com/vplaned/krt/internal/nlconst"
)

// Wire-level byte literals in these tests assume a little endian host,
// like the kernel headers they mirror.
func skipBigEndian(t *testing.T) {
	t.Helper()
	if nativeEndian.Uint16([]byte{0x01, 0x00}) != 1 {
		t.Skip("test requires a little endian host")
	}
}

// fakeConn is an in-memory conn: Send records requests and lets a respond
// hook enqueue the datagrams Receive will hand back.
type fakeConn struct {
	sent []netlink.Message
	// respond, when set, is called with each sent message (sequence
	// already assigned) and returns the datagrams to queue as replies.
	respond func(m netlink.Message) [][]netlink.Message
	// queue holds one slice of messages per pending datagram.
	queue [][]netlink.Message
	// recvErr, when non-nil, is returned (once) by the next Receive.
	recvErr error
}

func (f *fakeConn) Send(m netlink.Message) (netlink.Message, error) {
	f.sent = append(f.sent, m)
	if f.respond != nil {
		f.queue = append(f.queue, f.respond(m)...)
	}
	return m, nil
}

func (f *fakeConn) Receive() ([]netlink.Message, error) {
	if err := f.recvErr; err != nil {
		f.recvErr = nil
		return nil, err
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	var msgs []netlink.Message
	msgs, f.queue = f.queue[0], f.queue[1:]
	return msgs, nil
}

func (f *fakeConn) Close() error { return nil }

// routeEvent is one async route delivery.
type routeEvent struct {
	Route RouteRecord
	Add   bool
}

// testDaemon fakes the daemon side of every collaborator interface the
// core calls out to.
type testDaemon struct {
	ifaces map[uint32]InterfaceRecord

	updates   []InterfaceRecord
	deletes   []uint32
	begins    int
	ends      int
	partials  []uint32
	addrUps   []AddressRecord
	addrDels  []AddressRecord
	routes    []RouteRecord
	asyncs    []routeEvent
	neighbors map[string]Neighbor
}

func newTestDaemon() *testDaemon {
	return &testDaemon{
		ifaces:    make(map[uint32]InterfaceRecord),
		neighbors: make(map[string]Neighbor),
	}
}

func (d *testDaemon) UpdateInterface(rec InterfaceRecord) {
	d.ifaces[rec.Index] = rec
	d.updates = append(d.updates, rec)
}

func (d *testDaemon) DeleteInterface(index uint32) {
	delete(d.ifaces, index)
	d.deletes = append(d.deletes, index)
}

func (d *testDaemon) BeginUpdate() { d.begins++ }
func (d *testDaemon) EndUpdate()   { d.ends++ }

func (d *testDaemon) EndPartialUpdate(index uint32) {
	d.partials = append(d.partials, index)
}

func (d *testDaemon) ByIndex(index uint32) (InterfaceRecord, bool) {
	rec, ok := d.ifaces[index]
	return rec, ok
}

func (d *testDaemon) UpdateAddress(rec AddressRecord) { d.addrUps = append(d.addrUps, rec) }
func (d *testDaemon) DeleteAddress(rec AddressRecord) { d.addrDels = append(d.addrDels, rec) }

func (d *testDaemon) GotRoute(rec RouteRecord) { d.routes = append(d.routes, rec) }
func (d *testDaemon) GotRouteAsync(rec RouteRecord, add bool) {
	d.asyncs = append(d.asyncs, routeEvent{Route: rec, Add: add})
}

func (d *testDaemon) Find(gw net.IP, iface uint32, onLink bool) (Neighbor, bool) {
	nbr, ok := d.neighbors[gw.String()]
	return nbr, ok
}

// addIface seeds a known interface into the fake registry.
func (d *testDaemon) addIface(index uint32, name string, flags InterfaceFlags) {
	d.ifaces[index] = InterfaceRecord{Name: name, Index: index, MTU: 1500, Flags: flags}
}

// addNeighbor seeds a reachable neighbor for gw.
func (d *testDaemon) addNeighbor(gw string, scope Scope) {
	d.neighbors[gw] = Neighbor{Scope: scope}
}

// quietLogger builds a logger whose output is discarded.
func quietLogger() *logger {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	lg.SetLevel(logrus.PanicLevel)
	return newLogger(lg)
}

// logCapture is a logrus hook recording every emitted entry so tests can
// assert that a discard or rejection actually produced a log line.
type logCapture struct {
	entries []*logrus.Entry
}

func (h *logCapture) Levels() []logrus.Level { return logrus.AllLevels }

func (h *logCapture) Fire(e *logrus.Entry) error {
	h.entries = append(h.entries, e)
	return nil
}

// contains reports whether a captured entry at the given level carries
// msg as its message.
func (h *logCapture) contains(level logrus.Level, msg string) bool {
	for _, e := range h.entries {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

// captureLogger builds a logger that discards its output but records
// every entry, down to debug level, in the returned capture.
func captureLogger() (*logger, *logCapture) {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	lg.SetLevel(logrus.DebugLevel)
	hook := &logCapture{}
	lg.AddHook(hook)
	return newLogger(lg), hook
}

// newTestConn wires a Conn whose endpoints are fakes and whose logging is
// discarded.
func newTestConn(t *testing.T, d *testDaemon) (*Conn, *fakeConn, *fakeConn, *fakeConn) {
	t.Helper()
	log := quietLogger()
	scan, req, async := &fakeConn{}, &fakeConn{}, &fakeConn{}
	c := newConn(Config{
		Interfaces: d,
		Addresses:  d,
		Neighbors:  d,
	}, log, newEndpoint(scan, modeScan, log), newEndpoint(req, modeRequest, log), newEndpoint(async, modeAsync, log))
	return c, scan, req, async
}

// message builders

func encodeAttrs(t *testing.T, fn func(ae *netlink.AttributeEncoder)) []byte {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = nativeEndian
	fn(ae)
	b, err := ae.Encode()
	if err != nil {
		t.Fatalf("encode attributes: %v", err)
	}
	return b
}

func linkMsg(t *testing.T, typ int, fixed ifInfoMsg, fn func(ae *netlink.AttributeEncoder)) netlink.Message {
	t.Helper()
	data := fixed.marshal()
	if fn != nil {
		data = append(data, encodeAttrs(t, fn)...)
	}
	return netlink.Message{Header: netlink.Header{Type: netlink.HeaderType(typ)}, Data: data}
}

func addrMsg(t *testing.T, typ int, fixed ifAddrMsg, fn func(ae *netlink.AttributeEncoder)) netlink.Message {
	t.Helper()
	data := fixed.marshal()
	if fn != nil {
		data = append(data, encodeAttrs(t, fn)...)
	}
	return netlink.Message{Header: netlink.Header{Type: netlink.HeaderType(typ)}, Data: data}
}

func routeMsg(t *testing.T, typ int, fixed rtMsg, fn func(ae *netlink.AttributeEncoder)) netlink.Message {
	t.Helper()
	data := fixed.marshal()
	if fn != nil {
		data = append(data, encodeAttrs(t, fn)...)
	}
	return netlink.Message{Header: netlink.Header{Type: netlink.HeaderType(typ)}, Data: data}
}

// ethLink is the link message most tests start from: eth0, up, broadcast
// capable.
func ethLink(t *testing.T, index uint32, name string) netlink.Message {
	t.Helper()
	return linkMsg(t, nlconst.RTM_NEWLINK,
		ifInfoMsg{Index: index, Flags: nlconst.IFF_UP | nlconst.IFF_BROADCAST | nlconst.IFF_MULTICAST | nlconst.IFF_LOWER_UP},
		func(ae *netlink.AttributeEncoder) {
			ae.Bytes(nlconst.IFLA_IFNAME, append([]byte(name), 0))
			ae.Uint32(nlconst.IFLA_MTU, 1500)
		})
}
