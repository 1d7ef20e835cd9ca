package krt

import (
	"fmt"
	"time"

	"github.com/mdlayher/netlink"

	"github.com/vplaned/krt/internal/nlconst"
)

// endpointMode distinguishes the three control-channel roles a conn can
// play. They share the same send/sequence/reply-iteration
// plumbing and differ only in how a caller drains replies.
type endpointMode int

const (
	modeScan endpointMode = iota
	modeRequest
	modeAsync
)

// conn is the subset of *netlink.Conn this core depends on, broken out so
// tests can substitute a fake transport.
type conn interface {
	Send(m netlink.Message) (netlink.Message, error)
	Receive() ([]netlink.Message, error)
	Close() error
}

var _ conn = (*netlink.Conn)(nil)

// endpoint is one of the scan, request, or async datagram sockets onto the
// routing control channel. Each keeps its own monotonic sequence counter
// and receive buffer.
type endpoint struct {
	c    conn
	mode endpointMode
	log  *logger
	seq  uint32

	// pending holds messages already read off the wire but not yet
	// consumed by the reply iterator; the buffer is drained before the
	// next datagram is read.
	pending []netlink.Message
}

// dialEndpoint opens one endpoint of the given mode. The multicast groups
// to join, if any, come in cfg.Groups; the scan and request endpoints
// join none.
func dialEndpoint(mode endpointMode, cfg *netlink.Config, log *logger) (*endpoint, error) {
	c, err := netlink.Dial(nlconst.NETLINK_ROUTE, cfg)
	if err != nil {
		return nil, fmt.Errorf("krt: dial %v endpoint: %w", mode, err)
	}
	return newEndpoint(c, mode, log), nil
}

// newEndpoint wraps an existing conn, used directly in tests with a fake
// conn and indirectly by dialEndpoint for the real socket.
func newEndpoint(c conn, mode endpointMode, log *logger) *endpoint {
	return &endpoint{
		c:    c,
		mode: mode,
		log:  log,
		// Seed from wall time so a restarted process does not reuse
		// sequence numbers the kernel (or this endpoint, in a prior
		// life) already saw.
		seq: uint32(time.Now().UnixNano()),
	}
}

func (m endpointMode) String() string {
	switch m {
	case modeScan:
		return "scan"
	case modeRequest:
		return "request"
	case modeAsync:
		return "async"
	default:
		return "unknown"
	}
}

func (e *endpoint) Close() error { return e.c.Close() }

// nextSeq increments and returns the endpoint's sequence counter.
func (e *endpoint) nextSeq() uint32 {
	e.seq++
	return e.seq
}

// send transmits m with its sequence set to the next counter value and
// sender id left zero for the kernel to fill. It returns the
// sequence number used so the caller can correlate replies.
func (e *endpoint) send(m netlink.Message) (uint32, error) {
	seq := e.nextSeq()
	m.Header.Sequence = seq
	m.Header.PID = 0
	if _, err := e.c.Send(m); err != nil {
		return 0, fatalf("send on "+e.mode.String()+" endpoint", err)
	}
	return seq, nil
}

// fill reads the next datagram into pending when it is empty.
func (e *endpoint) fill() error {
	if len(e.pending) > 0 {
		return nil
	}
	msgs, err := e.c.Receive()
	if err != nil {
		return fatalf("receive on "+e.mode.String()+" endpoint", err)
	}
	e.pending = msgs
	return nil
}

// next returns the next message addressed to this endpoint's outstanding
// exchange: it discards, with a log line, messages from a non-kernel
// sender and messages whose sequence does not match wantSeq. ok is false
// only once the datagram stream is exhausted without producing a usable
// message in this call; callers loop calling next again to read the
// following datagram.
func (e *endpoint) next(wantSeq uint32) (m netlink.Message, ok bool, err error) {
	if err := e.fill(); err != nil {
		return netlink.Message{}, false, err
	}
	for len(e.pending) > 0 {
		m, e.pending = e.pending[0], e.pending[1:]
		if m.Header.PID != 0 {
			e.log.nonKernelSource(e.mode.String(), m.Header.PID)
			continue
		}
		if wantSeq != 0 && m.Header.Sequence != wantSeq {
			e.log.outOfSequence(e.mode.String(), m.Header.Sequence, wantSeq)
			continue
		}
		return m, true, nil
	}
	return netlink.Message{}, false, nil
}

// dumpIter streams the replies to a dump request, stopping at DONE or
// ERROR. It calls yield for every other
// message in order; a non-nil error return from yield aborts the dump.
func (e *endpoint) dumpIter(seq uint32, yield func(netlink.Message) error) error {
	for {
		m, ok, err := e.next(seq)
		if err != nil {
			return err
		}
		if !ok {
			if err := e.fill(); err != nil {
				return err
			}
			continue
		}
		switch m.Header.Type {
		case netlink.Done:
			return nil
		case netlink.Error:
			if errno := decodeErrno(m.Data); errno != 0 {
				return fmt.Errorf("krt: dump on %v endpoint: %w", e.mode, errnoError(errno))
			}
			return nil
		default:
			if err := yield(m); err != nil {
				return err
			}
		}
	}
}

// requestAck performs a request/ack exchange: it sends m, then reads
// replies until an ERROR message (which for success carries errno 0)
// appears, logging any other reply as unexpected and continuing.
func (e *endpoint) requestAck(m netlink.Message) error {
	seq, err := e.send(m)
	if err != nil {
		return err
	}
	for {
		reply, ok, err := e.next(seq)
		if err != nil {
			return err
		}
		if !ok {
			if err := e.fill(); err != nil {
				return err
			}
			continue
		}
		if reply.Header.Type != netlink.Error {
			e.log.unexpectedReply(e.mode.String(), reply.Header.Type)
			continue
		}
		errno := decodeErrno(reply.Data)
		if errno != 0 {
			return &AckError{Errno: -errno}
		}
		return nil
	}
}

// decodeErrno reads the signed errno out of an ERROR message's payload,
// which begins with a 4-byte native-endian error code (0 means ack).
func decodeErrno(data []byte) int32 {
	if len(data) < 4 {
		return 0
	}
	return int32(nativeEndian.Uint32(data))
}

// AckError is returned by a request/ack exchange when the kernel nacked
// the request with a non-zero errno. A caller that sees one records a
// sync error on the affected route and retries on the next sync pass,
// rather than treating the condition as fatal.
type AckError struct {
	Errno int32 // positive errno value from the kernel's ERROR reply
}

func (e *AckError) Error() string {
	return fmt.Sprintf("krt: kernel rejected request: errno %d", e.Errno)
}

func errnoError(errno int32) error {
	return &AckError{Errno: -errno}
}
