package krt

import (
	"fmt"

	"github.com/mdlayher/netlink/nlenc"

	"github.com/vplaned/krt/internal/attr"
)

// nativeEndian is the host byte order the kernel uses for every integer
// field in fixed payloads and integer attributes.
var nativeEndian = nlenc.NativeEndian()

// Sizes of the family-specific fixed payloads that follow the message
// envelope.
const (
	sizeofIfInfoMsg = 16
	sizeofIfAddrMsg = 8
	sizeofRtMsg     = 12
	sizeofRtNexthop = 8
)

// checkin validates that a message body is at least large enough for its
// fixed payload and splits it from the trailing attribute area.
// Under-run is a decode failure.
func checkin(body []byte, payloadSize int) (payload, attrs []byte, err error) {
	if len(body) < payloadSize {
		return nil, nil, fmt.Errorf("%w: message underrun by %d bytes", ErrMalformed, payloadSize-len(body))
	}
	return body[:payloadSize], body[payloadSize:], nil
}

// parseAttrs runs the descriptor-table attribute parse over the attribute
// area of a message or nested group.
func parseAttrs(table attr.Table, area []byte) (attr.Set, error) {
	s, err := attr.ParseNested(table, area)
	if err != nil {
		return attr.Set{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}

// ifInfoMsg is the fixed payload of a link message.
type ifInfoMsg struct {
	Family uint8
	Type   uint16
	Index  uint32
	Flags  uint32
	Change uint32
}

func unmarshalIfInfo(b []byte) ifInfoMsg {
	return ifInfoMsg{
		Family: b[0],
		Type:   nativeEndian.Uint16(b[2:4]),
		Index:  nativeEndian.Uint32(b[4:8]),
		Flags:  nativeEndian.Uint32(b[8:12]),
		Change: nativeEndian.Uint32(b[12:16]),
	}
}

func (m ifInfoMsg) marshal() []byte {
	b := make([]byte, sizeofIfInfoMsg)
	b[0] = m.Family
	nativeEndian.PutUint16(b[2:4], m.Type)
	nativeEndian.PutUint32(b[4:8], m.Index)
	nativeEndian.PutUint32(b[8:12], m.Flags)
	nativeEndian.PutUint32(b[12:16], m.Change)
	return b
}

// ifAddrMsg is the fixed payload of an address message.
type ifAddrMsg struct {
	Family    uint8
	PrefixLen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32
}

func unmarshalIfAddr(b []byte) ifAddrMsg {
	return ifAddrMsg{
		Family:    b[0],
		PrefixLen: b[1],
		Flags:     b[2],
		Scope:     b[3],
		Index:     nativeEndian.Uint32(b[4:8]),
	}
}

func (m ifAddrMsg) marshal() []byte {
	b := make([]byte, sizeofIfAddrMsg)
	b[0] = m.Family
	b[1] = m.PrefixLen
	b[2] = m.Flags
	b[3] = m.Scope
	nativeEndian.PutUint32(b[4:8], m.Index)
	return b
}

// rtMsg is the fixed payload of a route message.
type rtMsg struct {
	Family    uint8
	DstLength uint8
	SrcLength uint8
	Tos       uint8
	Table     uint8
	Protocol  uint8
	Scope     uint8
	Type      uint8
	Flags     uint32
}

func unmarshalRtMsg(b []byte) rtMsg {
	return rtMsg{
		Family:    b[0],
		DstLength: b[1],
		SrcLength: b[2],
		Tos:       b[3],
		Table:     b[4],
		Protocol:  b[5],
		Scope:     b[6],
		Type:      b[7],
		Flags:     nativeEndian.Uint32(b[8:12]),
	}
}

func (m rtMsg) marshal() []byte {
	b := make([]byte, sizeofRtMsg)
	b[0] = m.Family
	b[1] = m.DstLength
	b[2] = m.SrcLength
	b[3] = m.Tos
	b[4] = m.Table
	b[5] = m.Protocol
	b[6] = m.Scope
	b[7] = m.Type
	nativeEndian.PutUint32(b[8:12], m.Flags)
	return b
}

// rtNexthop is the fixed record opening one multipath entry.
type rtNexthop struct {
	Length  uint16
	Flags   uint8
	Hops    uint8
	IfIndex uint32
}

func unmarshalRtNexthop(b []byte) rtNexthop {
	return rtNexthop{
		Length:  nativeEndian.Uint16(b[0:2]),
		Flags:   b[2],
		Hops:    b[3],
		IfIndex: nativeEndian.Uint32(b[4:8]),
	}
}

func (m rtNexthop) marshal() []byte {
	b := make([]byte, sizeofRtNexthop)
	nativeEndian.PutUint16(b[0:2], m.Length)
	b[2] = m.Flags
	b[3] = m.Hops
	nativeEndian.PutUint32(b[4:8], m.IfIndex)
	return b
}
