// Package attr implements the compact, size-checked attribute codec this
// core builds on top of github.com/mdlayher/netlink's attribute encoder and
// decoder. mdlayher/netlink already enforces netlink's length/padding
// framing; this package adds a per-message-class descriptor table and
// sparse output vector on top: for every recognized attribute
// code it knows whether the attribute is expected at all, whether its size
// must match exactly, and what that size is (0 meaning variable-length).
package attr

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
)

// ErrMalformed is wrapped by every size-mismatch rejection so callers can
// distinguish "this message is corrupt" from transport-level failures.
var ErrMalformed = errors.New("malformed attribute")

// Desc describes how one attribute code is expected to look.
type Desc struct {
	Defined   bool // recognized at all; unrecognized codes are ignored, not rejected
	CheckSize bool
	Size      int // expected payload size in bytes; 0 with CheckSize means "checked elsewhere"
}

// Table is a dense, fixed-capacity descriptor table indexed by attribute
// code. Attribute codes in this protocol are small integers, so a slice
// indexed directly by code beats a map in both lookup and allocation
// cost.
type Table []Desc

// NewTable builds a Table sized to hold every code up to max (inclusive)
// with the given descriptors applied on top of the zero value (undefined).
func NewTable(max int, set map[int]Desc) Table {
	t := make(Table, max+1)
	for code, d := range set {
		t[code] = d
	}
	return t
}

func (t Table) want(code uint16) (Desc, bool) {
	if int(code) >= len(t) {
		return Desc{}, false
	}
	d := t[code]
	return d, d.Defined
}

// Set is the sparse vector of attributes found during a single Parse,
// indexed by attribute code. A nil entry means the attribute was absent.
type Set struct {
	raw [][]byte
}

func newSet(n int) Set {
	return Set{raw: make([][]byte, n)}
}

// Has reports whether attribute code was present.
func (s Set) Has(code uint16) bool {
	return int(code) < len(s.raw) && s.raw[code] != nil
}

// Bytes returns the raw payload for code, or nil if absent.
func (s Set) Bytes(code uint16) []byte {
	if int(code) >= len(s.raw) {
		return nil
	}
	return s.raw[code]
}

// Uint32 decodes a 4-byte host-byte-order attribute. Callers must have
// checked Has first; it returns 0 for an absent attribute.
func (s Set) Uint32(code uint16) uint32 {
	b := s.Bytes(code)
	if len(b) != 4 {
		return 0
	}
	return nativeEndian.Uint32(b)
}

// Uint16 decodes a 2-byte host-byte-order attribute.
func (s Set) Uint16(code uint16) uint16 {
	b := s.Bytes(code)
	if len(b) != 2 {
		return 0
	}
	return nativeEndian.Uint16(b)
}

// Parse reads every attribute out of ad, validating each recognized code
// against table and producing a sparse Set. Any size mismatch rejects the
// whole message. Unrecognized codes are silently skipped.
// mdlayher's AttributeDecoder already rejects a trailing remnant smaller
// than a full attribute header, and never lets a declared length overrun
// the slice it was built from, so neither needs extra bookkeeping here.
func Parse(table Table, ad *netlink.AttributeDecoder) (Set, error) {
	s := newSet(len(table))
	for ad.Next() {
		code := ad.Type()
		d, ok := table.want(code)
		if !ok {
			continue
		}
		data := ad.Bytes()
		if d.CheckSize && d.Size != 0 && len(data) != d.Size {
			return Set{}, fmt.Errorf("%w: attribute %d: expected %d bytes, got %d", ErrMalformed, code, d.Size, len(data))
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		s.raw[code] = cp
	}
	if err := ad.Err(); err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}

// ParseNested decodes the payload of a nested attribute found in an outer
// Set against its own descriptor table. It reinitializes a fresh decoder
// scoped to exactly the nested payload's length, so no mutable parser
// state is shared across nesting levels.
func ParseNested(table Table, payload []byte) (Set, error) {
	ad, err := netlink.NewAttributeDecoder(payload)
	if err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ad.ByteOrder = nativeEndian
	return Parse(table, ad)
}
