package attr

import (
	"fmt"
	"net"

	"github.com/mdlayher/netlink"

	"github.com/vplaned/krt/internal/nlconst"
)

// Builder appends aligned attributes to a growing message. It is a thin,
// typed façade over netlink.AttributeEncoder: mdlayher/netlink already
// performs the length-prefix, 4-byte alignment, and nested open/close
// bookkeeping; Builder just gives each call site the typed helper it
// needs (u16/u32/IP/via/MPLS stack/nested group) instead of hand-rolled
// byte slices.
type Builder struct {
	ae  *netlink.AttributeEncoder
	err error
}

// NewBuilder returns a Builder ready to append attributes.
func NewBuilder() *Builder {
	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = nativeEndian
	return &Builder{ae: ae}
}

// Encode finalizes the attribute stream.
func (b *Builder) Encode() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.ae.Encode()
}

func (b *Builder) Uint16(code uint16, v uint16) { b.ae.Uint16(code, v) }
func (b *Builder) Uint32(code uint16, v uint32) { b.ae.Uint32(code, v) }
func (b *Builder) Bytes(code uint16, v []byte)  { b.ae.Bytes(code, v) }

// IP appends an IPv4 or IPv6 address attribute, network byte order,
// choosing the 4- or 16-byte wire form from the address's own shape.
func (b *Builder) IP(code uint16, ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		b.ae.Bytes(code, v4)
		return
	}
	b.ae.Bytes(code, ip.To16())
}

// Via appends a family-tagged gateway record (RTA_VIA-style): a u16 family
// followed by the raw address bytes, used for MPLS routes whose gateway
// may be IPv4 or IPv6.
func (b *Builder) Via(code uint16, ip net.IP) {
	var family uint16
	var addr []byte
	if v4 := ip.To4(); v4 != nil {
		family = nlconst.AF_INET
		addr = v4
	} else {
		family = nlconst.AF_INET6
		addr = ip.To16()
	}
	buf := make([]byte, 2+len(addr))
	nativeEndian.PutUint16(buf[0:2], family)
	copy(buf[2:], addr)
	b.ae.Bytes(code, buf)
}

// MPLSStack appends an MPLS label stack: each label occupies the high 20
// bits of a big-endian 32-bit word, with the bottom-of-stack bit set on the
// last entry.
func (b *Builder) MPLSStack(code uint16, labels []uint32) {
	b.ae.Bytes(code, EncodeMPLSStack(labels))
}

// Nested opens a group, lets fn populate it through a child Builder, and
// closes it; mdlayher/netlink rewrites the group's length to the final
// cursor position on Encode.
func (b *Builder) Nested(code uint16, fn func(*Builder)) {
	b.ae.Nested(code, func(nae *netlink.AttributeEncoder) error {
		nae.ByteOrder = nativeEndian
		child := &Builder{ae: nae}
		fn(child)
		return child.err
	})
}

// EncodeMPLSStack packs labels into their 32-bit-per-entry wire form.
func EncodeMPLSStack(labels []uint32) []byte {
	buf := make([]byte, 4*len(labels))
	for i, label := range labels {
		word := (label & 0xfffff) << 12
		if i == len(labels)-1 {
			word |= 1 // bottom-of-stack marker
		}
		// MPLS label stack entries are network byte order on the wire.
		buf[i*4+0] = byte(word >> 24)
		buf[i*4+1] = byte(word >> 16)
		buf[i*4+2] = byte(word >> 8)
		buf[i*4+3] = byte(word)
	}
	return buf
}

// DecodeMPLSStack unpacks a wire-form MPLS label stack. It rejects inputs
// whose length is not a multiple of 4.
func DecodeMPLSStack(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: MPLS stack length %d not a multiple of 4", ErrMalformed, len(b))
	}
	n := len(b) / 4
	labels := make([]uint32, n)
	for i := 0; i < n; i++ {
		word := uint32(b[i*4+0])<<24 | uint32(b[i*4+1])<<16 | uint32(b[i*4+2])<<8 | uint32(b[i*4+3])
		labels[i] = (word >> 12) & 0xfffff
	}
	return labels, nil
}
