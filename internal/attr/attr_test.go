package attr

import (
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// a small descriptor table used throughout: code 1 is a checked u32,
// code 2 is variable-length, code 3 is a checked 4-byte address.
var testTable = NewTable(8, map[int]Desc{
	1: {Defined: true, CheckSize: true, Size: 4},
	2: {Defined: true},
	3: {Defined: true, CheckSize: true, Size: 4},
})

func encode(t *testing.T, fn func(b *Builder)) []byte {
	t.Helper()
	b := NewBuilder()
	fn(b)
	out, err := b.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func TestParseIsDeterministic(t *testing.T) {
	stream := encode(t, func(b *Builder) {
		b.Uint32(1, 0xdeadbeef)
		b.Bytes(2, []byte("opaque"))
		b.IP(3, net.IPv4(192, 0, 2, 1))
	})

	first, err := ParseNested(testTable, stream)
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	second, err := ParseNested(testTable, stream)
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}

	for code := uint16(0); code < 8; code++ {
		if first.Has(code) != second.Has(code) {
			t.Fatalf("presence of code %d differs between parses", code)
		}
		if diff := cmp.Diff(first.Bytes(code), second.Bytes(code)); diff != "" {
			t.Fatalf("payload of code %d differs (-first +second):\n%s", code, diff)
		}
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	stream := encode(t, func(b *Builder) {
		b.Uint32(1, 42)
		b.Bytes(2, []byte{0xca, 0xfe})
	})

	s, err := ParseNested(testTable, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := s.Uint32(1); got != 42 {
		t.Fatalf("code 1 = %d, want 42", got)
	}
	if diff := cmp.Diff([]byte{0xca, 0xfe}, s.Bytes(2)); diff != "" {
		t.Fatalf("code 2 mismatch (-want +got):\n%s", diff)
	}
	if s.Has(3) {
		t.Fatalf("code 3 must be absent")
	}
}

func TestParseSizeMismatchRejectsWholeStream(t *testing.T) {
	stream := encode(t, func(b *Builder) {
		b.Bytes(1, []byte{1, 2, 3}) // declared size 4
		b.Uint32(3, 7)
	})

	_, err := ParseNested(testTable, stream)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseIgnoresUnrecognizedCodes(t *testing.T) {
	stream := encode(t, func(b *Builder) {
		b.Bytes(7, []byte{9, 9, 9}) // undefined in testTable
		b.Bytes(200, []byte{1})     // beyond table capacity
		b.Uint32(1, 5)
	})

	s, err := ParseNested(testTable, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Has(7) {
		t.Fatalf("undefined code must not be recorded")
	}
	if got := s.Uint32(1); got != 5 {
		t.Fatalf("code 1 = %d, want 5", got)
	}
}

func TestParseTrailingRemnantRejected(t *testing.T) {
	stream := encode(t, func(b *Builder) {
		b.Uint32(1, 5)
	})
	// 0 < remnant < one attribute header.
	stream = append(stream, 0xff, 0xff)

	if _, err := ParseNested(testTable, stream); err == nil {
		t.Fatalf("trailing remnant must be rejected")
	}
}

func TestParseOverrunningLengthRejected(t *testing.T) {
	// One attribute whose declared length exceeds the buffer.
	stream := []byte{0x10, 0x00, 0x01, 0x00, 0xaa, 0xbb, 0xcc, 0xdd}

	if _, err := ParseNested(testTable, stream); err == nil {
		t.Fatalf("overrunning attribute length must be rejected")
	}
}

func TestNestedGroupRoundTrip(t *testing.T) {
	stream := encode(t, func(b *Builder) {
		b.Nested(2, func(nb *Builder) {
			nb.Uint32(1, 11)
			nb.Uint32(3, 33)
		})
	})

	outer, err := ParseNested(testTable, stream)
	if err != nil {
		t.Fatalf("outer parse: %v", err)
	}
	inner, err := ParseNested(testTable, outer.Bytes(2))
	if err != nil {
		t.Fatalf("inner parse: %v", err)
	}
	if inner.Uint32(1) != 11 || inner.Uint32(3) != 33 {
		t.Fatalf("nested values = %d %d, want 11 33", inner.Uint32(1), inner.Uint32(3))
	}
}

func TestViaEncoding(t *testing.T) {
	stream := encode(t, func(b *Builder) {
		b.Via(2, net.ParseIP("192.0.2.1"))
	})
	s, err := ParseNested(testTable, stream)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	payload := s.Bytes(2)
	if len(payload) != 6 {
		t.Fatalf("via payload length %d, want 6 (family + IPv4)", len(payload))
	}
	if got := net.IP(payload[2:]); !got.Equal(net.ParseIP("192.0.2.1")) {
		t.Fatalf("via address = %v, want 192.0.2.1", got)
	}
}

func TestMPLSStackRoundTrip(t *testing.T) {
	tests := [][]uint32{
		{100},
		{200, 300},
		{0xfffff, 0, 16},
	}
	for _, labels := range tests {
		wire := EncodeMPLSStack(labels)
		if len(wire) != 4*len(labels) {
			t.Fatalf("stack %v encodes to %d bytes", labels, len(wire))
		}
		// Bottom-of-stack bit only on the last entry.
		for i := 0; i < len(labels); i++ {
			bos := wire[i*4+3]&0x01 != 0
			if bos != (i == len(labels)-1) {
				t.Fatalf("stack %v: bottom-of-stack bit wrong at entry %d", labels, i)
			}
		}
		got, err := DecodeMPLSStack(wire)
		if err != nil {
			t.Fatalf("decode %v: %v", labels, err)
		}
		if diff := cmp.Diff(labels, got); diff != "" {
			t.Fatalf("stack round trip (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeMPLSStackBadLength(t *testing.T) {
	if _, err := DecodeMPLSStack([]byte{1, 2, 3}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for ragged stack")
	}
}

func FuzzParse(f *testing.F) {
	b := NewBuilder()
	b.Uint32(1, 42)
	b.Bytes(2, []byte{1, 2, 3})
	if seed, err := b.Encode(); err == nil {
		f.Add(seed)
	}
	f.Add([]byte{0x10, 0x00, 0x01, 0x00})
	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := ParseNested(testTable, data)
		if err != nil {
			return
		}
		// Whatever parsed once must parse identically again.
		s2, err := ParseNested(testTable, data)
		if err != nil {
			t.Fatalf("second parse failed after first succeeded: %v", err)
		}
		for code := uint16(0); code < 8; code++ {
			if s.Has(code) != s2.Has(code) {
				t.Fatalf("presence of code %d not deterministic", code)
			}
		}
	})
}

func FuzzDecodeMPLSStack(f *testing.F) {
	f.Add(EncodeMPLSStack([]uint32{100, 200}))
	f.Fuzz(func(t *testing.T, data []byte) {
		labels, err := DecodeMPLSStack(data)
		if err != nil {
			return
		}
		for _, l := range labels {
			if l > 0xfffff {
				t.Fatalf("decoded label %d exceeds 20 bits", l)
			}
		}
	})
}
