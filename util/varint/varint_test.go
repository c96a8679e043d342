package varint

import (
	"bytes"
	"math"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 0xffffffffffff, math.MaxUint64}
	for _, v := range values {
		encoded := Append(nil, v)
		decoded, err := ReadUvarint(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("ReadUvarint(%d): %v", v, err)
		}
		if decoded != v {
			t.Errorf("round trip of %d gave %d", v, decoded)
		}
	}
}

func TestUvarintOverflow(t *testing.T) {
	encoded := bytes.Repeat([]byte{0xff}, 10)
	if _, err := ReadUvarint(bytes.NewReader(encoded)); err == nil {
		t.Error("expected overflow error")
	}
}

func TestSqlite4RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 239, 240, 241, 2287, 2288, 67823, 67824,
		1 << 24, 1 << 32, 1 << 40, 1 << 48, 1 << 56, math.MaxUint64}
	for _, v := range values {
		encoded := AppendSqlite4(nil, v)
		decoded, rest, err := ReadSqlite4(encoded)
		if err != nil {
			t.Fatalf("ReadSqlite4(%d): %v", v, err)
		}
		if decoded != v {
			t.Errorf("round trip of %d gave %d", v, decoded)
		}
		if len(rest) != 0 {
			t.Errorf("round trip of %d left %d bytes", v, len(rest))
		}
	}
}

// Lexicographic order of the encodings must equal numeric order; database
// cursors depend on it.
func TestSqlite4Ordering(t *testing.T) {
	values := []uint64{0, 1, 100, 240, 241, 2000, 2287, 2288, 50000, 67823,
		67824, 1 << 20, 1 << 24, 1 << 31, 1 << 32, 1 << 47, 1 << 63, math.MaxUint64}
	for i := 1; i < len(values); i++ {
		a := AppendSqlite4(nil, values[i-1])
		b := AppendSqlite4(nil, values[i])
		if bytes.Compare(a, b) >= 0 {
			t.Errorf("encoding of %d does not sort below encoding of %d", values[i-1], values[i])
		}
	}
}

func TestSqlite4Concatenated(t *testing.T) {
	buf := AppendSqlite4(nil, 7)
	buf = AppendSqlite4(buf, 300000)
	first, rest, err := ReadSqlite4(buf)
	if err != nil || first != 7 {
		t.Fatalf("first value: %d, %v", first, err)
	}
	second, rest, err := ReadSqlite4(rest)
	if err != nil || second != 300000 {
		t.Fatalf("second value: %d, %v", second, err)
	}
	if len(rest) != 0 {
		t.Fatalf("%d trailing bytes", len(rest))
	}
}
