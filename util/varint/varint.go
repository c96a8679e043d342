// Package varint implements the two variable-length integer encodings used
// across the codebase: little-endian base-128 varints for the wire format,
// and SQLite4-style ordered varints for database keys, whose lexicographic
// byte order equals the numeric order of the encoded values.
package varint

import (
	"io"

	"github.com/pkg/errors"
)

// MaxLen is the largest encoded size of a uint64 in either encoding.
const MaxLen = 10

// ErrOverflow is returned when a varint does not fit into a uint64 or is
// not canonically encoded.
var ErrOverflow = errors.New("varint overflows uint64")

// Append appends the base-128 encoding of v to buf and returns the
// extended slice.
func Append(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// ReadUvarint reads a base-128 varint from r.
func ReadUvarint(r io.ByteReader) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift == 63 && b > 1 {
			return 0, errors.WithStack(ErrOverflow)
		}
		if b == 0 && shift != 0 {
			// A trailing zero group is a non-canonical encoding.
			return 0, errors.WithStack(ErrOverflow)
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, errors.WithStack(ErrOverflow)
		}
	}
}

// AppendSqlite4 appends the ordered encoding of v to buf and returns the
// extended slice.
func AppendSqlite4(buf []byte, v uint64) []byte {
	switch {
	case v <= 240:
		return append(buf, byte(v))
	case v <= 2287:
		v -= 240
		return append(buf, byte(v/256+241), byte(v%256))
	case v <= 67823:
		v -= 2288
		return append(buf, 249, byte(v/256), byte(v%256))
	}
	bytesNeeded := 3
	for shifted := v >> 24; shifted != 0; shifted >>= 8 {
		bytesNeeded++
	}
	buf = append(buf, byte(250+bytesNeeded-3))
	for i := bytesNeeded - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(uint(i)*8)))
	}
	return buf
}

// ReadSqlite4 decodes an ordered varint from the front of data and returns
// the value together with the remaining bytes.
func ReadSqlite4(data []byte) (uint64, []byte, error) {
	if len(data) == 0 {
		return 0, nil, errors.WithStack(io.ErrUnexpectedEOF)
	}
	a0 := uint64(data[0])
	switch {
	case a0 <= 240:
		return a0, data[1:], nil
	case a0 <= 248:
		if len(data) < 2 {
			return 0, nil, errors.WithStack(io.ErrUnexpectedEOF)
		}
		return 240 + 256*(a0-241) + uint64(data[1]), data[2:], nil
	case a0 == 249:
		if len(data) < 3 {
			return 0, nil, errors.WithStack(io.ErrUnexpectedEOF)
		}
		return 2288 + 256*uint64(data[1]) + uint64(data[2]), data[3:], nil
	}
	bytesUsed := int(a0-250) + 3
	if len(data) < 1+bytesUsed {
		return 0, nil, errors.WithStack(io.ErrUnexpectedEOF)
	}
	var v uint64
	for _, b := range data[1 : 1+bytesUsed] {
		v = v<<8 | uint64(b)
	}
	return v, data[1+bytesUsed:], nil
}
