// Package base58 implements the block-wise base58 coding used for account
// addresses: 8-byte blocks encoded to fixed-width digit groups so the
// encoded length is a function of the data length alone, plus the
// tag-and-checksum address envelope.
package base58

import (
	"bytes"
	"strings"

	btcbase58 "github.com/btcsuite/btcutil/base58"
	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/util/varint"
)

const (
	fullBlockSize        = 8
	fullEncodedBlockSize = 11
	addrChecksumSize     = 4
)

// encodedBlockSizes[i] is the digit count for an i-byte trailing block.
var encodedBlockSizes = [fullBlockSize + 1]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

var errInvalidBase58 = errors.New("invalid base58")

func decodedBlockSize(encodedSize int) (int, bool) {
	for decoded, encoded := range encodedBlockSizes {
		if encoded == encodedSize {
			return decoded, true
		}
	}
	return 0, false
}

func encodeBlock(block []byte) string {
	digits := btcbase58.Encode(bytes.TrimLeft(block, "\x00"))
	return strings.Repeat("1", encodedBlockSizes[len(block)]-len(digits)) + digits
}

func decodeBlock(digits string, decodedSize int) ([]byte, error) {
	value := btcbase58.Decode(strings.TrimLeft(digits, "1"))
	if len(value) > 0 && value[0] == 0 {
		// btcbase58 only emits a leading zero for a leading '1', which
		// TrimLeft removed.
		return nil, errors.WithStack(errInvalidBase58)
	}
	if len(value) > decodedSize {
		return nil, errors.Wrap(errInvalidBase58, "block value out of range")
	}
	block := make([]byte, decodedSize)
	copy(block[decodedSize-len(value):], value)
	return block, nil
}

// Encode converts data to its block-wise base58 representation.
func Encode(data []byte) string {
	var sb strings.Builder
	for len(data) >= fullBlockSize {
		sb.WriteString(encodeBlock(data[:fullBlockSize]))
		data = data[fullBlockSize:]
	}
	if len(data) > 0 {
		sb.WriteString(encodeBlock(data))
	}
	return sb.String()
}

// Decode converts a block-wise base58 string back to bytes.
func Decode(encoded string) ([]byte, error) {
	for _, c := range encoded {
		if !strings.ContainsRune("123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz", c) {
			return nil, errors.Wrapf(errInvalidBase58, "character %q", c)
		}
	}
	var out []byte
	for len(encoded) >= fullEncodedBlockSize {
		block, err := decodeBlock(encoded[:fullEncodedBlockSize], fullBlockSize)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		encoded = encoded[fullEncodedBlockSize:]
	}
	if len(encoded) > 0 {
		decodedSize, ok := decodedBlockSize(len(encoded))
		if !ok {
			return nil, errors.Wrapf(errInvalidBase58, "trailing block of %d digits", len(encoded))
		}
		block, err := decodeBlock(encoded, decodedSize)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}

// EncodeAddr wraps data with a varint tag prefix and a 4-byte hash
// checksum, then encodes the whole envelope.
func EncodeAddr(tag uint64, data []byte) string {
	payload := varint.Append(nil, tag)
	payload = append(payload, data...)
	checksum := cncrypto.FastHash(payload)
	payload = append(payload, checksum[:addrChecksumSize]...)
	return Encode(payload)
}

// DecodeAddr unwraps an EncodeAddr envelope, verifying the checksum.
func DecodeAddr(encoded string) (uint64, []byte, error) {
	payload, err := Decode(encoded)
	if err != nil {
		return 0, nil, err
	}
	if len(payload) <= addrChecksumSize {
		return 0, nil, errors.Wrap(errInvalidBase58, "address too short")
	}
	body := payload[:len(payload)-addrChecksumSize]
	checksum := cncrypto.FastHash(body)
	if !bytes.Equal(checksum[:addrChecksumSize], payload[len(body):]) {
		return 0, nil, errors.Wrap(errInvalidBase58, "address checksum mismatch")
	}
	tag, rest, err := readUvarintBytes(body)
	if err != nil {
		return 0, nil, err
	}
	return tag, rest, nil
}

func readUvarintBytes(data []byte) (uint64, []byte, error) {
	r := bytes.NewReader(data)
	tag, err := varint.ReadUvarint(r)
	if err != nil {
		return 0, nil, err
	}
	return tag, data[len(data)-r.Len():], nil
}
