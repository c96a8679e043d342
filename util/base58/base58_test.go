package base58

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0},
		{0xff},
		{0, 0, 0, 0, 0, 0, 0, 1},
		{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		bytes.Repeat([]byte{0xab}, 69),
		{1, 2, 3, 4, 5},
	}
	for _, data := range cases {
		encoded := Encode(data)
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(Encode(%x)): %v", data, err)
		}
		if !bytes.Equal(decoded, data) && !(len(decoded) == 0 && len(data) == 0) {
			t.Errorf("round trip of %x gave %x", data, decoded)
		}
	}
}

func TestEncodedLengthIsFixed(t *testing.T) {
	a := Encode(bytes.Repeat([]byte{0}, 8))
	b := Encode(bytes.Repeat([]byte{0xff}, 8))
	if len(a) != len(b) || len(a) != 11 {
		t.Errorf("full block encodings have lengths %d and %d, want 11", len(a), len(b))
	}
}

func TestDecodeRejectsBadCharacters(t *testing.T) {
	if _, err := Decode("0OIl"); err == nil {
		t.Error("accepted ambiguous base58 characters")
	}
}

func TestDecodeRejectsBadLength(t *testing.T) {
	// A trailing group of 4 digits corresponds to no decoded size.
	if _, err := Decode("2222"); err == nil {
		t.Error("accepted trailing block of 4 digits")
	}
}

func TestAddrRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 64)
	encoded := EncodeAddr(0x2756, data)
	tag, decoded, err := DecodeAddr(encoded)
	if err != nil {
		t.Fatalf("DecodeAddr: %v", err)
	}
	if tag != 0x2756 {
		t.Errorf("tag = %#x, want 0x2756", tag)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("body mismatch")
	}
}

func TestAddrChecksum(t *testing.T) {
	encoded := EncodeAddr(1, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	corrupted := []byte(encoded)
	if corrupted[3] != '2' {
		corrupted[3] = '2'
	} else {
		corrupted[3] = '3'
	}
	if _, _, err := DecodeAddr(string(corrupted)); err == nil {
		t.Error("accepted corrupted address")
	}
}
