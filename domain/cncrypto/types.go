// Package cncrypto holds the primitive cryptographic types of the coin and
// the pure functions over them that consensus depends on. Ring-signature
// verification and the proof-of-work slow hashes are consumed through the
// RingVerifier and PowHasher interfaces; everything else is implemented
// here.
package cncrypto

import (
	"encoding/hex"

	"github.com/pkg/errors"
)

// HashSize is the byte length of Hash, PublicKey, SecretKey and KeyImage.
const HashSize = 32

// SignatureSize is the byte length of a single ring member signature.
const SignatureSize = 64

// Hash is a 32-byte Keccak digest.
type Hash [HashSize]byte

// PublicKey is a compressed curve point.
type PublicKey [32]byte

// SecretKey is a curve scalar.
type SecretKey [32]byte

// KeyImage is the one-way image of a spending key, the double-spend
// detector.
type KeyImage [32]byte

// KeyDerivation is a shared-secret curve point used to derive one-time
// output keys.
type KeyDerivation [32]byte

// Signature is a (c, r) scalar pair for a single ring member.
type Signature [SignatureSize]byte

// String returns the hash as a hexadecimal string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k KeyImage) String() string {
	return hex.EncodeToString(k[:])
}

// HashFromString parses a 64-character hexadecimal string.
func HashFromString(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, errors.Errorf("hash string length is %d, while it should be %d", len(s), HashSize*2)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.WithStack(err)
	}
	copy(h[:], decoded)
	return h, nil
}

// Less orders hashes lexicographically. Transaction-id tie-breaking in the
// pool depends on this order.
func (h Hash) Less(other Hash) bool {
	for i := 0; i < HashSize; i++ {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// RingVerdict is the outcome of a ring-signature check. A corrupted key is
// a data-integrity signal distinct from an invalid signature, even though
// the block layer rejects both.
type RingVerdict int8

// Ring-signature check outcomes.
const (
	RingGood RingVerdict = iota
	RingBadSignature
	RingKeyCorrupted
)

// RingVerifier checks a ring signature over a transaction prefix hash
// against the candidate output keys and the key image. Implementations are
// pure; the node core treats this as an external collaborator.
type RingVerifier interface {
	CheckRingSignature(prefixHash Hash, keyImage KeyImage, pubs []PublicKey, signatures []Signature) RingVerdict
}

// PowHasher computes the long proof-of-work digests. The variants are pure
// functions of the hashing blob; the block version selects which one a
// block is checked with.
type PowHasher interface {
	CNSlowHash(data []byte) Hash
	CNLiteSlowHashV1(data []byte) Hash
}
