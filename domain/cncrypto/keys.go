package cncrypto

import (
	"crypto/rand"

	"filippo.io/edwards25519"
	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/util/varint"
)

// KeyIsValid reports whether the key is a canonical encoding that
// decompresses to a curve point.
func KeyIsValid(key PublicKey) bool {
	// An encoded y at or above the field prime 2^255-19 is rejected here,
	// because SetBytes would silently reduce it.
	if key[0] >= 0xed && key[31]&0x7f == 0x7f {
		nonCanonical := true
		for _, b := range key[1:31] {
			if b != 0xff {
				nonCanonical = false
				break
			}
		}
		if nonCanonical {
			return false
		}
	}
	_, err := new(edwards25519.Point).SetBytes(key[:])
	return err == nil
}

// RandomKeyPair generates a fresh scalar and its public point.
func RandomKeyPair() (PublicKey, SecretKey) {
	var seed [64]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(errors.Wrap(err, "entropy source failed"))
	}
	scalar, err := new(edwards25519.Scalar).SetUniformBytes(seed[:])
	if err != nil {
		panic(errors.WithStack(err))
	}
	var pub PublicKey
	var sec SecretKey
	copy(pub[:], new(edwards25519.Point).ScalarBaseMult(scalar).Bytes())
	copy(sec[:], scalar.Bytes())
	return pub, sec
}

// HashToScalar hashes data and reduces the digest into a scalar.
func HashToScalar(data []byte) SecretKey {
	digest := FastHash(data)
	var wide [64]byte
	copy(wide[:HashSize], digest[:])
	scalar, err := new(edwards25519.Scalar).SetUniformBytes(wide[:])
	if err != nil {
		panic(errors.WithStack(err))
	}
	var out SecretKey
	copy(out[:], scalar.Bytes())
	return out
}

// GenerateKeyDerivation computes the shared-secret point 8·(sec·pub) used
// to derive one-time output keys.
func GenerateKeyDerivation(pub PublicKey, sec SecretKey) (KeyDerivation, bool) {
	var derivation KeyDerivation
	point, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return derivation, false
	}
	scalar, err := new(edwards25519.Scalar).SetCanonicalBytes(sec[:])
	if err != nil {
		return derivation, false
	}
	shared := new(edwards25519.Point).ScalarMult(scalar, point)
	shared.MultByCofactor(shared)
	copy(derivation[:], shared.Bytes())
	return derivation, true
}

// DerivePublicKey derives the one-time output key for the output at the
// given index: Hs(derivation ‖ index)·G + base.
func DerivePublicKey(derivation KeyDerivation, outputIndex int, base PublicKey) (PublicKey, bool) {
	var derived PublicKey
	basePoint, err := new(edwards25519.Point).SetBytes(base[:])
	if err != nil {
		return derived, false
	}
	buf := make([]byte, 0, len(derivation)+varint.MaxLen)
	buf = append(buf, derivation[:]...)
	buf = varint.Append(buf, uint64(outputIndex))
	scalarBytes := HashToScalar(buf)
	scalar, err := new(edwards25519.Scalar).SetCanonicalBytes(scalarBytes[:])
	if err != nil {
		return derived, false
	}
	point := new(edwards25519.Point).ScalarBaseMult(scalar)
	point.Add(point, basePoint)
	copy(derived[:], point.Bytes())
	return derived, true
}
