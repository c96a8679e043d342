package cncrypto

import (
	"math/bits"

	"golang.org/x/crypto/sha3"

	"github.com/cryonero/cryonerod/util/varint"
)

// FastHash computes the Keccak-256 digest of data.
func FastHash(data []byte) Hash {
	var h Hash
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	hasher.Sum(h[:0])
	return h
}

// ObjectHash hashes a binary blob the way serialized objects are hashed:
// the blob length as a varint followed by the blob itself.
func ObjectHash(blob []byte) Hash {
	prefixed := varint.Append(make([]byte, 0, varint.MaxLen+len(blob)), uint64(len(blob)))
	prefixed = append(prefixed, blob...)
	return FastHash(prefixed)
}

func hashPair(left, right Hash) Hash {
	var pair [2 * HashSize]byte
	copy(pair[:HashSize], left[:])
	copy(pair[HashSize:], right[:])
	return FastHash(pair[:])
}

// TreeHash computes the transaction tree root over the given leaf hashes.
// The leaf layer is first folded down to the largest power of two not
// exceeding count-1, pairing from the tail, then halved until one hash
// remains.
func TreeHash(hashes []Hash) Hash {
	count := len(hashes)
	switch count {
	case 0:
		return Hash{}
	case 1:
		return hashes[0]
	case 2:
		return hashPair(hashes[0], hashes[1])
	}
	cnt := 1
	for cnt*2 < count {
		cnt *= 2
	}
	ints := make([]Hash, cnt)
	copy(ints, hashes[:2*cnt-count])
	for i, j := 2*cnt-count, 2*cnt-count; j < cnt; i, j = i+2, j+1 {
		ints[j] = hashPair(hashes[i], hashes[i+1])
	}
	for cnt > 2 {
		cnt /= 2
		for i, j := 0, 0; j < cnt; i, j = i+2, j+1 {
			ints[j] = hashPair(ints[i], ints[i+1])
		}
	}
	return hashPair(ints[0], ints[1])
}

// TreeHashFromBranch folds a leaf hash with a merkle branch into the root.
// When path is non-nil its bits choose the pairing side at every level,
// lowest level first.
func TreeHashFromBranch(branch []Hash, leaf Hash, path *Hash) Hash {
	current := leaf
	for depth := len(branch); depth > 0; depth-- {
		leafOnRight := false
		if path != nil {
			leafOnRight = path[(depth-1)>>3]&(1<<(uint(depth-1)&7)) != 0
		}
		if leafOnRight {
			current = hashPair(branch[depth-1], current)
		} else {
			current = hashPair(current, branch[depth-1])
		}
	}
	return current
}

// CoinbaseTreeDepth returns the merkle branch length for a tree with the
// given number of leaves.
func CoinbaseTreeDepth(count int) int {
	depth := 0
	for (1 << (depth + 1)) <= count {
		depth++
	}
	return depth
}

// CheckHash reports whether the given proof-of-work digest meets the
// difficulty: the digest interpreted as a little-endian 256-bit integer
// multiplied by the difficulty must not overflow 2^256.
func CheckHash(h Hash, difficulty uint64) bool {
	var limbs [4]uint64
	for i := 0; i < 4; i++ {
		for j := 7; j >= 0; j-- {
			limbs[i] = limbs[i]<<8 | uint64(h[i*8+j])
		}
	}
	carry := uint64(0)
	for i := 0; i < 4; i++ {
		hi, lo := bits.Mul64(limbs[i], difficulty)
		_, c := bits.Add64(lo, carry, 0)
		carry = hi + c
	}
	return carry == 0
}
