package serialization

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/util/varint"
)

// Tags of the transaction extra field.
const (
	extraTagPadding        = 0x00
	extraTagPublicKey      = 0x01
	extraTagNonce          = 0x02
	extraTagMergeMiningTag = 0x03
	extraNonceMaxCount     = 255
)

// MergeMiningTag commits the parent chain to an auxiliary merkle root.
type MergeMiningTag struct {
	Depth      uint64
	MerkleRoot cncrypto.Hash
}

// AppendTransactionPublicKeyToExtra appends the per-transaction public key
// field.
func AppendTransactionPublicKeyToExtra(extra []byte, key cncrypto.PublicKey) []byte {
	extra = append(extra, extraTagPublicKey)
	return append(extra, key[:]...)
}

// AppendExtraNonceToExtra appends an opaque nonce field; the nonce may be
// at most 255 bytes.
func AppendExtraNonceToExtra(extra []byte, nonce []byte) ([]byte, error) {
	if len(nonce) > extraNonceMaxCount {
		return nil, errors.Errorf("extra nonce is %d bytes, limit is %d", len(nonce), extraNonceMaxCount)
	}
	extra = append(extra, extraTagNonce)
	extra = append(extra, byte(len(nonce)))
	return append(extra, nonce...), nil
}

// AppendMergeMiningTagToExtra appends the merge-mining field.
func AppendMergeMiningTagToExtra(extra []byte, tag MergeMiningTag) []byte {
	body := varint.Append(nil, tag.Depth)
	body = append(body, tag.MerkleRoot[:]...)
	extra = append(extra, extraTagMergeMiningTag)
	extra = varint.Append(extra, uint64(len(body)))
	return append(extra, body...)
}

// GetMergeMiningTagFromExtra scans the extra field for the merge-mining
// tag.
func GetMergeMiningTagFromExtra(extra []byte) (MergeMiningTag, bool) {
	var tag MergeMiningTag
	r := reader{bytes.NewReader(extra)}
	for r.Len() > 0 {
		fieldTag, err := r.ReadByte()
		if err != nil {
			return tag, false
		}
		switch fieldTag {
		case extraTagPadding:
			// Padding runs to the end of extra.
			return tag, false
		case extraTagPublicKey:
			if _, err := r.bytes32(); err != nil {
				return tag, false
			}
		case extraTagNonce:
			size, err := r.ReadByte()
			if err != nil {
				return tag, false
			}
			if _, err := r.Seek(int64(size), 1); err != nil {
				return tag, false
			}
		case extraTagMergeMiningTag:
			if _, err := r.uvarint(); err != nil {
				return tag, false
			}
			depth, err := r.uvarint()
			if err != nil {
				return tag, false
			}
			root, err := r.bytes32()
			if err != nil {
				return tag, false
			}
			tag.Depth = depth
			tag.MerkleRoot = root
			return tag, true
		default:
			return tag, false
		}
	}
	return tag, false
}
