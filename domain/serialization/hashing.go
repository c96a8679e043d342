package serialization

import (
	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/util/varint"
)

// TransactionHash is the id of a full transaction.
func TransactionHash(tx *core.Transaction) cncrypto.Hash {
	return cncrypto.FastHash(SerializeTransaction(tx))
}

// TransactionPrefixHash is the message ring signatures sign.
func TransactionPrefixHash(tx *core.TransactionPrefix) cncrypto.Hash {
	return cncrypto.FastHash(SerializeTransactionPrefix(tx))
}

// TransactionTreeHash computes the merkle root over the coinbase hash
// followed by the header's transaction hashes.
func TransactionTreeHash(bt *core.BlockTemplate) cncrypto.Hash {
	hashes := make([]cncrypto.Hash, 0, len(bt.TransactionHashes)+1)
	hashes = append(hashes, cncrypto.ObjectHash(SerializeTransaction(&bt.BaseTransaction)))
	hashes = append(hashes, bt.TransactionHashes...)
	return cncrypto.TreeHash(hashes)
}

// BlockHashingBlob returns the byte string the block id and (for v1) the
// proof of work are computed over: the header, the transaction tree root
// and the transaction count including the coinbase.
func BlockHashingBlob(bt *core.BlockTemplate) []byte {
	buf := writeBlockHeader(nil, &bt.BlockHeader)
	treeHash := TransactionTreeHash(bt)
	buf = append(buf, treeHash[:]...)
	buf = varint.Append(buf, uint64(len(bt.TransactionHashes))+1)
	return buf
}

// AuxiliaryBlockHeaderHash is the hash merge-mining commits to inside the
// parent block.
func AuxiliaryBlockHeaderHash(bt *core.BlockTemplate) cncrypto.Hash {
	return cncrypto.ObjectHash(BlockHashingBlob(bt))
}

// BlockHash is the block id. For v≥2 the parent block participates so that
// the id commits to the merge-mining wrapper.
func BlockHash(bt *core.BlockTemplate) cncrypto.Hash {
	blob := BlockHashingBlob(bt)
	if bt.MajorVersion >= 2 {
		blob = writeParentBlock(blob, &bt.BlockHeader, &bt.ParentBlock, true)
	}
	return cncrypto.ObjectHash(blob)
}

// BlockLongHashingBlob returns the bytes the slow proof-of-work hash runs
// over; for v≥2 that is the parent-block hashing serialization.
func BlockLongHashingBlob(bt *core.BlockTemplate) []byte {
	if bt.MajorVersion == 1 {
		return BlockHashingBlob(bt)
	}
	return writeParentBlock(nil, &bt.BlockHeader, &bt.ParentBlock, true)
}

// BlockLongHash dispatches the version-selected slow hash over the long
// hashing blob.
func BlockLongHash(bt *core.BlockTemplate, hasher cncrypto.PowHasher) cncrypto.Hash {
	blob := BlockLongHashingBlob(bt)
	if bt.MajorVersion >= 4 {
		return hasher.CNLiteSlowHashV1(blob)
	}
	return hasher.CNSlowHash(blob)
}

// ParentBlockSize returns the serialized size of the merge-mining section,
// which consensus caps.
func ParentBlockSize(bt *core.BlockTemplate) int {
	if bt.MajorVersion < 2 {
		return 0
	}
	return len(writeParentBlock(nil, &bt.BlockHeader, &bt.ParentBlock, false))
}
