package core

import (
	"github.com/cryonero/cryonerod/domain/cncrypto"
)

// BlockHeader is the mined portion of a block. For major versions ≥ 2 the
// timestamp and nonce are carried by the merge-mining parent block instead
// of the header itself.
type BlockHeader struct {
	MajorVersion      uint8
	MinorVersion      uint8
	Nonce             uint32
	Timestamp         Timestamp
	PreviousBlockHash cncrypto.Hash
}

// ParentBlock is the merge-mining wrapper present in blocks of major
// version ≥ 2.
type ParentBlock struct {
	MajorVersion          uint8
	MinorVersion          uint8
	PreviousBlockHash     cncrypto.Hash
	TransactionCount      uint16
	BaseTransactionBranch []cncrypto.Hash
	BaseTransaction       Transaction
	BlockchainBranch      []cncrypto.Hash
}

// BlockTemplate is the full block structure: header, optional parent
// block, coinbase and the ordered transaction hash list.
type BlockTemplate struct {
	BlockHeader
	ParentBlock       ParentBlock
	BaseTransaction   Transaction
	TransactionHashes []cncrypto.Hash
}

// RawBlock is the wire form: the serialized block template plus the
// serialized body of every non-coinbase transaction.
type RawBlock struct {
	Block        []byte
	Transactions [][]byte
}

// Block is a parsed block: the template and the parsed transaction for
// every hash the header lists.
type Block struct {
	Header       BlockTemplate
	Transactions []Transaction
}

// HeaderSummary carries the derived per-block values consensus needs for
// windowed computations. One summary is persisted per committed block.
type HeaderSummary struct {
	MajorVersion              uint8
	MinorVersion              uint8
	Height                    Height
	Hash                      cncrypto.Hash
	PreviousBlockHash         cncrypto.Hash
	Timestamp                 Timestamp
	Nonce                     uint32
	CumulativeDifficulty      CumulativeDifficulty
	Difficulty                Difficulty
	BaseReward                Amount
	Reward                    Amount
	BlockSize                 uint32
	TransactionsCumulativeSize uint32
	AlreadyGeneratedCoins     Amount
	AlreadyGeneratedTransactions uint64
	SizeMedian                uint32
	TimestampMedian           Timestamp
	EffectiveSizeMedian       uint32
	TotalFeeAmount            Amount
}
