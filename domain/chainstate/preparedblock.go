package chainstate

import (
	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/serialization"
)

// PreparedBlock is a parsed raw block plus the derived values consensus
// checks repeatedly: the block id, the per-transaction hashes and sizes.
type PreparedBlock struct {
	RawBlock        core.RawBlock
	Block           core.Block
	Hash            cncrypto.Hash
	CoinbaseTxSize  uint64
	ParentBlockSize int

	// LongBlockHash caches the slow proof-of-work digest when the relayer
	// already computed it; zero means "not computed yet".
	LongBlockHash cncrypto.Hash
}

// NewPreparedBlock parses every component of a raw block. Parse failures
// are returned as-is; they warrant banning the relaying peer.
func NewPreparedBlock(raw core.RawBlock) (*PreparedBlock, error) {
	pb := &PreparedBlock{RawBlock: raw}
	template, err := serialization.DeserializeBlockTemplate(raw.Block)
	if err != nil {
		return nil, err
	}
	pb.Block.Header = template
	pb.Block.Transactions = make([]core.Transaction, 0, len(raw.Transactions))
	for _, txBlob := range raw.Transactions {
		tx, err := serialization.DeserializeTransaction(txBlob)
		if err != nil {
			return nil, err
		}
		pb.Block.Transactions = append(pb.Block.Transactions, tx)
	}
	pb.Hash = serialization.BlockHash(&template)
	pb.CoinbaseTxSize = uint64(len(serialization.SerializeTransaction(&template.BaseTransaction)))
	pb.ParentBlockSize = serialization.ParentBlockSize(&template)
	return pb, nil
}
