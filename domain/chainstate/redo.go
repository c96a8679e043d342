package chainstate

import (
	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/serialization"
)

// ringWork is one deferred ring-signature verification produced while a
// block replays.
type ringWork struct {
	prefixHash cncrypto.Hash
	keyImage   cncrypto.KeyImage
	outputKeys []cncrypto.PublicKey
	signatures []cncrypto.Signature
}

// expandOutputIndexes turns differential output indexes into absolute
// global indices.
func expandOutputIndexes(outputIndexes []uint32) []uint32 {
	globalIndexes := make([]uint32, len(outputIndexes))
	globalIndexes[0] = outputIndexes[0]
	for i := 1; i < len(outputIndexes); i++ {
		globalIndexes[i] = globalIndexes[i-1] + outputIndexes[i]
	}
	return globalIndexes
}

// redoTransaction runs the ledger rules of one transaction against
// deltaState and, on success, folds the transaction's writes into it. The
// writes happen on a nested delta so a failing check discards them
// atomically.
//
// With checkSigs set, ring signatures verify inline. With deferSigs
// non-nil, the resolved rings are appended there for the parallel checker
// instead. The returned conflict height is the largest height among the
// referenced outputs read so far, the spending height on a key-image
// conflict, or MaxBlockHeight for an unknown global index, letting callers
// distinguish reorg-sensitive conflicts from permanent rejects.
func (s *ChainState) redoTransaction(generating bool, tx *core.Transaction, deltaState *DeltaState,
	globalIndices *BlockGlobalIndices, checkSigs bool, deferSigs *[]ringWork) (core.Height, error) {
	var prefixHash cncrypto.Hash
	if checkSigs || deferSigs != nil {
		prefixHash = serialization.TransactionPrefixHash(&tx.TransactionPrefix)
	}
	txDelta := NewDeltaState(deltaState.BlockHeight(), deltaState.UnlockTimestamp(), deltaState)
	*globalIndices = append(*globalIndices, make([]uint32, 0, len(tx.Outputs)))
	myIndices := &(*globalIndices)[len(*globalIndices)-1]

	var conflictHeight core.Height
	for inputIndex, input := range tx.Inputs {
		in, ok := input.(core.KeyInput)
		if !ok {
			continue
		}
		if height, spent := txDelta.ReadKeyImage(in.KeyImage); spent {
			return height, ErrInputKeyimageAlreadySpent
		}
		if len(in.OutputIndexes) == 0 {
			// Never reached: validateSemantic runs first.
			return conflictHeight, ErrInputEmptyOutputUsage
		}
		globalIndexes := expandOutputIndexes(in.OutputIndexes)
		outputKeys := make([]cncrypto.PublicKey, len(globalIndexes))
		for i, globalIndex := range globalIndexes {
			record, ok := txDelta.ReadAmountOutput(in.Amount, globalIndex)
			if !ok {
				return s.currency.MaxBlockHeight, ErrInputInvalidGlobalIndex
			}
			if record.Height > conflictHeight {
				conflictHeight = record.Height
			}
			if !s.currency.IsTransactionSpendTimeUnlocked(record.UnlockTime, deltaState.BlockHeight(), deltaState.UnlockTimestamp()) {
				return conflictHeight, ErrInputSpendLockedOut
			}
			outputKeys[i] = record.PublicKey
		}
		if checkSigs || deferSigs != nil {
			work := ringWork{
				prefixHash: prefixHash,
				keyImage:   in.KeyImage,
				outputKeys: outputKeys,
				signatures: tx.Signatures[inputIndex],
			}
			if deferSigs != nil {
				*deferSigs = append(*deferSigs, work)
			} else {
				switch s.ringVerifier.CheckRingSignature(work.prefixHash, work.keyImage, work.outputKeys, work.signatures) {
				case cncrypto.RingKeyCorrupted:
					return conflictHeight, ErrInputCorruptedSignatures
				case cncrypto.RingBadSignature:
					return conflictHeight, ErrInputInvalidSignatures
				}
			}
		}
		if len(in.OutputIndexes) == 1 {
			// A one-member ring is fully transparent; mark the exact
			// output spent for wallet-facing reads.
			txDelta.SpendOutput(in.Amount, in.OutputIndexes[0])
		}
		txDelta.StoreKeyImage(in.KeyImage, deltaState.BlockHeight())
	}
	for _, output := range tx.Outputs {
		keyOutput, ok := output.Target.(core.KeyOutput)
		if !ok {
			continue
		}
		globalIndex := txDelta.PushAmountOutput(output.Amount, tx.UnlockTime, 0, keyOutput.Key)
		*myIndices = append(*myIndices, globalIndex)
	}
	txDelta.Apply(deltaState)
	return conflictHeight, nil
}

// redoBlock replays the coinbase and every transaction of a block into
// delta, producing the block's global index vectors and the deferred ring
// checks.
func (s *ChainState) redoBlock(block *core.Block, delta *DeltaState, checkSigs bool) (BlockGlobalIndices, []ringWork, error) {
	globalIndices := make(BlockGlobalIndices, 0, len(block.Transactions)+1)
	var work []ringWork
	deferSigs := &work
	if !checkSigs {
		deferSigs = nil
	}
	if _, err := s.redoTransaction(true, &block.Header.BaseTransaction, delta, &globalIndices, false, nil); err != nil {
		return nil, nil, err
	}
	for i := range block.Transactions {
		if _, err := s.redoTransaction(false, &block.Transactions[i], delta, &globalIndices, false, deferSigs); err != nil {
			return nil, nil, err
		}
	}
	return globalIndices, work, nil
}

// applyBlock commits a consensus-checked block to the persistent state:
// replay into a fresh delta, join the parallel signature checks, move the
// delta into the store and persist the index vectors.
func (s *ChainState) applyBlock(blockHash cncrypto.Hash, block *core.Block, info *core.HeaderSummary) error {
	checkSigs := !s.currency.IsInSwCheckpointZone(info.Height + 1)
	delta := NewDeltaState(info.Height, info.Timestamp, s)
	globalIndices, work, err := s.redoBlock(block, delta, checkSigs)
	if err != nil {
		return err
	}
	if checkSigs {
		if err := s.ringChecker.verifyAll(work); err != nil {
			return err
		}
	}
	delta.Apply(s)
	s.txPoolVersion++
	s.storeBlockGlobalIndices(blockHash, globalIndices)
	log.Debugf("redo_block height=%d bid=%s #tx=%d", info.Height, blockHash, len(block.Transactions))
	return nil
}

// undoTransaction unwinds one transaction: outputs pop from their bucket
// tails in reverse, then key images are deleted and transparent spent
// hints flip back.
func (s *ChainState) undoTransaction(tx *core.Transaction) {
	for i := len(tx.Outputs) - 1; i >= 0; i-- {
		if keyOutput, ok := tx.Outputs[i].Target.(core.KeyOutput); ok {
			s.PopAmountOutput(tx.Outputs[i].Amount, tx.UnlockTime, keyOutput.Key)
		}
	}
	for i := len(tx.Inputs) - 1; i >= 0; i-- {
		if in, ok := tx.Inputs[i].(core.KeyInput); ok {
			s.DeleteKeyImage(in.KeyImage)
			if len(in.OutputIndexes) == 1 {
				s.setOutputSpent(in.Amount, in.OutputIndexes[0], false)
			}
		}
	}
}

// undoBlock restores the exact pre-block state: transactions in reverse
// order, then the coinbase, then the block's index vectors are dropped.
func (s *ChainState) undoBlock(blockHash cncrypto.Hash, block *core.Block, height core.Height) {
	log.Infof("undo_block height=%d bid=%s new tip_bid=%s", height, blockHash, block.Header.PreviousBlockHash)
	for i := len(block.Transactions) - 1; i >= 0; i-- {
		s.undoTransaction(&block.Transactions[i])
	}
	s.undoTransaction(&block.Header.BaseTransaction)
	s.deleteBlockGlobalIndices(blockHash)
}

// largestReferencedHeight is the height of the newest output any input of
// the transaction references; used to classify pool conflicts.
func (s *ChainState) largestReferencedHeight(tx *core.TransactionPrefix) (core.Height, bool) {
	largestIndices := make(map[core.Amount]uint32)
	for _, input := range tx.Inputs {
		in, ok := input.(core.KeyInput)
		if !ok {
			continue
		}
		if len(in.OutputIndexes) == 0 {
			return 0, false
		}
		globalIndexes := expandOutputIndexes(in.OutputIndexes)
		largest := globalIndexes[len(globalIndexes)-1]
		if largest > largestIndices[in.Amount] {
			largestIndices[in.Amount] = largest
		}
	}
	var maxHeight core.Height
	for amount, globalIndex := range largestIndices {
		record, ok := s.ReadAmountOutput(amount, globalIndex)
		if !ok {
			return 0, false
		}
		if record.Height > maxHeight {
			maxHeight = record.Height
		}
	}
	return maxHeight, true
}
