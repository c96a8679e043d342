package chainstate

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
)

// defaultMaxPoolSize bounds the pool's total serialized bytes.
const defaultMaxPoolSize = 2000000

// PoolTransaction is one accepted transaction waiting for a block.
type PoolTransaction struct {
	Transaction core.Transaction
	BinaryTx    []byte
	Fee         core.Amount
	Timestamp   core.Timestamp
}

// FeePerByte is integer fee density; ties are broken by transaction id.
func (pt *PoolTransaction) FeePerByte() core.Amount {
	return pt.Fee / core.Amount(len(pt.BinaryTx))
}

type feeEntry struct {
	feePerByte core.Amount
	txID       cncrypto.Hash
}

func feeEntryLess(a, b feeEntry) bool {
	if a.feePerByte != b.feePerByte {
		return a.feePerByte < b.feePerByte
	}
	return a.txID.Less(b.txID)
}

// feeIndex keeps pool ids sorted ascending by (fee per byte, id). The
// floor entry is the eviction candidate; reverse iteration drives
// template building.
type feeIndex struct {
	entries []feeEntry
}

func (fi *feeIndex) search(entry feeEntry) int {
	return sort.Search(len(fi.entries), func(i int) bool {
		return !feeEntryLess(fi.entries[i], entry)
	})
}

func (fi *feeIndex) insert(entry feeEntry) bool {
	i := fi.search(entry)
	if i < len(fi.entries) && fi.entries[i] == entry {
		return false
	}
	fi.entries = append(fi.entries, feeEntry{})
	copy(fi.entries[i+1:], fi.entries[i:])
	fi.entries[i] = entry
	return true
}

func (fi *feeIndex) remove(entry feeEntry) bool {
	i := fi.search(entry)
	if i == len(fi.entries) || fi.entries[i] != entry {
		return false
	}
	fi.entries = append(fi.entries[:i], fi.entries[i+1:]...)
	return true
}

func (fi *feeIndex) empty() bool {
	return len(fi.entries) == 0
}

func (fi *feeIndex) min() feeEntry {
	return fi.entries[0]
}

// descending returns ids from the highest (fee per byte, id) down; the
// slice is a copy and survives pool mutation.
func (fi *feeIndex) descending() []cncrypto.Hash {
	ids := make([]cncrypto.Hash, 0, len(fi.entries))
	for i := len(fi.entries) - 1; i >= 0; i-- {
		ids = append(ids, fi.entries[i].txID)
	}
	return ids
}

// minimumPoolFeePerByte returns the pool floor: the smallest fee per byte
// and, among its holders, the smallest id.
func (s *ChainState) minimumPoolFeePerByte() (core.Amount, cncrypto.Hash) {
	if s.memoryStateFeeTx.empty() {
		return 0, cncrypto.Hash{}
	}
	floor := s.memoryStateFeeTx.min()
	return floor.feePerByte, floor.txID
}

// AddTransaction offers a transaction to the pool at the current tip.
// The conflict height accompanies OutputAlreadySpent and FailedToRedo
// verdicts so callers can tell reorg-sensitive conflicts from permanent
// ones.
func (s *ChainState) AddTransaction(txID cncrypto.Hash, tx *core.Transaction, binaryTx []byte, now core.Timestamp) (AddTransactionResult, core.Height) {
	return s.addTransaction(txID, tx, binaryTx, s.tipHeight()+1, s.tip.Timestamp, now, true)
}

func (s *ChainState) addTransaction(txID cncrypto.Hash, tx *core.Transaction, binaryTx []byte,
	unlockHeight core.Height, unlockTimestamp core.Timestamp, now core.Timestamp, checkSigs bool) (AddTransactionResult, core.Height) {
	var conflictHeight core.Height
	if _, ok := s.memoryStateTx[txID]; ok {
		return AlreadyInPool, 0
	}
	if len(binaryTx) == 0 {
		return Ban, 0
	}
	mySize := uint64(len(binaryTx))
	myFee, _ := core.GetTransactionFee(&tx.TransactionPrefix)
	myFeePerByte := myFee / mySize
	minimalFee, minimalTxID := s.minimumPoolFeePerByte()
	poolOverflows := s.memoryStateTotalSize+mySize > s.maxPoolSize
	if poolOverflows && myFeePerByte < minimalFee {
		return IncreaseFee, 0
	}
	if poolOverflows && myFeePerByte == minimalFee && txID.Less(minimalTxID) {
		return IncreaseFee, 0
	}
	for _, input := range tx.Inputs {
		in, ok := input.(core.KeyInput)
		if !ok {
			continue
		}
		otherTxID, claimed := s.memoryStateKiTx[in.KeyImage]
		if !claimed {
			continue
		}
		otherFeePerByte := s.memoryStateTx[otherTxID].FeePerByte()
		if myFeePerByte < otherFeePerByte {
			return IncreaseFee, 0
		}
		if myFeePerByte == otherFeePerByte && txID.Less(otherTxID) {
			return IncreaseFee, 0
		}
		// The new transaction can displace the claim holder; the heavy
		// lifting happens after validation.
		break
	}
	for _, input := range tx.Inputs {
		in, ok := input.(core.KeyInput)
		if !ok {
			continue
		}
		if height, spent := s.ReadKeyImage(in.KeyImage); spent {
			conflictHeight = height
			return OutputAlreadySpent, conflictHeight
		}
	}
	fee, err := validateSemantic(false, tx, checkSigs)
	if err != nil {
		log.Warnf("add_transaction validation failed %v in transaction %s", err, txID)
		return Ban, 0
	}
	memoryState := NewDeltaState(unlockHeight, unlockTimestamp, s)
	var globalIndices BlockGlobalIndices
	redoConflictHeight, err := s.redoTransaction(false, tx, memoryState, &globalIndices, checkSigs, nil)
	if err != nil {
		log.Debugf("add_transaction redo failed %v in transaction %s", err, txID)
		// Not a ban: a reorganization can change global indices.
		return FailedToRedo, redoConflictHeight
	}
	if myFee != fee {
		log.Errorf("inconsistent fees %d, %d in transaction %s", myFee, fee, txID)
	}

	for keyImage := range memoryState.KeyImages() {
		otherTxID, claimed := s.memoryStateKiTx[keyImage]
		if !claimed {
			continue
		}
		s.removeFromPool(otherTxID)
	}
	allInserted := true
	for keyImage := range memoryState.KeyImages() {
		if _, ok := s.memoryStateKiTx[keyImage]; ok {
			allInserted = false
		}
		s.memoryStateKiTx[keyImage] = txID
	}
	s.memoryStateTx[txID] = &PoolTransaction{
		Transaction: *tx,
		BinaryTx:    binaryTx,
		Fee:         myFee,
		Timestamp:   now,
	}
	if !s.memoryStateFeeTx.insert(feeEntry{feePerByte: myFeePerByte, txID: txID}) {
		allInserted = false
	}
	if !allInserted {
		panic(errors.Errorf("pool indices desynchronized while inserting %s", txID))
	}
	s.memoryStateTotalSize += mySize
	for s.memoryStateTotalSize > s.maxPoolSize {
		if s.memoryStateFeeTx.empty() {
			panic(errors.New("pool indices desynchronized: size positive, fee index empty"))
		}
		floor := s.memoryStateFeeTx.min()
		minimalTx := s.memoryStateTx[floor.txID]
		// Stop once removing the floor would undershoot the cap by more
		// than the newly admitted transaction's size.
		if s.memoryStateTotalSize+mySize-uint64(len(minimalTx.BinaryTx)) < s.maxPoolSize {
			break
		}
		s.removeFromPool(floor.txID)
	}

	minFeePerByte, _ := s.minimumPoolFeePerByte()
	log.Infof("Added transaction with hash=%s size=%d fee=%d fee/byte=%d pool_size=%d count=%d min fee/byte=%d",
		txID, mySize, myFee, myFeePerByte, s.memoryStateTotalSize, len(s.memoryStateTx), minFeePerByte)

	s.txPoolVersion++
	return BroadcastAll, conflictHeight
}

func (s *ChainState) removeFromPool(txID cncrypto.Hash) {
	poolTx, ok := s.memoryStateTx[txID]
	if !ok {
		return
	}
	allErased := true
	for _, input := range poolTx.Transaction.Inputs {
		in, ok := input.(core.KeyInput)
		if !ok {
			continue
		}
		if _, ok := s.memoryStateKiTx[in.KeyImage]; !ok {
			allErased = false
		}
		delete(s.memoryStateKiTx, in.KeyImage)
	}
	if !s.memoryStateFeeTx.remove(feeEntry{feePerByte: poolTx.FeePerByte(), txID: txID}) {
		allErased = false
	}
	s.memoryStateTotalSize -= uint64(len(poolTx.BinaryTx))
	delete(s.memoryStateTx, txID)
	if !allErased {
		panic(errors.Errorf("pool indices desynchronized while removing %s", txID))
	}
	s.txPoolVersion++
	minFeePerByte, _ := s.minimumPoolFeePerByte()
	log.Infof("Removed transaction with hash=%s pool_size=%d count=%d min fee/byte=%d",
		txID, s.memoryStateTotalSize, len(s.memoryStateTx), minFeePerByte)
}

// OnReorganization rebuilds the pool after a tip switch: every formerly
// pooled transaction and every transaction from the reverted blocks is
// re-offered against the new chain; whatever fails is silently dropped.
func (s *ChainState) OnReorganization(undoneTransactions map[cncrypto.Hash]*PoolTransaction, undoneBlocks bool) {
	if undoneBlocks {
		oldMemoryStateTx := s.memoryStateTx
		s.memoryStateTx = make(map[cncrypto.Hash]*PoolTransaction)
		s.memoryStateKiTx = make(map[cncrypto.KeyImage]cncrypto.Hash)
		s.memoryStateFeeTx = feeIndex{}
		s.memoryStateTotalSize = 0
		for txID, poolTx := range oldMemoryStateTx {
			s.addTransaction(txID, &poolTx.Transaction, poolTx.BinaryTx,
				s.tipHeight()+1, s.tip.Timestamp, poolTx.Timestamp, true)
		}
	}
	for txID, poolTx := range undoneTransactions {
		s.addTransaction(txID, &poolTx.Transaction, poolTx.BinaryTx,
			s.tipHeight()+1, s.tip.Timestamp, poolTx.Timestamp, true)
	}
	s.txPoolVersion++
}

// IsTransactionInPool reports pool membership.
func (s *ChainState) IsTransactionInPool(txID cncrypto.Hash) bool {
	_, ok := s.memoryStateTx[txID]
	return ok
}

// PoolTransactionCount is the number of pooled transactions.
func (s *ChainState) PoolTransactionCount() int {
	return len(s.memoryStateTx)
}

// PoolTotalSize is the pooled serialized bytes.
func (s *ChainState) PoolTotalSize() uint64 {
	return s.memoryStateTotalSize
}

// TxPoolVersion increments on any pool change that could alter template
// output.
func (s *ChainState) TxPoolVersion() uint64 {
	return s.txPoolVersion
}
