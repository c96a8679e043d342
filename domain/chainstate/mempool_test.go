package chainstate

import (
	"testing"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
)

func TestAddTransactionIsIdempotent(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	txID, tx, binaryTx := tc.spendGenesisTx(0x01, 1000000)
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatalf("first offer: %v", result)
	}
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != AlreadyInPool {
		t.Fatalf("second offer: %v, want ALREADY_IN_POOL", result)
	}
	if tc.state.PoolTransactionCount() != 1 {
		t.Errorf("pool count = %d", tc.state.PoolTransactionCount())
	}
}

func TestSemanticFailureBans(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	_, tx, binaryTx := tc.spendGenesisTx(0x02, 1000000)
	tx.Outputs[0].Amount = 0
	if result, _ := tc.state.AddTransaction(cncrypto.FastHash([]byte("zero-out")), tx, binaryTx, tc.clock.now); result != Ban {
		t.Fatalf("zero output: %v, want BAN", result)
	}
	_, tx2, binaryTx2 := tc.spendGenesisTx(0x03, 1000000)
	tx2.Outputs[0].Amount = tx2.Inputs[0].(core.KeyInput).Amount + 1
	if result, _ := tc.state.AddTransaction(cncrypto.FastHash([]byte("overspend")), tx2, binaryTx2, tc.clock.now); result != Ban {
		t.Fatalf("overspend: %v, want BAN", result)
	}
}

func TestChainSpentKeyImageRejected(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	txID, tx, binaryTx := tc.spendGenesisTx(0x04, 1000000)
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatalf("AddTransaction: %v", result)
	}
	minedInfo := tc.mineBlock(t)
	if tc.state.PoolTransactionCount() != 0 {
		t.Fatalf("pool not drained after mining")
	}
	// A different transaction claiming the same key image is now a
	// chain-level double spend; the conflict height points at the block.
	otherID, other, otherBinary := tc.spendGenesisTx(0x04, 2000000)
	result, conflictHeight := tc.state.AddTransaction(otherID, other, otherBinary, tc.clock.now)
	if result != OutputAlreadySpent {
		t.Fatalf("double spend: %v, want OUTPUT_ALREADY_SPENT", result)
	}
	if conflictHeight != minedInfo.Height {
		t.Errorf("conflict height = %d, want %d", conflictHeight, minedInfo.Height)
	}
}

// Double spend across the pool: the higher fee-per-byte transaction
// displaces the claim holder; mining then leaves the pool empty.
func TestPoolConflictDisplacement(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	lowID, lowTx, lowBinary := tc.spendGenesisTx(0x05, 1000000)
	highID, highTx, highBinary := tc.spendGenesisTx(0x05, 1000000000)
	if lowTx.Inputs[0].(core.KeyInput).KeyImage != highTx.Inputs[0].(core.KeyInput).KeyImage {
		t.Fatal("test transactions must conflict")
	}
	if result, _ := tc.state.AddTransaction(lowID, lowTx, lowBinary, tc.clock.now); result != BroadcastAll {
		t.Fatalf("low-fee offer: %v", result)
	}
	if result, _ := tc.state.AddTransaction(highID, highTx, highBinary, tc.clock.now); result != BroadcastAll {
		t.Fatalf("high-fee offer: %v", result)
	}
	if tc.state.IsTransactionInPool(lowID) {
		t.Error("displaced transaction still pooled")
	}
	if !tc.state.IsTransactionInPool(highID) {
		t.Fatal("displacing transaction not pooled")
	}
	// Re-offering the loser now loses to the pooled claim holder.
	if result, _ := tc.state.AddTransaction(lowID, lowTx, lowBinary, tc.clock.now); result != IncreaseFee {
		t.Fatalf("re-offer of the loser: %v, want INCREASE_FEE", result)
	}
	tc.mineBlock(t)
	if tc.state.PoolTransactionCount() != 0 {
		t.Errorf("pool count = %d after mining", tc.state.PoolTransactionCount())
	}
	if _, ok := tc.state.ReadKeyImage(highTx.Inputs[0].(core.KeyInput).KeyImage); !ok {
		t.Error("mined key image missing from the chain")
	}
}

// Fee-floor eviction with a 100-byte cap, pinned to the admission
// tie-break order.
func TestFeeFloorEviction(t *testing.T) {
	tc := newTestChain(t, 100)
	tc.mineBlocks(t, 10)

	aID, aTx, _ := tc.spendGenesisTx(0x0a, 600)
	bID, bTx, _ := tc.spendGenesisTx(0x0b, 1200)
	cID, cTx, _ := tc.spendGenesisTx(0x0c, 540)
	blob := func(fill byte) []byte {
		b := make([]byte, 60)
		for i := range b {
			b[i] = fill
		}
		return b
	}

	if result, _ := tc.state.AddTransaction(aID, aTx, blob(1), tc.clock.now); result != BroadcastAll {
		t.Fatalf("tx_a: %v", result)
	}
	if result, _ := tc.state.AddTransaction(bID, bTx, blob(2), tc.clock.now); result != BroadcastAll {
		t.Fatalf("tx_b: %v", result)
	}
	if tc.state.IsTransactionInPool(aID) {
		t.Error("tx_a survived the fee-floor eviction")
	}
	if !tc.state.IsTransactionInPool(bID) {
		t.Fatal("tx_b missing from the pool")
	}
	if tc.state.PoolTotalSize() != 60 {
		t.Errorf("pool size = %d, want 60", tc.state.PoolTotalSize())
	}
	if result, _ := tc.state.AddTransaction(cID, cTx, blob(3), tc.clock.now); result != IncreaseFee {
		t.Fatalf("tx_c: %v, want INCREASE_FEE", result)
	}
}

// The fee index tie-breaks equal densities by ascending id; this order is
// observable through eviction and must not drift.
func TestFeeTieBreakById(t *testing.T) {
	var lowID, highID cncrypto.Hash
	lowID[0] = 1
	highID[0] = 2
	var index feeIndex
	index.insert(feeEntry{feePerByte: 10, txID: highID})
	index.insert(feeEntry{feePerByte: 10, txID: lowID})
	index.insert(feeEntry{feePerByte: 20, txID: highID})
	if index.min() != (feeEntry{feePerByte: 10, txID: lowID}) {
		t.Fatalf("floor = %+v", index.min())
	}
	descending := index.descending()
	if descending[0] != highID || descending[len(descending)-1] != lowID {
		t.Errorf("descending order wrong: %v", descending)
	}
	if !index.remove(feeEntry{feePerByte: 10, txID: lowID}) {
		t.Fatal("remove failed")
	}
	if index.min() != (feeEntry{feePerByte: 10, txID: highID}) {
		t.Errorf("floor after removal = %+v", index.min())
	}
}

func TestBadRingSignatureIsSoftFailure(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	tc.verifier.verdict = cncrypto.RingBadSignature
	txID, tx, binaryTx := tc.spendGenesisTx(0x0d, 1000000)
	// Ledger-level signature failure is FAILED_TO_REDO, not a ban: a
	// reorganization could change the resolved ring members.
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != FailedToRedo {
		t.Fatalf("bad signature: %v, want FAILED_TO_REDO", result)
	}
	tc.verifier.verdict = cncrypto.RingGood
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatalf("good signature: %v", result)
	}
}
