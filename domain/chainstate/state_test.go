package chainstate

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/cryonero/cryonerod/domain/core"
)

// Genesis bootstrapping: an empty store ends up at height 0 with the
// genesis difficulty and a populated amount bucket for every emitted
// amount.
func TestGenesisBootstrap(t *testing.T) {
	tc := newTestChain(t, 0)
	tip := tc.state.Tip()
	if tip.Height != 0 {
		t.Fatalf("tip height = %d, want 0", tip.Height)
	}
	if tip.CumulativeDifficulty != (core.CumulativeDifficulty{Lo: tip.Difficulty}) {
		t.Errorf("genesis cumulative difficulty %v must equal its difficulty %d",
			tip.CumulativeDifficulty, tip.Difficulty)
	}
	if tip.Hash != tc.currency.GenesisBlockHash {
		t.Errorf("tip is %s, want the genesis hash", tip.Hash)
	}
	for _, out := range tc.currency.GenesisBlockTemplate.BaseTransaction.Outputs {
		if tc.state.NextGlobalIndexForAmount(out.Amount) == 0 {
			t.Errorf("amount %d emitted by genesis has an empty bucket", out.Amount)
		}
	}
	indices, ok := tc.state.ReadBlockOutputGlobalIndices(tip.Hash)
	if !ok || len(indices) != 1 {
		t.Fatalf("genesis index vectors = %v", indices)
	}
	if len(indices[0]) != len(tc.currency.GenesisBlockTemplate.BaseTransaction.Outputs) {
		t.Errorf("genesis coinbase index vector = %v", indices[0])
	}
}

func TestReopenKeepsTip(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 3)
	want := tc.state.Tip()
	if err := tc.state.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	reopened, err := New(tc.state.db, tc.currency, Config{
		Clock:        tc.clock,
		RingVerifier: tc.verifier,
		PowHasher:    fakePowHasher{},
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Tip() != want {
		t.Errorf("reopened tip differs:\n%s", spew.Sdump(reopened.Tip()))
	}
}

func TestMiningExtendsChain(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 5)
	tip := tc.state.Tip()
	if tip.Height != 5 {
		t.Fatalf("tip height = %d, want 5", tip.Height)
	}
	if tip.AlreadyGeneratedTransactions != 6 {
		t.Errorf("generated transactions = %d, want 6", tip.AlreadyGeneratedTransactions)
	}
	if !(core.CumulativeDifficulty{}).Less(tip.CumulativeDifficulty) {
		t.Error("cumulative difficulty did not grow")
	}
	if err := tc.state.CheckOutputIndexes(); err != nil {
		t.Errorf("output index invariant broken: %v", err)
	}
	// Every committed block has its index vectors.
	for height := core.Height(0); height <= 5; height++ {
		blockHash, ok := tc.state.MainChainHash(height)
		if !ok {
			t.Fatalf("no main chain hash at height %d", height)
		}
		if _, ok := tc.state.ReadBlockOutputGlobalIndices(blockHash); !ok {
			t.Errorf("no index vectors for block at height %d", height)
		}
	}
}

// Coinbase maturity: spending the genesis coinbase before the unlock
// window passes is a lock-out, afterwards it is accepted.
func TestCoinbaseMaturity(t *testing.T) {
	tc := newTestChain(t, 0)
	txID, tx, binaryTx := tc.spendGenesisTx(0x01, 1000000)

	result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now)
	if result != FailedToRedo {
		t.Fatalf("immature spend at height 1: %v, want FAILED_TO_REDO", result)
	}

	tc.mineBlocks(t, 7)
	result, _ = tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now)
	if result != FailedToRedo {
		t.Fatalf("immature spend at height 8: %v, want FAILED_TO_REDO", result)
	}

	tc.mineBlocks(t, 3)
	result, _ = tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now)
	if result != BroadcastAll {
		t.Fatalf("mature spend: %v, want BROADCAST_ALL", result)
	}
}

// Apply followed by undo restores the consensus key families
// byte-for-byte; re-apply restores the post-block image.
func TestUndoRedoRestoresState(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	txID, tx, binaryTx := tc.spendGenesisTx(0x07, 1000000)
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatalf("AddTransaction: %v", result)
	}

	before := tc.dumpConsensusState()
	info := tc.mineBlock(t)
	after := tc.dumpConsensusState()
	if equalDumps(before, after) {
		t.Fatal("mining changed nothing")
	}

	block := tc.state.parseStoredBlock(info.Hash)
	tc.state.undoBlock(info.Hash, block, info.Height)
	if !equalDumps(tc.dumpConsensusState(), before) {
		t.Error("undo did not restore the pre-block state")
	}

	if err := tc.state.applyBlock(info.Hash, block, &info); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if !equalDumps(tc.dumpConsensusState(), after) {
		t.Error("re-apply did not restore the post-block state")
	}
	if err := tc.state.CheckOutputIndexes(); err != nil {
		t.Errorf("output index invariant broken: %v", err)
	}
}

// A transparent one-member ring flips the spent hint; the hint comes back
// off when the block is undone.
func TestSpentHintFollowsUndo(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	genesisAmount := tc.genesisOutputAmount()
	txID, tx, binaryTx := tc.spendGenesisTx(0x09, 1000000)
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatalf("AddTransaction: %v", result)
	}
	info := tc.mineBlock(t)

	record, ok := tc.state.ReadAmountOutput(genesisAmount, 0)
	if !ok || !record.Spent {
		t.Fatalf("spent hint not set after a transparent spend: %+v", record)
	}
	var keyImage = tx.Inputs[0].(core.KeyInput).KeyImage
	if height, ok := tc.state.ReadKeyImage(keyImage); !ok || height != info.Height {
		t.Fatalf("key image height = %d, %v; want %d", height, ok, info.Height)
	}

	block := tc.state.parseStoredBlock(info.Hash)
	tc.state.undoBlock(info.Hash, block, info.Height)
	record, ok = tc.state.ReadAmountOutput(genesisAmount, 0)
	if !ok || record.Spent {
		t.Fatalf("spent hint not cleared by undo: %+v", record)
	}
	if _, ok := tc.state.ReadKeyImage(keyImage); ok {
		t.Error("key image survived undo")
	}
	if err := tc.state.applyBlock(info.Hash, block, &info); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
}

func TestGetRandomOutputsSkipsLockedAndSpent(t *testing.T) {
	tc := newTestChain(t, 0)
	genesisAmount := tc.genesisOutputAmount()
	outputs := tc.state.GetRandomOutputs(genesisAmount, 10, tc.state.tipHeight(), tc.clock.now)
	if len(outputs) != 0 {
		t.Fatalf("locked genesis output sampled: %v", outputs)
	}
	tc.mineBlocks(t, 10)
	outputs = tc.state.GetRandomOutputs(genesisAmount, 10, tc.state.tipHeight(), tc.clock.now)
	if len(outputs) != 1 || outputs[0].GlobalIndex != 0 {
		t.Fatalf("expected only the genesis output, got %v", outputs)
	}
	txID, tx, binaryTx := tc.spendGenesisTx(0x0c, 1000000)
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatalf("AddTransaction: %v", result)
	}
	tc.mineBlock(t)
	outputs = tc.state.GetRandomOutputs(genesisAmount, 10, tc.state.tipHeight(), tc.clock.now)
	if len(outputs) != 0 {
		t.Fatalf("spent output still sampled: %v", outputs)
	}
}

func TestRejectedBlockLeavesNoTrace(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 2)
	before := tc.dumpConsensusState()
	prev := tc.state.Tip()
	raw := tc.handcraftBlock(t, prev, []byte{0x77})
	// Corrupt the reward by mining on a stale generated-coins value.
	badPrev := prev
	badPrev.AlreadyGeneratedCoins /= 2
	badRaw := tc.handcraftBlock(t, badPrev, []byte{0x78})
	action, _, err := tc.state.AddRawBlock(badRaw)
	if action != BanBlock || err == nil {
		t.Fatalf("reward-mismatching block: action %v err %v", action, err)
	}
	if !equalDumps(tc.dumpConsensusState(), before) {
		t.Error("rejected block mutated consensus state")
	}
	// The honest sibling still applies.
	action, _, err = tc.state.AddRawBlock(raw)
	if err != nil || action == BanBlock {
		t.Fatalf("honest block: action %v err %v", action, err)
	}
}
