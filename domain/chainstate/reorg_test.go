package chainstate

import (
	"testing"

	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/serialization"
)

// A longer side branch wins: the engine unwinds the old blocks, replays
// the branch and reinjects the orphaned transactions into the pool.
func TestReorganizationSwitchesToHeavierBranch(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 11)

	txID, tx, binaryTx := tc.spendGenesisTx(0x21, 1000000)
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatalf("AddTransaction: %v", result)
	}
	spentImage := tx.Inputs[0].(core.KeyInput).KeyImage
	minedInfo := tc.mineBlock(t) // height 12, contains the spend
	if tc.state.PoolTransactionCount() != 0 {
		t.Fatal("pool not drained by mining")
	}

	branchPointHash, ok := tc.state.MainChainHash(11)
	if !ok {
		t.Fatal("no main chain hash at height 11")
	}
	branchPoint, ok := tc.state.GetHeader(branchPointHash)
	if !ok {
		t.Fatal("no header for the branch point")
	}

	// Grow a competing branch of two empty blocks from height 11.
	tc.clock.now += 10
	sideRaw1 := tc.handcraftBlock(t, branchPoint, []byte{0x51})
	action, sideInfo1, err := tc.state.AddRawBlock(sideRaw1)
	if err != nil || action != NothingBlock {
		t.Fatalf("first branch block: action %v err %v", action, err)
	}
	if tc.state.Tip().Hash != minedInfo.Hash {
		t.Fatal("equal-difficulty branch must not switch the tip")
	}
	tc.clock.now += 10
	sideRaw2 := tc.handcraftBlock(t, sideInfo1, []byte{0x52})
	action, sideInfo2, err := tc.state.AddRawBlock(sideRaw2)
	if err != nil || action != BroadcastAllBlock {
		t.Fatalf("second branch block: action %v err %v", action, err)
	}

	tip := tc.state.Tip()
	if tip.Hash != sideInfo2.Hash || tip.Height != 13 {
		t.Fatalf("tip after reorg = %s at %d", tip.Hash, tip.Height)
	}
	if mainHash, _ := tc.state.MainChainHash(12); mainHash != sideInfo1.Hash {
		t.Error("main chain index not rewritten to the branch")
	}
	if _, ok := tc.state.ReadKeyImage(spentImage); ok {
		t.Error("key image of the unwound spend still on chain")
	}
	if !tc.state.IsTransactionInPool(txID) {
		t.Error("unwound transaction not reinjected into the pool")
	}
	if err := tc.state.CheckOutputIndexes(); err != nil {
		t.Errorf("output index invariant broken after reorg: %v", err)
	}
	// The old branch block is still known, just not on the main chain.
	if _, ok := tc.state.GetHeader(minedInfo.Hash); !ok {
		t.Error("unwound block header forgotten")
	}
}

func TestTemplateAfterReorgStillMines(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 11)
	branchPointHash, _ := tc.state.MainChainHash(10)
	branchPoint, _ := tc.state.GetHeader(branchPointHash)

	tc.clock.now += 10
	side1 := tc.handcraftBlock(t, branchPoint, []byte{0x61})
	if _, info1, err := tc.state.AddRawBlock(side1); err != nil {
		t.Fatalf("side block: %v", err)
	} else {
		tc.clock.now += 10
		side2 := tc.handcraftBlock(t, info1, []byte{0x62})
		if action, _, err := tc.state.AddRawBlock(side2); err != nil || action != BroadcastAllBlock {
			t.Fatalf("branch tip: action %v err %v", action, err)
		}
	}
	// The engine keeps producing valid blocks on the new chain.
	tc.mineBlocks(t, 2)
	if tc.state.Tip().Height != 14 {
		t.Errorf("tip height = %d, want 14", tc.state.Tip().Height)
	}
	if err := tc.state.CheckOutputIndexes(); err != nil {
		t.Errorf("output index invariant broken: %v", err)
	}
}

// The pool version moves on every admission, eviction and block, so the
// miner knows to rebuild its template.
func TestPoolVersionAdvances(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	v0 := tc.state.TxPoolVersion()
	txID, tx, binaryTx := tc.spendGenesisTx(0x31, 1000000)
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatal("AddTransaction failed")
	}
	v1 := tc.state.TxPoolVersion()
	if v1 == v0 {
		t.Error("admission did not bump the pool version")
	}
	tc.mineBlock(t)
	if tc.state.TxPoolVersion() == v1 {
		t.Error("block apply did not bump the pool version")
	}
}

func TestTemplateConvergesWithTransactions(t *testing.T) {
	tc := newTestChain(t, 0)
	tc.mineBlocks(t, 10)
	txID, tx, binaryTx := tc.spendGenesisTx(0x41, 1000000)
	if result, _ := tc.state.AddTransaction(txID, tx, binaryTx, tc.clock.now); result != BroadcastAll {
		t.Fatal("AddTransaction failed")
	}
	template, difficulty, height, err := tc.state.CreateMiningBlockTemplate(tc.miner, []byte{0xaa, 0xbb})
	if err != nil {
		t.Fatalf("CreateMiningBlockTemplate: %v", err)
	}
	if difficulty == 0 || height != tc.state.Tip().Height+1 {
		t.Errorf("difficulty %d height %d", difficulty, height)
	}
	if len(template.TransactionHashes) != 1 || template.TransactionHashes[0] != txID {
		t.Errorf("template does not carry the pooled transaction")
	}
	// The template must survive a serialization round trip bit-exactly;
	// miners hash these bytes.
	blob := serialization.SerializeBlockTemplate(template)
	parsed, err := serialization.DeserializeBlockTemplate(blob)
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if serialization.BlockHash(&parsed) != serialization.BlockHash(template) {
		t.Error("template hash unstable across serialization")
	}
}
