package chainstate

import (
	"testing"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/currency"
	"github.com/cryonero/cryonerod/domain/serialization"
	"github.com/cryonero/cryonerod/infrastructure/db"
)

type fakeClock struct {
	now core.Timestamp
}

func (c *fakeClock) NowUnixTimestamp() core.Timestamp {
	return c.now
}

// fakeRingVerifier stands in for the curve backend; tests flip the verdict
// to exercise rejection paths.
type fakeRingVerifier struct {
	verdict cncrypto.RingVerdict
}

func (v *fakeRingVerifier) CheckRingSignature(cncrypto.Hash, cncrypto.KeyImage, []cncrypto.PublicKey, []cncrypto.Signature) cncrypto.RingVerdict {
	return v.verdict
}

type fakePowHasher struct{}

func (fakePowHasher) CNSlowHash([]byte) cncrypto.Hash {
	return cncrypto.Hash{}
}

func (fakePowHasher) CNLiteSlowHashV1([]byte) cncrypto.Hash {
	return cncrypto.Hash{}
}

type testChain struct {
	state    *ChainState
	currency *currency.Currency
	clock    *fakeClock
	verifier *fakeRingVerifier
	miner    core.AccountAddress
}

func newTestChain(t *testing.T, maxPoolSize uint64) *testChain {
	t.Helper()
	cur, err := currency.New(true)
	if err != nil {
		t.Fatalf("currency.New: %v", err)
	}
	database, err := db.Open(t.TempDir(), "blockchain")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	clock := &fakeClock{now: 1000000}
	verifier := &fakeRingVerifier{}
	state, err := New(database, cur, Config{
		Clock:        clock,
		RingVerifier: verifier,
		PowHasher:    fakePowHasher{},
		CheckPow:     false,
		MaxPoolSize:  maxPoolSize,
	})
	if err != nil {
		t.Fatalf("chainstate.New: %v", err)
	}
	spendPub, _ := cncrypto.RandomKeyPair()
	viewPub, _ := cncrypto.RandomKeyPair()
	return &testChain{
		state:    state,
		currency: cur,
		clock:    clock,
		verifier: verifier,
		miner:    core.AccountAddress{SpendPublicKey: spendPub, ViewPublicKey: viewPub},
	}
}

// mineBlock builds a template over the pool and submits it.
func (tc *testChain) mineBlock(t *testing.T) core.HeaderSummary {
	t.Helper()
	tc.clock.now += 10
	template, _, _, err := tc.state.CreateMiningBlockTemplate(tc.miner, []byte{0x01})
	if err != nil {
		t.Fatalf("CreateMiningBlockTemplate: %v", err)
	}
	action, info, err := tc.state.AddMinedBlock(serialization.SerializeBlockTemplate(template))
	if err != nil {
		t.Fatalf("AddMinedBlock at height %d: %v", tc.state.tipHeight()+1, err)
	}
	if action != BroadcastAllBlock {
		t.Fatalf("AddMinedBlock at height %d: action %v", tc.state.tipHeight()+1, action)
	}
	return info
}

func (tc *testChain) mineBlocks(t *testing.T, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		tc.mineBlock(t)
	}
}

func (tc *testChain) genesisOutputAmount() core.Amount {
	return tc.currency.GenesisBlockTemplate.BaseTransaction.Outputs[0].Amount
}

// spendGenesisTx builds a degenerate one-member-ring spend of the genesis
// coinbase output with the given key image and fee.
func (tc *testChain) spendGenesisTx(keyImageByte byte, fee core.Amount) (cncrypto.Hash, *core.Transaction, []byte) {
	var keyImage cncrypto.KeyImage
	keyImage[0] = keyImageByte
	keyImage[1] = 0xa5
	outKey, _ := cncrypto.RandomKeyPair()
	tx := &core.Transaction{
		TransactionPrefix: core.TransactionPrefix{
			Version: 1,
			Inputs: []core.TransactionInput{
				core.KeyInput{Amount: tc.genesisOutputAmount(), OutputIndexes: []uint32{0}, KeyImage: keyImage},
			},
			Outputs: []core.TransactionOutput{
				{Amount: tc.genesisOutputAmount() - fee, Target: core.KeyOutput{Key: outKey}},
			},
		},
		Signatures: [][]cncrypto.Signature{make([]cncrypto.Signature, 1)},
	}
	binaryTx := serialization.SerializeTransaction(tx)
	return serialization.TransactionHash(tx), tx, binaryTx
}

// handcraftBlock assembles an empty block on an arbitrary parent,
// bypassing the template builder so side branches can be grown.
func (tc *testChain) handcraftBlock(t *testing.T, prev core.HeaderSummary, extraNonce []byte) core.RawBlock {
	t.Helper()
	height := prev.Height + 1
	version := tc.currency.GetBlockMajorVersionForHeight(height)
	sizeMedian, timestampMedian := tc.state.calculateConsensusValues(prev)
	effectiveMedian := uint64(tc.currency.BlockGrantedFullRewardZoneByBlockVersion(version))
	if uint64(sizeMedian) > effectiveMedian {
		effectiveMedian = uint64(sizeMedian)
	}
	coinbase, err := tc.currency.ConstructMinerTx(version, height, effectiveMedian,
		prev.AlreadyGeneratedCoins, 0, 0, tc.miner, extraNonce, 11)
	if err != nil {
		t.Fatalf("ConstructMinerTx: %v", err)
	}
	coinbaseSize := uint64(len(serialization.SerializeTransaction(&coinbase)))
	coinbase, err = tc.currency.ConstructMinerTx(version, height, effectiveMedian,
		prev.AlreadyGeneratedCoins, coinbaseSize, 0, tc.miner, extraNonce, 11)
	if err != nil {
		t.Fatalf("ConstructMinerTx: %v", err)
	}
	bt := &core.BlockTemplate{}
	bt.MajorVersion = version
	bt.PreviousBlockHash = prev.Hash
	bt.Timestamp = tc.clock.now
	if timestampMedian > bt.Timestamp {
		bt.Timestamp = timestampMedian
	}
	if version >= 2 {
		bt.ParentBlock.MajorVersion = 1
		bt.ParentBlock.TransactionCount = 1
		bt.ParentBlock.BaseTransaction.Extra = serialization.AppendMergeMiningTagToExtra(nil, serialization.MergeMiningTag{})
	}
	bt.BaseTransaction = coinbase
	return core.RawBlock{Block: serialization.SerializeBlockTemplate(bt)}
}

// dumpConsensusState captures the byte image of the consensus key
// families: key images, amount outputs and per-block index vectors.
func (tc *testChain) dumpConsensusState() map[string]string {
	dump := make(map[string]string)
	for _, prefix := range [][]byte{keyImagePrefix, amountOutputPrefix, blockGlobalIndicesPrefix} {
		cursor := tc.state.db.Begin(prefix)
		for ; !cursor.End(); cursor.Next() {
			dump[string(prefix)+string(cursor.Suffix())] = string(cursor.Value())
		}
		cursor.Close()
	}
	return dump
}

func equalDumps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
