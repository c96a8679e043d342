// Package chainstate is the consensus core of the node: it validates
// candidate blocks, maintains the key-image and amount-output indexes in
// the persistent store, applies and unwinds blocks across reorganizations
// and governs the in-memory transaction pool.
//
// Every mutating entry point runs on the caller's single logical thread;
// the only internal parallelism is the ring-signature worker pool, which is
// joined before a block commits.
package chainstate

import (
	"time"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
)

// OutputRecord is the stored form of one output inside an amount bucket.
// Spent is a wallet-facing hint only and never participates in block
// validation.
type OutputRecord struct {
	UnlockTime core.UnlockMoment
	PublicKey  cncrypto.PublicKey
	Height     core.Height
	Spent      bool
}

// stateReader is the read surface shared by the persistent store and the
// deltas stacked over it.
type stateReader interface {
	ReadKeyImage(keyImage cncrypto.KeyImage) (core.Height, bool)
	ReadAmountOutput(amount core.Amount, globalIndex uint32) (OutputRecord, bool)
	NextGlobalIndexForAmount(amount core.Amount) uint32
}

// stateWriter extends reads with the mutations a block replay performs.
type stateWriter interface {
	stateReader
	StoreKeyImage(keyImage cncrypto.KeyImage, height core.Height)
	DeleteKeyImage(keyImage cncrypto.KeyImage)
	PushAmountOutput(amount core.Amount, unlockTime core.UnlockMoment, height core.Height, publicKey cncrypto.PublicKey) uint32
	PopAmountOutput(amount core.Amount, unlockTime core.UnlockMoment, publicKey cncrypto.PublicKey)
	SpendOutput(amount core.Amount, globalIndex uint32)
}

// Clock supplies wall time; injectable for tests.
type Clock interface {
	NowUnixTimestamp() core.Timestamp
}

type wallClock struct{}

func (wallClock) NowUnixTimestamp() core.Timestamp {
	return core.Timestamp(time.Now().Unix())
}

// WallClock is the production clock.
var WallClock Clock = wallClock{}

// BlockGlobalIndices is the per-transaction vector of global indices one
// block assigned, coinbase first.
type BlockGlobalIndices [][]uint32

// AddTransactionResult is the pool admission verdict.
type AddTransactionResult int

// Pool admission verdicts.
const (
	// BroadcastAll: accepted, relay to peers.
	BroadcastAll AddTransactionResult = iota
	// AlreadyInPool: duplicate offer of a pooled transaction.
	AlreadyInPool
	// IncreaseFee: the fee per byte loses to the pool floor or to a
	// conflicting pooled transaction.
	IncreaseFee
	// OutputAlreadySpent: a key image is already spent on the main chain.
	OutputAlreadySpent
	// FailedToRedo: ledger validation failed; a reorganization may still
	// resolve it, so the sender is not banned.
	FailedToRedo
	// Ban: the transaction is semantically invalid.
	Ban
)

func (r AddTransactionResult) String() string {
	switch r {
	case BroadcastAll:
		return "BROADCAST_ALL"
	case AlreadyInPool:
		return "ALREADY_IN_POOL"
	case IncreaseFee:
		return "INCREASE_FEE"
	case OutputAlreadySpent:
		return "OUTPUT_ALREADY_SPENT"
	case FailedToRedo:
		return "FAILED_TO_REDO"
	case Ban:
		return "BAN"
	}
	return "UNKNOWN"
}

// BroadcastAction is the verdict of AddBlock.
type BroadcastAction int

// Block verdicts.
const (
	// BroadcastAllBlock: the block extended or reorganized the chain.
	BroadcastAllBlock BroadcastAction = iota
	// NothingBlock: valid but not interesting (already known, or on a
	// losing branch).
	NothingBlock
	// BanBlock: consensus rules violated.
	BanBlock
)
