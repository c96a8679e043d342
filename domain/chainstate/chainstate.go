package chainstate

import (
	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/currency"
	"github.com/cryonero/cryonerod/domain/serialization"
	"github.com/cryonero/cryonerod/infrastructure/db"
)

// Config wires the external collaborators into the engine.
type Config struct {
	// Clock defaults to the wall clock.
	Clock Clock
	// RingVerifier checks ring signatures; required once the chain leaves
	// the checkpoint zone or transactions enter the pool.
	RingVerifier cncrypto.RingVerifier
	// PowHasher computes the slow hashes; required when CheckPow is set.
	PowHasher cncrypto.PowHasher
	// CheckPow enables proof-of-work verification outside the checkpoint
	// zone.
	CheckPow bool
	// MaxPoolSize caps pooled bytes; zero means the default.
	MaxPoolSize uint64
}

// ErrOrphanBlock reports a block whose parent is unknown; not a rule
// violation.
var ErrOrphanBlock = errors.New("block parent is unknown")

type miningTransaction struct {
	binaryTx []byte
	height   core.Height
}

// ChainState owns the persistent chain indexes and the transaction pool.
// All mutating methods must be called from a single logical thread.
type ChainState struct {
	db       *db.DB
	currency *currency.Currency

	clock        Clock
	ringVerifier cncrypto.RingVerifier
	powHasher    cncrypto.PowHasher
	checkPow     bool
	maxPoolSize  uint64

	tip                 core.HeaderSummary
	nextGiForAmount     map[core.Amount]uint32
	nextMedianSize      uint32
	nextMedianTimestamp core.Timestamp

	memoryStateTx        map[cncrypto.Hash]*PoolTransaction
	memoryStateKiTx      map[cncrypto.KeyImage]cncrypto.Hash
	memoryStateFeeTx     feeIndex
	memoryStateTotalSize uint64
	txPoolVersion        uint64
	miningTransactions   map[cncrypto.Hash]miningTransaction

	ringChecker *ringChecker
}

// New opens the chain state over database, bootstrapping the genesis
// block into an empty store and refusing stores written by an unknown
// format version.
func New(database *db.DB, cur *currency.Currency, config Config) (*ChainState, error) {
	if config.Clock == nil {
		config.Clock = WallClock
	}
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = defaultMaxPoolSize
	}
	s := &ChainState{
		db:                 database,
		currency:           cur,
		clock:              config.Clock,
		ringVerifier:       config.RingVerifier,
		powHasher:          config.PowHasher,
		checkPow:           config.CheckPow,
		maxPoolSize:        config.MaxPoolSize,
		nextGiForAmount:    make(map[core.Amount]uint32),
		memoryStateTx:      make(map[cncrypto.Hash]*PoolTransaction),
		memoryStateKiTx:    make(map[cncrypto.KeyImage]cncrypto.Hash),
		miningTransactions: make(map[cncrypto.Hash]miningTransaction),
		ringChecker:        newRingChecker(config.RingVerifier),
	}
	s.tip.Height = core.HeightMax

	version, ok := s.db.Get(versionKey)
	if !ok {
		s.db.Put(versionKey, []byte(versionCurrent), true)
	} else if string(version) != versionCurrent {
		return nil, errors.Errorf("blockchain database format unknown (version=%s), please delete the data folder", version)
	}

	if tipHash, ok := s.readTipHash(); ok {
		info, ok := s.readHeader(tipHash)
		if !ok {
			panic(errors.Errorf("tip %s has no stored header", tipHash))
		}
		s.tip = info
	}
	if s.tipHeight() == core.HeightMax {
		raw := core.RawBlock{Block: serialization.SerializeBlockTemplate(&cur.GenesisBlockTemplate)}
		pb, err := NewPreparedBlock(raw)
		if err != nil {
			panic(errors.Wrap(err, "genesis block failed to parse"))
		}
		action, _, err := s.AddBlock(pb)
		if err != nil || action == BanBlock {
			panic(errors.Wrapf(err, "genesis block failed to add"))
		}
	}
	s.tipChanged()
	log.Infof("ChainState opened height=%d cumulative_difficulty=%d:%d bid=%s",
		s.tipHeight(), s.tip.CumulativeDifficulty.Hi, s.tip.CumulativeDifficulty.Lo, s.tipHash())
	return s, nil
}

// Commit flushes the accumulated store writes; the caller drives this on
// its own timer.
func (s *ChainState) Commit() error {
	return s.db.Commit()
}

func (s *ChainState) tipHeight() core.Height {
	return s.tip.Height
}

func (s *ChainState) tipHash() cncrypto.Hash {
	return s.tip.Hash
}

// Tip returns the current chain head summary.
func (s *ChainState) Tip() core.HeaderSummary {
	return s.tip
}

// GetHeader returns the stored summary of any known block.
func (s *ChainState) GetHeader(blockHash cncrypto.Hash) (core.HeaderSummary, bool) {
	return s.readHeader(blockHash)
}

// NextEffectiveMedianSize is the effective size median the next block
// will be validated against.
func (s *ChainState) NextEffectiveMedianSize() uint32 {
	nextVersion := s.currency.GetBlockMajorVersionForHeight(s.tipHeight() + 1)
	rewardZone := s.currency.BlockGrantedFullRewardZoneByBlockVersion(nextVersion)
	if rewardZone > s.nextMedianSize {
		return rewardZone
	}
	return s.nextMedianSize
}

// AddRawBlock parses and adds a block; parse failures are ban-worthy.
func (s *ChainState) AddRawBlock(raw core.RawBlock) (BroadcastAction, core.HeaderSummary, error) {
	pb, err := NewPreparedBlock(raw)
	if err != nil {
		return BanBlock, core.HeaderSummary{}, err
	}
	return s.AddBlock(pb)
}

// AddBlock validates a prepared block against its parent and, when it
// creates a heavier chain, applies it — reorganizing first when the parent
// is not the current tip.
func (s *ChainState) AddBlock(pb *PreparedBlock) (BroadcastAction, core.HeaderSummary, error) {
	if info, ok := s.readHeader(pb.Hash); ok {
		return NothingBlock, info, nil
	}
	var prevInfo core.HeaderSummary
	prevInfo.Height = core.HeightMax
	if pb.Block.Header.PreviousBlockHash != (cncrypto.Hash{}) || s.tipHeight() != core.HeightMax {
		var ok bool
		prevInfo, ok = s.readHeader(pb.Block.Header.PreviousBlockHash)
		if !ok {
			return NothingBlock, core.HeaderSummary{}, ErrOrphanBlock
		}
	}
	info, err := s.checkStandaloneConsensus(pb, prevInfo, s.checkPow)
	if err != nil {
		return BanBlock, info, err
	}
	s.storeHeader(&info)
	s.storeRawBlock(pb.Hash, &pb.RawBlock)

	if s.tipHeight() != core.HeightMax && !s.tip.CumulativeDifficulty.Less(info.CumulativeDifficulty) {
		// Valid but on a losing branch; remembered for a future switch.
		return NothingBlock, info, nil
	}

	if prevInfo.Hash == s.tipHash() {
		if err := s.applyBlock(pb.Hash, &pb.Block, &info); err != nil {
			s.dropStoredBlock(pb.Hash)
			return BanBlock, info, err
		}
		s.advanceTip(info)
		return BroadcastAllBlock, info, nil
	}

	if err := s.reorganizeTo(info); err != nil {
		return BanBlock, info, err
	}
	return BroadcastAllBlock, info, nil
}

func (s *ChainState) dropStoredBlock(blockHash cncrypto.Hash) {
	s.db.Del(headerKey(blockHash), true)
	s.db.Del(rawBlockKey(blockHash), true)
}

func (s *ChainState) advanceTip(info core.HeaderSummary) {
	s.tip = info
	s.storeTip(info.Hash)
	s.storeMainChainHash(info.Height, info.Hash)
	s.tipChanged()
}

func (s *ChainState) parseStoredBlock(blockHash cncrypto.Hash) *core.Block {
	raw, ok := s.readRawBlock(blockHash)
	if !ok {
		panic(errors.Errorf("main chain block %s has no stored body", blockHash))
	}
	pb, err := NewPreparedBlock(raw)
	if err != nil {
		panic(errors.Wrapf(err, "stored block %s no longer parses", blockHash))
	}
	return &pb.Block
}

// reorganizeTo unwinds the main chain to the fork point below newTip,
// replays the new branch and rebuilds the pool. If a new-branch block
// fails ledger validation the old chain is restored and the block is
// rejected.
func (s *ChainState) reorganizeTo(newTip core.HeaderSummary) error {
	// Collect the new branch down to the fork point.
	var newBranch []core.HeaderSummary
	info := newTip
	for {
		mainHash, onMain := s.MainChainHash(info.Height)
		if onMain && mainHash == info.Hash {
			break
		}
		newBranch = append(newBranch, info)
		if info.Height == 0 {
			break
		}
		parent, ok := s.readHeader(info.PreviousBlockHash)
		if !ok {
			panic(errors.Errorf("branch block %s has no stored parent header", info.Hash))
		}
		info = parent
	}
	forkHeight := newTip.Height - core.Height(len(newBranch))
	log.Infof("reorganize to bid=%s height=%d fork_height=%d", newTip.Hash, newTip.Height, forkHeight)

	// Unwind the main chain above the fork, remembering its transactions.
	undoneTransactions := make(map[cncrypto.Hash]*PoolTransaction)
	var undoneBlocks []core.HeaderSummary
	for height := s.tipHeight(); height != forkHeight; height-- {
		blockHash, ok := s.MainChainHash(height)
		if !ok {
			panic(errors.Errorf("no main chain hash at height %d", height))
		}
		blockInfo, ok := s.readHeader(blockHash)
		if !ok {
			panic(errors.Errorf("main chain block %s has no header", blockHash))
		}
		block := s.parseStoredBlock(blockHash)
		s.undoBlock(blockHash, block, height)
		s.deleteMainChainHash(height)
		undoneBlocks = append(undoneBlocks, blockInfo)
		raw, _ := s.readRawBlock(blockHash)
		for i := range block.Transactions {
			tx := block.Transactions[i]
			txID := block.Header.TransactionHashes[i]
			fee, _ := core.GetTransactionFee(&tx.TransactionPrefix)
			undoneTransactions[txID] = &PoolTransaction{
				Transaction: tx,
				BinaryTx:    raw.Transactions[i],
				Fee:         fee,
				Timestamp:   blockInfo.Timestamp,
			}
		}
	}
	forkHash, ok := s.MainChainHash(forkHeight)
	if !ok {
		panic(errors.Errorf("no main chain hash at fork height %d", forkHeight))
	}
	forkInfo, ok := s.readHeader(forkHash)
	if !ok {
		panic(errors.Errorf("fork block %s has no header", forkHash))
	}
	s.tip = forkInfo
	s.storeTip(forkInfo.Hash)
	s.tipChanged()

	// Replay the new branch, newest collected first.
	for i := len(newBranch) - 1; i >= 0; i-- {
		branchInfo := newBranch[i]
		block := s.parseStoredBlock(branchInfo.Hash)
		if err := s.applyBlock(branchInfo.Hash, block, &branchInfo); err != nil {
			log.Warnf("reorganize failed at bid=%s: %v; restoring previous chain", branchInfo.Hash, err)
			for j := i + 1; j < len(newBranch); j++ {
				appliedInfo := newBranch[j]
				s.undoBlock(appliedInfo.Hash, s.parseStoredBlock(appliedInfo.Hash), appliedInfo.Height)
				s.deleteMainChainHash(appliedInfo.Height)
			}
			s.dropStoredBlock(branchInfo.Hash)
			s.tip = forkInfo
			s.storeTip(forkInfo.Hash)
			s.tipChanged()
			for j := len(undoneBlocks) - 1; j >= 0; j-- {
				restored := undoneBlocks[j]
				if err := s.applyBlock(restored.Hash, s.parseStoredBlock(restored.Hash), &restored); err != nil {
					panic(errors.Wrapf(err, "failed to restore previously valid block %s", restored.Hash))
				}
				s.advanceTip(restored)
			}
			s.OnReorganization(nil, true)
			return err
		}
		s.advanceTip(branchInfo)
	}
	s.OnReorganization(undoneTransactions, true)
	return nil
}
