package chainstate

import (
	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/serialization"
)

// templateTriesCount bounds the coinbase size fixed-point iteration.
const templateTriesCount = 10

// miningTransactionLivetime is how many blocks a transaction handed out in
// a template stays resolvable for AddMinedBlock after leaving the pool.
const miningTransactionLivetime = 3

// CreateMiningBlockTemplate assembles a mineable block paying the given
// address: pool transactions are packed by descending fee per byte under
// the block-size policy, then the coinbase is rebuilt until its size
// reaches a fixed point.
func (s *ChainState) CreateMiningBlockTemplate(minerAddress core.AccountAddress, extraNonce []byte) (*core.BlockTemplate, core.Difficulty, core.Height, error) {
	s.clearMiningTransactions()
	height := s.tipHeight() + 1
	b := &core.BlockTemplate{}
	b.MajorVersion = s.currency.GetBlockMajorVersionForHeight(height)

	timestamps, difficulties := s.difficultyWindow(s.tip)
	difficulty := s.currency.NextDifficulty(height, timestamps, difficulties)
	if difficulty == 0 {
		return nil, 0, 0, errors.New("difficulty overhead in create_mining_block_template")
	}

	if b.MajorVersion == 1 {
		b.MinorVersion = 1
		if s.currency.UpgradeHeightV2 != core.HeightMax {
			b.MinorVersion = 0
		}
	} else {
		b.MinorVersion = 0
		if b.MajorVersion == 2 && s.currency.UpgradeHeightV3 == core.HeightMax {
			b.MinorVersion = 1
		}
		b.ParentBlock.MajorVersion = 1
		b.ParentBlock.MinorVersion = 0
		b.ParentBlock.TransactionCount = 1
		b.ParentBlock.BaseTransaction.Extra = serialization.AppendMergeMiningTagToExtra(nil, serialization.MergeMiningTag{})
	}

	b.PreviousBlockHash = s.tipHash()
	b.Timestamp = s.clock.NowUnixTimestamp()
	if s.nextMedianTimestamp > b.Timestamp {
		b.Timestamp = s.nextMedianTimestamp
	}

	rewardZone := s.currency.BlockGrantedFullRewardZoneByBlockVersion(b.MajorVersion)
	effectiveSizeMedian := uint64(s.nextMedianSize)
	if uint64(rewardZone) > effectiveSizeMedian {
		effectiveSizeMedian = uint64(rewardZone)
	}
	alreadyGeneratedCoins := s.tip.AlreadyGeneratedCoins

	maxTotalSize := 125 * effectiveSizeMedian / 100
	if maxCumulative := uint64(s.currency.MaxBlockCumulativeSize(height)); maxTotalSize > maxCumulative {
		maxTotalSize = maxCumulative
	}
	maxTotalSize -= uint64(s.currency.MinerTxBlobReservedSize)

	var txsSize uint64
	var fee core.Amount
	memoryState := NewDeltaState(height, b.Timestamp, s)
	for _, txID := range s.memoryStateFeeTx.descending() {
		poolTx, ok := s.memoryStateTx[txID]
		if !ok {
			panic(errors.Errorf("transaction %s is in pool index, but not in pool", txID))
		}
		txSize := uint64(len(poolTx.BinaryTx))
		if txsSize+txSize > maxTotalSize {
			continue
		}
		var globalIndices BlockGlobalIndices
		if _, err := s.redoTransaction(false, &poolTx.Transaction, memoryState, &globalIndices, true, nil); err != nil {
			log.Errorf("Transaction %s is in pool, but could not be redone result=%v", txID, err)
			continue
		}
		txsSize += txSize
		fee += poolTx.Fee
		b.TransactionHashes = append(b.TransactionHashes, txID)
		s.miningTransactions[txID] = miningTransaction{binaryTx: poolTx.BinaryTx, height: height}
		log.Debugf("Transaction %s included to block template", txID)
	}

	coinbase, err := s.currency.ConstructMinerTx(b.MajorVersion, height, effectiveSizeMedian,
		alreadyGeneratedCoins, txsSize, fee, minerAddress, extraNonce, 11)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "failed to construct miner tx, first chance")
	}
	cumulativeSize := txsSize + uint64(len(serialization.SerializeTransaction(&coinbase)))
	for tryCount := 0; tryCount < templateTriesCount; tryCount++ {
		coinbase, err = s.currency.ConstructMinerTx(b.MajorVersion, height, effectiveSizeMedian,
			alreadyGeneratedCoins, cumulativeSize, fee, minerAddress, extraNonce, 11)
		if err != nil {
			return nil, 0, 0, errors.Wrap(err, "failed to construct miner tx, second chance")
		}
		coinbaseBlobSize := uint64(len(serialization.SerializeTransaction(&coinbase)))
		if coinbaseBlobSize > cumulativeSize-txsSize {
			cumulativeSize = txsSize + coinbaseBlobSize
			continue
		}
		if coinbaseBlobSize < cumulativeSize-txsSize {
			delta := cumulativeSize - txsSize - coinbaseBlobSize
			coinbase.Extra = append(coinbase.Extra, make([]byte, delta)...)
			// The varint length prefix of extra can grow by one byte and
			// overshoot; shrinking by one settles it, otherwise retry
			// with the adjusted target.
			if cumulativeSize != txsSize+uint64(len(serialization.SerializeTransaction(&coinbase))) {
				if cumulativeSize+1 != txsSize+uint64(len(serialization.SerializeTransaction(&coinbase))) {
					return nil, 0, 0, errors.Errorf("unexpected coinbase size after padding with %d bytes", delta)
				}
				coinbase.Extra = coinbase.Extra[:len(coinbase.Extra)-1]
				if cumulativeSize != txsSize+uint64(len(serialization.SerializeTransaction(&coinbase))) {
					cumulativeSize += delta - 1
					continue
				}
			}
		}
		if cumulativeSize != txsSize+uint64(len(serialization.SerializeTransaction(&coinbase))) {
			return nil, 0, 0, errors.Errorf("cumulative size %d did not converge", cumulativeSize)
		}
		b.BaseTransaction = coinbase
		return b, difficulty, height, nil
	}
	return nil, 0, 0, errors.Errorf("failed to create block template within %d tries", templateTriesCount)
}

// AddMinedBlock reassembles a just-mined block template into a raw block,
// resolving its transaction hashes through the pool and the recent
// template memory, and submits it.
func (s *ChainState) AddMinedBlock(rawBlockTemplate []byte) (BroadcastAction, core.HeaderSummary, error) {
	template, err := serialization.DeserializeBlockTemplate(rawBlockTemplate)
	if err != nil {
		return BanBlock, core.HeaderSummary{}, err
	}
	raw := core.RawBlock{Block: rawBlockTemplate}
	raw.Transactions = make([][]byte, 0, len(template.TransactionHashes))
	for _, txHash := range template.TransactionHashes {
		if poolTx, ok := s.memoryStateTx[txHash]; ok {
			raw.Transactions = append(raw.Transactions, poolTx.BinaryTx)
			continue
		}
		if mined, ok := s.miningTransactions[txHash]; ok {
			raw.Transactions = append(raw.Transactions, mined.binaryTx)
			continue
		}
		log.Warnf("The transaction %s is absent in transaction pool on submit mined block", txHash)
		return NothingBlock, core.HeaderSummary{}, nil
	}
	return s.AddRawBlock(raw)
}

// ReadTemplateTransaction resolves a transaction remembered from a recent
// template by its hash.
func (s *ChainState) ReadTemplateTransaction(txHash cncrypto.Hash) ([]byte, bool) {
	if poolTx, ok := s.memoryStateTx[txHash]; ok {
		return poolTx.BinaryTx, true
	}
	if mined, ok := s.miningTransactions[txHash]; ok {
		return mined.binaryTx, true
	}
	return nil, false
}

// clearMiningTransactions forgets transactions remembered for templates
// older than the livetime.
func (s *ChainState) clearMiningTransactions() {
	for txID, mined := range s.miningTransactions {
		if s.tipHeight() > mined.height+miningTransactionLivetime {
			delete(s.miningTransactions, txID)
		}
	}
}
