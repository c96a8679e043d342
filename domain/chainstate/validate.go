package chainstate

import (
	"math"
	"sort"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/serialization"
)

// validateSemantic checks a transaction in isolation and computes its fee.
// In the coinbase context (generating) the input must be the coinbase
// input and signatures must be absent; outside it, key inputs only, one
// signature vector per input.
func validateSemantic(generating bool, tx *core.Transaction, checkOutputKeys bool) (core.Amount, error) {
	if len(tx.Inputs) == 0 {
		return 0, ErrEmptyInputs
	}
	var summaryOutputAmount core.Amount
	for _, output := range tx.Outputs {
		if output.Amount == 0 {
			return 0, ErrOutputZeroAmount
		}
		switch target := output.Target.(type) {
		case core.KeyOutput:
			if checkOutputKeys && !cncrypto.KeyIsValid(target.Key) {
				return 0, ErrOutputInvalidKey
			}
		default:
			return 0, ErrOutputUnknownType
		}
		if math.MaxUint64-output.Amount < summaryOutputAmount {
			return 0, ErrOutputsAmountOverflow
		}
		summaryOutputAmount += output.Amount
	}
	var summaryInputAmount core.Amount
	keyImages := make(map[cncrypto.KeyImage]struct{})
	for _, input := range tx.Inputs {
		var amount core.Amount
		switch in := input.(type) {
		case core.CoinbaseInput:
			if !generating {
				return 0, ErrInputUnknownType
			}
		case core.KeyInput:
			if generating {
				return 0, ErrInputUnknownType
			}
			amount = in.Amount
			if _, ok := keyImages[in.KeyImage]; ok {
				return 0, ErrInputIdenticalKeyimages
			}
			keyImages[in.KeyImage] = struct{}{}
			if len(in.OutputIndexes) == 0 {
				return 0, ErrInputEmptyOutputUsage
			}
			// Indexes are differences; a zero after the first element
			// would repeat an absolute index.
			for _, offset := range in.OutputIndexes[1:] {
				if offset == 0 {
					return 0, ErrInputIdenticalOutputIndexes
				}
			}
		default:
			return 0, ErrInputUnknownType
		}
		if math.MaxUint64-amount < summaryInputAmount {
			return 0, ErrInputsAmountOverflow
		}
		summaryInputAmount += amount
	}
	if summaryOutputAmount > summaryInputAmount && !generating {
		return 0, ErrWrongAmount
	}
	if !generating && len(tx.Signatures) != len(tx.Inputs) {
		return 0, ErrInputUnknownType
	}
	if generating && len(tx.Signatures) != 0 {
		return 0, ErrInputUnknownType
	}
	return summaryInputAmount - summaryOutputAmount, nil
}

func medianValue32(values []uint32) uint32 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]uint32(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if len(sorted)%2 == 1 {
		return sorted[len(sorted)/2]
	}
	return (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
}

// tipSegment returns up to count header summaries ending at from
// inclusive, oldest first. Without withGenesis the genesis block is
// excluded, so its zero timestamp cannot skew medians.
func (s *ChainState) tipSegment(from core.HeaderSummary, count core.Height, withGenesis bool) []core.HeaderSummary {
	var window []core.HeaderSummary
	info := from
	for count > 0 && info.Height != core.HeightMax {
		if info.Height == 0 && !withGenesis {
			break
		}
		window = append(window, info)
		count--
		if info.Height == 0 {
			break
		}
		parent, ok := s.readHeader(info.PreviousBlockHash)
		if !ok {
			break
		}
		info = parent
	}
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}

// calculateConsensusValues derives the rolling size median and timestamp
// median for the block following prevInfo.
func (s *ChainState) calculateConsensusValues(prevInfo core.HeaderSummary) (nextMedianSize uint32, nextMedianTimestamp core.Timestamp) {
	window := s.tipSegment(prevInfo, s.currency.RewardBlocksWindow, true)
	sizes := make([]uint32, 0, len(window))
	for i := range window {
		sizes = append(sizes, window[i].BlockSize)
	}
	nextMedianSize = medianValue32(sizes)

	checkWindow := s.currency.GetTimestampCheckWindow(prevInfo.Height + 1)
	window = s.tipSegment(prevInfo, checkWindow, false)
	if core.Height(len(window)) >= checkWindow {
		timestamps := make([]uint32, 0, len(window))
		for i := range window {
			timestamps = append(timestamps, window[i].Timestamp)
		}
		nextMedianTimestamp = medianValue32(timestamps)
	}
	return nextMedianSize, nextMedianTimestamp
}

func (s *ChainState) tipChanged() {
	s.nextMedianSize, s.nextMedianTimestamp = s.calculateConsensusValues(s.tip)
}

// difficultyWindow collects the retarget inputs ending at prevInfo.
func (s *ChainState) difficultyWindow(prevInfo core.HeaderSummary) ([]core.Timestamp, []core.Difficulty) {
	blocksCount := s.currency.GetDifficultyBlocksCount(prevInfo.Height + 1)
	if prevInfo.Height != core.HeightMax && prevInfo.Height < blocksCount {
		blocksCount = prevInfo.Height
	}
	window := s.tipSegment(prevInfo, blocksCount, false)
	timestamps := make([]core.Timestamp, 0, len(window))
	difficulties := make([]core.Difficulty, 0, len(window))
	for i := range window {
		timestamps = append(timestamps, window[i].Timestamp)
		difficulties = append(difficulties, window[i].CumulativeDifficulty.Lo)
	}
	return timestamps, difficulties
}

// checkStandaloneConsensus applies every context-free consensus rule to a
// prepared block and fills the derived header summary. It does not touch
// the UTXO indexes; ledger rules run later against a delta.
func (s *ChainState) checkStandaloneConsensus(pb *PreparedBlock, prevInfo core.HeaderSummary, checkPow bool) (core.HeaderSummary, error) {
	var info core.HeaderSummary
	block := &pb.Block
	if len(block.Transactions) != len(block.Header.TransactionHashes) ||
		len(block.Transactions) != len(pb.RawBlock.Transactions) {
		return info, ErrWrongTransactionsCount
	}
	info.MajorVersion = block.Header.MajorVersion
	info.MinorVersion = block.Header.MinorVersion
	info.Height = prevInfo.Height + 1
	info.Hash = pb.Hash
	info.PreviousBlockHash = block.Header.PreviousBlockHash
	info.Timestamp = block.Header.Timestamp
	info.Nonce = block.Header.Nonce
	info.SizeMedian = s.nextMedianSize
	info.TimestampMedian = s.nextMedianTimestamp
	if s.tipHash() != prevInfo.Hash {
		info.SizeMedian, info.TimestampMedian = s.calculateConsensusValues(prevInfo)
	}

	rewardZone := s.currency.BlockGrantedFullRewardZoneByBlockVersion(block.Header.MajorVersion)
	info.EffectiveSizeMedian = info.SizeMedian
	if rewardZone > info.EffectiveSizeMedian {
		info.EffectiveSizeMedian = rewardZone
	}

	var cumulativeSize uint64
	for i := range pb.RawBlock.Transactions {
		if uint32(len(pb.RawBlock.Transactions[i])) > s.currency.MaxTransactionAllowedSize(info.EffectiveSizeMedian) {
			return info, ErrRawTransactionSizeTooBig
		}
		cumulativeSize += uint64(len(pb.RawBlock.Transactions[i]))
		txID := serialization.TransactionHash(&block.Transactions[i])
		if txID != block.Header.TransactionHashes[i] {
			return info, ErrTransactionAbsentInPool
		}
	}
	info.BlockSize = uint32(pb.CoinbaseTxSize + cumulativeSize)
	if info.BlockSize > s.currency.MaxBlockCumulativeSize(info.Height) {
		return info, ErrCumulativeBlockSizeTooBig
	}

	// A block at an upgrade height still has the old version.
	if block.Header.MajorVersion != s.currency.GetBlockMajorVersionForHeight(info.Height) {
		return info, ErrWrongVersion
	}
	if block.Header.MajorVersion >= 2 {
		if block.Header.MajorVersion == 2 && block.Header.ParentBlock.MajorVersion > 1 {
			return info, ErrParentBlockWrongVersion
		}
		if pb.ParentBlockSize > s.currency.MaxParentBlockSize() {
			return info, ErrParentBlockSizeTooBig
		}
	}

	now := s.clock.NowUnixTimestamp()
	if block.Header.Timestamp > now+s.currency.GetBlockFutureTimeLimit(s.tipHeight()+1) {
		return info, ErrTimestampTooFarInFuture
	}
	if block.Header.Timestamp < info.TimestampMedian {
		return info, ErrTimestampTooFarInPast
	}

	coinbase := &block.Header.BaseTransaction
	if len(coinbase.Inputs) != 1 {
		return info, ErrInputWrongCount
	}
	coinbaseInput, ok := coinbase.Inputs[0].(core.CoinbaseInput)
	if !ok {
		return info, ErrInputUnexpectedType
	}
	if coinbaseInput.BlockIndex != info.Height {
		return info, ErrBaseInputWrongBlockIndex
	}
	if coinbase.UnlockTime != uint64(info.Height)+uint64(s.currency.MinedMoneyUnlockWindow) {
		return info, ErrWrongTransactionUnlockTime
	}

	checkKeys := !s.currency.IsInSwCheckpointZone(info.Height)
	var minerReward core.Amount
	for _, output := range coinbase.Outputs {
		if output.Amount == 0 {
			return info, ErrOutputZeroAmount
		}
		switch target := output.Target.(type) {
		case core.KeyOutput:
			if checkKeys && !cncrypto.KeyIsValid(target.Key) {
				return info, ErrOutputInvalidKey
			}
		default:
			return info, ErrOutputUnknownType
		}
		if math.MaxUint64-output.Amount < minerReward {
			return info, ErrOutputsAmountOverflow
		}
		minerReward += output.Amount
	}

	timestamps, difficulties := s.difficultyWindow(prevInfo)
	info.Difficulty = s.currency.NextDifficulty(info.Height, timestamps, difficulties)
	info.CumulativeDifficulty = prevInfo.CumulativeDifficulty.Add(info.Difficulty)
	if info.Difficulty == 0 {
		return info, ErrDifficultyOverhead
	}

	var cumulativeFee core.Amount
	for i := range block.Transactions {
		fee, ok := core.GetTransactionFee(&block.Transactions[i].TransactionPrefix)
		if !ok {
			return info, ErrWrongAmount
		}
		if math.MaxUint64-fee < cumulativeFee {
			return info, ErrInputsAmountOverflow
		}
		cumulativeFee += fee
	}

	alreadyGeneratedCoins := prevInfo.AlreadyGeneratedCoins
	baseReward, _, okReward := s.currency.GetBlockReward(block.Header.MajorVersion, uint64(info.EffectiveSizeMedian),
		0, alreadyGeneratedCoins, 0)
	reward, emissionChange, okFull := s.currency.GetBlockReward(block.Header.MajorVersion, uint64(info.EffectiveSizeMedian),
		uint64(info.BlockSize), alreadyGeneratedCoins, cumulativeFee)
	if !okReward || !okFull {
		return info, ErrCumulativeBlockSizeTooBig
	}
	info.BaseReward = baseReward
	info.Reward = reward
	if minerReward != reward {
		return info, ErrBlockRewardMismatch.Wrapf("miner reward %d, expected %d", minerReward, reward)
	}
	info.AlreadyGeneratedCoins = alreadyGeneratedCoins + core.Amount(emissionChange)
	info.AlreadyGeneratedTransactions = prevInfo.AlreadyGeneratedTransactions + uint64(len(block.Transactions)) + 1
	info.TotalFeeAmount = cumulativeFee
	info.TransactionsCumulativeSize = uint32(cumulativeSize)

	for i := range block.Transactions {
		if _, err := validateSemantic(false, &block.Transactions[i], checkKeys); err != nil {
			return info, err
		}
	}

	if s.currency.IsInSwCheckpointZone(info.Height) {
		if ok, _ := s.currency.CheckSwCheckpoint(info.Height, info.Hash); !ok {
			return info, ErrCheckpointBlockHashMismatch
		}
	} else if checkPow {
		longHash := pb.LongBlockHash
		if longHash == (cncrypto.Hash{}) {
			longHash = serialization.BlockLongHash(&block.Header, s.powHasher)
		}
		if !s.currency.CheckProofOfWork(longHash, &block.Header, info.Difficulty) {
			return info, ErrProofOfWorkTooWeak
		}
	}
	return info, nil
}
