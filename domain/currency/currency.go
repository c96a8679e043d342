// Package currency holds the consensus constants of the coin and the pure
// functions over them: the block-version schedule, the reward curve with
// its median-size penalty, difficulty retargeting, proof-of-work dispatch,
// coinbase construction and address encoding.
package currency

import (
	"encoding/hex"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/serialization"
	"github.com/cryonero/cryonerod/util/base58"
)

// Network-wide parameters. Changing any of these forks the coin.
const (
	publicAddressBase58Prefix = 0x2756

	difficultyTarget    = 120
	difficultyWindowV2  = 120
	difficultyScatterV2 = 60

	timestampCheckWindow   = 60
	timestampCheckWindowV2 = 11

	blockFutureTimeLimit   = 60 * 60 * 2
	blockFutureTimeLimitV2 = difficultyTarget * 3

	maxBlockNumber   = 500000000
	maxBlockBlobSize = 500000000
	maxTxSize        = 1000000000

	minedMoneyUnlockWindow = 10
	rewardBlocksWindow     = 100

	blockGrantedFullRewardZone   = 100000
	blockGrantedFullRewardZoneV2 = 20000
	blockGrantedFullRewardZoneV1 = 10000

	coinbaseBlobReservedSize = 600
	displayDecimalPoint      = 10

	moneySupply         = math.MaxUint64
	emissionSpeedFactor = 16

	minimumFee           = 1000000
	defaultDustThreshold = 1000000

	hardforkV1Height = 7070
	hardforkV2Height = 7080
	hardforkV3Height = 4294967294

	difficultyCut = 60
	difficultyLag = 15

	maxBlockSizeInitial             = 20 * 1024
	maxBlockSizeGrowthSpeedNumerator = 100 * 1024

	lockedTxAllowedDeltaBlocks = 1

	upgradeHeightV2 = 1
	upgradeHeightV3 = 2
	upgradeHeightV4 = hardforkV2Height

	currentTransactionVersion = 1

	maxParentBlockSize = 2048
)

const genesisCoinbaseTxHex = "010a01ff0001ffffffffffff3f029b2e4c0281c0b02e7c53291a94d1d0cbff8883f8024f5142ee494ffbbd088071210152bfaef5e5681a5d7eaeaca878d53ed2a80445e4f6adc5550fc4b4b0e69b765a"

// Checkpoint pins a block hash at a height; blocks inside the checkpoint
// zone skip proof-of-work.
type Checkpoint struct {
	Height core.Height
	Hash   cncrypto.Hash
}

// Currency carries every consensus parameter plus the genesis block. One
// instance is shared by the whole node.
type Currency struct {
	IsTestnet bool

	MaxBlockHeight            core.Height
	MaxBlockBlobSize          uint32
	MaxTxSize                 uint32
	PublicAddressBase58Prefix uint64
	MinedMoneyUnlockWindow    core.Height
	TimestampCheckWindow      core.Height
	BlockFutureTimeLimit      core.Timestamp
	MoneySupply               core.Amount
	EmissionSpeedFactor       uint
	RewardBlocksWindow        core.Height
	BlockGrantedFullRewardZone uint32
	MinerTxBlobReservedSize   uint32
	NumberOfDecimalPlaces     int
	MinimumFee                core.Amount
	DefaultDustThreshold      core.Amount

	DifficultyTarget                   core.Timestamp
	DifficultyWindow                   core.Height
	DifficultyLag                      core.Height
	DifficultyCut                      core.Height
	MaxBlockSizeInitial                uint64
	MaxBlockSizeGrowthSpeedNumerator   uint64
	MaxBlockSizeGrowthSpeedDenominator uint64
	LockedTxAllowedDeltaSeconds        core.Timestamp
	LockedTxAllowedDeltaBlocks         core.Height

	UpgradeHeightV2 core.Height
	UpgradeHeightV3 core.Height
	UpgradeHeightV4 core.Height

	CurrentTransactionVersion uint8

	HardforkV1Height core.Height
	HardforkV2Height core.Height
	HardforkV3Height core.Height

	TimestampCheckWindowV2 core.Height
	BlockFutureTimeLimitV2 core.Timestamp
	DifficultyWindowV2     core.Height
	DifficultyScatterV2    core.Amount

	Checkpoints []Checkpoint

	GenesisBlockTemplate core.BlockTemplate
	GenesisBlockHash     cncrypto.Hash
}

// New builds the currency for the chosen network.
func New(isTestnet bool) (*Currency, error) {
	c := &Currency{
		IsTestnet:                  isTestnet,
		MaxBlockHeight:             maxBlockNumber,
		MaxBlockBlobSize:           maxBlockBlobSize,
		MaxTxSize:                  maxTxSize,
		PublicAddressBase58Prefix:  publicAddressBase58Prefix,
		MinedMoneyUnlockWindow:     minedMoneyUnlockWindow,
		TimestampCheckWindow:       timestampCheckWindow,
		BlockFutureTimeLimit:       blockFutureTimeLimit,
		MoneySupply:                moneySupply,
		EmissionSpeedFactor:        emissionSpeedFactor,
		RewardBlocksWindow:         rewardBlocksWindow,
		BlockGrantedFullRewardZone: blockGrantedFullRewardZone,
		MinerTxBlobReservedSize:    coinbaseBlobReservedSize,
		NumberOfDecimalPlaces:      displayDecimalPoint,
		MinimumFee:                 minimumFee,
		DefaultDustThreshold:       defaultDustThreshold,
		DifficultyTarget:           difficultyTarget,
		DifficultyLag:              difficultyLag,
		DifficultyCut:              difficultyCut,
		MaxBlockSizeInitial:        maxBlockSizeInitial,
		MaxBlockSizeGrowthSpeedNumerator: maxBlockSizeGrowthSpeedNumerator,
		LockedTxAllowedDeltaBlocks: lockedTxAllowedDeltaBlocks,
		UpgradeHeightV2:            upgradeHeightV2,
		UpgradeHeightV3:            upgradeHeightV3,
		UpgradeHeightV4:            upgradeHeightV4,
		CurrentTransactionVersion:  currentTransactionVersion,
		HardforkV1Height:           hardforkV1Height,
		HardforkV2Height:           hardforkV2Height,
		HardforkV3Height:           hardforkV3Height,
		TimestampCheckWindowV2:     timestampCheckWindowV2,
		BlockFutureTimeLimitV2:     blockFutureTimeLimitV2,
		DifficultyWindowV2:         difficultyWindowV2,
		DifficultyScatterV2:        difficultyScatterV2,
	}
	if isTestnet {
		c.DifficultyTarget = 1
		c.UpgradeHeightV2 = 0
		c.UpgradeHeightV3 = core.HeightMax
	}
	c.DifficultyWindow = expectedNumberOfBlocksPerDay(c.DifficultyTarget)
	c.MaxBlockSizeGrowthSpeedDenominator = 365 * 24 * 60 * 60 / uint64(c.DifficultyTarget)
	c.LockedTxAllowedDeltaSeconds = c.DifficultyTarget * lockedTxAllowedDeltaBlocks

	miningTxBlob, err := hex.DecodeString(genesisCoinbaseTxHex)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse hard coded genesis coinbase")
	}
	coinbase, err := serialization.DeserializeTransaction(miningTxBlob)
	if err != nil {
		return nil, errors.Wrap(err, "failed to deserialize hard coded genesis coinbase")
	}
	c.GenesisBlockTemplate = core.BlockTemplate{
		BlockHeader: core.BlockHeader{
			MajorVersion: 1,
			MinorVersion: 0,
			Timestamp:    0,
			Nonce:        70,
		},
		BaseTransaction: coinbase,
	}
	if isTestnet {
		c.GenesisBlockTemplate.Nonce++
	}
	c.GenesisBlockHash = serialization.BlockHash(&c.GenesisBlockTemplate)
	return c, nil
}

func expectedNumberOfBlocksPerDay(target core.Timestamp) core.Height {
	return core.Height(24 * 60 * 60 / target)
}

// DifficultyBlocksCount is the classic retarget window including lag.
func (c *Currency) DifficultyBlocksCount() core.Height {
	return c.DifficultyWindow + c.DifficultyLag
}

// GetDifficultyBlocksCount returns the retarget window width for a height,
// switching at the v2 hardfork.
func (c *Currency) GetDifficultyBlocksCount(height core.Height) core.Height {
	if height <= c.HardforkV2Height {
		return c.DifficultyBlocksCount()
	}
	return c.DifficultyWindowV2 + 1
}

// GetTimestampCheckWindow returns the timestamp-median window width for a
// height.
func (c *Currency) GetTimestampCheckWindow(height core.Height) core.Height {
	if height >= c.HardforkV2Height {
		return c.TimestampCheckWindowV2
	}
	return c.TimestampCheckWindow
}

// GetBlockFutureTimeLimit returns how far into the future a block
// timestamp may run at a height.
func (c *Currency) GetBlockFutureTimeLimit(height core.Height) core.Timestamp {
	if height >= c.HardforkV2Height {
		return c.BlockFutureTimeLimitV2
	}
	return c.BlockFutureTimeLimit
}

// GetBlockMajorVersionForHeight returns the exact version a block at the
// given height must carry. A block at an upgrade height still has the old
// version.
func (c *Currency) GetBlockMajorVersionForHeight(height core.Height) uint8 {
	if height <= c.UpgradeHeightV2 {
		return 1
	}
	if height > c.UpgradeHeightV2 && height <= c.UpgradeHeightV3 {
		return 2
	}
	if height > c.UpgradeHeightV3 && height <= c.UpgradeHeightV4 {
		return 3
	}
	return 4
}

// BlockGrantedFullRewardZoneByBlockVersion is the version-dependent floor
// of the effective size median.
func (c *Currency) BlockGrantedFullRewardZoneByBlockVersion(blockMajorVersion uint8) uint32 {
	if blockMajorVersion >= 3 {
		return c.BlockGrantedFullRewardZone
	}
	if blockMajorVersion == 2 {
		return blockGrantedFullRewardZoneV2
	}
	return blockGrantedFullRewardZoneV1
}

// CalcBaseReward computes the pre-penalty reward from the remaining
// supply.
func (c *Currency) CalcBaseReward(blockMajorVersion uint8, alreadyGeneratedCoins core.Amount) core.Amount {
	baseReward := (c.MoneySupply - alreadyGeneratedCoins) >> c.EmissionSpeedFactor
	if blockMajorVersion >= 4 && baseReward >= c.DifficultyScatterV2 {
		baseReward /= c.DifficultyScatterV2
	}
	return baseReward
}

// GetBlockReward computes the miner reward and the supply change for a
// block of the given size, applying the median-size penalty to the base
// reward and (from v2 on) to the fees.
func (c *Currency) GetBlockReward(blockMajorVersion uint8, effectiveMedianSize uint64, currentBlockSize uint64,
	alreadyGeneratedCoins core.Amount, fee core.Amount) (reward core.Amount, emissionChange core.SignedAmount, ok bool) {
	if currentBlockSize > 2*effectiveMedianSize {
		return 0, 0, false
	}
	baseReward := c.CalcBaseReward(blockMajorVersion, alreadyGeneratedCoins)
	penalizedBaseReward := getPenalizedAmount(baseReward, effectiveMedianSize, currentBlockSize)
	penalizedFee := fee
	if blockMajorVersion >= 2 {
		penalizedFee = getPenalizedAmount(fee, effectiveMedianSize, currentBlockSize)
	}
	emissionChange = core.SignedAmount(penalizedBaseReward) - (core.SignedAmount(fee) - core.SignedAmount(penalizedFee))
	return penalizedBaseReward + penalizedFee, emissionChange, true
}

// MaxBlockCumulativeSize grows linearly with height.
func (c *Currency) MaxBlockCumulativeSize(height core.Height) uint32 {
	maxSize := c.MaxBlockSizeInitial +
		uint64(height)*c.MaxBlockSizeGrowthSpeedNumerator/c.MaxBlockSizeGrowthSpeedDenominator
	return uint32(maxSize)
}

// MaxTransactionAllowedSize caps a single transaction body so a block can
// always fit a coinbase next to it.
func (c *Currency) MaxTransactionAllowedSize(effectiveBlockSizeMedian uint32) uint32 {
	allowed := uint64(effectiveBlockSizeMedian)*2 - uint64(c.MinerTxBlobReservedSize)
	if allowed > uint64(c.MaxTxSize) {
		return c.MaxTxSize
	}
	return uint32(allowed)
}

// MaxParentBlockSize is the serialized-size cap of the merge-mining
// section.
func (c *Currency) MaxParentBlockSize() int {
	return maxParentBlockSize
}

// IsTransactionSpendTimeUnlocked interprets the unlock moment as a height
// below MaxBlockHeight and as a unix timestamp above it. Once unlocked, an
// output stays unlocked.
func (c *Currency) IsTransactionSpendTimeUnlocked(unlockTime core.UnlockMoment, blockIndex core.Height, blockTime core.Timestamp) bool {
	if unlockTime < uint64(c.MaxBlockHeight) {
		return uint64(blockIndex)+uint64(c.LockedTxAllowedDeltaBlocks) >= unlockTime
	}
	return uint64(blockTime)+uint64(c.LockedTxAllowedDeltaSeconds) >= unlockTime
}

// SwCheckpointCount returns the number of effective checkpoints.
func (c *Currency) SwCheckpointCount() int {
	if c.IsTestnet {
		return 1
	}
	return len(c.Checkpoints)
}

// IsInSwCheckpointZone reports whether proof-of-work is replaced by hash
// pinning at the given height.
func (c *Currency) IsInSwCheckpointZone(index core.Height) bool {
	if c.IsTestnet || len(c.Checkpoints) == 0 {
		return index == 0
	}
	return index <= c.Checkpoints[len(c.Checkpoints)-1].Height
}

// CheckSwCheckpoint verifies a block hash against the checkpoint table.
// isCheckpoint reports whether the height is pinned at all.
func (c *Currency) CheckSwCheckpoint(index core.Height, h cncrypto.Hash) (ok bool, isCheckpoint bool) {
	if c.IsTestnet || index == 0 {
		if index == 0 {
			return h == c.GenesisBlockHash, true
		}
		return true, false
	}
	i := sort.Search(len(c.Checkpoints), func(i int) bool {
		return c.Checkpoints[i].Height >= index
	})
	if i == len(c.Checkpoints) || c.Checkpoints[i].Height != index {
		return true, false
	}
	return h == c.Checkpoints[i].Hash, true
}

// LastSwCheckpoint returns the most recent pinned block.
func (c *Currency) LastSwCheckpoint() (core.Height, cncrypto.Hash) {
	if c.IsTestnet || len(c.Checkpoints) == 0 {
		return 0, c.GenesisBlockHash
	}
	last := c.Checkpoints[len(c.Checkpoints)-1]
	return last.Height, last.Hash
}

// CheckProofOfWork verifies the long hash of a block against the
// difficulty, dispatching on the block's major version.
func (c *Currency) CheckProofOfWork(longBlockHash cncrypto.Hash, bt *core.BlockTemplate, currentDifficulty core.Difficulty) bool {
	switch bt.MajorVersion {
	case 1:
		return c.checkProofOfWorkV1(longBlockHash, bt, currentDifficulty)
	case 2, 3, 4:
		return c.checkProofOfWorkV2(longBlockHash, bt, currentDifficulty)
	}
	return false
}

func (c *Currency) checkProofOfWorkV1(longBlockHash cncrypto.Hash, bt *core.BlockTemplate, currentDifficulty core.Difficulty) bool {
	if bt.MajorVersion != 1 {
		return false
	}
	return cncrypto.CheckHash(longBlockHash, currentDifficulty)
}

func (c *Currency) checkProofOfWorkV2(longBlockHash cncrypto.Hash, bt *core.BlockTemplate, currentDifficulty core.Difficulty) bool {
	if bt.MajorVersion < 2 {
		return false
	}
	mmTag, ok := serialization.GetMergeMiningTagFromExtra(bt.ParentBlock.BaseTransaction.Extra)
	if !ok {
		return false
	}
	if len(bt.ParentBlock.BlockchainBranch) > 8*cncrypto.HashSize {
		return false
	}
	auxBlocksMerkleRoot := cncrypto.TreeHashFromBranch(bt.ParentBlock.BlockchainBranch,
		serialization.AuxiliaryBlockHeaderHash(bt), &c.GenesisBlockHash)
	if auxBlocksMerkleRoot != mmTag.MerkleRoot {
		return false
	}
	return cncrypto.CheckHash(longBlockHash, currentDifficulty)
}

// AccountAddressAsString encodes an address with the network prefix.
func (c *Currency) AccountAddressAsString(address core.AccountAddress) string {
	data := make([]byte, 0, 2*cncrypto.HashSize)
	data = append(data, address.SpendPublicKey[:]...)
	data = append(data, address.ViewPublicKey[:]...)
	return base58.EncodeAddr(c.PublicAddressBase58Prefix, data)
}

// ParseAccountAddressString decodes and validates an address for this
// network.
func (c *Currency) ParseAccountAddressString(str string) (core.AccountAddress, error) {
	var address core.AccountAddress
	tag, data, err := base58.DecodeAddr(str)
	if err != nil {
		return address, err
	}
	if tag != c.PublicAddressBase58Prefix {
		return address, errors.Errorf("wrong address prefix %d", tag)
	}
	if len(data) != 2*cncrypto.HashSize {
		return address, errors.Errorf("wrong address body length %d", len(data))
	}
	copy(address.SpendPublicKey[:], data[:cncrypto.HashSize])
	copy(address.ViewPublicKey[:], data[cncrypto.HashSize:])
	if !cncrypto.KeyIsValid(address.SpendPublicKey) || !cncrypto.KeyIsValid(address.ViewPublicKey) {
		return address, errors.New("address keys do not decompress")
	}
	return address, nil
}
