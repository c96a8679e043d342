package chainstate

import (
	"math"
	"math/rand"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
)

// Output describes one spendable output handed to wallets building ring
// decoys.
type Output struct {
	Amount      core.Amount
	GlobalIndex uint32
	UnlockTime  core.UnlockMoment
	PublicKey   cncrypto.PublicKey
	Height      core.Height
}

// Parameters of the decoy sampling distribution. Newer outputs are picked
// more often, mimicking real spend behavior.
const (
	randomOutputMu      = 1.9
	randomOutputSigma   = 1.0
	randomOutputRetries = 20
)

// GetRandomOutputs samples up to outsCount distinct unlocked, unspent
// outputs of the amount, no newer than the given height. When the bucket
// is small the whole bucket is filtered instead of sampled.
func (s *ChainState) GetRandomOutputs(amount core.Amount, outsCount int, height core.Height, time core.Timestamp) []Output {
	var result []Output
	totalCount := s.NextGlobalIndexForAmount(amount)
	usable := func(record OutputRecord) bool {
		if record.Spent || record.Height > height {
			return false
		}
		return s.currency.IsTransactionSpendTimeUnlocked(record.UnlockTime, height, time)
	}
	if int(totalCount) <= outsCount {
		for globalIndex := uint32(0); globalIndex != totalCount; globalIndex++ {
			record, ok := s.ReadAmountOutput(amount, globalIndex)
			if !ok {
				panic("output below the amount counter not found")
			}
			if !usable(record) {
				continue
			}
			result = append(result, Output{
				Amount:      amount,
				GlobalIndex: globalIndex,
				UnlockTime:  record.UnlockTime,
				PublicKey:   record.PublicKey,
				Height:      record.Height,
			})
		}
		return result
	}
	triedOrAdded := make(map[uint32]struct{})
	for attempts := 0; len(result) < outsCount && attempts < outsCount*randomOutputRetries; attempts++ {
		sample := math.Exp(rand.NormFloat64()*randomOutputSigma + randomOutputMu)
		num := math.Floor(float64(totalCount) * (1 - math.Pow(10, -sample/10)))
		if num < 0 || num >= float64(totalCount) {
			continue
		}
		globalIndex := uint32(num)
		if _, tried := triedOrAdded[globalIndex]; tried {
			continue
		}
		triedOrAdded[globalIndex] = struct{}{}
		record, ok := s.ReadAmountOutput(amount, globalIndex)
		if !ok {
			panic("output below the amount counter not found")
		}
		if !usable(record) {
			continue
		}
		result = append(result, Output{
			Amount:      amount,
			GlobalIndex: globalIndex,
			UnlockTime:  record.UnlockTime,
			PublicKey:   record.PublicKey,
			Height:      record.Height,
		})
	}
	return result
}
