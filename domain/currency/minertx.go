package currency

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/serialization"
)

// getPenalizedAmount scales an amount down by the quadratic size penalty
// once the block exceeds the median.
func getPenalizedAmount(amount core.Amount, medianSize uint64, currentBlockSize uint64) core.Amount {
	if amount == 0 {
		return 0
	}
	if currentBlockSize <= medianSize {
		return amount
	}
	hi, lo := bits.Mul64(amount, currentBlockSize*(2*medianSize-currentBlockSize))
	hi, lo = div128(hi, lo, medianSize)
	_, lo = div128(hi, lo, medianSize)
	return lo
}

func div128(hi, lo, divisor uint64) (uint64, uint64) {
	quotientHi := hi / divisor
	remainder := hi % divisor
	quotientLo, _ := bits.Div64(remainder, lo, divisor)
	return quotientHi, quotientLo
}

// ConstructMinerTx builds a coinbase paying the full reward for a block of
// the given cumulative size to the miner address, split into at most
// maxOuts outputs: one per decimal digit chunk plus a leading dust output,
// with the largest chunks merged into one while there are too many.
func (c *Currency) ConstructMinerTx(blockMajorVersion uint8, height core.Height, effectiveMedianSize uint64,
	alreadyGeneratedCoins core.Amount, currentBlockSize uint64, fee core.Amount,
	minerAddress core.AccountAddress, extraNonce []byte, maxOuts int) (core.Transaction, error) {
	var tx core.Transaction

	txPublicKey, txSecretKey := cncrypto.RandomKeyPair()
	tx.Extra = serialization.AppendTransactionPublicKeyToExtra(nil, txPublicKey)
	if len(extraNonce) > 0 {
		var err error
		tx.Extra, err = serialization.AppendExtraNonceToExtra(tx.Extra, extraNonce)
		if err != nil {
			return tx, err
		}
	}

	blockReward, _, ok := c.GetBlockReward(blockMajorVersion, effectiveMedianSize, currentBlockSize, alreadyGeneratedCoins, fee)
	if !ok {
		return tx, errors.New("block size is too big for the reward formula")
	}

	outAmounts := DecomposeAmount(blockReward, c.DefaultDustThreshold)
	if maxOuts == 0 {
		maxOuts = 1
	}
	for len(outAmounts) > maxOuts {
		outAmounts[len(outAmounts)-2] += outAmounts[len(outAmounts)-1]
		outAmounts = outAmounts[:len(outAmounts)-1]
	}

	derivation, ok := cncrypto.GenerateKeyDerivation(minerAddress.ViewPublicKey, txSecretKey)
	if !ok {
		return tx, errors.New("failed to generate key derivation for miner address")
	}
	var summaryAmounts core.Amount
	for no, amount := range outAmounts {
		outEphemeralKey, ok := cncrypto.DerivePublicKey(derivation, no, minerAddress.SpendPublicKey)
		if !ok {
			return tx, errors.Errorf("failed to derive output key %d for miner address", no)
		}
		summaryAmounts += amount
		tx.Outputs = append(tx.Outputs, core.TransactionOutput{
			Amount: amount,
			Target: core.KeyOutput{Key: outEphemeralKey},
		})
	}
	if summaryAmounts != blockReward {
		return tx, errors.Errorf("decomposed outputs sum to %d, reward is %d", summaryAmounts, blockReward)
	}

	tx.Version = c.CurrentTransactionVersion
	tx.UnlockTime = uint64(height) + uint64(c.MinedMoneyUnlockWindow)
	tx.Inputs = []core.TransactionInput{core.CoinbaseInput{BlockIndex: height}}
	return tx, nil
}
