// Package core defines the domain model of the coin: scalar types,
// transaction and block structures, and per-block header summaries.
package core

import (
	"math"

	"github.com/cryonero/cryonerod/domain/cncrypto"
)

// Amount is a coin quantity in atomic units.
type Amount = uint64

// SignedAmount is used for emission deltas, which can be negative under
// the size penalty.
type SignedAmount = int64

// Height is a block height. HeightMax is the "no height" sentinel.
type Height = uint32

// HeightMax marks an unknown or unset height.
const HeightMax = Height(math.MaxUint32)

// Timestamp is unix seconds.
type Timestamp = uint32

// Difficulty is the per-block work target.
type Difficulty = uint64

// UnlockMoment is either a block height or a unix timestamp depending on
// its magnitude; see Currency.IsTransactionSpendTimeUnlocked.
type UnlockMoment = uint64

// CumulativeDifficulty accumulates per-block difficulty along a chain. It
// is 128-bit so that the chain-selection metric cannot saturate.
type CumulativeDifficulty struct {
	Hi uint64
	Lo uint64
}

// Add returns the accumulator advanced by one block's difficulty.
func (c CumulativeDifficulty) Add(d Difficulty) CumulativeDifficulty {
	lo := c.Lo + d
	hi := c.Hi
	if lo < c.Lo {
		hi++
	}
	return CumulativeDifficulty{Hi: hi, Lo: lo}
}

// Less orders accumulators; the heavier chain wins.
func (c CumulativeDifficulty) Less(other CumulativeDifficulty) bool {
	if c.Hi != other.Hi {
		return c.Hi < other.Hi
	}
	return c.Lo < other.Lo
}

// Sub returns c − other. The caller guarantees other ≤ c.
func (c CumulativeDifficulty) Sub(other CumulativeDifficulty) CumulativeDifficulty {
	lo := c.Lo - other.Lo
	hi := c.Hi - other.Hi
	if c.Lo < other.Lo {
		hi--
	}
	return CumulativeDifficulty{Hi: hi, Lo: lo}
}

// TransactionInput is either a CoinbaseInput or a KeyInput. Validation
// treats the match as exhaustive.
type TransactionInput interface {
	isTransactionInput()
}

// CoinbaseInput mints the block reward. Its block index must equal the
// block height.
type CoinbaseInput struct {
	BlockIndex Height
}

// KeyInput spends an output hidden in a ring of candidates. OutputIndexes
// holds differences between consecutive absolute global indices.
type KeyInput struct {
	Amount        Amount
	OutputIndexes []uint32
	KeyImage      cncrypto.KeyImage
}

func (CoinbaseInput) isTransactionInput() {}
func (KeyInput) isTransactionInput()      {}

// TransactionOutputTarget is the destination of an output. Key outputs are
// the only current variant.
type TransactionOutputTarget interface {
	isTransactionOutputTarget()
}

// KeyOutput pays to a one-time public key.
type KeyOutput struct {
	Key cncrypto.PublicKey
}

func (KeyOutput) isTransactionOutputTarget() {}

// TransactionOutput is an amount bound to a target.
type TransactionOutput struct {
	Amount Amount
	Target TransactionOutputTarget
}

// TransactionPrefix is the signed portion of a transaction.
type TransactionPrefix struct {
	Version    uint8
	UnlockTime UnlockMoment
	Inputs     []TransactionInput
	Outputs    []TransactionOutput
	Extra      []byte
}

// Transaction is a prefix plus one signature vector per input, each as
// long as the input's ring.
type Transaction struct {
	TransactionPrefix
	Signatures [][]cncrypto.Signature
}

// AccountAddress is the public half of a wallet.
type AccountAddress struct {
	SpendPublicKey cncrypto.PublicKey
	ViewPublicKey  cncrypto.PublicKey
}

// GetTransactionFee returns inputs minus outputs. It fails on a
// transaction whose outputs exceed its inputs (the coinbase included).
func GetTransactionFee(tx *TransactionPrefix) (Amount, bool) {
	var in, out Amount
	for _, input := range tx.Inputs {
		keyInput, ok := input.(KeyInput)
		if !ok {
			return 0, false
		}
		in += keyInput.Amount
	}
	for _, output := range tx.Outputs {
		out += output.Amount
	}
	if out > in {
		return 0, false
	}
	return in - out, true
}
