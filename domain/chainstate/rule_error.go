package chainstate

import (
	"github.com/pkg/errors"
)

// RuleError is a consensus rejection. Rule errors are plain values: they
// never indicate corruption, and banning the peer that relayed the
// offending object is caller policy.
type RuleError struct {
	message string
	inner   error
}

func (e RuleError) Error() string {
	if e.inner != nil {
		return e.message + ": " + e.inner.Error()
	}
	return e.message
}

// Unwrap satisfies errors.Unwrap.
func (e RuleError) Unwrap() error {
	return e.inner
}

// Tag returns the bare rejection tag.
func (e RuleError) Tag() string {
	return e.message
}

// Wrapf returns a copy of the rule error enriched with context. The copy
// still matches the original in errors.Is.
func (e RuleError) Wrapf(format string, args ...interface{}) RuleError {
	return RuleError{message: e.message, inner: errors.Errorf(format, args...)}
}

// Is matches rule errors by tag so wrapped copies compare equal to their
// sentinel.
func (e RuleError) Is(target error) bool {
	other, ok := target.(RuleError)
	return ok && other.message == e.message
}

func newRuleError(message string) RuleError {
	return RuleError{message: message}
}

// Block-level rejections.
var (
	ErrWrongTransactionsCount     = newRuleError("WRONG_TRANSACTIONS_COUNT")
	ErrRawTransactionSizeTooBig   = newRuleError("RAW_TRANSACTION_SIZE_TOO_BIG")
	ErrTransactionAbsentInPool    = newRuleError("TRANSACTION_ABSENT_IN_POOL")
	ErrCumulativeBlockSizeTooBig  = newRuleError("CUMULATIVE_BLOCK_SIZE_TOO_BIG")
	ErrWrongVersion               = newRuleError("WRONG_VERSION")
	ErrParentBlockWrongVersion    = newRuleError("PARENT_BLOCK_WRONG_VERSION")
	ErrParentBlockSizeTooBig      = newRuleError("PARENT_BLOCK_SIZE_TOO_BIG")
	ErrTimestampTooFarInFuture    = newRuleError("TIMESTAMP_TOO_FAR_IN_FUTURE")
	ErrTimestampTooFarInPast      = newRuleError("TIMESTAMP_TOO_FAR_IN_PAST")
	ErrBlockRewardMismatch        = newRuleError("BLOCK_REWARD_MISMATCH")
	ErrDifficultyOverhead         = newRuleError("DIFFICULTY_OVERHEAD")
	ErrCheckpointBlockHashMismatch = newRuleError("CHECKPOINT_BLOCK_HASH_MISMATCH")
	ErrProofOfWorkTooWeak         = newRuleError("PROOF_OF_WORK_TOO_WEAK")
)

// Transaction semantic rejections.
var (
	ErrEmptyInputs                  = newRuleError("EMPTY_INPUTS")
	ErrInputWrongCount              = newRuleError("INPUT_WRONG_COUNT")
	ErrInputUnexpectedType          = newRuleError("INPUT_UNEXPECTED_TYPE")
	ErrBaseInputWrongBlockIndex     = newRuleError("BASE_INPUT_WRONG_BLOCK_INDEX")
	ErrWrongTransactionUnlockTime   = newRuleError("WRONG_TRANSACTION_UNLOCK_TIME")
	ErrOutputZeroAmount             = newRuleError("OUTPUT_ZERO_AMOUNT")
	ErrOutputUnknownType            = newRuleError("OUTPUT_UNKNOWN_TYPE")
	ErrOutputInvalidKey             = newRuleError("OUTPUT_INVALID_KEY")
	ErrOutputsAmountOverflow        = newRuleError("OUTPUTS_AMOUNT_OVERFLOW")
	ErrInputUnknownType             = newRuleError("INPUT_UNKNOWN_TYPE")
	ErrInputIdenticalKeyimages      = newRuleError("INPUT_IDENTICAL_KEYIMAGES")
	ErrInputEmptyOutputUsage        = newRuleError("INPUT_EMPTY_OUTPUT_USAGE")
	ErrInputIdenticalOutputIndexes  = newRuleError("INPUT_IDENTICAL_OUTPUT_INDEXES")
	ErrInputsAmountOverflow         = newRuleError("INPUTS_AMOUNT_OVERFLOW")
	ErrWrongAmount                  = newRuleError("WRONG_AMOUNT")
)

// Ledger rejections against a delta.
var (
	ErrInputKeyimageAlreadySpent  = newRuleError("INPUT_KEYIMAGE_ALREADY_SPENT")
	ErrInputInvalidGlobalIndex    = newRuleError("INPUT_INVALID_GLOBAL_INDEX")
	ErrInputSpendLockedOut        = newRuleError("INPUT_SPEND_LOCKED_OUT")
	ErrInputInvalidSignatures     = newRuleError("INPUT_INVALID_SIGNATURES")
	ErrInputCorruptedSignatures   = newRuleError("INPUT_CORRUPTED_SIGNATURES")
)
