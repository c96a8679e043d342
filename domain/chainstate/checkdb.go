package chainstate

import (
	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/util/varint"
)

// CheckOutputIndexes sweeps the whole amount-output family verifying that
// for every amount the stored indices form the dense prefix
// [0, next_global_index) with no gaps, and that the cached counters agree.
// It is a maintenance operation, not part of consensus.
func (s *ChainState) CheckOutputIndexes() error {
	previousAmount := core.Amount(math64Max)
	var nextGlobalIndex uint32
	totalCounter := 0
	stacks := 0
	cursor := s.db.Begin(amountOutputPrefix)
	defer cursor.Close()
	checkStack := func(amount core.Amount, next uint32) error {
		if counted := s.NextGlobalIndexForAmount(amount); counted != next {
			return errors.Errorf("wrong next_global_index_for_amount amount=%d counted=%d should be %d",
				amount, counted, next)
		}
		return nil
	}
	for ; !cursor.End(); cursor.Next() {
		suffix := cursor.Suffix()
		amount, rest, err := varint.ReadSqlite4(suffix)
		if err != nil {
			return errors.Wrap(err, "bad amount key")
		}
		globalIndex, rest, err := varint.ReadSqlite4(rest)
		if err != nil {
			return errors.Wrapf(err, "bad output key for amount=%d", amount)
		}
		if len(rest) != 0 {
			return errors.Errorf("excess key bytes for amount=%d global_index=%d", amount, globalIndex)
		}
		if amount != previousAmount {
			if previousAmount != core.Amount(math64Max) {
				if err := checkStack(previousAmount, nextGlobalIndex); err != nil {
					return err
				}
				stacks++
			}
			previousAmount = amount
			nextGlobalIndex = 0
		}
		if uint32(globalIndex) != nextGlobalIndex {
			return errors.Errorf("bad output index for amount=%d global_index=%d expected=%d",
				amount, globalIndex, nextGlobalIndex)
		}
		nextGlobalIndex++
		totalCounter++
		if totalCounter%2000000 == 0 {
			log.Infof("Working on amount=%d global_index=%d", amount, globalIndex)
		}
	}
	if previousAmount != core.Amount(math64Max) {
		if err := checkStack(previousAmount, nextGlobalIndex); err != nil {
			return err
		}
		stacks++
	}
	log.Infof("Total coins=%d total stacks=%d", totalCounter, stacks)
	return nil
}

const math64Max = ^uint64(0)
