package chainstate

import (
	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
)

type outputAppend struct {
	unlockTime core.UnlockMoment
	publicKey  cncrypto.PublicKey
}

type spentMark struct {
	amount      core.Amount
	globalIndex uint32
}

// DeltaState buffers tentative key-image insertions, output appends and
// spent marks over a parent state. A fresh delta is created per block and
// per pool admission attempt; nested deltas let a single transaction's
// writes be discarded atomically when a later check fails.
//
// The delta keeps a non-owning reference to its parent; stacked deltas
// form a chain, never a graph.
type DeltaState struct {
	parent          stateReader
	blockHeight     core.Height
	unlockTimestamp core.Timestamp

	keyImages     map[cncrypto.KeyImage]core.Height
	globalAmounts map[core.Amount][]outputAppend
	amountOrder   []core.Amount
	spentOutputs  []spentMark
}

// NewDeltaState stacks an empty delta over parent at the given nominal
// height and timestamp.
func NewDeltaState(blockHeight core.Height, unlockTimestamp core.Timestamp, parent stateReader) *DeltaState {
	return &DeltaState{
		parent:          parent,
		blockHeight:     blockHeight,
		unlockTimestamp: unlockTimestamp,
		keyImages:       make(map[cncrypto.KeyImage]core.Height),
		globalAmounts:   make(map[core.Amount][]outputAppend),
	}
}

// BlockHeight is the height new key images and outputs are recorded at.
func (d *DeltaState) BlockHeight() core.Height {
	return d.blockHeight
}

// UnlockTimestamp is the timestamp unlock checks run against.
func (d *DeltaState) UnlockTimestamp() core.Timestamp {
	return d.unlockTimestamp
}

// StoreKeyImage records a key image. Inserting a duplicate into the same
// delta is a programming error.
func (d *DeltaState) StoreKeyImage(keyImage cncrypto.KeyImage, height core.Height) {
	if _, ok := d.keyImages[keyImage]; ok {
		panic(errors.Errorf("duplicate key image %s in delta", keyImage))
	}
	d.keyImages[keyImage] = height
}

// DeleteKeyImage removes a key image previously stored in this delta.
func (d *DeltaState) DeleteKeyImage(keyImage cncrypto.KeyImage) {
	if _, ok := d.keyImages[keyImage]; !ok {
		panic(errors.Errorf("deleting absent key image %s from delta", keyImage))
	}
	delete(d.keyImages, keyImage)
}

// ReadKeyImage reads through to the parent; local hits report the delta's
// nominal height.
func (d *DeltaState) ReadKeyImage(keyImage cncrypto.KeyImage) (core.Height, bool) {
	if _, ok := d.keyImages[keyImage]; ok {
		return d.blockHeight, true
	}
	return d.parent.ReadKeyImage(keyImage)
}

// PushAmountOutput appends an output to the amount bucket and returns its
// global index.
func (d *DeltaState) PushAmountOutput(amount core.Amount, unlockTime core.UnlockMoment, _ core.Height, publicKey cncrypto.PublicKey) uint32 {
	parentNext := d.parent.NextGlobalIndexForAmount(amount)
	if _, ok := d.globalAmounts[amount]; !ok {
		d.amountOrder = append(d.amountOrder, amount)
	}
	d.globalAmounts[amount] = append(d.globalAmounts[amount], outputAppend{unlockTime: unlockTime, publicKey: publicKey})
	return parentNext + uint32(len(d.globalAmounts[amount])) - 1
}

// PopAmountOutput removes the bucket tail, which must match the given
// record.
func (d *DeltaState) PopAmountOutput(amount core.Amount, unlockTime core.UnlockMoment, publicKey cncrypto.PublicKey) {
	bucket := d.globalAmounts[amount]
	if len(bucket) == 0 {
		panic(errors.Errorf("pop from empty delta bucket for amount %d", amount))
	}
	tail := bucket[len(bucket)-1]
	if tail.unlockTime != unlockTime || tail.publicKey != publicKey {
		panic(errors.Errorf("popping wrong element from delta bucket for amount %d", amount))
	}
	d.globalAmounts[amount] = bucket[:len(bucket)-1]
}

// NextGlobalIndexForAmount is the parent's counter advanced by the local
// appends.
func (d *DeltaState) NextGlobalIndexForAmount(amount core.Amount) uint32 {
	parentNext := d.parent.NextGlobalIndexForAmount(amount)
	return parentNext + uint32(len(d.globalAmounts[amount]))
}

// ReadAmountOutput serves indices below the parent's counter from the
// parent and the rest from the local appends. Locally created outputs
// always read unspent: spending an output created inside the same delta is
// prohibited, which keeps the overlay algebra simple.
func (d *DeltaState) ReadAmountOutput(amount core.Amount, globalIndex uint32) (OutputRecord, bool) {
	parentNext := d.parent.NextGlobalIndexForAmount(amount)
	if globalIndex < parentNext {
		return d.parent.ReadAmountOutput(amount, globalIndex)
	}
	localIndex := globalIndex - parentNext
	bucket := d.globalAmounts[amount]
	if int(localIndex) >= len(bucket) {
		return OutputRecord{}, false
	}
	return OutputRecord{
		UnlockTime: bucket[localIndex].unlockTime,
		PublicKey:  bucket[localIndex].publicKey,
		Height:     d.blockHeight,
		Spent:      false,
	}, true
}

// SpendOutput queues a spent-hint flip.
func (d *DeltaState) SpendOutput(amount core.Amount, globalIndex uint32) {
	d.spentOutputs = append(d.spentOutputs, spentMark{amount: amount, globalIndex: globalIndex})
}

// KeyImages exposes the buffered key images; the pool uses them for its
// conflict index.
func (d *DeltaState) KeyImages() map[cncrypto.KeyImage]core.Height {
	return d.keyImages
}

// Apply replays the buffered mutations into parent: key images first (in
// map order, which the keyed store does not depend on), then output
// appends amount by amount, buckets in the order they were first used and
// each bucket in production order, then spent marks. Output order per
// bucket is what keeps global indices stable.
func (d *DeltaState) Apply(parent stateWriter) {
	for keyImage, height := range d.keyImages {
		parent.StoreKeyImage(keyImage, height)
	}
	for _, amount := range d.amountOrder {
		for _, el := range d.globalAmounts[amount] {
			parent.PushAmountOutput(amount, el.unlockTime, d.blockHeight, el.publicKey)
		}
	}
	for _, mark := range d.spentOutputs {
		parent.SpendOutput(mark.amount, mark.globalIndex)
	}
}

// Clear resets the delta for a fresh block at the given height.
func (d *DeltaState) Clear(newBlockHeight core.Height) {
	d.blockHeight = newBlockHeight
	d.keyImages = make(map[cncrypto.KeyImage]core.Height)
	d.globalAmounts = make(map[core.Amount][]outputAppend)
	d.amountOrder = nil
	d.spentOutputs = nil
}
