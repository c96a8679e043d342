package chainstate

import (
	"testing"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
)

// memoryState is a trivial stateWriter used to test the delta algebra
// without a database.
type memoryState struct {
	keyImages map[cncrypto.KeyImage]core.Height
	buckets   map[core.Amount][]OutputRecord
}

func newMemoryState() *memoryState {
	return &memoryState{
		keyImages: make(map[cncrypto.KeyImage]core.Height),
		buckets:   make(map[core.Amount][]OutputRecord),
	}
}

func (m *memoryState) ReadKeyImage(keyImage cncrypto.KeyImage) (core.Height, bool) {
	height, ok := m.keyImages[keyImage]
	return height, ok
}

func (m *memoryState) ReadAmountOutput(amount core.Amount, globalIndex uint32) (OutputRecord, bool) {
	bucket := m.buckets[amount]
	if int(globalIndex) >= len(bucket) {
		return OutputRecord{}, false
	}
	return bucket[globalIndex], true
}

func (m *memoryState) NextGlobalIndexForAmount(amount core.Amount) uint32 {
	return uint32(len(m.buckets[amount]))
}

func (m *memoryState) StoreKeyImage(keyImage cncrypto.KeyImage, height core.Height) {
	if _, ok := m.keyImages[keyImage]; ok {
		panic("duplicate key image")
	}
	m.keyImages[keyImage] = height
}

func (m *memoryState) DeleteKeyImage(keyImage cncrypto.KeyImage) {
	delete(m.keyImages, keyImage)
}

func (m *memoryState) PushAmountOutput(amount core.Amount, unlockTime core.UnlockMoment, height core.Height, publicKey cncrypto.PublicKey) uint32 {
	m.buckets[amount] = append(m.buckets[amount], OutputRecord{UnlockTime: unlockTime, PublicKey: publicKey, Height: height})
	return uint32(len(m.buckets[amount])) - 1
}

func (m *memoryState) PopAmountOutput(amount core.Amount, unlockTime core.UnlockMoment, publicKey cncrypto.PublicKey) {
	bucket := m.buckets[amount]
	m.buckets[amount] = bucket[:len(bucket)-1]
}

func (m *memoryState) SpendOutput(amount core.Amount, globalIndex uint32) {
	m.buckets[amount][globalIndex].Spent = true
}

func pk(b byte) cncrypto.PublicKey {
	var key cncrypto.PublicKey
	key[0] = b
	return key
}

func TestDeltaReadThrough(t *testing.T) {
	parent := newMemoryState()
	parent.PushAmountOutput(7, 100, 3, pk(1))
	var parentImage cncrypto.KeyImage
	parentImage[0] = 0xaa
	parent.StoreKeyImage(parentImage, 3)

	delta := NewDeltaState(9, 500, parent)
	if height, ok := delta.ReadKeyImage(parentImage); !ok || height != 3 {
		t.Errorf("parent key image read %d, %v", height, ok)
	}
	var localImage cncrypto.KeyImage
	localImage[0] = 0xbb
	delta.StoreKeyImage(localImage, 9)
	// A local hit reports the delta's nominal height.
	if height, ok := delta.ReadKeyImage(localImage); !ok || height != 9 {
		t.Errorf("local key image read %d, %v", height, ok)
	}

	if next := delta.NextGlobalIndexForAmount(7); next != 1 {
		t.Errorf("next gi before append = %d", next)
	}
	gi := delta.PushAmountOutput(7, 200, 0, pk(2))
	if gi != 1 {
		t.Errorf("appended at gi %d, want 1", gi)
	}
	if next := delta.NextGlobalIndexForAmount(7); next != 2 {
		t.Errorf("next gi after append = %d", next)
	}
	// Below the parent counter reads delegate to the parent.
	record, ok := delta.ReadAmountOutput(7, 0)
	if !ok || record.PublicKey != pk(1) || record.Height != 3 {
		t.Errorf("parent record read wrong: %+v", record)
	}
	// Local appends read back unspent at the delta height.
	record, ok = delta.ReadAmountOutput(7, 1)
	if !ok || record.PublicKey != pk(2) || record.Height != 9 || record.Spent {
		t.Errorf("local record read wrong: %+v", record)
	}
	if _, ok := delta.ReadAmountOutput(7, 2); ok {
		t.Error("read past the local appends succeeded")
	}
}

func TestDeltaApplyOrderAndClear(t *testing.T) {
	parent := newMemoryState()
	delta := NewDeltaState(5, 0, parent)
	var image cncrypto.KeyImage
	image[0] = 1
	delta.StoreKeyImage(image, 5)
	delta.PushAmountOutput(9, 0, 0, pk(1))
	delta.PushAmountOutput(3, 0, 0, pk(2))
	delta.PushAmountOutput(9, 0, 0, pk(3))
	delta.Apply(parent)

	if len(parent.buckets[9]) != 2 || len(parent.buckets[3]) != 1 {
		t.Fatalf("bucket sizes after apply: %d, %d", len(parent.buckets[9]), len(parent.buckets[3]))
	}
	if parent.buckets[9][0].PublicKey != pk(1) || parent.buckets[9][1].PublicKey != pk(3) {
		t.Error("append order within a bucket not preserved")
	}
	if parent.buckets[9][0].Height != 5 {
		t.Errorf("apply height = %d, want the delta height", parent.buckets[9][0].Height)
	}
	if _, ok := parent.ReadKeyImage(image); !ok {
		t.Error("key image not applied")
	}

	delta.Clear(6)
	if delta.BlockHeight() != 6 {
		t.Error("Clear did not set the height")
	}
	if delta.NextGlobalIndexForAmount(9) != 2 {
		t.Error("cleared delta must read through to the parent only")
	}
}

func TestNestedDeltaDiscard(t *testing.T) {
	parent := newMemoryState()
	parent.PushAmountOutput(7, 0, 1, pk(1))
	blockDelta := NewDeltaState(5, 0, parent)
	txDelta := NewDeltaState(5, 0, blockDelta)
	var image cncrypto.KeyImage
	image[0] = 9
	txDelta.StoreKeyImage(image, 5)
	txDelta.PushAmountOutput(7, 0, 0, pk(2))

	// Dropping the nested delta leaves the block delta untouched.
	if _, ok := blockDelta.ReadKeyImage(image); ok {
		t.Error("discarded nested writes leaked into the block delta")
	}
	if blockDelta.NextGlobalIndexForAmount(7) != 1 {
		t.Error("discarded append leaked into the block delta")
	}

	// Applying folds the nested writes one level down, not further.
	txDelta2 := NewDeltaState(5, 0, blockDelta)
	txDelta2.StoreKeyImage(image, 5)
	txDelta2.Apply(blockDelta)
	if _, ok := blockDelta.ReadKeyImage(image); !ok {
		t.Error("apply did not reach the block delta")
	}
	if _, ok := parent.ReadKeyImage(image); ok {
		t.Error("apply leaked past the block delta")
	}
}

func TestDeltaDuplicateKeyImagePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate key image insert did not panic")
		}
	}()
	delta := NewDeltaState(1, 0, newMemoryState())
	var image cncrypto.KeyImage
	delta.StoreKeyImage(image, 1)
	delta.StoreKeyImage(image, 1)
}
