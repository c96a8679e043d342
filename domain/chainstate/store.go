package chainstate

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/domain/serialization"
	"github.com/cryonero/cryonerod/util/varint"
)

// Key families of the persistent index. Composite suffixes use ordered
// varints so lexicographic key order equals numeric order.
var (
	keyImagePrefix           = []byte("i")
	amountOutputPrefix       = []byte("a")
	blockGlobalIndicesPrefix = []byte("b")
	blockGlobalIndicesSuffix = []byte("g")
	headerPrefix             = []byte("h")
	rawBlockPrefix           = []byte("r")
	mainChainPrefix          = []byte("m")
	tipKey                   = []byte("$tip")
	versionKey               = []byte("$version")
)

const versionCurrent = "5"

func keyImageKey(keyImage cncrypto.KeyImage) []byte {
	return append(append(make([]byte, 0, 1+len(keyImage)), keyImagePrefix...), keyImage[:]...)
}

func amountOutputKey(amount core.Amount, globalIndex uint32) []byte {
	key := append(make([]byte, 0, 1+2*varint.MaxLen), amountOutputPrefix...)
	key = varint.AppendSqlite4(key, amount)
	return varint.AppendSqlite4(key, uint64(globalIndex))
}

func amountPrefixKey(amount core.Amount) []byte {
	key := append(make([]byte, 0, 1+varint.MaxLen), amountOutputPrefix...)
	return varint.AppendSqlite4(key, amount)
}

func blockGlobalIndicesKey(blockHash cncrypto.Hash) []byte {
	key := append(make([]byte, 0, 2+len(blockHash)), blockGlobalIndicesPrefix...)
	key = append(key, blockHash[:]...)
	return append(key, blockGlobalIndicesSuffix...)
}

func headerKey(blockHash cncrypto.Hash) []byte {
	return append(append(make([]byte, 0, 1+len(blockHash)), headerPrefix...), blockHash[:]...)
}

func rawBlockKey(blockHash cncrypto.Hash) []byte {
	return append(append(make([]byte, 0, 1+len(blockHash)), rawBlockPrefix...), blockHash[:]...)
}

func mainChainKey(height core.Height) []byte {
	return varint.AppendSqlite4(append(make([]byte, 0, 1+varint.MaxLen), mainChainPrefix...), uint64(height))
}

func serializeOutputRecord(record OutputRecord) []byte {
	buf := make([]byte, 0, 8+cncrypto.HashSize+4+1)
	buf = binary.LittleEndian.AppendUint64(buf, record.UnlockTime)
	buf = append(buf, record.PublicKey[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, record.Height)
	if record.Spent {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func deserializeOutputRecord(data []byte) OutputRecord {
	if len(data) != 8+cncrypto.HashSize+4+1 {
		panic(errors.Errorf("output record has %d bytes", len(data)))
	}
	var record OutputRecord
	record.UnlockTime = binary.LittleEndian.Uint64(data)
	copy(record.PublicKey[:], data[8:])
	record.Height = binary.LittleEndian.Uint32(data[8+cncrypto.HashSize:])
	record.Spent = data[8+cncrypto.HashSize+4] != 0
	return record
}

func serializeHeaderSummary(info *core.HeaderSummary) []byte {
	var buf []byte
	buf = append(buf, info.MajorVersion, info.MinorVersion)
	buf = binary.LittleEndian.AppendUint32(buf, info.Height)
	buf = append(buf, info.Hash[:]...)
	buf = append(buf, info.PreviousBlockHash[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, info.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, info.Nonce)
	buf = binary.LittleEndian.AppendUint64(buf, info.CumulativeDifficulty.Hi)
	buf = binary.LittleEndian.AppendUint64(buf, info.CumulativeDifficulty.Lo)
	buf = binary.LittleEndian.AppendUint64(buf, info.Difficulty)
	buf = binary.LittleEndian.AppendUint64(buf, info.BaseReward)
	buf = binary.LittleEndian.AppendUint64(buf, info.Reward)
	buf = binary.LittleEndian.AppendUint32(buf, info.BlockSize)
	buf = binary.LittleEndian.AppendUint32(buf, info.TransactionsCumulativeSize)
	buf = binary.LittleEndian.AppendUint64(buf, info.AlreadyGeneratedCoins)
	buf = binary.LittleEndian.AppendUint64(buf, info.AlreadyGeneratedTransactions)
	buf = binary.LittleEndian.AppendUint32(buf, info.SizeMedian)
	buf = binary.LittleEndian.AppendUint32(buf, info.TimestampMedian)
	buf = binary.LittleEndian.AppendUint32(buf, info.EffectiveSizeMedian)
	buf = binary.LittleEndian.AppendUint64(buf, info.TotalFeeAmount)
	return buf
}

func deserializeHeaderSummary(data []byte) core.HeaderSummary {
	var info core.HeaderSummary
	r := bytes.NewReader(data)
	read := func(p []byte) {
		if _, err := io.ReadFull(r, p); err != nil {
			panic(errors.Wrap(err, "corrupted header summary"))
		}
	}
	var scratch [8]byte
	readU32 := func() uint32 {
		read(scratch[:4])
		return binary.LittleEndian.Uint32(scratch[:4])
	}
	readU64 := func() uint64 {
		read(scratch[:8])
		return binary.LittleEndian.Uint64(scratch[:8])
	}
	read(scratch[:2])
	info.MajorVersion, info.MinorVersion = scratch[0], scratch[1]
	info.Height = readU32()
	read(info.Hash[:])
	read(info.PreviousBlockHash[:])
	info.Timestamp = readU32()
	info.Nonce = readU32()
	info.CumulativeDifficulty.Hi = readU64()
	info.CumulativeDifficulty.Lo = readU64()
	info.Difficulty = readU64()
	info.BaseReward = readU64()
	info.Reward = readU64()
	info.BlockSize = readU32()
	info.TransactionsCumulativeSize = readU32()
	info.AlreadyGeneratedCoins = readU64()
	info.AlreadyGeneratedTransactions = readU64()
	info.SizeMedian = readU32()
	info.TimestampMedian = readU32()
	info.EffectiveSizeMedian = readU32()
	info.TotalFeeAmount = readU64()
	if r.Len() != 0 {
		panic(errors.Errorf("%d trailing bytes in header summary", r.Len()))
	}
	return info
}

// StoreKeyImage records a key image at a height. A duplicate insertion is
// an integrity violation. Recording a key image evicts any pooled
// transaction that also claims it.
func (s *ChainState) StoreKeyImage(keyImage cncrypto.KeyImage, height core.Height) {
	heightValue := binary.LittleEndian.AppendUint32(nil, height)
	s.db.Put(keyImageKey(keyImage), heightValue, true)
	if txID, ok := s.memoryStateKiTx[keyImage]; ok {
		s.removeFromPool(txID)
	}
}

// DeleteKeyImage removes a key image; it must exist.
func (s *ChainState) DeleteKeyImage(keyImage cncrypto.KeyImage) {
	s.db.Del(keyImageKey(keyImage), true)
}

// ReadKeyImage returns the height a key image was recorded at.
func (s *ChainState) ReadKeyImage(keyImage cncrypto.KeyImage) (core.Height, bool) {
	value, ok := s.db.Get(keyImageKey(keyImage))
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(value), true
}

// PushAmountOutput appends an output at the amount bucket tail and
// advances the cached counter.
func (s *ChainState) PushAmountOutput(amount core.Amount, unlockTime core.UnlockMoment, blockHeight core.Height, publicKey cncrypto.PublicKey) uint32 {
	globalIndex := s.NextGlobalIndexForAmount(amount)
	record := OutputRecord{UnlockTime: unlockTime, PublicKey: publicKey, Height: blockHeight}
	s.db.Put(amountOutputKey(amount, globalIndex), serializeOutputRecord(record), true)
	s.nextGiForAmount[amount] = globalIndex + 1
	return globalIndex
}

// PopAmountOutput removes the bucket tail, asserting it matches the given
// record. The assertion is a cheap corruption check on every undo.
func (s *ChainState) PopAmountOutput(amount core.Amount, unlockTime core.UnlockMoment, publicKey cncrypto.PublicKey) {
	nextGi := s.NextGlobalIndexForAmount(amount)
	if nextGi == 0 {
		panic(errors.Errorf("pop_amount_output underflow for amount %d", amount))
	}
	nextGi--
	s.nextGiForAmount[amount] = nextGi
	record, ok := s.ReadAmountOutput(amount, nextGi)
	if !ok {
		panic(errors.Errorf("pop_amount_output element %d:%d does not exist", amount, nextGi))
	}
	if record.Spent || record.UnlockTime != unlockTime || record.PublicKey != publicKey {
		panic(errors.Errorf("pop_amount_output popping wrong element %d:%d", amount, nextGi))
	}
	s.db.Del(amountOutputKey(amount, nextGi), true)
}

// NextGlobalIndexForAmount returns the first free index of the amount
// bucket, rebuilding the cache with a reverse cursor on first touch.
func (s *ChainState) NextGlobalIndexForAmount(amount core.Amount) uint32 {
	if next, ok := s.nextGiForAmount[amount]; ok {
		return next
	}
	cursor := s.db.RBegin(amountPrefixKey(amount))
	defer cursor.Close()
	var next uint32
	if !cursor.End() {
		tailIndex, _, err := varint.ReadSqlite4(cursor.Suffix())
		if err != nil {
			panic(errors.Wrapf(err, "corrupted amount output key for amount %d", amount))
		}
		next = uint32(tailIndex) + 1
	}
	s.nextGiForAmount[amount] = next
	return next
}

// ReadAmountOutput returns the output record at (amount, globalIndex).
func (s *ChainState) ReadAmountOutput(amount core.Amount, globalIndex uint32) (OutputRecord, bool) {
	value, ok := s.db.Get(amountOutputKey(amount, globalIndex))
	if !ok {
		return OutputRecord{}, false
	}
	return deserializeOutputRecord(value), true
}

// SpendOutput flips the spent hint on. A missing record is a no-op.
func (s *ChainState) SpendOutput(amount core.Amount, globalIndex uint32) {
	s.setOutputSpent(amount, globalIndex, true)
}

func (s *ChainState) setOutputSpent(amount core.Amount, globalIndex uint32, spent bool) {
	key := amountOutputKey(amount, globalIndex)
	value, ok := s.db.Get(key)
	if !ok {
		return
	}
	record := deserializeOutputRecord(value)
	record.Spent = spent
	s.db.Put(key, serializeOutputRecord(record), false)
}

func (s *ChainState) storeBlockGlobalIndices(blockHash cncrypto.Hash, indices BlockGlobalIndices) {
	s.db.Put(blockGlobalIndicesKey(blockHash), serialization.SerializeGlobalIndices(indices), true)
}

func (s *ChainState) deleteBlockGlobalIndices(blockHash cncrypto.Hash) {
	s.db.Del(blockGlobalIndicesKey(blockHash), true)
}

// ReadBlockOutputGlobalIndices returns the index vectors a committed block
// assigned, coinbase first. Wallet sync reads these.
func (s *ChainState) ReadBlockOutputGlobalIndices(blockHash cncrypto.Hash) (BlockGlobalIndices, bool) {
	value, ok := s.db.Get(blockGlobalIndicesKey(blockHash))
	if !ok {
		return nil, false
	}
	indices, err := serialization.DeserializeGlobalIndices(value)
	if err != nil {
		panic(errors.Wrapf(err, "corrupted global indices for block %s", blockHash))
	}
	return indices, true
}

func (s *ChainState) storeHeader(info *core.HeaderSummary) {
	s.db.Put(headerKey(info.Hash), serializeHeaderSummary(info), false)
}

func (s *ChainState) readHeader(blockHash cncrypto.Hash) (core.HeaderSummary, bool) {
	value, ok := s.db.Get(headerKey(blockHash))
	if !ok {
		return core.HeaderSummary{}, false
	}
	return deserializeHeaderSummary(value), true
}

func (s *ChainState) storeRawBlock(blockHash cncrypto.Hash, raw *core.RawBlock) {
	buf := varint.Append(nil, uint64(len(raw.Block)))
	buf = append(buf, raw.Block...)
	buf = varint.Append(buf, uint64(len(raw.Transactions)))
	for _, tx := range raw.Transactions {
		buf = varint.Append(buf, uint64(len(tx)))
		buf = append(buf, tx...)
	}
	s.db.Put(rawBlockKey(blockHash), buf, false)
}

func (s *ChainState) readRawBlock(blockHash cncrypto.Hash) (core.RawBlock, bool) {
	value, ok := s.db.Get(rawBlockKey(blockHash))
	if !ok {
		return core.RawBlock{}, false
	}
	var raw core.RawBlock
	r := bytes.NewReader(value)
	blockLen, err := varint.ReadUvarint(r)
	if err != nil {
		panic(errors.Wrapf(err, "corrupted raw block %s", blockHash))
	}
	raw.Block = make([]byte, blockLen)
	if _, err := io.ReadFull(r, raw.Block); err != nil {
		panic(errors.Wrapf(err, "corrupted raw block %s", blockHash))
	}
	txCount, err := varint.ReadUvarint(r)
	if err != nil {
		panic(errors.Wrapf(err, "corrupted raw block %s", blockHash))
	}
	raw.Transactions = make([][]byte, txCount)
	for i := range raw.Transactions {
		txLen, err := varint.ReadUvarint(r)
		if err != nil {
			panic(errors.Wrapf(err, "corrupted raw block %s", blockHash))
		}
		raw.Transactions[i] = make([]byte, txLen)
		if _, err := io.ReadFull(r, raw.Transactions[i]); err != nil {
			panic(errors.Wrapf(err, "corrupted raw block %s", blockHash))
		}
	}
	return raw, true
}

func (s *ChainState) storeMainChainHash(height core.Height, blockHash cncrypto.Hash) {
	s.db.Put(mainChainKey(height), blockHash[:], false)
}

func (s *ChainState) deleteMainChainHash(height core.Height) {
	s.db.Del(mainChainKey(height), true)
}

// MainChainHash returns the hash of the main-chain block at a height.
func (s *ChainState) MainChainHash(height core.Height) (cncrypto.Hash, bool) {
	value, ok := s.db.Get(mainChainKey(height))
	if !ok {
		return cncrypto.Hash{}, false
	}
	var blockHash cncrypto.Hash
	copy(blockHash[:], value)
	return blockHash, true
}

func (s *ChainState) storeTip(blockHash cncrypto.Hash) {
	s.db.Put(tipKey, blockHash[:], false)
}

func (s *ChainState) readTipHash() (cncrypto.Hash, bool) {
	value, ok := s.db.Get(tipKey)
	if !ok {
		return cncrypto.Hash{}, false
	}
	var blockHash cncrypto.Hash
	copy(blockHash[:], value)
	return blockHash, true
}
