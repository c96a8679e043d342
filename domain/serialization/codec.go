// Package serialization implements the canonical binary wire format for
// transactions and blocks, and the consensus hashes computed over it.
// Every encoder writes the one canonical form; decoders reject anything
// else, because transaction and block identities are hashes of these
// bytes.
package serialization

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/cryonero/cryonerod/domain/cncrypto"
	"github.com/cryonero/cryonerod/domain/core"
	"github.com/cryonero/cryonerod/util/varint"
)

// Input and output target tags of the wire format.
const (
	tagCoinbaseInput = 0xff
	tagKeyInput      = 0x02
	tagKeyOutput     = 0x02
)

var errUnknownTag = errors.New("unknown wire tag")

type reader struct {
	*bytes.Reader
}

func (r reader) uvarint() (uint64, error) {
	return varint.ReadUvarint(r.Reader)
}

func (r reader) bytes32() ([32]byte, error) {
	var out [32]byte
	_, err := io.ReadFull(r.Reader, out[:])
	return out, errors.WithStack(err)
}

func writeTransactionPrefix(buf []byte, tx *core.TransactionPrefix) []byte {
	buf = varint.Append(buf, uint64(tx.Version))
	buf = varint.Append(buf, tx.UnlockTime)
	buf = varint.Append(buf, uint64(len(tx.Inputs)))
	for _, input := range tx.Inputs {
		switch in := input.(type) {
		case core.CoinbaseInput:
			buf = append(buf, tagCoinbaseInput)
			buf = varint.Append(buf, uint64(in.BlockIndex))
		case core.KeyInput:
			buf = append(buf, tagKeyInput)
			buf = varint.Append(buf, in.Amount)
			buf = varint.Append(buf, uint64(len(in.OutputIndexes)))
			for _, offset := range in.OutputIndexes {
				buf = varint.Append(buf, uint64(offset))
			}
			buf = append(buf, in.KeyImage[:]...)
		default:
			panic(errors.Errorf("cannot serialize input of type %T", input))
		}
	}
	buf = varint.Append(buf, uint64(len(tx.Outputs)))
	for _, output := range tx.Outputs {
		buf = varint.Append(buf, output.Amount)
		switch target := output.Target.(type) {
		case core.KeyOutput:
			buf = append(buf, tagKeyOutput)
			buf = append(buf, target.Key[:]...)
		default:
			panic(errors.Errorf("cannot serialize output target of type %T", output.Target))
		}
	}
	buf = varint.Append(buf, uint64(len(tx.Extra)))
	buf = append(buf, tx.Extra...)
	return buf
}

// SerializeTransactionPrefix returns the canonical bytes of a transaction
// prefix.
func SerializeTransactionPrefix(tx *core.TransactionPrefix) []byte {
	return writeTransactionPrefix(nil, tx)
}

// SerializeTransaction returns the canonical bytes of a full transaction,
// signatures included.
func SerializeTransaction(tx *core.Transaction) []byte {
	buf := writeTransactionPrefix(nil, &tx.TransactionPrefix)
	for _, inputSignatures := range tx.Signatures {
		for _, signature := range inputSignatures {
			buf = append(buf, signature[:]...)
		}
	}
	return buf
}

func readTransactionPrefix(r reader, tx *core.TransactionPrefix) error {
	version, err := r.uvarint()
	if err != nil {
		return err
	}
	tx.Version = uint8(version)
	if tx.UnlockTime, err = r.uvarint(); err != nil {
		return err
	}
	inputCount, err := r.uvarint()
	if err != nil {
		return err
	}
	tx.Inputs = make([]core.TransactionInput, 0, inputCount)
	for i := uint64(0); i < inputCount; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return errors.WithStack(err)
		}
		switch tag {
		case tagCoinbaseInput:
			blockIndex, err := r.uvarint()
			if err != nil {
				return err
			}
			tx.Inputs = append(tx.Inputs, core.CoinbaseInput{BlockIndex: core.Height(blockIndex)})
		case tagKeyInput:
			var in core.KeyInput
			if in.Amount, err = r.uvarint(); err != nil {
				return err
			}
			offsetCount, err := r.uvarint()
			if err != nil {
				return err
			}
			in.OutputIndexes = make([]uint32, offsetCount)
			for j := range in.OutputIndexes {
				offset, err := r.uvarint()
				if err != nil {
					return err
				}
				in.OutputIndexes[j] = uint32(offset)
			}
			if in.KeyImage, err = r.bytes32(); err != nil {
				return err
			}
			tx.Inputs = append(tx.Inputs, in)
		default:
			return errors.Wrapf(errUnknownTag, "transaction input tag %#x", tag)
		}
	}
	outputCount, err := r.uvarint()
	if err != nil {
		return err
	}
	tx.Outputs = make([]core.TransactionOutput, 0, outputCount)
	for i := uint64(0); i < outputCount; i++ {
		var out core.TransactionOutput
		if out.Amount, err = r.uvarint(); err != nil {
			return err
		}
		tag, err := r.ReadByte()
		if err != nil {
			return errors.WithStack(err)
		}
		if tag != tagKeyOutput {
			return errors.Wrapf(errUnknownTag, "transaction output tag %#x", tag)
		}
		var key cncrypto.PublicKey
		if key, err = r.bytes32(); err != nil {
			return err
		}
		out.Target = core.KeyOutput{Key: key}
		tx.Outputs = append(tx.Outputs, out)
	}
	extraLen, err := r.uvarint()
	if err != nil {
		return err
	}
	tx.Extra = make([]byte, extraLen)
	if _, err := io.ReadFull(r.Reader, tx.Extra); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func readSignatures(r reader, tx *core.Transaction) error {
	if len(tx.Inputs) == 1 {
		if _, isCoinbase := tx.Inputs[0].(core.CoinbaseInput); isCoinbase {
			return nil
		}
	}
	tx.Signatures = make([][]cncrypto.Signature, len(tx.Inputs))
	for i, input := range tx.Inputs {
		keyInput, ok := input.(core.KeyInput)
		if !ok {
			return errors.Wrap(errUnknownTag, "signatures over a non-key input")
		}
		tx.Signatures[i] = make([]cncrypto.Signature, len(keyInput.OutputIndexes))
		for j := range tx.Signatures[i] {
			if _, err := io.ReadFull(r.Reader, tx.Signatures[i][j][:]); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}

// DeserializeTransaction parses a full transaction and rejects trailing
// bytes.
func DeserializeTransaction(data []byte) (core.Transaction, error) {
	var tx core.Transaction
	r := reader{bytes.NewReader(data)}
	if err := readTransactionPrefix(r, &tx.TransactionPrefix); err != nil {
		return tx, err
	}
	if err := readSignatures(r, &tx); err != nil {
		return tx, err
	}
	if r.Len() != 0 {
		return tx, errors.Errorf("%d trailing bytes after transaction", r.Len())
	}
	return tx, nil
}

func writeBlockHeader(buf []byte, header *core.BlockHeader) []byte {
	buf = varint.Append(buf, uint64(header.MajorVersion))
	buf = varint.Append(buf, uint64(header.MinorVersion))
	if header.MajorVersion == 1 {
		buf = varint.Append(buf, uint64(header.Timestamp))
		buf = append(buf, header.PreviousBlockHash[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, header.Nonce)
		return buf
	}
	buf = append(buf, header.PreviousBlockHash[:]...)
	return buf
}

func readBlockHeader(r reader, header *core.BlockHeader) error {
	major, err := r.uvarint()
	if err != nil {
		return err
	}
	header.MajorVersion = uint8(major)
	minor, err := r.uvarint()
	if err != nil {
		return err
	}
	header.MinorVersion = uint8(minor)
	if header.MajorVersion == 1 {
		timestamp, err := r.uvarint()
		if err != nil {
			return err
		}
		header.Timestamp = core.Timestamp(timestamp)
		if header.PreviousBlockHash, err = r.bytes32(); err != nil {
			return err
		}
		var nonce [4]byte
		if _, err := io.ReadFull(r.Reader, nonce[:]); err != nil {
			return errors.WithStack(err)
		}
		header.Nonce = binary.LittleEndian.Uint32(nonce[:])
		return nil
	}
	if header.MajorVersion >= 2 {
		header.PreviousBlockHash, err = r.bytes32()
		return err
	}
	return errors.Wrapf(errUnknownTag, "block major version %d", header.MajorVersion)
}

// writeParentBlock serializes the merge-mining section of a v≥2 block. The
// outer header's timestamp and nonce travel inside it. With
// hashingSerialization set, the coinbase branch is replaced by its merkle
// root the way the hashing blob requires.
func writeParentBlock(buf []byte, header *core.BlockHeader, pb *core.ParentBlock, hashingSerialization bool) []byte {
	buf = varint.Append(buf, uint64(pb.MajorVersion))
	buf = varint.Append(buf, uint64(pb.MinorVersion))
	buf = varint.Append(buf, uint64(header.Timestamp))
	buf = append(buf, pb.PreviousBlockHash[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, header.Nonce)
	if hashingSerialization {
		root := cncrypto.TreeHashFromBranch(pb.BaseTransactionBranch,
			cncrypto.ObjectHash(SerializeTransaction(&pb.BaseTransaction)), nil)
		buf = append(buf, root[:]...)
	}
	buf = varint.Append(buf, uint64(pb.TransactionCount))
	if !hashingSerialization {
		for _, hash := range pb.BaseTransactionBranch {
			buf = append(buf, hash[:]...)
		}
		buf = writeTransactionPrefix(buf, &pb.BaseTransaction.TransactionPrefix)
		buf = varint.Append(buf, uint64(len(pb.BlockchainBranch)))
		for _, hash := range pb.BlockchainBranch {
			buf = append(buf, hash[:]...)
		}
	}
	return buf
}

func readParentBlock(r reader, header *core.BlockHeader, pb *core.ParentBlock) error {
	major, err := r.uvarint()
	if err != nil {
		return err
	}
	pb.MajorVersion = uint8(major)
	minor, err := r.uvarint()
	if err != nil {
		return err
	}
	pb.MinorVersion = uint8(minor)
	timestamp, err := r.uvarint()
	if err != nil {
		return err
	}
	header.Timestamp = core.Timestamp(timestamp)
	if pb.PreviousBlockHash, err = r.bytes32(); err != nil {
		return err
	}
	var nonce [4]byte
	if _, err := io.ReadFull(r.Reader, nonce[:]); err != nil {
		return errors.WithStack(err)
	}
	header.Nonce = binary.LittleEndian.Uint32(nonce[:])
	transactionCount, err := r.uvarint()
	if err != nil {
		return err
	}
	pb.TransactionCount = uint16(transactionCount)
	branchLen := cncrypto.CoinbaseTreeDepth(int(pb.TransactionCount))
	pb.BaseTransactionBranch = make([]cncrypto.Hash, branchLen)
	for i := range pb.BaseTransactionBranch {
		if pb.BaseTransactionBranch[i], err = r.bytes32(); err != nil {
			return err
		}
	}
	if err := readTransactionPrefix(r, &pb.BaseTransaction.TransactionPrefix); err != nil {
		return err
	}
	blockchainBranchLen, err := r.uvarint()
	if err != nil {
		return err
	}
	pb.BlockchainBranch = make([]cncrypto.Hash, blockchainBranchLen)
	for i := range pb.BlockchainBranch {
		if pb.BlockchainBranch[i], err = r.bytes32(); err != nil {
			return err
		}
	}
	return nil
}

// SerializeBlockTemplate returns the canonical bytes of a block.
func SerializeBlockTemplate(bt *core.BlockTemplate) []byte {
	buf := writeBlockHeader(nil, &bt.BlockHeader)
	if bt.MajorVersion >= 2 {
		buf = writeParentBlock(buf, &bt.BlockHeader, &bt.ParentBlock, false)
	}
	buf = writeTransactionPrefix(buf, &bt.BaseTransaction.TransactionPrefix)
	buf = varint.Append(buf, uint64(len(bt.TransactionHashes)))
	for _, hash := range bt.TransactionHashes {
		buf = append(buf, hash[:]...)
	}
	return buf
}

// DeserializeBlockTemplate parses a block blob and rejects trailing bytes.
func DeserializeBlockTemplate(data []byte) (core.BlockTemplate, error) {
	var bt core.BlockTemplate
	r := reader{bytes.NewReader(data)}
	if err := readBlockHeader(r, &bt.BlockHeader); err != nil {
		return bt, err
	}
	if bt.MajorVersion >= 2 {
		if err := readParentBlock(r, &bt.BlockHeader, &bt.ParentBlock); err != nil {
			return bt, err
		}
	}
	if err := readTransactionPrefix(r, &bt.BaseTransaction.TransactionPrefix); err != nil {
		return bt, err
	}
	hashCount, err := r.uvarint()
	if err != nil {
		return bt, err
	}
	bt.TransactionHashes = make([]cncrypto.Hash, hashCount)
	for i := range bt.TransactionHashes {
		if bt.TransactionHashes[i], err = r.bytes32(); err != nil {
			return bt, err
		}
	}
	if r.Len() != 0 {
		return bt, errors.Errorf("%d trailing bytes after block", r.Len())
	}
	return bt, nil
}

// SerializeGlobalIndices encodes the per-transaction global index vectors
// of one block.
func SerializeGlobalIndices(indices [][]uint32) []byte {
	buf := varint.Append(nil, uint64(len(indices)))
	for _, transactionIndices := range indices {
		buf = varint.Append(buf, uint64(len(transactionIndices)))
		for _, globalIndex := range transactionIndices {
			buf = varint.Append(buf, uint64(globalIndex))
		}
	}
	return buf
}

// DeserializeGlobalIndices decodes a SerializeGlobalIndices blob.
func DeserializeGlobalIndices(data []byte) ([][]uint32, error) {
	r := reader{bytes.NewReader(data)}
	outer, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	indices := make([][]uint32, outer)
	for i := range indices {
		inner, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		indices[i] = make([]uint32, inner)
		for j := range indices[i] {
			globalIndex, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			indices[i][j] = uint32(globalIndex)
		}
	}
	if r.Len() != 0 {
		return nil, errors.Errorf("%d trailing bytes after index vectors", r.Len())
	}
	return indices, nil
}
