package templateprovider

import (
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/sv2tp/errors"
	"github.com/bsv-blockchain/sv2tp/pkg/sv2wire"
)

// maxScriptSigPrefixLen bounds the coinbase scriptSig prefix the TP forwards to
// clients. A coinbase scriptSig may be up to 100 bytes; capping the prefix at 8
// guarantees clients keep at least 92 bytes of scriptSig space.
const maxScriptSigPrefixLen = 8

// CoinbaseTemplate is the coinbase split the TP assembles from the node's coinbase
// candidate: the fixed fields plus whatever outputs the node requires.
type CoinbaseTemplate struct {
	Version         uint32
	Sequence        uint32
	ScriptSigPrefix []byte

	// Witness is the first (and only) witness stack element of the coinbase
	// input, currently the BIP 141 witness reserved value. A future soft fork
	// may move the reserved value elsewhere, but there will still be a coinbase
	// witness. Nil for templates without witness data.
	Witness []byte

	ValueRemaining uint64
	OutputsCount   uint32
	Outputs        []byte
	LockTime       uint32
}

// BuildCoinbaseTemplate splits the node's coinbase candidate transaction into the
// fields of NEW_TEMPLATE: the fixed prefix the node requires (height push etc.), the
// value left for the client to claim, and the serialized required outputs. The
// witness reserved value is carried separately from the transaction because the
// BSV serialization the node hands over has no witness section.
func BuildCoinbaseTemplate(coinbase *bt.Tx, witnessReserve []byte) (*CoinbaseTemplate, error) {
	if coinbase == nil || len(coinbase.Inputs) != 1 {
		return nil, errors.NewInvalidArgumentError("coinbase candidate must have exactly one input")
	}

	in := coinbase.Inputs[0]

	var prefix []byte
	if in.UnlockingScript != nil {
		prefix = []byte(*in.UnlockingScript)
	}

	if len(prefix) > maxScriptSigPrefixLen {
		return nil, errors.NewInvalidArgumentError("coinbase scriptSig prefix is %d bytes, max %d", len(prefix), maxScriptSigPrefixLen)
	}

	var valueRemaining uint64

	outputs := make([]byte, 0, 64)
	for _, out := range coinbase.Outputs {
		valueRemaining += out.Satoshis
		outputs = append(outputs, out.Bytes()...)
	}

	ct := &CoinbaseTemplate{
		Version:         coinbase.Version,
		Sequence:        in.SequenceNumber,
		ScriptSigPrefix: prefix,
		Witness:         witnessReserve,
		ValueRemaining:  valueRemaining,
		OutputsCount:    uint32(len(coinbase.Outputs)),
		Outputs:         outputs,
		LockTime:        coinbase.LockTime,
	}

	return ct, nil
}

// newTemplateMessage builds the NEW_TEMPLATE message for one template.
func newTemplateMessage(templateID uint64, future bool, block *Block, cb *CoinbaseTemplate, merklePath []chainhash.Hash) *sv2wire.NewTemplate {
	path := make([][32]byte, 0, len(merklePath))
	for _, h := range merklePath {
		path = append(path, [32]byte(h))
	}

	return &sv2wire.NewTemplate{
		TemplateID:               templateID,
		FutureTemplate:           future,
		Version:                  block.Version,
		CoinbaseTxVersion:        cb.Version,
		CoinbasePrefix:           cb.ScriptSigPrefix,
		CoinbaseTxInputSequence:  cb.Sequence,
		CoinbaseTxValueRemaining: cb.ValueRemaining,
		CoinbaseTxOutputsCount:   cb.OutputsCount,
		CoinbaseTxOutputs:        cb.Outputs,
		CoinbaseTxLocktime:       cb.LockTime,
		MerklePath:               path,
	}
}

// setNewPrevHashMessage builds the SET_NEW_PREV_HASH message binding templateID to
// the template block's tip.
func setNewPrevHashMessage(templateID uint64, block *Block) *sv2wire.SetNewPrevHash {
	return &sv2wire.SetNewPrevHash{
		TemplateID:      templateID,
		PrevHash:        [32]byte(block.PrevHash),
		HeaderTimestamp: block.Time,
		NBits:           block.NBits,
		Target:          targetFromNBits(block.NBits),
	}
}

// targetFromNBits expands the compact difficulty encoding into the full 256-bit
// target, little-endian as Sv2 u256 fields are.
func targetFromNBits(nBits uint32) [32]byte {
	mantissa := big.NewInt(int64(nBits & 0x007fffff))
	exponent := int(nBits >> 24)

	target := new(big.Int)
	if exponent <= 3 {
		target.Rsh(mantissa, uint(8*(3-exponent)))
	} else {
		target.Lsh(mantissa, uint(8*(exponent-3)))
	}

	var be [32]byte
	target.FillBytes(be[:])

	var le [32]byte
	for i := 0; i < 32; i++ {
		le[i] = be[31-i]
	}

	return le
}

// sumFees totals a template's per-transaction fees.
func sumFees(fees []int64) int64 {
	var total int64
	for _, f := range fees {
		total += f
	}

	return total
}
