// Package blockparser decodes raw Bitcoin blocks in consensus encoding
// into the structured form the index store persists: a header, its
// height, and every transaction's Pay-to-Taproot outputs.
package blockparser

import (
	"bytes"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/SakshamSinghal20/Whisper/internal/errs"
	"github.com/SakshamSinghal20/Whisper/pkg/models"
)

// MaxOutputAmount is the upper bound on a retained output's satoshi
// value, per §4.2: amounts outside [0, 2.1e15] are rejected.
const MaxOutputAmount = 2_100_000_000_000_000

// Parser decodes raw blocks. It holds no state; a single instance is
// safe for concurrent use.
type Parser struct {
	// HeightFallback is consulted when the coinbase script does not
	// encode a BIP-34 height unambiguously. It may be nil, in which
	// case such blocks fail with BadBlock.
	HeightFallback func(blockHash [32]byte) (int32, error)
}

// New returns a Parser with no external height fallback configured.
func New() *Parser {
	return &Parser{}
}

// ParseBlock decodes a raw serialised block and extracts every P2TR
// output. A malformed transaction invalidates the entire block — there
// is no such thing as a partial block under Bitcoin consensus.
func (p *Parser) ParseBlock(raw []byte) (*models.ParsedBlock, error) {
	var msg wire.MsgBlock
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errs.Wrap(errs.BadBlock, err, "block deserialise failed")
	}

	hash := msg.BlockHash()

	height, err := p.blockHeight(&msg, hash)
	if err != nil {
		return nil, err
	}

	var header [80]byte
	if err := serializeHeader(&msg.Header, header[:]); err != nil {
		return nil, errs.Wrap(errs.BadBlock, err, "header serialise failed")
	}

	txs := make([]models.ParsedTransaction, 0, len(msg.Transactions))
	for i, tx := range msg.Transactions {
		outputs, err := parseOutputs(tx)
		if err != nil {
			return nil, errs.Wrap(errs.BadBlock, err, "transaction decode failed")
		}

		var rawTx bytes.Buffer
		if err := tx.Serialize(&rawTx); err != nil {
			return nil, errs.Wrap(errs.BadBlock, err, "transaction re-serialise failed")
		}

		txID := tx.TxHash()
		for j := range outputs {
			outputs[j].TxID = txID
			outputs[j].BlockHeight = height
		}

		txs = append(txs, models.ParsedTransaction{
			TxID:       txID,
			Index:      i,
			IsCoinbase: i == 0,
			RawBytes:   rawTx.Bytes(),
			Outputs:    outputs,
		})
	}

	return &models.ParsedBlock{
		Height:    height,
		Hash:      hash,
		Header:    header,
		Timestamp: msg.Header.Timestamp.Unix(),
		Txs:       txs,
	}, nil
}

// parseOutputs applies the P2TR filter and amount bounds to every output
// of a single transaction, per §4.2.
func parseOutputs(tx *wire.MsgTx) ([]models.IndexedOutput, error) {
	outputs := make([]models.IndexedOutput, 0, len(tx.TxOut))
	for vout, out := range tx.TxOut {
		if !isP2TR(out.PkScript) {
			continue
		}
		if out.Value < 0 || out.Value > MaxOutputAmount {
			return nil, errs.Newf(errs.BadBlock, "output %d: amount %s out of bounds", vout, btcutil.Amount(out.Value))
		}

		var script [34]byte
		copy(script[:], out.PkScript)
		var xonly [32]byte
		copy(xonly[:], out.PkScript[2:34])

		outputs = append(outputs, models.IndexedOutput{
			Vout:         uint32(vout),
			ScriptPubKey: script,
			Amount:       out.Value,
			XOnlyKey:     xonly,
			Fingerprint:  fingerprint(xonly),
		})
	}
	return outputs, nil
}

// isP2TR reports whether a scriptPubKey is exactly the 34-byte Taproot
// form: 0x51 0x20 <32-byte x-only key>.
func isP2TR(script []byte) bool {
	return len(script) == 34 && script[0] == 0x51 && script[1] == 0x20
}

func fingerprint(x [32]byte) uint32 {
	return uint32(x[0])<<24 | uint32(x[1])<<16 | uint32(x[2])<<8 | uint32(x[3])
}

// blockHeight recovers the height from the coinbase's BIP-34 encoding,
// falling back to the external RPC collaborator when the encoding is
// ambiguous or absent.
func (p *Parser) blockHeight(msg *wire.MsgBlock, hash [32]byte) (int32, error) {
	if len(msg.Transactions) == 0 {
		return 0, errs.New(errs.BadBlock, "block has no coinbase transaction")
	}

	height, err := extractCoinbaseHeight(msg.Transactions[0])
	if err == nil {
		return height, nil
	}

	if p.HeightFallback == nil {
		return 0, errs.Wrap(errs.BadBlock, err, "height unavailable and no fallback configured")
	}

	height, fbErr := p.HeightFallback(hash)
	if fbErr != nil {
		return 0, errs.Wrap(errs.BadBlock, fbErr, "height fallback failed")
	}
	return height, nil
}

// extractCoinbaseHeight decodes the BIP-34 height push from the
// coinbase's first input script: a minimal little-endian push of 1-8
// bytes immediately following the length prefix.
func extractCoinbaseHeight(coinbase *wire.MsgTx) (int32, error) {
	if len(coinbase.TxIn) == 0 {
		return 0, errs.New(errs.BadBlock, "coinbase has no inputs")
	}
	sig := coinbase.TxIn[0].SignatureScript
	if len(sig) < 2 {
		return 0, errs.New(errs.BadBlock, "coinbase script too short for BIP-34 height")
	}

	serializedLen := int(sig[0])
	if serializedLen < 1 || serializedLen > 8 {
		return 0, errs.New(errs.BadBlock, "BIP-34 height push length out of range")
	}
	if len(sig) < serializedLen+1 {
		return 0, errs.New(errs.BadBlock, "BIP-34 height push truncated")
	}

	var height int64
	for i := serializedLen - 1; i >= 0; i-- {
		height = height<<8 | int64(sig[1+i])
	}
	if height < 0 || height > math.MaxInt32 {
		return 0, errs.New(errs.BadBlock, "decoded height out of int32 range")
	}
	return int32(height), nil
}

// serializeHeader writes the 80-byte consensus header encoding into dst.
func serializeHeader(h *wire.BlockHeader, dst []byte) error {
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		return err
	}
	copy(dst, buf.Bytes())
	return nil
}
