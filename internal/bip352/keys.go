package bip352

import (
	"encoding/binary"

	"github.com/SakshamSinghal20/Whisper/internal/errs"
)

// ScanKeypair is the wallet's ECDH viewing keypair. Secret never leaves the
// task that constructed it — it must not be copied into logs, errors, or
// shared containers (see design notes on secret ownership).
type ScanKeypair struct {
	Secret Scalar
	Public Point
}

// NewScanKeypair derives a ScanKeypair from a 32-byte secret scalar.
func NewScanKeypair(secret []byte) (ScanKeypair, error) {
	s, err := NewScalar(secret)
	if err != nil {
		return ScanKeypair{}, err
	}
	return ScanKeypair{Secret: s, Public: s.MulG()}, nil
}

// SpendKey is the public basis point for labelled derivations. It is never
// reconstructed on the server — only the client ever builds one.
type SpendKey struct {
	Public Point
}

// NewSpendKey parses a compressed spend public key.
func NewSpendKey(compressed []byte) (SpendKey, error) {
	p, err := ParsePoint(compressed)
	if err != nil {
		return SpendKey{}, err
	}
	return SpendKey{Public: p}, nil
}

// LabelTable maps label m in {0,...,M} to its point B_m. Label 0 is the
// identity label and reuses SpendKey.Public directly, per §3.4.
type LabelTable struct {
	entries map[uint32]Point
	max     uint32
}

// BuildLabelTable constructs the labelled address table for labels
// 0..max inclusive. max is the wallet-chosen cap (≤255).
func BuildLabelTable(spend SpendKey, scanSecret Scalar, max uint32) (*LabelTable, error) {
	t := &LabelTable{
		entries: make(map[uint32]Point, max+1),
		max:     max,
	}
	t.entries[0] = spend.Public

	for m := uint32(1); m <= max; m++ {
		var mLE [4]byte
		binary.LittleEndian.PutUint32(mLE[:], m)

		h := taggedHash(tagLabel, scanSecret.Bytes()[:], mLE[:])
		labelScalar, err := NewScalar(h[:])
		if err != nil {
			return nil, err
		}

		bm, err := spend.Public.Add(labelScalar.MulG())
		if err != nil {
			return nil, err
		}
		t.entries[m] = bm
	}

	return t, nil
}

// Labels returns every (label, point) pair in the table, in ascending
// label order.
func (t *LabelTable) Labels() []uint32 {
	out := make([]uint32, 0, len(t.entries))
	for m := uint32(0); m <= t.max; m++ {
		out = append(out, m)
	}
	return out
}

// Point returns B_m for the given label, or false if m is outside the
// table's configured range.
func (t *LabelTable) Point(m uint32) (Point, bool) {
	p, ok := t.entries[m]
	return p, ok
}

// labelTweak returns the scalar addend for a non-zero label, per §4.1:
// tagged_hash("BIP0352/Label" || b_scan || m_LE32).
func labelTweak(scanSecret Scalar, m uint32) (Scalar, error) {
	if m == 0 {
		return Scalar{}, errs.New(errs.BadCrypto, "label 0 has no tweak addend")
	}
	var mLE [4]byte
	binary.LittleEndian.PutUint32(mLE[:], m)
	h := taggedHash(tagLabel, scanSecret.Bytes()[:], mLE[:])
	return NewScalar(h[:])
}
