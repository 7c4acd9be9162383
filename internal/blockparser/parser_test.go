package blockparser

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func bip34Script(height int32) []byte {
	var b []byte
	v := height
	for v > 0 {
		b = append(b, byte(v&0xff))
		v >>= 8
	}
	if len(b) == 0 {
		b = []byte{0}
	}
	script := make([]byte, 0, len(b)+1)
	script = append(script, byte(len(b)))
	script = append(script, b...)
	return script
}

func p2trScript(fill byte) []byte {
	s := make([]byte, 34)
	s[0], s[1] = 0x51, 0x20
	for i := 2; i < 34; i++ {
		s[i] = fill
	}
	return s
}

func buildBlock(t *testing.T, height int32, outs []*wire.TxOut) []byte {
	t.Helper()
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  bip34Script(height),
		Sequence:         0xffffffff,
	})
	for _, o := range outs {
		coinbase.AddTxOut(o)
	}

	header := wire.BlockHeader{
		Version:    1,
		PrevBlock:  chainhash.Hash{},
		MerkleRoot: chainhash.Hash{},
		Timestamp:  time.Unix(1700000000, 0),
		Bits:       0x1d00ffff,
		Nonce:      0,
	}
	blk := wire.MsgBlock{Header: header, Transactions: []*wire.MsgTx{coinbase}}

	var buf bytes.Buffer
	if err := blk.Serialize(&buf); err != nil {
		t.Fatalf("serialize fixture block: %v", err)
	}
	return buf.Bytes()
}

func TestParseBlockExtractsHeightAndP2TROutput(t *testing.T) {
	raw := buildBlock(t, 800_000, []*wire.TxOut{
		wire.NewTxOut(50_000, p2trScript(0xAB)),
	})

	p := New()
	pb, err := p.ParseBlock(raw)
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if pb.Height != 800_000 {
		t.Fatalf("Height = %d, want 800000", pb.Height)
	}
	if len(pb.Txs) != 1 {
		t.Fatalf("Txs = %d, want 1", len(pb.Txs))
	}
	outs := pb.Txs[0].Outputs
	if len(outs) != 1 {
		t.Fatalf("Outputs = %d, want 1", len(outs))
	}
	if outs[0].Amount != 50_000 {
		t.Fatalf("Amount = %d, want 50000", outs[0].Amount)
	}
	wantFP := uint32(0xABABABAB)
	if outs[0].Fingerprint != wantFP {
		t.Fatalf("Fingerprint = %x, want %x", outs[0].Fingerprint, wantFP)
	}
}

func TestParseBlockFiltersNonP2TROutputs(t *testing.T) {
	nonP2TR := wire.NewTxOut(1000, []byte{0x76, 0xa9, 0x14})
	raw := buildBlock(t, 700_000, []*wire.TxOut{nonP2TR})

	p := New()
	pb, err := p.ParseBlock(raw)
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if len(pb.Txs[0].Outputs) != 0 {
		t.Fatalf("expected non-P2TR output to be filtered out, got %d", len(pb.Txs[0].Outputs))
	}
}

func TestParseBlockRejectsOversizedAmount(t *testing.T) {
	raw := buildBlock(t, 700_001, []*wire.TxOut{
		wire.NewTxOut(MaxOutputAmount+1, p2trScript(0x01)),
	})

	p := New()
	if _, err := p.ParseBlock(raw); err == nil {
		t.Fatalf("expected rejection of amount exceeding MaxOutputAmount")
	}
}

func TestParseBlockZeroAmountRetained(t *testing.T) {
	raw := buildBlock(t, 700_002, []*wire.TxOut{
		wire.NewTxOut(0, p2trScript(0x02)),
	})

	p := New()
	pb, err := p.ParseBlock(raw)
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if len(pb.Txs[0].Outputs) != 1 {
		t.Fatalf("expected zero-amount P2TR output to be retained")
	}
}

func TestParseBlockFallsBackToHeightOracle(t *testing.T) {
	// A height push length of 9 is outside the valid BIP-34 range, so the
	// coinbase-derived height is ambiguous and the fallback must be used.
	coinbase := wire.NewMsgTx(wire.TxVersion)
	badScript := append([]byte{9}, make([]byte, 9)...)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  badScript,
		Sequence:         0xffffffff,
	})
	coinbase.AddTxOut(wire.NewTxOut(1000, p2trScript(0x03)))

	header := wire.BlockHeader{Timestamp: time.Unix(1700000001, 0), Bits: 0x1d00ffff}
	blk := wire.MsgBlock{Header: header, Transactions: []*wire.MsgTx{coinbase}}
	var buf bytes.Buffer
	if err := blk.Serialize(&buf); err != nil {
		t.Fatalf("serialize fixture block: %v", err)
	}

	called := false
	p := &Parser{HeightFallback: func(hash [32]byte) (int32, error) {
		called = true
		return 123456, nil
	}}
	pb, err := p.ParseBlock(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if !called {
		t.Fatalf("expected height fallback to be invoked")
	}
	if pb.Height != 123456 {
		t.Fatalf("Height = %d, want 123456 from fallback", pb.Height)
	}
}

func TestParseBlockFailsWithoutFallbackOnAmbiguousHeight(t *testing.T) {
	coinbase := wire.NewMsgTx(wire.TxVersion)
	badScript := []byte{0} // serializedLen 0 is out of [1,8] range
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  badScript,
		Sequence:         0xffffffff,
	})
	coinbase.AddTxOut(wire.NewTxOut(1000, p2trScript(0x04)))

	header := wire.BlockHeader{Timestamp: time.Unix(1700000002, 0), Bits: 0x1d00ffff}
	blk := wire.MsgBlock{Header: header, Transactions: []*wire.MsgTx{coinbase}}
	var buf bytes.Buffer
	if err := blk.Serialize(&buf); err != nil {
		t.Fatalf("serialize fixture block: %v", err)
	}

	p := New()
	if _, err := p.ParseBlock(buf.Bytes()); err == nil {
		t.Fatalf("expected failure when height is ambiguous and no fallback is configured")
	}
}
