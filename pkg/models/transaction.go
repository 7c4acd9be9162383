// Package models holds the domain types shared across the ingestion
// pipeline, the index store and the HTTP API: parsed blocks and
// transactions, indexed outputs, and the wire-level scan request/response
// shapes.
package models

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// IndexedOutput is the server-side record of a single P2TR output, per
// the store's schema: (tx-id, vout) is globally unique, fingerprint is
// derived and must equal fp(XOnlyKey).
type IndexedOutput struct {
	TxID         chainhash.Hash
	Vout         uint32
	BlockHeight  int32
	ScriptPubKey [34]byte
	Amount       int64
	XOnlyKey     [32]byte
	Fingerprint  uint32
}

// ParsedTransaction is a single transaction's P2TR-relevant contents as
// produced by the block parser.
type ParsedTransaction struct {
	TxID      chainhash.Hash
	Index     int
	IsCoinbase bool
	RawBytes  []byte
	Outputs   []IndexedOutput
}

// ParsedBlock is the block parser's output: a header plus every
// transaction's P2TR outputs, ready for the store to persist in one
// batch.
type ParsedBlock struct {
	Height    int32
	Hash      chainhash.Hash
	Header    [80]byte
	Timestamp int64
	Txs       []ParsedTransaction
}

// Block is the store's persisted block row. Height is primary, Hash is
// secondary-unique. IsOrphaned is the sole field ever mutated after
// insert.
type Block struct {
	Height     int32
	Hash       chainhash.Hash
	Header     [80]byte
	IsOrphaned bool
	CreatedAt  int64
}

// Candidate is a single server-side match returned from a scan query: an
// indexed output plus the block metadata a client needs to locate and
// verify it.
type Candidate struct {
	TxID         chainhash.Hash
	Vout         uint32
	Amount       int64
	ScriptPubKey [34]byte
	BlockHeight  int32
	BlockHash    chainhash.Hash
	BlockTime    int64
}

// ScanRequest is the validated form of a POST /api/v1/scan body.
type ScanRequest struct {
	ScanPubKey     []byte
	StartHeight    uint32
	EndHeight      uint32
	Prefixes       [][4]byte
	IncludeProofs  bool
}

// ScanResponse is the wire shape returned from a scan query.
type ScanResponse struct {
	Candidates     []Candidate
	ScannedBlocks  []uint32
	ServerTimeMS   int64
}

// ScanResult is a client-side verified match: a candidate the client has
// re-derived and confirmed, plus the spend tweak and label that produced
// it.
type ScanResult struct {
	Candidate Candidate
	Tweak     [32]byte
	Label     uint32
}
