// Package whisperclient implements the client half of the query/verify
// protocol (§4.4): building a scan request from a wallet's viewing keys,
// submitting it to a Whisper server, and verifying every candidate the
// server returns.
package whisperclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/SakshamSinghal20/Whisper/internal/bip352"
	"github.com/SakshamSinghal20/Whisper/pkg/models"
)

// TxInputs is the per-transaction data the client needs to compute
// A_sum and the ECDH shared point, obtained via the out-of-band
// transaction-inputs oracle (§6).
type TxInputs struct {
	TxID       chainhash.Hash
	ASum       bip352.Point
	NumOutputs int
}

// InputsOracle supplies TxInputs for a candidate transaction. Any
// full-node RPC or indexer may implement it; its derivation from
// prev-outputs is out of scope for this client.
type InputsOracle interface {
	TxInputs(ctx context.Context, txid chainhash.Hash) (TxInputs, error)
}

// Client holds one wallet's viewing keys and talks to a single Whisper
// server over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string

	scan   bip352.ScanKeypair
	spend  bip352.SpendKey
	labels *bip352.LabelTable
}

// New constructs a client for the given wallet keys and label cap. The
// label table is built once, up front, since it depends only on the
// wallet's own keys.
func New(baseURL string, scan bip352.ScanKeypair, spend bip352.SpendKey, labelCap uint32) (*Client, error) {
	table, err := bip352.BuildLabelTable(spend, scan.Secret, labelCap)
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		scan:       scan,
		spend:      spend,
		labels:     table,
	}, nil
}

// BuildFingerprints derives the set of 32-bit fingerprints to submit in
// a scan request, covering every output index of every candidate
// transaction across every labelled address. The oracle is consulted
// once per transaction; its ECDH point is reused across k for that
// transaction.
func (c *Client) BuildFingerprints(ctx context.Context, oracle InputsOracle, txids []chainhash.Hash) ([][4]byte, error) {
	seen := make(map[uint32]struct{})
	var out [][4]byte

	for _, txid := range txids {
		in, err := oracle.TxInputs(ctx, txid)
		if err != nil {
			return nil, fmt.Errorf("inputs oracle failed for %s: %w", txid, err)
		}

		ecdh := bip352.ECDH(c.scan.Secret, in.ASum)
		for k := uint32(0); k < uint32(in.NumOutputs); k++ {
			s, err := bip352.SharedSecretScalar(ecdh, k)
			if err != nil {
				return nil, err
			}
			for _, m := range c.labels.Labels() {
				bm, _ := c.labels.Point(m)
				t, err := bip352.DeriveOutput(bm, s)
				if err != nil {
					continue
				}
				fp := bip352.Fingerprint(t.XOnly())
				if _, ok := seen[fp]; ok {
					continue
				}
				seen[fp] = struct{}{}
				var b [4]byte
				b[0] = byte(fp >> 24)
				b[1] = byte(fp >> 16)
				b[2] = byte(fp >> 8)
				b[3] = byte(fp)
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// scanWireRequest and scanWireResponse mirror the server's wire shapes
// (§6) exactly, including hex encoding conventions.
type scanWireRequest struct {
	ScanPubkey    string   `json:"scan_pubkey"`
	StartHeight   uint32   `json:"start_height"`
	EndHeight     uint32   `json:"end_height"`
	Prefixes      []string `json:"prefixes"`
	IncludeProofs bool     `json:"include_proofs"`
}

type scanWireCandidate struct {
	TxID         string `json:"txid"`
	Vout         uint32 `json:"vout"`
	Amount       uint64 `json:"amount"`
	ScriptPubkey string `json:"script_pubkey"`
	BlockHeight  uint32 `json:"block_height"`
	BlockHash    string `json:"block_hash"`
	Timestamp    uint64 `json:"timestamp"`
}

type scanWireResponse struct {
	Candidates    []scanWireCandidate `json:"candidates"`
	ScannedBlocks []uint32            `json:"scanned_blocks"`
	ServerTimeMS  uint64              `json:"server_time_ms"`
}

// Submit POSTs a scan request and decodes the server's candidates.
func (c *Client) Submit(ctx context.Context, startHeight, endHeight uint32, fingerprints [][4]byte) ([]models.Candidate, []uint32, error) {
	prefixes := make([]string, len(fingerprints))
	for i, fp := range fingerprints {
		prefixes[i] = hex.EncodeToString(fp[:])
	}

	reqBody := scanWireRequest{
		ScanPubkey:  hex.EncodeToString(c.scan.Public.SerializeCompressed()),
		StartHeight: startHeight,
		EndHeight:   endHeight,
		Prefixes:    prefixes,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/scan", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("scan request failed: %s", resp.Status)
	}

	var wire scanWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, nil, err
	}

	candidates := make([]models.Candidate, len(wire.Candidates))
	for i, wc := range wire.Candidates {
		cand, err := decodeCandidate(wc)
		if err != nil {
			return nil, nil, err
		}
		candidates[i] = cand
	}
	return candidates, wire.ScannedBlocks, nil
}

func decodeCandidate(wc scanWireCandidate) (models.Candidate, error) {
	var cand models.Candidate

	txID, err := chainhash.NewHashFromStr(wc.TxID)
	if err != nil {
		return cand, fmt.Errorf("malformed txid %q: %w", wc.TxID, err)
	}
	blockHash, err := chainhash.NewHashFromStr(wc.BlockHash)
	if err != nil {
		return cand, fmt.Errorf("malformed block_hash %q: %w", wc.BlockHash, err)
	}
	script, err := hex.DecodeString(wc.ScriptPubkey)
	if err != nil || len(script) != 34 {
		return cand, fmt.Errorf("malformed script_pubkey %q", wc.ScriptPubkey)
	}

	cand.TxID = *txID
	cand.BlockHash = *blockHash
	copy(cand.ScriptPubKey[:], script)
	cand.Vout = wc.Vout
	cand.Amount = int64(wc.Amount)
	cand.BlockHeight = int32(wc.BlockHeight)
	cand.BlockTime = int64(wc.Timestamp)
	return cand, nil
}
