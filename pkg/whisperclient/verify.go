package whisperclient

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/SakshamSinghal20/Whisper/internal/bip352"
	"github.com/SakshamSinghal20/Whisper/pkg/models"
)

// Verify re-derives every candidate returned by a scan response and
// keeps only those that truly belong to the wallet, discarding false
// positives introduced by the prefix filter (§4.4). For each candidate
// transaction it computes A_sum and the ECDH point once, then walks
// k=0..NumOutputs-1 across every labelled address, since a genuine
// output can sit at any output index regardless of how many prefix
// matches the server actually returned.
func (c *Client) Verify(ctx context.Context, oracle InputsOracle, candidates []models.Candidate) ([]models.ScanResult, error) {
	byTx := make(map[chainhash.Hash][]models.Candidate)
	for _, cand := range candidates {
		byTx[cand.TxID] = append(byTx[cand.TxID], cand)
	}

	var results []models.ScanResult
	for txid, txCandidates := range byTx {
		in, err := oracle.TxInputs(ctx, txid)
		if err != nil {
			return nil, fmt.Errorf("inputs oracle failed for %s: %w", txid, err)
		}

		matched, err := c.matchTransaction(in, txCandidates)
		if err != nil {
			return nil, err
		}
		results = append(results, matched...)
	}
	return results, nil
}

// candidatePoint pairs a candidate with its script's x-only key lifted
// to a full curve point, so matching can go through Point.Equal rather
// than a raw byte comparison of the script bytes.
type candidatePoint struct {
	point bip352.Point
	cand  models.Candidate
}

// matchTransaction enumerates T_{k,m} for every output index k the
// transaction actually has and every labelled m, comparing against the
// candidate outputs' lifted x-only points. It is bounded by
// in.NumOutputs rather than the candidate count, since the prefix
// filter may have returned fewer candidates than the transaction has
// outputs (§4.4's false-positive allowance runs the other way too: a
// genuine output can sit at any index, not just the first len(candidates)).
func (c *Client) matchTransaction(in TxInputs, candidates []models.Candidate) ([]models.ScanResult, error) {
	points := make([]candidatePoint, 0, len(candidates))
	for _, cand := range candidates {
		p, err := bip352.ParseXOnly(xOnlyFromScript(cand.ScriptPubKey))
		if err != nil {
			// Not a valid x-only curve point, so it cannot be a genuine
			// BIP-352 output; drop it rather than fail the whole verify.
			continue
		}
		points = append(points, candidatePoint{point: p, cand: cand})
	}

	ecdh := bip352.ECDH(c.scan.Secret, in.ASum)
	var results []models.ScanResult

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
			for _, cp := range points {
				if !t.Equal(cp.point) {
					continue
				}

				tweak, err := bip352.Tweak(s, c.scan.Secret, m)
				if err != nil {
					return nil, err
				}
				results = append(results, models.ScanResult{
					Candidate: cp.cand,
					Tweak:     tweak.Bytes(),
					Label:     m,
				})
			}
		}
	}
	return results, nil
}

func xOnlyFromScript(script [34]byte) [32]byte {
	var x [32]byte
	copy(x[:], script[2:])
	return x
}
