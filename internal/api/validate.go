package api

import (
	"encoding/hex"
	"fmt"

	"github.com/SakshamSinghal20/Whisper/internal/bip352"
)

// maxPrefixes and maxHeightSpan mirror the store's bounds (§4.3, §4.4);
// duplicated here so a bad request is rejected before any store round
// trip.
const (
	maxPrefixes  = 1000
	maxHeightSpan = 1000
)

// validateScanRequest enforces every constraint of §4.4's request table
// and returns the decoded fingerprint set on success. The server makes
// no cryptographic use of the scan pubkey beyond confirming it parses as
// a well-formed compressed point — it is accepted for transport symmetry
// only.
func validateScanRequest(body scanRequestBody) ([][4]byte, error) {
	pubkeyBytes, err := hex.DecodeString(body.ScanPubkey)
	if err != nil || len(pubkeyBytes) != 33 {
		return nil, fmt.Errorf("scan_pubkey must be 33 bytes hex-encoded")
	}
	if _, err := bip352.ParsePoint(pubkeyBytes); err != nil {
		return nil, fmt.Errorf("scan_pubkey is not a well-formed curve point")
	}

	if body.EndHeight < body.StartHeight {
		return nil, fmt.Errorf("end_height must be >= start_height")
	}
	if uint64(body.EndHeight)-uint64(body.StartHeight) > maxHeightSpan {
		return nil, fmt.Errorf("height window exceeds %d blocks", maxHeightSpan)
	}

	if len(body.Prefixes) == 0 {
		return nil, fmt.Errorf("prefixes must not be empty")
	}
	if len(body.Prefixes) > maxPrefixes {
		return nil, fmt.Errorf("prefixes exceeds %d entries", maxPrefixes)
	}

	fps := make([][4]byte, len(body.Prefixes))
	for i, p := range body.Prefixes {
		raw, err := hex.DecodeString(p)
		if err != nil || len(raw) != 4 {
			return nil, fmt.Errorf("prefix %d must be exactly 4 bytes hex-encoded", i)
		}
		copy(fps[i][:], raw)
	}

	return fps, nil
}
