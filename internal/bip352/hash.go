package bip352

import "crypto/sha256"

// Tag strings are mandatory and case-sensitive per BIP-352. "Outputs" is
// deliberately absent here: the source material that distilled this spec
// used "BIP0352/Outputs" for output derivation in at least one place, but
// current BIP-352 text derives outputs directly from the shared-secret
// scalar (tagSharedSecret below) with no separate output tag. See
// DESIGN.md "Open Question decisions" for the reasoning — this engine
// follows the current BIP-352 text, not the ambiguous source wording.
const (
	tagSharedSecret = "BIP0352/SharedSecret"
	tagLabel        = "BIP0352/Label"
)

// taggedHash computes SHA256(SHA256(tag) || SHA256(tag) || data...).
func taggedHash(tag string, data ...[]byte) [32]byte {
	tagHash := sha256.Sum256([]byte(tag))

	h := sha256.New()
	h.Write(tagHash[:])
	h.Write(tagHash[:])
	for _, d := range data {
		h.Write(d)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
