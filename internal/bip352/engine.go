package bip352

import (
	"encoding/binary"
)

// ECDH returns b_scan * A_sum, the shared ECDH point between the
// recipient's scan secret and the sum of sender input public keys.
func ECDH(scanSecret Scalar, aSum Point) Point {
	return aSum.Mul(scanSecret)
}

// SharedSecretScalar derives t_k = tagged_hash("BIP0352/SharedSecret",
// ecdh || k_be32) for the k-th output of a transaction, per §4.1.
func SharedSecretScalar(ecdh Point, k uint32) (Scalar, error) {
	var kBE [4]byte
	binary.BigEndian.PutUint32(kBE[:], k)

	h := taggedHash(tagSharedSecret, ecdh.SerializeCompressed(), kBE[:])
	return NewScalar(h[:])
}

// DeriveOutput computes T_{k,m} = B_m + t_k*G, the candidate output public
// key for label m and output index k.
func DeriveOutput(labelPoint Point, sharedSecret Scalar) (Point, error) {
	return labelPoint.Add(sharedSecret.MulG())
}

// Tweak folds a label into a shared-secret scalar: returns t_k unchanged
// for label 0, or t_k + tagged_hash("BIP0352/Label", b_scan, m) for m>0.
// This is the spend-side counterpart to BuildLabelTable's public-key form
// — used when the holder of b_spend needs the private key for a matched
// output rather than just its public point.
func Tweak(sharedSecret Scalar, scanSecret Scalar, label uint32) (Scalar, error) {
	if label == 0 {
		return sharedSecret, nil
	}
	lt, err := labelTweak(scanSecret, label)
	if err != nil {
		return Scalar{}, err
	}
	return sharedSecret.Add(lt), nil
}

// Fingerprint extracts the 32-bit index fingerprint from an x-only key:
// the first four bytes, big-endian.
func Fingerprint(xonly [32]byte) uint32 {
	return binary.BigEndian.Uint32(xonly[:4])
}
