package bip352

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/SakshamSinghal20/Whisper/internal/errs"
)

// Point is a non-identity element of the secp256k1 group.
type Point struct {
	pk *btcec.PublicKey
}

// ParsePoint parses a compressed (33-byte) or uncompressed (65-byte)
// secp256k1 public key, failing with BadCrypto on anything off-curve or
// malformed.
func ParsePoint(b []byte) (Point, error) {
	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return Point{}, errs.Wrap(errs.BadCrypto, err, "invalid curve point")
	}
	return Point{pk: pk}, nil
}

// ParseXOnly lifts a 32-byte x-only key to a full point using the BIP-340
// even-Y convention.
func ParseXOnly(x [32]byte) (Point, error) {
	pk, err := schnorr.ParsePubKey(x[:])
	if err != nil {
		return Point{}, errs.Wrap(errs.BadCrypto, err, "invalid x-only key")
	}
	return Point{pk: pk}, nil
}

// SerializeCompressed returns the 33-byte compressed encoding SER_P(point).
func (p Point) SerializeCompressed() []byte {
	return p.pk.SerializeCompressed()
}

// XOnly returns the 32-byte x-coordinate, per BIP-340 convention.
func (p Point) XOnly() [32]byte {
	comp := p.pk.SerializeCompressed()
	var out [32]byte
	copy(out[:], comp[1:])
	return out
}

// Add returns p + o. Fails with BadCrypto if the sum is the point at
// infinity (negligible probability for well-formed BIP-352 inputs, but
// checked rather than assumed).
func (p Point) Add(o Point) (Point, error) {
	var j1, j2, sum secp256k1.JacobianPoint
	p.pk.AsJacobian(&j1)
	o.pk.AsJacobian(&j2)
	secp256k1.AddNonConst(&j1, &j2, &sum)
	sum.ToAffine()
	if sum.X.IsZero() && sum.Y.IsZero() {
		return Point{}, errs.New(errs.BadCrypto, "ECDH produced the point at infinity")
	}
	return Point{pk: secp256k1.NewPublicKey(&sum.X, &sum.Y)}, nil
}

// Mul returns s*p.
func (p Point) Mul(s Scalar) Point {
	var j, res secp256k1.JacobianPoint
	p.pk.AsJacobian(&j)
	secp256k1.ScalarMultNonConst(&s.v, &j, &res)
	res.ToAffine()
	return Point{pk: secp256k1.NewPublicKey(&res.X, &res.Y)}
}

// Equal reports whether two points have the same x-only form, which is the
// only comparison the protocol ever needs (candidate matching compares
// x-only keys, never full points).
func (p Point) Equal(o Point) bool {
	a, b := p.XOnly(), o.XOnly()
	return a == b
}
