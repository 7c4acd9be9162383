package bip352

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/SakshamSinghal20/Whisper/internal/errs"
)

// Scalar is a 32-byte integer modulo the secp256k1 group order n, always
// non-zero and always reduced. Zero or overflowing inputs fail with a
// BadCrypto error rather than silently wrapping.
type Scalar struct {
	v secp256k1.ModNScalar
}

// NewScalar parses a 32-byte big-endian scalar, rejecting zero and
// out-of-range values.
func NewScalar(b []byte) (Scalar, error) {
	if len(b) != 32 {
		return Scalar{}, errs.Newf(errs.BadCrypto, "scalar must be 32 bytes, got %d", len(b))
	}
	var s secp256k1.ModNScalar
	overflow := s.SetByteSlice(b)
	if overflow {
		return Scalar{}, errs.New(errs.BadCrypto, "scalar exceeds curve order")
	}
	if s.IsZero() {
		return Scalar{}, errs.New(errs.BadCrypto, "scalar is zero")
	}
	return Scalar{v: s}, nil
}

// Bytes serialises the scalar to its canonical 32-byte big-endian form.
func (s Scalar) Bytes() [32]byte {
	return s.v.Bytes()
}

// Add returns s + o mod n. The BIP-352 tweak/shared-secret accumulations
// never produce a zero result in practice (negligible probability), so no
// zero-check is performed here — ModNScalar addition is total over Z_n.
func (s Scalar) Add(o Scalar) Scalar {
	var r secp256k1.ModNScalar
	r.Add2(&s.v, &o.v)
	return Scalar{v: r}
}

// MulG returns s*G, the scalar multiplied by the secp256k1 base point.
func (s Scalar) MulG() Point {
	var j secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s.v, &j)
	j.ToAffine()
	return Point{pk: secp256k1.NewPublicKey(&j.X, &j.Y)}
}
