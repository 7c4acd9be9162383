package bip352

import (
	"bytes"
	"testing"
)

func scalarFromByte(t *testing.T, b byte) Scalar {
	t.Helper()
	buf := bytes.Repeat([]byte{b}, 32)
	s, err := NewScalar(buf)
	if err != nil {
		t.Fatalf("NewScalar(%d): %v", b, err)
	}
	return s
}

// TestECDHSymmetric checks the Diffie-Hellman identity the whole protocol
// rests on: b_scan*(a*G) == a*(b_scan*G) for independently chosen scalars.
func TestECDHSymmetric(t *testing.T) {
	scanSecret := scalarFromByte(t, 0x11)
	aSecret := scalarFromByte(t, 0x22)

	aSum := aSecret.MulG()
	scanPub := scanSecret.MulG()

	left := ECDH(scanSecret, aSum)
	right := aSum.Mul(scanSecret)
	alt := scanPub.Mul(aSecret)

	if !left.Equal(right) {
		t.Fatalf("ECDH(scanSecret, aSum) != aSum.Mul(scanSecret)")
	}
	if !left.Equal(alt) {
		t.Fatalf("ECDH is not symmetric: scanSecret*aSum != aSecret*scanPub")
	}
}

// TestDeriveOutputRoundTrip simulates the full sender/receiver round trip
// for label 0: the sender derives T_{0,0} from B_spend and the shared
// secret; the receiver, holding b_spend and the matching shared secret,
// reconstructs the same output key via the spend-tweak form.
func TestDeriveOutputRoundTrip(t *testing.T) {
	scanSecret := scalarFromByte(t, 0x01)
	spendSecret := scalarFromByte(t, 0x02)
	aSecret := scalarFromByte(t, 0x03)

	scanPub := scanSecret.MulG()
	spendPub := spendSecret.MulG()
	aSum := aSecret.MulG()

	_ = scanPub

	ecdh := ECDH(scanSecret, aSum)
	t0, err := SharedSecretScalar(ecdh, 0)
	if err != nil {
		t.Fatalf("SharedSecretScalar: %v", err)
	}

	senderOutput, err := DeriveOutput(spendPub, t0)
	if err != nil {
		t.Fatalf("DeriveOutput: %v", err)
	}

	tweak, err := Tweak(t0, scanSecret, 0)
	if err != nil {
		t.Fatalf("Tweak: %v", err)
	}
	outputPrivScalar := spendSecret.Add(tweak)
	receiverOutput := outputPrivScalar.MulG()

	if !senderOutput.Equal(receiverOutput) {
		t.Fatalf("sender-derived output does not match receiver-derived output")
	}
}

// TestDeriveOutputWithLabel checks the labelled variant: the sender adds
// the shared secret to B_m (from the label table), and the receiver's
// tweak form produces the same private scalar.
func TestDeriveOutputWithLabel(t *testing.T) {
	scanSecret := scalarFromByte(t, 0x04)
	spendSecret := scalarFromByte(t, 0x05)
	aSecret := scalarFromByte(t, 0x06)
	const label = uint32(7)

	spendPub := spendSecret.MulG()
	aSum := aSecret.MulG()

	spendKey := SpendKey{Public: spendPub}
	table, err := BuildLabelTable(spendKey, scanSecret, label)
	if err != nil {
		t.Fatalf("BuildLabelTable: %v", err)
	}
	bm, ok := table.Point(label)
	if !ok {
		t.Fatalf("label %d missing from table", label)
	}

	ecdh := ECDH(scanSecret, aSum)
	t0, err := SharedSecretScalar(ecdh, 3)
	if err != nil {
		t.Fatalf("SharedSecretScalar: %v", err)
	}

	senderOutput, err := DeriveOutput(bm, t0)
	if err != nil {
		t.Fatalf("DeriveOutput: %v", err)
	}

	tweak, err := Tweak(t0, scanSecret, label)
	if err != nil {
		t.Fatalf("Tweak: %v", err)
	}
	receiverOutput := spendSecret.Add(tweak).MulG()

	if !senderOutput.Equal(receiverOutput) {
		t.Fatalf("labelled output mismatch: sender and receiver derived different keys")
	}
}

// TestFingerprintIdempotent checks that Fingerprint is a pure function of
// its input: same x-only key always yields the same 32-bit value, and it
// matches the first four bytes big-endian.
func TestFingerprintIdempotent(t *testing.T) {
	var x [32]byte
	copy(x[:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	f1 := Fingerprint(x)
	f2 := Fingerprint(x)
	if f1 != f2 {
		t.Fatalf("Fingerprint not idempotent: %x != %x", f1, f2)
	}
	if f1 != 0xDEADBEEF {
		t.Fatalf("Fingerprint = %x, want deadbeef", f1)
	}
}

func TestNewScalarRejectsBadInputs(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
	}{
		{"wrong length", make([]byte, 31)},
		{"zero", make([]byte, 32)},
		{"overflow", bytes.Repeat([]byte{0xFF}, 32)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewScalar(tc.b); err == nil {
				t.Fatalf("NewScalar(%s) succeeded, want error", tc.name)
			}
		})
	}
}

func TestParsePointRejectsGarbage(t *testing.T) {
	if _, err := ParsePoint(bytes.Repeat([]byte{0x00}, 33)); err == nil {
		t.Fatalf("ParsePoint accepted an all-zero key")
	}
}

func TestBuildLabelTableLabelZeroIsSpendKey(t *testing.T) {
	spendSecret := scalarFromByte(t, 0x09)
	scanSecret := scalarFromByte(t, 0x0a)
	spendKey := SpendKey{Public: spendSecret.MulG()}

	table, err := BuildLabelTable(spendKey, scanSecret, 3)
	if err != nil {
		t.Fatalf("BuildLabelTable: %v", err)
	}
	b0, ok := table.Point(0)
	if !ok {
		t.Fatalf("label 0 missing")
	}
	if !b0.Equal(spendKey.Public) {
		t.Fatalf("label 0 point does not equal spend public key")
	}
	if len(table.Labels()) != 4 {
		t.Fatalf("Labels() length = %d, want 4", len(table.Labels()))
	}
}
