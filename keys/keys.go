// Package keys implements the BIP32-Ed25519 "V2" extended-key hierarchy used
// by Cardano wallets: a BIP39 mnemonic is stretched into a 96-byte root
// extended private key, from which an arbitrary tree of hardened/soft child
// keys, Ed25519 public keys, and addresses can be derived.
package keys

import (
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

// XPrvSize is the length in bytes of an extended private key: a 32-byte
// scalar, a 32-byte IV used only for signing, and a 32-byte chain code.
const XPrvSize = 96

// XPubSize is the length in bytes of an extended public key: a 32-byte
// Ed25519 public key plus a 32-byte chain code.
const XPubSize = 64

// CMLSize is the length of the CML-compatible combined blob: a 64-byte
// extended private key half (scalar+iv) followed by a 32-byte public key
// and a 32-byte chain code.
const CMLSize = 128

var (
	// ErrInvalidMnemonic is returned when a mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = errors.New("keys: invalid mnemonic")
	// ErrInvalidPath is returned when a derivation path string cannot be parsed.
	ErrInvalidPath = errors.New("keys: invalid derivation path")
	// ErrLengthMismatch is returned when a byte blob has the wrong size, or
	// when an imported 128-byte blob's embedded public key does not match
	// its derived public key.
	ErrLengthMismatch = errors.New("keys: length mismatch")
)

// XPrv is a 96-byte BIP32-Ed25519 extended private key: scalar(32) ||
// iv(32) || chainCode(32). It must never be logged.
type XPrv [XPrvSize]byte

// XPub is a 64-byte BIP32-Ed25519 extended public key: pubKey(32) ||
// chainCode(32).
type XPub [XPubSize]byte

func (k XPrv) scalar() []byte    { return k[0:32] }
func (k XPrv) iv() []byte        { return k[32:64] }
func (k XPrv) chainCode() []byte { return k[64:96] }

// clampScalar clears the low 3 bits, clears the top bit, and sets bit 254,
// producing a valid Ed25519 scalar in the canonical clamped form.
func clampScalar(b []byte) {
	b[0] &= 0b1111_1000
	b[31] &= 0b0111_1111
	b[31] |= 0b0100_0000
}

// newRootKey derives the 96-byte root extended private key from 96 bytes of
// raw PBKDF2 output, clamping the scalar half in place. Callers normally
// reach this indirectly through FromEntropy or FromMnemonic.
func newRootKey(stretched []byte) (XPrv, error) {
	if len(stretched) != XPrvSize {
		return XPrv{}, fmt.Errorf("%w: root key material must be %d bytes, got %d", ErrLengthMismatch, XPrvSize, len(stretched))
	}
	var k XPrv
	copy(k[:], stretched)
	scalar := k.scalar()
	clampScalar(scalar)
	return k, nil
}

// reduceScalar reduces an arbitrary 32-byte little-endian integer modulo the
// Ed25519 group order ℓ, returning a canonical 32-byte scalar. It is used to
// compute the public key from kL, which is not itself clamped or otherwise
// guaranteed to already be less than ℓ after repeated child derivation.
func reduceScalar(kL []byte) (*edwards25519.Scalar, error) {
	wide := make([]byte, 64)
	copy(wide, kL)
	s, err := edwards25519.NewScalar().SetUniformBytes(wide)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to reduce scalar: %w", err)
	}
	return s, nil
}

// PublicKey computes the 32-byte compressed Ed25519 public key for this
// extended private key: A = [kL mod ℓ] · B.
func (k XPrv) PublicKey() []byte {
	s, err := reduceScalar(k.scalar())
	if err != nil {
		// reduceScalar only fails if SetUniformBytes receives other than
		// 64 bytes, which cannot happen given the fixed-size wide buffer.
		panic(err)
	}
	point := new(edwards25519.Point).ScalarBaseMult(s)
	out := make([]byte, 32)
	copy(out, point.Bytes())
	return out
}

// Public returns the 64-byte extended public key (public key || chain code).
func (k XPrv) Public() XPub {
	var pub XPub
	copy(pub[0:32], k.PublicKey())
	copy(pub[32:64], k.chainCode())
	return pub
}

// PublicKey returns the 32-byte compressed Ed25519 public key.
func (p XPub) PublicKey() []byte {
	out := make([]byte, 32)
	copy(out, p[0:32])
	return out
}

// Sign produces an Ed25519-shaped signature over message using the extended
// private key's scalar and IV directly (not the standard Ed25519 seed
// expansion — the IV half takes the place of the nonce-derivation hash
// half that EdDSA would normally derive from the seed).
func (k XPrv) Sign(message []byte) []byte {
	s, err := reduceScalar(k.scalar())
	if err != nil {
		panic(err)
	}

	// r = H(iv || message) reduced mod ell
	rh := sha512.New()
	rh.Write(k.iv())
	rh.Write(message)
	r, err := edwards25519.NewScalar().SetUniformBytes(rh.Sum(nil))
	if err != nil {
		panic(err)
	}
	R := new(edwards25519.Point).ScalarBaseMult(r)
	Rbytes := R.Bytes()

	A := k.PublicKey()

	hh := sha512.New()
	hh.Write(Rbytes)
	hh.Write(A)
	hh.Write(message)
	h, err := edwards25519.NewScalar().SetUniformBytes(hh.Sum(nil))
	if err != nil {
		panic(err)
	}

	// S = r + h*s
	hs := edwards25519.NewScalar().Multiply(h, s)
	S := edwards25519.NewScalar().Add(r, hs)

	sig := make([]byte, 64)
	copy(sig[0:32], Rbytes)
	copy(sig[32:64], S.Bytes())
	return sig
}

// To64 returns the standard-shaped 64-byte Ed25519 private key half
// (scalar || iv), the form accepted by APIs that expect a raw Ed25519
// extended key rather than the full 96-byte blob with chain code.
func (k XPrv) To64() []byte {
	out := make([]byte, 64)
	copy(out[0:32], k.scalar())
	copy(out[32:64], k.iv())
	return out
}

// Bytes returns the raw 96-byte blob.
func (k XPrv) Bytes() []byte {
	out := make([]byte, XPrvSize)
	copy(out, k[:])
	return out
}

// XPrvFromBytes parses a 96-byte blob into an XPrv without modification
// (the scalar is assumed already clamped, as produced by newRootKey or a
// prior DeriveChild).
func XPrvFromBytes(b []byte) (XPrv, error) {
	if len(b) != XPrvSize {
		return XPrv{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrLengthMismatch, XPrvSize, len(b))
	}
	var k XPrv
	copy(k[:], b)
	return k, nil
}

// To128Xprv encodes the key in the 128-byte CML-compatible layout:
// scalar(32) || iv(32) || publicKey(32) || chainCode(32).
func (k XPrv) To128Xprv() []byte {
	out := make([]byte, CMLSize)
	copy(out[0:32], k.scalar())
	copy(out[32:64], k.iv())
	copy(out[64:96], k.PublicKey())
	copy(out[96:128], k.chainCode())
	return out
}

// From128Xprv decodes a 128-byte CML-compatible blob, verifying that its
// embedded public key matches the one derived from its scalar — the
// mandatory sanity check on import.
func From128Xprv(b []byte) (XPrv, error) {
	if len(b) != CMLSize {
		return XPrv{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrLengthMismatch, CMLSize, len(b))
	}
	var k XPrv
	copy(k[0:32], b[0:32])
	copy(k[32:64], b[32:64])
	copy(k[64:96], b[96:128])

	embeddedPub := b[64:96]
	derivedPub := k.PublicKey()
	for i := range derivedPub {
		if derivedPub[i] != embeddedPub[i] {
			return XPrv{}, fmt.Errorf("%w: embedded public key does not match scalar-derived public key", ErrLengthMismatch)
		}
	}
	return k, nil
}
