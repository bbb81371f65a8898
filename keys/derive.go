package keys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations and rootKeyLen are fixed by the V2 derivation scheme.
const (
	pbkdf2Iterations = 4096
	rootKeyLen       = XPrvSize
)

// HardenedOffset is added to a path segment's numeric value to mark it as
// hardened, per BIP32.
const HardenedOffset = uint32(1) << 31

// FromMnemonic validates a BIP39 mnemonic against the English wordlist and
// derives the 96-byte V2 root extended private key from it and an optional
// passphrase.
func FromMnemonic(mnemonic, passphrase string) (XPrv, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return XPrv{}, fmt.Errorf("%w: failed checksum or unknown word", ErrInvalidMnemonic)
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return XPrv{}, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return FromEntropy(entropy, passphrase)
}

// FromEntropy derives the 96-byte V2 root extended private key directly
// from raw BIP39 entropy bytes and an optional passphrase, bypassing
// mnemonic validation. Used when entropy is already known to be valid.
func FromEntropy(entropy []byte, passphrase string) (XPrv, error) {
	stretched := pbkdf2.Key([]byte(passphrase), entropy, pbkdf2Iterations, rootKeyLen, sha512.New)
	return newRootKey(stretched)
}

// add28Mul8 computes kL' = kL + 8*zL as a 256-bit little-endian integer,
// WITHOUT re-clamping the result and WITHOUT masking the final carry out of
// byte 31. This is the V2 scheme's intentionally asymmetric behavior: bytes
// 0..27 see both the multiply-by-8 and the resulting carry chain, while
// bytes 28..31 only ever see carry propagation (zL's top bits, after the
// ×8 shift, no longer reach them as a multiply contribution). This must
// never be "corrected" to a symmetric 256-bit add — mainnet wallet
// compatibility depends on reproducing it exactly as written here.
func add28Mul8(kL, zL [32]byte) [32]byte {
	var out [32]byte
	var carry uint16
	for i := 0; i < 28; i++ {
		r := uint16(kL[i]) + (uint16(zL[i]) << 3) + carry
		out[i] = byte(r)
		carry = r >> 8
	}
	for i := 28; i < 32; i++ {
		r := uint16(kL[i]) + carry
		out[i] = byte(r)
		carry = r >> 8
	}
	return out
}

// addMod256 computes a + b as a 256-bit little-endian integer, discarding
// any carry out of byte 31 (i.e. the result is taken mod 2^256).
func addMod256(a, b [32]byte) [32]byte {
	var out [32]byte
	var carry uint16
	for i := 0; i < 32; i++ {
		r := uint16(a[i]) + uint16(b[i]) + carry
		out[i] = byte(r)
		carry = r >> 8
	}
	return out
}

// DeriveChild derives the child key at the given index from a parent
// extended private key, following the V2 hardened/soft derivation rule.
// Indices >= HardenedOffset are hardened.
func (k XPrv) DeriveChild(index uint32) (XPrv, error) {
	hardened := index >= HardenedOffset

	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)

	var zTag, cTag byte
	var data []byte
	if hardened {
		zTag, cTag = 0x00, 0x01
		data = make([]byte, 0, 64)
		data = append(data, k.scalar()...)
		data = append(data, k.iv()...)
	} else {
		zTag, cTag = 0x02, 0x03
		data = k.PublicKey()
	}

	zMsg := make([]byte, 0, 1+len(data)+4)
	zMsg = append(zMsg, zTag)
	zMsg = append(zMsg, data...)
	zMsg = append(zMsg, idx[:]...)
	zMac := hmac.New(sha512.New, k.chainCode())
	zMac.Write(zMsg)
	z := zMac.Sum(nil)
	var zL, zR [32]byte
	copy(zL[:], z[0:32])
	copy(zR[:], z[32:64])

	cMsg := make([]byte, 0, 1+len(data)+4)
	cMsg = append(cMsg, cTag)
	cMsg = append(cMsg, data...)
	cMsg = append(cMsg, idx[:]...)
	cMac := hmac.New(sha512.New, k.chainCode())
	cMac.Write(cMsg)
	cFull := cMac.Sum(nil)
	childChainCode := cFull[32:64]

	var kL, kR [32]byte
	copy(kL[:], k.scalar())
	copy(kR[:], k.iv())

	childKL := add28Mul8(kL, zL)
	childKR := addMod256(kR, zR)

	var child XPrv
	copy(child[0:32], childKL[:])
	copy(child[32:64], childKR[:])
	copy(child[64:96], childChainCode)
	return child, nil
}

// Segment is one parsed component of a derivation path: a numeric index
// and whether it is hardened.
type Segment struct {
	Index    uint32
	Hardened bool
}

// Value returns the fully-encoded BIP32 index for this segment (with the
// hardened offset applied if Hardened is set).
func (s Segment) Value() uint32 {
	if s.Hardened {
		return s.Index + uint32(HardenedOffset)
	}
	return s.Index
}

// ParsePath parses a derivation path string of the form "m/a/b'/c" (the
// leading "m/" is optional; each segment may be suffixed with ', h, or H
// to mark it hardened). Non-integer or negative segments are rejected.
func ParsePath(path string) ([]Segment, error) {
	trimmed := strings.TrimPrefix(path, "m")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(trimmed, "/")
	segments := make([]Segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty path segment in %q", ErrInvalidPath, path)
		}
		hardened := false
		numeric := part
		switch {
		case strings.HasSuffix(part, "'"), strings.HasSuffix(part, "h"), strings.HasSuffix(part, "H"):
			hardened = true
			numeric = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(numeric, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q is not a non-negative integer", ErrInvalidPath, part)
		}
		segments = append(segments, Segment{Index: uint32(n), Hardened: hardened})
	}
	return segments, nil
}

// Derive parses a path string and walks it from this key, deriving one
// child per segment in order.
func (k XPrv) Derive(path string) (XPrv, error) {
	segments, err := ParsePath(path)
	if err != nil {
		return XPrv{}, err
	}
	cur := k
	for _, seg := range segments {
		cur, err = cur.DeriveChild(seg.Value())
		if err != nil {
			return XPrv{}, err
		}
	}
	return cur, nil
}

// PaymentPath returns the standard Cardano payment key path
// m/1852'/1815'/account'/0/index.
func PaymentPath(account, index uint32) string {
	return fmt.Sprintf("m/1852'/1815'/%d'/0/%d", account, index)
}

// StakePath returns the standard Cardano staking key path
// m/1852'/1815'/account'/2/index.
func StakePath(account, index uint32) string {
	return fmt.Sprintf("m/1852'/1815'/%d'/2/%d", account, index)
}
