package keys

import (
	"bytes"
	"testing"
)

const testMnemonic = "all all all all all all all all all all all all"

func TestFromMnemonicDeterministic(t *testing.T) {
	k1, err := FromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	k2, err := FromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	if k1 != k2 {
		t.Fatal("expected deterministic root key for identical mnemonic and passphrase")
	}
}

func TestFromMnemonicInvalid(t *testing.T) {
	_, err := FromMnemonic("not a valid mnemonic at all", "")
	if err == nil {
		t.Fatal("expected error for invalid mnemonic")
	}
}

func TestDerivePaymentPathDeterministic(t *testing.T) {
	root, err := FromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	path := PaymentPath(0, 0)
	k1, err := root.Derive(path)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	k2, err := root.Derive(path)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if k1 != k2 {
		t.Fatal("expected deterministic derivation for identical path")
	}
	if len(k1.PublicKey()) != 32 {
		t.Fatalf("expected 32-byte public key, got %d", len(k1.PublicKey()))
	}
}

// TestFromMnemonicRootKeyIsClamped checks the root key derived from the
// canonical "all all ... all" test mnemonic against the clamping invariant
// BIP32-Ed25519 requires of every root scalar (low 3 bits of byte 0 clear,
// top bit of byte 31 clear, bit 254 set). This is the one property of the
// "all all ... all" vector checkable without an external reference
// implementation to cross the derived scalar/chain-code/public-key bytes
// against; see DESIGN.md's keys/ entry for why a byte-for-byte expected
// vector isn't hardcoded here.
func TestFromMnemonicRootKeyIsClamped(t *testing.T) {
	root, err := FromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	scalar := root.scalar()
	if scalar[0]&0b0000_0111 != 0 {
		t.Errorf("expected low 3 bits of byte 0 clear, got %08b", scalar[0])
	}
	if scalar[31]&0b1000_0000 != 0 {
		t.Errorf("expected top bit of byte 31 clear, got %08b", scalar[31])
	}
	if scalar[31]&0b0100_0000 == 0 {
		t.Errorf("expected bit 254 (0100_0000 of byte 31) set, got %08b", scalar[31])
	}
	if len(root.PublicKey()) != 32 {
		t.Fatalf("expected 32-byte derived public key, got %d", len(root.PublicKey()))
	}
}

func TestParsePath(t *testing.T) {
	cases := []struct {
		path    string
		wantLen int
		wantErr bool
	}{
		{"m/1852'/1815'/0'/0/0", 5, false},
		{"1852'/1815'/0'/0/0", 5, false},
		{"m/0h/1H/2", 3, false},
		{"", 0, true},
		{"m//0", 0, true},
		{"m/abc", 0, true},
		{"m/-1", 0, true},
	}
	for _, c := range cases {
		segs, err := ParsePath(c.path)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParsePath(%q): expected error, got none", c.path)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePath(%q): unexpected error: %v", c.path, err)
			continue
		}
		if len(segs) != c.wantLen {
			t.Errorf("ParsePath(%q): expected %d segments, got %d", c.path, c.wantLen, len(segs))
		}
	}
}

func TestParsePathHardenedOffset(t *testing.T) {
	segs, err := ParsePath("m/1852'/1815'/0'/0/0")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	if !segs[0].Hardened || segs[0].Value() != 1852+HardenedOffset {
		t.Errorf("expected first segment hardened with value %d, got hardened=%v value=%d", 1852+HardenedOffset, segs[0].Hardened, segs[0].Value())
	}
	if segs[3].Hardened || segs[3].Value() != 0 {
		t.Errorf("expected fourth segment soft with value 0, got hardened=%v value=%d", segs[3].Hardened, segs[3].Value())
	}
}

func Test128XprvRoundtrip(t *testing.T) {
	root, err := FromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	k, err := root.Derive(PaymentPath(0, 0))
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	blob := k.To128Xprv()
	if len(blob) != CMLSize {
		t.Fatalf("expected %d-byte blob, got %d", CMLSize, len(blob))
	}
	k2, err := From128Xprv(blob)
	if err != nil {
		t.Fatalf("From128Xprv: %v", err)
	}
	if k2 != k {
		t.Fatal("expected From128Xprv(To128Xprv(k)) == k")
	}
}

func TestFrom128XprvRejectsMismatchedPublicKey(t *testing.T) {
	root, err := FromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	blob := root.To128Xprv()
	blob[64] ^= 0xFF // corrupt the embedded public key
	if _, err := From128Xprv(blob); err == nil {
		t.Fatal("expected error for corrupted embedded public key")
	}
}

func TestSignProducesVerifiableSignature(t *testing.T) {
	root, err := FromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	msg := []byte("hello cardano")
	sig := root.Sign(msg)
	if len(sig) != 64 {
		t.Fatalf("expected 64-byte signature, got %d", len(sig))
	}
	sig2 := root.Sign(msg)
	if !bytes.Equal(sig, sig2) {
		t.Fatal("expected deterministic signature for identical key and message")
	}
}

func TestDeriveChildHardenedVsSoftDiffer(t *testing.T) {
	root, err := FromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	hardChild, err := root.DeriveChild(HardenedOffset)
	if err != nil {
		t.Fatalf("DeriveChild: %v", err)
	}
	softChild, err := root.DeriveChild(0)
	if err != nil {
		t.Fatalf("DeriveChild: %v", err)
	}
	if hardChild == softChild {
		t.Fatal("expected hardened and soft derivation at overlapping raw index to differ")
	}
}
