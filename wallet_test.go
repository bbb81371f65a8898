package apollo

import (
	"testing"

	"github.com/opencardano/txforge/keys"
)

const testMnemonic = "all all all all all all all all all all all all"

func TestNativeWalletDerivesDeterministicAddress(t *testing.T) {
	w1, err := NewNativeWallet(testMnemonic, "", keys.NetworkTestnet)
	if err != nil {
		t.Fatalf("NewNativeWallet: %v", err)
	}
	w2, err := NewNativeWallet(testMnemonic, "", keys.NetworkTestnet)
	if err != nil {
		t.Fatalf("NewNativeWallet: %v", err)
	}
	if w1.Address().String() != w2.Address().String() {
		t.Fatal("expected the same mnemonic to derive the same address")
	}
}

func TestNativeWalletSignProducesWitness(t *testing.T) {
	w, err := NewNativeWallet(testMnemonic, "", keys.NetworkTestnet)
	if err != nil {
		t.Fatalf("NewNativeWallet: %v", err)
	}
	var hash [32]byte
	hash[0] = 0xAB
	witness, err := w.SignTxBody(hash)
	if err != nil {
		t.Fatalf("SignTxBody: %v", err)
	}
	if len(witness.Vkey) != 32 {
		t.Fatalf("expected a 32-byte vkey, got %d", len(witness.Vkey))
	}
	if len(witness.Signature) != 64 {
		t.Fatalf("expected a 64-byte signature, got %d", len(witness.Signature))
	}
}

func TestNativeWalletPubKeyHashesDiffer(t *testing.T) {
	w, err := NewNativeWallet(testMnemonic, "", keys.NetworkTestnet)
	if err != nil {
		t.Fatalf("NewNativeWallet: %v", err)
	}
	if w.PubKeyHash() == w.StakePubKeyHash() {
		t.Fatal("expected distinct payment and stake key hashes")
	}
}
