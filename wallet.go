package apollo

import (
	"errors"
	"fmt"

	"github.com/blinklabs-io/bursa"
	"github.com/blinklabs-io/bursa/bip32"
	"github.com/blinklabs-io/gouroboros/ledger/common"

	"github.com/opencardano/txforge/keys"
)

// Wallet provides signing and address capabilities for transaction building.
type Wallet interface {
	// Address returns the payment address for this wallet.
	Address() common.Address
	// SignTxBody signs a serialized transaction body hash and returns a VkeyWitness.
	SignTxBody(txBodyHash common.Blake2b256) (common.VkeyWitness, error)
	// PubKeyHash returns the payment public key hash.
	PubKeyHash() common.Blake2b224
	// StakePubKeyHash returns the staking public key hash (zero if not staking).
	StakePubKeyHash() common.Blake2b224
}

// BursaWallet wraps bursa key derivation for HD wallet functionality.
type BursaWallet struct {
	mnemonic   string
	address    common.Address
	paymentKey bip32.XPrv
	stakeKey   bip32.XPrv
}

// NewBursaWallet creates a new wallet from a mnemonic string with an empty
// BIP39 passphrase; a bursa.WithPassword option in opts does not change it.
// NewBursaWalletWithPassphrase takes a passphrase.
func NewBursaWallet(mnemonic string, opts ...bursa.WalletOption) (*BursaWallet, error) {
	return NewBursaWalletWithPassphrase(mnemonic, "", opts...)
}

// NewBursaWalletWithPassphrase creates a new wallet from a mnemonic and passphrase.
// The passphrase is used for BIP39 key derivation.
func NewBursaWalletWithPassphrase(mnemonic string, passphrase string, opts ...bursa.WalletOption) (*BursaWallet, error) {
	// Create bursa wallet to get the address.
	// Append WithPassword last so the address derivation always uses the same passphrase
	// as key derivation, even if caller passes a conflicting WithPassword in opts.
	allOpts := append(append([]bursa.WalletOption{}, opts...), bursa.WithPassword(passphrase))
	w, err := bursa.NewWallet(mnemonic, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bursa wallet: %w", err)
	}

	addr, err := common.NewAddress(w.PaymentAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet address: %w", err)
	}

	// Derive keys directly for signing
	rootKey, err := bursa.GetRootKeyFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to derive root key: %w", err)
	}
	accountKey, err := bursa.GetAccountKey(rootKey, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account key: %w", err)
	}
	paymentKey, err := bursa.GetPaymentKey(accountKey, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to derive payment key: %w", err)
	}
	stakeKey, err := bursa.GetStakeKey(accountKey, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to derive stake key: %w", err)
	}

	return &BursaWallet{
		mnemonic:   w.Mnemonic,
		address:    addr,
		paymentKey: paymentKey,
		stakeKey:   stakeKey,
	}, nil
}

// NewBursaWalletGenerate creates a new wallet with a generated mnemonic.
func NewBursaWalletGenerate(opts ...bursa.WalletOption) (*BursaWallet, error) {
	mnemonic, err := bursa.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return NewBursaWallet(mnemonic, opts...)
}

func (w *BursaWallet) Address() common.Address {
	return w.address
}

func (w *BursaWallet) SignTxBody(txBodyHash common.Blake2b256) (common.VkeyWitness, error) {
	return common.VkeyWitness{
		Vkey:      w.paymentKey.Public().PublicKey(),
		Signature: w.paymentKey.Sign(txBodyHash.Bytes()),
	}, nil
}

func (w *BursaWallet) PubKeyHash() common.Blake2b224 {
	pubKey := w.paymentKey.Public().PublicKey()
	return common.Blake2b224Hash(pubKey)
}

func (w *BursaWallet) StakePubKeyHash() common.Blake2b224 {
	pubKey := w.stakeKey.Public().PublicKey()
	return common.Blake2b224Hash(pubKey)
}

// Mnemonic returns the mnemonic for this wallet.
func (w *BursaWallet) Mnemonic() string {
	return w.mnemonic
}

// String returns a safe string representation that does not expose key material.
func (w *BursaWallet) String() string {
	return fmt.Sprintf("BursaWallet{address: %s}", w.address.String())
}

// GoString implements fmt.GoStringer to prevent key material from leaking via %#v.
func (w *BursaWallet) GoString() string {
	return w.String()
}

// KeyPairWallet provides signing from raw key bytes.
type KeyPairWallet struct {
	address    common.Address
	privateKey bip32.XPrv
}

// NewKeyPairWallet creates a wallet from a BIP32 extended private key and address.
func NewKeyPairWallet(addr common.Address, key bip32.XPrv) *KeyPairWallet {
	return &KeyPairWallet{
		address:    addr,
		privateKey: key,
	}
}

func (w *KeyPairWallet) Address() common.Address {
	return w.address
}

func (w *KeyPairWallet) SignTxBody(txBodyHash common.Blake2b256) (common.VkeyWitness, error) {
	return common.VkeyWitness{
		Vkey:      w.privateKey.Public().PublicKey(),
		Signature: w.privateKey.Sign(txBodyHash.Bytes()),
	}, nil
}

func (w *KeyPairWallet) PubKeyHash() common.Blake2b224 {
	pubKey := w.privateKey.Public().PublicKey()
	return common.Blake2b224Hash(pubKey)
}

// StakePubKeyHash returns a zero hash because KeyPairWallet has no staking key.
func (w *KeyPairWallet) StakePubKeyHash() common.Blake2b224 {
	return common.Blake2b224{}
}

// ExternalWallet is an address-only wallet for watch-only flows.
// It cannot sign transactions.
type ExternalWallet struct {
	address common.Address
}

// NewExternalWallet creates a watch-only wallet from an address.
func NewExternalWallet(addr common.Address) *ExternalWallet {
	return &ExternalWallet{address: addr}
}

func (w *ExternalWallet) Address() common.Address {
	return w.address
}

func (w *ExternalWallet) SignTxBody(_ common.Blake2b256) (common.VkeyWitness, error) {
	return common.VkeyWitness{}, errors.New("external wallet cannot sign transactions")
}

func (w *ExternalWallet) PubKeyHash() common.Blake2b224 {
	return w.address.PaymentKeyHash()
}

func (w *ExternalWallet) StakePubKeyHash() common.Blake2b224 {
	return w.address.StakeKeyHash()
}

// NativeWallet signs with this module's own BIP32-Ed25519 V2 derivation
// (package keys) instead of delegating to bursa.
type NativeWallet struct {
	address    common.Address
	paymentKey keys.XPrv
	stakeKey   keys.XPrv
}

// NewNativeWallet derives a payment/stake keypair at account 0, index 0
// from mnemonic (m/1852'/1815'/0'/{0,2}/0) and builds the corresponding
// base address for network.
func NewNativeWallet(mnemonic, passphrase string, network keys.Network) (*NativeWallet, error) {
	root, err := keys.FromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to derive root key: %w", err)
	}
	paymentKey, err := root.Derive(keys.PaymentPath(0, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to derive payment key: %w", err)
	}
	stakeKey, err := root.Derive(keys.StakePath(0, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to derive stake key: %w", err)
	}
	addr, err := keys.BaseAddress(network, paymentKey, stakeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build base address: %w", err)
	}
	return &NativeWallet{address: addr, paymentKey: paymentKey, stakeKey: stakeKey}, nil
}

func (w *NativeWallet) Address() common.Address {
	return w.address
}

func (w *NativeWallet) SignTxBody(txBodyHash common.Blake2b256) (common.VkeyWitness, error) {
	return common.VkeyWitness{
		Vkey:      w.paymentKey.Public().PublicKey(),
		Signature: w.paymentKey.Sign(txBodyHash.Bytes()),
	}, nil
}

func (w *NativeWallet) PubKeyHash() common.Blake2b224 {
	return w.paymentKey.PaymentKeyHash()
}

func (w *NativeWallet) StakePubKeyHash() common.Blake2b224 {
	return w.stakeKey.PaymentKeyHash()
}
