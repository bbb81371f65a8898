package keys

import "github.com/blinklabs-io/gouroboros/ledger/common"

// Network selects which network tag (the low nibble of a Cardano address
// header byte) an address is built for.
type Network byte

const (
	// NetworkTestnet is the header nibble for testnet/preview/preprod addresses.
	NetworkTestnet Network = 0x0
	// NetworkMainnet is the header nibble for mainnet addresses.
	NetworkMainnet Network = 0x1
)

// PaymentKeyHash returns the Blake2b-224 hash of this key's Ed25519 public
// key, as used for payment and staking verification-key credentials.
func (k XPrv) PaymentKeyHash() common.Blake2b224 {
	return common.Blake2b224Hash(k.PublicKey())
}

// addressTypeBaseKeyKey, addressTypeEnterpriseKey, and addressTypeRewardKey
// are the CIP-19 header-byte address-type nibbles for, respectively, a base
// address with two key-hash credentials, an enterprise (payment-only)
// address, and a staking reward address.
const (
	addressTypeBaseKeyKey    byte = 0x0
	addressTypeEnterpriseKey byte = 0x6
	addressTypeRewardKey     byte = 0xE
)

// BaseAddress builds a Shelley base address combining a payment key's
// credential with a staking key's credential, per CIP-19.
func BaseAddress(network Network, payment, staking XPrv) (common.Address, error) {
	var raw [57]byte
	raw[0] = (addressTypeBaseKeyKey << 4) | byte(network)
	copy(raw[1:29], payment.PaymentKeyHash().Bytes())
	copy(raw[29:57], staking.PaymentKeyHash().Bytes())
	return common.NewAddressFromBytes(raw[:])
}

// EnterpriseAddress builds a Shelley enterprise address (no staking
// component) from a payment key alone.
func EnterpriseAddress(network Network, payment XPrv) (common.Address, error) {
	var raw [29]byte
	raw[0] = (addressTypeEnterpriseKey << 4) | byte(network)
	copy(raw[1:29], payment.PaymentKeyHash().Bytes())
	return common.NewAddressFromBytes(raw[:])
}

// RewardAddress builds a Shelley staking reward address from a staking key.
func RewardAddress(network Network, staking XPrv) (common.Address, error) {
	var raw [29]byte
	raw[0] = (addressTypeRewardKey << 4) | byte(network)
	copy(raw[1:29], staking.PaymentKeyHash().Bytes())
	return common.NewAddressFromBytes(raw[:])
}
