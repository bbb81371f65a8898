package coinselect

import (
	"math/big"
	"testing"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/ledger/babbage"
	"github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/blinklabs-io/gouroboros/ledger/mary"
	"github.com/blinklabs-io/gouroboros/ledger/shelley"
)

func testAddress(t *testing.T) common.Address {
	t.Helper()
	var raw [29]byte
	raw[0] = 0x61
	addr, err := common.NewAddressFromBytes(raw[:])
	if err != nil {
		t.Fatalf("NewAddressFromBytes: %v", err)
	}
	return addr
}

func makeUtxo(t *testing.T, lovelace uint64, txByte byte, index uint32) common.Utxo {
	t.Helper()
	var txHash common.Blake2b256
	txHash[0] = txByte
	return common.Utxo{
		Id: shelley.ShelleyTransactionInput{
			TxId:        txHash,
			OutputIndex: index,
		},
		Output: &babbage.BabbageTransactionOutput{
			OutputAddress: testAddress(t),
			OutputAmount:  mary.MaryTransactionOutputValue{Amount: lovelace},
		},
	}
}

func TestLargestFirstPicksFewestUtxos(t *testing.T) {
	utxos := []common.Utxo{
		makeUtxo(t, 1_000_000, 1, 0),
		makeUtxo(t, 10_000_000, 2, 0),
		makeUtxo(t, 2_000_000, 3, 0),
	}
	selected, err := LargestFirst(utxos, Requirement{Lovelace: 5_000_000})
	if err != nil {
		t.Fatalf("LargestFirst: %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("expected exactly one UTxO to satisfy 5_000_000, got %d", len(selected))
	}
	if selected[0].Output.Amount().Uint64() != 10_000_000 {
		t.Fatalf("expected the 10_000_000 UTxO to be picked first, got %d", selected[0].Output.Amount().Uint64())
	}
}

func TestLargestFirstAccumulatesAcrossMultiple(t *testing.T) {
	utxos := []common.Utxo{
		makeUtxo(t, 3_000_000, 1, 0),
		makeUtxo(t, 2_500_000, 2, 0),
	}
	selected, err := LargestFirst(utxos, Requirement{Lovelace: 4_500_000})
	if err != nil {
		t.Fatalf("LargestFirst: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected both UTxOs selected to cover 4_500_000, got %d", len(selected))
	}
}

func TestLargestFirstInsufficientFunds(t *testing.T) {
	utxos := []common.Utxo{makeUtxo(t, 1_000_000, 1, 0)}
	_, err := LargestFirst(utxos, Requirement{Lovelace: 5_000_000})
	if err == nil {
		t.Fatal("expected InsufficientFunds error")
	}
	var insufficient *InsufficientFunds
	if !asInsufficientFunds(err, &insufficient) {
		t.Fatalf("expected *InsufficientFunds, got %T", err)
	}
	if insufficient.Unit != "lovelace" {
		t.Fatalf("expected shortfall unit lovelace, got %s", insufficient.Unit)
	}
	if insufficient.Shortfall.Int64() != 4_000_000 {
		t.Fatalf("expected shortfall 4_000_000, got %s", insufficient.Shortfall.String())
	}
}

func asInsufficientFunds(err error, target **InsufficientFunds) bool {
	if e, ok := err.(*InsufficientFunds); ok {
		*target = e
		return true
	}
	return false
}

func TestDedup(t *testing.T) {
	u := makeUtxo(t, 1_000_000, 1, 0)
	deduped := Dedup([]common.Utxo{u, u})
	if len(deduped) != 1 {
		t.Fatalf("expected duplicate UTxO to be removed, got %d entries", len(deduped))
	}
}

func TestLargestFirstNoSelectionWhenAlreadySatisfied(t *testing.T) {
	selected, err := LargestFirst(nil, Requirement{Lovelace: 0})
	if err != nil {
		t.Fatalf("LargestFirst: %v", err)
	}
	if len(selected) != 0 {
		t.Fatalf("expected no selection when requirement is already satisfied, got %d", len(selected))
	}
}

func makeAssetUtxo(t *testing.T, lovelace uint64, txByte byte, index uint32, policyByte byte, name string, qty int64) common.Utxo {
	t.Helper()
	var txHash common.Blake2b256
	txHash[0] = txByte
	var policyId common.Blake2b224
	policyId[0] = policyByte
	data := map[common.Blake2b224]map[cbor.ByteString]common.MultiAssetTypeOutput{
		policyId: {cbor.NewByteString([]byte(name)): big.NewInt(qty)},
	}
	ma := common.NewMultiAsset[common.MultiAssetTypeOutput](data)
	return common.Utxo{
		Id: shelley.ShelleyTransactionInput{
			TxId:        txHash,
			OutputIndex: index,
		},
		Output: &babbage.BabbageTransactionOutput{
			OutputAddress: testAddress(t),
			OutputAmount:  mary.MaryTransactionOutputValue{Amount: lovelace, Assets: &ma},
		},
	}
}

func TestPreferAdaOnlyPicksAdaOnlyUtxosFirst(t *testing.T) {
	adaOnly := makeUtxo(t, 2_000_000, 1, 0)
	withAssets := makeAssetUtxo(t, 5_000_000, 2, 0, 1, "token", 100)

	selected, err := PreferAdaOnly([]common.Utxo{withAssets, adaOnly}, Requirement{Lovelace: 1_000_000})
	if err != nil {
		t.Fatalf("PreferAdaOnly: %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("expected 1 utxo selected, got %d", len(selected))
	}
	if selected[0].Output.Assets() != nil {
		t.Error("expected the ADA-only utxo to be picked before the asset-bearing one")
	}
}

func TestPreferAdaOnlyFallsBackToAssetUtxosWhenNeeded(t *testing.T) {
	adaOnly := makeUtxo(t, 1_000_000, 1, 0)
	withAssets := makeAssetUtxo(t, 5_000_000, 2, 0, 1, "token", 100)

	selected, err := PreferAdaOnly([]common.Utxo{adaOnly, withAssets}, Requirement{Lovelace: 4_000_000})
	if err != nil {
		t.Fatalf("PreferAdaOnly: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected both utxos selected to cover the requirement, got %d", len(selected))
	}
}

func TestPreferAdaOnlySortsDescendingWithinGroup(t *testing.T) {
	small := makeUtxo(t, 1_000_000, 1, 0)
	large := makeUtxo(t, 5_000_000, 2, 0)

	selected, err := PreferAdaOnly([]common.Utxo{small, large}, Requirement{Lovelace: 3_000_000})
	if err != nil {
		t.Fatalf("PreferAdaOnly: %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("expected 1 utxo selected, got %d", len(selected))
	}
	if selected[0].Output.Amount().Cmp(big.NewInt(5_000_000)) != 0 {
		t.Error("expected the larger ADA-only utxo to be picked first")
	}
}
