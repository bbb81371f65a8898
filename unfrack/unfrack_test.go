package unfrack

import (
	"math/big"
	"testing"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/ledger/common"
)

const coinsPerUtxoByte = 4310

func testAddress(t *testing.T) common.Address {
	t.Helper()
	var raw [29]byte
	raw[0] = 0x61 // enterprise, testnet
	addr, err := common.NewAddressFromBytes(raw[:])
	if err != nil {
		t.Fatalf("NewAddressFromBytes: %v", err)
	}
	return addr
}

func assetName(t *testing.T, s string) cbor.ByteString {
	t.Helper()
	return cbor.NewByteString([]byte(s))
}

func multiAsset(t *testing.T, policy byte, names map[string]int64) *common.MultiAsset[common.MultiAssetTypeOutput] {
	t.Helper()
	var pol common.Blake2b224
	pol[0] = policy
	inner := make(map[cbor.ByteString]common.MultiAssetTypeOutput, len(names))
	for name, qty := range names {
		inner[assetName(t, name)] = big.NewInt(qty)
	}
	data := map[common.Blake2b224]map[cbor.ByteString]common.MultiAssetTypeOutput{pol: inner}
	ma := common.NewMultiAsset[common.MultiAssetTypeOutput](data)
	return &ma
}

func TestPlanAdaOnlyBelowMinUTxOFallsBackToSingleOutput(t *testing.T) {
	addr := testAddress(t)
	outputs, err := Plan(addr, Leftover{Lovelace: 100}, coinsPerUtxoByte, DefaultOptions())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected a single fallback output, got %d", len(outputs))
	}
	if outputs[0].OutputAmount.Amount != 100 {
		t.Fatalf("expected the single output to carry the full leftover, got %d", outputs[0].OutputAmount.Amount)
	}
}

func TestPlanAdaOnlySubdividesAboveThreshold(t *testing.T) {
	addr := testAddress(t)
	opts := DefaultOptions()
	const total = 500_000_000
	outputs, err := Plan(addr, Leftover{Lovelace: total}, coinsPerUtxoByte, opts)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(outputs) != len(opts.AdaSubdividePercentages) {
		t.Fatalf("expected %d subdivided outputs, got %d", len(opts.AdaSubdividePercentages), len(outputs))
	}
	var sum uint64
	for _, o := range outputs {
		sum += o.OutputAmount.Amount
	}
	if sum != total {
		t.Fatalf("subdivided outputs must conserve the full leftover: expected %d, got %d", total, sum)
	}
}

func TestPlanAdaOnlyBelowThresholdSingleOutput(t *testing.T) {
	addr := testAddress(t)
	opts := DefaultOptions()
	const total = 50_000_000 // below AdaSubdivideThreshold
	outputs, err := Plan(addr, Leftover{Lovelace: total}, coinsPerUtxoByte, opts)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected a single output below the subdivide threshold, got %d", len(outputs))
	}
	if outputs[0].OutputAmount.Amount != total {
		t.Fatalf("expected output to carry the full leftover, got %d", outputs[0].OutputAmount.Amount)
	}
}

func TestPlanBundlesAssetsByPolicy(t *testing.T) {
	addr := testAddress(t)
	assets := multiAsset(t, 0xAA, map[string]int64{"tokenA": 100, "tokenB": 1})
	outputs, err := Plan(addr, Leftover{Lovelace: 5_000_000, Assets: assets}, coinsPerUtxoByte, DefaultOptions())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(outputs) == 0 {
		t.Fatal("expected at least one output")
	}
	var total uint64
	for _, o := range outputs {
		total += o.OutputAmount.Amount
	}
	if total != 5_000_000 {
		t.Fatalf("expected lovelace to be conserved across bundle outputs, got %d want 5000000", total)
	}
}

func TestPlanExceedsTokenBundleSizeSplitsIntoMultipleOutputs(t *testing.T) {
	addr := testAddress(t)
	names := make(map[string]int64, 25)
	for i := 0; i < 25; i++ {
		names[string(rune('a'+i))] = 1
	}
	assets := multiAsset(t, 0xBB, names)
	opts := DefaultOptions()
	outputs, err := Plan(addr, Leftover{Lovelace: 50_000_000, Assets: assets}, coinsPerUtxoByte, opts)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	minBundles := (25 + opts.TokenBundleSize - 1) / opts.TokenBundleSize
	if len(outputs) < minBundles {
		t.Fatalf("expected at least %d bundle outputs for 25 assets at bundle size %d, got %d",
			minBundles, opts.TokenBundleSize, len(outputs))
	}
}

func TestPlanUnaffordableBundlesFallBackToSingleOutput(t *testing.T) {
	addr := testAddress(t)
	assets := multiAsset(t, 0xCC, map[string]int64{"token": 1})
	// 1 lovelace is nowhere near enough to cover any bundle's min UTxO.
	outputs, err := Plan(addr, Leftover{Lovelace: 1, Assets: assets}, coinsPerUtxoByte, DefaultOptions())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("expected a single fallback output when bundles are unaffordable, got %d", len(outputs))
	}
	if outputs[0].OutputAmount.Amount != 1 {
		t.Fatalf("expected the fallback output to carry the full leftover lovelace, got %d", outputs[0].OutputAmount.Amount)
	}
}

func TestSmallestSlice(t *testing.T) {
	percentages := []int{50, 15, 10, 10, 5, 5, 5}
	got := smallestSlice(1_000_000_000, percentages)
	want := int64(1_000_000_000) * 5 / 100
	if got != want {
		t.Fatalf("smallestSlice: got %d, want %d", got, want)
	}
}

func TestSubdivideConservesTotal(t *testing.T) {
	addr := testAddress(t)
	percentages := []int{50, 15, 10, 10, 5, 5, 5}
	const total = 987_654_321
	outputs := subdivide(addr, total, percentages)
	if len(outputs) != len(percentages) {
		t.Fatalf("expected %d outputs, got %d", len(percentages), len(outputs))
	}
	var sum uint64
	for _, o := range outputs {
		sum += o.OutputAmount.Amount
	}
	if sum != total {
		t.Fatalf("subdivide must conserve total: expected %d, got %d", total, sum)
	}
}
