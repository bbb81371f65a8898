// Package unfrack implements the leftover-shaping planner: given change
// assets and a configuration, it produces the list of outputs change
// should take (per-policy token bundles, ADA subdivision, or a single
// output), preserving the invariant that every unit of the leftover is
// conserved across the produced outputs.
package unfrack

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/ledger/babbage"
	"github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/blinklabs-io/gouroboros/ledger/mary"

	"github.com/opencardano/txforge/minutxo"
)

// Leftover is the change value to be shaped into one or more outputs.
type Leftover struct {
	Lovelace uint64
	Assets   *common.MultiAsset[common.MultiAssetTypeOutput]
}

// Options configures the planner. Zero-value Options are not directly
// usable; call DefaultOptions and override individual fields.
type Options struct {
	// AdaSubdivideThreshold is the minimum post-bundle leftover lovelace
	// (in lovelace) above which ADA-only change may be split across
	// several outputs. Default 100 ADA (100_000_000 lovelace).
	AdaSubdivideThreshold uint64
	// AdaSubdividePercentages are the weights used to split subdividable
	// ADA; the last entry absorbs any rounding remainder. Must sum to 100.
	AdaSubdividePercentages []int
	// TokenBundleSize is the maximum number of distinct assets per
	// token change output.
	TokenBundleSize int
	// IsolateFungibles puts each fungible policy's assets in their own
	// output, separate from any NFTs of the same policy.
	IsolateFungibles bool
	// GroupNftsByPolicy puts each policy's NFTs in their own output(s),
	// separate from any fungibles of the same policy.
	GroupNftsByPolicy bool
}

// DefaultOptions returns the spec-mandated defaults.
func DefaultOptions() Options {
	return Options{
		AdaSubdivideThreshold:   100_000_000,
		AdaSubdividePercentages: []int{50, 15, 10, 10, 5, 5, 5},
		TokenBundleSize:         10,
		IsolateFungibles:        false,
		GroupNftsByPolicy:       false,
	}
}

type unit struct {
	policy common.Blake2b224
	name   cbor.ByteString
	qty    *big.Int
	isNFT  bool
}

func classify(assets *common.MultiAsset[common.MultiAssetTypeOutput]) []unit {
	if assets == nil {
		return nil
	}
	var units []unit
	policies := assets.Policies()
	sort.Slice(policies, func(i, j int) bool {
		return fmt.Sprintf("%x", policies[i].Bytes()) < fmt.Sprintf("%x", policies[j].Bytes())
	})
	for _, p := range policies {
		names := assets.Assets(p)
		sort.Slice(names, func(i, j int) bool {
			return fmt.Sprintf("%x", []byte(names[i])) < fmt.Sprintf("%x", []byte(names[j]))
		})
		for _, n := range names {
			qty := assets.Asset(p, n)
			if qty == nil || qty.Sign() <= 0 {
				continue // zero/absent quantity is equivalent to the policy being absent
			}
			units = append(units, unit{policy: p, name: n, qty: qty, isNFT: qty.Cmp(big.NewInt(1)) == 0})
		}
	}
	return units
}

func chunk(units []unit, size int) [][]unit {
	if size <= 0 {
		size = len(units)
	}
	var out [][]unit
	for i := 0; i < len(units); i += size {
		end := i + size
		if end > len(units) {
			end = len(units)
		}
		out = append(out, units[i:end])
	}
	return out
}

// bundle groups units into output-sized chunks according to the policy
// grouping rules, honoring IsolateFungibles and GroupNftsByPolicy.
func bundle(units []unit, opts Options) [][]unit {
	byPolicy := make(map[common.Blake2b224][]unit)
	var policyOrder []common.Blake2b224
	for _, u := range units {
		if _, ok := byPolicy[u.policy]; !ok {
			policyOrder = append(policyOrder, u.policy)
		}
		byPolicy[u.policy] = append(byPolicy[u.policy], u)
	}

	var bundles [][]unit
	for _, p := range policyOrder {
		group := byPolicy[p]
		var fungibles, nfts []unit
		for _, u := range group {
			if u.isNFT {
				nfts = append(nfts, u)
			} else {
				fungibles = append(fungibles, u)
			}
		}

		switch {
		case opts.IsolateFungibles && opts.GroupNftsByPolicy:
			bundles = append(bundles, chunk(fungibles, opts.TokenBundleSize)...)
			bundles = append(bundles, chunk(nfts, opts.TokenBundleSize)...)
		case opts.IsolateFungibles:
			bundles = append(bundles, chunk(fungibles, opts.TokenBundleSize)...)
			bundles = append(bundles, chunk(nfts, opts.TokenBundleSize)...)
		case opts.GroupNftsByPolicy:
			bundles = append(bundles, chunk(nfts, opts.TokenBundleSize)...)
			bundles = append(bundles, chunk(fungibles, opts.TokenBundleSize)...)
		default:
			bundles = append(bundles, chunk(group, opts.TokenBundleSize)...)
		}
	}
	return bundles
}

func multiAssetFrom(units []unit) *common.MultiAsset[common.MultiAssetTypeOutput] {
	data := make(map[common.Blake2b224]map[cbor.ByteString]common.MultiAssetTypeOutput)
	for _, u := range units {
		inner, ok := data[u.policy]
		if !ok {
			inner = make(map[cbor.ByteString]common.MultiAssetTypeOutput)
			data[u.policy] = inner
		}
		inner[u.name] = new(big.Int).Set(u.qty)
	}
	ma := common.NewMultiAsset[common.MultiAssetTypeOutput](data)
	return &ma
}

func outputFor(addr common.Address, lovelace uint64, units []unit) *babbage.BabbageTransactionOutput {
	var assets *common.MultiAsset[common.MultiAssetTypeOutput]
	if len(units) > 0 {
		assets = multiAssetFrom(units)
	}
	return &babbage.BabbageTransactionOutput{
		OutputAddress: addr,
		OutputAmount: mary.MaryTransactionOutputValue{
			Amount: lovelace,
			Assets: assets,
		},
	}
}

func minUTxOFor(addr common.Address, lovelace uint64, units []unit, coinsPerUtxoByte int64) (int64, error) {
	out := outputFor(addr, lovelace, units)
	return minutxo.Calculate(out, coinsPerUtxoByte)
}

// singleOutput packs the entire leftover into one output, the fallback
// used whenever bundling or subdivision is unaffordable.
func singleOutput(addr common.Address, leftover Leftover) *babbage.BabbageTransactionOutput {
	return &babbage.BabbageTransactionOutput{
		OutputAddress: addr,
		OutputAmount: mary.MaryTransactionOutputValue{
			Amount: leftover.Lovelace,
			Assets: leftover.Assets,
		},
	}
}

// Plan shapes leftover into one or more change outputs at addr, per opts
// and the protocol's coinsPerUtxoByte parameter. It never drops or
// duplicates a unit of leftover: the sum of every returned output's
// assets equals leftover exactly, except when the affordability checks
// force the single-output fallback (which trivially also conserves
// everything, being the leftover itself).
func Plan(addr common.Address, leftover Leftover, coinsPerUtxoByte int64, opts Options) ([]*babbage.BabbageTransactionOutput, error) {
	units := classify(leftover.Assets)

	if len(units) == 0 {
		return planAdaOnly(addr, leftover.Lovelace, coinsPerUtxoByte, opts)
	}

	bundles := bundle(units, opts)
	bundleMin := make([]int64, len(bundles))
	var totalBundleMin int64
	for i, b := range bundles {
		min, err := minUTxOFor(addr, 0, b, coinsPerUtxoByte)
		if err != nil {
			return nil, fmt.Errorf("unfrack: compute bundle min UTxO: %w", err)
		}
		bundleMin[i] = min
		totalBundleMin += min
	}

	remaining := int64(leftover.Lovelace) - totalBundleMin //nolint:gosec // lovelace fits in int64
	if remaining < 0 {
		// Bundles are unaffordable; fall back to one output carrying the whole leftover.
		return []*babbage.BabbageTransactionOutput{singleOutput(addr, leftover)}, nil
	}

	adaOnlyMin, err := minUTxOFor(addr, 0, nil, coinsPerUtxoByte)
	if err != nil {
		return nil, fmt.Errorf("unfrack: compute ADA-only min UTxO: %w", err)
	}

	smallestPercentage := smallestSlice(remaining, opts.AdaSubdividePercentages)
	if uint64(remaining) >= opts.AdaSubdivideThreshold && smallestPercentage >= adaOnlyMin { //nolint:gosec // remaining validated non-negative above
		outputs := make([]*babbage.BabbageTransactionOutput, 0, len(bundles)+len(opts.AdaSubdividePercentages))
		for i, b := range bundles {
			outputs = append(outputs, outputFor(addr, uint64(bundleMin[i]), b)) //nolint:gosec // bundleMin validated non-negative
		}
		outputs = append(outputs, subdivide(addr, uint64(remaining), opts.AdaSubdividePercentages)...) //nolint:gosec
		return outputs, nil
	}

	// Not enough to subdivide: spread remaining across the bundles instead.
	outputs := make([]*babbage.BabbageTransactionOutput, 0, len(bundles))
	n := int64(len(bundles))
	share := remaining / n
	rem := remaining % n
	for i, b := range bundles {
		lovelace := bundleMin[i] + share
		if i == len(bundles)-1 {
			lovelace += rem
		}
		outputs = append(outputs, outputFor(addr, uint64(lovelace), b)) //nolint:gosec // lovelace validated non-negative
	}
	return outputs, nil
}

func planAdaOnly(addr common.Address, lovelace uint64, coinsPerUtxoByte int64, opts Options) ([]*babbage.BabbageTransactionOutput, error) {
	adaOnlyMin, err := minUTxOFor(addr, 0, nil, coinsPerUtxoByte)
	if err != nil {
		return nil, fmt.Errorf("unfrack: compute ADA-only min UTxO: %w", err)
	}
	smallestPercentage := smallestSlice(int64(lovelace), opts.AdaSubdividePercentages) //nolint:gosec
	if lovelace >= opts.AdaSubdivideThreshold && smallestPercentage >= adaOnlyMin {
		return subdivide(addr, lovelace, opts.AdaSubdividePercentages), nil
	}
	if int64(lovelace) < adaOnlyMin { //nolint:gosec
		return []*babbage.BabbageTransactionOutput{singleOutput(addr, Leftover{Lovelace: lovelace})}, nil
	}
	return []*babbage.BabbageTransactionOutput{outputFor(addr, lovelace, nil)}, nil
}

// smallestSlice returns the smallest absolute lovelace amount among the
// weighted percentage slices of total (before rounding-remainder credit
// to the last slice, which can only make it larger, not smaller).
func smallestSlice(total int64, percentages []int) int64 {
	if len(percentages) == 0 || total <= 0 {
		return 0
	}
	min := total
	for _, pct := range percentages {
		slice := total * int64(pct) / 100
		if slice < min {
			min = slice
		}
	}
	return min
}

// subdivide splits total lovelace into len(percentages) ADA-only outputs
// by weight, with the last output absorbing the rounding remainder.
func subdivide(addr common.Address, total uint64, percentages []int) []*babbage.BabbageTransactionOutput {
	outputs := make([]*babbage.BabbageTransactionOutput, 0, len(percentages))
	var allocated uint64
	for i, pct := range percentages {
		var amount uint64
		if i == len(percentages)-1 {
			amount = total - allocated
		} else {
			amount = total * uint64(pct) / 100
			allocated += amount
		}
		outputs = append(outputs, outputFor(addr, amount, nil))
	}
	return outputs
}
