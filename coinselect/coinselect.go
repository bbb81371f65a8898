// Package coinselect implements the pluggable coin-selection contract:
// given a pool of available UTxOs and a required asset bundle, choose a
// subset of UTxOs whose combined value covers the requirement.
package coinselect

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/blinklabs-io/gouroboros/ledger/common"
)

// Requirement is the asset bundle a selection must cover: a lovelace
// amount plus, optionally, native asset quantities.
type Requirement struct {
	Lovelace uint64
	Assets   *common.MultiAsset[common.MultiAssetTypeOutput]
}

// InsufficientFunds is returned when no subset of the available UTxOs can
// satisfy the requirement for one of its units.
type InsufficientFunds struct {
	// Unit is "lovelace" or "<policyHex>.<assetNameHex>".
	Unit      string
	Required  *big.Int
	Have      *big.Int
	Shortfall *big.Int
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("coinselect: insufficient funds for %s: required %s, have %s, shortfall %s",
		e.Unit, e.Required.String(), e.Have.String(), e.Shortfall.String())
}

// Strategy selects a subset of available covering required, or returns an
// InsufficientFunds error. Implementations must not mutate available.
type Strategy func(available []common.Utxo, required Requirement) ([]common.Utxo, error)

func refKey(u common.Utxo) string {
	return fmt.Sprintf("%x#%d", u.Id.Id().Bytes(), u.Id.Index())
}

// Dedup removes UTxOs with duplicate (txHash, outputIndex) keys, keeping
// the first occurrence of each.
func Dedup(utxos []common.Utxo) []common.Utxo {
	seen := make(map[string]struct{}, len(utxos))
	out := make([]common.Utxo, 0, len(utxos))
	for _, u := range utxos {
		key := refKey(u)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}

// accumulator tracks how much of the requirement has been covered so far.
type accumulator struct {
	lovelace *big.Int
	assets   map[string]*big.Int // "policyHex.assetHex" -> quantity
}

func newAccumulator() *accumulator {
	return &accumulator{lovelace: new(big.Int), assets: make(map[string]*big.Int)}
}

func (acc *accumulator) add(u common.Utxo) {
	if amt := u.Output.Amount(); amt != nil {
		acc.lovelace.Add(acc.lovelace, amt)
	}
	assets := u.Output.Assets()
	if assets == nil {
		return
	}
	for _, policy := range assets.Policies() {
		for _, name := range assets.Assets(policy) {
			key := fmt.Sprintf("%x.%x", policy.Bytes(), []byte(name))
			qty := assets.Asset(policy, name)
			if qty == nil {
				continue
			}
			if existing, ok := acc.assets[key]; ok {
				existing.Add(existing, qty)
			} else {
				acc.assets[key] = new(big.Int).Set(qty)
			}
		}
	}
}

// satisfied reports whether acc covers required in full, and if not, the
// first unmet unit, required amount, amount held, and shortfall.
func (acc *accumulator) satisfied(required Requirement) (bool, string, *big.Int, *big.Int, *big.Int) {
	reqLovelace := new(big.Int).SetUint64(required.Lovelace)
	if acc.lovelace.Cmp(reqLovelace) < 0 {
		shortfall := new(big.Int).Sub(reqLovelace, acc.lovelace)
		return false, "lovelace", reqLovelace, acc.lovelace, shortfall
	}
	if required.Assets != nil {
		for _, policy := range required.Assets.Policies() {
			for _, name := range required.Assets.Assets(policy) {
				reqQty := required.Assets.Asset(policy, name)
				if reqQty == nil || reqQty.Sign() <= 0 {
					continue // zero/absent quantity is equivalent to the policy being absent
				}
				key := fmt.Sprintf("%x.%x", policy.Bytes(), []byte(name))
				have, ok := acc.assets[key]
				if !ok {
					have = new(big.Int)
				}
				if have.Cmp(reqQty) < 0 {
					shortfall := new(big.Int).Sub(reqQty, have)
					return false, key, reqQty, have, shortfall
				}
			}
		}
	}
	return true, "", nil, nil, nil
}

// LargestFirst is the default strategy: sort available by lovelace
// descending (stable) and walk in order, accumulating UTxOs until every
// unit in required is covered.
func LargestFirst(available []common.Utxo, required Requirement) ([]common.Utxo, error) {
	pool := make([]common.Utxo, len(available))
	copy(pool, available)
	sort.SliceStable(pool, func(i, j int) bool {
		ai := pool[i].Output.Amount()
		aj := pool[j].Output.Amount()
		if ai == nil {
			ai = new(big.Int)
		}
		if aj == nil {
			aj = new(big.Int)
		}
		return ai.Cmp(aj) > 0
	})

	acc := newAccumulator()
	selected := make([]common.Utxo, 0)
	if ok, _, _, _, _ := acc.satisfied(required); ok {
		return selected, nil
	}
	for _, u := range pool {
		acc.add(u)
		selected = append(selected, u)
		if ok, _, _, _, _ := acc.satisfied(required); ok {
			return selected, nil
		}
	}
	ok, unit, req, have, shortfall := acc.satisfied(required)
	if ok {
		return selected, nil
	}
	return nil, &InsufficientFunds{Unit: unit, Required: req, Have: have, Shortfall: shortfall}
}

// PreferAdaOnly is an opt-in strategy: ADA-only UTxOs are sorted by
// lovelace descending and exhausted first, with asset-bearing UTxOs (also
// sorted by lovelace descending) used only once those run out. Useful when
// a caller wants ordinary payments to leave token-bearing UTxOs untouched
// for as long as possible.
func PreferAdaOnly(available []common.Utxo, required Requirement) ([]common.Utxo, error) {
	pool := make([]common.Utxo, len(available))
	copy(pool, available)
	sort.SliceStable(pool, func(i, j int) bool {
		iHasAssets := pool[i].Output.Assets() != nil
		jHasAssets := pool[j].Output.Assets() != nil
		if iHasAssets != jHasAssets {
			return !iHasAssets
		}
		ai := pool[i].Output.Amount()
		aj := pool[j].Output.Amount()
		if ai == nil {
			ai = new(big.Int)
		}
		if aj == nil {
			aj = new(big.Int)
		}
		return ai.Cmp(aj) > 0
	})

	acc := newAccumulator()
	selected := make([]common.Utxo, 0)
	if ok, _, _, _, _ := acc.satisfied(required); ok {
		return selected, nil
	}
	for _, u := range pool {
		acc.add(u)
		selected = append(selected, u)
		if ok, _, _, _, _ := acc.satisfied(required); ok {
			return selected, nil
		}
	}
	ok, unit, req, have, shortfall := acc.satisfied(required)
	if ok {
		return selected, nil
	}
	return nil, &InsufficientFunds{Unit: unit, Required: req, Have: have, Shortfall: shortfall}
}
