// Package minutxo computes the ledger-imposed minimum lovelace an output
// must carry, proportional to its canonical CBOR byte size.
package minutxo

import (
	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/ledger/babbage"
)

// ConstantOverhead is the fixed per-output byte overhead added to the
// measured CBOR size before multiplying by coinsPerUtxoByte, per the
// Babbage/Conway-era minUTxO rule: coinsPerUtxoByte * (size + 160).
const ConstantOverhead = 160

// CborSize returns the canonical CBOR-encoded byte length of output.
func CborSize(output *babbage.BabbageTransactionOutput) (int, error) {
	encoded, err := cbor.Encode(output)
	if err != nil {
		return 0, err
	}
	return len(encoded), nil
}

// Calculate returns the minimum lovelace that output must carry, given the
// protocol's coinsPerUtxoByte parameter. The output is valid iff its actual
// lovelace amount is greater than or equal to this value.
func Calculate(output *babbage.BabbageTransactionOutput, coinsPerUtxoByte int64) (int64, error) {
	size, err := CborSize(output)
	if err != nil {
		return 0, err
	}
	return coinsPerUtxoByte * int64(size+ConstantOverhead), nil
}

// Satisfies reports whether output already carries at least its own
// computed minimum lovelace requirement.
func Satisfies(output *babbage.BabbageTransactionOutput, coinsPerUtxoByte int64) (bool, error) {
	min, err := Calculate(output, coinsPerUtxoByte)
	if err != nil {
		return false, err
	}
	return int64(output.OutputAmount.Amount) >= min, nil //nolint:gosec // lovelace amounts fit in int64
}

// Converge raises lovelaceOf(output) up to its own minUTxO threshold,
// re-measuring after each bump since a larger lovelace value can itself
// widen the CBOR integer encoding and raise the threshold again. setLovelace
// must apply the candidate amount to the output in place (callers own the
// output's concrete type, so the lovelace field itself isn't touched here).
// Converges in 1-2 iterations in practice; gives up after maxIterations.
func Converge(
	output *babbage.BabbageTransactionOutput,
	coinsPerUtxoByte int64,
	currentLovelace func() int64,
	setLovelace func(int64),
	maxIterations int,
) (int64, error) {
	for i := 0; i < maxIterations; i++ {
		min, err := Calculate(output, coinsPerUtxoByte)
		if err != nil {
			return 0, err
		}
		if currentLovelace() >= min {
			return min, nil
		}
		setLovelace(min)
	}
	return Calculate(output, coinsPerUtxoByte)
}
