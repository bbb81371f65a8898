package minutxo

import (
	"testing"

	"github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/blinklabs-io/gouroboros/ledger/mary"

	"github.com/blinklabs-io/gouroboros/ledger/babbage"
)

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

func TestCalculateADAOnly(t *testing.T) {
	addr := testAddress(t)
	out := &babbage.BabbageTransactionOutput{
		OutputAddress: addr,
		OutputAmount:  mary.MaryTransactionOutputValue{Amount: 1_000_000},
	}
	min, err := Calculate(out, 4310)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if min <= 0 {
		t.Fatalf("expected positive minUTxO, got %d", min)
	}
}

func TestSatisfies(t *testing.T) {
	addr := testAddress(t)
	out := &babbage.BabbageTransactionOutput{
		OutputAddress: addr,
		OutputAmount:  mary.MaryTransactionOutputValue{Amount: 1},
	}
	ok, err := Satisfies(out, 4310)
	if err != nil {
		t.Fatalf("Satisfies: %v", err)
	}
	if ok {
		t.Fatal("expected 1 lovelace output to not satisfy minUTxO")
	}
}

func TestConvergeStabilizes(t *testing.T) {
	addr := testAddress(t)
	lovelace := int64(0)
	out := &babbage.BabbageTransactionOutput{
		OutputAddress: addr,
		OutputAmount:  mary.MaryTransactionOutputValue{Amount: 0},
	}
	min, err := Converge(out, 4310,
		func() int64 { return lovelace },
		func(v int64) {
			lovelace = v
			out.OutputAmount.Amount = uint64(v) //nolint:gosec // test value is non-negative
		},
		3,
	)
	if err != nil {
		t.Fatalf("Converge: %v", err)
	}
	if lovelace != min {
		t.Fatalf("expected converged lovelace %d to equal computed min %d", lovelace, min)
	}
	if lovelace < min {
		t.Fatalf("converged lovelace %d below min %d", lovelace, min)
	}
}
