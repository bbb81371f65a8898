package apollo

import "fmt"

// InsufficientFunds indicates the builder could not find enough value to
// cover its required outputs plus fee. coinselect.Strategy implementations
// report the failure via coinselect.InsufficientFunds; Complete() returns
// this variant when that report is for the "lovelace" unit.
type InsufficientFunds struct {
	Reason string
	Need   uint64
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: %s (need %d more lovelace)", e.Reason, e.Need)
}

// InsufficientFundsForAssets indicates native assets present in the
// leftover change could not be carried without a change output, and no
// reselection attempt resolved it.
type InsufficientFundsForAssets struct {
	Assets []string
}

func (e *InsufficientFundsForAssets) Error() string {
	return fmt.Sprintf("insufficient funds to carry assets in change: %v", e.Assets)
}

// InvalidDrainIndex is returned by Complete() when DrainTo names an output
// index outside the payment output list.
type InvalidDrainIndex struct {
	Index int
	Len   int
}

func (e *InvalidDrainIndex) Error() string {
	return fmt.Sprintf("invalid drain index %d: builder has %d output(s)", e.Index, e.Len)
}

// FeeFixpointDiverged is returned by Complete() when the fee/change
// convergence loop exhausts its iteration budget without the fee estimate
// settling. This indicates a bug in the fee model, not something a caller
// can correct by adjusting inputs.
type FeeFixpointDiverged struct {
	Iterations int
	LastFee    int64
}

func (e *FeeFixpointDiverged) Error() string {
	return fmt.Sprintf("fee estimate did not converge after %d iterations (last fee %d)", e.Iterations, e.LastFee)
}

// WalletSigningFailed wraps an error returned by Wallet.SignTxBody.
type WalletSigningFailed struct {
	Cause error
}

func (e *WalletSigningFailed) Error() string {
	return fmt.Sprintf("wallet signing failed: %s", e.Cause)
}

func (e *WalletSigningFailed) Unwrap() error { return e.Cause }

// ProviderRejected wraps the node/provider's rejection of a submitted
// transaction.
type ProviderRejected struct {
	Cause error
}

func (e *ProviderRejected) Error() string {
	return fmt.Sprintf("provider rejected transaction: %s", e.Cause)
}

func (e *ProviderRejected) Unwrap() error { return e.Cause }

// InternalInvariantViolated marks a state the builder's own balance
// equation should never allow to reach a caller. It is never meant to be
// handled by callers; it indicates a bug in the builder itself.
type InternalInvariantViolated struct {
	Reason string
}

func (e *InternalInvariantViolated) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.Reason)
}
