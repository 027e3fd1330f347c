package model

import (
	"github.com/sawpanic/solroute/internal/errs"
)

const (
	DefaultSlippageBps = 50
	MaxSlippageBps     = 10000
	DefaultMaxRoutes   = 3
	MaxRoutes          = 10
)

// ApplyDefaults fills unset optional fields in place. An explicit
// maxAlternatives of 0 is a valid value and survives.
func (r *QuoteRequest) ApplyDefaults() {
	if r.SlippageBps == 0 {
		r.SlippageBps = DefaultSlippageBps
	}
	if r.MaxAlternatives == nil {
		n := DefaultMaxRoutes
		r.MaxAlternatives = &n
	}
}

// Validate checks the routing invariants: distinct mints, amount in
// [1, 2^64-1], slippage in [1, 10000], alternatives bound in [0, 10].
func (r *QuoteRequest) Validate() error {
	if r.InputMint == "" || r.OutputMint == "" {
		return errs.New(errs.InvalidInput, "inputMint and outputMint are required")
	}
	if r.InputMint == r.OutputMint {
		return errs.New(errs.InvalidInput, "inputMint and outputMint must differ")
	}
	amt, ok := ParseAmount(r.Amount)
	if !ok {
		return errs.Newf(errs.InvalidAmount, "amount %q is not a non-negative integer", r.Amount)
	}
	if amt.Sign() == 0 {
		return errs.New(errs.AmountTooSmall, "amount must be at least 1")
	}
	if amt.Cmp(maxAmount) > 0 {
		return errs.Newf(errs.AmountTooLarge, "amount exceeds maximum %s", maxAmount.String())
	}
	if r.SlippageBps < 1 || r.SlippageBps > MaxSlippageBps {
		return errs.Newf(errs.SlippageTooHigh, "slippageBps %d out of range [1,%d]", r.SlippageBps, MaxSlippageBps)
	}
	if r.MaxAlternatives != nil && (*r.MaxAlternatives < 0 || *r.MaxAlternatives > MaxRoutes) {
		return errs.Newf(errs.InvalidInput, "maxRoutes %d out of range [0,%d]", *r.MaxAlternatives, MaxRoutes)
	}
	return nil
}
