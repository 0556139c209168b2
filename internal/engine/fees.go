package engine

import (
	"fmt"
	"math"
)

const DefaultPlatformFeeRate = 0.10

// Amounts is an escrow breakdown in minor currency units.
type Amounts struct {
	WorkerAmount int64 `json:"worker_amount"`
	PlatformFee  int64 `json:"platform_fee"`
	ClientPays   int64 `json:"client_pays"`
}

// ComputeAmounts converts a major-unit budget into the escrow breakdown.
// Rounding is half away from zero at each step. A zero budget yields a zero
// breakdown; use fundableAmounts where money must actually move.
func ComputeAmounts(budget, feeRate float64) (Amounts, error) {
	if math.IsNaN(budget) || math.IsInf(budget, 0) || budget < 0 {
		return Amounts{}, ValidationError{Field: "budget_amount", Message: "must not be negative"}
	}
	if feeRate < 0 || feeRate >= 1 {
		return Amounts{}, fmt.Errorf("platform fee rate %v out of range", feeRate)
	}
	worker := int64(math.Round(budget * 100))
	fee := int64(math.Round(float64(worker) * feeRate))
	return Amounts{WorkerAmount: worker, PlatformFee: fee, ClientPays: worker + fee}, nil
}

// fundableAmounts is ComputeAmounts for budgets that must be held in
// escrow, which need at least one minor unit.
func fundableAmounts(budget, feeRate float64) (Amounts, error) {
	a, err := ComputeAmounts(budget, feeRate)
	if err != nil {
		return a, err
	}
	if a.WorkerAmount <= 0 {
		return Amounts{}, ValidationError{Field: "budget_amount", Message: "must be a positive amount"}
	}
	return a, nil
}

// Major renders minor units as a major-unit amount.
func Major(minor int64) float64 {
	return float64(minor) / 100
}
