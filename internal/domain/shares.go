package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SplitShares divides a bill total into n owed shares that always sum back to
// total. Division happens in decimal space; the integer remainder is handed
// out one base unit at a time starting from the first participant, so the
// assignment is deterministic for a fixed participant order.
func SplitShares(total int64, n int) ([]int64, error) {
	if total <= 0 {
		return nil, fmt.Errorf("total must be positive, got %d", total)
	}
	if n <= 0 {
		return nil, fmt.Errorf("participant count must be positive, got %d", n)
	}

	base := decimal.NewFromInt(total).DivRound(decimal.NewFromInt(int64(n)), 0).IntPart()
	// DivRound can round up; recompute from floor so remainder stays non-negative.
	if base*int64(n) > total {
		base = total / int64(n)
	}
	remainder := total - base*int64(n)

	shares := make([]int64, n)
	for i := range shares {
		shares[i] = base
		if int64(i) < remainder {
			shares[i]++
		}
	}
	return shares, nil
}
