package domain

import "fmt"

// TransferContext tags the business flow a transaction request belongs to.
// It is a closed set: every switch over it must handle all members, and
// Validate rejects anything outside the set at the boundary.
type TransferContext string

const (
	ContextDirect           TransferContext = "direct"
	ContextFairContribution TransferContext = "fair-split-contribution"
	ContextFairPayout       TransferContext = "fair-split-payout"
	ContextDegenLock        TransferContext = "degen-lock"
	ContextDegenPayout      TransferContext = "degen-payout"
)

// Validate returns an error for any value outside the closed set.
func (c TransferContext) Validate() error {
	switch c {
	case ContextDirect, ContextFairContribution, ContextFairPayout, ContextDegenLock, ContextDegenPayout:
		return nil
	}
	return fmt.Errorf("unknown transfer context %q", string(c))
}

// IsPayout reports whether the context represents funds leaving a custodial
// split wallet rather than entering one.
func (c TransferContext) IsPayout() bool {
	switch c {
	case ContextFairPayout, ContextDegenPayout:
		return true
	case ContextDirect, ContextFairContribution, ContextDegenLock:
		return false
	}
	return false
}
