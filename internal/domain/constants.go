package domain

// Networks the engine can be deployed against. The active network is part of
// co-signer policy: an envelope declaring the wrong network is rejected before
// any signature is produced.
const (
	NetworkMainnet = "mainnet-beta"
	NetworkDevnet  = "devnet"
)

// Split types.
const (
	SplitTypeFair  = "fair"
	SplitTypeDegen = "degen"
)

// Split wallet statuses.
const (
	WalletStatusCollecting = "COLLECTING"
	WalletStatusLocked     = "LOCKED"
	WalletStatusSettled    = "SETTLED"
	WalletStatusCancelled  = "CANCELLED"
)

// Degen payout directions. The direction is a policy field on the wallet, not
// a hard-coded rule.
const (
	// PayoutLoserTakesPot sends the entire pooled amount (minus fees) to the
	// selected participant.
	PayoutLoserTakesPot = "loser_takes_pot"
	// PayoutLoserCoversBill refunds every participant except the selected one,
	// whose stake covers the bill.
	PayoutLoserCoversBill = "loser_covers_bill"
)

// Submission outcome statuses tracked by the deduplication ledger.
const (
	OutcomeStatusPending   = "PENDING"
	OutcomeStatusConfirmed = "CONFIRMED"
	OutcomeStatusFailed    = "FAILED"
)

// ValidWalletStatus reports whether s is a known wallet status.
func ValidWalletStatus(s string) bool {
	switch s {
	case WalletStatusCollecting, WalletStatusLocked, WalletStatusSettled, WalletStatusCancelled:
		return true
	}
	return false
}

// ValidPayoutDirection reports whether d is a known degen payout direction.
func ValidPayoutDirection(d string) bool {
	return d == PayoutLoserTakesPot || d == PayoutLoserCoversBill
}
