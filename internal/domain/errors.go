package domain

import (
	"errors"
	"fmt"
)

// FaultKind classifies every error the settlement pipeline can surface.
type FaultKind string

const (
	// KindInvalidRequest covers bad amounts, unknown tokens and malformed
	// recipients. Fatal, user-correctable.
	KindInvalidRequest FaultKind = "invalid_request"
	// KindFreshnessExpired means the blockhash a transaction referenced went
	// stale before the ledger accepted it. Retryable via refresh-and-rebuild.
	KindFreshnessExpired FaultKind = "freshness_expired"
	// KindFreshnessExhausted means the bounded refresh-and-rebuild loop ran
	// out of attempts. Fatal for this call, retryable later.
	KindFreshnessExhausted FaultKind = "freshness_exhausted"
	// KindNetworkError is any transport-level failure. Retryable with backoff.
	KindNetworkError FaultKind = "network_error"
	// KindCoSignerPolicyRejected means the co-signer refused to counter-sign.
	// Fatal; the rejection reason is surfaced verbatim.
	KindCoSignerPolicyRejected FaultKind = "cosigner_policy_rejected"
	// KindUserRejectedSigning means the user declined to sign. Fatal, no retry.
	KindUserRejectedSigning FaultKind = "user_rejected_signing"
	// KindSubmissionUnknown means confirmation polling timed out; the ledger
	// must be re-queried before any retry.
	KindSubmissionUnknown FaultKind = "submission_unknown"
	// KindAlreadySettled / KindAlreadyLocked indicate a caller bug or a lost
	// race on a split wallet transition.
	KindAlreadySettled FaultKind = "already_settled"
	KindAlreadyLocked  FaultKind = "already_locked"
	// KindInternal is the catch-all for storage and invariant failures.
	KindInternal FaultKind = "internal"
)

// Fault is the structured error carried across package boundaries. Kind
// drives retry policy and HTTP status mapping; Reason is safe to show users.
type Fault struct {
	Kind   FaultKind
	Op     string
	Reason string
	Err    error
}

func (f *Fault) Error() string {
	switch {
	case f.Err != nil && f.Reason != "":
		return fmt.Sprintf("%s: %s: %s: %v", f.Op, f.Kind, f.Reason, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
	case f.Reason != "":
		return fmt.Sprintf("%s: %s: %s", f.Op, f.Kind, f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Op, f.Kind)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault builds a Fault with a caller-facing reason.
func NewFault(kind FaultKind, op, reason string) *Fault {
	return &Fault{Kind: kind, Op: op, Reason: reason}
}

// WrapFault attaches a kind and operation to an underlying error.
func WrapFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the fault kind from err, walking the wrap chain.
// Unclassified errors report KindInternal.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the pipeline may retry after err without
// operator or user involvement. SubmissionUnknown is deliberately excluded:
// it requires a reconciliation query first.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindFreshnessExpired, KindNetworkError:
		return true
	}
	return false
}
