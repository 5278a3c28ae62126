package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/ledger"
	"github.com/tabsplit/settlement-engine/internal/models"
)

// OutcomeLedger is the slice of the dedup store reconciliation consumes.
// *dedup.Ledger satisfies it.
type OutcomeLedger interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]models.SubmissionOutcome, error)
	Complete(ctx context.Context, key, status string, signature, failureReason *string) error
}

// ReconciliationService resolves submissions whose confirmation window
// elapsed without a verdict. The chain is the source of truth: a submission
// the poller gave up on but that actually landed must end up CONFIRMED with
// its discovered signature, never FAILED.
type ReconciliationService struct {
	outcomes OutcomeLedger
	chain    ledger.Client

	// staleAfter is how long a pending outcome must sit untouched before
	// it is re-queried.
	staleAfter time.Duration
	batchSize  int32
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(outcomes OutcomeLedger, chain ledger.Client, staleAfter time.Duration, batchSize int32) *ReconciliationService {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReconciliationService{
		outcomes:   outcomes,
		chain:      chain,
		staleAfter: staleAfter,
		batchSize:  batchSize,
	}
}

// Run re-queries the chain for every stale pending submission and settles
// the ones with a verdict. Per-row failures are logged and skipped so one
// bad row cannot wedge the batch.
func (s *ReconciliationService) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.outcomes.ListStalePending(ctx, cutoff, s.batchSize)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	zap.L().Info("reconciling stale pending submissions", zap.Int("count", len(stale)))

	for _, out := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if out.Signature == nil {
			continue
		}
		sig := *out.Signature

		status, err := s.chain.GetSignatureStatus(ctx, sig)
		switch {
		case err != nil && domain.KindOf(err) == domain.KindNetworkError:
			zap.L().Warn("reconciliation query failed; will retry next run",
				zap.String("key", out.Key), zap.Error(err))
			continue
		case err != nil:
			// The chain executed the transaction and reports failure.
			reason := err.Error()
			if cerr := s.outcomes.Complete(ctx, out.Key, domain.OutcomeStatusFailed, &sig, &reason); cerr != nil {
				zap.L().Error("record reconciled failure", zap.String("key", out.Key), zap.Error(cerr))
			}
		case status == ledger.StatusConfirmed:
			if cerr := s.outcomes.Complete(ctx, out.Key, domain.OutcomeStatusConfirmed, &sig, nil); cerr != nil {
				zap.L().Error("record reconciled confirmation", zap.String("key", out.Key), zap.Error(cerr))
				continue
			}
			zap.L().Info("reconciled submission confirmed",
				zap.String("key", out.Key), zap.String("signature", sig))
		default:
			// Still pending or unknown on chain; leave it for the next run.
		}
	}
	return nil
}
