package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/ledger"
	"github.com/tabsplit/settlement-engine/internal/models"
)

type fakeOutcomes struct {
	stale     []models.SubmissionOutcome
	completed map[string]string
	sigs      map[string]string
}

func (f *fakeOutcomes) ListStalePending(context.Context, time.Time, int32) ([]models.SubmissionOutcome, error) {
	return f.stale, nil
}

func (f *fakeOutcomes) Complete(_ context.Context, key, status string, signature, _ *string) error {
	if f.completed == nil {
		f.completed = map[string]string{}
		f.sigs = map[string]string{}
	}
	f.completed[key] = status
	if signature != nil {
		f.sigs[key] = *signature
	}
	return nil
}

type statusChain struct {
	ledger.Client
	statuses map[string]ledger.SignatureStatus
	errs     map[string]error
}

func (c *statusChain) GetSignatureStatus(_ context.Context, sig string) (ledger.SignatureStatus, error) {
	if err, ok := c.errs[sig]; ok {
		return ledger.StatusUnknown, err
	}
	return c.statuses[sig], nil
}

func strPtr(s string) *string { return &s }

func TestReconciliationConfirmsLandedSubmission(t *testing.T) {
	// A submission that timed out during polling but actually landed must be
	// marked confirmed with the discovered signature, not failed.
	outcomes := &fakeOutcomes{stale: []models.SubmissionOutcome{
		{Key: "k1", Status: domain.OutcomeStatusPending, Signature: strPtr("sig-1")},
		{Key: "k2", Status: domain.OutcomeStatusPending, Signature: strPtr("sig-2")},
		{Key: "k3", Status: domain.OutcomeStatusPending, Signature: nil},
	}}
	chain := &statusChain{statuses: map[string]ledger.SignatureStatus{
		"sig-1": ledger.StatusConfirmed,
		"sig-2": ledger.StatusPending,
	}}

	svc := NewReconciliationService(outcomes, chain, time.Minute, 10)
	require.NoError(t, svc.Run(context.Background()))

	assert.Equal(t, domain.OutcomeStatusConfirmed, outcomes.completed["k1"])
	assert.Equal(t, "sig-1", outcomes.sigs["k1"])
	// Still pending on chain: untouched, retried next run.
	assert.NotContains(t, outcomes.completed, "k2")
	// No signature to query: skipped.
	assert.NotContains(t, outcomes.completed, "k3")
}

func TestReconciliationRecordsChainFailure(t *testing.T) {
	outcomes := &fakeOutcomes{stale: []models.SubmissionOutcome{
		{Key: "k1", Status: domain.OutcomeStatusPending, Signature: strPtr("sig-1")},
	}}
	chain := &statusChain{errs: map[string]error{
		"sig-1": domain.NewFault(domain.KindInternal, "ledger.getSignatureStatuses", "transaction failed on ledger"),
	}}

	svc := NewReconciliationService(outcomes, chain, time.Minute, 10)
	require.NoError(t, svc.Run(context.Background()))
	assert.Equal(t, domain.OutcomeStatusFailed, outcomes.completed["k1"])
}

func TestReconciliationSkipsOnNetworkError(t *testing.T) {
	outcomes := &fakeOutcomes{stale: []models.SubmissionOutcome{
		{Key: "k1", Status: domain.OutcomeStatusPending, Signature: strPtr("sig-1")},
	}}
	chain := &statusChain{errs: map[string]error{
		"sig-1": domain.NewFault(domain.KindNetworkError, "ledger.getSignatureStatuses", "timeout"),
	}}

	svc := NewReconciliationService(outcomes, chain, time.Minute, 10)
	require.NoError(t, svc.Run(context.Background()))
	assert.Empty(t, outcomes.completed)
}
