package coordinator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/settlement-engine/internal/cosigner"
	"github.com/tabsplit/settlement-engine/internal/dedup"
	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/ledger"
	"github.com/tabsplit/settlement-engine/internal/models"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

// fakeChain scripts ledger behavior per call.
type fakeChain struct {
	mu sync.Mutex

	tokenCount int
	submitErrs []error
	submits    int
	statuses   []ledger.SignatureStatus
	statusErrs []error
	statusIdx  int
	hasAccount bool
}

func (f *fakeChain) GetRecentFreshnessToken(context.Context) (ledger.FreshnessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCount++
	var bh txbuilder.Blockhash
	bh[0] = byte(f.tokenCount)
	return ledger.FreshnessToken{Value: bh, FetchedAt: time.Now(), ExpirySlot: uint64(f.tokenCount) * 100}, nil
}

func (f *fakeChain) SubmitTransaction(_ context.Context, signed []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.submits
	f.submits++
	if idx < len(f.submitErrs) && f.submitErrs[idx] != nil {
		return "", f.submitErrs[idx]
	}
	tx, err := txbuilder.Deserialize(signed)
	if err != nil {
		return "", err
	}
	return tx.Signatures[0].String(), nil
}

func (f *fakeChain) GetSignatureStatus(context.Context, string) (ledger.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.statusIdx
	f.statusIdx++
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	if idx < 0 {
		return ledger.StatusUnknown, nil
	}
	if idx < len(f.statusErrs) && f.statusErrs[idx] != nil {
		return ledger.StatusUnknown, f.statusErrs[idx]
	}
	return f.statuses[idx], nil
}

func (f *fakeChain) GetAccountInfo(context.Context, string) (bool, error) {
	return f.hasAccount, nil
}

// memStore is an in-memory DedupStore with the same reserve/complete
// semantics as the postgres ledger.
type memStore struct {
	mu       sync.Mutex
	outcomes map[string]*models.SubmissionOutcome
}

func newMemStore() *memStore {
	return &memStore{outcomes: map[string]*models.SubmissionOutcome{}}
}

func (s *memStore) Reserve(_ context.Context, key string) (dedup.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.outcomes[key]; ok {
		cp := *prior
		return dedup.Reservation{AlreadyExists: true, Prior: &cp}, nil
	}
	s.outcomes[key] = &models.SubmissionOutcome{Key: key, Status: domain.OutcomeStatusPending}
	return dedup.Reservation{}, nil
}

func (s *memStore) MarkSubmitted(_ context.Context, key, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outcomes[key]
	if !ok || out.Status != domain.OutcomeStatusPending {
		return errors.New("not pending")
	}
	out.Signature = &signature
	return nil
}

func (s *memStore) Complete(_ context.Context, key, status string, signature, failureReason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outcomes[key]
	if !ok {
		return dedup.ErrNotFound
	}
	if out.Status != domain.OutcomeStatusPending {
		if out.Status == status {
			return nil
		}
		return dedup.ErrConflictingOutcome
	}
	out.Status = status
	if signature != nil {
		out.Signature = signature
	}
	out.FailureReason = failureReason
	return nil
}

func (s *memStore) get(key string) models.SubmissionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.outcomes[key]
}

// manualClock advances on every sleep so polls and backoffs cost no real time.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

type harness struct {
	chain *fakeChain
	store *memStore
	clock *manualClock
	coord *Coordinator
	user  *txbuilder.LocalSigner
	req   models.TransactionRequest
}

func newHarness(t *testing.T, chain *fakeChain) *harness {
	t.Helper()
	newSigner := func() *txbuilder.LocalSigner {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		s, err := txbuilder.NewLocalSigner(priv)
		require.NoError(t, err)
		return s
	}
	user, cosign, receiver := newSigner(), newSigner(), newSigner()

	policy, err := cosigner.NewPolicy(domain.NetworkDevnet, 1_000_000_000, nil)
	require.NoError(t, err)
	service := cosigner.NewService(policy, cosign)

	builder := txbuilder.NewBuilder(cosign.PublicKey(), nil, 0, 0)
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	tokens := ledger.NewManager(chain, time.Minute).WithClock(clock.Now)
	store := newMemStore()

	coord := New(builder, tokens, chain, service, store, Options{
		Network:        domain.NetworkDevnet,
		PollInterval:   time.Second,
		PollTimeout:    5 * time.Second,
		NetworkRetries: 1,
		RetryBackoff:   time.Second,
	}).WithClock(clock.Now, clock.Sleep)

	return &harness{
		chain: chain,
		store: store,
		clock: clock,
		coord: coord,
		user:  user,
		req: models.TransactionRequest{
			ID:          uuid.New(),
			Sender:      user.PublicKey().String(),
			Recipient:   receiver.PublicKey().String(),
			Amount:      25_000_000,
			Token:       "USDC",
			Context:     domain.ContextDirect,
			ClientNonce: "nonce-1",
		},
	}
}

func TestSubmitConfirmsAndRecordsOutcome(t *testing.T) {
	chain := &fakeChain{hasAccount: true, statuses: []ledger.SignatureStatus{ledger.StatusConfirmed}}
	h := newHarness(t, chain)

	sub, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStatusConfirmed, sub.Status)
	assert.NotEmpty(t, sub.Signature)
	assert.False(t, sub.Duplicate)

	stored := h.store.get(sub.Key)
	assert.Equal(t, domain.OutcomeStatusConfirmed, stored.Status)
	require.NotNil(t, stored.Signature)
	assert.Equal(t, sub.Signature, *stored.Signature)
	assert.Equal(t, 1, chain.submits)
}

func TestSubmitDuplicateReturnsPriorOutcome(t *testing.T) {
	chain := &fakeChain{hasAccount: true, statuses: []ledger.SignatureStatus{ledger.StatusConfirmed}}
	h := newHarness(t, chain)

	first, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.NoError(t, err)

	second, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, first.Signature, second.Signature)
	// No new transaction reached the ledger.
	assert.Equal(t, 1, chain.submits)
}

func TestSubmitRebuildsOnStaleFreshnessToken(t *testing.T) {
	stale := domain.NewFault(domain.KindFreshnessExpired, "ledger.sendTransaction", "blockhash not found")
	chain := &fakeChain{
		hasAccount: true,
		submitErrs: []error{stale, stale, nil},
		statuses:   []ledger.SignatureStatus{ledger.StatusConfirmed},
	}
	h := newHarness(t, chain)

	sub, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStatusConfirmed, sub.Status)
	assert.Equal(t, 3, chain.submits)
	// Each rebuild fetched a fresh token.
	assert.Equal(t, 3, chain.tokenCount)
}

func TestSubmitExhaustsFreshnessWindow(t *testing.T) {
	stale := domain.NewFault(domain.KindFreshnessExpired, "ledger.sendTransaction", "blockhash not found")
	chain := &fakeChain{
		hasAccount: true,
		submitErrs: []error{stale, stale, stale},
	}
	h := newHarness(t, chain)

	_, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.Error(t, err)
	assert.Equal(t, domain.KindFreshnessExhausted, domain.KindOf(err))
	assert.Equal(t, ledger.MaxBuildAttempts, chain.submits)

	stored := h.store.get(dedup.Key(h.req, h.clock.Now()))
	assert.Equal(t, domain.OutcomeStatusFailed, stored.Status)
}

func TestSubmitNetworkFailureLeavesOutcomeReconcilable(t *testing.T) {
	netErr := domain.NewFault(domain.KindNetworkError, "ledger.sendTransaction", "connection reset")
	chain := &fakeChain{
		hasAccount: true,
		submitErrs: []error{netErr, netErr},
	}
	h := newHarness(t, chain)

	sub, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.Error(t, err)
	assert.Equal(t, domain.KindSubmissionUnknown, domain.KindOf(err))
	require.NotNil(t, sub)
	assert.Equal(t, domain.OutcomeStatusPending, sub.Status)
	assert.NotEmpty(t, sub.Signature)

	// The signature is on record so the reconciliation worker can re-query
	// the chain; nothing was resubmitted.
	stored := h.store.get(sub.Key)
	assert.Equal(t, domain.OutcomeStatusPending, stored.Status)
	require.NotNil(t, stored.Signature)
	assert.Equal(t, sub.Signature, *stored.Signature)
}

func TestSubmitPollTimeoutSurfacesUnknown(t *testing.T) {
	chain := &fakeChain{
		hasAccount: true,
		statuses:   []ledger.SignatureStatus{ledger.StatusPending},
	}
	h := newHarness(t, chain)

	sub, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.Error(t, err)
	assert.Equal(t, domain.KindSubmissionUnknown, domain.KindOf(err))
	assert.Equal(t, domain.OutcomeStatusPending, sub.Status)
	assert.Equal(t, domain.OutcomeStatusPending, h.store.get(sub.Key).Status)
}

func TestSubmitConfirmsAfterPendingPolls(t *testing.T) {
	chain := &fakeChain{
		hasAccount: true,
		statuses: []ledger.SignatureStatus{
			ledger.StatusPending,
			ledger.StatusPending,
			ledger.StatusConfirmed,
		},
	}
	h := newHarness(t, chain)

	sub, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStatusConfirmed, sub.Status)
}

func TestSubmitCoSignerRejectionIsTerminal(t *testing.T) {
	chain := &fakeChain{hasAccount: true}
	h := newHarness(t, chain)
	// The co-signer serves devnet; declaring mainnet must be refused.
	h.coord.opts.Network = domain.NetworkMainnet

	_, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.Error(t, err)
	assert.Equal(t, domain.KindCoSignerPolicyRejected, domain.KindOf(err))
	assert.Zero(t, chain.submits)

	stored := h.store.get(dedup.Key(h.req, h.clock.Now()))
	assert.Equal(t, domain.OutcomeStatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, "network mismatch")
}

type rejectingSigner struct {
	*txbuilder.LocalSigner
}

func (r rejectingSigner) Sign([]byte) (txbuilder.Signature, error) {
	return txbuilder.Signature{}, errors.New("user declined")
}

func TestSubmitUserRejectionIsTerminal(t *testing.T) {
	chain := &fakeChain{hasAccount: true}
	h := newHarness(t, chain)

	_, err := h.coord.Submit(context.Background(), h.req, rejectingSigner{h.user})
	require.Error(t, err)
	assert.Equal(t, domain.KindUserRejectedSigning, domain.KindOf(err))
	assert.Zero(t, chain.submits)

	stored := h.store.get(dedup.Key(h.req, h.clock.Now()))
	assert.Equal(t, domain.OutcomeStatusFailed, stored.Status)
}

func TestSubmitRejectsInvalidContext(t *testing.T) {
	chain := &fakeChain{hasAccount: true}
	h := newHarness(t, chain)
	h.req.Context = "venmo"

	_, err := h.coord.Submit(context.Background(), h.req, h.user)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err))
}
