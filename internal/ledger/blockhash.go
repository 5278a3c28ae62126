package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/domain"
)

// MaxBuildAttempts bounds the refresh-and-rebuild loop after staleness
// rejections. Exceeding it surfaces FreshnessExhausted.
const MaxBuildAttempts = 3

// DefaultSafetyMargin is how long a cached token is trusted before Acquire
// fetches a new one. Real expiry is height-based; this is a local heuristic.
const DefaultSafetyMargin = 45 * time.Second

// Manager owns the single cached freshness token for a logical session.
// Tokens are consumed, never mutated: a stale one is replaced wholesale.
type Manager struct {
	client Client
	margin time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current *FreshnessToken
}

// NewManager wraps client with a cached-token lifecycle.
func NewManager(client Client, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return &Manager{client: client, margin: margin, now: time.Now}
}

// WithClock overrides the wall clock. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Acquire returns the cached token, fetching a new one when the cache is
// empty or within the safety margin of expiry.
func (m *Manager) Acquire(ctx context.Context) (FreshnessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.likelyExpiredLocked(*m.current) {
		return *m.current, nil
	}
	return m.fetchLocked(ctx)
}

// Refresh discards the cached token and fetches a new one. Callers must
// invoke this after any staleness rejection; the old token cannot be reused.
func (m *Manager) Refresh(ctx context.Context) (FreshnessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return m.fetchLocked(ctx)
}

// IsLikelyExpired applies the wall-clock heuristic to a token.
func (m *Manager) IsLikelyExpired(tok FreshnessToken) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.likelyExpiredLocked(tok)
}

func (m *Manager) likelyExpiredLocked(tok FreshnessToken) bool {
	return m.now().Sub(tok.FetchedAt) >= m.margin
}

func (m *Manager) fetchLocked(ctx context.Context) (FreshnessToken, error) {
	tok, err := m.client.GetRecentFreshnessToken(ctx)
	if err != nil {
		return FreshnessToken{}, err
	}
	m.current = &tok
	zap.L().Debug("freshness token refreshed",
		zap.String("blockhash", tok.Value.String()),
		zap.Uint64("expiry_slot", tok.ExpirySlot),
	)
	return tok, nil
}

// ExhaustedFault is the terminal error after MaxBuildAttempts staleness
// rejections: fatal for the current call, retryable later by the caller.
func ExhaustedFault(op string) *domain.Fault {
	return domain.NewFault(domain.KindFreshnessExhausted, op, "freshness window exhausted after bounded rebuild attempts")
}
