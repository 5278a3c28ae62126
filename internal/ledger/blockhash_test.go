package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

type fakeClient struct {
	Client
	fetches int
	err     error
	now     func() time.Time
}

func (f *fakeClient) GetRecentFreshnessToken(ctx context.Context) (FreshnessToken, error) {
	if f.err != nil {
		return FreshnessToken{}, f.err
	}
	f.fetches++
	var bh txbuilder.Blockhash
	bh[0] = byte(f.fetches)
	fetchedAt := time.Now()
	if f.now != nil {
		fetchedAt = f.now()
	}
	return FreshnessToken{Value: bh, FetchedAt: fetchedAt, ExpirySlot: uint64(1000 + f.fetches)}, nil
}

func TestAcquireCachesWithinMargin(t *testing.T) {
	fc := &fakeClient{}
	m := NewManager(fc, time.Minute)

	tok1, err := m.Acquire(context.Background())
	require.NoError(t, err)
	tok2, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok1.Value, tok2.Value)
	assert.Equal(t, 1, fc.fetches)
}

func TestAcquireRefetchesPastMargin(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	fc := &fakeClient{now: func() time.Time { return current }}
	m := NewManager(fc, 30*time.Second).WithClock(func() time.Time { return current })

	tok1, err := m.Acquire(context.Background())
	require.NoError(t, err)

	current = current.Add(31 * time.Second)
	tok2, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, tok1.Value, tok2.Value)
	assert.Equal(t, 2, fc.fetches)
}

func TestRefreshAlwaysFetches(t *testing.T) {
	fc := &fakeClient{}
	m := NewManager(fc, time.Hour)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	_, err = m.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fc.fetches)
}

func TestIsLikelyExpired(t *testing.T) {
	current := time.Unix(1_700_000_000, 0)
	m := NewManager(&fakeClient{}, 30*time.Second).WithClock(func() time.Time { return current })

	fresh := FreshnessToken{FetchedAt: current.Add(-10 * time.Second)}
	stale := FreshnessToken{FetchedAt: current.Add(-31 * time.Second)}

	assert.False(t, m.IsLikelyExpired(fresh))
	assert.True(t, m.IsLikelyExpired(stale))
}

func TestAcquirePropagatesFetchError(t *testing.T) {
	fc := &fakeClient{err: errors.New("node down")}
	m := NewManager(fc, time.Minute)

	_, err := m.Acquire(context.Background())
	assert.Error(t, err)
}

func TestExhaustedFaultKind(t *testing.T) {
	err := ExhaustedFault("coordinator.Submit")
	assert.Equal(t, domain.KindFreshnessExhausted, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))
}
