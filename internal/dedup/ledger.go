// Package dedup is the persistent key→outcome map that makes client retries
// and network-timeout resubmits safe. A caller that lost track of a previous
// attempt re-derives the same key and reads the true status back instead of
// double-spending.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/models"
	"github.com/tabsplit/settlement-engine/internal/observability"
)

var (
	ErrNotFound = errors.New("idempotency key not found")
	// ErrConflictingOutcome means a completion tried to overwrite a different
	// terminal outcome. That is a logic error, never a legal transition.
	ErrConflictingOutcome = errors.New("conflicting completion for idempotency key")
)

// TimeBucket is the window within which identical requests collapse to one
// key. Wide enough to absorb retries, narrow enough that a genuinely repeated
// bill tomorrow gets its own key.
const TimeBucket = 10 * time.Minute

const redisKeyPrefix = "dedup"

// Key derives the deterministic idempotency key for a request at a point in
// time. Same request, same bucket, same key.
func Key(req models.TransactionRequest, at time.Time) string {
	bucket := at.UTC().Truncate(TimeBucket)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s|%d",
		req.Sender, req.Recipient, req.Amount, req.Token, req.Context, req.ClientNonce, bucket.Unix())
	return hex.EncodeToString(h.Sum(nil))
}

// RouletteKey guards the single roulette draw for a wallet with the same
// reserve-before-act mechanics as transaction submissions.
func RouletteKey(walletID string) string {
	return "roulette:" + walletID
}

// Reservation is the result of an atomic check-and-insert.
type Reservation struct {
	AlreadyExists bool
	Prior         *models.SubmissionOutcome
}

// Ledger stores outcomes in postgres with a redis read-through cache for
// terminal entries.
type Ledger struct {
	db    *pgxpool.Pool
	redis redis.Cmdable
	ttl   time.Duration
}

// NewLedger wires the dedup ledger. redis may be nil; the cache is then
// skipped entirely.
func NewLedger(db *pgxpool.Pool, rdb redis.Cmdable, ttl time.Duration) *Ledger {
	return &Ledger{db: db, redis: rdb, ttl: ttl}
}

// Reserve atomically claims key. A fresh claim comes back PENDING with
// AlreadyExists=false; a duplicate returns the stored outcome untouched.
func (l *Ledger) Reserve(ctx context.Context, key string) (Reservation, error) {
	tag, err := l.db.Exec(ctx, `
		INSERT INTO submission_outcomes (key, status, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (key) DO NOTHING`, key, domain.OutcomeStatusPending)
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		observability.IncrementDedupEvent("reserved")
		return Reservation{AlreadyExists: false}, nil
	}

	prior, err := l.Lookup(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	observability.IncrementDedupEvent("duplicate")
	return Reservation{AlreadyExists: true, Prior: prior}, nil
}

// MarkSubmitted records the ledger signature while the outcome is still
// pending, so a reconciliation pass can re-query the chain later.
func (l *Ledger) MarkSubmitted(ctx context.Context, key, signature string) error {
	tag, err := l.db.Exec(ctx, `
		UPDATE submission_outcomes SET signature = $1, updated_at = NOW()
		WHERE key = $2 AND status = $3`, signature, key, domain.OutcomeStatusPending)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("mark submitted: key %s is not pending", key)
	}
	return nil
}

// Complete transitions pending → confirmed|failed. Re-completing with the
// same outcome is a no-op; completing with a different one is rejected. A
// CONFIRMED key never transitions anywhere else.
func (l *Ledger) Complete(ctx context.Context, key, status string, signature, failureReason *string) error {
	if status != domain.OutcomeStatusConfirmed && status != domain.OutcomeStatusFailed {
		return fmt.Errorf("complete: %q is not a terminal status", status)
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin completion: %w", err)
	}
	defer tx.Rollback(ctx)

	var current models.SubmissionOutcome
	err = tx.QueryRow(ctx, `
		SELECT key, status, signature, failure_reason, created_at, updated_at
		FROM submission_outcomes WHERE key = $1 FOR UPDATE`, key).
		Scan(&current.Key, &current.Status, &current.Signature, &current.FailureReason, &current.CreatedAt, &current.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load outcome for completion: %w", err)
	}

	if current.Status != domain.OutcomeStatusPending {
		if current.Status == status && equalStr(current.Signature, signature) {
			return nil
		}
		return fmt.Errorf("%w: %s already %s", ErrConflictingOutcome, key, current.Status)
	}

	_, err = tx.Exec(ctx, `
		UPDATE submission_outcomes
		SET status = $1, signature = COALESCE($2, signature), failure_reason = $3, updated_at = NOW()
		WHERE key = $4`, status, signature, failureReason, key)
	if err != nil {
		return fmt.Errorf("complete outcome: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit completion: %w", err)
	}
	observability.IncrementDedupEvent("completed")
	l.cache(ctx, models.SubmissionOutcome{Key: key, Status: status, Signature: signature, FailureReason: failureReason})
	return nil
}

// Lookup returns the stored outcome, serving terminal entries from redis
// when possible.
func (l *Ledger) Lookup(ctx context.Context, key string) (*models.SubmissionOutcome, error) {
	if l.redis != nil {
		val, err := l.redis.Get(ctx, redisKey(key)).Result()
		if err == nil {
			var out models.SubmissionOutcome
			if json.Unmarshal([]byte(val), &out) == nil {
				return &out, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis dedup lookup failed", zap.Error(err))
		}
	}

	var out models.SubmissionOutcome
	err := l.db.QueryRow(ctx, `
		SELECT key, status, signature, failure_reason, created_at, updated_at
		FROM submission_outcomes WHERE key = $1`, key).
		Scan(&out.Key, &out.Status, &out.Signature, &out.FailureReason, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if out.Status != domain.OutcomeStatusPending {
		l.cache(ctx, out)
	}
	return &out, nil
}

// ListStalePending returns pending submissions older than cutoff that carry
// a signature to re-query. Concurrent workers may pick up the same row; the
// idempotent Complete makes that harmless.
func (l *Ledger) ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]models.SubmissionOutcome, error) {
	rows, err := l.db.Query(ctx, `
		SELECT key, status, signature, failure_reason, created_at, updated_at
		FROM submission_outcomes
		WHERE status = $1 AND updated_at < $2 AND signature IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $3`, domain.OutcomeStatusPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.SubmissionOutcome
	for rows.Next() {
		var o models.SubmissionOutcome
		if err := rows.Scan(&o.Key, &o.Status, &o.Signature, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stale outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (l *Ledger) cache(ctx context.Context, out models.SubmissionOutcome) {
	if l.redis == nil {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		zap.L().Warn("marshal dedup cache entry", zap.Error(err))
		return
	}
	if err := l.redis.Set(ctx, redisKey(out.Key), payload, l.ttl).Err(); err != nil {
		zap.L().Warn("redis dedup cache set failed", zap.Error(err))
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}

func equalStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
