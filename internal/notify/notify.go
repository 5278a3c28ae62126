// Package notify hands lifecycle events to the external notification
// subsystem. The engine has no opinion on copy or delivery channel; it only
// guarantees an event is emitted for every observable transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/models"
)

// Notifier is the output sink for lifecycle events.
type Notifier interface {
	Publish(ctx context.Context, event models.Event) error
}

// RedisNotifier publishes events on a redis channel the notification service
// subscribes to. Delivery is best effort; a publish failure is logged, never
// propagated into the settlement path.
type RedisNotifier struct {
	rdb     redis.Cmdable
	channel string
}

// NewRedisNotifier builds a notifier over an existing redis client.
func NewRedisNotifier(rdb redis.Cmdable, channel string) *RedisNotifier {
	if channel == "" {
		channel = "settlement.events"
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		zap.L().Warn("event publish failed",
			zap.String("kind", event.Kind),
			zap.Error(err),
		)
		return nil
	}
	return nil
}

// LogNotifier writes events to the process log. Used in development and as
// the fallback when no redis is configured.
type LogNotifier struct{}

func (LogNotifier) Publish(_ context.Context, event models.Event) error {
	fields := []zap.Field{zap.String("kind", event.Kind), zap.Time("at", event.At)}
	if event.WalletID != nil {
		fields = append(fields, zap.String("wallet_id", event.WalletID.String()))
	}
	if event.Signature != "" {
		fields = append(fields, zap.String("signature", event.Signature))
	}
	zap.L().Info("lifecycle event", fields...)
	return nil
}
