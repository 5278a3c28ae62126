package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/models"
	"github.com/tabsplit/settlement-engine/internal/observability"
	"github.com/tabsplit/settlement-engine/internal/repository"
)

var walletTransitions = map[string]map[string]struct{}{
	domain.WalletStatusCollecting: {
		domain.WalletStatusLocked:    {},
		domain.WalletStatusSettled:   {},
		domain.WalletStatusCancelled: {},
	},
	domain.WalletStatusLocked: {
		domain.WalletStatusSettled: {},
	},
	domain.WalletStatusSettled:   {},
	domain.WalletStatusCancelled: {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	current = normalizeState(current)
	next = normalizeState(next)
	nextStates, ok := walletTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionWalletState moves a row-locked wallet to nextState, updating the
// in-memory copy and writing the audit record. The wallet must have been
// loaded with GetSplitWalletForUpdate inside the same transaction.
func transitionWalletState(ctx context.Context, qtx *repository.Queries, audit *AuditService, w *models.SplitWallet, nextState string, actorID *uuid.UUID, action string, metadata []byte) error {
	if normalizeState(w.Status) == normalizeState(nextState) {
		return nil
	}
	if !canTransition(w.Status, nextState) {
		return fmt.Errorf("invalid wallet state transition: %s -> %s", w.Status, nextState)
	}

	rows, err := qtx.UpdateSplitWalletStatus(ctx, w.ID, nextState)
	if err != nil {
		return fmt.Errorf("update wallet state: %w", err)
	}
	if err := requireExactlyOne(rows, "update wallet state"); err != nil {
		return err
	}

	if err := audit.Write(ctx, qtx, "split_wallet", w.ID, actorID, action, w.Status, nextState, metadata); err != nil {
		return err
	}

	observability.IncrementWalletTransition(w.SplitType, nextState)
	w.Status = nextState
	return nil
}
