package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tabsplit/settlement-engine/internal/models"
)

// InsertSplitWallet stores a new wallet and fills its timestamps.
func (q *Queries) InsertSplitWallet(ctx context.Context, w *models.SplitWallet) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO split_wallets
			(id, bill_id, organizer_id, custodial_address, recipient, total_amount, token, split_type, payout_direction, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at`,
		ToPgUUID(w.ID), ToPgUUID(w.BillID), ToPgUUID(w.OrganizerID),
		w.CustodialAddress, w.Recipient, w.TotalAmount, w.Token, w.SplitType, w.PayoutDirection, w.Status).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert split wallet: %w", err)
	}
	return nil
}

const splitWalletColumns = `
	id, bill_id, organizer_id, custodial_address, recipient, total_amount, token, split_type, payout_direction, status, created_at, updated_at`

func scanSplitWallet(row pgx.Row) (*models.SplitWallet, error) {
	var w models.SplitWallet
	err := row.Scan(&w.ID, &w.BillID, &w.OrganizerID, &w.CustodialAddress, &w.Recipient,
		&w.TotalAmount, &w.Token, &w.SplitType, &w.PayoutDirection, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrWalletNotFound
		}
		return nil, fmt.Errorf("scan split wallet: %w", err)
	}
	return &w, nil
}

// GetSplitWallet loads a wallet with its participants.
func (q *Queries) GetSplitWallet(ctx context.Context, id uuid.UUID) (*models.SplitWallet, error) {
	w, err := scanSplitWallet(q.db.QueryRow(ctx,
		`SELECT`+splitWalletColumns+` FROM split_wallets WHERE id = $1`, ToPgUUID(id)))
	if err != nil {
		return nil, err
	}
	w.Participants, err = q.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetSplitWalletForUpdate loads and row-locks a wallet. Must run inside a
// transaction; participants are loaded under the same lock.
func (q *Queries) GetSplitWalletForUpdate(ctx context.Context, id uuid.UUID) (*models.SplitWallet, error) {
	w, err := scanSplitWallet(q.db.QueryRow(ctx,
		`SELECT`+splitWalletColumns+` FROM split_wallets WHERE id = $1 FOR UPDATE`, ToPgUUID(id)))
	if err != nil {
		return nil, err
	}
	w.Participants, err = q.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateSplitWalletStatus moves a wallet to status and returns affected rows.
func (q *Queries) UpdateSplitWalletStatus(ctx context.Context, id uuid.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE split_wallets SET status = $1, updated_at = NOW() WHERE id = $2`, status, ToPgUUID(id))
	if err != nil {
		return 0, fmt.Errorf("update split wallet status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertParticipant adds one contributor row to a wallet.
func (q *Queries) InsertParticipant(ctx context.Context, p *models.Participant) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO participants (wallet_id, user_id, address, amount_owed, amount_paid)
		VALUES ($1, $2, $3, $4, $5)`,
		ToPgUUID(p.WalletID), ToPgUUID(p.UserID), p.Address, p.AmountOwed, p.AmountPaid)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// ListParticipants returns a wallet's contributors in insertion order.
func (q *Queries) ListParticipants(ctx context.Context, walletID uuid.UUID) ([]models.Participant, error) {
	rows, err := q.db.Query(ctx, `
		SELECT wallet_id, user_id, address, amount_owed, amount_paid, locked_at
		FROM participants WHERE wallet_id = $1
		ORDER BY ordinal ASC`, ToPgUUID(walletID))
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.WalletID, &p.UserID, &p.Address, &p.AmountOwed, &p.AmountPaid, &p.LockedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddContribution credits amount to a participant's paid total.
func (q *Queries) AddContribution(ctx context.Context, walletID, userID uuid.UUID, amount int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE participants SET amount_paid = amount_paid + $1
		WHERE wallet_id = $2 AND user_id = $3`,
		amount, ToPgUUID(walletID), ToPgUUID(userID))
	if err != nil {
		return 0, fmt.Errorf("add contribution: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreditContribution records that a confirmed signature has been applied to
// the wallet. Returns false when the signature was already credited, which
// makes the crediting path safe to re-enter from client retries and
// reconciled submissions.
func (q *Queries) CreditContribution(ctx context.Context, walletID, userID uuid.UUID, signature string, amount int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO contribution_credits (signature, wallet_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (signature) DO NOTHING`,
		signature, ToPgUUID(walletID), ToPgUUID(userID), amount)
	if err != nil {
		return false, fmt.Errorf("credit contribution: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LockParticipant stamps a degen participant's stake as locked.
func (q *Queries) LockParticipant(ctx context.Context, walletID, userID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE participants SET locked_at = NOW()
		WHERE wallet_id = $1 AND user_id = $2 AND locked_at IS NULL`,
		ToPgUUID(walletID), ToPgUUID(userID))
	if err != nil {
		return 0, fmt.Errorf("lock participant: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertTransactionRequest stores the immutable request record.
func (q *Queries) InsertTransactionRequest(ctx context.Context, req *models.TransactionRequest) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO transaction_requests
			(id, sender, recipient, amount, token, memo, context, client_nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at`,
		ToPgUUID(req.ID), req.Sender, req.Recipient, req.Amount, req.Token, req.Memo, string(req.Context), req.ClientNonce).
		Scan(&req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction request: %w", err)
	}
	return nil
}

// InsertRouletteOutcome stores the append-only draw record for a wallet. A
// second insert for the same wallet violates the primary key, which is the
// point.
func (q *Queries) InsertRouletteOutcome(ctx context.Context, out *models.RouletteOutcome) error {
	draws, err := json.Marshal(out.Draws)
	if err != nil {
		return fmt.Errorf("marshal roulette draws: %w", err)
	}
	err = q.db.QueryRow(ctx, `
		INSERT INTO roulette_outcomes (wallet_id, selected_user_id, draws, clock_fraction, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at`,
		ToPgUUID(out.WalletID), ToPgUUID(out.SelectedUserID), draws, out.ClockFraction).
		Scan(&out.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert roulette outcome: %w", err)
	}
	return nil
}

// GetRouletteOutcome loads the draw record for a wallet.
func (q *Queries) GetRouletteOutcome(ctx context.Context, walletID uuid.UUID) (*models.RouletteOutcome, error) {
	var out models.RouletteOutcome
	var draws []byte
	err := q.db.QueryRow(ctx, `
		SELECT wallet_id, selected_user_id, draws, clock_fraction, created_at
		FROM roulette_outcomes WHERE wallet_id = $1`, ToPgUUID(walletID)).
		Scan(&out.WalletID, &out.SelectedUserID, &draws, &out.ClockFraction, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOutcomeNotFound
		}
		return nil, fmt.Errorf("get roulette outcome: %w", err)
	}
	if err := json.Unmarshal(draws, &out.Draws); err != nil {
		return nil, fmt.Errorf("unmarshal roulette draws: %w", err)
	}
	return &out, nil
}

// InsertAuditLogParams describes one immutable audit entry.
type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  string
	NextState  string
	Metadata   []byte
}

// InsertAuditLog appends an audit record.
func (q *Queries) InsertAuditLog(ctx context.Context, p InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		p.EntityType, ToPgUUID(p.EntityID), ToPgUUIDPtr(p.ActorID), p.Action, p.PrevState, p.NextState, p.Metadata)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
