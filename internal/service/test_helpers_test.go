package service

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB connects to the local Postgres instance and resets the schema.
// Tests are skipped when DATABASE_URL is not set.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set; skipping database-backed tests")
	}
	db, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	t.Cleanup(db.Close)

	ensureSchema(t, db)

	for _, table := range []string{"audit_log", "contribution_credits", "roulette_outcomes", "transaction_requests", "participants", "split_wallets", "submission_outcomes"} {
		stmt := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := db.Exec(context.Background(), stmt); err != nil {
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}

	return db
}

func ensureSchema(t *testing.T, db *pgxpool.Pool) {
	t.Helper()

	sql := `
		CREATE TABLE IF NOT EXISTS split_wallets (
			id UUID PRIMARY KEY,
			bill_id UUID NOT NULL,
			organizer_id UUID NOT NULL,
			custodial_address TEXT NOT NULL,
			recipient TEXT NOT NULL,
			total_amount BIGINT NOT NULL,
			token TEXT NOT NULL,
			split_type TEXT NOT NULL,
			payout_direction TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS participants (
			wallet_id UUID NOT NULL REFERENCES split_wallets(id),
			user_id UUID NOT NULL,
			address TEXT NOT NULL,
			amount_owed BIGINT NOT NULL,
			amount_paid BIGINT NOT NULL DEFAULT 0,
			locked_at TIMESTAMPTZ,
			ordinal BIGSERIAL,
			PRIMARY KEY (wallet_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS transaction_requests (
			id UUID PRIMARY KEY,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount BIGINT NOT NULL,
			token TEXT NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL,
			client_nonce TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS roulette_outcomes (
			wallet_id UUID PRIMARY KEY REFERENCES split_wallets(id),
			selected_user_id UUID NOT NULL,
			draws JSONB NOT NULL,
			clock_fraction DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS submission_outcomes (
			key TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			signature TEXT,
			failure_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS contribution_credits (
			signature TEXT PRIMARY KEY,
			wallet_id UUID NOT NULL,
			user_id UUID NOT NULL,
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id UUID NOT NULL,
			actor_id UUID,
			action TEXT NOT NULL,
			prev_state TEXT,
			next_state TEXT,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := db.Exec(context.Background(), sql); err != nil {
		t.Fatalf("failed to ensure schema: %v", err)
	}
}
