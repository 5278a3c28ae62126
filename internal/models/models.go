package models

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tabsplit/settlement-engine/internal/domain"
)

var (
	ErrWalletNotFound      = errors.New("split wallet not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrOutcomeNotFound     = errors.New("submission outcome not found")
)

// TransactionRequest is the immutable description of one logical value
// movement. The same request re-derived by a retrying client must hash to the
// same idempotency key.
type TransactionRequest struct {
	ID          uuid.UUID              `json:"id"`
	Sender      string                 `json:"sender"`
	Recipient   string                 `json:"recipient"`
	Amount      int64                  `json:"amount"`
	Token       string                 `json:"token"`
	Memo        string                 `json:"memo,omitempty"`
	Context     domain.TransferContext `json:"context"`
	ClientNonce string                 `json:"client_nonce"`
	CreatedAt   time.Time              `json:"created_at"`
}

// SubmissionOutcome is the stored result for one idempotency key. A key never
// leaves CONFIRMED once it gets there.
type SubmissionOutcome struct {
	Key           string    `json:"key"`
	Status        string    `json:"status"`
	Signature     *string   `json:"signature,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SplitWallet is the custodial wallet backing one shared bill.
type SplitWallet struct {
	ID               uuid.UUID `json:"id"`
	BillID           uuid.UUID `json:"bill_id"`
	OrganizerID      uuid.UUID `json:"organizer_id"`
	CustodialAddress string    `json:"custodial_address"`
	Recipient        string    `json:"recipient"`
	TotalAmount      int64     `json:"total_amount"`
	Token            string    `json:"token"`
	SplitType        string    `json:"split_type"`
	PayoutDirection  string    `json:"payout_direction,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	Participants []Participant `json:"participants,omitempty"`
}

// Participant tracks one contributor's owed and paid amounts inside a wallet.
type Participant struct {
	WalletID   uuid.UUID  `json:"wallet_id"`
	UserID     uuid.UUID  `json:"user_id"`
	Address    string     `json:"address"`
	AmountOwed int64      `json:"amount_owed"`
	AmountPaid int64      `json:"amount_paid"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
}

// EntropyDraw is one recorded random draw: the raw value hash, which provider
// served it and at what quality tier.
type EntropyDraw struct {
	ValueHash string `json:"value_hash"`
	Provider  string `json:"provider"`
	Tier      int    `json:"tier"`
}

// RouletteOutcome is the append-only audit record of a degen draw. Exactly one
// exists per wallet that reached SETTLED through the degen path.
type RouletteOutcome struct {
	WalletID       uuid.UUID     `json:"wallet_id"`
	SelectedUserID uuid.UUID     `json:"selected_user_id"`
	Draws          []EntropyDraw `json:"draws"`
	ClockFraction  float64       `json:"clock_fraction"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Event is what the engine emits toward the notification collaborator on
// confirmed/failed/locked/settled transitions. Copy and delivery channel are
// someone else's problem.
type Event struct {
	Kind      string      `json:"kind"`
	WalletID  *uuid.UUID  `json:"wallet_id,omitempty"`
	Signature string      `json:"signature,omitempty"`
	Actors    []uuid.UUID `json:"actors,omitempty"`
	At        time.Time   `json:"at"`
}

// Event kinds.
const (
	EventTransactionConfirmed = "transaction.confirmed"
	EventTransactionFailed    = "transaction.failed"
	EventWalletLocked         = "wallet.locked"
	EventWalletSettled        = "wallet.settled"
	EventWalletCancelled      = "wallet.cancelled"
)
