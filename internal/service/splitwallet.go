// Package service implements the split-wallet lifecycle: creation, partial
// funding from independent contributors, fair settlement, the degen lock and
// roulette, cancellation refunds, and the audit trail behind all of it.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabsplit/settlement-engine/internal/coordinator"
	"github.com/tabsplit/settlement-engine/internal/dedup"
	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/keystore"
	"github.com/tabsplit/settlement-engine/internal/models"
	"github.com/tabsplit/settlement-engine/internal/notify"
	"github.com/tabsplit/settlement-engine/internal/observability"
	"github.com/tabsplit/settlement-engine/internal/repository"
	"github.com/tabsplit/settlement-engine/internal/roulette"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

// Submitter runs one transaction request through the dual-signature
// pipeline. *coordinator.Coordinator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req models.TransactionRequest, signer txbuilder.Signer) (*coordinator.Submission, error)
}

// SplitWalletService owns the per-bill custodial wallet for its full
// lifecycle. All funding and payout value movement goes through the
// submission pipeline; all state transitions go through the wallet state
// machine under a per-wallet row lock.
type SplitWalletService struct {
	store    QueryStore
	keys     keystore.Keystore
	pipeline Submitter
	selector *roulette.Selector
	guard    coordinator.DedupStore
	notifier notify.Notifier
	audit    *AuditService
	now      func() time.Time
}

func NewSplitWalletService(store QueryStore, keys keystore.Keystore, pipeline Submitter, selector *roulette.Selector, guard coordinator.DedupStore, notifier notify.Notifier) *SplitWalletService {
	return &SplitWalletService{
		store:    store,
		keys:     keys,
		pipeline: pipeline,
		selector: selector,
		guard:    guard,
		notifier: notifier,
		audit:    NewAuditService(store),
		now:      time.Now,
	}
}

// ParticipantInput identifies one contributor at wallet creation.
type ParticipantInput struct {
	UserID  uuid.UUID `json:"user_id"`
	Address string    `json:"address"`
}

// CreateWalletCmd holds the parameters for creating a split wallet.
type CreateWalletCmd struct {
	BillID          uuid.UUID
	OrganizerID     uuid.UUID
	Recipient       string
	TotalAmount     int64
	Token           string
	SplitType       string
	PayoutDirection string
	// LockAmount is the fixed stake each degen participant must lock.
	// Defaults to the full bill amount so a loser-covers-bill pot always
	// covers the bill plus refunds.
	LockAmount   int64
	Participants []ParticipantInput
}

func invalid(op, reason string) error {
	return domain.NewFault(domain.KindInvalidRequest, op, reason)
}

// CreateWallet provisions a custodial wallet for a bill and records every
// participant's owed amount. Fair wallets split the total; degen wallets owe
// the fixed lock amount each.
func (s *SplitWalletService) CreateWallet(ctx context.Context, cmd CreateWalletCmd) (*models.SplitWallet, error) {
	const op = "service.CreateWallet"

	if cmd.TotalAmount <= 0 {
		return nil, invalid(op, fmt.Sprintf("invalid total amount: %d", cmd.TotalAmount))
	}
	if _, ok := domain.LookupToken(cmd.Token); !ok {
		return nil, invalid(op, fmt.Sprintf("unsupported token: %s", cmd.Token))
	}
	if _, err := txbuilder.ParseAddress(cmd.Recipient); err != nil {
		return nil, invalid(op, "recipient is not a valid address")
	}
	if len(cmd.Participants) == 0 {
		return nil, invalid(op, "at least one participant is required")
	}
	for _, p := range cmd.Participants {
		if _, err := txbuilder.ParseAddress(p.Address); err != nil {
			return nil, invalid(op, fmt.Sprintf("participant %s has an invalid address", p.UserID))
		}
	}

	var owed []int64
	switch cmd.SplitType {
	case domain.SplitTypeFair:
		if cmd.PayoutDirection != "" {
			return nil, invalid(op, "payout direction applies only to degen wallets")
		}
		shares, err := domain.SplitShares(cmd.TotalAmount, len(cmd.Participants))
		if err != nil {
			return nil, invalid(op, err.Error())
		}
		owed = shares
	case domain.SplitTypeDegen:
		if len(cmd.Participants) < 2 {
			return nil, invalid(op, "degen wallets need at least two participants")
		}
		if cmd.PayoutDirection == "" {
			cmd.PayoutDirection = domain.PayoutLoserTakesPot
		}
		if !domain.ValidPayoutDirection(cmd.PayoutDirection) {
			return nil, invalid(op, fmt.Sprintf("unknown payout direction: %s", cmd.PayoutDirection))
		}
		lock := cmd.LockAmount
		if lock == 0 {
			lock = cmd.TotalAmount
		}
		if lock <= 0 {
			return nil, invalid(op, fmt.Sprintf("invalid lock amount: %d", lock))
		}
		owed = make([]int64, len(cmd.Participants))
		for i := range owed {
			owed[i] = lock
		}
	default:
		return nil, invalid(op, fmt.Sprintf("unknown split type: %s", cmd.SplitType))
	}

	custodial, err := s.keys.CreateAccount(ctx)
	if err != nil {
		return nil, domain.WrapFault(domain.KindInternal, op, err)
	}

	wallet := &models.SplitWallet{
		ID:               uuid.New(),
		BillID:           cmd.BillID,
		OrganizerID:      cmd.OrganizerID,
		CustodialAddress: custodial.String(),
		Recipient:        cmd.Recipient,
		TotalAmount:      cmd.TotalAmount,
		Token:            cmd.Token,
		SplitType:        cmd.SplitType,
		PayoutDirection:  cmd.PayoutDirection,
		Status:           domain.WalletStatusCollecting,
	}

	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.InsertSplitWallet(ctx, wallet); err != nil {
			return err
		}
		for i, in := range cmd.Participants {
			p := models.Participant{
				WalletID:   wallet.ID,
				UserID:     in.UserID,
				Address:    in.Address,
				AmountOwed: owed[i],
			}
			if err := qtx.InsertParticipant(ctx, &p); err != nil {
				return err
			}
			wallet.Participants = append(wallet.Participants, p)
		}
		metadata, err := json.Marshal(map[string]any{
			"split_type":   cmd.SplitType,
			"total_amount": cmd.TotalAmount,
			"participants": len(cmd.Participants),
		})
		if err != nil {
			return fmt.Errorf("encode creation metadata: %w", err)
		}
		return s.audit.Write(ctx, qtx, "split_wallet", wallet.ID, &cmd.OrganizerID, "created", "", domain.WalletStatusCollecting, metadata)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("split wallet created",
		zap.String("wallet_id", wallet.ID.String()),
		zap.String("split_type", wallet.SplitType),
		zap.Int64("total_amount", wallet.TotalAmount),
	)
	return wallet, nil
}

// GetWallet loads a wallet with its participants.
func (s *SplitWalletService) GetWallet(ctx context.Context, id uuid.UUID) (*models.SplitWallet, error) {
	return s.store.Queries().GetSplitWallet(ctx, id)
}

// ContributeCmd funds one participant's outstanding share.
type ContributeCmd struct {
	WalletID    uuid.UUID
	UserID      uuid.UUID
	ClientNonce string
}

// Contribute routes a participant's outstanding share through the submission
// pipeline and, on confirmation, applies it to the wallet. A fully funded
// fair wallet settles; a fully locked degen wallet locks and runs the
// roulette.
func (s *SplitWalletService) Contribute(ctx context.Context, cmd ContributeCmd) (*coordinator.Submission, error) {
	const op = "service.Contribute"

	wallet, err := s.GetWallet(ctx, cmd.WalletID)
	if err != nil {
		return nil, err
	}
	if err := requireCollecting(op, wallet.Status); err != nil {
		return nil, err
	}

	participant, err := findParticipant(wallet, cmd.UserID)
	if err != nil {
		return nil, err
	}
	remaining := participant.AmountOwed - participant.AmountPaid
	if remaining <= 0 {
		return nil, invalid(op, "participant has nothing outstanding")
	}

	transferCtx := domain.ContextFairContribution
	if wallet.SplitType == domain.SplitTypeDegen {
		transferCtx = domain.ContextDegenLock
	}

	req := models.TransactionRequest{
		ID:          uuid.New(),
		Sender:      participant.Address,
		Recipient:   wallet.CustodialAddress,
		Amount:      remaining,
		Token:       wallet.Token,
		Memo:        "bill:" + wallet.BillID.String(),
		Context:     transferCtx,
		ClientNonce: cmd.ClientNonce,
	}
	if err := s.store.Queries().InsertTransactionRequest(ctx, &req); err != nil {
		return nil, err
	}

	sub, err := s.submitFrom(ctx, participant.Address, req)
	if err != nil {
		// An unknown outcome is not a failure: the transaction may still
		// land and reconciliation will confirm it.
		if domain.KindOf(err) != domain.KindSubmissionUnknown {
			s.emit(ctx, models.Event{
				Kind: models.EventTransactionFailed, WalletID: &wallet.ID,
				Actors: []uuid.UUID{cmd.UserID}, At: s.now(),
			})
		}
		return sub, err
	}

	// A duplicate confirmed outcome still goes through crediting: the first
	// attempt may have ended unknown and been confirmed by reconciliation,
	// in which case this retry is the first time anyone can apply it. The
	// per-signature credit marker keeps the apply exactly-once.
	if sub.Status == domain.OutcomeStatusConfirmed {
		credited, err := s.applyContribution(ctx, wallet.ID, cmd.UserID, remaining, sub.Signature)
		if err != nil {
			return sub, err
		}
		if credited {
			s.emit(ctx, models.Event{
				Kind: models.EventTransactionConfirmed, WalletID: &wallet.ID,
				Signature: sub.Signature, Actors: []uuid.UUID{cmd.UserID}, At: s.now(),
			})
		}
	}
	return sub, nil
}

// applyContribution credits a confirmed contribution under the wallet row
// lock and triggers settlement or the roulette when funding completes. Two
// confirmations landing close together serialize on the lock. The returned
// bool reports whether this call was the one that credited the signature;
// an already-credited signature is a no-op.
func (s *SplitWalletService) applyContribution(ctx context.Context, walletID, userID uuid.UUID, amount int64, signature string) (bool, error) {
	type followUp int
	const (
		followNone followUp = iota
		followSettleFair
		followRoulette
	)
	next := followNone
	applied := false

	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		w, err := qtx.GetSplitWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		switch w.Status {
		case domain.WalletStatusCollecting, domain.WalletStatusCancelled:
			// A late confirmation on a cancelled wallet is still credited,
			// so a cancel re-trigger can refund it.
		default:
			zap.L().Warn("confirmed contribution on locked or settled wallet",
				zap.String("wallet_id", walletID.String()),
				zap.String("status", w.Status),
			)
			return nil
		}

		credited, err := qtx.CreditContribution(ctx, walletID, userID, signature, amount)
		if err != nil {
			return err
		}
		if !credited {
			return nil
		}
		applied = true

		rows, err := qtx.AddContribution(ctx, walletID, userID, amount)
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "apply contribution"); err != nil {
			return err
		}

		if w.Status == domain.WalletStatusCancelled {
			metadata, err := json.Marshal(map[string]any{"signature": signature, "amount": amount})
			if err != nil {
				return fmt.Errorf("encode contribution metadata: %w", err)
			}
			return s.audit.Write(ctx, qtx, "split_wallet", walletID, &userID, "late_contribution_credited", w.Status, w.Status, metadata)
		}

		funded := true
		for i := range w.Participants {
			p := &w.Participants[i]
			if p.UserID == userID {
				p.AmountPaid += amount
			}
			if w.SplitType == domain.SplitTypeDegen && p.UserID == userID && p.AmountPaid >= p.AmountOwed {
				if _, err := qtx.LockParticipant(ctx, walletID, userID); err != nil {
					return err
				}
			}
			if p.AmountPaid < p.AmountOwed {
				funded = false
			}
		}

		metadata, err := json.Marshal(map[string]any{"signature": signature, "amount": amount})
		if err != nil {
			return fmt.Errorf("encode contribution metadata: %w", err)
		}
		if err := s.audit.Write(ctx, qtx, "split_wallet", walletID, &userID, "contribution_confirmed", w.Status, w.Status, metadata); err != nil {
			return err
		}

		if !funded {
			return nil
		}
		switch w.SplitType {
		case domain.SplitTypeFair:
			next = followSettleFair
		case domain.SplitTypeDegen:
			if err := transitionWalletState(ctx, qtx, s.audit, w, domain.WalletStatusLocked, &userID, "all_stakes_locked", nil); err != nil {
				return err
			}
			next = followRoulette
		}
		return nil
	})
	if err != nil {
		return applied, err
	}

	switch next {
	case followSettleFair:
		return applied, s.settleFair(ctx, walletID)
	case followRoulette:
		s.emit(ctx, models.Event{Kind: models.EventWalletLocked, WalletID: &walletID, At: s.now()})
		_, err := s.runRoulette(ctx, walletID)
		if errors.Is(err, errRouletteAlreadyReserved) {
			return applied, nil
		}
		return applied, err
	}
	return applied, nil
}

// settleFair pays the full bill to the recipient and marks the wallet
// settled. The payout nonce is derived from the wallet id, so a re-trigger
// collapses onto the same submission.
func (s *SplitWalletService) settleFair(ctx context.Context, walletID uuid.UUID) error {
	wallet, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}

	sub, err := s.payout(ctx, wallet, wallet.Recipient, wallet.TotalAmount,
		domain.ContextFairPayout, "payout:"+walletID.String())
	if err != nil {
		return err
	}

	if err := s.markSettled(ctx, walletID, nil, "fair_settled"); err != nil {
		return err
	}
	s.emit(ctx, models.Event{
		Kind: models.EventWalletSettled, WalletID: &walletID,
		Signature: sub.Signature, At: s.now(),
	})
	return nil
}

// errRouletteAlreadyReserved means the draw already ran to completion under
// another trigger. Internal signal only.
var errRouletteAlreadyReserved = errors.New("roulette draw already completed")

// RunRoulette draws the degen outcome for a locked wallet. Public entry
// point for operator-triggered re-runs; fails on settled wallets.
func (s *SplitWalletService) RunRoulette(ctx context.Context, walletID uuid.UUID) (*models.RouletteOutcome, error) {
	const op = "service.RunRoulette"

	wallet, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	switch wallet.Status {
	case domain.WalletStatusLocked:
	case domain.WalletStatusSettled:
		return nil, domain.NewFault(domain.KindAlreadySettled, op, "wallet is already settled; the roulette outcome is write-once")
	default:
		return nil, invalid(op, fmt.Sprintf("wallet is %s, roulette needs a locked wallet", wallet.Status))
	}

	out, err := s.runRoulette(ctx, walletID)
	if errors.Is(err, errRouletteAlreadyReserved) {
		return nil, domain.NewFault(domain.KindAlreadySettled, op, "roulette already completed for this wallet")
	}
	return out, err
}

// runRoulette executes the write-once draw. The dedup guard key makes the
// draw happen exactly once even when two confirmations race to observe the
// locked state. A guard key whose outcome never reached confirmed marks a
// run that died between the draw and the payouts; such a run is resumed
// rather than refused, since every step after the draw is idempotent.
func (s *SplitWalletService) runRoulette(ctx context.Context, walletID uuid.UUID) (*models.RouletteOutcome, error) {
	const op = "service.runRoulette"
	guardKey := dedup.RouletteKey(walletID.String())

	res, err := s.guard.Reserve(ctx, guardKey)
	if err != nil {
		return nil, domain.WrapFault(domain.KindInternal, op, err)
	}
	if res.AlreadyExists {
		if res.Prior != nil && res.Prior.Status == domain.OutcomeStatusConfirmed {
			return nil, errRouletteAlreadyReserved
		}
		zap.L().Warn("resuming incomplete roulette run", zap.String("wallet_id", walletID.String()))
	}

	wallet, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	locked := lockedParticipants(wallet)
	if len(locked) == 0 {
		return nil, domain.NewFault(domain.KindInternal, op, "locked wallet has no locked participants")
	}

	outcome, err := s.store.Queries().GetRouletteOutcome(ctx, walletID)
	switch {
	case errors.Is(err, models.ErrOutcomeNotFound):
		outcome, err = s.drawOutcome(ctx, wallet, locked)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	loser, err := findParticipant(wallet, outcome.SelectedUserID)
	if err != nil {
		return outcome, domain.WrapFault(domain.KindInternal, op, err)
	}

	if err := s.payoutDegen(ctx, wallet, loser); err != nil {
		return outcome, err
	}

	if err := s.markSettled(ctx, walletID, &loser.UserID, "degen_settled"); err != nil {
		return outcome, err
	}
	if err := s.guard.Complete(ctx, guardKey, domain.OutcomeStatusConfirmed, nil, nil); err != nil {
		zap.L().Error("complete roulette guard", zap.String("wallet_id", walletID.String()), zap.Error(err))
	}
	s.emit(ctx, models.Event{
		Kind: models.EventWalletSettled, WalletID: &walletID,
		Actors: []uuid.UUID{loser.UserID}, At: s.now(),
	})
	return outcome, nil
}

// drawOutcome consumes entropy, records the audit record and returns the
// draw. The primary key on the outcome row keeps it write-once even if two
// resumed runs race here.
func (s *SplitWalletService) drawOutcome(ctx context.Context, wallet *models.SplitWallet, locked []models.Participant) (*models.RouletteOutcome, error) {
	const op = "service.drawOutcome"

	result, err := s.selector.Select(len(locked))
	if err != nil {
		return nil, domain.WrapFault(domain.KindInternal, op, err)
	}
	for _, d := range result.Draws {
		observability.IncrementRouletteDraw(int(d.Tier))
	}

	loser := locked[result.Index]
	outcome := &models.RouletteOutcome{
		WalletID:       wallet.ID,
		SelectedUserID: loser.UserID,
		ClockFraction:  result.ClockFraction,
	}
	for _, d := range result.Draws {
		outcome.Draws = append(outcome.Draws, models.EntropyDraw{
			ValueHash: d.ValueHash(),
			Provider:  d.Provider,
			Tier:      int(d.Tier),
		})
	}

	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		if err := qtx.InsertRouletteOutcome(ctx, outcome); err != nil {
			return err
		}
		metadata, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("encode roulette metadata: %w", err)
		}
		return s.audit.Write(ctx, qtx, "split_wallet", wallet.ID, nil, "roulette_drawn", wallet.Status, wallet.Status, metadata)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("roulette outcome drawn",
		zap.String("wallet_id", wallet.ID.String()),
		zap.String("selected_user_id", loser.UserID.String()),
		zap.Int("pool_size", len(locked)),
	)
	return outcome, nil
}

// payoutDegen disburses the pot per the wallet's payout direction.
func (s *SplitWalletService) payoutDegen(ctx context.Context, wallet *models.SplitWallet, loser models.Participant) error {
	switch wallet.PayoutDirection {
	case domain.PayoutLoserTakesPot:
		pot := int64(0)
		for _, p := range wallet.Participants {
			pot += p.AmountPaid
		}
		_, err := s.payout(ctx, wallet, loser.Address, pot,
			domain.ContextDegenPayout, fmt.Sprintf("degen-payout:%s:%s", wallet.ID, loser.UserID))
		return err

	case domain.PayoutLoserCoversBill:
		// The bill is paid out of the pot; everyone but the loser gets their
		// stake back, so the loser is the one who ends up paying.
		if _, err := s.payout(ctx, wallet, wallet.Recipient, wallet.TotalAmount,
			domain.ContextDegenPayout, fmt.Sprintf("degen-payout:%s:bill", wallet.ID)); err != nil {
			return err
		}
		for _, p := range wallet.Participants {
			if p.UserID == loser.UserID || p.AmountPaid == 0 {
				continue
			}
			if _, err := s.payout(ctx, wallet, p.Address, p.AmountPaid,
				domain.ContextDegenPayout, fmt.Sprintf("degen-payout:%s:%s", wallet.ID, p.UserID)); err != nil {
				return err
			}
		}
		return nil

	default:
		return domain.NewFault(domain.KindInternal, "service.payoutDegen",
			fmt.Sprintf("unknown payout direction: %s", wallet.PayoutDirection))
	}
}

// Cancel voids a collecting wallet and refunds everything already paid in.
// Only the organizer may cancel; locked and settled wallets cannot be.
// Cancelling an already cancelled wallet re-runs the refund loop: the
// deterministic refund nonces collapse refunds that already went out, so a
// re-trigger only re-issues the ones that failed.
func (s *SplitWalletService) Cancel(ctx context.Context, walletID, actorID uuid.UUID) error {
	const op = "service.Cancel"

	var refunds []models.Participant
	var splitType string
	newlyCancelled := false
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		w, err := qtx.GetSplitWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		switch w.Status {
		case domain.WalletStatusSettled:
			return domain.NewFault(domain.KindAlreadySettled, op, "settled wallets cannot be cancelled")
		case domain.WalletStatusLocked:
			return domain.NewFault(domain.KindAlreadyLocked, op, "locked wallets cannot be cancelled; the roulette outcome is pending")
		}
		if w.OrganizerID != actorID {
			return invalid(op, "only the organizer may cancel a wallet")
		}

		if w.Status != domain.WalletStatusCancelled {
			if err := transitionWalletState(ctx, qtx, s.audit, w, domain.WalletStatusCancelled, &actorID, "cancelled", nil); err != nil {
				return err
			}
			newlyCancelled = true
		}
		splitType = w.SplitType
		for _, p := range w.Participants {
			if p.AmountPaid > 0 {
				refunds = append(refunds, p)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if newlyCancelled {
		s.emit(ctx, models.Event{Kind: models.EventWalletCancelled, WalletID: &walletID, At: s.now()})
	}

	if len(refunds) > 0 {
		wallet, err := s.GetWallet(ctx, walletID)
		if err != nil {
			return err
		}
		refundCtx := domain.ContextFairPayout
		if splitType == domain.SplitTypeDegen {
			refundCtx = domain.ContextDegenPayout
		}
		for _, p := range refunds {
			if _, err := s.payout(ctx, wallet, p.Address, p.AmountPaid,
				refundCtx, fmt.Sprintf("refund:%s:%s", walletID, p.UserID)); err != nil {
				zap.L().Error("refund failed; will need re-trigger",
					zap.String("wallet_id", walletID.String()),
					zap.String("user_id", p.UserID.String()),
					zap.Error(err),
				)
				return err
			}
		}
	}
	return nil
}

// markSettled transitions a wallet to settled under the row lock, tolerating
// a concurrent settle.
func (s *SplitWalletService) markSettled(ctx context.Context, walletID uuid.UUID, actorID *uuid.UUID, action string) error {
	return s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		w, err := qtx.GetSplitWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if w.Status == domain.WalletStatusSettled {
			return nil
		}
		return transitionWalletState(ctx, qtx, s.audit, w, domain.WalletStatusSettled, actorID, action, nil)
	})
}

// payout moves value out of the custodial wallet through the submission
// pipeline and requires a confirmed (or previously confirmed) outcome. The
// deterministic nonce makes any re-trigger idempotent.
func (s *SplitWalletService) payout(ctx context.Context, wallet *models.SplitWallet, recipient string, amount int64, transferCtx domain.TransferContext, nonce string) (*coordinator.Submission, error) {
	const op = "service.payout"

	req := models.TransactionRequest{
		ID:          uuid.New(),
		Sender:      wallet.CustodialAddress,
		Recipient:   recipient,
		Amount:      amount,
		Token:       wallet.Token,
		Memo:        "bill:" + wallet.BillID.String(),
		Context:     transferCtx,
		ClientNonce: nonce,
	}
	if err := s.store.Queries().InsertTransactionRequest(ctx, &req); err != nil {
		return nil, err
	}

	sub, err := s.submitFrom(ctx, wallet.CustodialAddress, req)
	if err != nil {
		return sub, err
	}
	if sub.Status != domain.OutcomeStatusConfirmed {
		return sub, domain.NewFault(domain.KindInternal, op,
			fmt.Sprintf("payout outcome is %s, expected confirmed", sub.Status))
	}
	return sub, nil
}

// submitFrom resolves the sender's custodial signer and runs the request
// through the pipeline.
func (s *SplitWalletService) submitFrom(ctx context.Context, sender string, req models.TransactionRequest) (*coordinator.Submission, error) {
	addr, err := txbuilder.ParseAddress(sender)
	if err != nil {
		return nil, invalid("service.submit", "sender is not a valid address")
	}
	signer, err := s.keys.SignerFor(ctx, addr)
	if err != nil {
		return nil, domain.WrapFault(domain.KindUserRejectedSigning, "service.submit", err)
	}
	return s.pipeline.Submit(ctx, req, signer)
}

func (s *SplitWalletService) emit(ctx context.Context, event models.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, event); err != nil {
		zap.L().Warn("event emit failed", zap.String("kind", event.Kind), zap.Error(err))
	}
}

func requireCollecting(op, status string) error {
	switch status {
	case domain.WalletStatusCollecting:
		return nil
	case domain.WalletStatusLocked:
		return domain.NewFault(domain.KindAlreadyLocked, op, "wallet is locked")
	case domain.WalletStatusSettled:
		return domain.NewFault(domain.KindAlreadySettled, op, "wallet is settled")
	default:
		return invalid(op, fmt.Sprintf("wallet is %s", status))
	}
}

func findParticipant(wallet *models.SplitWallet, userID uuid.UUID) (models.Participant, error) {
	for _, p := range wallet.Participants {
		if p.UserID == userID {
			return p, nil
		}
	}
	return models.Participant{}, models.ErrParticipantNotFound
}

func lockedParticipants(wallet *models.SplitWallet) []models.Participant {
	var out []models.Participant
	for _, p := range wallet.Participants {
		if p.LockedAt != nil || p.AmountPaid >= p.AmountOwed {
			out = append(out, p)
		}
	}
	return out
}
