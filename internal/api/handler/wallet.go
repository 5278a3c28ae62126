package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/tabsplit/settlement-engine/internal/coordinator"
	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/service"
)

// WalletHandler exposes the split-wallet lifecycle over HTTP.
type WalletHandler struct {
	svc *service.SplitWalletService
}

func NewWalletHandler(svc *service.SplitWalletService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

type createWalletRequest struct {
	BillID          string                     `json:"bill_id"`
	Recipient       string                     `json:"recipient"`
	TotalAmount     int64                      `json:"total_amount"`
	Token           string                     `json:"token"`
	SplitType       string                     `json:"split_type"`
	PayoutDirection string                     `json:"payout_direction,omitempty"`
	LockAmount      int64                      `json:"lock_amount,omitempty"`
	Participants    []service.ParticipantInput `json:"participants"`
}

// Create provisions a custodial split wallet. The authenticated user becomes
// the organizer.
func (h *WalletHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/malformed-body", "invalid request body")
		return
	}
	billID, err := uuid.Parse(req.BillID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "invalid bill_id")
		return
	}

	wallet, err := h.svc.CreateWallet(r.Context(), service.CreateWalletCmd{
		BillID:          billID,
		OrganizerID:     actorID,
		Recipient:       req.Recipient,
		TotalAmount:     req.TotalAmount,
		Token:           req.Token,
		SplitType:       req.SplitType,
		PayoutDirection: req.PayoutDirection,
		LockAmount:      req.LockAmount,
		Participants:    req.Participants,
	})
	if err != nil {
		RespondFault(w, r, err)
		return
	}

	RespondJSON(w, http.StatusCreated, wallet)
}

// Get returns a wallet with its participants.
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	walletID, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "invalid wallet id")
		return
	}

	wallet, err := h.svc.GetWallet(r.Context(), walletID)
	if err != nil {
		RespondFault(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

type contributeRequest struct {
	ClientNonce string `json:"client_nonce"`
}

// Contribute pushes the authenticated participant's outstanding share through
// the submission pipeline. An ambiguous submission answers 202: the outcome
// is pending until reconciliation resolves it.
func (h *WalletHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	walletID, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "invalid wallet id")
		return
	}

	var req contributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/malformed-body", "invalid request body")
		return
	}

	sub, err := h.svc.Contribute(r.Context(), service.ContributeCmd{
		WalletID:    walletID,
		UserID:      actorID,
		ClientNonce: req.ClientNonce,
	})
	respondSubmission(w, r, sub, err)
}

// Cancel aborts a collecting wallet and refunds recorded contributions.
// Organizer only.
func (h *WalletHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	walletID, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "invalid wallet id")
		return
	}

	if err := h.svc.Cancel(r.Context(), walletID, actorID); err != nil {
		RespondFault(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": domain.WalletStatusCancelled})
}

// Roulette re-triggers the degen draw on a locked wallet. The draw itself is
// write-once; a wallet that already drew answers 409.
func (h *WalletHandler) Roulette(w http.ResponseWriter, r *http.Request) {
	walletID, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "invalid wallet id")
		return
	}

	outcome, err := h.svc.RunRoulette(r.Context(), walletID)
	if err != nil {
		RespondFault(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, outcome)
}

type submissionResponse struct {
	Key           string  `json:"key"`
	Signature     string  `json:"signature,omitempty"`
	Status        string  `json:"status"`
	Duplicate     bool    `json:"duplicate"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// respondSubmission renders a pipeline submission. A SubmissionUnknown fault
// still carries the reserved key and signature, so it answers 202 rather than
// an error: the client must wait for reconciliation, not retry.
func respondSubmission(w http.ResponseWriter, r *http.Request, sub *coordinator.Submission, err error) {
	if err != nil {
		if domain.KindOf(err) == domain.KindSubmissionUnknown && sub != nil {
			RespondJSON(w, http.StatusAccepted, toSubmissionResponse(sub))
			return
		}
		RespondFault(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

func toSubmissionResponse(sub *coordinator.Submission) submissionResponse {
	return submissionResponse{
		Key:           sub.Key,
		Signature:     sub.Signature,
		Status:        sub.Status,
		Duplicate:     sub.Duplicate,
		FailureReason: sub.FailureReason,
	}
}
