package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/keystore"
	"github.com/tabsplit/settlement-engine/internal/models"
	"github.com/tabsplit/settlement-engine/internal/service"
	"github.com/tabsplit/settlement-engine/internal/txbuilder"
)

// TransferHandler runs direct transfers through the dual-signature pipeline,
// outside any split wallet.
type TransferHandler struct {
	pipeline service.Submitter
	keys     keystore.Keystore
}

func NewTransferHandler(pipeline service.Submitter, keys keystore.Keystore) *TransferHandler {
	return &TransferHandler{pipeline: pipeline, keys: keys}
}

type transferRequest struct {
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	Amount      int64  `json:"amount"`
	Token       string `json:"token"`
	Memo        string `json:"memo,omitempty"`
	ClientNonce string `json:"client_nonce"`
}

// Submit builds, dual-signs and submits one transfer. Retries with the same
// client_nonce inside the dedup window collapse onto the first outcome.
func (h *TransferHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if _, _, err := requestActor(r); err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/malformed-body", "invalid request body")
		return
	}

	sender, err := txbuilder.ParseAddress(req.Sender)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "invalid sender address")
		return
	}
	signer, err := h.keys.SignerFor(r.Context(), sender)
	if err != nil {
		RespondError(w, r, http.StatusNotFound, "keystore/unknown-sender", "sender key is not held by this engine")
		return
	}

	sub, err := h.pipeline.Submit(r.Context(), models.TransactionRequest{
		ID:          uuid.New(),
		Sender:      req.Sender,
		Recipient:   req.Recipient,
		Amount:      req.Amount,
		Token:       req.Token,
		Memo:        req.Memo,
		Context:     domain.ContextDirect,
		ClientNonce: req.ClientNonce,
	}, signer)
	respondSubmission(w, r, sub, err)
}
