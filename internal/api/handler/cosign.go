package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/tabsplit/settlement-engine/internal/cosigner"
	"github.com/tabsplit/settlement-engine/internal/domain"
)

// CoSignHandler exposes the counter-signing service so the engine can run as
// the remote side of cosigner.HTTPClient. The policy inside the service never
// trusts the declared fields; they only have to be consistent with what it
// re-derives from the raw payload.
type CoSignHandler struct {
	svc    *cosigner.Service
	secret string
}

func NewCoSignHandler(svc *cosigner.Service, secret string) *CoSignHandler {
	return &CoSignHandler{svc: svc, secret: secret}
}

// CounterSign verifies the envelope against policy and returns the fully
// signed payload. Policy rejections answer 422 with the rejection reason.
func (h *CoSignHandler) CounterSign(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get("X-CoSigner-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			RespondError(w, r, http.StatusUnauthorized, "cosign/bad-secret", "invalid co-signer secret")
			return
		}
	}

	var req cosigner.SignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/malformed-body", "invalid request body")
		return
	}

	signed, err := h.svc.CounterSign(r.Context(), cosigner.Envelope{
		Payload:           req.Payload,
		DeclaredAmount:    req.DeclaredAmount,
		DeclaredRecipient: req.DeclaredRecipient,
		DeclaredToken:     req.DeclaredToken,
		DeclaredNetwork:   req.DeclaredNetwork,
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindCoSignerPolicyRejected {
			RespondJSON(w, http.StatusUnprocessableEntity, cosigner.SignResponse{Rejection: err.Error()})
			return
		}
		RespondFault(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, cosigner.SignResponse{SignedPayload: signed})
}
