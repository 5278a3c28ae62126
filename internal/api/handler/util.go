package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tabsplit/settlement-engine/internal/api/middleware"
	"github.com/tabsplit/settlement-engine/internal/api/problem"
	"github.com/tabsplit/settlement-engine/internal/domain"
	"github.com/tabsplit/settlement-engine/internal/models"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondFault maps a pipeline error onto the matching HTTP status.
func RespondFault(w http.ResponseWriter, r *http.Request, err error) {
	if status, problemType, message, ok := mapDBError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}
	switch {
	case errors.Is(err, models.ErrWalletNotFound):
		RespondError(w, r, http.StatusNotFound, "wallet/not-found", "split wallet not found")
		return
	case errors.Is(err, models.ErrParticipantNotFound):
		RespondError(w, r, http.StatusNotFound, "wallet/participant-not-found", "participant not found")
		return
	case errors.Is(err, models.ErrOutcomeNotFound):
		RespondError(w, r, http.StatusNotFound, "submission/not-found", "submission outcome not found")
		return
	}

	switch domain.KindOf(err) {
	case domain.KindInvalidRequest:
		RespondError(w, r, http.StatusBadRequest, "request/invalid", err.Error())
	case domain.KindCoSignerPolicyRejected:
		RespondError(w, r, http.StatusUnprocessableEntity, "cosign/policy-rejected", err.Error())
	case domain.KindUserRejectedSigning:
		RespondError(w, r, http.StatusUnprocessableEntity, "signing/user-rejected", err.Error())
	case domain.KindAlreadySettled:
		RespondError(w, r, http.StatusConflict, "wallet/already-settled", err.Error())
	case domain.KindAlreadyLocked:
		RespondError(w, r, http.StatusConflict, "wallet/already-locked", err.Error())
	case domain.KindFreshnessExhausted:
		RespondError(w, r, http.StatusGatewayTimeout, "ledger/freshness-exhausted", err.Error())
	case domain.KindNetworkError:
		RespondError(w, r, http.StatusBadGateway, "ledger/unreachable", err.Error())
	default:
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == "admin", nil
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, param))
}
