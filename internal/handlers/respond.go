package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"carbontrace/internal/apperr"
	"carbontrace/internal/ledger"
	applog "carbontrace/internal/log"
	"carbontrace/internal/reconcile"
	"carbontrace/internal/repository"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`

	// Mint failures report how far the operation got.
	Stage            string                         `json:"stage,omitempty"`
	ComponentTokenID uint64                         `json:"component_token_id,omitempty"`
	Consumed         []repository.ConsumedComponent `json:"consumed,omitempty"`
	TxHash           string                         `json:"tx_hash,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		applog.Error(context.Background(), "failed to encode json response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeError maps a domain error to its HTTP status and JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error(), Kind: kindOf(err)}

	var invalid *apperr.ValidationError
	if errors.As(err, &invalid) {
		body.Fields = invalid.Fields
	}
	var mint *reconcile.MintError
	if errors.As(err, &mint) {
		body.Stage = mint.Stage
		body.ComponentTokenID = mint.ComponentTokenID
		body.Consumed = mint.Consumed
		body.TxHash = mint.TxHash
	}

	if status >= http.StatusInternalServerError {
		applog.Error(r.Context(), "request failed", "path", r.URL.Path, "status", status, "kind", body.Kind, "error", err)
	} else {
		applog.Debug(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "kind", body.Kind, "error", err)
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindPending:
		return http.StatusGatewayTimeout
	case ledger.KindNetwork:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case ledger.KindUserRejected, ledger.KindRejected:
		return http.StatusConflict
	case ledger.KindValidation:
		return http.StatusUnprocessableEntity
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrCycleDetected), errors.Is(err, apperr.ErrDataIntegrity):
		return http.StatusInternalServerError
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrDuplicateBatchNumber),
		errors.Is(err, apperr.ErrDuplicateName):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrAlreadyMinted),
		errors.Is(err, apperr.ErrInsufficientBalance),
		errors.Is(err, apperr.ErrUnknownPartner),
		errors.Is(err, apperr.ErrLedgerRejected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func kindOf(err error) string {
	if kind := ledger.KindOf(err); kind != "" && kind != ledger.KindRejected && kind != ledger.KindValidation {
		return "ledger_" + string(kind)
	}
	return apperr.Kind(err)
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		applog.Debug(r.Context(), "invalid request payload", "path", r.URL.Path, "error", err)
		message := "invalid request payload"
		if errors.Is(err, io.EOF) {
			message = "request body is required"
		}
		writeJSONError(w, http.StatusBadRequest, message)
		return false
	}
	return true
}

// pathSegments returns the non-empty path segments after prefix.
func pathSegments(r *http.Request, prefix string) []string {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parseID(w http.ResponseWriter, r *http.Request, value string) (uint, bool) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		applog.Debug(r.Context(), "invalid identifier", "identifier", value, "error", err)
		http.NotFound(w, r)
		return 0, false
	}
	return uint(id), true
}

func parseTokenID(w http.ResponseWriter, r *http.Request, value string) (uint64, bool) {
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil || id == 0 {
		applog.Debug(r.Context(), "invalid token id", "identifier", value, "error", err)
		writeJSONError(w, http.StatusBadRequest, "token id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
