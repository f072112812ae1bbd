package handlers

import (
	"net/http"

	"carbontrace/internal/ledger"
	applog "carbontrace/internal/log"
	"carbontrace/internal/reconcile"
)

type transferRequest struct {
	To       string `json:"to"`
	TokenID  uint64 `json:"token_id"`
	Quantity uint64 `json:"quantity"`
	Reason   string `json:"reason"`
}

// TransferResource handles /api/transfers and /api/transfers/{txHash}.
func TransferResource(w http.ResponseWriter, r *http.Request) {
	if repo == nil || engine == nil {
		applog.Debug(r.Context(), "transfer request without dependencies")
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	segments := pathSegments(r, "/api/transfers")
	switch len(segments) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			listTransfers(w, r)
		case http.MethodPost:
			createTransfer(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		transfer, err := repo.TransferByHash(r.Context(), segments[0])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, transfer)
	default:
		http.NotFound(w, r)
	}
}

func listTransfers(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		wallet, ok := requireWallet(w, r)
		if !ok {
			return
		}
		address = wallet
	}
	transfers, err := repo.ListTransfers(r.Context(), address, queryLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func createTransfer(w http.ResponseWriter, r *http.Request) {
	wallet, ok := requireWallet(w, r)
	if !ok {
		return
	}
	var payload transferRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	result, err := engine.Transfer(r.Context(), reconcile.TransferRequest{
		From:     wallet,
		To:       payload.To,
		TokenID:  payload.TokenID,
		Quantity: payload.Quantity,
		Reason:   payload.Reason,
	})
	if _, pending := ledger.PendingTx(err); pending && result != nil {
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
