package handlers

import (
	"net/http"
	"strconv"

	"carbontrace/internal/ledger"
	applog "carbontrace/internal/log"
	"carbontrace/internal/reconcile"
	"carbontrace/internal/repository"
	"carbontrace/models"
)

// BatchResource handles /api/batches, /api/batches/pending and
// /api/batches/{id}[/mint|/verify].
func BatchResource(w http.ResponseWriter, r *http.Request) {
	if repo == nil || engine == nil {
		applog.Debug(r.Context(), "batch request without dependencies")
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	segments := pathSegments(r, "/api/batches")
	switch {
	case len(segments) == 0:
		switch r.Method {
		case http.MethodGet:
			listBatches(w, r)
		case http.MethodPost:
			createBatch(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	case len(segments) == 1 && segments[0] == "pending":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		pendingMints(w, r)
		return
	case len(segments) > 2:
		http.NotFound(w, r)
		return
	}

	id, ok := parseID(w, r, segments[0])
	if !ok {
		return
	}
	if len(segments) == 2 {
		switch {
		case segments[1] == "mint" && r.Method == http.MethodPost:
			mintBatch(w, r, id)
		case segments[1] == "verify" && r.Method == http.MethodGet:
			verifyBatch(w, r, id)
		case segments[1] == "mint" || segments[1] == "verify":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		batch, err := repo.Batch(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, batch)
	case http.MethodDelete:
		if _, ok := ownBatch(w, r, id); !ok {
			return
		}
		if err := repo.DeleteBatch(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.BatchFilter{ManufacturerAddress: q.Get("manufacturer")}
	if raw := q.Get("minted"); raw != "" {
		minted, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "minted must be true or false")
			return
		}
		filter.Minted = &minted
	}

	batches, err := repo.ListBatches(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func createBatch(w http.ResponseWriter, r *http.Request) {
	wallet, ok := requireWallet(w, r)
	if !ok {
		return
	}
	var input repository.BatchInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.ManufacturerAddress = wallet

	batch, err := repo.CreateBatch(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.Info(r.Context(), "batch created", "id", batch.ID, "batchNumber", batch.BatchNumber, "carbonKg", batch.CarbonFootprintKg)
	writeJSON(w, http.StatusCreated, batch)
}

func pendingMints(w http.ResponseWriter, r *http.Request) {
	wallet, ok := requireWallet(w, r)
	if !ok {
		return
	}
	batches, err := engine.PendingMints(r.Context(), wallet)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

// ownBatch loads batch id and checks the signed-in wallet manufactured it.
func ownBatch(w http.ResponseWriter, r *http.Request, id uint) (*models.ProductBatch, bool) {
	wallet, ok := requireWallet(w, r)
	if !ok {
		return nil, false
	}
	batch, err := repo.Batch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if !ledger.SameAddress(batch.ManufacturerAddress, wallet) {
		writeJSONError(w, http.StatusForbidden, "batch belongs to another manufacturer")
		return nil, false
	}
	return batch, true
}

func mintBatch(w http.ResponseWriter, r *http.Request, id uint) {
	if _, ok := ownBatch(w, r, id); !ok {
		return
	}
	result, err := engine.MintBatch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func verifyBatch(w http.ResponseWriter, r *http.Request, id uint) {
	verification, err := engine.VerifyBatch(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verificationResponse{Verification: verification, Consistent: verification.Consistent()})
}

type verificationResponse struct {
	*reconcile.Verification
	Consistent bool `json:"consistent"`
}
