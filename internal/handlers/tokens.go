package handlers

import (
	"net/http"

	"carbontrace/internal/composition"
	applog "carbontrace/internal/log"
)

type compositionResponse struct {
	TokenID   uint64                 `json:"token_id"`
	Root      *composition.Node      `json:"root"`
	Locations []composition.Location `json:"locations"`
	Partial   bool                   `json:"partial"`
	Expected  int                    `json:"expected_components"`
	Resolved  int                    `json:"resolved_components"`
}

// TokenResource serves the resolved bill of materials of a token at
// /api/tokens/{id}.
func TokenResource(w http.ResponseWriter, r *http.Request) {
	if resolver == nil {
		applog.Debug(r.Context(), "token request without resolver")
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	segments := pathSegments(r, "/api/tokens")
	if len(segments) != 1 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tokenID, ok := parseTokenID(w, r, segments[0])
	if !ok {
		return
	}

	result, err := resolver.Resolve(r.Context(), tokenID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	locations := result.Locations
	if locations == nil {
		locations = []composition.Location{}
	}
	writeJSON(w, http.StatusOK, compositionResponse{
		TokenID:   tokenID,
		Root:      result.Root,
		Locations: locations,
		Partial:   result.Partial(),
		Expected:  result.Expected,
		Resolved:  result.Resolved,
	})
}

// Inventory lists the ledger balances of /api/inventory/{address}, or of the
// signed-in wallet when no address is given.
func Inventory(w http.ResponseWriter, r *http.Request) {
	if engine == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var address string
	switch segments := pathSegments(r, "/api/inventory"); len(segments) {
	case 0:
		wallet, ok := requireWallet(w, r)
		if !ok {
			return
		}
		address = wallet
	case 1:
		address = segments[0]
	default:
		http.NotFound(w, r)
		return
	}

	holdings, err := engine.Inventory(r.Context(), address)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}
