package handlers

import (
	"net/http"

	applog "carbontrace/internal/log"
	"carbontrace/internal/partners"
)

type partnerRequest struct {
	PartnerAddress string `json:"partner_address"`
	Relationship   string `json:"relationship"`
	DisplayName    string `json:"display_name"`
}

type partnerUpdateRequest struct {
	DisplayName *string `json:"display_name"`
	Status      *string `json:"status"`
}

// PartnerResource handles /api/partners and /api/partners/{address} for the
// signed-in wallet.
func PartnerResource(w http.ResponseWriter, r *http.Request) {
	if directory == nil {
		applog.Debug(r.Context(), "partner request without directory")
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	wallet, ok := requireWallet(w, r)
	if !ok {
		return
	}

	segments := pathSegments(r, "/api/partners")
	switch len(segments) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			list, err := directory.List(r.Context(), wallet, partners.Filter{
				Relationship: q.Get("relationship"),
				Status:       q.Get("status"),
			})
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, list)
		case http.MethodPost:
			var payload partnerRequest
			if !decodeJSON(w, r, &payload) {
				return
			}
			partner, err := directory.Add(r.Context(), wallet, payload.PartnerAddress, payload.Relationship, payload.DisplayName)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, partner)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case 1:
		switch r.Method {
		case http.MethodPut:
			var payload partnerUpdateRequest
			if !decodeJSON(w, r, &payload) {
				return
			}
			partner, err := directory.Update(r.Context(), wallet, segments[0], partners.Update{
				DisplayName: payload.DisplayName,
				Status:      payload.Status,
			})
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, partner)
		case http.MethodDelete:
			if err := directory.Remove(r.Context(), wallet, segments[0]); err != nil {
				writeError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	default:
		http.NotFound(w, r)
	}
}
