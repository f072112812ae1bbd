package handlers

import (
	"net/http"

	applog "carbontrace/internal/log"
	"carbontrace/internal/repository"
)

// CompanyResource handles /api/companies (search, register) and
// /api/companies/{address}.
func CompanyResource(w http.ResponseWriter, r *http.Request) {
	if repo == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	segments := pathSegments(r, "/api/companies")
	switch len(segments) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			companies, err := repo.SearchCompanies(r.Context(), r.URL.Query().Get("q"), queryLimit(r))
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, companies)
		case http.MethodPost:
			var input repository.CompanyInput
			if !decodeJSON(w, r, &input) {
				return
			}
			company, err := repo.CreateCompany(r.Context(), input)
			if err != nil {
				writeError(w, r, err)
				return
			}
			applog.Info(r.Context(), "company registered", "address", company.Address)
			writeJSON(w, http.StatusCreated, company)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		company, err := repo.Company(r.Context(), segments[0])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, company)
	default:
		http.NotFound(w, r)
	}
}

// PlantResource handles /api/plants and /api/plants/{id}.
func PlantResource(w http.ResponseWriter, r *http.Request) {
	if repo == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	segments := pathSegments(r, "/api/plants")
	switch len(segments) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			plants, err := repo.ListPlants(r.Context(), r.URL.Query().Get("company"))
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, plants)
		case http.MethodPost:
			wallet, ok := requireWallet(w, r)
			if !ok {
				return
			}
			var input repository.PlantInput
			if !decodeJSON(w, r, &input) {
				return
			}
			input.CompanyAddress = wallet
			plant, err := repo.CreatePlant(r.Context(), input)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, plant)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id, ok := parseID(w, r, segments[0])
		if !ok {
			return
		}
		plant, err := repo.Plant(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, plant)
	default:
		http.NotFound(w, r)
	}
}
