package handlers

import (
	"net/http"

	"carbontrace/internal/ledger"
	applog "carbontrace/internal/log"
	"carbontrace/internal/repository"
)

// TemplateResource handles /api/templates and /api/templates/{id}[/deactivate].
func TemplateResource(w http.ResponseWriter, r *http.Request) {
	if repo == nil {
		applog.Debug(r.Context(), "template request without repository")
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}

	segments := pathSegments(r, "/api/templates")
	if len(segments) == 0 {
		switch r.Method {
		case http.MethodGet:
			listTemplates(w, r)
		case http.MethodPost:
			createTemplate(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	id, ok := parseID(w, r, segments[0])
	if !ok {
		return
	}
	if len(segments) == 2 && segments[1] == "deactivate" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		deactivateTemplate(w, r, id)
		return
	}
	if len(segments) > 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		template, err := repo.Template(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, template)
	case http.MethodPut:
		updateTemplate(w, r, id)
	case http.MethodDelete:
		deleteTemplate(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func listTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	templates, err := repo.ListTemplates(r.Context(), repository.TemplateFilter{
		ManufacturerAddress: q.Get("manufacturer"),
		Category:            q.Get("category"),
		ActiveOnly:          q.Get("active") == "true",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func createTemplate(w http.ResponseWriter, r *http.Request) {
	wallet, ok := requireWallet(w, r)
	if !ok {
		return
	}
	var input repository.TemplateInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.ManufacturerAddress = wallet

	template, err := repo.CreateTemplate(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.Info(r.Context(), "template created", "id", template.ID, "manufacturer", wallet)
	writeJSON(w, http.StatusCreated, template)
}

// ownTemplate loads template id and checks the signed-in wallet manufactures it.
func ownTemplate(w http.ResponseWriter, r *http.Request, id uint) (string, bool) {
	wallet, ok := requireWallet(w, r)
	if !ok {
		return "", false
	}
	template, err := repo.Template(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	if !ledger.SameAddress(template.ManufacturerAddress, wallet) {
		writeJSONError(w, http.StatusForbidden, "template belongs to another manufacturer")
		return "", false
	}
	return template.ManufacturerAddress, true
}

func updateTemplate(w http.ResponseWriter, r *http.Request, id uint) {
	manufacturer, ok := ownTemplate(w, r, id)
	if !ok {
		return
	}
	var input repository.TemplateInput
	if !decodeJSON(w, r, &input) {
		return
	}
	input.ManufacturerAddress = manufacturer

	template, err := repo.UpdateTemplate(r.Context(), id, input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, template)
}

func deactivateTemplate(w http.ResponseWriter, r *http.Request, id uint) {
	if _, ok := ownTemplate(w, r, id); !ok {
		return
	}
	if err := repo.DeactivateTemplate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func deleteTemplate(w http.ResponseWriter, r *http.Request, id uint) {
	if _, ok := ownTemplate(w, r, id); !ok {
		return
	}
	if err := repo.DeleteTemplate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
