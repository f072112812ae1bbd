package handlers

import (
	"errors"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"carbontrace/internal/apperr"
	applog "carbontrace/internal/log"
)

type signupRequest struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	WalletAddress string `json:"wallet_address"`
}

// Signup creates an operator account for a registered company wallet and
// signs it in.
func Signup(w http.ResponseWriter, r *http.Request) {
	applog.Debug(r.Context(), "handling signup request", "method", r.Method)

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if sessionManager == nil || database == nil || repo == nil {
		applog.Debug(r.Context(), "registration dependencies unavailable", "hasSession", sessionManager != nil, "hasDatabase", database != nil)
		writeJSONError(w, http.StatusServiceUnavailable, "registration not available")
		return
	}

	var payload signupRequest
	if !decodeJSON(w, r, &payload) {
		return
	}
	email := strings.TrimSpace(payload.Email)

	fields := map[string]string{}
	if email == "" || !strings.Contains(email, "@") {
		fields["email"] = "must be a valid email address"
	}
	if len(payload.Password) < 8 {
		fields["password"] = "must be at least 8 characters long"
	}
	if len(fields) > 0 {
		writeError(w, r, &apperr.ValidationError{Fields: fields})
		return
	}

	company, err := repo.Company(r.Context(), payload.WalletAddress)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, r, apperr.NewValidation("wallet_address", "is not a registered company"))
			return
		}
		writeError(w, r, err)
		return
	}

	if _, err := findUserByEmail(r, email); err == nil {
		applog.Debug(r.Context(), "signup attempted with existing email", "email", strings.ToLower(email))
		writeError(w, r, apperr.NewValidation("email", "an account with that email already exists"))
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		applog.Error(r.Context(), "failed to check existing user", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to create account")
		return
	}

	user, err := createUser(r, email, payload.Name, payload.Password, company.Address)
	if err != nil {
		applog.Error(r.Context(), "failed to create user", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "unable to create account")
		return
	}
	if err := establishSession(r, user); err != nil {
		applog.Error(r.Context(), "failed to establish session after signup", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "account created but sign-in failed")
		return
	}

	applog.Debug(r.Context(), "signup completed successfully", "userID", user.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		WalletAddress: user.WalletAddress,
	})
}
