package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	applog "carbontrace/internal/log"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	ID            uint   `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
}

// Login exchanges credentials for a session cookie.
func Login(w http.ResponseWriter, r *http.Request) {
	applog.Debug(r.Context(), "handling login request", "method", r.Method)

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if sessionManager == nil || database == nil {
		applog.Debug(r.Context(), "authentication dependencies unavailable", "hasSession", sessionManager != nil, "hasDatabase", database != nil)
		writeJSONError(w, http.StatusServiceUnavailable, "authentication not available")
		return
	}

	var payload loginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		applog.Debug(r.Context(), "invalid login payload", "error", err)
		writeJSONError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	email := strings.TrimSpace(payload.Email)
	if email == "" || payload.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := authenticate(r, email, payload.Password)
	if err != nil {
		applog.Debug(r.Context(), "authentication failed", "email", strings.ToLower(email))
		writeJSONError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	applog.Info(r.Context(), "operator signed in", "userID", user.ID, "wallet", user.WalletAddress)
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		WalletAddress: user.WalletAddress,
	})
}

// Logout destroys the current session.
func Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if sessionManager != nil {
		if err := sessionManager.Destroy(r.Context()); err != nil {
			applog.Error(r.Context(), "failed to destroy session", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session reports the signed-in operator.
func Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := currentUserID(r)
	if !ok || !ActiveSession(r) {
		writeJSONError(w, http.StatusUnauthorized, errUnauthenticated.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:            id,
		Email:         sessionManager.GetString(r.Context(), sessionUserEmailKey),
		Name:          sessionManager.GetString(r.Context(), sessionUserNameKey),
		WalletAddress: sessionManager.GetString(r.Context(), sessionWalletKey),
	})
}
