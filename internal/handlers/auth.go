package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"carbontrace/internal/composition"
	applog "carbontrace/internal/log"
	"carbontrace/internal/partners"
	"carbontrace/internal/reconcile"
	"carbontrace/internal/repository"
	"carbontrace/models"
)

const (
	sessionAuthenticatedKey = "auth:authenticated"
	sessionUserIDKey        = "auth:user:id"
	sessionUserEmailKey     = "auth:user:email"
	sessionUserNameKey      = "auth:user:name"
	sessionWalletKey        = "auth:user:wallet"
)

var errUnauthenticated = errors.New("authentication required")

// Dependencies are the services behind the HTTP handlers.
type Dependencies struct {
	Sessions   *scs.SessionManager
	Database   *gorm.DB
	Repository *repository.Repository
	Partners   *partners.Directory
	Resolver   *composition.Resolver
	Engine     *reconcile.Engine
}

var (
	sessionManager *scs.SessionManager
	database       *gorm.DB
	repo           *repository.Repository
	directory      *partners.Directory
	resolver       *composition.Resolver
	engine         *reconcile.Engine
)

// Configure installs the shared dependencies used by the HTTP handlers.
func Configure(deps Dependencies) {
	sessionManager = deps.Sessions
	database = deps.Database
	repo = deps.Repository
	directory = deps.Partners
	resolver = deps.Resolver
	engine = deps.Engine
}

func createUser(r *http.Request, email, name, password, wallet string) (*models.User, error) {
	if database == nil {
		return nil, gorm.ErrInvalidDB
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:         strings.ToLower(strings.TrimSpace(email)),
		Name:          strings.TrimSpace(name),
		PasswordHash:  string(hashed),
		WalletAddress: strings.TrimSpace(wallet),
	}

	if err := database.WithContext(r.Context()).Create(user).Error; err != nil {
		return nil, err
	}

	return user, nil
}

func findUserByEmail(r *http.Request, email string) (*models.User, error) {
	if database == nil {
		return nil, gorm.ErrInvalidDB
	}

	user := &models.User{}
	err := database.WithContext(r.Context()).Where("lower(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(user).Error
	if err != nil {
		return nil, err
	}
	return user, nil
}

// authenticate verifies credentials and populates the session if they match.
func authenticate(r *http.Request, email, password string) (*models.User, error) {
	user, err := findUserByEmail(r, email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			applog.Error(r.Context(), "failed to load user during login", "error", err)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}

	if err := establishSession(r, user); err != nil {
		applog.Error(r.Context(), "failed to establish session", "error", err)
		return nil, err
	}
	return user, nil
}

func establishSession(r *http.Request, user *models.User) error {
	if sessionManager == nil {
		return errors.New("session manager not configured")
	}
	if err := sessionManager.RenewToken(r.Context()); err != nil {
		return err
	}
	sessionManager.Put(r.Context(), sessionAuthenticatedKey, true)
	sessionManager.Put(r.Context(), sessionUserIDKey, int(user.ID))
	sessionManager.Put(r.Context(), sessionUserEmailKey, user.Email)
	sessionManager.Put(r.Context(), sessionUserNameKey, user.Name)
	sessionManager.Put(r.Context(), sessionWalletKey, user.WalletAddress)
	return nil
}

// RequireAuthentication rejects requests without an active session.
func RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ActiveSession(r) {
			writeJSONError(w, http.StatusUnauthorized, errUnauthenticated.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActiveSession returns true when the current request has an authenticated session.
func ActiveSession(r *http.Request) bool {
	if sessionManager == nil {
		return false
	}
	return sessionManager.GetBool(r.Context(), sessionAuthenticatedKey) && sessionManager.GetInt(r.Context(), sessionUserIDKey) > 0
}

func currentUserID(r *http.Request) (uint, bool) {
	if sessionManager == nil {
		return 0, false
	}
	id := sessionManager.GetInt(r.Context(), sessionUserIDKey)
	if id <= 0 {
		return 0, false
	}
	return uint(id), true
}

// currentWallet is the ledger address the signed-in operator acts for.
func currentWallet(r *http.Request) (string, bool) {
	if !ActiveSession(r) {
		return "", false
	}
	wallet := sessionManager.GetString(r.Context(), sessionWalletKey)
	return wallet, wallet != ""
}

// requireWallet writes a 401 and reports false when the request has no wallet.
func requireWallet(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet, ok := currentWallet(r)
	if !ok {
		applog.Debug(r.Context(), "request without wallet session", "path", r.URL.Path)
		writeJSONError(w, http.StatusUnauthorized, errUnauthenticated.Error())
	}
	return wallet, ok
}
