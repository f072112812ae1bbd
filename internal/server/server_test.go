package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"carbontrace/internal/db/mock"
	"carbontrace/internal/handlers"
	"carbontrace/internal/ledger"
)

func openMockDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := mock.Open(context.Background(), "file:server_"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to open mock database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func login(t *testing.T, handler http.Handler) *http.Cookie {
	t.Helper()
	body := `{"email":"` + mock.OperatorEmail + `","password":"` + mock.OperatorPassword + `"}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d: %s", rr.Code, rr.Body.String())
	}
	cookies := rr.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected session cookie to be set")
	}
	return cookies[0]
}

func TestNewAppliesSessionDefaults(t *testing.T) {
	db := openMockDatabase(t)

	cfg := Config{Addr: ":8080", Session: SessionConfig{CookieSecure: true}, Database: db}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		handlers.Configure(handlers.Dependencies{})
	})

	if srv.httpServer.Addr != ":8080" {
		t.Fatalf("expected server addr :8080, got %q", srv.httpServer.Addr)
	}
	if srv.httpServer.Handler == nil {
		t.Fatal("expected handler to be configured")
	}

	cookie := login(t, srv.Handler())
	if cookie.Name != "carbontrace_session" {
		t.Fatalf("expected default session cookie name, got %q", cookie.Name)
	}
	if !cookie.Secure {
		t.Fatal("expected cookie secure flag to be true")
	}
}

func TestServerHandler(t *testing.T) {
	cfg := Config{Addr: ":9090"}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		handlers.Configure(handlers.Dependencies{})
	})

	handler := srv.Handler()
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected /healthz to return 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/tokens/1", nil)
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected token lookup without database to return 503, got %d", rr.Code)
	}
}

func TestServerMintsAndResolvesSeededBatch(t *testing.T) {
	db := openMockDatabase(t)
	chain := ledger.NewMemory(common.HexToAddress(mock.ManufacturerAddress))

	srv, err := New(Config{
		Addr:            ":0",
		Database:        db,
		Ledger:          chain,
		MetadataBaseURI: "https://meta.example.com",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		handlers.Configure(handlers.Dependencies{})
	})
	handler := srv.Handler()
	cookie := login(t, handler)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/batches/pending", nil)
	req.AddCookie(cookie)
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected pending batches, got %d: %s", rr.Code, rr.Body.String())
	}
	var pending []struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &pending); err != nil {
		t.Fatalf("failed to decode pending batches: %v", err)
	}
	if len(pending) == 0 {
		t.Fatal("expected seeded batches awaiting mint")
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/batches/"+itoa(pending[0].ID)+"/mint", nil)
	req.AddCookie(cookie)
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected mint to succeed, got %d: %s", rr.Code, rr.Body.String())
	}
	var minted struct {
		TokenID uint64 `json:"token_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &minted); err != nil {
		t.Fatalf("failed to decode mint result: %v", err)
	}
	if minted.TokenID == 0 {
		t.Fatal("expected a token id in the mint result")
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/tokens/"+itoa(uint(minted.TokenID)), nil)
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected composition, got %d: %s", rr.Code, rr.Body.String())
	}
}
