package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/ethereum/go-ethereum/common"

	"carbontrace/internal/apperr"
	"carbontrace/internal/composition"
	"carbontrace/internal/db/mock"
	"carbontrace/internal/ledger"
	"carbontrace/internal/partners"
	"carbontrace/internal/reconcile"
	"carbontrace/internal/repository"
	"carbontrace/models"
)

const strangerAddress = "0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc"

type testAPI struct {
	sm     *scs.SessionManager
	chain  *ledger.Memory
	repo   *repository.Repository
	dir    *partners.Directory
	engine *reconcile.Engine
	cookie *http.Cookie
}

// withTestAPI configures every handler dependency against a seeded mock
// database and an in-memory ledger, then signs the seeded operator in.
func withTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := mock.Open(ctx, "file:api_"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("failed to open mock database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})

	api := &testAPI{
		sm:    scs.New(),
		chain: ledger.NewMemory(common.HexToAddress(mock.ManufacturerAddress)),
		repo:  repository.New(conn, repository.Options{RequireComponents: true}),
	}
	api.dir = partners.New(conn)
	api.engine = reconcile.New(api.chain, api.repo, api.dir, reconcile.Options{MetadataBaseURI: "https://meta.example.com"})
	Configure(Dependencies{
		Sessions:   api.sm,
		Database:   conn,
		Repository: api.repo,
		Partners:   api.dir,
		Resolver:   composition.NewResolver(api.repo, 4),
		Engine:     api.engine,
	})
	t.Cleanup(func() { Configure(Dependencies{}) })

	body := fmt.Sprintf(`{"email":%q,"password":%q}`, mock.OperatorEmail, mock.OperatorPassword)
	rr := api.do(Login, http.MethodPost, "/api/login", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected seeded operator to sign in, got %d: %s", rr.Code, rr.Body.String())
	}
	cookies := rr.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected session cookie after login")
	}
	api.cookie = cookies[0]
	return api
}

func (a *testAPI) serve(h http.HandlerFunc, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	a.sm.LoadAndSave(h).ServeHTTP(rr, req)
	return rr
}

// do sends an anonymous request.
func (a *testAPI) do(h http.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	return a.serve(h, method, path, body, nil)
}

// as sends a request with the operator's session.
func (a *testAPI) as(h http.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	return a.serve(h, method, path, body, a.cookie)
}

func (a *testAPI) seededBatch(t *testing.T, number string) *models.ProductBatch {
	t.Helper()
	batches, err := a.repo.ListBatches(context.Background(), repository.BatchFilter{})
	if err != nil {
		t.Fatalf("failed to list batches: %v", err)
	}
	for i := range batches {
		if batches[i].BatchNumber == number {
			return &batches[i]
		}
	}
	t.Fatalf("seeded batch %s not found", number)
	return nil
}

func (a *testAPI) mintSeeded(t *testing.T, number string) uint64 {
	t.Helper()
	result, err := a.engine.MintBatch(context.Background(), a.seededBatch(t, number).ID)
	if err != nil {
		t.Fatalf("failed to mint %s: %v", number, err)
	}
	return result.TokenID
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorKind(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decode(t, rr, &body)
	return body.Kind
}

func TestLoginSessionLogout(t *testing.T) {
	api := withTestAPI(t)

	rr := api.do(Login, http.MethodPost, "/api/login", `{"email":"avery@carbontrace.dev","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", rr.Code)
	}
	rr = api.do(Login, http.MethodGet, "/api/login", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET login, got %d", rr.Code)
	}

	rr = api.as(Session, http.MethodGet, "/api/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected session, got %d", rr.Code)
	}
	var session sessionResponse
	decode(t, rr, &session)
	if session.Email != mock.OperatorEmail || session.WalletAddress != mock.ManufacturerAddress {
		t.Fatalf("unexpected session %+v", session)
	}

	rr = api.as(Logout, http.MethodPost, "/api/logout", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on logout, got %d", rr.Code)
	}
	rr = api.as(Session, http.MethodGet, "/api/session", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestSignup(t *testing.T) {
	api := withTestAPI(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"short password", `{"email":"pat@borealis.example","password":"short","wallet_address":"` + mock.SupplierAddress + `"}`, http.StatusUnprocessableEntity},
		{"invalid email", `{"email":"pat","password":"longenough","wallet_address":"` + mock.SupplierAddress + `"}`, http.StatusUnprocessableEntity},
		{"unregistered wallet", `{"email":"pat@stranger.example","password":"longenough","wallet_address":"` + strangerAddress + `"}`, http.StatusUnprocessableEntity},
		{"existing email", `{"email":"AVERY@carbontrace.dev","password":"longenough","wallet_address":"` + mock.SupplierAddress + `"}`, http.StatusUnprocessableEntity},
		{"unknown field", `{"email":"pat@borealis.example","password":"longenough","role":"admin"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.do(Signup, http.MethodPost, "/api/signup", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}

	rr := api.do(Signup, http.MethodPost, "/api/signup",
		`{"name":"Pat","email":"pat@borealis.example","password":"longenough","wallet_address":"`+strings.ToLower(mock.SupplierAddress)+`"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created sessionResponse
	decode(t, rr, &created)
	if created.WalletAddress != mock.SupplierAddress {
		t.Fatalf("expected checksummed supplier wallet, got %q", created.WalletAddress)
	}
	if len(rr.Result().Cookies()) == 0 {
		t.Fatal("expected signup to sign the new operator in")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("batch 9: %w", apperr.ErrNotFound), http.StatusNotFound},
		{"validation", apperr.NewValidation("quantity", "must be positive"), http.StatusUnprocessableEntity},
		{"duplicate batch", apperr.ErrDuplicateBatchNumber, http.StatusUnprocessableEntity},
		{"already minted", apperr.ErrAlreadyMinted, http.StatusConflict},
		{"insufficient balance", apperr.ErrInsufficientBalance, http.StatusConflict},
		{"unknown partner", apperr.ErrUnknownPartner, http.StatusConflict},
		{"cycle", &apperr.CycleError{TokenID: 1, Path: []uint64{1, 2}}, http.StatusInternalServerError},
		{"orphan", apperr.ErrDataIntegrity, http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"ledger network", &ledger.Error{Op: "mint", Kind: ledger.KindNetwork, Err: errors.New("connection refused")}, http.StatusBadGateway},
		{"ledger timeout", &ledger.Error{Op: "mint", Kind: ledger.KindNetwork, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"ledger pending", &ledger.Error{Op: "mint", Kind: ledger.KindPending, TxHash: "0xabc"}, http.StatusGatewayTimeout},
		{"ledger revert", &ledger.Error{Op: "mint", Kind: ledger.KindRejected, Reason: "paused"}, http.StatusConflict},
		{"ledger validation", &ledger.Error{Op: "mint", Kind: ledger.KindValidation, Reason: "zero quantity"}, http.StatusUnprocessableEntity},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := statusFor(tt.err); got != tt.want {
				t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestTokenResourceResolvesComposition(t *testing.T) {
	api := withTestAPI(t)
	tokenID := api.mintSeeded(t, "ACM-2026-001")

	rr := api.do(TokenResource, http.MethodGet, "/api/tokens/"+strconv.FormatUint(tokenID, 10), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body compositionResponse
	decode(t, rr, &body)
	if body.TokenID != tokenID || body.Root == nil || body.Root.TokenID != tokenID {
		t.Fatalf("unexpected composition %+v", body)
	}
	if body.Partial {
		t.Fatal("expected a raw material batch to resolve completely")
	}
	if len(body.Locations) != 1 || body.Locations[0].Type != composition.PointRawMaterial {
		t.Fatalf("expected a single raw material location, got %+v", body.Locations)
	}

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/tokens/abc", http.StatusBadRequest},
		{http.MethodGet, "/api/tokens/999", http.StatusNotFound},
		{http.MethodGet, "/api/tokens/1/extra", http.StatusNotFound},
		{http.MethodPost, "/api/tokens/1", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		if rr := api.do(TokenResource, tt.method, tt.path, ""); rr.Code != tt.status {
			t.Fatalf("%s %s: expected %d, got %d", tt.method, tt.path, tt.status, rr.Code)
		}
	}
}

func TestBatchResourceMintAndVerify(t *testing.T) {
	api := withTestAPI(t)
	batch := api.seededBatch(t, "ACM-2026-002")
	mintPath := fmt.Sprintf("/api/batches/%d/mint", batch.ID)

	if rr := api.do(BatchResource, http.MethodPost, mintPath, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rr.Code)
	}

	rr := api.as(BatchResource, http.MethodPost, mintPath, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var minted repository.MintResult
	decode(t, rr, &minted)
	if minted.TokenID == 0 || minted.TxHash == "" {
		t.Fatalf("unexpected mint result %+v", minted)
	}

	rr = api.as(BatchResource, http.MethodPost, mintPath, "")
	if rr.Code != http.StatusConflict || errorKind(t, rr) != "already_minted" {
		t.Fatalf("expected already_minted conflict, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = api.do(BatchResource, http.MethodGet, fmt.Sprintf("/api/batches/%d/verify", batch.ID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from verify, got %d: %s", rr.Code, rr.Body.String())
	}
	var verification struct {
		Consistent bool `json:"consistent"`
	}
	decode(t, rr, &verification)
	if !verification.Consistent {
		t.Fatalf("expected freshly minted batch to match the ledger: %s", rr.Body.String())
	}

	rr = api.as(BatchResource, http.MethodGet, "/api/batches/pending", "")
	var pending []models.ProductBatch
	decode(t, rr, &pending)
	for _, b := range pending {
		if b.ID == batch.ID {
			t.Fatal("expected minted batch to leave the pending list")
		}
	}
}

func TestBatchResourceCreateUsesSessionWallet(t *testing.T) {
	api := withTestAPI(t)
	seeded := api.seededBatch(t, "ACM-2026-001")

	body := fmt.Sprintf(`{"batch_number":"ACM-2026-010","template_id":%d,"plant_id":%d,"quantity":40,"production_date":"2026-10-01T00:00:00Z","manufacturer_address":%q}`,
		seeded.TemplateID, seeded.PlantID, mock.CustomerAddress)
	rr := api.as(BatchResource, http.MethodPost, "/api/batches", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created models.ProductBatch
	decode(t, rr, &created)
	if created.ManufacturerAddress != mock.ManufacturerAddress {
		t.Fatalf("expected manufacturer taken from session, got %q", created.ManufacturerAddress)
	}

	rr = api.as(BatchResource, http.MethodPost, "/api/batches", body)
	if rr.Code != http.StatusUnprocessableEntity || errorKind(t, rr) != "duplicate_batch_number" {
		t.Fatalf("expected duplicate batch number, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestPartnerResource(t *testing.T) {
	api := withTestAPI(t)

	if rr := api.do(PartnerResource, http.MethodGet, "/api/partners", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rr.Code)
	}

	rr := api.as(PartnerResource, http.MethodGet, "/api/partners", "")
	var list []models.Partner
	decode(t, rr, &list)
	if len(list) != 2 {
		t.Fatalf("expected two seeded partners, got %d", len(list))
	}

	rr = api.as(PartnerResource, http.MethodPost, "/api/partners", `{"partner_address":"`+mock.SupplierAddress+`","relationship":"rival"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown relationship, got %d", rr.Code)
	}

	rr = api.as(PartnerResource, http.MethodDelete, "/api/partners/"+mock.SupplierAddress, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = api.as(PartnerResource, http.MethodGet, "/api/partners?relationship=supplier", "")
	decode(t, rr, &list)
	if len(list) != 0 {
		t.Fatalf("expected no suppliers after removal, got %d", len(list))
	}
}

func TestTransferResource(t *testing.T) {
	api := withTestAPI(t)
	tokenID := api.mintSeeded(t, "ACM-2026-001")

	stranger := fmt.Sprintf(`{"to":%q,"token_id":%d,"quantity":5}`, strangerAddress, tokenID)
	rr := api.as(TransferResource, http.MethodPost, "/api/transfers", stranger)
	if rr.Code != http.StatusConflict || errorKind(t, rr) != "unknown_partner" {
		t.Fatalf("expected unknown_partner conflict, got %d: %s", rr.Code, rr.Body.String())
	}

	body := fmt.Sprintf(`{"to":%q,"token_id":%d,"quantity":25,"reason":"order 7"}`, mock.CustomerAddress, tokenID)
	rr = api.as(TransferResource, http.MethodPost, "/api/transfers", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var result reconcile.TransferResult
	decode(t, rr, &result)
	if !result.Journaled || result.TxHash == "" {
		t.Fatalf("unexpected transfer result %+v", result)
	}

	balance, err := api.chain.BalanceOf(context.Background(), common.HexToAddress(mock.CustomerAddress), tokenID)
	if err != nil || balance != 25 {
		t.Fatalf("expected customer balance 25, got %d (err=%v)", balance, err)
	}

	rr = api.as(TransferResource, http.MethodGet, "/api/transfers", "")
	var journal []models.TokenTransfer
	decode(t, rr, &journal)
	if len(journal) != 1 {
		t.Fatalf("expected one journaled transfer, got %d", len(journal))
	}

	rr = api.do(TransferResource, http.MethodGet, "/api/transfers/"+result.TxHash, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected transfer lookup by hash, got %d", rr.Code)
	}
}

// stalledTransfers applies transfers but never confirms them.
type stalledTransfers struct {
	ledger.Ledger
}

func (l stalledTransfers) Transfer(ctx context.Context, to common.Address, tokenID, quantity uint64, reason string) (*ledger.Receipt, error) {
	if _, err := l.Ledger.Transfer(ctx, to, tokenID, quantity, reason); err != nil {
		return nil, err
	}
	hash := "0x" + strings.Repeat("cd", 32)
	return &ledger.Receipt{TxHash: hash, TokenID: tokenID, Quantity: quantity},
		&ledger.Error{Op: "transfer", Kind: ledger.KindPending, TxHash: hash, Err: context.DeadlineExceeded}
}

func TestTransferResourceAcceptsUnconfirmedTransfer(t *testing.T) {
	api := withTestAPI(t)
	tokenID := api.mintSeeded(t, "ACM-2026-001")
	engine = reconcile.New(stalledTransfers{Ledger: api.chain}, api.repo, api.dir, reconcile.Options{})

	body := fmt.Sprintf(`{"to":%q,"token_id":%d,"quantity":10}`, mock.CustomerAddress, tokenID)
	rr := api.as(TransferResource, http.MethodPost, "/api/transfers", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for an unconfirmed transfer, got %d: %s", rr.Code, rr.Body.String())
	}
	var result reconcile.TransferResult
	decode(t, rr, &result)
	if result.Status != models.TransferStatusPending || !result.Journaled || result.TxHash == "" {
		t.Fatalf("unexpected transfer result %+v", result)
	}

	rr = api.do(TransferResource, http.MethodGet, "/api/transfers/"+result.TxHash, "")
	var entry models.TokenTransfer
	decode(t, rr, &entry)
	if rr.Code != http.StatusOK || entry.Status != models.TransferStatusPending {
		t.Fatalf("expected pending journal entry, got %d %+v", rr.Code, entry)
	}
}

func TestInventory(t *testing.T) {
	api := withTestAPI(t)
	tokenID := api.mintSeeded(t, "ACM-2026-001")

	if rr := api.do(Inventory, http.MethodGet, "/api/inventory", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session or address, got %d", rr.Code)
	}

	rr := api.as(Inventory, http.MethodGet, "/api/inventory", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var holdings []reconcile.Holding
	decode(t, rr, &holdings)
	if len(holdings) != 1 || holdings[0].TokenID != tokenID || holdings[0].Balance != 500 {
		t.Fatalf("unexpected holdings %+v", holdings)
	}

	rr = api.do(Inventory, http.MethodGet, "/api/inventory/"+mock.CustomerAddress, "")
	decode(t, rr, &holdings)
	if len(holdings) != 0 {
		t.Fatalf("expected empty customer inventory, got %+v", holdings)
	}
}
