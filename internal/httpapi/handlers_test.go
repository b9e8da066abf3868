package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/service"
	"posledger/internal/store/memory"
)

const testProductID = "prod-http-burger"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	api, _ := newTestAPIWithStore(t)
	return api
}

func newTestAPIWithStore(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded()
	repo.PutProduct(domain.Product{
		ID:          testProductID,
		Name:        "Test Burger",
		ProductType: domain.ProductTypeFinished,
		Prices: domain.ProductPrices{
			PurchasePrice:  decimal.RequireFromString("48.00"),
			StorePrice:     decimal.RequireFromString("140.00"),
			PublicPrice:    decimal.RequireFromString("150.00"),
			PublishedPrice: decimal.RequireFromString("155.00"),
		},
	})
	svc := service.New(repo, cache.NoopStockCache{}, service.Options{AllowNegativeStock: true, Currency: "MXN"})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)

	return New(svc, auth, "*"), repo
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw %s)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody[domain.LoginResponse](t, rec)
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in response, got %+v", body)
	}
	if body.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", body.Role)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	api, repo := newTestAPIWithStore(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions", token, domain.SessionUpsertRequest{Type: "guest", CustomCode: "table-4", Origin: "pos"})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert session: %d %s", rec.Code, rec.Body.String())
	}
	session := decodeBody[domain.Session](t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart", token, map[string]any{
		"session_id": session.ID,
		"product_id": testProductID,
		"quantity":   "2",
		"options":    []domain.ItemOption{{Name: "doneness", Value: "medium"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add cart item: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/cart/"+session.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list cart: %d %s", rec.Code, rec.Body.String())
	}
	if lines := decodeBody[[]domain.CartItemView](t, rec); len(lines) != 1 {
		t.Fatalf("expected 1 cart line, got %d", len(lines))
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CheckoutRequest{SessionID: session.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}
	checkout := decodeBody[domain.CheckoutResponse](t, rec)
	if checkout.Total.StringFixed(2) != "300.00" {
		t.Fatalf("expected total 300.00, got %s", checkout.Total)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/"+checkout.OrderID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: %d %s", rec.Code, rec.Body.String())
	}
	detail := decodeBody[domain.OrderDetail](t, rec)
	if len(detail.Items) != 1 || detail.Items[0].Options[0].Value != "medium" {
		t.Fatalf("unexpected order items %+v", detail.Items)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/finance/balance/"+session.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: %d %s", rec.Code, rec.Body.String())
	}
	balance := decodeBody[domain.Balance](t, rec)
	if balance.CurrentBalance.StringFixed(2) != "300.00" {
		t.Fatalf("expected balance 300.00, got %s", balance.CurrentBalance)
	}

	if got := repo.CountOrders(session.ID); got != 1 {
		t.Fatalf("expected 1 order, got %d", got)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CheckoutRequest{SessionID: session.ID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on empty cart, got %d", rec.Code)
	}
	if body := decodeBody[map[string]string](t, rec); body["kind"] != "empty_cart" {
		t.Fatalf("expected empty_cart kind, got %v", body)
	}
}

func TestCartItemUpdateAndDelete(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	session := decodeBody[domain.Session](t, doJSON(t, handler, http.MethodPost, "/api/v1/sessions", token,
		domain.SessionUpsertRequest{Type: "guest", CustomCode: "u1", Origin: "web"}))
	item := decodeBody[domain.CartItem](t, doJSON(t, handler, http.MethodPost, "/api/v1/cart", token,
		map[string]any{"session_id": session.ID, "product_id": testProductID}))

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/cart/"+item.ID, token, map[string]any{"quantity": 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	if updated := decodeBody[domain.CartItem](t, rec); updated.Quantity.String() != "4" {
		t.Fatalf("expected quantity 4, got %s", updated.Quantity)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/cart/"+item.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/cart/"+item.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
}

func TestInventoryMovementAndStock(t *testing.T) {
	api, repo := newTestAPIWithStore(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	locations, err := repo.ListLocations(context.Background())
	if err != nil {
		t.Fatalf("list locations: %v", err)
	}
	var warehouseID, storeID string
	for _, loc := range locations {
		switch loc.Type {
		case domain.LocationWarehouse:
			warehouseID = loc.ID
		case domain.LocationStore:
			storeID = loc.ID
		}
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/inventory/movements", token, map[string]any{
		"product_id": testProductID, "location_id": warehouseID, "quantity": "10", "type": "purchase",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("purchase: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/inventory/movements", token, map[string]any{
		"product_id": testProductID, "location_id": warehouseID, "to_location_id": storeID, "quantity": "4", "type": "transfer",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("transfer: %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[domain.MovementResponse](t, rec); len(resp.EntryIDs) != 2 {
		t.Fatalf("expected 2 ledger entries for transfer, got %d", len(resp.EntryIDs))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/inventory/stock/"+testProductID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stock: %d %s", rec.Code, rec.Body.String())
	}
	rows := decodeBody[[]domain.LocationStock](t, rec)
	if len(rows) != 2 {
		t.Fatalf("expected stock at 2 locations, got %+v", rows)
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.CurrentStock)
	}
	if total.String() != "10" {
		t.Fatalf("expected global stock 10 after transfer, got %s", total)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/inventory/movements", token, map[string]any{
		"product_id": testProductID, "location_id": warehouseID, "quantity": "1", "type": "teleport",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/inventory/convert", token, map[string]any{
		"parent_product_id": testProductID, "quantity_to_produce": "1", "location_id": storeID,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for product without recipe, got %d", rec.Code)
	}
}

func TestLegacyTransactionRouteRecordsMovement(t *testing.T) {
	api, repo := newTestAPIWithStore(t)
	token := loginAsAdmin(t, api)

	locations, err := repo.ListLocations(context.Background())
	if err != nil || len(locations) == 0 {
		t.Fatalf("list locations: %v", err)
	}

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/inventory/transaction", token, map[string]any{
		"product_id": testProductID, "location_id": locations[0].ID, "quantity": "3", "type": "purchase",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("legacy route: %d %s", rec.Code, rec.Body.String())
	}
	if entries := repo.InventoryEntries(testProductID); len(entries) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(entries))
	}

	rec = doJSON(t, api.Handler(), http.MethodPost, "/api/v1/inventory/transaction", token, map[string]any{
		"product_id": testProductID, "location_id": locations[0].ID, "quantity": "0.00004", "type": "purchase",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for quantity beyond stored precision, got %d", rec.Code)
	}
}

func TestCashierCannotRecordMovements(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/inventory/movements", token, map[string]any{
		"product_id": testProductID, "location_id": "x", "quantity": "1", "type": "purchase",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUnknownOrderIs404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/orders/does-not-exist", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeBody[map[string]string](t, rec); body["kind"] != "not_found" {
		t.Fatalf("expected not_found kind, got %v", body)
	}
}

func TestFinanceEntriesAndHistory(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)

	session := decodeBody[domain.Session](t, doJSON(t, handler, http.MethodPost, "/api/v1/sessions", token,
		domain.SessionUpsertRequest{Type: "guest", CustomCode: "u9", Origin: "web"}))

	for _, amount := range []string{"10.00", "20.00", "30.00"} {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/finance/entries", token, map[string]any{
			"session_id": session.ID, "type": "income", "concept": "adjustment", "amount": amount,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("entry: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/finance/history/"+session.ID+"?page=2&limit=2", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d %s", rec.Code, rec.Body.String())
	}
	history := decodeBody[domain.FinanceHistory](t, rec)
	if history.Pagination.Total != 3 || history.Pagination.Pages != 2 || len(history.Data) != 1 {
		t.Fatalf("unexpected pagination %+v (%d rows)", history.Pagination, len(history.Data))
	}
	if history.Data[0].Amount.StringFixed(2) != "10.00" {
		t.Fatalf("expected oldest entry on last page, got %s", history.Data[0].Amount)
	}
}

func TestCashierManagementRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	cashierToken := loginAs(t, api, "cashier", "cashier123")
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/users/cashiers", cashierToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	adminToken := loginAsAdmin(t, api)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", adminToken, domain.CashierCreateRequest{Username: "till02", Password: "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", adminToken, domain.CashierCreateRequest{Username: "till02", Password: "pass1234"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate cashier, got %d", rec.Code)
	}

	loginAs(t, api, "till02", "pass1234")
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
