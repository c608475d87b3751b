package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/username/acbfolio/backend/src/fx"
	"github.com/username/acbfolio/backend/src/ledger"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/store"
)

func init() {
	logger.InitLogger("error")
}

type noProvider struct{}

func (noProvider) FetchRange(ctx context.Context, currency string, start, end models.Date) ([]models.FXRate, error) {
	return nil, nil
}

// newTestServer wires the full API router over an in-memory store, seeded
// with one CAD security and one non-registered account.
func newTestServer(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()

	if err := st.CreateSecurity(ctx, &models.Security{
		ID: "sec-1", Symbol: "XEQT", Name: "iShares Core Equity", Currency: "CAD", Kind: models.KindETF,
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateAccount(ctx, &models.Account{
		ID: "acc-1", Name: "Margin", Registration: models.RegNonRegistered,
	}); err != nil {
		t.Fatal(err)
	}

	oracle := fx.NewOracle(st, noProvider{})
	orch := ledger.NewOrchestrator(st, oracle)

	securityHandler := NewSecurityHandler(st)
	accountHandler := NewAccountHandler(st)
	txHandler := NewTransactionHandler(st, orch)
	positionHandler := NewPositionHandler(st)
	fxRateHandler := NewFxRateHandler(oracle)
	exportHandler := NewExportHandler(st)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/securities", securityHandler.HandleList)
		r.Post("/securities", securityHandler.HandleCreate)
		r.Get("/securities/{id}", securityHandler.HandleGet)

		r.Get("/accounts", accountHandler.HandleList)
		r.Post("/accounts", accountHandler.HandleCreate)
		r.Get("/accounts/{id}", accountHandler.HandleGet)

		r.Get("/transactions", txHandler.HandleList)
		r.Post("/transactions", txHandler.HandleCreate)
		r.Get("/transactions/{id}", txHandler.HandleGet)
		r.Put("/transactions/{id}", txHandler.HandleUpdate)
		r.Delete("/transactions/{id}", txHandler.HandleDelete)

		r.Get("/positions", positionHandler.HandleList)
		r.Get("/fx-rates/rate", fxRateHandler.HandleGetRate)
		r.Get("/export/csv", exportHandler.HandleExportCSV)
		r.Get("/export/json", exportHandler.HandleExportJSON)
	})
	return r, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestSecurityCreateAndGet(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/securities", map[string]string{
		"symbol": "vfv", "name": "Vanguard S&P 500", "currency": "cad", "kind": "etf",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var created models.Security
	decodeBody(t, rec, &created)
	if created.ID == "" || created.Symbol != "VFV" || created.Currency != "CAD" {
		t.Errorf("created = %+v", created)
	}

	get := doJSON(t, h, http.MethodGet, "/api/securities/"+created.ID, nil)
	if get.Code != http.StatusOK {
		t.Errorf("get status = %d", get.Code)
	}

	missing := doJSON(t, h, http.MethodGet, "/api/securities/nope", nil)
	if missing.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", missing.Code)
	}
}

func TestSecurityCreateRejectsBadInput(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/securities", map[string]string{
		"symbol": "VFV", "name": "Vanguard", "currency": "ZZZ", "kind": "etf",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] == "" {
		t.Error("error body missing")
	}

	raw := httptest.NewRequest(http.MethodPost, "/api/securities", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, raw)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec2.Code)
	}
}

func TestAccountCreate(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/accounts", map[string]string{
		"name": "TFSA 2024", "registration": "TFSA",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var acc models.Account
	decodeBody(t, rec, &acc)
	if acc.Registration != models.RegTFSA {
		t.Errorf("registration = %s", acc.Registration)
	}

	bad := doJSON(t, h, http.MethodPost, "/api/accounts", map[string]string{
		"name": "Broker", "registration": "401k",
	})
	if bad.Code != http.StatusBadRequest {
		t.Errorf("unknown registration status = %d", bad.Code)
	}
}

func txBody(typ, date, quantity, price string) map[string]any {
	return map[string]any{
		"securityId": "sec-1",
		"accountId":  "acc-1",
		"type":       typ,
		"tradeDate":  date,
		"quantity":   quantity,
		"price":      price,
		"fees":       "10",
		"fxRate":     "1",
	}
}

func TestTransactionLifecycle(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/transactions", txBody("buy", "2024-01-15", "100", "50"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var buy models.Transaction
	decodeBody(t, rec, &buy)
	if !buy.AcbAfter.Equal(decimal.RequireFromString("5010")) {
		t.Errorf("acbAfter = %s, want 5010", buy.AcbAfter)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/transactions", txBody("sell", "2024-06-10", "100", "60"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("sell status = %d, body %s", rec.Code, rec.Body)
	}
	var sell models.Transaction
	decodeBody(t, rec, &sell)
	if sell.CapitalGain == nil || !sell.CapitalGain.Equal(decimal.RequireFromString("980")) {
		t.Errorf("capitalGain = %v, want 980", sell.CapitalGain)
	}

	get := doJSON(t, h, http.MethodGet, "/api/transactions/"+buy.ID, nil)
	if get.Code != http.StatusOK {
		t.Errorf("get status = %d", get.Code)
	}

	del := doJSON(t, h, http.MethodDelete, "/api/transactions/"+sell.ID, nil)
	if del.Code != http.StatusOK {
		t.Errorf("delete status = %d, body %s", del.Code, del.Body)
	}
	gone := doJSON(t, h, http.MethodGet, "/api/transactions/"+sell.ID, nil)
	if gone.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", gone.Code)
	}
}

func TestTransactionUpdateNotes(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/transactions", txBody("buy", "2024-01-15", "100", "50"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var buy models.Transaction
	decodeBody(t, rec, &buy)

	upd := doJSON(t, h, http.MethodPut, "/api/transactions/"+buy.ID, map[string]any{
		"notes": "<script>x</script> dividend reinvest ",
	})
	if upd.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", upd.Code, upd.Body)
	}
	var updated models.Transaction
	decodeBody(t, upd, &updated)
	if updated.Notes != "dividend reinvest" {
		t.Errorf("notes = %q, want sanitized text", updated.Notes)
	}
	if updated.ID != buy.ID {
		t.Errorf("id changed on update: %s", updated.ID)
	}
}

func TestTransactionCreateRejections(t *testing.T) {
	h, _ := newTestServer(t)

	neg := txBody("buy", "2024-01-15", "-5", "50")
	if rec := doJSON(t, h, http.MethodPost, "/api/transactions", neg); rec.Code != http.StatusBadRequest {
		t.Errorf("negative quantity status = %d", rec.Code)
	}

	// Selling from an empty position fails in the ledger, not validation.
	sell := txBody("sell", "2024-01-15", "100", "50")
	if rec := doJSON(t, h, http.MethodPost, "/api/transactions", sell); rec.Code != http.StatusBadRequest {
		t.Errorf("infeasible sell status = %d", rec.Code)
	}

	ghost := txBody("buy", "2024-01-15", "100", "50")
	ghost["securityId"] = "sec-ghost"
	if rec := doJSON(t, h, http.MethodPost, "/api/transactions", ghost); rec.Code != http.StatusNotFound {
		t.Errorf("unknown security status = %d", rec.Code)
	}
}

func TestTransactionListETag(t *testing.T) {
	h, _ := newTestServer(t)

	if rec := doJSON(t, h, http.MethodPost, "/api/transactions", txBody("buy", "2024-01-15", "100", "50")); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	first := doJSON(t, h, http.MethodGet, "/api/transactions", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("list status = %d", first.Code)
	}
	etag := first.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", rec.Code)
	}

	// A new row changes the ETag, so the stale tag must miss.
	if rec := doJSON(t, h, http.MethodPost, "/api/transactions", txBody("buy", "2024-02-15", "50", "52")); rec.Code != http.StatusCreated {
		t.Fatalf("second create status = %d", rec.Code)
	}
	req2 := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req2.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Errorf("stale conditional status = %d, want 200", rec2.Code)
	}
}

func TestPositionListEmptyAndPopulated(t *testing.T) {
	h, _ := newTestServer(t)

	empty := doJSON(t, h, http.MethodGet, "/api/positions", nil)
	if empty.Code != http.StatusOK {
		t.Fatalf("status = %d", empty.Code)
	}
	if strings.TrimSpace(empty.Body.String()) != "[]" {
		t.Errorf("empty positions body = %s", empty.Body)
	}

	if rec := doJSON(t, h, http.MethodPost, "/api/transactions", txBody("buy", "2024-01-15", "100", "50")); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	populated := doJSON(t, h, http.MethodGet, "/api/positions", nil)
	var positions []models.Position
	decodeBody(t, populated, &positions)
	if len(positions) != 1 || !positions[0].Shares.Equal(decimal.RequireFromString("100")) {
		t.Errorf("positions = %+v", positions)
	}
}

func TestFxRateEndpoint(t *testing.T) {
	h, st := newTestServer(t)
	ctx := context.Background()

	if err := st.InsertFXRate(ctx, models.FXRate{
		Date: models.MustParseDate("2024-01-15"), From: "USD", To: "CAD",
		Rate: decimal.RequireFromString("1.35"),
	}); err != nil {
		t.Fatal(err)
	}

	ok := doJSON(t, h, http.MethodGet, "/api/fx-rates/rate?date=2024-01-15&from=usd&to=cad", nil)
	if ok.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", ok.Code, ok.Body)
	}
	var body map[string]string
	decodeBody(t, ok, &body)
	if body["rate"] != "1.35" || body["from"] != "USD" {
		t.Errorf("body = %v", body)
	}

	missingParams := doJSON(t, h, http.MethodGet, "/api/fx-rates/rate?from=USD&to=CAD", nil)
	if missingParams.Code != http.StatusBadRequest {
		t.Errorf("missing date status = %d", missingParams.Code)
	}

	badDate := doJSON(t, h, http.MethodGet, "/api/fx-rates/rate?date=15/01/2024&from=USD&to=CAD", nil)
	if badDate.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d", badDate.Code)
	}

	unknown := doJSON(t, h, http.MethodGet, "/api/fx-rates/rate?date=2024-01-15&from=CHF&to=CAD", nil)
	if unknown.Code != http.StatusNotFound {
		t.Errorf("unknown rate status = %d", unknown.Code)
	}
}

func TestExportCSV(t *testing.T) {
	h, st := newTestServer(t)
	ctx := context.Background()

	gain := decimal.RequireFromString("980")
	tx := &models.Transaction{
		ID: "tx-1", SecurityID: "sec-1", AccountID: "acc-1", Type: models.TypeSell,
		TradeDate:      models.MustParseDate("2024-06-10"),
		SettlementDate: models.MustParseDate("2024-06-11"),
		CreatedAt:      time.Date(2024, time.June, 10, 15, 0, 0, 0, time.UTC),
		Quantity:       decimal.RequireFromString("100"),
		Price:          decimal.RequireFromString("60"),
		FxRate:         decimal.RequireFromString("1"),
		SharesBefore:   decimal.RequireFromString("100"),
		AcbBefore:      decimal.RequireFromString("5010"),
		CapitalGain:    &gain,
		Notes:          `=SUM(A1) "quoted"`,
	}
	if err := st.UpsertTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/export/csv", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "acb-ledger.csv") {
		t.Errorf("content disposition = %q", cd)
	}

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], `"Date","Settlement Date","Type"`) {
		t.Errorf("header = %s", lines[0])
	}
	row := lines[1]
	if !strings.Contains(row, `"XEQT"`) || !strings.Contains(row, `"Margin"`) {
		t.Errorf("row lacks symbol/account: %s", row)
	}
	if !strings.Contains(row, `"980.00"`) {
		t.Errorf("row lacks formatted gain: %s", row)
	}
	// Leading quote defangs the formula; embedded quotes are doubled.
	if !strings.Contains(row, `"'=SUM(A1) ""quoted"""`) {
		t.Errorf("notes not sanitized/escaped: %s", row)
	}
}

func TestExportJSON(t *testing.T) {
	h, _ := newTestServer(t)

	if rec := doJSON(t, h, http.MethodPost, "/api/transactions", txBody("buy", "2024-01-15", "100", "50")); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/export/json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]json.RawMessage
	decodeBody(t, rec, &body)
	for _, key := range []string{"securities", "accounts", "transactions", "positions"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %q section", key)
		}
	}
}

func TestContextualLoggerMiddleware(t *testing.T) {
	var gotID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = GetRequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	ContextualLoggerMiddleware(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if gotID == "" {
		t.Error("request id not placed in context")
	}
}
