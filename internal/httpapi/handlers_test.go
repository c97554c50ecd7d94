package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"angkorpos/backend/internal/cache"
	"angkorpos/backend/internal/currency"
	"angkorpos/backend/internal/domain"
	"angkorpos/backend/internal/rate"
	"angkorpos/backend/internal/service"
	"angkorpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store and real Service so
// handler tests exercise the complete request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	repo := memory.NewSeeded()
	rates := rate.NewStoreProvider(repo, cache.NoopRateCache{}, currency.DefaultExchangeRate, time.Minute, zap.NewNop())
	svc := service.New(repo, rates, nil, 12, zap.NewNop())

	return New(svc, "*", zap.NewNop()).Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func cashierHeaders() map[string]string {
	return map[string]string{
		"X-Actor-Id":   "cash-1",
		"X-Actor-Name": "Sokha",
		"X-Actor-Role": "cashier",
	}
}

func managerHeaders() map[string]string {
	return map[string]string{
		"X-Actor-Id":   "mgr-1",
		"X-Actor-Name": "Dara",
		"X-Actor-Role": "manager",
	}
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, true, body["ok"])
}

func TestCreateSaleEndpoint(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", domain.CreateSaleRequest{
		Items: []domain.SaleLineRequest{
			{ProductID: "prod-ip15-128", SerialItemID: "ser-ip15-1"},
		},
		PaymentMethod: "cash",
		PaidUSD:       850,
	}, cashierHeaders())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp domain.SaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 849.0, resp.Sale.TotalUSD)
	require.Equal(t, "completed", resp.Sale.Status)
	require.NotEmpty(t, resp.Sale.InvoiceNumber)
	require.Equal(t, "Change: ៛4,100", resp.Payment.ChangeMessage)
}

func TestCreateSaleWithoutActorFails(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", domain.CreateSaleRequest{
		Items:         []domain.SaleLineRequest{{ProductID: "prod-glass-01", Quantity: 1}},
		PaymentMethod: "cash",
		PaidUSD:       3,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSaleSoldSerialReturns400(t *testing.T) {
	handler := newTestAPI(t)

	sale := domain.CreateSaleRequest{
		Items:         []domain.SaleLineRequest{{ProductID: "prod-s24-256", SerialItemID: "ser-s24-1"}},
		PaymentMethod: "cash",
		PaidUSD:       750,
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", sale, cashierHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales", sale, cashierHeaders())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Contains(t, body["error"], "serial item")
}

func TestVoidSaleEndpoint(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", domain.CreateSaleRequest{
		Items:         []domain.SaleLineRequest{{ProductID: "prod-case-clear", Quantity: 1}},
		PaymentMethod: "cash",
		PaidUSD:       5,
	}, cashierHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.SaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+created.Sale.ID+"/void",
		domain.VoidSaleRequest{Reason: "wrong item"}, managerHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var voided struct {
		Sale domain.Sale `json:"sale"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&voided))
	require.Equal(t, "voided", voided.Sale.Status)
	require.Contains(t, voided.Sale.Notes, "[VOIDED by Dara")

	// Second void is rejected.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+created.Sale.ID+"/void",
		domain.VoidSaleRequest{}, managerHeaders())
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSaleNotFound(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales/no-such-sale", nil, managerHeaders())
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSaleRedactsCostForCashier(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", domain.CreateSaleRequest{
		Items:         []domain.SaleLineRequest{{ProductID: "prod-case-clear", Quantity: 1}},
		PaymentMethod: "cash",
		PaidUSD:       5,
	}, cashierHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.SaleResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, nil, cashierHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Sale domain.Sale `json:"sale"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Zero(t, got.Sale.Items[0].CostPrice)
}

func TestListSalesFilters(t *testing.T) {
	handler := newTestAPI(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", domain.CreateSaleRequest{
			Items:         []domain.SaleLineRequest{{ProductID: "prod-glass-01", Quantity: 1}},
			PaymentMethod: "cash",
			PaidUSD:       3,
		}, cashierHeaders())
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales?limit=2&payment_method=cash", nil, managerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var page domain.SalesPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Equal(t, 3, page.Pagination.Total)
	require.Len(t, page.Sales, 2)
	require.Equal(t, 2, page.Pagination.TotalPages)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales?payment_method=khqr", nil, managerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Zero(t, page.Pagination.Total)
}

func TestSerialItemEndpoints(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/serial-items", domain.SerialItemCreateRequest{
		ProductID: "prod-ip15-128",
		IMEI:      "356789104560001",
	}, managerHeaders())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Duplicate IMEI registration conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/serial-items", domain.SerialItemCreateRequest{
		ProductID: "prod-ip15-128",
		IMEI:      "356789104560001",
	}, managerHeaders())
	require.Equal(t, http.StatusConflict, rec.Code)

	// Malformed IMEI is a validation error.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/serial-items", domain.SerialItemCreateRequest{
		ProductID: "prod-ip15-128",
		IMEI:      "1234",
	}, managerHeaders())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/serial-items?product_id=prod-ip15-128&status=in_stock", nil, managerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var list domain.SerialItemListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.SerialItems, 4) // 3 seeded + 1 registered
}

func TestExchangeRateEndpoints(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/exchange-rates/today", nil, cashierHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var today domain.TodayRateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&today))
	require.True(t, today.IsDefault)
	require.Equal(t, 4100.0, today.UsdToKhr)

	// Cashiers may not set the rate.
	rec = doJSON(t, handler, http.MethodPut, "/api/v1/exchange-rates/today",
		domain.SetExchangeRateRequest{UsdToKhr: 4080}, cashierHeaders())
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPut, "/api/v1/exchange-rates/today",
		domain.SetExchangeRateRequest{UsdToKhr: 4080}, managerHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/exchange-rates/history?days=7", nil, managerHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var history domain.RateHistoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	require.Len(t, history.Rates, 1)
	require.Equal(t, 4080.0, history.Rates[0].UsdToKhr)
}

func TestKHQRVerifyUnavailableWithoutClient(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/payments/khqr/verify",
		domain.KHQRVerifyRequest{MD5: "abc"}, cashierHeaders())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownFieldRejected(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales",
		map[string]any{"bogus_field": 1}, cashierHeaders())
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
