package presentation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petportre/orders-service/internal/application"
	"github.com/petportre/orders-service/internal/carrier"
	"github.com/petportre/orders-service/internal/config"
	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/export"
	"github.com/petportre/orders-service/internal/repository"
	"github.com/petportre/orders-service/internal/storage"
)

const (
	webhookToken = "hook-secret"
	exportToken  = "export-secret"
	adminToken   = "admin-secret"
)

type stubCarrier struct {
	shipment carrier.Shipment
	status   carrier.Status
	err      error
}

func (s *stubCarrier) CreateShipment(context.Context, domain.Order) (carrier.Shipment, error) {
	return s.shipment, s.err
}

func (s *stubCarrier) FetchLabel(_ context.Context, ref, _, _ string) (carrier.Label, error) {
	if s.err != nil {
		return carrier.Label{}, s.err
	}
	return carrier.Label{Base64: "JVBERi0=", ContentType: "application/pdf", FileName: ref + ".pdf"}, nil
}

func (s *stubCarrier) QueryStatus(context.Context, carrier.Query) (carrier.Status, error) {
	return s.status, s.err
}

type testServer struct {
	handler http.Handler
	carrier *stubCarrier
}

func newTestServer(t *testing.T, auth config.AuthConfig) *testServer {
	t.Helper()
	orders := application.NewOrdersService(repository.NewMemoryRepository(), nil)
	c := &stubCarrier{}
	h := NewOrdersHandler(Deps{
		Service:     "orders-service",
		Auth:        auth,
		Orders:      orders,
		Fulfillment: application.NewFulfillmentService(orders, c, storage.NewMemoryLabelStore(), "MNG Kargo"),
		Tracking:    application.NewTrackingLookup(orders, "https://carrier.example/?no="),
		Export:      application.NewExportService(orders, 100, export.Options{Location: time.UTC}),
	})
	return &testServer{handler: NewRouter(h), carrier: c}
}

func defaultAuth() config.AuthConfig {
	return config.AuthConfig{WebhookToken: webhookToken, ExportToken: exportToken, AdminToken: adminToken}
}

func (s *testServer) do(t *testing.T, method, target, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.Contains(rec.Header().Get("Content-Type"), "json") && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (s *testServer) ingest(t *testing.T, payload string) {
	t.Helper()
	rec, _ := s.do(t, http.MethodPost, "/api/wix-webhook?token="+webhookToken, payload)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, defaultAuth())

	for _, path := range []string{"/", "/api/health"} {
		rec, body := s.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, "orders-service", body["service"])
		assert.NotEmpty(t, body["time"])
	}

	rec, body := s.do(t, http.MethodGet, "/api/db-ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ping"])
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t, defaultAuth())
	payload := `{"order":{"number":"1001"},"customer":{"name":"A B","email":"a@b.com"},"items":[{"sku":"X1","qty":2,"unitPrice":50}]}`

	rec, body := s.do(t, http.MethodGet, "/api/wix-webhook", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wix-webhook alive", body["info"])

	rec, _ = s.do(t, http.MethodPost, "/api/wix-webhook", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/wix-webhook?token=wrong", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/api/wix-webhook?token="+webhookToken, payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "1001", body["orderNumber"])
	assert.Equal(t, true, body["inserted"])

	rec, body = s.do(t, http.MethodPost, "/api/wix-webhook", payload, "X-Webhook-Token", webhookToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["inserted"])
	assert.Equal(t, float64(1), body["matched"])
	assert.Equal(t, float64(0), body["modified"])

	rec, body = s.do(t, http.MethodPost, "/api/wix-webhook", `{"customer":{}}`, "Authorization", "Bearer "+webhookToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing orderNumber", body["error"])
}

func TestWebhook_NoTokenConfigured(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	rec, _ := s.do(t, http.MethodPost, "/api/wix-webhook?token=", `{"number":"1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrdersFlat(t *testing.T) {
	s := newTestServer(t, defaultAuth())
	s.ingest(t, `{"number":"1001","items":[{"sku":"A","qty":1},{"sku":"B","qty":3}]}`)

	rec, _ := s.do(t, http.MethodGet, "/api/orders-flat?key="+webhookToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, path := range []string{"/api/orders-flat", "/api/sync"} {
		rec, body := s.do(t, http.MethodGet, path, "", "X-Api-Key", exportToken)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, export.SchemaVersion, body["version"])
		assert.Len(t, body["headers"], len(export.Headers))
		assert.Len(t, body["rows"], 2)
	}
}

func TestCreateShipment(t *testing.T) {
	s := newTestServer(t, defaultAuth())
	s.ingest(t, `{"number":"1001"}`)
	s.carrier.shipment = carrier.Shipment{ReferenceID: "MNG-1", TrackingNumber: "TR1"}
	auth := []string{"X-Api-Key", exportToken}

	rec, body := s.do(t, http.MethodPost, "/api/dhl-create-order", `{}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "orderNumber required", body["error"])

	rec, _ = s.do(t, http.MethodPost, "/api/dhl-create-order", `{"orderNumber":"404"}`, auth...)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/api/dhl-create-order", `{"id":"1001"}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MNG-1", body["referenceId"])
	assert.Equal(t, "TR1", body["trackingNumber"])
	assert.Equal(t, false, body["existing"])
}

func TestCreateShipment_CarrierDown(t *testing.T) {
	s := newTestServer(t, defaultAuth())
	s.ingest(t, `{"number":"1001"}`)
	s.carrier.err = &domain.CarrierUnavailableError{
		Op:       "create shipment",
		Attempts: []domain.AttemptFailure{{Endpoint: "POST http://carrier/createOrder", Status: 503, Body: "down"}},
		LastBody: "down",
	}

	rec, body := s.do(t, http.MethodPost, "/api/dhl-create-order", `{"orderNumber":"1001"}`, "X-Webhook-Token", webhookToken)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "down", body["lastBody"])
	attempts, ok := body["attempts"].([]any)
	require.True(t, ok)
	require.Len(t, attempts, 1)
	assert.Equal(t, "POST http://carrier/createOrder", attempts[0].(map[string]any)["endpoint"])
}

func TestLabel(t *testing.T) {
	s := newTestServer(t, defaultAuth())
	s.ingest(t, `{"number":"1001"}`)
	auth := []string{"X-Api-Key", exportToken}

	rec, _ := s.do(t, http.MethodPost, "/api/dhl-label", `{"referenceId":"MNG-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/api/dhl-label", `{"labelType":"PDF"}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "referenceId required", body["error"])

	rec, _ = s.do(t, http.MethodPost, "/api/dhl-label", `{"orderNumber":"1001","labelType":"DOCX"}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/dhl-label", `{"orderNumber":"1001"}`, auth...)
	assert.Equal(t, http.StatusConflict, rec.Code)

	s.carrier.shipment = carrier.Shipment{ReferenceID: "MNG-1"}
	rec, _ = s.do(t, http.MethodPost, "/api/dhl-create-order", `{"orderNumber":"1001"}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodPost, "/api/dhl-label", `{"orderNumber":"1001"}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MNG-1.pdf", body["fileName"])
	assert.Equal(t, "JVBERi0=", body["base64"])
	assert.NotEmpty(t, body["labelRef"])
}

func TestTrackOrder(t *testing.T) {
	s := newTestServer(t, defaultAuth())
	delivered := time.Date(2025, 9, 3, 11, 20, 0, 0, time.UTC)
	s.carrier.status = carrier.Status{Code: domain.CarrierDelivered, Raw: "TESLİM EDİLDİ", DeliveredAt: &delivered}
	auth := []string{"Authorization", "Bearer " + exportToken}

	rec, body := s.do(t, http.MethodGet, "/api/dhl-track-order", "", auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "tracking required", body["error"])

	rec, body = s.do(t, http.MethodGet, "/api/dhl-track-order?tracking=TR9", "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DELIVERED", body["status"])
	assert.Equal(t, "2025-09-03T11:20:00Z", body["deliveredAt"])
	assert.Equal(t, "TR9", body["trackingNumber"])
}

func TestTrackPublic(t *testing.T) {
	s := newTestServer(t, defaultAuth())
	s.ingest(t, `{"number":"1001","customer":{"email":"ayse.yilmaz@gmail.com"},"shippingInfo":{"trackingNumber":"TR100"}}`)
	s.ingest(t, `{"number":"1002","customer":{"email":"b@example.com"}}`)

	rec, _ := s.do(t, http.MethodOptions, "/api/track-public", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, body := s.do(t, http.MethodGet, "/api/track-public?orderNo=1001", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["state"])

	rec, body = s.do(t, http.MethodPost, "/api/track-public", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", body["state"])

	rec, body = s.do(t, http.MethodGet, "/api/track-public?orderNo=1001&email=AyseYilmaz%2Bshop@gmail.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "live", body["state"])
	assert.Equal(t, "https://carrier.example/?no=TR100", body["url"])

	_, body = s.do(t, http.MethodGet, "/api/track-public?orderNo=1002&email=b@example.com", "")
	assert.Equal(t, "pending", body["state"])
	assert.NotContains(t, body, "url")

	_, body = s.do(t, http.MethodGet, "/api/track-public?orderNo=1002&email=x@example.com", "")
	assert.Equal(t, "not_found", body["state"])
}

func TestAdminIndexes(t *testing.T) {
	s := newTestServer(t, defaultAuth())

	rec, _ := s.do(t, http.MethodPost, "/api/admin/indexes?key="+exportToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/api/admin/indexes", "", "X-Admin-Key", adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
}

func TestTrackPage(t *testing.T) {
	s := newTestServer(t, defaultAuth())

	rec, _ := s.do(t, http.MethodGet, "/track", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/track-public")

	rec, body := s.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["ok"])
}
