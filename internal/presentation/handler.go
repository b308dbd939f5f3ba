package presentation

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/petportre/orders-service/internal/application"
	"github.com/petportre/orders-service/internal/config"
	"github.com/petportre/orders-service/internal/export"
	"github.com/petportre/orders-service/internal/normalize"
	"github.com/petportre/orders-service/internal/presentation/helpers"
)

type Deps struct {
	Service     string
	Auth        config.AuthConfig
	Orders      *application.OrdersService
	Fulfillment *application.FulfillmentService
	Tracking    *application.TrackingLookup
	Export      *application.ExportService
}

type OrdersHandler struct {
	service     string
	auth        config.AuthConfig
	orders      *application.OrdersService
	fulfillment *application.FulfillmentService
	tracking    *application.TrackingLookup
	export      *application.ExportService
	validate    *validator.Validate
	now         func() time.Time
}

func NewOrdersHandler(d Deps) *OrdersHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by the names clients send
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &OrdersHandler{
		service:     d.Service,
		auth:        d.Auth,
		orders:      d.Orders,
		fulfillment: d.Fulfillment,
		tracking:    d.Tracking,
		export:      d.Export,
		validate:    v,
		now:         time.Now,
	}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/", h.Health)
	r.Get("/api/health", h.Health)
	r.Get("/api/db-ping", h.DBPing)

	r.Get("/api/wix-webhook", h.WebhookAlive)
	r.With(requireToken(h.auth.WebhookToken)).Post("/api/wix-webhook", h.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(requireToken(h.auth.ExportToken))
		r.Get("/api/orders-flat", h.OrdersFlat)
		r.Get("/api/sync", h.OrdersFlat)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireToken(h.auth.WebhookToken, h.auth.ExportToken, h.auth.CarrierAPIKey))
		r.Post("/api/dhl-create-order", h.CreateShipment)
		r.Post("/api/dhl-label", h.Label)
		r.Get("/api/dhl-track-order", h.Track)
		r.Post("/api/dhl-track-order", h.Track)
	})

	r.With(publicCORS).HandleFunc("/api/track-public", h.TrackPublic)

	r.With(requireToken(h.auth.AdminToken)).Post("/api/admin/indexes", h.EnsureIndexes)
}

func (h *OrdersHandler) Health(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": h.service,
		"time":    h.now().UTC().Format(time.RFC3339),
	})
}

func (h *OrdersHandler) DBPing(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Ping(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "ping": true})
}

func (h *OrdersHandler) WebhookAlive(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "info": "wix-webhook alive"})
}

type webhookResponse struct {
	OK bool `json:"ok"`
	application.IngestResult
}

// Webhook ingests one storefront payload. The body is passed on untouched so
// the normalizer sees exactly what the storefront sent.
func (h *OrdersHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := helpers.ReadBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var opts []normalize.Option
	if ch := strings.TrimSpace(r.URL.Query().Get("channel")); ch != "" {
		opts = append(opts, normalize.WithChannel(strings.ToLower(ch)))
	}

	res, err := h.orders.Ingest(r.Context(), raw, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, webhookResponse{OK: true, IngestResult: res})
}

type flatResponse struct {
	OK bool `json:"ok"`
	export.Table
}

func (h *OrdersHandler) OrdersFlat(w http.ResponseWriter, r *http.Request) {
	table, err := h.export.Export(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, flatResponse{OK: true, Table: table})
}

func (h *OrdersHandler) EnsureIndexes(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.EnsureIndexes(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// TrackPublic answers the storefront's "where is my order" form. Errors never
// reveal anything about the order.
func (h *OrdersHandler) TrackPublic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		helpers.WriteJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "state": "bad_request", "error": "GET only"})
		return
	}
	q := r.URL.Query()
	orderNo, email := strings.TrimSpace(q.Get("orderNo")), strings.TrimSpace(q.Get("email"))
	if orderNo == "" || email == "" {
		helpers.WriteJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "state": "bad_request", "error": "email/orderNo missing"})
		return
	}

	res, err := h.tracking.Lookup(r.Context(), orderNo, email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := map[string]any{"ok": true, "state": res.State}
	if res.URL != "" {
		out["url"] = res.URL
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}
