package carrier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/petportre/orders-service/internal/config"
	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/logger"
)

var (
	referencePaths      = under("referenceId", "orderReferenceId")
	trackingPaths       = under("shipmentId", "barcode", "orderInvoiceId", "trackingNumber")
	labelPaths          = []string{"labelBase64", "base64", "data.base64", "data.labelBase64", "data", "label", "pdf"}
	statusPaths         = under("shipmentStatus", "statusDescription", "orderStatus", "shipmentStatusCode")
	deliveredAtPaths    = under("deliveryDate", "deliveredDate", "deliveredAt")
	statusTrackingPaths = under("shipmentId", "trackingNumber", "barcode")
	duplicateMarkers    = []string{"already", "mevcut", "exists"}
)

// A bare status is as often the API's own ok/error flag as a shipment state.
var genericStatusPaths = under("status")

// Bare status values that only say the call went through.
var flagValues = []string{"ok", "success", "succeeded", "true", "basarili"}

// Whole status values that report a failed call, compared after fold().
var errorMarkers = []string{
	"error", "err", "hata", "fail", "failed", "failure", "false",
	"exception", "invalid", "unauthorized", "not found", "bulunamadi",
}

// Shipment is the carrier's answer to a create call.
type Shipment struct {
	ReferenceID    string
	TrackingNumber string
	Raw            json.RawMessage
}

type Label struct {
	Base64      string
	ContentType string
	FileName    string
}

type Query struct {
	TrackingNumber string
	ReferenceID    string
}

type Status struct {
	Code           domain.CarrierStatus
	Raw            string
	DeliveredAt    *time.Time
	TrackingNumber string
}

// Client talks to the carrier's standard query API. Every operation walks an
// ordered list of candidate endpoints and stops at the first usable answer.
type Client struct {
	cfg    config.CarrierConfig
	http   *http.Client
	tokens *TokenSource
}

func NewClient(cfg config.CarrierConfig, tokens *TokenSource, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, http: hc, tokens: tokens}
}

func (c *Client) std(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + path
}

// run tries each attempt in order. A 401 refreshes the token once and
// repeats the same attempt.
func (c *Client) run(ctx context.Context, op string, attempts []attempt, accept func(response) bool) (response, error) {
	unavailable := &domain.CarrierUnavailableError{Op: op}
	if len(attempts) == 0 {
		return response{}, unavailable
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return response{}, err
	}

	refreshed := false
	for _, a := range attempts {
		a.headers = map[string]string{"Authorization": "Bearer " + token}
		resp, err := send(ctx, c.http, c.cfg.Timeout, a)
		if err == nil && resp.status == http.StatusUnauthorized && !refreshed {
			refreshed = true
			c.tokens.Invalidate(ctx)
			if token, err = c.tokens.Token(ctx); err != nil {
				return response{}, err
			}
			a.headers = map[string]string{"Authorization": "Bearer " + token}
			resp, err = send(ctx, c.http, c.cfg.Timeout, a)
		}
		if err != nil {
			logger.Warn("carrier attempt failed", "op", op, "url", a.url, "err", err)
			unavailable.Attempts = append(unavailable.Attempts, failure(a, resp, err))
			continue
		}
		unavailable.LastBody = diag(resp.body)
		if resp.ok() && accept(resp) {
			return resp, nil
		}
		logger.Debug("carrier attempt rejected", "op", op, "url", a.url, "status", resp.status)
		unavailable.Attempts = append(unavailable.Attempts, failure(a, resp, nil))
	}
	return response{}, unavailable
}

// CreateShipment registers the order with the carrier. The request is keyed by
// the order's placeholder reference, so repeating it cannot create a second
// shipment: a duplicate answer is resolved through a status lookup.
func (c *Client) CreateShipment(ctx context.Context, o domain.Order) (Shipment, error) {
	ref := o.Delivery.ReferenceIDPlaceholder
	if ref == "" {
		ref = domain.PlaceholderReference(o.Channel, o.OrderNumber)
	}
	body := shipmentRequest(o, ref)

	var attempts []attempt
	if c.cfg.CreateURL != "" {
		attempts = append(attempts, attempt{url: c.cfg.CreateURL, body: body})
	}
	if c.cfg.BaseURL != "" {
		attempts = append(attempts,
			attempt{url: c.std("createOrder"), body: body},
			attempt{url: c.std("createRecipientAndOrder"), body: body},
		)
	}

	resp, err := c.run(ctx, "create shipment", attempts, func(r response) bool {
		return scalarAt(r.body, referencePaths...) != "" || scalarAt(r.body, trackingPaths...) != ""
	})
	if err != nil {
		if duplicate(err) {
			return c.existingShipment(ctx, ref, err)
		}
		return Shipment{}, err
	}

	s := Shipment{
		ReferenceID:    scalarAt(resp.body, referencePaths...),
		TrackingNumber: scalarAt(resp.body, trackingPaths...),
	}
	if s.ReferenceID == "" {
		s.ReferenceID = ref
	}
	if resp.isJSON() {
		s.Raw = json.RawMessage(resp.body)
	}
	return s, nil
}

func duplicate(err error) bool {
	var unavailable *domain.CarrierUnavailableError
	if !errors.As(err, &unavailable) {
		return false
	}
	for _, a := range unavailable.Attempts {
		body := strings.ToLower(a.Body)
		for _, m := range duplicateMarkers {
			if strings.Contains(body, m) {
				return true
			}
		}
	}
	return false
}

func (c *Client) existingShipment(ctx context.Context, ref string, createErr error) (Shipment, error) {
	st, err := c.QueryStatus(ctx, Query{ReferenceID: ref})
	if err != nil {
		logger.Warn("duplicate shipment lookup failed", "reference", ref, "err", err)
		return Shipment{}, createErr
	}
	logger.Info("shipment already registered at carrier", "reference", ref)
	return Shipment{ReferenceID: ref, TrackingNumber: st.TrackingNumber}, nil
}

func shipmentRequest(o domain.Order, ref string) map[string]any {
	content := make([]string, 0, len(o.Items))
	qty := 0
	for _, it := range o.Items {
		content = append(content, strings.TrimSpace(fmt.Sprintf("%s %s", it.SKU, it.Name)))
		qty += it.Qty
	}
	if qty == 0 {
		qty = 1
	}
	return map[string]any{
		"order": map[string]any{
			"referenceId":     ref,
			"barcode":         ref,
			"billOfLandingId": o.OrderNumber,
			"isCOD":           0,
			"codAmount":       0,
			"content":         strings.Join(content, ", "),
			"description":     o.Notes,
			"pieceCount":      qty,
		},
		"orderPieceList": []map[string]any{{
			"barcode": ref + "_1",
			"desi":    1,
			"kg":      1,
			"content": strings.Join(content, ", "),
		}},
		"recipient": map[string]any{
			"fullName":          o.Customer.Name,
			"email":             o.Customer.Email,
			"mobilePhoneNumber": o.Customer.Phone,
			"address":           o.Customer.Address.Line1,
			"cityName":          o.Customer.Address.City,
			"districtName":      o.Customer.Address.District,
		},
	}
}

// FetchLabel downloads the printable label for an official reference.
func (c *Client) FetchLabel(ctx context.Context, ref, format, paperSize string) (Label, error) {
	format = strings.ToUpper(strings.TrimSpace(format))
	if format == "" {
		format = "PDF"
	}
	if paperSize == "" {
		paperSize = "A6"
	}
	byBarcode := map[string]any{"barcode": ref, "labelType": format, "paperSize": paperSize}

	var attempts []attempt
	if c.cfg.LabelURL != "" {
		attempts = append(attempts, attempt{url: c.cfg.LabelURL, body: byBarcode})
	}
	if c.cfg.BaseURL != "" {
		attempts = append(attempts,
			attempt{url: c.std("getLabel"), body: byBarcode},
			attempt{url: c.std("printLabel"), body: byBarcode},
			attempt{url: c.std("getLabelByReferenceId"), body: map[string]any{"referenceId": ref, "labelType": format, "paperSize": paperSize}},
		)
	}

	resp, err := c.run(ctx, "fetch label", attempts, func(r response) bool {
		return labelPayload(r) != ""
	})
	if err != nil {
		return Label{}, err
	}

	ext, contentType := labelFormat(format)
	return Label{
		Base64:      labelPayload(resp),
		ContentType: contentType,
		FileName:    ref + ext,
	}, nil
}

// labelPayload returns the label as base64. JSON answers must carry a
// decodable base64 string; other bodies count only when they are a label
// format, so an HTML or text error page is never taken for a label.
func labelPayload(r response) string {
	if r.isJSON() {
		v := scalarAt(r.body, labelPaths...)
		if b, err := base64.StdEncoding.DecodeString(v); err != nil || len(b) == 0 {
			return ""
		}
		return v
	}
	if len(r.body) == 0 || !binaryLabel(r) {
		return ""
	}
	return base64.StdEncoding.EncodeToString(r.body)
}

func binaryLabel(r response) bool {
	ct := strings.ToLower(r.contentType)
	if ct == "" {
		ct = http.DetectContentType(r.body)
	}
	switch {
	case strings.HasPrefix(ct, "application/pdf"),
		strings.HasPrefix(ct, "application/octet-stream"),
		strings.HasPrefix(ct, "image/"),
		strings.Contains(ct, "zpl"):
		return true
	}
	// ZPL is often served as plain text
	return bytes.HasPrefix(bytes.TrimSpace(r.body), []byte("^XA"))
}

func labelFormat(format string) (ext, contentType string) {
	switch format {
	case "ZPL":
		return ".zpl", "application/x-zpl"
	case "PNG":
		return ".png", "image/png"
	default:
		return ".pdf", "application/pdf"
	}
}

// QueryStatus polls the carrier for the current tracking state. A query with
// neither a tracking number nor a reference answers UNKNOWN without a call.
func (c *Client) QueryStatus(ctx context.Context, q Query) (Status, error) {
	if q.TrackingNumber == "" && q.ReferenceID == "" {
		return Status{Code: domain.CarrierUnknown}, nil
	}

	var attempts []attempt
	if c.cfg.BaseURL != "" {
		keys := map[string]any{}
		if q.ReferenceID != "" {
			keys["referenceId"] = q.ReferenceID
		}
		if q.TrackingNumber != "" {
			keys["barcode"] = q.TrackingNumber
		}
		attempts = append(attempts, attempt{url: c.std("getShipmentStatus"), body: keys})
		if q.TrackingNumber != "" {
			attempts = append(attempts, attempt{url: c.std("trackShipment"), body: map[string]any{"barcode": q.TrackingNumber}})
		}
		if q.ReferenceID != "" {
			attempts = append(attempts, attempt{url: c.std("getOrder"), body: map[string]any{"referenceId": q.ReferenceID}})
		}
	}

	resp, err := c.run(ctx, "query status", attempts, func(r response) bool {
		_, ok := statusText(r.body)
		return ok
	})
	if err != nil {
		return Status{}, err
	}

	raw, _ := statusText(resp.body)
	st := Status{
		Code:           NormalizeStatus(raw),
		Raw:            raw,
		TrackingNumber: scalarAt(resp.body, statusTrackingPaths...),
	}
	if t, ok := parseCarrierTime(scalarAt(resp.body, deliveredAtPaths...)); ok {
		st.DeliveredAt = &t
	}
	return st, nil
}

// statusText finds the carrier's status text. Error flags never count, and a
// bare status field must not be a plain ok flag or an HTTP-like code.
func statusText(body []byte) (string, bool) {
	for _, p := range statusPaths {
		if raw := scalarAt(body, p); raw != "" && !errorMarker(raw) {
			return raw, true
		}
	}
	for _, p := range genericStatusPaths {
		if raw := scalarAt(body, p); raw != "" && !errorMarker(raw) && !apiFlag(raw) {
			return raw, true
		}
	}
	return "", false
}

func apiFlag(raw string) bool {
	s := fold(raw)
	if s != "" && strings.Trim(s, "0123456789") == "" {
		return true
	}
	return lo.Contains(flagValues, s)
}

func errorMarker(raw string) bool {
	s := fold(raw)
	for _, m := range errorMarkers {
		if s == m || strings.HasPrefix(s, m+":") || strings.HasPrefix(s, m+" -") {
			return true
		}
	}
	return false
}
