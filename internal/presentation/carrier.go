package presentation

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/petportre/orders-service/internal/application"
	"github.com/petportre/orders-service/internal/presentation/helpers"
)

type createShipmentRequest struct {
	OrderNumber string `json:"orderNumber" validate:"required_without=ID"`
	ID          string `json:"id"`
	Channel     string `json:"channel"`
}

type labelRequest struct {
	ReferenceID string `json:"referenceId" validate:"required_without=OrderNumber"`
	OrderNumber string `json:"orderNumber"`
	LabelType   string `json:"labelType" validate:"omitempty,oneof=PDF ZPL PNG pdf zpl png"`
	PaperSize   string `json:"paperSize"`
}

type trackRequest struct {
	TrackingNumber string `json:"tracking" validate:"required_without_all=ReferenceID OrderNumber"`
	ReferenceID    string `json:"ref"`
	OrderNumber    string `json:"orderNumber"`
}

// decode reads an optional JSON body and validates it.
func (h *OrdersHandler) decode(r *http.Request, v any) error {
	if err := helpers.DecodeJSON(io.LimitReader(r.Body, helpers.MaxBodySize), v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return h.validate.Struct(v)
}

func (h *OrdersHandler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := h.decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	number := strings.TrimSpace(req.OrderNumber)
	if number == "" {
		number = strings.TrimSpace(req.ID)
	}

	res, err := h.fulfillment.CreateShipment(r.Context(), application.ShipmentRequest{
		Channel:     strings.ToLower(strings.TrimSpace(req.Channel)),
		OrderNumber: number,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"orderNumber":    res.OrderNumber,
		"referenceId":    res.ReferenceID,
		"trackingNumber": res.TrackingNumber,
		"existing":       res.Existing,
	})
}

func (h *OrdersHandler) Label(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := h.decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	res, err := h.fulfillment.FetchLabel(r.Context(), application.LabelRequest{
		OrderNumber: strings.TrimSpace(req.OrderNumber),
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Format:      strings.ToUpper(req.LabelType),
		PaperSize:   req.PaperSize,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"orderNumber": res.OrderNumber,
		"referenceId": res.ReferenceID,
		"base64":      res.Base64,
		"fileName":    res.FileName,
		"contentType": res.ContentType,
		"labelRef":    res.LabelRef,
	})
}

// Track accepts the identifiers as query parameters or, for POST, as a JSON body.
func (h *OrdersHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if r.Method == http.MethodPost {
		if err := helpers.DecodeJSON(io.LimitReader(r.Body, helpers.MaxBodySize), &req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, r, err)
			return
		}
	}
	q := r.URL.Query()
	req.TrackingNumber = strings.TrimSpace(firstNonEmpty(req.TrackingNumber, q.Get("tracking"), q.Get("trackingNumber")))
	req.ReferenceID = strings.TrimSpace(firstNonEmpty(req.ReferenceID, q.Get("ref"), q.Get("referenceId")))
	req.OrderNumber = strings.TrimSpace(firstNonEmpty(req.OrderNumber, q.Get("orderNumber")))
	if err := h.validate.Struct(&req); err != nil {
		badRequest(w, r, err)
		return
	}

	res, err := h.fulfillment.Track(r.Context(), application.TrackRequest{
		TrackingNumber: req.TrackingNumber,
		ReferenceID:    req.ReferenceID,
		OrderNumber:    req.OrderNumber,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := map[string]any{
		"ok":             true,
		"status":         res.Status,
		"statusRaw":      res.StatusRaw,
		"deliveredAt":    nil,
		"trackingNumber": res.TrackingNumber,
	}
	if res.DeliveredAt != nil {
		out["deliveredAt"] = res.DeliveredAt.UTC().Format(time.RFC3339)
	}
	if res.OrderNumber != "" {
		out["orderNumber"] = res.OrderNumber
		out["state"] = res.State
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

// badRequest maps decoding and validation failures to 4xx.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) || errors.Is(err, helpers.ErrBodyTooLarge) {
		writeError(w, r, err)
		return
	}
	helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
