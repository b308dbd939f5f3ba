package application

import (
	"context"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/petportre/orders-service/internal/domain"
)

// Public lookup states.
const (
	TrackingLive     = "live"
	TrackingPending  = "pending"
	TrackingNotFound = "not_found"
)

type PublicTracking struct {
	State string `json:"state"`
	URL   string `json:"url,omitempty"`
}

// TrackingLookup answers customer tracking questions. It only ever reveals a
// state and a carrier URL.
type TrackingLookup struct {
	orders     *OrdersService
	publicBase string
}

func NewTrackingLookup(orders *OrdersService, publicBase string) *TrackingLookup {
	return &TrackingLookup{orders: orders, publicBase: publicBase}
}

// Lookup matches the order number exactly and the email canonically, both on
// the same order. When channels share a number the newest matching order wins.
// A wrong email looks the same as a missing order.
func (t *TrackingLookup) Lookup(ctx context.Context, orderNumber, email string) (PublicTracking, error) {
	want := CanonicalEmail(email)
	if want == "" {
		return PublicTracking{State: TrackingNotFound}, nil
	}
	orders, err := t.orders.FindAll(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		return PublicTracking{}, err
	}
	o, ok := lo.Find(orders, func(o domain.Order) bool { return CanonicalEmail(o.Customer.Email) == want })
	if !ok {
		return PublicTracking{State: TrackingNotFound}, nil
	}
	if u := t.publicURL(o.Delivery); u != "" {
		return PublicTracking{State: TrackingLive, URL: u}, nil
	}
	return PublicTracking{State: TrackingPending}, nil
}

func (t *TrackingLookup) publicURL(d domain.Delivery) string {
	direct := strings.TrimSpace(d.PublicURL)
	lower := strings.ToLower(direct)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return direct
	}
	if tn := strings.TrimSpace(d.TrackingNumber); tn != "" {
		return t.publicBase + url.QueryEscape(tn)
	}
	return ""
}

// CanonicalEmail lower-cases an address; for Gmail it also drops dots and
// +tags from the local part and folds googlemail.com into gmail.com.
func CanonicalEmail(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	at := strings.LastIndex(e, "@")
	if at < 0 {
		return e
	}
	local, host := e[:at], e[at+1:]
	if host == "googlemail.com" {
		host = "gmail.com"
	}
	if host == "gmail.com" {
		local, _, _ = strings.Cut(local, "+")
		local = strings.ReplaceAll(local, ".", "")
	}
	return local + "@" + host
}
