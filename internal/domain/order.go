package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultChannel is used when the payload does not say where the order came from.
const DefaultChannel = "wix"

// DefaultCurrency is the fallback for orders that arrive without a currency.
const DefaultCurrency = "TRY"

func init() {
	// money travels as plain JSON numbers, both in the store and in the export
	decimal.MarshalJSONWithoutQuotes = true
}

// OrderKey identifies a canonical order. Order numbers are only unique per channel.
type OrderKey struct {
	Channel     string
	OrderNumber string
}

func (k OrderKey) String() string {
	return k.Channel + ":" + k.OrderNumber
}

type Order struct {
	OrderNumber        string          `json:"orderNumber"`
	Channel            string          `json:"channel"`
	CreatedAt          time.Time       `json:"createdAt"`
	CreatedByWebhookAt time.Time       `json:"_createdByWebhookAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	Customer           Customer        `json:"customer"`
	Items              []LineItem      `json:"items"`
	Totals             Totals          `json:"totals"`
	Payment            Payment         `json:"payment"`
	Delivery           Delivery        `json:"delivery"`
	Supplier           Supplier        `json:"supplier"`
	Notes              string          `json:"notes"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

func (o *Order) Key() OrderKey {
	return OrderKey{Channel: o.Channel, OrderNumber: o.OrderNumber}
}

// ApplyDefaults fills the values a freshly inserted record must carry.
func (o *Order) ApplyDefaults(now time.Time) {
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.CreatedByWebhookAt.IsZero() {
		o.CreatedByWebhookAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	if o.Totals.Currency == "" {
		o.Totals.Currency = DefaultCurrency
	}
	for _, amount := range []*decimal.NullDecimal{&o.Totals.GrandTotal, &o.Totals.Shipping, &o.Totals.Discount} {
		if !amount.Valid {
			*amount = decimal.NewNullDecimal(decimal.Zero)
		}
	}
	if o.Items == nil {
		o.Items = []LineItem{}
	}
	if o.Delivery.ReferenceIDPlaceholder == "" {
		o.Delivery.ReferenceIDPlaceholder = PlaceholderReference(o.Channel, o.OrderNumber)
	}
	if o.Delivery.State == "" || o.Delivery.State == StateNew {
		o.Delivery.State = StateReferencePlaceholder
	}
}

type Customer struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Address Address `json:"address"`
}

// Address keeps the single formatted line used by the back office next to the parts it was built from.
type Address struct {
	Line1    string `json:"line1"`
	City     string `json:"city"`
	District string `json:"district"`
	Postcode string `json:"postcode"`
	Country  string `json:"country"`
}

type LineItem struct {
	SKU       string              `json:"sku"`
	Name      string              `json:"name"`
	Qty       int                 `json:"qty"`
	UnitPrice decimal.NullDecimal `json:"unitPrice"`
	Variants  Variants            `json:"variants"`
}

// LineTotal is qty * unit price, zero when the unit price is unknown.
func (li LineItem) LineTotal() decimal.Decimal {
	if !li.UnitPrice.Valid {
		return decimal.Zero
	}
	return li.UnitPrice.Decimal.Mul(decimal.NewFromInt(int64(li.Qty)))
}

// Variants holds the semantic option slots the back office has columns for.
// Options that match no slot are kept verbatim in Extra.
type Variants struct {
	Size    string            `json:"size"`
	Gender  string            `json:"gender"`
	Color   string            `json:"color"`
	Model   string            `json:"model"`
	AltSize string            `json:"altSize"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Totals keeps "not sent" (invalid) apart from an explicit zero, so that a
// later payload can still set an amount back to 0.
type Totals struct {
	GrandTotal decimal.NullDecimal `json:"grandTotal"`
	Shipping   decimal.NullDecimal `json:"shipping"`
	Discount   decimal.NullDecimal `json:"discount"`
	Currency   string              `json:"currency"`
}

type Payment struct {
	Method string `json:"method"`
	Status string `json:"status"`
}

// Supplier is edited by hand in the back office. Ingestion never writes it.
type Supplier struct {
	Name            string     `json:"name,omitempty"`
	OrderID         string     `json:"orderId,omitempty"`
	CargoCompany    string     `json:"cargoCompany,omitempty"`
	CargoTrackingNo string     `json:"cargoTrackingNo,omitempty"`
	GivenAt         *time.Time `json:"givenAt,omitempty"`
	ReceivedAt      *time.Time `json:"receivedAt,omitempty"`
}

// PlaceholderReference is the locally synthesised carrier reference, e.g. WIX1001.
func PlaceholderReference(channel, orderNumber string) string {
	if channel == "" {
		channel = DefaultChannel
	}
	return strings.ToUpper(channel) + orderNumber
}
