// Package export projects stored orders onto the spreadsheet column schema.
package export

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/petportre/orders-service/internal/domain"
)

// SchemaVersion changes whenever a column is added, removed, renamed or moved.
const SchemaVersion = "2025-09"

// NoData marks a cell whose value is not known yet. It is distinct from a
// placeholder reference and from an empty string.
const NoData = "–"

var Headers = []string{
	"Sipariş No",
	"Sipariş Tarihi",
	"Sipariş Kanalı",
	"Tedarikçi Adı",
	"Tedarikçi Sipariş No",
	"Tedarikçi Kargo Firması",
	"Tedarikçi Kargo Takip No",
	"Tedarikçiye Veriliş Tarihi",
	"Tedarikçiden Teslim Tarihi",
	"DHL Referans No",
	"Müşteri Adı",
	"Adres",
	"SKU",
	"Ürün",
	"Adet",
	"Birim Fiyat",
	"Ürün Toplam Fiyat",
	"Beden",
	"Cinsiyet",
	"Renk",
	"Telefon Modeli",
	"Tablo Boyutu",
	"Ödeme Yöntemi",
	"Kargo Ücreti",
	"Kargo Firması",
	"Kargo Takip No",
	"Kargoya Veriliş Tarihi",
	"Teslimat Durumu",
	"Teslimat Tarihi",
	"Sipariş Toplam Fiyat",
	"İndirim (₺)",
	"Para Birimi",
	"Notlar",
	"E-posta",
	"Telefon",
}

const (
	dateTimeLayout = "2006-01-02 15:04"
	dateLayout     = "2006-01-02"
)

type Options struct {
	Location *time.Location
	// Courier is shown when the order has no courier of its own.
	Courier string
}

type Table struct {
	Version string   `json:"version"`
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// Flatten renders one row per line item. An order without items still gets
// one row, with empty item cells.
func Flatten(orders []domain.Order, opts Options) Table {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	rows := make([][]any, 0, len(orders))
	for _, o := range orders {
		if len(o.Items) == 0 {
			rows = append(rows, row(o, nil, opts))
			continue
		}
		for i := range o.Items {
			rows = append(rows, row(o, &o.Items[i], opts))
		}
	}
	return Table{Version: SchemaVersion, Headers: Headers, Rows: rows}
}

func row(o domain.Order, it *domain.LineItem, opts Options) []any {
	d := o.Delivery
	s := o.Supplier

	var (
		sku, name       any = "", ""
		qty, unit, line any = "", "", ""
		v               domain.Variants
	)
	if it != nil {
		sku, name, qty = it.SKU, it.Name, it.Qty
		if it.UnitPrice.Valid {
			unit = money(it.UnitPrice.Decimal)
			line = money(it.LineTotal())
		}
		v = it.Variants
	}

	return []any{
		o.OrderNumber,
		timeCell(o.CreatedAt, dateTimeLayout, opts.Location),
		lo.CoalesceOrEmpty(o.Channel, domain.DefaultChannel),
		orNoData(s.Name),
		orNoData(s.OrderID),
		orNoData(s.CargoCompany),
		orNoData(s.CargoTrackingNo),
		ptrTimeCell(s.GivenAt, opts.Location),
		ptrTimeCell(s.ReceivedAt, opts.Location),
		Reference(d),
		o.Customer.Name,
		o.Customer.Address.Line1,
		sku,
		name,
		qty,
		unit,
		line,
		orNoData(v.Size),
		orNoData(v.Gender),
		orNoData(v.Color),
		orNoData(v.Model),
		orNoData(v.AltSize),
		o.Payment.Method,
		money(o.Totals.Shipping.Decimal),
		lo.CoalesceOrEmpty(d.Courier, opts.Courier),
		orNoData(d.TrackingNumber),
		ptrTimeCell(d.DispatchedAt, opts.Location),
		orNoData(lo.CoalesceOrEmpty(string(d.Status), d.FulfillmentStatus)),
		ptrTimeCell(d.DeliveredAt, opts.Location),
		money(o.Totals.GrandTotal.Decimal),
		money(o.Totals.Discount.Decimal),
		lo.CoalesceOrEmpty(o.Totals.Currency, domain.DefaultCurrency),
		o.Notes,
		o.Customer.Email,
		o.Customer.Phone,
	}
}

// Reference prefers the carrier's official reference over the placeholder.
func Reference(d domain.Delivery) string {
	if d.HasOfficialReference() {
		return d.ReferenceID
	}
	return orNoData(d.ReferenceIDPlaceholder)
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func orNoData(s string) string {
	if s == "" {
		return NoData
	}
	return s
}

func timeCell(t time.Time, layout string, loc *time.Location) string {
	if t.IsZero() {
		return NoData
	}
	return t.In(loc).Format(layout)
}

func ptrTimeCell(t *time.Time, loc *time.Location) string {
	if t == nil {
		return NoData
	}
	return timeCell(*t, dateLayout, loc)
}
