// Package normalize turns loosely shaped storefront order payloads into the
// canonical domain.Order.
package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/petportre/orders-service/internal/domain"
)

type options struct {
	channel string
	now     func() time.Time
}

type Option func(*options)

// WithChannel forces the channel instead of reading it from the payload.
func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.ToLower(strings.TrimSpace(channel))
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Envelopes a storefront may wrap the order in, in precedence order. The
// nested forms belong to their outer envelope and are tried right after order.
var envelopes = []string{"order", "data.order", "payload.order", "data", "payload", "entity"}

var (
	orderNumberField = field{"number", "orderNumber", "order_number", "id", "_id"}
	channelField     = field{"channel", "source.channel"}
	createdAtField   = field{"createdDate", "createdAt", "dateCreated", "_createdDate", "created_at"}
	notesField       = field{"buyerNote", "notes", "note"}

	grandTotalField = field{"priceSummary.total", "totals.total", "totalPrice", "orderTotal", "total"}
	shippingField   = field{"priceSummary.shipping", "totals.shipping", "shippingInfo.price", "shippingInfo.cost", "shippingPrice"}
	discountField   = field{"priceSummary.discount", "totals.discount", "discount"}
	currencyField   = field{"currency", "totals.currency", "priceSummary.total.currency", "currencyCode"}

	paymentMethodField = field{"paymentMethod", "paymentInfo.method", "paymentDetails.method", "payments.0.method", "paymentMethodType"}
	paymentStatusField = field{"paymentStatus", "financialStatus", "paymentInfo.status"}

	courierField           = field{"shippingInfo.carrier", "shippingInfo.carrierName"}
	trackingField          = field{"shippingInfo.trackingNumber", "trackingInfo.number", "fulfillments.0.trackingInfo.trackingNumber"}
	fulfillmentStatusField = field{"fulfillmentStatus", "delivery.status"}
)

// Normalize maps a storefront payload onto domain.Order. Only a missing order
// number is fatal; every other field degrades to its zero value, except
// amounts, which stay invalid when the payload does not carry them.
func Normalize(raw []byte, opts ...Option) (domain.Order, error) {
	cfg := options{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !gjson.ValidBytes(raw) {
		return domain.Order{}, &domain.NormalizationError{Field: "orderNumber"}
	}
	root := unwrap(gjson.ParseBytes(raw))
	env, number, ok := locate(root)
	if !ok {
		return domain.Order{}, &domain.NormalizationError{Field: "orderNumber"}
	}

	// the order block wins; the root is searched for what the envelope lacks
	scopes := []gjson.Result{env}
	if env.Raw != root.Raw {
		scopes = append(scopes, root)
	}

	o := domain.Order{
		OrderNumber: number,
		Channel:     cfg.channel,
		Customer:    customer(scopes),
		Items:       items(scopes),
		Notes:       notesField.strOr("", scopes...),
		Raw:         json.RawMessage(append([]byte(nil), raw...)),
	}
	if o.Channel == "" {
		o.Channel = strings.ToLower(channelField.strOr(domain.DefaultChannel, scopes...))
	}

	o.CreatedAt = cfg.now().UTC()
	if v, ok := createdAtField.first(scopes...); ok {
		if t, ok := timestamp(v); ok {
			o.CreatedAt = t
		}
	}

	o.Totals.GrandTotal = grandTotalField.optionalMoney(scopes...)
	o.Totals.Shipping = shippingField.optionalMoney(scopes...)
	o.Totals.Discount = discountField.optionalMoney(scopes...)
	o.Totals.Currency = strings.ToUpper(currencyField.strOr("", scopes...))

	o.Payment.Method = paymentMethodField.strOr("", scopes...)
	o.Payment.Status = paymentStatusField.strOr("", scopes...)

	o.Delivery.Courier = courierField.strOr("", scopes...)
	o.Delivery.TrackingNumber = trackingField.strOr("", scopes...)
	o.Delivery.FulfillmentStatus = fulfillmentStatusField.strOr("", scopes...)

	return o, nil
}

// unwrap turns [ {...} ] into {...}.
func unwrap(v gjson.Result) gjson.Result {
	if v.IsArray() {
		return v.Get("0")
	}
	return v
}

// locate picks the first envelope that carries an order number, falling back
// to the payload root.
func locate(root gjson.Result) (gjson.Result, string, bool) {
	for _, name := range envelopes {
		env := unwrap(root.Get(name))
		if !env.IsObject() {
			continue
		}
		if number, ok := orderNumberField.str(env); ok {
			return env, number, true
		}
	}
	if number, ok := orderNumberField.str(root); ok {
		return root, number, true
	}
	return gjson.Result{}, "", false
}

var (
	fullNameField = field{
		"buyer.fullName", "buyer.name", "customer.fullName", "customer.name",
		"contact.fullName", "contact.name", "customerName",
		"shippingInfo.recipient.name", "recipient.name",
	}
	// first/last name pairs, tried when no full name is present
	namePairs = [][2]string{
		{"customer.name.first", "customer.name.last"},
		{"customer.firstName", "customer.lastName"},
		{"contact.name.first", "contact.name.last"},
		{"buyerInfo.firstName", "buyerInfo.lastName"},
		{"billingInfo.contactDetails.firstName", "billingInfo.contactDetails.lastName"},
		{"shippingInfo.logistics.shippingDestination.contactDetails.firstName", "shippingInfo.logistics.shippingDestination.contactDetails.lastName"},
	}
	emailField = field{
		"buyer.email", "customer.email", "contact.email", "buyerEmail", "buyerInfo.email",
		"billingInfo.contactDetails.email", "email",
	}
	phoneField = field{
		"buyer.phone", "customer.phone", "shippingInfo.recipient.phone", "shippingInfo.phone",
		"shippingInfo.destination.contactDetails.phone",
		"shippingInfo.logistics.shippingDestination.contactDetails.phone",
		"billingInfo.contactDetails.phone", "contact.phone", "phone",
	}
	addressField = field{
		"shippingInfo.shippingAddress", "shippingInfo.logistics.shippingDestination.address",
		"shippingInfo.logistics.address", "shippingInfo.destination.address", "shippingInfo.address",
		"shippingAddress", "customer.address", "billingInfo.address", "address",
	}
	formattedField = field{"formattedAddress", "formattedAddressLine", "formatted", "address.formatted"}
	lineField      = field{"addressLine", "addressLine1", "line1", "streetAddress.formattedAddressLine", "street"}
	line2Field     = field{"addressLine2", "line2"}
	cityField      = field{"city", "town"}
	districtField  = field{"subdivision", "district", "subdivisionFullname", "region", "state"}
	postcodeField  = field{"postalCode", "postcode", "zipCode", "zip"}
	countryField   = field{"country", "countryFullname", "countryCode"}
)

func customer(scopes []gjson.Result) domain.Customer {
	c := domain.Customer{
		Email: emailField.strOr("", scopes...),
		Phone: phoneField.strOr("", scopes...),
	}
	if name, ok := fullNameField.str(scopes...); ok {
		c.Name = name
	} else {
	pairs:
		for _, scope := range scopes {
			for _, p := range namePairs {
				first, _ := field{p[0]}.str(scope)
				last, _ := field{p[1]}.str(scope)
				if name := joinNonEmpty(" ", first, last); name != "" {
					c.Name = name
					break pairs
				}
			}
		}
	}

	// a formatted line at order level beats anything composed
	formatted, hasFormatted := formattedField.str(scopes...)

	if addr, ok := addressField.object(scopes...); ok {
		c.Address = domain.Address{
			City:     cityField.strOr("", addr),
			District: districtField.strOr("", addr),
			Postcode: postcodeField.strOr("", addr),
			Country:  countryField.strOr("", addr),
		}
		street := lineField.strOr("", addr)
		if street == "" {
			name, _ := field{"streetAddress.name"}.str(addr)
			number, _ := field{"streetAddress.number"}.str(addr)
			street = joinNonEmpty(" ", name, number)
		}
		line2 := line2Field.strOr("", addr)

		switch {
		case hasFormatted:
			c.Address.Line1 = formatted
		default:
			if f, ok := formattedField.str(addr); ok {
				c.Address.Line1 = f
			} else {
				c.Address.Line1 = joinNonEmpty(", ",
					joinNonEmpty(" ", street, line2),
					c.Address.City, c.Address.District, c.Address.Postcode, c.Address.Country)
			}
		}
	} else if hasFormatted {
		c.Address.Line1 = formatted
	} else if s, ok := (field{"address"}).str(scopes...); ok {
		c.Address.Line1 = s
	}
	return c
}

func joinNonEmpty(sep string, parts ...string) string {
	return strings.Join(lo.Compact(lo.Map(parts, func(p string, _ int) string {
		return strings.TrimSpace(p)
	})), sep)
}
