package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petportre/orders-service/internal/domain"
)

var fixedNow = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestNormalize_EnvelopeWithTopLevelCustomer(t *testing.T) {
	payload := []byte(`{
		"order": {"number": "1001"},
		"customer": {"name": "A B", "email": "a@b.com"},
		"items": [{"sku": "X1", "qty": 2, "unitPrice": 50}]
	}`)

	o, err := Normalize(payload, WithClock(clock))
	require.NoError(t, err)

	assert.Equal(t, "1001", o.OrderNumber)
	assert.Equal(t, domain.DefaultChannel, o.Channel)
	assert.Equal(t, "A B", o.Customer.Name)
	assert.Equal(t, "a@b.com", o.Customer.Email)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "X1", o.Items[0].SKU)
	assert.Equal(t, 2, o.Items[0].Qty)
	assert.True(t, o.Items[0].UnitPrice.Valid)
	assert.True(t, o.Items[0].UnitPrice.Decimal.Equal(decimal.NewFromInt(50)))
	assert.False(t, o.Totals.GrandTotal.Valid)
	assert.Equal(t, fixedNow, o.CreatedAt)
	assert.JSONEq(t, string(payload), string(o.Raw))
}

func TestNormalize_MissingOrderNumber(t *testing.T) {
	for name, payload := range map[string]string{
		"empty object":   `{}`,
		"empty envelope": `{"order": {"customer": {"name": "x"}}}`,
		"blank number":   `{"number": "   "}`,
		"invalid json":   `{"number": `,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize([]byte(payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMissingIdentifier))
			var ne *domain.NormalizationError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "orderNumber", ne.Field)
		})
	}
}

func TestNormalize_NumericOrderNumber(t *testing.T) {
	o, err := Normalize([]byte(`{"data": {"orderNumber": 10030}}`))
	require.NoError(t, err)
	assert.Equal(t, "10030", o.OrderNumber)
}

func TestNormalize_PlainAddressString(t *testing.T) {
	o, err := Normalize([]byte(`{"number": "7", "customer": {"name": "A"}, "address": "Moda Cd. 5, Kadıköy"}`))
	require.NoError(t, err)
	assert.Equal(t, "Moda Cd. 5, Kadıköy", o.Customer.Address.Line1)
}

func TestNormalize_EnvelopePrecedence(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "order beats data", payload: `{"order": {"number": "1"}, "data": {"order": {"number": "2"}}}`, want: "1"},
		{name: "order beats top level", payload: `{"number": "9", "order": {"number": "1"}}`, want: "1"},
		{name: "nested order beats the data block itself", payload: `{"data": {"id": "evt-7", "order": {"number": "2"}}}`, want: "2"},
		{name: "data beats payload", payload: `{"payload": {"number": "3"}, "data": {"number": "4"}}`, want: "4"},
		{name: "top level last", payload: `{"number": "5", "data": {"note": "x"}}`, want: "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := Normalize([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, o.OrderNumber)
		})
	}
}

func TestNormalize_ExplicitZeroAmounts(t *testing.T) {
	o, err := Normalize([]byte(`{"number": "6", "totals": {"total": 120, "shipping": 0}}`))
	require.NoError(t, err)

	assert.True(t, o.Totals.GrandTotal.Valid)
	assert.Equal(t, "120", o.Totals.GrandTotal.Decimal.String())
	assert.True(t, o.Totals.Shipping.Valid)
	assert.True(t, o.Totals.Shipping.Decimal.IsZero())
	assert.False(t, o.Totals.Discount.Valid)
}

func TestNormalize_ArrayWrappedEnvelope(t *testing.T) {
	o, err := Normalize([]byte(`[{"order": [{"id": "77", "buyer": {"fullName": "Ayşe Yılmaz"}}]}]`))
	require.NoError(t, err)
	assert.Equal(t, "77", o.OrderNumber)
	assert.Equal(t, "Ayşe Yılmaz", o.Customer.Name)
}

func TestNormalize_WixShape(t *testing.T) {
	payload := []byte(`{
		"data": {
			"number": "10042",
			"createdDate": "2025-09-01T09:30:00.000Z",
			"currency": "try",
			"buyerInfo": {"email": "veli@example.com"},
			"billingInfo": {"contactDetails": {"firstName": "Veli", "lastName": "Demir", "phone": "+905551112233"}},
			"shippingInfo": {
				"logistics": {
					"shippingDestination": {
						"address": {
							"addressLine": "Bağdat Cd. 12",
							"addressLine2": "D:4",
							"city": "İstanbul",
							"subdivision": "Kadıköy",
							"postalCode": "34710",
							"country": "TR"
						}
					}
				}
			},
			"priceSummary": {
				"total": {"amount": "1249.90"},
				"shipping": {"amount": "49.90"},
				"discount": {"amount": "100"}
			},
			"lineItems": [{
				"productName": {"original": "Pet Portre Tablo"},
				"physicalProperties": {"sku": "PP-CANVAS"},
				"quantity": 1,
				"price": {"amount": "1300.00"},
				"descriptionLines": [
					{"name": {"original": "Tablo Boyutu"}, "plainText": {"original": "50x70"}},
					{"name": {"original": "Çerçeve"}, "plainText": {"original": "Siyah"}}
				]
			}],
			"paymentStatus": "PAID",
			"fulfillmentStatus": "NOT_FULFILLED",
			"buyerNote": "Kapıya bırakın"
		}
	}`)

	o, err := Normalize(payload)
	require.NoError(t, err)

	assert.Equal(t, "10042", o.OrderNumber)
	assert.Equal(t, time.Date(2025, 9, 1, 9, 30, 0, 0, time.UTC), o.CreatedAt)
	assert.Equal(t, "TRY", o.Totals.Currency)
	assert.Equal(t, "Veli Demir", o.Customer.Name)
	assert.Equal(t, "veli@example.com", o.Customer.Email)
	assert.Equal(t, "+905551112233", o.Customer.Phone)
	assert.Equal(t, "Bağdat Cd. 12 D:4, İstanbul, Kadıköy, 34710, TR", o.Customer.Address.Line1)
	assert.Equal(t, "Kadıköy", o.Customer.Address.District)
	assert.Equal(t, "1249.9", o.Totals.GrandTotal.Decimal.String())
	assert.Equal(t, "49.9", o.Totals.Shipping.Decimal.String())
	assert.Equal(t, "100", o.Totals.Discount.Decimal.String())
	assert.Equal(t, "PAID", o.Payment.Status)
	assert.Equal(t, "NOT_FULFILLED", o.Delivery.FulfillmentStatus)
	assert.Equal(t, "Kapıya bırakın", o.Notes)

	require.Len(t, o.Items, 1)
	li := o.Items[0]
	assert.Equal(t, "PP-CANVAS", li.SKU)
	assert.Equal(t, "Pet Portre Tablo", li.Name)
	assert.Equal(t, "1300", li.UnitPrice.Decimal.String())
	assert.Equal(t, "50x70", li.Variants.AltSize)
	assert.Equal(t, map[string]string{"Çerçeve": "Siyah"}, li.Variants.Extra)
}

func TestNormalize_AddressComposedWithoutStraySeparators(t *testing.T) {
	o, err := Normalize([]byte(`{"number": "1", "shippingAddress": {"addressLine": "Moda Cd. 3", "city": "", "country": "TR"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Moda Cd. 3, TR", o.Customer.Address.Line1)
}

func TestNormalize_PreformattedAddressWins(t *testing.T) {
	o, err := Normalize([]byte(`{
		"number": "1",
		"formattedAddress": "Moda Cd. 3, Kadıköy/İstanbul",
		"shippingAddress": {"addressLine": "ignored", "city": "İstanbul"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Moda Cd. 3, Kadıköy/İstanbul", o.Customer.Address.Line1)
	assert.Equal(t, "İstanbul", o.Customer.Address.City)
}

func TestNormalize_ItemDefaults(t *testing.T) {
	o, err := Normalize([]byte(`{
		"number": "5",
		"lineItems": [
			{"sku": "A", "quantity": "3", "totalPrice": "90"},
			{"sku": "B", "quantity": 0},
			{"sku": "C", "qty": "2", "price": {"value": 12.5}},
			{"sku": "D", "quantity": 0, "totalPrice": 100},
			{"sku": "E", "totalPrice": "40"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, o.Items, 5)

	assert.Equal(t, 3, o.Items[0].Qty)
	assert.Equal(t, "30", o.Items[0].UnitPrice.Decimal.String())

	assert.Equal(t, 1, o.Items[1].Qty)
	assert.False(t, o.Items[1].UnitPrice.Valid)

	assert.Equal(t, 2, o.Items[2].Qty)
	assert.Equal(t, "12.5", o.Items[2].UnitPrice.Decimal.String())

	// a zero quantity never yields a unit price, even with a line total
	assert.Equal(t, 1, o.Items[3].Qty)
	assert.False(t, o.Items[3].UnitPrice.Valid)

	assert.Equal(t, 1, o.Items[4].Qty)
	assert.Equal(t, "40", o.Items[4].UnitPrice.Decimal.String())
}

func TestNormalize_SingleItemObject(t *testing.T) {
	o, err := Normalize([]byte(`{"number": "9", "items": {"sku": "ONLY", "qty": 1}}`))
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "ONLY", o.Items[0].SKU)
}

func TestNormalize_WithChannel(t *testing.T) {
	o, err := Normalize([]byte(`{"number": "9", "channel": "wix"}`), WithChannel("Trendyol"))
	require.NoError(t, err)
	assert.Equal(t, "trendyol", o.Channel)
}

func TestAssignOptions(t *testing.T) {
	tests := []struct {
		name string
		opts string
		want domain.Variants
	}{
		{
			name: "object keys",
			opts: `{"tshirtSize": "L", "gender": "Kadın", "color": "Beyaz", "phoneModel": "iPhone 15", "portraitSize": "30x40"}`,
			want: domain.Variants{Size: "L", Gender: "Kadın", Color: "Beyaz", Model: "iPhone 15", AltSize: "30x40"},
		},
		{
			name: "turkish labels in upper case",
			opts: `[{"name": "BEDEN", "value": "M"}, {"name": "CİNSİYET", "value": "Erkek"}, {"name": "RENK", "value": "Siyah"}, {"name": "TELEFON MODELİ", "value": "S24"}]`,
			want: domain.Variants{Size: "M", Gender: "Erkek", Color: "Siyah", Model: "S24"},
		},
		{
			name: "canvas size goes to alt size not size",
			opts: `[{"title": "Canvas Size", "description": "40x60"}]`,
			want: domain.Variants{AltSize: "40x60"},
		},
		{
			name: "second match for a filled slot is kept as extra",
			opts: `[{"label": "Size", "value": "S"}, {"label": "Beden 2", "value": "XL"}]`,
			want: domain.Variants{Size: "S", Extra: map[string]string{"Beden 2": "XL"}},
		},
		{
			name: "empty values are dropped",
			opts: `[{"name": "Renk", "value": ""}, {"name": "", "value": "x"}]`,
			want: domain.Variants{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v domain.Variants
			o, err := Normalize([]byte(`{"number": "1", "items": [{"sku": "S", "options": ` + tt.opts + `}]}`))
			require.NoError(t, err)
			require.Len(t, o.Items, 1)
			v = o.Items[0].Variants
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestParseDecimal(t *testing.T) {
	for in, want := range map[string]string{
		"12.50":    "12.5",
		"12,50":    "12.5",
		"₺ 1250":   "1250",
		"1,250.75": "1250.75",
	} {
		d, ok := parseDecimal(in)
		require.True(t, ok, in)
		assert.Equal(t, want, d.String(), in)
	}
	_, ok := parseDecimal("n/a")
	assert.False(t, ok)
}
