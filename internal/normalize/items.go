package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/petportre/orders-service/internal/domain"
)

var (
	itemsField     = field{"lineItems", "items", "line_items"}
	skuField       = field{"sku", "physicalProperties.sku", "catalogReference.catalogItemId", "code", "id"}
	itemNameField  = field{"name", "productName.original", "productName", "title"}
	qtyField       = field{"quantity", "qty"}
	unitPriceField = field{"priceData.price", "price", "unitPrice", "itemPrice"}
	lineTotalField = field{"totalPrice", "totalPriceAfterTax", "totalPriceBeforeTax", "lineTotal"}
	optionsField   = field{"options", "variants", "modifiers", "descriptionLines", "productOptions"}

	optionLabelField = field{"name.original", "name", "title", "label", "option", "key"}
	optionValueField = field{"plainText.original", "colorInfo.original", "value", "text", "description", "optionValue", "selection", "color"}
)

func items(scopes []gjson.Result) []domain.LineItem {
	list, ok := itemsField.first(scopes...)
	if !ok {
		return []domain.LineItem{}
	}
	var raw []gjson.Result
	switch {
	case list.IsArray():
		raw = list.Array()
	case list.IsObject():
		raw = []gjson.Result{list}
	}

	out := make([]domain.LineItem, 0, len(raw))
	for _, li := range raw {
		if !li.IsObject() {
			continue
		}
		out = append(out, item(li))
	}
	return out
}

func item(li gjson.Result) domain.LineItem {
	it := domain.LineItem{
		SKU:  skuField.strOr("", li),
		Name: itemNameField.strOr("", li),
	}
	// a line without a quantity is a single piece
	qty := 1
	if v, ok := qtyField.first(li); ok {
		qty = quantity(v)
	}
	if p, ok := unitPriceField.money(li); ok && !p.IsNegative() {
		it.UnitPrice = decimal.NewNullDecimal(p)
	} else if total, ok := lineTotalField.money(li); ok && !total.IsNegative() && qty > 0 {
		it.UnitPrice = decimal.NewNullDecimal(total.Div(decimal.NewFromInt(int64(qty))).Round(2))
	}
	it.Qty = max(qty, 1)
	for _, path := range optionsField {
		assignOptions(&it.Variants, li.Get(path))
	}
	return it
}

// option label keywords per slot, checked in this order
var slots = []struct {
	keywords []string
	set      func(v *domain.Variants) *string
}{
	{[]string{"tablo", "canvas", "portrait", "portre", "boyut"}, func(v *domain.Variants) *string { return &v.AltSize }},
	{[]string{"beden", "size", "tshirt"}, func(v *domain.Variants) *string { return &v.Size }},
	{[]string{"cinsiyet", "gender"}, func(v *domain.Variants) *string { return &v.Gender }},
	{[]string{"renk", "color", "colour"}, func(v *domain.Variants) *string { return &v.Color }},
	{[]string{"telefon", "phone", "model", "material", "malzeme"}, func(v *domain.Variants) *string { return &v.Model }},
}

// foldLabel returns the comparable forms of a label. Turkish lowering handles
// "CİNSİYET"; plain folding handles "SIZE", which Turkish rules would turn into "sıze".
// Casers are stateful, so each call gets its own.
func foldLabel(label string) []string {
	return []string{
		strings.ReplaceAll(cases.Fold().String(label), "\u0307", ""),
		cases.Lower(language.Turkish).String(label),
	}
}

func matchSlot(label string) int {
	forms := foldLabel(label)
	for i, slot := range slots {
		for _, kw := range slot.keywords {
			for _, f := range forms {
				if strings.Contains(f, kw) {
					return i
				}
			}
		}
	}
	return -1
}

func assignOption(v *domain.Variants, label, value string) {
	label = strings.TrimSpace(label)
	value = strings.TrimSpace(value)
	if label == "" || value == "" {
		return
	}
	if i := matchSlot(label); i >= 0 {
		if dst := slots[i].set(v); *dst == "" {
			*dst = value
			return
		}
	}
	if v.Extra == nil {
		v.Extra = map[string]string{}
	}
	if _, exists := v.Extra[label]; !exists {
		v.Extra[label] = value
	}
}

func assignOptions(v *domain.Variants, opts gjson.Result) {
	switch {
	case opts.IsArray():
		for _, o := range opts.Array() {
			if !o.IsObject() {
				continue
			}
			label, _ := optionLabelField.str(o)
			value, _ := optionValueField.str(o)
			assignOption(v, label, value)
		}
	case opts.IsObject():
		opts.ForEach(func(key, val gjson.Result) bool {
			value, ok := scalar(val)
			if !ok && val.IsObject() {
				value, _ = optionValueField.str(val)
			}
			assignOption(v, key.String(), value)
			return true
		})
	}
}
