package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// field is an ordered list of candidate JSON paths. The first path holding a
// non-empty value wins.
type field []string

// str returns the first non-empty scalar under any candidate path, searching
// every scope in order.
func (f field) str(scopes ...gjson.Result) (string, bool) {
	for _, scope := range scopes {
		for _, path := range f {
			if v, ok := scalar(scope.Get(path)); ok {
				return v, true
			}
		}
	}
	return "", false
}

func (f field) strOr(def string, scopes ...gjson.Result) string {
	if v, ok := f.str(scopes...); ok {
		return v
	}
	return def
}

// money returns the first value that parses as an amount. Objects carrying
// amount or value are accepted, as storefronts wrap prices that way.
func (f field) money(scopes ...gjson.Result) (decimal.Decimal, bool) {
	for _, scope := range scopes {
		for _, path := range f {
			if d, ok := amount(scope.Get(path)); ok {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

// optionalMoney is money with "not found" kept as an invalid NullDecimal.
func (f field) optionalMoney(scopes ...gjson.Result) decimal.NullDecimal {
	if d, ok := f.money(scopes...); ok {
		return decimal.NewNullDecimal(d)
	}
	return decimal.NullDecimal{}
}

// object returns the first candidate that is a JSON object.
func (f field) object(scopes ...gjson.Result) (gjson.Result, bool) {
	for _, scope := range scopes {
		for _, path := range f {
			if v := scope.Get(path); v.IsObject() {
				return v, true
			}
		}
	}
	return gjson.Result{}, false
}

// first returns the first candidate that exists at all, whatever its type.
func (f field) first(scopes ...gjson.Result) (gjson.Result, bool) {
	for _, scope := range scopes {
		for _, path := range f {
			if v := scope.Get(path); v.Exists() && v.Type != gjson.Null {
				return v, true
			}
		}
	}
	return gjson.Result{}, false
}

// scalar renders strings and numbers. Numbers keep their literal form so that
// an order number 1001 never becomes 1001.0 or 1e3.
func scalar(v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		return s, s != ""
	case gjson.Number:
		if d, err := decimal.NewFromString(v.Raw); err == nil {
			return d.String(), true
		}
		return strings.TrimSpace(v.Raw), v.Raw != ""
	default:
		return "", false
	}
}

func amount(v gjson.Result) (decimal.Decimal, bool) {
	switch v.Type {
	case gjson.Number:
		d, err := decimal.NewFromString(v.Raw)
		return d, err == nil
	case gjson.String:
		return parseDecimal(v.Str)
	case gjson.JSON:
		if !v.IsObject() {
			return decimal.Zero, false
		}
		for _, key := range []string{"amount", "value", "price"} {
			if d, ok := amount(v.Get(key)); ok {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

// parseDecimal accepts "12.50", "12,50" and "₺ 12.50".
func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.TrimFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '-' && r != '.' && r != ','
	}))
	if s == "" {
		return decimal.Zero, false
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(s)
	return d, err == nil
}

// quantity returns the quantity as sent. Callers decide what a value below 1 means.
func quantity(v gjson.Result) int {
	var n int
	switch v.Type {
	case gjson.Number:
		n = int(v.Int())
	case gjson.String:
		parsed, err := strconv.Atoi(strings.TrimSpace(v.Str))
		if err == nil {
			n = parsed
		} else if f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64); err == nil {
			n = int(f)
		}
	}
	return n
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func timestamp(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		ms := v.Int()
		if ms <= 0 {
			return time.Time{}, false
		}
		// seconds vs milliseconds
		if ms < 1e11 {
			return time.Unix(ms, 0).UTC(), true
		}
		return time.UnixMilli(ms).UTC(), true
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	case gjson.JSON:
		// {"$date": "..."} from mongo extended JSON exports
		if d := v.Get("$date"); d.Exists() {
			return timestamp(d)
		}
	}
	return time.Time{}, false
}
