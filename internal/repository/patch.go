package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/petportre/orders-service/internal/domain"
)

// Fields owned by the store or by the back office. Ingestion never patches them.
var patchExcluded = []string{
	"createdAt",
	"_createdByWebhookAt",
	"updatedAt",
	"supplier",
	"delivery.state",
	"delivery.referenceIdPlaceholder",
}

// Values replaced wholesale instead of merged key by key.
var atomicPaths = map[string]bool{
	"items": true,
	"raw":   true,
}

func isAtomic(path string) bool {
	return atomicPaths[path]
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// toMap round-trips v through JSON. Numbers stay json.Number so that
// comparisons are exact.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*domain.Order, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var o domain.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func checkKey(o *domain.Order) error {
	if strings.TrimSpace(o.OrderNumber) == "" {
		return &domain.NormalizationError{Field: "orderNumber"}
	}
	return nil
}

// insertDoc is the full document written the first time an order is seen.
func insertDoc(o *domain.Order, now time.Time) (map[string]any, error) {
	doc := *o
	doc.Supplier = domain.Supplier{}
	doc.CreatedByWebhookAt = now
	doc.UpdatedAt = now
	doc.Delivery.State = ""
	doc.ApplyDefaults(now)
	return toMap(&doc)
}

// buildPatch returns the fields of o that may overwrite a stored record:
// everything except store-owned fields, with empty values pruned so they
// never erase what is already there.
func buildPatch(o *domain.Order) (map[string]any, error) {
	m, err := toMap(o)
	if err != nil {
		return nil, err
	}
	for _, path := range patchExcluded {
		deletePath(m, path)
	}
	pruned, ok := prune("", m)
	if !ok {
		return map[string]any{}, nil
	}
	return pruned.(map[string]any), nil
}

func deletePath(m map[string]any, path string) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, parts[len(parts)-1])
}

// prune drops empty strings, nulls and empty containers. Numbers are always
// kept: an amount the payload did not carry is already null here.
func prune(path string, v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return t, strings.TrimSpace(t) != ""
	case json.Number:
		return t, true
	case []any:
		return t, len(t) > 0
	case map[string]any:
		if isAtomic(path) {
			return t, len(t) > 0
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			if pv, ok := prune(joinPath(path, k), child); ok {
				out[k] = pv
			}
		}
		return out, len(out) > 0
	default:
		return t, true
	}
}

// deepMerge applies patch onto dst in place and reports whether dst changed.
func deepMerge(dst, patch map[string]any, prefix string) bool {
	changed := false
	for k, pv := range patch {
		path := joinPath(prefix, k)
		if pm, ok := pv.(map[string]any); ok && !isAtomic(path) {
			if dm, ok := dst[k].(map[string]any); ok {
				if deepMerge(dm, pm, path) {
					changed = true
				}
				continue
			}
		}
		if cur, ok := dst[k]; !ok || !reflect.DeepEqual(cur, pv) {
			dst[k] = pv
			changed = true
		}
	}
	return changed
}

// flatten turns nested objects into dotted leaf paths. Atomic values and
// empty objects are leaves.
func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := joinPath(prefix, k)
		if vm, ok := v.(map[string]any); ok && len(vm) > 0 && !isAtomic(path) {
			flatten(path, vm, out)
			continue
		}
		out[path] = v
	}
}

// conflicts reports whether two dotted paths address overlapping fields.
func conflicts(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

func storeErr(op string, err error) error {
	return &domain.StoreError{Op: op, Err: err}
}

func encodeErr(op string, err error) error {
	return storeErr(op, fmt.Errorf("encode document: %w", err))
}
