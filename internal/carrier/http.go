package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/petportre/orders-service/internal/domain"
)

const (
	maxResponseSize = 10 << 20
	maxDiagBody     = 512
)

// attempt is one candidate endpoint in a fallback list.
type attempt struct {
	method  string
	url     string
	body    any
	headers map[string]string
}

type response struct {
	status      int
	contentType string
	body        []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r response) isJSON() bool {
	if strings.Contains(r.contentType, "json") {
		return true
	}
	trimmed := bytes.TrimSpace(r.body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && gjson.ValidBytes(trimmed)
}

// send runs a single attempt under its own timeout.
func send(ctx context.Context, hc *http.Client, timeout time.Duration, a attempt) (response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if a.body != nil {
		b, err := json.Marshal(a.body)
		if err != nil {
			return response{}, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	method := a.method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, a.url, body)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	return response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        b,
	}, nil
}

func failure(a attempt, resp response, err error) domain.AttemptFailure {
	method := a.method
	if method == "" {
		method = http.MethodPost
	}
	f := domain.AttemptFailure{Endpoint: method + " " + a.url, Status: resp.status, Body: diag(resp.body)}
	if err != nil {
		f.Err = err.Error()
	}
	return f
}

// diag trims a body for error reports without splitting a UTF-8 sequence.
func diag(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxDiagBody {
		return s
	}
	cut := maxDiagBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// scalarAt returns the first scalar found under paths.
func scalarAt(body []byte, paths ...string) string {
	for _, p := range paths {
		r := gjson.GetBytes(body, p)
		if !r.Exists() || r.IsObject() || r.IsArray() {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}
	return ""
}

// under expands names to the root, first-array-element and data.* positions.
func under(names ...string) []string {
	out := make([]string, 0, len(names)*3)
	for _, prefix := range []string{"", "0.", "data."} {
		for _, n := range names {
			out = append(out, prefix+n)
		}
	}
	return out
}
