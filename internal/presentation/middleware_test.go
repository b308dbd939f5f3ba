package presentation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name    string
		allowed []string
		target  string
		header  [2]string
		want    int
	}{
		{name: "query token", allowed: []string{"a"}, target: "/?token=a", want: http.StatusNoContent},
		{name: "query key", allowed: []string{"a"}, target: "/?key=a", want: http.StatusNoContent},
		{name: "api key header", allowed: []string{"", "b"}, target: "/", header: [2]string{"X-Api-Key", "b"}, want: http.StatusNoContent},
		{name: "bearer", allowed: []string{"a"}, target: "/", header: [2]string{"Authorization", "bearer a"}, want: http.StatusNoContent},
		{name: "wrong token", allowed: []string{"a"}, target: "/?token=ab", want: http.StatusUnauthorized},
		{name: "nothing configured", allowed: []string{"", " "}, target: "/?token=", want: http.StatusUnauthorized},
		{name: "nothing presented", allowed: []string{"a"}, target: "/", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header[0] != "" {
				req.Header.Set(tt.header[0], tt.header[1])
			}
			rec := httptest.NewRecorder()
			requireToken(tt.allowed...)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRecoverJSON(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	recoverJSON(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"internal error"}`, rec.Body.String())
}
