package presentation

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/petportre/orders-service/internal/logger"
	"github.com/petportre/orders-service/internal/presentation/helpers"
)

// requestLogger attaches a request-scoped logger and writes one access line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.FromContext(ctx).Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

// recoverJSON turns a handler panic into the usual JSON error body.
func recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(r.Context()).Errorw("handler panic", "panic", rec, "path", r.URL.Path)
			helpers.HttpError(w, http.StatusInternalServerError, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

// requireToken lets a request through when any presented credential matches
// one of the allowed tokens. With nothing allowed every request is refused.
func requireToken(allowed ...string) func(http.Handler) http.Handler {
	var tokens [][]byte
	for _, t := range allowed {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, []byte(t))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authorized(tokens, presented(r)) {
				logger.FromContext(r.Context()).Warnw("unauthorized request", "path", r.URL.Path)
				helpers.HttpError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authorized(tokens [][]byte, candidates []string) bool {
	ok := 0
	for _, c := range candidates {
		for _, t := range tokens {
			ok |= subtle.ConstantTimeCompare([]byte(c), t)
		}
	}
	return ok == 1
}

// presented collects every place a client may put its token.
func presented(r *http.Request) []string {
	q := r.URL.Query()
	var out []string
	for _, v := range []string{
		q.Get("token"),
		q.Get("key"),
		r.Header.Get("X-Api-Key"),
		r.Header.Get("X-Webhook-Token"),
		r.Header.Get("X-Admin-Key"),
		bearer(r.Header.Get("Authorization")),
	} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func bearer(h string) string {
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// publicCORS opens an endpoint to any storefront origin.
func publicCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
