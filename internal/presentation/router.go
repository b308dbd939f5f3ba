package presentation

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petportre/orders-service/internal/presentation/helpers"
)

// NewRouter builds the full HTTP surface.
func NewRouter(h *OrdersHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(recoverJSON)
	r.Use(middleware.Timeout(60 * time.Second))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		helpers.HttpError(w, http.StatusNotFound, "not found")
	})

	h.Register(r)
	MountStatic(r)
	return r
}
