package http

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
)

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Slots      *SlotHandler
	Bookings   *BookingHandler
	Health     Pinger
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		newResponder(nil).writeJSON(r.Context(), w, http.StatusNotFound, errorResponse{ErrorCode: "NOT_FOUND", Message: "no such route"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		newResponder(nil).writeJSON(r.Context(), w, http.StatusMethodNotAllowed, errorResponse{Message: http.StatusText(http.StatusMethodNotAllowed)})
	})

	router.HandleFunc("/healthz", health(cfg.Health)).Methods(http.MethodGet)

	if cfg.Slots != nil {
		router.HandleFunc("/event-types/{id}/slots", cfg.Slots.ForEventType).Methods(http.MethodGet)
		router.HandleFunc("/slots/query", cfg.Slots.Query).Methods(http.MethodPost)
	}

	if cfg.Bookings != nil {
		router.HandleFunc("/bookings/validate", cfg.Bookings.Validate).Methods(http.MethodPost)
		router.HandleFunc("/bookings", cfg.Bookings.Create).Methods(http.MethodPost)
	}

	var handler http.Handler = router
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}

func health(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responder := newResponder(nil)
		if p != nil {
			if err := p.Ping(r.Context()); err != nil {
				responder.writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
