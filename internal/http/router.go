package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/correlation"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlation.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/", h.Health)
	r.Get("/health", h.Health)

	reservations := func(r chi.Router) {
		r.Get("/", h.ListReservations)
		r.Post("/", h.ReserveSeats)
		r.Delete("/{reservationId}", h.CancelReservation)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/event/summary", h.GetEventSummary)
		r.Route("/reservations", reservations)
		// Path used by existing partner integrations.
		r.Route("/ticket/reservations", reservations)
	})

	return r
}
