package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/booking"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type BookingService interface {
	Reserve(ctx context.Context, partnerID string, seats int) (reservation.Reservation, error)
	Cancel(ctx context.Context, reservationID string) error
	List(ctx context.Context) ([]reservation.Reservation, error)
	Summary(ctx context.Context) (booking.EventSummary, error)
}

type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key, reservationID string) error
	Lookup(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc      BookingService
	db       Pinger
	idem     IdempotencyStore
	validate *validator.Validate
	logger   *log.Logger
}

// NewHandler wires the booking endpoints. db and idem may be nil: health then reports the
// database as disconnected and Idempotency-Key headers are ignored.
func NewHandler(svc BookingService, db Pinger, idem IdempotencyStore, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, db: db, idem: idem, validate: v, logger: logger}
}

type healthResponse struct {
	Message  string `json:"message"`
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	database := "disconnected"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err == nil {
			database = "connected"
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Message:  "ticketing service is running",
		Status:   "healthy",
		Database: database,
	})
}

func (h *Handler) GetEventSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type reserveRequest struct {
	PartnerID string `json:"partnerId" validate:"required"`
	Seats     int    `json:"seats" validate:"min=1,max=10"`
}

type reserveResponse struct {
	ReservationID string             `json:"reservationId"`
	Seats         int                `json:"seats"`
	Status        reservation.Status `json:"status"`
}

func (h *Handler) ReserveSeats(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	req.PartnerID = strings.TrimSpace(req.PartnerID)
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	claimed := false
	if key != "" && h.idem != nil {
		ok, err := h.idem.Claim(r.Context(), key)
		if err != nil {
			h.logger.Printf("idempotency claim key=%s: %v", key, err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
			return
		}
		if !ok {
			existing, err := h.idem.Lookup(r.Context(), key)
			if err != nil {
				h.logger.Printf("idempotency lookup key=%s: %v", key, err)
			}
			writeJSON(w, http.StatusConflict, errorResponse{Error: "duplicate request", ReservationID: existing})
			return
		}
		claimed = true
	}

	res, err := h.svc.Reserve(r.Context(), req.PartnerID, req.Seats)
	if err != nil {
		if claimed {
			if relErr := h.idem.Release(context.WithoutCancel(r.Context()), key); relErr != nil {
				h.logger.Printf("idempotency release key=%s: %v", key, relErr)
			}
		}
		h.writeError(w, err)
		return
	}
	if claimed {
		if err := h.idem.Complete(r.Context(), key, res.ID); err != nil {
			h.logger.Printf("idempotency complete key=%s reservation=%s: %v", key, res.ID, err)
		}
	}

	writeJSON(w, http.StatusCreated, reserveResponse{
		ReservationID: res.ID,
		Seats:         res.Seats,
		Status:        res.Status,
	})
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reservationId")
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error         string `json:"error"`
	ReservationID string `json:"reservationId,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, booking.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, booking.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		h.logger.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min", "max":
		return fmt.Sprintf("%s must be between 1 and %d", fe.Field(), reservation.MaxSeatsPerReservation)
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
