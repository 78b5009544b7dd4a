package events

import (
	"time"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/ledger"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
)

const (
	EventTypeReservationConfirmed = "ReservationConfirmed"
	EventTypeReservationCancelled = "ReservationCancelled"

	reservationConfirmedSchema = "ticketing.reservation.confirmed.v1"
	reservationCancelledSchema = "ticketing.reservation.cancelled.v1"
)

// ReservationPayload is shared by the confirmed and cancelled events. AvailableSeats and
// LedgerVersion describe the ledger right after the change.
type ReservationPayload struct {
	ReservationID  string    `json:"reservationId"`
	EventID        string    `json:"eventId"`
	PartnerID      string    `json:"partnerId"`
	Seats          int       `json:"seats"`
	Status         string    `json:"status"`
	AvailableSeats int       `json:"availableSeats"`
	LedgerVersion  int       `json:"ledgerVersion"`
	Timestamp      time.Time `json:"timestamp"`
}

type ReservationEvent struct {
	Envelope
	Payload ReservationPayload `json:"payload"`
}

// LegacyReservationEvent is the flat shape published when envelopes are switched off.
type LegacyReservationEvent struct {
	EventType string `json:"eventType"`
	ReservationPayload
}

func newReservationPayload(res reservation.Reservation, c ledger.Capacity, at time.Time) ReservationPayload {
	return ReservationPayload{
		ReservationID:  res.ID,
		EventID:        res.EventID,
		PartnerID:      res.PartnerID,
		Seats:          res.Seats,
		Status:         string(res.Status),
		AvailableSeats: c.AvailableSeats,
		LedgerVersion:  c.Version,
		Timestamp:      at,
	}
}
