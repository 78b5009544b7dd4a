package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/booking"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/correlation"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
)

const ReservationRequestedConsumer = "ticketing-reservation-requested"

type Reserver interface {
	Reserve(ctx context.Context, partnerID string, seats int) (reservation.Reservation, error)
}

type Checkpointer interface {
	Seen(ctx context.Context, consumer, partition string, seq int64) (bool, error)
	Advance(ctx context.Context, consumer, partition string, seq int64) error
}

// ReservationRequestedHandler books seats for partner requests arriving over the broker.
// Rejections (invalid, sold out, version conflict) are final and acked; store failures are
// returned so the delivery is requeued.
func ReservationRequestedHandler(svc Reserver, checkpoints Checkpointer, logger *log.Logger, consumeEnveloped bool) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		msg, err := parseReservationRequested(body, consumeEnveloped)
		if err != nil {
			return err
		}

		var partition, correlationID, causationID string
		var seq int64
		if msg.Envelope != nil {
			partition = msg.Envelope.PartitionKey
			seq = msg.Envelope.Sequence
			correlationID = msg.Envelope.CorrelationID
			causationID = msg.Envelope.EventID
		}
		if msg.Payload.PartnerID == "" {
			msg.Payload.PartnerID = partition
		}
		if partition == "" {
			partition = msg.Payload.PartnerID
		}
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		ctx = correlation.WithCausation(correlation.WithID(ctx, correlationID), causationID)

		dedup := msg.Envelope != nil && seq != 0 && partition != ""
		if dedup {
			seen, err := checkpoints.Seen(ctx, ReservationRequestedConsumer, partition, seq)
			if err != nil {
				return err
			}
			if seen {
				logger.Printf("skip duplicate reservation request partner=%s seq=%d", partition, seq)
				return nil
			}
		}

		res, err := svc.Reserve(ctx, msg.Payload.PartnerID, msg.Payload.Seats)
		switch {
		case err == nil:
			logger.Printf("reservation request %s booked id=%s partner=%s seats=%d",
				msg.Payload.RequestID, res.ID, res.PartnerID, res.Seats)
		case errors.Is(err, booking.ErrStore):
			return fmt.Errorf("reserve for partner %s: %w", msg.Payload.PartnerID, err)
		default:
			logger.Printf("reservation request %s rejected partner=%s seats=%d: %v",
				msg.Payload.RequestID, msg.Payload.PartnerID, msg.Payload.Seats, err)
		}

		if dedup {
			if err := checkpoints.Advance(ctx, ReservationRequestedConsumer, partition, seq); err != nil {
				// The booking is durable; only a resend of this sequence could book it twice.
				logger.Printf("advance checkpoint partner=%s seq=%d: %v", partition, seq, err)
			}
		}
		return nil
	}
}

func parseReservationRequested(body []byte, enveloped bool) (reservationRequestedMessage, error) {
	if !enveloped {
		var p ReservationRequested
		if err := json.Unmarshal(body, &p); err != nil {
			return reservationRequestedMessage{}, fmt.Errorf("%w: unmarshal ReservationRequested: %v", ErrMalformed, err)
		}
		return reservationRequestedMessage{Payload: p}, nil
	}

	env, err := parseEnvelope(body)
	if err != nil {
		return reservationRequestedMessage{}, err
	}
	if err := env.Validate(EventTypeReservationRequested, 1); err != nil {
		return reservationRequestedMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var p ReservationRequested
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return reservationRequestedMessage{}, fmt.Errorf("%w: unmarshal ReservationRequested payload: %v", ErrMalformed, err)
	}
	return reservationRequestedMessage{Envelope: &env, Payload: p}, nil
}
