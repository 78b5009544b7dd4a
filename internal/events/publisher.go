package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/correlation"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/ledger"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/sequence"
)

const publishTimeout = 3 * time.Second

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type SequenceSource interface {
	Next(ctx context.Context, stream string) (int64, error)
}

type PublisherOptions struct {
	PublishEnveloped bool
	Producer         string
}

// Publisher emits reservation lifecycle events to the topic exchange.
type Publisher struct {
	ch        Channel
	seq       SequenceSource
	enveloped bool
	producer  string
	now       func() time.Time
}

func NewPublisher(conn *amqp.Connection, seq SequenceSource, opts PublisherOptions) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareEventsExchange(ch); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare events exchange: %w", err)
	}
	return newPublisher(ch, seq, opts), nil
}

func newPublisher(ch Channel, seq SequenceSource, opts PublisherOptions) *Publisher {
	producer := opts.Producer
	if producer == "" {
		producer = ticketingServiceName
	}
	return &Publisher{
		ch:        ch,
		seq:       seq,
		enveloped: opts.PublishEnveloped,
		producer:  producer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func (p *Publisher) PublishReservationConfirmed(ctx context.Context, res reservation.Reservation, c ledger.Capacity) error {
	return p.publishReservation(ctx, EventTypeReservationConfirmed, reservationConfirmedSchema, ReservationConfirmedRoutingKey, res, c)
}

func (p *Publisher) PublishReservationCancelled(ctx context.Context, res reservation.Reservation, c ledger.Capacity) error {
	return p.publishReservation(ctx, EventTypeReservationCancelled, reservationCancelledSchema, ReservationCancelledRoutingKey, res, c)
}

func (p *Publisher) publishReservation(ctx context.Context, eventType, schema, routingKey string, res reservation.Reservation, c ledger.Capacity) error {
	at := p.now()
	payload := newReservationPayload(res, c, at)

	if !p.enveloped {
		body, err := json.Marshal(LegacyReservationEvent{EventType: eventType, ReservationPayload: payload})
		if err != nil {
			return fmt.Errorf("marshal %s: %w", eventType, err)
		}
		return p.publishJSON(ctx, routingKey, body)
	}

	seq, err := p.seq.Next(ctx, sequence.ReservationStream(res.EventID))
	if err != nil {
		return fmt.Errorf("reserve sequence: %w", err)
	}

	cid := correlation.ID(ctx)
	if cid == "" {
		cid = uuid.NewString()
	}
	ev := ReservationEvent{
		Envelope: Envelope{
			EventName:     eventType,
			EventVersion:  1,
			EventID:       uuid.NewString(),
			CorrelationID: cid,
			CausationID:   correlation.Causation(ctx),
			Producer:      p.producer,
			PartitionKey:  res.EventID,
			Sequence:      seq,
			OccurredAt:    at,
			Schema:        schema,
		},
		Payload: payload,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return p.publishJSON(ctx, routingKey, body)
}

func (p *Publisher) publishJSON(ctx context.Context, routingKey string, body []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		EventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: correlation.ID(ctx),
			Timestamp:     p.now(),
			Body:          body,
		},
	)
}
