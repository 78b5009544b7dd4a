package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/booking"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/correlation"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
)

type fakeReserver struct {
	calls         int
	partnerID     string
	seats         int
	correlationID string
	err           error
}

func (f *fakeReserver) Reserve(ctx context.Context, partnerID string, seats int) (reservation.Reservation, error) {
	f.calls++
	f.partnerID = partnerID
	f.seats = seats
	f.correlationID = correlation.ID(ctx)
	if f.err != nil {
		return reservation.Reservation{}, f.err
	}
	return reservation.Reservation{ID: "r-1", PartnerID: partnerID, Seats: seats, Status: reservation.StatusConfirmed}, nil
}

type fakeCheckpoints struct {
	last       map[string]int64
	advanced   []int64
	seenErr    error
	advanceErr error
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{last: map[string]int64{}}
}

func (f *fakeCheckpoints) Seen(ctx context.Context, consumer, partition string, seq int64) (bool, error) {
	if f.seenErr != nil {
		return false, f.seenErr
	}
	last, ok := f.last[partition]
	return ok && seq <= last, nil
}

func (f *fakeCheckpoints) Advance(ctx context.Context, consumer, partition string, seq int64) error {
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.advanced = append(f.advanced, seq)
	if seq > f.last[partition] {
		f.last[partition] = seq
	}
	return nil
}

func requestedEnvelope(t *testing.T, partner string, seq int64, payload ReservationRequested) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(Envelope{
		EventName:     EventTypeReservationRequested,
		EventVersion:  1,
		EventID:       fmt.Sprintf("msg-%d", seq),
		CorrelationID: "cid-partner",
		Producer:      "partner-gateway",
		PartitionKey:  partner,
		Sequence:      seq,
		OccurredAt:    time.Unix(0, 0).UTC(),
		Schema:        "ticketing.reservation.requested.v1",
		Payload:       raw,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func TestReservationRequestedHandler(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	tests := []struct {
		name         string
		body         func(t *testing.T) []byte
		enveloped    bool
		reserveErr   error
		checkpoints  func() *fakeCheckpoints
		wantErr      error
		wantAnyErr   bool
		wantCalls    int
		wantAdvanced []int64
	}{
		{
			name: "books seats and advances checkpoint",
			body: func(t *testing.T) []byte {
				return requestedEnvelope(t, "partner-1", 3, ReservationRequested{PartnerID: "partner-1", Seats: 4})
			},
			enveloped:    true,
			wantCalls:    1,
			wantAdvanced: []int64{3},
		},
		{
			name: "skips replayed sequence",
			body: func(t *testing.T) []byte {
				return requestedEnvelope(t, "partner-1", 2, ReservationRequested{PartnerID: "partner-1", Seats: 4})
			},
			enveloped: true,
			checkpoints: func() *fakeCheckpoints {
				c := newFakeCheckpoints()
				c.last["partner-1"] = 2
				return c
			},
			wantCalls: 0,
		},
		{
			name: "business rejection is acked",
			body: func(t *testing.T) []byte {
				return requestedEnvelope(t, "partner-1", 5, ReservationRequested{PartnerID: "partner-1", Seats: 4})
			},
			enveloped:    true,
			reserveErr:   booking.ErrInsufficientSeats,
			wantCalls:    1,
			wantAdvanced: []int64{5},
		},
		{
			name: "store failure is requeued without advancing",
			body: func(t *testing.T) []byte {
				return requestedEnvelope(t, "partner-1", 6, ReservationRequested{PartnerID: "partner-1", Seats: 4})
			},
			enveloped:  true,
			reserveErr: &booking.StoreError{Op: "adjust capacity", Err: errors.New("conn reset")},
			wantErr:    booking.ErrStore,
			wantCalls:  1,
		},
		{
			name: "checkpoint read failure is requeued",
			body: func(t *testing.T) []byte {
				return requestedEnvelope(t, "partner-1", 7, ReservationRequested{PartnerID: "partner-1", Seats: 1})
			},
			enveloped: true,
			checkpoints: func() *fakeCheckpoints {
				c := newFakeCheckpoints()
				c.seenErr = errors.New("db down")
				return c
			},
			wantAnyErr: true,
			wantCalls:  0,
		},
		{
			name:      "malformed json is dropped",
			body:      func(t *testing.T) []byte { return []byte("{not json") },
			enveloped: true,
			wantErr:   ErrMalformed,
		},
		{
			name: "wrong event name is dropped",
			body: func(t *testing.T) []byte {
				b, _ := json.Marshal(Envelope{EventName: "Other", EventVersion: 1, EventID: "x", PartitionKey: "p"})
				return b
			},
			enveloped: true,
			wantErr:   ErrMalformed,
		},
		{
			name: "legacy message has no dedup",
			body: func(t *testing.T) []byte {
				b, _ := json.Marshal(ReservationRequested{PartnerID: "partner-2", Seats: 2})
				return b
			},
			enveloped: false,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeReserver{err: tt.reserveErr}
			cps := newFakeCheckpoints()
			if tt.checkpoints != nil {
				cps = tt.checkpoints()
			}
			h := ReservationRequestedHandler(svc, cps, logger, tt.enveloped)

			err := h(context.Background(), tt.body(t))
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.wantAnyErr:
				if err == nil {
					t.Fatalf("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if svc.calls != tt.wantCalls {
				t.Fatalf("reserve calls=%d, want %d", svc.calls, tt.wantCalls)
			}
			if len(cps.advanced) != len(tt.wantAdvanced) {
				t.Fatalf("advanced=%v, want %v", cps.advanced, tt.wantAdvanced)
			}
			for i := range tt.wantAdvanced {
				if cps.advanced[i] != tt.wantAdvanced[i] {
					t.Fatalf("advanced=%v, want %v", cps.advanced, tt.wantAdvanced)
				}
			}
		})
	}
}

func TestReservationRequestedCarriesCorrelation(t *testing.T) {
	svc := &fakeReserver{}
	h := ReservationRequestedHandler(svc, newFakeCheckpoints(), log.New(io.Discard, "", 0), true)

	body := requestedEnvelope(t, "partner-9", 1, ReservationRequested{Seats: 2})
	if err := h(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if svc.partnerID != "partner-9" {
		t.Fatalf("partner should fall back to the partition key, got %q", svc.partnerID)
	}
	if svc.correlationID != "cid-partner" {
		t.Fatalf("correlation id=%q", svc.correlationID)
	}
}

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func TestDispatch(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	tests := map[string]struct {
		err         error
		wantAck     bool
		wantRequeue bool
	}{
		"success":   {err: nil, wantAck: true},
		"malformed": {err: fmt.Errorf("%w: bad", ErrMalformed)},
		"transient": {err: errors.New("db down"), wantRequeue: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ack := &fakeAcknowledger{}
			msg := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("{}")}
			dispatch(context.Background(), func(ctx context.Context, body []byte) error { return tt.err }, msg, logger)

			if ack.acked != tt.wantAck {
				t.Fatalf("acked=%v, want %v", ack.acked, tt.wantAck)
			}
			if !tt.wantAck && !ack.nacked {
				t.Fatalf("expected nack")
			}
			if ack.requeue != tt.wantRequeue {
				t.Fatalf("requeue=%v, want %v", ack.requeue, tt.wantRequeue)
			}
		})
	}
}

func TestQueueName(t *testing.T) {
	if got := QueueName(ReservationRequestedRoutingKey); got != "ticketing-service-go.reservation.requested.v1" {
		t.Fatalf("queue=%s", got)
	}
}
