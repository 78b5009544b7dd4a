package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/ledger"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
)

// compensationAttempts bounds the credit/debit issued to undo a ledger change whose
// registry step failed.
const compensationAttempts = 3

// Publisher receives reservation lifecycle changes after they are durable.
type Publisher interface {
	PublishReservationConfirmed(ctx context.Context, res reservation.Reservation, capacity ledger.Capacity) error
	PublishReservationCancelled(ctx context.Context, res reservation.Reservation, capacity ledger.Capacity) error
}

type EventSummary struct {
	EventID          string `json:"eventId"`
	Name             string `json:"name"`
	TotalSeats       int    `json:"totalSeats"`
	AvailableSeats   int    `json:"availableSeats"`
	ReservationCount int    `json:"reservationCount"`
	Version          int    `json:"version"`
}

// errCancelledConcurrently reports that a cancel credited the seats but the status flip found
// the reservation already cancelled by another request.
var errCancelledConcurrently = errors.New("reservation cancelled concurrently")

// Service sequences ledger and registry calls for one event. It holds no mutable state:
// concurrent callers are serialized only by the store, through the ledger's conditional
// update and the reservation row lock taken by a cancel.
type Service struct {
	eventID  string
	ledger   ledger.Repository
	registry reservation.Repository
	// tx, when set, rolls a failed cancel back so a lost race needs no revert.
	tx     Transactor
	policy Policy
	pub    Publisher
	logger *log.Logger
}

type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithTransactor runs every cancel inside one store transaction: the reservation row is
// locked, then the seats are credited, then the reservation is marked cancelled.
func WithTransactor(t Transactor) Option {
	return func(s *Service) { s.tx = t }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(eventID string, ledgerRepo ledger.Repository, registry reservation.Repository, opts ...Option) *Service {
	s := &Service{
		eventID:  eventID,
		ledger:   ledgerRepo,
		registry: registry,
		policy:   FailFast(),
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) EventID() string { return s.eventID }

func (s *Service) Policy() Policy { return s.policy }

// Reserve debits seats from the ledger and, only once the debit succeeded, records a
// confirmed reservation.
func (s *Service) Reserve(ctx context.Context, partnerID string, seats int) (reservation.Reservation, error) {
	if strings.TrimSpace(partnerID) == "" {
		return reservation.Reservation{}, fmt.Errorf("%w: partnerId is required", ErrInvalidRequest)
	}
	if seats < 1 || seats > reservation.MaxSeatsPerReservation {
		return reservation.Reservation{}, fmt.Errorf("%w: seats must be between 1 and %d", ErrInvalidRequest, reservation.MaxSeatsPerReservation)
	}

	capacity, err := s.adjust(ctx, s.ledger, -seats, s.policy.attempts())
	if err != nil {
		return reservation.Reservation{}, err
	}

	res, err := s.registry.CreateConfirmed(ctx, s.eventID, partnerID, seats)
	if err != nil {
		s.logger.Printf("reserve: debited %d seats for partner=%s but record creation failed: %v", seats, partnerID, err)
		s.compensate(ctx, seats, fmt.Sprintf("partner=%s", partnerID))
		return reservation.Reservation{}, storeErr("create reservation", err)
	}

	s.logger.Printf("reserved id=%s partner=%s seats=%d available=%d version=%d",
		res.ID, partnerID, seats, capacity.AvailableSeats, capacity.Version)

	if s.pub != nil {
		if err := s.pub.PublishReservationConfirmed(ctx, res, capacity); err != nil {
			s.logger.Printf("publish reservation confirmed id=%s: %v", res.ID, err)
		}
	}
	return res, nil
}

// Cancel credits the seats of an active reservation back to the ledger and then marks it
// cancelled. With a transactor both steps commit together and a second cancel of the same
// reservation waits on the row lock. Without one, a failure between the steps leaves the
// record confirmed.
func (s *Service) Cancel(ctx context.Context, reservationID string) error {
	var (
		res      reservation.Reservation
		capacity ledger.Capacity
	)
	err := s.withinTx(ctx, func(st Stores) error {
		var err error
		res, capacity, err = s.cancel(ctx, st, reservationID)
		return err
	})
	if errors.Is(err, errCancelledConcurrently) {
		if s.tx != nil {
			s.logger.Printf("cancel: reservation %s was cancelled concurrently, credit rolled back", res.ID)
		} else {
			s.logger.Printf("cancel: reservation %s was cancelled concurrently, reverting credit of %d seats", res.ID, res.Seats)
			s.compensate(ctx, -res.Seats, "reservation="+res.ID)
		}
		return fmt.Errorf("%w: reservation %s", ErrNotFound, reservationID)
	}
	if err != nil {
		return classify("cancel reservation", err)
	}

	res.Status = reservation.StatusCancelled
	s.logger.Printf("cancelled id=%s seats=%d available=%d version=%d",
		res.ID, res.Seats, capacity.AvailableSeats, capacity.Version)

	if s.pub != nil {
		if err := s.pub.PublishReservationCancelled(ctx, res, capacity); err != nil {
			s.logger.Printf("publish reservation cancelled id=%s: %v", res.ID, err)
		}
	}
	return nil
}

func (s *Service) withinTx(ctx context.Context, fn func(Stores) error) error {
	if s.tx == nil {
		return fn(Stores{Ledger: s.ledger, Registry: s.registry})
	}
	return s.tx.WithinTx(ctx, fn)
}

func (s *Service) cancel(ctx context.Context, st Stores, reservationID string) (reservation.Reservation, ledger.Capacity, error) {
	res, err := st.Registry.FindActiveForUpdate(ctx, reservationID)
	if err != nil {
		if errors.Is(err, reservation.ErrNotFound) {
			return res, ledger.Capacity{}, fmt.Errorf("%w: reservation %s", ErrNotFound, reservationID)
		}
		return res, ledger.Capacity{}, storeErr("find reservation", err)
	}
	if res.EventID != s.eventID {
		return res, ledger.Capacity{}, fmt.Errorf("%w: reservation %s belongs to event %s", ErrNotFound, reservationID, res.EventID)
	}
	if !res.Status.CanTransitionTo(reservation.StatusCancelled) {
		return res, ledger.Capacity{}, fmt.Errorf("%w: reservation %s is %s", ErrNotFound, reservationID, res.Status)
	}

	capacity, err := s.adjust(ctx, st.Ledger, res.Seats, s.policy.attempts())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// The read may predate another cancel of the same reservation.
			if _, ferr := st.Registry.FindActive(ctx, res.ID); errors.Is(ferr, reservation.ErrNotFound) {
				return res, ledger.Capacity{}, fmt.Errorf("%w: reservation %s", ErrNotFound, reservationID)
			}
		}
		return res, ledger.Capacity{}, err
	}

	if err := st.Registry.MarkCancelled(ctx, res.ID); err != nil {
		if errors.Is(err, reservation.ErrNotFound) {
			return res, capacity, errCancelledConcurrently
		}
		s.logger.Printf("cancel: status update failed for reservation=%s after crediting %d seats: %v", res.ID, res.Seats, err)
		return res, capacity, storeErr("mark reservation cancelled", err)
	}
	return res, capacity, nil
}

func (s *Service) List(ctx context.Context) ([]reservation.Reservation, error) {
	list, err := s.registry.List(ctx)
	if err != nil {
		return nil, storeErr("list reservations", err)
	}
	return list, nil
}

func (s *Service) Summary(ctx context.Context) (EventSummary, error) {
	capacity, err := s.currentCapacity(ctx)
	if err != nil {
		return EventSummary{}, err
	}
	tally, err := s.registry.TallyConfirmed(ctx, s.eventID)
	if err != nil {
		return EventSummary{}, storeErr("tally reservations", err)
	}
	return EventSummary{
		EventID:          capacity.EventID,
		Name:             capacity.Name,
		TotalSeats:       capacity.TotalSeats,
		AvailableSeats:   capacity.AvailableSeats,
		ReservationCount: tally.Reservations,
		Version:          capacity.Version,
	}, nil
}

func (s *Service) currentCapacity(ctx context.Context) (ledger.Capacity, error) {
	return s.readCapacity(ctx, s.ledger)
}

func (s *Service) readCapacity(ctx context.Context, l ledger.Repository) (ledger.Capacity, error) {
	c, err := l.Get(ctx, s.eventID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Capacity{}, fmt.Errorf("%w: event %s", ErrNotFound, s.eventID)
		}
		return ledger.Capacity{}, storeErr("read capacity", err)
	}
	return c, nil
}

// adjust reads the current version and issues one conditional ledger update per attempt.
func (s *Service) adjust(ctx context.Context, l ledger.Repository, delta, attempts int) (ledger.Capacity, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.readCapacity(ctx, l)
		if err != nil {
			return ledger.Capacity{}, err
		}
		if !current.CanApply(delta) {
			if delta < 0 {
				return ledger.Capacity{}, ErrInsufficientSeats
			}
			return ledger.Capacity{}, fmt.Errorf("%w: credit of %d seats would exceed total %d", ErrConflict, delta, current.TotalSeats)
		}

		updated, err := l.TryAdjust(ctx, s.eventID, delta, current.Version)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, ledger.ErrRejected) {
			return ledger.Capacity{}, storeErr("adjust capacity", err)
		}
		if attempt >= attempts {
			return ledger.Capacity{}, fmt.Errorf("%w: seat capacity changed concurrently (version %d)", ErrConflict, current.Version)
		}
		if err := ctx.Err(); err != nil {
			return ledger.Capacity{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
}

// compensate undoes a ledger adjustment whose registry step failed. It survives request
// cancellation; a failure is left for the reconciler to report.
func (s *Service) compensate(ctx context.Context, delta int, subject string) {
	ctx = context.WithoutCancel(ctx)
	c, err := s.adjust(ctx, s.ledger, delta, compensationAttempts)
	if err != nil {
		s.logger.Printf("CRITICAL compensation of %+d seats failed for %s: %v", delta, subject, err)
		return
	}
	s.logger.Printf("compensated %+d seats for %s available=%d version=%d", delta, subject, c.AvailableSeats, c.Version)
}
