package reconcile

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/ledger"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
)

type CapacityReader interface {
	Get(ctx context.Context, eventID string) (ledger.Capacity, error)
}

type ConfirmedTallier interface {
	TallyConfirmed(ctx context.Context, eventID string) (reservation.Tally, error)
}

// Report compares the ledger with the seats held by confirmed reservations. Drift is
// available − (total − confirmed seats): negative after a debit that never got a record,
// positive after a credit whose record was never marked cancelled.
type Report struct {
	EventID               string
	TotalSeats            int
	AvailableSeats        int
	ConfirmedSeats        int
	ConfirmedReservations int
	Version               int
	Drift                 int
}

func (r Report) Consistent() bool { return r.Drift == 0 }

// Reconciler only reads. Fixing drift is an operator decision.
type Reconciler struct {
	eventID  string
	ledger   CapacityReader
	registry ConfirmedTallier
	logger   *log.Logger

	mu        sync.Mutex
	lastDrift int
}

func New(eventID string, l CapacityReader, registry ConfirmedTallier, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reconciler{eventID: eventID, ledger: l, registry: registry, logger: logger}
}

func (r *Reconciler) Check(ctx context.Context) (Report, error) {
	c, err := r.ledger.Get(ctx, r.eventID)
	if err != nil {
		return Report{}, fmt.Errorf("read capacity: %w", err)
	}
	tally, err := r.registry.TallyConfirmed(ctx, r.eventID)
	if err != nil {
		return Report{}, fmt.Errorf("tally reservations: %w", err)
	}
	return Report{
		EventID:               c.EventID,
		TotalSeats:            c.TotalSeats,
		AvailableSeats:        c.AvailableSeats,
		ConfirmedSeats:        tally.Seats,
		ConfirmedReservations: tally.Reservations,
		Version:               c.Version,
		Drift:                 c.AvailableSeats - (c.TotalSeats - tally.Seats),
	}, nil
}

// Run performs one check and logs the outcome. The two reads are not atomic, so a single
// drift may come from an in-flight request; the same drift on consecutive runs is reported
// as persistent.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	rep, err := r.Check(ctx)
	if err != nil {
		r.logger.Printf("reconcile event=%s: %v", r.eventID, err)
		return Report{}, err
	}

	r.mu.Lock()
	persistent := !rep.Consistent() && rep.Drift == r.lastDrift
	r.lastDrift = rep.Drift
	r.mu.Unlock()

	switch {
	case rep.Consistent():
		r.logger.Printf("reconcile event=%s ok available=%d confirmed_seats=%d version=%d",
			rep.EventID, rep.AvailableSeats, rep.ConfirmedSeats, rep.Version)
	case persistent:
		r.logger.Printf("CRITICAL reconcile event=%s persistent drift=%+d available=%d total=%d confirmed_seats=%d version=%d",
			rep.EventID, rep.Drift, rep.AvailableSeats, rep.TotalSeats, rep.ConfirmedSeats, rep.Version)
	default:
		r.logger.Printf("reconcile event=%s drift=%+d available=%d total=%d confirmed_seats=%d version=%d",
			rep.EventID, rep.Drift, rep.AvailableSeats, rep.TotalSeats, rep.ConfirmedSeats, rep.Version)
	}
	return rep, nil
}

// Start schedules Run every interval until the returned scheduler is shut down.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			_, _ = r.Run(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("reconcile-"+r.eventID),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule reconcile job: %w", err)
	}
	s.Start()
	r.logger.Printf("reconciler started event=%s interval=%s", r.eventID, interval)
	return s, nil
}
