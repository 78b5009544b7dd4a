package reconcile

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/ledger"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
)

type stubLedger struct {
	capacity ledger.Capacity
	err      error
	reads    atomic.Int32
}

func (s *stubLedger) Get(ctx context.Context, eventID string) (ledger.Capacity, error) {
	s.reads.Add(1)
	return s.capacity, s.err
}

type stubRegistry struct {
	tally reservation.Tally
	err   error
}

func (s *stubRegistry) TallyConfirmed(ctx context.Context, eventID string) (reservation.Tally, error) {
	return s.tally, s.err
}

func TestCheck(t *testing.T) {
	tests := map[string]struct {
		available int
		confirmed int
		wantDrift int
	}{
		"consistent":           {available: 497, confirmed: 3, wantDrift: 0},
		"debit without record": {available: 493, confirmed: 3, wantDrift: -4},
		"credit without mark":  {available: 500, confirmed: 3, wantDrift: 3},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			l := &stubLedger{capacity: ledger.Capacity{EventID: "e1", TotalSeats: 500, AvailableSeats: tt.available, Version: 9}}
			reg := &stubRegistry{tally: reservation.Tally{Reservations: 1, Seats: tt.confirmed}}

			rep, err := New("e1", l, reg, nil).Check(context.Background())
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if rep.Drift != tt.wantDrift {
				t.Fatalf("drift=%d, want %d", rep.Drift, tt.wantDrift)
			}
			if rep.Consistent() != (tt.wantDrift == 0) {
				t.Fatalf("consistent=%v", rep.Consistent())
			}
		})
	}
}

func TestCheckErrors(t *testing.T) {
	r := New("e1", &stubLedger{err: ledger.ErrNotFound}, &stubRegistry{}, nil)
	if _, err := r.Check(context.Background()); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	r = New("e1", &stubLedger{}, &stubRegistry{err: errors.New("timeout")}, nil)
	if _, err := r.Check(context.Background()); err == nil {
		t.Fatalf("expected tally error")
	}
}

func TestRunReportsPersistentDrift(t *testing.T) {
	var logs bytes.Buffer
	l := &stubLedger{capacity: ledger.Capacity{EventID: "e1", TotalSeats: 10, AvailableSeats: 4}}
	reg := &stubRegistry{tally: reservation.Tally{Reservations: 1, Seats: 5}}
	r := New("e1", l, reg, log.New(&logs, "", 0))

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(logs.String(), "CRITICAL") {
		t.Fatalf("first drift must not be reported as persistent: %q", logs.String())
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(logs.String(), "CRITICAL reconcile event=e1 persistent drift=-1") {
		t.Fatalf("expected persistent drift log, got %q", logs.String())
	}
}

func TestStartSchedulesChecks(t *testing.T) {
	l := &stubLedger{capacity: ledger.Capacity{EventID: "e1", TotalSeats: 10, AvailableSeats: 10}}
	r := New("e1", l, &stubRegistry{}, nil)

	s, err := r.Start(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Shutdown() }()

	deadline := time.Now().Add(2 * time.Second)
	for l.reads.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler ran %d checks", l.reads.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
