package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Counter hands out gap-tolerant, strictly increasing numbers per stream. Published
// reservation events carry them so consumers can drop replays.
type Counter struct {
	db Querier
}

func NewCounter(db Querier) *Counter {
	return &Counter{db: db}
}

// ReservationStream names the stream that orders every reservation event of one event.
func ReservationStream(eventID string) string {
	return "reservations:" + eventID
}

// Next increments the stream's counter and returns the new value. The first call for a
// stream returns 1.
func (c *Counter) Next(ctx context.Context, stream string) (int64, error) {
	var n int64
	err := c.db.QueryRow(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = now()
		RETURNING last_sequence
	`, stream).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", stream, err)
	}
	return n, nil
}
