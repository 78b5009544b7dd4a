package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("event not found")
	// ErrRejected means the version moved since the caller's read, or the delta would push
	// the available count outside [0, total]. Nothing was written.
	ErrRejected = errors.New("capacity adjustment rejected")
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	Get(ctx context.Context, eventID string) (Capacity, error)
	TryAdjust(ctx context.Context, eventID string, delta, expectedVersion int) (Capacity, error)
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, eventID string) (Capacity, error) {
	var c Capacity
	row := r.pool.QueryRow(ctx, `
		SELECT event_id, name, total_seats, available_seats, version
		FROM event_capacity
		WHERE event_id=$1
	`, eventID)
	if err := row.Scan(&c.EventID, &c.Name, &c.TotalSeats, &c.AvailableSeats, &c.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Capacity{}, ErrNotFound
		}
		return Capacity{}, fmt.Errorf("select capacity: %w", err)
	}
	return c, nil
}

// TryAdjust applies delta to the available count and bumps the version in a single
// conditional UPDATE. The version check and the range check are evaluated by the store
// against the row it is about to write, so no other writer can interleave. It never retries.
func (r *PostgresRepository) TryAdjust(ctx context.Context, eventID string, delta, expectedVersion int) (Capacity, error) {
	var c Capacity
	row := r.pool.QueryRow(ctx, `
		UPDATE event_capacity
		SET available_seats = available_seats + $2, version = version + 1, updated_at = now()
		WHERE event_id=$1
		  AND version=$3
		  AND available_seats + $2 BETWEEN 0 AND total_seats
		RETURNING event_id, name, total_seats, available_seats, version
	`, eventID, delta, expectedVersion)
	if err := row.Scan(&c.EventID, &c.Name, &c.TotalSeats, &c.AvailableSeats, &c.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Capacity{}, ErrRejected
		}
		return Capacity{}, fmt.Errorf("adjust capacity: %w", err)
	}
	return c, nil
}

// Seed creates the capacity record with every seat available and version 0.
// An existing record is left untouched. It reports whether a row was inserted.
func (r *PostgresRepository) Seed(ctx context.Context, eventID, name string, totalSeats int) (bool, error) {
	if totalSeats < 0 {
		return false, fmt.Errorf("seed %s: negative total seats %d", eventID, totalSeats)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO event_capacity(event_id, name, total_seats, available_seats, version)
		VALUES($1, $2, $3, $3, 0)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, name, totalSeats)
	if err != nil {
		return false, fmt.Errorf("seed capacity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
