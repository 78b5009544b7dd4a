package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("reservation not found")

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	CreateConfirmed(ctx context.Context, eventID, partnerID string, seats int) (Reservation, error)
	FindActive(ctx context.Context, reservationID string) (Reservation, error)
	FindActiveForUpdate(ctx context.Context, reservationID string) (Reservation, error)
	MarkCancelled(ctx context.Context, reservationID string) error
	List(ctx context.Context) ([]Reservation, error)
	TallyConfirmed(ctx context.Context, eventID string) (Tally, error)
}

type PostgresRepository struct {
	pool  DBPool
	newID func() string
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool, newID: uuid.NewString}
}

const reservationColumns = `reservation_id, event_id, partner_id, seats, status, created_at, updated_at`

// CreateConfirmed persists a new confirmed reservation. Callers invoke it only after the
// matching seats were debited from the ledger.
func (r *PostgresRepository) CreateConfirmed(ctx context.Context, eventID, partnerID string, seats int) (Reservation, error) {
	res := Reservation{
		ID:        r.newID(),
		EventID:   eventID,
		PartnerID: partnerID,
		Seats:     seats,
		Status:    StatusConfirmed,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO reservations (reservation_id, event_id, partner_id, seats, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, res.ID, res.EventID, res.PartnerID, res.Seats, string(res.Status)).Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return Reservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	return res, nil
}

// FindActive returns the reservation only while it is confirmed. Missing ids and cancelled
// reservations both yield ErrNotFound.
func (r *PostgresRepository) FindActive(ctx context.Context, reservationID string) (Reservation, error) {
	return r.findActive(ctx, reservationID, "")
}

// FindActiveForUpdate is FindActive that also row-locks the reservation until the
// surrounding transaction ends. A second caller waits and then sees the committed status.
func (r *PostgresRepository) FindActiveForUpdate(ctx context.Context, reservationID string) (Reservation, error) {
	return r.findActive(ctx, reservationID, "FOR UPDATE")
}

func (r *PostgresRepository) findActive(ctx context.Context, reservationID, lock string) (Reservation, error) {
	if _, err := uuid.Parse(reservationID); err != nil {
		return Reservation{}, ErrNotFound
	}

	var res Reservation
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE reservation_id=$1
		`+lock, reservationID).Scan(&res.ID, &res.EventID, &res.PartnerID, &res.Seats, &status, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrNotFound
		}
		return Reservation{}, fmt.Errorf("select reservation: %w", err)
	}
	res.Status = Status(status)
	if !res.Active() {
		return Reservation{}, ErrNotFound
	}
	return res, nil
}

// MarkCancelled flips a confirmed reservation to cancelled. Callers invoke it only after
// the seats were credited back, so a crash in between leaves the record confirmed.
func (r *PostgresRepository) MarkCancelled(ctx context.Context, reservationID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reservations
		SET status=$2, updated_at=now()
		WHERE reservation_id=$1 AND status=$3
	`, reservationID, string(StatusCancelled), string(StatusConfirmed))
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	defer rows.Close()

	out := []Reservation{}
	for rows.Next() {
		var res Reservation
		var status string
		if err := rows.Scan(&res.ID, &res.EventID, &res.PartnerID, &res.Seats, &status, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		res.Status = Status(status)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) TallyConfirmed(ctx context.Context, eventID string) (Tally, error) {
	var t Tally
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(seats), 0)
		FROM reservations
		WHERE event_id=$1 AND status=$2
	`, eventID, string(StatusConfirmed)).Scan(&t.Reservations, &t.Seats)
	if err != nil {
		return Tally{}, fmt.Errorf("tally reservations: %w", err)
	}
	return t, nil
}
