package booking

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/ledger"
	"github.com/andreasstove999/ecommerce-system/services/ticketing-service-go/internal/reservation"
)

// Stores is the ledger and registry one unit of work reads and writes through.
type Stores struct {
	Ledger   ledger.Repository
	Registry reservation.Repository
}

// Transactor runs fn against stores bound to a single store transaction. When fn returns
// an error none of its writes are kept.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Stores) error) error
}

// TxBeginner matches the BeginTx method of *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type PostgresTransactor struct {
	pool TxBeginner
}

func NewPostgresTransactor(pool TxBeginner) *PostgresTransactor {
	return &PostgresTransactor{pool: pool}
}

func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(Stores) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(Stores{
		Ledger:   ledger.NewPostgresRepository(tx),
		Registry: reservation.NewPostgresRepository(tx),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
