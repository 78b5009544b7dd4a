package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Checkpoints records, per consumer and partition, the highest message sequence already
// handled.
type Checkpoints struct {
	exec Executor
}

func NewCheckpoints(exec Executor) *Checkpoints {
	return &Checkpoints{exec: exec}
}

// Last returns the stored checkpoint. ok is false when the partition has never been seen.
func (c *Checkpoints) Last(ctx context.Context, consumer, partition string) (seq int64, ok bool, err error) {
	err = c.exec.QueryRow(ctx, `
		SELECT last_sequence
		FROM event_dedup_checkpoint
		WHERE consumer_name=$1 AND partition_key=$2
	`, consumer, partition).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select checkpoint %s/%s: %w", consumer, partition, err)
	}
	return seq, true, nil
}

// Seen reports whether seq is at or below the partition's checkpoint.
func (c *Checkpoints) Seen(ctx context.Context, consumer, partition string, seq int64) (bool, error) {
	last, ok, err := c.Last(ctx, consumer, partition)
	if err != nil || !ok {
		return false, err
	}
	return seq <= last, nil
}

// Advance moves the checkpoint forward to seq. It never moves backwards, even when two
// deliveries race.
func (c *Checkpoints) Advance(ctx context.Context, consumer, partition string, seq int64) error {
	_, err := c.exec.Exec(ctx, `
		INSERT INTO event_dedup_checkpoint (consumer_name, partition_key, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer_name, partition_key)
		DO UPDATE SET
			last_sequence = GREATEST(event_dedup_checkpoint.last_sequence, EXCLUDED.last_sequence),
			updated_at = now()
	`, consumer, partition, seq)
	if err != nil {
		return fmt.Errorf("advance checkpoint %s/%s: %w", consumer, partition, err)
	}
	return nil
}
