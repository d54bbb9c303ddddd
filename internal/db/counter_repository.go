package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/la2shop/internal/counter"
)

// CounterRepository stores trade counters in PostgreSQL.
// Implements counter.Backend.
type CounterRepository struct {
	pool *pgxpool.Pool
}

// NewCounterRepository creates a new counter repository.
func NewCounterRepository(pool *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{pool: pool}
}

// Load reads every player count, global count and reset timestamp.
func (r *CounterRepository) Load(ctx context.Context) (counter.Batch, error) {
	var b counter.Batch

	rows, err := r.pool.Query(ctx, `SELECT player_id, item_key, count FROM shop_player_counts`)
	if err != nil {
		return b, fmt.Errorf("query shop_player_counts: %w", err)
	}
	for rows.Next() {
		var row counter.CountRow
		if err := rows.Scan(&row.Key.Player, &row.Key.Item, &row.Count); err != nil {
			rows.Close()
			return b, fmt.Errorf("scan shop_player_counts: %w", err)
		}
		b.Counts = append(b.Counts, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return b, fmt.Errorf("iterate shop_player_counts: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT item_key, count FROM shop_global_counts`)
	if err != nil {
		return b, fmt.Errorf("query shop_global_counts: %w", err)
	}
	for rows.Next() {
		var row counter.CountRow
		if err := rows.Scan(&row.Key.Item, &row.Count); err != nil {
			rows.Close()
			return b, fmt.Errorf("scan shop_global_counts: %w", err)
		}
		b.Counts = append(b.Counts, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return b, fmt.Errorf("iterate shop_global_counts: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT scope_id, fired_at FROM shop_last_resets`)
	if err != nil {
		return b, fmt.Errorf("query shop_last_resets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var row counter.ResetRow
		if err := rows.Scan(&row.Scope, &row.FiredAt); err != nil {
			return b, fmt.Errorf("scan shop_last_resets: %w", err)
		}
		b.Resets = append(b.Resets, row)
	}
	if err := rows.Err(); err != nil {
		return b, fmt.Errorf("iterate shop_last_resets: %w", err)
	}

	return b, nil
}

// Save upserts the batch in a single transaction.
func (r *CounterRepository) Save(ctx context.Context, batch counter.Batch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveCountsTx(ctx, tx, batch.Counts); err != nil {
		return err
	}

	for _, row := range batch.Resets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO shop_last_resets (scope_id, fired_at) VALUES ($1, $2)
			 ON CONFLICT (scope_id) DO UPDATE SET fired_at = EXCLUDED.fired_at`,
			row.Scope, row.FiredAt); err != nil {
			return fmt.Errorf("upsert last reset %s: %w", row.Scope, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit counters tx: %w", err)
	}
	return nil
}

func saveCountsTx(ctx context.Context, tx pgx.Tx, counts []counter.CountRow) error {
	for _, row := range counts {
		if row.Key.IsGlobal() {
			if _, err := tx.Exec(ctx,
				`INSERT INTO shop_global_counts (item_key, count) VALUES ($1, $2)
				 ON CONFLICT (item_key) DO UPDATE SET count = EXCLUDED.count`,
				row.Key.Item, row.Count); err != nil {
				return fmt.Errorf("upsert %s: %w", row.Key, err)
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO shop_player_counts (player_id, item_key, count) VALUES ($1, $2, $3)
			 ON CONFLICT (player_id, item_key) DO UPDATE SET count = EXCLUDED.count`,
			row.Key.Player, row.Key.Item, row.Count); err != nil {
			return fmt.Errorf("upsert %s: %w", row.Key, err)
		}
	}
	return nil
}
