package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/udisondev/la2shop/internal/counter"
)

// SQLiteCounterRepository stores trade counters in a local SQLite file.
// Implements counter.Backend for single-node deployments without PostgreSQL.
type SQLiteCounterRepository struct {
	conn *sqlx.DB
}

type playerCountRow struct {
	Player string `db:"player_id"`
	Item   string `db:"item_key"`
	Count  int64  `db:"count"`
}

type globalCountRow struct {
	Item  string `db:"item_key"`
	Count int64  `db:"count"`
}

type lastResetRow struct {
	Scope   string `db:"scope_id"`
	FiredAt int64  `db:"fired_at"`
}

// OpenSQLite opens or creates the SQLite database at path.
func OpenSQLite(path string) (*SQLiteCounterRepository, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; Save transactions queue on this conn.
	conn.SetMaxOpenConns(1)

	r := &SQLiteCounterRepository{conn: conn}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return r, nil
}

// Close closes the database connection.
func (r *SQLiteCounterRepository) Close() error {
	return r.conn.Close()
}

func (r *SQLiteCounterRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS shop_player_counts (
		player_id TEXT NOT NULL,
		item_key TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (player_id, item_key)
	);

	CREATE TABLE IF NOT EXISTS shop_global_counts (
		item_key TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS shop_last_resets (
		scope_id TEXT PRIMARY KEY,
		fired_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shop_player_counts_item ON shop_player_counts(item_key);
	`
	_, err := r.conn.Exec(schema)
	return err
}

// Load reads every persisted counter and reset timestamp.
func (r *SQLiteCounterRepository) Load(ctx context.Context) (counter.Batch, error) {
	var b counter.Batch

	var players []playerCountRow
	if err := r.conn.SelectContext(ctx, &players,
		"SELECT player_id, item_key, count FROM shop_player_counts"); err != nil {
		return b, fmt.Errorf("select player counts: %w", err)
	}
	var globals []globalCountRow
	if err := r.conn.SelectContext(ctx, &globals,
		"SELECT item_key, count FROM shop_global_counts"); err != nil {
		return b, fmt.Errorf("select global counts: %w", err)
	}
	var resets []lastResetRow
	if err := r.conn.SelectContext(ctx, &resets,
		"SELECT scope_id, fired_at FROM shop_last_resets"); err != nil {
		return b, fmt.Errorf("select last resets: %w", err)
	}

	b.Counts = make([]counter.CountRow, 0, len(players)+len(globals))
	for _, p := range players {
		b.Counts = append(b.Counts, counter.CountRow{Key: counter.PlayerKey(p.Player, p.Item), Count: p.Count})
	}
	for _, g := range globals {
		b.Counts = append(b.Counts, counter.CountRow{Key: counter.GlobalKey(g.Item), Count: g.Count})
	}
	for _, rr := range resets {
		b.Resets = append(b.Resets, counter.ResetRow{Scope: rr.Scope, FiredAt: rr.FiredAt})
	}
	return b, nil
}

// Save upserts the batch in one transaction.
func (r *SQLiteCounterRepository) Save(ctx context.Context, batch counter.Batch) error {
	tx, err := r.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range batch.Counts {
		if row.Key.IsGlobal() {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO shop_global_counts (item_key, count) VALUES (?, ?)
				 ON CONFLICT(item_key) DO UPDATE SET count = excluded.count`,
				row.Key.Item, row.Count)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO shop_player_counts (player_id, item_key, count) VALUES (?, ?, ?)
				 ON CONFLICT(player_id, item_key) DO UPDATE SET count = excluded.count`,
				row.Key.Player, row.Key.Item, row.Count)
		}
		if err != nil {
			return fmt.Errorf("upsert %s: %w", row.Key, err)
		}
	}

	for _, row := range batch.Resets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shop_last_resets (scope_id, fired_at) VALUES (?, ?)
			 ON CONFLICT(scope_id) DO UPDATE SET fired_at = excluded.fired_at`,
			row.Scope, row.FiredAt); err != nil {
			return fmt.Errorf("upsert last reset %s: %w", row.Scope, err)
		}
	}

	return tx.Commit()
}
