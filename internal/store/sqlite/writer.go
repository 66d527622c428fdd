// Package sqlite persists price history, account snapshots and indicator
// engine checkpoints.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"investgame/internal/indicator"
	"investgame/internal/model"
	"investgame/internal/portfolio"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	keepSnapshots        = 10 // indicator engine checkpoints
	keepAccountSnapshots = 5  // per session
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/game.db"
}

// Writer owns the single write connection to the game database.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_history (
			asset_id TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			close    REAL    NOT NULL,
			PRIMARY KEY (asset_id, ts)
		);

		CREATE TABLE IF NOT EXISTS account_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_account_snapshots_session ON account_snapshots(session_id, id);

		CREATE TABLE IF NOT EXISTS ended_sessions (
			session_id TEXT    PRIMARY KEY,
			ended_at   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run reads prices from priceCh and inserts them in batched transactions.
// Flushes every batchSize prices OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or priceCh is closed.
func (w *Writer) Run(ctx context.Context, priceCh <-chan model.AssetPrice) {
	batch := make([]model.AssetPrice, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// ctx may already be cancelled on the final flush.
		if err := w.insertBatch(context.Background(), batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d prices in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case p, ok := <-priceCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, p)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch upserts a batch of prices in a single transaction.
func (w *Writer) insertBatch(ctx context.Context, prices []model.AssetPrice) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO price_history (asset_id, ts, close)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range prices {
		if _, err := stmt.ExecContext(ctx, p.AssetID, p.Point.Timestamp.UnixMilli(), p.Point.Close); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveHistory upserts a full history for one asset. Points with the same
// timestamp replace earlier values.
func (w *Writer) SaveHistory(ctx context.Context, assetID string, points []model.PricePoint) error {
	batch := make([]model.AssetPrice, len(points))
	for i, p := range points {
		batch[i] = model.AssetPrice{AssetID: assetID, Point: p}
	}
	if err := w.insertBatch(ctx, batch); err != nil {
		return fmt.Errorf("sqlite save history %s: %w", assetID, err)
	}
	return nil
}

// AppendPrice upserts a single price point.
func (w *Writer) AppendPrice(ctx context.Context, p model.AssetPrice) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO price_history (asset_id, ts, close) VALUES (?, ?, ?)`,
		p.AssetID, p.Point.Timestamp.UnixMilli(), p.Point.Close)
	if err != nil {
		return fmt.Errorf("sqlite append price: %w", err)
	}
	return nil
}

// SaveAccount stores an account snapshot and prunes older ones for the session.
func (w *Writer) SaveAccount(ctx context.Context, acct portfolio.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}

	_, err = w.db.ExecContext(ctx,
		`INSERT INTO account_snapshots (session_id, data, created_at) VALUES (?, ?, ?)`,
		acct.SessionID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite insert account: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		DELETE FROM account_snapshots
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM account_snapshots WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`, acct.SessionID, acct.SessionID, keepAccountSnapshots)
	if err != nil {
		log.Printf("[sqlite] prune account snapshots warning: %v", err)
	}
	return nil
}

// EndSession tombstones a session and discards its account snapshots.
// Snapshots saved after the tombstone are ignored by the readers.
func (w *Writer) EndSession(ctx context.Context, sessionID string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO ended_sessions (session_id, ended_at) VALUES (?, ?)`,
		sessionID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("sqlite end session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM account_snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite discard account: %w", err)
	}
	return tx.Commit()
}

// SaveSnapshot saves an indicator engine snapshot to SQLite.
func (w *Writer) SaveSnapshot(ctx context.Context, snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	// Prune old snapshots
	_, err = w.db.ExecContext(ctx, `DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY id DESC LIMIT ?)`, keepSnapshots)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}

	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
