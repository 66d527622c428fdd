package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"investgame/internal/indicator"
	"investgame/internal/model"
	"investgame/internal/portfolio"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for history queries and restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadHistory returns the most recent limit points for an asset in ascending
// time order. limit <= 0 returns the full history.
func (r *Reader) ReadHistory(ctx context.Context, assetID string, limit int) ([]model.PricePoint, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, close FROM (
			SELECT ts, close FROM price_history
			WHERE asset_id = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, assetID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query price_history: %w", err)
	}
	defer rows.Close()

	points := []model.PricePoint{}
	for rows.Next() {
		var p model.PricePoint
		var tsMilli int64
		if err := rows.Scan(&tsMilli, &p.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan price_history: %w", err)
		}
		p.Timestamp = time.UnixMilli(tsMilli).UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// LatestPrices returns the last stored close per asset.
func (r *Reader) LatestPrices(ctx context.Context) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT h.asset_id, h.close FROM price_history h
		JOIN (SELECT asset_id, MAX(ts) AS ts FROM price_history GROUP BY asset_id) m
		  ON h.asset_id = m.asset_id AND h.ts = m.ts
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query latest prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var asset string
		var last float64
		if err := rows.Scan(&asset, &last); err != nil {
			return nil, fmt.Errorf("sqlite scan latest prices: %w", err)
		}
		out[asset] = last
	}
	return out, rows.Err()
}

// LatestAccount loads the newest snapshot for a session. It returns
// portfolio.ErrSessionNotFound when none exists.
func (r *Reader) LatestAccount(ctx context.Context, sessionID string) (portfolio.Account, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM account_snapshots
		WHERE session_id = ?
		  AND session_id NOT IN (SELECT session_id FROM ended_sessions)
		ORDER BY id DESC
		LIMIT 1
	`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return portfolio.Account{}, fmt.Errorf("%w: %s", portfolio.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return portfolio.Account{}, fmt.Errorf("sqlite read account: %w", err)
	}

	var acct portfolio.Account
	if err := json.Unmarshal([]byte(data), &acct); err != nil {
		return portfolio.Account{}, fmt.Errorf("unmarshal account: %w", err)
	}
	return acct, nil
}

// AllLatestAccounts loads the newest snapshot of every session that has not
// ended.
// Unreadable rows are logged and skipped.
func (r *Reader) AllLatestAccounts(ctx context.Context) ([]portfolio.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data FROM account_snapshots
		WHERE id IN (SELECT MAX(id) FROM account_snapshots GROUP BY session_id)
		  AND session_id NOT IN (SELECT session_id FROM ended_sessions)
		ORDER BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query accounts: %w", err)
	}
	defer rows.Close()

	var accts []portfolio.Account
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan account: %w", err)
		}
		var acct portfolio.Account
		if err := json.Unmarshal([]byte(data), &acct); err != nil {
			log.Printf("[sqlite-reader] skipping corrupt account snapshot: %v", err)
			continue
		}
		accts = append(accts, acct)
	}
	return accts, rows.Err()
}

// ReadLatestSnapshot loads the most recent indicator engine snapshot.
// Returns nil, nil when none has been saved.
func (r *Reader) ReadLatestSnapshot(ctx context.Context) (*indicator.EngineSnapshot, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM indicator_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
