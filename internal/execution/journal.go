package execution

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Journal persists trade fills to SQLite for the trade history screen.
// Monetary columns are stored as decimal text so replays read back exactly
// what was written.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		session_id  TEXT NOT NULL,
		strategy    TEXT NOT NULL DEFAULT '',
		action      TEXT NOT NULL,
		asset_id    TEXT NOT NULL,
		position_id TEXT NOT NULL DEFAULT '',
		amount      TEXT NOT NULL,
		price       TEXT NOT NULL,
		slippage    TEXT NOT NULL DEFAULT '0',
		leverage    TEXT NOT NULL DEFAULT '1',
		pnl         TEXT NOT NULL DEFAULT '0',
		shortfall   TEXT NOT NULL DEFAULT '0',
		balance     TEXT NOT NULL DEFAULT '0',
		reason      TEXT,
		filled_at   DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_trades_asset ON trades(asset_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

func dec(f float64) string {
	return decimal.NewFromFloat(f).String()
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(ctx context.Context, fill Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (order_id, session_id, strategy, action, asset_id, position_id,
		                     amount, price, slippage, leverage, pnl, shortfall, balance, reason, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.OrderID,
		fill.SessionID,
		fill.Strategy,
		string(fill.Action),
		fill.AssetID,
		fill.PositionID,
		dec(fill.Amount),
		dec(fill.FillPrice),
		dec(fill.Slippage),
		dec(fill.Leverage),
		dec(fill.PnL),
		dec(fill.Shortfall),
		dec(fill.Balance),
		fill.Reason,
		fill.FilledAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID         int64           `json:"id"`
	OrderID    string          `json:"order_id"`
	SessionID  string          `json:"session_id"`
	Strategy   string          `json:"strategy"`
	Action     string          `json:"action"`
	AssetID    string          `json:"asset_id"`
	PositionID string          `json:"position_id"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Slippage   decimal.Decimal `json:"slippage"`
	Leverage   decimal.Decimal `json:"leverage"`
	PnL        decimal.Decimal `json:"pnl"`
	Shortfall  decimal.Decimal `json:"shortfall"`
	Balance    decimal.Decimal `json:"balance"`
	Reason     string          `json:"reason"`
	FilledAt   string          `json:"filled_at"`
}

// GetTrades returns the last limit trades of a session, newest first.
func (j *Journal) GetTrades(ctx context.Context, sessionID string, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, order_id, session_id, strategy, action, asset_id, position_id,
		        amount, price, slippage, leverage, pnl, shortfall, balance, COALESCE(reason, ''), filled_at
		 FROM trades WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []TradeRecord{}
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.OrderID, &t.SessionID, &t.Strategy, &t.Action, &t.AssetID,
			&t.PositionID, &t.Amount, &t.Price, &t.Slippage, &t.Leverage, &t.PnL, &t.Shortfall,
			&t.Balance, &t.Reason, &t.FilledAt); err != nil {
			log.Printf("[journal] skipping unreadable trade row: %v", err)
			continue
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
