// Package history archives terminal order and transfer outcomes to SQLite.
// The ledger store is the source of truth for live state; this archive only
// serves reporting queries and survives ledger compaction.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/custodia/gotrade/internal/domain"
)

type Archive struct {
	db *sql.DB
}

func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is happiest on a single writer connection

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  size TEXT NOT NULL,
  price TEXT,
  kind TEXT NOT NULL,
  status TEXT NOT NULL,
  remote_order_id TEXT,
  last_error TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_wallet_updated ON orders(wallet_id, updated_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS transfers (
  id TEXT PRIMARY KEY,
  wallet_id TEXT NOT NULL,
  destination TEXT NOT NULL,
  amount TEXT NOT NULL,
  status TEXT NOT NULL,
  tx_ref TEXT,
  last_error TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_wallet_updated ON transfers(wallet_id, updated_at DESC);`,
	}

	for _, q := range stmts {
		if _, err := a.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

// RecordOrder upserts an order snapshot. Callers treat failures as
// non-fatal; a missed archive row never blocks the trading path.
func (a *Archive) RecordOrder(o domain.OrderIntent) error {
	var price sql.NullString
	if o.Price != nil {
		price = sql.NullString{String: o.Price.String(), Valid: true}
	}
	_, err := a.db.Exec(`
INSERT INTO orders (id, wallet_id, symbol, side, size, price, kind, status, remote_order_id, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  remote_order_id=excluded.remote_order_id,
  last_error=excluded.last_error,
  updated_at=excluded.updated_at;`,
		o.ID, o.WalletID, o.Symbol, string(o.Side), o.Size.String(), price,
		string(o.Kind), string(o.Status), o.RemoteOrderID, o.LastError,
		o.CreatedAt.UTC().Format(time.RFC3339Nano), o.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// RecordTransfer upserts a transfer snapshot (same contract as RecordOrder).
func (a *Archive) RecordTransfer(t domain.TransferIntent) error {
	_, err := a.db.Exec(`
INSERT INTO transfers (id, wallet_id, destination, amount, status, tx_ref, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status=excluded.status,
  tx_ref=excluded.tx_ref,
  last_error=excluded.last_error,
  updated_at=excluded.updated_at;`,
		t.ID, t.WalletID, t.Destination, t.Amount.String(), string(t.Status),
		t.TxRef, t.LastError,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// OrderRow is an archived order as stored, amounts kept as strings so
// reporting does not re-round anything.
type OrderRow struct {
	ID            string `json:"id"`
	WalletID      string `json:"wallet_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	Price         string `json:"price,omitempty"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	RemoteOrderID string `json:"remote_order_id,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type TransferRow struct {
	ID          string `json:"id"`
	WalletID    string `json:"wallet_id"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	TxRef       string `json:"tx_ref,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func (a *Archive) OrdersForWallet(ctx context.Context, walletID string, limit int) ([]OrderRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT id, wallet_id, symbol, side, size, COALESCE(price,''), kind, status,
       COALESCE(remote_order_id,''), COALESCE(last_error,''), created_at, updated_at
FROM orders WHERE wallet_id = ? ORDER BY updated_at DESC LIMIT ?;`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]OrderRow, 0, limit)
	for rows.Next() {
		var r OrderRow
		if err := rows.Scan(&r.ID, &r.WalletID, &r.Symbol, &r.Side, &r.Size, &r.Price,
			&r.Kind, &r.Status, &r.RemoteOrderID, &r.LastError, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (a *Archive) TransfersForWallet(ctx context.Context, walletID string, limit int) ([]TransferRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT id, wallet_id, destination, amount, status,
       COALESCE(tx_ref,''), COALESCE(last_error,''), created_at, updated_at
FROM transfers WHERE wallet_id = ? ORDER BY updated_at DESC LIMIT ?;`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TransferRow, 0, limit)
	for rows.Next() {
		var r TransferRow
		if err := rows.Scan(&r.ID, &r.WalletID, &r.Destination, &r.Amount, &r.Status,
			&r.TxRef, &r.LastError, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
