package paygate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS finalized_transactions (
  handle       TEXT PRIMARY KEY,
  id           TEXT NOT NULL,
  product_id   TEXT NOT NULL,
  state        TEXT NOT NULL,
  reason       TEXT NOT NULL DEFAULT '',
  acknowledged INTEGER NOT NULL DEFAULT 0,
  finalized_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_finalized_transactions_id ON finalized_transactions(id);`

// SQLiteLedger persists finalized handles, so transactions the store redelivers
// on the next launch are still recognised as already processed.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLiteLedger opens (or creates) the ledger database at dsn.
func OpenSQLiteLedger(ctx context.Context, dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	l := NewSQLiteLedger(db)
	if err := l.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// NewSQLiteLedger wraps an existing database handle. Call Migrate before use.
func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

// Migrate creates the ledger table if needed.
func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Record(ctx context.Context, rec *FinalizedTransaction) (bool, error) {
	if rec.FinalizedAt.IsZero() {
		rec.FinalizedAt = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = newULID(rec.FinalizedAt)
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO finalized_transactions (handle, id, product_id, state, reason, acknowledged, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO NOTHING
	`, rec.Handle, rec.ID, rec.ProductID, string(rec.State), rec.Reason, rec.Acknowledged, rec.FinalizedAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to record transaction[%s]: %w", rec.Handle, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record transaction[%s]: %w", rec.Handle, err)
	}
	return n == 1, nil
}

func (l *SQLiteLedger) Get(ctx context.Context, handle string) (*FinalizedTransaction, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT handle, id, product_id, state, reason, acknowledged, finalized_at
		FROM finalized_transactions WHERE handle = ?
	`, handle)

	rec, err := scanFinalized(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction[%s]: %w", handle, err)
	}
	return rec, nil
}

func (l *SQLiteLedger) MarkAcknowledged(ctx context.Context, handle string) error {
	_, err := l.db.ExecContext(ctx, `UPDATE finalized_transactions SET acknowledged = 1 WHERE handle = ?`, handle)
	if err != nil {
		return fmt.Errorf("failed to acknowledge transaction[%s]: %w", handle, err)
	}
	return nil
}

func (l *SQLiteLedger) Recent(ctx context.Context, limit int) ([]*FinalizedTransaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT handle, id, product_id, state, reason, acknowledged, finalized_at
		FROM finalized_transactions ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*FinalizedTransaction
	for rows.Next() {
		rec, err := scanFinalized(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transaction rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFinalized(s rowScanner) (*FinalizedTransaction, error) {
	var (
		rec         FinalizedTransaction
		state       string
		finalizedAt int64
	)
	if err := s.Scan(&rec.Handle, &rec.ID, &rec.ProductID, &state, &rec.Reason, &rec.Acknowledged, &finalizedAt); err != nil {
		return nil, err
	}
	rec.State = TransactionState(state)
	rec.FinalizedAt = time.Unix(0, finalizedAt).UTC()
	return &rec, nil
}
