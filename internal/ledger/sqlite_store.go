package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded local Store backend.
type SQLiteStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

// NewSQLiteStore opens (or creates) the ledger database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", strings.TrimSpace(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS credit_balances (
  principal TEXT PRIMARY KEY,
  regular INTEGER NOT NULL DEFAULT 0,
  bonus INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  request_id TEXT NOT NULL UNIQUE,
  principal TEXT NOT NULL,
  before_regular INTEGER NOT NULL,
  before_bonus INTEGER NOT NULL,
  after_regular INTEGER NOT NULL,
  after_bonus INTEGER NOT NULL,
  amount INTEGER NOT NULL,
  shortfall INTEGER NOT NULL DEFAULT 0,
  outcome TEXT NOT NULL,
  at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_principal ON ledger_entries (principal);
`)
	})
	return s.schemaErr
}

func (s *SQLiteStore) Balance(ctx context.Context, principal string) (Balance, error) {
	if err := s.ensureSchema(); err != nil {
		return Balance{}, err
	}
	var b Balance
	err := s.db.QueryRowContext(ctx,
		`SELECT regular, bonus FROM credit_balances WHERE principal = ?`, principal).
		Scan(&b.Regular, &b.Bonus)
	if err == sql.ErrNoRows {
		return Balance{}, nil
	}
	return b, err
}

func (s *SQLiteStore) Provision(ctx context.Context, principal string, b Balance) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credit_balances (principal, regular, bonus) VALUES (?, ?, ?)
ON CONFLICT (principal) DO UPDATE SET regular = excluded.regular, bonus = excluded.bonus`,
		principal, b.Regular, b.Bonus)
	return err
}

func (s *SQLiteStore) Settle(ctx context.Context, after Balance, e Entry) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger_entries
  (id, request_id, principal, before_regular, before_bonus, after_regular, after_bonus, amount, shortfall, outcome, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Principal,
		e.Before.Regular, e.Before.Bonus, e.After.Regular, e.After.Bonus,
		e.Amount, e.Shortfall, string(e.Outcome), e.At); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicate
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO credit_balances (principal, regular, bonus) VALUES (?, ?, ?)
ON CONFLICT (principal) DO UPDATE SET regular = excluded.regular, bonus = excluded.bonus`,
		e.Principal, after.Regular, after.Bonus); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) EntryByRequest(ctx context.Context, requestID string) (*Entry, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, request_id, principal, before_regular, before_bonus, after_regular, after_bonus, amount, shortfall, outcome, at
FROM ledger_entries WHERE request_id = ?`, requestID)
	return scanEntry(row)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var outcome string
	err := row.Scan(
		&e.ID, &e.RequestID, &e.Principal,
		&e.Before.Regular, &e.Before.Bonus, &e.After.Regular, &e.After.Bonus,
		&e.Amount, &e.Shortfall, &outcome, &e.At,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Outcome = Outcome(outcome)
	return &e, nil
}
