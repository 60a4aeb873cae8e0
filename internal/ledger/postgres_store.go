package ledger

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is the shared Store backend. The settlement transaction
// takes a row lock on the principal's balance so concurrent processes
// serialize their read-modify-write the same way the in-process ledger does.
type PostgresStore struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

// NewPostgresStore connects and pings the database at dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS credit_balances (
  principal TEXT PRIMARY KEY,
  regular BIGINT NOT NULL DEFAULT 0,
  bonus BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger_entries (
  id TEXT PRIMARY KEY,
  request_id TEXT NOT NULL UNIQUE,
  principal TEXT NOT NULL,
  before_regular BIGINT NOT NULL,
  before_bonus BIGINT NOT NULL,
  after_regular BIGINT NOT NULL,
  after_bonus BIGINT NOT NULL,
  amount BIGINT NOT NULL,
  shortfall BIGINT NOT NULL DEFAULT 0,
  outcome TEXT NOT NULL,
  at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_principal ON ledger_entries (principal);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Balance(ctx context.Context, principal string) (Balance, error) {
	if err := s.ensureSchema(); err != nil {
		return Balance{}, err
	}
	var b Balance
	err := s.db.QueryRowContext(ctx,
		`SELECT regular, bonus FROM credit_balances WHERE principal = $1`, principal).
		Scan(&b.Regular, &b.Bonus)
	if err == sql.ErrNoRows {
		return Balance{}, nil
	}
	return b, err
}

func (s *PostgresStore) Provision(ctx context.Context, principal string, b Balance) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credit_balances (principal, regular, bonus) VALUES ($1, $2, $3)
ON CONFLICT (principal) DO UPDATE SET regular = EXCLUDED.regular, bonus = EXCLUDED.bonus`,
		principal, b.Regular, b.Bonus)
	return err
}

func (s *PostgresStore) Settle(ctx context.Context, after Balance, e Entry) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Row lock; balance row may not exist yet for a fresh principal.
	var cur Balance
	err = tx.QueryRowContext(ctx,
		`SELECT regular, bonus FROM credit_balances WHERE principal = $1 FOR UPDATE`, e.Principal).
		Scan(&cur.Regular, &cur.Bonus)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger_entries
  (id, request_id, principal, before_regular, before_bonus, after_regular, after_bonus, amount, shortfall, outcome, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.RequestID, e.Principal,
		e.Before.Regular, e.Before.Bonus, e.After.Regular, e.After.Bonus,
		e.Amount, e.Shortfall, string(e.Outcome), e.At); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicate
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO credit_balances (principal, regular, bonus) VALUES ($1, $2, $3)
ON CONFLICT (principal) DO UPDATE SET regular = EXCLUDED.regular, bonus = EXCLUDED.bonus`,
		e.Principal, after.Regular, after.Bonus); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) EntryByRequest(ctx context.Context, requestID string) (*Entry, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, request_id, principal, before_regular, before_bonus, after_regular, after_bonus, amount, shortfall, outcome, at
FROM ledger_entries WHERE request_id = $1`, requestID)
	return scanEntry(row)
}

func (s *PostgresStore) Close() error { return s.db.Close() }
