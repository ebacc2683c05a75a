// Package report publishes final balances to external sinks.
package report

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/txengine/internal/ledger"
)

// Sink receives the final accounts of a run.
type Sink interface {
	Publish(ctx context.Context, runID uuid.UUID, accounts []ledger.Account) error
}

const schema = `
CREATE TABLE IF NOT EXISTS account_balances (
    run_id       UUID        NOT NULL,
    client       INTEGER     NOT NULL,
    available    NUMERIC     NOT NULL,
    held         NUMERIC     NOT NULL,
    total        NUMERIC     NOT NULL,
    locked       BOOLEAN     NOT NULL,
    published_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (run_id, client)
)`

const upsertBalance = `
INSERT INTO account_balances (run_id, client, available, held, total, locked)
VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6)
ON CONFLICT (run_id, client) DO UPDATE SET
    available = EXCLUDED.available,
    held = EXCLUDED.held,
    total = EXCLUDED.total,
    locked = EXCLUDED.locked,
    published_at = now()`

// PostgresSink writes one row per client per run into account_balances.
type PostgresSink struct {
	db        *pgxpool.Pool
	precision int32
}

// NewPostgresSink constructs a sink storing amounts rounded to precision places.
func NewPostgresSink(db *pgxpool.Pool, precision int32) *PostgresSink {
	return &PostgresSink{db: db, precision: precision}
}

// EnsureSchema creates the balances table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create account_balances: %w", err)
	}
	return nil
}

// Publish stores every account of the run in a single transaction.
func (s *PostgresSink) Publish(ctx context.Context, runID uuid.UUID, accounts []ledger.Account) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin publish: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	batch := &pgx.Batch{}
	for _, a := range accounts {
		batch.Queue(upsertBalance,
			runID,
			int32(a.Client),
			a.Available.StringFixed(s.precision),
			a.Held.StringFixed(s.precision),
			a.Total.StringFixed(s.precision),
			a.Locked,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("publish balances: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit publish: %w", err)
	}
	return nil
}

// Balances reads back the accounts published for runID in ascending client order.
func (s *PostgresSink) Balances(ctx context.Context, runID uuid.UUID) ([]ledger.Account, error) {
	const query = `
        SELECT client, available::text, held::text, total::text, locked
        FROM account_balances
        WHERE run_id = $1
        ORDER BY client`

	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var (
			client                  int32
			available, held, total string
			locked                  bool
		)
		if err := rows.Scan(&client, &available, &held, &total, &locked); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		acct := ledger.Account{Client: uint16(client), Locked: locked}
		if acct.Available, err = decimal.NewFromString(available); err != nil {
			return nil, fmt.Errorf("client %d available: %w", client, err)
		}
		if acct.Held, err = decimal.NewFromString(held); err != nil {
			return nil, fmt.Errorf("client %d held: %w", client, err)
		}
		if acct.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("client %d total: %w", client, err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read balances: %w", err)
	}
	return out, nil
}
