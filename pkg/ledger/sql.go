package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync/atomic"
)

// Dialect selects the SQL flavour spoken by an SQLLedger
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLLedger stores records in a relational table
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	nextSP  uint64
}

// NewSQLLedger creates a ledger over an open database handle
func NewSQLLedger(db *sql.DB, dialect Dialect) *SQLLedger {
	return &SQLLedger{
		db:      db,
		dialect: dialect,
	}
}

// Migrate creates the subscriptions table if it does not exist
func (l *SQLLedger) Migrate(ctx context.Context) error {
	// uint64 does not fit BIGINT, so amounts are kept as decimal text
	numeric := "NUMERIC(20,0)"
	if l.dialect == DialectSQLite {
		numeric = "TEXT"
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS subscriptions (
			payee      TEXT NOT NULL,
			payer      TEXT NOT NULL,
			amount     %[1]s NOT NULL,
			last_paid  %[1]s NOT NULL,
			enabled    BOOLEAN NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (payee, payer)
		)
	`, numeric)
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create subscriptions table: %w", err)
	}

	return nil
}

// Get retrieves a committed record
func (l *SQLLedger) Get(ctx context.Context, payee, payer string) (Record, bool, error) {
	return l.get(ctx, l.db, payee, payer, false)
}

// Set upserts a record outside of any unit of work
func (l *SQLLedger) Set(ctx context.Context, payee, payer string, rec Record) error {
	return l.set(ctx, l.db, payee, payer, rec)
}

// Subscribers lists the records held by payee
func (l *SQLLedger) Subscribers(ctx context.Context, payee string) ([]Entry, error) {
	query := `
		SELECT payer, amount, last_paid, enabled
		FROM subscriptions
		WHERE payee = $1
		ORDER BY payer
	`
	rows, err := l.db.QueryContext(ctx, query, payee)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			payer            string
			amount, lastPaid string
			enabled          bool
		)
		if err := rows.Scan(&payer, &amount, &lastPaid, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		rec, err := decodeRecord(amount, lastPaid, enabled)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Payee: payee, Payer: payer, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}

	return entries, nil
}

// Update runs fn inside a database transaction. Nested units use savepoints.
func (l *SQLLedger) Update(ctx context.Context, fn UnitFunc) error {
	if parent, ok := unitFrom(ctx, l).(*sqlTx); ok {
		return l.updateNested(ctx, parent, fn)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	unitCtx, hooks := beginHooks(ctx)
	unit := &sqlTx{ledger: l, tx: tx}
	if err := fn(withUnit(unitCtx, l, unit), unit); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return hooks.abort(ctx, err)
	}

	if err := tx.Commit(); err != nil {
		return hooks.abort(ctx, fmt.Errorf("failed to commit transaction: %w", err))
	}
	hooks.commit()

	return nil
}

func (l *SQLLedger) updateNested(ctx context.Context, parent *sqlTx, fn UnitFunc) error {
	name := fmt.Sprintf("ledger_sp_%d", atomic.AddUint64(&l.nextSP, 1))
	if _, err := parent.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	unitCtx, hooks := beginHooks(ctx)
	if err := fn(unitCtx, parent); err != nil {
		if _, rbErr := parent.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			err = fmt.Errorf("%w (rollback to savepoint failed: %v)", err, rbErr)
		}
		return hooks.abort(ctx, err)
	}

	if _, err := parent.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return hooks.abort(ctx, fmt.Errorf("failed to release savepoint: %w", err))
	}
	hooks.commit()

	return nil
}

func (l *SQLLedger) get(ctx context.Context, q querier, payee, payer string, forUpdate bool) (Record, bool, error) {
	query := `SELECT amount, last_paid, enabled FROM subscriptions WHERE payee = $1 AND payer = $2`
	if forUpdate && l.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}

	var (
		amount, lastPaid string
		enabled          bool
	)
	err := q.QueryRowContext(ctx, query, payee, payer).Scan(&amount, &lastPaid, &enabled)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get subscription: %w", err)
	}

	rec, err := decodeRecord(amount, lastPaid, enabled)
	if err != nil {
		return Record{}, false, err
	}

	return rec, true, nil
}

func (l *SQLLedger) set(ctx context.Context, q querier, payee, payer string, rec Record) error {
	query := `
		INSERT INTO subscriptions (payee, payer, amount, last_paid, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (payee, payer) DO UPDATE
		SET amount = EXCLUDED.amount, last_paid = EXCLUDED.last_paid,
		    enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
	`
	_, err := q.ExecContext(ctx, query, payee, payer,
		strconv.FormatUint(rec.Amount, 10), strconv.FormatUint(rec.LastPaid, 10), rec.Enabled)
	if err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}

	return nil
}

func decodeRecord(amount, lastPaid string, enabled bool) (Record, error) {
	a, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	p, err := strconv.ParseUint(lastPaid, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid stored last_paid %q: %w", lastPaid, err)
	}

	return Record{Amount: a, LastPaid: p, Enabled: enabled}, nil
}

// sqlTx is the Store view of an open transaction
type sqlTx struct {
	ledger *SQLLedger
	tx     *sql.Tx
}

func (t *sqlTx) Get(ctx context.Context, payee, payer string) (Record, bool, error) {
	return t.ledger.get(ctx, t.tx, payee, payer, true)
}

func (t *sqlTx) Set(ctx context.Context, payee, payer string, rec Record) error {
	return t.ledger.set(ctx, t.tx, payee, payer, rec)
}
