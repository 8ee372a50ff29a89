// Package ledger persists subscription records keyed by (payee, payer).
//
// # Overview
//
// Records are stored as a two-level mapping: first by service (payee), then by
// subscriber (payer). A service can enumerate only its own subscribers, and a
// subscriber may hold independent records with many services.
//
// The package performs no validation. Billing rules live in pkg/billing, which
// drives every mutation through Ledger.Update so that a failed precondition or
// a failed debit leaves the stored state untouched.
//
// # Backends
//
// MemoryLedger: in-process maps, used by tests and single-node deployments
//
// SQLLedger: database/sql with a postgres (lib/pq) or sqlite (go-sqlite3) dialect
//
//	db, _ := sql.Open("postgres", url)
//	l := ledger.NewSQLLedger(db, ledger.DialectPostgres)
//	if err := l.Migrate(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// RedisLedger: one hash per payee, optimistic commit with WATCH/MULTI
//
// # Units of work
//
//	err := l.Update(ctx, func(ctx context.Context, tx ledger.Store) error {
//		rec, ok, err := tx.Get(ctx, payee, payer)
//		...
//		return tx.Set(ctx, payee, payer, rec)
//	})
//
// A call to Update with a ctx obtained inside another unit of the same ledger
// nests in it, so a re-entrant operation observes writes that the outer
// operation has already made.
package ledger
