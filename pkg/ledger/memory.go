package ledger

import (
	"context"
	"sync"
)

// MemoryLedger keeps records in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]map[string]Record

	// unitMu serializes top-level units of work
	unitMu sync.Mutex
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]map[string]Record),
	}
}

// Get retrieves the committed record for (payee, payer)
func (l *MemoryLedger) Get(ctx context.Context, payee, payer string) (Record, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[payee][payer]
	return rec, ok, nil
}

// Set stores a record outside of any unit of work
func (l *MemoryLedger) Set(ctx context.Context, payee, payer string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setLocked(payee, payer, rec)
	return nil
}

func (l *MemoryLedger) setLocked(payee, payer string, rec Record) {
	subscribers, ok := l.records[payee]
	if !ok {
		subscribers = make(map[string]Record)
		l.records[payee] = subscribers
	}
	subscribers[payer] = rec
}

// Subscribers lists the records held by payee
func (l *MemoryLedger) Subscribers(ctx context.Context, payee string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, 0, len(l.records[payee]))
	for payer, rec := range l.records[payee] {
		entries = append(entries, Entry{Payee: payee, Payer: payer, Record: rec})
	}
	sortEntries(entries)

	return entries, nil
}

// Update runs fn as an atomic unit of work
func (l *MemoryLedger) Update(ctx context.Context, fn UnitFunc) error {
	if parent, ok := unitFrom(ctx, l).(*overlay); ok {
		return runNested(ctx, l, parent, fn)
	}

	l.unitMu.Lock()
	defer l.unitMu.Unlock()

	unitCtx, hooks := beginHooks(ctx)
	unit := newOverlay(l)
	if err := fn(withUnit(unitCtx, l, unit), unit); err != nil {
		return hooks.abort(ctx, err)
	}

	l.mu.Lock()
	for _, k := range unit.order {
		l.setLocked(k.payee, k.payer, unit.writes[k])
	}
	l.mu.Unlock()
	hooks.commit()

	return nil
}

// Snapshot returns a deep copy of every committed record
func (l *MemoryLedger) Snapshot() map[string]map[string]Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]map[string]Record, len(l.records))
	for payee, subscribers := range l.records {
		cp := make(map[string]Record, len(subscribers))
		for payer, rec := range subscribers {
			cp[payer] = rec
		}
		out[payee] = cp
	}

	return out
}
