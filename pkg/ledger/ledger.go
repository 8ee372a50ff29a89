package ledger

import (
	"context"
	"errors"
	"sort"
)

// ErrConflict is returned when a unit of work could not be committed because
// a record it read was changed concurrently.
var ErrConflict = errors.New("ledger: concurrent modification")

// Record is one subscriber's standing authorization to be billed by one service.
type Record struct {
	Amount   uint64 `json:"amount"`    // Fixed per-cycle debit amount
	LastPaid uint64 `json:"last_paid"` // Unix seconds of the last collection, 0 if never
	Enabled  bool   `json:"enabled"`
}

// Entry is a record together with its composite key.
type Entry struct {
	Payee  string `json:"payee"`
	Payer  string `json:"payer"`
	Record Record `json:"record"`
}

// Store is the minimal read/write contract over subscription records.
// Implementations perform no validation.
type Store interface {
	// Get returns the record stored for (payee, payer) and whether it exists.
	Get(ctx context.Context, payee, payer string) (Record, bool, error)

	// Set stores rec for (payee, payer), replacing any previous record.
	Set(ctx context.Context, payee, payer string, rec Record) error
}

// UnitFunc is the body of an atomic unit of work. tx must be used for every
// read and write that belongs to the unit; ctx carries the open unit so that
// nested calls to Update join it.
type UnitFunc func(ctx context.Context, tx Store) error

// Ledger is a Store with listing and atomic units of work.
type Ledger interface {
	Store

	// Subscribers lists every record held by payee, ordered by payer.
	Subscribers(ctx context.Context, payee string) ([]Entry, error)

	// Update runs fn as one atomic unit. Writes made through tx are visible to
	// later reads through tx and are committed only if fn returns nil.
	// If ctx already carries an open unit of this ledger, fn runs nested in it:
	// its writes merge into the outer unit on success and are dropped on error.
	// Compensations registered with OnAbort run whenever the unit's writes
	// are discarded, including a failed commit.
	Update(ctx context.Context, fn UnitFunc) error
}

type recordKey struct {
	payee string
	payer string
}

// txKey scopes an open unit to the ledger instance that created it.
type txKey struct {
	owner any
}

func withUnit(ctx context.Context, owner any, unit any) context.Context {
	return context.WithValue(ctx, txKey{owner: owner}, unit)
}

func unitFrom(ctx context.Context, owner any) any {
	return ctx.Value(txKey{owner: owner})
}

// overlay buffers writes on top of a parent store. Reads fall through to the
// parent for keys that have not been written in this overlay.
type overlay struct {
	parent Store
	writes map[recordKey]Record
	order  []recordKey
}

func newOverlay(parent Store) *overlay {
	return &overlay{
		parent: parent,
		writes: make(map[recordKey]Record),
	}
}

func (o *overlay) Get(ctx context.Context, payee, payer string) (Record, bool, error) {
	if rec, ok := o.writes[recordKey{payee, payer}]; ok {
		return rec, true, nil
	}
	return o.parent.Get(ctx, payee, payer)
}

func (o *overlay) Set(ctx context.Context, payee, payer string, rec Record) error {
	k := recordKey{payee, payer}
	if _, ok := o.writes[k]; !ok {
		o.order = append(o.order, k)
	}
	o.writes[k] = rec
	return nil
}

// flush writes the buffered records into the parent in first-write order.
func (o *overlay) flush(ctx context.Context) error {
	for _, k := range o.order {
		if err := o.parent.Set(ctx, k.payee, k.payer, o.writes[k]); err != nil {
			return err
		}
	}
	return nil
}

// runNested executes fn on a child overlay of parent and merges it on success.
func runNested(ctx context.Context, owner any, parent *overlay, fn UnitFunc) error {
	unitCtx, hooks := beginHooks(ctx)
	child := newOverlay(parent)
	if err := fn(withUnit(unitCtx, owner, child), child); err != nil {
		return hooks.abort(ctx, err)
	}
	if err := child.flush(ctx); err != nil {
		return hooks.abort(ctx, err)
	}
	hooks.commit()
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Payer < entries[j].Payer
	})
}
