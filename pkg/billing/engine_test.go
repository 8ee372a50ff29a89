package billing

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/pullpay/pkg/audit"
	"github.com/platinummonkey/pullpay/pkg/ledger"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	payer = "alice"
	payee = "streaming-svc"
)

type recordingDebiter struct {
	mu     sync.Mutex
	debits []Debit
	err    error
	hook   func(ctx context.Context, d Debit) error
}

func (r *recordingDebiter) Debit(ctx context.Context, d Debit) error {
	if r.hook != nil {
		if err := r.hook(ctx, d); err != nil {
			return err
		}
	}
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debits = append(r.debits, d)
	return nil
}

type recordingMetrics struct {
	created     int
	collections map[string]int
	units       int
}

func (m *recordingMetrics) SubscriptionCreated() { m.created++ }

func (m *recordingMetrics) CollectionAttempted(status string, amount uint64) {
	if m.collections == nil {
		m.collections = make(map[string]int)
	}
	m.collections[status]++
}

func (m *recordingMetrics) LedgerUnitObserved(operation string, d time.Duration) { m.units++ }

type testEngine struct {
	*Engine
	ledger  *ledger.MemoryLedger
	clock   *clockwork.FakeClock
	debiter *recordingDebiter
}

func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()

	l := ledger.NewMemoryLedger()
	clock := clockwork.NewFakeClockAt(time.Unix(0, 0))
	debiter := &recordingDebiter{}
	log, _ := test.NewNullLogger()

	opts = append([]Option{WithClock(clock), WithLogger(log)}, opts...)
	return &testEngine{
		Engine:  NewEngine(l, debiter, opts...),
		ledger:  l,
		clock:   clock,
		debiter: debiter,
	}
}

// advanceTo moves the fake clock to the given Unix second
func (e *testEngine) advanceTo(sec uint64) {
	e.clock.Advance(time.Unix(int64(sec), 0).Sub(e.clock.Now()))
}

func TestDefaultCadence(t *testing.T) {
	assert.Equal(t, uint64(2419200), DefaultCadence)
}

func TestCreateSubscription(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec, err := e.CreateSubscription(ctx, payer, payee, 50)
	require.NoError(t, err)
	assert.Equal(t, ledger.Record{Amount: 50, LastPaid: 0, Enabled: true}, rec)

	stored, err := e.Subscription(ctx, payee, payer)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)
}

func TestCreateSubscriptionOverwrites(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateSubscription(ctx, payer, payee, 50)
	require.NoError(t, err)
	e.advanceTo(DefaultCadence)
	_, err = e.CollectPayment(ctx, payee, payer, 50)
	require.NoError(t, err)

	_, err = e.CreateSubscription(ctx, payer, payee, 70)
	require.NoError(t, err)

	rec, err := e.Subscription(ctx, payee, payer)
	require.NoError(t, err)
	assert.Equal(t, ledger.Record{Amount: 70, LastPaid: 0, Enabled: true}, rec)
}

func TestCreateSubscriptionInvalidArgument(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateSubscription(ctx, "", payee, 50)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.CreateSubscription(ctx, payer, "", 50)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, e.ledger.Snapshot())
}

func TestCollectPaymentScenario(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateSubscription(ctx, payer, payee, 50)
	require.NoError(t, err)

	// t=0: nothing has elapsed yet
	_, err = e.CollectPayment(ctx, payee, payer, 50)
	assert.ErrorIs(t, err, ErrCadenceNotElapsed)

	// t=4 weeks
	e.advanceTo(2419200)
	receipt, err := e.CollectPayment(ctx, payee, payer, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(2419200), receipt.CollectedAt)
	assert.Equal(t, payee, receipt.Payee)
	assert.Equal(t, payer, receipt.Payer)
	assert.Equal(t, uint64(50), receipt.Amount)
	assert.NotEmpty(t, receipt.ID)

	rec, err := e.Subscription(ctx, payee, payer)
	require.NoError(t, err)
	assert.Equal(t, uint64(2419200), rec.LastPaid)

	// immediate retry at the same instant
	_, err = e.CollectPayment(ctx, payee, payer, 50)
	assert.ErrorIs(t, err, ErrCadenceNotElapsed)

	require.Len(t, e.debiter.debits, 1)
	assert.Equal(t, Debit{From: payer, To: payee, Initiator: payee, Amount: 50}, e.debiter.debits[0])
}

func TestCollectPaymentCadenceBoundary(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	const start = 1_000_000
	e.advanceTo(start)
	require.NoError(t, e.ledger.Set(ctx, payee, payer, ledger.Record{Amount: 50, LastPaid: start, Enabled: true}))

	e.advanceTo(start + DefaultCadence - 1)
	_, err := e.CollectPayment(ctx, payee, payer, 50)
	assert.ErrorIs(t, err, ErrCadenceNotElapsed)

	e.advanceTo(start + DefaultCadence)
	_, err = e.CollectPayment(ctx, payee, payer, 50)
	assert.NoError(t, err)
}

func TestCollectPaymentLastPaidInFuture(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.advanceTo(100)
	require.NoError(t, e.ledger.Set(ctx, payee, payer, ledger.Record{Amount: 50, LastPaid: 10 * DefaultCadence, Enabled: true}))

	_, err := e.CollectPayment(ctx, payee, payer, 50)
	assert.ErrorIs(t, err, ErrCadenceNotElapsed)
}

func TestCollectPaymentMonotonicLastPaid(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateSubscription(ctx, payer, payee, 50)
	require.NoError(t, err)

	times := []uint64{DefaultCadence, 2*DefaultCadence + 17, 4 * DefaultCadence}
	for _, ts := range times {
		e.advanceTo(ts)
		_, err := e.CollectPayment(ctx, payee, payer, 50)
		require.NoError(t, err)
	}

	rec, err := e.Subscription(ctx, payee, payer)
	require.NoError(t, err)
	assert.Equal(t, times[len(times)-1], rec.LastPaid)
	assert.Len(t, e.debiter.debits, len(times))
}

func TestCollectPaymentRejectionsLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, e *testEngine)
		amount  uint64
		payer   string
		wantErr error
	}{
		{
			name:    "not found",
			setup:   func(t *testing.T, e *testEngine) { e.advanceTo(DefaultCadence) },
			amount:  50,
			payer:   "bob",
			wantErr: ErrSubscriptionNotFound,
		},
		{
			name:    "amount too high",
			setup:   func(t *testing.T, e *testEngine) { e.advanceTo(DefaultCadence) },
			amount:  51,
			payer:   payer,
			wantErr: ErrAmountMismatch,
		},
		{
			name:    "amount too low",
			setup:   func(t *testing.T, e *testEngine) { e.advanceTo(DefaultCadence) },
			amount:  0,
			payer:   payer,
			wantErr: ErrAmountMismatch,
		},
		{
			name:    "too soon",
			setup:   func(t *testing.T, e *testEngine) { e.advanceTo(DefaultCadence - 1) },
			amount:  50,
			payer:   payer,
			wantErr: ErrCadenceNotElapsed,
		},
		{
			name: "disabled",
			setup: func(t *testing.T, e *testEngine) {
				require.NoError(t, e.ledger.Set(context.Background(), payee, payer, ledger.Record{Amount: 50, Enabled: false}))
				e.advanceTo(DefaultCadence)
			},
			amount:  50,
			payer:   payer,
			wantErr: ErrSubscriptionDisabled,
		},
		{
			name: "debit failure",
			setup: func(t *testing.T, e *testEngine) {
				e.debiter.err = errors.New("insufficient funds")
				e.advanceTo(DefaultCadence)
			},
			amount:  50,
			payer:   payer,
			wantErr: ErrDebitFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			ctx := context.Background()
			_, err := e.CreateSubscription(ctx, payer, payee, 50)
			require.NoError(t, err)
			tt.setup(t, e)

			before := e.ledger.Snapshot()
			receipt, err := e.CollectPayment(ctx, payee, tt.payer, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, receipt)
			assert.Equal(t, before, e.ledger.Snapshot())
			assert.Empty(t, e.debiter.debits)
		})
	}
}

func TestCollectPaymentCheckOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.ledger.Set(ctx, payee, payer, ledger.Record{Amount: 50, LastPaid: 0, Enabled: false}))

	// wrong amount wins over cadence and disabled
	_, err := e.CollectPayment(ctx, payee, payer, 10)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	// cadence wins over disabled
	_, err = e.CollectPayment(ctx, payee, payer, 50)
	assert.ErrorIs(t, err, ErrCadenceNotElapsed)

	e.advanceTo(DefaultCadence)
	_, err = e.CollectPayment(ctx, payee, payer, 50)
	assert.ErrorIs(t, err, ErrSubscriptionDisabled)
}

func TestCollectPaymentReentrantDebit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateSubscription(ctx, payer, payee, 50)
	require.NoError(t, err)
	e.advanceTo(DefaultCadence)

	var reentrantErr error
	calls := 0
	e.debiter.hook = func(ctx context.Context, d Debit) error {
		calls++
		if calls == 1 {
			_, reentrantErr = e.CollectPayment(ctx, payee, payer, 50)
		}
		return nil
	}

	_, err = e.CollectPayment(ctx, payee, payer, 50)
	require.NoError(t, err)
	assert.ErrorIs(t, reentrantErr, ErrCadenceNotElapsed)
	assert.Len(t, e.debiter.debits, 1)

	rec, err := e.Subscription(ctx, payee, payer)
	require.NoError(t, err)
	assert.Equal(t, DefaultCadence, rec.LastPaid)
}

func TestCollectPaymentWithoutDebiter(t *testing.T) {
	l := ledger.NewMemoryLedger()
	clock := clockwork.NewFakeClockAt(time.Unix(int64(DefaultCadence), 0))
	e := NewEngine(l, nil, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, l.Set(ctx, payee, payer, ledger.Record{Amount: 50, Enabled: true}))
	_, err := e.CollectPayment(ctx, payee, payer, 50)
	assert.ErrorIs(t, err, ErrDebitFailed)

	rec, _, _ := l.Get(ctx, payee, payer)
	assert.Equal(t, uint64(0), rec.LastPaid)
}

func TestEngineMetricsAndAudit(t *testing.T) {
	metrics := &recordingMetrics{}
	dir := t.TempDir()
	auditLog, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	defer auditLog.Close()

	e := newTestEngine(t, WithMetrics(metrics), WithAuditLogger(auditLog))
	ctx := context.Background()

	_, err = e.CreateSubscription(ctx, payer, payee, 50)
	require.NoError(t, err)
	_, err = e.CollectPayment(ctx, payee, payer, 50)
	require.Error(t, err)
	e.advanceTo(DefaultCadence)
	_, err = e.CollectPayment(ctx, payee, payer, 50)
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.created)
	assert.Equal(t, map[string]int{StatusTooSoon: 1, StatusCollected: 1}, metrics.collections)
	assert.Equal(t, 3, metrics.units)

	events, err := auditLog.ReadLogs(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, audit.EventTypeSubscriptionCreate, events[0].EventType)
	assert.Equal(t, audit.EventTypePaymentRejected, events[1].EventType)
	assert.Contains(t, events[1].ErrorMessage, "cadence not elapsed")
	assert.Equal(t, audit.EventTypePaymentCollect, events[2].EventType)
	assert.Equal(t, uint64(50), events[2].Amount)
}

func TestSubscribers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, p := range []string{"carol", "alice", "bob"} {
		_, err := e.CreateSubscription(ctx, p, payee, 10)
		require.NoError(t, err)
	}
	_, err := e.CreateSubscription(ctx, "alice", "other-svc", 10)
	require.NoError(t, err)

	entries, err := e.Subscribers(ctx, payee)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alice", entries[0].Payer)
	assert.Equal(t, "carol", entries[2].Payer)

	_, err = e.Subscription(ctx, payee, "dave")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestDueAndNextDue(t *testing.T) {
	rec := ledger.Record{LastPaid: 100}
	assert.False(t, Due(rec, 100+DefaultCadence-1, DefaultCadence))
	assert.True(t, Due(rec, 100+DefaultCadence, DefaultCadence))
	assert.False(t, Due(rec, 50, DefaultCadence))
	assert.Equal(t, 100+DefaultCadence, NextDue(rec, DefaultCadence))
	assert.Equal(t, ^uint64(0), NextDue(ledger.Record{LastPaid: ^uint64(0) - 1}, DefaultCadence))
}

func TestSpansRecordFullAmount(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.CreateSubscription(ctx, payer, payee, math.MaxUint64)
	require.NoError(t, err)
	_, err = e.CollectPayment(ctx, payee, payer, math.MaxUint64)
	assert.ErrorIs(t, err, ErrCadenceNotElapsed)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		var amount attribute.Value
		for _, kv := range span.Attributes() {
			if kv.Key == "amount" {
				amount = kv.Value
			}
		}
		assert.Equal(t, "18446744073709551615", amount.AsString(), span.Name())
	}
}
