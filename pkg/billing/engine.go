package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/pullpay/pkg/audit"
	"github.com/platinummonkey/pullpay/pkg/ledger"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCadence is the minimum number of seconds between two collections
// of the same subscription: four weeks.
const DefaultCadence uint64 = 4 * 7 * 24 * 60 * 60

// Collection outcomes reported to Metrics
const (
	StatusCollected      = "collected"
	StatusNotFound       = "not_found"
	StatusAmountMismatch = "amount_mismatch"
	StatusTooSoon        = "cadence_not_elapsed"
	StatusDisabled       = "disabled"
	StatusDebitFailed    = "debit_failed"
	StatusError          = "error"
)

var billingTracer = otel.Tracer("pullpay/billing")

// Debit is a value transfer issued on behalf of From and credited to To.
// Initiator is the account the transfer is attributed to.
type Debit struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Initiator string `json:"initiator"`
	Amount    uint64 `json:"amount"`
}

// Debiter executes debits against the payer's account
type Debiter interface {
	Debit(ctx context.Context, d Debit) error
}

// Metrics receives engine measurements
type Metrics interface {
	SubscriptionCreated()
	CollectionAttempted(status string, amount uint64)
	LedgerUnitObserved(operation string, d time.Duration)
}

// Receipt describes a successful collection
type Receipt struct {
	ID          string    `json:"id"`
	Payee       string    `json:"payee"`
	Payer       string    `json:"payer"`
	Amount      uint64    `json:"amount"`
	CollectedAt uint64    `json:"collected_at"` // Unix seconds, equals the new LastPaid
	IssuedAt    time.Time `json:"issued_at"`
}

// Engine implements subscription creation and payment collection over a ledger
type Engine struct {
	ledger  ledger.Ledger
	debiter Debiter
	clock   clockwork.Clock
	cadence uint64
	logger  logrus.FieldLogger
	metrics Metrics
	audit   audit.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the time source
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) Option {
	return func(e *Engine) {
		e.audit = l
	}
}

// NewEngine creates an engine. debiter may be nil for deployments that only
// create subscriptions; CollectPayment then fails with ErrDebitFailed.
func NewEngine(l ledger.Ledger, debiter Debiter, opts ...Option) *Engine {
	e := &Engine{
		ledger:  l,
		debiter: debiter,
		clock:   clockwork.NewRealClock(),
		cadence: DefaultCadence,
		logger:  logrus.StandardLogger(),
		metrics: noopMetrics{},
		audit:   audit.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time in Unix seconds
func (e *Engine) Now() uint64 {
	sec := e.clock.Now().Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec)
}

// Cadence returns the collection interval in seconds
func (e *Engine) Cadence() uint64 {
	return e.cadence
}

// Due reports whether a record may be collected at now: at least one full
// cadence must have passed since LastPaid
func Due(rec ledger.Record, now, cadence uint64) bool {
	return now >= rec.LastPaid && now-rec.LastPaid >= cadence
}

// NextDue returns the earliest time rec can be collected
func NextDue(rec ledger.Record, cadence uint64) uint64 {
	if rec.LastPaid > ^uint64(0)-cadence {
		return ^uint64(0)
	}
	return rec.LastPaid + cadence
}

// CreateSubscription records that payer authorizes payee to pull amount once
// per cadence. An existing record for the pair is replaced and its history
// reset.
func (e *Engine) CreateSubscription(ctx context.Context, payer, payee string, amount uint64) (ledger.Record, error) {
	ctx, span := billingTracer.Start(ctx, "CreateSubscription",
		trace.WithAttributes(
			attribute.String("payer", payer),
			attribute.String("payee", payee),
			attribute.String("amount", strconv.FormatUint(amount, 10)),
		),
	)
	defer span.End()

	if payer == "" || payee == "" {
		err := fmt.Errorf("%w: payer and payee are required", ErrInvalidArgument)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid argument")
		return ledger.Record{}, err
	}

	rec := ledger.Record{Amount: amount, LastPaid: 0, Enabled: true}

	start := time.Now()
	err := e.ledger.Update(ctx, func(ctx context.Context, tx ledger.Store) error {
		return tx.Set(ctx, payee, payer, rec)
	})
	e.metrics.LedgerUnitObserved("createSubscription", time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store subscription")
		return ledger.Record{}, fmt.Errorf("failed to store subscription: %w", err)
	}

	e.metrics.SubscriptionCreated()
	e.logger.WithFields(logrus.Fields{
		"payer":  payer,
		"payee":  payee,
		"amount": amount,
	}).Info("Subscription created")
	e.logAudit(ctx, audit.NewEvent(ctx, audit.EventTypeSubscriptionCreate, audit.EventStatusSuccess).
		WithParties(payee, payer, amount))

	span.SetStatus(codes.Ok, "subscription created")
	return rec, nil
}

// CollectPayment pulls amount from payer into payee. The record is checked
// for existence, amount, cadence and enablement in that order; on success
// LastPaid is advanced to now and the debit is issued within the same
// ledger unit, so a re-entrant collection triggered by the debit observes
// the new LastPaid and fails the cadence check. A Debiter must undo its
// transfer through ledger.OnAbort if the unit does not commit.
func (e *Engine) CollectPayment(ctx context.Context, payee, payer string, amount uint64) (*Receipt, error) {
	ctx, span := billingTracer.Start(ctx, "CollectPayment",
		trace.WithAttributes(
			attribute.String("payer", payer),
			attribute.String("payee", payee),
			attribute.String("amount", strconv.FormatUint(amount, 10)),
		),
	)
	defer span.End()

	if payer == "" || payee == "" {
		err := fmt.Errorf("%w: payer and payee are required", ErrInvalidArgument)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid argument")
		return nil, err
	}

	now := e.Now()
	start := time.Now()
	err := e.ledger.Update(ctx, func(ctx context.Context, tx ledger.Store) error {
		rec, ok, err := tx.Get(ctx, payee, payer)
		if err != nil {
			return fmt.Errorf("failed to load subscription: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s has no subscription from %s", ErrSubscriptionNotFound, payee, payer)
		}
		if amount != rec.Amount {
			return fmt.Errorf("%w: requested %d, subscribed %d", ErrAmountMismatch, amount, rec.Amount)
		}
		if !Due(rec, now, e.cadence) {
			return fmt.Errorf("%w: next collection at %d", ErrCadenceNotElapsed, NextDue(rec, e.cadence))
		}
		if !rec.Enabled {
			return ErrSubscriptionDisabled
		}

		rec.LastPaid = now
		if err := tx.Set(ctx, payee, payer, rec); err != nil {
			return fmt.Errorf("failed to store subscription: %w", err)
		}

		if e.debiter == nil {
			return fmt.Errorf("%w: no debiter configured", ErrDebitFailed)
		}
		err = e.debiter.Debit(ctx, Debit{From: payer, To: payee, Initiator: payee, Amount: amount})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDebitFailed, err)
		}
		return nil
	})
	e.metrics.LedgerUnitObserved("collectPayment", time.Since(start))

	status := collectionStatus(err)
	e.metrics.CollectionAttempted(status, amount)

	log := e.logger.WithFields(logrus.Fields{
		"payer":  payer,
		"payee":  payee,
		"amount": amount,
		"status": status,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		log.WithError(err).Info("Collection rejected")
		e.logAudit(ctx, audit.NewEvent(ctx, audit.EventTypePaymentRejected, audit.EventStatusFailure).
			WithParties(payee, payer, amount).
			WithError(err))
		return nil, err
	}

	receipt := &Receipt{
		ID:          uuid.NewString(),
		Payee:       payee,
		Payer:       payer,
		Amount:      amount,
		CollectedAt: now,
		IssuedAt:    e.clock.Now().UTC(),
	}

	log.WithField("receipt_id", receipt.ID).Info("Payment collected")
	ev := audit.NewEvent(ctx, audit.EventTypePaymentCollect, audit.EventStatusSuccess).WithParties(payee, payer, amount)
	ev.Metadata = map[string]interface{}{"receipt_id": receipt.ID, "collected_at": now}
	e.logAudit(ctx, ev)

	span.SetAttributes(attribute.String("receipt_id", receipt.ID))
	span.SetStatus(codes.Ok, "payment collected")
	return receipt, nil
}

// Subscription returns the record for (payee, payer)
func (e *Engine) Subscription(ctx context.Context, payee, payer string) (ledger.Record, error) {
	rec, ok, err := e.ledger.Get(ctx, payee, payer)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("failed to load subscription: %w", err)
	}
	if !ok {
		return ledger.Record{}, fmt.Errorf("%w: %s has no subscription from %s", ErrSubscriptionNotFound, payee, payer)
	}
	return rec, nil
}

// Subscribers lists payee's subscriptions ordered by payer
func (e *Engine) Subscribers(ctx context.Context, payee string) ([]ledger.Entry, error) {
	entries, err := e.ledger.Subscribers(ctx, payee)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	return entries, nil
}

func (e *Engine) logAudit(ctx context.Context, ev *audit.AuditEvent) {
	if err := e.audit.Log(ctx, ev); err != nil {
		e.logger.WithError(err).Warn("Failed to write audit event")
	}
}

func collectionStatus(err error) string {
	switch {
	case err == nil:
		return StatusCollected
	case errors.Is(err, ErrSubscriptionNotFound):
		return StatusNotFound
	case errors.Is(err, ErrAmountMismatch):
		return StatusAmountMismatch
	case errors.Is(err, ErrCadenceNotElapsed):
		return StatusTooSoon
	case errors.Is(err, ErrSubscriptionDisabled):
		return StatusDisabled
	case errors.Is(err, ErrDebitFailed):
		return StatusDebitFailed
	default:
		return StatusError
	}
}

type noopMetrics struct{}

func (noopMetrics) SubscriptionCreated()                     {}
func (noopMetrics) CollectionAttempted(string, uint64)       {}
func (noopMetrics) LedgerUnitObserved(string, time.Duration) {}
