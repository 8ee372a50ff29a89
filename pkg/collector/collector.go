package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/platinummonkey/pullpay/pkg/api"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds in-flight collections per payee
const DefaultConcurrency = 4

// Metrics receives run results
type Metrics interface {
	CollectorRun(collected, failed int, at time.Time)
}

// Summary counts the outcome of a run
type Summary struct {
	Collected int                `json:"collected"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Receipts  []*billing.Receipt `json:"receipts,omitempty"`
}

func (s *Summary) add(o Summary) {
	s.Collected += o.Collected
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Receipts = append(s.Receipts, o.Receipts...)
}

// Collector collects due payments for a fixed set of payees
type Collector struct {
	client      Client
	payees      []string
	concurrency int
	clock       clockwork.Clock
	logger      logrus.FieldLogger
	metrics     Metrics

	runMu sync.Mutex
}

// Option configures a Collector
type Option func(*Collector)

// WithConcurrency bounds in-flight collections per payee
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithClock sets the clock used to timestamp runs
func WithClock(clock clockwork.Clock) Option {
	return func(c *Collector) {
		c.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// New creates a collector for payees
func New(client Client, payees []string, opts ...Option) *Collector {
	c := &Collector{
		client:      client,
		payees:      payees,
		concurrency: DefaultConcurrency,
		clock:       clockwork.NewRealClock(),
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run collects for every payee. Runs do not overlap; a failure to list one
// payee's subscribers does not stop the others.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	var (
		total Summary
		errs  []error
	)
	for _, payee := range c.payees {
		s, err := c.Collect(ctx, payee)
		total.add(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("payee %s: %w", payee, err))
		}
	}

	failed := total.Failed + len(errs)
	if c.metrics != nil {
		c.metrics.CollectorRun(total.Collected, failed, c.clock.Now())
	}

	c.logger.WithFields(logrus.Fields{
		"payees":    len(c.payees),
		"collected": total.Collected,
		"skipped":   total.Skipped,
		"failed":    failed,
	}).Info("Collection run finished")

	return total, errors.Join(errs...)
}

// Collect collects every enabled, due subscription of payee. Individual
// collection failures are counted in the summary; the returned error is
// non-nil only when the subscribers could not be listed or ctx ended.
func (c *Collector) Collect(ctx context.Context, payee string) (Summary, error) {
	log := c.logger.WithField("payee", payee)

	subs, err := c.client.Subscribers(ctx, payee)
	if err != nil {
		log.WithError(err).Error("Failed to list subscribers")
		return Summary{}, fmt.Errorf("failed to list subscribers: %w", err)
	}

	var (
		mu      sync.Mutex
		summary Summary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, sub := range subs {
		if !sub.Enabled || !sub.Due {
			continue
		}
		sub := sub
		g.Go(func() error {
			defer observability.RecoverPanic(log, "collect "+sub.Payer)

			outcome := c.collectOne(gctx, log, sub)

			mu.Lock()
			summary.add(outcome)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (c *Collector) collectOne(ctx context.Context, log logrus.FieldLogger, sub api.SubscriptionView) Summary {
	log = log.WithFields(logrus.Fields{
		"payer":  sub.Payer,
		"amount": sub.Amount,
	})

	if err := ctx.Err(); err != nil {
		return Summary{Failed: 1}
	}

	receipt, err := c.client.CollectPayment(ctx, sub.Payee, sub.Payer, sub.Amount)
	switch {
	case err == nil:
		log.WithField("receipt_id", receipt.ID).Debug("Collected")
		return Summary{Collected: 1, Receipts: []*billing.Receipt{receipt}}
	case Lost(err):
		log.WithError(err).Debug("Skipped")
		return Summary{Skipped: 1}
	default:
		log.WithError(err).Warn("Collection failed")
		return Summary{Failed: 1}
	}
}

// Lost reports whether err means the record changed between listing and
// collecting: it was paid, replaced, disabled or removed in the meantime.
func Lost(err error) bool {
	return errors.Is(err, billing.ErrCadenceNotElapsed) ||
		errors.Is(err, billing.ErrAmountMismatch) ||
		errors.Is(err, billing.ErrSubscriptionDisabled) ||
		errors.Is(err, billing.ErrSubscriptionNotFound)
}

// Schedule returns a cron scheduler that runs the collector on spec. The
// caller starts and stops it.
func (c *Collector) Schedule(spec string) (*cron.Cron, error) {
	logger := cron.PrintfLogger(c.logger)
	sched := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := sched.AddFunc(spec, func() {
		if _, err := c.Run(context.Background()); err != nil {
			c.logger.WithError(err).Warn("Collection run incomplete")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid collector schedule %q: %w", spec, err)
	}
	return sched, nil
}
