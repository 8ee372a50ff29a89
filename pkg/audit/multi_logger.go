package audit

import (
	"context"
	"errors"
)

// MultiLogger fans events out to several sinks
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines sinks into one Logger
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log delivers event to every sink. A failing sink does not stop delivery
// to the rest; the first failure is reported.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var first error
	for _, sink := range m.sinks {
		err := sink.Log(ctx, event)
		if first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink
func (m *MultiLogger) Close() error {
	errs := make([]error, 0, len(m.sinks))
	for _, sink := range m.sinks {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}
