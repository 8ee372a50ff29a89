package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/pullpay/pkg/contextkeys"
)

// EventType represents the category of audit event
type EventType string

const (
	// Subscription events
	EventTypeSubscriptionCreate EventType = "subscription.create"

	// Payment events
	EventTypePaymentCollect  EventType = "payment.collect"
	EventTypePaymentRejected EventType = "payment.rejected"

	// Authorization events
	EventTypeAuthzDenied EventType = "authz.denied"

	// Plugin events
	EventTypePluginInstall EventType = "plugin.install"
	EventTypePluginRebind  EventType = "plugin.rebind"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// Core fields
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Invocation
	Caller    string `json:"caller,omitempty"`
	PluginID  string `json:"plugin_id,omitempty"`
	Operation string `json:"operation,omitempty"`
	Path      string `json:"path,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Subscription
	Payee  string `json:"payee,omitempty"`
	Payer  string `json:"payer,omitempty"`
	Amount uint64 `json:"amount,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent builds an event stamped with an ID, the current time and the
// request ID carried by ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.RequestID(ctx),
	}
}

// WithParties sets the subscription parties and amount
func (e *AuditEvent) WithParties(payee, payer string, amount uint64) *AuditEvent {
	e.Payee = payee
	e.Payer = payer
	e.Amount = amount
	return e
}

// WithError records err as the failure reason
func (e *AuditEvent) WithError(err error) *AuditEvent {
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return e
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}
