package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEndpoint is a registered delivery target, subscribed to a set of
// event-type strings (e.g. "deposit.success").
type WebhookEndpoint struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscribedTo reports whether the endpoint is active and has subscribed
// to eventType.
func (e WebhookEndpoint) SubscribedTo(eventType string) bool {
	if !e.IsActive {
		return false
	}
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// WebhookStatus is the lifecycle state of a queued WebhookEvent:
// PENDING -> PROCESSING -> DELIVERED, or PROCESSING -> PENDING (retry) ->
// ... -> FAILED once attempts are exhausted.
type WebhookStatus string

const (
	WebhookPending    WebhookStatus = "PENDING"
	WebhookProcessing WebhookStatus = "PROCESSING"
	WebhookDelivered  WebhookStatus = "DELIVERED"
	WebhookFailed     WebhookStatus = "FAILED"
)

// WebhookEvent is one queued delivery: a single copy of a domain event
// addressed to a single endpoint. NextAttemptAt is bookkeeping used by the
// retry scheduler in internal/webhookworker. ClaimedAt is set by
// ClaimBatch every time the row moves to PROCESSING (not just once at
// creation), so RecoverStuckProcessing can tell a genuinely stuck row
// apart from an old row that has simply been retried a few times.
type WebhookEvent struct {
	ID            uuid.UUID       `json:"id"`
	EndpointID    uuid.UUID       `json:"endpoint_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        WebhookStatus   `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	NextAttemptAt *time.Time      `json:"-"`
	ClaimedAt     *time.Time      `json:"-"`
}

// NewWebhookEvent builds a PENDING webhook queue row for a single endpoint.
func NewWebhookEvent(endpointID uuid.UUID, eventType string, payload json.RawMessage) WebhookEvent {
	return WebhookEvent{
		ID:         uuid.New(),
		EndpointID: endpointID,
		EventType:  eventType,
		Payload:    payload,
		Status:     WebhookPending,
		CreatedAt:  time.Now().UTC(),
	}
}
