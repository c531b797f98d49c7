package notify

import (
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the platform.
const (
	EventIncidentCreated         = "incident.created"
	EventIncidentPhaseChanged    = "incident.phase_changed"
	EventIncidentClosed          = "incident.closed"
	EventEvidenceAppended        = "evidence.appended"
	EventChainVerificationFailed = "chain.verification_failed"
	EventDecisionCompleted       = "decision.completed"
)

// ValidEventType reports whether t is a known event type.
func ValidEventType(t string) bool {
	switch t {
	case EventIncidentCreated, EventIncidentPhaseChanged, EventIncidentClosed,
		EventEvidenceAppended, EventChainVerificationFailed, EventDecisionCompleted:
		return true
	}
	return false
}

// Subscription represents a tenant's subscription to webhook events.
type Subscription struct {
	ID         uuid.UUID `json:"id"          db:"id"`
	TenantID   uuid.UUID `json:"tenant_id"   db:"tenant_id"`
	URL        string    `json:"url"         db:"url"`
	EventTypes []string  `json:"event_types" db:"event_types"`
	Secret     string    `json:"-"           db:"secret"` // never returned in API responses
	Active     bool      `json:"active"      db:"active"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// Event is the envelope POSTed to matching subscriptions. The ID doubles
// as the delivery correlation value carried in the X-Redoubt-Delivery header.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"              db:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id" db:"subscription_id"`
	EventID        uuid.UUID `json:"event_id"        db:"event_id"`
	EventType      string    `json:"event_type"      db:"event_type"`
	StatusCode     int       `json:"status_code"     db:"status_code"`
	Attempt        int       `json:"attempt"         db:"attempt"`
	Success        bool      `json:"success"         db:"success"`
	ErrorMessage   string    `json:"error_message"   db:"error_message"`
	DeliveredAt    time.Time `json:"delivered_at"    db:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a webhook subscription.
type CreateSubscriptionRequest struct {
	URL        string   `json:"url"         binding:"required,url"`
	EventTypes []string `json:"event_types" binding:"required"`
}

// ErrValidation is returned for requests that fail semantic validation.
type ErrValidation struct {
	Msg string
}

func (e *ErrValidation) Error() string { return e.Msg }
