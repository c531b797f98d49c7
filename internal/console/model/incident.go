package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/redoubt-sec/redoubt/pkg/phase"
)

// Severity classifies the business impact of an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// IncidentStatus represents the lifecycle state of an incident record.
type IncidentStatus string

const (
	StatusOpen      IncidentStatus = "open"
	StatusContained IncidentStatus = "contained"
	StatusResolved  IncidentStatus = "resolved"
	StatusClosed    IncidentStatus = "closed"
)

// Incident is the core domain model for one security incident.
type Incident struct {
	ID          uuid.UUID      `json:"id"                    db:"id"`
	TenantID    uuid.UUID      `json:"tenant_id"             db:"tenant_id"`
	Reference   string         `json:"reference"             db:"reference"`
	Title       string         `json:"title"                 db:"title"`
	Description string         `json:"description"           db:"description"`
	Severity    Severity       `json:"severity"              db:"severity"`
	Status      IncidentStatus `json:"status"                db:"status"`
	Phase       phase.Phase    `json:"phase"                 db:"phase"`
	LeadID      *uuid.UUID     `json:"lead_id,omitempty"     db:"lead_id"`
	CreatedBy   uuid.UUID      `json:"created_by"            db:"created_by"`
	CreatedAt   time.Time      `json:"created_at"            db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"            db:"updated_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"   db:"closed_at"`
}

// Open reports whether the incident still accepts lifecycle changes.
func (i *Incident) Open() bool {
	return i.Status != StatusClosed
}

// CreateIncidentRequest is the payload for opening a new incident.
type CreateIncidentRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity" binding:"required"`
	LeadID      *uuid.UUID `json:"lead_id,omitempty"`
}

// PhaseTransitionRequest advances (or steps back) the incident's response phase.
type PhaseTransitionRequest struct {
	Phase string `json:"phase" binding:"required"`
	Note  string `json:"note"`
}

// CloseIncidentRequest closes an incident with a resolution summary.
type CloseIncidentRequest struct {
	Summary string `json:"summary" binding:"required"`
}

// AppendEvidenceRequest is the payload for recording a new evidence entry.
// Phase is optional; when empty the incident's current phase is recorded.
type AppendEvidenceRequest struct {
	Type        string            `json:"entry_type" binding:"required"`
	Phase       string            `json:"phase"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ErrValidation is returned by service methods when the caller supplies
// invalid input. Handlers translate it to a 400 response.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }
