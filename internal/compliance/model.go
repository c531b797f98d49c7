package compliance

import (
	"time"

	"github.com/google/uuid"
)

// Framework is a compliance framework the platform tracks, e.g. SOC 2
// or ISO 27001. Frameworks and their control catalogs are global; only
// assessments are tenant data.
type Framework struct {
	Code        string `json:"code"        db:"code"`
	Name        string `json:"name"        db:"name"`
	Version     string `json:"version"     db:"version"`
	Description string `json:"description" db:"description"`
}

// Control is a single requirement within a framework, identified by the
// framework's own numbering ("CC1.1", "A.5.1", ...).
type Control struct {
	ID            uuid.UUID `json:"id"             db:"id"`
	FrameworkCode string    `json:"framework_code" db:"framework_code"`
	ControlID     string    `json:"control_id"     db:"control_id"`
	Title         string    `json:"title"          db:"title"`
	Description   string    `json:"description"    db:"description"`
	Category      string    `json:"category"       db:"category"`
}

// AssessmentStatus is the lifecycle state of an assessment.
type AssessmentStatus string

const (
	AssessmentInProgress AssessmentStatus = "in_progress"
	AssessmentCompleted  AssessmentStatus = "completed"
)

// Assessment is one tenant's evaluation run against a framework.
type Assessment struct {
	ID            uuid.UUID        `json:"id"             db:"id"`
	TenantID      uuid.UUID        `json:"tenant_id"      db:"tenant_id"`
	FrameworkCode string           `json:"framework_code" db:"framework_code"`
	Name          string           `json:"name"           db:"name"`
	Status        AssessmentStatus `json:"status"         db:"status"`
	CreatedAt     time.Time        `json:"created_at"     db:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
}

// ResultStatus is the verdict recorded for one control.
type ResultStatus string

const (
	ResultSatisfied     ResultStatus = "satisfied"
	ResultPartial       ResultStatus = "partial"
	ResultUnsatisfied   ResultStatus = "unsatisfied"
	ResultNotApplicable ResultStatus = "not_applicable"
)

// Valid reports whether s is a known result status.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultSatisfied, ResultPartial, ResultUnsatisfied, ResultNotApplicable:
		return true
	}
	return false
}

// ControlResult is the recorded verdict for one control within an
// assessment. Re-recording a control replaces the previous verdict.
type ControlResult struct {
	AssessmentID uuid.UUID    `json:"assessment_id" db:"assessment_id"`
	ControlID    string       `json:"control_id"    db:"control_id"`
	Status       ResultStatus `json:"status"        db:"status"`
	Notes        string       `json:"notes"         db:"notes"`
	AssessedBy   string       `json:"assessed_by"   db:"assessed_by"`
	AssessedAt   time.Time    `json:"assessed_at"   db:"assessed_at"`
}

// Summary aggregates an assessment's recorded results.
type Summary struct {
	AssessmentID  uuid.UUID            `json:"assessment_id"`
	FrameworkCode string               `json:"framework_code"`
	Status        AssessmentStatus     `json:"status"`
	TotalControls int                  `json:"total_controls"`
	Assessed      int                  `json:"assessed"`
	Counts        map[ResultStatus]int `json:"counts"`
	Score         float64              `json:"score"`
}

// CreateAssessmentRequest is the payload for starting an assessment.
type CreateAssessmentRequest struct {
	FrameworkCode string `json:"framework_code" binding:"required"`
	Name          string `json:"name"`
}

// RecordResultRequest is the payload for recording a control verdict.
type RecordResultRequest struct {
	Status ResultStatus `json:"status" binding:"required"`
	Notes  string       `json:"notes"`
}

// ErrValidation is returned for requests that fail semantic validation.
type ErrValidation struct {
	Msg string
}

func (e *ErrValidation) Error() string { return e.Msg }
