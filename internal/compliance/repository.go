package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a framework, assessment or control lookup
// finds no matching record.
var ErrNotFound = errors.New("compliance record not found")

// Repository provides persistence for frameworks, controls, assessments
// and control results against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new compliance Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// ── Frameworks & controls ─────────────────────────────────────────────────

// UpsertFramework inserts or updates a framework. Used by the seeder.
func (r *Repository) UpsertFramework(ctx context.Context, f *Framework) error {
	q := `
		INSERT INTO frameworks (code, name, version, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = $2, version = $3, description = $4`
	_, err := r.db.Exec(ctx, q, f.Code, f.Name, f.Version, f.Description)
	return err
}

// UpsertControl inserts or updates a control within a framework. Used by
// the seeder.
func (r *Repository) UpsertControl(ctx context.Context, c *Control) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	q := `
		INSERT INTO controls (id, framework_code, control_id, title, description, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (framework_code, control_id)
		DO UPDATE SET title = $4, description = $5, category = $6`
	_, err := r.db.Exec(ctx, q, c.ID, c.FrameworkCode, c.ControlID, c.Title, c.Description, c.Category)
	return err
}

// ListFrameworks returns all known frameworks.
func (r *Repository) ListFrameworks(ctx context.Context) ([]*Framework, error) {
	rows, err := r.db.Query(ctx, `SELECT code, name, version, description FROM frameworks ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Framework
	for rows.Next() {
		var f Framework
		if err := rows.Scan(&f.Code, &f.Name, &f.Version, &f.Description); err != nil {
			return nil, fmt.Errorf("scan framework: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// GetFramework retrieves a framework by code.
func (r *Repository) GetFramework(ctx context.Context, code string) (*Framework, error) {
	var f Framework
	err := r.db.QueryRow(ctx,
		`SELECT code, name, version, description FROM frameworks WHERE code = $1`, code,
	).Scan(&f.Code, &f.Name, &f.Version, &f.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// ListControls returns a framework's controls in catalog order.
func (r *Repository) ListControls(ctx context.Context, frameworkCode string) ([]*Control, error) {
	q := `SELECT id, framework_code, control_id, title, description, category
	      FROM controls WHERE framework_code = $1 ORDER BY control_id`
	rows, err := r.db.Query(ctx, q, frameworkCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Control
	for rows.Next() {
		var c Control
		if err := rows.Scan(&c.ID, &c.FrameworkCode, &c.ControlID, &c.Title, &c.Description, &c.Category); err != nil {
			return nil, fmt.Errorf("scan control: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ControlExists reports whether a control is part of a framework's catalog.
func (r *Repository) ControlExists(ctx context.Context, frameworkCode, controlID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM controls WHERE framework_code = $1 AND control_id = $2)`,
		frameworkCode, controlID,
	).Scan(&exists)
	return exists, err
}

// CountControls returns the size of a framework's catalog.
func (r *Repository) CountControls(ctx context.Context, frameworkCode string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM controls WHERE framework_code = $1`, frameworkCode,
	).Scan(&n)
	return n, err
}

// ── Assessments & results ─────────────────────────────────────────────────

// CreateAssessment inserts a new assessment. Sets ID and CreatedAt.
func (r *Repository) CreateAssessment(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	a.Status = AssessmentInProgress

	q := `
		INSERT INTO assessments (id, tenant_id, framework_code, name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, q, a.ID, a.TenantID, a.FrameworkCode, a.Name, a.Status, a.CreatedAt)
	return err
}

// GetAssessment retrieves an assessment by ID, scoped to the tenant.
func (r *Repository) GetAssessment(ctx context.Context, tenantID, id uuid.UUID) (*Assessment, error) {
	var a Assessment
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, framework_code, name, status, created_at, completed_at
		 FROM assessments WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	).Scan(&a.ID, &a.TenantID, &a.FrameworkCode, &a.Name, &a.Status, &a.CreatedAt, &a.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListAssessments returns a tenant's assessments, newest first.
func (r *Repository) ListAssessments(ctx context.Context, tenantID uuid.UUID) ([]*Assessment, error) {
	q := `SELECT id, tenant_id, framework_code, name, status, created_at, completed_at
	      FROM assessments WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Assessment
	for rows.Next() {
		var a Assessment
		if err := rows.Scan(&a.ID, &a.TenantID, &a.FrameworkCode, &a.Name, &a.Status,
			&a.CreatedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CompleteAssessment marks an assessment completed.
func (r *Repository) CompleteAssessment(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := `UPDATE assessments SET status = $2, completed_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, id, AssessmentCompleted, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertResult records a control verdict, replacing any previous verdict
// for the same control within the assessment.
func (r *Repository) UpsertResult(ctx context.Context, res *ControlResult) error {
	res.AssessedAt = time.Now().UTC()

	q := `
		INSERT INTO control_results (assessment_id, control_id, status, notes, assessed_by, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (assessment_id, control_id)
		DO UPDATE SET status = $3, notes = $4, assessed_by = $5, assessed_at = $6`
	_, err := r.db.Exec(ctx, q,
		res.AssessmentID, res.ControlID, res.Status, res.Notes, res.AssessedBy, res.AssessedAt,
	)
	return err
}

// ListResults returns all recorded verdicts for an assessment.
func (r *Repository) ListResults(ctx context.Context, assessmentID uuid.UUID) ([]*ControlResult, error) {
	q := `SELECT assessment_id, control_id, status, notes, assessed_by, assessed_at
	      FROM control_results WHERE assessment_id = $1 ORDER BY control_id`
	rows, err := r.db.Query(ctx, q, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ControlResult
	for rows.Next() {
		var res ControlResult
		if err := rows.Scan(&res.AssessmentID, &res.ControlID, &res.Status, &res.Notes,
			&res.AssessedBy, &res.AssessedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}
