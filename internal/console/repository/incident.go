package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redoubt-sec/redoubt/internal/console/model"
	"github.com/redoubt-sec/redoubt/pkg/phase"
)

// ErrNotFound is returned when an incident is not found in the database.
var ErrNotFound = errors.New("incident not found")

// IncidentRepository provides CRUD operations for incidents against
// PostgreSQL. Every read and write is scoped to a tenant; there is no
// cross-tenant query surface.
type IncidentRepository struct {
	db *pgxpool.Pool
}

// NewIncidentRepository creates a new IncidentRepository.
func NewIncidentRepository(db *pgxpool.Pool) *IncidentRepository {
	return &IncidentRepository{db: db}
}

const incidentColumns = `id, tenant_id, reference, title, description, severity,
	status, phase, lead_id, created_by, created_at, updated_at, closed_at`

// Create inserts a new incident. Sets ID, CreatedAt, UpdatedAt on the record.
func (r *IncidentRepository) Create(ctx context.Context, inc *model.Incident) error {
	inc.ID = uuid.New()
	now := time.Now().UTC()
	inc.CreatedAt = now
	inc.UpdatedAt = now

	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.Exec(ctx, query,
		inc.ID, inc.TenantID, inc.Reference, inc.Title, inc.Description,
		inc.Severity, inc.Status, inc.Phase, inc.LeadID, inc.CreatedBy,
		inc.CreatedAt, inc.UpdatedAt, inc.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetByID retrieves an incident by its UUID within a tenant.
func (r *IncidentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE tenant_id = $1 AND id = $2`
	return r.scanOne(ctx, query, tenantID, id)
}

// GetByReference retrieves an incident by its human reference (e.g. INC-ABC123).
func (r *IncidentRepository) GetByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE tenant_id = $1 AND reference = $2`
	return r.scanOne(ctx, query, tenantID, reference)
}

// List returns a tenant's incidents, newest first, optionally filtered by status.
func (r *IncidentRepository) List(ctx context.Context, tenantID uuid.UUID, status model.IncidentStatus, limit, offset int) ([]*model.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + incidentColumns + ` FROM incidents
		WHERE tenant_id = $1
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, tenantID, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []*model.Incident
	for rows.Next() {
		inc, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// UpdatePhase moves the incident to a new response phase.
func (r *IncidentRepository) UpdatePhase(ctx context.Context, tenantID, id uuid.UUID, p phase.Phase) error {
	query := `UPDATE incidents SET phase = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`
	tag, err := r.db.Exec(ctx, query, tenantID, id, p, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update incident phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets the incident's lifecycle status.
func (r *IncidentRepository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status model.IncidentStatus) error {
	query := `UPDATE incidents SET status = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`
	tag, err := r.db.Exec(ctx, query, tenantID, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update incident status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLead assigns or clears the incident lead.
func (r *IncidentRepository) UpdateLead(ctx context.Context, tenantID, id uuid.UUID, leadID *uuid.UUID) error {
	query := `UPDATE incidents SET lead_id = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`
	tag, err := r.db.Exec(ctx, query, tenantID, id, leadID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update incident lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close marks the incident closed and stamps closed_at.
func (r *IncidentRepository) Close(ctx context.Context, tenantID, id uuid.UUID, closedAt time.Time) error {
	query := `
		UPDATE incidents SET status = $3, closed_at = $4, updated_at = $4
		WHERE tenant_id = $1 AND id = $2`
	tag, err := r.db.Exec(ctx, query, tenantID, id, model.StatusClosed, closedAt)
	if err != nil {
		return fmt.Errorf("close incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether the incident exists within the tenant.
func (r *IncidentRepository) Exists(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM incidents WHERE tenant_id = $1 AND id = $2)`
	if err := r.db.QueryRow(ctx, query, tenantID, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check incident exists: %w", err)
	}
	return exists, nil
}

// OpenIncidentIDs returns the ids of all incidents that are not closed,
// across tenants. The integrity monitor sweeps these chains.
func (r *IncidentRepository) OpenIncidentIDs(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM incidents WHERE status != $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, model.StatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id.String())
	}
	return ids, rows.Err()
}

// CountByStatus returns platform-wide incident counts grouped by status,
// for the operational gauge.
func (r *IncidentRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// scanOne executes a single-row query and scans the result into an Incident.
func (r *IncidentRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Incident, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return r.scan(rows)
}

// scan reads one row in incidentColumns order.
func (r *IncidentRepository) scan(rows pgx.Rows) (*model.Incident, error) {
	var inc model.Incident
	if err := rows.Scan(
		&inc.ID, &inc.TenantID, &inc.Reference, &inc.Title, &inc.Description,
		&inc.Severity, &inc.Status, &inc.Phase, &inc.LeadID, &inc.CreatedBy,
		&inc.CreatedAt, &inc.UpdatedAt, &inc.ClosedAt,
	); err != nil {
		return nil, fmt.Errorf("scan incident: %w", err)
	}
	return &inc, nil
}
