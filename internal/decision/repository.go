package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a tree or run lookup finds no matching
// record.
var ErrNotFound = errors.New("decision record not found")

// Repository provides persistence for decision trees and runs against
// PostgreSQL. Node and step documents live in JSONB columns.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new decision Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateTree inserts a new decision tree. Sets ID and CreatedAt.
func (r *Repository) CreateTree(ctx context.Context, t *Tree) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()

	nodes, err := json.Marshal(t.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}

	q := `
		INSERT INTO decision_trees (id, tenant_id, name, category, nodes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, name) DO UPDATE SET category = $4, nodes = $5`
	_, err = r.db.Exec(ctx, q, t.ID, t.TenantID, t.Name, t.Category, nodes, t.CreatedAt)
	return err
}

// GetTree retrieves a tree by ID, scoped to the tenant.
func (r *Repository) GetTree(ctx context.Context, tenantID, id uuid.UUID) (*Tree, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, name, category, nodes, created_at
		 FROM decision_trees WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanTree(row)
}

// ListTrees returns a tenant's decision trees.
func (r *Repository) ListTrees(ctx context.Context, tenantID uuid.UUID) ([]*Tree, error) {
	q := `SELECT id, tenant_id, name, category, nodes, created_at
	      FROM decision_trees WHERE tenant_id = $1 ORDER BY name`
	rows, err := r.db.Query(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tree
	for rows.Next() {
		t, err := scanTree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateRun inserts a new run. Sets ID and StartedAt.
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	run.ID = uuid.New()
	run.StartedAt = time.Now().UTC()

	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	q := `
		INSERT INTO decision_runs (id, tenant_id, incident_id, tree_id, current_node, status, steps, recommendation, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.db.Exec(ctx, q,
		run.ID, run.TenantID, run.IncidentID, run.TreeID, run.CurrentNode,
		run.Status, steps, run.Recommendation, run.StartedAt,
	)
	return err
}

// GetRun retrieves a run by ID, scoped to the tenant.
func (r *Repository) GetRun(ctx context.Context, tenantID, id uuid.UUID) (*Run, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, incident_id, tree_id, current_node, status, steps, recommendation, started_at, completed_at
		 FROM decision_runs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	return scanRun(row)
}

// ListRunsByIncident returns an incident's runs, newest first.
func (r *Repository) ListRunsByIncident(ctx context.Context, tenantID, incidentID uuid.UUID) ([]*Run, error) {
	q := `SELECT id, tenant_id, incident_id, tree_id, current_node, status, steps, recommendation, started_at, completed_at
	      FROM decision_runs WHERE tenant_id = $1 AND incident_id = $2 ORDER BY started_at DESC`
	rows, err := r.db.Query(ctx, q, tenantID, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateRun persists a run's progress: current node, status, steps,
// recommendation and completion time.
func (r *Repository) UpdateRun(ctx context.Context, run *Run) error {
	steps, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	q := `
		UPDATE decision_runs
		SET current_node = $2, status = $3, steps = $4, recommendation = $5, completed_at = $6
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, q,
		run.ID, run.CurrentNode, run.Status, steps, run.Recommendation, run.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanTree scans one decision_trees row, decoding the nodes document.
func scanTree(row pgx.Row) (*Tree, error) {
	var t Tree
	var nodes []byte
	if err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.Category, &nodes, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(nodes, &t.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	return &t, nil
}

// scanRun scans one decision_runs row, decoding the steps document.
func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var steps []byte
	if err := row.Scan(&run.ID, &run.TenantID, &run.IncidentID, &run.TreeID, &run.CurrentNode,
		&run.Status, &steps, &run.Recommendation, &run.StartedAt, &run.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(steps, &run.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return &run, nil
}
