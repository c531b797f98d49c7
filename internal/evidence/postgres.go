package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists evidence entries to PostgreSQL. The
// evidence_entries table carries a UNIQUE (incident_id, sequence_number)
// constraint; violations surface as ErrConflict, which drives the ledger's
// append retry loop. The store intentionally has no UPDATE or DELETE paths.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, incident_id, tenant_id, sequence_number, entry_type, phase,
	description, actor_id, metadata, recorded_at, previous_hash, entry_hash`

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, e *Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal entry metadata: %w", err)
		}
	}

	q := `
		INSERT INTO evidence_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.db.Exec(ctx, q,
		e.ID, e.IncidentID, e.TenantID, e.Sequence, e.Type, e.Phase,
		e.Description, e.ActorID, metadata, e.RecordedAt, e.PrevHash, e.Hash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert evidence entry: %w", err)
	}
	return nil
}

// MaxSequence implements Store.
func (s *PostgresStore) MaxSequence(ctx context.Context, incidentID string) (int64, error) {
	var max int64
	q := `SELECT COALESCE(MAX(sequence_number), -1) FROM evidence_entries WHERE incident_id = $1`
	if err := s.db.QueryRow(ctx, q, incidentID).Scan(&max); err != nil {
		return 0, fmt.Errorf("read max sequence: %w", err)
	}
	return max, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, incidentID string, seq int64) (*Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM evidence_entries
		WHERE incident_id = $1 AND sequence_number = $2`
	row := s.db.QueryRow(ctx, q, incidentID, seq)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get evidence entry %d: %w", seq, err)
	}
	return e, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, incidentID string) ([]*Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM evidence_entries
		WHERE incident_id = $1 ORDER BY sequence_number ASC`
	rows, err := s.db.Query(ctx, q, incidentID)
	if err != nil {
		return nil, fmt.Errorf("query evidence entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanEntry reads one row in entryColumns order. Timestamps are normalized
// to UTC so recomputed hashes match what was hashed at append time.
func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var metadata []byte
	if err := row.Scan(
		&e.ID, &e.IncidentID, &e.TenantID, &e.Sequence, &e.Type, &e.Phase,
		&e.Description, &e.ActorID, &metadata, &e.RecordedAt, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	e.RecordedAt = e.RecordedAt.UTC()
	return &e, nil
}
