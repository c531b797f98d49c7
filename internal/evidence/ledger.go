package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when an entry lookup finds no matching record.
var ErrNotFound = errors.New("evidence entry not found")

// ErrIncidentNotFound is returned by Append when the referenced incident
// does not exist.
var ErrIncidentNotFound = errors.New("incident not found")

// ErrConflict is returned by Store.Insert when an entry with the same
// (incident_id, sequence_number) already exists, i.e. the caller lost a
// sequence race to a concurrent append.
var ErrConflict = errors.New("evidence sequence conflict")

// ErrValidation is returned by Append when the caller supplies invalid input.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// maxAppendRetries bounds how often a losing append re-reads the tip and
// tries again before surfacing ErrConflict. Within one process appends are
// serialized per incident, so retries only fire against other processes.
const maxAppendRetries = 5

// Store is the persistence surface the ledger depends on. It deliberately
// offers no update or delete: entries are write-once and this interface is
// the enforcement point.
type Store interface {
	// Insert atomically persists a fully populated entry. Returns
	// ErrConflict if the (incident_id, sequence_number) slot is taken.
	Insert(ctx context.Context, e *Entry) error

	// MaxSequence returns the highest sequence number recorded for the
	// incident, or -1 if the incident has no entries.
	MaxSequence(ctx context.Context, incidentID string) (int64, error)

	// Get returns the entry at the given sequence number.
	// Returns ErrNotFound if no such entry exists.
	Get(ctx context.Context, incidentID string, seq int64) (*Entry, error)

	// List returns all entries for the incident ordered by sequence
	// number ascending. An incident with no entries yields an empty slice.
	List(ctx context.Context, incidentID string) ([]*Entry, error)
}

// IncidentChecker reports whether an incident exists for a tenant. The
// console wires its incident repository in here so Append can reject
// entries for unknown incidents.
type IncidentChecker interface {
	IncidentExists(ctx context.Context, tenantID, incidentID string) (bool, error)
}

// AppendRequest carries the caller-supplied fields of a new entry.
type AppendRequest struct {
	IncidentID  string
	TenantID    string
	Type        string
	Phase       string
	Description string
	ActorID     string
	Metadata    map[string]string
}

func (r AppendRequest) validate() error {
	switch {
	case r.IncidentID == "":
		return &ErrValidation{Msg: "incident_id is required"}
	case r.TenantID == "":
		return &ErrValidation{Msg: "tenant_id is required"}
	case r.Type == "":
		return &ErrValidation{Msg: "entry_type is required"}
	case r.Phase == "":
		return &ErrValidation{Msg: "phase is required"}
	case r.ActorID == "":
		return &ErrValidation{Msg: "actor_id is required"}
	}
	return nil
}

// Ledger maintains the append-only evidence chain for each incident.
//
// Appends to the same incident are linearized: a per-incident mutex
// serializes them in-process, and the store's uniqueness constraint on
// (incident_id, sequence_number) plus a bounded retry loop resolves races
// with other processes. Appends to different incidents proceed in parallel.
// The ledger never caches chain state between calls; every operation
// re-reads the store.
type Ledger struct {
	store     Store
	incidents IncidentChecker // optional; nil skips existence checks
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a Ledger backed by the given store.
func NewLedger(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetIncidentChecker wires the collaborator used to validate incident
// references on append.
func (l *Ledger) SetIncidentChecker(c IncidentChecker) { l.incidents = c }

// SetClock overrides the time source. Tests use this to pin timestamps.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// lockFor returns the append mutex for one incident, creating it on first
// use. The map grows with the number of distinct incidents appended to over
// the process lifetime; a mutex is a few words, so this is not evicted.
func (l *Ledger) lockFor(incidentID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[incidentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[incidentID] = m
	}
	return m
}

// Append creates the next entry in the incident's chain and persists it.
// The returned entry is fully populated, including its assigned sequence
// number and computed hash.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if l.incidents != nil {
		ok, err := l.incidents.IncidentExists(ctx, req.TenantID, req.IncidentID)
		if err != nil {
			return nil, fmt.Errorf("check incident %s: %w", req.IncidentID, err)
		}
		if !ok {
			return nil, ErrIncidentNotFound
		}
	}

	lock := l.lockFor(req.IncidentID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 1; ; attempt++ {
		entry, err := l.tryAppend(ctx, req)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		if attempt >= maxAppendRetries {
			return nil, fmt.Errorf("append to incident %s lost sequence race after %d attempts: %w",
				req.IncidentID, attempt, ErrConflict)
		}
		l.logger.Debug("evidence append conflict, re-reading tip",
			zap.String("incident_id", req.IncidentID),
			zap.Int("attempt", attempt),
		)
	}
}

// tryAppend performs one read-tip/compute/insert cycle. A concurrent insert
// from another process surfaces as ErrConflict from the store.
func (l *Ledger) tryAppend(ctx context.Context, req AppendRequest) (*Entry, error) {
	maxSeq, err := l.store.MaxSequence(ctx, req.IncidentID)
	if err != nil {
		return nil, fmt.Errorf("read chain tip: %w", err)
	}

	seq := maxSeq + 1
	prevHash := NoPrevHash
	if seq > 0 {
		prev, err := l.store.Get(ctx, req.IncidentID, maxSeq)
		if err != nil {
			return nil, fmt.Errorf("read predecessor %d: %w", maxSeq, err)
		}
		prevHash = prev.Hash
	}

	// Truncate to microseconds so the stored timestamptz reproduces the
	// hashed value exactly when read back.
	entry := &Entry{
		ID:          uuid.NewString(),
		IncidentID:  req.IncidentID,
		TenantID:    req.TenantID,
		Sequence:    seq,
		Type:        req.Type,
		Phase:       req.Phase,
		Description: req.Description,
		ActorID:     req.ActorID,
		Metadata:    req.Metadata,
		RecordedAt:  l.now().UTC().Truncate(time.Microsecond),
		PrevHash:    prevHash,
	}
	entry.Hash = ComputeHash(entry)

	if err := l.store.Insert(ctx, entry); err != nil {
		return nil, err
	}

	l.logger.Debug("evidence entry appended",
		zap.String("incident_id", entry.IncidentID),
		zap.Int64("sequence", entry.Sequence),
		zap.String("entry_type", entry.Type),
	)
	return entry, nil
}

// Chain returns all entries for the incident ordered by sequence number.
// It re-reads persisted state on every call.
func (l *Ledger) Chain(ctx context.Context, incidentID string) ([]*Entry, error) {
	entries, err := l.store.List(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
	}
	return entries, nil
}

// Entry returns the single entry at the given sequence number.
func (l *Ledger) Entry(ctx context.Context, incidentID string, seq int64) (*Entry, error) {
	return l.store.Get(ctx, incidentID, seq)
}
