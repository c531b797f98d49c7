package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/console/model"
	"github.com/redoubt-sec/redoubt/internal/console/repository"
	"github.com/redoubt-sec/redoubt/internal/evidence"
	"github.com/redoubt-sec/redoubt/internal/notify"
	"github.com/redoubt-sec/redoubt/internal/siem"
	"github.com/redoubt-sec/redoubt/pkg/phase"
)

// incidentRepo is the persistence interface for the incident service.
// *repository.IncidentRepository satisfies this interface.
type incidentRepo interface {
	Create(ctx context.Context, inc *model.Incident) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Incident, error)
	GetByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*model.Incident, error)
	List(ctx context.Context, tenantID uuid.UUID, status model.IncidentStatus, limit, offset int) ([]*model.Incident, error)
	UpdatePhase(ctx context.Context, tenantID, id uuid.UUID, p phase.Phase) error
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status model.IncidentStatus) error
	UpdateLead(ctx context.Context, tenantID, id uuid.UUID, leadID *uuid.UUID) error
	Close(ctx context.Context, tenantID, id uuid.UUID, closedAt time.Time) error
	Exists(ctx context.Context, tenantID, id uuid.UUID) (bool, error)
}

// Notifier fans an event out to the tenant's webhook subscriptions.
// *notify.Service satisfies this interface.
type Notifier interface {
	Dispatch(ctx context.Context, tenantID uuid.UUID, eventType string, payload any)
}

// EventPublisher streams an event to the SIEM pipeline.
// siem.Publisher implementations satisfy this interface.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// IncidentService contains the business logic for incident lifecycle
// management. Every lifecycle change lands a non-fatal entry in the
// incident's evidence chain.
type IncidentService struct {
	repo      incidentRepo
	ledger    *evidence.Ledger // nil = no evidence recording
	notifier  Notifier         // nil = no webhook delivery
	publisher EventPublisher   // nil = no SIEM streaming
	logger    *zap.Logger
}

// NewIncidentService creates a new IncidentService.
// ledger may be nil to disable evidence recording.
func NewIncidentService(repo incidentRepo, ledger *evidence.Ledger, logger *zap.Logger) *IncidentService {
	return &IncidentService{repo: repo, ledger: ledger, logger: logger}
}

// SetNotifier configures webhook fan-out for lifecycle events.
func (s *IncidentService) SetNotifier(n Notifier) { s.notifier = n }

// SetPublisher configures SIEM event streaming.
func (s *IncidentService) SetPublisher(p EventPublisher) { s.publisher = p }

// Create opens a new incident in the detection phase and seeds its evidence
// chain with an opening entry.
func (s *IncidentService) Create(ctx context.Context, tenantID, createdBy uuid.UUID, req *model.CreateIncidentRequest) (*model.Incident, error) {
	if !req.Severity.Valid() {
		return nil, &model.ErrValidation{Msg: fmt.Sprintf("unknown severity %q", req.Severity)}
	}

	reference, err := generateReference()
	if err != nil {
		return nil, fmt.Errorf("generate incident reference: %w", err)
	}

	inc := &model.Incident{
		TenantID:    tenantID,
		Reference:   reference,
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Status:      model.StatusOpen,
		Phase:       phase.Detection,
		LeadID:      req.LeadID,
		CreatedBy:   createdBy,
	}

	if err := s.repo.Create(ctx, inc); err != nil {
		s.logger.Error("failed to create incident", zap.Error(err))
		return nil, fmt.Errorf("create incident: %w", err)
	}

	s.logger.Info("incident opened",
		zap.String("incident_id", inc.ID.String()),
		zap.String("reference", inc.Reference),
		zap.String("severity", string(inc.Severity)),
	)

	s.appendEvidence(ctx, inc, createdBy.String(), evidence.TypeAction,
		fmt.Sprintf("Incident %s opened: %s", inc.Reference, inc.Title), nil)
	s.emit(ctx, inc, notify.EventIncidentCreated, map[string]string{
		"reference": inc.Reference,
		"severity":  string(inc.Severity),
	})

	return inc, nil
}

// Get retrieves an incident by id within the tenant.
func (s *IncidentService) Get(ctx context.Context, tenantID, id uuid.UUID) (*model.Incident, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// GetByReference retrieves an incident by its human reference.
func (s *IncidentService) GetByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*model.Incident, error) {
	return s.repo.GetByReference(ctx, tenantID, reference)
}

// List returns a page of the tenant's incidents, optionally filtered by status.
func (s *IncidentService) List(ctx context.Context, tenantID uuid.UUID, status model.IncidentStatus, limit, offset int) ([]*model.Incident, error) {
	return s.repo.List(ctx, tenantID, status, limit, offset)
}

// TransitionPhase moves the incident to a new response phase, records the
// move in the evidence chain, and derives the incident status from the
// phase reached.
func (s *IncidentService) TransitionPhase(ctx context.Context, tenantID, id, actorID uuid.UUID, req *model.PhaseTransitionRequest) (*model.Incident, error) {
	target, err := phase.Parse(req.Phase)
	if err != nil {
		return nil, &model.ErrValidation{Msg: err.Error()}
	}

	inc, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !inc.Open() {
		return nil, &model.ErrValidation{Msg: "incident is closed"}
	}
	if !phase.CanTransition(inc.Phase, target) {
		return nil, &model.ErrValidation{Msg: fmt.Sprintf("cannot transition from %s to %s", inc.Phase, target)}
	}

	if err := s.repo.UpdatePhase(ctx, tenantID, id, target); err != nil {
		return nil, err
	}

	previous := inc.Phase
	inc.Phase = target

	if status := statusForPhase(target); status != inc.Status {
		if err := s.repo.UpdateStatus(ctx, tenantID, id, status); err != nil {
			return nil, err
		}
		inc.Status = status
	}

	s.logger.Info("incident phase changed",
		zap.String("incident_id", id.String()),
		zap.String("from", previous.String()),
		zap.String("to", target.String()),
	)

	description := fmt.Sprintf("Phase changed from %s to %s", previous, target)
	if req.Note != "" {
		description += ": " + req.Note
	}
	s.appendEvidence(ctx, inc, actorID.String(), evidence.TypeAction, description, map[string]string{
		"from_phase": previous.String(),
		"to_phase":   target.String(),
	})
	s.emit(ctx, inc, notify.EventIncidentPhaseChanged, map[string]string{
		"reference":  inc.Reference,
		"from_phase": previous.String(),
		"to_phase":   target.String(),
	})

	return inc, nil
}

// AssignLead sets the incident lead.
func (s *IncidentService) AssignLead(ctx context.Context, tenantID, id, actorID, leadID uuid.UUID) (*model.Incident, error) {
	inc, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !inc.Open() {
		return nil, &model.ErrValidation{Msg: "incident is closed"}
	}

	if err := s.repo.UpdateLead(ctx, tenantID, id, &leadID); err != nil {
		return nil, err
	}
	inc.LeadID = &leadID

	s.appendEvidence(ctx, inc, actorID.String(), evidence.TypeAction,
		fmt.Sprintf("Incident lead assigned to %s", leadID), nil)

	return inc, nil
}

// Close resolves the incident, seals the close into the evidence chain, and
// stamps closed_at.
func (s *IncidentService) Close(ctx context.Context, tenantID, id, actorID uuid.UUID, req *model.CloseIncidentRequest) (*model.Incident, error) {
	inc, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !inc.Open() {
		return nil, &model.ErrValidation{Msg: "incident is already closed"}
	}

	closedAt := time.Now().UTC()
	if err := s.repo.Close(ctx, tenantID, id, closedAt); err != nil {
		return nil, err
	}
	inc.Status = model.StatusClosed
	inc.ClosedAt = &closedAt

	s.logger.Info("incident closed",
		zap.String("incident_id", id.String()),
		zap.String("reference", inc.Reference),
	)

	// The closing entry is appended before notification so the summary is
	// sealed into the chain even if fan-out fails.
	s.appendEvidence(ctx, inc, actorID.String(), evidence.TypeAction,
		"Incident closed: "+req.Summary, nil)
	s.emit(ctx, inc, notify.EventIncidentClosed, map[string]string{
		"reference": inc.Reference,
	})

	return inc, nil
}

// RecordEvidence appends a caller-supplied entry to the incident's chain.
// When the request names no phase, the incident's current phase is recorded.
func (s *IncidentService) RecordEvidence(ctx context.Context, tenantID, incidentID, actorID uuid.UUID, req *model.AppendEvidenceRequest) (*evidence.Entry, error) {
	inc, err := s.repo.GetByID(ctx, tenantID, incidentID)
	if err != nil {
		return nil, err
	}

	ph := req.Phase
	if ph == "" {
		ph = inc.Phase.String()
	}

	entry, err := s.ledger.Append(ctx, evidence.AppendRequest{
		IncidentID:  incidentID.String(),
		TenantID:    tenantID.String(),
		Type:        req.Type,
		Phase:       ph,
		Description: req.Description,
		ActorID:     actorID.String(),
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, inc, notify.EventEvidenceAppended, map[string]string{
		"reference":       inc.Reference,
		"sequence_number": fmt.Sprintf("%d", entry.Sequence),
		"entry_type":      entry.Type,
	})

	return entry, nil
}

// Evidence returns the incident's full chain ordered by sequence number.
// The incident lookup doubles as the tenant ownership check.
func (s *IncidentService) Evidence(ctx context.Context, tenantID, incidentID uuid.UUID) ([]*evidence.Entry, error) {
	if _, err := s.repo.GetByID(ctx, tenantID, incidentID); err != nil {
		return nil, err
	}
	return s.ledger.Chain(ctx, incidentID.String())
}

// EvidenceEntry returns the single entry at the given sequence number.
func (s *IncidentService) EvidenceEntry(ctx context.Context, tenantID, incidentID uuid.UUID, seq int64) (*evidence.Entry, error) {
	if _, err := s.repo.GetByID(ctx, tenantID, incidentID); err != nil {
		return nil, err
	}
	return s.ledger.Entry(ctx, incidentID.String(), seq)
}

// VerifyEvidence re-verifies the incident's chain. A broken chain is a
// result, not an error; verification failures also raise the
// chain.verification_failed event so a tampered chain discovered by an
// on-demand check alarms the same way a background sweep does.
func (s *IncidentService) VerifyEvidence(ctx context.Context, tenantID, incidentID uuid.UUID) (evidence.VerificationResult, error) {
	inc, err := s.repo.GetByID(ctx, tenantID, incidentID)
	if err != nil {
		return evidence.VerificationResult{}, err
	}

	result, err := s.ledger.Verify(ctx, incidentID.String())
	if err != nil {
		return evidence.VerificationResult{}, err
	}

	if !result.Valid {
		data := map[string]string{
			"reference": inc.Reference,
			"reason":    result.Reason,
		}
		if result.FirstBrokenSequence != nil {
			data["broken_sequence"] = fmt.Sprintf("%d", *result.FirstBrokenSequence)
		}
		s.emit(ctx, inc, notify.EventChainVerificationFailed, data)
	}

	return result, nil
}

// ExportEvidence renders the incident's chain for forensic submission.
func (s *IncidentService) ExportEvidence(ctx context.Context, tenantID, incidentID uuid.UUID, format string) ([]byte, error) {
	if _, err := s.repo.GetByID(ctx, tenantID, incidentID); err != nil {
		return nil, err
	}
	return s.ledger.Export(ctx, incidentID.String(), format)
}

// IncidentExists implements evidence.IncidentChecker. Malformed ids resolve
// to "not found" rather than an error.
func (s *IncidentService) IncidentExists(ctx context.Context, tenantID, incidentID string) (bool, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return false, nil
	}
	iid, err := uuid.Parse(incidentID)
	if err != nil {
		return false, nil
	}
	return s.repo.Exists(ctx, tid, iid)
}

// IncidentPhase implements the decision runner's Incidents interface.
// Returns the incident's current phase, or "" when the incident does not
// exist (malformed ids included).
func (s *IncidentService) IncidentPhase(ctx context.Context, tenantID, incidentID string) (string, error) {
	tid, err := uuid.Parse(tenantID)
	if err != nil {
		return "", nil
	}
	iid, err := uuid.Parse(incidentID)
	if err != nil {
		return "", nil
	}
	inc, err := s.repo.GetByID(ctx, tid, iid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return inc.Phase.String(), nil
}

// appendEvidence lands a lifecycle entry in the evidence chain in a
// non-fatal manner: chain integrity is about tamper evidence, not about
// blocking incident management when the ledger is briefly unavailable.
func (s *IncidentService) appendEvidence(ctx context.Context, inc *model.Incident, actorID, entryType, description string, meta map[string]string) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Append(ctx, evidence.AppendRequest{
		IncidentID:  inc.ID.String(),
		TenantID:    inc.TenantID.String(),
		Type:        entryType,
		Phase:       inc.Phase.String(),
		Description: description,
		ActorID:     actorID,
		Metadata:    meta,
	}); err != nil {
		s.logger.Error("evidence append failed (non-fatal)",
			zap.String("incident_id", inc.ID.String()),
			zap.String("entry_type", entryType),
			zap.Error(err),
		)
	}
}

// emit fans a lifecycle event out to webhooks and the SIEM stream.
// Both paths are non-fatal.
func (s *IncidentService) emit(ctx context.Context, inc *model.Incident, eventType string, data map[string]string) {
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, inc.TenantID, eventType, inc)
	}
	if s.publisher != nil {
		evt := siem.Event{
			Type:       eventType,
			TenantID:   inc.TenantID.String(),
			IncidentID: inc.ID.String(),
			At:         time.Now().UTC(),
			Data:       data,
		}
		if err := s.publisher.Publish(ctx, inc.ID.String(), evt); err != nil {
			s.logger.Error("siem publish failed (non-fatal)",
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
	}
}

// statusForPhase derives the incident status implied by reaching a phase.
func statusForPhase(p phase.Phase) model.IncidentStatus {
	switch p {
	case phase.Containment, phase.Eradication, phase.Recovery:
		return model.StatusContained
	case phase.PostIncident:
		return model.StatusResolved
	default:
		return model.StatusOpen
	}
}

// generateReference produces a short, human-quotable incident reference
// such as INC-4KQ7X2M9.
func generateReference() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return "INC-" + encoded, nil
}
