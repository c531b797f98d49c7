// Package decision runs incident responders through structured decision
// trees (containment choices, notification duty, escalation). A completed
// run lands its recommendation in the incident's evidence chain, so the
// reasoning that led to an action is part of the tamper-evident record.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/evidence"
	"github.com/redoubt-sec/redoubt/internal/notify"
	"github.com/redoubt-sec/redoubt/internal/siem"
)

// decisionRepo is the persistence interface for the decision service.
// *Repository satisfies this interface.
type decisionRepo interface {
	GetTree(ctx context.Context, tenantID, id uuid.UUID) (*Tree, error)
	ListTrees(ctx context.Context, tenantID uuid.UUID) ([]*Tree, error)
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, tenantID, id uuid.UUID) (*Run, error)
	ListRunsByIncident(ctx context.Context, tenantID, incidentID uuid.UUID) ([]*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
}

// Incidents provides the incident data the runner needs. The console
// incident service satisfies this interface. IncidentPhase returns ""
// for incidents that do not exist.
type Incidents interface {
	IncidentPhase(ctx context.Context, tenantID, incidentID string) (string, error)
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

// Service walks responders through decision trees and records outcomes.
type Service struct {
	repo      decisionRepo
	incidents Incidents        // nil = skip incident validation
	ledger    *evidence.Ledger // nil = no evidence recording
	notifier  Notifier         // nil = no webhook delivery
	publisher EventPublisher   // nil = no SIEM streaming
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new decision Service.
// ledger may be nil to disable evidence recording.
func NewService(repo decisionRepo, ledger *evidence.Ledger, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// SetIncidents configures incident existence/phase lookups.
func (s *Service) SetIncidents(i Incidents) { s.incidents = i }

// SetNotifier configures webhook fan-out for completed runs.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetPublisher configures SIEM event streaming.
func (s *Service) SetPublisher(p EventPublisher) { s.publisher = p }

// Trees returns a tenant's decision trees.
func (s *Service) Trees(ctx context.Context, tenantID uuid.UUID) ([]*Tree, error) {
	return s.repo.ListTrees(ctx, tenantID)
}

// StartRun begins a walk through a tree for an incident, positioned at
// the root node. Returns the run and the root node's question.
func (s *Service) StartRun(ctx context.Context, tenantID uuid.UUID, req *StartRunRequest) (*Run, *Node, error) {
	treeID, err := uuid.Parse(req.TreeID)
	if err != nil {
		return nil, nil, &ErrValidation{Msg: "invalid tree ID"}
	}
	incidentID, err := uuid.Parse(req.IncidentID)
	if err != nil {
		return nil, nil, &ErrValidation{Msg: "invalid incident ID"}
	}

	tree, err := s.repo.GetTree(ctx, tenantID, treeID)
	if err != nil {
		return nil, nil, err
	}
	root := tree.Root()
	if root == nil {
		return nil, nil, &ErrValidation{Msg: "tree has no nodes"}
	}

	if s.incidents != nil {
		p, err := s.incidents.IncidentPhase(ctx, tenantID.String(), incidentID.String())
		if err != nil {
			return nil, nil, fmt.Errorf("check incident: %w", err)
		}
		if p == "" {
			return nil, nil, &ErrValidation{Msg: "unknown incident: " + req.IncidentID}
		}
	}

	run := &Run{
		TenantID:    tenantID,
		IncidentID:  incidentID,
		TreeID:      treeID,
		CurrentNode: root.ID,
		Status:      RunInProgress,
		Steps:       []Step{},
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	s.logger.Info("decision run started",
		zap.String("run_id", run.ID.String()),
		zap.String("tree", tree.Name),
		zap.String("incident_id", run.IncidentID.String()),
	)
	return run, root, nil
}

// Get retrieves a run and, for in-progress runs, its current node.
func (s *Service) Get(ctx context.Context, tenantID, runID uuid.UUID) (*Run, *Node, error) {
	run, err := s.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != RunInProgress {
		return run, nil, nil
	}
	tree, err := s.repo.GetTree(ctx, tenantID, run.TreeID)
	if err != nil {
		return nil, nil, err
	}
	return run, tree.Node(run.CurrentNode), nil
}

// RunsByIncident returns an incident's runs.
func (s *Service) RunsByIncident(ctx context.Context, tenantID, incidentID uuid.UUID) ([]*Run, error) {
	return s.repo.ListRunsByIncident(ctx, tenantID, incidentID)
}

// Answer applies an option to the run's current question. Non-terminal
// options advance to the next node; terminal options complete the run,
// land the recommendation in the incident's evidence chain (non-fatal)
// and emit a decision.completed event. Returns the updated run and the
// next node, or a nil node when the run completed.
func (s *Service) Answer(ctx context.Context, tenantID, runID uuid.UUID, req *AnswerRequest) (*Run, *Node, error) {
	run, err := s.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != RunInProgress {
		return nil, nil, &ErrValidation{Msg: "run is already completed"}
	}

	tree, err := s.repo.GetTree(ctx, tenantID, run.TreeID)
	if err != nil {
		return nil, nil, err
	}
	node := tree.Node(run.CurrentNode)
	if node == nil {
		return nil, nil, fmt.Errorf("current node %q missing from tree %s", run.CurrentNode, tree.ID)
	}

	var opt *Option
	for i := range node.Options {
		if node.Options[i].Label == req.Option {
			opt = &node.Options[i]
			break
		}
	}
	if opt == nil {
		return nil, nil, &ErrValidation{Msg: fmt.Sprintf("unknown option %q for node %q", req.Option, node.ID)}
	}

	now := s.now().UTC()
	run.Steps = append(run.Steps, Step{
		NodeID:     node.ID,
		Question:   node.Question,
		Option:     opt.Label,
		AnsweredAt: now,
	})

	var next *Node
	if opt.Terminal {
		run.Status = RunCompleted
		run.CompletedAt = &now
		run.Recommendation = opt.Recommendation
	} else {
		run.CurrentNode = opt.Next
		next = tree.Node(opt.Next)
	}

	if err := s.repo.UpdateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("update run: %w", err)
	}

	if run.Status == RunCompleted {
		s.recordOutcome(ctx, run, tree)
	}
	return run, next, nil
}

// recordOutcome lands a completed run in the evidence chain and emits
// webhook + SIEM events. All paths are non-fatal: the run's own record
// is already durable.
func (s *Service) recordOutcome(ctx context.Context, run *Run, tree *Tree) {
	phase := "analysis"
	if s.incidents != nil {
		if p, err := s.incidents.IncidentPhase(ctx, run.TenantID.String(), run.IncidentID.String()); err == nil && p != "" {
			phase = p
		}
	}

	if s.ledger != nil {
		_, err := s.ledger.Append(ctx, evidence.AppendRequest{
			IncidentID:  run.IncidentID.String(),
			TenantID:    run.TenantID.String(),
			Type:        evidence.TypeDecision,
			Phase:       phase,
			Description: fmt.Sprintf("Decision %q completed: %s", tree.Name, run.Recommendation),
			ActorID:     "decision-runner",
			Metadata: map[string]string{
				"tree_id": run.TreeID.String(),
				"run_id":  run.ID.String(),
				"steps":   fmt.Sprintf("%d", len(run.Steps)),
			},
		})
		if err != nil {
			s.logger.Error("evidence append failed (non-fatal)",
				zap.String("run_id", run.ID.String()),
				zap.Error(err),
			)
		}
	}

	if s.notifier != nil {
		s.notifier.Dispatch(ctx, run.TenantID, notify.EventDecisionCompleted, run)
	}
	if s.publisher != nil {
		evt := siem.Event{
			Type:       notify.EventDecisionCompleted,
			TenantID:   run.TenantID.String(),
			IncidentID: run.IncidentID.String(),
			At:         s.now().UTC(),
			Data: map[string]string{
				"tree":           tree.Name,
				"recommendation": run.Recommendation,
			},
		}
		if err := s.publisher.Publish(ctx, run.IncidentID.String(), evt); err != nil {
			s.logger.Error("siem publish failed (non-fatal)",
				zap.String("run_id", run.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("decision run completed",
		zap.String("run_id", run.ID.String()),
		zap.String("tree", tree.Name),
		zap.String("recommendation", run.Recommendation),
	)
}
