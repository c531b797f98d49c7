package decision_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/decision"
	"github.com/redoubt-sec/redoubt/internal/evidence"
	"github.com/redoubt-sec/redoubt/internal/notify"
)

var ctx = context.Background()

// ── Stub repo ─────────────────────────────────────────────────────────────

type stubRepo struct {
	mu    sync.Mutex
	trees map[uuid.UUID]*decision.Tree
	runs  map[uuid.UUID]*decision.Run
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		trees: make(map[uuid.UUID]*decision.Tree),
		runs:  make(map[uuid.UUID]*decision.Run),
	}
}

func (r *stubRepo) GetTree(_ context.Context, tenantID, id uuid.UUID) (*decision.Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trees[id]
	if !ok || t.TenantID != tenantID {
		return nil, decision.ErrNotFound
	}
	return t, nil
}

func (r *stubRepo) ListTrees(_ context.Context, tenantID uuid.UUID) ([]*decision.Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*decision.Tree
	for _, t := range r.trees {
		if t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *stubRepo) CreateRun(_ context.Context, run *decision.Run) error {
	run.ID = uuid.New()
	run.StartedAt = time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *stubRepo) GetRun(_ context.Context, tenantID, id uuid.UUID) (*decision.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, decision.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *stubRepo) ListRunsByIncident(_ context.Context, tenantID, incidentID uuid.UUID) ([]*decision.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*decision.Run
	for _, run := range r.runs {
		if run.TenantID == tenantID && run.IncidentID == incidentID {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubRepo) UpdateRun(_ context.Context, run *decision.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return decision.ErrNotFound
	}
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

// ── Collaborator stubs ────────────────────────────────────────────────────

type stubIncidents struct {
	phase string
	err   error
}

func (s *stubIncidents) IncidentPhase(_ context.Context, _, _ string) (string, error) {
	return s.phase, s.err
}

type captureNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *captureNotifier) Dispatch(_ context.Context, _ uuid.UUID, eventType string, _ any) {
	n.mu.Lock()
	n.events = append(n.events, eventType)
	n.mu.Unlock()
}

type capturePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *capturePublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	p.keys = append(p.keys, key)
	p.mu.Unlock()
	return nil
}

// containmentTree is a minimal three-node tree: root asks whether the
// host is critical, one branch asks about active exfiltration, and all
// leaves carry a recommendation.
func containmentTree(tenant uuid.UUID) *decision.Tree {
	return &decision.Tree{
		ID:       uuid.New(),
		TenantID: tenant,
		Name:     "Containment strategy",
		Category: "containment",
		Nodes: []decision.Node{
			{
				ID:       "critical",
				Question: "Is the affected host business critical?",
				Options: []decision.Option{
					{Label: "yes", Next: "exfil"},
					{Label: "no", Terminal: true, Recommendation: "Isolate the host immediately."},
				},
			},
			{
				ID:       "exfil",
				Question: "Is data actively leaving the host?",
				Options: []decision.Option{
					{Label: "yes", Terminal: true, Recommendation: "Block egress at the firewall, keep the host up for forensics."},
					{Label: "no", Terminal: true, Recommendation: "Schedule a maintenance window for isolation."},
				},
			},
		},
	}
}

func newTestService(t *testing.T) (*decision.Service, *stubRepo, *evidence.Ledger, uuid.UUID, *decision.Tree) {
	t.Helper()
	tenant := uuid.New()
	repo := newStubRepo()
	tree := containmentTree(tenant)
	repo.trees[tree.ID] = tree

	ledger := evidence.NewLedger(evidence.NewMemoryStore(), zap.NewNop())
	svc := decision.NewService(repo, ledger, zap.NewNop())
	svc.SetIncidents(&stubIncidents{phase: "containment"})
	return svc, repo, ledger, tenant, tree
}

func startRun(t *testing.T, svc *decision.Service, tenant uuid.UUID, tree *decision.Tree, incidentID uuid.UUID) *decision.Run {
	t.Helper()
	run, node, err := svc.StartRun(ctx, tenant, &decision.StartRunRequest{
		TreeID:     tree.ID.String(),
		IncidentID: incidentID.String(),
	})
	if err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}
	if node == nil || node.ID != "critical" {
		t.Fatalf("expected root node, got %+v", node)
	}
	return run
}

// ── Tree validation ───────────────────────────────────────────────────────

func TestTreeValidate(t *testing.T) {
	tenant := uuid.New()

	if err := containmentTree(tenant).Validate(); err != nil {
		t.Errorf("valid tree rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*decision.Tree)
	}{
		{"no nodes", func(tr *decision.Tree) { tr.Nodes = nil }},
		{"duplicate node id", func(tr *decision.Tree) { tr.Nodes[1].ID = tr.Nodes[0].ID }},
		{"node without options", func(tr *decision.Tree) { tr.Nodes[1].Options = nil }},
		{"terminal without recommendation", func(tr *decision.Tree) {
			tr.Nodes[1].Options[0].Recommendation = ""
		}},
		{"dangling next", func(tr *decision.Tree) {
			tr.Nodes[0].Options[0].Next = "missing"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := containmentTree(tenant)
			tc.mutate(tr)
			if err := tr.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

// ── StartRun ──────────────────────────────────────────────────────────────

func TestStartRun_positionsAtRoot(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)

	run := startRun(t, svc, tenant, tree, uuid.New())

	if run.Status != decision.RunInProgress {
		t.Errorf("status: got %q, want %q", run.Status, decision.RunInProgress)
	}
	if run.CurrentNode != "critical" {
		t.Errorf("current node: got %q, want %q", run.CurrentNode, "critical")
	}
	if len(run.Steps) != 0 {
		t.Errorf("new run has %d steps", len(run.Steps))
	}
}

func TestStartRun_unknownTree(t *testing.T) {
	svc, _, _, tenant, _ := newTestService(t)

	_, _, err := svc.StartRun(ctx, tenant, &decision.StartRunRequest{
		TreeID:     uuid.NewString(),
		IncidentID: uuid.NewString(),
	})
	if !errors.Is(err, decision.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStartRun_unknownIncident(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)
	svc.SetIncidents(&stubIncidents{phase: ""}) // incident does not exist

	_, _, err := svc.StartRun(ctx, tenant, &decision.StartRunRequest{
		TreeID:     tree.ID.String(),
		IncidentID: uuid.NewString(),
	})
	var verr *decision.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestStartRun_malformedIDs(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)

	var verr *decision.ErrValidation
	_, _, err := svc.StartRun(ctx, tenant, &decision.StartRunRequest{TreeID: "nope", IncidentID: uuid.NewString()})
	if !errors.As(err, &verr) {
		t.Errorf("bad tree id: expected ErrValidation, got %v", err)
	}
	_, _, err = svc.StartRun(ctx, tenant, &decision.StartRunRequest{TreeID: tree.ID.String(), IncidentID: "nope"})
	if !errors.As(err, &verr) {
		t.Errorf("bad incident id: expected ErrValidation, got %v", err)
	}
}

// ── Answer ────────────────────────────────────────────────────────────────

func TestAnswer_advances(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)
	run := startRun(t, svc, tenant, tree, uuid.New())

	updated, node, err := svc.Answer(ctx, tenant, run.ID, &decision.AnswerRequest{Option: "yes"})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}

	if updated.Status != decision.RunInProgress {
		t.Errorf("status: got %q, want in_progress", updated.Status)
	}
	if updated.CurrentNode != "exfil" {
		t.Errorf("current node: got %q, want %q", updated.CurrentNode, "exfil")
	}
	if node == nil || node.ID != "exfil" {
		t.Errorf("returned node: got %+v, want exfil", node)
	}
	if len(updated.Steps) != 1 || updated.Steps[0].Option != "yes" || updated.Steps[0].NodeID != "critical" {
		t.Errorf("steps: %+v", updated.Steps)
	}
}

func TestAnswer_unknownOption(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)
	run := startRun(t, svc, tenant, tree, uuid.New())

	_, _, err := svc.Answer(ctx, tenant, run.ID, &decision.AnswerRequest{Option: "maybe"})
	var verr *decision.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAnswer_completesRun(t *testing.T) {
	svc, _, ledger, tenant, tree := newTestService(t)
	notifier := &captureNotifier{}
	publisher := &capturePublisher{}
	svc.SetNotifier(notifier)
	svc.SetPublisher(publisher)

	incident := uuid.New()
	run := startRun(t, svc, tenant, tree, incident)

	if _, _, err := svc.Answer(ctx, tenant, run.ID, &decision.AnswerRequest{Option: "yes"}); err != nil {
		t.Fatal(err)
	}
	final, node, err := svc.Answer(ctx, tenant, run.ID, &decision.AnswerRequest{Option: "no"})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}

	if node != nil {
		t.Errorf("completed run returned a node: %+v", node)
	}
	if final.Status != decision.RunCompleted {
		t.Errorf("status: got %q, want completed", final.Status)
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if final.Recommendation != "Schedule a maintenance window for isolation." {
		t.Errorf("recommendation: %q", final.Recommendation)
	}
	if len(final.Steps) != 2 {
		t.Errorf("steps: got %d, want 2", len(final.Steps))
	}

	// The outcome lands in the incident's evidence chain.
	chain, err := ledger.Chain(ctx, incident.String())
	if err != nil {
		t.Fatalf("Chain() error: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("expected 1 evidence entry, got %d", len(chain))
	}
	entry := chain[0]
	if entry.Type != evidence.TypeDecision {
		t.Errorf("entry type: got %q, want %q", entry.Type, evidence.TypeDecision)
	}
	if entry.Phase != "containment" {
		t.Errorf("entry phase: got %q, want containment", entry.Phase)
	}
	if !strings.Contains(entry.Description, final.Recommendation) {
		t.Errorf("description missing recommendation: %q", entry.Description)
	}
	if entry.Metadata["run_id"] != final.ID.String() {
		t.Errorf("metadata run_id: %q", entry.Metadata["run_id"])
	}

	// Webhook + SIEM events were emitted.
	notifier.mu.Lock()
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventDecisionCompleted {
		t.Errorf("notifier events: %v", notifier.events)
	}
	notifier.mu.Unlock()
	publisher.mu.Lock()
	if len(publisher.keys) != 1 || publisher.keys[0] != incident.String() {
		t.Errorf("publisher keys: %v", publisher.keys)
	}
	publisher.mu.Unlock()
}

func TestAnswer_completedRunRejected(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)
	run := startRun(t, svc, tenant, tree, uuid.New())

	if _, _, err := svc.Answer(ctx, tenant, run.ID, &decision.AnswerRequest{Option: "no"}); err != nil {
		t.Fatal(err)
	}

	_, _, err := svc.Answer(ctx, tenant, run.ID, &decision.AnswerRequest{Option: "no"})
	var verr *decision.ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation on completed run, got %v", err)
	}
}

// ── Get ───────────────────────────────────────────────────────────────────

func TestGet_inProgressIncludesNode(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)
	run := startRun(t, svc, tenant, tree, uuid.New())

	got, node, err := svc.Get(ctx, tenant, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != run.ID {
		t.Errorf("run: got %s, want %s", got.ID, run.ID)
	}
	if node == nil || node.ID != "critical" {
		t.Errorf("node: got %+v, want critical", node)
	}
}

func TestGet_completedHasNilNode(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)
	run := startRun(t, svc, tenant, tree, uuid.New())
	if _, _, err := svc.Answer(ctx, tenant, run.ID, &decision.AnswerRequest{Option: "no"}); err != nil {
		t.Fatal(err)
	}

	_, node, err := svc.Get(ctx, tenant, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if node != nil {
		t.Errorf("completed run returned node %+v", node)
	}
}

func TestGet_tenantScoped(t *testing.T) {
	svc, _, _, tenant, tree := newTestService(t)
	run := startRun(t, svc, tenant, tree, uuid.New())

	if _, _, err := svc.Get(ctx, uuid.New(), run.ID); !errors.Is(err, decision.ErrNotFound) {
		t.Errorf("foreign tenant should not see the run, got %v", err)
	}
}
