// Package compliance tracks assessment runs against framework control
// catalogs (SOC 2, ISO 27001, ...). The catalogs are reference data;
// assessments and their per-control verdicts belong to a tenant.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// complianceRepo is the persistence interface for the compliance service.
// *Repository satisfies this interface.
type complianceRepo interface {
	ListFrameworks(ctx context.Context) ([]*Framework, error)
	GetFramework(ctx context.Context, code string) (*Framework, error)
	ListControls(ctx context.Context, frameworkCode string) ([]*Control, error)
	ControlExists(ctx context.Context, frameworkCode, controlID string) (bool, error)
	CountControls(ctx context.Context, frameworkCode string) (int, error)
	CreateAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, tenantID, id uuid.UUID) (*Assessment, error)
	ListAssessments(ctx context.Context, tenantID uuid.UUID) ([]*Assessment, error)
	CompleteAssessment(ctx context.Context, id uuid.UUID, at time.Time) error
	UpsertResult(ctx context.Context, res *ControlResult) error
	ListResults(ctx context.Context, assessmentID uuid.UUID) ([]*ControlResult, error)
}

// Service implements the assessment lifecycle.
type Service struct {
	repo   complianceRepo
	logger *zap.Logger
}

// NewService creates a new compliance Service.
func NewService(repo complianceRepo, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Frameworks returns all known frameworks.
func (s *Service) Frameworks(ctx context.Context) ([]*Framework, error) {
	return s.repo.ListFrameworks(ctx)
}

// Controls returns a framework's control catalog.
func (s *Service) Controls(ctx context.Context, frameworkCode string) ([]*Control, error) {
	if _, err := s.repo.GetFramework(ctx, frameworkCode); err != nil {
		return nil, err
	}
	return s.repo.ListControls(ctx, frameworkCode)
}

// CreateAssessment starts a new assessment against a framework.
func (s *Service) CreateAssessment(ctx context.Context, tenantID uuid.UUID, req *CreateAssessmentRequest) (*Assessment, error) {
	fw, err := s.repo.GetFramework(ctx, req.FrameworkCode)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ErrValidation{Msg: "unknown framework: " + req.FrameworkCode}
		}
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s assessment %s", fw.Name, time.Now().UTC().Format("2006-01-02"))
	}

	a := &Assessment{
		TenantID:      tenantID,
		FrameworkCode: fw.Code,
		Name:          name,
	}
	if err := s.repo.CreateAssessment(ctx, a); err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}

	s.logger.Info("assessment started",
		zap.String("assessment_id", a.ID.String()),
		zap.String("framework", fw.Code),
	)
	return a, nil
}

// Get retrieves a tenant's assessment.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Assessment, error) {
	return s.repo.GetAssessment(ctx, tenantID, id)
}

// List returns a tenant's assessments.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*Assessment, error) {
	return s.repo.ListAssessments(ctx, tenantID)
}

// RecordResult records (or replaces) the verdict for one control. When
// every control in the framework has a verdict, the assessment is marked
// completed.
func (s *Service) RecordResult(ctx context.Context, tenantID, assessmentID uuid.UUID, controlID string, req *RecordResultRequest, assessedBy string) (*ControlResult, error) {
	if !req.Status.Valid() {
		return nil, &ErrValidation{Msg: "unknown result status: " + string(req.Status)}
	}

	a, err := s.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.Status == AssessmentCompleted {
		return nil, &ErrValidation{Msg: "assessment is completed"}
	}

	exists, err := s.repo.ControlExists(ctx, a.FrameworkCode, controlID)
	if err != nil {
		return nil, fmt.Errorf("check control: %w", err)
	}
	if !exists {
		return nil, &ErrValidation{Msg: fmt.Sprintf("control %q is not part of %s", controlID, a.FrameworkCode)}
	}

	res := &ControlResult{
		AssessmentID: assessmentID,
		ControlID:    controlID,
		Status:       req.Status,
		Notes:        req.Notes,
		AssessedBy:   assessedBy,
	}
	if err := s.repo.UpsertResult(ctx, res); err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}

	if err := s.maybeComplete(ctx, a); err != nil {
		// The verdict is stored; completion bookkeeping can catch up on
		// the next write.
		s.logger.Warn("assessment completion check failed",
			zap.String("assessment_id", assessmentID.String()),
			zap.Error(err),
		)
	}

	return res, nil
}

// maybeComplete marks the assessment completed once every catalog control
// has a recorded verdict.
func (s *Service) maybeComplete(ctx context.Context, a *Assessment) error {
	total, err := s.repo.CountControls(ctx, a.FrameworkCode)
	if err != nil {
		return err
	}
	results, err := s.repo.ListResults(ctx, a.ID)
	if err != nil {
		return err
	}
	if total == 0 || len(results) < total {
		return nil
	}

	if err := s.repo.CompleteAssessment(ctx, a.ID, time.Now().UTC()); err != nil {
		return err
	}
	s.logger.Info("assessment completed",
		zap.String("assessment_id", a.ID.String()),
		zap.String("framework", a.FrameworkCode),
	)
	return nil
}

// Summarize aggregates an assessment's verdicts into counts and a score.
func (s *Service) Summarize(ctx context.Context, tenantID, assessmentID uuid.UUID) (*Summary, error) {
	a, err := s.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountControls(ctx, a.FrameworkCode)
	if err != nil {
		return nil, fmt.Errorf("count controls: %w", err)
	}
	results, err := s.repo.ListResults(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	sum := &Summary{
		AssessmentID:  a.ID,
		FrameworkCode: a.FrameworkCode,
		Status:        a.Status,
		TotalControls: total,
		Assessed:      len(results),
		Counts:        make(map[ResultStatus]int, 4),
	}
	for _, res := range results {
		sum.Counts[res.Status]++
	}
	sum.Score = score(sum.Counts, total)
	return sum, nil
}

// score computes the compliance percentage: satisfied controls count in
// full, partial ones count half, and not-applicable controls shrink the
// denominator. Unassessed controls count as zero, so the score cannot be
// gamed by leaving controls blank.
func score(counts map[ResultStatus]int, total int) float64 {
	assessable := total - counts[ResultNotApplicable]
	if assessable <= 0 {
		return 0
	}
	earned := float64(counts[ResultSatisfied]) + 0.5*float64(counts[ResultPartial])
	return math.Round(earned/float64(assessable)*1000) / 10
}
