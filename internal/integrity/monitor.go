// Package integrity re-verifies evidence chains in the background.
//
// A chain that verified at write time can still be damaged afterwards by
// storage faults or direct database edits. The monitor sweeps every open
// incident on a ticker, re-runs the full verification walk, and raises
// an alarm when a chain stays broken across consecutive sweeps.
package integrity

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/evidence"
	"github.com/redoubt-sec/redoubt/internal/notify"
	"github.com/redoubt-sec/redoubt/internal/siem"
)

// Config holds chain monitor configuration.
type Config struct {
	Interval      time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// IncidentLister returns the ids of incidents whose chains are swept.
// The console incident repository satisfies this interface.
type IncidentLister interface {
	OpenIncidentIDs(ctx context.Context) ([]string, error)
}

// ChainSource loads an incident's evidence chain ordered by sequence.
// *evidence.Ledger satisfies this interface.
type ChainSource interface {
	Chain(ctx context.Context, incidentID string) ([]*evidence.Entry, error)
}

// EventPublisher streams verification failures to the SIEM topic.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// WebhookDispatchFunc is an optional callback for dispatching
// chain.verification_failed events.
type WebhookDispatchFunc func(ctx context.Context, tenantID uuid.UUID, eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback for recording verification results.
type MetricsRecordFunc func(valid bool)

// Monitor runs periodic chain verification sweeps.
type Monitor struct {
	lister     IncidentLister
	chains     ChainSource
	failCounts map[string]int
	mu         sync.Mutex
	cfg        Config
	onWebhook  WebhookDispatchFunc
	onMetrics  MetricsRecordFunc
	publisher  EventPublisher
	logger     *zap.Logger
}

// New creates a new Monitor.
func New(lister IncidentLister, chains ChainSource, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 2
	}

	return &Monitor{
		lister:     lister,
		chains:     chains,
		failCounts: make(map[string]int),
		cfg:        cfg,
		logger:     logger,
	}
}

// SetWebhookDispatch configures the webhook dispatch callback.
func (m *Monitor) SetWebhookDispatch(fn WebhookDispatchFunc) {
	m.onWebhook = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// SetPublisher configures the SIEM event publisher.
func (m *Monitor) SetPublisher(p EventPublisher) {
	m.publisher = p
}

// Start runs the sweep loop until quit is signalled.
func (m *Monitor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval-time.Second)
			m.Sweep(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// Sweep verifies all open incident chains with bounded concurrency.
func (m *Monitor) Sweep(ctx context.Context) {
	ids, err := m.lister.OpenIncidentIDs(ctx)
	if err != nil {
		m.logger.Error("integrity: list incidents", zap.Error(err))
		return
	}

	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(incidentID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			m.checkChain(ctx, incidentID)
		}(id)
	}

	wg.Wait()
}

// checkChain re-verifies one incident's chain and updates its failure count.
func (m *Monitor) checkChain(ctx context.Context, incidentID string) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	entries, err := m.chains.Chain(cctx, incidentID)
	if err != nil {
		// A read failure is an infrastructure problem, not a tamper
		// signal; it does not advance the failure count.
		m.logger.Error("integrity: load chain",
			zap.String("incident_id", incidentID),
			zap.Error(err),
		)
		return
	}

	result := evidence.VerifyEntries(entries)

	if m.onMetrics != nil {
		m.onMetrics(result.Valid)
	}

	m.mu.Lock()
	prevCount := m.failCounts[incidentID]
	if result.Valid {
		delete(m.failCounts, incidentID)
	} else {
		m.failCounts[incidentID]++
	}
	count := m.failCounts[incidentID]
	m.mu.Unlock()

	if result.Valid && prevCount >= m.cfg.FailThreshold {
		// Transition: broken → valid (restored from backup).
		m.logger.Info("integrity: chain recovered",
			zap.String("incident_id", incidentID),
			zap.Int("verified_entries", result.VerifiedEntries),
		)
	} else if !result.Valid && count == m.cfg.FailThreshold {
		// Transition: valid → broken (exactly at threshold).
		m.raiseAlarm(ctx, incidentID, entries, result)
	}
}

// raiseAlarm emits the log line, webhook event and SIEM event for a chain
// that stayed broken across FailThreshold consecutive sweeps. The tenant
// comes from the chain itself: a chain that fails verification always has
// at least one entry.
func (m *Monitor) raiseAlarm(ctx context.Context, incidentID string, entries []*evidence.Entry, result evidence.VerificationResult) {
	var seq int64
	if result.FirstBrokenSequence != nil {
		seq = *result.FirstBrokenSequence
	}
	tenantID := entries[0].TenantID

	m.logger.Error("integrity: chain verification failed",
		zap.String("incident_id", incidentID),
		zap.String("tenant_id", tenantID),
		zap.Int64("broken_sequence", seq),
		zap.String("reason", result.Reason),
	)

	payload := map[string]string{
		"incident_id":     incidentID,
		"broken_sequence": strconv.FormatInt(seq, 10),
		"reason":          result.Reason,
	}

	if m.onWebhook != nil {
		if tid, err := uuid.Parse(tenantID); err == nil {
			m.onWebhook(ctx, tid, notify.EventChainVerificationFailed, payload)
		}
	}

	if m.publisher != nil {
		evt := siem.Event{
			Type:       notify.EventChainVerificationFailed,
			TenantID:   tenantID,
			IncidentID: incidentID,
			At:         time.Now().UTC(),
			Data: map[string]string{
				"broken_sequence": payload["broken_sequence"],
				"reason":          result.Reason,
			},
		}
		if err := m.publisher.Publish(ctx, incidentID, evt); err != nil {
			m.logger.Error("integrity: siem publish failed (non-fatal)",
				zap.String("incident_id", incidentID),
				zap.Error(err),
			)
		}
	}
}
