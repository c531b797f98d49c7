// Package notify fans incident lifecycle events out to tenant-registered
// webhook endpoints. Every delivery is signed with the subscription's HMAC
// secret and recorded, so receivers can both authenticate payloads and
// audit what was (or was not) delivered.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// store is the persistence interface for the webhook service.
// *Repository satisfies this interface.
type store interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error)
	ListByEvent(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*Subscription, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*Delivery, error)
}

// Service manages webhook subscriptions and event dispatching.
type Service struct {
	repo       store
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewService creates a new webhook Service.
func NewService(repo store, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Wait before each attempt; the first is immediate.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 25 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// Subscribe creates a new webhook subscription with a generated HMAC secret.
func (s *Service) Subscribe(ctx context.Context, tenantID uuid.UUID, req *CreateSubscriptionRequest) (*Subscription, error) {
	if len(req.EventTypes) == 0 {
		return nil, &ErrValidation{Msg: "at least one event type is required"}
	}
	for _, et := range req.EventTypes {
		if !ValidEventType(et) {
			return nil, &ErrValidation{Msg: "unknown event type: " + et}
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	sub := &Subscription{
		TenantID:   tenantID,
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Secret:     secret,
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	return sub, nil
}

// Unsubscribe deletes a tenant's subscription.
func (s *Service) Unsubscribe(ctx context.Context, tenantID, subID uuid.UUID) error {
	return s.repo.Delete(ctx, tenantID, subID)
}

// List returns all subscriptions belonging to a tenant.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// Deliveries returns recent delivery attempts for a tenant's subscription.
func (s *Service) Deliveries(ctx context.Context, tenantID, subID uuid.UUID, limit int) ([]*Delivery, error) {
	// Ownership check before exposing the delivery log.
	if _, err := s.repo.GetByID(ctx, tenantID, subID); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveries(ctx, subID, limit)
}

// Dispatch fans an event out to the tenant's active subscriptions for
// that event type. Delivery happens in background goroutines; Dispatch
// never blocks on the network. Implements the console service's Notifier
// interface.
func (s *Service) Dispatch(ctx context.Context, tenantID uuid.UUID, eventType string, payload any) {
	subs, err := s.repo.ListByEvent(ctx, tenantID, eventType)
	if err != nil {
		s.logger.Error("webhook: list subscribers", zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	event := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	// Deliveries must outlive the request that triggered them.
	bg := context.WithoutCancel(ctx)
	for _, sub := range subs {
		go s.deliver(bg, sub, event)
	}
}

// deliver sends the event to a single subscription with retries.
func (s *Service) deliver(ctx context.Context, sub *Subscription, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	signature := signPayload(body, sub.Secret)

	for attempt := 1; attempt <= len(s.delays); attempt++ {
		time.Sleep(s.delays[attempt-1])

		success, statusCode, errMsg := s.doDelivery(ctx, sub.URL, event, body, signature)

		delivery := &Delivery{
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			EventType:      event.Type,
			StatusCode:     statusCode,
			Attempt:        attempt,
			Success:        success,
			ErrorMessage:   errMsg,
		}
		if recordErr := s.repo.RecordDelivery(ctx, delivery); recordErr != nil {
			s.logger.Warn("webhook: record delivery", zap.Error(recordErr))
		}

		if s.onMetrics != nil {
			s.onMetrics(success)
		}

		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (s *Service) doDelivery(ctx context.Context, url string, event Event, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Redoubt-Signature", signature)
	req.Header.Set("X-Redoubt-Event", event.Type)
	req.Header.Set("X-Redoubt-Delivery", event.ID.String())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// generateSecret creates a random 32-byte hex-encoded secret.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
