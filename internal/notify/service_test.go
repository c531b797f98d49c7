package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ctx = context.Background()

// ── Stub store ────────────────────────────────────────────────────────────

type stubStore struct {
	mu         sync.Mutex
	subs       []*Subscription
	deliveries []*Delivery
	createErr  error
	listErr    error
}

func (s *stubStore) Create(_ context.Context, sub *Subscription) error {
	if s.createErr != nil {
		return s.createErr
	}
	sub.ID = uuid.New()
	sub.Active = true
	sub.CreatedAt = time.Now().UTC()
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return nil
}

func (s *stubStore) GetByID(_ context.Context, tenantID, id uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.TenantID == tenantID && sub.ID == id {
			return sub, nil
		}
	}
	return nil, ErrNotFound
}

func (s *stubStore) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.TenantID == tenantID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *stubStore) ListByEvent(_ context.Context, tenantID uuid.UUID, eventType string) ([]*Subscription, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.TenantID != tenantID || !sub.Active {
			continue
		}
		for _, et := range sub.EventTypes {
			if et == eventType {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (s *stubStore) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.TenantID == tenantID && sub.ID == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *stubStore) RecordDelivery(_ context.Context, d *Delivery) error {
	d.ID = uuid.New()
	d.DeliveredAt = time.Now().UTC()
	s.mu.Lock()
	s.deliveries = append(s.deliveries, d)
	s.mu.Unlock()
	return nil
}

func (s *stubStore) ListDeliveries(_ context.Context, subscriptionID uuid.UUID, _ int) ([]*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Delivery
	for _, d := range s.deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubStore) recorded() []*Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// newTestService wires a Service with instant retries for tests.
func newTestService(repo *stubStore) *Service {
	svc := NewService(repo, zap.NewNop())
	svc.delays = []time.Duration{0, 0, 0, 0}
	return svc
}

// ── Subscribe ─────────────────────────────────────────────────────────────

func TestSubscribe_generatesSecret(t *testing.T) {
	repo := &stubStore{}
	svc := newTestService(repo)
	tenant := uuid.New()

	sub, err := svc.Subscribe(ctx, tenant, &CreateSubscriptionRequest{
		URL:        "https://hooks.example.com/siem",
		EventTypes: []string{EventIncidentCreated, EventIncidentClosed},
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if matched, _ := regexp.MatchString("^[0-9a-f]{64}$", sub.Secret); !matched {
		t.Errorf("secret is not 64 hex chars: %q", sub.Secret)
	}
	if !sub.Active {
		t.Error("new subscription should be active")
	}
	if sub.TenantID != tenant {
		t.Errorf("TenantID: got %s, want %s", sub.TenantID, tenant)
	}
}

func TestSubscribe_uniqueSecrets(t *testing.T) {
	repo := &stubStore{}
	svc := newTestService(repo)

	req := &CreateSubscriptionRequest{URL: "https://a.example.com", EventTypes: []string{EventIncidentCreated}}
	s1, err := svc.Subscribe(ctx, uuid.New(), req)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := svc.Subscribe(ctx, uuid.New(), req)
	if err != nil {
		t.Fatal(err)
	}
	if s1.Secret == s2.Secret {
		t.Error("two subscriptions share the same secret")
	}
}

func TestSubscribe_rejectsUnknownEventType(t *testing.T) {
	svc := newTestService(&stubStore{})

	_, err := svc.Subscribe(ctx, uuid.New(), &CreateSubscriptionRequest{
		URL:        "https://hooks.example.com",
		EventTypes: []string{"incident.exploded"},
	})
	var verr *ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubscribe_rejectsEmptyEventTypes(t *testing.T) {
	svc := newTestService(&stubStore{})

	_, err := svc.Subscribe(ctx, uuid.New(), &CreateSubscriptionRequest{
		URL:        "https://hooks.example.com",
		EventTypes: nil,
	})
	var verr *ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

// ── Delivery ──────────────────────────────────────────────────────────────

type capturedRequest struct {
	signature string
	eventType string
	delivery  string
	body      []byte
}

func TestDeliver_signsPayload(t *testing.T) {
	var mu sync.Mutex
	var got *capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = &capturedRequest{
			signature: r.Header.Get("X-Redoubt-Signature"),
			eventType: r.Header.Get("X-Redoubt-Event"),
			delivery:  r.Header.Get("X-Redoubt-Delivery"),
			body:      body,
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := &stubStore{}
	svc := newTestService(repo)

	sub := &Subscription{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		URL:      srv.URL,
		Secret:   "f00dfeed",
		Active:   true,
	}
	event := Event{
		ID:        uuid.New(),
		Type:      EventIncidentCreated,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]string{"incident_id": "inc-1"},
	}

	svc.deliver(ctx, sub, event)

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("endpoint never received the delivery")
	}

	mac := hmac.New(sha256.New, []byte(sub.Secret))
	mac.Write(got.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got.signature != want {
		t.Errorf("signature: got %q, want %q", got.signature, want)
	}
	if got.eventType != EventIncidentCreated {
		t.Errorf("event header: got %q, want %q", got.eventType, EventIncidentCreated)
	}
	if got.delivery != event.ID.String() {
		t.Errorf("delivery header: got %q, want %q", got.delivery, event.ID)
	}

	var echoed Event
	if err := json.Unmarshal(got.body, &echoed); err != nil {
		t.Fatalf("body is not a JSON event: %v", err)
	}
	if echoed.Type != EventIncidentCreated || echoed.ID != event.ID {
		t.Errorf("event round trip mismatch: %+v", echoed)
	}

	recs := repo.recorded()
	if len(recs) != 1 {
		t.Fatalf("expected 1 delivery record, got %d", len(recs))
	}
	if !recs[0].Success || recs[0].StatusCode != http.StatusOK || recs[0].Attempt != 1 {
		t.Errorf("unexpected delivery record: %+v", recs[0])
	}
}

func TestDeliver_retriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	hits := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	repo := &stubStore{}
	svc := newTestService(repo)

	sub := &Subscription{ID: uuid.New(), URL: srv.URL, Secret: "s", Active: true}
	svc.deliver(ctx, sub, Event{ID: uuid.New(), Type: EventIncidentClosed, Timestamp: time.Now().UTC()})

	recs := repo.recorded()
	if len(recs) != 3 {
		t.Fatalf("expected 3 delivery records, got %d", len(recs))
	}
	if recs[0].Success || recs[1].Success {
		t.Error("first two attempts should have failed")
	}
	if !recs[2].Success || recs[2].Attempt != 3 {
		t.Errorf("third attempt should have succeeded: %+v", recs[2])
	}
}

func TestDeliver_exhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := &stubStore{}
	svc := newTestService(repo)

	var successes, failures int
	svc.SetMetricsRecorder(func(ok bool) {
		if ok {
			successes++
		} else {
			failures++
		}
	})

	sub := &Subscription{ID: uuid.New(), URL: srv.URL, Secret: "s", Active: true}
	svc.deliver(ctx, sub, Event{ID: uuid.New(), Type: EventEvidenceAppended, Timestamp: time.Now().UTC()})

	recs := repo.recorded()
	if len(recs) != len(svc.delays) {
		t.Fatalf("expected %d delivery records, got %d", len(svc.delays), len(recs))
	}
	for _, d := range recs {
		if d.Success {
			t.Errorf("no attempt should have succeeded: %+v", d)
		}
		if d.ErrorMessage != "HTTP 500" {
			t.Errorf("error message: got %q, want %q", d.ErrorMessage, "HTTP 500")
		}
	}
	if successes != 0 || failures != len(svc.delays) {
		t.Errorf("metrics: got %d successes / %d failures", successes, failures)
	}
}

// ── Dispatch ──────────────────────────────────────────────────────────────

func TestDispatch_matchingSubscriptionsOnly(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Redoubt-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tenant := uuid.New()
	repo := &stubStore{subs: []*Subscription{
		{ID: uuid.New(), TenantID: tenant, URL: srv.URL, Secret: "a", Active: true, EventTypes: []string{EventIncidentCreated}},
		{ID: uuid.New(), TenantID: tenant, URL: srv.URL, Secret: "b", Active: true, EventTypes: []string{EventIncidentClosed}},
		{ID: uuid.New(), TenantID: uuid.New(), URL: srv.URL, Secret: "c", Active: true, EventTypes: []string{EventIncidentCreated}},
	}}
	svc := newTestService(repo)

	svc.Dispatch(ctx, tenant, EventIncidentCreated, map[string]string{"incident_id": "inc-1"})

	select {
	case et := <-received:
		if et != EventIncidentCreated {
			t.Errorf("event type: got %q, want %q", et, EventIncidentCreated)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery arrived")
	}

	// Only the first subscription matches this tenant and event type.
	select {
	case et := <-received:
		t.Fatalf("unexpected extra delivery: %q", et)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatch_storeErrorIsNonFatal(t *testing.T) {
	repo := &stubStore{listErr: errors.New("db down")}
	svc := newTestService(repo)

	// Must not panic or block.
	svc.Dispatch(ctx, uuid.New(), EventIncidentCreated, nil)
}

func TestDispatch_noSubscribers(t *testing.T) {
	repo := &stubStore{}
	svc := newTestService(repo)
	svc.Dispatch(ctx, uuid.New(), EventIncidentClosed, nil)

	if recs := repo.recorded(); len(recs) != 0 {
		t.Errorf("expected no deliveries, got %d", len(recs))
	}
}

// ── Deliveries listing ────────────────────────────────────────────────────

func TestDeliveries_checksOwnership(t *testing.T) {
	tenant := uuid.New()
	other := uuid.New()
	subID := uuid.New()

	repo := &stubStore{subs: []*Subscription{
		{ID: subID, TenantID: tenant, URL: "https://x.example.com", Active: true},
	}}
	svc := newTestService(repo)

	if _, err := svc.Deliveries(ctx, other, subID, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign tenant, got %v", err)
	}
	if _, err := svc.Deliveries(ctx, tenant, subID, 10); err != nil {
		t.Errorf("owner lookup failed: %v", err)
	}
}
