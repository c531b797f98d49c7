// Package client provides the Redoubt Go SDK for working incidents,
// recording evidence, and verifying chains against a Redoubt console.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ErrNotFound is returned when the console reports that the requested
// resource does not exist in the caller's tenant. Test with errors.Is.
var ErrNotFound = errors.New("not found")

// Incident is the incident record returned by the console API.
type Incident struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Reference   string     `json:"reference"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	Phase       string     `json:"phase"`
	LeadID      string     `json:"lead_id,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// EvidenceEntry is one hash-linked record in an incident's evidence chain.
type EvidenceEntry struct {
	ID          string            `json:"id"`
	IncidentID  string            `json:"incident_id"`
	TenantID    string            `json:"tenant_id"`
	Sequence    int64             `json:"sequence_number"`
	Type        string            `json:"entry_type"`
	Phase       string            `json:"phase"`
	Description string            `json:"description,omitempty"`
	ActorID     string            `json:"actor_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RecordedAt  time.Time         `json:"recorded_at"`
	PrevHash    string            `json:"previous_hash"`
	Hash        string            `json:"entry_hash"`
}

// VerificationResult is the outcome of re-verifying an evidence chain.
// A broken chain is reported here, not as a Go error.
type VerificationResult struct {
	Valid               bool   `json:"is_valid"`
	VerifiedEntries     int    `json:"verified_entries"`
	FirstBrokenSequence *int64 `json:"first_broken_sequence,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

// User is a console account.
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginResult is returned by Login. The token is also stored on the
// client, so subsequent calls authenticate automatically.
type LoginResult struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// CreateIncidentRequest is the payload for CreateIncident.
type CreateIncidentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity"`
	LeadID      string `json:"lead_id,omitempty"`
}

// AppendEvidenceRequest is the payload for AppendEvidence. Phase is
// optional; when empty the incident's current phase is recorded.
type AppendEvidenceRequest struct {
	Type        string            `json:"entry_type"`
	Phase       string            `json:"phase,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Framework is one compliance framework catalog.
type Framework struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// DecisionOption is one selectable answer on a decision node.
type DecisionOption struct {
	Label          string `json:"label"`
	Next           string `json:"next,omitempty"`
	Terminal       bool   `json:"terminal,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// DecisionNode is the question a decision run is positioned at.
type DecisionNode struct {
	ID       string           `json:"id"`
	Question string           `json:"question"`
	Guidance string           `json:"guidance,omitempty"`
	Options  []DecisionOption `json:"options"`
}

// DecisionStep records one answered question within a run.
type DecisionStep struct {
	NodeID     string    `json:"node_id"`
	Question   string    `json:"question"`
	Option     string    `json:"option"`
	AnsweredAt time.Time `json:"answered_at"`
}

// DecisionRun is one walk through a decision tree against an incident.
type DecisionRun struct {
	ID             string         `json:"id"`
	IncidentID     string         `json:"incident_id"`
	TreeID         string         `json:"tree_id"`
	CurrentNode    string         `json:"current_node"`
	Status         string         `json:"status"`
	Steps          []DecisionStep `json:"steps"`
	Recommendation string         `json:"recommendation,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// RunState pairs a decision run with the node it is waiting on.
// Node is nil once the run has completed.
type RunState struct {
	Run  *DecisionRun  `json:"run"`
	Node *DecisionNode `json:"node"`
}

// Webhook is a tenant webhook subscription. The signing secret is
// delivered once, by CreateWebhook, and is not retrievable afterwards.
type Webhook struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	EventTypes []string  `json:"event_types"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Client is the Redoubt SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string

	// token state — guarded by mu
	mu    sync.Mutex
	token string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithToken attaches a pre-obtained session token to every request.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a new Redoubt SDK Client connected to baseURL.
//
//	c, err := client.New("https://console.redoubt.example",
//	    client.WithToken(os.Getenv("REDOUBT_TOKEN")),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  "redoubt-go-sdk",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Token returns the session token currently attached to the client,
// or "" when unauthenticated.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Login authenticates with email and password. The returned session
// token is stored on the client, authenticating all subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}

	c.mu.Lock()
	c.token = result.Token
	c.mu.Unlock()
	return &result, nil
}

// Me fetches the account behind the client's session token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		User User `json:"user"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode account response: %w", err)
	}
	return &wrapper.User, nil
}

// CreateIncident opens a new incident. The incident starts in the
// detection phase with an opening entry already sealed into its chain.
func (c *Client) CreateIncident(ctx context.Context, reg CreateIncidentRequest) (*Incident, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/incidents", reg)
	if err != nil {
		return nil, err
	}
	return c.incidentCall(req)
}

// Incident fetches a single incident by UUID or by INC- reference.
func (c *Client) Incident(ctx context.Context, ref string) (*Incident, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/incidents/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, err
	}
	return c.incidentCall(req)
}

// Incidents lists the tenant's incidents, newest first. status filters
// by lifecycle state when non-empty. limit and offset page the result;
// zero values take the server defaults.
func (c *Client) Incidents(ctx context.Context, status string, limit, offset int) ([]Incident, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/incidents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Incidents []Incident `json:"incidents"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode incident list: %w", err)
	}
	return wrapper.Incidents, nil
}

// AdvancePhase moves the incident to another response phase. note is an
// optional comment recorded with the phase-change evidence entry.
func (c *Client) AdvancePhase(ctx context.Context, id, phase, note string) (*Incident, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(id)+"/phase",
		map[string]string{"phase": phase, "note": note})
	if err != nil {
		return nil, err
	}
	return c.incidentCall(req)
}

// CloseIncident closes the incident with a resolution summary. The
// summary is sealed into the evidence chain before the close event
// fans out to subscribers.
func (c *Client) CloseIncident(ctx context.Context, id, summary string) (*Incident, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(id)+"/close",
		map[string]string{"summary": summary})
	if err != nil {
		return nil, err
	}
	return c.incidentCall(req)
}

// AssignLead sets the incident's lead responder.
func (c *Client) AssignLead(ctx context.Context, id, leadID string) (*Incident, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/incidents/"+url.PathEscape(id)+"/lead",
		map[string]string{"lead_id": leadID})
	if err != nil {
		return nil, err
	}
	return c.incidentCall(req)
}

// incidentCall executes a request whose response wraps a single incident.
func (c *Client) incidentCall(req *http.Request) (*Incident, error) {
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Incident Incident `json:"incident"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode incident response: %w", err)
	}
	return &wrapper.Incident, nil
}

// AppendEvidence records a new entry at the tip of the incident's chain
// and returns it, hashes included.
func (c *Client) AppendEvidence(ctx context.Context, incidentID string, reg AppendEvidenceRequest) (*EvidenceEntry, error) {
	req, err := c.newRequest(ctx, http.MethodPost,
		"/api/v1/incidents/"+url.PathEscape(incidentID)+"/evidence", reg)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Entry EvidenceEntry `json:"entry"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode evidence response: %w", err)
	}
	return &wrapper.Entry, nil
}

// Evidence returns the incident's full chain ordered by sequence number.
func (c *Client) Evidence(ctx context.Context, incidentID string) ([]EvidenceEntry, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/api/v1/incidents/"+url.PathEscape(incidentID)+"/evidence", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Chain []EvidenceEntry `json:"chain"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode evidence chain: %w", err)
	}
	return wrapper.Chain, nil
}

// VerifyEvidence asks the console to re-verify the incident's chain.
// A broken chain comes back in the result, not as an error.
func (c *Client) VerifyEvidence(ctx context.Context, incidentID string) (*VerificationResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/api/v1/incidents/"+url.PathEscape(incidentID)+"/evidence/verify", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result VerificationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode verification result: %w", err)
	}
	return &result, nil
}

// ExportEvidence renders the incident's chain for hand-off to auditors
// or law enforcement. format is "json" or "text"; empty means json.
// The document is returned unparsed so it can be written to disk
// byte-for-byte.
func (c *Client) ExportEvidence(ctx context.Context, incidentID, format string) ([]byte, error) {
	path := "/api/v1/incidents/" + url.PathEscape(incidentID) + "/evidence/export"
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// Frameworks lists the compliance framework catalogs loaded on the console.
func (c *Client) Frameworks(ctx context.Context) ([]Framework, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/frameworks", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Frameworks []Framework `json:"frameworks"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode framework list: %w", err)
	}
	return wrapper.Frameworks, nil
}

// StartRun starts a decision-tree run against an incident and returns
// the run positioned at the tree's root question.
func (c *Client) StartRun(ctx context.Context, treeID, incidentID string) (*RunState, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/runs",
		map[string]string{"tree_id": treeID, "incident_id": incidentID})
	if err != nil {
		return nil, err
	}
	return c.runCall(req)
}

// AnswerRun answers the run's current question by option label. When the
// chosen option is terminal the run completes, the recommendation is
// sealed into the incident's evidence chain, and the returned state has
// a nil Node.
func (c *Client) AnswerRun(ctx context.Context, runID, option string) (*RunState, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(runID)+"/answer",
		map[string]string{"option": option})
	if err != nil {
		return nil, err
	}
	return c.runCall(req)
}

// runCall executes a request whose response wraps a run and its node.
func (c *Client) runCall(req *http.Request) (*RunState, error) {
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var state RunState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode run response: %w", err)
	}
	return &state, nil
}

// CreateWebhook subscribes a URL to the given event types. The returned
// secret signs every delivery and is not retrievable afterwards.
func (c *Client) CreateWebhook(ctx context.Context, hookURL string, eventTypes []string) (*Webhook, string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/webhooks",
		map[string]any{"url": hookURL, "event_types": eventTypes})
	if err != nil {
		return nil, "", err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, "", err
	}

	var wrapper struct {
		Subscription Webhook `json:"subscription"`
		Secret       string  `json:"secret"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, "", fmt.Errorf("decode webhook response: %w", err)
	}
	return &wrapper.Subscription, wrapper.Secret, nil
}

// newRequest builds an API request with a JSON body and standard headers.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// do executes an HTTP request, attaching the session token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// Exports can run well past the usual API response size.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, apiError(body, req.URL.Path))
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: %s", apiError(body, "session token missing or expired"))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, apiError(body, ""))
	}
	return body, nil
}

// apiError pulls the "error" field out of an API error body, falling
// back to the given string and then to the raw body.
func apiError(body []byte, fallback string) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	if fallback != "" {
		return fallback
	}
	return string(body)
}
