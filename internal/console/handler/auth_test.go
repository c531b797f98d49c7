package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/console/handler"
	"github.com/redoubt-sec/redoubt/internal/identity"
	"github.com/redoubt-sec/redoubt/internal/users"
)

// ── Stub user service ────────────────────────────────────────────────────

type stubUserSvc struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*users.User
	byEmail   map[string]*users.User
	passwords map[uuid.UUID]string
}

func newStubUserSvc() *stubUserSvc {
	return &stubUserSvc{
		byID:      make(map[uuid.UUID]*users.User),
		byEmail:   make(map[string]*users.User),
		passwords: make(map[uuid.UUID]string),
	}
}

// add seeds an account without going through Register's validation.
func (s *stubUserSvc) add(tenantID uuid.UUID, email, password, name string, role users.Role) *users.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u := &users.User{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Email:     email,
		Name:      name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[u.ID] = u
	s.byEmail[email] = u
	s.passwords[u.ID] = password
	return u
}

func (s *stubUserSvc) Authenticate(_ context.Context, email, password string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byEmail[email]
	if !ok || s.passwords[u.ID] != password {
		return nil, errors.New("invalid credentials")
	}
	cp := *u
	return &cp, nil
}

func (s *stubUserSvc) Get(_ context.Context, id uuid.UUID) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *stubUserSvc) Register(_ context.Context, tenantID uuid.UUID, email, password, name string, role users.Role) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return nil, users.ErrDuplicateEmail
	}
	if !role.Valid() {
		return nil, &users.ErrValidation{Msg: fmt.Sprintf("unknown role %q", role)}
	}
	now := time.Now().UTC()
	u := &users.User{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Email:     email,
		Name:      name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[u.ID] = u
	s.byEmail[email] = u
	s.passwords[u.ID] = password
	cp := *u
	return &cp, nil
}

func (s *stubUserSvc) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*users.User
	for _, u := range s.byID {
		if u.TenantID == tenantID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *stubUserSvc) ChangePassword(_ context.Context, userID uuid.UUID, current, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passwords[userID] != current {
		return errors.New("current password is incorrect")
	}
	if len(next) < 8 {
		return &users.ErrValidation{Msg: "password must be at least 8 characters"}
	}
	s.passwords[userID] = next
	return nil
}

// ── Helpers ──────────────────────────────────────────────────────────────

func setupAuthRouter(t *testing.T) (*gin.Engine, *stubUserSvc, *identity.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := newStubUserSvc()
	tokens := identity.NewTokenIssuer([]byte("auth-handler-test-secret"), time.Hour)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewAuthHandler(svc, tokens, zap.NewNop()).Register(v1)
	return r, svc, tokens
}

func bearerFor(t *testing.T, tokens *identity.TokenIssuer, u *users.User) string {
	t.Helper()
	tok, err := tokens.Issue(u.TenantID.String(), u.ID.String(), u.Name)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestLogin_200(t *testing.T) {
	router, svc, _ := setupAuthRouter(t)
	svc.add(uuid.New(), "dana@redoubt.example", "s3cret-pass", "Dana Reyes", users.RoleResponder)

	w := doRequest(t, router, "", http.MethodPost, "/api/v1/auth/login",
		`{"email":"dana@redoubt.example","password":"s3cret-pass"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	tok, _ := resp["token"].(string)
	if tok == "" {
		t.Fatal("expected a session token")
	}
	if ttl := int(resp["expires_in"].(float64)); ttl != 3600 {
		t.Errorf("expected a 3600s ttl, got %d", ttl)
	}
	user := resp["user"].(map[string]any)
	if user["email"] != "dana@redoubt.example" {
		t.Errorf("expected the authenticated account, got %v", user["email"])
	}
	if _, leaked := user["password_hash"]; leaked {
		t.Error("password hash must not serialize")
	}
}

func TestLogin_401_wrongPassword(t *testing.T) {
	router, svc, _ := setupAuthRouter(t)
	svc.add(uuid.New(), "dana@redoubt.example", "s3cret-pass", "Dana Reyes", users.RoleResponder)

	w := doRequest(t, router, "", http.MethodPost, "/api/v1/auth/login",
		`{"email":"dana@redoubt.example","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLogin_400_missingPassword(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	w := doRequest(t, router, "", http.MethodPost, "/api/v1/auth/login",
		`{"email":"dana@redoubt.example"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLogin_tokenWorksOnMe(t *testing.T) {
	router, svc, _ := setupAuthRouter(t)
	u := svc.add(uuid.New(), "dana@redoubt.example", "s3cret-pass", "Dana Reyes", users.RoleResponder)

	w := doRequest(t, router, "", http.MethodPost, "/api/v1/auth/login",
		`{"email":"dana@redoubt.example","password":"s3cret-pass"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var login map[string]any
	json.Unmarshal(w.Body.Bytes(), &login)

	w = doRequest(t, router, login["token"].(string), http.MethodGet, "/api/v1/auth/me", "")
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var me map[string]any
	json.Unmarshal(w.Body.Bytes(), &me)
	if got := me["user"].(map[string]any); got["id"] != u.ID.String() {
		t.Errorf("expected account %s, got %v", u.ID, got["id"])
	}
}

func TestMe_401_withoutToken(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	w := doRequest(t, router, "", http.MethodGet, "/api/v1/auth/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestChangePassword_200(t *testing.T) {
	router, svc, tokens := setupAuthRouter(t)
	u := svc.add(uuid.New(), "dana@redoubt.example", "s3cret-pass", "Dana Reyes", users.RoleResponder)

	w := doRequest(t, router, bearerFor(t, tokens, u), http.MethodPost, "/api/v1/auth/password",
		`{"current_password":"s3cret-pass","new_password":"much-l0nger-secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// The new password authenticates, the old one no longer does.
	w = doRequest(t, router, "", http.MethodPost, "/api/v1/auth/login",
		`{"email":"dana@redoubt.example","password":"much-l0nger-secret"}`)
	if w.Code != http.StatusOK {
		t.Errorf("new password: expected 200, got %d", w.Code)
	}
	w = doRequest(t, router, "", http.MethodPost, "/api/v1/auth/login",
		`{"email":"dana@redoubt.example","password":"s3cret-pass"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("old password: expected 401, got %d", w.Code)
	}
}

func TestChangePassword_400_wrongCurrent(t *testing.T) {
	router, svc, tokens := setupAuthRouter(t)
	u := svc.add(uuid.New(), "dana@redoubt.example", "s3cret-pass", "Dana Reyes", users.RoleResponder)

	w := doRequest(t, router, bearerFor(t, tokens, u), http.MethodPost, "/api/v1/auth/password",
		`{"current_password":"wrong","new_password":"much-l0nger-secret"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateUser_201_asAdmin(t *testing.T) {
	router, svc, tokens := setupAuthRouter(t)
	tenant := uuid.New()
	admin := svc.add(tenant, "admin@redoubt.example", "admin-pass-123", "Avery Kim", users.RoleAdmin)

	w := doRequest(t, router, bearerFor(t, tokens, admin), http.MethodPost, "/api/v1/users",
		`{"email":"new@redoubt.example","password":"resp-pass-123","name":"Noor Hart","role":"responder"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	got := resp["user"].(map[string]any)
	if got["role"] != "responder" {
		t.Errorf("expected responder role, got %v", got["role"])
	}
	// New accounts land in the admin's tenant, never a caller-chosen one.
	if got["tenant_id"] != tenant.String() {
		t.Errorf("expected tenant %s, got %v", tenant, got["tenant_id"])
	}
}

func TestCreateUser_403_asResponder(t *testing.T) {
	router, svc, tokens := setupAuthRouter(t)
	responder := svc.add(uuid.New(), "resp@redoubt.example", "resp-pass-123", "Noor Hart", users.RoleResponder)

	w := doRequest(t, router, bearerFor(t, tokens, responder), http.MethodPost, "/api/v1/users",
		`{"email":"new@redoubt.example","password":"resp-pass-123","role":"responder"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateUser_409_duplicateEmail(t *testing.T) {
	router, svc, tokens := setupAuthRouter(t)
	tenant := uuid.New()
	admin := svc.add(tenant, "admin@redoubt.example", "admin-pass-123", "Avery Kim", users.RoleAdmin)
	svc.add(tenant, "taken@redoubt.example", "resp-pass-123", "Noor Hart", users.RoleResponder)

	w := doRequest(t, router, bearerFor(t, tokens, admin), http.MethodPost, "/api/v1/users",
		`{"email":"taken@redoubt.example","password":"resp-pass-123","role":"responder"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateUser_400_unknownRole(t *testing.T) {
	router, svc, tokens := setupAuthRouter(t)
	admin := svc.add(uuid.New(), "admin@redoubt.example", "admin-pass-123", "Avery Kim", users.RoleAdmin)

	w := doRequest(t, router, bearerFor(t, tokens, admin), http.MethodPost, "/api/v1/users",
		`{"email":"new@redoubt.example","password":"resp-pass-123","role":"superuser"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListUsers_200_asAdmin(t *testing.T) {
	router, svc, tokens := setupAuthRouter(t)
	tenant := uuid.New()
	admin := svc.add(tenant, "admin@redoubt.example", "admin-pass-123", "Avery Kim", users.RoleAdmin)
	svc.add(tenant, "resp@redoubt.example", "resp-pass-123", "Noor Hart", users.RoleResponder)
	svc.add(uuid.New(), "other@rival.example", "rival-pass-123", "Sam Other", users.RoleAdmin)

	w := doRequest(t, router, bearerFor(t, tokens, admin), http.MethodGet, "/api/v1/users", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if count := int(resp["count"].(float64)); count != 2 {
		t.Errorf("expected 2 accounts in the tenant, got %d", count)
	}
}

func TestListUsers_403_asAuditor(t *testing.T) {
	router, svc, tokens := setupAuthRouter(t)
	auditor := svc.add(uuid.New(), "audit@redoubt.example", "audit-pass-123", "Kai Audit", users.RoleAuditor)

	w := doRequest(t, router, bearerFor(t, tokens, auditor), http.MethodGet, "/api/v1/users", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}
