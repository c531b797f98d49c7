package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/identity"
	"github.com/redoubt-sec/redoubt/internal/users"
)

// userSvc is the interface expected by AuthHandler, satisfied by
// *users.UserService.
type userSvc interface {
	Authenticate(ctx context.Context, email, password string) (*users.User, error)
	Get(ctx context.Context, id uuid.UUID) (*users.User, error)
	Register(ctx context.Context, tenantID uuid.UUID, email, password, name string, role users.Role) (*users.User, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*users.User, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
}

// AuthHandler handles authentication and account management routes.
type AuthHandler struct {
	users  userSvc
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler. The token issuer is required:
// login is pointless without something to issue.
func NewAuthHandler(users userSvc, tokens *identity.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, logger: logger}
}

// Register mounts the auth and user-management routes on the given group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.GET("/me", identity.RequireAuth(h.tokens), h.Me)
		auth.POST("/password", identity.RequireAuth(h.tokens), h.ChangePassword)
	}

	u := rg.Group("/users")
	u.Use(identity.RequireAuth(h.tokens))
	{
		u.POST("", h.CreateUser)
		u.GET("", h.ListUsers)
	}
}

type loginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

type createUserRequest struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Role     string `json:"role"     binding:"required"`
}

type changePasswordRequest struct {
	Current string `json:"current_password" binding:"required"`
	New     string `json:"new_password"     binding:"required"`
}

// Login handles POST /auth/login — authenticates with email/password and
// returns a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tok, err := h.tokens.Issue(u.TenantID.String(), u.ID.String(), u.Name)
	if err != nil {
		h.logger.Error("issue token after login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":       u,
		"token":      tok,
		"expires_in": int(h.tokens.TTL().Seconds()),
	})
}

// Me handles GET /auth/me — returns the authenticated account.
func (h *AuthHandler) Me(c *gin.Context) {
	_, actor, ok := claimed(c)
	if !ok {
		return
	}

	u, err := h.users.Get(c.Request.Context(), actor)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		h.logger.Error("get account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": u})
}

// ChangePassword handles POST /auth/password — rotates the caller's own
// password after verifying the current one.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	_, actor, ok := claimed(c)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), actor, req.Current, req.New); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// CreateUser handles POST /users — admin-only account creation within the
// caller's tenant.
func (h *AuthHandler) CreateUser(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}
	if !h.requireAdmin(c) {
		return
	}

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.users.Register(c.Request.Context(), tenant, req.Email, req.Password, req.Name, users.Role(req.Role))
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		var verr *users.ErrValidation
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
			return
		}
		h.logger.Error("create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": u})
}

// ListUsers handles GET /users — admin-only listing of the tenant's accounts.
func (h *AuthHandler) ListUsers(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}
	if !h.requireAdmin(c) {
		return
	}

	accounts, err := h.users.ListByTenant(c.Request.Context(), tenant)
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	if accounts == nil {
		accounts = []*users.User{}
	}

	c.JSON(http.StatusOK, gin.H{"users": accounts, "count": len(accounts)})
}

// requireAdmin checks the caller's stored role. Tokens carry identity,
// not authority: the role is read fresh so a demotion takes effect
// without waiting for token expiry. Returns false after writing the
// error response.
func (h *AuthHandler) requireAdmin(c *gin.Context) bool {
	claims := identity.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return false
	}
	actor, err := uuid.Parse(claims.ActorID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid actor ID"})
		return false
	}

	u, err := h.users.Get(c.Request.Context(), actor)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "account lookup failed"})
		return false
	}
	if u.Role != users.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return false
	}
	return true
}
