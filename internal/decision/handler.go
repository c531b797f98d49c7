package decision

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/identity"
)

// Handler handles HTTP requests for decision trees and runs.
type Handler struct {
	svc    *Service
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewHandler creates a new decision Handler.
func NewHandler(svc *Service, tokens *identity.TokenIssuer, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

// Register registers all decision routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	auth := h.requireAuth()

	rg.GET("/trees", auth, h.ListTrees)

	runs := rg.Group("/runs")
	runs.Use(auth)
	{
		runs.POST("", h.StartRun)
		runs.GET("/:id", h.GetRun)
		runs.POST("/:id/answer", h.Answer)
	}
}

func (h *Handler) requireAuth() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireAuth(h.tokens)
}

// tenantFrom extracts the authenticated tenant from the request context.
func tenantFrom(c *gin.Context) (uuid.UUID, bool) {
	claims := identity.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.TenantID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid tenant ID"})
		return uuid.Nil, false
	}
	return id, true
}

// ListTrees handles GET /trees.
func (h *Handler) ListTrees(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}

	trees, err := h.svc.Trees(c.Request.Context(), tenant)
	if err != nil {
		h.logger.Error("list decision trees", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trees"})
		return
	}
	if trees == nil {
		trees = []*Tree{}
	}
	c.JSON(http.StatusOK, gin.H{"trees": trees, "count": len(trees)})
}

// StartRun handles POST /runs.
func (h *Handler) StartRun(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}

	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, node, err := h.svc.StartRun(c.Request.Context(), tenant, &req)
	if err != nil {
		var verr *ErrValidation
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "tree not found"})
		default:
			h.logger.Error("start decision run", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start run"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"run": run, "node": node})
}

// GetRun handles GET /runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	run, node, err := h.svc.Get(c.Request.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		h.logger.Error("get decision run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "node": node})
}

// Answer handles POST /runs/:id/answer.
func (h *Handler) Answer(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, node, err := h.svc.Answer(c.Request.Context(), tenant, id, &req)
	if err != nil {
		var verr *ErrValidation
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		default:
			h.logger.Error("answer decision run", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record answer"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"run": run, "node": node})
}
