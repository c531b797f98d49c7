package compliance

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/identity"
)

// Handler handles HTTP requests for frameworks and assessments.
type Handler struct {
	svc    *Service
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewHandler creates a new compliance Handler.
func NewHandler(svc *Service, tokens *identity.TokenIssuer, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logger}
}

// Register registers all compliance routes on the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	auth := h.requireAuth()

	fw := rg.Group("/frameworks")
	fw.Use(auth)
	{
		fw.GET("", h.ListFrameworks)
		fw.GET("/:code/controls", h.ListControls)
	}

	as := rg.Group("/assessments")
	as.Use(auth)
	{
		as.POST("", h.CreateAssessment)
		as.GET("", h.ListAssessments)
		as.GET("/:id", h.GetAssessment)
		as.PUT("/:id/results/:control", h.RecordResult)
		as.GET("/:id/summary", h.GetSummary)
	}
}

func (h *Handler) requireAuth() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireAuth(h.tokens)
}

// claimed extracts the authenticated tenant and actor from the request.
func claimed(c *gin.Context) (tenant uuid.UUID, actor string, ok bool) {
	claims := identity.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, "", false
	}
	tenant, err := uuid.Parse(claims.TenantID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid tenant ID"})
		return uuid.Nil, "", false
	}
	return tenant, claims.ActorID, true
}

// ListFrameworks handles GET /frameworks.
func (h *Handler) ListFrameworks(c *gin.Context) {
	fws, err := h.svc.Frameworks(c.Request.Context())
	if err != nil {
		h.logger.Error("list frameworks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list frameworks"})
		return
	}
	if fws == nil {
		fws = []*Framework{}
	}
	c.JSON(http.StatusOK, gin.H{"frameworks": fws, "count": len(fws)})
}

// ListControls handles GET /frameworks/:code/controls.
func (h *Handler) ListControls(c *gin.Context) {
	code := c.Param("code")

	controls, err := h.svc.Controls(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "framework not found"})
			return
		}
		h.logger.Error("list controls", zap.String("framework", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list controls"})
		return
	}
	if controls == nil {
		controls = []*Control{}
	}
	c.JSON(http.StatusOK, gin.H{"framework": code, "controls": controls, "count": len(controls)})
}

// CreateAssessment handles POST /assessments.
func (h *Handler) CreateAssessment(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}

	var req CreateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.svc.CreateAssessment(c.Request.Context(), tenant, &req)
	if err != nil {
		var verr *ErrValidation
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
			return
		}
		h.logger.Error("create assessment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create assessment"})
		return
	}

	c.JSON(http.StatusCreated, a)
}

// ListAssessments handles GET /assessments.
func (h *Handler) ListAssessments(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}

	as, err := h.svc.List(c.Request.Context(), tenant)
	if err != nil {
		h.logger.Error("list assessments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list assessments"})
		return
	}
	if as == nil {
		as = []*Assessment{}
	}
	c.JSON(http.StatusOK, gin.H{"assessments": as, "count": len(as)})
}

// GetAssessment handles GET /assessments/:id.
func (h *Handler) GetAssessment(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assessment ID"})
		return
	}

	a, err := h.svc.Get(c.Request.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "assessment not found"})
			return
		}
		h.logger.Error("get assessment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get assessment"})
		return
	}

	c.JSON(http.StatusOK, a)
}

// RecordResult handles PUT /assessments/:id/results/:control.
func (h *Handler) RecordResult(c *gin.Context) {
	tenant, actor, ok := claimed(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assessment ID"})
		return
	}
	controlID := c.Param("control")

	var req RecordResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.RecordResult(c.Request.Context(), tenant, id, controlID, &req, actor)
	if err != nil {
		var verr *ErrValidation
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "assessment not found"})
		default:
			h.logger.Error("record result", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record result"})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetSummary handles GET /assessments/:id/summary.
func (h *Handler) GetSummary(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assessment ID"})
		return
	}

	sum, err := h.svc.Summarize(c.Request.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "assessment not found"})
			return
		}
		h.logger.Error("summarize assessment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize assessment"})
		return
	}

	c.JSON(http.StatusOK, sum)
}
