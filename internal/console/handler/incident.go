package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/console/model"
	"github.com/redoubt-sec/redoubt/internal/console/repository"
	"github.com/redoubt-sec/redoubt/internal/console/service"
	"github.com/redoubt-sec/redoubt/internal/identity"
)

// IncidentHandler handles HTTP requests for the incident console.
type IncidentHandler struct {
	svc    *service.IncidentService
	tokens *identity.TokenIssuer // nil = no auth enforcement
	logger *zap.Logger
}

// NewIncidentHandler creates a new IncidentHandler.
// tokens may be nil to disable JWT auth on protected routes.
func NewIncidentHandler(svc *service.IncidentService, tokens *identity.TokenIssuer, logger *zap.Logger) *IncidentHandler {
	return &IncidentHandler{svc: svc, tokens: tokens, logger: logger}
}

// requireAuth returns the RequireAuth middleware when auth is configured,
// or a no-op middleware for development/open mode.
func (h *IncidentHandler) requireAuth() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireAuth(h.tokens)
}

// Register registers all incident routes on the given router group.
func (h *IncidentHandler) Register(rg *gin.RouterGroup) {
	incidents := rg.Group("/incidents")
	incidents.Use(h.requireAuth())
	{
		incidents.POST("", h.CreateIncident)
		incidents.GET("", h.ListIncidents)
		incidents.GET("/:id", h.GetIncident)
		incidents.POST("/:id/phase", h.TransitionPhase)
		incidents.POST("/:id/close", h.CloseIncident)
		incidents.POST("/:id/lead", h.AssignLead)
	}
}

// claimed extracts the authenticated tenant and actor from the request
// context. Writes a 401 and returns ok=false when the claims are absent
// or unusable.
func claimed(c *gin.Context) (tenant, actor uuid.UUID, ok bool) {
	claims := identity.ClaimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, uuid.Nil, false
	}
	tenant, err := uuid.Parse(claims.TenantID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid tenant ID"})
		return uuid.Nil, uuid.Nil, false
	}
	actor, err = uuid.Parse(claims.ActorID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid actor ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return tenant, actor, true
}

// CreateIncident handles POST /incidents — opens a new incident.
func (h *IncidentHandler) CreateIncident(c *gin.Context) {
	tenant, actor, ok := claimed(c)
	if !ok {
		return
	}

	var req model.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc, err := h.svc.Create(c.Request.Context(), tenant, actor, &req)
	if err != nil {
		var verr *model.ErrValidation
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
			return
		}
		h.logger.Error("create incident", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create incident"})
		return
	}

	RecordIncidentCreated()
	c.JSON(http.StatusCreated, gin.H{
		"incident":  inc,
		"reference": inc.Reference,
	})
}

// ListIncidents handles GET /incidents — returns the tenant's incidents,
// newest first. Optional ?status= filters by lifecycle status.
func (h *IncidentHandler) ListIncidents(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}

	status := model.IncidentStatus(c.Query("status"))

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	incidents, err := h.svc.List(c.Request.Context(), tenant, status, limit, offset)
	if err != nil {
		h.logger.Error("list incidents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list incidents"})
		return
	}
	if incidents == nil {
		incidents = []*model.Incident{}
	}

	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

// GetIncident handles GET /incidents/:id — retrieves a single incident by
// UUID or by its INC- reference.
func (h *IncidentHandler) GetIncident(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	param := c.Param("id")

	var inc *model.Incident
	var err error
	if id, perr := uuid.Parse(param); perr == nil {
		inc, err = h.svc.Get(ctx, tenant, id)
	} else if strings.HasPrefix(param, "INC-") {
		inc, err = h.svc.GetByReference(ctx, tenant, param)
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		h.logger.Error("get incident", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get incident"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"incident": inc})
}

// TransitionPhase handles POST /incidents/:id/phase — moves the incident
// to another response phase.
func (h *IncidentHandler) TransitionPhase(c *gin.Context) {
	tenant, actor, ok := claimed(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}

	var req model.PhaseTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc, err := h.svc.TransitionPhase(c.Request.Context(), tenant, id, actor, &req)
	if err != nil {
		h.respondIncidentErr(c, err, "transition phase")
		return
	}

	c.JSON(http.StatusOK, gin.H{"incident": inc})
}

// CloseIncident handles POST /incidents/:id/close — closes the incident
// with a resolution summary.
func (h *IncidentHandler) CloseIncident(c *gin.Context) {
	tenant, actor, ok := claimed(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}

	var req model.CloseIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc, err := h.svc.Close(c.Request.Context(), tenant, id, actor, &req)
	if err != nil {
		h.respondIncidentErr(c, err, "close incident")
		return
	}

	c.JSON(http.StatusOK, gin.H{"incident": inc})
}

// AssignLead handles POST /incidents/:id/lead — assigns the incident lead.
func (h *IncidentHandler) AssignLead(c *gin.Context) {
	tenant, actor, ok := claimed(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}

	var req struct {
		LeadID uuid.UUID `json:"lead_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc, err := h.svc.AssignLead(c.Request.Context(), tenant, id, actor, req.LeadID)
	if err != nil {
		h.respondIncidentErr(c, err, "assign lead")
		return
	}

	c.JSON(http.StatusOK, gin.H{"incident": inc})
}

// respondIncidentErr maps service errors for incident lifecycle actions
// onto HTTP responses.
func (h *IncidentHandler) respondIncidentErr(c *gin.Context, err error, action string) {
	var verr *model.ErrValidation
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
	default:
		h.logger.Error(action, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
	}
}
