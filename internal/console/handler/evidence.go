package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/redoubt-sec/redoubt/internal/console/model"
	"github.com/redoubt-sec/redoubt/internal/console/repository"
	"github.com/redoubt-sec/redoubt/internal/console/service"
	"github.com/redoubt-sec/redoubt/internal/evidence"
	"github.com/redoubt-sec/redoubt/internal/identity"
)

// EvidenceHandler exposes the per-incident evidence chain over HTTP.
type EvidenceHandler struct {
	svc    *service.IncidentService
	tokens *identity.TokenIssuer // nil = no auth enforcement
	logger *zap.Logger
}

// NewEvidenceHandler creates a new EvidenceHandler.
func NewEvidenceHandler(svc *service.IncidentService, tokens *identity.TokenIssuer, logger *zap.Logger) *EvidenceHandler {
	return &EvidenceHandler{svc: svc, tokens: tokens, logger: logger}
}

func (h *EvidenceHandler) requireAuth() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireAuth(h.tokens)
}

// Register mounts the evidence routes on the given router group.
func (h *EvidenceHandler) Register(rg *gin.RouterGroup) {
	ev := rg.Group("/incidents/:id/evidence")
	ev.Use(h.requireAuth())
	{
		ev.POST("", h.AppendEvidence)
		ev.GET("", h.ListEvidence)
		ev.GET("/verify", h.VerifyChain)
		ev.GET("/export", h.ExportChain)
		ev.GET("/:seq", h.GetEntry)
	}
}

// incidentID parses the :id route parameter.
func incidentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return uuid.Nil, false
	}
	return id, true
}

// AppendEvidence handles POST /incidents/:id/evidence — records a new
// entry at the tip of the incident's chain.
func (h *EvidenceHandler) AppendEvidence(c *gin.Context) {
	tenant, actor, ok := claimed(c)
	if !ok {
		return
	}
	id, ok := incidentID(c)
	if !ok {
		return
	}

	var req model.AppendEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.svc.RecordEvidence(c.Request.Context(), tenant, id, actor, &req)
	if err != nil {
		var verr *evidence.ErrValidation
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		case errors.Is(err, evidence.ErrConflict):
			// Concurrent appends exhausted the retry budget.
			c.JSON(http.StatusConflict, gin.H{"error": "evidence append conflicted, retry"})
		default:
			h.logger.Error("append evidence", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append evidence"})
		}
		return
	}

	RecordEvidenceAppend()
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// ListEvidence handles GET /incidents/:id/evidence — returns the full
// chain ordered by sequence number.
func (h *EvidenceHandler) ListEvidence(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}
	id, ok := incidentID(c)
	if !ok {
		return
	}

	entries, err := h.svc.Evidence(c.Request.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		h.logger.Error("list evidence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list evidence"})
		return
	}
	if entries == nil {
		entries = []*evidence.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{"chain": entries, "count": len(entries)})
}

// GetEntry handles GET /incidents/:id/evidence/:seq — returns the single
// entry at the given sequence number.
func (h *EvidenceHandler) GetEntry(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}
	id, ok := incidentID(c)
	if !ok {
		return
	}

	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a non-negative integer"})
		return
	}

	entry, err := h.svc.EvidenceEntry(c.Request.Context(), tenant, id, seq)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		if errors.Is(err, evidence.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "evidence entry not found"})
			return
		}
		h.logger.Error("get evidence entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get evidence entry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

// VerifyChain handles GET /incidents/:id/evidence/verify — walks the full
// chain and reports integrity. A broken chain is reported with 200: the
// verification ran fine, the chain is the problem.
func (h *EvidenceHandler) VerifyChain(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}
	id, ok := incidentID(c)
	if !ok {
		return
	}

	result, err := h.svc.VerifyEvidence(c.Request.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		h.logger.Error("verify evidence chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed to run"})
		return
	}

	RecordChainVerification(result.Valid)
	c.JSON(http.StatusOK, result)
}

// ExportChain handles GET /incidents/:id/evidence/export?format=json|text —
// renders the chain for forensic submission.
func (h *EvidenceHandler) ExportChain(c *gin.Context) {
	tenant, _, ok := claimed(c)
	if !ok {
		return
	}
	id, ok := incidentID(c)
	if !ok {
		return
	}

	format := c.DefaultQuery("format", evidence.FormatJSON)

	out, err := h.svc.ExportEvidence(c.Request.Context(), tenant, id, format)
	if err != nil {
		var verr *evidence.ErrValidation
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		default:
			h.logger.Error("export evidence chain", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export chain"})
		}
		return
	}

	switch format {
	case evidence.FormatText:
		c.Data(http.StatusOK, "text/plain; charset=utf-8", out)
	default:
		c.Data(http.StatusOK, "application/json", out)
	}
}
