// Package api exposes the thin HTTP surface around the reconciliation
// engine: route handlers bind requests, delegate, and map the error
// taxonomy to status codes.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
	"credlock/agreement-portal/agreement-portal-backend/internal/audit"
	"credlock/agreement-portal/agreement-portal-backend/internal/export"
	"credlock/agreement-portal/agreement-portal-backend/internal/reconcile"
	"credlock/agreement-portal/agreement-portal-backend/internal/records"
	"credlock/agreement-portal/agreement-portal-backend/internal/stream"
	"credlock/agreement-portal/agreement-portal-backend/internal/submit"
)

// Handler handles HTTP requests for agreement operations
type Handler struct {
	records     records.Store
	views       *reconcile.Manager
	coordinator *submit.Coordinator
	audit       *audit.Repository
	hub         *stream.Hub
	logger      *zap.Logger
}

// NewHandler creates a new agreements handler
func NewHandler(rs records.Store, views *reconcile.Manager, coordinator *submit.Coordinator, auditRepo *audit.Repository, hub *stream.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		records:     rs,
		views:       views,
		coordinator: coordinator,
		audit:       auditRepo,
		hub:         hub,
		logger:      logger,
	}
}

// RegisterRoutes registers agreement routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	agreements := router.Group("/agreements")
	{
		agreements.POST("", h.createAgreement)
		agreements.GET("/:ref", h.getView)
		agreements.GET("/:ref/record", h.getRecord)
		agreements.POST("/:ref/refresh", h.refresh)

		agreements.POST("/:ref/fund", h.fund)
		agreements.POST("/:ref/repay", h.repay)
		agreements.POST("/:ref/default", h.forceDefault)

		agreements.GET("/:ref/anomalies", h.listAnomalies)
		agreements.GET("/:ref/transitions", h.listTransitions)
		agreements.GET("/:ref/statement", h.statement)
		agreements.GET("/:ref/ws", h.subscribe)
	}
}

// CreateAgreementRequest creates the off-chain record when a negotiation is
// accepted, before any ledger contract exists.
type CreateAgreementRequest struct {
	Reference     string          `json:"reference" binding:"required"`
	BorrowerID    string          `json:"borrower_id" binding:"required"`
	LenderID      string          `json:"lender_id" binding:"required"`
	NegotiationID string          `json:"negotiation_id"`
	StartDate     time.Time       `json:"start_date"`
	Terms         agreement.Terms `json:"terms"`
}

func (h *Handler) createAgreement(c *gin.Context) {
	var req CreateAgreementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Terms.Validate(); err != nil {
		h.writeError(c, err)
		return
	}

	startDate := req.StartDate
	if startDate.IsZero() {
		startDate = time.Now().UTC()
	}

	rec := &agreement.Record{
		Reference:      req.Reference,
		BorrowerID:     req.BorrowerID,
		LenderID:       req.LenderID,
		NegotiationID:  req.NegotiationID,
		StartDate:      startDate,
		Status:         agreement.StatusInitialized,
		Terms:          req.Terms,
		PaymentHistory: []agreement.PaymentEntry{},
	}
	if err := h.records.Create(c.Request.Context(), rec); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) getView(c *gin.Context) {
	view, err := h.views.View(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getRecord(c *gin.Context) {
	rec, err := h.records.Get(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) refresh(c *gin.Context) {
	h.views.Refresh(c.Param("ref"))
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh scheduled"})
}

type fundRequest struct {
	Amount float64 `json:"amount"`
}

func (h *Handler) fund(c *gin.Context) {
	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.coordinator.Fund(c.Request.Context(), c.Param("ref"), req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type repayRequest struct {
	Month  int     `json:"month"`
	Amount float64 `json:"amount"`
}

func (h *Handler) repay(c *gin.Context) {
	var req repayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.coordinator.Repay(c.Request.Context(), c.Param("ref"), req.Month, req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) forceDefault(c *gin.Context) {
	result, err := h.coordinator.ForceDefault(c.Request.Context(), c.Param("ref"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listAnomalies(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	anomalies, err := h.audit.ListAnomalies(c.Request.Context(), c.Param("ref"), limit)
	if err != nil {
		h.logger.Error("Failed to list anomalies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies})
}

func (h *Handler) listTransitions(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	transitions, err := h.audit.ListTransitions(c.Request.Context(), c.Param("ref"), limit)
	if err != nil {
		h.logger.Error("Failed to list transitions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}

func (h *Handler) statement(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	ref := c.Param("ref")
	view, err := h.views.View(c.Request.Context(), ref)
	if err != nil {
		h.writeError(c, err)
		return
	}

	data, err := export.Statement(view, format)
	if err != nil {
		h.logger.Error("Failed to render statement", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := fmt.Sprintf("statement-%s.%s", ref, format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, format.ContentType(), data)
}

func (h *Handler) subscribe(c *gin.Context) {
	ref := c.Param("ref")

	// Make sure the loop is running so the subscriber actually gets ticks.
	h.views.Ensure(ref)

	if err := h.hub.ServeWS(c.Writer, c.Request, ref); err != nil {
		h.logger.Debug("websocket session ended", zap.String("reference", ref), zap.Error(err))
	}
}

// writeError maps the error taxonomy onto HTTP status codes. Staleness and
// sync-pending outcomes are not errors and never reach this path.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agreement.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, agreement.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, agreement.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, agreement.ErrLedgerRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, agreement.ErrLedgerUnavailable),
		errors.Is(err, agreement.ErrRecordStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return fallback
	}
	return limit
}
