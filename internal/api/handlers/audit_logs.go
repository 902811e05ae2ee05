package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/db"
	"github.com/mkserv/keyserv/internal/models"
)

// AuditLogStore defines the interface for audit log persistence operations.
type AuditLogStore interface {
	ListAuditLogs(ctx context.Context, filter db.AuditLogFilter) ([]*models.AuditLog, error)
	CountAuditLogs(ctx context.Context, filter db.AuditLogFilter) (int64, error)
}

// AuditLogsHandler handles audit log HTTP endpoints.
type AuditLogsHandler struct {
	store  AuditLogStore
	logger zerolog.Logger
}

// NewAuditLogsHandler creates a new AuditLogsHandler.
func NewAuditLogsHandler(store AuditLogStore, logger zerolog.Logger) *AuditLogsHandler {
	return &AuditLogsHandler{
		store:  store,
		logger: logger.With().Str("component", "audit_logs_handler").Logger(),
	}
}

// RegisterRoutes registers audit log routes on the given router group.
func (h *AuditLogsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit-logs", h.List)
}

// AuditLogListResponse is the response for listing audit logs.
type AuditLogListResponse struct {
	AuditLogs  []*models.AuditLog `json:"audit_logs"`
	TotalCount int64              `json:"total_count"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// List returns journal entries, newest first.
// GET /api/v1/audit-logs
// Query params: app, key, event, limit, offset
func (h *AuditLogsHandler) List(c *gin.Context) {
	filter, ok := h.parseFilterParams(c)
	if !ok {
		return
	}

	logs, err := h.store.ListAuditLogs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list audit logs")
		c.JSON(http.StatusInternalServerError, errorBody{Error: "failed to list audit logs", Code: "internal"})
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	totalCount, err := h.store.CountAuditLogs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count audit logs")
		c.JSON(http.StatusInternalServerError, errorBody{Error: "failed to count audit logs", Code: "internal"})
		return
	}

	c.JSON(http.StatusOK, AuditLogListResponse{
		AuditLogs:  logs,
		TotalCount: totalCount,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// parseFilterParams builds an AuditLogFilter from query parameters,
// writing the error response itself when a parameter is malformed.
func (h *AuditLogsHandler) parseFilterParams(c *gin.Context) (db.AuditLogFilter, bool) {
	filter := db.AuditLogFilter{Limit: 50}

	if raw := c.Query("app"); raw != "" {
		id, err := decodePublicID(raw)
		if err != nil {
			respondError(c, err)
			return filter, false
		}
		filter.AppID = &id
	}

	if raw := c.Query("key"); raw != "" {
		id, err := decodePublicID(raw)
		if err != nil {
			respondError(c, err)
			return filter, false
		}
		filter.KeyID = &id
	}

	if raw := c.Query("event"); raw != "" {
		event := models.EventFromName(raw)
		if event < 0 {
			c.JSON(http.StatusBadRequest, errorBody{Error: "unknown event name", Code: "invalid_request"})
			return filter, false
		}
		filter.Event = &event
	}

	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	return filter, true
}
