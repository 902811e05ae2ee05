package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/models"
)

// LifecycleService defines the activate/check operations the handler needs.
type LifecycleService interface {
	Activate(ctx context.Context, token, hwid, ip string) (*models.Key, error)
	Check(ctx context.Context, token, ip string) (*keys.CheckResult, error)
}

// SupportLookup resolves the support message to attach to rejected
// activations. May be nil.
type SupportLookup interface {
	GetKeyByToken(ctx context.Context, token string) (*models.Key, error)
	GetApplicationByID(ctx context.Context, id int64) (*models.Application, error)
}

// LifecycleHandler handles the client-facing activate and check endpoints.
type LifecycleHandler struct {
	svc     LifecycleService
	support SupportLookup
	logger  zerolog.Logger
}

// NewLifecycleHandler creates a new LifecycleHandler.
func NewLifecycleHandler(svc LifecycleService, support SupportLookup, logger zerolog.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		svc:     svc,
		support: support,
		logger:  logger.With().Str("component", "lifecycle_handler").Logger(),
	}
}

// RegisterRoutes registers lifecycle routes on the given router group.
func (h *LifecycleHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/activate", h.Activate)
	r.POST("/check", h.Check)
}

// ActivateRequest is the request body for consuming an activation.
type ActivateRequest struct {
	Token string `json:"token" binding:"required"`
	HWID  string `json:"hwid"`
}

// ActivateResponse is the response for a successful activation.
type ActivateResponse struct {
	Key       *models.Key `json:"key"`
	Remaining int         `json:"remaining"`
}

// Activate consumes one activation against a key.
// POST /api/v1/activate
func (h *LifecycleHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	key, err := h.svc.Activate(c.Request.Context(), req.Token, req.HWID, c.ClientIP())
	if err != nil {
		code := keys.Code(err)
		body := errorBody{Error: err.Error(), Code: code}
		if code == "internal" {
			body.Error = "internal error"
		} else {
			body.SupportMessage = h.supportMessage(c.Request.Context(), req.Token)
		}
		c.JSON(statusFor(code), body)
		return
	}

	c.JSON(http.StatusOK, ActivateResponse{Key: key, Remaining: key.Remaining})
}

// CheckRequest is the request body for a usability check.
type CheckRequest struct {
	Token string `json:"token" binding:"required"`
}

// CheckResponse is the response for a usability check. An unusable key
// is a valid answer, not an error.
type CheckResponse struct {
	Usable bool        `json:"usable"`
	Status string      `json:"status"`
	Key    *models.Key `json:"key"`
}

// Check answers whether a key is currently usable without consuming budget.
// POST /api/v1/check
func (h *LifecycleHandler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	result, err := h.svc.Check(c.Request.Context(), req.Token, c.ClientIP())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, CheckResponse{
		Usable: result.Usable,
		Status: string(result.Status),
		Key:    result.Key,
	})
}

// supportMessage fetches the owning application's support text for a
// rejected activation. Best effort only.
func (h *LifecycleHandler) supportMessage(ctx context.Context, token string) string {
	if h.support == nil {
		return ""
	}
	key, err := h.support.GetKeyByToken(ctx, token)
	if err != nil || key == nil {
		return ""
	}
	app, err := h.support.GetApplicationByID(ctx, key.AppID)
	if err != nil || app == nil {
		return ""
	}
	return app.SupportMessage
}
