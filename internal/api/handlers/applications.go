package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/models"
)

// ApplicationService defines the lifecycle operations the handler needs.
type ApplicationService interface {
	CreateApplication(ctx context.Context, name, supportMessage string) (*models.Application, error)
	CreateKey(ctx context.Context, appID int64, p keys.CreateKeyParams) (*models.Key, error)
}

// ApplicationStore defines the read operations the handler needs.
type ApplicationStore interface {
	GetApplicationByID(ctx context.Context, id int64) (*models.Application, error)
	ListApplications(ctx context.Context) ([]*models.Application, error)
	ListKeysByAppID(ctx context.Context, appID int64) ([]*models.Key, error)
}

// ApplicationsHandler handles application HTTP endpoints.
type ApplicationsHandler struct {
	svc    ApplicationService
	store  ApplicationStore
	logger zerolog.Logger
}

// NewApplicationsHandler creates a new ApplicationsHandler.
func NewApplicationsHandler(svc ApplicationService, store ApplicationStore, logger zerolog.Logger) *ApplicationsHandler {
	return &ApplicationsHandler{
		svc:    svc,
		store:  store,
		logger: logger.With().Str("component", "applications_handler").Logger(),
	}
}

// RegisterRoutes registers application routes on the given router group.
func (h *ApplicationsHandler) RegisterRoutes(r *gin.RouterGroup) {
	apps := r.Group("/applications")
	{
		apps.POST("", h.Create)
		apps.GET("", h.List)
		apps.GET("/:id", h.Get)
		apps.GET("/:id/keys", h.ListKeys)
		apps.POST("/:id/keys", h.CreateKey)
	}
}

// CreateApplicationRequest is the request body for registering an application.
type CreateApplicationRequest struct {
	Name           string `json:"name" binding:"required"`
	SupportMessage string `json:"support_message"`
}

// Create registers a new application.
// POST /api/v1/applications
func (h *ApplicationsHandler) Create(c *gin.Context) {
	var req CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	app, err := h.svc.CreateApplication(c.Request.Context(), req.Name, req.SupportMessage)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, app)
}

// List returns all registered applications.
// GET /api/v1/applications
func (h *ApplicationsHandler) List(c *gin.Context) {
	apps, err := h.store.ListApplications(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list applications")
		c.JSON(http.StatusInternalServerError, errorBody{Error: "failed to list applications", Code: "internal"})
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps})
}

// Get returns a single application by its public identifier.
// GET /api/v1/applications/:id
func (h *ApplicationsHandler) Get(c *gin.Context) {
	app, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, app)
}

// ListKeys returns all keys issued for an application.
// GET /api/v1/applications/:id/keys
func (h *ApplicationsHandler) ListKeys(c *gin.Context) {
	app, ok := h.lookup(c)
	if !ok {
		return
	}

	list, err := h.store.ListKeysByAppID(c.Request.Context(), app.ID)
	if err != nil {
		h.logger.Error().Err(err).Str("app", app.PublicID).Msg("failed to list keys")
		c.JSON(http.StatusInternalServerError, errorBody{Error: "failed to list keys", Code: "internal"})
		return
	}
	if list == nil {
		list = []*models.Key{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": list})
}

// CreateKeyRequest is the request body for issuing a key.
type CreateKeyRequest struct {
	Token      string `json:"token"`
	Remaining  *int   `json:"remaining"`
	ExpirySpec string `json:"expires" binding:"required"`
	HWID       string `json:"hwid"`
	Memo       string `json:"memo"`
}

// CreateKey issues a new key under an application.
// POST /api/v1/applications/:id/keys
func (h *ApplicationsHandler) CreateKey(c *gin.Context) {
	app, ok := h.lookup(c)
	if !ok {
		return
	}

	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	remaining := 1
	if req.Remaining != nil {
		remaining = *req.Remaining
	}

	key, err := h.svc.CreateKey(c.Request.Context(), app.ID, keys.CreateKeyParams{
		Token:      req.Token,
		Remaining:  remaining,
		ExpirySpec: req.ExpirySpec,
		HWID:       req.HWID,
		Memo:       req.Memo,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, key)
}

// lookup decodes the :id path parameter and loads the application,
// writing the error response itself when it fails.
func (h *ApplicationsHandler) lookup(c *gin.Context) (*models.Application, bool) {
	id, err := decodePublicID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}

	app, err := h.store.GetApplicationByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get application")
		c.JSON(http.StatusInternalServerError, errorBody{Error: "failed to get application", Code: "internal"})
		return nil, false
	}
	if app == nil {
		respondError(c, keys.ErrAppNotFound)
		return nil, false
	}
	return app, true
}
