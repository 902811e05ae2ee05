package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkserv/keyserv/internal/keys"
	"github.com/mkserv/keyserv/internal/models"
)

// KeyService defines the lifecycle operations the handler needs.
type KeyService interface {
	SetKeyEnabled(ctx context.Context, keyID int64, enabled bool) (*models.Key, error)
}

// KeyStore defines the read operations the handler needs.
type KeyStore interface {
	GetKeyByID(ctx context.Context, id int64) (*models.Key, error)
}

// KeysHandler handles key management HTTP endpoints.
type KeysHandler struct {
	svc    KeyService
	store  KeyStore
	logger zerolog.Logger
}

// NewKeysHandler creates a new KeysHandler.
func NewKeysHandler(svc KeyService, store KeyStore, logger zerolog.Logger) *KeysHandler {
	return &KeysHandler{
		svc:    svc,
		store:  store,
		logger: logger.With().Str("component", "keys_handler").Logger(),
	}
}

// RegisterRoutes registers key routes on the given router group.
func (h *KeysHandler) RegisterRoutes(r *gin.RouterGroup) {
	kr := r.Group("/keys")
	{
		kr.GET("/:id", h.Get)
		kr.POST("/:id/disable", h.Disable)
		kr.POST("/:id/enable", h.Enable)
	}
}

// Get returns a single key by its public identifier.
// GET /api/v1/keys/:id
func (h *KeysHandler) Get(c *gin.Context) {
	id, err := decodePublicID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	key, err := h.store.GetKeyByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to get key")
		c.JSON(http.StatusInternalServerError, errorBody{Error: "failed to get key", Code: "internal"})
		return
	}
	if key == nil {
		respondError(c, keys.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, key)
}

// Disable engages the kill-switch on a key.
// POST /api/v1/keys/:id/disable
func (h *KeysHandler) Disable(c *gin.Context) {
	h.toggle(c, false)
}

// Enable releases the kill-switch on a key.
// POST /api/v1/keys/:id/enable
func (h *KeysHandler) Enable(c *gin.Context) {
	h.toggle(c, true)
}

func (h *KeysHandler) toggle(c *gin.Context, enabled bool) {
	id, err := decodePublicID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	key, err := h.svc.SetKeyEnabled(c.Request.Context(), id, enabled)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}
