package integrations

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetingscribe/backend/internal/middleware"
	"github.com/meetingscribe/backend/internal/models"
	"github.com/meetingscribe/backend/pkg/response"
)

// Handler exposes integration setup and disconnect over the management API.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an integrations handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

type connectRequest struct {
	ProviderAccountID string `json:"provider_account_id" binding:"required"`
	WebhookSecret     string `json:"webhook_secret" binding:"required"`
	AutoImport        *bool  `json:"auto_import"`
}

// Connect handles POST /api/integrations: upserts the integration for the
// caller's account. Tokens are minted lazily by the vault on first provider
// call.
func (h *Handler) Connect(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing account")
		return
	}
	var body connectRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	autoImport := true
	if body.AutoImport != nil {
		autoImport = *body.AutoImport
	}
	in := &models.Integration{
		AccountID:         accountID,
		ProviderAccountID: body.ProviderAccountID,
		WebhookSecret:     body.WebhookSecret,
		AutoImport:        autoImport,
	}
	if err := h.repo.Upsert(c.Request.Context(), in); err != nil {
		h.logger.Error("upsert integration failed", zap.Error(err), zap.String("account_id", accountID.String()))
		response.Internal(c, "failed to save integration")
		return
	}
	response.Created(c, in)
}

// List handles GET /api/integrations.
func (h *Handler) List(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing account")
		return
	}
	list, err := h.repo.List(c.Request.Context(), accountID)
	if err != nil {
		response.Internal(c, "failed to list integrations")
		return
	}
	response.OK(c, list)
}

// Disconnect handles DELETE /api/integrations/:id. Dependent recordings are
// removed by the cascade.
func (h *Handler) Disconnect(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing account")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid integration id")
		return
	}
	deleted, err := h.repo.Delete(c.Request.Context(), id, accountID)
	if err != nil {
		h.logger.Error("delete integration failed", zap.Error(err), zap.String("integration_id", id.String()))
		response.Internal(c, "failed to delete integration")
		return
	}
	if !deleted {
		response.NotFound(c, "integration not found")
		return
	}
	h.logger.Info("integration disconnected", zap.String("integration_id", id.String()), zap.String("account_id", accountID.String()))
	response.NoContent(c)
}

func accountFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
