package recordings

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetingscribe/backend/internal/middleware"
	"github.com/meetingscribe/backend/internal/models"
	"github.com/meetingscribe/backend/pkg/response"
	"github.com/meetingscribe/backend/pkg/storage"
)

// Handler exposes the recordings read side of the management API.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates a recordings handler. s3 may be nil when storage is not
// configured; download URLs are then unavailable.
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// List handles GET /api/recordings.
func (h *Handler) List(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing account")
		return
	}
	list, err := h.repo.ListByAccount(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("account_id", accountID.String()))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// Get handles GET /api/recordings/:id.
func (h *Handler) Get(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing account")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load recording")
		return
	}
	if rec == nil || rec.AccountID != accountID {
		response.NotFound(c, "recording not found")
		return
	}
	response.OK(c, rec)
}

// DownloadURL handles GET /api/recordings/:id/download-url, returning a
// pre-signed URL for the primary stored file of a completed recording.
func (h *Handler) DownloadURL(c *gin.Context) {
	accountID, ok := accountFromContext(c)
	if !ok {
		response.Unauthorized(c, "missing account")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "storage not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load recording")
		return
	}
	if rec == nil || rec.AccountID != accountID {
		response.NotFound(c, "recording not found")
		return
	}
	if rec.Status != models.RecordingStatusCompleted || len(rec.Files) == 0 {
		response.Conflict(c, "recording not ready")
		return
	}
	f := rec.Files[0]
	key := storage.RecordingKey(rec.AccountID.String(), rec.MeetingID, f.ID, f.FileExtension)
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url})
}

func accountFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
