package recordings

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetingscribe/backend/internal/models"
	"github.com/meetingscribe/backend/internal/zoom"
	"github.com/meetingscribe/backend/pkg/queue"
)

// ErrInvalidSignature is a webhook auth failure; always rejected with 401 and
// never reaches the queue.
var ErrInvalidSignature = errors.New("recordings: invalid webhook signature")

// Provider webhook headers.
const (
	HeaderSignature = "x-zm-signature"
	HeaderTimestamp = "x-zm-request-timestamp"
)

// Provider event types.
const (
	EventURLValidation      = "endpoint.url_validation"
	EventRecordingCompleted = "recording.completed"
	EventRecordingTrashed   = "recording.trashed"
	EventRecordingDeleted   = "recording.deleted"
)

const maxWebhookBody = 1 << 20 // 1MB

// IntegrationResolver resolves the integration a webhook event belongs to.
type IntegrationResolver interface {
	GetByProviderAccountID(ctx context.Context, providerAccountID string) (*models.Integration, error)
}

// RecordingStore is the persistence the ingestor needs.
type RecordingStore interface {
	GetByMeetingID(ctx context.Context, meetingID string) (*models.Recording, error)
	Create(ctx context.Context, rec *models.Recording) error
	MarkDeletedByMeetingID(ctx context.Context, meetingID string) (int64, error)
	DeleteByMeetingID(ctx context.Context, meetingID string) (int64, error)
}

// Enqueuer enqueues jobs; implemented by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload any, priority int) (uuid.UUID, error)
}

// WebhookHandler ingests provider webhooks: URL-validation handshake,
// signature verification, and event routing. Webhook delivery is
// at-least-once, so every mutating branch must be safe to run twice.
type WebhookHandler struct {
	integrations IntegrationResolver
	repo         RecordingStore
	queue        Enqueuer
	// fallbackSecret is the app-level webhook secret, used for URL-validation
	// events (which carry no account) and when no integration matches.
	fallbackSecret string
	logger         *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(integrations IntegrationResolver, repo RecordingStore, q Enqueuer, fallbackSecret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{integrations: integrations, repo: repo, queue: q, fallbackSecret: fallbackSecret, logger: logger}
}

type webhookEvent struct {
	Event   string `json:"event"`
	EventTS int64  `json:"event_ts"`
	Payload struct {
		AccountID  string          `json:"account_id"`
		PlainToken string          `json:"plain_token"`
		Object     json.RawMessage `json:"object"`
	} `json:"payload"`
}

// Challenge handles GET with a challenge query parameter (liveness check).
func (h *WebhookHandler) Challenge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"challenge": c.Query("challenge")})
}

// Receive handles POST webhook deliveries.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return
	}
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid payload"})
		return
	}

	// Handshake: respond with the HMAC of the plain token and stop. No
	// persistence side effect.
	if event.Event == EventURLValidation {
		mac := hmac.New(sha256.New, []byte(h.fallbackSecret))
		mac.Write([]byte(event.Payload.PlainToken))
		c.JSON(http.StatusOK, gin.H{
			"plainToken":     event.Payload.PlainToken,
			"encryptedToken": hex.EncodeToString(mac.Sum(nil)),
		})
		return
	}

	ctx := c.Request.Context()
	var integ *models.Integration
	if event.Payload.AccountID != "" {
		integ, err = h.integrations.GetByProviderAccountID(ctx, event.Payload.AccountID)
		if err != nil {
			h.logger.Error("resolve integration failed", zap.Error(err), zap.String("provider_account_id", event.Payload.AccountID))
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
			return
		}
	}
	secret := h.fallbackSecret
	if integ != nil && integ.WebhookSecret != "" {
		secret = integ.WebhookSecret
	}
	if !verifySignature(secret, c.GetHeader(HeaderTimestamp), body, c.GetHeader(HeaderSignature)) {
		h.logger.Warn("webhook rejected",
			zap.Error(ErrInvalidSignature),
			zap.String("event", event.Event),
			zap.String("provider_account_id", event.Payload.AccountID),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "invalid signature"})
		return
	}

	switch event.Event {
	case EventRecordingCompleted:
		h.handleRecordingCompleted(c, integ, event)
	case EventRecordingTrashed:
		h.handleRecordingRemoval(c, event, false)
	case EventRecordingDeleted:
		h.handleRecordingRemoval(c, event, true)
	default:
		h.logger.Info("ignoring webhook event", zap.String("event", event.Event))
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

func (h *WebhookHandler) handleRecordingCompleted(c *gin.Context, integ *models.Integration, event webhookEvent) {
	ctx := c.Request.Context()

	if integ == nil {
		h.logger.Info("no integration for webhook account", zap.String("provider_account_id", event.Payload.AccountID))
		c.JSON(http.StatusOK, gin.H{"status": "success"})
		return
	}
	if !integ.AutoImport {
		h.logger.Info("auto-import disabled, skipping recording",
			zap.String("integration_id", integ.ID.String()),
			zap.String("provider_account_id", integ.ProviderAccountID),
		)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
		return
	}

	var meeting zoom.Meeting
	if err := json.Unmarshal(event.Payload.Object, &meeting); err != nil || meeting.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid recording object"})
		return
	}

	// Dedup by provider meeting id: at-least-once delivery means replays and
	// backfill overlap are normal, not errors.
	existing, err := h.repo.GetByMeetingID(ctx, string(meeting.ID))
	if err != nil {
		h.logger.Error("dedup lookup failed", zap.Error(err), zap.String("meeting_id", string(meeting.ID)))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}
	if existing != nil {
		h.logger.Info("recording already imported", zap.String("meeting_id", string(meeting.ID)), zap.String("recording_id", existing.ID.String()))
		c.JSON(http.StatusOK, gin.H{"status": "success"})
		return
	}

	rec := NewFromMeeting(integ, meeting)
	if err := h.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateMeeting) {
			c.JSON(http.StatusOK, gin.H{"status": "success"})
			return
		}
		h.logger.Error("create recording failed", zap.Error(err), zap.String("meeting_id", string(meeting.ID)))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}

	// Live events outrank backfill.
	jobID, err := h.queue.Enqueue(ctx, queue.JobTypeImportRecording, queue.ImportRecordingPayload{
		RecordingID: rec.ID,
		AccountID:   rec.AccountID,
		MeetingID:   rec.MeetingID,
	}, queue.PriorityHigh)
	if err != nil {
		h.logger.Error("enqueue import failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}

	h.logger.Info("recording.completed ingested",
		zap.String("recording_id", rec.ID.String()),
		zap.String("meeting_id", rec.MeetingID),
		zap.String("job_id", jobID.String()),
	)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *WebhookHandler) handleRecordingRemoval(c *gin.Context, event webhookEvent, hard bool) {
	var meeting zoom.Meeting
	if err := json.Unmarshal(event.Payload.Object, &meeting); err != nil || meeting.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid recording object"})
		return
	}
	var (
		n   int64
		err error
	)
	if hard {
		n, err = h.repo.DeleteByMeetingID(c.Request.Context(), string(meeting.ID))
	} else {
		n, err = h.repo.MarkDeletedByMeetingID(c.Request.Context(), string(meeting.ID))
	}
	if err != nil {
		h.logger.Error("recording removal failed", zap.Error(err), zap.String("event", event.Event), zap.String("meeting_id", string(meeting.ID)))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}
	h.logger.Info("recording removal processed",
		zap.String("event", event.Event),
		zap.String("meeting_id", string(meeting.ID)),
		zap.Int64("affected", n),
	)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// NewFromMeeting builds an importing recording row from a provider meeting
// object (webhook or list API). Shared with the historical importer so both
// discovery paths create identical rows.
func NewFromMeeting(integ *models.Integration, m zoom.Meeting) *models.Recording {
	var start *time.Time
	if !m.StartTime.IsZero() {
		t := m.StartTime
		start = &t
	}
	return &models.Recording{
		IntegrationID:    integ.ID,
		AccountID:        integ.AccountID,
		MeetingID:        string(m.ID),
		MeetingUUID:      m.UUID,
		Topic:            m.Topic,
		StartTime:        start,
		Duration:         m.Duration,
		HostEmail:        m.HostEmail,
		ParticipantCount: m.ParticipantCount,
		Files:            FromProviderFiles(m.RecordingFiles),
		Status:           models.RecordingStatusImporting,
	}
}

// FromProviderFiles converts the provider file manifest to the persisted
// shape.
func FromProviderFiles(files []zoom.RecordingFile) []models.RecordingFile {
	out := make([]models.RecordingFile, 0, len(files))
	for _, f := range files {
		out = append(out, models.RecordingFile{
			ID:            f.ID,
			FileType:      f.FileType,
			FileExtension: f.FileExtension,
			FileSize:      f.FileSize,
			DownloadURL:   f.DownloadURL,
			Status:        f.Status,
			RecordingType: f.RecordingType,
		})
	}
	return out
}

// verifySignature checks the provider's v0 HMAC scheme in constant time:
// v0=hex(HMAC-SHA256("v0:{timestamp}:{body}", secret)).
func verifySignature(secret, timestamp string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
