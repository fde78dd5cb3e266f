package importer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meetingscribe/backend/internal/integrations"
	"github.com/meetingscribe/backend/internal/middleware"
	"github.com/meetingscribe/backend/internal/models"
	"github.com/meetingscribe/backend/pkg/queue"
	"github.com/meetingscribe/backend/pkg/response"
)

// Import run states surfaced to the progress endpoint.
const (
	runStatusRunning   = "running"
	runStatusCompleted = "completed"
	runStatusFailed    = "failed"
	runStatusCancelled = "cancelled"
)

const progressTTL = 24 * time.Hour

// snapshot is the progress document stored in Redis per integration.
type snapshot struct {
	Status    string    `json:"status"`
	Progress  Progress  `json:"progress"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Canceller cancels pending jobs; implemented by *queue.Queue.
type Canceller interface {
	CancelPending(ctx context.Context, jobType queue.JobType, accountID uuid.UUID) (int64, error)
}

// Handler manages historical imports over the management API: start, report
// progress, cancel. Progress snapshots live in Redis so any server instance
// can answer.
type Handler struct {
	importer     *Importer
	integrations *integrations.Repository
	queue        Canceller
	rdb          *goredis.Client
	logger       *zap.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc // keyed by integration id
}

// NewHandler creates an importer handler.
func NewHandler(imp *Importer, repo *integrations.Repository, q Canceller, rdb *goredis.Client, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		importer:     imp,
		integrations: repo,
		queue:        q,
		rdb:          rdb,
		logger:       logger,
		running:      make(map[uuid.UUID]context.CancelFunc),
	}
}

type startRequest struct {
	From string `json:"from" binding:"required"` // YYYY-MM-DD
	To   string `json:"to" binding:"required"`
}

// Start handles POST /api/integrations/:id/import: kicks off a backfill in
// the background and returns 202.
func (h *Handler) Start(c *gin.Context) {
	integ, ok := h.ownedIntegration(c)
	if !ok {
		return
	}
	var body startRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	from, err := time.Parse("2006-01-02", body.From)
	if err != nil {
		response.BadRequest(c, "invalid from date")
		return
	}
	to, err := time.Parse("2006-01-02", body.To)
	if err != nil {
		response.BadRequest(c, "invalid to date")
		return
	}
	if to.Before(from) {
		response.BadRequest(c, "to before from")
		return
	}

	h.mu.Lock()
	if _, busy := h.running[integ.ID]; busy {
		h.mu.Unlock()
		response.Conflict(c, "import already running")
		return
	}
	// The import outlives the request; it is cancelled explicitly, not by
	// the client hanging up.
	runCtx, cancel := context.WithCancel(context.Background())
	h.running[integ.ID] = cancel
	h.mu.Unlock()

	h.writeSnapshot(runCtx, integ.ID, snapshot{Status: runStatusRunning, UpdatedAt: time.Now()})
	go h.run(runCtx, cancel, integ.ID, from, to)

	h.logger.Info("historical import started",
		zap.String("integration_id", integ.ID.String()),
		zap.String("from", body.From),
		zap.String("to", body.To),
	)
	c.JSON(202, gin.H{"success": true, "data": gin.H{"status": runStatusRunning}})
}

func (h *Handler) run(ctx context.Context, cancel context.CancelFunc, integrationID uuid.UUID, from, to time.Time) {
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.running, integrationID)
		h.mu.Unlock()
	}()

	integ, err := h.integrations.GetByID(ctx, integrationID)
	if err != nil || integ == nil {
		h.writeFinal(integrationID, snapshot{Status: runStatusFailed, Error: "integration unavailable", UpdatedAt: time.Now()})
		return
	}

	var last Progress
	_, err = h.importer.ImportRange(ctx, integ, from, to, func(p Progress) {
		last = p
		h.writeSnapshot(ctx, integrationID, snapshot{Status: runStatusRunning, Progress: p, UpdatedAt: time.Now()})
	})
	final := snapshot{Status: runStatusCompleted, Progress: last, UpdatedAt: time.Now()}
	switch {
	case err == nil:
	case ctx.Err() != nil:
		final.Status = runStatusCancelled
	default:
		final.Status = runStatusFailed
		final.Error = err.Error()
		h.logger.Error("historical import failed", zap.Error(err), zap.String("integration_id", integrationID.String()))
	}
	h.writeFinal(integrationID, final)
}

// Progress handles GET /api/integrations/:id/import.
func (h *Handler) Progress(c *gin.Context) {
	integ, ok := h.ownedIntegration(c)
	if !ok {
		return
	}
	raw, err := h.rdb.Get(c.Request.Context(), progressKey(integ.ID)).Result()
	if err == goredis.Nil {
		response.NotFound(c, "no import for integration")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load progress")
		return
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		response.Internal(c, "corrupt progress record")
		return
	}
	response.OK(c, snap)
}

// Cancel handles DELETE /api/integrations/:id/import: stops the page loop
// and cancels still-pending import jobs. Jobs already claimed run to
// completion.
func (h *Handler) Cancel(c *gin.Context) {
	integ, ok := h.ownedIntegration(c)
	if !ok {
		return
	}
	h.mu.Lock()
	cancel, running := h.running[integ.ID]
	h.mu.Unlock()
	if running {
		cancel()
	}
	cancelled, err := h.queue.CancelPending(c.Request.Context(), queue.JobTypeImportRecording, integ.AccountID)
	if err != nil {
		h.logger.Error("cancel pending jobs failed", zap.Error(err), zap.String("integration_id", integ.ID.String()))
		response.Internal(c, "failed to cancel pending jobs")
		return
	}
	response.OK(c, gin.H{"cancelled_jobs": cancelled, "was_running": running})
}

func (h *Handler) ownedIntegration(c *gin.Context) (*models.Integration, bool) {
	v, found := c.Get(middleware.ContextUserID)
	accountID, cast := v.(uuid.UUID)
	if !found || !cast {
		response.Unauthorized(c, "missing account")
		return nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid integration id")
		return nil, false
	}
	integ, err := h.integrations.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load integration")
		return nil, false
	}
	if integ == nil || integ.AccountID != accountID {
		response.NotFound(c, "integration not found")
		return nil, false
	}
	return integ, true
}

func (h *Handler) writeSnapshot(ctx context.Context, integrationID uuid.UUID, snap snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := h.rdb.Set(ctx, progressKey(integrationID), raw, progressTTL).Err(); err != nil {
		h.logger.Warn("write import progress failed", zap.Error(err), zap.String("integration_id", integrationID.String()))
	}
}

// writeFinal uses a background context so the terminal state lands even when
// the run context was cancelled.
func (h *Handler) writeFinal(integrationID uuid.UUID, snap snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.writeSnapshot(ctx, integrationID, snap)
}

func progressKey(integrationID uuid.UUID) string {
	return "import:progress:" + integrationID.String()
}
