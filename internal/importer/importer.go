// Package importer backfills historical recordings through the provider's
// paginated list API, funneling discoveries through the same dedup + enqueue
// path as webhook ingestion but at a lower priority.
package importer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetingscribe/backend/internal/models"
	"github.com/meetingscribe/backend/internal/recordings"
	"github.com/meetingscribe/backend/internal/zoom"
	"github.com/meetingscribe/backend/pkg/queue"
)

// Progress is a backfill progress snapshot, reported after every page.
type Progress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Imported  int `json:"imported"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Lister pages the provider recordings list; implemented by *zoom.Client.
type Lister interface {
	ListRecordings(ctx context.Context, accountID uuid.UUID, params zoom.ListRecordingsParams) (*zoom.RecordingsPage, error)
}

// RecordingStore is the dedup + create surface shared with webhook ingestion.
type RecordingStore interface {
	GetByMeetingID(ctx context.Context, meetingID string) (*models.Recording, error)
	Create(ctx context.Context, rec *models.Recording) error
}

// SyncMarker stamps the integration after a completed backfill.
type SyncMarker interface {
	TouchLastSync(ctx context.Context, id uuid.UUID) error
}

// Enqueuer enqueues import jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload any, priority int) (uuid.UUID, error)
}

// Importer walks a date range of the provider's recordings.
type Importer struct {
	provider     Lister
	recordings   RecordingStore
	integrations SyncMarker
	queue        Enqueuer
	pageSize     int
	// enqueueDelay spaces per-recording inserts. The rate limiter already
	// protects the provider call; this protects the local queue from a burst
	// of inserts on a large backfill.
	enqueueDelay time.Duration
	logger       *zap.Logger
}

// NewImporter creates a historical importer.
func NewImporter(provider Lister, recordingStore RecordingStore, integrations SyncMarker, q Enqueuer, pageSize int, enqueueDelay time.Duration, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 30
	}
	return &Importer{
		provider:     provider,
		recordings:   recordingStore,
		integrations: integrations,
		queue:        q,
		pageSize:     pageSize,
		enqueueDelay: enqueueDelay,
		logger:       logger,
	}
}

// ImportRange pages the provider's recordings between from and to, creating
// and enqueueing every recording not yet known. onProgress is invoked after
// each page. Returns the number of newly imported recordings.
func (i *Importer) ImportRange(ctx context.Context, integ *models.Integration, from, to time.Time, onProgress func(Progress)) (int, error) {
	var prog Progress
	token := ""
	for {
		page, err := i.provider.ListRecordings(ctx, integ.AccountID, zoom.ListRecordingsParams{
			From:          from,
			To:            to,
			PageSize:      i.pageSize,
			NextPageToken: token,
		})
		if err != nil {
			return prog.Imported, err
		}
		if page.TotalRecords > 0 {
			prog.Total = page.TotalRecords
		}

		for _, meeting := range page.Meetings {
			if err := ctx.Err(); err != nil {
				return prog.Imported, err
			}
			imported, err := i.importOne(ctx, integ, meeting)
			prog.Processed++
			switch {
			case err != nil:
				prog.Failed++
				i.logger.Warn("backfill recording failed",
					zap.Error(err),
					zap.String("meeting_id", string(meeting.ID)),
					zap.String("integration_id", integ.ID.String()),
				)
			case imported:
				prog.Imported++
				if i.enqueueDelay > 0 {
					select {
					case <-ctx.Done():
						return prog.Imported, ctx.Err()
					case <-time.After(i.enqueueDelay):
					}
				}
			default:
				prog.Skipped++
			}
		}

		if onProgress != nil {
			onProgress(prog)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	if err := i.integrations.TouchLastSync(ctx, integ.ID); err != nil {
		i.logger.Error("touch last sync failed", zap.Error(err), zap.String("integration_id", integ.ID.String()))
	}
	i.logger.Info("historical import finished",
		zap.String("integration_id", integ.ID.String()),
		zap.Int("imported", prog.Imported),
		zap.Int("skipped", prog.Skipped),
		zap.Int("failed", prog.Failed),
	)
	return prog.Imported, nil
}

// importOne applies the same dedup + create + enqueue sequence as the
// webhook path. Returns false when the meeting was already known.
func (i *Importer) importOne(ctx context.Context, integ *models.Integration, meeting zoom.Meeting) (bool, error) {
	if meeting.ID == "" {
		return false, errors.New("meeting without id")
	}
	existing, err := i.recordings.GetByMeetingID(ctx, string(meeting.ID))
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	rec := recordings.NewFromMeeting(integ, meeting)
	if err := i.recordings.Create(ctx, rec); err != nil {
		if errors.Is(err, recordings.ErrDuplicateMeeting) {
			return false, nil
		}
		return false, err
	}
	// Backfill yields to live webhook work.
	_, err = i.queue.Enqueue(ctx, queue.JobTypeImportRecording, queue.ImportRecordingPayload{
		RecordingID: rec.ID,
		AccountID:   rec.AccountID,
		MeetingID:   rec.MeetingID,
	}, queue.PriorityNormal)
	if err != nil {
		return false, err
	}
	return true, nil
}
