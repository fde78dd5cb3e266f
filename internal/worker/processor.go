package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetingscribe/backend/internal/models"
	"github.com/meetingscribe/backend/pkg/queue"
	"github.com/meetingscribe/backend/pkg/storage"
)

// ErrNoDownloadableFiles means no audio/video manifest entry could be
// downloaded. Terminal: the manifest itself is unlikely to change, so
// retrying would not help.
var ErrNoDownloadableFiles = errors.New("worker: no downloadable files in manifest")

// mediaContentTypes maps the accepted audio/video container file types to
// their MIME types. Everything else in the manifest (chat logs, timelines,
// transcripts) is skipped.
var mediaContentTypes = map[string]string{
	"MP4": "video/mp4",
	"M4A": "audio/mp4",
}

// primaryRecordingType is preferred when choosing the file handed to
// transcription.
const primaryRecordingType = "shared_screen_with_speaker_view"

// RecordingStore is the persistence the processor needs.
type RecordingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	MarkCompleted(ctx context.Context, id, transcriptionJobID uuid.UUID) error
}

// Downloader fetches recording media from the provider; implemented by
// *zoom.Client (rate-limited, authenticated).
type Downloader interface {
	Download(ctx context.Context, accountID uuid.UUID, downloadURL string) (io.ReadCloser, int64, error)
}

// MediaStore persists downloaded media; implemented by *storage.S3.
type MediaStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// Enqueuer enqueues the downstream transcription job.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload any, priority int) (uuid.UUID, error)
}

// Processor executes import_recording jobs: download the manifest's media
// files, store them durably, and hand the primary file to transcription.
type Processor struct {
	repo     RecordingStore
	provider Downloader
	media    MediaStore
	queue    Enqueuer
	logger   *zap.Logger
}

// NewProcessor creates a recording processor.
func NewProcessor(repo RecordingStore, provider Downloader, media MediaStore, q Enqueuer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{repo: repo, provider: provider, media: media, queue: q, logger: logger}
}

type storedFile struct {
	file models.RecordingFile
	key  string
}

// Process executes one import_recording job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.ImportRecordingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.repo.GetByID(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("recording not found: %s", payload.RecordingID)
	}
	if rec.Status == models.RecordingStatusCompleted {
		// Replayed job after a crash between completion and ack.
		p.logger.Info("recording already completed", zap.String("recording_id", rec.ID.String()))
		return nil
	}

	if err := p.repo.UpdateStatus(ctx, rec.ID, models.RecordingStatusProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	var stored []storedFile
	for _, f := range rec.Files {
		contentType, ok := mediaContentTypes[strings.ToUpper(f.FileType)]
		if !ok {
			continue
		}
		key, err := p.storeFile(ctx, rec, f, contentType)
		if err != nil {
			// Per-file failure: log and keep going with the rest of the
			// manifest.
			p.logger.Warn("recording file skipped",
				zap.Error(err),
				zap.String("recording_id", rec.ID.String()),
				zap.String("file_id", f.ID),
				zap.String("file_type", f.FileType),
			)
			continue
		}
		stored = append(stored, storedFile{file: f, key: key})
	}
	if len(stored) == 0 {
		return ErrNoDownloadableFiles
	}

	primary := choosePrimary(stored)
	jobID, err := p.queue.Enqueue(ctx, queue.JobTypeTranscription, queue.TranscriptionPayload{
		RecordingID: rec.ID,
		AccountID:   rec.AccountID,
		StorageKey:  primary.key,
	}, queue.PriorityNormal)
	if err != nil {
		return fmt.Errorf("enqueue transcription: %w", err)
	}
	if err := p.repo.MarkCompleted(ctx, rec.ID, jobID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	p.logger.Info("recording import completed",
		zap.String("recording_id", rec.ID.String()),
		zap.String("meeting_id", rec.MeetingID),
		zap.Int("files_stored", len(stored)),
		zap.String("transcription_job_id", jobID.String()),
	)
	return nil
}

// storeFile streams one manifest entry from the provider into durable
// storage and returns the storage key.
func (p *Processor) storeFile(ctx context.Context, rec *models.Recording, f models.RecordingFile, contentType string) (string, error) {
	body, size, err := p.provider.Download(ctx, rec.AccountID, f.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer body.Close()

	key := storage.RecordingKey(rec.AccountID.String(), rec.MeetingID, f.ID, f.FileExtension)
	if size <= 0 {
		size = f.FileSize
	}
	if _, err := p.media.Upload(ctx, key, contentType, body, size); err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return key, nil
}

// choosePrimary prefers the speaker-view composite recording, else the first
// stored file.
func choosePrimary(stored []storedFile) storedFile {
	for _, s := range stored {
		if s.file.RecordingType == primaryRecordingType {
			return s
		}
	}
	return stored[0]
}
