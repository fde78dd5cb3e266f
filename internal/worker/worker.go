// Package worker runs the background job pipeline: a periodic poll loop
// claims batches from the durable queue and dispatches each job to a handler,
// with bounded retries and per-job timeouts.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetingscribe/backend/pkg/queue"
)

// Handler executes one claimed job.
type Handler func(ctx context.Context, job *queue.Job) error

// JobQueue is the queue surface the runner needs; implemented by
// *queue.Queue.
type JobQueue interface {
	ClaimBatch(ctx context.Context, max int, types ...queue.JobType) ([]queue.Job, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, jobErr error) error
	FailWithRetry(ctx context.Context, job *queue.Job, jobErr error) (uuid.UUID, error)
}

// FailureRecorder mirrors job failures onto the recording row for operator
// visibility; implemented by *recordings.Repository.
type FailureRecorder interface {
	RecordRetry(ctx context.Context, id uuid.UUID, errText string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errText string) error
}

// Worker polls the queue and dispatches claimed jobs. Poll interval, batch
// size and per-job timeout are constructor parameters so tests can drive the
// loop synchronously.
type Worker struct {
	queue      JobQueue
	recordings FailureRecorder
	handlers   map[queue.JobType]Handler
	types      []queue.JobType

	pollInterval time.Duration
	batchSize    int
	jobTimeout   time.Duration
	logger       *zap.Logger
}

// NewWorker creates a worker. Register handlers before calling Run; only
// registered job types are claimed, leaving other types (e.g. transcription)
// for their own consumers.
func NewWorker(q JobQueue, recordings FailureRecorder, pollInterval time.Duration, batchSize int, jobTimeout time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Worker{
		queue:        q,
		recordings:   recordings,
		handlers:     make(map[queue.JobType]Handler),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		jobTimeout:   jobTimeout,
		logger:       logger,
	}
}

// Register binds a handler to a job type.
func (w *Worker) Register(jobType queue.JobType, h Handler) {
	w.handlers[jobType] = h
	w.types = append(w.types, jobType)
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce claims one batch and processes it, waiting for all jobs to finish.
// Returns the number of claimed jobs.
func (w *Worker) RunOnce(ctx context.Context) int {
	jobs, err := w.queue.ClaimBatch(ctx, w.batchSize, w.types...)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("claim batch failed", zap.Error(err))
		}
		return 0
	}
	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runJob(ctx, job)
		}()
	}
	wg.Wait()
	return len(jobs)
}

func (w *Worker) runJob(ctx context.Context, job queue.Job) {
	log := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("type", string(job.Type)),
		zap.Int("attempt", job.Attempts),
	)

	handler, ok := w.handlers[job.Type]
	if !ok {
		// ClaimBatch filters on registered types; reaching here means a
		// handler was unregistered mid-flight.
		_ = w.queue.Fail(ctx, job.ID, fmt.Errorf("no handler for job type %s", job.Type))
		log.Error("no handler for claimed job")
		return
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	err := handler(jobCtx, &job)
	if err == nil {
		if cerr := w.queue.Complete(ctx, job.ID); cerr != nil {
			log.Error("complete failed", zap.Error(cerr))
		}
		return
	}

	recordingID, hasRecording := recordingIDFromPayload(&job)
	if !isRetryable(err) {
		log.Error("job failed permanently", zap.Error(err))
		if ferr := w.queue.Fail(ctx, job.ID, err); ferr != nil {
			log.Error("fail update failed", zap.Error(ferr))
		}
		if hasRecording {
			if rerr := w.recordings.MarkFailed(ctx, recordingID, err.Error()); rerr != nil {
				log.Error("mark recording failed errored", zap.Error(rerr))
			}
		}
		return
	}

	retryID, rerr := w.queue.FailWithRetry(ctx, &job, err)
	if rerr != nil {
		log.Error("retry scheduling failed", zap.Error(rerr))
		return
	}
	if hasRecording {
		if retryID == uuid.Nil {
			// Retry budget exhausted.
			if merr := w.recordings.MarkFailed(ctx, recordingID, err.Error()); merr != nil {
				log.Error("mark recording failed errored", zap.Error(merr))
			}
		} else if merr := w.recordings.RecordRetry(ctx, recordingID, err.Error()); merr != nil {
			log.Error("record retry errored", zap.Error(merr))
		}
	}
	log.Warn("job failed", zap.Error(err), zap.Bool("retried", retryID != uuid.Nil))
}

// recordingIDFromPayload extracts the recording reference for failure
// bookkeeping when the job carries one.
func recordingIDFromPayload(job *queue.Job) (uuid.UUID, bool) {
	switch job.Type {
	case queue.JobTypeImportRecording:
		var p queue.ImportRecordingPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return uuid.Nil, false
		}
		return p.RecordingID, p.RecordingID != uuid.Nil
	case queue.JobTypeTranscription:
		var p queue.TranscriptionPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return uuid.Nil, false
		}
		return p.RecordingID, p.RecordingID != uuid.Nil
	default:
		return uuid.Nil, false
	}
}
