// Package queue implements a durable, priority-ordered job queue on
// PostgreSQL with atomic batch claims, exponential-backoff retry and
// cancellation of pending work.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Job priorities. Lower runs sooner. Retries add RetryPriorityPenalty so they
// yield to fresh work.
const (
	PriorityHigh   = 10
	PriorityNormal = 50

	RetryPriorityPenalty = 100
)

const (
	// MaxRetries is the number of retry jobs derived from a failing job
	// before it is marked failed for good.
	MaxRetries = 3
	// BaseRetryDelay is the first retry delay; each further retry doubles it
	// (5, 10, 20 minutes).
	BaseRetryDelay = 5 * time.Minute
)

// Job statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeImportRecording JobType = "import_recording"
	JobTypeTranscription   JobType = "transcription"
)

// ImportRecordingPayload is the payload for recording import jobs.
type ImportRecordingPayload struct {
	RecordingID uuid.UUID `json:"recording_id"`
	AccountID   uuid.UUID `json:"account_id"`
	MeetingID   string    `json:"meeting_id"`
}

// TranscriptionPayload is the hand-off to the downstream transcription
// consumer: the stored primary media file for a recording.
type TranscriptionPayload struct {
	RecordingID uuid.UUID `json:"recording_id"`
	AccountID   uuid.UUID `json:"account_id"`
	StorageKey  string    `json:"storage_key"`
}

// Job is one durable unit of deferred work.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// Queue stores jobs in PostgreSQL.
type Queue struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewQueue creates a Postgres-backed job queue.
func NewQueue(pool *pgxpool.Pool, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{pool: pool, logger: logger}
}

// Enqueue inserts a pending job scheduled to run immediately.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload any, priority int) (uuid.UUID, error) {
	return q.EnqueueAt(ctx, jobType, payload, priority, time.Now())
}

// EnqueueAt inserts a pending job that may not be claimed before scheduledAt.
func (q *Queue) EnqueueAt(ctx context.Context, jobType JobType, payload any, priority int, scheduledAt time.Time) (uuid.UUID, error) {
	return q.insert(ctx, jobType, payload, priority, scheduledAt, 0)
}

func (q *Queue) insert(ctx context.Context, jobType JobType, payload any, priority int, scheduledAt time.Time, attempts int) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}
	const sql = `INSERT INTO jobs (type, payload, priority, status, attempts, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	var id uuid.UUID
	if err := q.pool.QueryRow(ctx, sql, string(jobType), body, priority, StatusPending, attempts, scheduledAt).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("insert job: %w", err)
	}
	q.logger.Debug("enqueued job",
		zap.String("job_id", id.String()),
		zap.String("type", string(jobType)),
		zap.Int("priority", priority),
		zap.Time("scheduled_at", scheduledAt),
	)
	return id, nil
}

// ClaimBatch atomically claims up to max due pending jobs of the given types,
// ordered by priority then creation time. Claimed jobs move to processing with
// started_at stamped and the attempt count incremented; FOR UPDATE SKIP LOCKED
// guarantees no job is handed to two claimers.
func (q *Queue) ClaimBatch(ctx context.Context, max int, types ...JobType) ([]Job, error) {
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}
	const sql = `UPDATE jobs SET status = $1, started_at = NOW(), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $2 AND scheduled_at <= NOW() AND type = ANY($3)
			ORDER BY priority ASC, created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, payload, priority, status, attempts, scheduled_at, created_at, started_at, completed_at, COALESCE(last_error, '')`
	rows, err := q.pool.Query(ctx, sql, StatusProcessing, StatusPending, typeNames, max)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	const sql = `SELECT id, type, payload, priority, status, attempts, scheduled_at, created_at, started_at, completed_at, COALESCE(last_error, '')
		FROM jobs WHERE id = $1`
	row := q.pool.QueryRow(ctx, sql, id)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Complete marks a job done.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	const sql = `UPDATE jobs SET status = $1, completed_at = NOW() WHERE id = $2`
	if _, err := q.pool.Exec(ctx, sql, StatusCompleted, id); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail marks a job terminally failed, retaining the error text.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, jobErr error) error {
	const sql = `UPDATE jobs SET status = $1, completed_at = NOW(), last_error = $2 WHERE id = $3`
	if _, err := q.pool.Exec(ctx, sql, StatusFailed, errText(jobErr), id); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// FailWithRetry records the failure on the job and, while retries remain,
// enqueues a derived retry job with the attempt count carried forward,
// scheduled after an exponential backoff and with lowered priority so retries
// yield to fresh work. Returns the retry job id, or uuid.Nil when the job is
// terminally failed.
func (q *Queue) FailWithRetry(ctx context.Context, job *Job, jobErr error) (uuid.UUID, error) {
	if job.Attempts > MaxRetries {
		if err := q.Fail(ctx, job.ID, jobErr); err != nil {
			return uuid.Nil, err
		}
		q.logger.Warn("job failed permanently",
			zap.String("job_id", job.ID.String()),
			zap.String("type", string(job.Type)),
			zap.Int("attempts", job.Attempts),
			zap.String("error", errText(jobErr)),
		)
		return uuid.Nil, nil
	}

	if err := q.Fail(ctx, job.ID, jobErr); err != nil {
		return uuid.Nil, err
	}
	delay := RetryDelay(job.Attempts)
	var payload any = job.Payload
	retryID, err := q.insert(ctx, job.Type, payload, job.Priority+RetryPriorityPenalty, time.Now().Add(delay), job.Attempts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue retry: %w", err)
	}
	q.logger.Info("job scheduled for retry",
		zap.String("job_id", job.ID.String()),
		zap.String("retry_job_id", retryID.String()),
		zap.Int("attempts", job.Attempts),
		zap.Duration("delay", delay),
		zap.String("error", errText(jobErr)),
	)
	return retryID, nil
}

// RetryDelay returns the backoff before retry number attempt (1-based):
// 5, 10, 20 minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return BaseRetryDelay * (1 << (attempt - 1))
}

// CancelPending bulk-cancels due and future pending jobs of the given type
// whose payload references the account. Jobs already claimed run to
// completion; cancellation is not preemptive.
func (q *Queue) CancelPending(ctx context.Context, jobType JobType, accountID uuid.UUID) (int64, error) {
	const sql = `UPDATE jobs SET status = $1, completed_at = NOW()
		WHERE status = $2 AND type = $3 AND payload @> $4`
	filter, err := json.Marshal(map[string]string{"account_id": accountID.String()})
	if err != nil {
		return 0, err
	}
	tag, err := q.pool.Exec(ctx, sql, StatusCancelled, StatusPending, string(jobType), filter)
	if err != nil {
		return 0, fmt.Errorf("cancel pending: %w", err)
	}
	q.logger.Info("cancelled pending jobs",
		zap.String("type", string(jobType)),
		zap.String("account_id", accountID.String()),
		zap.Int64("count", tag.RowsAffected()),
	)
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (Job, error) {
	var job Job
	var jobType string
	err := row.Scan(&job.ID, &jobType, &job.Payload, &job.Priority, &job.Status, &job.Attempts,
		&job.ScheduledAt, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.LastError)
	if err != nil {
		return Job{}, err
	}
	job.Type = JobType(jobType)
	return job, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
