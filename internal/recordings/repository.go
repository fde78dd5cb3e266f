package recordings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetingscribe/backend/internal/models"
)

// ErrDuplicateMeeting is returned by Create when the provider meeting id is
// already present. The meeting id is the dedup key, so concurrent webhook
// replays surface here instead of as raw constraint errors.
var ErrDuplicateMeeting = errors.New("recordings: meeting already imported")

const recordingColumns = `id, integration_id, account_id, meeting_id, COALESCE(meeting_uuid,''), COALESCE(topic,''), start_time, duration, COALESCE(host_email,''), participant_count, files, status, transcription_job_id, COALESCE(processing_error,''), retry_count, created_at, updated_at`

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new recording keyed on its provider meeting id.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	files, err := json.Marshal(rec.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	const q = `INSERT INTO recordings (integration_id, account_id, meeting_id, meeting_uuid, topic, start_time, duration, host_email, participant_count, files, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
	err = r.pool.QueryRow(ctx, q, rec.IntegrationID, rec.AccountID, rec.MeetingID, rec.MeetingUUID, rec.Topic,
		rec.StartTime, rec.Duration, rec.HostEmail, rec.ParticipantCount, files, rec.Status).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateMeeting
		}
		return err
	}
	return nil
}

// GetByID returns a recording by id, or nil.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	return r.getOne(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id)
}

// GetByMeetingID returns a recording by its provider meeting id, or nil.
// This is the dedup check shared by webhook ingestion and backfill.
func (r *Repository) GetByMeetingID(ctx context.Context, meetingID string) (*models.Recording, error) {
	return r.getOne(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE meeting_id = $1`, meetingID)
}

// ListByAccount returns recordings for an account, newest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Recording, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// UpdateStatus sets recording status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	const q = `UPDATE recordings SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, id)
	return err
}

// MarkCompleted finishes the import, attaching the downstream transcription
// job reference.
func (r *Repository) MarkCompleted(ctx context.Context, id, transcriptionJobID uuid.UUID) error {
	const q = `UPDATE recordings SET status = $1, transcription_job_id = $2, processing_error = NULL, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, models.RecordingStatusCompleted, transcriptionJobID, id)
	return err
}

// MarkFailed records a terminal processing failure with its error text.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `UPDATE recordings SET status = $1, processing_error = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, models.RecordingStatusFailed, errText, id)
	return err
}

// RecordRetry bumps the retry counter and keeps the last error for operator
// inspection while the job is rescheduled.
func (r *Repository) RecordRetry(ctx context.Context, id uuid.UUID, errText string) error {
	const q = `UPDATE recordings SET retry_count = retry_count + 1, processing_error = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, errText, id)
	return err
}

// MarkDeletedByMeetingID soft-deletes recordings for a provider meeting
// (recording.trashed). Idempotent.
func (r *Repository) MarkDeletedByMeetingID(ctx context.Context, meetingID string) (int64, error) {
	const q = `UPDATE recordings SET status = $1, updated_at = NOW() WHERE meeting_id = $2`
	tag, err := r.pool.Exec(ctx, q, models.RecordingStatusDeleted, meetingID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteByMeetingID hard-deletes recordings for a provider meeting
// (recording.deleted). Idempotent.
func (r *Repository) DeleteByMeetingID(ctx context.Context, meetingID string) (int64, error) {
	const q = `DELETE FROM recordings WHERE meeting_id = $1`
	tag, err := r.pool.Exec(ctx, q, meetingID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) getOne(ctx context.Context, q string, args ...any) (*models.Recording, error) {
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	var files []byte
	err := row.Scan(&rec.ID, &rec.IntegrationID, &rec.AccountID, &rec.MeetingID, &rec.MeetingUUID, &rec.Topic,
		&rec.StartTime, &rec.Duration, &rec.HostEmail, &rec.ParticipantCount, &files, &rec.Status,
		&rec.TranscriptionJobID, &rec.ProcessingError, &rec.RetryCount, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		if err := json.Unmarshal(files, &rec.Files); err != nil {
			return nil, fmt.Errorf("unmarshal files: %w", err)
		}
	}
	return &rec, nil
}
