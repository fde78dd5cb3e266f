package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus represents the recording import lifecycle.
const (
	RecordingStatusImporting  = "importing"
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
	// RecordingStatusDeleted marks recordings removed on the provider side
	// (recording.trashed); the row is kept for display.
	RecordingStatusDeleted = "deleted"
)

// RecordingFile is one entry of the provider's file manifest for a meeting.
type RecordingFile struct {
	ID            string `json:"id"`
	FileType      string `json:"file_type"`
	FileExtension string `json:"file_extension"`
	FileSize      int64  `json:"file_size"`
	DownloadURL   string `json:"download_url"`
	Status        string `json:"status"`
	RecordingType string `json:"recording_type"`
}

// Recording is one provider meeting's captured media and its import state.
// MeetingID is the dedup key across webhook delivery, replay and backfill.
type Recording struct {
	ID                 uuid.UUID       `json:"id"`
	IntegrationID      uuid.UUID       `json:"integration_id"`
	AccountID          uuid.UUID       `json:"account_id"`
	MeetingID          string          `json:"meeting_id"`
	MeetingUUID        string          `json:"meeting_uuid,omitempty"`
	Topic              string          `json:"topic,omitempty"`
	StartTime          *time.Time      `json:"start_time,omitempty"`
	Duration           int             `json:"duration"`
	HostEmail          string          `json:"host_email,omitempty"`
	ParticipantCount   int             `json:"participant_count"`
	Files              []RecordingFile `json:"files"`
	Status             string          `json:"status"`
	TranscriptionJobID *uuid.UUID      `json:"transcription_job_id,omitempty"`
	ProcessingError    string          `json:"processing_error,omitempty"`
	RetryCount         int             `json:"retry_count"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
