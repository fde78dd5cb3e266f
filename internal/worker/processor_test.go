package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetingscribe/backend/internal/models"
	"github.com/meetingscribe/backend/pkg/queue"
)

type procStore struct {
	recording       *models.Recording
	statuses        []string
	completedWith   uuid.UUID
	markedCompleted bool
}

func (s *procStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	if s.recording == nil || s.recording.ID != id {
		return nil, nil
	}
	return s.recording, nil
}

func (s *procStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *procStore) MarkCompleted(ctx context.Context, id, transcriptionJobID uuid.UUID) error {
	s.markedCompleted = true
	s.completedWith = transcriptionJobID
	return nil
}

type fakeDownloader struct {
	failURLs map[string]error
	fetched  []string
}

func (d *fakeDownloader) Download(ctx context.Context, accountID uuid.UUID, downloadURL string) (io.ReadCloser, int64, error) {
	if err, ok := d.failURLs[downloadURL]; ok {
		return nil, 0, err
	}
	d.fetched = append(d.fetched, downloadURL)
	return io.NopCloser(strings.NewReader("media-bytes")), 11, nil
}

type fakeMediaStore struct {
	uploads map[string]string // key -> content type
}

func (m *fakeMediaStore) Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error) {
	if m.uploads == nil {
		m.uploads = make(map[string]string)
	}
	m.uploads[key] = contentType
	return "https://bucket/" + key, nil
}

type capturedJob struct {
	jobType  queue.JobType
	payload  any
	priority int
}

type procEnqueuer struct {
	jobs   []capturedJob
	nextID uuid.UUID
}

func (q *procEnqueuer) Enqueue(ctx context.Context, jobType queue.JobType, payload any, priority int) (uuid.UUID, error) {
	q.jobs = append(q.jobs, capturedJob{jobType: jobType, payload: payload, priority: priority})
	if q.nextID == uuid.Nil {
		q.nextID = uuid.New()
	}
	return q.nextID, nil
}

func recordingFixture(files ...models.RecordingFile) *models.Recording {
	return &models.Recording{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		MeetingID: "m-100",
		Status:    models.RecordingStatusImporting,
		Files:     files,
	}
}

func importJob(t *testing.T, rec *models.Recording) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.ImportRecordingPayload{
		RecordingID: rec.ID,
		AccountID:   rec.AccountID,
		MeetingID:   rec.MeetingID,
	})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.New(), Type: queue.JobTypeImportRecording, Payload: payload, Attempts: 1}
}

func TestProcessorStoresMediaAndHandsOff(t *testing.T) {
	rec := recordingFixture(
		models.RecordingFile{ID: "f-video", FileType: "MP4", FileExtension: "mp4", DownloadURL: "https://p/video", RecordingType: "shared_screen_with_speaker_view"},
		models.RecordingFile{ID: "f-audio", FileType: "M4A", FileExtension: "m4a", DownloadURL: "https://p/audio", RecordingType: "audio_only"},
		models.RecordingFile{ID: "f-chat", FileType: "CHAT", FileExtension: "txt", DownloadURL: "https://p/chat"},
	)
	store := &procStore{recording: rec}
	dl := &fakeDownloader{}
	media := &fakeMediaStore{}
	q := &procEnqueuer{}
	p := NewProcessor(store, dl, media, q, nil)

	require.NoError(t, p.Process(context.Background(), importJob(t, rec)))

	// Chat log is not media and is never fetched.
	assert.ElementsMatch(t, []string{"https://p/video", "https://p/audio"}, dl.fetched)
	assert.Len(t, media.uploads, 2)
	for key, contentType := range media.uploads {
		assert.Contains(t, key, rec.AccountID.String())
		assert.Contains(t, key, "m-100")
		assert.Contains(t, []string{"video/mp4", "audio/mp4"}, contentType)
	}

	assert.Equal(t, []string{models.RecordingStatusProcessing}, store.statuses)
	assert.True(t, store.markedCompleted)
	assert.Equal(t, q.nextID, store.completedWith)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, queue.JobTypeTranscription, q.jobs[0].jobType)
	assert.Equal(t, queue.PriorityNormal, q.jobs[0].priority)
	payload, ok := q.jobs[0].payload.(queue.TranscriptionPayload)
	require.True(t, ok)
	assert.Equal(t, rec.ID, payload.RecordingID)
	// Speaker view wins over audio-only as the transcription input.
	assert.Contains(t, payload.StorageKey, "f-video")
}

func TestProcessorContinuesPastFileFailure(t *testing.T) {
	rec := recordingFixture(
		models.RecordingFile{ID: "f-bad", FileType: "MP4", FileExtension: "mp4", DownloadURL: "https://p/bad"},
		models.RecordingFile{ID: "f-good", FileType: "M4A", FileExtension: "m4a", DownloadURL: "https://p/good"},
	)
	store := &procStore{recording: rec}
	dl := &fakeDownloader{failURLs: map[string]error{"https://p/bad": errors.New("gone")}}
	media := &fakeMediaStore{}
	q := &procEnqueuer{}
	p := NewProcessor(store, dl, media, q, nil)

	require.NoError(t, p.Process(context.Background(), importJob(t, rec)))
	assert.Len(t, media.uploads, 1)
	assert.True(t, store.markedCompleted)
	require.Len(t, q.jobs, 1)
	payload := q.jobs[0].payload.(queue.TranscriptionPayload)
	assert.Contains(t, payload.StorageKey, "f-good")
}

func TestProcessorNoDownloadableFiles(t *testing.T) {
	rec := recordingFixture(
		models.RecordingFile{ID: "f-chat", FileType: "CHAT", FileExtension: "txt", DownloadURL: "https://p/chat"},
	)
	store := &procStore{recording: rec}
	p := NewProcessor(store, &fakeDownloader{}, &fakeMediaStore{}, &procEnqueuer{}, nil)

	err := p.Process(context.Background(), importJob(t, rec))
	assert.ErrorIs(t, err, ErrNoDownloadableFiles)
	assert.False(t, store.markedCompleted)
}

func TestProcessorAllDownloadsFail(t *testing.T) {
	rec := recordingFixture(
		models.RecordingFile{ID: "f-video", FileType: "MP4", FileExtension: "mp4", DownloadURL: "https://p/video"},
	)
	store := &procStore{recording: rec}
	dl := &fakeDownloader{failURLs: map[string]error{"https://p/video": errors.New("gone")}}
	p := NewProcessor(store, dl, &fakeMediaStore{}, &procEnqueuer{}, nil)

	err := p.Process(context.Background(), importJob(t, rec))
	assert.ErrorIs(t, err, ErrNoDownloadableFiles)
}

func TestProcessorSkipsCompletedRecording(t *testing.T) {
	rec := recordingFixture()
	rec.Status = models.RecordingStatusCompleted
	store := &procStore{recording: rec}
	q := &procEnqueuer{}
	p := NewProcessor(store, &fakeDownloader{}, &fakeMediaStore{}, q, nil)

	require.NoError(t, p.Process(context.Background(), importJob(t, rec)))
	assert.Empty(t, store.statuses)
	assert.Empty(t, q.jobs)
}

func TestProcessorUnknownRecording(t *testing.T) {
	store := &procStore{}
	p := NewProcessor(store, &fakeDownloader{}, &fakeMediaStore{}, &procEnqueuer{}, nil)

	rec := recordingFixture()
	err := p.Process(context.Background(), importJob(t, rec))
	assert.Error(t, err)
}
