// Package zoom is the authenticated provider client: every call fetches a
// valid bearer token from the credential vault and passes the process-wide
// rate limiter before touching the network.
package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenSource supplies a currently-valid access token for an account.
// Implemented by the credential vault.
type TokenSource interface {
	AccessToken(ctx context.Context, accountID uuid.UUID) (string, error)
}

// APIError is a non-2xx provider response. Retry policy belongs to callers.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoom api error: status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying: rate-limit
// rejections, server errors and the provider's "temporarily unavailable"
// responses.
func (e *APIError) Transient() bool {
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return true
	}
	return strings.Contains(strings.ToLower(e.Body), "temporarily unavailable")
}

// MeetingID tolerates both string and numeric meeting ids on the wire.
type MeetingID string

func (m *MeetingID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = MeetingID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*m = MeetingID(n.String())
	return nil
}

// Client talks to the provider REST API on behalf of one account at a time.
type Client struct {
	tokens  TokenSource
	limiter *RateLimiter
	http    *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewClient creates a provider client. The limiter must be the process-wide
// instance so all callers share one quota gate.
func NewClient(tokens TokenSource, limiter *RateLimiter, baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		tokens:  tokens,
		limiter: limiter,
		http:    &http.Client{Timeout: 2 * time.Minute},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Get performs a rate-limited, authenticated GET against the API and returns
// the response body. Non-2xx responses become *APIError.
func (c *Client) Get(ctx context.Context, accountID uuid.UUID, path string, query url.Values) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Admit(ctx); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zoom get %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Download fetches a recording media file. The caller must close the body.
// Download URLs are absolute, issued by the provider in the file manifest.
func (c *Client) Download(ctx context.Context, accountID uuid.UUID, downloadURL string) (io.ReadCloser, int64, error) {
	token, err := c.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	if err := c.limiter.Admit(ctx); err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, 0, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, resp.ContentLength, nil
}

// ListRecordingsParams are the provider list API query parameters.
type ListRecordingsParams struct {
	From          time.Time
	To            time.Time
	PageSize      int
	NextPageToken string
}

// RecordingsPage is one page of the paginated recordings list.
type RecordingsPage struct {
	Meetings      []Meeting `json:"meetings"`
	TotalRecords  int       `json:"total_records"`
	NextPageToken string    `json:"next_page_token"`
}

// Meeting is one meeting entry from the list API or a webhook object.
type Meeting struct {
	ID               MeetingID       `json:"id"`
	UUID             string          `json:"uuid"`
	Topic            string          `json:"topic"`
	HostEmail        string          `json:"host_email"`
	StartTime        time.Time       `json:"start_time"`
	Duration         int             `json:"duration"`
	ParticipantCount int             `json:"participant_count"`
	RecordingFiles   []RecordingFile `json:"recording_files"`
}

// RecordingFile mirrors the provider file-manifest entry shape.
type RecordingFile struct {
	ID            string `json:"id"`
	FileType      string `json:"file_type"`
	FileExtension string `json:"file_extension"`
	FileSize      int64  `json:"file_size"`
	DownloadURL   string `json:"download_url"`
	Status        string `json:"status"`
	RecordingType string `json:"recording_type"`
}

// ListRecordings calls the paginated recordings-list endpoint for the
// account's user scope.
func (c *Client) ListRecordings(ctx context.Context, accountID uuid.UUID, params ListRecordingsParams) (*RecordingsPage, error) {
	query := url.Values{}
	if !params.From.IsZero() {
		query.Set("from", params.From.Format("2006-01-02"))
	}
	if !params.To.IsZero() {
		query.Set("to", params.To.Format("2006-01-02"))
	}
	if params.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(params.PageSize))
	}
	if params.NextPageToken != "" {
		query.Set("next_page_token", params.NextPageToken)
	}
	body, err := c.Get(ctx, accountID, "/users/me/recordings", query)
	if err != nil {
		return nil, err
	}
	var page RecordingsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode recordings page: %w", err)
	}
	return &page, nil
}
