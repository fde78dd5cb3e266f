package zoom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	return s.token, s.err
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(staticTokens{token: "test-token"}, NewRateLimiter(100, time.Minute), srv.URL, nil)
	return client, srv
}

func TestClientGetSendsBearerToken(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}))

	body, err := client.Get(context.Background(), uuid.New(), "/users/me/recordings", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestClientGetAPIError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limit exceeded"}`))
	}))

	_, err := client.Get(context.Background(), uuid.New(), "/users/me/recordings", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, apiErr.Transient())
}

func TestClientGetQueryEncoding(t *testing.T) {
	var gotQuery url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))

	q := url.Values{}
	q.Set("from", "2026-01-01")
	q.Set("page_size", "30")
	_, err := client.Get(context.Background(), uuid.New(), "/users/me/recordings", q)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01", gotQuery.Get("from"))
	assert.Equal(t, "30", gotQuery.Get("page_size"))
}

func TestListRecordingsPagination(t *testing.T) {
	pages := map[string]RecordingsPage{
		"": {
			Meetings:      []Meeting{{ID: "111", Topic: "standup"}},
			TotalRecords:  2,
			NextPageToken: "tok-2",
		},
		"tok-2": {
			Meetings:     []Meeting{{ID: "222", Topic: "retro"}},
			TotalRecords: 2,
		},
	}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me/recordings", r.URL.Path)
		page := pages[r.URL.Query().Get("next_page_token")]
		json.NewEncoder(w).Encode(page)
	}))

	ctx := context.Background()
	accountID := uuid.New()

	first, err := client.ListRecordings(ctx, accountID, ListRecordingsParams{PageSize: 1})
	require.NoError(t, err)
	require.Len(t, first.Meetings, 1)
	assert.Equal(t, MeetingID("111"), first.Meetings[0].ID)
	assert.Equal(t, "tok-2", first.NextPageToken)

	second, err := client.ListRecordings(ctx, accountID, ListRecordingsParams{PageSize: 1, NextPageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Meetings, 1)
	assert.Equal(t, MeetingID("222"), second.Meetings[0].ID)
	assert.Empty(t, second.NextPageToken)
}

func TestClientTokenSourceFailureSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	client := NewClient(staticTokens{err: assert.AnError}, NewRateLimiter(10, time.Minute), srv.URL, nil)

	_, err := client.Get(context.Background(), uuid.New(), "/users/me/recordings", nil)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, called)
}

func TestMeetingIDUnmarshal(t *testing.T) {
	var m Meeting
	require.NoError(t, json.Unmarshal([]byte(`{"id":"abc-123"}`), &m))
	assert.Equal(t, MeetingID("abc-123"), m.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":84521090331}`), &m))
	assert.Equal(t, MeetingID("84521090331"), m.ID)
}

func TestAPIErrorTransient(t *testing.T) {
	cases := []struct {
		name string
		err  APIError
		want bool
	}{
		{"rate limited", APIError{StatusCode: 429}, true},
		{"server error", APIError{StatusCode: 503}, true},
		{"unavailable body", APIError{StatusCode: 400, Body: "Service temporarily unavailable"}, true},
		{"not found", APIError{StatusCode: 404}, false},
		{"unauthorized", APIError{StatusCode: 401}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Transient())
		})
	}
}
