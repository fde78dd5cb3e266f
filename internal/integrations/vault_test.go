package integrations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetingscribe/backend/config"
	"github.com/meetingscribe/backend/internal/models"
)

// reverseCipher is a trivially invertible fake so assertions can see through
// the encryption boundary.
type reverseCipher struct{}

func (reverseCipher) Encrypt(plaintext string) (string, error) { return "enc:" + plaintext, nil }
func (reverseCipher) Decrypt(ciphertext string) (string, error) {
	return ciphertext[len("enc:"):], nil
}

type fakeStore struct {
	mu          sync.Mutex
	integration *models.Integration
	updates     int
}

func (s *fakeStore) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.integration == nil || s.integration.AccountID != accountID {
		return nil, nil
	}
	copy := *s.integration
	return &copy, nil
}

func (s *fakeStore) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.integration.AccessToken = accessToken
	s.integration.RefreshToken = refreshToken
	s.integration.TokenExpiresAt = expiresAt
	return nil
}

func newVaultUnderTest(t *testing.T, store *fakeStore, tokenURL string) *Vault {
	t.Helper()
	return NewVault(store, reverseCipher{}, config.ZoomConfig{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		OAuthTokenURL: tokenURL,
	}, nil)
}

func integrationFixture(accountID uuid.UUID) *models.Integration {
	return &models.Integration{
		ID:                uuid.New(),
		AccountID:         accountID,
		ProviderAccountID: "prov-acct-1",
	}
}

func TestVaultReturnsCachedValidToken(t *testing.T) {
	accountID := uuid.New()
	expires := time.Now().Add(time.Hour)
	store := &fakeStore{integration: integrationFixture(accountID)}
	store.integration.AccessToken = "enc:cached-token"
	store.integration.TokenExpiresAt = &expires

	exchanges := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
	}))
	defer srv.Close()

	v := newVaultUnderTest(t, store, srv.URL)
	token, err := v.AccessToken(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, "cached-token", token)
	assert.Zero(t, exchanges)
	assert.Zero(t, store.updates)
}

func TestVaultRefreshesExpiredToken(t *testing.T) {
	accountID := uuid.New()
	expired := time.Now().Add(-time.Minute)
	store := &fakeStore{integration: integrationFixture(accountID)}
	store.integration.AccessToken = "enc:stale-token"
	store.integration.TokenExpiresAt = &expired

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "account_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "prov-acct-1", r.Form.Get("account_id"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		w.Write([]byte(`{"access_token":"fresh-token","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	v := newVaultUnderTest(t, store, srv.URL)
	token, err := v.AccessToken(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)

	assert.Equal(t, 1, store.updates)
	assert.Equal(t, "enc:fresh-token", store.integration.AccessToken)
	require.NotNil(t, store.integration.TokenExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *store.integration.TokenExpiresAt, time.Minute)
}

func TestVaultRefreshesTokenInsideSkewWindow(t *testing.T) {
	accountID := uuid.New()
	// Still ahead of now, but inside the 5-minute staleness buffer.
	nearExpiry := time.Now().Add(2 * time.Minute)
	store := &fakeStore{integration: integrationFixture(accountID)}
	store.integration.AccessToken = "enc:nearly-stale"
	store.integration.TokenExpiresAt = &nearExpiry

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"fresh-token","expires_in":3600}`))
	}))
	defer srv.Close()

	v := newVaultUnderTest(t, store, srv.URL)
	token, err := v.AccessToken(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
}

func TestVaultNoIntegration(t *testing.T) {
	v := newVaultUnderTest(t, &fakeStore{}, "http://unused")
	_, err := v.AccessToken(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoIntegration)
}

func TestVaultExchangeError(t *testing.T) {
	accountID := uuid.New()
	store := &fakeStore{integration: integrationFixture(accountID)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"reason":"Invalid client credentials"}`))
	}))
	defer srv.Close()

	v := newVaultUnderTest(t, store, srv.URL)
	_, err := v.AccessToken(context.Background(), accountID)
	var exchErr *ExchangeError
	require.ErrorAs(t, err, &exchErr)
	assert.Equal(t, http.StatusBadRequest, exchErr.StatusCode)
	assert.Zero(t, store.updates)
}

func TestVaultSerializesRefreshPerAccount(t *testing.T) {
	accountID := uuid.New()
	store := &fakeStore{integration: integrationFixture(accountID)}

	var mu sync.Mutex
	exchanges := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		exchanges++
		mu.Unlock()
		w.Write([]byte(`{"access_token":"fresh-token","expires_in":3600}`))
	}))
	defer srv.Close()

	v := newVaultUnderTest(t, store, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := v.AccessToken(context.Background(), accountID)
			assert.NoError(t, err)
			assert.Equal(t, "fresh-token", token)
		}()
	}
	wg.Wait()

	// The first caller refreshes; the rest re-read the persisted token under
	// the per-account lock.
	assert.Equal(t, 1, exchanges)
	assert.Equal(t, 1, store.updates)
}
