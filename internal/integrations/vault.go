package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meetingscribe/backend/config"
	"github.com/meetingscribe/backend/internal/models"
	"github.com/meetingscribe/backend/pkg/crypto"
)

// ErrNoIntegration is returned when an account has no stored integration.
var ErrNoIntegration = errors.New("integrations: no integration for account")

// ExchangeError is a failed server-to-server OAuth token exchange. The vault
// does not retry it; callers decide retry policy.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("integrations: token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

// expirySkew is the safety buffer against clock skew and in-flight requests:
// a token within 5 minutes of expiry counts as stale.
const expirySkew = 5 * time.Minute

// defaultTokenTTL is used when the provider omits expires_in (it issues
// 1-hour tokens).
const defaultTokenTTL = time.Hour

// IntegrationStore is the persistence the vault needs.
type IntegrationStore interface {
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Integration, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error
}

// Vault manages encrypted OAuth credentials per account: it decrypts stored
// tokens and proactively refreshes them via the provider's server-to-server
// OAuth endpoint. Plaintext tokens never leave this type except as the
// returned bearer value.
type Vault struct {
	store        IntegrationStore
	cipher       crypto.Cipher
	http         *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewVault creates a credential vault.
func NewVault(store IntegrationStore, cipher crypto.Cipher, cfg config.ZoomConfig, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		store:        store,
		cipher:       cipher,
		http:         &http.Client{Timeout: 30 * time.Second},
		tokenURL:     cfg.OAuthTokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		logger:       logger,
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

// AccessToken returns a currently-valid bearer token for the account,
// refreshing and re-persisting it when stale. Refresh is serialized per
// account; the row is re-read under the lock so a concurrent refresh is not
// repeated.
func (v *Vault) AccessToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	lock := v.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	in, err := v.store.GetByAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("load integration: %w", err)
	}
	if in == nil {
		return "", ErrNoIntegration
	}

	if v.isValid(in) {
		token, err := v.cipher.Decrypt(in.AccessToken)
		if err != nil {
			return "", fmt.Errorf("decrypt access token: %w", err)
		}
		return token, nil
	}
	return v.refresh(ctx, in)
}

func (v *Vault) isValid(in *models.Integration) bool {
	if in.AccessToken == "" || in.TokenExpiresAt == nil {
		return false
	}
	return time.Now().Before(in.TokenExpiresAt.Add(-expirySkew))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// refresh performs the client-credential exchange bound to the integration's
// provider account and persists the new encrypted token.
func (v *Vault) refresh(ctx context.Context, in *models.Integration) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "account_credentials")
	form.Set("account_id", in.ProviderAccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(v.clientID, v.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", &ExchangeError{StatusCode: resp.StatusCode, Body: "empty access_token"}
	}

	ttl := defaultTokenTTL
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}
	expiresAt := time.Now().Add(ttl)

	encrypted, err := v.cipher.Encrypt(tr.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	if err := v.store.UpdateTokens(ctx, in.ID, encrypted, in.RefreshToken, &expiresAt); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}
	v.logger.Info("provider token refreshed",
		zap.String("account_id", in.AccountID.String()),
		zap.String("provider_account_id", in.ProviderAccountID),
		zap.Time("expires_at", expiresAt),
	)
	return tr.AccessToken, nil
}

func (v *Vault) lockFor(accountID uuid.UUID) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	lock, ok := v.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[accountID] = lock
	}
	return lock
}
