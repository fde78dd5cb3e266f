package integrations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetingscribe/backend/internal/models"
)

const integrationColumns = `id, account_id, provider_account_id, access_token, COALESCE(refresh_token,''), token_expires_at, webhook_secret, auto_import, last_sync_at, created_at, updated_at`

// Repository handles integration persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an integrations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts or updates the integration for its (account, provider
// account) pair. Token fields are left untouched on update; the vault owns
// them.
func (r *Repository) Upsert(ctx context.Context, in *models.Integration) error {
	const q = `INSERT INTO integrations (account_id, provider_account_id, access_token, refresh_token, token_expires_at, webhook_secret, auto_import)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, provider_account_id)
		DO UPDATE SET webhook_secret = EXCLUDED.webhook_secret, auto_import = EXCLUDED.auto_import, updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, in.AccountID, in.ProviderAccountID, in.AccessToken, nullable(in.RefreshToken), in.TokenExpiresAt, in.WebhookSecret, in.AutoImport).
		Scan(&in.ID, &in.CreatedAt, &in.UpdatedAt)
}

// GetByID returns an integration by id, or nil when absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	return r.getOne(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id)
}

// GetByAccount returns the integration owned by an application account, or
// nil when the account has none.
func (r *Repository) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Integration, error) {
	return r.getOne(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE account_id = $1 ORDER BY created_at LIMIT 1`, accountID)
}

// GetByProviderAccountID resolves the integration a webhook event belongs to,
// or nil when the provider account is unknown.
func (r *Repository) GetByProviderAccountID(ctx context.Context, providerAccountID string) (*models.Integration, error) {
	return r.getOne(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE provider_account_id = $1 LIMIT 1`, providerAccountID)
}

// List returns all integrations for an account.
func (r *Repository) List(ctx context.Context, accountID uuid.UUID) ([]models.Integration, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *in)
	}
	return list, rows.Err()
}

// UpdateTokens persists a refreshed (encrypted) token pair and expiry.
func (r *Repository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error {
	const q = `UPDATE integrations SET access_token = $1, refresh_token = $2, token_expires_at = $3, updated_at = NOW() WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, accessToken, nullable(refreshToken), expiresAt, id)
	return err
}

// TouchLastSync stamps last_sync_at after a completed historical import.
func (r *Repository) TouchLastSync(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE integrations SET last_sync_at = NOW(), updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// Delete removes the integration; dependent recordings cascade.
func (r *Repository) Delete(ctx context.Context, id, accountID uuid.UUID) (bool, error) {
	const q = `DELETE FROM integrations WHERE id = $1 AND account_id = $2`
	tag, err := r.pool.Exec(ctx, q, id, accountID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) getOne(ctx context.Context, q string, args ...any) (*models.Integration, error) {
	in, err := scanIntegration(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return in, nil
}

func scanIntegration(row pgx.Row) (*models.Integration, error) {
	var in models.Integration
	err := row.Scan(&in.ID, &in.AccountID, &in.ProviderAccountID, &in.AccessToken, &in.RefreshToken,
		&in.TokenExpiresAt, &in.WebhookSecret, &in.AutoImport, &in.LastSyncAt, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
