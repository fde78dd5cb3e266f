package models

import (
	"time"

	"github.com/google/uuid"
)

// Integration is a stored OAuth lease binding one application account to one
// provider (Zoom) account. Token fields hold ciphertext; only the credential
// vault sees plaintext.
type Integration struct {
	ID                uuid.UUID  `json:"id"`
	AccountID         uuid.UUID  `json:"account_id"`
	ProviderAccountID string     `json:"provider_account_id"`
	AccessToken       string     `json:"-"`
	RefreshToken      string     `json:"-"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
	WebhookSecret     string     `json:"-"`
	AutoImport        bool       `json:"auto_import"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
