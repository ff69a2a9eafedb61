package model

import (
	"time"
)

// MarketplaceCredential is a per-marketplace API credential record. Services
// resolve the active credential for their marketplace once and memoize it.
type MarketplaceCredential struct {
	ID           int64     `json:"-"`
	CredentialID string    `json:"credential_id"`
	Marketplace  string    `json:"marketplace"`
	Label        string    `json:"label,omitempty"`
	ApiBaseUrl   string    `json:"api_base_url"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
