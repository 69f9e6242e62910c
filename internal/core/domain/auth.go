package domain

import "time"

// APIKeyPrefix is the public, non-secret leading part of every credential.
const APIKeyPrefix = "ak_live_"

type APIKey struct {
	ID        string
	Name      string
	KeyHash   string
	Prefix    string
	TenantID  string
	CreatedAt time.Time
	LastUsed  *time.Time
	RevokedAt *time.Time
}

func (k APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// Info strips the digest so the key can be shown to administrators.
func (k APIKey) Info() APIKeyInfo {
	return APIKeyInfo{
		ID:        k.ID,
		Name:      k.Name,
		Prefix:    k.Prefix,
		TenantID:  k.TenantID,
		CreatedAt: k.CreatedAt,
		LastUsed:  k.LastUsed,
	}
}

type APIKeyInfo struct {
	ID        string
	Name      string
	Prefix    string
	TenantID  string
	CreatedAt time.Time
	LastUsed  *time.Time
}

// IssuedAPIKey carries the plaintext credential. It is only ever returned
// from key generation.
type IssuedAPIKey struct {
	APIKeyInfo
	Plaintext string
}
