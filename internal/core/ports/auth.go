package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
)

type APIKeyRepository interface {
	Create(ctx context.Context, key domain.APIKey) error
	FindByHash(ctx context.Context, keyHash string) (domain.APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// Revoke sets revoked_at only when it is still unset. It returns the key
	// as stored afterwards and whether this call revoked it; an unknown id
	// yields domain.ErrNotFound.
	Revoke(ctx context.Context, id string, at time.Time) (domain.APIKey, bool, error)
	ListActive(ctx context.Context, tenantID string) ([]domain.APIKey, error)
}
