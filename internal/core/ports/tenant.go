package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
)

type TenantRepository interface {
	Get(ctx context.Context, id string) (domain.Tenant, error)
	// FindByNameContaining matches case-insensitively and orders by
	// created_at, then id.
	FindByNameContaining(ctx context.Context, fragment string) ([]domain.Tenant, error)
	Upsert(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error)
}
