package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
)

type KeyAuditRepository interface {
	Log(ctx context.Context, event domain.KeyAuditEvent) error
	ListByKey(ctx context.Context, keyID string) ([]domain.KeyAuditEvent, error)
}
