package ports

import (
	"context"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
)

// WebhookRequest is one delivery attempt. Body is sent as-is; Signature is
// empty when the tenant has no secret.
type WebhookRequest struct {
	URL       string
	Event     domain.WebhookEvent
	Body      []byte
	Signature string
}

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) error
}
