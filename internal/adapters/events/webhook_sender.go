package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/ports"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Webhook-Signature"
)

// ErrNonOKStatus marks an attempt that reached the endpoint but got a
// non-2xx answer. Network failures are returned wrapped as they come from
// the client.
var ErrNonOKStatus = errors.New("webhook endpoint returned non-2xx status")

// WebhookSender POSTs pre-serialised, pre-signed webhook bodies. It makes
// exactly one attempt per call; retries belong to the dispatcher.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender returns a sender whose every request is bounded by
// timeout. A zero or negative timeout falls back to defaultWebhookTimeout
// (10 s).
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

// Send posts req.Body unchanged. The following headers are set:
//
//	Content-Type:         application/json
//	X-Webhook-Event:      <req.Event>
//	X-Webhook-Signature:  <hex HMAC-SHA256>, only when req.Signature is set
func (s *WebhookSender) Send(ctx context.Context, req ports.WebhookRequest) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderEvent, string(req.Event))
	if req.Signature != "" {
		httpReq.Header.Set(HeaderSignature, req.Signature)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrNonOKStatus, resp.StatusCode)
	}
	return nil
}

var _ ports.WebhookSender = (*WebhookSender)(nil)
