package domain

import (
	"encoding/json"
	"time"
)

type WebhookEvent string

const (
	EventLivretSigned     WebhookEvent = "LIVRET_SIGNED"
	EventApprenticeSynced WebhookEvent = "APPRENTICE_SYNCED"
)

// WebhookEvents lists every event a tenant endpoint may receive.
var WebhookEvents = []WebhookEvent{
	EventLivretSigned,
	EventApprenticeSynced,
}

func (e WebhookEvent) Valid() bool {
	for _, known := range WebhookEvents {
		if e == known {
			return true
		}
	}
	return false
}

// PayloadTimeFormat matches the ISO-8601 instants receivers already parse.
const PayloadTimeFormat = "2006-01-02T15:04:05.000Z07:00"

type WebhookPayload struct {
	Event     WebhookEvent    `json:"event"`
	Timestamp string          `json:"timestamp"`
	TenantID  string          `json:"tenantId"`
	Data      json.RawMessage `json:"data"`
}

func NewWebhookPayload(event WebhookEvent, tenantID string, data json.RawMessage, at time.Time) WebhookPayload {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return WebhookPayload{
		Event:     event,
		Timestamp: at.UTC().Format(PayloadTimeFormat),
		TenantID:  tenantID,
		Data:      data,
	}
}

type DeliveryState string

const (
	DeliveryPending     DeliveryState = "PENDING"
	DeliverySending     DeliveryState = "SENDING"
	DeliverySuccess     DeliveryState = "SUCCESS"
	DeliveryFailedFinal DeliveryState = "FAILED_FINAL"
)

// DeliveryResult is the terminal report of one dispatch. Attempt is set on
// success, Attempts on exhaustion.
type DeliveryResult struct {
	State    DeliveryState `json:"state,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
	Success  bool          `json:"success"`
	Attempt  int           `json:"attempt,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Error    string        `json:"error,omitempty"`
}
