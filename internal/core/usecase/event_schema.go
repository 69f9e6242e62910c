package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
)

// EventRequest is an integration call asking for a webhook to be emitted
// on behalf of the authenticated tenant.
type EventRequest struct {
	Event domain.WebhookEvent `json:"event"`
	Data  json.RawMessage     `json:"data"`
}

// EventSchema validates EventRequest bodies against a JSON schema whose
// event enum follows domain.WebhookEvents.
type EventSchema struct {
	schema *santhosh.Schema
}

func NewEventSchema() (*EventSchema, error) {
	schemaJSON, err := eventRequestSchema()
	if err != nil {
		return nil, err
	}
	compiled, err := compileSchema(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	return &EventSchema{schema: compiled}, nil
}

// Parse validates raw and decodes it. Violations are reported as
// *domain.ErrPayloadValidation.
func (s *EventSchema) Parse(raw []byte) (EventRequest, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return EventRequest{}, &domain.ErrPayloadValidation{Fields: []domain.FieldError{{Field: "/", Message: "invalid json body"}}}
	}
	if err := s.schema.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return EventRequest{}, &domain.ErrPayloadValidation{Fields: collectFieldErrors(ve)}
		}
		return EventRequest{}, &domain.ErrPayloadValidation{Fields: []domain.FieldError{{Field: "/", Message: err.Error()}}}
	}

	var req EventRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return EventRequest{}, fmt.Errorf("decode event request: %w", err)
	}
	return req, nil
}

func eventRequestSchema() ([]byte, error) {
	events := make([]string, 0, len(domain.WebhookEvents))
	for _, e := range domain.WebhookEvents {
		events = append(events, string(e))
	}
	return json.Marshal(map[string]any{
		"type":                 "object",
		"required":             []string{"event", "data"},
		"additionalProperties": false,
		"properties": map[string]any{
			"event": map[string]any{"type": "string", "enum": events},
			"data":  map[string]any{},
		},
	})
}

func compileSchema(schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func collectFieldErrors(ve *santhosh.ValidationError) []domain.FieldError {
	var fields []domain.FieldError
	for _, cause := range ve.Causes {
		fields = append(fields, collectFieldErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		field := ve.InstanceLocation
		if field == "" {
			field = "/"
		}
		fields = append(fields, domain.FieldError{Field: field, Message: ve.Message})
	}
	return fields
}
