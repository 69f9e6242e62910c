package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTenantID   = errors.New("invalid tenant id")
	ErrInvalidKeyName    = errors.New("invalid key name")
	ErrMissingCredential = errors.New("missing api key")
	ErrInvalidCredential = errors.New("invalid or revoked api key")
	ErrUnknownEvent      = errors.New("unknown webhook event")
)

// ErrPayloadValidation is returned when an integration payload does not
// match its JSON schema. Fields holds one message per offending location.
type ErrPayloadValidation struct {
	Fields []FieldError
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ErrPayloadValidation) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("payload validation failed: %s", strings.Join(parts, "; "))
}
