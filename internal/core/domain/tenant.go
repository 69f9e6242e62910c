package domain

import (
	"regexp"
	"time"
)

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

type Tenant struct {
	ID            string
	Name          string
	WebhookURL    string
	WebhookSecret string
	CreatedAt     time.Time
}

func (t Tenant) HasWebhook() bool {
	return t.WebhookURL != ""
}

// ValidateTenantID accepts DNS-label shaped slugs so a tenant can always be
// addressed by its subdomain.
func ValidateTenantID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return ErrInvalidTenantID
	}
	return nil
}
