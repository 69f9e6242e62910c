package usecase

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/ports"
)

// DefaultReservedHostLabels never resolve to a tenant.
var DefaultReservedHostLabels = []string{"www", "app", "api", "admin", "localhost"}

// TenantResolver maps a Host header to a tenant for routing and branding.
// It is not an authentication step.
type TenantResolver struct {
	tenants     ports.TenantRepository
	logger      zerolog.Logger
	reserved    map[string]struct{}
	rootDomains map[string]struct{}
}

// NewTenantResolver builds a resolver. A nil reserved slice falls back to
// DefaultReservedHostLabels; rootDomains lists bare hosts such as
// "example.com" that carry no tenant label.
func NewTenantResolver(tenants ports.TenantRepository, reserved, rootDomains []string, logger zerolog.Logger) *TenantResolver {
	if reserved == nil {
		reserved = DefaultReservedHostLabels
	}
	r := &TenantResolver{
		tenants:     tenants,
		logger:      logger.With().Str("component", "tenant_resolver").Logger(),
		reserved:    make(map[string]struct{}, len(reserved)),
		rootDomains: make(map[string]struct{}, len(rootDomains)),
	}
	for _, label := range reserved {
		r.reserved[strings.ToLower(strings.TrimSpace(label))] = struct{}{}
	}
	for _, domainName := range rootDomains {
		r.rootDomains[strings.ToLower(strings.Trim(strings.TrimSpace(domainName), "."))] = struct{}{}
	}
	return r
}

// Resolve returns the tenant addressed by host. An exact id match on the
// first label wins; otherwise the oldest tenant whose name contains the
// label is used.
func (r *TenantResolver) Resolve(ctx context.Context, host string) (domain.Tenant, bool, error) {
	candidate, ok := r.candidate(host)
	if !ok {
		return domain.Tenant{}, false, nil
	}

	tenant, err := r.tenants.Get(ctx, candidate)
	switch {
	case err == nil:
		return tenant, true, nil
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Tenant{}, false, err
	}

	matches, err := r.tenants.FindByNameContaining(ctx, candidate)
	if err != nil {
		return domain.Tenant{}, false, err
	}
	if len(matches) == 0 {
		return domain.Tenant{}, false, nil
	}
	if len(matches) > 1 {
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		r.logger.Warn().Str("candidate", candidate).Strs("tenant_ids", ids).Str("chosen", matches[0].ID).Msg("ambiguous tenant host match")
	}
	return matches[0], true, nil
}

func (r *TenantResolver) candidate(host string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[].")
	if host == "" || net.ParseIP(host) != nil {
		return "", false
	}
	if _, ok := r.rootDomains[host]; ok {
		return "", false
	}

	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return "", false
	}
	if _, ok := r.reserved[label]; ok {
		return "", false
	}
	return label, true
}
