package app

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/ports"
)

// tenantSeedFile is the provisioning format:
//
//	tenants:
//	  - id: cfa-descartes
//	    name: CFA Descartes
//	    webhook_url: https://hooks.example.com/in
//	    webhook_secret: ${DESCARTES_WEBHOOK_SECRET}
type tenantSeedFile struct {
	Tenants []tenantSeed `yaml:"tenants"`
}

type tenantSeed struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// LoadTenantSeed reads and validates a tenant provisioning file. A secret
// written as ${VAR} is taken from the environment.
func LoadTenantSeed(path string) ([]domain.Tenant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return parseTenantSeed(raw)
}

func parseTenantSeed(raw []byte) ([]domain.Tenant, error) {
	var file tenantSeedFile
	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Tenants))
	tenants := make([]domain.Tenant, 0, len(file.Tenants))
	for i, seed := range file.Tenants {
		if err := domain.ValidateTenantID(seed.ID); err != nil {
			return nil, fmt.Errorf("tenant %d: %w: %q", i, err, seed.ID)
		}
		if _, dup := seen[seed.ID]; dup {
			return nil, fmt.Errorf("tenant %d: duplicate id %q", i, seed.ID)
		}
		seen[seed.ID] = struct{}{}

		name := strings.TrimSpace(seed.Name)
		if name == "" {
			return nil, fmt.Errorf("tenant %q: name is required", seed.ID)
		}
		if seed.WebhookURL != "" {
			u, err := url.Parse(seed.WebhookURL)
			if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
				return nil, fmt.Errorf("tenant %q: webhook_url must be an absolute http(s) url", seed.ID)
			}
		}

		secret, err := resolveSecret(seed.WebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("tenant %q: webhook_secret: %w", seed.ID, err)
		}

		tenants = append(tenants, domain.Tenant{
			ID:            seed.ID,
			Name:          name,
			WebhookURL:    seed.WebhookURL,
			WebhookSecret: secret,
		})
	}
	return tenants, nil
}

var secretRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// resolveSecret reads the environment when value is exactly a ${VAR}
// reference. Any other value, including one containing '$', is literal.
func resolveSecret(value string) (string, error) {
	m := secretRef.FindStringSubmatch(value)
	if m == nil {
		return value, nil
	}
	secret, ok := os.LookupEnv(m[1])
	if !ok || secret == "" {
		return "", fmt.Errorf("environment variable %s is not set", m[1])
	}
	return secret, nil
}

func SeedTenants(ctx context.Context, repo ports.TenantRepository, tenants []domain.Tenant) error {
	for _, tenant := range tenants {
		if _, err := repo.Upsert(ctx, tenant); err != nil {
			return fmt.Errorf("seed tenant %q: %w", tenant.ID, err)
		}
	}
	return nil
}
