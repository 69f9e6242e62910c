package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/ports"
)

const (
	apiKeySecretSize    = 24
	defaultTouchTimeout = 5 * time.Second
)

// AuthService issues, validates and revokes tenant API keys.
type AuthService struct {
	keys    ports.APIKeyRepository
	tenants ports.TenantRepository
	audit   ports.KeyAuditRepository
	logger  zerolog.Logger

	random       io.Reader
	now          func() time.Time
	touchTimeout time.Duration

	touches sync.WaitGroup
}

func NewAuthService(keys ports.APIKeyRepository, tenants ports.TenantRepository, logger zerolog.Logger) *AuthService {
	return &AuthService{
		keys:         keys,
		tenants:      tenants,
		logger:       logger.With().Str("component", "auth").Logger(),
		random:       rand.Reader,
		now:          func() time.Time { return time.Now().UTC() },
		touchTimeout: defaultTouchTimeout,
	}
}

// SetAuditLog records key issuance and revocation in repo. Without one the
// service keeps no history.
func (s *AuthService) SetAuditLog(repo ports.KeyAuditRepository) {
	s.audit = repo
}

// Generate creates a key for tenantID. The returned plaintext is not stored
// anywhere and cannot be recovered later.
func (s *AuthService) Generate(ctx context.Context, name, tenantID string) (domain.IssuedAPIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.IssuedAPIKey{}, domain.ErrInvalidKeyName
	}
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return domain.IssuedAPIKey{}, err
	}
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return domain.IssuedAPIKey{}, err
	}

	secret := make([]byte, apiKeySecretSize)
	if _, err := io.ReadFull(s.random, secret); err != nil {
		return domain.IssuedAPIKey{}, fmt.Errorf("generate api key secret: %w", err)
	}
	plaintext := domain.APIKeyPrefix + hex.EncodeToString(secret)

	key := domain.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   HashToken(plaintext),
		Prefix:    domain.APIKeyPrefix,
		TenantID:  tenantID,
		CreatedAt: s.now(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return domain.IssuedAPIKey{}, err
	}

	s.logger.Info().Str("key_id", key.ID).Str("tenant_id", tenantID).Msg("api key issued")
	s.record(ctx, domain.KeyAuditEvent{KeyID: key.ID, TenantID: tenantID, Action: domain.KeyIssued, At: key.CreatedAt})
	return domain.IssuedAPIKey{APIKeyInfo: key.Info(), Plaintext: plaintext}, nil
}

// Validate resolves the tenant owning plaintext. Anything that is not a
// live key yields domain.ErrInvalidCredential; store failures are returned
// as-is.
func (s *AuthService) Validate(ctx context.Context, plaintext string) (domain.Tenant, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return domain.Tenant{}, domain.ErrMissingCredential
	}
	if !strings.HasPrefix(plaintext, domain.APIKeyPrefix) {
		return domain.Tenant{}, domain.ErrInvalidCredential
	}

	key, err := s.keys.FindByHash(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Tenant{}, domain.ErrInvalidCredential
		}
		return domain.Tenant{}, err
	}
	if key.Revoked() {
		return domain.Tenant{}, domain.ErrInvalidCredential
	}

	tenant, err := s.tenants.Get(ctx, key.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Tenant{}, domain.ErrInvalidCredential
		}
		return domain.Tenant{}, err
	}

	s.touch(ctx, key.ID)
	return tenant, nil
}

// touch refreshes last_used in the background. Its outcome never reaches
// the caller of Validate.
func (s *AuthService) touch(ctx context.Context, id string) {
	at := s.now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.touchTimeout)
	s.touches.Add(1)
	go func() {
		defer s.touches.Done()
		defer cancel()
		if err := s.keys.TouchLastUsed(ctx, id, at); err != nil {
			s.logger.Warn().Err(err).Str("key_id", id).Msg("refresh api key last used")
		}
	}()
}

// Revoke permanently disables a key. Revoking twice keeps the first
// timestamp.
func (s *AuthService) Revoke(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	key, changed, err := s.keys.Revoke(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.logger.Info().Str("key_id", id).Str("tenant_id", key.TenantID).Msg("api key revoked")
	s.record(ctx, domain.KeyAuditEvent{KeyID: id, TenantID: key.TenantID, Action: domain.KeyRevoked, At: *key.RevokedAt})
	return nil
}

// History returns the lifecycle events of a key, oldest first.
func (s *AuthService) History(ctx context.Context, id string) ([]domain.KeyAuditEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.ListByKey(ctx, id)
}

// record appends to the audit log. The key operation has already
// succeeded, so failures are only logged.
func (s *AuthService) record(ctx context.Context, event domain.KeyAuditEvent) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("key_id", event.KeyID).Str("action", string(event.Action)).Msg("record key audit event")
	}
}

func (s *AuthService) List(ctx context.Context, tenantID string) ([]domain.APIKeyInfo, error) {
	if err := domain.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	keys, err := s.keys.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	result := make([]domain.APIKeyInfo, 0, len(keys))
	for _, key := range keys {
		if key.Revoked() {
			continue
		}
		result = append(result, key.Info())
	}
	return result, nil
}

// Close waits for pending last-used refreshes.
func (s *AuthService) Close() error {
	s.touches.Wait()
	return nil
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
