package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
)

type stubAPIKeyRepo struct {
	mu       sync.Mutex
	byHash   map[string]domain.APIKey
	finds    int
	touched  chan string
	createFn func(ctx context.Context, key domain.APIKey) error
	findFn   func(ctx context.Context, keyHash string) (domain.APIKey, error)
	touchFn  func(ctx context.Context, id string, at time.Time) error
}

func newStubAPIKeyRepo() *stubAPIKeyRepo {
	return &stubAPIKeyRepo{byHash: map[string]domain.APIKey{}, touched: make(chan string, 64)}
}

func (s *stubAPIKeyRepo) Create(ctx context.Context, key domain.APIKey) error {
	if s.createFn != nil {
		return s.createFn(ctx, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[key.KeyHash]; exists {
		return errors.New("duplicate key hash")
	}
	s.byHash[key.KeyHash] = key
	return nil
}

func (s *stubAPIKeyRepo) FindByHash(ctx context.Context, keyHash string) (domain.APIKey, error) {
	s.mu.Lock()
	s.finds++
	key, ok := s.byHash[keyHash]
	s.mu.Unlock()
	if s.findFn != nil {
		return s.findFn(ctx, keyHash)
	}
	if !ok {
		return domain.APIKey{}, domain.ErrNotFound
	}
	return key, nil
}

func (s *stubAPIKeyRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	defer func() { s.touched <- id }()
	if s.touchFn != nil {
		return s.touchFn(ctx, id, at)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, key := range s.byHash {
		if key.ID == id {
			key.LastUsed = &at
			s.byHash[hash] = key
		}
	}
	return nil
}

func (s *stubAPIKeyRepo) Revoke(_ context.Context, id string, at time.Time) (domain.APIKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, key := range s.byHash {
		if key.ID == id {
			if key.RevokedAt != nil {
				return key, false, nil
			}
			key.RevokedAt = &at
			s.byHash[hash] = key
			return key, true, nil
		}
	}
	return domain.APIKey{}, false, domain.ErrNotFound
}

func (s *stubAPIKeyRepo) ListActive(_ context.Context, tenantID string) ([]domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.APIKey
	for _, key := range s.byHash {
		if key.TenantID == tenantID && key.RevokedAt == nil {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *stubAPIKeyRepo) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

type stubTenantRepo struct {
	tenants map[string]domain.Tenant
	byName  []domain.Tenant
	getErr  error
	findErr error
}

func (s *stubTenantRepo) Get(_ context.Context, id string) (domain.Tenant, error) {
	if s.getErr != nil {
		return domain.Tenant{}, s.getErr
	}
	tenant, ok := s.tenants[id]
	if !ok {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return tenant, nil
}

func (s *stubTenantRepo) FindByNameContaining(_ context.Context, fragment string) ([]domain.Tenant, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []domain.Tenant
	for _, tenant := range s.byName {
		if strings.Contains(strings.ToLower(tenant.Name), fragment) {
			out = append(out, tenant)
		}
	}
	return out, nil
}

func (s *stubTenantRepo) Upsert(_ context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	s.tenants[tenant.ID] = tenant
	return tenant, nil
}

func newAuthFixture() (*AuthService, *stubAPIKeyRepo, *stubTenantRepo) {
	keys := newStubAPIKeyRepo()
	tenants := &stubTenantRepo{tenants: map[string]domain.Tenant{
		"tenant-a": {ID: "tenant-a", Name: "Tenant A"},
		"tenant-b": {ID: "tenant-b", Name: "Tenant B"},
	}}
	return NewAuthService(keys, tenants, zerolog.Nop()), keys, tenants
}

var plaintextPattern = regexp.MustCompile(`^ak_live_[0-9a-f]{48}$`)

func TestGenerateThenValidateReturnsOwningTenant(t *testing.T) {
	svc, keys, _ := newAuthFixture()
	ctx := context.Background()

	for _, tenantID := range []string{"tenant-a", "tenant-b", "tenant-a"} {
		issued, err := svc.Generate(ctx, "lms sync", tenantID)
		require.NoError(t, err)
		require.Regexp(t, plaintextPattern, issued.Plaintext)
		require.Equal(t, domain.APIKeyPrefix, issued.Prefix)
		require.Equal(t, tenantID, issued.TenantID)

		tenant, err := svc.Validate(ctx, issued.Plaintext)
		require.NoError(t, err)
		require.Equal(t, tenantID, tenant.ID)
	}
	require.NoError(t, svc.Close())

	for _, key := range keys.byHash {
		require.NotContains(t, key.KeyHash, domain.APIKeyPrefix)
		require.Len(t, key.KeyHash, 64)
		require.NotNil(t, key.LastUsed)
	}
}

func TestGenerateNeverRepeatsDigest(t *testing.T) {
	svc, keys, _ := newAuthFixture()
	seen := map[string]string{}

	for range 200 {
		issued, err := svc.Generate(context.Background(), "bulk", "tenant-a")
		require.NoError(t, err)
		hash := HashToken(issued.Plaintext)
		if other, ok := seen[hash]; ok {
			require.Equal(t, other, issued.Plaintext)
		}
		seen[hash] = issued.Plaintext
	}
	require.Len(t, seen, 200)
	require.Len(t, keys.byHash, 200)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	_, err := svc.Generate(ctx, "  ", "tenant-a")
	require.ErrorIs(t, err, domain.ErrInvalidKeyName)

	_, err = svc.Generate(ctx, "x", "Not A Slug")
	require.ErrorIs(t, err, domain.ErrInvalidTenantID)

	_, err = svc.Generate(ctx, "x", "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGenerateRandomFailure(t *testing.T) {
	svc, keys, _ := newAuthFixture()
	svc.random = strings.NewReader("short")

	_, err := svc.Generate(context.Background(), "x", "tenant-a")
	require.Error(t, err)
	require.Empty(t, keys.byHash)
}

func TestValidateWithoutPrefixSkipsStore(t *testing.T) {
	svc, keys, _ := newAuthFixture()

	for _, token := range []string{"sk_live_abc", "AK_LIVE_" + strings.Repeat("a", 48), "token-1", "ak_live"} {
		_, err := svc.Validate(context.Background(), token)
		require.ErrorIs(t, err, domain.ErrInvalidCredential)
	}
	require.Zero(t, keys.findCount())
}

func TestValidateEmptyIsMissing(t *testing.T) {
	svc, keys, _ := newAuthFixture()

	_, err := svc.Validate(context.Background(), "   ")
	require.ErrorIs(t, err, domain.ErrMissingCredential)
	require.Zero(t, keys.findCount())
}

func TestValidateUnknownKey(t *testing.T) {
	svc, _, _ := newAuthFixture()

	_, err := svc.Validate(context.Background(), domain.APIKeyPrefix+strings.Repeat("f", 48))
	require.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestRevokedKeyStaysInvalid(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	issued, err := svc.Generate(ctx, "lms", "tenant-a")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, issued.ID))
	require.NoError(t, svc.Revoke(ctx, issued.ID))

	for i := range 50 {
		clock = clock.Add(time.Duration(i) * 24 * time.Hour)
		_, err := svc.Validate(ctx, issued.Plaintext)
		require.ErrorIs(t, err, domain.ErrInvalidCredential)
	}

	keys, err := svc.List(ctx, "tenant-a")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestRevokeUnknownKey(t *testing.T) {
	svc, _, _ := newAuthFixture()

	require.ErrorIs(t, svc.Revoke(context.Background(), "not-a-uuid"), domain.ErrNotFound)
	require.ErrorIs(t, svc.Revoke(context.Background(), "6f1c1a52-7a2c-4a43-8d53-f3f4e2d0b0a1"), domain.ErrNotFound)
}

func TestValidateStoreFailureIsOpaque(t *testing.T) {
	svc, keys, _ := newAuthFixture()
	storeErr := errors.New("database is locked")
	keys.findFn = func(context.Context, string) (domain.APIKey, error) {
		return domain.APIKey{}, storeErr
	}

	_, err := svc.Validate(context.Background(), domain.APIKeyPrefix+strings.Repeat("0", 48))
	require.ErrorIs(t, err, storeErr)
	require.NotErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestValidateKeyOfDeletedTenant(t *testing.T) {
	svc, _, tenants := newAuthFixture()
	issued, err := svc.Generate(context.Background(), "lms", "tenant-b")
	require.NoError(t, err)
	delete(tenants.tenants, "tenant-b")

	_, err = svc.Validate(context.Background(), issued.Plaintext)
	require.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestLastUsedFailureDoesNotAffectValidation(t *testing.T) {
	svc, keys, _ := newAuthFixture()
	issued, err := svc.Generate(context.Background(), "lms", "tenant-a")
	require.NoError(t, err)

	release := make(chan struct{})
	keys.touchFn = func(context.Context, string, time.Time) error {
		<-release
		return errors.New("disk full")
	}

	tenant, err := svc.Validate(context.Background(), issued.Plaintext)
	require.NoError(t, err)
	require.Equal(t, "tenant-a", tenant.ID)

	close(release)
	select {
	case id := <-keys.touched:
		require.Equal(t, issued.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("last used refresh never ran")
	}
	require.NoError(t, svc.Close())
}

func TestLastUsedRefreshOutlivesRequestContext(t *testing.T) {
	svc, keys, _ := newAuthFixture()
	issued, err := svc.Generate(context.Background(), "lms", "tenant-a")
	require.NoError(t, err)

	ctxErr := make(chan error, 1)
	keys.touchFn = func(ctx context.Context, _ string, _ time.Time) error {
		ctxErr <- ctx.Err()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err = svc.Validate(ctx, issued.Plaintext)
	require.NoError(t, err)
	cancel()

	require.NoError(t, svc.Close())
	require.NoError(t, <-ctxErr)
}

func TestListExposesMetadataOnly(t *testing.T) {
	svc, _, _ := newAuthFixture()
	ctx := context.Background()

	kept, err := svc.Generate(ctx, "kept", "tenant-a")
	require.NoError(t, err)
	gone, err := svc.Generate(ctx, "gone", "tenant-a")
	require.NoError(t, err)
	_, err = svc.Generate(ctx, "other tenant", "tenant-b")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, gone.ID))

	infos, err := svc.List(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, kept.ID, infos[0].ID)
	require.Equal(t, "kept", infos[0].Name)
	require.Equal(t, domain.APIKeyPrefix, infos[0].Prefix)
}

type stubAuditRepo struct {
	mu     sync.Mutex
	events []domain.KeyAuditEvent
	logErr error
}

func (s *stubAuditRepo) Log(_ context.Context, event domain.KeyAuditEvent) error {
	if s.logErr != nil {
		return s.logErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubAuditRepo) ListByKey(_ context.Context, keyID string) ([]domain.KeyAuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.KeyAuditEvent
	for _, event := range s.events {
		if event.KeyID == keyID {
			out = append(out, event)
		}
	}
	return out, nil
}

func TestAuditLogRecordsIssueAndRevoke(t *testing.T) {
	svc, _, _ := newAuthFixture()
	audit := &stubAuditRepo{}
	svc.SetAuditLog(audit)
	ctx := context.Background()

	issued, err := svc.Generate(ctx, "lms", "tenant-a")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, issued.ID))
	require.NoError(t, svc.Revoke(ctx, issued.ID))

	history, err := svc.History(ctx, issued.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, domain.KeyIssued, history[0].Action)
	require.Equal(t, "tenant-a", history[0].TenantID)
	require.Equal(t, domain.KeyRevoked, history[1].Action)
	require.Equal(t, "tenant-a", history[1].TenantID)

	_, err = svc.History(ctx, "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditFailureDoesNotFailKeyOperations(t *testing.T) {
	svc, _, _ := newAuthFixture()
	svc.SetAuditLog(&stubAuditRepo{logErr: errors.New("disk full")})
	ctx := context.Background()

	issued, err := svc.Generate(ctx, "lms", "tenant-a")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, issued.ID))
}

func TestHistoryWithoutAuditLog(t *testing.T) {
	svc, _, _ := newAuthFixture()

	history, err := svc.History(context.Background(), "6f1c1a52-7a2c-4a43-8d53-f3f4e2d0b0a1")
	require.NoError(t, err)
	require.Empty(t, history)
}
