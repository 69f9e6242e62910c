package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
)

func newResolverFixture() (*TenantResolver, *stubTenantRepo) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	descartes := domain.Tenant{ID: "cfa-descartes", Name: "CFA Descartes", CreatedAt: base}
	repo := &stubTenantRepo{
		tenants: map[string]domain.Tenant{descartes.ID: descartes},
		byName: []domain.Tenant{
			descartes,
			{ID: "campus-sud", Name: "Campus Sud BTP", CreatedAt: base.Add(time.Hour)},
			{ID: "campus-nord", Name: "Campus Nord BTP", CreatedAt: base.Add(2 * time.Hour)},
		},
	}
	return NewTenantResolver(repo, nil, []string{"example.com"}, zerolog.Nop()), repo
}

func TestResolveExactID(t *testing.T) {
	r, _ := newResolverFixture()

	tenant, ok, err := r.Resolve(context.Background(), "cfa-descartes.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cfa-descartes", tenant.ID)

	tenant, ok, err = r.Resolve(context.Background(), "CFA-Descartes.example.com:8443")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cfa-descartes", tenant.ID)
}

func TestResolveReservedHosts(t *testing.T) {
	r, repo := newResolverFixture()
	repo.getErr = errors.New("must not be called")
	repo.findErr = errors.New("must not be called")

	for _, host := range []string{
		"www.example.com",
		"app.example.com",
		"localhost:3000",
		"example.com",
		"127.0.0.1:8080",
		"[::1]:8080",
		"",
	} {
		_, ok, err := r.Resolve(context.Background(), host)
		require.NoError(t, err, host)
		require.False(t, ok, host)
	}
}

func TestResolveCustomReservedSet(t *testing.T) {
	repo := &stubTenantRepo{tenants: map[string]domain.Tenant{"www": {ID: "www", Name: "World Wide"}}}
	r := NewTenantResolver(repo, []string{"portal"}, nil, zerolog.Nop())

	tenant, ok, err := r.Resolve(context.Background(), "www.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "www", tenant.ID)

	_, ok, err = r.Resolve(context.Background(), "portal.example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveNameSubstringPicksOldest(t *testing.T) {
	r, _ := newResolverFixture()

	tenant, ok, err := r.Resolve(context.Background(), "campus.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "campus-sud", tenant.ID)

	tenant, ok, err = r.Resolve(context.Background(), "descartes.example.com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cfa-descartes", tenant.ID)
}

func TestResolveNoMatch(t *testing.T) {
	r, _ := newResolverFixture()

	_, ok, err := r.Resolve(context.Background(), "unknown.example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolveStoreErrorPropagates(t *testing.T) {
	r, repo := newResolverFixture()
	storeErr := errors.New("store down")

	repo.getErr = storeErr
	_, _, err := r.Resolve(context.Background(), "cfa-descartes.example.com")
	require.ErrorIs(t, err, storeErr)

	repo.getErr = nil
	repo.findErr = storeErr
	_, _, err = r.Resolve(context.Background(), "campus.example.com")
	require.ErrorIs(t, err, storeErr)
}
