package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/tenantgate/internal/adapters/events"
	"github.com/atvirokodosprendimai/tenantgate/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/tenantgate/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/tenantgate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/usecase"
	"github.com/atvirokodosprendimai/tenantgate/migrations"
)

type Config struct {
	Addr              string
	DBPath            string
	TenantsFile       string
	WebhookTimeout    time.Duration
	DispatchWorkers   int
	DispatchQueueSize int
	ReservedHosts     []string
	RootDomains       []string
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Services is the store-backed part of the application shared by the HTTP
// server and the admin commands.
type Services struct {
	DB      *gormsqlite.DB
	Keys    *sqliteadapter.APIKeyRepository
	Tenants *sqliteadapter.TenantRepository
	Auth    *usecase.AuthService
}

// OpenServices opens the database, applies migrations and builds the key
// validator. Close releases all of it.
func OpenServices(ctx context.Context, dbPath string, logger zerolog.Logger) (*Services, error) {
	db, err := gormsqlite.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, err
	}
	version, err := migrations.Version(migrateCtx, writeSQLDB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug().Int64("schema_version", version).Str("db_path", dbPath).Msg("database ready")

	keys := sqliteadapter.NewAPIKeyRepository(db)
	tenants := sqliteadapter.NewTenantRepository(db)
	auth := usecase.NewAuthService(keys, tenants, logger)
	auth.SetAuditLog(sqliteadapter.NewKeyAuditRepository(db))
	return &Services{
		DB:      db,
		Keys:    keys,
		Tenants: tenants,
		Auth:    auth,
	}, nil
}

// Close waits for background key refreshes before closing the database.
func (s *Services) Close() error {
	return resourceCloser{closers: []io.Closer{s.Auth, s.DB}}.Close()
}

func NewServer(ctx context.Context, cfg Config, logger zerolog.Logger) (*http.Server, io.Closer, error) {
	services, err := OpenServices(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, nil, err
	}

	if cfg.TenantsFile != "" {
		tenants, err := LoadTenantSeed(cfg.TenantsFile)
		if err != nil {
			_ = services.Close()
			return nil, nil, err
		}
		seedCtx, seedCancel := context.WithTimeout(ctx, 5*time.Second)
		err = SeedTenants(seedCtx, services.Tenants, tenants)
		seedCancel()
		if err != nil {
			_ = services.Close()
			return nil, nil, err
		}
		logger.Info().Int("tenants", len(tenants)).Str("file", cfg.TenantsFile).Msg("tenants seeded")
	}

	eventSchema, err := usecase.NewEventSchema()
	if err != nil {
		_ = services.Close()
		return nil, nil, err
	}

	resolver := usecase.NewTenantResolver(services.Tenants, cfg.ReservedHosts, cfg.RootDomains, logger)
	dispatcher := usecase.NewWebhookDispatcher(
		events.NewWebhookSender(cfg.WebhookTimeout),
		usecase.WebhookDispatcherConfig{
			AttemptTimeout: cfg.WebhookTimeout,
			Workers:        cfg.DispatchWorkers,
			QueueSize:      cfg.DispatchQueueSize,
		},
		logger,
	)
	dispatcher.Start()

	handler := httpapi.NewHandler(services.Auth, resolver, dispatcher, eventSchema, logger)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// the dispatcher drains before the database closes
	return server, resourceCloser{closers: []io.Closer{dispatcher, services}}, nil
}
