package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/tenantgate/internal/app"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
	"github.com/atvirokodosprendimai/tenantgate/internal/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "tenantgate",
		Usage: "API key gate and signed webhook delivery for tenant integrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./tenantgate.sqlite",
				Sources: cli.EnvVars("TENANTGATE_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.BoolFlag{
				Name:    "dev",
				Sources: cli.EnvVars("TENANTGATE_DEV"),
				Usage:   "Human readable debug logging",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			keysCommand(),
			tenantsCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the webhook dispatcher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("TENANTGATE_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "tenants-file",
				Sources: cli.EnvVars("TENANTGATE_TENANTS_FILE"),
				Usage:   "Optional YAML tenant file to upsert at startup",
			},
			&cli.DurationFlag{
				Name:    "webhook-timeout",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("TENANTGATE_WEBHOOK_TIMEOUT"),
				Usage:   "Timeout for a single webhook delivery attempt",
			},
			&cli.IntFlag{
				Name:    "dispatch-workers",
				Value:   4,
				Sources: cli.EnvVars("TENANTGATE_DISPATCH_WORKERS"),
				Usage:   "Concurrent webhook deliveries",
			},
			&cli.IntFlag{
				Name:    "dispatch-queue-size",
				Value:   256,
				Sources: cli.EnvVars("TENANTGATE_DISPATCH_QUEUE_SIZE"),
				Usage:   "Pending webhook deliveries before new events are dropped",
			},
			&cli.StringSliceFlag{
				Name:    "reserved-host",
				Sources: cli.EnvVars("TENANTGATE_RESERVED_HOSTS"),
				Usage:   "Host label that never resolves to a tenant (repeatable, replaces the defaults)",
			},
			&cli.StringSliceFlag{
				Name:    "root-domain",
				Sources: cli.EnvVars("TENANTGATE_ROOT_DOMAINS"),
				Usage:   "Bare application domain that never resolves to a tenant (repeatable)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.Setup(c.Bool("dev"))

			cfg := app.Config{
				Addr:              c.String("addr"),
				DBPath:            c.String("db-path"),
				TenantsFile:       c.String("tenants-file"),
				WebhookTimeout:    c.Duration("webhook-timeout"),
				DispatchWorkers:   c.Int("dispatch-workers"),
				DispatchQueueSize: c.Int("dispatch-queue-size"),
				ReservedHosts:     c.StringSlice("reserved-host"),
				RootDomains:       c.StringSlice("root-domain"),
			}

			server, closer, err := app.NewServer(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.Error().Err(closeErr).Msg("close resources")
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Msg("listening")
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case <-ctx.Done():
				return shutdown(server)
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
				return shutdown(server)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func shutdown(server *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func keysCommand() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "Manage integration API keys",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Issue a key; the plaintext is printed once",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Required: true, Usage: "Owning tenant id"},
					&cli.StringFlag{Name: "name", Required: true, Usage: "Label shown to administrators"},
				},
				Action: withServices(func(ctx context.Context, c *cli.Command, services *app.Services) error {
					issued, err := services.Auth.Generate(ctx, c.String("name"), c.String("tenant"))
					if err != nil {
						return err
					}
					w := c.Root().Writer
					fmt.Fprintf(w, "id:     %s\n", issued.ID)
					fmt.Fprintf(w, "tenant: %s\n", issued.TenantID)
					fmt.Fprintf(w, "key:    %s\n", issued.Plaintext)
					fmt.Fprintln(w, "store this key now, it cannot be shown again")
					return nil
				}),
			},
			{
				Name:  "list",
				Usage: "List active keys of a tenant",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Required: true, Usage: "Tenant id"},
				},
				Action: withServices(func(ctx context.Context, c *cli.Command, services *app.Services) error {
					keys, err := services.Auth.List(ctx, c.String("tenant"))
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.Root().Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tCREATED\tLAST USED")
					for _, key := range keys {
						lastUsed := "never"
						if key.LastUsed != nil {
							lastUsed = key.LastUsed.Format(time.RFC3339)
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", key.ID, key.Name, key.Prefix, key.CreatedAt.Format(time.RFC3339), lastUsed)
					}
					return tw.Flush()
				}),
			},
			{
				Name:      "revoke",
				Usage:     "Revoke a key permanently",
				ArgsUsage: "<key-id>",
				Action: withServices(func(ctx context.Context, c *cli.Command, services *app.Services) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("key id is required", 2)
					}
					if err := services.Auth.Revoke(ctx, id); err != nil {
						if errors.Is(err, domain.ErrNotFound) {
							return cli.Exit(fmt.Sprintf("key %s not found", id), 1)
						}
						return err
					}
					fmt.Fprintf(c.Root().Writer, "revoked %s\n", id)
					return nil
				}),
			},
			{
				Name:      "history",
				Usage:     "Show when a key was issued and revoked",
				ArgsUsage: "<key-id>",
				Action: withServices(func(ctx context.Context, c *cli.Command, services *app.Services) error {
					id := c.Args().First()
					if id == "" {
						return cli.Exit("key id is required", 2)
					}
					events, err := services.Auth.History(ctx, id)
					if err != nil {
						return err
					}
					if len(events) == 0 {
						return cli.Exit(fmt.Sprintf("no history for key %s", id), 1)
					}
					for _, event := range events {
						fmt.Fprintf(c.Root().Writer, "%s  %s\n", event.At.Format(time.RFC3339), event.Action)
					}
					return nil
				}),
			},
		},
	}
}

func tenantsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tenants",
		Usage: "Provision tenants",
		Commands: []*cli.Command{
			{
				Name:      "seed",
				Usage:     "Upsert tenants from a YAML file",
				ArgsUsage: "<file.yaml>",
				Action: withServices(func(ctx context.Context, c *cli.Command, services *app.Services) error {
					path := c.Args().First()
					if path == "" {
						return cli.Exit("tenants file is required", 2)
					}
					tenants, err := app.LoadTenantSeed(path)
					if err != nil {
						return err
					}
					if err := app.SeedTenants(ctx, services.Tenants, tenants); err != nil {
						return err
					}
					fmt.Fprintf(c.Root().Writer, "seeded %d tenants\n", len(tenants))
					return nil
				}),
			},
		},
	}
}

type servicesAction func(ctx context.Context, c *cli.Command, services *app.Services) error

func withServices(fn servicesAction) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		log := logger.Setup(c.Bool("dev")).Level(zerolog.WarnLevel)
		services, err := app.OpenServices(ctx, c.String("db-path"), log)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := services.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("close resources")
			}
		}()
		return fn(ctx, c, services)
	}
}
