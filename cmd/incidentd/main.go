package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/incidentd/internal/app"
	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/usecase"
	"github.com/atvirokodosprendimai/incidentd/internal/platform/logging"
)

var version = "dev"

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:    "incidentd",
		Usage:   "Idempotent command processing for emergency occurrences and dispatches",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./incidentd.sqlite",
				Sources: cli.EnvVars("INCIDENTD_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("INCIDENTD_LOG_LEVEL"),
				Usage:   "Log level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:    "log-pretty",
				Sources: cli.EnvVars("INCIDENTD_LOG_PRETTY"),
				Usage:   "Human-readable console logs instead of JSON",
			},
			&cli.DurationFlag{
				Name:    "idempotency-ttl",
				Value:   usecase.DefaultIdempotencyTTL,
				Sources: cli.EnvVars("INCIDENTD_IDEMPOTENCY_TTL"),
				Usage:   "How long a processed command stays in the ledger",
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Sources: cli.EnvVars("INCIDENTD_REDIS_ADDR"),
				Usage:   "Redis host:port for list-cache invalidation and scope locks",
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Sources: cli.EnvVars("INCIDENTD_REDIS_PASSWORD"),
				Usage:   "Redis password",
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Sources: cli.EnvVars("INCIDENTD_REDIS_DB"),
				Usage:   "Redis database index",
			},
			&cli.StringFlag{
				Name:    "list-cache-prefix",
				Value:   "occurrences:list",
				Sources: cli.EnvVars("INCIDENTD_LIST_CACHE_PREFIX"),
				Usage:   "Key prefix of the occurrence list cache",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("INCIDENTD_WEBHOOK_URL"),
				Usage:   "URL notified when the occurrence list cache is invalidated",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("INCIDENTD_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for invalidation webhooks",
			},
			&cli.StringFlag{
				Name:    "otlp-endpoint",
				Sources: cli.EnvVars("INCIDENTD_OTLP_ENDPOINT"),
				Usage:   "OTLP gRPC collector host:port; tracing is off when empty",
			},
			&cli.BoolFlag{
				Name:    "otlp-insecure",
				Sources: cli.EnvVars("INCIDENTD_OTLP_INSECURE"),
				Usage:   "Disable TLS to the OTLP collector",
			},
			&cli.DurationFlag{
				Name:    "worker-interval",
				Value:   2 * time.Second,
				Sources: cli.EnvVars("INCIDENTD_WORKER_INTERVAL"),
				Usage:   "Poll interval of the command worker",
			},
			&cli.IntFlag{
				Name:    "worker-batch-size",
				Value:   50,
				Sources: cli.EnvVars("INCIDENTD_WORKER_BATCH_SIZE"),
				Usage:   "Jobs fetched per worker poll",
			},
			&cli.IntFlag{
				Name:    "worker-concurrency",
				Value:   4,
				Sources: cli.EnvVars("INCIDENTD_WORKER_CONCURRENCY"),
				Usage:   "Jobs executed in parallel",
			},
			&cli.IntFlag{
				Name:    "retry-attempts",
				Value:   3,
				Sources: cli.EnvVars("INCIDENTD_RETRY_ATTEMPTS"),
				Usage:   "Attempts before a job is dead-lettered",
			},
			&cli.StringFlag{
				Name:    "retry-backoff",
				Value:   "10s,30s,60s",
				Sources: cli.EnvVars("INCIDENTD_RETRY_BACKOFF"),
				Usage:   "Comma-separated delays between attempts; bare numbers are seconds",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			execCommand(),
			purgeCommand(),
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
		Usage: "Run the HTTP API and the command worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("INCIDENTD_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.DurationFlag{
				Name:    "purge-interval",
				Value:   time.Hour,
				Sources: cli.EnvVars("INCIDENTD_PURGE_INTERVAL"),
				Usage:   "How often expired ledger rows are purged; 0 disables",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log, cfg, err := setup(c)
			if err != nil {
				return err
			}
			cfg.Addr = c.String("addr")
			cfg.PurgeInterval = c.Duration("purge-interval")

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					log.Error().Err(closeErr).Msg("close resources")
				}
			}()

			a.StartBackground(ctx)
			server := a.Server()

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
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Execute one command envelope synchronously and print the outcome",
		ArgsUsage: "[file|-]",
		Action: func(ctx context.Context, c *cli.Command) error {
			log, cfg, err := setup(c)
			if err != nil {
				return err
			}

			cmd, err := readCommand(c.Args().First(), os.Stdin)
			if err != nil {
				return err
			}

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					log.Error().Err(closeErr).Msg("close resources")
				}
			}()

			if err := a.Validator.Validate(cmd); err != nil {
				return err
			}
			exec, execErr := a.Executor.Execute(ctx, cmd)
			if err := printExecution(c.Root().Writer, exec); err != nil {
				return err
			}
			return execErr
		},
	}
}

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete expired ledger rows that reached a terminal status",
		Action: func(ctx context.Context, c *cli.Command) error {
			log, cfg, err := setup(c)
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					log.Error().Err(closeErr).Msg("close resources")
				}
			}()

			n, err := a.Janitor.Purge(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "purged %d commands\n", n)
			return nil
		},
	}
}

// setup builds the logger and the settings shared by every subcommand.
func setup(c *cli.Command) (zerolog.Logger, app.Config, error) {
	log, err := logging.New(c.String("log-level"), c.Bool("log-pretty"), os.Stderr)
	if err != nil {
		return zerolog.Nop(), app.Config{}, err
	}
	backoff, err := usecase.ParseBackoff(c.String("retry-backoff"))
	if err != nil {
		return zerolog.Nop(), app.Config{}, err
	}
	return log, app.Config{
		DBPath:            c.String("db-path"),
		IdempotencyTTL:    c.Duration("idempotency-ttl"),
		WorkerInterval:    c.Duration("worker-interval"),
		WorkerBatchSize:   c.Int("worker-batch-size"),
		WorkerConcurrency: c.Int("worker-concurrency"),
		RetryAttempts:     c.Int("retry-attempts"),
		RetryBackoff:      backoff,
		RedisAddr:         c.String("redis-addr"),
		RedisPassword:     c.String("redis-password"),
		RedisDB:           c.Int("redis-db"),
		ListCachePrefix:   c.String("list-cache-prefix"),
		WebhookURL:        c.String("webhook-url"),
		WebhookSecret:     c.String("webhook-secret"),
		OTLPEndpoint:      c.String("otlp-endpoint"),
		OTLPInsecure:      c.Bool("otlp-insecure"),
		Version:           version,
	}, nil
}

// readCommand decodes one envelope from path, or from stdin when path is
// empty or "-".
func readCommand(path string, stdin io.Reader) (domain.InboundCommand, error) {
	r := stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.InboundCommand{}, fmt.Errorf("open command file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var cmd domain.InboundCommand
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(&cmd); err != nil {
		return domain.InboundCommand{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Source == "" {
		cmd.Source = "cli"
	}
	return cmd, nil
}

func printExecution(w io.Writer, exec usecase.Execution) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"commandId": exec.CommandID,
		"outcome":   exec.Outcome,
		"status":    exec.Status,
		"result":    exec.Result.Value(),
		"error":     exec.Error,
	})
}
