// Command eventmerge runs the event conflict-detection and merge service:
// an HTTP API, an in-process enrichment pipeline, and an optional periodic
// merge sweep.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"eventmerge/internal/bus"
	"eventmerge/internal/config"
	"eventmerge/internal/httpapi"
	"eventmerge/internal/llm"
	"eventmerge/internal/merge"
	"eventmerge/internal/model"
	"eventmerge/internal/observability"
	"eventmerge/internal/scheduler"
	"eventmerge/internal/store"
	"eventmerge/internal/summary"
)

func main() {
	// Load .env first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "eventmerge",
		Usage: "Detect, merge, and summarize overlapping calendar events.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			conflictsCommand(),
			mergeCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API with the enrichment pipeline.",
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.store.Close()

			// Wire the enrichment pipeline: register the consumer before the
			// bus starts, never after.
			b := bus.New(bus.Config{
				Partitions: env.cfg.Bus.Partitions,
				BufferSize: env.cfg.Bus.BufferSize,
			}, env.logger, env.metrics)

			consumer := summary.NewConsumer(env.store, env.summarizer, env.logger)
			if err := b.Register(summary.Topic, consumer); err != nil {
				return fmt.Errorf("register consumer: %w", err)
			}
			if err := b.Start(); err != nil {
				return fmt.Errorf("start bus: %w", err)
			}
			defer b.Close()

			merger := merge.NewService(env.store,
				merge.WithProducer(b),
				merge.WithLogger(env.logger),
				merge.WithMetrics(env.metrics))

			var sweeper *scheduler.Sweeper
			if spec := env.cfg.Scheduler.MergeCron; spec != "" {
				sweeper, err = scheduler.New(spec, env.store, merger, env.logger)
				if err != nil {
					return fmt.Errorf("configure sweeper: %w", err)
				}
				sweeper.Start()
				defer sweeper.Stop()
			}

			srv := &http.Server{
				Addr:              env.cfg.HTTP.Listen,
				Handler:           httpapi.NewServer(env.store, merger, env.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				env.logger.Info("http server listening", slog.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				env.logger.Info("shutting down", slog.String("signal", sig.String()))
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
}

func conflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "Print a user's overlapping events.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "user ID"},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.store.Close()

			merger := merge.NewService(env.store, merge.WithLogger(env.logger))
			conflicts, err := merger.FindConflicts(c.Context, c.String("user"))
			if err != nil {
				return err
			}
			return printJSON(conflicts)
		},
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "Merge a user's overlapping events and summarize them inline.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "user ID"},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			defer env.store.Close()

			merger := merge.NewService(env.store, merge.WithLogger(env.logger))
			result, err := merger.MergeAll(c.Context, c.String("user"))
			if err != nil {
				return err
			}

			// One-shot mode has no bus; enrich synchronously instead.
			for i, ev := range result.Events {
				text := env.summarizer.Summarize(c.Context, ev, []model.Event{ev})
				if err := env.store.UpdateSummary(c.Context, ev.ID, text); err != nil {
					env.logger.Error("persist summary failed",
						slog.String("event_id", ev.ID),
						slog.String("error", err.Error()))
					continue
				}
				result.Events[i].Summary = text
			}
			return printJSON(result)
		},
	}
}

type environment struct {
	cfg        config.Config
	logger     *slog.Logger
	metrics    observability.Recorder
	store      store.Store
	summarizer *summary.Service
}

func setup(c *cli.Context) (*environment, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var metrics observability.Recorder = observability.NoopMetrics{}
	if cfg.Metrics {
		if metrics, err = observability.NewMetrics(); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	summarizer := summary.NewService(
		summary.WithClient(buildClient(cfg.Summary, logger)),
		summary.WithTTL(cfg.Summary.CacheTTL.Std()),
		summary.WithLogger(logger),
		summary.WithMetrics(metrics),
	)

	return &environment{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		store:      st,
		summarizer: summarizer,
	}, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.DSN)
	case "postgres":
		return store.NewPostgres(cfg.DSN)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildClient returns the language model client, or nil when no binary is
// configured or resolvable; a nil client means deterministic fallback
// summaries.
func buildClient(cfg config.SummaryConfig, logger *slog.Logger) llm.Client {
	if cfg.ClaudePath == "" {
		return nil
	}
	client := llm.NewClaudeCLI(
		llm.WithPath(cfg.ClaudePath),
		llm.WithModel(cfg.Model),
		llm.WithTimeout(cfg.Timeout.Std()),
	)
	if !client.Available() {
		logger.Warn("claude binary not found, using fallback summaries",
			slog.String("path", cfg.ClaudePath))
		return nil
	}
	return client
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
