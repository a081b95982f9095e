package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"f0oster/permspy/config"
	"f0oster/permspy/database"
	"f0oster/permspy/events"
	"f0oster/permspy/logger"
	"f0oster/permspy/metrics"
	"f0oster/permspy/monitor"
	"f0oster/permspy/notify"
	"f0oster/permspy/versioning"
	"f0oster/permspy/warehouse"
	"f0oster/permspy/web"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the change monitor and the status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadEnvConfig(opts.envFile)
			if err != nil {
				return err
			}
			cfg.DataDir = opts.resolveDataDir(cfg.DataDir)

			log, closeLog, err := logger.New(cfg.LogLevel, cfg.LogFile, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, log, nil)
			if err != nil {
				return err
			}
			defer app.close()
			return app.run(ctx)
		},
	}
}

// app wires the monitor, the status server and the optional integrations.
type app struct {
	cfg     config.Configuration
	logger  *slog.Logger
	store   *versioning.Store
	source  warehouse.Source
	monitor *monitor.Monitor
	server  *web.Server
	metrics *metrics.Metrics
	closers []func()
}

// newApp builds the process. A nil src connects to Snowflake.
func newApp(ctx context.Context, cfg config.Configuration, log *slog.Logger, src warehouse.Source) (*app, error) {
	a := &app{cfg: cfg, logger: log, source: src}
	if err := a.build(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg, log := a.cfg, a.logger

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var storeOpts []versioning.Option
	if cfg.BackupS3.Bucket != "" {
		storeOpts = append(storeOpts, versioning.WithMirror(versioning.NewS3Mirror(versioning.S3Config(cfg.BackupS3))))
		log.Info("mirroring backups to S3", "bucket", cfg.BackupS3.Bucket, "prefix", cfg.BackupS3.Prefix)
	}
	a.store = versioning.NewStore(cfg.DataDir, log, storeOpts...)

	var channel notify.Channel
	if cfg.NotifyRedisURL != "" {
		rc, err := notify.NewRedisChannel(ctx, cfg.NotifyRedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { rc.Close() })
		channel = rc
		log.Info("update notifications stored in redis", "key", notify.DefaultRedisKey)
	} else {
		channel = notify.NewFileChannel(cfg.DataDir)
	}

	var sinks []versioning.EventSink
	if cfg.EventsPostgresDSN != "" {
		db, err := database.Connect(ctx, cfg.EventsPostgresDSN, log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, db)
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, pub)
		log.Info("publishing change events to kafka", "topic", cfg.KafkaTopic)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(reg)

	if a.source == nil {
		a.source = warehouse.NewSnowflakeSource(cfg.Snowflake, cfg.Limits, log)
	}
	a.monitor = monitor.New(a.source, a.store, channel, log,
		monitor.WithInterval(cfg.CheckInterval),
		monitor.WithCooldown(cfg.FaultCooldown),
		monitor.WithSinks(sinks...),
		monitor.WithMetrics(a.metrics),
	)
	a.server = web.NewServer(a.store, channel, cfg.StatusAddr, log, web.WithMetrics(reg))
	return nil
}

// run blocks until ctx is cancelled or the status server fails.
func (a *app) run(ctx context.Context) error {
	if a.cfg.BackupKeep > 0 {
		c := cron.New()
		if _, err := c.AddFunc(a.cfg.PruneSchedule, a.prune); err != nil {
			return &config.ConfigurationError{Variable: "PRUNE_SCHEDULE", Reason: err.Error()}
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		a.logger.Info("backup retention scheduled", "schedule", a.cfg.PruneSchedule, "keep", a.cfg.BackupKeep)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		a.monitor.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) prune() {
	removed, err := a.store.Prune(a.cfg.BackupKeep)
	if err != nil {
		a.logger.Error("backup retention failed", "error", err)
	}
	a.metrics.AddPruned(len(removed))
	if len(removed) > 0 {
		a.logger.Info("old backups removed", "count", len(removed))
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
