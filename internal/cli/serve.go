package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/querysync/internal/client"
	"github.com/devrev/querysync/internal/config"
	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/handler"
	"github.com/devrev/querysync/internal/health"
	"github.com/devrev/querysync/internal/metrics"
	"github.com/devrev/querysync/internal/server"
	"github.com/devrev/querysync/internal/service"
	"github.com/devrev/querysync/internal/store"
	"github.com/devrev/querysync/internal/validation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewServeCommand creates the command that runs one service until interrupted.
func NewServeCommand(rootOpts *RootOptions, role config.Role) *cobra.Command {
	short := "Run the primary service"
	if role == config.RoleSecondary {
		short = "Run the secondary service"
	}

	return &cobra.Command{
		Use:   string(role),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(rootOpts.ConfigPath, role)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			logger, level, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()
			logger = logger.With(zap.String("role", string(role)))

			if loader.Watch(func(next *config.Config) {
				lvl, err := config.ParseLevel(next.Logging.Level)
				if err != nil {
					logger.Warn("Ignoring invalid log level", zap.Error(err))
					return
				}
				if lvl != level.Level() {
					level.SetLevel(lvl)
					logger.Info("Log level changed", zap.String("level", lvl.String()))
				}
			}, func(err error) {
				logger.Warn("Config reload failed", zap.Error(err))
			}) {
				logger.Info("Watching config file", zap.String("path", loader.ConfigFileUsed()))
			}

			if role == config.RoleSecondary {
				return runSecondary(cmd.Context(), cfg, logger)
			}
			return runPrimary(cmd.Context(), cfg, logger)
		},
	}
}

// runnable is a component started in the process errgroup.
type runnable struct {
	start    func() error
	shutdown func(context.Context) error
}

func runPrimary(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.NewMetrics()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	secondary := client.NewSecondaryClient(cfg.Secondary.URL, cfg.Secondary.Timeout, logger)
	defer secondary.Close()

	fcfg := service.ForwarderConfig{RetryDelay: retryDelay(cfg)}
	var replay *service.OutboxReplayService
	if cfg.Forwarding.Mode == config.ModeOutbox {
		fcfg.Outbox = st
		replay = newReplayService(cfg, st, secondary, m, logger)
		defer replay.Stop(cfg.Server.ShutdownTimeout)
	}
	forwarder := service.NewForwarder(st, secondary, validation.NewValidator(), fcfg, m, logger)

	healthCheck := health.NewHealthCheck(m, logger).
		AddRequired("store", st).
		AddAdvisory("secondary", secondary)

	srv := server.NewPrimaryServer(cfg,
		handler.NewPrimaryHandlers(forwarder, apierrors.NewHandler(logger), cfg.Forwarding.PartialStatus, logger),
		healthCheck, m, logger)

	logger.Info("Primary configured",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("secondary_url", secondary.BaseURL()),
		zap.Duration("secondary_timeout", cfg.Secondary.Timeout),
		zap.String("forwarding_mode", cfg.Forwarding.Mode))

	var background []func(context.Context) error
	background = append(background, healthCheck.Run)
	if replay != nil {
		background = append(background, replay.Run)
	}

	return run(ctx, cfg, m, logger, runnable{start: srv.Start, shutdown: srv.Shutdown}, background...)
}

func runSecondary(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.NewMetrics()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	healthCheck := health.NewHealthCheck(m, logger).AddRequired("store", st)

	var idempotency *service.IdempotencyService
	if cfg.Idempotency.Enabled {
		idemStore, err := openIdempotencyStore(cfg.Idempotency, logger)
		if err != nil {
			return fmt.Errorf("failed to open idempotency store: %w", err)
		}
		defer idemStore.Close()
		idempotency = service.NewIdempotencyService(idemStore, cfg.Idempotency.TTL, logger)
		healthCheck.AddAdvisory("idempotency", idemStore)
	}

	queries := service.NewQueryService(st, idempotency, validation.NewValidator(), m, logger)
	srv := server.NewSecondaryServer(cfg,
		handler.NewSecondaryHandlers(queries, apierrors.NewHandler(logger), logger),
		healthCheck, m, logger)

	logger.Info("Secondary configured",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("idempotency", cfg.Idempotency.Enabled))

	return run(ctx, cfg, m, logger, runnable{start: srv.Start, shutdown: srv.Shutdown}, healthCheck.Run)
}

// run starts the API server, the metrics server and the background loops, and
// shuts them all down when ctx is canceled or any of them fails.
func run(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger, api runnable, background ...func(context.Context) error) error {
	components := []runnable{api}
	if cfg.Metrics.Enabled {
		ms := metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		components = append(components, runnable{start: ms.Start, shutdown: ms.Shutdown})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(c.start)
	}
	for _, fn := range background {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Initiating graceful shutdown")
		m.SetHealthStatus(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		for _, c := range components {
			if err := c.shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				logger.Error("Shutdown failed", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func newReplayService(cfg *config.Config, outbox store.OutboxStore, secondary service.Secondary, m *metrics.Metrics, logger *zap.Logger) *service.OutboxReplayService {
	return service.NewOutboxReplayService(outbox, secondary, service.OutboxReplayConfig{
		Interval:       cfg.Outbox.ReplayInterval,
		BatchSize:      cfg.Outbox.BatchSize,
		Workers:        cfg.Outbox.Workers,
		MaxAttempts:    cfg.Outbox.MaxAttempts,
		TTL:            cfg.Outbox.TTL,
		InitialBackoff: cfg.Outbox.InitialBackoff,
		MaxBackoff:     cfg.Outbox.MaxBackoff,
	}, m, logger)
}

// retryDelay keeps the replay service away from an entry while the request
// that created it may still be forwarding or settling it.
func retryDelay(cfg *config.Config) time.Duration {
	d := 2 * cfg.Secondary.Timeout
	if cfg.Store.Driver == config.DriverSQLite {
		d += store.SQLiteBusyTimeout
	}
	return d
}
