// Package bootstrap wires the serve-mode object graph: configuration, logger,
// metrics, device, partition manager, HTTP binding and server.
package bootstrap

import (
	"context"
	"os"
	"time"

	"go.uber.org/dig"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/config"
	"github.com/dd0wney/cluso-flashkv/pkg/health"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/metrics"
	"github.com/dd0wney/cluso-flashkv/pkg/partition"
	"github.com/dd0wney/cluso-flashkv/pkg/server"
)

// MetricsInterval is how often runtime and partition gauges are sampled.
const MetricsInterval = 10 * time.Second

// Build registers every constructor for cfg in a new container.
func Build(cfg *config.Config) (*dig.Container, error) {
	container := dig.New()
	constructors := []any{
		func() *config.Config { return cfg },
		newLogger,
		metrics.NewRegistry,
		openDevice,
		newManager,
		api.NewHealthChecker,
		newAPIServer,
		newGracefulServer,
	}
	for _, c := range constructors {
		if err := container.Provide(c); err != nil {
			return nil, err
		}
	}
	return container, nil
}

// Run loads the configuration at path, mounts every key-value partition and
// serves the binding until ctx is cancelled or a termination signal arrives.
// SIGHUP re-reads the configuration and applies its log level.
func Run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	container, err := Build(cfg)
	if err != nil {
		return err
	}

	return container.Invoke(func(
		dev *blockdev.FileDevice,
		mgr *partition.Manager,
		s *api.Server,
		gs *server.GracefulServer,
		logger logging.Logger,
	) error {
		defer dev.Close()

		if err := mgr.InitAll(ctx); err != nil {
			logger.Error("failed to mount partitions", logging.Error(err))
			return err
		}

		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go s.UpdateMetricsPeriodically(metricsCtx, MetricsInterval)

		gs.SetConfigReloadFunc(func() error {
			next, err := config.Load(path)
			if err != nil {
				return err
			}
			logger.SetLevel(next.Level())
			logger.Info("log level applied", logging.String("level", next.Level().String()))
			return nil
		})
		return gs.Run(ctx)
	})
}

func newLogger(cfg *config.Config) logging.Logger {
	logger := logging.NewJSONLogger(os.Stderr, cfg.Level())
	logging.SetDefaultLogger(logger)
	return logger
}

func openDevice(cfg *config.Config, logger logging.Logger) (*blockdev.FileDevice, error) {
	dev, err := cfg.OpenDevice()
	if err != nil {
		return nil, err
	}
	logger.Info("device opened",
		logging.Path(cfg.Device.Path),
		logging.Int64("size", dev.Size()),
		logging.Int("unit_size", dev.UnitSize()))
	return dev, nil
}

func newManager(dev *blockdev.FileDevice, cfg *config.Config, logger logging.Logger, reg *metrics.Registry) (*partition.Manager, error) {
	return partition.Open(dev, cfg.ManagerOptions(logger, reg))
}

func newAPIServer(cfg *config.Config, mgr *partition.Manager, reg *metrics.Registry, hc *health.HealthChecker, logger logging.Logger) (*api.Server, error) {
	opts := api.Options{Metrics: reg, Health: hc, Logger: logger}
	tokens, err := cfg.TokenManager()
	if err != nil {
		return nil, err
	}
	if tokens != nil {
		opts.Tokens = tokens
		logger.Info("bearer authentication enabled")
	}
	return api.NewServer(mgr, opts), nil
}

func newGracefulServer(cfg *config.Config, s *api.Server, logger logging.Logger) (*server.GracefulServer, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	gs := server.NewGracefulServer(cfg.Server.Addr, s.Handler(), logger)
	if tlsCfg != nil {
		gs.SetTLSConfig(tlsCfg)
	}
	return gs, nil
}
