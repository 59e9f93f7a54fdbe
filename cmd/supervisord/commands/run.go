package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iotistic/supervisor/pkg/adapters/container"
	"github.com/iotistic/supervisor/pkg/adapters/sensor"
	"github.com/iotistic/supervisor/pkg/config"
	"github.com/iotistic/supervisor/pkg/engine"
	"github.com/iotistic/supervisor/pkg/policy"
	"github.com/iotistic/supervisor/pkg/stores"
	"github.com/iotistic/supervisor/pkg/supplier"
	"github.com/iotistic/supervisor/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor daemon",
		Long: `Run starts the supervisor control loop. It restores the last persisted
state, connects the sensor and container adapters, and keeps the device
converged on targets from the control plane and the local override file
until interrupted.`,
		Example: `  # Run with the default config path
  supervisord run

  # Run with an explicit config file
  supervisord run --config /etc/supervisord/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	return cmd
}

func runDaemon(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(buildVersion))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)

	logger := tel.Logger.Zerolog()
	logger.Info().
		Str("version", buildVersion).
		Str("device_uuid", cfg.Device.UUID).
		Str("environment", cfg.Device.Environment).
		Msg("Starting supervisor daemon")

	if err := tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	// Policy gate is optional. When enabled, file policies are loaded on
	// top of the builtins and hot-reloaded if watching is configured.
	var gate *policy.Gate
	if cfg.Policy.Enabled {
		gate, err = policy.NewGate(logger, policy.WithEnvironment(cfg.Device.Environment))
		if err != nil {
			return fmt.Errorf("failed to create policy gate: %w", err)
		}
		if len(cfg.Policy.Paths) > 0 {
			if err := gate.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
				return fmt.Errorf("failed to load policies: %w", err)
			}
			if cfg.Policy.Watch {
				loader := policy.NewLoader(logger)
				err := loader.Watch(ctx, cfg.Policy.Paths, func(policies []policy.Policy) error {
					return gate.ReplacePolicies(policies)
				})
				if err != nil {
					return fmt.Errorf("failed to watch policy paths: %w", err)
				}
				defer loader.StopWatching()
			}
		}
	}

	publisher := engine.NewPublisher(cfg.Engine.EventBuffer)
	publisher.Subscribe(func(event engine.Event) {
		if event.Result == nil {
			return
		}
		if err := store.RecordPass(ctx, event.Kind, event.Result); err != nil {
			logger.Warn().Err(err).Str("pass_id", event.PassID).Msg("Failed to record pass history")
			return
		}
		if _, err := store.PrunePasses(ctx, cfg.Store.HistoryRetention); err != nil {
			logger.Warn().Err(err).Msg("Failed to prune pass history")
		}
	}, engine.FilterByType(engine.EventReconcileComplete))

	sensorAdapter := sensor.New(sensor.Options{
		ConnectTimeout:      cfg.Adapters.Sensor.ConnectTimeout.Duration(),
		DefaultPollInterval: cfg.Adapters.Sensor.DefaultPollInterval.Duration(),
		OnReading: func(r sensor.Reading) {
			logger.Debug().
				Str("sensor_id", r.SensorID).
				Str("register", r.Name).
				Float64("value", r.Value).
				Str("unit", r.Unit).
				Msg("Sensor reading")
		},
		Logger: logger,
	})
	defer sensorAdapter.Close()

	containerAdapter, err := container.New(container.Options{
		Host:        cfg.Adapters.Container.Host,
		StopTimeout: cfg.Adapters.Container.StopTimeout.Duration(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create container adapter: %w", err)
	}

	engines, err := buildEngines(ctx, cfg, store, publisher, gate, tel, logger,
		sensorAdapter, containerAdapter)
	if err != nil {
		return err
	}

	handler := supplier.HandlerFunc(func(target *supplier.Target) {
		for kind, eng := range engines {
			result, err := eng.SetTarget(ctx, target.States[kind])
			if err != nil {
				logger.Error().Err(err).
					Str("kind", string(kind)).
					Str("source", target.Source).
					Msg("Reconciliation failed")
				continue
			}
			logger.Info().
				Str("kind", string(kind)).
				Str("pass_id", result.PassID).
				Bool("success", result.Success).
				Int("added", result.Added).
				Int("updated", result.Updated).
				Int("removed", result.Removed).
				Int("errors", len(result.Errors)).
				Msg("Reconciliation pass complete")
		}
	})

	sup, err := supplier.New(supplier.Options{
		ControlPlaneURL: cfg.ControlPlane.URL,
		DeviceUUID:      cfg.Device.UUID,
		PollInterval:    cfg.ControlPlane.PollInterval.Duration(),
		PollTimeout:     cfg.ControlPlane.Timeout.Duration(),
		TargetFile:      cfg.ControlPlane.TargetFile,
		Metrics:         tel.Metrics,
		Logger:          logger,
	}, handler)
	if err != nil {
		return fmt.Errorf("failed to create target supplier: %w", err)
	}

	err = sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration())
	defer cancel()

	logger.Info().Msg("Shutting down")
	if shutdownErr := publisher.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn().Err(shutdownErr).Msg("Event publisher did not drain in time")
	}
	if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn().Err(shutdownErr).Msg("Telemetry shutdown failed")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildEngines creates and starts one reconciliation engine per resource kind.
func buildEngines(
	ctx context.Context,
	cfg *config.Config,
	store stores.Store,
	publisher *engine.Publisher,
	gate *policy.Gate,
	tel *telemetry.Telemetry,
	logger zerolog.Logger,
	adapters ...engine.Adapter,
) (map[engine.Kind]*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithLogger(logger),
	}
	if publisher != nil {
		opts = append(opts, engine.WithNotifier(publisher))
	}
	if tel != nil {
		opts = append(opts, engine.WithMetrics(tel.Metrics), engine.WithTracer(tel.Tracer))
	}
	if gate != nil {
		opts = append(opts, engine.WithPolicyGate(gate))
	}
	if len(cfg.Engine.PlanOrder) == 3 {
		var order engine.PlanOrder
		for i, action := range cfg.Engine.PlanOrder {
			order[i] = engine.Action(action)
		}
		opts = append(opts, engine.WithPlanner(engine.NewPlanner(engine.WithPlanOrder(order))))
	}

	engines := make(map[engine.Kind]*engine.Engine, len(adapters))
	for _, adapter := range adapters {
		eng, err := engine.New(adapter.Kind(), adapter, store, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s engine: %w", adapter.Kind(), err)
		}
		if err := eng.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start %s engine: %w", adapter.Kind(), err)
		}
		engines[adapter.Kind()] = eng
	}
	return engines, nil
}
