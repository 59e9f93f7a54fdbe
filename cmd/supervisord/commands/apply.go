package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iotistic/supervisor/pkg/adapters/container"
	"github.com/iotistic/supervisor/pkg/adapters/sensor"
	"github.com/iotistic/supervisor/pkg/config"
	"github.com/iotistic/supervisor/pkg/engine"
	"github.com/iotistic/supervisor/pkg/policy"
	"github.com/iotistic/supervisor/pkg/stores"
	"github.com/iotistic/supervisor/pkg/supplier"
)

func newApplyCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply <target-document>",
		Short: "Apply a target document once and exit",
		Long: `Apply reconciles the device against a local target document in a single
pass. The document is validated the same way control-plane targets are,
and the resulting state is persisted so a subsequent daemon start picks
it up.

With --dry-run the planned steps are printed without touching any
sensors or containers.`,
		Example: `  # Apply a target document
  supervisord apply target.json

  # Show what would change without applying
  supervisord apply target.json --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, args[0], dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, do not execute")

	return cmd
}

func runApply(cmd *cobra.Command, targetPath string, dryRun bool) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}

	parser, err := supplier.NewParser()
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}
	data, err := os.ReadFile(targetPath)
	if err != nil {
		return fmt.Errorf("failed to read target document: %w", err)
	}
	target, err := parser.Parse(data, "file")
	if err != nil {
		return fmt.Errorf("invalid target document: %w", err)
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

	if dryRun {
		return printPlan(cmd, cfg, store, target)
	}

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
		}
	}

	sensorAdapter := sensor.New(sensor.Options{
		ConnectTimeout:      cfg.Adapters.Sensor.ConnectTimeout.Duration(),
		DefaultPollInterval: cfg.Adapters.Sensor.DefaultPollInterval.Duration(),
		Logger:              logger,
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

	engines, err := buildEngines(ctx, cfg, store, nil, gate, nil, logger,
		sensorAdapter, containerAdapter)
	if err != nil {
		return err
	}

	failed := false
	for kind, eng := range engines {
		result, err := eng.SetTarget(ctx, target.States[kind])
		if err != nil {
			return fmt.Errorf("reconciliation of %s failed: %w", kind, err)
		}
		if !result.Success {
			failed = true
		}
		printResult(cmd, kind, result)
	}
	if failed {
		return fmt.Errorf("one or more steps failed")
	}
	return nil
}

// printPlan diffs the target against the persisted state and prints the
// steps a real pass would execute.
func printPlan(cmd *cobra.Command, cfg *config.Config, store stores.Store, target *supplier.Target) error {
	planner := engine.NewPlanner()
	if len(cfg.Engine.PlanOrder) == 3 {
		var order engine.PlanOrder
		for i, action := range cfg.Engine.PlanOrder {
			order[i] = engine.Action(action)
		}
		planner = engine.NewPlanner(engine.WithPlanOrder(order))
	}

	for _, kind := range []engine.Kind{engine.KindSensor, engine.KindContainer} {
		current := engine.State{}
		snap, err := store.Load(cmd.Context(), kind)
		if err != nil {
			return fmt.Errorf("failed to load %s snapshot: %w", kind, err)
		}
		if snap != nil {
			current = snap.State
		}

		steps, err := planner.Plan(target.States[kind], current)
		if err != nil {
			return fmt.Errorf("failed to plan %s changes: %w", kind, err)
		}

		if jsonOutput {
			out, err := json.MarshalIndent(steps, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			continue
		}

		cmd.Printf("%s: %d step(s)\n", kind, len(steps))
		for _, step := range steps {
			cmd.Printf("  %-7s %s\n", step.Action, step.Resource.ID)
		}
	}
	return nil
}

func printResult(cmd *cobra.Command, kind engine.Kind, result *engine.Result) {
	if jsonOutput {
		out, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			cmd.Println(string(out))
		}
		return
	}

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	cmd.Printf("%s: %s (added %d, updated %d, removed %d)\n",
		kind, status, result.Added, result.Updated, result.Removed)
	for _, stepErr := range result.Errors {
		cmd.Printf("  error: %s: %s\n", stepErr.ResourceID, stepErr.Message)
	}
}
