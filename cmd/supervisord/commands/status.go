package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iotistic/supervisor/pkg/config"
	"github.com/iotistic/supervisor/pkg/engine"
	"github.com/iotistic/supervisor/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted device state",
		Long: `Status reads the state store and reports the last persisted snapshot and
recent reconciliation passes for each resource kind. It does not talk to
the control plane or the adapters, so it reflects what the supervisor
last knew, not necessarily what is running right now.`,
		Example: `  # Show the current state
  supervisord status

  # Show more pass history, as JSON
  supervisord status --history 20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, historyLimit)
		},
	}

	cmd.Flags().IntVar(&historyLimit, "history", 5, "number of recent passes to show per kind")

	return cmd
}

// statusReport is the JSON shape of the status output.
type statusReport struct {
	Kind      engine.Kind          `json:"kind"`
	Resources int                  `json:"resources"`
	PassID    string               `json:"pass_id,omitempty"`
	SavedAt   *time.Time           `json:"saved_at,omitempty"`
	State     engine.State         `json:"state,omitempty"`
	Passes    []*stores.PassRecord `json:"passes,omitempty"`
}

func runStatus(cmd *cobra.Command, historyLimit int) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	var reports []statusReport
	for _, kind := range []engine.Kind{engine.KindSensor, engine.KindContainer} {
		report := statusReport{Kind: kind}

		snap, err := store.Load(ctx, kind)
		if err != nil {
			return fmt.Errorf("failed to load %s snapshot: %w", kind, err)
		}
		if snap != nil {
			report.Resources = len(snap.State)
			report.PassID = snap.PassID
			report.SavedAt = &snap.SavedAt
			report.State = snap.State
		}

		passes, err := store.ListPasses(ctx, kind, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list %s passes: %w", kind, err)
		}
		report.Passes = passes

		reports = append(reports, report)
	}

	if jsonOutput {
		out, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	}

	for _, report := range reports {
		if report.SavedAt == nil {
			cmd.Printf("%s: no snapshot\n", report.Kind)
			continue
		}
		cmd.Printf("%s: %d resource(s), last pass %s at %s\n",
			report.Kind, report.Resources, report.PassID,
			report.SavedAt.Format(time.RFC3339))
		for _, res := range report.State {
			cmd.Printf("  %s\n", res.ID)
		}
		for _, pass := range report.Passes {
			status := "ok"
			if !pass.Success {
				status = "failed"
			}
			cmd.Printf("  pass %s: %s (added %d, updated %d, removed %d) %s\n",
				pass.PassID, status, pass.Added, pass.Updated, pass.Removed,
				pass.CompletedAt.Format(time.RFC3339))
		}
	}
	return nil
}
