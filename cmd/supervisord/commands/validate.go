package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iotistic/supervisor/pkg/engine"
	"github.com/iotistic/supervisor/pkg/supplier"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <target-document>",
		Short: "Validate a target document without applying it",
		Long: `Validate runs a target document through the same schema and semantic
checks the supervisor applies to control-plane targets. It reports the
first set of violations found and exits non-zero if the document would
be rejected.`,
		Example: `  # Validate a target document
  supervisord validate target.json

  # Machine-readable summary
  supervisord validate target.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command, targetPath string) error {
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
		if jsonOutput {
			out, jsonErr := json.Marshal(map[string]interface{}{
				"valid": false,
				"error": err.Error(),
			})
			if jsonErr == nil {
				cmd.Println(string(out))
			}
		}
		return fmt.Errorf("invalid target document: %w", err)
	}

	sensors := len(target.States[engine.KindSensor])
	containers := len(target.States[engine.KindContainer])

	if jsonOutput {
		out, err := json.Marshal(map[string]interface{}{
			"valid":      true,
			"sensors":    sensors,
			"containers": containers,
		})
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Printf("%s is valid: %d sensor(s), %d container(s)\n", targetPath, sensors, containers)
	return nil
}
