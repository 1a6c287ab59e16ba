package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-evaluate all thresholds now",
	Long: `Evaluate every planned resource against its configured thresholds and raise
any missing alerts. The sweep is idempotent: conditions that already carry an
active alert are skipped.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringP("project", "p", "", "Limit the sweep to one project")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	project, _ := cmd.Flags().GetString("project")

	engine, store, err := initEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	created, err := engine.Evaluator.EvaluateProject(cmd.Context(), project)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	if len(created) == 0 {
		fmt.Println("Sweep finished, no new alerts.")
		return nil
	}

	fmt.Printf("Sweep finished, %d new alert(s):\n", len(created))
	for _, a := range created {
		fmt.Printf("  [%s] %s: %s\n", a.Severity, a.Kind, a.Message)
	}

	return nil
}
