package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agrovista/agromonitor/pkg/model"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Manage alert thresholds",
}

var thresholdSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update a threshold",
	Long: `Create or update a threshold for a scope and alert kind. Omitting
--resource-type and --project creates a global threshold; scoped thresholds
take precedence over global ones at evaluation time.`,
	RunE: runThresholdSet,
}

var thresholdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured thresholds",
	RunE:  runThresholdList,
}

func init() {
	rootCmd.AddCommand(thresholdCmd)
	thresholdCmd.AddCommand(thresholdSetCmd)
	thresholdCmd.AddCommand(thresholdListCmd)

	thresholdSetCmd.Flags().StringP("kind", "k", "", "Alert kind (agotamiento, sobrecosto, retraso, reasignacion)")
	thresholdSetCmd.Flags().StringP("resource-type", "t", "", "Resource type scope (empty for any)")
	thresholdSetCmd.Flags().StringP("project", "p", "", "Project scope (empty for any)")
	thresholdSetCmd.Flags().Float64("percent", 0, "Consumption percentage that triggers the alert")
	thresholdSetCmd.Flags().Int("days", 0, "Days before end date that triggers the alert")
	thresholdSetCmd.Flags().Float64("min-quantity", 0, "Minimum remaining quantity worth reassigning")
	thresholdSetCmd.Flags().StringP("severity", "s", "", "Fixed severity (baja, media, alta, critica; empty derives from level)")
	thresholdSetCmd.Flags().Bool("disabled", false, "Create the threshold in a disabled state")
	_ = thresholdSetCmd.MarkFlagRequired("kind")

	thresholdListCmd.Flags().StringP("project", "p", "", "Filter by project scope")
	thresholdListCmd.Flags().StringP("resource-type", "t", "", "Filter by resource type scope")
	thresholdListCmd.Flags().Bool("all", false, "Include disabled thresholds")
}

func runThresholdSet(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kind, _ := cmd.Flags().GetString("kind")
	resourceType, _ := cmd.Flags().GetString("resource-type")
	project, _ := cmd.Flags().GetString("project")
	percent, _ := cmd.Flags().GetFloat64("percent")
	days, _ := cmd.Flags().GetInt("days")
	minQuantity, _ := cmd.Flags().GetFloat64("min-quantity")
	severity, _ := cmd.Flags().GetString("severity")
	disabled, _ := cmd.Flags().GetBool("disabled")

	engine, store, err := initEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	t := &model.Threshold{
		ResourceTypeID: resourceType,
		ProjectID:      project,
		Kind:           model.AlertKind(kind),
		Percent:        percent,
		Days:           days,
		MinQuantity:    minQuantity,
		Severity:       model.Severity(severity),
		CreatedBy:      "cli",
		Active:         !disabled,
	}

	if err := engine.SetThreshold(cmd.Context(), t); err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}

	fmt.Printf("Threshold set:\n")
	fmt.Printf("  Kind:          %s\n", t.Kind)
	fmt.Printf("  Resource type: %s\n", orAny(t.ResourceTypeID))
	fmt.Printf("  Project:       %s\n", orAny(t.ProjectID))
	if t.Kind.DayBased() {
		fmt.Printf("  Days:          %d\n", t.Days)
	} else {
		fmt.Printf("  Percent:       %.1f%%\n", t.Percent)
	}
	if t.MinQuantity > 0 {
		fmt.Printf("  Min quantity:  %.3f\n", t.MinQuantity)
	}
	if t.Severity != "" {
		fmt.Printf("  Severity:      %s\n", t.Severity)
	}

	return nil
}

func runThresholdList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	project, _ := cmd.Flags().GetString("project")
	resourceType, _ := cmd.Flags().GetString("resource-type")
	all, _ := cmd.Flags().GetBool("all")

	engine, store, err := initEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	thresholds, err := engine.Storage.ListThresholds(cmd.Context(), model.ThresholdFilter{
		ProjectID:       project,
		ResourceTypeID:  resourceType,
		IncludeInactive: all,
	})
	if err != nil {
		return fmt.Errorf("list thresholds: %w", err)
	}

	if len(thresholds) == 0 {
		fmt.Println("No thresholds configured. Use 'agromonitor threshold set' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "KIND\tRESOURCE TYPE\tPROJECT\tPERCENT\tDAYS\tMIN QTY\tSEVERITY\tACTIVE\n")
	for _, t := range thresholds {
		trigger := fmt.Sprintf("%.1f%%", t.Percent)
		daysCol := "-"
		if t.Kind.DayBased() {
			trigger = "-"
			daysCol = fmt.Sprintf("%d", t.Days)
		}
		severity := string(t.Severity)
		if severity == "" {
			severity = "auto"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.3f\t%s\t%t\n",
			t.Kind, orAny(t.ResourceTypeID), orAny(t.ProjectID),
			trigger, daysCol, t.MinQuantity, severity, t.Active,
		)
	}
	w.Flush()

	return nil
}

func orAny(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
