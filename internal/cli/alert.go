package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agrovista/agromonitor/pkg/model"
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "List and manage alerts",
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	Long:  `List alerts ordered by severity and recency. By default only active alerts are shown.`,
	RunE:  runAlertList,
}

var alertResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an alert as resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertResolve,
}

var alertStateCmd = &cobra.Command{
	Use:   "state <alert-id> <state>",
	Short: "Move an alert to a new state",
	Long:  `Move an alert to leida, resuelta, or ignorada. Terminal states cannot be left.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runAlertState,
}

func init() {
	rootCmd.AddCommand(alertCmd)
	alertCmd.AddCommand(alertListCmd)
	alertCmd.AddCommand(alertResolveCmd)
	alertCmd.AddCommand(alertStateCmd)

	alertListCmd.Flags().StringP("project", "p", "", "Filter by project")
	alertListCmd.Flags().StringP("state", "s", "", "Filter by state (activa, leida, resuelta, ignorada, todas)")
	alertListCmd.Flags().String("severity", "", "Filter by severity")
	alertListCmd.Flags().IntP("limit", "n", 50, "Maximum number of alerts")

	alertResolveCmd.Flags().String("note", "", "Resolution note")
	alertResolveCmd.Flags().StringP("user", "u", "cli", "Resolving user ID")

	alertStateCmd.Flags().String("note", "", "Transition note")
	alertStateCmd.Flags().StringP("user", "u", "cli", "Acting user ID")
}

func runAlertList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	project, _ := cmd.Flags().GetString("project")
	state, _ := cmd.Flags().GetString("state")
	severity, _ := cmd.Flags().GetString("severity")
	limit, _ := cmd.Flags().GetInt("limit")

	engine, store, err := initEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	alerts, err := engine.Storage.ListAlerts(cmd.Context(), model.AlertFilter{
		ProjectID: project,
		State:     model.AlertState(state),
		Severity:  model.Severity(severity),
		Limit:     limit,
	})
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	if len(alerts) == 0 {
		fmt.Println("No alerts found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tPROJECT\tKIND\tSEVERITY\tSTATE\tGENERATED\tMESSAGE\n")
	for _, a := range alerts {
		msg := a.Message
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.ProjectID, a.Kind, a.Severity, a.State,
			a.GeneratedAt.Format("2006-01-02 15:04"), msg,
		)
	}
	w.Flush()

	return nil
}

func runAlertResolve(cmd *cobra.Command, args []string) error {
	return transitionAlert(cmd, args[0], model.StateResolved)
}

func runAlertState(cmd *cobra.Command, args []string) error {
	return transitionAlert(cmd, args[0], model.AlertState(args[1]))
}

func transitionAlert(cmd *cobra.Command, alertID string, next model.AlertState) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	note, _ := cmd.Flags().GetString("note")
	user, _ := cmd.Flags().GetString("user")

	engine, store, err := initEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	alert, err := engine.Alerts.Transition(cmd.Context(), alertID, next, user, note)
	if err != nil {
		return fmt.Errorf("transition alert: %w", err)
	}

	fmt.Printf("Alert %s is now %s\n", alert.ID, alert.State)
	return nil
}
