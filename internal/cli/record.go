package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrovista/agromonitor/pkg/monitor"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record resource consumption manually",
	Long:  `Record a single consumption entry against a planned resource.`,
	RunE:  runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringP("resource", "r", "", "Planned resource ID")
	recordCmd.Flags().Float64P("quantity", "q", 0, "Consumed quantity (negative for corrections)")
	recordCmd.Flags().StringP("date", "d", "", "Consumption date (YYYY-MM-DD, default today)")
	recordCmd.Flags().String("note", "", "Optional note")
	recordCmd.Flags().StringP("user", "u", "cli", "Recording user ID")
	_ = recordCmd.MarkFlagRequired("resource")
	_ = recordCmd.MarkFlagRequired("quantity")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resourceID, _ := cmd.Flags().GetString("resource")
	quantity, _ := cmd.Flags().GetFloat64("quantity")
	dateStr, _ := cmd.Flags().GetString("date")
	note, _ := cmd.Flags().GetString("note")
	user, _ := cmd.Flags().GetString("user")

	var date time.Time
	if dateStr != "" {
		date, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return fmt.Errorf("invalid date %q: %w", dateStr, err)
		}
	}

	engine, store, err := initEngine(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	record, err := engine.Recorder.Record(cmd.Context(), user, monitor.RecordInput{
		PlannedResourceID: resourceID,
		Quantity:          quantity,
		Date:              date,
		Note:              note,
	})
	if err != nil {
		return fmt.Errorf("record consumption: %w", err)
	}

	fmt.Printf("Recorded consumption:\n")
	fmt.Printf("  ID:        %s\n", record.ID)
	fmt.Printf("  Resource:  %s\n", record.PlannedResourceID)
	fmt.Printf("  Quantity:  %.3f\n", record.Quantity)
	fmt.Printf("  Date:      %s\n", record.Date.Format("2006-01-02"))
	if record.Note != "" {
		fmt.Printf("  Note:      %s\n", record.Note)
	}

	return nil
}
