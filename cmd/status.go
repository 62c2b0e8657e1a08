package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mineguard/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize recent inspections and the alerts they would raise",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		hours, _ := cmd.Flags().GetInt("hours")
		asJSON, _ := cmd.Flags().GetBool("json")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*monitoring.Snapshot
				Alerts []monitoring.Alert `json:"alerts"`
			}{snap, alerts})
		}
		formatStatus(os.Stdout, snap, alerts)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(statusCmd)
}

func formatStatus(out io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	fmt.Fprintf(out, "Inspections (last %dh): %d total, %d completed, %d failed (%.1f%% failure rate)\n",
		snap.LookbackHours, snap.Total, snap.Completed, snap.Failed, snap.FailRate*100)
	fmt.Fprintf(out, "Illegal excavation: %d inspection(s), %.2f m2, %.2f m3, %d truckloads\n",
		snap.Illegal, snap.IllegalArea, snap.IllegalVolume, snap.Truckloads)
	if len(alerts) == 0 {
		fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range alerts {
		fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
