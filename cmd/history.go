package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past inspections, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		list, err := st.ListInspections(ctx, store.InspectionFilter{
			Status: model.InspectionStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "history")
		}

		if asJSON {
			if list == nil {
				list = []model.Inspection{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No inspections found.")
			return nil
		}
		formatHistory(os.Stdout, list)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of an inspection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		insp, err := st.GetInspection(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "history show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(insp)
	},
}

func init() {
	historyCmd.Flags().String("status", "", "filter by status (completed, failed)")
	historyCmd.Flags().Int("limit", 50, "max number of inspections to display")
	historyCmd.Flags().Bool("json", false, "print JSON instead of a table")

	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

// formatHistory writes a tabular list of inspections to out.
func formatHistory(out io.Writer, list []model.Inspection) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tFILE\tSTATUS\tWINDOW\tILLEGAL_M2\tVOLUME_M3\tTRUCKS\tCREATED")
	for _, insp := range list {
		file := insp.Filename
		if file == "" {
			file = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s..%s\t%.2f\t%.2f\t%d\t%s\n",
			insp.JobID,
			file,
			insp.Status,
			insp.StartDate, insp.EndDate,
			insp.Metrics.IllegalArea,
			insp.Metrics.IllegalVolume,
			insp.Metrics.Truckloads,
			insp.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
