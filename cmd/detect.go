package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/store"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one detection and print its metrics",
	Long:  "Runs the detection for a lease boundary (GeoJSON) and prints the rounded metrics as JSON. Without --boundary the default lease rectangle is used.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		boundaryPath, _ := cmd.Flags().GetString("boundary")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		outDir, _ := cmd.Flags().GetString("out")
		engineName, _ := cmd.Flags().GetString("engine")
		scenes, _ := cmd.Flags().GetString("scenes")
		noStore, _ := cmd.Flags().GetBool("no-store")

		if engineName != "" {
			cfg.Compute.Engine = engineName
		}
		if scenes != "" {
			cfg.Compute.Scenes = scenes
		}
		if outDir != "" {
			cfg.Artifacts.OutputDir = outDir
		}
		if err := cfg.Validate("detect"); err != nil {
			return err
		}

		req := detect.Request{StartDate: start, EndDate: end}
		if boundaryPath != "" {
			data, err := os.ReadFile(boundaryPath)
			if err != nil {
				return eris.Wrap(err, "read boundary")
			}
			req.Boundary = data
			req.Filename = filepath.Base(boundaryPath)
		}
		pickJobID(&req)

		det, err := initDetector(cfg)
		if err != nil {
			return err
		}

		var st store.Store
		if !noStore {
			st, err = openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		res, runErr := det.Run(ctx, req)
		base := filepath.Join(cfg.Artifacts.OutputDir, req.JobID) + string(filepath.Separator)
		insp := newInspection(req, res, runErr, base)
		saveInspection(ctx, st, insp)
		if runErr != nil {
			return runErr
		}

		zap.L().Info("detection complete", zap.String("job_id", res.JobID), zap.String("boundary_source", string(res.BoundarySource)))
		return writeDetectOutput(os.Stdout, insp)
	},
}

type detectOutput struct {
	JobID          string               `json:"job_id"`
	BoundarySource model.BoundarySource `json:"boundary_source"`
	model.Metrics
	Artifacts model.Artifacts `json:"artifacts"`
}

func writeDetectOutput(w io.Writer, insp *model.Inspection) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(detectOutput{
		JobID:          insp.JobID,
		BoundarySource: insp.BoundarySource,
		Metrics:        insp.Metrics,
		Artifacts:      insp.Artifacts,
	})
}

func init() {
	detectCmd.Flags().String("boundary", "", "lease boundary GeoJSON file (default lease rectangle when empty)")
	detectCmd.Flags().String("start", "", "window start YYYY-MM-DD (default from config)")
	detectCmd.Flags().String("end", "", "window end YYYY-MM-DD, inclusive (default from config)")
	detectCmd.Flags().String("out", "", "artifact output directory (default from config)")
	detectCmd.Flags().String("engine", "", "evaluator: local or remote (default from config)")
	detectCmd.Flags().String("scenes", "", "scene manifest for the local engine")
	detectCmd.Flags().Bool("no-store", false, "do not record the inspection")
	rootCmd.AddCommand(detectCmd)
}
