package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/mineguard/internal/detect"
	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/store"
)

// newInspection builds the record of a run. runErr is the error returned
// by Detector.Run, nil on success. Artifact names are prefixed with base.
func newInspection(req detect.Request, res *detect.Result, runErr error, base string) *model.Inspection {
	insp := &model.Inspection{
		JobID:     req.JobID,
		Filename:  req.Filename,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	}
	if runErr != nil {
		insp.Status = model.InspectionFailed
		insp.Error = runErr.Error()
		return insp
	}
	insp.Status = model.InspectionCompleted
	insp.JobID = res.JobID
	insp.StartDate, insp.EndDate = res.StartDate, res.EndDate
	insp.BoundarySource = res.BoundarySource
	insp.Boundary = res.ROI
	insp.Metrics = res.Metrics.Rounded()
	insp.Artifacts = res.Artifacts.WithBase(base)
	return insp
}

// saveInspection persists insp. A failed save is logged and never fails
// the run it records.
func saveInspection(ctx context.Context, st store.Store, insp *model.Inspection) {
	if st == nil {
		return
	}
	if err := st.CreateInspection(ctx, insp); err != nil {
		zap.L().Error("failed to save inspection", zap.String("job_id", insp.JobID), zap.Error(err))
		return
	}
	zap.L().Debug("inspection saved", zap.String("job_id", insp.JobID), zap.Int64("id", insp.ID))
}

// pickJobID fills req.JobID so failed runs can be recorded under the same
// id the detector would have used.
func pickJobID(req *detect.Request) {
	if req.JobID == "" {
		req.JobID = detect.NewJobID()
	}
}
