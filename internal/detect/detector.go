// Package detect finds surface mining around a lease boundary and measures
// how much of it lies outside the lease.
//
// A run extracts three independent signals, fuses them under a triple
// lock, partitions the result by lease membership and reduces the parts
// to area and volume metrics. Graph construction is pure; only the
// reductions and the artifact renderers touch the evaluator.
package detect

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mineguard/internal/boundary"
	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/raster"
)

// State is a step of the detection state machine.
type State string

// Run states in order. A failing run moves to Error from whichever state
// it was in; RunError keeps that state.
const (
	StateAwaitingInput      State = "awaiting_input"
	StateBoundaryResolved   State = "boundary_resolved"
	StateSignalsExtracted   State = "signals_extracted"
	StateFused              State = "fused"
	StatePartitioned        State = "partitioned"
	StateMetricsComputed    State = "metrics_computed"
	StateArtifactsRequested State = "artifacts_requested"
	StateDone               State = "done"
	StateError              State = "error"
)

// ErrInvalidInput marks runs rejected for their request: malformed or
// reversed dates, or an unusable boundary in strict mode.
var ErrInvalidInput = eris.New("detect: invalid input")

// RunError reports the state a failed run was in and why it failed.
type RunError struct {
	State State
	Cause error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("detect: run failed at %s: %v", e.State, e.Cause)
}

func (e *RunError) Unwrap() error { return e.Cause }

// Connector establishes the compute session a run depends on.
type Connector interface {
	Connect(ctx context.Context) error
}

// RenderInput is everything a renderer may draw from.
type RenderInput struct {
	JobID     string
	Dir       string
	Filename  string
	StartDate string
	EndDate   string
	DEMSource string
	ROI       geom.T
	Zone      raster.Region
	Status    *raster.Image
	Scale     float64
	MaxPixels float64
	Metrics   model.Metrics
	Evaluator raster.Evaluator
}

// Renderer produces one artifact file in in.Dir and returns its base name.
type Renderer interface {
	Render(ctx context.Context, in RenderInput) (string, error)
}

// Renderers are the optional artifact producers of a Detector. Nil
// entries are skipped.
type Renderers struct {
	Map    Renderer
	Model  Renderer
	Report Renderer
	Export Renderer
}

// Request is one detection job.
type Request struct {
	// Boundary is GeoJSON. Empty means no boundary was supplied.
	Boundary  []byte
	Filename  string
	StartDate string
	EndDate   string
	JobID     string
}

// Result is the outcome of a completed run.
type Result struct {
	JobID          string
	Filename       string
	StartDate      string
	EndDate        string
	BoundarySource model.BoundarySource
	ROI            geom.T
	Metrics        model.Metrics
	Artifacts      model.Artifacts
	Status         *raster.Image
}

// Detector runs detections against one evaluator. It holds no per-run
// state and is safe for concurrent use.
type Detector struct {
	eval      raster.Evaluator
	params    Params
	connector Connector
	renderers Renderers
	outputDir string
	log       *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithConnector sets the session acquired before every run.
func WithConnector(c Connector) Option {
	return func(d *Detector) { d.connector = c }
}

// WithRenderers sets the artifact renderers.
func WithRenderers(r Renderers) Option {
	return func(d *Detector) { d.renderers = r }
}

// WithLogger sets the logger runs derive their job-scoped logger from.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) { d.log = l.With(zap.String("component", "detect")) }
}

// WithOutputDir sets the directory under which per-job artifact
// directories are created.
func WithOutputDir(dir string) Option {
	return func(d *Detector) { d.outputDir = dir }
}

// New returns a Detector evaluating through eval.
func New(eval raster.Evaluator, params Params, opts ...Option) *Detector {
	d := &Detector{
		eval:      eval,
		params:    params,
		outputDir: "static/outputs",
		log:       zap.L().With(zap.String("component", "detect")),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NewJobID returns a short random job identifier.
func NewJobID() string {
	return uuid.NewString()[:8]
}

// Run executes one detection. On failure it returns a *RunError and no
// metrics.
func (d *Detector) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{
		JobID:     req.JobID,
		Filename:  req.Filename,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	}
	if res.JobID == "" {
		res.JobID = NewJobID()
	}
	if res.StartDate == "" {
		res.StartDate = d.params.StartDate
	}
	if res.EndDate == "" {
		res.EndDate = d.params.EndDate
	}

	log := d.log.With(zap.String("job_id", res.JobID))
	state := StateAwaitingInput
	fail := func(err error) (*Result, error) {
		failed := state
		state = StateError
		log.Error("detect: run failed",
			zap.String("state", string(state)),
			zap.String("failed_state", string(failed)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Error(err),
		)
		return nil, &RunError{State: failed, Cause: err}
	}
	advance := func(next State) {
		state = next
		log.Debug("detect: state", zap.String("state", string(state)))
	}

	if err := checkDates(res.StartDate, res.EndDate); err != nil {
		return fail(err)
	}
	if d.connector != nil {
		if err := d.connector.Connect(ctx); err != nil {
			return fail(eris.Wrap(err, "detect: connect"))
		}
	}

	roi, source, err := d.resolveBoundary(log, req.Boundary)
	if err != nil {
		return fail(err)
	}
	if source.Defaulted() {
		log.Warn("detect: using default boundary", zap.String("boundary_source", string(source)))
	}
	res.ROI, res.BoundarySource = roi, source
	advance(StateBoundaryResolved)

	region := raster.NewRegion(roi)
	zone := region.Buffered(d.params.BufferMeters)
	signals := ExtractSignals(region, zone, res.StartDate, res.EndDate, d.params)
	advance(StateSignalsExtracted)

	mask := Fuse(signals, d.params)
	advance(StateFused)

	part := PartitionMask(mask, region)
	advance(StatePartitioned)

	metrics, err := ComputeMetrics(ctx, d.eval, zone, signals, part, d.params)
	if err != nil {
		return fail(err)
	}
	res.Metrics = metrics
	res.Status = ComposeStatus(signals.Depth, part)
	advance(StateMetricsComputed)

	advance(StateArtifactsRequested)
	res.Artifacts = d.render(ctx, log, res, zone)

	advance(StateDone)
	log.Info("detect: run complete",
		zap.String("boundary_source", string(source)),
		zap.Float64("illegal_area_m2", metrics.IllegalArea),
		zap.Float64("legal_area_m2", metrics.LegalArea),
		zap.Float64("volume_m3", metrics.IllegalVolume),
		zap.Int64("truckloads", metrics.Truckloads),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

// resolveBoundary normalizes the supplied boundary or falls back to the
// default rectangle.
func (d *Detector) resolveBoundary(log *zap.Logger, data []byte) (geom.T, model.BoundarySource, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return boundary.Default(), model.BoundaryDefaultMissing, nil
	}
	roi, err := boundary.Normalize(data)
	if err != nil {
		if d.params.StrictBoundary {
			return nil, "", eris.Wrapf(ErrInvalidInput, "detect: invalid boundary: %v", err)
		}
		log.Warn("detect: boundary rejected", zap.Error(err))
		return boundary.Default(), model.BoundaryDefaultInvalid, nil
	}
	return roi, model.BoundarySupplied, nil
}

// render runs every configured renderer concurrently. A failing renderer
// only loses its own artifact.
func (d *Detector) render(ctx context.Context, log *zap.Logger, res *Result, zone raster.Region) model.Artifacts {
	r := d.renderers
	in := RenderInput{
		JobID:     res.JobID,
		Dir:       filepath.Join(d.outputDir, res.JobID),
		Filename:  res.Filename,
		StartDate: res.StartDate,
		EndDate:   res.EndDate,
		DEMSource: d.params.DEMSource,
		ROI:       res.ROI,
		Zone:      zone,
		Status:    res.Status,
		Scale:     d.params.RenderScale,
		MaxPixels: d.params.MaxPixels,
		Metrics:   res.Metrics,
		Evaluator: d.eval,
	}

	var out model.Artifacts
	jobs := []struct {
		name     string
		renderer Renderer
		dst      *string
	}{
		{"map", r.Map, &out.Map},
		{"model", r.Model, &out.Model},
		{"report", r.Report, &out.Report},
		{"export", r.Export, &out.Export},
	}
	// An empty disturbance has no surface to model.
	if res.Metrics.TotalArea == 0 {
		jobs[1].renderer = nil
	}
	active := 0
	for _, job := range jobs {
		if job.renderer != nil {
			active++
		}
	}
	if active == 0 {
		return out
	}
	if err := os.MkdirAll(in.Dir, 0o755); err != nil {
		log.Warn("detect: create artifact dir", zap.String("dir", in.Dir), zap.Error(err))
		return out
	}

	var g errgroup.Group
	for _, job := range jobs {
		if job.renderer == nil {
			continue
		}
		g.Go(func() error {
			name, err := job.renderer.Render(ctx, in)
			if err != nil {
				log.Warn("detect: artifact failed", zap.String("artifact", job.name), zap.Error(err))
				return nil
			}
			*job.dst = name
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func checkDates(start, end string) error {
	from, err := time.Parse(raster.DateLayout, start)
	if err != nil {
		return eris.Wrapf(ErrInvalidInput, "detect: start date %q: %v", start, err)
	}
	until, err := time.Parse(raster.DateLayout, end)
	if err != nil {
		return eris.Wrapf(ErrInvalidInput, "detect: end date %q: %v", end, err)
	}
	if until.Before(from) {
		return eris.Wrapf(ErrInvalidInput, "detect: end date %s is before start date %s", end, start)
	}
	return nil
}

// IsRunError reports whether err came from a failed run and returns it.
func IsRunError(err error) (*RunError, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
