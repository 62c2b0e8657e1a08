package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/store"
)

// Snapshot holds a point-in-time view of recent inspections.
type Snapshot struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	FailRate  float64 `json:"fail_rate"`

	// Completed inspections that found excavation outside the lease.
	Illegal       int      `json:"illegal"`
	IllegalJobs   []string `json:"illegal_jobs,omitempty"`
	IllegalArea   float64  `json:"illegal_area_m2"`
	IllegalVolume float64  `json:"illegal_volume_m3"`
	Truckloads    int64    `json:"truckloads"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`

	findings []finding
}

// finding is one inspection's share of the illegal totals.
type finding struct {
	jobID     string
	createdAt time.Time
	area      float64
	volume    float64
	trucks    int64
}

// Lister is the part of store.Store the collector reads.
type Lister interface {
	ListInspections(ctx context.Context, filter store.InspectionFilter) ([]model.Inspection, error)
}

const defaultPageSize = 500

// Collector gathers inspection statistics from the store.
type Collector struct {
	store    Lister
	pageSize int
	now      func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(st Lister) *Collector {
	return &Collector{
		store:    st,
		pageSize: defaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Collect summarizes the inspections created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	for offset := 0; ; offset += c.pageSize {
		page, err := c.store.ListInspections(ctx, store.InspectionFilter{
			CreatedAfter: cutoff,
			Limit:        c.pageSize,
			Offset:       offset,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list inspections")
		}
		for _, insp := range page {
			snap.add(insp)
		}
		if len(page) < c.pageSize {
			break
		}
	}

	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	return snap, nil
}

func (s *Snapshot) add(insp model.Inspection) {
	s.Total++
	switch insp.Status {
	case model.InspectionCompleted:
		s.Completed++
	case model.InspectionFailed:
		s.Failed++
		return
	}
	if insp.Metrics.IllegalArea <= 0 {
		return
	}
	s.record(finding{
		jobID:     insp.JobID,
		createdAt: insp.CreatedAt,
		area:      insp.Metrics.IllegalArea,
		volume:    insp.Metrics.IllegalVolume,
		trucks:    insp.Metrics.Truckloads,
	})
}

func (s *Snapshot) record(f finding) {
	s.findings = append(s.findings, f)
	s.Illegal++
	s.IllegalJobs = append(s.IllegalJobs, f.jobID)
	s.IllegalArea += f.area
	s.IllegalVolume += f.volume
	s.Truckloads += f.trucks
}

// retain recomputes the illegal totals over the inspections keep accepts.
func (s *Snapshot) retain(keep func(jobID string) bool) {
	all := s.findings
	s.findings = nil
	s.Illegal, s.IllegalJobs = 0, nil
	s.IllegalArea, s.IllegalVolume, s.Truckloads = 0, 0, 0
	for _, f := range all {
		if keep(f.jobID) {
			s.record(f)
		}
	}
}
