package model

import (
	"time"

	"github.com/twpayne/go-geom"
)

// InspectionStatus is the outcome recorded for an inspection.
type InspectionStatus string

const (
	InspectionCompleted InspectionStatus = "completed"
	InspectionFailed    InspectionStatus = "failed"
)

// BoundarySource records where the boundary used by a run came from.
type BoundarySource string

const (
	BoundarySupplied       BoundarySource = "supplied"
	BoundaryDefaultMissing BoundarySource = "default_missing" // no boundary given
	BoundaryDefaultInvalid BoundarySource = "default_invalid" // boundary given but unusable
)

// Defaulted reports whether the run fell back to the default rectangle.
func (s BoundarySource) Defaulted() bool {
	return s == BoundaryDefaultMissing || s == BoundaryDefaultInvalid
}

// Inspection is a persisted detection run.
type Inspection struct {
	ID             int64            `json:"id,omitempty"`
	JobID          string           `json:"job_id"`
	Filename       string           `json:"filename"`
	Status         InspectionStatus `json:"status"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	BoundarySource BoundarySource   `json:"boundary_source"`
	Metrics        Metrics          `json:"metrics"`
	Artifacts      Artifacts        `json:"artifacts"`
	Error          string           `json:"error,omitempty"`
	Boundary       geom.T           `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
}
