// Package store persists inspection records.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mineguard/internal/model"
)

// ErrNotFound is returned when no inspection has the requested job id.
var ErrNotFound = eris.New("store: inspection not found")

// InspectionFilter specifies criteria for listing inspections.
type InspectionFilter struct {
	Status       model.InspectionStatus `json:"status,omitempty"`
	CreatedAfter time.Time              `json:"created_after,omitempty"`
	Limit        int                    `json:"limit,omitempty"`
	Offset       int                    `json:"offset,omitempty"`
}

const defaultListLimit = 50

func (f InspectionFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for inspections.
type Store interface {
	// CreateInspection inserts insp and sets its ID and CreatedAt.
	CreateInspection(ctx context.Context, insp *model.Inspection) error
	GetInspection(ctx context.Context, jobID string) (*model.Inspection, error)
	// ListInspections returns inspections newest first.
	ListInspections(ctx context.Context, filter InspectionFilter) ([]model.Inspection, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// nowUTC stamps new rows.
var nowUTC = func() time.Time { return time.Now().UTC() }

type scannable interface {
	Scan(dest ...any) error
}
