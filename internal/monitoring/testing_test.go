package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/mineguard/internal/model"
	"github.com/sells-group/mineguard/internal/store"
)

// mockLister serves inspections the way the stores do: newest first,
// filtered by CreatedAfter and paged by Limit/Offset.
type mockLister struct {
	inspections []model.Inspection
	err         error
	calls       int
}

func (m *mockLister) ListInspections(_ context.Context, filter store.InspectionFilter) ([]model.Inspection, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var filtered []model.Inspection
	for _, insp := range m.inspections {
		if !filter.CreatedAfter.IsZero() && insp.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		filtered = append(filtered, insp)
	}
	if filter.Offset >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[filter.Offset:]
	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}
	return filtered, nil
}

var fixedNow = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

func newTestCollector(l Lister, pageSize int) *Collector {
	c := NewCollector(l)
	c.pageSize = pageSize
	c.now = func() time.Time { return fixedNow }
	return c
}

func completed(jobID string, age time.Duration, illegalArea, illegalVolume float64) model.Inspection {
	return model.Inspection{
		JobID:  jobID,
		Status: model.InspectionCompleted,
		Metrics: model.Metrics{
			IllegalArea:   illegalArea,
			IllegalVolume: illegalVolume,
			Truckloads:    int64(illegalVolume / 15),
		},
		CreatedAt: fixedNow.Add(-age),
	}
}

func failed(jobID string, age time.Duration) model.Inspection {
	return model.Inspection{JobID: jobID, Status: model.InspectionFailed, CreatedAt: fixedNow.Add(-age)}
}
