package store

import (
	"github.com/twpayne/go-geom"

	"github.com/sells-group/mineguard/internal/model"
)

func lease() *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{86.40, 23.70}, {86.45, 23.70}, {86.45, 23.75}, {86.40, 23.75}, {86.40, 23.70},
	}}).SetSRID(4326)
}

func sampleInspection(jobID string) *model.Inspection {
	return &model.Inspection{
		JobID:          jobID,
		Filename:       "lease.geojson",
		Status:         model.InspectionCompleted,
		StartDate:      "2024-01-01",
		EndDate:        "2024-04-30",
		BoundarySource: model.BoundarySupplied,
		Metrics: model.Metrics{
			IllegalArea:   1200.5,
			LegalArea:     800,
			TotalArea:     2000.5,
			IllegalVolume: 5400,
			LegalVolume:   3000,
			TotalVolume:   8400,
			AvgDepth:      4.5,
			LidElevation:  181.2,
			Truckloads:    360,
		},
		Artifacts: model.Artifacts{
			Map:    "http://localhost:8000/static/outputs/" + jobID + "/map_2d.png",
			Report: "http://localhost:8000/static/outputs/" + jobID + "/report.pdf",
		},
		Boundary: lease(),
	}
}
