package model

import "math"

// Metrics is the outcome of one detection run. Areas are square meters,
// volumes cubic meters and depths and elevations meters. Values are kept
// at full precision; Rounded is applied only when presenting them.
type Metrics struct {
	IllegalArea   float64 `json:"illegal_area_m2"`
	LegalArea     float64 `json:"legal_area_m2"`
	TotalArea     float64 `json:"total_area_m2"`
	IllegalVolume float64 `json:"volume_m3"`
	LegalVolume   float64 `json:"legal_volume_m3"`
	TotalVolume   float64 `json:"total_vol_m3"`
	AvgDepth      float64 `json:"avg_depth_m"`
	LidElevation  float64 `json:"lid_elevation_m"`
	Truckloads    int64   `json:"truckloads"`
}

// Rounded returns m with every measurement rounded to two decimals.
func (m Metrics) Rounded() Metrics {
	return Metrics{
		IllegalArea:   round2(m.IllegalArea),
		LegalArea:     round2(m.LegalArea),
		TotalArea:     round2(m.TotalArea),
		IllegalVolume: round2(m.IllegalVolume),
		LegalVolume:   round2(m.LegalVolume),
		TotalVolume:   round2(m.TotalVolume),
		AvgDepth:      round2(m.AvgDepth),
		LidElevation:  round2(m.LidElevation),
		Truckloads:    m.Truckloads,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Artifacts names the files rendered for a run. Empty fields were not
// produced.
type Artifacts struct {
	Map    string `json:"map_url,omitempty"`
	Model  string `json:"model_url,omitempty"`
	Report string `json:"report_url,omitempty"`
	Export string `json:"export_url,omitempty"`
}

// WithBase prefixes every produced artifact with base.
func (a Artifacts) WithBase(base string) Artifacts {
	prefix := func(s string) string {
		if s == "" {
			return ""
		}
		return base + s
	}
	return Artifacts{
		Map:    prefix(a.Map),
		Model:  prefix(a.Model),
		Report: prefix(a.Report),
		Export: prefix(a.Export),
	}
}
