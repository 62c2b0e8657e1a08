package artifact

import (
	"context"
	"path/filepath"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/mineguard/internal/detect"
)

// Report writes a one-page PDF summary of a run's metrics.
type Report struct {
	// Now stamps the report. Nil means time.Now.
	Now func() time.Time
}

var _ detect.Renderer = Report{}

type reportRow struct {
	label string
	value string
}

// Render implements detect.Renderer. It reads only the metrics and run
// metadata, so it never touches the evaluator.
func (r Report) Render(ctx context.Context, in detect.RenderInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "artifact: report")
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	pr := message.NewPrinter(language.English)
	m := in.Metrics.Rounded()

	filename := in.Filename
	if filename == "" {
		filename = "default boundary"
	}

	meta := []reportRow{
		{"Job", in.JobID},
		{"Boundary file", filename},
		{"Period", in.StartDate + " to " + in.EndDate},
		{"Elevation source", in.DEMSource},
		{"Generated", now().UTC().Format(time.RFC3339)},
	}
	figures := []reportRow{
		{"Illegal disturbed area", pr.Sprintf("%.2f m²", m.IllegalArea)},
		{"Legal disturbed area", pr.Sprintf("%.2f m²", m.LegalArea)},
		{"Total disturbed area", pr.Sprintf("%.2f m²", m.TotalArea)},
		{"Lid elevation (legal)", pr.Sprintf("%.2f m", m.LidElevation)},
		{"Average illegal depth", pr.Sprintf("%.2f m", m.AvgDepth)},
		{"Illegal excavated volume", pr.Sprintf("%.2f m³", m.IllegalVolume)},
		{"Legal excavated volume", pr.Sprintf("%.2f m³", m.LegalVolume)},
		{"Total excavated volume", pr.Sprintf("%.2f m³", m.TotalVolume)},
		{"Truckloads removed", pr.Sprintf("%d", m.Truckloads)},
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Mining compliance report "+in.JobID, true)
	pdf.SetCreator("mineguard", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Mining Compliance Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	table := func(title string, rows []reportRow) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetFillColor(230, 230, 230)
		pdf.CellFormat(0, 8, title, "1", 1, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		for _, row := range rows {
			pdf.CellFormat(80, 7, tr(row.label), "1", 0, "L", false, 0, "")
			pdf.CellFormat(0, 7, tr(row.value), "1", 1, "R", false, 0, "")
		}
		pdf.Ln(4)
	}
	table("Inspection", meta)
	table("Findings", figures)

	if m.IllegalArea > 0 {
		pdf.SetTextColor(200, 0, 0)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 7, "Excavation detected outside the lease boundary.", "", 1, "L", false, 0, "")
	} else {
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, "No excavation detected outside the lease boundary.", "", 1, "L", false, 0, "")
	}

	if err := pdf.OutputFileAndClose(filepath.Join(in.Dir, ReportFile)); err != nil {
		return "", eris.Wrap(err, "artifact: write report")
	}
	return ReportFile, nil
}
