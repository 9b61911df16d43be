package report

import (
	"fmt"
	"io"
	"time"

	"HouseholdTelemetryAPI/internal/models"

	"github.com/jung-kurt/gofpdf"
)

type column struct {
	title string
	width float64
}

var alertColumns = []column{
	{"Created", 34},
	{"Severity", 20},
	{"Metric", 30},
	{"Value", 20},
	{"Threshold", 20},
	{"State", 26},
	{"Resolved by", 30},
}

// AlertReport renders alert history as a PDF table.
type AlertReport struct {
	Title       string
	GeneratedAt time.Time
	Filter      models.AlertFilter
	Alerts      []models.Alert
}

func (r AlertReport) Write(w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(r.Title, true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, r.Title, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, "Generated "+r.GeneratedAt.Format(time.RFC1123), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, describeFilter(r.Filter), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, summarize(r.Alerts), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	writeHeader(pdf)
	pdf.SetFont("Helvetica", "", 8)
	for i, a := range r.Alerts {
		fill := i%2 == 1
		pdf.SetFillColor(240, 240, 240)
		cells := []string{
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			string(a.Severity),
			a.Metric,
			fmt.Sprintf("%.2f", a.Value),
			fmt.Sprintf("%.2f", a.Threshold),
			string(a.State),
			a.ResolvedBy,
		}
		for j, text := range cells {
			pdf.CellFormat(alertColumns[j].width, 6, text, "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(r.Alerts) == 0 {
		pdf.CellFormat(0, 8, "No alerts match the filter.", "", 1, "L", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render alert report: %w", err)
	}
	return nil
}

func writeHeader(pdf *gofpdf.Fpdf) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(50, 70, 110)
	pdf.SetTextColor(255, 255, 255)
	for _, col := range alertColumns {
		pdf.CellFormat(col.width, 7, col.title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
}

func describeFilter(f models.AlertFilter) string {
	desc := "Filter:"
	if f.Severity == "" && f.State == "" && f.From.IsZero() && f.To.IsZero() {
		return desc + " none"
	}
	if f.Severity != "" {
		desc += " severity=" + string(f.Severity)
	}
	if f.State != "" {
		desc += " state=" + string(f.State)
	}
	if !f.From.IsZero() {
		desc += " from=" + f.From.Format(time.RFC3339)
	}
	if !f.To.IsZero() {
		desc += " to=" + f.To.Format(time.RFC3339)
	}
	return desc
}

func summarize(alerts []models.Alert) string {
	counts := map[models.Severity]int{}
	for _, a := range alerts {
		counts[a.Severity]++
	}
	return fmt.Sprintf("Total: %d  critical: %d  error: %d  warning: %d",
		len(alerts),
		counts[models.SeverityCritical],
		counts[models.SeverityError],
		counts[models.SeverityWarning],
	)
}
