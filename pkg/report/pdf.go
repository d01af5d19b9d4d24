package report

import (
	"fmt"
	"io"

	gofpdf "github.com/go-pdf/fpdf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/strutil"
)

// pdfSeverityColors maps severities to their RGB badge colors.
var pdfSeverityColors = map[string][]int{
	"critical": {220, 38, 38},
	"high":     {234, 88, 12},
	"medium":   {217, 119, 6},
	"low":      {22, 163, 74},
	"info":     {37, 99, 235},
}

// PDFWriter renders a printable summary: run statistics, a severity
// breakdown, and one detail block per finding. Core fonts only, so
// payloads are kept short and non-Latin bytes may degrade; the JSON
// report stays the source of truth.
type PDFWriter struct {
	// Title overrides the report heading.
	Title string
}

func (pw *PDFWriter) Format() string { return "pdf" }

func (pw *PDFWriter) Write(out io.Writer, rep *Report) error {
	title := pw.Title
	if title == "" {
		title = "Vulnity Scan Report"
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(15, 23, 42)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(100, 116, 139)
	pdf.CellFormat(0, 6, fmt.Sprintf("%s %s  -  generated %s", rep.Tool, rep.Version,
		rep.GeneratedAt.Format("2006-01-02 15:04:05 MST")), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pw.addSummaryTable(pdf, rep)
	pw.addSeverityBreakdown(pdf, rep)
	pw.addFindings(pdf, rep)

	if err := pdf.Output(out); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

func (pw *PDFWriter) addSectionHeader(pdf *gofpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(30, 41, 59)
	pdf.CellFormat(0, 9, text, "", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func (pw *PDFWriter) addSummaryTable(pdf *gofpdf.Fpdf, rep *Report) {
	pw.addSectionHeader(pdf, "Scan Summary")

	stats := rep.Statistics
	rows := [][2]string{
		{"Target", stats.Target},
		{"Scan ID", stats.ScanID},
		{"Status", string(stats.Status)},
		{"Started", stats.StartedAt.Format("2006-01-02 15:04:05 MST")},
		{"Duration", stats.Elapsed.String()},
		{"URLs crawled", fmt.Sprintf("%d", stats.URLsCrawled)},
		{"Forms found", fmt.Sprintf("%d", stats.FormsFound)},
		{"Requests sent", fmt.Sprintf("%d", stats.RequestsSent)},
		{"Vulnerabilities", fmt.Sprintf("%d", stats.VulnerabilitiesFound)},
	}

	pdf.SetFont("Helvetica", "", 10)
	for _, row := range rows {
		pdf.SetTextColor(100, 116, 139)
		pdf.CellFormat(40, 7, row[0], "1", 0, "L", false, 0, "")
		pdf.SetTextColor(30, 41, 59)
		pdf.CellFormat(140, 7, row[1], "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(5)
}

func (pw *PDFWriter) addSeverityBreakdown(pdf *gofpdf.Fpdf, rep *Report) {
	counts := rep.SeverityCounts()
	if len(counts) == 0 {
		return
	}
	pw.addSectionHeader(pdf, "Findings by Severity")

	titleCase := cases.Title(language.English)
	pdf.SetFont("Helvetica", "B", 10)
	for _, c := range counts {
		color := pdfSeverityColors[string(c.Severity)]
		if color == nil {
			color = []int{128, 128, 128}
		}
		pdf.SetTextColor(color[0], color[1], color[2])
		pdf.CellFormat(40, 7, titleCase.String(string(c.Severity)), "1", 0, "L", false, 0, "")
		pdf.SetTextColor(30, 41, 59)
		pdf.CellFormat(30, 7, fmt.Sprintf("%d", c.Count), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(5)
}

func (pw *PDFWriter) addFindings(pdf *gofpdf.Fpdf, rep *Report) {
	if len(rep.Findings) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.SetTextColor(100, 116, 139)
		pdf.CellFormat(0, 8, "No vulnerabilities found.", "", 1, "L", false, 0, "")
		return
	}

	pw.addSectionHeader(pdf, "Findings")
	for i := range rep.Findings {
		pw.addFinding(pdf, i+1, &rep.Findings[i])
	}
}

func (pw *PDFWriter) addFinding(pdf *gofpdf.Fpdf, n int, f *finding.Finding) {
	color := pdfSeverityColors[string(f.Severity)]
	if color == nil {
		color = []int{128, 128, 128}
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetTextColor(color[0], color[1], color[2])
	pdf.CellFormat(0, 8, fmt.Sprintf("%d. [%s] %s", n, f.Severity, f.Title), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	rows := [][2]string{
		{"URL", f.URL},
		{"Parameter", f.Parameter},
		{"Method", f.Method},
		{"Strategy", string(f.Strategy)},
		{"Confidence", fmt.Sprintf("%.0f%%", f.Confidence*100)},
	}
	if f.CWE != "" {
		rows = append(rows, [2]string{"CWE", f.CWE})
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		pdf.SetTextColor(100, 116, 139)
		pdf.CellFormat(30, 6, row[0], "", 0, "L", false, 0, "")
		pdf.SetTextColor(30, 41, 59)
		pdf.MultiCell(0, 6, row[1], "", "L", false)
	}

	if f.Payload != "" {
		pdf.SetTextColor(100, 116, 139)
		pdf.CellFormat(30, 6, "Payload", "", 0, "L", false, 0, "")
		pdf.SetFont("Courier", "", 8)
		pdf.SetTextColor(30, 41, 59)
		pdf.MultiCell(0, 5, strutil.Truncate(f.Payload, 300), "", "L", false)
		pdf.SetFont("Helvetica", "", 9)
	}
	if f.Remediation != "" {
		pdf.SetTextColor(100, 116, 139)
		pdf.CellFormat(30, 6, "Remediation", "", 0, "L", false, 0, "")
		pdf.SetTextColor(30, 41, 59)
		pdf.MultiCell(0, 6, f.Remediation, "", "L", false)
	}
	pdf.Ln(4)
}

