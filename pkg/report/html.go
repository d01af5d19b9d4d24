package report

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/Masterminds/sprig/v3"
)

//go:embed template.html
var htmlTemplate string

// HTMLWriter renders a self-contained HTML report. Everything inlines
// into one file so it survives being mailed around.
type HTMLWriter struct {
	// Title overrides the report heading.
	Title string
}

func (hw *HTMLWriter) Format() string { return "html" }

func (hw *HTMLWriter) Write(out io.Writer, rep *Report) error {
	funcs := sprig.HtmlFuncMap()
	funcs["severityClass"] = severityClass
	funcs["cweLink"] = cweLink

	tmpl, err := template.New("report").Funcs(funcs).Parse(htmlTemplate)
	if err != nil {
		return fmt.Errorf("parse report template: %w", err)
	}

	title := hw.Title
	if title == "" {
		title = "Vulnity Scan Report"
	}
	data := struct {
		Title  string
		Report *Report
	}{title, rep}
	if err := tmpl.Execute(out, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// severityClass maps a severity to its badge CSS class.
func severityClass(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "sev-critical"
	case "high":
		return "sev-high"
	case "medium":
		return "sev-medium"
	case "low":
		return "sev-low"
	default:
		return "sev-info"
	}
}

// cweLink turns a "CWE-89" style identifier into the MITRE page URL.
func cweLink(cwe string) string {
	id := strings.TrimPrefix(strings.ToUpper(cwe), "CWE-")
	return fmt.Sprintf("https://cwe.mitre.org/data/definitions/%s.html", id)
}
