package ui

import (
	"fmt"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
	"github.com/Rimaestro/vulnity-kp/pkg/strutil"
)

// FormatFinding renders one finding as a single line:
// [severity] [class] [strategy] url 'parameter'
func FormatFinding(f *finding.Finding, showPayload bool) string {
	var parts []string

	sev := SeverityStyle(string(f.Severity))
	parts = append(parts, BracketStyle.Render("[")+sev.Render(string(f.Severity))+BracketStyle.Render("]"))
	parts = append(parts, BracketStyle.Render("[")+ClassStyle.Render(string(f.Class))+BracketStyle.Render("]"))
	parts = append(parts, BracketStyle.Render("[")+StatLabelStyle.Render(string(f.Strategy))+BracketStyle.Render("]"))
	parts = append(parts, URLStyle.Render(f.URL))
	if f.Parameter != "" {
		parts = append(parts, StatValueStyle.Render("'"+f.Parameter+"'"))
	}

	line := strings.Join(parts, " ")
	if showPayload && f.Payload != "" {
		line += "\n      " + SubtitleStyle.Render("-> "+strutil.Truncate(f.Payload, 80))
	}
	return line
}

// FormatFindingDetail renders the full block for one finding.
func FormatFindingDetail(f *finding.Finding) string {
	var b strings.Builder

	b.WriteString(SeverityStyle(string(f.Severity)).Render(strings.ToUpper(string(f.Severity))))
	b.WriteString(" ")
	b.WriteString(StatValueStyle.Render(f.Title))
	b.WriteString("\n")

	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", LabelStyle.Render(label), ValueStyle.Render(value)))
	}
	row("URL:", f.URL)
	row("Parameter:", f.Parameter)
	row("Method:", f.Method)
	row("Strategy:", string(f.Strategy))
	row("Confidence:", fmt.Sprintf("%.0f%%", f.Confidence*100))
	row("Payload:", strutil.Truncate(f.Payload, 100))
	row("CWE:", f.CWE)
	row("Remediation:", f.Remediation)
	return b.String()
}

// FormatFindings renders the findings section. Findings come from the
// scan already sorted by severity.
func FormatFindings(findings []finding.Finding, verbose bool) string {
	if len(findings) == 0 {
		return SuccessStyle.Render(Icon("✔", "[+]") + " No vulnerabilities found")
	}

	var b strings.Builder
	b.WriteString(FailStyle.Render(fmt.Sprintf("%s %d vulnerabilities found", Icon("✘", "[!]"), len(findings))))
	b.WriteString("\n\n")
	for i := range findings {
		if verbose {
			b.WriteString(FormatFindingDetail(&findings[i]))
			b.WriteString("\n")
		} else {
			b.WriteString(FormatFinding(&findings[i], false))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

