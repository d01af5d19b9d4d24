// Package ui renders scan output for terminals: severity badges,
// finding lines, the statistics block and the live progress line.
// Color handling is centralized here so every command respects
// NO_COLOR and piped output the same way.
package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Color palette shared with the HTML and PDF reports.
var (
	// Brand colors
	Primary   = lipgloss.Color("#7D56F4")
	Secondary = lipgloss.Color("#00D4AA")

	// Severity colors
	CriticalColor = lipgloss.Color("#FF0000")
	HighColor     = lipgloss.Color("#FF6B6B")
	MediumColor   = lipgloss.Color("#FFD93D")
	LowColor      = lipgloss.Color("#6BCB77")
	InfoColor     = lipgloss.Color("#4D96FF")

	// Status colors
	Success = lipgloss.Color("#00D26A")
	Warning = lipgloss.Color("#FFB800")
	Danger  = lipgloss.Color("#FF3838")
	Muted   = lipgloss.Color("#6B7280")
)

// Pre-configured styles.
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(Primary).
			Padding(0, 1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Italic(true)

	BannerStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	VersionStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	SectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Bold(true).
			MarginTop(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	StatLabelStyle = lipgloss.NewStyle().
			Foreground(Muted)

	StatValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Bold(true)

	BracketStyle = lipgloss.NewStyle().
			Foreground(Muted)

	URLStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Underline(true)

	ClassStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#3B3B4F")).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	FailStyle = lipgloss.NewStyle().
			Foreground(Danger).
			Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(Primary)
)

var (
	noColorMode bool
	uiMu        sync.RWMutex
)

func init() {
	// Honor NO_COLOR and CLICOLOR before the first style renders.
	if termenv.EnvNoColor() {
		SetNoColor(true)
	}
}

// SetNoColor disables colored output for every style in the package.
func SetNoColor(noColor bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	noColorMode = noColor
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsNoColor reports whether color is disabled.
func IsNoColor() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return noColorMode
}

// SeverityStyle returns the badge style for a severity level. Accepts
// the lowercase severity strings findings carry.
func SeverityStyle(severity string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch severity {
	case "critical":
		return base.Foreground(lipgloss.Color("#FFFFFF")).Background(CriticalColor)
	case "high":
		return base.Foreground(HighColor)
	case "medium":
		return base.Foreground(MediumColor)
	case "low":
		return base.Foreground(LowColor)
	case "info":
		return base.Foreground(InfoColor)
	default:
		return base.Foreground(Muted)
	}
}
