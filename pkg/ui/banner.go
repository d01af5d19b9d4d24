package ui

import (
	"fmt"
	"io"
	"strings"
)

// Version information. Overridable at build time:
// go build -ldflags "-X github.com/Rimaestro/vulnity-kp/pkg/ui.Version=1.0.0"
var (
	Version   = "dev"
	BuildDate = ""
	Commit    = ""
)

// UserAgent returns the standard User-Agent for outgoing requests.
func UserAgent() string {
	return fmt.Sprintf("vulnity/%s", Version)
}

const bannerArt = `
            __      _ __
 _  ______ / /___  (_) /___  __
| | / / / / / __ \/ / __/ / / /
| |/ / /_/ / / / / / /_/ /_/ /
|___/\__,_/_/ /_/_/\__/\__, /
                      /____/
`

// Banner returns the startup banner with version badge.
func Banner() string {
	var b strings.Builder
	b.WriteString(BannerStyle.Render(strings.Trim(bannerArt, "\n")))
	b.WriteString("\n\n")
	b.WriteString(SubtitleStyle.Render("web vulnerability scanner"))
	b.WriteString("  ")
	b.WriteString(VersionStyle.Render("v" + Version))
	if Commit != "" {
		b.WriteString(SubtitleStyle.Render(" (" + Commit + ")"))
	}
	b.WriteString("\n")
	return b.String()
}

// PrintBanner writes the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprintln(w, Banner())
}
