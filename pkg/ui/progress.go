package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/scan"
	"github.com/Rimaestro/vulnity-kp/pkg/strutil"
)

// ProgressLine renders one live status line. frame is the current
// spinner frame; pass an empty string for plain output.
func ProgressLine(stats scan.Statistics, frame string) string {
	var b strings.Builder
	if frame != "" {
		b.WriteString(SpinnerStyle.Render(frame))
		b.WriteString(" ")
	}
	b.WriteString(StatValueStyle.Render(stats.Phase))
	if stats.CurrentURL != "" {
		b.WriteString(" ")
		b.WriteString(SubtitleStyle.Render(strutil.Truncate(stats.CurrentURL, 48)))
	}
	b.WriteString(StatLabelStyle.Render(fmt.Sprintf("  [%d urls, %d forms, %d req]",
		stats.URLsCrawled, stats.FormsFound, stats.RequestsSent)))
	if stats.VulnerabilitiesFound > 0 {
		b.WriteString(" ")
		b.WriteString(FailStyle.Render(fmt.Sprintf("%d vuln", stats.VulnerabilitiesFound)))
	}
	return b.String()
}

// FormatStatistics renders the end-of-scan summary block.
func FormatStatistics(stats scan.Statistics) string {
	var b strings.Builder
	b.WriteString(SectionStyle.Render("Scan Statistics"))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(fmt.Sprintf("  %s %s\n", LabelStyle.Render(label), ValueStyle.Render(value)))
	}
	row("Target:", stats.Target)
	row("Status:", string(stats.Status))
	row("Duration:", stats.Elapsed.Round(time.Millisecond).String())
	row("URLs crawled:", fmt.Sprintf("%d", stats.URLsCrawled))
	row("Forms found:", fmt.Sprintf("%d", stats.FormsFound))
	row("Requests sent:", fmt.Sprintf("%d", stats.RequestsSent))
	row("Vulnerabilities:", fmt.Sprintf("%d", stats.VulnerabilitiesFound))
	for name, count := range stats.PluginsExecuted {
		row("  "+name+":", fmt.Sprintf("%d finding(s)", count))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Live repaints the progress line on a ticker until stopped. Render
// targets an interactive stderr; pipe detection is the caller's job.
type Live struct {
	w     io.Writer
	fetch func() scan.Statistics

	mu       sync.Mutex
	done     chan struct{}
	finished chan struct{}
	running  bool
}

// NewLive returns a live progress renderer polling fetch for fresh
// statistics.
func NewLive(w io.Writer, fetch func() scan.Statistics) *Live {
	return &Live{w: w, fetch: fetch}
}

// Start begins repainting. Safe to call once per Live.
func (l *Live) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.done = make(chan struct{})
	l.finished = make(chan struct{})

	go func(done, finished chan struct{}) {
		defer close(finished)
		spinner := DefaultSpinner()
		ticker := time.NewTicker(spinner.Interval)
		defer ticker.Stop()
		frame := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				line := ProgressLine(l.fetch(), spinner.Frames[frame%len(spinner.Frames)])
				fmt.Fprintf(l.w, "\r\033[K%s", line)
				frame++
			}
		}
	}(l.done, l.finished)
}

// Stop halts repainting and clears the line. Returns after the
// repaint goroutine has exited, so the writer is quiet.
func (l *Live) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	close(l.done)
	<-l.finished
	fmt.Fprint(l.w, "\r\033[K")
}
