package ui

import (
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/term"
)

var (
	unicodeOnce sync.Once
	unicodeOK   bool
)

// UnicodeTerminal reports whether stderr can render Unicode glyphs.
// Returns false when output is piped, TERM is "dumb", or on Windows
// outside Windows Terminal, where the legacy console fonts lack
// braille glyphs.
func UnicodeTerminal() bool {
	unicodeOnce.Do(func() {
		if os.Getenv("TERM") == "dumb" {
			return
		}
		if !term.IsTerminal(int(os.Stderr.Fd())) {
			return
		}
		if runtime.GOOS == "windows" {
			unicodeOK = os.Getenv("WT_SESSION") != ""
			return
		}
		unicodeOK = true
	})
	return unicodeOK
}

// Icon returns unicode when the terminal supports it, ascii otherwise.
func Icon(unicode, ascii string) string {
	if UnicodeTerminal() {
		return unicode
	}
	return ascii
}

// Spinner holds animation frames for the progress line.
type Spinner struct {
	Frames   []string
	Interval time.Duration
}

var (
	spinnerDots = Spinner{
		Frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		Interval: 80 * time.Millisecond,
	}
	spinnerLine = Spinner{
		Frames:   []string{"-", "\\", "|", "/"},
		Interval: 100 * time.Millisecond,
	}
)

// DefaultSpinner returns braille dots on Unicode terminals, the ASCII
// line spinner otherwise.
func DefaultSpinner() Spinner {
	if UnicodeTerminal() {
		return spinnerDots
	}
	return spinnerLine
}
