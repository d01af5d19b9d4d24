package headless

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/chromedp/chromedp"
)

// chromeNames are binary names probed on PATH, most common first.
var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
}

// chromePaths are well-known install locations checked when PATH
// discovery finds nothing.
var chromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// findChrome locates a Chrome or Chromium binary, or returns "".
func findChrome() string {
	for _, name := range chromeNames {
		if path, err := exec.LookPath(name); err == nil && path != "" {
			return path
		}
	}
	for _, path := range chromePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// browserProcess digs the Chrome process out of a chromedp context.
// Must run before the context is cancelled; afterwards the reference
// may already be gone.
func browserProcess(ctx context.Context) *os.Process {
	if ctx == nil {
		return nil
	}
	if c := chromedp.FromContext(ctx); c != nil && c.Browser != nil {
		return c.Browser.Process()
	}
	return nil
}

// killProcessTree kills the browser and all its children. A bare
// proc.Kill only takes the parent: on Windows the GPU and renderer
// children survive, and on Unix they get reparented to PID 1.
func killProcessTree(proc *os.Process) {
	if proc == nil {
		return
	}
	if runtime.GOOS == "windows" {
		// taskkill /F = force, /T = tree
		_ = exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(proc.Pid)).Run()
		return
	}
	// chromedp launches Chrome with Setpgid, so the group ID equals the
	// parent PID and a negative PID targets the whole group.
	if err := exec.Command("kill", "-9", "--", "-"+strconv.Itoa(proc.Pid)).Run(); err != nil {
		_ = proc.Kill()
	}
}
