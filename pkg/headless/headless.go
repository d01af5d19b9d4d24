// Package headless confirms DOM cross-site scripting candidates by
// loading them in a real Chrome via chromedp and watching for the
// alert dialog the probe raises. The browser launches lazily on the
// first verification and is reused, one tab per call, until Close.
package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrNoBrowser means no Chrome or Chromium binary could be found.
// Callers treat it as a degrade signal, not a scan failure.
var ErrNoBrowser = errors.New("headless: no chrome or chromium binary found")

// Defaults applied by New when Config leaves them zero.
const (
	DefaultTimeout = 10 * time.Second
	DefaultSettle  = time.Second
)

// closeTimeout bounds the graceful browser shutdown before the process
// tree is killed. Chrome child processes can block cancel indefinitely.
const closeTimeout = 5 * time.Second

// Config tunes the verifier.
type Config struct {
	// ChromePath overrides browser discovery with an explicit binary.
	ChromePath string

	// Timeout bounds one verification navigation.
	Timeout time.Duration

	// Settle is how long a loaded page gets for its handlers to fire
	// before the verdict is read.
	Settle time.Duration
}

// Verifier drives the headless browser. Safe for sequential use; the
// XSS plugin holds one instance per scan and closes it in Cleanup.
type Verifier struct {
	cfg Config
	log *slog.Logger

	once    sync.Once
	initErr error

	mu            sync.Mutex
	closed        bool
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New returns a verifier that will launch the browser on first use.
// Construction never fails; a missing browser surfaces from Verify.
func New(cfg Config, log *slog.Logger) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{cfg: cfg, log: log}
}

// ensure launches the shared browser once. The outcome is sticky: a
// binary that is missing now will not appear mid-scan.
func (v *Verifier) ensure() error {
	v.once.Do(func() {
		path := v.cfg.ChromePath
		if path == "" {
			path = findChrome()
		}
		if path == "" {
			v.initErr = ErrNoBrowser
			return
		}

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(path),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		// Run with no actions starts the browser, so launch failures
		// surface here instead of inside the first navigation.
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			v.initErr = fmt.Errorf("headless: launch browser: %w", err)
			return
		}

		v.mu.Lock()
		v.allocCancel = allocCancel
		v.browserCtx = browserCtx
		v.browserCancel = browserCancel
		v.mu.Unlock()
		v.log.Debug("headless browser launched", slog.String("path", path))
	})
	return v.initErr
}

// Verify loads pageURL in a fresh tab and reports whether a JavaScript
// dialog carrying the marker opened. Dialogs are dismissed either way
// so the tab never wedges on an open alert.
func (v *Verifier) Verify(ctx context.Context, pageURL, marker string) (bool, error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return false, errors.New("headless: verifier closed")
	}
	if err := v.ensure(); err != nil {
		return false, err
	}
	v.mu.Lock()
	browserCtx := v.browserCtx
	v.mu.Unlock()

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, v.cfg.Timeout)
	defer cancelTimeout()

	// The tab context derives from the browser, not the caller, so
	// caller cancellation is relayed by hand.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-stop:
		}
	}()

	dialogs := make(chan string, 8)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		select {
		case dialogs <- e.Message:
		default:
		}
		// Dismiss from a separate goroutine; running actions inside
		// the listener would deadlock the event loop.
		go func() {
			_ = chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true))
		}()
	})

	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(v.cfg.Settle),
	)

	// A dialog caught before a navigation error still proves execution.
	if drainMatch(dialogs, marker) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("headless: navigate %s: %w", pageURL, err)
	}
	return false, nil
}

// drainMatch empties the dialog channel looking for the marker.
func drainMatch(dialogs <-chan string, marker string) bool {
	for {
		select {
		case msg := <-dialogs:
			if strings.Contains(msg, marker) {
				return true
			}
		default:
			return false
		}
	}
}

// Close shuts the browser down. Graceful cancel gets closeTimeout,
// then the process tree is killed. Safe to call more than once and
// before any Verify.
func (v *Verifier) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	if v.browserCancel == nil {
		return nil
	}

	proc := browserProcess(v.browserCtx)
	done := make(chan struct{})
	browserCancel, allocCancel := v.browserCancel, v.allocCancel
	go func() {
		browserCancel()
		if allocCancel != nil {
			allocCancel()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		v.log.Warn("browser shutdown timed out, killing process tree")
		killProcessTree(proc)
	}
	v.browserCancel, v.allocCancel = nil, nil
	return nil
}
