// Package iohelper provides size-capped body reading for HTTP responses.
// Every response the engine analyzes flows through ReadBody so a
// misbehaving target cannot exhaust memory with an unbounded body.
package iohelper

import (
	"io"
	"log/slog"
)

// Body size caps for different consumers.
const (
	// SmallBodyLimit suits robots.txt, login pages, redirect bodies (8KB).
	SmallBodyLimit int64 = 8 * 1024

	// DefaultBodyLimit is the cap for pages under detection analysis (1MB).
	DefaultBodyLimit int64 = 1024 * 1024

	// CrawlBodyLimit bounds HTML parsed by the crawler (512KB); links
	// past this point in a page are not worth the memory.
	CrawlBodyLimit int64 = 512 * 1024
)

// ReadBody reads at most limit bytes from r. A nil reader yields an
// empty slice and no error.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	return io.ReadAll(io.LimitReader(r, limit))
}

// ReadBodyDefault reads with the DefaultBodyLimit cap.
func ReadBodyDefault(r io.Reader) ([]byte, error) {
	return ReadBody(r, DefaultBodyLimit)
}

// ReadAndClose reads the body with the given cap, then drains and
// closes the reader so the underlying connection can be reused.
// Read errors are logged, not returned; detection treats a short body
// the same as an empty one.
func ReadAndClose(rc io.ReadCloser, limit int64, logger *slog.Logger) []byte {
	if rc == nil {
		return nil
	}
	data, err := ReadBody(rc, limit)
	if err != nil && logger != nil {
		logger.Warn("body read failed", slog.String("error", err.Error()))
	}
	DrainAndClose(rc)
	return data
}

// DrainAndClose consumes any unread remainder (capped at 64KB) and
// closes rc. Safe on nil. Always returns nil so it can sit in a defer.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64*1024))
	rc.Close()
	return nil
}
