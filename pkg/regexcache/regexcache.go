// Package regexcache caches compiled regular expressions process-wide.
// The detection strategies match dozens of dialect error patterns against
// every probe response; compiling them once and sharing the compiled
// form keeps the hot path allocation-free.
package regexcache

import (
	"regexp"
	"sync"
)

var (
	mu       sync.RWMutex
	compiled = make(map[string]*regexp.Regexp)
)

// Get returns the compiled form of pattern, compiling and caching it
// on first use. Invalid patterns return the compilation error.
func Get(pattern string) (*regexp.Regexp, error) {
	mu.RLock()
	re, ok := compiled[pattern]
	mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	// Another goroutine may have compiled it between the locks; the
	// duplicate compile is harmless, keep one canonical entry.
	if prior, ok := compiled[pattern]; ok {
		re = prior
	} else {
		compiled[pattern] = re
	}
	mu.Unlock()
	return re, nil
}

// MustGet is Get but panics on an invalid pattern. Use for the static
// pattern tables that are validated by tests.
func MustGet(pattern string) *regexp.Regexp {
	re, err := Get(pattern)
	if err != nil {
		panic(err)
	}
	return re
}

// MustGetAll compiles every pattern, panicking on the first invalid one.
// Intended for building []*regexp.Regexp tables at package init.
func MustGetAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = MustGet(p)
	}
	return out
}

// Len returns the number of cached expressions.
func Len() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(compiled)
}

// Reset drops every cached expression. Only tests need this.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	compiled = make(map[string]*regexp.Regexp)
}
