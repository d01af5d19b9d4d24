// Package evasion mutates payloads so they survive naive filtering in
// front of the target. Tampers compose into chains and are selected by
// name from scan options; custom tampers can be written as Tengo
// scripts.
//
// A tamper must keep the payload functional for its backend. The URL
// encoders here deliberately leave SQL metacharacters raw for exactly
// that reason.
package evasion

import (
	"fmt"
	"strings"
)

// Tamper transforms one payload value.
type Tamper interface {
	// Name is the identifier used in scan options.
	Name() string
	// Apply returns the transformed payload.
	Apply(payload string) (string, error)
}

// Registration happens in init functions; the registry is read-only
// afterwards.
var (
	registry = make(map[string]Tamper)
	order    []string
)

// Register adds a tamper under its lowercased name. A duplicate name
// replaces the earlier entry without disturbing listing order.
func Register(t Tamper) {
	key := strings.ToLower(t.Name())
	if _, exists := registry[key]; !exists {
		order = append(order, key)
	}
	registry[key] = t
}

// Get returns the named tamper.
func Get(name string) (Tamper, bool) {
	t, ok := registry[strings.ToLower(name)]
	return t, ok
}

// List returns all tamper names in registration order.
func List() []string {
	return append([]string(nil), order...)
}

// chain applies tampers in sequence.
type chain struct {
	name    string
	tampers []Tamper
}

func (c *chain) Name() string { return c.name }

func (c *chain) Apply(payload string) (string, error) {
	out := payload
	var err error
	for _, t := range c.tampers {
		out, err = t.Apply(out)
		if err != nil {
			return "", fmt.Errorf("evasion: tamper %s: %w", t.Name(), err)
		}
	}
	return out, nil
}

// Chain builds a tamper that applies the named tampers in order.
// Unknown names are an error so a typo in a profile fails loudly at
// setup instead of silently weakening the scan.
func Chain(names ...string) (Tamper, error) {
	tampers := make([]Tamper, 0, len(names))
	for _, name := range names {
		t, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("evasion: unknown tamper %q", name)
		}
		tampers = append(tampers, t)
	}
	return &chain{name: strings.Join(names, "+"), tampers: tampers}, nil
}
