package payloads

import (
	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

// Catalog is the assembled probe set one scanner instance works from.
// Build it once per scan; the filter methods return shared slices that
// must not be mutated.
type Catalog struct {
	entries []Payload
}

// CatalogConfig sizes the generated probe families.
type CatalogConfig struct {
	UnionColumns int
	SleepSeconds int
}

// NewCatalog assembles the full catalog. NewCatalog(CatalogConfig{})
// uses the default union width and delay.
func NewCatalog(cfg CatalogConfig) *Catalog {
	if cfg.UnionColumns <= 0 {
		cfg.UnionColumns = DefaultUnionColumns
	}
	if cfg.SleepSeconds <= 0 {
		cfg.SleepSeconds = DefaultSleepSeconds
	}

	var entries []Payload
	entries = append(entries, SQLiErrorProbes()...)
	entries = append(entries, UnionProbes(cfg.UnionColumns)...)
	entries = append(entries, TimeProbes(cfg.SleepSeconds)...)
	entries = append(entries, XSSReflectedProbes()...)
	entries = append(entries, XSSDOMProbes()...)
	entries = append(entries, XSSStoredProbes()...)
	return &Catalog{entries: entries}
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int { return len(c.entries) }

// All returns every entry in catalog order.
func (c *Catalog) All() []Payload { return c.entries }

// ForClass returns entries of one vulnerability class.
func (c *Catalog) ForClass(class finding.Class) []Payload {
	return c.filter(func(p Payload) bool { return p.Class == class })
}

// ForStrategy returns entries of one detection strategy.
func (c *Catalog) ForStrategy(strategy finding.Strategy) []Payload {
	return c.filter(func(p Payload) bool { return p.Strategy == strategy })
}

// ForDialect returns entries targeting one database family, including
// the generic entries that apply everywhere.
func (c *Catalog) ForDialect(dialect Dialect) []Payload {
	return c.filter(func(p Payload) bool {
		if p.Dialect == "" {
			return false
		}
		return p.Dialect == dialect || p.Dialect == DialectGeneric
	})
}

// ForContext returns XSS entries for one markup context.
func (c *Catalog) ForContext(context Context) []Payload {
	return c.filter(func(p Payload) bool { return p.Context == context })
}

func (c *Catalog) filter(keep func(Payload) bool) []Payload {
	var out []Payload
	for _, p := range c.entries {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
