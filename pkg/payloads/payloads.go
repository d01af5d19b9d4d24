// Package payloads holds the static attack catalog: SQL injection and
// cross-site scripting probes tagged with the detection strategy they
// serve, the dialect or markup context they target, and the metadata
// findings carry (risk, CWE).
//
// Values are templates. Time probes embed the SleepSlot placeholder and
// XSS probes embed the MarkerSlot placeholder; strategies substitute
// both per request so every probe is attributable to one injection.
package payloads

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

// Dialect identifies the database family a probe targets.
type Dialect string

const (
	DialectMySQL      Dialect = "mysql"
	DialectPostgreSQL Dialect = "postgresql"
	DialectMSSQL      Dialect = "mssql"
	DialectOracle     Dialect = "oracle"
	DialectSQLite     Dialect = "sqlite"
	DialectGeneric    Dialect = "generic"
)

// Dialects lists every database family with dialect-specific probes.
func Dialects() []Dialect {
	return []Dialect{
		DialectMySQL,
		DialectPostgreSQL,
		DialectMSSQL,
		DialectOracle,
		DialectSQLite,
		DialectGeneric,
	}
}

// Context identifies where in the page an XSS probe expects to land.
type Context string

const (
	ContextHTML       Context = "html"
	ContextAttribute  Context = "attribute"
	ContextJavaScript Context = "javascript"
	ContextURL        Context = "url"
)

// Template slots substituted before a probe is sent.
const (
	// MarkerSlot is replaced with a unique marker so reflected output
	// can be attributed to exactly one request.
	MarkerSlot = "%MARKER%"

	// SleepSlot is replaced with the configured delay in seconds.
	SleepSlot = "%SLEEP%"
)

// CWE identifiers attached to findings.
const (
	CWESQLi = "CWE-89"
	CWEXSS  = "CWE-79"
)

// Payload is one catalog entry.
type Payload struct {
	Name        string           `json:"name"`
	Value       string           `json:"value"`
	Class       finding.Class    `json:"class"`
	Strategy    finding.Strategy `json:"strategy"`
	Risk        finding.Severity `json:"risk"`
	Description string           `json:"description,omitempty"`
	CWE         string           `json:"cwe"`

	// Dialect is set on SQLi probes, DialectGeneric when any backend
	// may trip on the probe.
	Dialect Dialect `json:"dialect,omitempty"`

	// Context is set on XSS probes.
	Context Context `json:"context,omitempty"`

	// SleepSeconds is the delay a time probe asks the database for,
	// filled when SleepSlot is substituted.
	SleepSeconds int `json:"sleep_seconds,omitempty"`
}

// WithMarker returns a copy with MarkerSlot substituted.
func (p Payload) WithMarker(marker string) Payload {
	p.Value = strings.ReplaceAll(p.Value, MarkerSlot, marker)
	return p
}

// WithSleep returns a copy with SleepSlot substituted.
func (p Payload) WithSleep(seconds int) Payload {
	p.Value = strings.ReplaceAll(p.Value, SleepSlot, strconv.Itoa(seconds))
	p.SleepSeconds = seconds
	return p
}

// NewMarker returns a fresh reflection marker, "vkln" plus eight hex
// digits. The prefix never appears in normal page content, so a marker
// found in a response ties it to the probe that carried it.
func NewMarker() string {
	return fmt.Sprintf("vkln%08x", rand.Uint32())
}
