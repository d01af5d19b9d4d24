package main

import (
	"flag"
	"path/filepath"
	"strings"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/config"
)

// cliFlags holds every command line option. Flags set explicitly
// override the profile; unset flags leave profile values alone, which
// is why the merge walks flag.Visit instead of copying everything.
type cliFlags struct {
	target       string
	types        string
	profilePath  string
	output       string
	format       string
	threshold    float64
	evasion      string
	concurrency  int
	aggressive   bool
	headless     bool
	rps          int
	timeout      time.Duration
	depth        int
	maxURLs      int
	noCrawl      bool
	ignoreRobots bool
	allowPrivate bool
	dialect      string
	unionColumns int
	metricsAddr  string
	otlpEndpoint string
	silent       bool
	verbose      bool
	noColor      bool
	version      bool
	listPlugins  bool
}

func (f *cliFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.target, "u", "", "target URL to scan")
	fs.StringVar(&f.target, "target", "", "target URL to scan (alias for -u)")
	fs.StringVar(&f.types, "types", "", "comma-separated scan types (default: all registered)")
	fs.StringVar(&f.profilePath, "profile", "", "YAML scan profile")
	fs.StringVar(&f.output, "o", "", "report output file")
	fs.StringVar(&f.format, "format", "", "report format for -o: json, ndjson, html, pdf (default: by extension)")
	fs.Float64Var(&f.threshold, "threshold", 0, "minimum confidence for findings (0..1, 0 = plugin default)")
	fs.StringVar(&f.evasion, "evasion", "", "comma-separated tamper names applied to payloads")
	fs.IntVar(&f.concurrency, "concurrency", 0, "parameter fan-out per plugin")
	fs.BoolVar(&f.aggressive, "aggressive", true, "enable time-based probes")
	fs.BoolVar(&f.headless, "headless", false, "verify DOM XSS findings in a headless browser")
	fs.IntVar(&f.rps, "rps", 0, "global request budget, requests per second")
	fs.DurationVar(&f.timeout, "timeout", 0, "overall scan deadline (partial results are kept)")
	fs.IntVar(&f.depth, "depth", 0, "crawl depth")
	fs.IntVar(&f.maxURLs, "max-urls", 0, "crawl page budget")
	fs.BoolVar(&f.noCrawl, "no-crawl", false, "skip crawling, scan the seed URL only")
	fs.BoolVar(&f.ignoreRobots, "ignore-robots", false, "crawl past robots.txt")
	fs.BoolVar(&f.allowPrivate, "allow-private", false, "permit loopback and private-range targets")
	fs.StringVar(&f.dialect, "dialect", "", "SQL dialect hint: mysql, postgresql, mssql, oracle, sqlite")
	fs.IntVar(&f.unionColumns, "union-columns", 0, "maximum UNION column count to probe")
	fs.StringVar(&f.metricsAddr, "metrics", "", "Prometheus scrape address (e.g. 127.0.0.1:9090)")
	fs.StringVar(&f.otlpEndpoint, "otlp", "", "OTLP gRPC collector endpoint for traces")
	fs.BoolVar(&f.silent, "silent", false, "print findings only")
	fs.BoolVar(&f.verbose, "v", false, "debug logging and finding details")
	fs.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	fs.BoolVar(&f.listPlugins, "plugins", false, "list registered scan types and exit")
}

// applyToProfile overlays explicitly-set flags onto the profile.
func (f *cliFlags) applyToProfile(fs *flag.FlagSet, prof *config.Profile) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "u", "target":
			prof.Target = f.target
		case "types":
			prof.Types = splitList(f.types)
		case "threshold":
			prof.Threshold = f.threshold
		case "evasion":
			prof.Evasion = splitList(f.evasion)
		case "concurrency":
			prof.Concurrency = f.concurrency
		case "aggressive":
			v := f.aggressive
			prof.Aggressive = &v
		case "headless":
			prof.HeadlessVerify = f.headless
		case "rps":
			prof.RequestsPerSecond = f.rps
		case "timeout":
			prof.Timeout = f.timeout.String()
		case "depth":
			prof.Crawl.MaxDepth = f.depth
		case "max-urls":
			prof.Crawl.MaxURLs = f.maxURLs
		case "no-crawl":
			prof.Crawl.Disabled = f.noCrawl
		case "ignore-robots":
			prof.Crawl.IgnoreRobots = f.ignoreRobots
		case "allow-private":
			prof.Scope.AllowPrivate = f.allowPrivate
		case "dialect":
			prof.SQLi.Dialect = f.dialect
		case "union-columns":
			prof.SQLi.UnionColumns = f.unionColumns
		case "metrics":
			prof.MetricsAddr = f.metricsAddr
		case "otlp":
			prof.OTLPEndpoint = f.otlpEndpoint
		}
	})
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// formatFromPath guesses the report format from the file extension.
func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		return "ndjson"
	case ".html", ".htm":
		return "html"
	case ".pdf":
		return "pdf"
	default:
		return "json"
	}
}
