// Package crawler discovers the scannable surface of a target: its
// in-scope URLs, HTML forms and per-URL query parameters. Crawling is
// breadth-first by depth level, honors robots.txt wildcard rules and
// stays inside the seed's registrable domain.
package crawler

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/scope"
	"github.com/Rimaestro/vulnity-kp/pkg/workerpool"
)

// Form is an HTML form found during the crawl. Fields holds the named
// inputs with their default values; submit/button/reset/image/file
// inputs are excluded because they carry no injectable data.
type Form struct {
	Action string     `json:"action"`
	Method string     `json:"method"`
	Fields url.Values `json:"fields,omitempty"`
}

// Page records one fetched URL.
type Page struct {
	URL         string `json:"url"`
	Depth       int    `json:"depth"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Fingerprint uint32 `json:"fingerprint,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// Result is the output of one crawl: every kept URL in discovery order,
// the forms found, and the pages actually fetched.
type Result struct {
	Seed  string   `json:"seed"`
	URLs  []string `json:"urls"`
	Forms []Form   `json:"forms,omitempty"`
	Pages []Page   `json:"pages,omitempty"`
}

// Surface maps each discovered URL to its query parameter names in
// sorted order. URLs without parameters are omitted.
func (r *Result) Surface() map[string][]string {
	out := make(map[string][]string)
	for _, raw := range r.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if names := scope.SortParams(u); len(names) > 0 {
			out[raw] = names
		}
	}
	return out
}

// Config holds crawl limits and filters. Zero numeric fields fall back
// to DefaultConfig values.
type Config struct {
	MaxDepth     int  `json:"max_depth"`
	MaxURLs      int  `json:"max_urls"`
	Concurrency  int  `json:"concurrency"`
	IgnoreRobots bool `json:"ignore_robots"`

	// Overrides for the built-in static-asset and directory filters.
	IgnoredExtensions []string `json:"ignored_extensions,omitempty"`
	IgnoredDirs       []string `json:"ignored_dirs,omitempty"`

	// OnPage is invoked for every fetched page, duplicates included.
	OnPage func(Page) `json:"-"`
}

// DefaultConfig returns the standard crawl limits.
func DefaultConfig() Config {
	return Config{
		MaxDepth:    3,
		MaxURLs:     100,
		Concurrency: 8,
	}
}

var defaultIgnoredExtensions = []string{
	"jpg", "jpeg", "png", "gif", "bmp", "ico", "svg", "webp",
	"css", "less", "scss", "sass",
	"js", "map", "json", "xml", "woff", "woff2", "ttf", "eot",
	"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
	"zip", "rar", "tar", "gz", "7z",
	"mp3", "mp4", "avi", "mov", "wmv", "flv", "ogg", "webm",
	"exe", "dll", "bin", "dat", "dmg", "iso",
	"jar", "war", "ear",
	"swf", "torrent",
}

var defaultIgnoredDirs = []string{
	"__MACOSX",
	".git", ".svn", ".hg", ".bzr", ".idea", ".vscode",
	"node_modules", "bower_components", "vendor",
	"logs", "log", "temp", "tmp",
	"cache", "caches",
}

// Crawler walks a target site through a request executor. One Crawler
// serves one scan; Crawl may be called once per seed.
type Crawler struct {
	cfg  Config
	exec *executor.Executor
	log  *slog.Logger
	exts map[string]bool
	dirs map[string]bool
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithLogger sets the crawl logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Crawler) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a Crawler that fetches through exec.
func New(exec *executor.Executor, cfg Config, opts ...Option) *Crawler {
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = def.MaxURLs
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	exts := cfg.IgnoredExtensions
	if len(exts) == 0 {
		exts = defaultIgnoredExtensions
	}
	dirs := cfg.IgnoredDirs
	if len(dirs) == 0 {
		dirs = defaultIgnoredDirs
	}
	c := &Crawler{
		cfg:  cfg,
		exec: exec,
		log:  slog.Default(),
		exts: make(map[string]bool, len(exts)),
		dirs: make(map[string]bool, len(dirs)),
	}
	for _, e := range exts {
		c.exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	for _, d := range dirs {
		c.dirs[strings.ToLower(d)] = true
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// crawlRun holds the mutable state of one Crawl call.
type crawlRun struct {
	c      *Crawler
	seed   *url.URL
	robots *robotsRules

	mu      sync.Mutex
	visited map[string]bool
	known   map[string]bool
	prints  map[uint32]bool
	formKey map[string]bool
	urls    []string
	forms   []Form
	pages   []Page
}

// Crawl walks the site starting at seedURL and returns the discovered
// surface. Unreachable pages are skipped, not fatal; only a malformed
// or out-of-scheme seed fails the call. Cancelling ctx stops the walk
// and returns what was found so far.
func (c *Crawler) Crawl(ctx context.Context, seedURL string) (*Result, error) {
	normalized, err := scope.Normalize(seedURL)
	if err != nil {
		return nil, err
	}
	seed, err := url.Parse(normalized)
	if err != nil {
		return nil, err
	}

	run := &crawlRun{
		c:       c,
		seed:    seed,
		visited: make(map[string]bool),
		known:   make(map[string]bool),
		prints:  make(map[uint32]bool),
		formKey: make(map[string]bool),
	}
	if !c.cfg.IgnoreRobots {
		run.robots = run.fetchRobots(ctx)
	}

	var level []string
	if run.admit(normalized) {
		run.visited[normalized] = true
		level = append(level, normalized)
	} else {
		c.log.Warn("seed URL filtered before crawl", slog.String("url", normalized))
	}
	fetched := 0

	pool := workerpool.New(c.cfg.Concurrency)
	defer pool.Close()

	for depth := 0; depth <= c.cfg.MaxDepth && len(level) > 0; depth++ {
		if remaining := c.cfg.MaxURLs - fetched; len(level) > remaining {
			level = level[:remaining]
		}
		c.log.Debug("crawling depth level",
			slog.Int("depth", depth),
			slog.Int("urls", len(level)),
			slog.Int("fetched", fetched))

		found := make([][]string, len(level))
		pool.ForEach(ctx, len(level), func(i int) {
			found[i] = run.visit(ctx, level[i], depth)
		})
		fetched += len(level)
		if ctx.Err() != nil || fetched >= c.cfg.MaxURLs {
			break
		}

		var next []string
		for _, links := range found {
			for _, link := range links {
				norm, err := scope.Normalize(link)
				if err != nil {
					continue
				}
				if !run.admit(norm) {
					continue
				}
				if run.claim(norm) {
					next = append(next, norm)
				}
			}
		}
		level = next
	}

	res := &Result{
		Seed:  normalized,
		URLs:  run.urls,
		Forms: run.forms,
		Pages: run.pages,
	}
	c.log.Info("crawl finished",
		slog.String("seed", normalized),
		slog.Int("urls", len(res.URLs)),
		slog.Int("forms", len(res.Forms)),
		slog.Int("pages", len(res.Pages)))
	return res, nil
}

func (r *crawlRun) fetchRobots(ctx context.Context) *robotsRules {
	robotsURL := r.seed.Scheme + "://" + r.seed.Host + "/robots.txt"
	res := r.c.exec.Send(ctx, executor.NewGet(robotsURL))
	if !res.OK() || res.StatusCode != 200 || res.Body == "" {
		return nil
	}
	rules := parseRobots(res.Body)
	r.c.log.Debug("robots.txt rules loaded", slog.Int("disallow", len(rules.disallow)))
	return rules
}

// visit fetches one page and returns the crawl candidates it links to.
// Fetch failures and non-HTML bodies yield no candidates.
func (r *crawlRun) visit(ctx context.Context, pageURL string, depth int) []string {
	res := r.c.exec.Send(ctx, executor.NewGet(pageURL))
	if !res.OK() {
		r.c.log.Debug("page not crawlable",
			slog.String("url", pageURL),
			slog.String("outcome", string(res.Outcome)),
			slog.Any("err", res.Err))
		return nil
	}

	page := Page{
		URL:         pageURL,
		Depth:       depth,
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
	}
	ct := strings.ToLower(page.ContentType)
	if res.Body == "" ||
		(!strings.Contains(ct, "text/html") && !strings.Contains(ct, "application/xhtml+xml")) {
		r.record(page)
		return nil
	}

	page.Fingerprint = murmur3.Sum32([]byte(res.Body))
	if r.duplicatePrint(page.Fingerprint) {
		page.Duplicate = true
		r.record(page)
		return nil
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		r.record(page)
		return nil
	}
	links, forms, title := parsePage(res.Body, base)
	page.Title = title
	r.record(page)

	for _, f := range forms {
		r.addForm(f)
		links = append(links, f.Action)
	}
	return links
}

func (r *crawlRun) record(page Page) {
	r.mu.Lock()
	r.pages = append(r.pages, page)
	r.mu.Unlock()
	if r.c.cfg.OnPage != nil {
		r.c.cfg.OnPage(page)
	}
}

func (r *crawlRun) duplicatePrint(sum uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prints[sum] {
		return true
	}
	r.prints[sum] = true
	return false
}

func (r *crawlRun) addForm(f Form) {
	var names []string
	for name := range f.Fields {
		names = append(names, name)
	}
	key := f.Method + " " + f.Action + " " + strings.Join(names, ",")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.formKey[key] {
		return
	}
	r.formKey[key] = true
	r.forms = append(r.forms, f)
}

// admit records a URL in the result set if it passes the scope and
// filter rules. It reports whether the URL is in scope at all, so a
// caller can decide to queue it.
func (r *crawlRun) admit(rawURL string) bool {
	if !r.inScope(rawURL) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known[rawURL] {
		r.known[rawURL] = true
		r.urls = append(r.urls, rawURL)
	}
	return true
}

// claim marks a URL as scheduled for fetching. It reports false when
// some earlier level already claimed it.
func (r *crawlRun) claim(rawURL string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visited[rawURL] {
		return false
	}
	r.visited[rawURL] = true
	return true
}

func (r *crawlRun) inScope(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !scope.SameSite(r.seed.Hostname(), u.Hostname()) {
		return false
	}
	path := strings.ToLower(u.Path)
	if dot := strings.LastIndex(path, "."); dot >= 0 && dot > strings.LastIndex(path, "/") {
		if r.c.exts[path[dot+1:]] {
			return false
		}
	}
	for _, part := range strings.Split(path, "/") {
		if part != "" && r.c.dirs[part] {
			return false
		}
	}
	if r.robots != nil && !r.robots.Allowed(u.Path) {
		return false
	}
	return true
}
