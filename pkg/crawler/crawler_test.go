package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rimaestro/vulnity-kp/pkg/executor"
	"github.com/Rimaestro/vulnity-kp/pkg/ratelimit"
	"github.com/Rimaestro/vulnity-kp/pkg/retry"
)

func testExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	e, err := executor.New(executor.Config{
		Limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: 1000,
			MinRate:           1,
			MaxRate:           1000,
		}),
		Retry: retry.Policy{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	return e
}

// testSite is a small site with enough structure to exercise depth,
// scope, robots and form handling.
func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	html := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("User-agent: *\nDisallow: /admin\nDisallow: /logout\n"))
	})
	mux.Handle("/", html(`<html><head><title>Shop</title></head><body>
		<a href="/products?category=1">Products</a>
		<a href="/about.php">About</a>
		<a href="/admin/panel">Admin</a>
		<a href="/logo.png">Logo</a>
		<a href="/.git/config">Git</a>
		<a href="https://other-site.example/out">External</a>
		<a href="javascript:void(0)">Void</a>
	</body></html>`))
	mux.Handle("/products", html(`<html><body>
		<a href="/products?category=1">Self</a>
		<a href="/item?id=7">Item</a>
	</body></html>`))
	mux.Handle("/about.php", html(`<html><body>
		<form action="/search.php" method="get">
			<input type="text" name="q" value="">
			<input type="hidden" name="lang" value="en">
			<input type="submit" name="go" value="Search">
		</form>
	</body></html>`))
	mux.Handle("/item", html(`<html><body><a href="/">Home</a></body></html>`))
	mux.Handle("/search.php", html(`<html><body>no results</body></html>`))
	mux.HandleFunc("/admin/panel", func(w http.ResponseWriter, r *http.Request) {
		t.Error("crawler fetched a robots-disallowed URL")
	})
	return httptest.NewServer(mux)
}

func urlSet(urls []string) map[string]bool {
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[u] = true
	}
	return set
}

func TestCrawlDiscoversSite(t *testing.T) {
	srv := testSite(t)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 3, MaxURLs: 50})
	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	got := urlSet(res.URLs)
	for _, want := range []string{
		srv.URL + "/",
		srv.URL + "/products?category=1",
		srv.URL + "/about.php",
		srv.URL + "/item?id=7",
		srv.URL + "/search.php",
	} {
		if !got[want] {
			t.Errorf("URL %q not discovered; got %v", want, res.URLs)
		}
	}
	if res.URLs[0] != srv.URL+"/" {
		t.Errorf("seed not first in discovery order: %v", res.URLs[0])
	}
}

func TestCrawlSkipsFilteredURLs(t *testing.T) {
	srv := testSite(t)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 2, MaxURLs: 50})
	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	for _, u := range res.URLs {
		switch {
		case strings.Contains(u, "/admin"):
			t.Errorf("robots-disallowed URL kept: %s", u)
		case strings.Contains(u, ".png"):
			t.Errorf("static asset kept: %s", u)
		case strings.Contains(u, ".git"):
			t.Errorf("ignored directory kept: %s", u)
		case strings.Contains(u, "other-site.example"):
			t.Errorf("off-site URL kept: %s", u)
		}
	}
}

func TestCrawlIgnoreRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /hidden\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<a href="/hidden/page">hidden</a>`))
	})
	mux.HandleFunc("/hidden/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`ok`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 2, MaxURLs: 10, IgnoreRobots: true})
	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if !urlSet(res.URLs)[srv.URL+"/hidden/page"] {
		t.Errorf("IgnoreRobots did not open disallowed path; got %v", res.URLs)
	}
}

func TestCrawlExtractsForms(t *testing.T) {
	srv := testSite(t)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 2, MaxURLs: 50})
	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	if len(res.Forms) != 1 {
		t.Fatalf("found %d forms, want 1: %+v", len(res.Forms), res.Forms)
	}
	form := res.Forms[0]
	if form.Action != srv.URL+"/search.php" {
		t.Errorf("form action = %q", form.Action)
	}
	if form.Method != "GET" {
		t.Errorf("form method = %q", form.Method)
	}
	if _, ok := form.Fields["q"]; !ok {
		t.Errorf("text field missing from form: %v", form.Fields)
	}
	if form.Fields.Get("lang") != "en" {
		t.Errorf("hidden field default lost: %v", form.Fields)
	}
	if _, ok := form.Fields["go"]; ok {
		t.Errorf("submit input should be excluded: %v", form.Fields)
	}
}

func TestCrawlMaxDepth(t *testing.T) {
	mux := http.NewServeMux()
	page := func(next string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<a href="` + next + `">next</a>`))
		}
	}
	mux.Handle("/", page("/d1"))
	mux.Handle("/d1", page("/d2"))
	mux.Handle("/d2", page("/d3"))
	mux.Handle("/d3", page("/d4"))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 2, MaxURLs: 50, IgnoreRobots: true})
	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	for _, p := range res.Pages {
		if p.Depth > 2 {
			t.Errorf("page %s fetched at depth %d, limit 2", p.URL, p.Depth)
		}
		if strings.HasSuffix(p.URL, "/d3") {
			t.Errorf("depth-3 page was fetched")
		}
	}
}

func TestCrawlMaxURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		var b strings.Builder
		for i := 0; i < 50; i++ {
			b.WriteString(`<a href="/page?id=` + strings.Repeat("x", i+1) + `">p</a>`)
		}
		w.Write([]byte(b.String()))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("leaf"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 3, MaxURLs: 10, IgnoreRobots: true})
	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(res.Pages) > 10 {
		t.Errorf("fetched %d pages, budget 10", len(res.Pages))
	}
}

func TestCrawlDuplicateFingerprints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<a href="/a">a</a><a href="/b">b</a>`))
	})
	same := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>identical listing page</body></html>`))
	}
	mux.HandleFunc("/a", same)
	mux.HandleFunc("/b", same)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 2, MaxURLs: 10, IgnoreRobots: true, Concurrency: 1})
	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	dups := 0
	for _, p := range res.Pages {
		if p.Duplicate {
			dups++
		}
	}
	if dups != 1 {
		t.Errorf("marked %d duplicate pages, want 1: %+v", dups, res.Pages)
	}
}

func TestCrawlContentTypeGate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<a href="/data.txt">txt</a>`))
	})
	mux.HandleFunc("/data.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(`<a href="/from-plaintext">should not be parsed</a>`))
	})
	mux.HandleFunc("/from-plaintext", func(w http.ResponseWriter, r *http.Request) {
		t.Error("link from non-HTML body was followed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 3, MaxURLs: 10, IgnoreRobots: true})
	if _, err := c.Crawl(context.Background(), srv.URL); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
}

func TestCrawlUnreachablePageIsNotFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<a href="/broken">broken</a><a href="/fine">fine</a>`))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("no hijacker")
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	})
	mux.HandleFunc("/fine", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(testExecutor(t), Config{MaxDepth: 2, MaxURLs: 10, IgnoreRobots: true})
	res, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	fine := false
	for _, p := range res.Pages {
		if strings.HasSuffix(p.URL, "/fine") && p.StatusCode == 200 {
			fine = true
		}
	}
	if !fine {
		t.Error("healthy sibling page was not crawled after a fetch failure")
	}
}

func TestCrawlCancellation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		var b strings.Builder
		for i := 0; i < 20; i++ {
			b.WriteString(`<a href="/slow?id=` + strings.Repeat("y", i+1) + `">s</a>`)
		}
		w.Write([]byte(b.String()))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("slow"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	c := New(testExecutor(t), Config{MaxDepth: 2, MaxURLs: 50, IgnoreRobots: true, Concurrency: 2})
	res, err := c.Crawl(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(res.URLs) == 0 {
		t.Error("cancelled crawl returned no partial results")
	}
	if len(res.Pages) >= 21 {
		t.Error("cancelled crawl fetched every page")
	}
}

func TestCrawlRejectsBadSeed(t *testing.T) {
	c := New(testExecutor(t), Config{})
	if _, err := c.Crawl(context.Background(), "ftp://example.com/"); err == nil {
		t.Error("non-HTTP seed accepted")
	}
	if _, err := c.Crawl(context.Background(), "://bad"); err == nil {
		t.Error("malformed seed accepted")
	}
}

func TestSurface(t *testing.T) {
	res := &Result{URLs: []string{
		"http://site.test/item?id=7&cat=2",
		"http://site.test/plain",
	}}
	surface := res.Surface()
	if got := surface["http://site.test/item?id=7&cat=2"]; len(got) != 2 || got[0] != "cat" || got[1] != "id" {
		t.Errorf("surface params = %v, want [cat id]", got)
	}
	if _, ok := surface["http://site.test/plain"]; ok {
		t.Error("URL without query listed in surface")
	}
}
