package crawler

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/Rimaestro/vulnity-kp/pkg/regexcache"
)

// Markup attribute and script sweeps for references the tokenizer does
// not surface (inline JS config blobs, CSS url() imports).
var (
	attrURLRe = regexcache.MustGet(`(?i)(?:href|src|action|data|location)\s*=\s*["']([^"']+)["']`)
	jsURLRe   = regexcache.MustGet(`(?i)(?:url|location)\s*[:=]\s*["']([^"']+)["']`)
	cssURLRe  = regexcache.MustGet(`(?i)url\(['"]?([^'")]+)['"]?\)`)
)

// Input types that never carry injectable user data.
var skippedInputTypes = map[string]bool{
	"submit": true,
	"button": true,
	"reset":  true,
	"image":  true,
	"file":   true,
}

// parsePage walks the HTML token stream and collects link targets, forms
// and the page title in one pass, then sweeps the raw markup with the
// attribute/JS/CSS patterns for anything the tokenizer missed.
func parsePage(body string, base *url.URL) (links []string, forms []Form, title string) {
	seen := make(map[string]bool)
	add := func(ref string) {
		resolved := resolveRef(ref, base)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	}

	tok := html.NewTokenizer(strings.NewReader(body))
	var cur *Form
	var inTitle bool
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			t := tok.Token()
			switch t.Data {
			case "a", "link", "area", "base":
				if href := attr(t, "href"); href != "" {
					add(href)
				}
			case "script", "img", "iframe", "frame", "embed", "source":
				if src := attr(t, "src"); src != "" {
					add(src)
				}
			case "form":
				cur = &Form{
					Action: base.String(),
					Method: "GET",
					Fields: url.Values{},
				}
				if action := attr(t, "action"); action != "" {
					if resolved := resolveRef(action, base); resolved != "" {
						cur.Action = resolved
					}
				}
				if method := attr(t, "method"); method != "" {
					cur.Method = strings.ToUpper(method)
				}
			case "input", "textarea", "select":
				if cur == nil {
					continue
				}
				name := attr(t, "name")
				if name == "" {
					continue
				}
				typ := strings.ToLower(attr(t, "type"))
				if t.Data == "input" && skippedInputTypes[typ] {
					continue
				}
				cur.Fields.Set(name, attr(t, "value"))
			case "title":
				inTitle = true
			}
		case html.EndTagToken:
			t := tok.Token()
			switch t.Data {
			case "form":
				if cur != nil {
					forms = append(forms, *cur)
					cur = nil
				}
			case "title":
				inTitle = false
			}
		case html.TextToken:
			if inTitle && title == "" {
				title = strings.TrimSpace(string(tok.Text()))
			}
		}
	}
	// Unclosed form at EOF still counts.
	if cur != nil {
		forms = append(forms, *cur)
	}

	for _, m := range attrURLRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	for _, m := range jsURLRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	for _, m := range cssURLRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}

	return links, forms, title
}

func attr(t html.Token, name string) string {
	for _, a := range t.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// resolveRef turns a markup reference into an absolute http(s) URL
// against the page it was found on. Anchors, pseudo-schemes and
// unparseable values resolve to "".
func resolveRef(ref string, base *url.URL) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}
	lower := strings.ToLower(ref)
	for _, p := range []string{"javascript:", "mailto:", "tel:", "sms:", "data:", "ftp:", "file:"} {
		if strings.HasPrefix(lower, p) {
			return ""
		}
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
