package evasion

import (
	"math/rand/v2"
	"strings"
	"unicode"

	"golang.org/x/text/width"

	"github.com/Rimaestro/vulnity-kp/pkg/regexcache"
)

func init() {
	Register(URLEncodeSQL{})
	Register(DoubleURLEncode{})
	Register(RandomCase{})
	Register(InlineComments{})
	Register(SpaceToComment{})
	Register(FullwidthUnicode{})
}

// sqlSafeEscapes maps the characters worth hiding from a filter to
// their percent escapes. Quotes, parentheses, dashes and asterisks are
// intentionally absent: encoding those breaks the injected syntax.
var sqlSafeEscapes = map[rune]string{
	' ':  "%20",
	'#':  "%23",
	'&':  "%26",
	'+':  "%2B",
	';':  "%3B",
	'<':  "%3C",
	'>':  "%3E",
	'"':  "%22",
	'{':  "%7B",
	'}':  "%7D",
	'|':  "%7C",
	'\\': "%5C",
	'^':  "%5E",
	'~':  "%7E",
	'[':  "%5B",
	']':  "%5D",
	'`':  "%60",
}

func encodeSQL(payload string, double bool) string {
	var b strings.Builder
	b.Grow(len(payload))
	for _, r := range payload {
		esc, ok := sqlSafeEscapes[r]
		if !ok {
			b.WriteRune(r)
			continue
		}
		if double {
			esc = "%25" + esc[1:]
		}
		b.WriteString(esc)
	}
	return b.String()
}

// URLEncodeSQL percent-encodes filler characters while leaving the
// characters SQL syntax depends on untouched.
type URLEncodeSQL struct{}

func (URLEncodeSQL) Name() string { return "url-encode-sql" }
func (URLEncodeSQL) Apply(payload string) (string, error) {
	return encodeSQL(payload, false), nil
}

// DoubleURLEncode applies the SQL-safe encoding with the percent signs
// themselves encoded, for targets that decode twice.
type DoubleURLEncode struct{}

func (DoubleURLEncode) Name() string { return "double-url-encode" }
func (DoubleURLEncode) Apply(payload string) (string, error) {
	return encodeSQL(payload, true), nil
}

// RandomCase flips the case of letters at random. Keyword filters
// matching exact case miss the result; SQL and HTML stay valid because
// both are case-insensitive where it matters.
type RandomCase struct{}

func (RandomCase) Name() string { return "random-case" }
func (RandomCase) Apply(payload string) (string, error) {
	var b strings.Builder
	b.Grow(len(payload))
	for _, r := range payload {
		if unicode.IsLetter(r) && rand.IntN(2) == 0 {
			if unicode.IsUpper(r) {
				r = unicode.ToLower(r)
			} else {
				r = unicode.ToUpper(r)
			}
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

var sqlKeywordRe = regexcache.MustGet(`(?i)\b(UNION|SELECT|WHERE|ORDER|FROM|AND|OR|SLEEP|WAITFOR|CONCAT|VERSION)\b`)

// InlineComments splits SQL keywords with empty block comments, the
// classic UN/**/ION transformation.
type InlineComments struct{}

func (InlineComments) Name() string { return "inline-comments" }
func (InlineComments) Apply(payload string) (string, error) {
	return sqlKeywordRe.ReplaceAllStringFunc(payload, func(kw string) string {
		mid := len(kw) / 2
		return kw[:mid] + "/**/" + kw[mid:]
	}), nil
}

// SpaceToComment replaces spaces with empty block comments, which most
// SQL dialects treat as whitespace.
type SpaceToComment struct{}

func (SpaceToComment) Name() string { return "space-to-comment" }
func (SpaceToComment) Apply(payload string) (string, error) {
	return strings.ReplaceAll(payload, " ", "/**/"), nil
}

// FullwidthUnicode swaps ASCII letters for their fullwidth forms.
// Backends that NFKC-normalize input fold them back to ASCII after the
// filter has already passed the request through.
type FullwidthUnicode struct{}

func (FullwidthUnicode) Name() string { return "fullwidth-unicode" }
func (FullwidthUnicode) Apply(payload string) (string, error) {
	out := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			if w := width.LookupRune(r).Widened(); w != 0 {
				return w
			}
		}
		return r
	}, payload)
	return out, nil
}
