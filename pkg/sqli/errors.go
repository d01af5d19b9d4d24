package sqli

import (
	"regexp"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/jsonutil"
	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
	"github.com/Rimaestro/vulnity-kp/pkg/regexcache"
)

// Database error signatures per dialect. The MySQL set carries a few
// DVWA-flavored mysqli messages because that stack is the most common
// deliberately-vulnerable deployment these probes meet.
var dialectErrors = map[payloads.Dialect][]*regexp.Regexp{
	payloads.DialectMySQL: {
		regexcache.MustGet(`(?i)SQL syntax.*?MySQL`),
		regexcache.MustGet(`(?i)Warning.*?mysql_`),
		regexcache.MustGet(`(?i)MySQL Query fail`),
		regexcache.MustGet(`(?i)SQL syntax.*?MariaDB server`),
		regexcache.MustGet(`(?i)You have an error in your SQL syntax`),
		regexcache.MustGet(`(?i)valid MySQL result`),
		regexcache.MustGet(`(?i)MySqlClient\.`),
		regexcache.MustGet(`(?i)mysqli_sql_exception`),
		regexcache.MustGet(`(?i)The used SELECT statements have a different number of columns`),
		regexcache.MustGet(`(?i)Uncaught mysqli_sql_exception`),
	},
	payloads.DialectPostgreSQL: {
		regexcache.MustGet(`(?i)PostgreSQL.*?ERROR`),
		regexcache.MustGet(`(?i)Warning.*?\Wpg_`),
		regexcache.MustGet(`(?i)Error.*?PostgreSQL`),
		regexcache.MustGet(`(?i)valid PostgreSQL result`),
		regexcache.MustGet(`(?i)Npgsql\.`),
	},
	payloads.DialectMSSQL: {
		regexcache.MustGet(`(?i)Driver.*? SQL[\-\_\ ]*Server`),
		regexcache.MustGet(`(?i)OLE DB.*? SQL Server`),
		regexcache.MustGet(`(?i)\bSQL Server.*?Error`),
		regexcache.MustGet(`(?i)\bSQL Server.*?Driver`),
		regexcache.MustGet(`(?i)Unclosed quotation mark after the character string`),
		regexcache.MustGet(`(?i)Incorrect syntax near`),
		regexcache.MustGet(`(?i)Microsoft SQL Native Client`),
	},
	payloads.DialectOracle: {
		regexcache.MustGet(`(?i)\bORA-[0-9][0-9][0-9][0-9]`),
		regexcache.MustGet(`(?i)Oracle error`),
		regexcache.MustGet(`(?i)Oracle.*?Driver`),
		regexcache.MustGet(`(?i)Warning.*?\Woci_`),
		regexcache.MustGet(`(?i)Warning.*?\Wora_`),
	},
	payloads.DialectSQLite: {
		regexcache.MustGet(`(?i)SQLite/JDBCDriver`),
		regexcache.MustGet(`(?i)SQLite\.Exception`),
		regexcache.MustGet(`(?i)System\.Data\.SQLite\.SQLiteException`),
		regexcache.MustGet(`(?i)SQLITE_ERROR`),
	},
	payloads.DialectGeneric: {
		regexcache.MustGet(`(?i)SQL (syntax|command|statement).*?error`),
		regexcache.MustGet(`(?i)Syntax error.*?in query expression`),
		regexcache.MustGet(`(?i)Unexpected end of SQL`),
		regexcache.MustGet(`(?i)database driver.*?database error`),
		regexcache.MustGet(`(?i)Unknown column '.*?' in 'field list'`),
		regexcache.MustGet(`(?i)Fatal error.*?mysqli_sql_exception`),
		regexcache.MustGet(`(?i)Stack trace.*?mysqli_query`),
	},
}

// Fast keyword gate before the full pattern sweep; most clean responses
// contain none of these.
var errorKeywords = []string{
	"sql", "syntax", "error", "warning", "mysql", "mariadb", "postgres",
	"oracle", "sqlite", "ora-", "odbc", "unclosed", "exception",
}

// Weak signals for the error-based fallback tier: words a database
// leak tends to introduce into a page that its baseline never shows.
var sqlIndicators = []string{
	"syntax error", "mysql", "sql", "database", "table", "column",
	"select", "union", "where", "from", "error", "warning",
}

// JSON fields where APIs tend to surface database errors.
var jsonErrorKeys = []string{
	"error", "message", "errorMessage", "sqlMessage", "sqlError", "exception",
}

// containsSQLError scans a response body for database error signatures
// and returns the matched signature with surrounding context. JSON
// bodies are additionally checked field-wise, so an error tucked into
// {"error": {...}} is found even when HTML escaping would hide it.
func containsSQLError(body string) (bool, string) {
	if body == "" {
		return false, ""
	}
	lower := strings.ToLower(body)
	quick := false
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			quick = true
			break
		}
	}
	if !quick {
		return false, ""
	}

	if evidence, ok := jsonFieldError(body); ok {
		return true, evidence
	}

	for _, patterns := range dialectErrors {
		for _, re := range patterns {
			if loc := re.FindStringIndex(body); loc != nil {
				return true, errorContext(body, loc[0], loc[1])
			}
		}
	}
	return false, ""
}

// jsonFieldError checks the error-carrying fields of a JSON object
// body, one level of nesting deep.
func jsonFieldError(body string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return "", false
	}
	var doc map[string]any
	if err := jsonutil.Unmarshal([]byte(trimmed), &doc); err != nil {
		return "", false
	}
	check := func(m map[string]any) (string, bool) {
		for _, key := range jsonErrorKeys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			for _, patterns := range dialectErrors {
				for _, re := range patterns {
					if loc := re.FindStringIndex(s); loc != nil {
						return errorContext(s, loc[0], loc[1]), true
					}
				}
			}
		}
		return "", false
	}
	if evidence, ok := check(doc); ok {
		return evidence, true
	}
	for _, v := range doc {
		if nested, ok := v.(map[string]any); ok {
			if evidence, ok := check(nested); ok {
				return evidence, true
			}
		}
	}
	return "", false
}

// identifyDialect names the database behind an error page, or generic
// when no dialect-specific signature matches.
func identifyDialect(body string) payloads.Dialect {
	if body == "" {
		return payloads.DialectGeneric
	}
	for _, d := range payloads.Dialects() {
		if d == payloads.DialectGeneric {
			continue
		}
		for _, re := range dialectErrors[d] {
			if re.MatchString(body) {
				return d
			}
		}
	}
	return payloads.DialectGeneric
}

// errorContext trims the evidence snippet to 100 chars either side of
// the match.
func errorContext(body string, start, end int) string {
	from := start - 100
	if from < 0 {
		from = 0
	}
	to := end + 100
	if to > len(body) {
		to = len(body)
	}
	return body[from:to]
}
