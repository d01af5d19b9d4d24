package sqli

import (
	"strings"
	"testing"

	"github.com/Rimaestro/vulnity-kp/pkg/payloads"
)

func TestContainsSQLError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "mysql syntax error",
			body: "You have an error in your SQL syntax; check the manual that corresponds to your MySQL server version",
			want: true,
		},
		{
			name: "mysqli exception trace",
			body: "Fatal error: Uncaught mysqli_sql_exception: Unknown column 'x' in /var/www/html/login.php:14",
			want: true,
		},
		{
			name: "postgres error",
			body: `PostgreSQL ERROR: unterminated quoted string at or near "'"`,
			want: true,
		},
		{
			name: "mssql unclosed quote",
			body: "Unclosed quotation mark after the character string 'abc'.",
			want: true,
		},
		{
			name: "oracle ora code",
			body: "ORA-01756: quoted string not properly terminated",
			want: true,
		},
		{
			name: "sqlite exception",
			body: "System.Data.SQLite.SQLiteException: SQL logic error",
			want: true,
		},
		{
			name: "clean page",
			body: "<html><body>Welcome back, visitor</body></html>",
			want: false,
		},
		{
			name: "keyword without signature",
			body: "An error occurred while loading your profile",
			want: false,
		},
		{
			name: "empty body",
			body: "",
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := containsSQLError(tt.body)
			if got != tt.want {
				t.Errorf("containsSQLError(%q) = %v, want %v", tt.body, got, tt.want)
			}
		})
	}
}

func TestContainsSQLErrorEvidenceWindow(t *testing.T) {
	pad := strings.Repeat("x", 300)
	signature := "You have an error in your SQL syntax near ''1''"
	ok, evidence := containsSQLError(pad + signature + pad)
	if !ok {
		t.Fatal("expected a match")
	}
	if !strings.Contains(evidence, "You have an error in your SQL syntax") {
		t.Errorf("evidence %q does not contain the signature", evidence)
	}
	if len(evidence) > len(signature)+200 {
		t.Errorf("evidence is %d bytes, want the match plus at most 200 bytes of context", len(evidence))
	}
}

func TestContainsSQLErrorMatchAtStart(t *testing.T) {
	ok, evidence := containsSQLError("Incorrect syntax near 'a'.")
	if !ok {
		t.Fatal("expected a match")
	}
	if !strings.Contains(evidence, "Incorrect syntax near") {
		t.Errorf("evidence = %q", evidence)
	}
}

func TestContainsSQLErrorJSONField(t *testing.T) {
	body := `{"status":"error","sqlMessage":"You have an error in your SQL syntax; check the manual"}`
	ok, evidence := containsSQLError(body)
	if !ok {
		t.Fatal("expected a match inside the JSON error field")
	}
	if !strings.Contains(evidence, "SQL syntax") {
		t.Errorf("evidence = %q", evidence)
	}
}

func TestContainsSQLErrorJSONNested(t *testing.T) {
	body := `{"error":{"message":"Uncaught mysqli_sql_exception: bad query","code":1064}}`
	ok, _ := containsSQLError(body)
	if !ok {
		t.Fatal("expected a match one level down")
	}
}

func TestContainsSQLErrorJSONClean(t *testing.T) {
	body := `{"error":"item not found","message":"nothing matched"}`
	ok, evidence := containsSQLError(body)
	if ok {
		t.Fatalf("plain API error tripped the detector: %q", evidence)
	}
}

func TestIdentifyDialect(t *testing.T) {
	tests := []struct {
		body string
		want payloads.Dialect
	}{
		{"You have an error in your SQL syntax near ''", payloads.DialectMySQL},
		{"PostgreSQL ERROR: syntax error at or near", payloads.DialectPostgreSQL},
		{"Unclosed quotation mark after the character string", payloads.DialectMSSQL},
		{"ORA-00933: SQL command not properly ended", payloads.DialectOracle},
		{"System.Data.SQLite.SQLiteException", payloads.DialectSQLite},
		{"Syntax error in query expression", payloads.DialectGeneric},
		{"perfectly healthy page", payloads.DialectGeneric},
	}
	for _, tt := range tests {
		if got := identifyDialect(tt.body); got != tt.want {
			t.Errorf("identifyDialect(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
