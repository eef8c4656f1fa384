package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/querywatch/internal/model"
)

func TestClassify_Classes(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want model.OperationClass
	}{
		{"select", "SELECT * FROM products", model.ClassRead},
		{"lowercase select", "select id from products", model.ClassRead},
		{"leading comment", "-- top products\nSELECT * FROM products", model.ClassRead},
		{"leading block comment", "/* hint */ SELECT 1", model.ClassRead},
		{"show", "SHOW TABLES", model.ClassSchemaIntrospection},
		{"describe", "DESCRIBE products", model.ClassSchemaIntrospection},
		{"explain", "EXPLAIN SELECT * FROM products", model.ClassSchemaIntrospection},
		{"explain analyze select", "EXPLAIN ANALYZE SELECT * FROM products", model.ClassSchemaIntrospection},
		{"explain analyze delete", "EXPLAIN ANALYZE DELETE FROM products", model.ClassMutate},
		{"insert", "INSERT INTO orders (id) VALUES (1)", model.ClassMutate},
		{"update", "UPDATE products SET price = 1", model.ClassMutate},
		{"delete", "DELETE FROM products WHERE id = 1", model.ClassMutate},
		{"drop", "DROP TABLE products", model.ClassAdmin},
		{"alter", "ALTER TABLE products ADD COLUMN sku INT", model.ClassAdmin},
		{"create", "CREATE TABLE t (id INT)", model.ClassAdmin},
		{"truncate", "TRUNCATE TABLE products", model.ClassAdmin},
		{"grant", "GRANT SELECT ON shop.* TO 'app'@'%'", model.ClassAdmin},
		{"revoke", "REVOKE ALL ON shop.* FROM 'app'@'%'", model.ClassAdmin},
		{"trailing terminator", "SELECT 1;", model.ClassRead},
		{"comment after terminator", "SELECT 1; -- done", model.ClassRead},
		{"semicolon in string", "SELECT ';' FROM t", model.ClassRead},
		{"doubled quote", "SELECT 'it''s' FROM t", model.ClassRead},
		{"positional param", "SELECT * FROM t WHERE id = $1", model.ClassRead},
		{"typo after keyword", "SELECT * FORM products", model.ClassRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.sql)
			assert.Equal(t, tt.want, got.Class, "reason: %s", got.Reason)
			assert.Equal(t, tt.sql, got.Text())
		})
	}
}

func TestClassify_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		reason string
	}{
		{"empty", "", "empty statement"},
		{"whitespace", "   \n\t", "empty statement"},
		{"only comment", "-- nothing here", "empty statement"},
		{"only terminator", ";", "empty statement"},
		{"unterminated string", "SELECT 'abc", "unterminated string literal"},
		{"unterminated double quote", `SELECT "abc`, "unterminated string literal"},
		{"unterminated identifier", "SELECT `abc", "unterminated quoted identifier"},
		{"unterminated comment", "SELECT 1 /* oops", "unterminated block comment"},
		{"backslash in string", `SELECT 'a\'b' FROM t`, "backslash in a literal is ambiguous without a dialect"},
		{"backslash in double quotes", `SELECT "a\" FROM t`, "backslash in a literal is ambiguous without a dialect"},
		{"hash comment", "SELECT 1 # note", "comment syntax is ambiguous without a dialect"},
		{"dash comment without space", "SELECT 1 --note", "comment syntax is ambiguous without a dialect"},
		{"nested block comment", "SELECT 1 /* a /* b */", "comment syntax is ambiguous without a dialect"},
		{"dollar quoted", "SELECT $$a;b$$", "dollar quoting is ambiguous without a dialect"},
		{"quote in brackets", "SELECT [a'] FROM t", "bracketed text with quotes is ambiguous without a dialect"},
		{"missing close paren", "SELECT (1", "unbalanced parentheses: missing ')'"},
		{"extra close paren", "SELECT 1)", "unbalanced parentheses: unexpected ')'"},
		{"two statements", "SELECT 1; DROP TABLE products", "multiple statements"},
		{"double terminator", "SELECT 1;;", "multiple statements"},
		{"executable comment", "/*!50000 DROP TABLE x */ SELECT 1", "executable comment not allowed"},
		{"mariadb executable comment", "/*M!100000 DROP TABLE x */ SELECT 1", "executable comment not allowed"},
		{"prose", "Here is your query", "unrecognized leading keyword HERE"},
		{"cte", "WITH x AS (SELECT 1) SELECT * FROM x", "unrecognized leading keyword WITH"},
		{"set", "SET autocommit = 0", "unrecognized leading keyword SET"},
		{"desc shorthand", "DESC products", "unrecognized leading keyword DESC"},
		{"parenthesized", "(SELECT 1)", "statement does not begin with a keyword"},
		{"number", "42", "statement does not begin with a keyword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.sql)
			assert.Equal(t, model.ClassMalformed, got.Class)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Empty(t, got.Tables)
		})
	}
}

// smuggled reads as one SELECT only when backslash escapes the quote.
const smuggled = `SELECT '\' ; DELETE FROM products; -- '`

func TestClassifyWith_Dialects(t *testing.T) {
	const (
		mysql    = "mysql"
		postgres = "postgres"
		sqlite   = "sqlite"
	)
	tests := []struct {
		name    string
		dialect string
		sql     string
		want    model.OperationClass
		reason  string
	}{
		{"mysql backslash escape", mysql, `SELECT 'a\'b' FROM t`, model.ClassRead, ""},
		{"mysql smuggled delete stays in the string", mysql, smuggled, model.ClassRead, ""},
		{"postgres smuggled delete", postgres, smuggled, model.ClassMalformed, "multiple statements"},
		{"sqlite smuggled delete", sqlite, smuggled, model.ClassMalformed, "multiple statements"},
		{"strict smuggled delete", "", smuggled, model.ClassMalformed, "backslash in a literal is ambiguous without a dialect"},
		{"unknown dialect is strict", "oracle", smuggled, model.ClassMalformed, "backslash in a literal is ambiguous without a dialect"},
		{"sqlite backslash is literal", sqlite, `SELECT 'C:\' FROM t`, model.ClassRead, ""},
		{"postgres double quote backslash", postgres, `SELECT "a\" FROM t`, model.ClassRead, ""},

		{"mysql hash comment", mysql, "SELECT 1 # ; DELETE FROM products", model.ClassRead, ""},
		{"postgres hash is an operator", postgres, "SELECT 1 # '\n; DELETE FROM products; -- '", model.ClassRead, ""},
		{"sqlite hash hides nothing", sqlite, "SELECT 1 # x; DELETE FROM products", model.ClassMalformed, "multiple statements"},
		{"mysql dash needs a space", mysql, "SELECT 1 --x; DELETE FROM products", model.ClassMalformed, "multiple statements"},
		{"mysql dash with space", mysql, "SELECT 1 -- x; DELETE FROM products", model.ClassRead, ""},
		{"postgres dash without space", postgres, "SELECT 1 --x; DELETE FROM products", model.ClassRead, ""},

		{"postgres dollar quoted", postgres, "SELECT $$a;b$$", model.ClassRead, ""},
		{"postgres tagged dollar", postgres, "SELECT $fn$ ' $fn$ FROM t", model.ClassRead, ""},
		{"postgres unterminated dollar", postgres, "SELECT $tag$abc", model.ClassMalformed, "unterminated dollar-quoted string"},
		{"mysql dollar is not a quote", mysql, "SELECT $$a;b$$", model.ClassMalformed, "multiple statements"},
		{"sqlite dollar is not a quote", sqlite, "SELECT $$'$$ ; DELETE FROM products; -- '", model.ClassRead, ""},

		{"postgres escape string", postgres, `SELECT E'\'' ; DELETE FROM products; -- '`, model.ClassMalformed, "multiple statements"},
		{"postgres escape string hides nothing", postgres, `SELECT E'it\'s' FROM t`, model.ClassRead, ""},
		{"postgres nested comment", postgres, "SELECT 1 /* /* */ ' */ ; DELETE FROM products; -- '", model.ClassMalformed, "multiple statements"},
		{"mysql flat comment", mysql, "SELECT 1 /* /* */ FROM t", model.ClassRead, ""},

		{"sqlite bracket identifier", sqlite, "SELECT [a'] ; DELETE FROM products; -- ']", model.ClassMalformed, "multiple statements"},
		{"sqlite bracket table", sqlite, "SELECT * FROM [order items]", model.ClassRead, ""},
		{"postgres array subscript", postgres, "SELECT tags[1] FROM products", model.ClassRead, ""},
		{"strict array subscript", "", "SELECT tags[i-1] FROM products", model.ClassRead, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyWith(tt.sql, Options{Dialect: tt.dialect})
			assert.Equal(t, tt.want, got.Class, "reason: %s", got.Reason)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestClassifyWith_DialectAliases(t *testing.T) {
	for _, d := range []string{"MySQL", "mariadb", " postgresql ", "pg", "sqlite3"} {
		got := ClassifyWith("SELECT 1 FROM t", Options{Dialect: d})
		assert.Equal(t, model.ClassRead, got.Class, d)
	}
	assert.Equal(t, model.ClassRead, ClassifyWith(`SELECT 'a\'b'`, Options{Dialect: "MariaDB"}).Class)
}

func TestCheckSingle(t *testing.T) {
	assert.NoError(t, CheckSingle("SELECT * FROM products LIMIT 50", Options{Dialect: "sqlite"}))
	assert.NoError(t, CheckSingle(smuggled+" LIMIT 50", Options{Dialect: "mysql"}))
	assert.EqualError(t, CheckSingle(smuggled+" LIMIT 50", Options{Dialect: "sqlite"}), "multiple statements")
	assert.EqualError(t, CheckSingle(smuggled, Options{}), "backslash in a literal is ambiguous without a dialect")
}

func TestClassify_NonKeywordAlwaysMalformed(t *testing.T) {
	for _, lead := range []string{"sel", "SELECTED", "drops", "UPSERT", "MERGE", "CALL", "DO", "LOAD", "REPLACE", "USE", "1", "'x'", "*"} {
		got := Classify(lead + " * FROM t")
		assert.Equal(t, model.ClassMalformed, got.Class, lead)
	}
}

func TestClassify_Tables(t *testing.T) {
	tests := []struct {
		sql  string
		want []string
	}{
		{"SELECT * FROM products", []string{"products"}},
		{"SELECT a FROM t1, t2 AS b, shop.t3 WHERE a = 1", []string{"t1", "t2", "shop.t3"}},
		{"SELECT * FROM orders o JOIN customers c ON o.cid = c.id", []string{"orders", "customers"}},
		{"select * from Orders o join orders x on o.id = x.id", []string{"Orders"}},
		{"SELECT * FROM `my db`.`orders`", []string{"my db.orders"}},
		{`SELECT * FROM "Order Items"`, []string{"Order Items"}},
		{"SELECT * FROM (SELECT id FROM inner_t) sub", []string{"inner_t"}},
		{"INSERT INTO orders (id) VALUES (1)", []string{"orders"}},
		{"INSERT IGNORE INTO orders SELECT * FROM staging", []string{"orders", "staging"}},
		{"UPDATE LOW_PRIORITY products SET price = 2", []string{"products"}},
		{"DELETE FROM ONLY products WHERE id = 1", []string{"products"}},
		{"DROP TABLE IF EXISTS products", []string{"products"}},
		{"CREATE TABLE IF NOT EXISTS audit_copy (id INT)", []string{"audit_copy"}},
		{"TRUNCATE TABLE products", []string{"products"}},
		{"DESCRIBE products", []string{"products"}},
		{"SELECT * FROM mysql.user", []string{"mysql.user"}},
		{"SELECT 1 FROM DUAL", nil},
		{"SELECT * FORM products", nil},
		{"SHOW TABLES", nil},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			got := Classify(tt.sql)
			require.NotEqual(t, model.ClassMalformed, got.Class, got.Reason)
			assert.Equal(t, tt.want, got.Tables)
		})
	}
}

func TestClassify_RowLimit(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM products", false},
		{"SELECT * FROM products LIMIT 5", true},
		{"select * from products limit 5 offset 10", true},
		{"SELECT * FROM products LIMIT 10, 5", true},
		{"SELECT * FROM products LIMIT ALL", false},
		{"SELECT * FROM products FETCH FIRST 5 ROWS ONLY", true},
		{"SELECT * FROM (SELECT * FROM products LIMIT 5) p", false},
		{"SELECT * FROM products WHERE id IN (SELECT id FROM t LIMIT 3)", false},
		{"SELECT 'LIMIT 5' FROM products", false},
		{"SELECT * FROM products -- LIMIT 5", false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sql).HasRowLimit)
		})
	}
}

func TestClassify_CapOffset(t *testing.T) {
	tests := []struct {
		sql    string
		before string
	}{
		{"SELECT * FROM products", "SELECT * FROM products"},
		{"SELECT * FROM products;", "SELECT * FROM products"},
		{"SELECT * FROM products  ;  ", "SELECT * FROM products"},
		{"SELECT * FROM products -- all of them", "SELECT * FROM products"},
		{"SELECT * FROM products /* c */", "SELECT * FROM products"},
		{"SELECT * FROM products FOR UPDATE", "SELECT * FROM products"},
		{"SELECT * FROM products LOCK IN SHARE MODE", "SELECT * FROM products"},
		{"SELECT * FROM products LIMIT ALL", "SELECT * FROM products LIMIT ALL"},
		{"SELECT * FROM products FOR NO KEY UPDATE;", "SELECT * FROM products"},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			got := Classify(tt.sql)
			require.Equal(t, model.ClassRead, got.Class, got.Reason)
			assert.Equal(t, tt.before, tt.sql[:got.CapAt])
		})
	}
}

func TestClassify_LimitAllOffset(t *testing.T) {
	tests := []struct {
		sql  string
		want int
	}{
		{"SELECT * FROM products", 0},
		{"SELECT * FROM products LIMIT 5", 0},
		{"SELECT * FROM products LIMIT ALL", 29},
		{"select * from products limit all offset 5", 29},
		{"SELECT * FROM (SELECT * FROM t LIMIT ALL) p", 0},
		{"SELECT 'LIMIT ALL' FROM products", 0},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			got := Classify(tt.sql)
			require.Equal(t, model.ClassRead, got.Class, got.Reason)
			assert.Equal(t, tt.want, got.LimitAllAt)
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	inputs := []string{
		"SELECT * FROM products",
		"SELECT * FROM products LIMIT 3;",
		"DROP TABLE products",
		"SELECT 1; SELECT 2",
		"garbage in",
		"",
		"SELECT * FROM a JOIN b ON a.id = b.id FOR UPDATE",
	}
	for _, in := range inputs {
		assert.Equal(t, Classify(in), Classify(in), in)
	}
}

func TestClassifyCandidate_KeepsQuestion(t *testing.T) {
	c := model.CandidateStatement{Text: "SELECT 1", Question: "what is one?"}
	got := ClassifyCandidate(c, Options{Dialect: "postgres"})
	assert.Equal(t, c, got.Candidate)
	assert.Equal(t, model.ClassRead, got.Class)
	assert.Equal(t, "SELECT", got.Keyword)
}
