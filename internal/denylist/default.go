package denylist

// DefaultPatterns contains the hardcoded denylist patterns.
// System schemas and file or timing side channels are always blocked.
var DefaultPatterns = Patterns{
	Tables: []string{
		"mysql.*",
		"performance_schema.*",
		"sys.*",
		"pg_catalog.pg_authid",
		"pg_catalog.pg_shadow",
	},
	Statements: []string{
		"into outfile",
		"into dumpfile",
		"load_file(",
		"load data",
		"sleep(",
		"benchmark(",
		"pg_sleep(",
		"pg_read_file(",
		"pg_terminate_backend(",
	},
}
