package schema

import (
	"strings"

	"github.com/ppiankov/querywatch/internal/executor"
)

const keyPrimary = "PRI"

func listTablesQuery(d executor.Dialect) string {
	switch d {
	case executor.Postgres:
		return "SELECT table_name FROM information_schema.tables " +
			"WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name"
	case executor.SQLite:
		return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	default:
		return "SHOW TABLES"
	}
}

// columnsQuery returns a query whose rows parseColumns understands.
// name has already passed ValidateIdentifier.
func columnsQuery(d executor.Dialect, name string) string {
	schemaName, table := splitName(name)
	switch d {
	case executor.Postgres:
		schemaExpr := "current_schema()"
		if schemaName != "" {
			schemaExpr = "'" + schemaName + "'"
		}
		return "SELECT c.column_name, c.data_type, c.is_nullable, c.column_default, " +
			"CASE WHEN k.column_name IS NULL THEN '' ELSE 'PRI' END " +
			"FROM information_schema.columns c " +
			"LEFT JOIN information_schema.key_column_usage k " +
			"ON k.table_schema = c.table_schema AND k.table_name = c.table_name AND k.column_name = c.column_name " +
			"AND k.constraint_name IN (SELECT constraint_name FROM information_schema.table_constraints " +
			"WHERE constraint_type = 'PRIMARY KEY' AND table_schema = c.table_schema AND table_name = c.table_name) " +
			"WHERE c.table_schema = " + schemaExpr + " AND c.table_name = '" + table + "' " +
			"ORDER BY c.ordinal_position"
	case executor.SQLite:
		if schemaName != "" {
			return "SELECT name, type, \"notnull\", dflt_value, pk FROM pragma_table_info('" + table + "', '" + schemaName + "')"
		}
		return "SELECT name, type, \"notnull\", dflt_value, pk FROM pragma_table_info('" + table + "')"
	default:
		return "DESCRIBE " + quoteMySQL(name)
	}
}

func sqliteDDLQuery(name string) string {
	schemaName, table := splitName(name)
	master := "sqlite_master"
	if schemaName != "" {
		master = schemaName + ".sqlite_master"
	}
	return "SELECT sql FROM " + master + " WHERE type = 'table' AND name = '" + table + "'"
}

func quoteMySQL(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return strings.Join(parts, ".")
}

// parseColumns maps dialect-specific rows onto Column.
//
//	mysql    DESCRIBE:          Field, Type, Null, Key, Default, Extra
//	postgres information_schema: name, type, is_nullable, default, key
//	sqlite   pragma_table_info:  name, type, notnull, dflt_value, pk
func parseColumns(d executor.Dialect, rows [][]any) []Column {
	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		if len(r) < 5 {
			continue
		}
		c := Column{Name: str(r[0]), Type: str(r[1])}
		switch d {
		case executor.Postgres:
			c.Nullable = strings.EqualFold(str(r[2]), "YES")
			c.Default = str(r[3])
			c.Key = str(r[4])
		case executor.SQLite:
			c.Nullable = str(r[2]) == "0"
			c.Default = str(r[3])
			if pk := str(r[4]); pk != "" && pk != "0" {
				c.Key = keyPrimary
			}
		default:
			c.Nullable = strings.EqualFold(str(r[2]), "YES")
			c.Key = str(r[3])
			c.Default = str(r[4])
		}
		cols = append(cols, c)
	}
	return cols
}
