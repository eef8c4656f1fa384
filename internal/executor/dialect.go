package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ppiankov/querywatch/internal/model"
)

// Dialect selects the database driver, session settings and error mapping.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts the dialect names used in config and flags.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unknown dialect %q (want mysql, postgres or sqlite)", s)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case SQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

// prepareSession bounds the statement on the server side as well, so an
// abandoned statement cannot keep running after the client gave up. It also
// pins the string literal rules the classifier lexed the statement with.
func (d Dialect) prepareSession(ctx context.Context, conn *sql.Conn, timeout time.Duration) error {
	ms := timeout.Milliseconds()
	switch d {
	case MySQL:
		stmt := "SET SESSION sql_mode = " + mysqlBackslashMode
		if ms > 0 {
			stmt += fmt.Sprintf(", max_execution_time = %d", ms)
		}
		_, err := conn.ExecContext(ctx, stmt)
		return err
	case Postgres:
		stmt := "SET standard_conforming_strings = on"
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return err
		}
		if ms <= 0 {
			return nil
		}
		_, err := conn.ExecContext(ctx, fmt.Sprintf("SET statement_timeout = %d", ms))
		return err
	}
	// SQLite has no server; context cancellation interrupts the statement.
	return nil
}

// mysqlBackslashMode is the session sql_mode with NO_BACKSLASH_ESCAPES removed.
const mysqlBackslashMode = "TRIM(BOTH ',' FROM REPLACE(CONCAT(',', @@SESSION.sql_mode, ','), ',NO_BACKSLASH_ESCAPES,', ','))"

// MySQL server error numbers.
var mysqlKinds = map[uint16]model.ErrorKind{
	1044: model.KindConnection, // access denied to database
	1045: model.KindConnection, // access denied for user
	1049: model.KindConnection, // unknown database
	1040: model.KindConnection, // too many connections
	1053: model.KindConnection, // server shutdown in progress
	1152: model.KindConnection, // aborted connection
	1205: model.KindTimeout,    // lock wait timeout
	1317: model.KindTimeout,    // query execution interrupted
	1969: model.KindTimeout,    // MariaDB max_statement_time exceeded
	3024: model.KindTimeout,    // max_execution_time exceeded
}

// classifyError maps a driver error to the failure taxonomy.
// Errors the engine raised about the statement itself are engine_rejected;
// anything that happened on the way to the engine is connection.
func (d Dialect) classifyError(err error) model.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.KindTimeout
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.Is(err, mysql.ErrInvalidConn):
		return model.KindConnection
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if kind, ok := mysqlKinds[myErr.Number]; ok {
			return kind
		}
		return model.KindEngineRejected
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return postgresKind(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return model.KindConnection
	}
	if pgconn.Timeout(err) {
		return model.KindTimeout
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return sqliteKind(liteErr.Code())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.KindConnection
	}

	// The embedded engine reports statement faults as plain errors from
	// the driver; for the network dialects an untyped error never came
	// from the server.
	if d == SQLite {
		return model.KindEngineRejected
	}
	return model.KindConnection
}

// postgresKind maps a SQLSTATE to a kind by class (first two characters).
func postgresKind(code string) model.ErrorKind {
	if code == "57014" { // query_canceled, raised by statement_timeout
		return model.KindTimeout
	}
	if len(code) < 2 {
		return model.KindEngineRejected
	}
	switch code[:2] {
	case "08", // connection exception
		"28", // invalid authorization
		"3D", // invalid catalog name
		"53", // insufficient resources
		"57": // operator intervention
		return model.KindConnection
	}
	return model.KindEngineRejected
}

func sqliteKind(code int) model.ErrorKind {
	switch code & 0xff {
	case sqlite3.SQLITE_INTERRUPT, sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return model.KindTimeout
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CORRUPT:
		return model.KindConnection
	}
	return model.KindEngineRejected
}
