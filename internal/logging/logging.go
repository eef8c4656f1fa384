// Package logging builds the process logger and masks secrets before they
// reach it.
//
// Logs are JSON on stderr so that stdout stays free for command output and
// for the MCP stdio transport.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production zap logger writing to stderr.
// verbose lowers the level to debug.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Statement is a zap field for SQL text, truncated so a huge generated
// statement cannot flood the log.
func Statement(key, sql string) zap.Field {
	const max = 500
	if len(sql) > max {
		sql = sql[:max] + "..."
	}
	return zap.String(key, sql)
}
