package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	qwmcp "github.com/ppiankov/querywatch/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs querywatch as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes gated tools: run_query, ask, check_query, get_last_query,\n" +
		"list_tables, get_table_info, generate_table_ddl,\n" +
		"generate_database_schema, test_connection.",
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := s.handler()
	if err != nil {
		return err
	}

	srv, err := qwmcp.New(qwmcp.Config{
		Handler:   h,
		Inspector: s.inspector,
		Pinger:    s.exec,
		Dialect:   string(s.exec.Dialect()),
		Version:   version,
		Logger:    s.log,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintln(os.Stderr, "querywatch MCP server running on stdio")
	s.log.Info("mcp started",
		zap.String("database", s.cfg.Database.String()),
		zap.String("policy_hash", h.Policy().Hash()),
		zap.Bool("interpreter", s.interp != nil))

	return srv.Run(ctx)
}
