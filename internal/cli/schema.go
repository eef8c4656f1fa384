package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var schemaFormat string

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaTablesCmd)
	schemaCmd.AddCommand(schemaInfoCmd)
	schemaCmd.AddCommand(schemaDDLCmd)
	schemaCmd.PersistentFlags().StringVarP(&schemaFormat, "format", "f", formatText, "Output format (text|json)")
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect tables and DDL",
	Long:  "Introspection queries run through the gate under a read-only policy.\nDenylisted tables are never described.",
}

var schemaTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables",
	Args:  cobra.NoArgs,
	RunE:  runSchemaTables,
}

var schemaInfoCmd = &cobra.Command{
	Use:   "info <table>",
	Short: "Show the columns of a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaInfo,
}

var schemaDDLCmd = &cobra.Command{
	Use:   "ddl [table]",
	Short: "Print CREATE TABLE for one table, or for every table",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSchemaDDL,
}

func withSession(fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func runSchemaTables(cmd *cobra.Command, args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		tables, err := s.inspector.ListTables(ctx)
		if err != nil {
			return err
		}
		if schemaFormat == formatJSON {
			return printJSON(os.Stdout, tables)
		}
		items := make([]pterm.BulletListItem, len(tables))
		for i, t := range tables {
			items[i] = pterm.BulletListItem{Level: 0, Text: t}
		}
		return pterm.DefaultBulletList.WithItems(items).Render()
	})
}

func runSchemaInfo(cmd *cobra.Command, args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		t, err := s.inspector.TableInfo(ctx, args[0])
		if err != nil {
			return err
		}
		if schemaFormat == formatJSON {
			return printJSON(os.Stdout, t)
		}
		data := pterm.TableData{{"column", "type", "null", "key", "default"}}
		for _, c := range t.Columns {
			null := "NO"
			if c.Nullable {
				null = "YES"
			}
			data = append(data, []string{c.Name, c.Type, null, c.Key, c.Default})
		}
		return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
	})
}

func runSchemaDDL(cmd *cobra.Command, args []string) error {
	return withSession(func(ctx context.Context, s *session) error {
		var (
			ddl string
			err error
		)
		if len(args) == 1 {
			ddl, err = s.inspector.TableDDL(ctx, args[0])
		} else {
			ddl, err = s.inspector.DatabaseDDL(ctx)
		}
		if err != nil {
			return err
		}
		if schemaFormat == formatJSON {
			return printJSON(os.Stdout, map[string]string{"ddl": ddl})
		}
		fmt.Println(ddl)
		return nil
	})
}
