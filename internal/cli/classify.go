package cli

import (
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/classify"
	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/policy"
)

var (
	classifyFormat  string
	classifyDialect string
)

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVarP(&classifyFormat, "format", "f", formatText, "Output format (text|json)")
	classifyCmd.Flags().StringVar(&classifyDialect, "dialect", "", "Lexical rules (mysql|postgres|sqlite); defaults to the configured database")
}

var classifyCmd = &cobra.Command{
	Use:   "classify <sql>",
	Short: "Show how a statement is classified and what the gate decides",
	Long: "Runs the classifier and the gate without touching the database.\n" +
		"Exit code 77 if the statement would be refused.",
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

// classifyReport is the classify output.
type classifyReport struct {
	Class     string   `json:"class"`
	Keyword   string   `json:"keyword,omitempty"`
	Tables    []string `json:"tables,omitempty"`
	HasLimit  bool     `json:"has_limit"`
	Allowed   bool     `json:"allowed"`
	PolicyID  string   `json:"policy_id"`
	Reason    string   `json:"reason,omitempty"`
	Statement string   `json:"statement,omitempty"`
	Capped    bool     `json:"capped,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	p, err := policy.Load(cfg.Policy)
	if err != nil {
		return err
	}
	dl, err := denylist.Load(cfg.Denylist)
	if err != nil {
		return err
	}

	dialect := classifyDialect
	if dialect == "" {
		dialect = cfg.Database.Dialect
	}
	stmt := classify.ClassifyWith(strings.Join(args, " "), classify.Options{Dialect: dialect})
	d := policy.Authorize(stmt, p, dl)
	report := classifyReport{
		Class:     string(stmt.Class),
		Keyword:   stmt.Keyword,
		Tables:    stmt.Tables,
		HasLimit:  stmt.HasRowLimit,
		Allowed:   d.Allowed(),
		PolicyID:  d.PolicyID(),
		Reason:    d.Reason(),
		Statement: d.Statement(),
		Capped:    d.Capped(),
	}

	if classifyFormat == formatJSON {
		if err := printJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		decision := pterm.Green("allow")
		if !report.Allowed {
			decision = pterm.Red("deny")
		}
		tables := strings.Join(report.Tables, ", ")
		if tables == "" {
			tables = "-"
		}
		data := pterm.TableData{
			{"class", report.Class},
			{"tables", tables},
			{"decision", decision},
			{"policy", report.PolicyID},
		}
		if report.Reason != "" {
			data = append(data, []string{"reason", report.Reason})
		}
		if report.Allowed {
			data = append(data, []string{"executes", report.Statement})
		}
		if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
			return err
		}
	}

	if !report.Allowed {
		os.Exit(exitBlocked)
	}
	return nil
}
