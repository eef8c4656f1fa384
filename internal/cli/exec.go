package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var execFormat string

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().StringVarP(&execFormat, "format", "f", formatText, "Output format (text|json)")
}

var execCmd = &cobra.Command{
	Use:     "exec [sql | -]",
	Aliases: []string{"run"},
	Short:   "Run one SQL statement through the gate",
	Long: "Classifies the statement, checks it against policy and the denylist,\n" +
		"applies the row cap and runs it under the policy timeout.\n" +
		"With \"-\" or no argument and piped input, the statement is read from stdin.\n" +
		"Exit code 77 indicates a policy block.",
	RunE: runExec,
}

// statementArg joins args into one statement, reading stdin for "-" or when
// nothing was given and stdin is not a terminal.
func statementArg(args []string, stdin io.Reader, interactive bool) (string, error) {
	fromStdin := (len(args) == 1 && args[0] == "-") || (len(args) == 0 && !interactive)
	if !fromStdin {
		if len(args) == 0 {
			return "", errors.New("no statement given")
		}
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read statement: %w", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", errors.New("empty statement on stdin")
	}
	return sql, nil
}

func runExec(cmd *cobra.Command, args []string) error {
	sql, err := statementArg(args, os.Stdin, term.IsTerminal(int(os.Stdin.Fd())))
	if err != nil {
		return err
	}

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

	resp := h.Run(ctx, sql)
	if err := renderResponse(resp, execFormat); err != nil {
		return err
	}
	if code := exitCode(resp); code != 0 {
		s.Close()
		os.Exit(code)
	}
	return nil
}
