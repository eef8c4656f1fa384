package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/pipeline"
)

var askFormat string

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askFormat, "format", "f", formatText, "Output format (text|json)")
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question in plain language",
	Long: "The configured interpreter turns the question into one SQL statement,\n" +
		"which then goes through the gate like any other. If the database rejects\n" +
		"it, the interpreter gets one chance to correct it.\n\n" +
		"Without arguments, starts an interactive session. Type :last to show the\n" +
		"previous statement and :quit to leave.",
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := s.handler()
	if err != nil {
		return err
	}

	if len(args) > 0 {
		resp := h.Ask(ctx, strings.Join(args, " "))
		if err := renderResponse(resp, askFormat); err != nil {
			return err
		}
		if code := exitCode(resp); code != 0 {
			s.Close()
			os.Exit(code)
		}
		return nil
	}
	return interactive(ctx, h, os.Stdin)
}

// interactive reads one question per line until EOF or :quit.
func interactive(ctx context.Context, h *pipeline.Handler, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("querywatch> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case ":quit", ":exit":
			return nil
		case ":last":
			e, ok := h.History().Last()
			if !ok {
				pterm.Info.Println("no statement executed yet")
				continue
			}
			pterm.DefaultBox.WithTitle(e.Status).Println(e.SQL)
			continue
		}

		resp := h.Ask(ctx, line)
		if err := renderResponse(resp, askFormat); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
