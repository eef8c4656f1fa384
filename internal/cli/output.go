package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"

	"github.com/ppiankov/querywatch/internal/model"
	"github.com/ppiankov/querywatch/internal/pipeline"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
)

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// renderResponse prints the statements attempted and the final result.
func renderResponse(resp pipeline.Response, format string) error {
	if format == formatJSON {
		return printJSON(os.Stdout, resp)
	}

	for _, a := range resp.Attempts {
		label := "SQL"
		if a.Number > 1 {
			label = fmt.Sprintf("SQL (correction %d)", a.Number-1)
		}
		pterm.DefaultBox.WithTitle(label).Println(a.SQL)
		if !a.Allowed {
			pterm.Warning.Printfln("denied by %s: %s", a.PolicyID, a.Reason)
		} else if a.Capped {
			pterm.Info.Printfln("row cap applied: %s", a.Executed)
		}
	}

	out := resp.Outcome
	if f := out.Failure; f != nil {
		pterm.Error.Printfln("%s: %s", f.Kind, f.Message)
		if resp.RateLimited {
			pterm.Info.Println("The interpreter is rate limited; try again shortly.")
		}
		return nil
	}

	if len(out.Columns) == 0 {
		pterm.Success.Printfln("%d rows affected (%s)", out.RowsAffected, out.Elapsed)
		return nil
	}
	if err := renderTable(out.Columns, out.Rows); err != nil {
		return err
	}
	suffix := ""
	if out.Truncated {
		suffix = ", truncated"
	}
	pterm.Info.Printfln("%d rows (%s%s)", out.RowCount, out.Elapsed, suffix)
	return nil
}

func renderTable(columns []string, rows [][]any) error {
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, columns)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		data = append(data, cells)
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}

// exitBlocked is the status for a statement the gate refused.
const exitBlocked = 77

// exitCode maps a response to the process status.
func exitCode(resp pipeline.Response) int {
	switch {
	case resp.OK():
		return 0
	case resp.Outcome.Failure.Kind == model.KindPolicyDenied:
		return exitBlocked
	}
	return 1
}
