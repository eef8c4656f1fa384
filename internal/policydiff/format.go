package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText lists looser changes first, since those are the ones a
// reviewer has to sign off on, then stricter ones.
func FormatText(r *DiffResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s\n", r.OldPath, r.NewPath)
	if !r.HasChanges {
		b.WriteString("No changes detected.\n")
		return b.String()
	}

	counts := map[string]int{}
	for _, dir := range []string{Looser, Stricter} {
		for _, c := range r.Changes {
			if c.Comment != dir {
				continue
			}
			counts[dir]++
			marker := " "
			if dir == Looser {
				marker = "!"
			}
			fmt.Fprintf(&b, "%s %-9s %-28s %s\n", marker, dir, c.Field, describe(c))
		}
	}
	fmt.Fprintf(&b, "%d looser, %d stricter\n", counts[Looser], counts[Stricter])
	return b.String()
}

func describe(c Change) string {
	switch {
	case c.Old == "":
		return "added " + c.New
	case c.New == "":
		return "removed " + c.Old
	}
	return c.Old + " -> " + c.New
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}
