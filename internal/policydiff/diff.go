// Package policydiff compares two execution policies, and optionally two
// denylists, and says which way each change moves: stricter or looser.
package policydiff

import (
	"sort"
	"strconv"

	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/policy"
)

// Direction values for Change.Comment.
const (
	Stricter = "stricter"
	Looser   = "looser"
)

// Change is one difference between the old and new configuration.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment"`
}

// DiffResult holds the comparison.
type DiffResult struct {
	OldPath    string   `json:"old_path"`
	NewPath    string   `json:"new_path"`
	Changes    []Change `json:"changes"`
	HasChanges bool     `json:"has_changes"`

	// Looser is set when any change widens what the gate lets through.
	Looser bool `json:"looser"`
}

// Diff compares two policy configs. Either denylist may be nil, in which
// case denylists are not compared.
func Diff(old, new *policy.Config, oldDL, newDL *denylist.Denylist) *DiffResult {
	r := &DiffResult{}

	if old.AllowMutations != new.AllowMutations {
		dir := Stricter
		if new.AllowMutations {
			dir = Looser
		}
		r.add("allow_mutations", strconv.FormatBool(old.AllowMutations), strconv.FormatBool(new.AllowMutations), dir)
	}
	diffInt(r, "max_rows", old.MaxRows, new.MaxRows)
	diffInt(r, "timeout_ms", old.TimeoutMS, new.TimeoutMS)
	diffSet(r, "allowed_operation_classes", old.AllowedOperationClasses, new.AllowedOperationClasses, Looser)

	if oldDL != nil && newDL != nil {
		op, np := oldDL.Patterns(), newDL.Patterns()
		diffSet(r, "denylist.tables", op.Tables, np.Tables, Stricter)
		diffSet(r, "denylist.statements", op.Statements, np.Statements, Stricter)
	}

	r.HasChanges = len(r.Changes) > 0
	return r
}

func (r *DiffResult) add(field, old, new, dir string) {
	r.Changes = append(r.Changes, Change{Field: field, Old: old, New: new, Comment: dir})
	if dir == Looser {
		r.Looser = true
	}
}

// diffInt treats a larger value as looser: more rows, more time.
func diffInt(r *DiffResult, field string, old, new int) {
	if old == new {
		return
	}
	dir := Stricter
	if new > old {
		dir = Looser
	}
	r.add(field, strconv.Itoa(old), strconv.Itoa(new), dir)
}

// diffSet reports added and removed members. addedDir is the direction of
// an addition; a removal goes the other way.
func diffSet(r *DiffResult, field string, old, new []string, addedDir string) {
	removedDir := Stricter
	if addedDir == Stricter {
		removedDir = Looser
	}
	oldSet, newSet := toSet(old), toSet(new)
	for _, k := range sortedKeys(newSet) {
		if !oldSet[k] {
			r.add(field, "", k, addedDir)
		}
	}
	for _, k := range sortedKeys(oldSet) {
		if !newSet[k] {
			r.add(field, k, "", removedDir)
		}
	}
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
