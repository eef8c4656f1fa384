package classify

import "strings"

// tableIntroducers are keywords directly followed by a table reference.
var tableIntroducers = map[string]bool{
	"FROM":     true,
	"JOIN":     true,
	"INTO":     true,
	"UPDATE":   true,
	"TABLE":    true,
	"TRUNCATE": true,
	"DESCRIBE": true,
}

// tableModifiers may sit between an introducer and the table name.
var tableModifiers = map[string]bool{
	"IF":            true,
	"NOT":           true,
	"EXISTS":        true,
	"ONLY":          true,
	"LOW_PRIORITY":  true,
	"HIGH_PRIORITY": true,
	"DELAYED":       true,
	"IGNORE":        true,
	"QUICK":         true,
	"LATERAL":       true,
}

// reserved words are never taken as a table name or alias.
var reserved = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "SET": true, "VALUES": true, "VALUE": true,
	"ON": true, "USING": true, "AS": true, "JOIN": true, "LEFT": true, "RIGHT": true,
	"INNER": true, "OUTER": true, "CROSS": true, "NATURAL": true, "FULL": true,
	"STRAIGHT_JOIN": true, "GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"OFFSET": true, "FETCH": true, "UNION": true, "INTERSECT": true, "EXCEPT": true,
	"INTO": true, "TABLE": true, "FOR": true, "LOCK": true, "WINDOW": true,
	"RETURNING": true, "PARTITION": true, "DUAL": true, "DEFAULT": true,
	"USE": true, "FORCE": true, "INDEX": true, "KEY": true, "OUTFILE": true, "DUMPFILE": true,
}

// extractTables is best effort: names following FROM, JOIN, INTO, UPDATE and
// DDL TABLE, plus comma lists after FROM. Results are de-duplicated
// case-insensitively in first-seen order.
func extractTables(tokens []token) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(name string) {
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, name)
	}

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.kind != tokWord || !tableIntroducers[t.value] {
			continue
		}
		j := i + 1
		for j < len(tokens) && tokens[j].kind == tokWord && tableModifiers[tokens[j].value] {
			j++
		}
		name, next := tableName(tokens, j)
		if name == "" {
			continue
		}
		add(name)
		if t.value != "FROM" {
			i = next - 1
			continue
		}
		// FROM a, b AS x, c
		for {
			next = skipAlias(tokens, next)
			if next >= len(tokens) || tokens[next].value != "," || tokens[next].kind != tokSymbol {
				break
			}
			name, next = tableName(tokens, next+1)
			if name == "" {
				break
			}
			add(name)
		}
		i = next - 1
	}
	return out
}

// tableName reads an optionally schema-qualified name starting at tokens[i]
// and returns it with the index of the first token after it.
func tableName(tokens []token, i int) (string, int) {
	var parts []string
	for {
		if i >= len(tokens) {
			break
		}
		t := tokens[i]
		switch {
		case t.kind == tokQuotedIdent:
			parts = append(parts, t.value)
		case t.kind == tokWord && !reserved[t.value]:
			parts = append(parts, t.raw)
		default:
			return strings.Join(parts, "."), i
		}
		i++
		if i < len(tokens) && tokens[i].kind == tokSymbol && tokens[i].value == "." {
			i++
			continue
		}
		break
	}
	return strings.Join(parts, "."), i
}

func skipAlias(tokens []token, i int) int {
	if i < len(tokens) && tokens[i].isWord("AS") {
		i++
	}
	if i < len(tokens) {
		t := tokens[i]
		if t.kind == tokQuotedIdent || (t.kind == tokWord && !reserved[t.value]) {
			i++
		}
	}
	return i
}
