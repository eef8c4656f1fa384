package classify

import (
	"errors"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokString
	tokQuotedIdent
	tokSymbol
	tokTerminator
)

// token is one significant lexeme. Comments and whitespace never produce tokens.
type token struct {
	kind  tokenKind
	raw   string // exact source text
	value string // upper-cased for words, unquoted for strings and identifiers
	start int
	end   int
	depth int // parenthesis depth at the token (an opening paren carries the outer depth)
}

func (t token) isWord(w string) bool {
	return t.kind == tokWord && t.value == w
}

// lexResult is the token stream plus the end offset of the last significant token
// that belongs to the statement body (terminator excluded).
type lexResult struct {
	tokens  []token
	bodyEnd int
}

var (
	errEmpty              = errors.New("empty statement")
	errUnterminatedString = errors.New("unterminated string literal")
	errUnterminatedIdent  = errors.New("unterminated quoted identifier")
	errUnterminatedBlock  = errors.New("unterminated block comment")
	errUnterminatedDollar = errors.New("unterminated dollar-quoted string")
	errExecutableComment  = errors.New("executable comment not allowed")
	errUnbalancedClose    = errors.New("unbalanced parentheses: unexpected ')'")
	errUnbalancedOpen     = errors.New("unbalanced parentheses: missing ')'")
	errMultipleStatements = errors.New("multiple statements")

	// Without a dialect these constructs lex differently per engine.
	errAmbiguousBackslash = errors.New("backslash in a literal is ambiguous without a dialect")
	errAmbiguousComment   = errors.New("comment syntax is ambiguous without a dialect")
	errAmbiguousDollar    = errors.New("dollar quoting is ambiguous without a dialect")
	errAmbiguousBracket   = errors.New("bracketed text with quotes is ambiguous without a dialect")
)

// lexRules are the dialect-specific lexical rules. The zero value is the
// strict reading, which refuses every construct the engines disagree on.
type lexRules struct {
	backslash     bool // backslash escapes inside '...' and "..."
	hashComment   bool // # starts a line comment
	dashNeedsCtrl bool // -- starts a comment only when followed by whitespace
	nestedBlock   bool // /* */ comments nest
	dollarQuote   bool // $tag$...$tag$ strings
	escapeString  bool // E'...' strings take backslash escapes
	bracketIdent  bool // [name] quotes an identifier
	strict        bool
}

func rulesFor(dialect string) lexRules {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "mysql", "mariadb":
		return lexRules{backslash: true, hashComment: true, dashNeedsCtrl: true}
	case "postgres", "postgresql", "pg":
		return lexRules{nestedBlock: true, dollarQuote: true, escapeString: true}
	case "sqlite", "sqlite3":
		return lexRules{bracketIdent: true}
	}
	return lexRules{strict: true}
}

// lex scans text into tokens. Any lexical fault is returned as an error;
// the caller turns it into a MALFORMED classification.
func lex(text string, rules lexRules) (lexResult, error) {
	var (
		res        lexResult
		depth      int
		terminated bool
	)
	emit := func(t token) error {
		if terminated {
			return errMultipleStatements
		}
		t.depth = depth
		res.tokens = append(res.tokens, t)
		if t.kind != tokTerminator {
			res.bodyEnd = t.end
		}
		return nil
	}

	i := 0
	n := len(text)
	for i < n {
		c := text[i]
		switch {
		case isSpace(c):
			i++

		case c == '-' && i+1 < n && text[i+1] == '-' && (!rules.dashNeedsCtrl || i+2 >= n || isCtrl(text[i+2])):
			if rules.strict && i+2 < n && !isCtrl(text[i+2]) {
				return res, errAmbiguousComment
			}
			i = lineEnd(text, i)

		case c == '#' && (rules.hashComment || rules.strict):
			if rules.strict {
				return res, errAmbiguousComment
			}
			i = lineEnd(text, i)

		case c == '/' && i+1 < n && text[i+1] == '*':
			end, err := scanBlock(text, i, rules)
			if err != nil {
				return res, err
			}
			i = end

		case (c == 'E' || c == 'e') && rules.escapeString && i+1 < n && text[i+1] == '\'' && !prevIsWordByte(text, i):
			end, ok := scanQuoted(text, i+1, '\'', true)
			if !ok {
				return res, errUnterminatedString
			}
			if err := emit(token{kind: tokString, raw: text[i:end], value: unquote(text[i+1:end], '\''), start: i, end: end}); err != nil {
				return res, err
			}
			i = end

		case c == '\'' || c == '"':
			end, ok := scanQuoted(text, i, c, rules.backslash)
			if !ok {
				return res, errUnterminatedString
			}
			if rules.strict && strings.IndexByte(text[i:end], '\\') >= 0 {
				return res, errAmbiguousBackslash
			}
			kind := tokString
			if c == '"' {
				// Double quotes delimit identifiers in PostgreSQL and SQLite and
				// strings in MySQL; table extraction accepts either reading.
				kind = tokQuotedIdent
			}
			if err := emit(token{kind: kind, raw: text[i:end], value: unquote(text[i:end], c), start: i, end: end}); err != nil {
				return res, err
			}
			i = end

		case c == '`':
			end, ok := scanQuoted(text, i, c, false)
			if !ok {
				return res, errUnterminatedIdent
			}
			if err := emit(token{kind: tokQuotedIdent, raw: text[i:end], value: unquote(text[i:end], c), start: i, end: end}); err != nil {
				return res, err
			}
			i = end

		case c == '[' && rules.bracketIdent:
			end := strings.IndexByte(text[i+1:], ']')
			if end < 0 {
				return res, errUnterminatedIdent
			}
			stop := i + 1 + end + 1
			if err := emit(token{kind: tokQuotedIdent, raw: text[i:stop], value: text[i+1 : stop-1], start: i, end: stop}); err != nil {
				return res, err
			}
			i = stop

		case c == '[' && rules.strict:
			if end := strings.IndexByte(text[i+1:], ']'); end >= 0 && bracketHides(text[i+1:i+1+end]) {
				return res, errAmbiguousBracket
			}
			if err := emit(token{kind: tokSymbol, raw: "[", value: "[", start: i, end: i + 1}); err != nil {
				return res, err
			}
			i++

		case c == '$' && dollarTag(text[i:]) != "" && (rules.dollarQuote || rules.strict):
			if rules.strict {
				return res, errAmbiguousDollar
			}
			tag := dollarTag(text[i:])
			end := strings.Index(text[i+len(tag):], tag)
			if end < 0 {
				return res, errUnterminatedDollar
			}
			stop := i + len(tag) + end + len(tag)
			if err := emit(token{kind: tokString, raw: text[i:stop], value: text[i+len(tag) : stop-len(tag)], start: i, end: stop}); err != nil {
				return res, err
			}
			i = stop

		case c == '(':
			if err := emit(token{kind: tokSymbol, raw: "(", value: "(", start: i, end: i + 1}); err != nil {
				return res, err
			}
			depth++
			i++

		case c == ')':
			depth--
			if depth < 0 {
				return res, errUnbalancedClose
			}
			if err := emit(token{kind: tokSymbol, raw: ")", value: ")", start: i, end: i + 1}); err != nil {
				return res, err
			}
			i++

		case c == ';':
			if err := emit(token{kind: tokTerminator, raw: ";", value: ";", start: i, end: i + 1}); err != nil {
				return res, err
			}
			terminated = true
			i++

		case isDigit(c):
			start := i
			for i < n && (isWordByte(text[i]) || text[i] == '.') {
				i++
			}
			if err := emit(token{kind: tokNumber, raw: text[start:i], value: text[start:i], start: start, end: i}); err != nil {
				return res, err
			}

		case isWordStart(c):
			start := i
			for i < n && isWordByte(text[i]) {
				i++
			}
			raw := text[start:i]
			if err := emit(token{kind: tokWord, raw: raw, value: strings.ToUpper(raw), start: start, end: i}); err != nil {
				return res, err
			}

		default:
			if err := emit(token{kind: tokSymbol, raw: text[i : i+1], value: text[i : i+1], start: i, end: i + 1}); err != nil {
				return res, err
			}
			i++
		}
	}

	if depth > 0 {
		return res, errUnbalancedOpen
	}
	if len(res.tokens) == 0 || res.tokens[0].kind == tokTerminator {
		return res, errEmpty
	}
	return res, nil
}

// scanBlock returns the offset just past the block comment starting at
// text[start]. MySQL executable comments are refused under every dialect.
func scanBlock(text string, start int, rules lexRules) (int, error) {
	body := text[start+2:]
	if strings.HasPrefix(body, "!") || strings.HasPrefix(body, "M!") {
		return 0, errExecutableComment
	}
	if !rules.nestedBlock {
		end := strings.Index(body, "*/")
		if end < 0 {
			return 0, errUnterminatedBlock
		}
		if rules.strict && strings.Contains(body[:end], "/*") {
			return 0, errAmbiguousComment
		}
		return start + 2 + end + 2, nil
	}
	level := 1
	i := start + 2
	for i+1 < len(text) {
		switch {
		case text[i] == '/' && text[i+1] == '*':
			level++
			i += 2
		case text[i] == '*' && text[i+1] == '/':
			level--
			i += 2
			if level == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, errUnterminatedBlock
}

// scanQuoted returns the offset just past the closing quote of the literal
// starting at text[start]. Doubled quotes always escape; backslash escapes
// only when backslash is true.
func scanQuoted(text string, start int, q byte, backslash bool) (int, bool) {
	i := start + 1
	for i < len(text) {
		switch text[i] {
		case '\\':
			if backslash {
				i += 2
				continue
			}
		case q:
			if i+1 < len(text) && text[i+1] == q {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return 0, false
}

// bracketHides reports bracket contents that SQLite reads as a name but
// other engines would lex as quotes, comments or a terminator.
func bracketHides(inner string) bool {
	return strings.ContainsAny(inner, "'\"`;#$") || strings.Contains(inner, "--") || strings.Contains(inner, "/*")
}

func lineEnd(text string, i int) int {
	for i < len(text) && text[i] != '\n' {
		i++
	}
	return i
}

func prevIsWordByte(text string, i int) bool {
	return i > 0 && isWordByte(text[i-1])
}

func unquote(raw string, q byte) string {
	if len(raw) < 2 {
		return raw
	}
	inner := raw[1 : len(raw)-1]
	return strings.ReplaceAll(inner, string([]byte{q, q}), string(q))
}

// dollarTag returns the opening tag ("$$" or "$name$") of a PostgreSQL
// dollar-quoted string at the start of s, or "".
func dollarTag(s string) string {
	if len(s) < 2 || s[0] != '$' {
		return ""
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1]
		}
		if !(c == '_' || isLetter(c) || (i > 1 && isDigit(c))) {
			return ""
		}
	}
	return ""
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// isCtrl is whitespace or a control character, which MySQL requires after --.
func isCtrl(c byte) bool { return c <= ' ' || c == 0x7f }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isWordStart(c byte) bool {
	return isLetter(c) || c == '_' || c >= 0x80
}

func isWordByte(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}
