package produce

import (
	"fmt"
	"strings"
)

// Value is anything the expression evaluator can yield: a string, a sequence
// of strings, or some other type that gets stringified on insertion.
type Value interface{}

// stringifyValue renders a Value for insertion into an interpolated string.
// A string is inserted verbatim; a sequence of strings is shell-quoted and
// whitespace-joined; anything else is stringified with fmt.Sprint.
func stringifyValue(v Value) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return quoteJoin(t)
	case []interface{}:
		words := make([]string, len(t))
		for i, e := range t {
			words[i] = fmt.Sprint(e)
		}
		return quoteJoin(words)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func quoteJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = shellQuote(w)
	}
	return strings.Join(quoted, " ")
}

// shellQuote wraps s in single quotes, escaping embedded single quotes the
// standard POSIX way. None of the retrieved go-shellwords-style libraries
// expose a quoting primitive (only splitting), so this one narrow function
// is hand-written.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.' || r == '/' || r == ':' || r == '+' || r == '=' || r == ',':
		default:
			return false
		}
	}
	return true
}

// isTruthy evaluates a value "as a literal" the way §4.4 requires for the
// cond attribute: empty, "0", and "false" (case-insensitive) are falsey,
// everything else is truthy.
func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false":
		return false
	}
	return true
}
