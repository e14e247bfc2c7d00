package eval

import (
	"strings"

	"github.com/expr-lang/expr"
)

// ExprEvaluator implements Evaluator by embedding github.com/expr-lang/expr,
// a general-purpose expression scripting language — the "one concrete
// implementation embeds a scripting sublanguage" the spec calls for.
type ExprEvaluator struct{}

// New returns an expr-lang-backed Evaluator.
func New() *ExprEvaluator {
	return &ExprEvaluator{}
}

func (ExprEvaluator) Evaluate(src string, env map[string]interface{}) (interface{}, error) {
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, classifyCompileError(src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, &Error{Kind: KindOther, Expr: src, Err: err}
	}
	return out, nil
}

// RunPrelude treats code as a sequence of "name = expression" lines — the
// same shape as a rule file's own attribute assignments — evaluating each
// right-hand side against the bindings accumulated so far and storing the
// result under name. expr-lang/expr is an expression language with no
// built-in notion of a statement block that mutates an outer scope, so this
// is the narrowest useful reading of "execute a code block and mutate env
// with any bindings it defines" (documented in DESIGN.md).
func (e ExprEvaluator) RunPrelude(code string, env map[string]interface{}) error {
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, rhs, ok := strings.Cut(line, "=")
		if !ok {
			return &Error{Kind: KindSyntax, Expr: line, Err: errNoAssignment}
		}
		name = strings.TrimSpace(name)
		val, err := e.Evaluate(strings.TrimSpace(rhs), env)
		if err != nil {
			return err
		}
		env[name] = val
	}
	return nil
}

var errNoAssignment = preludeErr("prelude line is not a \"name = expression\" assignment")

type preludeErr string

func (e preludeErr) Error() string { return string(e) }

// classifyCompileError sniffs expr-lang/expr's compile error text to decide
// whether it names an unresolvable identifier (KindName) or is malformed
// some other way (KindSyntax). expr-lang does not export a typed
// distinction for this, so the heuristic is documented here and in
// DESIGN.md rather than assumed silently.
func classifyCompileError(src string, err error) *Error {
	msg := err.Error()
	if strings.Contains(msg, "unknown name") || strings.Contains(msg, "undefined") {
		return &Error{Kind: KindName, Expr: src, Err: err}
	}
	return &Error{Kind: KindSyntax, Expr: src, Err: err}
}
