package produce

import (
	"errors"
	"strings"

	"github.com/kbrook/produce/internal/eval"
)

// InterpOptions tunes how Interpolate treats name-resolution failures and
// escape sequences, per spec §4.1.
type InterpOptions struct {
	// IgnoreUndefined reinserts an unresolved %{...} hole verbatim instead
	// of failing, used for patterns (§4.3) and the first globals pass.
	IgnoreUndefined bool
	// KeepEscaped preserves %% verbatim instead of collapsing it to a
	// literal %, used when the result will be rescanned as a pattern.
	KeepEscaped bool
}

var errUnparseableExpression = errors.New("unparseable expression")

// Interpolate expands %{...} holes and %% escapes in tmpl against env,
// left to right, per spec §4.1.
func Interpolate(tmpl string, env Env, evaluator eval.Evaluator, opts InterpOptions) (string, error) {
	var out strings.Builder
	envMap := env.Map()

	i := 0
	for i < len(tmpl) {
		c := tmpl[i]
		if c != '%' {
			out.WriteByte(c)
			i++
			continue
		}

		if i+1 >= len(tmpl) {
			return "", errors.New("interpolate: bare % at end of input")
		}

		switch tmpl[i+1] {
		case '%':
			if opts.KeepEscaped {
				out.WriteString("%%")
			} else {
				out.WriteByte('%')
			}
			i += 2
			continue
		case '{':
			expr, val, consumed, err := evalHole(tmpl[i+2:], envMap, evaluator)
			if err != nil {
				if opts.IgnoreUndefined {
					var ee *eval.Error
					if errors.As(err, &ee) && ee.Kind == eval.KindName {
						out.WriteString("%{" + expr + "}")
						i += 2 + consumed
						continue
					}
				}
				return "", err
			}
			out.WriteString(stringifyValue(val))
			i += 2 + consumed
			continue
		default:
			return "", errors.New("interpolate: bare % not followed by % or {")
		}
	}

	return out.String(), nil
}

// evalHole discovers the closing brace of a %{...} hole starting right
// after "%{" (rest) by trial evaluation: try successive candidate closing
// positions, parenthesizing the enclosed substring to accept tuple forms,
// and stop at the first position that is not a syntax error. It returns
// the expression text tried, the evaluated value, and how many bytes of
// rest were consumed (including the closing '}').
func evalHole(rest string, env map[string]interface{}, evaluator eval.Evaluator) (expr string, val interface{}, consumed int, err error) {
	var lastErr error
	searchFrom := 0
	for {
		idx := strings.IndexByte(rest[searchFrom:], '}')
		if idx < 0 {
			break
		}
		pos := searchFrom + idx
		candidate := rest[:pos]

		v, evalErr := evaluator.Evaluate("("+candidate+")", env)
		if evalErr == nil {
			return candidate, v, pos + 1, nil
		}

		var ee *eval.Error
		if errors.As(evalErr, &ee) && ee.Kind == eval.KindSyntax {
			lastErr = evalErr
			searchFrom = pos + 1
			continue
		}

		return candidate, nil, pos + 1, evalErr
	}

	if lastErr != nil {
		return "", nil, 0, lastErr
	}
	return "", nil, 0, errUnparseableExpression
}
