package produce

import (
	"regexp"
	"strings"

	"github.com/kbrook/produce/internal/eval"
)

// Pattern is a compiled rule head: either a raw regular expression or a
// template whose %{name} holes became named capture groups. Both forms
// reduce to the same matcher shape per §4.3.
type Pattern struct {
	re    *regexp.Regexp
	names []string // SubexpNames(), index-aligned with re's capture groups
}

// Match reports whether target matches the pattern and, if so, returns the
// named captures keyed by capture-group name (groups with no name are
// skipped).
func (p *Pattern) Match(target string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(target)
	if m == nil {
		return nil, false
	}
	caps := make(map[string]string, len(p.names))
	for i, name := range p.names {
		if name == "" || i >= len(m) {
			continue
		}
		caps[name] = m[i]
	}
	return caps, true
}

// CaptureNames returns the non-empty capture-group names, for seeding an
// Env with empty-string defaults before a match is known (§4.4 step 2).
func (p *Pattern) CaptureNames() []string {
	var names []string
	for _, n := range p.names {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// CompilePattern compiles a rule head per §4.3: a slash-delimited string is
// a raw regular expression; anything else is a %{name}-hole template,
// first expanded against globals in ignore-undefined/keep-escaped mode so
// globally bound holes resolve before the remainder becomes capture groups.
func CompilePattern(head string, globals Env, evaluator eval.Evaluator) (*Pattern, error) {
	if len(head) >= 2 && strings.HasPrefix(head, "/") && strings.HasSuffix(head, "/") {
		raw := head[1 : len(head)-1]
		re, err := regexp.Compile("^(?:" + raw + ")$")
		if err != nil {
			return nil, err
		}
		return &Pattern{re: re, names: re.SubexpNames()}, nil
	}

	expanded, err := Interpolate(head, globals, evaluator, InterpOptions{IgnoreUndefined: true, KeepEscaped: true})
	if err != nil {
		return nil, err
	}

	var reSrc strings.Builder
	reSrc.WriteString("^(?:")
	runes := []rune(expanded)
	i := 0
	for i < len(runes) {
		switch {
		case runes[i] == '%' && i+1 < len(runes) && runes[i+1] == '%':
			reSrc.WriteString(regexp.QuoteMeta("%"))
			i += 2
		case runes[i] == '%' && i+1 < len(runes) && runes[i+1] == '{':
			rest := string(runes[i+2:])
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				reSrc.WriteString(regexp.QuoteMeta(string(runes[i:])))
				i = len(runes)
				continue
			}
			name := rest[:end]
			reSrc.WriteString("(?P<" + name + ">.*)")
			i += 2 + len([]rune(name)) + 1
		default:
			reSrc.WriteString(regexp.QuoteMeta(string(runes[i])))
			i++
		}
	}
	reSrc.WriteString(")$")

	re, err := regexp.Compile(reSrc.String())
	if err != nil {
		return nil, err
	}
	return &Pattern{re: re, names: re.SubexpNames()}, nil
}
