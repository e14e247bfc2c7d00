package produce

import (
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/kbrook/produce/internal/eval"
	"github.com/kbrook/produce/internal/ruleparser"
)

// RawRule is one uninstantiated [head] section: a compiled pattern plus its
// ordered attribute-value pairs, straight from the rule file (§3).
type RawRule struct {
	Pattern *Pattern
	Attrs   []ruleparser.AttrPair
	Line    int
}

// Irule is an instantiated rule (§3): every attribute interpolated to a
// concrete string, keyed by its full (possibly dotted) name, plus the
// mandatory target and derived type.
type Irule struct {
	Target string
	Type   string // "file" or "task"
	Attrs  map[string]string
	Order  []string // attribute names in declaration order
}

// Recipe returns the rule's recipe text and whether one was declared.
func (ir *Irule) Recipe() (string, bool) {
	r, ok := ir.Attrs["recipe"]
	return r, ok
}

// Shell returns the interpreter to invoke the recipe with, defaulting to
// bash (§6 "Recipe execution").
func (ir *Irule) Shell() string {
	if s, ok := ir.Attrs["shell"]; ok && s != "" {
		return s
	}
	return "bash"
}

// DepfilePath returns the rule's depfile attribute, if declared.
func (ir *Irule) DepfilePath() (string, bool) {
	p, ok := ir.Attrs["depfile"]
	return p, ok && p != ""
}

// Outputs returns the whitespace-quoted list in the outputs attribute.
func (ir *Irule) Outputs() ([]string, error) {
	raw, ok := ir.Attrs["outputs"]
	if !ok || raw == "" {
		return nil, nil
	}
	return shellwords.NewParser().Parse(raw)
}

// ExtractDeps returns the direct dependencies of ir in declared order
// (§4.4): depfile contents first (already read and passed in by the
// caller, which must have built the depfile synchronously beforehand),
// then every dep.* attribute in declaration order, then the whitespace-
// quoted tokens of deps.
func (ir *Irule) ExtractDeps(depfileLines []string) ([]string, error) {
	var deps []string
	deps = append(deps, depfileLines...)

	for _, name := range ir.Order {
		if strings.HasPrefix(name, "dep.") {
			deps = append(deps, ir.Attrs[name])
		}
	}

	if raw, ok := ir.Attrs["deps"]; ok && raw != "" {
		tokens, err := shellwords.NewParser().Parse(raw)
		if err != nil {
			return nil, &ConfigError{Msg: "malformed deps list for " + ir.Target, Err: err}
		}
		deps = append(deps, tokens...)
	}

	return deps, nil
}

// InstantiateRule finds the first rule in rules whose pattern matches
// target and builds its irule (§4.4). If no rule matches, a target that
// names an existing filesystem path gets a synthetic ingredient irule;
// otherwise instantiation fails.
func InstantiateRule(target string, rules []RawRule, globals Env, evaluator eval.Evaluator, fileExists func(string) bool) (*Irule, error) {
	for _, r := range rules {
		caps, ok := r.Pattern.Match(target)
		if !ok {
			continue
		}

		env := NewEnv(globals)
		for _, name := range r.Pattern.CaptureNames() {
			env[name] = ""
		}
		for k, v := range caps {
			env[k] = v
		}
		env["target"] = target

		attrs := make(map[string]string, len(r.Attrs))
		order := make([]string, 0, len(r.Attrs))

		for _, pair := range r.Attrs {
			if pair.Name == "target" {
				return nil, &ConfigError{Msg: "rule for " + r.Pattern.re.String() + " attempts to reassign target"}
			}
			val, err := Interpolate(pair.Value, env, evaluator, InterpOptions{})
			if err != nil {
				return nil, &ConfigError{Msg: "interpolating " + pair.Name + " for target " + target, Err: err}
			}
			attrs[pair.Name] = val
			order = append(order, pair.Name)
			env[lastSegment(pair.Name)] = val
		}

		if cond, ok := attrs["cond"]; ok && !isTruthy(cond) {
			continue
		}

		typ := attrs["type"]
		switch typ {
		case "":
			typ = "file"
		case "task", "file":
		default:
			return nil, &ConfigError{Msg: "unknown rule type " + strings.TrimSpace(typ) + " for target " + target}
		}

		return &Irule{Target: target, Type: typ, Attrs: attrs, Order: order}, nil
	}

	if fileExists(target) {
		return &Irule{
			Target: target,
			Type:   "file",
			Attrs:  map[string]string{},
		}, nil
	}

	return nil, &ResolutionError{Target: target, Msg: "no rule to produce " + target}
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
