package produce

import (
	"context"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/mattn/go-shellwords"
	"github.com/pterm/pterm"

	"github.com/kbrook/produce/internal/eval"
	"github.com/kbrook/produce/internal/ruleparser"
)

// Options configures one Driver invocation, mirroring the CLI flags of §6.
type Options struct {
	AlwaysBuild     bool
	Debug           bool
	Jobs            int
	DryRun          bool
	Silent          bool
	PretendUpToDate []string
}

// Driver runs the top-level build sequence of §4.7 against one parsed
// rule file.
type Driver struct {
	Opts      Options
	Evaluator eval.Evaluator
}

// NewDriver returns a Driver with the expr-lang-backed evaluator.
func NewDriver(opts Options) *Driver {
	return &Driver{Opts: opts, Evaluator: eval.New()}
}

// Realize runs everything short of recipe execution: fold globals, run the
// prelude, compile rules, resolve the requested targets, and Phase 1
// (realize graph). It is the shared preparation step behind Run and the
// --graph/--why introspection commands, which stop here.
func (d *Driver) Realize(file *ruleparser.File, args []string) (*Graph, []string, error) {
	globals, err := d.foldGlobals(file.Globals())
	if err != nil {
		return nil, nil, err
	}

	if prelude, ok := globals["prelude"]; ok {
		env := globals.Map()
		if err := d.Evaluator.RunPrelude(stringifyValue(prelude), env); err != nil {
			return nil, nil, &ConfigError{Msg: "running prelude", Err: err}
		}
		for k, v := range env {
			globals[k] = v
		}
	}

	rules, err := compileRules(file.Rules(), globals, d.Evaluator)
	if err != nil {
		return nil, nil, err
	}

	targets, err := d.resolveTargets(args, globals)
	if err != nil {
		return nil, nil, err
	}
	if len(targets) == 0 {
		return nil, nil, &ConfigError{Msg: "no targets requested and no default global set"}
	}

	pretend := make(map[string]bool, len(d.Opts.PretendUpToDate))
	for _, p := range d.Opts.PretendUpToDate {
		pretend[p] = true
	}

	graph := NewGraph(rules, globals, d.Evaluator, d.Opts.AlwaysBuild, pretend, d.Opts.DryRun, d.Opts.Silent)

	var realizeErrs []error
	for _, t := range targets {
		if err := graph.AddTarget(t, nil); err != nil {
			realizeErrs = append(realizeErrs, err)
		}
	}
	if err := singleOrAggregate(realizeErrs); err != nil {
		return nil, nil, err
	}

	return graph, targets, nil
}

// singleOrAggregate returns nil for no errors, the error itself for
// exactly one (so callers can type-switch on it, e.g. *CycleError), and a
// multierror aggregate only when genuinely aggregating independent
// failures across more than one requested root target.
func singleOrAggregate(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		var agg *multierror.Error
		for _, e := range errs {
			agg = multierror.Append(agg, e)
		}
		return agg
	}
}

// Run executes phases 1–4 of §4.7 against a parsed file for the given
// requested target arguments (positional CLI args; falls back to the
// globals' default attribute, shell-quoted, when args is empty).
func (d *Driver) Run(ctx context.Context, file *ruleparser.File, args []string) error {
	graph, targets, err := d.Realize(file, args)
	if err != nil {
		return err
	}

	// Phase 2 — execute.
	buildErr := d.execute(ctx, graph, targets)

	// Phase 3 — quarantine, always runs regardless of Phase 2's outcome.
	if err := quarantine(graph); err != nil {
		if buildErr == nil {
			buildErr = err
		}
	}

	// Phase 4 — rewind for pretend-up-to-date, also unconditional: the
	// rewind touch exists so a *future* invocation still sees a
	// pretend-up-to-date dependency as stale, which matters regardless of
	// whether this invocation's build or quarantine succeeded.
	if len(d.Opts.PretendUpToDate) > 0 {
		graph.ResetRealized()
		for _, p := range d.Opts.PretendUpToDate {
			if err := graph.AddTarget(p, nil); err != nil && buildErr == nil {
				buildErr = err
			}
		}
	}

	return buildErr
}

func (d *Driver) execute(ctx context.Context, graph *Graph, targets []string) error {
	sched := NewScheduler(graph, d.Opts.Jobs)

	grp := make(chan error, len(targets))
	outcomes := make(chan Outcome, len(targets))
	for _, t := range targets {
		t := t
		go func() {
			outcome, err := sched.Build(ctx, t)
			outcomes <- outcome
			grp <- err
		}()
	}

	var buildErrs []error
	allNotBuilt := true
	for range targets {
		if err := <-grp; err != nil {
			buildErrs = append(buildErrs, err)
		}
		if outcome := <-outcomes; outcome != NotBuilt {
			allNotBuilt = false
		}
	}

	if err := singleOrAggregate(buildErrs); err != nil {
		return err
	}
	if allNotBuilt {
		pterm.Success.Println("all targets are up to date")
	}
	return nil
}

// foldGlobals interpolates each global attribute's raw value in
// declaration order, so later globals may reference earlier ones (§4.7
// phase 2).
func (d *Driver) foldGlobals(attrs []ruleparser.AttrPair) (Env, error) {
	env := Env{}
	for _, a := range attrs {
		val, err := Interpolate(a.Value, env, d.Evaluator, InterpOptions{IgnoreUndefined: true})
		if err != nil {
			return nil, &ConfigError{Msg: "folding global " + a.Name, Err: err}
		}
		env[a.Name] = val
	}
	return env, nil
}

// resolveTargets returns the CLI-supplied targets, or, if none, the
// globals' default attribute split as a shell-quoted list (§4.7 phase 4).
func (d *Driver) resolveTargets(args []string, globals Env) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	def, ok := globals["default"]
	if !ok {
		return nil, nil
	}
	return shellwords.NewParser().Parse(stringifyValue(def))
}

// compileRules compiles every section's head into a Pattern, preserving
// file order (patterns are tried in order, §4.3).
func compileRules(sections []ruleparser.Section, globals Env, evaluator eval.Evaluator) ([]RawRule, error) {
	rules := make([]RawRule, 0, len(sections))
	for _, sec := range sections {
		p, err := CompilePattern(sec.Head, globals, evaluator)
		if err != nil {
			return nil, &ConfigError{Msg: "compiling rule head " + sec.Head, Err: err}
		}
		rules = append(rules, RawRule{Pattern: p, Attrs: sec.Attrs, Line: sec.Line})
	}
	return rules, nil
}

// quarantine renames every still-incomplete output to its backup name
// (§4.7 phase 3), tolerating files that were never created.
func quarantine(graph *Graph) error {
	var errs *multierror.Error
	for _, path := range graph.IncompleteFiles() {
		if err := os.Rename(path, path+"~"); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, &ExecutionError{Target: path, Msg: "quarantining incomplete output", Err: err})
		}
	}
	return errs.ErrorOrNil()
}
