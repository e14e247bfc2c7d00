package produce

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/kbrook/produce/internal/eval"
)

// TargetState is the per-target scheduler state of §3: its instantiated
// rule, direct dependencies and declared outputs, recorded modification
// time, staleness flags, and the one dependency (if any) whose newer time
// triggered staleness.
type TargetState struct {
	Irule      *Irule
	Deps       []string
	Outputs    []string
	MTime      time.Time
	OutOfDate  bool
	Missing    bool
	ChangedDep string

	State BuildState
	Err   error
}

// BuildState is the per-target state machine of §4.6.
type BuildState int

const (
	StateRealized BuildState = iota
	StateFresh
	StateBuilding
	StateFailed
)

// Graph realizes targets from requested roots, decides staleness, and owns
// every piece of shared mutable per-target state (§4.5, §5): out-of-date
// and missing flags, the incomplete-files set, and memoized build
// exceptions, all guarded by a single lock.
type Graph struct {
	Rules           []RawRule
	Globals         Env
	Evaluator       eval.Evaluator
	AlwaysBuild     bool
	PretendUpToDate map[string]bool
	DryRun          bool
	Silent          bool

	mu         sync.Mutex
	targets    map[string]*TargetState
	realized   map[string]bool
	incomplete map[string]bool
	allOutputs map[string]bool // every output name ever seen, for lock pre-seeding
}

// NewGraph constructs an empty Graph ready for AddTarget calls.
func NewGraph(rules []RawRule, globals Env, evaluator eval.Evaluator, alwaysBuild bool, pretendUpToDate map[string]bool, dryRun, silent bool) *Graph {
	return &Graph{
		Rules:           rules,
		Globals:         globals,
		Evaluator:       evaluator,
		AlwaysBuild:     alwaysBuild,
		PretendUpToDate: pretendUpToDate,
		DryRun:          dryRun,
		Silent:          silent,
		targets:         make(map[string]*TargetState),
		realized:        make(map[string]bool),
		incomplete:      make(map[string]bool),
		allOutputs:      make(map[string]bool),
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// State returns the realized state for target, or nil if it has not been
// realized yet.
func (g *Graph) State(target string) *TargetState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.targets[target]
}

// AllOutputs returns every output name realized so far, for pre-seeding a
// LockManager after Phase 1 completes.
func (g *Graph) AllOutputs() map[string]bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]bool, len(g.allOutputs))
	for o := range g.allOutputs {
		out[o] = true
	}
	return out
}

// ResetRealized clears the add-once deduplication set, per §4.7 Phase 4:
// a subsequent AddTarget on a pretend-up-to-date target recomputes its
// whole reachable subgraph against the post-build filesystem state.
func (g *Graph) ResetRealized() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.realized = make(map[string]bool)
}

// IncompleteFiles returns a snapshot of the incomplete-files set, for the
// Phase 3 quarantine pass.
func (g *Graph) IncompleteFiles() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.incomplete))
	for f := range g.incomplete {
		out = append(out, f)
	}
	return out
}

// AddTarget realizes target into the graph, recursing on its dependencies
// first, per §4.5. beam is the ancestor chain from the build root; it is
// never mutated, only extended on recursive calls.
func (g *Graph) AddTarget(target string, beam []string) error {
	for _, ancestor := range beam {
		if ancestor == target {
			return &CycleError{Chain: append(append([]string{}, beam...), target)}
		}
	}

	g.mu.Lock()
	already := g.realized[target]
	g.mu.Unlock()
	if already {
		return nil
	}

	ir, err := InstantiateRule(target, g.Rules, g.Globals, g.Evaluator, fileExists)
	if err != nil {
		return err
	}

	outputs, err := ir.Outputs()
	if err != nil {
		return err
	}
	for _, o := range outputs {
		for _, ancestor := range beam {
			if ancestor == o {
				return &CycleError{Chain: append(append([]string{}, beam...), o)}
			}
		}
	}

	childBeam := append(append([]string{}, beam...), target)

	var depfileLines []string
	if dfPath, ok := ir.DepfilePath(); ok {
		if err := g.AddTarget(dfPath, childBeam); err != nil {
			return err
		}
		if err := g.buildDepfileSync(dfPath); err != nil {
			return err
		}
		data, err := os.ReadFile(dfPath)
		if err != nil {
			return &ExecutionError{Target: target, Msg: "reading depfile " + dfPath, Err: err}
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				depfileLines = append(depfileLines, line)
			}
		}
	}

	deps, err := ir.ExtractDeps(depfileLines)
	if err != nil {
		return err
	}

	for _, d := range deps {
		if err := g.AddTarget(d, childBeam); err != nil {
			return err
		}
	}

	// The depfile path itself is a dependency of target for staleness
	// purposes (§4.5), distinct from the lines read out of it, which
	// ExtractDeps already folded into deps above.
	if dfPath, ok := ir.DepfilePath(); ok {
		deps = append([]string{dfPath}, deps...)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	missing := false
	var mtime time.Time
	switch {
	case ir.Type == "task":
		mtime = time.Time{}
	default:
		if fi, statErr := os.Stat(target); statErr == nil {
			mtime = fi.ModTime()
		} else {
			missing = true
			mtime = g.maxDepTimeLocked(deps)
		}
	}

	outOfDate := g.AlwaysBuild || ir.Type == "task"
	changedDep := ""
	for _, d := range deps {
		dts := g.targets[d]
		if dts == nil {
			continue
		}
		if dts.MTime.After(mtime) {
			// Bookkeeping runs unconditionally so the rewind step below
			// (§4.5's post-decision clause) can still see which dependency
			// was newer, even though a pretend-up-to-date dependency must
			// not itself force out-of-dateness.
			changedDep = d
			if !g.PretendUpToDate[d] {
				outOfDate = true
			}
		}
		if dts.OutOfDate && !g.PretendUpToDate[d] {
			outOfDate = true
		}
	}

	if !outOfDate && changedDep != "" {
		rewound := time.Now().Add(time.Second)
		if err := os.Chtimes(changedDep, rewound, rewound); err == nil {
			if dts := g.targets[changedDep]; dts != nil {
				dts.MTime = rewound
			}
		}
	}

	ts := &TargetState{
		Irule:      ir,
		Deps:       deps,
		Outputs:    outputs,
		MTime:      mtime,
		OutOfDate:  outOfDate,
		Missing:    missing,
		ChangedDep: changedDep,
		State:      StateRealized,
	}
	if !outOfDate && !missing {
		ts.State = StateFresh
	}
	g.targets[target] = ts
	g.realized[target] = true
	g.allOutputs[target] = true
	for _, o := range outputs {
		g.allOutputs[o] = true
	}

	return nil
}

func (g *Graph) maxDepTimeLocked(deps []string) time.Time {
	var max time.Time
	for _, d := range deps {
		if dts := g.targets[d]; dts != nil && dts.MTime.After(max) {
			max = dts.MTime
		}
	}
	return max
}

// buildDepfileSync brings a depfile up to date before its contents are
// read, per §4.5. Phase 1 graph realization is single-threaded, so this
// runs the recipe directly with no lock acquisition.
func (g *Graph) buildDepfileSync(path string) error {
	g.mu.Lock()
	ts := g.targets[path]
	pretend := g.PretendUpToDate[path]
	g.mu.Unlock()
	if ts == nil {
		return &ResolutionError{Target: path, Msg: "depfile was not realized before use"}
	}
	if pretend || !ts.OutOfDate {
		return nil
	}
	return g.RunRecipe(path, ts)
}

// RunRecipe executes ts's recipe (§4.6 Phase D / §6 "Recipe execution").
// Callers with concurrent siblings are responsible for holding the
// relevant output locks and the recipe-parallelism permit first; this
// method only handles the recipe itself and the incomplete-file and state
// bookkeeping around it.
func (g *Graph) RunRecipe(target string, ts *TargetState) error {
	recipe, hasRecipe := ts.Irule.Recipe()
	if !hasRecipe {
		g.markFresh(target, ts)
		return nil
	}
	recipe = strings.TrimPrefix(recipe, "\n")

	if !g.Silent {
		for _, line := range strings.Split(recipe, "\n") {
			pterm.Info.Println(line)
		}
	}
	if g.DryRun {
		return nil
	}

	allOutputs := append([]string{}, ts.Outputs...)
	if ts.Irule.Type == "file" {
		allOutputs = append(allOutputs, target)
	}

	for _, o := range allOutputs {
		_ = os.Remove(o + "~")
	}

	tmp, err := os.CreateTemp("", "produce-recipe-*.sh")
	if err != nil {
		return &ExecutionError{Target: target, Msg: "creating recipe script", Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(recipe); err != nil {
		tmp.Close()
		return &ExecutionError{Target: target, Msg: "writing recipe script", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &ExecutionError{Target: target, Msg: "closing recipe script", Err: err}
	}

	g.mu.Lock()
	for _, o := range allOutputs {
		g.incomplete[o] = true
	}
	g.mu.Unlock()

	cmd := exec.Command(ts.Irule.Shell(), tmp.Name())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	runErr := cmd.Run()

	if runErr != nil {
		buildErr := &ExecutionError{Target: target, Msg: "recipe failed", Err: runErr}
		g.mu.Lock()
		ts.State = StateFailed
		ts.Err = buildErr
		g.mu.Unlock()
		return buildErr
	}

	g.mu.Lock()
	for _, o := range allOutputs {
		delete(g.incomplete, o)
	}
	g.mu.Unlock()
	g.markFresh(target, ts)
	return nil
}

func (g *Graph) markFresh(target string, ts *TargetState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts.OutOfDate = false
	ts.Missing = false
	ts.State = StateFresh
	if fi, err := os.Stat(target); err == nil {
		ts.MTime = fi.ModTime()
	}
}
