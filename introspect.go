package produce

import (
	"fmt"
	"io"
	"sort"
)

// PrintGraph writes the realized dependency subgraph reachable from roots
// as Graphviz DOT, for debugging a rule file without touching the
// filesystem.
func PrintGraph(w io.Writer, graph *Graph, roots []string) {
	fmt.Fprintln(w, "digraph produce {")
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(target string) {
		if visited[target] {
			return
		}
		visited[target] = true
		ts := graph.State(target)
		if ts == nil {
			return
		}
		shape := "box"
		if ts.Irule.Type == "task" {
			shape = "ellipse"
		}
		fmt.Fprintf(w, "  %q [shape=%s];\n", target, shape)
		deps := append([]string{}, ts.Deps...)
		sort.Strings(deps)
		for _, d := range deps {
			fmt.Fprintf(w, "  %q -> %q;\n", target, d)
			walk(d)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	fmt.Fprintln(w, "}")
}

// WhyOutOfDate explains, in order of priority, the specific reason target
// is considered out of date: always-build mode, a task type, a missing
// file, a specific newer dependency (changed_ddep), or a transitively
// out-of-date dependency. Adapted from the teacher's WhyRebuild to produce's
// timestamp-only staleness model — there is no content hash to report.
func WhyOutOfDate(graph *Graph, target string) string {
	ts := graph.State(target)
	if ts == nil {
		return fmt.Sprintf("%s: not realized", target)
	}
	if !ts.OutOfDate && !ts.Missing {
		return fmt.Sprintf("%s: up to date", target)
	}
	if graph.AlwaysBuild {
		return fmt.Sprintf("%s: out of date (always-build mode)", target)
	}
	if ts.Irule.Type == "task" {
		return fmt.Sprintf("%s: out of date (type is task)", target)
	}
	if ts.Missing {
		return fmt.Sprintf("%s: out of date (file does not exist)", target)
	}
	if ts.ChangedDep != "" {
		return fmt.Sprintf("%s: out of date (dependency %s is newer)", target, ts.ChangedDep)
	}
	for _, d := range ts.Deps {
		if dts := graph.State(d); dts != nil && dts.OutOfDate {
			return fmt.Sprintf("%s: out of date (dependency %s is out of date)", target, d)
		}
	}
	return fmt.Sprintf("%s: out of date", target)
}
