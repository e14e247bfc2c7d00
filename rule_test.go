package produce

import (
	"testing"

	"github.com/kbrook/produce/internal/eval"
	"github.com/kbrook/produce/internal/ruleparser"
)

func mustPattern(t *testing.T, head string) *Pattern {
	t.Helper()
	p, err := CompilePattern(head, Env{}, eval.New())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInstantiateRuleBasic(t *testing.T) {
	rules := []RawRule{
		{
			Pattern: mustPattern(t, "bin/%{name}"),
			Attrs: []ruleparser.AttrPair{
				{Name: "dep.src", Value: "src/%{name}.c"},
				{Name: "recipe", Value: "cc -o %{target} %{src}"},
			},
		},
	}
	ir, err := InstantiateRule("bin/widget", rules, Env{}, eval.New(), func(string) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if ir.Type != "file" {
		t.Errorf("got type %q", ir.Type)
	}
	if ir.Attrs["dep.src"] != "src/widget.c" {
		t.Errorf("got dep.src %q", ir.Attrs["dep.src"])
	}
	deps, err := ir.ExtractDeps(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0] != "src/widget.c" {
		t.Errorf("got deps %+v", deps)
	}
}

func TestInstantiateRuleCondFallThrough(t *testing.T) {
	rules := []RawRule{
		{
			Pattern: mustPattern(t, "x"),
			Attrs: []ruleparser.AttrPair{
				{Name: "cond", Value: "False"},
				{Name: "recipe", Value: "echo wrong"},
			},
		},
		{
			Pattern: mustPattern(t, "x"),
			Attrs: []ruleparser.AttrPair{
				{Name: "recipe", Value: "echo right"},
			},
		},
	}
	ir, err := InstantiateRule("x", rules, Env{}, eval.New(), func(string) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := ir.Recipe(); r != "echo right" {
		t.Errorf("got recipe %q", r)
	}
}

func TestInstantiateRuleTargetReassignmentRejected(t *testing.T) {
	rules := []RawRule{
		{
			Pattern: mustPattern(t, "x"),
			Attrs: []ruleparser.AttrPair{
				{Name: "target", Value: "y"},
			},
		},
	}
	_, err := InstantiateRule("x", rules, Env{}, eval.New(), func(string) bool { return false })
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestInstantiateRuleNoMatchExistingFileSynthesizesIngredient(t *testing.T) {
	ir, err := InstantiateRule("existing", nil, Env{}, eval.New(), func(string) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	if ir.Type != "file" {
		t.Errorf("got type %q", ir.Type)
	}
	deps, err := ir.ExtractDeps(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 0 {
		t.Errorf("got deps %+v", deps)
	}
}

func TestInstantiateRuleNoMatchNoFileFails(t *testing.T) {
	_, err := InstantiateRule("missing", nil, Env{}, eval.New(), func(string) bool { return false })
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestInstantiateRuleTypeTask(t *testing.T) {
	rules := []RawRule{
		{
			Pattern: mustPattern(t, "t"),
			Attrs: []ruleparser.AttrPair{
				{Name: "type", Value: "task"},
				{Name: "recipe", Value: "true"},
			},
		},
	}
	ir, err := InstantiateRule("t", rules, Env{}, eval.New(), func(string) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if ir.Type != "task" {
		t.Errorf("got type %q", ir.Type)
	}
}

func TestInstantiateRuleUnknownTypeRejected(t *testing.T) {
	rules := []RawRule{
		{
			Pattern: mustPattern(t, "t"),
			Attrs: []ruleparser.AttrPair{
				{Name: "type", Value: "bogus"},
			},
		},
	}
	_, err := InstantiateRule("t", rules, Env{}, eval.New(), func(string) bool { return false })
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestExtractDepsOrder(t *testing.T) {
	ir := &Irule{
		Target: "a",
		Attrs: map[string]string{
			"dep.x": "x",
			"dep.y": "y",
			"deps":  "z w",
		},
		Order: []string{"dep.x", "dep.y", "deps"},
	}
	deps, err := ir.ExtractDeps([]string{"df1", "df2"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"df1", "df2", "x", "y", "z", "w"}
	if len(deps) != len(want) {
		t.Fatalf("got %+v, want %+v", deps, want)
	}
	for i := range want {
		if deps[i] != want[i] {
			t.Errorf("got %+v, want %+v", deps, want)
		}
	}
}
