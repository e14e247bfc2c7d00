package produce

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kbrook/produce/internal/ruleparser"
)

func TestPrintGraphShapesByType(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	if err := os.WriteFile(a, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rules := []RawRule{
		literalRule(t, "t", ruleparser.AttrPair{Name: "type", Value: "task"}),
		literalRule(t, a, ruleparser.AttrPair{Name: "dep.t", Value: "t"}),
	}
	g := newTestGraph(rules)
	if err := g.AddTarget(a, nil); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	PrintGraph(&out, g, []string{a})
	dot := out.String()

	if !strings.Contains(dot, `"`+a+`" [shape=box]`) {
		t.Errorf("expected a file target rendered as a box, got:\n%s", dot)
	}
	if !strings.Contains(dot, `"t" [shape=ellipse]`) {
		t.Errorf("expected a task target rendered as an ellipse, got:\n%s", dot)
	}
	if !strings.Contains(dot, `"`+a+`" -> "t"`) {
		t.Errorf("expected an edge from a to t, got:\n%s", dot)
	}
}

func TestWhyOutOfDateReasons(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if err := os.WriteFile(a, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := os.Chtimes(b, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	rules := []RawRule{
		literalRule(t, b),
		literalRule(t, a, ruleparser.AttrPair{Name: "dep.b", Value: b}),
	}
	g := newTestGraph(rules)
	if err := g.AddTarget(a, nil); err != nil {
		t.Fatal(err)
	}

	if got := WhyOutOfDate(g, a); !strings.Contains(got, "up to date") {
		t.Errorf("got %q, want an up-to-date explanation", got)
	}
	if got := WhyOutOfDate(g, "/never/realized"); !strings.Contains(got, "not realized") {
		t.Errorf("got %q, want a not-realized explanation", got)
	}
}

func TestWhyOutOfDateMissingFile(t *testing.T) {
	dir := t.TempDir()
	b := filepath.Join(dir, "b")
	a := filepath.Join(dir, "a") // never created
	if err := os.WriteFile(b, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rules := []RawRule{
		literalRule(t, b),
		literalRule(t, a, ruleparser.AttrPair{Name: "dep.b", Value: b}),
	}
	g := newTestGraph(rules)
	if err := g.AddTarget(a, nil); err != nil {
		t.Fatal(err)
	}
	if got := WhyOutOfDate(g, a); !strings.Contains(got, "does not exist") {
		t.Errorf("got %q, want a missing-file explanation", got)
	}
}
