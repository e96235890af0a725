package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/strata-labs/strata-go/internal/domain"
)

func ids(nodes []Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestSortDiamondDeterministic(t *testing.T) {
	nodes := []Node{
		{ID: "d", Needs: []string{"b", "c"}},
		{ID: "c", Needs: []string{"a"}},
		{ID: "b", Needs: []string{"a"}},
		{ID: "a"},
	}
	ordered, err := Sort(nodes)
	if err != nil {
		t.Fatalf("Sort() err=%v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if got := ids(ordered); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSortLexicalTieBreakIndependentOfInput(t *testing.T) {
	first, err := Sort([]Node{{ID: "z"}, {ID: "a"}, {ID: "m"}})
	if err != nil {
		t.Fatalf("Sort() err=%v", err)
	}
	second, err := Sort([]Node{{ID: "m"}, {ID: "z"}, {ID: "a"}})
	if err != nil {
		t.Fatalf("Sort() err=%v", err)
	}
	if !reflect.DeepEqual(ids(first), ids(second)) {
		t.Fatalf("order depends on input order: %v vs %v", ids(first), ids(second))
	}
	if !reflect.DeepEqual(ids(first), []string{"a", "m", "z"}) {
		t.Fatalf("got %v, want lexical order", ids(first))
	}
}

func TestSortDetectsCycleAndNamesMembers(t *testing.T) {
	_, err := Sort([]Node{
		{ID: "a", Needs: []string{"c"}},
		{ID: "b", Needs: []string{"a"}},
		{ID: "c", Needs: []string{"b"}},
		{ID: "free"},
	})
	var cerr *domain.DependencyCycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected DependencyCycleError, got %v", err)
	}
	if !reflect.DeepEqual(cerr.Members, []string{"a", "b", "c"}) {
		t.Fatalf("got members %v, want [a b c]", cerr.Members)
	}
}

func TestExpandFanOutSortsChildrenByValue(t *testing.T) {
	steps := []domain.StepSpec{
		{ID: "load", Uses: "sink", ForEach: []string{"us", "eu"}, Config: domain.Metadata{"target": "tbl_${each.value}"}},
	}
	nodes, excluded, err := Expand(steps, nil)
	if err != nil {
		t.Fatalf("Expand() err=%v", err)
	}
	if len(excluded) != 0 {
		t.Fatalf("unexpected exclusions %v", excluded)
	}
	want := []string{"load[eu]", "load[us]"}
	if got := ids(nodes); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if nodes[0].Config["target"] != "tbl_eu" || nodes[1].Config["target"] != "tbl_us" {
		t.Fatalf("fan-out substitution failed: %v", nodes)
	}
	if nodes[0].FanOutKey != "load" || nodes[0].FanOutValue != "eu" {
		t.Fatalf("fan-out provenance missing: %+v", nodes[0])
	}
}

func TestExpandRewiresNeedsOntoChildren(t *testing.T) {
	steps := []domain.StepSpec{
		{ID: "extract", Uses: "src", ForEach: []string{"us", "eu"}},
		{ID: "merge", Uses: "merge", Needs: []string{"extract"}},
	}
	nodes, _, err := Expand(steps, nil)
	if err != nil {
		t.Fatalf("Expand() err=%v", err)
	}
	var merge Node
	for _, n := range nodes {
		if n.ID == "merge" {
			merge = n
		}
	}
	if !reflect.DeepEqual(merge.Needs, []string{"extract[eu]", "extract[us]"}) {
		t.Fatalf("got needs %v", merge.Needs)
	}
}

func TestExpandWhenExcludesSubgraph(t *testing.T) {
	steps := []domain.StepSpec{
		{ID: "a", Uses: "x"},
		{ID: "b", Uses: "x", When: "params.enable_b"},
		{ID: "c", Uses: "x", Needs: []string{"b"}},
		{ID: "d", Uses: "x", Needs: []string{"a"}},
	}
	eval := NewWhenEvaluator(func(name string) (any, bool, error) {
		if name == "enable_b" {
			return false, true, nil
		}
		return nil, false, nil
	})
	nodes, excluded, err := Expand(steps, eval)
	if err != nil {
		t.Fatalf("Expand() err=%v", err)
	}
	if !reflect.DeepEqual(excluded, []string{"b", "c"}) {
		t.Fatalf("got excluded %v, want [b c]", excluded)
	}
	if got := ids(nodes); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Fatalf("got %v", got)
	}
}

func TestWhenEvaluatorComparisons(t *testing.T) {
	eval := NewWhenEvaluator(func(name string) (any, bool, error) {
		switch name {
		case "region":
			return "eu", true, nil
		case "replicas":
			return 3, true, nil
		}
		return nil, false, nil
	})

	cases := []struct {
		expr string
		want bool
	}{
		{`params.region == "eu"`, true},
		{`params.region == "us"`, false},
		{`params.region != "us"`, true},
		{`params.replicas == 3`, true},
		{`params.region`, true},
	}
	for _, tc := range cases {
		got, err := eval(tc.expr)
		if err != nil {
			t.Fatalf("eval(%q) err=%v", tc.expr, err)
		}
		if got != tc.want {
			t.Fatalf("eval(%q)=%v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestWhenEvaluatorRejectsUnresolvedParam(t *testing.T) {
	eval := NewWhenEvaluator(func(string) (any, bool, error) { return nil, false, nil })
	if _, err := eval("params.missing"); err == nil {
		t.Fatalf("expected error for unresolved parameter")
	}
}

func TestWhenEvaluatorRejectsUnsupportedOperand(t *testing.T) {
	eval := NewWhenEvaluator(func(string) (any, bool, error) { return "x", true, nil })
	if _, err := eval(`steps.a == "x"`); err == nil {
		t.Fatalf("expected error for unsupported operand")
	}
}
