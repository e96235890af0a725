// Package graph expands a pipeline description's needs/fan-out declarations
// into an explicit step graph and orders it deterministically.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strata-labs/strata-go/internal/domain"
)

// Node is one expanded step before manifest assembly.
type Node struct {
	ID          string
	Component   string
	Config      domain.Metadata
	Needs       []string
	FanOutKey   string
	FanOutValue string
}

// WhenEvaluator decides a step's when-condition against resolved parameters
// only; no runtime data participates.
type WhenEvaluator func(expr string) (bool, error)

const fanOutPlaceholder = "${each.value}"

// Expand turns declared steps into the explicit graph: when-conditions
// carve out a statically-determined excluded subgraph, fan-out lists expand
// into one child per value with deterministic ids, and needs edges are
// rewired from fan-out parents onto every child.
func Expand(steps []domain.StepSpec, eval WhenEvaluator) ([]Node, []string, error) {
	excluded := make(map[string]struct{})
	for _, step := range steps {
		if strings.TrimSpace(step.When) == "" {
			continue
		}
		if eval == nil {
			return nil, nil, fmt.Errorf("step %q has a when condition but no evaluator", step.ID)
		}
		keep, err := eval(step.When)
		if err != nil {
			return nil, nil, fmt.Errorf("step %q when condition: %w", step.ID, err)
		}
		if !keep {
			excluded[step.ID] = struct{}{}
		}
	}

	// A step depending on an excluded step is excluded with it.
	for changed := true; changed; {
		changed = false
		for _, step := range steps {
			if _, done := excluded[step.ID]; done {
				continue
			}
			for _, need := range step.Needs {
				if _, gone := excluded[need]; gone {
					excluded[step.ID] = struct{}{}
					changed = true
					break
				}
			}
		}
	}

	children := make(map[string][]string)
	nodes := make([]Node, 0, len(steps))
	for _, step := range steps {
		if _, gone := excluded[step.ID]; gone {
			continue
		}
		if len(step.ForEach) == 0 {
			nodes = append(nodes, Node{
				ID:        step.ID,
				Component: step.Uses,
				Config:    step.Config.Clone(),
				Needs:     append([]string(nil), step.Needs...),
			})
			continue
		}

		// Children order follows the lexically sorted value, never the
		// declaration order or any map iteration order.
		values := append([]string(nil), step.ForEach...)
		sort.Strings(values)
		for _, value := range values {
			childID := fmt.Sprintf("%s[%s]", step.ID, value)
			nodes = append(nodes, Node{
				ID:          childID,
				Component:   step.Uses,
				Config:      substituteFanOut(step.Config.Clone(), value),
				Needs:       append([]string(nil), step.Needs...),
				FanOutKey:   step.ID,
				FanOutValue: value,
			})
			children[step.ID] = append(children[step.ID], childID)
		}
	}

	ids := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		if _, dup := ids[node.ID]; dup {
			return nil, nil, fmt.Errorf("duplicate step id %q after expansion", node.ID)
		}
		ids[node.ID] = struct{}{}
	}

	for i := range nodes {
		rewired := make([]string, 0, len(nodes[i].Needs))
		for _, need := range nodes[i].Needs {
			if expanded, ok := children[need]; ok {
				rewired = append(rewired, expanded...)
				continue
			}
			if _, ok := ids[need]; !ok {
				// Dependency on an excluded step was handled above; anything
				// else is a description defect.
				return nil, nil, fmt.Errorf("step %q needs unknown step %q", nodes[i].ID, need)
			}
			rewired = append(rewired, need)
		}
		sort.Strings(rewired)
		nodes[i].Needs = rewired
	}

	excludedIDs := make([]string, 0, len(excluded))
	for id := range excluded {
		excludedIDs = append(excludedIDs, id)
	}
	sort.Strings(excludedIDs)
	return nodes, excludedIDs, nil
}

// Sort orders nodes with Kahn's algorithm, breaking ties among ready nodes
// by lexical id order so every graph has exactly one linear order.
func Sort(nodes []Node) ([]Node, error) {
	byID := make(map[string]Node, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
		inDegree[node.ID] = 0
	}
	for _, node := range nodes {
		for _, need := range node.Needs {
			if _, ok := byID[need]; !ok {
				return nil, fmt.Errorf("step %q needs unknown step %q", node.ID, need)
			}
			dependents[need] = append(dependents[need], node.ID)
			inDegree[node.ID]++
		}
	}

	ready := make([]string, 0, len(nodes))
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	ordered := make([]Node, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
				sort.Strings(ready)
			}
		}
	}

	if len(ordered) != len(nodes) {
		return nil, &domain.DependencyCycleError{Members: cycleMembers(byID, inDegree)}
	}
	return ordered, nil
}

// cycleMembers walks the unordered remainder to name one concrete cycle.
func cycleMembers(byID map[string]Node, inDegree map[string]int) []string {
	remaining := make(map[string]struct{})
	for id, degree := range inDegree {
		if degree > 0 {
			remaining[id] = struct{}{}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(remaining))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			for i, member := range stack {
				if member == id {
					cycle = append([]string(nil), stack[i:]...)
					return true
				}
			}
			return true
		case done:
			return false
		}
		state[id] = visiting
		stack = append(stack, id)
		for _, need := range byID[id].Needs {
			if _, ok := remaining[need]; !ok {
				continue
			}
			if visit(need) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	starts := make([]string, 0, len(remaining))
	for id := range remaining {
		starts = append(starts, id)
	}
	sort.Strings(starts)
	for _, id := range starts {
		if visit(id) && len(cycle) > 0 {
			break
		}
	}
	if len(cycle) == 0 {
		cycle = starts
	}
	sort.Strings(cycle)
	return cycle
}

func substituteFanOut(v domain.Metadata, value string) domain.Metadata {
	out := make(domain.Metadata, len(v))
	for k, e := range v {
		out[k] = substituteFanOutValue(e, value)
	}
	return out
}

func substituteFanOutValue(v any, value string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, fanOutPlaceholder, value)
	case domain.Metadata:
		return substituteFanOut(t, value)
	case map[string]any:
		return substituteFanOut(domain.Metadata(t), value)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = substituteFanOutValue(e, value)
		}
		return out
	default:
		return v
	}
}
