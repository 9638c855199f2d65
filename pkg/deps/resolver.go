// Package deps validates and schedules the sub-team dependency graph.
// The graph maps sub-team id to the ids it depends on; Order produces a
// deterministic topological schedule for the execution engine.
package deps

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors for resolver operations.
var (
	ErrInvalidDeps   = errors.New("invalid dependency graph")
	ErrCycleDetected = errors.New("dependency cycle detected")
)

// Problem describes a single defect found by Validate.
type Problem struct {
	Kind    ProblemKind
	Node    string
	Message string
}

// ProblemKind classifies validation defects.
type ProblemKind string

const (
	ProblemUnknownKey   ProblemKind = "unknown_key"
	ProblemUnknownValue ProblemKind = "unknown_value"
	ProblemSelfLoop     ProblemKind = "self_loop"
)

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Kind, p.Message)
}

// Validate checks a dependency map against the known sub-team id set.
// It reports unknown keys, unknown dependency values, and self-loops.
// Cycle detection is separate (DetectCycles) because it needs a structurally
// valid graph to produce meaningful cycle paths.
func Validate(dependencies map[string][]string, ids []string) []Problem {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	var problems []Problem
	for _, key := range sortedKeys(dependencies) {
		if !known[key] {
			problems = append(problems, Problem{
				Kind:    ProblemUnknownKey,
				Node:    key,
				Message: fmt.Sprintf("dependency key %q is not a sub-team id", key),
			})
		}
		for _, dep := range dependencies[key] {
			if dep == key {
				problems = append(problems, Problem{
					Kind:    ProblemSelfLoop,
					Node:    key,
					Message: fmt.Sprintf("sub-team %q depends on itself", key),
				})
				continue
			}
			if !known[dep] {
				problems = append(problems, Problem{
					Kind:    ProblemUnknownValue,
					Node:    key,
					Message: fmt.Sprintf("sub-team %q depends on unknown id %q", key, dep),
				})
			}
		}
	}
	return problems
}

// DetectCycles finds all dependency cycles via depth-first search with a
// recursion-stack set. Each cycle is returned as an ordered list of node ids
// starting at the revisited node. Disconnected components are covered by
// starting a search from every node.
func DetectCycles(dependencies map[string][]string) [][]string {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)

	state := make(map[string]int)
	var stack []string
	var cycles [][]string

	var visit func(node string)
	visit = func(node string) {
		state[node] = onStack
		stack = append(stack, node)

		for _, dep := range dependencies[node] {
			switch state[dep] {
			case unvisited:
				visit(dep)
			case onStack:
				// Emit the cycle slice from the on-stack occurrence of dep.
				start := 0
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				cycle := make([]string, len(stack)-start)
				copy(cycle, stack[start:])
				cycles = append(cycles, cycle)
			}
		}

		stack = stack[:len(stack)-1]
		state[node] = done
	}

	for _, node := range sortedKeys(dependencies) {
		if state[node] == unvisited {
			visit(node)
		}
	}
	return cycles
}

// Order returns a topological schedule of ids consistent with the dependency
// map: every prerequisite of x precedes x. Ties among ready nodes break
// lexicographically so equivalent schedules never diverge across runs.
//
// The algorithm is Kahn's over a defensive copy of the graph; the caller's
// map is never mutated. O(V+E).
func Order(dependencies map[string][]string, ids []string) ([]string, error) {
	if problems := Validate(dependencies, ids); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDeps, problems[0])
	}

	// inDegree[x] = number of unscheduled prerequisites of x.
	// dependents[p] = nodes that must wait for p.
	inDegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))
	for _, id := range ids {
		inDegree[id] = 0
	}
	for node, prereqs := range dependencies {
		for _, p := range prereqs {
			inDegree[node]++
			dependents[p] = append(dependents[p], node)
		}
	}

	var ready []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(ids))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		var unblocked []string
		for _, dep := range dependents[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				unblocked = append(unblocked, dep)
			}
		}
		if len(unblocked) > 0 {
			ready = append(ready, unblocked...)
			sort.Strings(ready)
		}
	}

	if len(order) != len(ids) {
		cycles := DetectCycles(dependencies)
		if len(cycles) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrCycleDetected, cycles[0])
		}
		return nil, ErrCycleDetected
	}
	return order, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
