// Package tools holds the tool registry and the runner abstraction
// workers use to call tools during execution.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrToolNotFound is returned when a tool name has no registration.
var ErrToolNotFound = errors.New("tool not found")

// Definition describes one registered tool.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Result is the output of a single tool invocation.
type Result struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Runner executes named tools on behalf of a worker.
type Runner interface {
	// Run invokes one tool. The result is always usable text; IsError
	// marks tool-level failures. A non-nil error means the tool could
	// not be invoked at all.
	Run(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// Func is a registered tool implementation.
type Func func(ctx context.Context, args map[string]any) (string, error)

// Registry maps tool names to implementations. Registration happens at
// startup; lookups are read-mostly and safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

type registration struct {
	def Definition
	fn  Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def Definition, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = registration{def: def, fn: fn}
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns all registered definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		defs = append(defs, reg.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Run implements Runner against the registry. Tool-level failures are
// reported in the Result, not as an error, so one bad tool call does
// not abort the worker.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any) (*Result, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrToolNotFound)
	}

	content, err := reg.fn(ctx, args)
	if err != nil {
		return &Result{Name: name, Content: err.Error(), IsError: true}, nil
	}
	return &Result{Name: name, Content: content}, nil
}

// StubRunner returns canned responses for testing.
type StubRunner struct {
	// Responses maps tool name to fixed output. Unlisted names get a
	// generic stub response.
	Responses map[string]string
}

// Run implements Runner.
func (s *StubRunner) Run(_ context.Context, name string, args map[string]any) (*Result, error) {
	if out, ok := s.Responses[name]; ok {
		return &Result{Name: name, Content: out}, nil
	}
	return &Result{
		Name:    name,
		Content: fmt.Sprintf("[stub] tool %q called with %d args", name, len(args)),
	}, nil
}
