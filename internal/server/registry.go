package server

import (
	"context"
	"encoding/json"
	"sort"
)

// Handler executes one named operation against a raw JSON payload.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Operation is a registered tool operation.
type Operation struct {
	Name        string
	Description string
	Handler     Handler
}

// Registry maps operation names to handlers. Registering the same name
// twice silently replaces the prior registration; looking up an unknown
// name reports not-found instead of panicking.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds or replaces an operation. Last registration wins.
func (r *Registry) Register(op Operation) {
	r.ops[op.Name] = op
}

// Lookup returns the operation for a name, or ok=false when none is
// registered.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Operations returns all registered operations sorted by name.
func (r *Registry) Operations() []Operation {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)

	ops := make([]Operation, 0, len(names))
	for _, name := range names {
		ops = append(ops, r.ops[name])
	}
	return ops
}
