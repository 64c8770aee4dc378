package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Registry is the ordered, process-wide set of pipeline stages. Read-only
// after construction; safe for concurrent use.
type Registry struct {
	stages   []Descriptor
	handlers []Handler
	byClass  map[ResourceClass][]int
}

// NewRegistry binds descriptors to registered handlers and freezes the
// pipeline. Descriptors are renumbered to their slice position.
func NewRegistry(descs []Descriptor, handlers map[string]Handler) (*Registry, error) {
	if len(descs) == 0 {
		return nil, errors.New("pipeline must define at least one stage")
	}

	reg := &Registry{
		stages:   make([]Descriptor, len(descs)),
		handlers: make([]Handler, len(descs)),
		byClass:  make(map[ResourceClass][]int),
	}
	seen := make(map[string]struct{}, len(descs))
	for i, desc := range descs {
		desc.Name = strings.TrimSpace(desc.Name)
		if desc.Name == "" {
			return nil, fmt.Errorf("stage %d: name must be set", i)
		}
		if _, dup := seen[desc.Name]; dup {
			return nil, fmt.Errorf("stage %q: duplicate name", desc.Name)
		}
		seen[desc.Name] = struct{}{}
		if desc.Class == "" {
			desc.Class = ClassCPU
		}
		if desc.MaxRetries < 0 {
			return nil, fmt.Errorf("stage %q: max retries must not be negative", desc.Name)
		}
		if desc.Timeout <= 0 {
			return nil, fmt.Errorf("stage %q: timeout must be positive", desc.Name)
		}
		handlerName := desc.HandlerName
		if handlerName == "" {
			handlerName = desc.Name
		}
		handler, ok := handlers[handlerName]
		if !ok {
			return nil, fmt.Errorf("stage %q: no handler registered as %q", desc.Name, handlerName)
		}
		desc.Ordinal = i
		desc.HandlerName = handlerName
		reg.stages[i] = desc
		reg.handlers[i] = handler
		reg.byClass[desc.Class] = append(reg.byClass[desc.Class], i)
	}
	return reg, nil
}

// Len returns the number of stages in the pipeline.
func (r *Registry) Len() int {
	return len(r.stages)
}

// At returns the descriptor at the given ordinal.
func (r *Registry) At(ordinal int) (Descriptor, bool) {
	if ordinal < 0 || ordinal >= len(r.stages) {
		return Descriptor{}, false
	}
	return r.stages[ordinal], true
}

// HandlerAt returns the handler bound to the given ordinal.
func (r *Registry) HandlerAt(ordinal int) (Handler, bool) {
	if ordinal < 0 || ordinal >= len(r.handlers) {
		return nil, false
	}
	return r.handlers[ordinal], true
}

// Descriptors returns a copy of the ordered stage descriptors.
func (r *Registry) Descriptors() []Descriptor {
	cp := make([]Descriptor, len(r.stages))
	copy(cp, r.stages)
	return cp
}

// OrdinalsForClass returns the stage ordinals a worker lane of the given
// class may execute, in pipeline order.
func (r *Registry) OrdinalsForClass(class ResourceClass) []int {
	ordinals := r.byClass[class]
	cp := make([]int, len(ordinals))
	copy(cp, ordinals)
	return cp
}

// Classes returns the distinct resource classes the pipeline uses, in
// pipeline order of first appearance.
func (r *Registry) Classes() []ResourceClass {
	seen := make(map[ResourceClass]struct{}, len(r.byClass))
	var classes []ResourceClass
	for _, desc := range r.stages {
		if _, ok := seen[desc.Class]; ok {
			continue
		}
		seen[desc.Class] = struct{}{}
		classes = append(classes, desc.Class)
	}
	return classes
}

// HealthCheck polls every stage handler for readiness.
func (r *Registry) HealthCheck(ctx context.Context) []Health {
	out := make([]Health, 0, len(r.stages))
	for i, handler := range r.handlers {
		health := handler.HealthCheck(ctx)
		if health.Name == "" {
			health.Name = r.stages[i].Name
		}
		out = append(out, health)
	}
	return out
}
