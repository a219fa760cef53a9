// internal/agent/registry.go
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry maps tool names to tools. It is filled during agent construction
// and treated as immutable once the decision schema has been composed.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	tools  map[string]Tool
}

// NewRegistry creates a registry seeded with the given tools.
func NewRegistry(logger *zap.Logger, tools ...Tool) (*Registry, error) {
	r := &Registry{
		logger: logger.Named("tool_registry"),
		tools:  make(map[string]Tool, len(tools)),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register inserts a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("cannot register a nil tool")
	}
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Debug("Overriding registered tool", zap.String("tool", name))
	}
	r.tools[name] = t
	return nil
}

// Remove deletes a tool. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// ApplyOverrides merges configuration into the registry: a nil value removes
// the named tool, any other value inserts or replaces it.
func (r *Registry) ApplyOverrides(overrides map[string]Tool) error {
	for name, t := range overrides {
		if t == nil {
			r.Remove(name)
			r.logger.Debug("Tool removed by override", zap.String("tool", name))
			continue
		}
		if t.Name() != name {
			return fmt.Errorf("override %q supplies a tool named %q", name, t.Name())
		}
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the named tool. A panic inside the tool is recovered and
// reported as a ToolExecutionError.
func (r *Registry) Execute(ctx context.Context, ec *ExecutionContext, name string, input map[string]any) (output string, err error) {
	t, ok := r.Get(name)
	if !ok {
		return "", &ToolNotFoundError{Name: name}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Tool panicked", zap.String("tool", name), zap.Any("panic", p), zap.Stack("stack"))
			err = &ToolExecutionError{Tool: name, Code: ErrCodeExecutorPanic, Err: fmt.Errorf("%v", p), Panic: true}
		}
	}()

	return t.Execute(ctx, ec, input)
}
