// Package tools holds the registry of Eino tools an agent can plan over,
// plus the builtin tools shipped with Orbit.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Registry is the unified registry for all invokable tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.InvokableTool
	infos map[string]*schema.ToolInfo
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]tool.InvokableTool),
		infos: make(map[string]*schema.ToolInfo),
	}
}

// Register adds a tool under the name reported by its Info.
func (r *Registry) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool %q already registered", info.Name)
	}
	r.tools[info.Name] = t
	r.infos[info.Name] = info
	return nil
}

// Tool returns the named tool, or nil if not registered.
func (r *Registry) Tool(name string) tool.InvokableTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether the named tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Tools returns all registered tools.
func (r *Registry) Tools() []tool.InvokableTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]tool.InvokableTool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	return result
}

// ToolsByNames returns the tools matching the given names.
// Unknown names are silently skipped.
func (r *Registry) ToolsByNames(names []string) []tool.InvokableTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]tool.InvokableTool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			result = append(result, t)
		}
	}
	return result
}

// Names returns all registered tool names, sorted.
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

// Descriptions returns a map of tool name to description.
func (r *Registry) Descriptions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make(map[string]string, len(r.infos))
	for name, info := range r.infos {
		descs[name] = info.Desc
	}
	return descs
}

// Catalog renders the registered tools as "name: description" lines for
// planner prompts. Deterministic order.
func (r *Registry) Catalog() string {
	descs := r.Descriptions()
	names := make([]string, 0, len(descs))
	for name := range descs {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString("- " + name)
		if d := descs[name]; d != "" {
			b.WriteString(": " + d)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Invoke runs the named tool with map arguments and decodes the JSON result.
// Non-JSON output is returned as a plain string.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	t := r.Tool(name)
	if t == nil {
		return nil, fmt.Errorf("tool %q not found", name)
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args for %s: %w", name, err)
	}

	out, err := t.InvokableRun(ctx, string(argsJSON))
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		return out, nil
	}
	return decoded, nil
}
