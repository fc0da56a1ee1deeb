// Package tool holds the operations the model may request during the
// orchestration loop, plus the registry that dispatches them by name.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chaperone/internal/domain"
)

// Registry holds all available tools and executes them by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	flags  map[string]string // tool name -> feature flag gating it
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		flags:  make(map[string]string),
		logger: logger,
	}
}

// Register adds a tool. flag, when non-empty, names the feature flag that
// must be enabled for the tool to appear in the catalog.
func (r *Registry) Register(t domain.Tool, flag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	if flag != "" {
		r.flags[t.Name()] = flag
	}
	r.logger.Debug("registered tool", "name", t.Name(), "flag", flag)
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute dispatches one tool call. Unknown names and tool failures come
// back as IsError results, never as an error: inside the loop there is no
// further waterfall to fall through to, so failures must be fed back to the
// model as content it can react to.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) domain.ToolCallResult {
	t := r.Get(name)
	if t == nil {
		return domain.ToolCallResult{
			Content: fmt.Sprintf("unknown tool: %s (available: %v)", name, r.Names()),
			IsError: true,
		}
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		return domain.ToolCallResult{
			Content: fmt.Sprintf("tool %s failed: %s", name, err),
			IsError: true,
		}
	}
	return domain.ToolCallResult{Content: out}
}

// Definitions returns the catalog in a deterministic order, filtered by the
// current feature flags and chat context. Group-only tools are suppressed in
// direct chats. Regenerated per message so flag changes take effect
// immediately.
func (r *Registry) Definitions(flags domain.Flags, isGroup bool) []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if flag := r.flags[name]; flag != "" && flags != nil && !flags.IsEnabled(flag) {
			continue
		}
		if t.GroupOnly() && !isGroup {
			continue
		}
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(a, b int) bool { return defs[a].Name < defs[b].Name })
	return defs
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
}

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ArgsString extracts a string argument, JSON-encoding non-string values.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
