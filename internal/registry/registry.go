// Package registry maps public command names to their schema, executor
// command, optional local handler, and tool-catalog metadata.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/browserbridge/bridge/internal/schema"
)

// Annotations carry presentation hints for the tool catalog.
type Annotations struct {
	ReadOnly    bool `json:"readOnlyHint,omitempty"`
	Destructive bool `json:"destructiveHint,omitempty"`
	OpenWorld   bool `json:"openWorldHint,omitempty"`
}

// Handler is a command implemented locally in the gateway process, with no
// executor round trip.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Definition describes a registered command. Immutable once defined.
type Definition struct {
	Name            string
	Description     string
	Params          *schema.Object
	ExecutorCommand string
	Handler         Handler
	Annotations     *Annotations
}

// Tool is the catalog entry exposed over the tools protocol.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Annotations *Annotations   `json:"annotations,omitempty"`
}

// Registry is the process-wide command table. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Definition
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{commands: make(map[string]*Definition)}
}

// Define registers a command. Duplicate public names are rejected; the
// daemon treats that as a fatal configuration error at startup.
func (r *Registry) Define(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("registry: command name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[def.Name]; exists {
		return fmt.Errorf("registry: command %q already registered", def.Name)
	}
	r.commands[def.Name] = &def
	return nil
}

// MustDefine registers a command and panics on duplicates. Used for the
// built-in table, where a collision is a programming error.
func (r *Registry) MustDefine(def Definition) {
	if err := r.Define(def); err != nil {
		panic(err)
	}
}

// Resolve looks a command up by its public name.
func (r *Registry) Resolve(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[name]
}

// ResolveExecutor finds a definition by its executor command name. Several
// public names may alias one executor command; the match with the smallest
// public name is returned so lookups are deterministic.
func (r *Registry) ResolveExecutor(executorCommand string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Definition
	for _, def := range r.commands {
		if def.ExecutorCommand != executorCommand {
			continue
		}
		if found == nil || def.Name < found.Name {
			found = def
		}
	}
	return found
}

// Catalog renders the tool list, filtered by the caller's allowlist
// (nil = unrestricted). An allowlisted name admits a tool when it matches
// either the public or the executor command name.
func (r *Registry) Catalog(allowed []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		def := r.commands[name]
		if allowed != nil && !listHas(allowed, def.Name) && !listHas(allowed, def.ExecutorCommand) {
			continue
		}
		params := def.Params
		if params == nil {
			params = schema.Passthrough()
		}
		tools = append(tools, Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: params.Document(),
			Annotations: def.Annotations,
		})
	}
	return tools
}

// Names returns every registered public name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear empties the table. Test hook only.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = make(map[string]*Definition)
}

func listHas(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
