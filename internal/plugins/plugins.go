// Package plugins extends the command surface at runtime. A plugin bundles
// named commands that orchestrate executor primitives (navigate, click,
// type) into higher-level workflows.
package plugins

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/browserbridge/bridge/internal/registry"
	"github.com/browserbridge/bridge/internal/schema"
)

// ExecutionContext is handed to a plugin command while it runs. Send
// dispatches a primitive to the connected executor and blocks for the
// reply.
type ExecutionContext struct {
	Send func(ctx context.Context, command string, params map[string]any) (any, error)
	Log  func(msg string)
}

// Command is a single plugin-provided operation.
type Command struct {
	Description string
	Params      *schema.Object
	Execute     func(ctx context.Context, params map[string]any, ec ExecutionContext) (any, error)
}

// Plugin bundles commands under a shared name prefix.
type Plugin struct {
	Name     string
	Version  string
	Commands map[string]Command
	Init     func(logf func(msg string)) error
}

// Info is the status-endpoint view of a registered plugin.
type Info struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Commands []string `json:"commands"`
}

// Set tracks registered plugins and mirrors their commands into the
// command registry as "{plugin}_{command}" with executor name
// "{plugin}.{command}".
type Set struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
	reg     *registry.Registry
}

func NewSet(reg *registry.Registry) *Set {
	return &Set{plugins: map[string]*Plugin{}, reg: reg}
}

// Register validates the plugin, runs its init hook, and publishes its
// commands. Registry entries are created before the plugin is stored so a
// name collision never leaves half a plugin visible.
func (s *Set) Register(p *Plugin) error {
	if p.Name == "" {
		return fmt.Errorf("plugins: plugin name must not be empty")
	}
	if strings.Contains(p.Name, ".") || strings.Contains(p.Name, "_") {
		return fmt.Errorf("plugins: plugin name %q must not contain '.' or '_'", p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[p.Name]; ok {
		return fmt.Errorf("plugins: plugin %q already registered", p.Name)
	}

	if p.Init != nil {
		logf := func(msg string) {
			log.Printf("[Plugin:%s] %s", p.Name, msg)
		}
		if err := p.Init(logf); err != nil {
			return fmt.Errorf("plugins: init %s: %w", p.Name, err)
		}
	}

	for cmdName, cmd := range p.Commands {
		params := cmd.Params
		if params == nil {
			params = schema.Passthrough()
		}
		err := s.reg.Define(registry.Definition{
			Name:            p.Name + "_" + cmdName,
			Description:     cmd.Description,
			ExecutorCommand: p.Name + "." + cmdName,
			Params:          params,
		})
		if err != nil {
			return fmt.Errorf("plugins: register %s: %w", p.Name, err)
		}
	}

	s.plugins[p.Name] = p

	names := make([]string, 0, len(p.Commands))
	for name := range p.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	log.Printf("[Plugins] registered %s v%s (commands: %s)", p.Name, p.Version, strings.Join(names, ", "))
	return nil
}

// Resolve maps a dotted executor-side command name ("x.post") back to the
// plugin command that owns it. Returns nil when no plugin claims the name.
func (s *Set) Resolve(executorCommand string) *Command {
	dot := strings.Index(executorCommand, ".")
	if dot < 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plugins[executorCommand[:dot]]
	if !ok {
		return nil
	}
	cmd, ok := p.Commands[executorCommand[dot+1:]]
	if !ok {
		return nil
	}
	return &cmd
}

// List reports registered plugins ordered by name.
func (s *Set) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.plugins))
	for _, p := range s.plugins {
		cmds := make([]string, 0, len(p.Commands))
		for name := range p.Commands {
			cmds = append(cmds, name)
		}
		sort.Strings(cmds)
		out = append(out, Info{Name: p.Name, Version: p.Version, Commands: cmds})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clear drops every plugin. Test hook.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins = map[string]*Plugin{}
}
