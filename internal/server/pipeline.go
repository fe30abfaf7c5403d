package server

import (
	"context"
	"fmt"
	"log"

	"github.com/browserbridge/bridge/internal/executor"
	"github.com/browserbridge/bridge/internal/plugins"
	"github.com/browserbridge/bridge/internal/registry"
)

// outcome is the shaped-agnostic result of one command execution.
type outcome struct {
	result any
	// executorCommand is the dispatched executor-side name, used by the
	// JSON-RPC front to special-case screenshot payloads.
	executorCommand string
}

// execute runs the shared command pipeline: feature gate, ACL, resolution,
// validation, dispatch. token is empty in open-access mode. closedUniverse
// rejects names with no registered definition (JSON-RPC front) instead of
// passing them through to the executor (REST front). label is the caller's
// noun for the command ("Command" or "Tool") in permission messages.
func (s *APIServer) execute(ctx context.Context, token, name string, params map[string]any, closedUniverse bool, label string) (outcome, *apiError) {
	if params == nil {
		params = map[string]any{}
	}

	def := s.registry.Resolve(name)
	if def == nil {
		def = s.registry.ResolveExecutor(name)
	}

	if isEvaluate(name, def) && !s.cfg.EnableEvaluate {
		return outcome{}, &apiError{kindPermission, "evaluate command is disabled. Set BRIDGE_ENABLE_EVALUATE=true to enable"}
	}

	if token != "" {
		if allowed := s.auth.PermissionsFor(token); allowed != nil && !permitted(allowed, name, def) {
			return outcome{}, &apiError{kindPermission, fmt.Sprintf("%s %q not allowed for this key", label, name)}
		}
	}

	if def == nil && closedUniverse {
		return outcome{}, &apiError{kindNotFound, fmt.Sprintf("Unknown tool: %s", name)}
	}

	executorCommand := name
	if def != nil {
		executorCommand = def.ExecutorCommand
		if err := def.Params.Validate(params); err != nil {
			return outcome{}, &apiError{kindValidation, err.Error()}
		}
	}

	result, err := s.dispatch(ctx, def, executorCommand, params)
	if err != nil {
		return outcome{executorCommand: executorCommand}, err
	}
	return outcome{result: result, executorCommand: executorCommand}, nil
}

func (s *APIServer) dispatch(ctx context.Context, def *registry.Definition, executorCommand string, params map[string]any) (any, *apiError) {
	if def != nil && def.Handler != nil {
		result, err := def.Handler(ctx, params)
		if err != nil {
			return nil, &apiError{kindExecution, err.Error()}
		}
		return result, nil
	}

	if cmd := s.plugins.Resolve(executorCommand); cmd != nil {
		result, err := cmd.Execute(ctx, params, s.pluginContext())
		if err != nil {
			return nil, &apiError{kindExecution, err.Error()}
		}
		return result, nil
	}

	if !s.executor.Connected() {
		return nil, &apiError{kindUnavailable, "Extension not connected"}
	}
	result, err := s.executor.Send(ctx, executorCommand, params)
	if err != nil {
		return nil, &apiError{kindExecution, err.Error()}
	}
	return result, nil
}

func (s *APIServer) pluginContext() plugins.ExecutionContext {
	return plugins.ExecutionContext{
		Send: func(ctx context.Context, command string, params map[string]any) (any, error) {
			if !s.executor.Connected() {
				return nil, executor.ErrNotConnected
			}
			raw, err := s.executor.Send(ctx, command, params)
			if err != nil {
				return nil, err
			}
			return raw, nil
		},
		Log: func(msg string) {
			log.Printf("[Plugin] %s", msg)
		},
	}
}

func isEvaluate(name string, def *registry.Definition) bool {
	if def != nil {
		return def.ExecutorCommand == "evaluate"
	}
	return name == "evaluate"
}

// permitted reports whether the allowlist names this command, by the form
// the caller used or by either registered name of the same command.
func permitted(allowed []string, name string, def *registry.Definition) bool {
	for _, a := range allowed {
		if a == name {
			return true
		}
		if def != nil && (a == def.Name || a == def.ExecutorCommand) {
			return true
		}
	}
	return false
}
