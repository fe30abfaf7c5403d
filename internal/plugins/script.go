package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// LoadScripts reads every .js file in dir and builds a plugin from each.
// A missing directory is not an error. Scripts export the plugin shape via
// module.exports:
//
//	module.exports = {
//	  name: "demo",
//	  version: "0.1.0",
//	  commands: {
//	    hello: {
//	      description: "...",
//	      execute: function (params, ctx) { return ctx.send("navigate", {url: params.url}) }
//	    }
//	  }
//	}
//
// ctx exposes send(command, params), log(msg), and sleep(ms). Execution is
// synchronous from the script's point of view.
func LoadScripts(dir string) ([]*Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugins: read dir %s: %w", dir, err)
	}

	var out []*Plugin
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		plugin, err := LoadScript(path)
		if err != nil {
			return nil, err
		}
		out = append(out, plugin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadScript evaluates one plugin script and wraps its commands. Each
// script gets its own VM; a mutex serializes command execution because
// goja VMs are not safe for concurrent use.
func LoadScript(path string) (*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugins: read %s: %w", path, err)
	}

	vm := goja.New()
	module := vm.NewObject()
	exports := vm.NewObject()
	module.Set("exports", exports)
	vm.Set("module", module)
	vm.Set("exports", exports)

	if _, err := vm.RunString(string(data)); err != nil {
		return nil, fmt.Errorf("plugins: execute %s: %w", path, err)
	}

	if v := module.Get("exports"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		exports = v.ToObject(vm)
	}

	plugin := &Plugin{Commands: map[string]Command{}}
	if v := exports.Get("name"); v != nil && !goja.IsUndefined(v) {
		plugin.Name = v.String()
	}
	if plugin.Name == "" {
		return nil, fmt.Errorf("plugins: %s: missing plugin name", path)
	}
	if v := exports.Get("version"); v != nil && !goja.IsUndefined(v) {
		plugin.Version = v.String()
	} else {
		plugin.Version = "0.0.0"
	}

	commandsVal := exports.Get("commands")
	if commandsVal == nil || goja.IsUndefined(commandsVal) || goja.IsNull(commandsVal) {
		return nil, fmt.Errorf("plugins: %s: missing commands object", path)
	}
	commandsObj := commandsVal.ToObject(vm)

	var vmMu sync.Mutex
	for _, key := range commandsObj.Keys() {
		cmdObj := commandsObj.Get(key).ToObject(vm)
		executeVal := cmdObj.Get("execute")
		execute, ok := goja.AssertFunction(executeVal)
		if !ok {
			return nil, fmt.Errorf("plugins: %s: command %s: execute must be a function", path, key)
		}
		description := ""
		if v := cmdObj.Get("description"); v != nil && !goja.IsUndefined(v) {
			description = v.String()
		}

		plugin.Commands[key] = Command{
			Description: description,
			Execute: func(ctx context.Context, params map[string]any, ec ExecutionContext) (any, error) {
				vmMu.Lock()
				defer vmMu.Unlock()
				return runScriptCommand(ctx, vm, execute, params, ec)
			},
		}
	}
	if len(plugin.Commands) == 0 {
		return nil, fmt.Errorf("plugins: %s: commands object is empty", path)
	}

	return plugin, nil
}

func runScriptCommand(ctx context.Context, vm *goja.Runtime, execute goja.Callable, params map[string]any, ec ExecutionContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugins: script panic: %v", r)
		}
	}()

	callCtx := vm.NewObject()
	callCtx.Set("send", func(call goja.FunctionCall) goja.Value {
		command := call.Argument(0).String()
		var sendParams map[string]any
		if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			if m, ok := arg.Export().(map[string]any); ok {
				sendParams = m
			}
		}
		reply, sendErr := ec.Send(ctx, command, sendParams)
		if sendErr != nil {
			panic(vm.ToValue(sendErr.Error()))
		}
		return vm.ToValue(reply)
	})
	callCtx.Set("log", func(call goja.FunctionCall) goja.Value {
		ec.Log(call.Argument(0).String())
		return goja.Undefined()
	})
	callCtx.Set("sleep", func(call goja.FunctionCall) goja.Value {
		ms := call.Argument(0).ToInteger()
		if pauseErr := pause(ctx, time.Duration(ms)*time.Millisecond); pauseErr != nil {
			panic(vm.ToValue(pauseErr.Error()))
		}
		return goja.Undefined()
	})

	value, err := execute(goja.Undefined(), vm.ToValue(params), callCtx)
	if err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, fmt.Errorf("%s", exc.Value().String())
		}
		return nil, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}
