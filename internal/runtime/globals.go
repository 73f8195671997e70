package runtime

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// buildProcessValue constructs the process handle of spec §4.3 step 3
// (working directory, environment, argv, stdio sinks), also published
// globally per step 4 so libraries reading it directly see the same
// values a module receives as a binding.
func (e *Engine) buildProcessValue() goja.Value {
	obj := e.VM.NewObject()
	env := e.VM.NewObject()
	for k, v := range e.Env {
		_ = env.Set(k, v)
	}
	_ = obj.Set("env", env)
	_ = obj.Set("cwd", func(goja.FunctionCall) goja.Value { return e.VM.ToValue(e.WorkingDir) })
	argv := make([]interface{}, 0, len(e.Argv)+1)
	argv = append(argv, "bun")
	for _, a := range e.Argv {
		argv = append(argv, a)
	}
	_ = obj.Set("argv", argv)
	_ = obj.Set("platform", "linux")
	_ = obj.Set("version", "v20.0.0")
	stdout := e.VM.NewObject()
	_ = stdout.Set("write", func(call goja.FunctionCall) goja.Value {
		if e.Console != nil {
			e.Console.Write("stdout", call.Argument(0).String())
		}
		return e.VM.ToValue(true)
	})
	_ = obj.Set("stdout", stdout)
	stderr := e.VM.NewObject()
	_ = stderr.Set("write", func(call goja.FunctionCall) goja.Value {
		if e.Console != nil {
			e.Console.Write("stderr", call.Argument(0).String())
		}
		return e.VM.ToValue(true)
	})
	_ = obj.Set("stderr", stderr)
	_ = obj.Set("exit", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	_ = obj.Set("nextTick", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if ok {
			_, _ = fn(goja.Undefined())
		}
		return goja.Undefined()
	})
	return obj
}

// buildBunValue constructs the Bun platform capability surface referenced
// by spec §4.3 step 3 and §6.4's reserved name table.
func (e *Engine) buildBunValue() goja.Value {
	obj := e.VM.NewObject()
	_ = obj.Set("version", "1.0.0")
	_ = obj.Set("revision", "almostbun")
	_ = obj.Set("env", e.Env)
	_ = obj.Set("cwd", e.WorkingDir)
	_ = obj.Set("file", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		wrapper := e.VM.NewObject()
		_ = wrapper.Set("text", func(goja.FunctionCall) goja.Value {
			data, err := e.FS.ReadFileSync(p)
			promise, resolve, reject := e.VM.NewPromise()
			if err != nil {
				reject(err.Error())
			} else {
				resolve(string(data))
			}
			return e.VM.ToValue(promise)
		})
		return wrapper
	})
	return obj
}

// buildConsoleValue constructs the console handle of spec §4.3 step 3.
func (e *Engine) buildConsoleValue() goja.Value {
	obj := e.VM.NewObject()
	mk := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				parts = append(parts, fmt.Sprint(a.Export()))
			}
			line := strings.Join(parts, " ")
			if e.Console != nil {
				e.Console.Write(level, line)
			}
			return goja.Undefined()
		}
	}
	_ = obj.Set("log", mk("log"))
	_ = obj.Set("info", mk("info"))
	_ = obj.Set("warn", mk("warn"))
	_ = obj.Set("error", mk("error"))
	_ = obj.Set("debug", mk("debug"))
	return obj
}

// immediate handles implement setImmediate/clearImmediate when the host
// lacks native ones (spec §4.6 "Timers").
var immediateCounter int64

type immediateEntry struct {
	cancelled bool
}

var (
	immediateMu      sync.Mutex
	immediateEntries = map[int64]*immediateEntry{}
)

func (e *Engine) immediateSetter() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		id := atomic.AddInt64(&immediateCounter, 1)
		entry := &immediateEntry{}
		immediateMu.Lock()
		immediateEntries[id] = entry
		immediateMu.Unlock()
		if ok {
			go func() {
				immediateMu.Lock()
				cancelled := entry.cancelled
				immediateMu.Unlock()
				if !cancelled {
					_, _ = fn(goja.Undefined())
				}
			}()
		}
		return e.VM.ToValue(id)
	}
}

func (e *Engine) immediateClearer() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		immediateMu.Lock()
		if entry, ok := immediateEntries[id]; ok {
			entry.cancelled = true
		}
		immediateMu.Unlock()
		return goja.Undefined()
	}
}
