package platform

import (
	"github.com/dop251/goja"
)

// timersModule implements the setImmediate/clearImmediate polyfill
// fallback of spec §4.6, reusing the runtime-level immediate scheduler
// when one is wired in via engine globals; here it is a module-scoped
// equivalent for code that explicitly requires('timers') rather than
// reading the global.
func (r *Registry) timersModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("setImmediate", r.VM.Get("setImmediate"))
	_ = obj.Set("clearImmediate", r.VM.Get("clearImmediate"))
	_ = obj.Set("setTimeout", r.VM.Get("setTimeout"))
	_ = obj.Set("clearTimeout", r.VM.Get("clearTimeout"))
	promises := r.VM.NewObject()
	_ = promises.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		promise, resolve, _ := r.VM.NewPromise()
		resolve(goja.Undefined())
		return r.VM.ToValue(promise)
	})
	_ = obj.Set("promises", promises)
	return obj
}

// asyncHooksModule implements the Async-context substitute of spec §4.6
// with an explicit context stack rather than monkey-patching
// Promise.prototype.then, which goja does not expose for patching (spec §9
// "An equivalent strategy in a target without patchable hosts is an
// explicit task abstraction"). getStore() reflects only the synchronous
// extent of run/exit/runInAsyncScope: continuations scheduled by promises,
// timers or microtasks do not see the store. createHook records its
// callbacks but never calls init/before/after/destroy.
func (r *Registry) asyncHooksModule() goja.Value {
	obj := r.VM.NewObject()

	type ctxFrame struct{ store goja.Value }
	stack := []ctxFrame{{store: goja.Undefined()}}

	current := func() goja.Value { return stack[len(stack)-1].store }

	storageCtor := r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
		self := call.This
		_ = self.Set("run", func(c goja.FunctionCall) goja.Value {
			store := c.Argument(0)
			fn, ok := goja.AssertFunction(c.Argument(1))
			stack = append(stack, ctxFrame{store: store})
			defer func() { stack = stack[:len(stack)-1] }()
			if !ok {
				return goja.Undefined()
			}
			args := c.Arguments
			var rest []goja.Value
			if len(args) > 2 {
				rest = args[2:]
			}
			v, _ := fn(goja.Undefined(), rest...)
			return v
		})
		_ = self.Set("getStore", func(c goja.FunctionCall) goja.Value { return current() })
		_ = self.Set("enterWith", func(c goja.FunctionCall) goja.Value {
			stack[len(stack)-1] = ctxFrame{store: c.Argument(0)}
			return goja.Undefined()
		})
		_ = self.Set("exit", func(c goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(c.Argument(0))
			stack = append(stack, ctxFrame{store: goja.Undefined()})
			defer func() { stack = stack[:len(stack)-1] }()
			if !ok {
				return goja.Undefined()
			}
			v, _ := fn(goja.Undefined())
			return v
		})
		return nil
	})
	_ = obj.Set("AsyncLocalStorage", storageCtor)

	resourceCtor := r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
		self := call.This
		capturedStore := current()
		_ = self.Set("runInAsyncScope", func(c goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(c.Argument(0))
			stack = append(stack, ctxFrame{store: capturedStore})
			defer func() { stack = stack[:len(stack)-1] }()
			if !ok {
				return goja.Undefined()
			}
			args := c.Arguments
			var rest []goja.Value
			if len(args) > 1 {
				rest = args[1:]
			}
			v, _ := fn(c.Argument(1), rest...)
			return v
		})
		return nil
	})
	_ = obj.Set("AsyncResource", resourceCtor)

	var listeners []*goja.Object
	_ = obj.Set("createHook", func(call goja.FunctionCall) goja.Value {
		callbacksObj, _ := call.Argument(0).(*goja.Object)
		hook := r.VM.NewObject()
		_ = hook.Set("enable", func(goja.FunctionCall) goja.Value {
			if callbacksObj != nil {
				listeners = append(listeners, callbacksObj)
			}
			return hook
		})
		_ = hook.Set("disable", func(goja.FunctionCall) goja.Value {
			for i, l := range listeners {
				if l == callbacksObj {
					listeners = append(listeners[:i], listeners[i+1:]...)
					break
				}
			}
			return hook
		})
		return hook
	})
	return obj
}

// moduleModule implements createRequire/builtinModules/isBuiltin (spec
// §4.6 "Module"). createRequire's returned capability anchors at the
// given file's directory, same as a module-internal `require`; the
// engine wires the real resolver/evaluator in via a closure at Registry
// construction (see RequireHook).
func (r *Registry) moduleModule() goja.Value {
	obj := r.VM.NewObject()
	builtins := make([]string, 0, len(Reserved))
	for name := range Reserved {
		builtins = append(builtins, name)
	}
	_ = obj.Set("builtinModules", builtins)
	_ = obj.Set("isBuiltin", func(call goja.FunctionCall) goja.Value {
		return r.VM.ToValue(IsReserved(call.Argument(0).String()))
	})
	_ = obj.Set("createRequire", func(call goja.FunctionCall) goja.Value {
		fileOrURL := call.Argument(0).String()
		if r.RequireHook == nil {
			return r.VM.ToValue(func(goja.FunctionCall) goja.Value {
				panic(r.VM.ToValue("createRequire: no require hook installed"))
			})
		}
		return r.VM.ToValue(func(c goja.FunctionCall) goja.Value {
			v, err := r.RequireHook(fileOrURL, c.Argument(0).String())
			if err != nil {
				panic(r.VM.ToValue(err.Error()))
			}
			return v
		})
	})
	return obj
}

func (r *Registry) bunModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("version", "1.0.0")
	_ = obj.Set("env", r.Env)
	_ = obj.Set("cwd", r.WorkingDir)
	return obj
}
