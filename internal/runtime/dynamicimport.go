package runtime

import (
	"github.com/dop251/goja"
)

// dynamicImport implements spec §4.5: __dynamicImport(S) wraps require(S)
// in a resolved promise, normalizing CommonJS exports into the shape
// callers using `import(X).then(m => m.default)` expect.
func (e *Engine) dynamicImport(dir, specifier string) goja.Value {
	promise, resolve, reject := e.VM.NewPromise()

	exportsVal, err := e.Require(dir, specifier)
	if err != nil {
		reject(err.Error())
		return e.VM.ToValue(promise)
	}

	resolve(e.shapeDynamicImportResult(exportsVal))
	return e.VM.ToValue(promise)
}

// shapeDynamicImportResult: if exports already carry `default` or the
// ESM marker, resolve unchanged; otherwise synthesize { default: exports,
// ...exports } so both import styles observe CommonJS exports uniformly.
func (e *Engine) shapeDynamicImportResult(exportsVal goja.Value) goja.Value {
	obj, ok := exportsVal.(*goja.Object)
	if !ok {
		wrapper := e.VM.NewObject()
		_ = wrapper.Set("default", exportsVal)
		return wrapper
	}
	if hasOwn(obj, "default") || exportsLookEsModule(obj) {
		return obj
	}
	wrapper := e.VM.NewObject()
	_ = wrapper.Set("default", obj)
	for _, key := range obj.Keys() {
		_ = wrapper.Set(key, obj.Get(key))
	}
	return wrapper
}

func hasOwn(obj *goja.Object, key string) bool {
	for _, k := range obj.Keys() {
		if k == key {
			return true
		}
	}
	return false
}
