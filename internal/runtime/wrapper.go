package runtime

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/dop251/goja"

	"github.com/BleedingDev/almostbun-sub000/internal/diag"
)

// evaluateWrapped builds the CommonJS-style wrapper of spec §4.3 step 3
// and executes it. The record is already in the cache (inserted before
// evaluation, per the identity invariant), so a require of rec.ResolvedPath
// from inside the body observes the same Module and its partial exports.
func (e *Engine) evaluateWrapped(rec *Module, body string) error {
	dir := path.Dir(rec.ResolvedPath)

	wrapped := "(function(exports, require, module, __filename, __dirname, import_meta, __dynamicImport) {\n" +
		body + "\n})"

	prog, err := goja.Compile(rec.ResolvedPath, wrapped, false)
	if err != nil {
		return diag.NewTransformAmbiguous(rec.ResolvedPath)
	}

	fnVal, err := e.VM.RunProgram(prog)
	if err != nil {
		return diag.NewLoadFailed(rec.ResolvedPath, err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return diag.NewTransformAmbiguous(rec.ResolvedPath)
	}

	moduleObj := e.VM.NewObject()
	_ = moduleObj.Set("exports", rec.Exports)
	_ = moduleObj.Set("id", rec.ResolvedPath)
	_ = moduleObj.Set("filename", rec.ResolvedPath)

	requireVal := e.buildRequireValue(dir, rec)
	importMeta := e.buildImportMeta(rec.ResolvedPath)
	dynImport := e.VM.ToValue(func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		return e.dynamicImport(dir, spec)
	})

	_, callErr := fn(goja.Undefined(),
		rec.Exports,
		requireVal,
		moduleObj,
		e.VM.ToValue(rec.ResolvedPath),
		e.VM.ToValue(dir),
		importMeta,
		dynImport,
	)
	if callErr != nil {
		return diag.NewLoadFailed(rec.ResolvedPath, callErr)
	}

	finalExports := moduleObj.Get("exports")
	rec.Exports = e.applyInterop(rec.ResolvedPath, finalExports)
	rec.ESModule = exportsLookEsModule(rec.Exports)
	rec.Loaded = true
	return nil
}

func exportsLookEsModule(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	marker := obj.Get("__esModule")
	return marker != nil && !goja.IsUndefined(marker) && marker.ToBoolean()
}

// buildRequireValue constructs the per-module require capability (spec §3
// "Require capability", §4.4): a callable with a .resolve sub-operation
// and a .cache object. .cache is a snapshot of the module cache taken when
// the capability is built; later loads do not appear in it, and writes to
// it do not reach the module cache.
func (e *Engine) buildRequireValue(dir string, self *Module) goja.Value {
	reqFn := e.VM.ToValue(func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		val, err := e.Require(dir, spec)
		if err != nil {
			panic(e.VM.ToValue(err.Error()))
		}
		self.Children = append(self.Children, spec)
		return val
	})
	obj := reqFn.(*goja.Object)
	_ = obj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		resolved, err := e.ResolveOnly(dir, spec)
		if err != nil {
			panic(e.VM.ToValue(err.Error()))
		}
		return e.VM.ToValue(resolved)
	})
	_ = obj.Set("cache", e.requireCacheValue())
	return obj
}

func (e *Engine) requireCacheValue() goja.Value {
	snapshot := e.Modules.Snapshot()
	cache := e.VM.NewObject()
	for p, rec := range snapshot {
		entry := e.VM.NewObject()
		_ = entry.Set("id", rec.ResolvedPath)
		_ = entry.Set("exports", rec.Exports)
		_ = entry.Set("loaded", rec.Loaded)
		_ = cache.Set(p, entry)
	}
	return cache
}

func (e *Engine) buildImportMeta(resolvedPath string) goja.Value {
	obj := e.VM.NewObject()
	_ = obj.Set("url", "file://"+resolvedPath)
	_ = obj.Set("dirname", path.Dir(resolvedPath))
	_ = obj.Set("filename", resolvedPath)
	return obj
}

func parseJSONValue(vm *goja.Runtime, data []byte) (goja.Value, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return vm.ToValue(v), nil
}
