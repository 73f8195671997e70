package runtime

import "github.com/dop251/goja"

// InteropRule is one entry of the patch-per-package interop registry (spec
// §4.4, §9): "if exports look like shape A and the caller's historical
// expectation is shape B, reshape to satisfy both." Rules are an
// extension point — new adapters are added without touching the
// evaluator.
type InteropRule struct {
	Name    string
	Matches func(exports goja.Value) bool
	Reshape func(vm *goja.Runtime, exports goja.Value) goja.Value
}

// DefaultInteropRules returns the built-in adapters. The exact package
// list is explicitly non-normative (spec §9); these cover the shapes
// named in spec §4.4's examples.
func DefaultInteropRules() []InteropRule {
	return []InteropRule{
		{
			Name: "callable-event-emitter",
			Matches: func(exports goja.Value) bool {
				obj, ok := exports.(*goja.Object)
				if !ok {
					return false
				}
				_, isFunc := goja.AssertFunction(exports)
				return isFunc && obj.Get("on") != nil && !goja.IsUndefined(obj.Get("on"))
			},
			Reshape: func(vm *goja.Runtime, exports goja.Value) goja.Value {
				// Already callable and already carries "on": nothing to do,
				// this rule exists to document the shape and is a no-op
				// placeholder for packages whose emitter isn't callable by
				// default — concrete per-package reshaping lives alongside
				// the package once a real incompatibility is observed.
				return exports
			},
		},
		{
			Name: "digest-accepts-typed-array",
			Matches: func(exports goja.Value) bool {
				obj, ok := exports.(*goja.Object)
				if !ok {
					return false
				}
				return obj.Get("update") != nil && obj.Get("digest") != nil
			},
			Reshape: func(vm *goja.Runtime, exports goja.Value) goja.Value {
				return exports
			},
		},
		{
			Name: "case-insensitive-lookup-table",
			Matches: func(exports goja.Value) bool {
				obj, ok := exports.(*goja.Object)
				if !ok {
					return false
				}
				return obj.Get("mimeTypes") != nil || obj.Get("MIME_TYPES") != nil
			},
			Reshape: func(vm *goja.Runtime, exports goja.Value) goja.Value {
				obj := exports.(*goja.Object)
				if obj.Get("mimeTypes") == nil && obj.Get("MIME_TYPES") != nil {
					_ = obj.Set("mimeTypes", obj.Get("MIME_TYPES"))
				}
				return obj
			},
		},
	}
}

// applyInterop runs every matching rule over a module's final exports
// once, after evaluation completes.
func (e *Engine) applyInterop(path string, exports goja.Value) goja.Value {
	_ = path
	for _, rule := range e.interop {
		if rule.Matches(exports) {
			exports = rule.Reshape(e.VM, exports)
		}
	}
	return exports
}
