package runtime

import (
	"fmt"
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/BleedingDev/almostbun-sub000/internal/diag"
	"github.com/BleedingDev/almostbun-sub000/internal/platform"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// ConsoleSink receives console.* output in addition to the host mirror
// (spec §4.3 "a console handle that both mirrors to the host and delivers
// to an optional sink").
type ConsoleSink interface {
	Write(level, line string)
}

// Engine is the runtime singleton state of spec §3: one per sandboxed
// project, owning the resolver, transformer, module cache, platform
// registry, and process-level polyfills.
type Engine struct {
	VM          *goja.Runtime
	FS          vfs.FS
	Resolver    *Resolver
	Transformer *Transformer
	Modules     *ModuleCache
	Platform    *platform.Registry
	Log         logrus.FieldLogger

	WorkingDir string
	Env        map[string]string
	Argv       []string
	Console    ConsoleSink

	interop []InteropRule
}

// Config bundles construction-time options for NewEngine.
type Config struct {
	FS vfs.FS
	// PlatformFactory builds the platform registry against the engine's
	// goja.Runtime once it exists (the registry's http/server substitute
	// and the engine share one VM). Required.
	PlatformFactory func(vm *goja.Runtime) *platform.Registry
	Log             logrus.FieldLogger
	WorkingDir      string
	Env             map[string]string
	Argv            []string
	Console         ConsoleSink
	CacheSize       int
}

// NewEngine constructs the runtime and installs setImmediate/clearImmediate
// plus the fixed global bindings (§4.3 step 4: process and Bun are also
// published globally). No stack-trace or text-decoder polyfill is
// installed.
func NewEngine(cfg Config) *Engine {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("js", true))

	e := &Engine{
		VM:          vm,
		FS:          cfg.FS,
		Resolver:    NewResolver(cfg.FS, cfg.CacheSize),
		Transformer: NewTransformer(cfg.CacheSize, cfg.FS),
		Modules:     NewModuleCache(cfg.CacheSize),
		Platform:    cfg.PlatformFactory(vm),
		Log:         cfg.Log,
		WorkingDir:  cfg.WorkingDir,
		Env:         cfg.Env,
		Argv:        cfg.Argv,
		Console:     cfg.Console,
		interop:     DefaultInteropRules(),
	}
	e.Platform.RequireHook = func(fileOrURL, specifier string) (goja.Value, error) {
		return e.Require(path.Dir(strings.TrimPrefix(fileOrURL, "file://")), specifier)
	}
	e.installGlobals()
	return e
}

func (e *Engine) installGlobals() {
	processObj := e.buildProcessValue()
	bunObj := e.buildBunValue()
	_ = e.VM.Set("process", processObj)
	_ = e.VM.Set("Bun", bunObj)
	_ = e.VM.Set("console", e.buildConsoleValue())
	_ = e.VM.Set("globalThis", e.VM.GlobalObject())
	_ = e.VM.Set("setImmediate", e.immediateSetter())
	_ = e.VM.Set("clearImmediate", e.immediateClearer())
}

// RequireFromEntry evaluates the project's entry point the way the
// orchestrator's "start" phase does for a node-script project: entryPath
// is an already-resolved absolute path and is loaded directly, without
// running the resolver.
func (e *Engine) RequireFromEntry(entryPath string) (goja.Value, error) {
	return e.require(path.Dir(entryPath), entryPath, true)
}

// Require implements the call form require(S) of spec §4.4, anchored at
// fromDir.
func (e *Engine) Require(fromDir, specifier string) (goja.Value, error) {
	return e.require(fromDir, specifier, false)
}

// require is the shared implementation; entryIsPath lets the orchestrator
// pass an already-resolved absolute path directly (avoiding a redundant
// resolve for the entry script).
func (e *Engine) require(fromDir, specifier string, entryIsPath bool) (goja.Value, error) {
	var resolvedPath string
	var reserved bool

	if entryIsPath {
		resolvedPath = specifier
	} else {
		rr, err := e.Resolver.Resolve(fromDir, specifier)
		if err != nil {
			return nil, err
		}
		reserved = rr.Reserved
		resolvedPath = rr.Path
	}

	if reserved {
		mod, err := e.Platform.Get(resolvedPath)
		if err != nil {
			return nil, err
		}
		return e.VM.ToValue(mod), nil
	}

	rec, created := e.Modules.GetOrCreate(resolvedPath, e.VM)
	if !created {
		if !rec.Loaded {
			// circular require: return the in-progress partial exports.
			return rec.Exports, nil
		}
		return rec.Exports, nil
	}

	if err := e.evaluate(rec); err != nil {
		e.Modules.Evict(resolvedPath)
		return nil, err
	}
	return rec.Exports, nil
}

// ResolveOnly implements require.resolve(S): resolution only, no loading
// (spec §4.4).
func (e *Engine) ResolveOnly(fromDir, specifier string) (string, error) {
	rr, err := e.Resolver.Resolve(fromDir, specifier)
	if err != nil {
		return "", err
	}
	return rr.Path, nil
}

// evaluate runs the evaluator of spec §4.3 against an already-inserted
// record.
func (e *Engine) evaluate(rec *Module) (err error) {
	p := rec.ResolvedPath

	if strings.HasSuffix(p, ".json") {
		return e.evaluateJSON(rec)
	}
	if strings.HasSuffix(p, ".node") {
		return diag.NewNativeUnsupported(p, "native addon")
	}

	source, readErr := e.FS.ReadFileSync(p)
	if readErr != nil {
		return diag.NewLoadFailed(p, readErr)
	}

	transformed := e.Transformer.Transform(p, source)

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			if exc, ok := r.(*goja.Exception); ok {
				if file, line, col, remapped := e.Transformer.RemapException(p, exc); remapped {
					cause = fmt.Errorf("%w [original source %s:%d:%d]", cause, file, line, col)
				}
			}
			err = diag.NewLoadFailed(p, cause)
		}
	}()

	return e.evaluateWrapped(rec, transformed)
}

func (e *Engine) evaluateJSON(rec *Module) error {
	data, err := e.FS.ReadFileSync(rec.ResolvedPath)
	if err != nil {
		return diag.NewLoadFailed(rec.ResolvedPath, err)
	}
	val, err := parseJSONValue(e.VM, data)
	if err != nil {
		return diag.NewLoadFailed(rec.ResolvedPath, err)
	}
	rec.Exports = val
	rec.Loaded = true
	return nil
}
