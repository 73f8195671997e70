package platform

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/BleedingDev/almostbun-sub000/internal/bus"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// Registry is the platform-module registry of spec §2 item 2 and §4.6: a
// static mapping from reserved names to in-process substitutes, one
// instance per runtime. Constructed substitutes (filesystem, process,
// child-process, Bun) are bound at construction time; the rest are plain
// modules built lazily and cached.
type Registry struct {
	VM         *goja.Runtime
	FS         vfs.FS
	Bus        *bus.Bus
	WorkingDir string
	Env        map[string]string
	Argv       []string

	mu      sync.Mutex
	built   map[string]goja.Value
	mutable map[string]*goja.Object // HTTP/HTTPS: fresh property-copied shells each require

	// RequireHook backs module.createRequire(fileOrUrl): given the
	// anchor file and a specifier, it behaves like the engine's own
	// require anchored at the file's directory. Wired by the engine
	// after both it and the registry exist (they reference each other).
	RequireHook func(fileOrURL, specifier string) (goja.Value, error)

	// BroadcastBus optionally mirrors BroadcastChannel posts across
	// processes (SPEC_FULL.md "Worker/messaging"); nil keeps the default
	// in-process-only behavior of spec §4.6.
	BroadcastBus BroadcastPublisher
}

// NewRegistry constructs the registry. VM is the same goja.Runtime the
// owning Engine uses, so substitutes returned here share identity with
// values created elsewhere in the sandbox.
func NewRegistry(vm *goja.Runtime, fsys vfs.FS, b *bus.Bus, workingDir string, env map[string]string, argv []string) *Registry {
	return &Registry{
		VM:         vm,
		FS:         fsys,
		Bus:        b,
		WorkingDir: workingDir,
		Env:        env,
		Argv:       argv,
		built:      make(map[string]goja.Value),
	}
}

// Get returns the substitute for a reserved, already-normalized name
// (spec §4.6 "Each substitute is a normal module object returned by
// require of a reserved name"). HTTP/HTTPS are special-cased: mutable
// per spec §4.3/§5, a fresh shell is handed out on every call so one
// requirer's monkey-patch of `.request` never leaks to another.
func (r *Registry) Get(name string) (goja.Value, error) {
	normalized := Normalize(name)

	switch normalized {
	case "http", "https":
		return r.httpModule(normalized), nil
	}

	r.mu.Lock()
	if v, ok := r.built[normalized]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	v, err := r.build(normalized)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.built[normalized] = v
	r.mu.Unlock()
	return v, nil
}

func (r *Registry) build(name string) (goja.Value, error) {
	switch name {
	case "fs", "fs/promises":
		return r.fsModule(), nil
	case "path":
		return r.pathModule(), nil
	case "process":
		return r.processModule(), nil
	case "events":
		return r.eventsModule(), nil
	case "stream":
		return r.streamModule(), nil
	case "buffer":
		return r.bufferModule(), nil
	case "url":
		return r.urlModule(), nil
	case "querystring":
		return r.querystringModule(), nil
	case "util", "util/types":
		return r.utilModule(), nil
	case "tty":
		return r.ttyModule(), nil
	case "os":
		return r.osModule(), nil
	case "crypto":
		return r.cryptoModule(), nil
	case "zlib":
		return r.zlibModule(), nil
	case "child_process":
		return r.childProcessModule(), nil
	case "assert":
		return r.assertModule(), nil
	case "constants":
		return r.VM.NewObject(), nil
	case "string_decoder":
		return r.stringDecoderModule(), nil
	case "timers", "timers/promises":
		return r.timersModule(), nil
	case "net", "tls", "dns", "http2":
		return r.unsupportedNetworkModule(name), nil
	case "readline":
		return r.readlineModule(), nil
	case "cluster", "dgram", "vm", "inspector", "inspector/promises",
		"perf_hooks", "domain", "diagnostics_channel", "wasi", "v8":
		return r.notImplementedModule(name), nil
	case "worker_threads":
		return r.workerThreadsModule(), nil
	case "async_hooks":
		return r.asyncHooksModule(), nil
	case "module":
		return r.moduleModule(), nil
	case "bun":
		return r.bunModule(), nil
	case "bun:sqlite":
		return r.sqliteModule(), nil
	case "bun:test":
		return r.testFrameworkModule(), nil
	case "bun:ffi":
		return r.ffiModule(), nil
	case "bun:jsc":
		return r.notImplementedModule(name), nil
	}
	if AlwaysIntercepted[name] {
		return r.interceptedModule(name), nil
	}
	return nil, fmt.Errorf("platform: no substitute registered for %q", name)
}

func (r *Registry) notImplementedModule(name string) goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("__platformStub", name)
	return obj
}

func (r *Registry) interceptedModule(name string) goja.Value {
	// spec §4.6: "build tools whose native binaries do not work in-process,
	// a code-formatter whose internal createRequire pattern conflicts, a
	// telemetry SDK that monkey-patches HTTP" — a no-op shell satisfies
	// import-time side effects without doing native work.
	obj := r.VM.NewObject()
	_ = obj.Set("__intercepted", name)
	noop := r.VM.ToValue(func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	for _, fn := range []string{"build", "transform", "format", "init", "start", "shutdown"} {
		_ = obj.Set(fn, noop)
	}
	return obj
}
