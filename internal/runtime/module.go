package runtime

import (
	"sync"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Module is the module record of spec §3: keyed by resolved path, at most
// one instance per path per runtime, inserted before evaluation begins so
// cycles resolve to a partial view.
type Module struct {
	ResolvedPath string
	Exports      goja.Value
	Loaded       bool
	Children     []string
	SourceHash   string
	ESModule     bool
}

// ModuleCache is the shared require cache (spec §3 "Require capability"
// / §4.3 "Eviction"): an LRU, soft-capped, least-recently-inserted
// eviction policy backed by hashicorp/golang-lru/v2.
type ModuleCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Module]
}

// NewModuleCache builds a cache with soft cap softCap (0 uses a default).
func NewModuleCache(softCap int) *ModuleCache {
	if softCap <= 0 {
		softCap = 2048
	}
	c, _ := lru.New[string, *Module](softCap)
	return &ModuleCache{cache: c}
}

// GetOrCreate returns the existing record for path, or inserts a fresh,
// unloaded one and returns (record, true) to signal the caller must now
// evaluate it.
func (m *ModuleCache) GetOrCreate(path string, vm *goja.Runtime) (rec *Module, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.cache.Peek(path); ok {
		return existing, false
	}
	rec = &Module{ResolvedPath: path, Exports: vm.NewObject()}
	m.cache.Add(path, rec)
	return rec, true
}

// Evict removes a record — used when evaluation of its body fails (spec
// §4.3 "Eviction", §8 "a second require retries evaluation").
func (m *ModuleCache) Evict(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(path)
}

// Snapshot returns every cached record, for require.cache (spec §4.4).
func (m *ModuleCache) Snapshot() map[string]*Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Module)
	for _, k := range m.cache.Keys() {
		if v, ok := m.cache.Peek(k); ok {
			out[k] = v
		}
	}
	return out
}

// Clear purges every record (spec §9 "reset for tests").
func (m *ModuleCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
}
