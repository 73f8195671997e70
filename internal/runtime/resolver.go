// Package runtime is the module-execution runtime: the resolver, the
// source transformer, the evaluator and the require/dynamic-import
// capabilities (spec §4.1-§4.5). It is the core of this repository.
package runtime

import (
	"path"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BleedingDev/almostbun-sub000/internal/diag"
	"github.com/BleedingDev/almostbun-sub000/internal/platform"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// indexExtensions is probed, in order, when a base path doesn't exist
// outright (spec §4.1 step 8).
var indexExtensions = []string{".js", ".json", ".node", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts", ".jsx"}

type resolveResult struct {
	path  string
	found bool
}

// Resolver implements spec §4.1. One Resolver is shared by every module of
// a runtime (the caches are explicitly monotonic within a process).
type Resolver struct {
	fs vfs.FS

	specifierCache   *lru.Cache[string, resolveResult]
	pkgJSONCache     *lru.Cache[string, *packageJSON]
	tsconfigDirCache *lru.Cache[string, string]
	aliasCache       *lru.Cache[string, *aliasTable]
	pnpmCache        *lru.Cache[string, []string]
}

// NewResolver builds a resolver over fs. cacheSize bounds every internal
// LRU cache (0 uses a sane default).
func NewResolver(fs vfs.FS, cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	spec, _ := lru.New[string, resolveResult](cacheSize)
	pkg, _ := lru.New[string, *packageJSON](cacheSize)
	tsd, _ := lru.New[string, string](cacheSize)
	als, _ := lru.New[string, *aliasTable](cacheSize)
	pnp, _ := lru.New[string, []string](cacheSize)
	return &Resolver{fs: fs, specifierCache: spec, pkgJSONCache: pkg, tsconfigDirCache: tsd, aliasCache: als, pnpmCache: pnp}
}

// Clear resets every cache (spec §9 "reset for tests").
func (r *Resolver) Clear() {
	r.specifierCache.Purge()
	r.pkgJSONCache.Purge()
	r.tsconfigDirCache.Purge()
	r.aliasCache.Purge()
	r.pnpmCache.Purge()
}

// ResolveResult is what Resolve returns on success.
type ResolveResult struct {
	// Reserved is true when Path is a platform-module name rather than a
	// filesystem path.
	Reserved bool
	Path     string
}

// Resolve turns specifier, anchored at dir, into a reserved name or a
// concrete absolute path (spec §4.1).
func (r *Resolver) Resolve(dir, specifier string) (ResolveResult, error) {
	// step 1: normalize
	normalized := platform.Normalize(specifier)
	if strings.HasPrefix(specifier, "bun:") && platform.Reserved[specifier] {
		return ResolveResult{Reserved: true, Path: specifier}, nil
	}

	// step 2: reserved route
	if platform.IsReserved(specifier) {
		return ResolveResult{Reserved: true, Path: normalized}, nil
	}
	// Packages in AlwaysIntercepted route to their substitute even when a
	// real copy sits in node_modules (spec §4.6): esbuild's and @swc/core's
	// native binaries and prettier's/otel-sdk-node's monkey-patching don't
	// survive running in-process, so resolution never gets the chance to
	// find the real file.
	if pkg := packageNameOf(normalized); platform.AlwaysIntercepted[pkg] {
		return ResolveResult{Reserved: true, Path: pkg}, nil
	}

	dir = canonicalDir(dir)
	cacheKey := dir + "\x00" + specifier
	if cached, ok := r.specifierCache.Get(cacheKey); ok {
		if !cached.found {
			return ResolveResult{}, notFoundErr(specifier, dir)
		}
		return ResolveResult{Path: cached.path}, nil
	}

	resolved, err := r.resolveUncached(dir, specifier, normalized)
	if err != nil {
		r.specifierCache.Add(cacheKey, resolveResult{found: false})
		return ResolveResult{}, err
	}
	r.specifierCache.Add(cacheKey, resolveResult{path: resolved, found: true})
	return ResolveResult{Path: resolved}, nil
}

// packageNameOf reduces a specifier to its package name, stripping any
// subpath: "@scope/pkg/subpath" -> "@scope/pkg", "pkg/subpath" -> "pkg".
func packageNameOf(specifier string) string {
	if strings.HasPrefix(specifier, "@") {
		idx := strings.IndexByte(specifier, '/')
		if idx < 0 {
			return specifier
		}
		rest := specifier[idx+1:]
		if sub := strings.IndexByte(rest, '/'); sub >= 0 {
			return specifier[:idx+1+sub]
		}
		return specifier
	}
	if idx := strings.IndexByte(specifier, '/'); idx >= 0 {
		return specifier[:idx]
	}
	return specifier
}

func (r *Resolver) resolveUncached(dir, specifier, normalized string) (string, error) {
	// step 4: relative/absolute
	if isRelativeOrAbsolute(specifier) {
		base := specifier
		if !strings.HasPrefix(specifier, "/") {
			base = path.Join(dir, specifier)
		}
		if hit := r.probe(base); hit != "" {
			return hit, nil
		}
		return "", notFoundErr(specifier, dir)
	}

	// step 5: tsconfig/jsconfig alias
	tsDir := r.nearestTSConfigDir(r.fs, dir)
	if tsDir != "" {
		at := r.aliasTableFor(r.fs, tsDir)
		for _, candidate := range at.candidates(normalized) {
			if hit := r.probe(candidate); hit != "" {
				return hit, nil
			}
		}
	}

	// step 6/7: node_modules walk
	cur := dir
	for {
		if hit, ok := r.resolveInNodeModules(path.Join(cur, "node_modules"), normalized); ok {
			return hit, nil
		}
		if cur == "/" {
			break
		}
		cur = path.Dir(cur)
	}
	if hit, ok := r.resolveInNodeModules("/node_modules", normalized); ok {
		return hit, nil
	}

	return "", notFoundErr(specifier, dir)
}

// resolveInNodeModules implements spec §4.1 step 7 at one node_modules root.
func (r *Resolver) resolveInNodeModules(nmRoot, specifier string) (string, bool) {
	if !r.fs.ExistsSync(nmRoot) {
		return "", false
	}
	pkgName, subPath := splitPackageSpecifier(specifier)

	var roots []string
	direct := path.Join(nmRoot, pkgName)
	if r.fs.ExistsSync(direct) {
		roots = append(roots, direct)
	}
	roots = append(roots, r.pnpmCandidates(nmRoot, pkgName)...)

	for _, root := range roots {
		if hit, ok := r.resolvePackageRoot(root, pkgName, subPath); ok {
			return hit, true
		}
	}

	if hit := r.probe(path.Join(nmRoot, specifier)); hit != "" {
		return hit, true
	}
	return "", false
}

func (r *Resolver) resolvePackageRoot(root, pkgName, subPath string) (string, bool) {
	pj, hasPJ := r.readPackageJSON(r.fs, root)
	request := "."
	if subPath != "." {
		request = "./" + subPath
	}

	if hasPJ && len(pj.Exports) > 0 {
		candidates := flattenExports(pj.Exports, request, []string{"require", "default"})
		for _, rel := range candidates {
			if hit := r.probe(path.Join(root, rel)); hit != "" {
				return hit, true
			}
		}
		if len(candidates) > 0 {
			// exports present and matched a request shape, but neither
			// candidate probed: do not fall through (it would violate the
			// exports contract), report unresolved at this root.
			return "", false
		}
	}

	if subPath == "." {
		if hasPJ {
			if pj.Main != "" {
				if hit := r.probe(path.Join(root, pj.Main)); hit != "" {
					return hit, true
				}
			}
			if pj.Module != "" {
				if hit := r.probe(path.Join(root, pj.Module)); hit != "" {
					return hit, true
				}
			}
		}
		if hit := r.probe(root); hit != "" {
			return hit, true
		}
		return "", false
	}

	if hit := r.probe(path.Join(root, subPath)); hit != "" {
		return hit, true
	}
	return "", false
}

// pnpmCandidates finds <nm>/.pnpm/<flattened>/node_modules/<pkg> entries
// whose store-entry name contains "<pkg>@", sorted deterministically by
// store-entry name (spec §4.1 step 7, §9 edge cases).
func (r *Resolver) pnpmCandidates(nmRoot, pkgName string) []string {
	cacheKey := nmRoot + "\x00" + pkgName
	if v, ok := r.pnpmCache.Get(cacheKey); ok {
		return v
	}
	storeDir := path.Join(nmRoot, ".pnpm")
	entries, err := r.fs.ReadDirSync(storeDir)
	if err != nil {
		r.pnpmCache.Add(cacheKey, nil)
		return nil
	}
	marker := pkgName + "@"
	var matches []string
	for _, e := range entries {
		if strings.Contains(e, marker) {
			matches = append(matches, e)
		}
	}
	sort.Strings(matches)
	var out []string
	for _, e := range matches {
		out = append(out, path.Join(storeDir, e, "node_modules", pkgName))
	}
	r.pnpmCache.Add(cacheKey, out)
	return out
}

// probe implements spec §4.1 step 8: file-or-directory probing.
func (r *Resolver) probe(base string) string {
	if info, err := r.fs.StatSync(base); err == nil {
		if info.IsFile() {
			return base
		}
		if info.IsDirectory() {
			if pj, ok := r.readPackageJSON(r.fs, base); ok {
				if pj.Main != "" {
					if hit := r.probeAsFile(path.Join(base, pj.Main)); hit != "" {
						return hit
					}
				}
				if pj.Module != "" {
					if hit := r.probeAsFile(path.Join(base, pj.Module)); hit != "" {
						return hit
					}
				}
			}
			for _, ext := range indexExtensions {
				candidate := path.Join(base, "index"+ext)
				if r.fs.ExistsSync(candidate) {
					return candidate
				}
			}
			return ""
		}
	}
	return r.probeAsFile(base)
}

// probeAsFile tries base as-is, then base+each extension.
func (r *Resolver) probeAsFile(base string) string {
	if info, err := r.fs.StatSync(base); err == nil && info.IsFile() {
		return base
	}
	for _, ext := range indexExtensions {
		candidate := base + ext
		if info, err := r.fs.StatSync(candidate); err == nil && info.IsFile() {
			return candidate
		}
	}
	return ""
}

func isRelativeOrAbsolute(specifier string) bool {
	return specifier == "." || specifier == ".." ||
		strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") ||
		strings.HasPrefix(specifier, "/")
}

// splitPackageSpecifier splits "S" into (package name, sub-path), where
// sub-path is "." when S equals the package name (spec §4.1 step 7).
func splitPackageSpecifier(specifier string) (name, subPath string) {
	segments := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") && len(segments) >= 2 {
		name = segments[0] + "/" + segments[1]
		rest := segments[2:]
		if len(rest) == 0 {
			return name, "."
		}
		return name, strings.Join(rest, "/")
	}
	name = segments[0]
	rest := segments[1:]
	if len(rest) == 0 {
		return name, "."
	}
	return name, strings.Join(rest, "/")
}

func canonicalDir(dir string) string {
	if dir == "" {
		return "/"
	}
	return path.Clean(dir)
}

func notFoundErr(specifier, dir string) error {
	return diag.NewModuleNotFound(specifier, dir)
}
