package orchestrator

import (
	"encoding/json"
	"path"

	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// ssrFrameworkDeps and clientBundlerDeps ground the classifier's
// dependency-presence signal (spec §4.8 step 3).
var ssrFrameworkDeps = []string{"next", "@remix-run/react", "astro", "@sveltejs/kit", "nuxt"}
var clientBundlerDeps = []string{"vite", "webpack", "parcel", "rollup"}
var clientBundlerConfigFiles = []string{"vite.config.js", "vite.config.ts", "webpack.config.js", "rollup.config.js"}

// DetectRunnableProject implements spec §4.8 step 3 / §6.3's
// detectRunnableProject. fallbackSearchDepth bounds the descent when no
// classification is found at projectPath's root.
func DetectRunnableProject(fsys vfs.FS, projectPath string, fallbackSearchDepth int) DetectedRunnableProject {
	if d, ok := classifyAt(fsys, projectPath, 0); ok {
		return d
	}
	for depth := 1; depth <= fallbackSearchDepth; depth++ {
		best, found := scoreDescendants(fsys, projectPath, depth)
		if found {
			return best
		}
	}
	return DetectedRunnableProject{Kind: KindStatic, ProjectPath: projectPath}
}

func classifyAt(fsys vfs.FS, dir string, depth int) (DetectedRunnableProject, bool) {
	if isPreBuiltDist(fsys, dir) {
		return DetectedRunnableProject{Kind: KindDist, ProjectPath: dir, Depth: depth, Score: 1.0}, true
	}

	pj, hasPJ := readPkgJSON(fsys, dir)

	if hasPJ && (hasAnyDep(pj, ssrFrameworkDeps) || fsys.ExistsSync(path.Join(dir, "app")) || fsys.ExistsSync(path.Join(dir, "pages"))) {
		score := 0.6
		if fsys.ExistsSync(path.Join(dir, "pages", "index.js")) || fsys.ExistsSync(path.Join(dir, "app", "page.tsx")) {
			score = 0.9 // root-route presence scoring (spec §4.8 step 3)
		}
		return DetectedRunnableProject{Kind: KindSSR, ProjectPath: dir, Depth: depth, Score: score}, true
	}

	if hasAnyFile(fsys, dir, clientBundlerConfigFiles) || (hasPJ && hasAnyDep(pj, clientBundlerDeps)) || fsys.ExistsSync(path.Join(dir, "index.html")) {
		return DetectedRunnableProject{Kind: KindClientBundler, ProjectPath: dir, Depth: depth, Score: 0.7}, true
	}

	if hasPJ {
		if entry, ok := scriptedEntry(fsys, dir, pj); ok {
			return DetectedRunnableProject{Kind: KindNodeScript, ProjectPath: dir, EntryFile: entry, Depth: depth, Score: 0.5}, true
		}
	}

	return DetectedRunnableProject{}, false
}

// scoreDescendants classifies every directory exactly maxDepth levels
// below root (spec §4.8 step 3's bounded-depth descent), returning the
// highest-scoring match.
func scoreDescendants(fsys vfs.FS, root string, maxDepth int) (DetectedRunnableProject, bool) {
	var best DetectedRunnableProject
	found := false
	for _, dir := range dirsAtDepth(fsys, root, maxDepth) {
		if d, ok := classifyAt(fsys, dir, maxDepth); ok {
			if !found || d.Score > best.Score {
				best, found = d, true
			}
		}
	}
	return best, found
}

// dirsAtDepth lists every directory exactly depth levels below root.
func dirsAtDepth(fsys vfs.FS, root string, depth int) []string {
	if depth <= 0 {
		return []string{root}
	}
	names, err := fsys.ReadDirSync(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range names {
		child := path.Join(root, name)
		info, err := fsys.StatSync(child)
		if err != nil || !info.IsDirectory() {
			continue
		}
		if depth == 1 {
			out = append(out, child)
		} else {
			out = append(out, dirsAtDepth(fsys, child, depth-1)...)
		}
	}
	return out
}

func isPreBuiltDist(fsys vfs.FS, dir string) bool {
	distDir := path.Join(dir, "dist")
	if !fsys.ExistsSync(distDir) {
		return false
	}
	return fsys.ExistsSync(path.Join(distDir, "routes-manifest.json")) ||
		fsys.ExistsSync(path.Join(distDir, "manifest.json")) ||
		fsys.ExistsSync(path.Join(distDir, "server", "api-manifest.json"))
}

func readPkgJSON(fsys vfs.FS, dir string) (pkgJSON, bool) {
	data, err := fsys.ReadFileSync(path.Join(dir, "package.json"))
	if err != nil {
		return pkgJSON{}, false
	}
	var pj pkgJSON
	if json.Unmarshal(data, &pj) != nil {
		return pkgJSON{}, false
	}
	return pj, true
}

func hasAnyDep(pj pkgJSON, names []string) bool {
	for _, n := range names {
		if _, ok := pj.Dependencies[n]; ok {
			return true
		}
		if _, ok := pj.DevDependencies[n]; ok {
			return true
		}
	}
	return false
}

func hasAnyFile(fsys vfs.FS, dir string, names []string) bool {
	for _, n := range names {
		if fsys.ExistsSync(path.Join(dir, n)) {
			return true
		}
	}
	return false
}

// scriptedEntry implements spec §4.8 step 3's "a scripts.{bun|dev|start|
// serve|preview} whose first command resolves to a local source file, or
// main, or a conventional fallback name".
func scriptedEntry(fsys vfs.FS, dir string, pj pkgJSON) (string, bool) {
	raw, err := fsys.ReadFileSync(path.Join(dir, "package.json"))
	if err != nil {
		return "", false
	}
	var full struct {
		Main    string            `json:"main"`
		Scripts map[string]string `json:"scripts"`
	}
	if json.Unmarshal(raw, &full) != nil {
		return "", false
	}
	for _, key := range []string{"bun", "dev", "start", "serve", "preview"} {
		if cmd, ok := full.Scripts[key]; ok {
			if entry := firstLocalFileArg(cmd); entry != "" {
				candidate := path.Join(dir, entry)
				if fsys.ExistsSync(candidate) {
					return candidate, true
				}
			}
		}
	}
	if full.Main != "" {
		candidate := path.Join(dir, full.Main)
		if fsys.ExistsSync(candidate) {
			return candidate, true
		}
	}
	for _, fallback := range []string{"index.js", "server.js", "app.js", "main.js"} {
		candidate := path.Join(dir, fallback)
		if fsys.ExistsSync(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func firstLocalFileArg(cmd string) string {
	fields := splitFields(cmd)
	for _, f := range fields {
		if len(f) > 3 && (hasSuffixAny(f, ".js", ".ts", ".mjs", ".cjs")) {
			return f
		}
	}
	return ""
}

func splitFields(s string) []string {
	var fields []string
	cur := ""
	for _, r := range s {
		if r == ' ' || r == '\t' {
			if cur != "" {
				fields = append(fields, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		fields = append(fields, cur)
	}
	return fields
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}
