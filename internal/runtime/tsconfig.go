package runtime

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// aliasTable is the parsed compilerOptions relevant to resolution (spec
// §4.1 step 5).
type aliasTable struct {
	baseDir string // absolute directory baseUrl resolves against
	paths   []aliasEntry
}

type aliasEntry struct {
	pattern string // contains exactly one '*'
	targets []string
}

type tsconfigRaw struct {
	CompilerOptions struct {
		BaseURL string              `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
	} `json:"compilerOptions"`
	Extends string `json:"extends"`
}

// nearestTSConfigDir walks up from dir looking for tsconfig.json or
// jsconfig.json, caching "" for "none found".
func (r *Resolver) nearestTSConfigDir(fs vfs.FS, dir string) string {
	if v, ok := r.tsconfigDirCache.Get(dir); ok {
		return v
	}
	cur := dir
	for {
		for _, name := range []string{"tsconfig.json", "jsconfig.json"} {
			if fs.ExistsSync(path.Join(cur, name)) {
				r.tsconfigDirCache.Add(dir, cur)
				return cur
			}
		}
		if cur == "/" {
			break
		}
		cur = path.Dir(cur)
	}
	r.tsconfigDirCache.Add(dir, "")
	return ""
}

// aliasTableFor parses (and caches) the alias table for a tsconfig
// directory found by nearestTSConfigDir.
func (r *Resolver) aliasTableFor(fs vfs.FS, tsDir string) *aliasTable {
	if tsDir == "" {
		return nil
	}
	if v, ok := r.aliasCache.Get(tsDir); ok {
		return v
	}
	at := &aliasTable{baseDir: tsDir}
	var raw tsconfigRaw
	for _, name := range []string{"tsconfig.json", "jsconfig.json"} {
		data, err := fs.ReadFileSync(path.Join(tsDir, name))
		if err == nil {
			_ = json.Unmarshal(stripJSONComments(data), &raw)
			break
		}
	}
	baseURL := "."
	if raw.CompilerOptions.BaseURL != "" {
		baseURL = raw.CompilerOptions.BaseURL
	}
	at.baseDir = path.Join(tsDir, baseURL)
	for pattern, targets := range raw.CompilerOptions.Paths {
		at.paths = append(at.paths, aliasEntry{pattern: pattern, targets: targets})
	}
	r.aliasCache.Add(tsDir, at)
	return at
}

// stripJSONComments removes // and /* */ comments so tsconfig.json (which
// commonly isn't strict JSON) parses. Best-effort and line/string naive,
// matching the transformer's "textual, not AST-precise" philosophy (§4.2).
func stripJSONComments(data []byte) []byte {
	var out strings.Builder
	s := string(data)
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				out.WriteByte(s[i])
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			out.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			out.WriteByte('\n')
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i += 2
			for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i++
		default:
			out.WriteByte(c)
		}
	}
	return []byte(out.String())
}

// candidates tries each pattern (single '*' wildcard convention, spec
// §4.1 step 5) against specifier and returns the first matching pattern's
// targets as probe base paths. With no match, a specifier containing '/'
// falls back to baseUrl; any other specifier gets nil.
func (at *aliasTable) candidates(specifier string) []string {
	if at == nil {
		return nil
	}
	for _, entry := range at.paths {
		star := strings.IndexByte(entry.pattern, '*')
		if star < 0 {
			if entry.pattern == specifier {
				out := make([]string, 0, len(entry.targets))
				for _, t := range entry.targets {
					out = append(out, path.Join(at.baseDir, t))
				}
				return out
			}
			continue
		}
		prefix, suffix := entry.pattern[:star], entry.pattern[star+1:]
		if !strings.HasPrefix(specifier, prefix) || !strings.HasSuffix(specifier, suffix) {
			continue
		}
		capture := specifier[len(prefix) : len(specifier)-len(suffix)]
		out := make([]string, 0, len(entry.targets))
		for _, t := range entry.targets {
			out = append(out, path.Join(at.baseDir, strings.Replace(t, "*", capture, 1)))
		}
		return out
	}
	// Bare base-URL fallback: only for specifiers that contain a path
	// separator (a plain bare package name like "lodash" never reaches
	// baseUrl resolution — it goes through node_modules instead).
	if strings.Contains(specifier, "/") {
		return []string{path.Join(at.baseDir, specifier)}
	}
	return nil
}
