package runtime

import (
	"encoding/json"
	"path"

	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// packageJSON is the subset of package.json the resolver cares about.
type packageJSON struct {
	Name    string          `json:"name"`
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Exports json.RawMessage `json:"exports"`
}

// readPackageJSON parses dir/package.json, caching the result. A missing
// file is not an error — callers fall through to index probing.
func (r *Resolver) readPackageJSON(fs vfs.FS, dir string) (*packageJSON, bool) {
	p := path.Join(dir, "package.json")
	if v, ok := r.pkgJSONCache.Get(p); ok {
		return v, v != nil
	}
	data, err := fs.ReadFileSync(p)
	if err != nil {
		r.pkgJSONCache.Add(p, nil)
		return nil, false
	}
	var pj packageJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		r.pkgJSONCache.Add(p, nil)
		return nil, false
	}
	r.pkgJSONCache.Add(p, &pj)
	return &pj, true
}

// flattenExports walks an `exports` map under a condition list (tried in
// order: "require" then "default"), depth-first, and returns candidate
// sub-paths relative to the package root for a given request ("." or
// "./sub"). Handles the three exports shapes: a bare string, a map of
// request->target(s), and nested condition objects (spec §4.1 step 7,
// §9 "flattened depth-first; first probe hit wins").
func flattenExports(raw json.RawMessage, request string, conditions []string) []string {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		if request == "." {
			return []string{asString}
		}
		return nil
	}

	var asArray []json.RawMessage
	if json.Unmarshal(raw, &asArray) == nil {
		var out []string
		for _, item := range asArray {
			out = append(out, flattenConditionValue(item, conditions)...)
		}
		if request == "." {
			return out
		}
		return nil
	}

	var asObject map[string]json.RawMessage
	if json.Unmarshal(raw, &asObject) != nil {
		return nil
	}

	// Distinguish "request map" (keys start with "." or are bare package
	// names) from a "conditions map" (keys are condition names like
	// "require"/"default"/"import").
	looksLikeRequestMap := false
	for k := range asObject {
		if len(k) > 0 && k[0] == '.' {
			looksLikeRequestMap = true
			break
		}
	}

	if looksLikeRequestMap {
		target, ok := asObject[request]
		if !ok {
			return nil
		}
		return flattenConditionValue(target, conditions)
	}

	// A bare conditions map consulted directly for request ".".
	if request != "." {
		return nil
	}
	return flattenConditionValue(raw, conditions)
}

func flattenConditionValue(raw json.RawMessage, conditions []string) []string {
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return []string{asString}
	}
	var asArray []json.RawMessage
	if json.Unmarshal(raw, &asArray) == nil {
		var out []string
		for _, item := range asArray {
			out = append(out, flattenConditionValue(item, conditions)...)
		}
		return out
	}
	var asObject map[string]json.RawMessage
	if json.Unmarshal(raw, &asObject) != nil {
		return nil
	}
	for _, cond := range conditions {
		if v, ok := asObject[cond]; ok {
			return flattenConditionValue(v, conditions)
		}
	}
	return nil
}
