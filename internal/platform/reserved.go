// Package platform holds the single-source-of-truth list of reserved
// module names (spec §4.6, §6.4) and the registry that maps them to
// in-process substitutes. The resolver and the require capability consult
// this one table; the preflight analyzer does not (it keeps its own
// knownNativeOnlyPackages list).
package platform

import "strings"

// Reserved is the fixed list of names that short-circuit resolution and
// route to an in-process substitute instead of a file on disk. Grouped by
// capability for readability; order is not significant.
var Reserved = buildReserved()

func buildReserved() map[string]bool {
	names := []string{
		// filesystem
		"fs", "fs/promises", "node:fs", "node:fs/promises",
		// path / process / misc core
		"path", "process", "events", "stream", "buffer", "url",
		"querystring", "util", "util/types", "tty", "os", "crypto", "zlib",
		"dns", "child_process", "assert", "constants", "string_decoder",
		"timers", "timers/promises",
		// http family
		"http", "https", "http2", "net", "tls",
		// misc node builtins used by real-world packages
		"readline", "cluster", "dgram", "vm", "inspector", "inspector/promises",
		"perf_hooks", "worker_threads", "async_hooks", "domain",
		"diagnostics_channel", "wasi", "v8", "module",
		// bun-ish runtime surface
		"bun", "bun:sqlite", "bun:test", "bun:ffi", "bun:jsc",
	}
	m := make(map[string]bool, len(names)*2)
	for _, n := range names {
		m[n] = true
		if !strings.HasPrefix(n, "node:") && !strings.HasPrefix(n, "bun:") {
			m["node:"+n] = true
		}
	}
	return m
}

// AlwaysIntercepted lists packages that are overridden regardless of
// whether a copy of them exists in node_modules — their native binaries or
// monkey-patch tricks don't work in-process (spec §4.6).
var AlwaysIntercepted = map[string]bool{
	"esbuild":           true,
	"@swc/core":         true,
	"prettier":          true,
	"@opentelemetry/sdk-node": true,
}

// Normalize strips a "node:" prefix and trailing slashes, the first step
// of resolution (spec §4.1 step 1).
func Normalize(specifier string) string {
	s := strings.TrimPrefix(specifier, "node:")
	for strings.HasSuffix(s, "/") && s != "/" {
		s = strings.TrimSuffix(s, "/")
	}
	return s
}

// IsReserved reports whether a (already-normalized-form-agnostic) specifier
// routes to a platform substitute. It accepts both "foo" and "node:foo".
func IsReserved(specifier string) bool {
	if specifier == "fs" || specifier == "fs/promises" || specifier == "process" || specifier == "bun" {
		return true
	}
	if strings.HasPrefix(specifier, "bun:") {
		return Reserved[specifier]
	}
	return Reserved[Normalize(specifier)] || Reserved[specifier]
}
