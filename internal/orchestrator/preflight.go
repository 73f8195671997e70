package orchestrator

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/BleedingDev/almostbun-sub000/internal/diag"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

type pkgJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Workspaces      interface{}       `json:"workspaces"`
	Exports         interface{}       `json:"exports"`
}

// knownNativeOnlyPackages have no viable in-process substitute (spec
// §4.8 step 2): flagged info/warning with a known-fallback note rather
// than failing resolution outright.
var knownNativeOnlyPackages = map[string]string{
	"better-sqlite3": "use the bun:sqlite platform substitute instead",
	"sharp":          "image processing has no in-process substitute; pre-process assets before bootstrapping",
	"fsevents":       "filesystem watching falls back to the VFS watch capability",
	"puppeteer":      "no in-process browser automation is available",
}

// RunPreflight implements spec §4.8 step 2: check dest's package.json for
// a missing workspace root and for native-only dependencies. Sub-path
// imports are not checked against packages' exports maps. mode is
// off|warn|strict.
func RunPreflight(fsys vfs.FS, dest, mode string) ([]PreflightIssue, error) {
	if mode == "off" {
		return nil, nil
	}

	var issues []PreflightIssue

	pkgPath := path.Join(dest, "package.json")
	if !fsys.ExistsSync(pkgPath) {
		issues = append(issues, PreflightIssue{
			Code: string(diag.KindPreflightPackageJSON), Severity: "error",
			Message: "no package.json at project root", Path: pkgPath,
		})
	} else {
		data, err := fsys.ReadFileSync(pkgPath)
		if err == nil {
			var pj pkgJSON
			if json.Unmarshal(data, &pj) == nil {
				issues = append(issues, checkWorkspaceRoot(fsys, dest, pj)...)
				issues = append(issues, checkNativeOnlyDeps(pj)...)
			}
		}
	}

	if mode == "strict" {
		for _, issue := range issues {
			if issue.Severity == "error" {
				return issues, &FailureEnvelope{
					Code:                diag.KindPreflightPackageJSON,
					Phase:               "preflight",
					Message:             "preflight failed in strict mode: " + issue.Message,
					PreflightIssueCodes: issueCodes(issues),
				}
			}
		}
	}

	return issues, nil
}

func checkWorkspaceRoot(fsys vfs.FS, dest string, pj pkgJSON) []PreflightIssue {
	hasWorkspaceDeps := false
	for _, v := range pj.Dependencies {
		if strings.HasPrefix(v, "workspace:") {
			hasWorkspaceDeps = true
			break
		}
	}
	if !hasWorkspaceDeps {
		return nil
	}
	if pj.Workspaces == nil {
		return []PreflightIssue{{
			Code: string(diag.KindPreflightWorkspaceRoot), Severity: "error",
			Message: "dependencies use workspace: specifiers but no workspace root was found",
			Path:    path.Join(dest, "package.json"),
		}}
	}
	return nil
}

func checkNativeOnlyDeps(pj pkgJSON) []PreflightIssue {
	var issues []PreflightIssue
	for dep := range pj.Dependencies {
		if note, ok := knownNativeOnlyPackages[dep]; ok {
			issues = append(issues, PreflightIssue{
				Code: string(diag.KindPreflightNative), Severity: "warning",
				Message: dep + " has no viable in-process substitute: " + note,
			})
		}
	}
	return issues
}

func issueCodes(issues []PreflightIssue) []string {
	codes := make([]string, len(issues))
	for i, issue := range issues {
		codes[i] = issue.Code
	}
	return codes
}
