package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/BleedingDev/almostbun-sub000/internal/config"
	"github.com/BleedingDev/almostbun-sub000/internal/diag"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// runSpecVersion is the only version a decoder accepts (spec §4.9,
// §6.5: "any reader that sees version !== 1 must refuse to decode").
const runSpecVersion = 1

// lockfileVariants are the lockfile names hashed into a run spec (spec
// §4.9 "content hashes of any lockfile variants present").
var lockfileVariants = []string{"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "bun.lockb", "bun.lock"}

// RunSpec is spec §6.5's serializable record:
// {version, generatedAt, repo, projectPath, detectedKind, options, lockHashes}.
type RunSpec struct {
	Version      int                  `json:"version" yaml:"version"`
	GeneratedAt  int64                `json:"generatedAt" yaml:"generatedAt"`
	Repo         RepoCoordinates      `json:"repo" yaml:"repo"`
	ProjectPath  string               `json:"projectPath" yaml:"projectPath"`
	DetectedKind ProjectKind          `json:"detectedKind" yaml:"detectedKind"`
	Options      DeterministicOptions `json:"options" yaml:"options"`
	LockHashes   map[string]string    `json:"lockHashes" yaml:"lockHashes"`
}

// DeterministicOptions is spec §4.9's whitelist, captured verbatim so a
// replay reproduces the same bootstrap-and-run decision surface.
type DeterministicOptions struct {
	IncludeDevDependencies      bool   `json:"includeDevDependencies" yaml:"includeDevDependencies"`
	IncludeOptionalDependencies bool   `json:"includeOptionalDependencies" yaml:"includeOptionalDependencies"`
	IncludeWorkspaces           bool   `json:"includeWorkspaces" yaml:"includeWorkspaces"`
	PreferLockfile              bool   `json:"preferLockfile" yaml:"preferLockfile"`
	PreferPublishedWorkspaces   bool   `json:"preferPublishedWorkspaces" yaml:"preferPublishedWorkspaces"`
	ProjectSourceTransform      string `json:"projectSourceTransform" yaml:"projectSourceTransform"`
	PreflightMode               string `json:"preflightMode" yaml:"preflightMode"`
	StartTimeoutSeconds         int    `json:"startTimeoutSeconds" yaml:"startTimeoutSeconds"`
	ClientHMRInjection          bool   `json:"clientHmrInjection" yaml:"clientHmrInjection"`
}

func whitelistFrom(o config.Options) DeterministicOptions {
	return DeterministicOptions{
		IncludeDevDependencies:      o.IncludeDevDependencies,
		IncludeOptionalDependencies: o.IncludeOptionalDependencies,
		IncludeWorkspaces:           o.IncludeWorkspaces,
		PreferLockfile:              o.PreferLockfile,
		PreferPublishedWorkspaces:   o.PreferPublishedWorkspaces,
		ProjectSourceTransform:      o.ProjectSourceTransform,
		PreflightMode:               o.PreflightMode,
		StartTimeoutSeconds:         o.StartTimeoutSeconds,
		ClientHMRInjection:          o.ClientHMRInjection,
	}
}

// overlay applies the whitelist back onto a base config.Options, leaving
// runtime-only fields (logging, progress, trace, port, env) untouched so
// a caller can layer its own overrides on top (spec §4.9 "overlaid with
// optional runtime-only overrides").
func (d DeterministicOptions) overlay(base config.Options) config.Options {
	base.IncludeDevDependencies = d.IncludeDevDependencies
	base.IncludeOptionalDependencies = d.IncludeOptionalDependencies
	base.IncludeWorkspaces = d.IncludeWorkspaces
	base.PreferLockfile = d.PreferLockfile
	base.PreferPublishedWorkspaces = d.PreferPublishedWorkspaces
	base.ProjectSourceTransform = d.ProjectSourceTransform
	base.PreflightMode = d.PreflightMode
	base.StartTimeoutSeconds = d.StartTimeoutSeconds
	base.ClientHMRInjection = d.ClientHMRInjection
	return base
}

// BuildRunSpec implements spec §4.9's "constructed after a successful
// run": hash every present lockfile variant under projectPath and
// capture the deterministic option whitelist.
func BuildRunSpec(fsys vfs.FS, rc RepoCoordinates, projectPath string, kind ProjectKind, opts config.Options, generatedAt int64) (RunSpec, error) {
	hashes, err := hashLockfiles(fsys, projectPath)
	if err != nil {
		return RunSpec{}, err
	}
	return RunSpec{
		Version:      runSpecVersion,
		GeneratedAt:  generatedAt,
		Repo:         rc,
		ProjectPath:  projectPath,
		DetectedKind: kind,
		Options:      whitelistFrom(opts),
		LockHashes:   hashes,
	}, nil
}

func hashLockfiles(fsys vfs.FS, projectPath string) (map[string]string, error) {
	hashes := map[string]string{}
	for _, name := range lockfileVariants {
		full := path.Join(projectPath, name)
		if !fsys.ExistsSync(full) {
			continue
		}
		data, err := fsys.ReadFileSync(full)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		hashes[name] = hex.EncodeToString(sum[:])
	}
	return hashes, nil
}

// Encode serializes the run spec to a URL-safe base64 string (spec
// §4.9, §6.5).
func (r RunSpec) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeRunSpec decodes a run spec previously produced by Encode,
// refusing anything but version 1 (spec §6.5).
func DecodeRunSpec(encoded string) (RunSpec, error) {
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return RunSpec{}, fmt.Errorf("run spec is not valid base64: %w", err)
	}
	var r RunSpec
	if err := json.Unmarshal(data, &r); err != nil {
		return RunSpec{}, fmt.Errorf("run spec is not valid JSON: %w", err)
	}
	if r.Version != runSpecVersion {
		return RunSpec{}, fmt.Errorf("unsupported run spec version %d, expected %d", r.Version, runSpecVersion)
	}
	return r, nil
}

// EncodeYAML renders the run spec as human-editable YAML (spec §4.9's
// "run spec" is the same document as Encode's base64 form; this is an
// operator-facing surface for hand-inspecting or hand-editing one before
// replay, the same document shape pnpm's own pnpm-lock.yaml uses for its
// lockfile).
func (r RunSpec) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(r)
}

// DecodeRunSpecYAML is EncodeYAML's inverse, enforcing the same version
// gate as DecodeRunSpec.
func DecodeRunSpecYAML(data []byte) (RunSpec, error) {
	var r RunSpec
	if err := yaml.Unmarshal(data, &r); err != nil {
		return RunSpec{}, fmt.Errorf("run spec is not valid YAML: %w", err)
	}
	if r.Version != runSpecVersion {
		return RunSpec{}, fmt.Errorf("unsupported run spec version %d, expected %d", r.Version, runSpecVersion)
	}
	return r, nil
}

// ReplayResult is spec §4.9's replay outcome.
type ReplayResult struct {
	RunID        string
	Reproducible bool
	ObservedHashes map[string]string
	Result       Result
}

// Replay implements spec §4.9: rebuild a bootstrap-and-run option bundle
// from spec's deterministic whitelist overlaid with runtimeOverrides,
// invoke run, then re-hash the same lockfile variants and report
// reproducible:true only when every captured hash matches.
func Replay(ctx context.Context, spec RunSpec, runtimeOverrides config.Options, run func(ctx context.Context, opts config.Options, rc RepoCoordinates) (Result, vfs.FS, error)) (ReplayResult, error) {
	opts := spec.Options.overlay(runtimeOverrides)

	result, fsys, err := run(ctx, opts, spec.Repo)
	if err != nil {
		return ReplayResult{}, err
	}

	observed, err := hashLockfiles(fsys, spec.ProjectPath)
	if err != nil {
		return ReplayResult{}, &FailureEnvelope{
			Code:    diag.KindReplayNotReproducible,
			Phase:   "replay",
			Message: fmt.Sprintf("could not re-hash lockfiles for replay comparison: %v", err),
		}
	}

	reproducible := len(spec.LockHashes) > 0
	for name, wantHash := range spec.LockHashes {
		if observed[name] != wantHash {
			reproducible = false
			break
		}
	}

	return ReplayResult{
		RunID:          uuid.NewString(),
		Reproducible:   reproducible,
		ObservedHashes: observed,
		Result:         result,
	}, nil
}
