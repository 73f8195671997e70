// Package config implements the orchestrator's option layering (spec
// §4.9's "whitelist of deterministic options" plus runtime-only
// overrides), following the teacher's cmd.getRuntimeOptions precedence:
// explicit flag > environment variable > built-in default
// (cmd/runtime_options.go, cmd/config.go).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Options is the deterministic whitelist of spec §4.9 plus the
// runtime-only overrides replay may layer on top (logging, progress,
// trace, port, env).
type Options struct {
	// Deterministic (captured into a run spec and replayed verbatim).
	IncludeDevDependencies      bool
	IncludeOptionalDependencies bool
	IncludeWorkspaces           bool
	PreferLockfile              bool
	PreferPublishedWorkspaces   bool
	ProjectSourceTransform      string // e.g. "auto", "none"
	PreflightMode               string // off|warn|strict
	StartTimeoutSeconds         int
	ClientHMRInjection          bool

	// Runtime-only (never part of the run spec, spec §4.9 "runtime-only
	// overrides").
	LogFormat string
	NoColor   bool
	Verbose   bool
	Progress  bool
	Trace     bool
	Port      int
	Env       map[string]string
}

// Defaults mirrors GetDefaultFlags (cmd/state/global_options.go).
func Defaults() Options {
	return Options{
		IncludeDevDependencies:      false,
		IncludeOptionalDependencies: true,
		IncludeWorkspaces:           true,
		PreferLockfile:              true,
		PreferPublishedWorkspaces:   false,
		ProjectSourceTransform:      "auto",
		PreflightMode:               "warn",
		StartTimeoutSeconds:         30,
		ClientHMRInjection:          false,
		LogFormat:                   "text",
		Progress:                    true,
		Port:                        0,
		Env:                         map[string]string{},
	}
}

// FlagSet builds the pflag.FlagSet exposing every option (grounded on
// runtimeOptionFlagSet's shape).
func FlagSet(defaults Options) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Bool("include-dev-dependencies", defaults.IncludeDevDependencies, "install devDependencies")
	flags.Bool("include-optional-dependencies", defaults.IncludeOptionalDependencies, "install optionalDependencies")
	flags.Bool("include-workspaces", defaults.IncludeWorkspaces, "resolve workspace specifiers")
	flags.Bool("prefer-lockfile", defaults.PreferLockfile, "prefer the committed lockfile over a fresh resolve")
	flags.Bool("prefer-published-workspaces", defaults.PreferPublishedWorkspaces, "prefer a workspace package's published version over its local source")
	flags.String("project-source-transform", defaults.ProjectSourceTransform, `"auto" or "none"`)
	flags.String("preflight", defaults.PreflightMode, "preflight mode: off|warn|strict")
	flags.Int("start-timeout", defaults.StartTimeoutSeconds, "seconds to wait for server-ready before failing")
	flags.Bool("client-hmr-injection", defaults.ClientHMRInjection, "inject HMR client runtime into served HTML")
	flags.String("log-format", defaults.LogFormat, "text or json")
	flags.Bool("no-color", defaults.NoColor, "disable colorized output")
	flags.BoolP("verbose", "v", defaults.Verbose, "enable debug logging")
	flags.Bool("progress", defaults.Progress, "show orchestrator phase progress")
	flags.Bool("trace", defaults.Trace, "emit OpenTelemetry trace spans")
	flags.Int("port", defaults.Port, "preferred port (0 picks automatically)")
	flags.StringArrayP("env", "e", nil, "add/override environment variable with VAR=value")
	flags.String("config", "", "path to a YAML config file layered beneath env vars and flags")
	return flags
}

// fileOptions is the YAML shape of a config file: every field optional,
// so only what's present overrides the layer beneath it. Grounded on the
// same deterministic-whitelist field set as DeterministicOptions, since a
// config file is a natural place to pin those for a team (spec §4.9).
type fileOptions struct {
	IncludeDevDependencies      *bool   `yaml:"includeDevDependencies"`
	IncludeOptionalDependencies *bool   `yaml:"includeOptionalDependencies"`
	IncludeWorkspaces           *bool   `yaml:"includeWorkspaces"`
	PreferLockfile              *bool   `yaml:"preferLockfile"`
	PreferPublishedWorkspaces   *bool   `yaml:"preferPublishedWorkspaces"`
	ProjectSourceTransform      *string `yaml:"projectSourceTransform"`
	PreflightMode               *string `yaml:"preflight"`
	StartTimeoutSeconds         *int    `yaml:"startTimeoutSeconds"`
	ClientHMRInjection          *bool   `yaml:"clientHmrInjection"`
	LogFormat                   *string `yaml:"logFormat"`
	Port                        *int    `yaml:"port"`
}

func (f fileOptions) applyTo(o *Options) {
	if f.IncludeDevDependencies != nil {
		o.IncludeDevDependencies = *f.IncludeDevDependencies
	}
	if f.IncludeOptionalDependencies != nil {
		o.IncludeOptionalDependencies = *f.IncludeOptionalDependencies
	}
	if f.IncludeWorkspaces != nil {
		o.IncludeWorkspaces = *f.IncludeWorkspaces
	}
	if f.PreferLockfile != nil {
		o.PreferLockfile = *f.PreferLockfile
	}
	if f.PreferPublishedWorkspaces != nil {
		o.PreferPublishedWorkspaces = *f.PreferPublishedWorkspaces
	}
	if f.ProjectSourceTransform != nil {
		o.ProjectSourceTransform = *f.ProjectSourceTransform
	}
	if f.PreflightMode != nil {
		o.PreflightMode = *f.PreflightMode
	}
	if f.StartTimeoutSeconds != nil {
		o.StartTimeoutSeconds = *f.StartTimeoutSeconds
	}
	if f.ClientHMRInjection != nil {
		o.ClientHMRInjection = *f.ClientHMRInjection
	}
	if f.LogFormat != nil {
		o.LogFormat = *f.LogFormat
	}
	if f.Port != nil {
		o.Port = *f.Port
	}
}

// LoadFile reads a YAML config file from the host filesystem (this is
// the CLI's own configuration, never the sandboxed project tree under
// internal/vfs) and overlays it onto base. An empty path is a no-op,
// returning base unchanged.
func LoadFile(path string, base Options) (Options, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var f fileOptions
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	f.applyTo(&base)
	return base, nil
}

// FromFlagsAndEnv resolves flag > env > default for every option, the
// same precedence as getRuntimeOptions.
func FromFlagsAndEnv(flags *pflag.FlagSet, env map[string]string) (Options, error) {
	return FromFlagsEnvAndBase(flags, env, Defaults())
}

// FromFlagsEnvAndBase is FromFlagsAndEnv with an explicit base layer
// instead of Defaults(), so a caller can insert a config-file layer
// beneath env vars and above built-in defaults (flag > env > file >
// default).
func FromFlagsEnvAndBase(flags *pflag.FlagSet, env map[string]string, base Options) (Options, error) {
	opts := base

	if flags.Changed("include-dev-dependencies") {
		opts.IncludeDevDependencies, _ = flags.GetBool("include-dev-dependencies")
	} else if v, ok := envBool(env, "ALMOSTBUN_INCLUDE_DEV_DEPENDENCIES"); ok {
		opts.IncludeDevDependencies = v
	}

	if flags.Changed("include-optional-dependencies") {
		opts.IncludeOptionalDependencies, _ = flags.GetBool("include-optional-dependencies")
	} else if v, ok := envBool(env, "ALMOSTBUN_INCLUDE_OPTIONAL_DEPENDENCIES"); ok {
		opts.IncludeOptionalDependencies = v
	}

	if flags.Changed("include-workspaces") {
		opts.IncludeWorkspaces, _ = flags.GetBool("include-workspaces")
	} else if v, ok := envBool(env, "ALMOSTBUN_INCLUDE_WORKSPACES"); ok {
		opts.IncludeWorkspaces = v
	}

	if flags.Changed("prefer-lockfile") {
		opts.PreferLockfile, _ = flags.GetBool("prefer-lockfile")
	} else if v, ok := envBool(env, "ALMOSTBUN_PREFER_LOCKFILE"); ok {
		opts.PreferLockfile = v
	}

	if flags.Changed("prefer-published-workspaces") {
		opts.PreferPublishedWorkspaces, _ = flags.GetBool("prefer-published-workspaces")
	} else if v, ok := envBool(env, "ALMOSTBUN_PREFER_PUBLISHED_WORKSPACES"); ok {
		opts.PreferPublishedWorkspaces = v
	}

	if flags.Changed("project-source-transform") {
		opts.ProjectSourceTransform, _ = flags.GetString("project-source-transform")
	} else if v, ok := env["ALMOSTBUN_PROJECT_SOURCE_TRANSFORM"]; ok {
		opts.ProjectSourceTransform = v
	}

	if flags.Changed("preflight") {
		opts.PreflightMode, _ = flags.GetString("preflight")
	} else if v, ok := env["ALMOSTBUN_PREFLIGHT"]; ok {
		opts.PreflightMode = v
	}

	if flags.Changed("start-timeout") {
		opts.StartTimeoutSeconds, _ = flags.GetInt("start-timeout")
	} else if v, ok := env["ALMOSTBUN_START_TIMEOUT"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			opts.StartTimeoutSeconds = n
		}
	}

	if flags.Changed("client-hmr-injection") {
		opts.ClientHMRInjection, _ = flags.GetBool("client-hmr-injection")
	} else if v, ok := envBool(env, "ALMOSTBUN_CLIENT_HMR_INJECTION"); ok {
		opts.ClientHMRInjection = v
	}

	// Runtime-only overrides: flag or env, never captured into a run spec.
	if flags.Changed("log-format") {
		opts.LogFormat, _ = flags.GetString("log-format")
	} else if v, ok := env["ALMOSTBUN_LOG_FORMAT"]; ok {
		opts.LogFormat = v
	}
	if flags.Changed("no-color") {
		opts.NoColor, _ = flags.GetBool("no-color")
	} else if _, ok := env["NO_COLOR"]; ok {
		opts.NoColor = true
	}
	if flags.Changed("verbose") {
		opts.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("progress") {
		opts.Progress, _ = flags.GetBool("progress")
	}
	if flags.Changed("trace") {
		opts.Trace, _ = flags.GetBool("trace")
	}
	if flags.Changed("port") {
		opts.Port, _ = flags.GetInt("port")
	} else if v, ok := env["ALMOSTBUN_PORT"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Port = n
		}
	}

	opts.Env = map[string]string{}
	if envVars, err := flags.GetStringArray("env"); err == nil {
		for _, kv := range envVars {
			k, v := splitKV(kv)
			opts.Env[k] = v
		}
	}

	return opts, nil
}

func envBool(env map[string]string, key string) (bool, bool) {
	v, ok := env[key]
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitKV(kv string) (string, string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}
