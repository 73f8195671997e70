// Package orchestrator implements the pipeline of spec §4.8: bootstrap →
// preflight → detect → start → observe, turning a repository URL into a
// running, detected project behind the virtual HTTP bus.
package orchestrator

import (
	"time"

	"github.com/BleedingDev/almostbun-sub000/internal/bus"
	"github.com/BleedingDev/almostbun-sub000/internal/config"
	"github.com/BleedingDev/almostbun-sub000/internal/diag"
)

// RepoCoordinates is the parsed form of spec §4.8 step 1's accepted URL
// shapes.
type RepoCoordinates struct {
	Host   string `yaml:"host"`
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	Ref    string `yaml:"ref"`
	Subdir string `yaml:"subdir"`
}

// TraceEvent is spec §3/§6.3's structured trace record.
type TraceEvent struct {
	Sequence int
	AtMs     int64
	Phase    string
	Message  string
	Data     map[string]interface{}
}

// PreflightIssue is one structured finding of spec §4.8 step 2.
type PreflightIssue struct {
	Code     string
	Severity string // info|warning|error
	Message  string
	Path     string
}

// ProjectKind is spec §4.8 step 3's classifier output.
type ProjectKind string

const (
	KindDist          ProjectKind = "dist"
	KindSSR           ProjectKind = "ssr"
	KindClientBundler ProjectKind = "client-bundler"
	KindNodeScript    ProjectKind = "node-script"
	KindStatic        ProjectKind = "static"
)

// DetectedRunnableProject is spec §6.3's detectRunnableProject result.
type DetectedRunnableProject struct {
	Kind         ProjectKind
	ProjectPath  string
	EntryFile    string
	Depth        int
	Score        float64
}

// RunningProject is spec §6.3's startDetectedProject result.
type RunningProject struct {
	Kind      ProjectKind
	Port      int
	SidecarPort int
	Bus       *bus.Bus
	stop      func()
}

// Stop unregisters every port this project owns (spec §3 "stopping a
// project unregisters every port it owns, including auxiliary ports").
func (p *RunningProject) Stop() {
	if p.stop != nil {
		p.stop()
	}
}

// PhaseBudgets are the SLO budgets of spec §4.8 step 5, milliseconds.
type PhaseBudgets struct {
	BootstrapMs int64
	PreflightMs int64
	DetectMs    int64
	StartMs     int64
	TotalMs     int64
}

// DefaultPhaseBudgets are conservative defaults; callers may override per
// run.
func DefaultPhaseBudgets() PhaseBudgets {
	return PhaseBudgets{BootstrapMs: 5000, PreflightMs: 2000, DetectMs: 1000, StartMs: 10000, TotalMs: 15000}
}

// SLOBreach is an observability event (spec §4.8 step 5: "never as
// failure").
type SLOBreach struct {
	Phase    string
	BudgetMs int64
	ActualMs int64
}

// RunRecord is spec §3's "Orchestrator run record."
type RunRecord struct {
	RunID         string
	Repo          RepoCoordinates
	ProjectRoot   string
	Detected      DetectedRunnableProject
	PhaseDurations map[string]time.Duration
	Budgets       PhaseBudgets
	Breaches      []SLOBreach
	CacheProvenance string // memory|persistent|network|fallback-api
	Trace         []TraceEvent
}

// Result is spec §6.3's bootstrapAndRunGitHubProject return shape.
type Result struct {
	Bootstrap RunRecord
	Preflight []PreflightIssue
	Detected  DetectedRunnableProject
	Running   *RunningProject
	Trace     []TraceEvent
}

// FailureEnvelope is spec §6.3/§7's structured error.
type FailureEnvelope struct {
	Code             diag.Kind
	Phase            string
	Message          string
	LikelyCause      string
	Confidence       float64
	Hints            []string
	PreflightIssueCodes []string
}

func (f *FailureEnvelope) Error() string { return f.Message }

// Options bundles a run's config.Options with the SLO budgets and the VFS
// destination used for this run.
type Options struct {
	config.Options
	Budgets        PhaseBudgets
	DestinationDir string // VFS destination, default "/project"
}
