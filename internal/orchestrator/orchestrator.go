package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/BleedingDev/almostbun-sub000/internal/bus"
	"github.com/BleedingDev/almostbun-sub000/internal/cachestore"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// EntryRunnerFactory builds the EntryRunner that executes a detected
// project's entry file inside a fresh module-execution runtime bound to
// fsys and b. The composition root (cmd/) supplies this so that
// orchestrator never imports internal/runtime directly.
type EntryRunnerFactory func(fsys vfs.FS, b *bus.Bus, projectPath string) EntryRunner

// Orchestrator ties bootstrap -> preflight -> detect -> start -> observe
// together (spec §4.8, §6.3).
type Orchestrator struct {
	Bus          *bus.Bus
	Fetcher      *Fetcher
	EntryRunners EntryRunnerFactory
	Observer     *Observer
	Log          logrus.FieldLogger

	// Sweeper runs the cache quota's LRU eviction on a schedule (spec §5);
	// nil when New was built with no cache backend.
	Sweeper *cachestore.Sweeper

	// CacheStore is the raw backend passed to NewWithCache, exposed so the
	// composition root can also wire it as a platform.BroadcastPublisher
	// (RedisStore implements it; S3Store doesn't). nil when New was used.
	CacheStore cachestore.Store
}

// New builds an Orchestrator with sane defaults and no persistent cache
// tier; equivalent to NewWithCache(log, entryRunners, nil).
func New(log logrus.FieldLogger, entryRunners EntryRunnerFactory) *Orchestrator {
	return NewWithCache(log, entryRunners, nil)
}

// NewWithCache builds an Orchestrator backed by the given cache.Store
// (an S3Store or RedisStore; nil disables the persistent archive cache
// tier of spec §5). When non-nil, it's wrapped in a quota-enforcing LRU
// and a cron sweep is started immediately via cachestore.StartSweeper on
// an "@every 5m" schedule.
func NewWithCache(log logrus.FieldLogger, entryRunners EntryRunnerFactory, store cachestore.Store) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := bus.New(log)

	var quota *cachestore.Quota
	var sweeper *cachestore.Sweeper
	if store != nil {
		quota = cachestore.NewQuota(store, 5000, 512*1024*1024, log)
		quota.SetNamespaceQuota("archive", 2000)
		if s, err := cachestore.StartSweeper("@every 5m", quota); err == nil {
			sweeper = s
		} else {
			log.WithError(err).Warn("cache quota sweeper failed to start")
		}
	}

	return &Orchestrator{
		Bus:          b,
		Fetcher:      NewFetcher(log, quota),
		EntryRunners: entryRunners,
		Observer:     NewObserver(DefaultPhaseBudgets(), nil),
		Log:          log,
		Sweeper:      sweeper,
		CacheStore:   store,
	}
}

// Shutdown stops the cache sweeper, if one was started.
func (o *Orchestrator) Shutdown() {
	if o.Sweeper != nil {
		o.Sweeper.Stop()
	}
}

// BootstrapAndRun implements spec §6.3's bootstrapAndRunGitHubProject:
// fetch the repo, preflight it, detect its runnable kind, and start it
// behind the bus, recording phase durations and SLO breaches throughout.
func (o *Orchestrator) BootstrapAndRun(ctx context.Context, fsys vfs.FS, repoURL string, opts Options) (Result, error) {
	runID := uuid.NewString()
	record := RunRecord{RunID: runID, Budgets: opts.Budgets}
	if opts.Budgets != (PhaseBudgets{}) {
		o.Observer.Budgets = opts.Budgets
	}
	dest := opts.DestinationDir
	if dest == "" {
		dest = "/project"
	}

	var rc RepoCoordinates
	if err := o.Observer.Phase(ctx, &record, "bootstrap", func(ctx context.Context) error {
		var err error
		var bootstrapTrace []TraceEvent
		var provenance string
		rc, bootstrapTrace, provenance, err = Bootstrap(ctx, o.Fetcher, fsys, repoURL, dest)
		record.Trace = append(record.Trace, bootstrapTrace...)
		record.CacheProvenance = provenance
		return err
	}); err != nil {
		return Result{Bootstrap: record, Trace: record.Trace}, err
	}
	record.Repo = rc
	record.ProjectRoot = dest

	var issues []PreflightIssue
	if err := o.Observer.Phase(ctx, &record, "preflight", func(ctx context.Context) error {
		var err error
		issues, err = RunPreflight(fsys, dest, opts.PreflightMode)
		return err
	}); err != nil {
		return Result{Bootstrap: record, Preflight: issues, Trace: record.Trace}, err
	}

	var detected DetectedRunnableProject
	if err := o.Observer.Phase(ctx, &record, "detect", func(ctx context.Context) error {
		detected = DetectRunnableProject(fsys, dest, 3)
		return nil
	}); err != nil {
		return Result{Bootstrap: record, Preflight: issues, Trace: record.Trace}, err
	}
	record.Detected = detected

	var running *RunningProject
	if err := o.Observer.Phase(ctx, &record, "start", func(ctx context.Context) error {
		// A side-car API runtime is only started by callers that know
		// their detected kind pairs a client bundle with a backend;
		// BootstrapAndRun's generic path never guesses one.
		var apiRunner EntryRunner
		var runner EntryRunner
		if o.EntryRunners != nil {
			runner = o.EntryRunners(fsys, o.Bus, dest)
		}
		preferredPort := opts.Port
		if preferredPort == 0 {
			preferredPort = 3000
		}
		timeout := time.Duration(opts.StartTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		var err error
		running, err = Start(ctx, o.Bus, fsys, detected, preferredPort, timeout, runner, apiRunner, o.Log)
		return err
	}); err != nil {
		return Result{Bootstrap: record, Preflight: issues, Detected: detected, Trace: record.Trace}, err
	}

	return Result{
		Bootstrap: record,
		Preflight: issues,
		Detected:  detected,
		Running:   running,
		Trace:     record.Trace,
	}, nil
}
