/*
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package cmd

import (
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/cobra"

	"github.com/BleedingDev/almostbun-sub000/cmd/state"
	"github.com/BleedingDev/almostbun-sub000/internal/bus"
	"github.com/BleedingDev/almostbun-sub000/internal/cachestore"
	"github.com/BleedingDev/almostbun-sub000/internal/orchestrator"
	"github.com/BleedingDev/almostbun-sub000/internal/platform"
	"github.com/BleedingDev/almostbun-sub000/internal/rlog"
	"github.com/BleedingDev/almostbun-sub000/internal/runtime"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// engineEntryRunner adapts *runtime.Engine to orchestrator.EntryRunner,
// discarding the top-level module export value a bare script doesn't
// need.
type engineEntryRunner struct{ e *runtime.Engine }

func (r engineEntryRunner) RequireFromEntry(entryPath string) error {
	_, err := r.e.RequireFromEntry(entryPath)
	return err
}

// newEntryRunnerFactory builds the orchestrator's EntryRunnerFactory,
// wiring a fresh runtime.Engine per call so every started project gets
// its own goja.Runtime and platform registry sharing one fsys/bus (spec
// §3 "one runtime per sandboxed project").
func newEntryRunnerFactory(gs *state.GlobalState, cacheStore cachestore.Store) orchestrator.EntryRunnerFactory {
	return func(fsys vfs.FS, b *bus.Bus, projectPath string) orchestrator.EntryRunner {
		e := runtime.NewEngine(runtime.Config{
			FS: fsys,
			PlatformFactory: func(vm *goja.Runtime) *platform.Registry {
				reg := platform.NewRegistry(vm, fsys, b, projectPath, gs.Options.Env, []string{"almostbun"})
				if publisher, ok := cacheStore.(platform.BroadcastPublisher); ok {
					reg.BroadcastBus = publisher
				}
				return reg
			},
			Log:        gs.Logger,
			WorkingDir: projectPath,
			Env:        gs.Options.Env,
			Argv:       []string{"almostbun"},
		})
		return engineEntryRunner{e: e}
	}
}

func getBootstrapCmd(gs *state.GlobalState) *cobra.Command {
	var printRunSpec bool

	cmd := &cobra.Command{
		Use:   "bootstrap <repo-url>",
		Short: "Fetch a GitHub project, detect how it runs, and start it behind the bus",
		Long: `Fetch a GitHub project, detect how it runs, and start it behind the bus.

Accepts a plain repo URL, a /tree/<ref>/<subdir> URL, a git+https URL with
a #ref fragment, or a host:owner/repo#ref short form.`,
		Args: exactArgsWithMsg(1, "expected exactly one repository URL"),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoURL := args[0]
			fsys := vfs.NewMemFS()

			log := rlog.WithRun(gs.Logger, "")
			cacheStore := newCacheStore(gs)
			orch := orchestrator.NewWithCache(log, newEntryRunnerFactory(gs, cacheStore), cacheStore)
			orch.Bus = gs.Bus
			defer orch.Shutdown()

			opts := orchestrator.Options{
				Options:        gs.Options,
				Budgets:        orchestrator.DefaultPhaseBudgets(),
				DestinationDir: "/project",
			}
			if opts.StartTimeoutSeconds > 0 {
				opts.Budgets.StartMs = int64(time.Duration(opts.StartTimeoutSeconds) * time.Second / time.Millisecond)
			}

			result, err := orch.BootstrapAndRun(gs.Ctx, fsys, repoURL, opts)
			if err != nil {
				return err
			}

			if result.Running != nil {
				fprintf(gs.Stdout, "listening on %s\n", orch.Bus.GetServerUrl(result.Running.Port))
			}
			for _, breach := range result.Bootstrap.Breaches {
				gs.Logger.WithField("phase", breach.Phase).
					WithField("budget_ms", breach.BudgetMs).
					WithField("actual_ms", breach.ActualMs).
					Warn("phase exceeded its SLO budget")
			}
			if result.Bootstrap.CacheProvenance != "" {
				gs.Logger.WithField("cache_provenance", result.Bootstrap.CacheProvenance).Debug("archive served from cache tier")
			}

			if printRunSpec {
				spec, err := orchestrator.BuildRunSpec(fsys, result.Bootstrap.Repo, result.Bootstrap.ProjectRoot, result.Detected.Kind, gs.Options, 0)
				if err != nil {
					return err
				}
				encoded, err := spec.Encode()
				if err != nil {
					return err
				}
				fprintf(gs.Stdout, "run spec: %s\n", encoded)
			}

			if result.Running != nil {
				<-gs.Ctx.Done()
				result.Running.Stop()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&printRunSpec, "print-run-spec", false, "print the encoded run spec for later replay")
	return cmd
}
