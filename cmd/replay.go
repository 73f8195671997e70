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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BleedingDev/almostbun-sub000/cmd/state"
	"github.com/BleedingDev/almostbun-sub000/internal/config"
	"github.com/BleedingDev/almostbun-sub000/internal/orchestrator"
	"github.com/BleedingDev/almostbun-sub000/internal/rlog"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// getReplayCmd implements spec §4.9's replay: decode a captured run spec,
// rebuild a bootstrap-and-run option bundle from its deterministic
// whitelist overlaid with this invocation's runtime-only flags, run it
// again, and report whether the result is byte-for-byte reproducible.
func getReplayCmd(gs *state.GlobalState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <encoded-run-spec>",
		Short: "Re-run a captured run spec and report whether it reproduced",
		Args:  exactArgsWithMsg(1, "expected exactly one encoded run spec"),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := orchestrator.DecodeRunSpec(args[0])
			if err != nil {
				return err
			}

			log := rlog.WithRun(gs.Logger, "")
			cacheStore := newCacheStore(gs)
			result, err := orchestrator.Replay(gs.Ctx, spec, gs.Options, func(ctx context.Context, opts config.Options, rc orchestrator.RepoCoordinates) (orchestrator.Result, vfs.FS, error) {
				fsys := vfs.NewMemFS()
				orch := orchestrator.NewWithCache(log, newEntryRunnerFactory(gs, cacheStore), cacheStore)
				orch.Bus = gs.Bus
				defer orch.Shutdown()
				repoURL := fmt.Sprintf("https://%s/%s/%s/tree/%s", rc.Host, rc.Owner, rc.Repo, rc.Ref)
				res, err := orch.BootstrapAndRun(ctx, fsys, repoURL, orchestrator.Options{
					Options:        opts,
					Budgets:        orchestrator.DefaultPhaseBudgets(),
					DestinationDir: spec.ProjectPath,
				})
				return res, fsys, err
			})
			if err != nil {
				return err
			}

			if result.Result.Running != nil {
				result.Result.Running.Stop()
			}

			fprintf(gs.Stdout, "reproducible: %t\n", result.Reproducible)
			return nil
		},
	}
	return cmd
}
