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

// Package cmd implements the CLI surface of the orchestrator: bootstrap a
// GitHub project and run it behind the virtual HTTP bus, or replay a
// captured run spec (spec §4.8, §4.9).
package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BleedingDev/almostbun-sub000/cmd/state"
	"github.com/BleedingDev/almostbun-sub000/internal/config"
	"github.com/BleedingDev/almostbun-sub000/internal/diag"
	"github.com/BleedingDev/almostbun-sub000/internal/orchestrator"
	"github.com/BleedingDev/almostbun-sub000/internal/rlog"
)

// rootCommand is the base command state, grounded on the teacher's
// rootCommand/globalState split (cmd/root.go): cobra owns argument
// parsing, GlobalState owns everything else a subcommand needs.
type rootCommand struct {
	gs  *state.GlobalState
	cmd *cobra.Command
}

func newRootCommand(gs *state.GlobalState) *rootCommand {
	c := &rootCommand{gs: gs}

	root := &cobra.Command{
		Use:               "almostbun",
		Short:             "bootstrap and run a GitHub project behind an in-process module runtime",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}
	root.PersistentFlags().AddFlagSet(config.FlagSet(gs.DefaultOptions))
	root.SetArgs(gs.Args[1:])
	root.SetOut(gs.Stdout)
	root.SetErr(gs.Stderr)
	root.SetIn(gs.Stdin)

	root.AddCommand(
		getBootstrapCmd(gs),
		getReplayCmd(gs),
		getVersionCmd(),
	)

	c.cmd = root
	return c
}

// persistentPreRunE re-resolves gs.Options from the now-parsed flag set
// overlaid on env vars and the optional --config file (flag > env > file
// > default, internal/config's precedence) and reconfigures the logger to
// match.
func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	base, err := config.LoadFile(configPath, config.Defaults())
	if err != nil {
		return err
	}

	opts, err := config.FromFlagsEnvAndBase(cmd.Flags(), c.gs.EnvVars, base)
	if err != nil {
		return err
	}
	c.gs.Options = opts

	if opts.Verbose {
		c.gs.Logger.SetLevel(logrus.DebugLevel)
	}
	rlog.ApplyFormat(c.gs.Logger, opts.LogFormat)
	return nil
}

// Execute is the program's entry point, called from main().
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gs := state.NewGlobalState(ctx)
	root := newRootCommand(gs)

	if err := root.cmd.Execute(); err != nil {
		exitCode := 1
		var fe *orchestrator.FailureEnvelope
		if errors.As(err, &fe) {
			gs.Logger.WithField("code", string(fe.Code)).
				WithField("phase", fe.Phase).
				Error(fe.Message)
		} else {
			gs.Logger.Error(err.Error())
		}
		var de *diag.Error
		if errors.As(err, &de) {
			exitCode = 2
		}
		os.Exit(exitCode)
	}
}
