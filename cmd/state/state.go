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

// Package state groups the process-external state every subcommand needs
// (CLI args, env vars, std streams, the logger), the way the teacher's
// cmd/state.GlobalState grouped k6's — generalized here to the
// orchestrator's own config/bus/logging stack instead of k6's load-test
// options.
package state

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/BleedingDev/almostbun-sub000/internal/bus"
	"github.com/BleedingDev/almostbun-sub000/internal/config"
	"github.com/BleedingDev/almostbun-sub000/internal/rlog"
)

// GlobalState is the one place that touches real os.* values; every
// subcommand takes a *GlobalState instead of reaching into the os
// package directly, so tests can build a simulated one.
type GlobalState struct {
	Ctx context.Context

	Getwd   func() (string, error)
	Args    []string
	EnvVars map[string]string

	DefaultOptions, Options config.Options

	OutMutex       *sync.Mutex
	Stdout, Stderr io.Writer
	Stdin          io.Reader
	StdoutIsTTY    bool

	SignalNotify func(chan<- os.Signal, ...os.Signal)
	SignalStop   func(chan<- os.Signal)

	Logger *logrus.Logger

	// Bus is the process-singleton virtual HTTP bus every bootstrapped
	// project's runtime registers its server against (spec §3 "HTTP bus
	// registry").
	Bus *bus.Bus
}

// NewGlobalState builds a GlobalState from the real OS environment.
func NewGlobalState(ctx context.Context) *GlobalState {
	isDumbTerm := os.Getenv("TERM") == "dumb"
	stdoutTTY := !isDumbTerm && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

	envVars := BuildEnvMap(os.Environ())
	defaults := config.Defaults()

	// Env-only resolution here; the owning cobra command re-resolves
	// Options from its own bound FlagSet once argument parsing completes
	// (see root.go's PersistentPreRunE), so flag values always win.
	opts, _ := config.FromFlagsAndEnv(config.FlagSet(defaults), envVars)

	logger := rlog.New(opts.Verbose, opts.NoColor)
	rlog.ApplyFormat(logger, opts.LogFormat)

	return &GlobalState{
		Ctx:            ctx,
		Getwd:          os.Getwd,
		Args:           append(make([]string, 0, len(os.Args)), os.Args...),
		EnvVars:        envVars,
		DefaultOptions: defaults,
		Options:        opts,
		OutMutex:       &sync.Mutex{},
		Stdout:         colorable.NewColorable(os.Stdout),
		Stderr:         colorable.NewColorable(os.Stderr),
		Stdin:          os.Stdin,
		StdoutIsTTY:    stdoutTTY,
		SignalNotify:   signal.Notify,
		SignalStop:     signal.Stop,
		Logger:         logger,
		Bus:            bus.New(logger),
	}
}
