package state

import (
	"bytes"
	"context"
	"os/signal"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/BleedingDev/almostbun-sub000/internal/bus"
	"github.com/BleedingDev/almostbun-sub000/internal/config"
)

// GlobalTestState wraps GlobalState with mocked std streams and a hook
// into the logger, for subcommand tests (adapted from the teacher's
// cmd/state.GlobalTestState).
type GlobalTestState struct {
	*GlobalState
	Cancel func()

	Stdout, Stderr *bytes.Buffer
	LoggerHook     *logtest.Hook

	Cwd string
}

// NewGlobalTestState returns an initialized GlobalTestState.
func NewGlobalTestState(t *testing.T) *GlobalTestState {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	ts := &GlobalTestState{
		Cwd:        "/test",
		Cancel:     cancel,
		LoggerHook: hook,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
	}

	defaults := config.Defaults()
	require.NotNil(t, ts)

	ts.GlobalState = &GlobalState{
		Ctx:            ctx,
		Getwd:          func() (string, error) { return ts.Cwd, nil },
		Args:           []string{},
		EnvVars:        map[string]string{},
		DefaultOptions: defaults,
		Options:        defaults,
		OutMutex:       &sync.Mutex{},
		Stdout:         ts.Stdout,
		Stderr:         ts.Stderr,
		Stdin:          new(bytes.Buffer),
		StdoutIsTTY:    false,
		SignalNotify:   signal.Notify,
		SignalStop:     signal.Stop,
		Logger:         logger,
		Bus:            bus.New(logger),
	}

	return ts
}
