package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BleedingDev/almostbun-sub000/internal/bus"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

type listenerEntryRunner struct {
	b    *bus.Bus
	port int
}

func (r *listenerEntryRunner) RequireFromEntry(entryPath string) error {
	r.b.RegisterServer(&stubRunningHandler{port: r.port}, r.port)
	return nil
}

type stubRunningHandler struct{ port int }

func (h *stubRunningHandler) Listening() bool  { return true }
func (h *stubRunningHandler) Address() bus.Address {
	return bus.Address{Port: h.port, Address: "127.0.0.1"}
}
func (h *stubRunningHandler) Close() error { return nil }
func (h *stubRunningHandler) HandleRequest(ctx context.Context, req bus.Request) (bus.Response, error) {
	return bus.Response{StatusCode: 200}, nil
}

type neverReadyEntryRunner struct{}

func (neverReadyEntryRunner) RequireFromEntry(entryPath string) error { return nil }

func TestStartStaticServesIndexHTML(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/index.html", []byte("<html>hi</html>")))
	b := bus.New(nil)

	detected := DetectedRunnableProject{Kind: KindStatic, ProjectPath: "/project"}
	running, err := Start(context.Background(), b, fsys, detected, 3000, 2*time.Second, nil, nil, nil)
	require.NoError(t, err)
	defer running.Stop()

	resp := b.HandleRequest(context.Background(), running.Port, bus.Request{Method: "GET", Path: "/"})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "hi")
}

func TestStartStaticReturns404ForMissingFile(t *testing.T) {
	fsys := vfs.NewMemFS()
	require.NoError(t, fsys.WriteFileSync("/project/index.html", []byte("<html></html>")))
	b := bus.New(nil)

	detected := DetectedRunnableProject{Kind: KindStatic, ProjectPath: "/project"}
	running, err := Start(context.Background(), b, fsys, detected, 3100, 2*time.Second, nil, nil, nil)
	require.NoError(t, err)
	defer running.Stop()

	resp := b.HandleRequest(context.Background(), running.Port, bus.Request{Method: "GET", Path: "/missing.js"})
	assert.Equal(t, 404, resp.StatusCode)
}

func TestStartNodeScriptWaitsForServerReady(t *testing.T) {
	fsys := vfs.NewMemFS()
	b := bus.New(nil)
	detected := DetectedRunnableProject{Kind: KindNodeScript, ProjectPath: "/project", EntryFile: "/project/server.js"}

	runner := &listenerEntryRunner{b: b, port: 5050}
	running, err := Start(context.Background(), b, fsys, detected, 5050, 2*time.Second, runner, nil, nil)
	require.NoError(t, err)
	defer running.Stop()
	assert.Equal(t, 5050, running.Port)
}

func TestStartNodeScriptTimesOutWithoutServerReady(t *testing.T) {
	fsys := vfs.NewMemFS()
	b := bus.New(nil)
	detected := DetectedRunnableProject{Kind: KindNodeScript, ProjectPath: "/project", EntryFile: "/project/server.js"}

	_, err := Start(context.Background(), b, fsys, detected, 6000, 50*time.Millisecond, neverReadyEntryRunner{}, nil, nil)
	require.Error(t, err)
	var fe *FailureEnvelope
	require.ErrorAs(t, err, &fe)
}
