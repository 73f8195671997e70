package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/BleedingDev/almostbun-sub000/internal/bus"
	"github.com/BleedingDev/almostbun-sub000/internal/diag"
	"github.com/BleedingDev/almostbun-sub000/internal/vfs"
)

// EntryRunner executes a detected entry script inside the module-
// execution runtime; satisfied by runtime.Engine.RequireFromEntry. Kept
// as an interface here so orchestrator does not import runtime directly
// (avoids an import cycle: runtime's platform substitutes are
// constructed by the same caller that builds the orchestrator).
type EntryRunner interface {
	RequireFromEntry(entryPath string) error
}

// Start implements spec §4.8 step 4. For node-script projects, entryRunner
// executes the detected entry and Start waits for a server-ready signal on
// the bus up to timeout. For static, dist, client-bundler and SSR kinds, a
// built-in file-serving handler is registered directly. When
// apiEntryRunner is non-nil, Start reserves a second port and that handler
// proxies /api/* to it; Start does not run apiEntryRunner itself, so the
// side-car port answers only once some runtime registers a server there.
func Start(
	ctx context.Context,
	b *bus.Bus,
	fsys vfs.FS,
	detected DetectedRunnableProject,
	preferredPort int,
	timeout time.Duration,
	entryRunner EntryRunner,
	apiEntryRunner EntryRunner,
	log logrus.FieldLogger,
) (*RunningProject, error) {
	port := b.SelectPort(preferredPort)

	switch detected.Kind {
	case KindStatic, KindDist, KindClientBundler:
		return startStaticLike(b, fsys, detected, port, apiEntryRunner)
	case KindSSR:
		return startStaticLike(b, fsys, detected, port, apiEntryRunner)
	case KindNodeScript:
		return startNodeScript(ctx, b, detected, port, timeout, entryRunner, log)
	default:
		return startStaticLike(b, fsys, detected, port, nil)
	}
}

func startStaticLike(b *bus.Bus, fsys vfs.FS, detected DetectedRunnableProject, port int, apiEntryRunner EntryRunner) (*RunningProject, error) {
	var sidecarPort int
	var apiProxy *bus.Address

	if apiEntryRunner != nil {
		sidecarPort = b.SelectPort(port + 1)
		// The side-car's own runtime registers itself with the bus when
		// its entry calls http.createServer().listen(); here we only
		// reserve the port number the client handler proxies to.
		apiProxy = &bus.Address{Port: sidecarPort, Address: "127.0.0.1"}
	}

	h := newStaticDistHandler(fsys, detected, port, apiProxy, b)
	b.RegisterServer(h, port)

	return &RunningProject{
		Kind: detected.Kind, Port: port, SidecarPort: sidecarPort, Bus: b,
		stop: func() {
			b.UnregisterServer(port)
			if sidecarPort != 0 {
				b.UnregisterServer(sidecarPort)
			}
		},
	}, nil
}

func startNodeScript(ctx context.Context, b *bus.Bus, detected DetectedRunnableProject, port int, timeout time.Duration, entryRunner EntryRunner, log logrus.FieldLogger) (*RunningProject, error) {
	readyCh := make(chan int, 1)
	b.OnServerReady(func(readyPort int) {
		select {
		case readyCh <- readyPort:
		default:
		}
	})

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- entryRunner.RequireFromEntry(detected.EntryFile)
	}()

	select {
	case err := <-runErrCh:
		if err != nil {
			return nil, err
		}
		// entry returned without error; still wait for server-ready up to
		// the remaining budget in case listen() was deferred.
	case <-time.After(0):
	}

	select {
	case readyPort := <-readyCh:
		return &RunningProject{
			Kind: KindNodeScript, Port: readyPort, Bus: b,
			stop: func() { b.UnregisterServer(readyPort) },
		}, nil
	case <-time.After(timeout):
		return nil, &FailureEnvelope{
			Code:    diag.KindServerStartupTimeout,
			Phase:   "start",
			Message: fmt.Sprintf("script ran but did not register an HTTP server within %s", timeout),
			Hints:   []string{"confirm the entry script calls listen()", "raise start-timeout"},
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// staticDistHandler serves files directly out of the VFS for static and
// pre-built dist projects through a gorilla/mux router with a single
// catch-all route (no routing manifest is read), and proxies /api/* to a
// side-car port when one was started.
type staticDistHandler struct {
	fsys     vfs.FS
	root     string
	port     int
	mux      *mux.Router
	apiProxy *bus.Address
	bus      *bus.Bus
}

func newStaticDistHandler(fsys vfs.FS, detected DetectedRunnableProject, port int, apiProxy *bus.Address, b *bus.Bus) *staticDistHandler {
	h := &staticDistHandler{fsys: fsys, root: detected.ProjectPath, port: port, apiProxy: apiProxy, bus: b}

	r := mux.NewRouter()
	assetRoot := h.root
	if detected.Kind == KindDist {
		assetRoot = path.Join(h.root, "dist")
	}
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h.serveFile(w, assetRoot, req.URL.Path)
	})
	h.mux = r
	return h
}

func (h *staticDistHandler) Listening() bool { return true }
func (h *staticDistHandler) Address() bus.Address {
	return bus.Address{Port: h.port, Address: "127.0.0.1", Family: "IPv4"}
}
func (h *staticDistHandler) Close() error { return nil }

func (h *staticDistHandler) HandleRequest(ctx context.Context, req bus.Request) (bus.Response, error) {
	if h.apiProxy != nil && len(req.Path) >= 5 && req.Path[:5] == "/api/" {
		return h.bus.HandleRequest(ctx, h.apiProxy.Port, req), nil
	}

	httpReq := httptest.NewRequest(req.Method, req.Path, bytes.NewReader(req.Body)).WithContext(ctx)
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httpReq)

	headers := map[string][]string{}
	for k, vs := range rec.Header() {
		headers[k] = vs
	}
	return bus.Response{
		StatusCode:    rec.Code,
		StatusMessage: http.StatusText(rec.Code),
		Headers:       headers,
		Body:          rec.Body.Bytes(),
	}, nil
}

func (h *staticDistHandler) serveFile(w http.ResponseWriter, root, reqPath string) {
	if reqPath == "/" {
		reqPath = "/index.html"
	}
	full := path.Join(root, reqPath)
	data, err := h.fsys.ReadFileSync(full)
	if err != nil {
		w.Header().Set("content-type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("not found: " + reqPath))
		return
	}
	w.Header().Set("content-type", contentTypeFor(full))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func contentTypeFor(p string) string {
	switch {
	case hasSuffixAny(p, ".html"):
		return "text/html; charset=utf-8"
	case hasSuffixAny(p, ".js", ".mjs"):
		return "text/javascript; charset=utf-8"
	case hasSuffixAny(p, ".css"):
		return "text/css; charset=utf-8"
	case hasSuffixAny(p, ".json"):
		return "application/json; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
