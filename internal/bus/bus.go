// Package bus implements the virtual HTTP bus of spec §4.7: a per-process
// singleton mapping logical port numbers to request handlers, dispatching
// synthetic requests and emitting server-ready events the way the
// teacher's api package multiplexed real net/http handlers onto one
// process (api/server.go), generalized here to virtual ports instead of
// one real listener.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler is the contract of spec §6.2: a registered server.
type Handler interface {
	Listening() bool
	Address() Address
	HandleRequest(ctx context.Context, req Request) (Response, error)
	Close() error
}

// Address mirrors Node's net.Address shape.
type Address struct {
	Port    int
	Address string
	Family  string
}

// Request is the synthetic (method, path, headers, body) tuple dispatched
// by handleRequest (spec §4.7, §6.2).
type Request struct {
	Method  string
	Path    string
	Headers map[string][]string
	Body    []byte
}

// Response is the bus's synthetic round trip result.
type Response struct {
	StatusCode    int
	StatusMessage string
	Headers       map[string][]string
	Body          []byte
}

type state int

const (
	unregistered state = iota
	registered
)

// Bus is the per-process registry (spec §3 "HTTP bus registry"). One Bus
// is shared by every runtime in a process (spec §5 "per-process
// singleton").
type Bus struct {
	mu        sync.Mutex
	handlers  map[int]Handler
	states    map[int]state
	listeners []func(port int)
	log       logrus.FieldLogger
}

// New constructs an empty bus.
func New(log logrus.FieldLogger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{
		handlers: make(map[int]Handler),
		states:   make(map[int]state),
		log:      log,
	}
}

// RegisterServer transitions UNREGISTERED -> REGISTERED for port (spec
// §4.7). Re-registration replaces the existing handler, per §3.
func (b *Bus) RegisterServer(handler Handler, port int) {
	b.mu.Lock()
	b.handlers[port] = handler
	b.states[port] = registered
	listeners := append([]func(port int){}, b.listeners...)
	b.mu.Unlock()

	b.log.WithField("port", port).Debug("server registered with bus")
	for _, l := range listeners {
		l(port)
	}
}

// UnregisterServer transitions REGISTERED -> UNREGISTERED (spec §4.7);
// also the effect of a handler's Close() succeeding.
func (b *Bus) UnregisterServer(port int) {
	b.mu.Lock()
	delete(b.handlers, port)
	b.states[port] = unregistered
	b.mu.Unlock()
	b.log.WithField("port", port).Debug("server unregistered from bus")
}

// GetServerPorts returns every REGISTERED port, ascending (spec §6.2).
func (b *Bus) GetServerPorts() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ports := make([]int, 0, len(b.handlers))
	for p := range b.handlers {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// GetServerUrl returns the handler's base URL for port, or "" if
// unregistered.
func (b *Bus) GetServerUrl(port int) string {
	b.mu.Lock()
	h, ok := b.handlers[port]
	b.mu.Unlock()
	if !ok {
		return ""
	}
	addr := h.Address()
	return fmt.Sprintf("http://%s:%d", addr.Address, addr.Port)
}

// OnServerReady registers a listener invoked on every REGISTERED
// transition (spec §4.7 "server-ready").
func (b *Bus) OnServerReady(fn func(port int)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// HandleRequest dispatches a synthetic request to the handler registered
// at port (spec §4.7, §8 "invoked exactly once per dispatch"). A request
// arriving after the handler unregisters — or when none was ever
// registered — gets the synthetic 502 response, never an error return:
// the bus itself never fails a dispatch.
func (b *Bus) HandleRequest(ctx context.Context, port int, req Request) Response {
	b.mu.Lock()
	h, ok := b.handlers[port]
	st := b.states[port]
	b.mu.Unlock()

	if !ok || st != registered {
		return Response{
			StatusCode:    502,
			StatusMessage: "Bad Gateway",
			Headers:       map[string][]string{"content-type": {"text/plain"}},
			Body:          []byte(fmt.Sprintf("no server registered on port %d", port)),
		}
	}

	resp, err := h.HandleRequest(ctx, req)
	if err != nil {
		return Response{
			StatusCode:    500,
			StatusMessage: "Internal Server Error",
			Headers:       map[string][]string{"content-type": {"text/plain"}},
			Body:          []byte(err.Error()),
		}
	}
	return resp
}

// SelectPort walks upward from preferred by 1 until an unused port is
// found (spec §4.7 "Port selection helper").
func (b *Bus) SelectPort(preferred int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	port := preferred
	for {
		if _, taken := b.handlers[port]; !taken {
			return port
		}
		port++
	}
}
