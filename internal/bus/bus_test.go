package bus

import (
	"context"
	"sync/atomic"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	addr  Address
	calls int32
}

func (h *stubHandler) Listening() bool { return true }
func (h *stubHandler) Address() Address { return h.addr }
func (h *stubHandler) Close() error     { return nil }
func (h *stubHandler) HandleRequest(ctx context.Context, req Request) (Response, error) {
	atomic.AddInt32(&h.calls, 1)
	return Response{StatusCode: 200, StatusMessage: "OK", Body: []byte("ok: " + req.Path)}, nil
}

func newTestBus() *Bus {
	log, _ := logtest.NewNullLogger()
	return New(log)
}

func TestHandleRequestDispatchesToRegisteredHandler(t *testing.T) {
	b := newTestBus()
	h := &stubHandler{addr: Address{Port: 4000, Address: "127.0.0.1"}}
	b.RegisterServer(h, 4000)

	resp := b.HandleRequest(context.Background(), 4000, Request{Method: "GET", Path: "/hello"})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "ok: /hello", string(resp.Body))
	assert.EqualValues(t, 1, atomic.LoadInt32(&h.calls))
}

func TestHandleRequestReturnsSyntheticBadGatewayWhenUnregistered(t *testing.T) {
	b := newTestBus()
	resp := b.HandleRequest(context.Background(), 9999, Request{Method: "GET", Path: "/"})
	assert.Equal(t, 502, resp.StatusCode)
}

func TestHandleRequestReturnsBadGatewayAfterUnregister(t *testing.T) {
	b := newTestBus()
	h := &stubHandler{addr: Address{Port: 4001}}
	b.RegisterServer(h, 4001)
	b.UnregisterServer(4001)

	resp := b.HandleRequest(context.Background(), 4001, Request{Method: "GET", Path: "/"})
	assert.Equal(t, 502, resp.StatusCode)
	assert.EqualValues(t, 0, atomic.LoadInt32(&h.calls))
}

func TestOnServerReadyFiresOnRegister(t *testing.T) {
	b := newTestBus()
	var readyPort int32
	b.OnServerReady(func(port int) { atomic.StoreInt32(&readyPort, int32(port)) })

	b.RegisterServer(&stubHandler{addr: Address{Port: 5000}}, 5000)
	assert.EqualValues(t, 5000, atomic.LoadInt32(&readyPort))
}

func TestSelectPortWalksUpwardPastTakenPorts(t *testing.T) {
	b := newTestBus()
	b.RegisterServer(&stubHandler{addr: Address{Port: 3000}}, 3000)
	b.RegisterServer(&stubHandler{addr: Address{Port: 3001}}, 3001)

	assert.Equal(t, 3002, b.SelectPort(3000))
}

func TestGetServerPortsReturnsSortedRegisteredPorts(t *testing.T) {
	b := newTestBus()
	b.RegisterServer(&stubHandler{addr: Address{Port: 4100}}, 4100)
	b.RegisterServer(&stubHandler{addr: Address{Port: 4050}}, 4050)

	assert.Equal(t, []int{4050, 4100}, b.GetServerPorts())
}

func TestGetServerUrlUsesHandlerAddress(t *testing.T) {
	b := newTestBus()
	b.RegisterServer(&stubHandler{addr: Address{Port: 4200, Address: "127.0.0.1"}}, 4200)

	require.Equal(t, "http://127.0.0.1:4200", b.GetServerUrl(4200))
	assert.Equal(t, "", b.GetServerUrl(9))
}
