package platform

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/http2"

	"github.com/BleedingDev/almostbun-sub000/internal/bus"
)

// outboundClient is shared by every request substitute for non-loopback
// hosts; loopback hosts always dispatch through the bus. Its transport is HTTP/2-aware, matching the teacher's own
// preference for h2-capable transports on outbound calls.
var outboundClient = buildOutboundClient()

func buildOutboundClient() *http.Client {
	transport := &http.Transport{}
	_ = http2.ConfigureTransport(transport)
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}
}

func isLoopbackHost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// httpModule implements the HTTP client/server contract of spec §4.6:
// "Request/Response round-trip over the bus; server side exposes
// listen(port) that registers with the bus and emits a ready signal."
// Returned fresh each call (spec §4.6 "Mutability exceptions") so a
// package assigning to its own copy's `.request` slot never mutates
// another requirer's view.
func (r *Registry) httpModule(scheme string) goja.Value {
	obj := r.VM.NewObject()

	_ = obj.Set("createServer", func(call goja.FunctionCall) goja.Value {
		var handlerFn goja.Callable
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			handlerFn = fn
		}
		server := r.VM.NewObject()
		h := &busHandler{vm: r.VM, handlerFn: handlerFn}
		var port int
		_ = server.Set("listen", func(c goja.FunctionCall) goja.Value {
			port = int(c.Argument(0).ToInteger())
			port = r.Bus.SelectPort(port)
			h.port = port
			h.listening = true
			r.Bus.RegisterServer(h, port)
			if cb, ok := goja.AssertFunction(c.Argument(len(c.Arguments) - 1)); ok {
				_, _ = cb(goja.Undefined())
			}
			return server
		})
		_ = server.Set("close", func(c goja.FunctionCall) goja.Value {
			h.listening = false
			r.Bus.UnregisterServer(port)
			if cb, ok := goja.AssertFunction(c.Argument(0)); ok {
				_, _ = cb(goja.Undefined())
			}
			return server
		})
		return server
	})

	_ = obj.Set("request", func(call goja.FunctionCall) goja.Value {
		return r.clientRequest(scheme, call)
	})
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		return r.clientRequest(scheme, call)
	})
	_ = obj.Set("__scheme", scheme)
	return obj
}

type busHandler struct {
	vm        *goja.Runtime
	handlerFn goja.Callable
	port      int
	listening bool
}

func (h *busHandler) Listening() bool { return h.listening }
func (h *busHandler) Address() bus.Address {
	return bus.Address{Port: h.port, Address: "127.0.0.1", Family: "IPv4"}
}
func (h *busHandler) Close() error { h.listening = false; return nil }

func (h *busHandler) HandleRequest(ctx context.Context, req bus.Request) (bus.Response, error) {
	if h.handlerFn == nil {
		return bus.Response{StatusCode: 404, StatusMessage: "Not Found"}, nil
	}
	reqObj := h.vm.NewObject()
	_ = reqObj.Set("method", req.Method)
	_ = reqObj.Set("url", req.Path)
	headers := h.vm.NewObject()
	for k, v := range req.Headers {
		if len(v) > 0 {
			_ = headers.Set(strings.ToLower(k), v[0])
		}
	}
	_ = reqObj.Set("headers", headers)

	status := 200
	respHeaders := map[string][]string{}
	var body []byte

	respObj := h.vm.NewObject()
	_ = respObj.Set("statusCode", status)
	_ = respObj.Set("setHeader", func(call goja.FunctionCall) goja.Value {
		respHeaders[strings.ToLower(call.Argument(0).String())] = []string{call.Argument(1).String()}
		return goja.Undefined()
	})
	_ = respObj.Set("writeHead", func(call goja.FunctionCall) goja.Value {
		status = int(call.Argument(0).ToInteger())
		return goja.Undefined()
	})
	_ = respObj.Set("end", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			body = []byte(call.Argument(0).String())
		}
		return goja.Undefined()
	})
	_ = respObj.Set("write", func(call goja.FunctionCall) goja.Value {
		body = append(body, []byte(call.Argument(0).String())...)
		return goja.Undefined()
	})

	_, err := h.handlerFn(goja.Undefined(), reqObj, respObj)
	if err != nil {
		return bus.Response{}, err
	}
	return bus.Response{StatusCode: status, Headers: respHeaders, Body: body}, nil
}

// clientRequestArgs is the parsed form of http.request's two accepted
// call shapes: a single URL string, or a Node-style options object
// ({hostname|host, port, path, method, headers}), optionally followed by
// a callback.
type clientRequestArgs struct {
	method  string
	host    string
	port    int
	path    string
	headers map[string][]string
}

func parseClientRequestArgs(call goja.FunctionCall) clientRequestArgs {
	args := clientRequestArgs{method: "GET", path: "/", headers: map[string][]string{}}
	if len(call.Arguments) == 0 {
		return args
	}

	if s, ok := call.Argument(0).Export().(string); ok {
		if u, err := url.Parse(s); err == nil {
			args.host = u.Hostname()
			if p := u.Port(); p != "" {
				args.port, _ = strconv.Atoi(p)
			}
			if u.Path != "" {
				args.path = u.Path
			}
			return args
		}
	}

	if opts, ok := call.Argument(0).Export().(map[string]interface{}); ok {
		if h, ok := opts["hostname"].(string); ok {
			args.host = h
		} else if h, ok := opts["host"].(string); ok {
			args.host = h
		}
		if p, ok := opts["port"].(int64); ok {
			args.port = int(p)
		}
		if p, ok := opts["path"].(string); ok {
			args.path = p
		}
		if m, ok := opts["method"].(string); ok {
			args.method = strings.ToUpper(m)
		}
		if h, ok := opts["headers"].(map[string]interface{}); ok {
			for k, v := range h {
				args.headers[k] = []string{toString(v)}
			}
		}
	}
	return args
}

// clientRequest implements the HTTP client side of spec §4.6: requests
// targeting a loopback host dispatch through the bus (so one project's
// server reaches another project's, or itself, without a real socket);
// anything else is a genuine outbound request over outboundClient.
func (r *Registry) clientRequest(scheme string, call goja.FunctionCall) goja.Value {
	promise, resolve, reject := r.VM.NewPromise()
	args := parseClientRequestArgs(call)

	var body []byte
	reqObj := r.VM.NewObject()
	_ = reqObj.Set("write", func(c goja.FunctionCall) goja.Value {
		body = append(body, []byte(c.Argument(0).String())...)
		return r.VM.ToValue(true)
	})
	_ = reqObj.Set("on", func(c goja.FunctionCall) goja.Value { return reqObj })
	_ = reqObj.Set("end", func(c goja.FunctionCall) goja.Value {
		if len(c.Arguments) > 0 {
			if s, ok := c.Argument(0).Export().(string); ok {
				body = append(body, []byte(s)...)
			}
		}
		resp, err := r.dispatchHTTP(scheme, args, body)
		if err != nil {
			reject(r.VM.ToValue(err.Error()))
			return goja.Undefined()
		}
		respObj := r.VM.NewObject()
		_ = respObj.Set("statusCode", resp.StatusCode)
		_ = respObj.Set("body", string(resp.Body))
		headerObj := r.VM.NewObject()
		for k, v := range resp.Headers {
			if len(v) > 0 {
				_ = headerObj.Set(strings.ToLower(k), v[0])
			}
		}
		_ = respObj.Set("headers", headerObj)
		resolve(respObj)
		return goja.Undefined()
	})

	if fn, ok := goja.AssertFunction(call.Argument(len(call.Arguments) - 1)); ok && len(call.Arguments) > 1 {
		_, _ = fn(goja.Undefined(), reqObj)
	}
	return r.VM.ToValue(promise)
}

// dispatchHTTP is the shared send path for both clientRequest (called
// explicitly via .end()) and any future fetch-style convenience wrapper.
func (r *Registry) dispatchHTTP(scheme string, args clientRequestArgs, body []byte) (bus.Response, error) {
	port := args.port
	if port == 0 {
		if scheme == "https" {
			port = 443
		} else {
			port = 80
		}
	}

	if isLoopbackHost(args.host) {
		return r.Bus.HandleRequest(context.Background(), port, bus.Request{
			Method: args.method, Path: args.path, Headers: args.headers, Body: body,
		}), nil
	}

	fullURL := scheme + "://" + args.host + ":" + strconv.Itoa(port) + args.path
	httpReq, err := http.NewRequest(args.method, fullURL, bytes.NewReader(body))
	if err != nil {
		return bus.Response{}, err
	}
	for k, vs := range args.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	resp, err := outboundClient.Do(httpReq)
	if err != nil {
		return bus.Response{}, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return bus.Response{}, err
	}
	return bus.Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: respBody}, nil
}

// childProcessModule implements "exec/spawn over an in-memory shell with
// a small library of built-in commands" (spec §4.6). Real process
// spawning is out of bounds inside the sandbox; the handful of builtins
// cover the common "echo"/"true"/"false" probe patterns build tooling
// uses to check for a capability before falling back.
func (r *Registry) childProcessModule() goja.Value {
	obj := r.VM.NewObject()
	run := func(cmd string, args []string) (string, int) {
		switch cmd {
		case "echo":
			return strings.Join(args, " ") + "\n", 0
		case "true":
			return "", 0
		case "false":
			return "", 1
		case "pwd":
			return r.WorkingDir + "\n", 0
		default:
			return "", 127
		}
	}
	_ = obj.Set("execSync", func(call goja.FunctionCall) goja.Value {
		full := strings.Fields(call.Argument(0).String())
		if len(full) == 0 {
			return r.VM.ToValue("")
		}
		out, code := run(full[0], full[1:])
		if code != 0 {
			panic(r.VM.ToValue("command failed: " + call.Argument(0).String()))
		}
		return r.VM.ToValue(out)
	})
	_ = obj.Set("spawn", func(call goja.FunctionCall) goja.Value {
		cmd := call.Argument(0).String()
		var args []string
		if arr, ok := call.Argument(1).Export().([]interface{}); ok {
			for _, a := range arr {
				args = append(args, toString(a))
			}
		}
		out, code := run(cmd, args)

		child := r.VM.NewObject()
		listeners := map[string][]goja.Callable{}
		on := func(c goja.FunctionCall) goja.Value {
			name := c.Argument(0).String()
			if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
				listeners[name] = append(listeners[name], fn)
			}
			return child
		}
		stdout := r.VM.NewObject()
		_ = stdout.Set("on", on)
		_ = child.Set("stdout", stdout)
		stderr := r.VM.NewObject()
		_ = stderr.Set("on", func(goja.FunctionCall) goja.Value { return child })
		_ = child.Set("stderr", stderr)
		_ = child.Set("on", on)

		for _, l := range listeners["data"] {
			_, _ = l(stdout, r.VM.ToValue(out))
		}
		for _, l := range listeners["exit"] {
			_, _ = l(child, r.VM.ToValue(code))
		}
		return child
	})
	return obj
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// unsupportedNetworkModule covers net/tls/dns/http2 — spec §4.6 fixes
// only the contract for the HTTP client/server substitute; raw socket
// and DNS access have no sandbox-safe equivalent, so these expose a
// minimal shape that throws clearly when actually used.
func (r *Registry) unsupportedNetworkModule(name string) goja.Value {
	obj := r.VM.NewObject()
	throw := func(call goja.FunctionCall) goja.Value {
		panic(r.VM.ToValue(name + " is not available in this environment"))
	}
	_ = obj.Set("connect", throw)
	_ = obj.Set("createConnection", throw)
	_ = obj.Set("lookup", throw)
	_ = obj.Set("createServer", throw)
	return obj
}

func (r *Registry) readlineModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("createInterface", func(call goja.FunctionCall) goja.Value {
		iface := r.VM.NewObject()
		_ = iface.Set("question", func(c goja.FunctionCall) goja.Value {
			if cb, ok := goja.AssertFunction(c.Argument(1)); ok {
				_, _ = cb(goja.Undefined(), r.VM.ToValue(""))
			}
			return goja.Undefined()
		})
		_ = iface.Set("close", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
		_ = iface.Set("on", func(goja.FunctionCall) goja.Value { return iface })
		return iface
	})
	return obj
}
