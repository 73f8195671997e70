package platform

import (
	"sync"

	"github.com/dop251/goja"
)

// workerThreadsModule implements the "compatibility mode" of spec §4.6:
// a single-threaded Worker that posts synthetic online/message/exit, a
// MessageChannel/MessagePort pair, and a named BroadcastChannel
// registry. True multi-threading is an explicit Non-goal (spec.md §1).
// A Worker here does not load or run its target module: postMessage
// delivers to the listeners registered on the same Worker object, and
// terminate emits exit with code 0.
func (r *Registry) workerThreadsModule() goja.Value {
	obj := r.VM.NewObject()

	workerCtor := r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
		self := call.This
		listeners := map[string][]goja.Callable{}
		on := func(c goja.FunctionCall) goja.Value {
			name := c.Argument(0).String()
			if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
				listeners[name] = append(listeners[name], fn)
			}
			return self
		}
		_ = self.Set("on", on)
		_ = self.Set("postMessage", func(c goja.FunctionCall) goja.Value {
			for _, l := range listeners["message"] {
				_, _ = l(self, c.Argument(0))
			}
			return goja.Undefined()
		})
		_ = self.Set("terminate", func(c goja.FunctionCall) goja.Value {
			for _, l := range listeners["exit"] {
				_, _ = l(self, r.VM.ToValue(0))
			}
			return goja.Undefined()
		})
		for _, l := range listeners["online"] {
			_, _ = l(self)
		}
		return nil
	})
	_ = obj.Set("Worker", workerCtor)
	_ = obj.Set("isMainThread", true)
	_ = obj.Set("parentPort", goja.Null())
	_ = obj.Set("workerData", goja.Undefined())

	channelCtor := r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
		self := call.This
		port1 := r.VM.NewObject()
		port2 := r.VM.NewObject()
		wirePort(r.VM, port1, port2)
		wirePort(r.VM, port2, port1)
		_ = self.Set("port1", port1)
		_ = self.Set("port2", port2)
		return nil
	})
	_ = obj.Set("MessageChannel", channelCtor)

	_ = obj.Set("BroadcastChannel", r.broadcastChannelCtor())
	return obj
}

func wirePort(vm *goja.Runtime, self, peer *goja.Object) {
	var listeners []goja.Callable
	_ = self.Set("postMessage", func(c goja.FunctionCall) goja.Value {
		// Delivery is synchronous: the peer's listeners run before
		// postMessage returns, not in a later microtask.
		promise, resolve, _ := vm.NewPromise()
		resolve(goja.Undefined())
		_ = promise
		for _, l := range peerListeners(peer) {
			_, _ = l(peer, c.Argument(0))
		}
		return goja.Undefined()
	})
	_ = self.Set("onmessage", goja.Null())
	_ = self.Set("on", func(c goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
			listeners = append(listeners, fn)
		}
		return self
	})
	_ = self.Set("close", func(c goja.FunctionCall) goja.Value { return goja.Undefined() })
	portListenersMu.Lock()
	portListeners[self] = &listeners
	portListenersMu.Unlock()
}

var (
	portListenersMu sync.Mutex
	portListeners   = map[*goja.Object]*[]goja.Callable{}
)

func peerListeners(peer *goja.Object) []goja.Callable {
	portListenersMu.Lock()
	defer portListenersMu.Unlock()
	if l, ok := portListeners[peer]; ok {
		return *l
	}
	return nil
}

// broadcastChannelCtor implements the named-registry BroadcastChannel of
// spec §4.6. Delivery is in-process; when the composition root wires a
// Redis-backed cache store, BroadcastBus also publishes each postMessage
// under the channel name on that store's pub/sub. RedisStore publishes
// only string messages, and nothing in this repository subscribes to
// those channels, so instances in other processes do not receive them.
func (r *Registry) broadcastChannelCtor() goja.Value {
	return r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
		self := call.This
		name := call.Argument(0).String()

		broadcastMu.Lock()
		broadcastChannels[name] = append(broadcastChannels[name], self)
		broadcastMu.Unlock()

		var listeners []goja.Callable
		_ = self.Set("name", name)
		_ = self.Set("postMessage", func(c goja.FunctionCall) goja.Value {
			broadcastMu.Lock()
			peers := append([]*goja.Object{}, broadcastChannels[name]...)
			broadcastMu.Unlock()
			for _, peer := range peers {
				if peer == self {
					continue
				}
				for _, l := range broadcastListeners(peer) {
					_, _ = l(peer, c.Argument(0))
				}
			}
			if r.BroadcastBus != nil {
				r.BroadcastBus.Publish(name, c.Argument(0).Export())
			}
			return goja.Undefined()
		})
		_ = self.Set("on", func(c goja.FunctionCall) goja.Value {
			if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
				listeners = append(listeners, fn)
			}
			return self
		})
		_ = self.Set("close", func(c goja.FunctionCall) goja.Value {
			broadcastMu.Lock()
			peers := broadcastChannels[name]
			for i, p := range peers {
				if p == self {
					broadcastChannels[name] = append(peers[:i], peers[i+1:]...)
					break
				}
			}
			broadcastMu.Unlock()
			return goja.Undefined()
		})
		broadcastListenersMu.Lock()
		broadcastListenerTable[self] = &listeners
		broadcastListenersMu.Unlock()
		return nil
	})
}

var (
	broadcastMu       sync.Mutex
	broadcastChannels = map[string][]*goja.Object{}

	broadcastListenersMu   sync.Mutex
	broadcastListenerTable = map[*goja.Object]*[]goja.Callable{}
)

func broadcastListeners(obj *goja.Object) []goja.Callable {
	broadcastListenersMu.Lock()
	defer broadcastListenersMu.Unlock()
	if l, ok := broadcastListenerTable[obj]; ok {
		return *l
	}
	return nil
}

// BroadcastPublisher is the optional cross-process backing for
// BroadcastChannel (SPEC_FULL.md "Worker/messaging"), implemented by
// cachestore's Redis pub/sub tier.
type BroadcastPublisher interface {
	Publish(channel string, message interface{})
}
