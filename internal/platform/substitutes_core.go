package platform

import (
	"path"
	"strings"

	"github.com/dop251/goja"
)

// fsModule implements the Filesystem contract minimum of spec §4.6's
// table: sync readFile/writeFile/readdir/stat/exists/mkdir/watch, promise
// mirrors, and the encoding contract (missing/empty options → binary;
// utf8/UTF-8 case-insensitive → string; explicit null → binary).
func (r *Registry) fsModule() goja.Value {
	obj := r.VM.NewObject()

	decode := func(data []byte, encodingArg goja.Value) goja.Value {
		if encodingArg == nil || goja.IsUndefined(encodingArg) || goja.IsNull(encodingArg) {
			return r.VM.ToValue(r.VM.NewArrayBuffer(data))
		}
		enc := strings.ToLower(encodingArg.String())
		if enc == "utf8" || enc == "utf-8" {
			return r.VM.ToValue(string(data))
		}
		return r.VM.ToValue(r.VM.NewArrayBuffer(data))
	}

	_ = obj.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		data, err := r.FS.ReadFileSync(p)
		if err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		return decode(data, call.Argument(1))
	})
	_ = obj.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		var data []byte
		arg := call.Argument(1)
		if buf, ok := arg.Export().([]byte); ok {
			data = buf
		} else {
			data = []byte(arg.String())
		}
		if err := r.FS.WriteFileSync(p, data); err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		return goja.Undefined()
	})
	_ = obj.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
		names, err := r.FS.ReadDirSync(call.Argument(0).String())
		if err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		return r.VM.ToValue(names)
	})
	_ = obj.Set("statSync", func(call goja.FunctionCall) goja.Value {
		fi, err := r.FS.StatSync(call.Argument(0).String())
		if err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		statObj := r.VM.NewObject()
		_ = statObj.Set("isFile", func(goja.FunctionCall) goja.Value { return r.VM.ToValue(fi.IsFile()) })
		_ = statObj.Set("isDirectory", func(goja.FunctionCall) goja.Value { return r.VM.ToValue(fi.IsDirectory()) })
		_ = statObj.Set("size", fi.Size())
		return statObj
	})
	_ = obj.Set("existsSync", func(call goja.FunctionCall) goja.Value {
		return r.VM.ToValue(r.FS.ExistsSync(call.Argument(0).String()))
	})
	_ = obj.Set("mkdirSync", func(call goja.FunctionCall) goja.Value {
		if err := r.FS.MkdirAllSync(call.Argument(0).String()); err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		return goja.Undefined()
	})
	_ = obj.Set("watch", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		recursive := false
		var cb goja.Callable
		if opts, ok := call.Argument(1).(*goja.Object); ok {
			if rv := opts.Get("recursive"); rv != nil {
				recursive = rv.ToBoolean()
			}
		}
		if fn, ok := goja.AssertFunction(call.Argument(2)); ok {
			cb = fn
		}
		w, err := r.FS.Watch(p, recursive, func(event, filename string) {
			if cb != nil {
				_, _ = cb(goja.Undefined(), r.VM.ToValue(event), r.VM.ToValue(filename))
			}
		})
		if err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		watcherObj := r.VM.NewObject()
		_ = watcherObj.Set("close", func(goja.FunctionCall) goja.Value {
			_ = w.Close()
			return goja.Undefined()
		})
		return watcherObj
	})

	promises := r.VM.NewObject()
	mirror := func(name string) {
		_ = promises.Set(name, func(call goja.FunctionCall) goja.Value {
			promise, resolve, reject := r.VM.NewPromise()
			fn, _ := goja.AssertFunction(obj.Get(name))
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						if v, ok := rec.(goja.Value); ok {
							reject(v.String())
						} else {
							reject("unknown error")
						}
					}
				}()
				v, err := fn(goja.Undefined(), call.Arguments...)
				if err != nil {
					reject(err.Error())
					return
				}
				resolve(v)
			}()
			return r.VM.ToValue(promise)
		})
	}
	for _, name := range []string{"readFileSync", "writeFileSync", "readdirSync", "statSync", "existsSync", "mkdirSync"} {
		mirror(name)
	}
	_ = obj.Set("promises", promises)
	return obj
}

// pathModule implements the POSIX Path contract of spec §4.6.
func (r *Registry) pathModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("sep", "/")
	_ = obj.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		return r.VM.ToValue(path.Join(parts...))
	})
	_ = obj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		result := r.WorkingDir
		for _, a := range call.Arguments {
			s := a.String()
			if strings.HasPrefix(s, "/") {
				result = s
			} else {
				result = path.Join(result, s)
			}
		}
		return r.VM.ToValue(path.Clean(result))
	})
	_ = obj.Set("normalize", func(call goja.FunctionCall) goja.Value {
		return r.VM.ToValue(path.Clean(call.Argument(0).String()))
	})
	_ = obj.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return r.VM.ToValue(path.Dir(call.Argument(0).String()))
	})
	_ = obj.Set("basename", func(call goja.FunctionCall) goja.Value {
		b := path.Base(call.Argument(0).String())
		if ext := call.Argument(1); !goja.IsUndefined(ext) && strings.HasSuffix(b, ext.String()) {
			b = strings.TrimSuffix(b, ext.String())
		}
		return r.VM.ToValue(b)
	})
	_ = obj.Set("extname", func(call goja.FunctionCall) goja.Value {
		return r.VM.ToValue(path.Ext(call.Argument(0).String()))
	})
	_ = obj.Set("relative", func(call goja.FunctionCall) goja.Value {
		from := call.Argument(0).String()
		to := call.Argument(1).String()
		return r.VM.ToValue(relativePOSIX(from, to))
	})
	_ = obj.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return r.VM.ToValue(strings.HasPrefix(call.Argument(0).String(), "/"))
	})
	return obj
}

func relativePOSIX(from, to string) string {
	from = path.Clean(from)
	to = path.Clean(to)
	if from == to {
		return ""
	}
	fromParts := strings.Split(strings.Trim(from, "/"), "/")
	toParts := strings.Split(strings.Trim(to, "/"), "/")
	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}
	up := strings.Repeat("../", len(fromParts)-common)
	rest := strings.Join(toParts[common:], "/")
	result := up + rest
	if result == "" {
		return "."
	}
	return strings.TrimSuffix(result, "/")
}

func (r *Registry) processModule() goja.Value {
	obj := r.VM.NewObject()
	env := r.VM.NewObject()
	for k, v := range r.Env {
		_ = env.Set(k, v)
	}
	_ = obj.Set("env", env)
	_ = obj.Set("platform", "linux")
	_ = obj.Set("version", "v20.0.0")
	_ = obj.Set("cwd", func(goja.FunctionCall) goja.Value { return r.VM.ToValue(r.WorkingDir) })
	return obj
}

// eventsModule provides a minimal EventEmitter, grounded on Node's
// observable surface (on/once/emit/off), needed by many packages'
// require('events') side-effect imports.
func (r *Registry) eventsModule() goja.Value {
	ctor := r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
		listeners := map[string][]goja.Callable{}
		self := call.This
		_ = self.Set("on", func(c goja.FunctionCall) goja.Value {
			name := c.Argument(0).String()
			if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
				listeners[name] = append(listeners[name], fn)
			}
			return self
		})
		_ = self.Set("once", func(c goja.FunctionCall) goja.Value {
			name := c.Argument(0).String()
			if fn, ok := goja.AssertFunction(c.Argument(1)); ok {
				fired := false
				var wrapper goja.Callable = func(this goja.Value, args ...goja.Value) (goja.Value, error) {
					if fired {
						return goja.Undefined(), nil
					}
					fired = true
					return fn(this, args...)
				}
				listeners[name] = append(listeners[name], wrapper)
			}
			return self
		})
		_ = self.Set("off", func(c goja.FunctionCall) goja.Value {
			name := c.Argument(0).String()
			delete(listeners, name)
			return self
		})
		_ = self.Set("emit", func(c goja.FunctionCall) goja.Value {
			name := c.Argument(0).String()
			args := c.Arguments
			var rest []goja.Value
			if len(args) > 1 {
				rest = args[1:]
			}
			for _, l := range listeners[name] {
				_, _ = l(self, rest...)
			}
			return r.VM.ToValue(len(listeners[name]) > 0)
		})
		return nil
	})
	obj := ctor.(*goja.Object)
	_ = obj.Set("EventEmitter", ctor)
	return obj
}

// streamModule is a minimal Readable/Writable pair (spec §4.6 "push/pipe
// and a Buffer-compatible byte container"): enough for code that only
// probes for the constructors' presence or does simple push/on('data').
func (r *Registry) streamModule() goja.Value {
	obj := r.VM.NewObject()
	newStreamCtor := func(withPush bool) goja.Value {
		return r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
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
			_ = self.Set("pipe", func(c goja.FunctionCall) goja.Value { return c.Argument(0) })
			if withPush {
				_ = self.Set("push", func(c goja.FunctionCall) goja.Value {
					for _, l := range listeners["data"] {
						_, _ = l(self, c.Argument(0))
					}
					return r.VM.ToValue(true)
				})
			} else {
				_ = self.Set("write", func(c goja.FunctionCall) goja.Value {
					for _, l := range listeners["data"] {
						_, _ = l(self, c.Argument(0))
					}
					return r.VM.ToValue(true)
				})
				_ = self.Set("end", func(c goja.FunctionCall) goja.Value {
					for _, l := range listeners["finish"] {
						_, _ = l(self)
					}
					return goja.Undefined()
				})
			}
			return nil
		})
	}
	_ = obj.Set("Readable", newStreamCtor(true))
	_ = obj.Set("Writable", newStreamCtor(false))
	_ = obj.Set("Duplex", newStreamCtor(true))
	_ = obj.Set("Transform", newStreamCtor(true))
	return obj
}

func (r *Registry) bufferModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("from", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		var data []byte
		if s, ok := arg.Export().(string); ok {
			data = []byte(s)
		} else if b, ok := arg.Export().([]byte); ok {
			data = b
		}
		return r.VM.ToValue(r.VM.NewArrayBuffer(data))
	})
	_ = obj.Set("alloc", func(call goja.FunctionCall) goja.Value {
		n := call.Argument(0).ToInteger()
		return r.VM.ToValue(r.VM.NewArrayBuffer(make([]byte, n)))
	})
	_ = obj.Set("Buffer", obj.Get("from"))
	return obj
}

func (r *Registry) urlModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("URL", r.VM.Get("URL"))
	_ = obj.Set("URLSearchParams", r.VM.Get("URLSearchParams"))
	_ = obj.Set("fileURLToPath", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		return r.VM.ToValue(strings.TrimPrefix(s, "file://"))
	})
	_ = obj.Set("pathToFileURL", func(call goja.FunctionCall) goja.Value {
		return r.VM.ToValue("file://" + call.Argument(0).String())
	})
	return obj
}

func (r *Registry) querystringModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("parse", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		out := r.VM.NewObject()
		for _, pair := range strings.Split(s, "&") {
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 {
				_ = out.Set(kv[0], kv[1])
			} else {
				_ = out.Set(kv[0], "")
			}
		}
		return out
	})
	_ = obj.Set("stringify", func(call goja.FunctionCall) goja.Value {
		o, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return r.VM.ToValue("")
		}
		var parts []string
		for _, k := range o.Keys() {
			parts = append(parts, k+"="+o.Get(k).String())
		}
		return r.VM.ToValue(strings.Join(parts, "&"))
	})
	return obj
}

func (r *Registry) utilModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("promisify", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		return r.VM.ToValue(func(c goja.FunctionCall) goja.Value {
			promise, resolve, reject := r.VM.NewPromise()
			if !ok {
				reject("not a function")
				return r.VM.ToValue(promise)
			}
			args := append(append([]goja.Value{}, c.Arguments...), r.VM.ToValue(func(cbCall goja.FunctionCall) goja.Value {
				if errArg := cbCall.Argument(0); !goja.IsUndefined(errArg) && !goja.IsNull(errArg) {
					reject(errArg.String())
				} else {
					resolve(cbCall.Argument(1))
				}
				return goja.Undefined()
			}))
			_, _ = fn(goja.Undefined(), args...)
			return r.VM.ToValue(promise)
		})
	})
	_ = obj.Set("inspect", func(call goja.FunctionCall) goja.Value {
		return r.VM.ToValue(call.Argument(0).String())
	})
	_ = obj.Set("types", r.VM.NewObject())
	return obj
}

func (r *Registry) ttyModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("isatty", func(call goja.FunctionCall) goja.Value { return r.VM.ToValue(false) })
	return obj
}

func (r *Registry) osModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("platform", func(goja.FunctionCall) goja.Value { return r.VM.ToValue("linux") })
	_ = obj.Set("EOL", "\n")
	_ = obj.Set("tmpdir", func(goja.FunctionCall) goja.Value { return r.VM.ToValue("/tmp") })
	_ = obj.Set("homedir", func(goja.FunctionCall) goja.Value { return r.VM.ToValue("/home/sandbox") })
	return obj
}

func (r *Registry) assertModule() goja.Value {
	assertFn := r.VM.ToValue(func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			msg := "assertion failed"
			if m := call.Argument(1); !goja.IsUndefined(m) {
				msg = m.String()
			}
			panic(r.VM.ToValue(msg))
		}
		return goja.Undefined()
	})
	obj := assertFn.(*goja.Object)
	_ = obj.Set("strictEqual", func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).StrictEquals(call.Argument(1)) {
			panic(r.VM.ToValue("values are not strictly equal"))
		}
		return goja.Undefined()
	})
	return obj
}

func (r *Registry) stringDecoderModule() goja.Value {
	obj := r.VM.NewObject()
	ctor := r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
		self := call.This
		_ = self.Set("write", func(c goja.FunctionCall) goja.Value {
			if b, ok := c.Argument(0).Export().([]byte); ok {
				return r.VM.ToValue(string(b))
			}
			return r.VM.ToValue(c.Argument(0).String())
		})
		_ = self.Set("end", func(c goja.FunctionCall) goja.Value { return r.VM.ToValue("") })
		return nil
	})
	_ = obj.Set("StringDecoder", ctor)
	return obj
}
