package platform

import (
	"bytes"
	"crypto/md5"  //nolint:gosec // hashing substitute surface, not used for security decisions
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // ditto
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/andybalholm/brotli"
	"github.com/dop251/goja"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	_ "github.com/mattn/go-sqlite3"
)

// cryptoModule covers the subset of node:crypto real-world packages
// actually probe: a digest() helper and randomBytes. Hashing itself has
// no third-party alternative in the pack's dependency surface — every
// example repo that hashes anything reaches for the standard library
// crypto/* packages directly (see DESIGN.md).
func (r *Registry) cryptoModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("randomBytes", func(call goja.FunctionCall) goja.Value {
		n := call.Argument(0).ToInteger()
		buf := make([]byte, n)
		_, _ = rand.Read(buf)
		return r.VM.ToValue(r.VM.NewArrayBuffer(buf))
	})
	_ = obj.Set("createHash", func(call goja.FunctionCall) goja.Value {
		algo := call.Argument(0).String()
		hashObj := r.VM.NewObject()
		buf := &bytes.Buffer{}
		_ = hashObj.Set("update", func(c goja.FunctionCall) goja.Value {
			if b, ok := c.Argument(0).Export().([]byte); ok {
				buf.Write(b)
			} else {
				buf.WriteString(c.Argument(0).String())
			}
			return hashObj
		})
		_ = hashObj.Set("digest", func(c goja.FunctionCall) goja.Value {
			var sum []byte
			switch algo {
			case "md5":
				s := md5.Sum(buf.Bytes())
				sum = s[:]
			case "sha1":
				s := sha1.Sum(buf.Bytes())
				sum = s[:]
			default:
				s := sha256.Sum256(buf.Bytes())
				sum = s[:]
			}
			enc := c.Argument(0).String()
			if enc == "hex" || enc == "" {
				return r.VM.ToValue(hex.EncodeToString(sum))
			}
			return r.VM.ToValue(r.VM.NewArrayBuffer(sum))
		})
		return hashObj
	})
	return obj
}

// zlibModule backs the compression substitute with klauspost/compress
// (gzip/zlib) and andybalholm/brotli, per SPEC_FULL.md's DOMAIN STACK
// table, instead of a hand-rolled codec.
func (r *Registry) zlibModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("gzipSync", func(call goja.FunctionCall) goja.Value {
		input := bytesOf(call.Argument(0))
		var out bytes.Buffer
		w := gzip.NewWriter(&out)
		_, _ = w.Write(input)
		_ = w.Close()
		return r.VM.ToValue(r.VM.NewArrayBuffer(out.Bytes()))
	})
	_ = obj.Set("gunzipSync", func(call goja.FunctionCall) goja.Value {
		input := bytesOf(call.Argument(0))
		rd, err := gzip.NewReader(bytes.NewReader(input))
		if err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		var out bytes.Buffer
		_, _ = out.ReadFrom(rd)
		return r.VM.ToValue(r.VM.NewArrayBuffer(out.Bytes()))
	})
	_ = obj.Set("deflateSync", func(call goja.FunctionCall) goja.Value {
		input := bytesOf(call.Argument(0))
		var out bytes.Buffer
		w := zlib.NewWriter(&out)
		_, _ = w.Write(input)
		_ = w.Close()
		return r.VM.ToValue(r.VM.NewArrayBuffer(out.Bytes()))
	})
	_ = obj.Set("inflateSync", func(call goja.FunctionCall) goja.Value {
		input := bytesOf(call.Argument(0))
		rd, err := zlib.NewReader(bytes.NewReader(input))
		if err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		var out bytes.Buffer
		_, _ = out.ReadFrom(rd)
		return r.VM.ToValue(r.VM.NewArrayBuffer(out.Bytes()))
	})
	_ = obj.Set("brotliCompressSync", func(call goja.FunctionCall) goja.Value {
		input := bytesOf(call.Argument(0))
		var out bytes.Buffer
		w := brotli.NewWriter(&out)
		_, _ = w.Write(input)
		_ = w.Close()
		return r.VM.ToValue(r.VM.NewArrayBuffer(out.Bytes()))
	})
	_ = obj.Set("brotliDecompressSync", func(call goja.FunctionCall) goja.Value {
		input := bytesOf(call.Argument(0))
		rd := brotli.NewReader(bytes.NewReader(input))
		var out bytes.Buffer
		_, _ = out.ReadFrom(rd)
		return r.VM.ToValue(r.VM.NewArrayBuffer(out.Bytes()))
	})
	return obj
}

func bytesOf(v goja.Value) []byte {
	if b, ok := v.Export().([]byte); ok {
		return b
	}
	return []byte(v.String())
}

// sqliteModule backs the SQLite-like substitute of spec §4.6 with
// mattn/go-sqlite3 opened against ":memory:" — a pure in-process engine
// from the JS caller's point of view, no descriptor crossing the sandbox
// boundary (SPEC_FULL.md "Platform-module substitutes — additions").
func (r *Registry) sqliteModule() goja.Value {
	obj := r.VM.NewObject()
	ctor := r.VM.ToValue(func(call goja.ConstructorCall) *goja.Object {
		self := call.This
		db, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			panic(r.VM.ToValue(err.Error()))
		}
		_ = self.Set("exec", func(c goja.FunctionCall) goja.Value {
			if _, err := db.Exec(c.Argument(0).String()); err != nil {
				panic(r.VM.ToValue(err.Error()))
			}
			return goja.Undefined()
		})
		_ = self.Set("query", func(c goja.FunctionCall) goja.Value {
			rows, err := db.Query(c.Argument(0).String())
			if err != nil {
				panic(r.VM.ToValue(err.Error()))
			}
			defer rows.Close()
			cols, _ := rows.Columns()
			var results []interface{}
			for rows.Next() {
				vals := make([]interface{}, len(cols))
				ptrs := make([]interface{}, len(cols))
				for i := range vals {
					ptrs[i] = &vals[i]
				}
				if err := rows.Scan(ptrs...); err != nil {
					panic(r.VM.ToValue(err.Error()))
				}
				row := map[string]interface{}{}
				for i, c := range cols {
					row[c] = vals[i]
				}
				results = append(results, row)
			}
			return r.VM.ToValue(results)
		})
		_ = self.Set("close", func(c goja.FunctionCall) goja.Value {
			_ = db.Close()
			return goja.Undefined()
		})
		return nil
	})
	_ = obj.Set("Database", ctor)
	return obj
}

// ffiModule: "Not available" stubs that throw with a clear message on
// any call (spec §4.6 "FFI").
func (r *Registry) ffiModule() goja.Value {
	obj := r.VM.NewObject()
	throw := func(call goja.FunctionCall) goja.Value {
		panic(r.VM.ToValue("FFI is not available in this environment"))
	}
	_ = obj.Set("dlopen", throw)
	_ = obj.Set("CFunction", throw)
	_ = obj.Set("JSCallback", throw)
	return obj
}

// testFrameworkModule is a minimal describe/it/expect that throws on
// assertion failure (spec §4.6). It does not look for or delegate to a
// host-provided runner.
func (r *Registry) testFrameworkModule() goja.Value {
	obj := r.VM.NewObject()
	_ = obj.Set("describe", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(len(call.Arguments) - 1)); ok {
			_, _ = fn(goja.Undefined())
		}
		return goja.Undefined()
	})
	_ = obj.Set("it", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(len(call.Arguments) - 1)); ok {
			_, _ = fn(goja.Undefined())
		}
		return goja.Undefined()
	})
	_ = obj.Set("test", obj.Get("it"))
	_ = obj.Set("expect", func(call goja.FunctionCall) goja.Value {
		actual := call.Argument(0)
		matcher := r.VM.NewObject()
		_ = matcher.Set("toBe", func(c goja.FunctionCall) goja.Value {
			if !actual.StrictEquals(c.Argument(0)) {
				panic(r.VM.ToValue(fmt.Sprintf("expected %v to be %v", actual, c.Argument(0))))
			}
			return goja.Undefined()
		})
		_ = matcher.Set("toEqual", func(c goja.FunctionCall) goja.Value {
			if actual.String() != c.Argument(0).String() {
				panic(r.VM.ToValue(fmt.Sprintf("expected %v to equal %v", actual, c.Argument(0))))
			}
			return goja.Undefined()
		})
		return matcher
	})
	return obj
}
