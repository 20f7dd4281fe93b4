/* Copyright 2026 The jtx Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package interp compiles and runs author expressions.
//
// Expressions are ECMAScript, executed with Goja.  Before compilation
// any identifier preceded by '@' is rewritten to a scoped lookup call
// on the evaluation context, so '@cart.total' reads the definition
// named 'cart'.  The rewrite is textual: it does not understand
// strings or comments, and that is deliberate — '@foo' means "the
// definition foo" everywhere.
//
// See https://github.com/dop251/goja.
package interp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"
)

// refPattern matches an '@name' reference.
var refPattern = regexp.MustCompile(`@([A-Za-z_][\w$]*)`)

// Mode selects how source is wrapped.
type Mode int

const (
	// ExprMode compiles 'return ( src );'.  Used for read-only
	// bindings and key evaluation.
	ExprMode Mode = iota

	// StmtMode compiles the source as the body of an async
	// function so handlers may await.
	StmtMode
)

// Interp owns a Goja runtime.  It is not safe for concurrent use;
// the engine serializes all evaluation on its own turn.
type Interp struct {
	vm    *goja.Runtime
	progs map[string]*compiled
	refs  map[*goja.Object]*Ref
}

type compiled struct {
	fn goja.Callable
}

// New makes a fresh interpreter.
func New() *Interp {
	return &Interp{
		vm:    goja.New(),
		progs: make(map[string]*compiled),
		refs:  make(map[*goja.Object]*Ref),
	}
}

// Rewrite performs the '@name' rewrite.  Exposed for tests.
func Rewrite(src string) string {
	return refPattern.ReplaceAllStringFunc(src, func(m string) string {
		return `$ctx.$ref("` + m[1:] + `")`
	})
}

// RefNames returns the definition names referenced by the source.
func RefNames(src string) []string {
	var acc []string
	seen := map[string]bool{}
	for _, m := range refPattern.FindAllStringSubmatch(src, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			acc = append(acc, m[1])
		}
	}
	return acc
}

// Compiled is a callable of the form f($ctx, locals...) → value.
type Compiled struct {
	in     *Interp
	fn     goja.Callable
	mode   Mode
	params []string

	// Src is the original source, for diagnostics.
	Src string
}

// Compile wraps, rewrites, and compiles the given source.  The params
// are the names of per-call locals (the loop item variable and
// friends), passed as formal parameters after $ctx in the given
// order.  Compilation is cached per (mode, params, source).
func (in *Interp) Compile(src string, mode Mode, params []string) (*Compiled, error) {
	key := fmt.Sprintf("%d:%s:%s", mode, strings.Join(params, ","), src)
	c, have := in.progs[key]
	if !have {
		formals := append([]string{"$ctx"}, params...)
		body := Rewrite(src)
		var wrapped string
		switch mode {
		case ExprMode:
			wrapped = "(function(" + strings.Join(formals, ", ") + ") { return ( " + body + " );\n})"
		default:
			wrapped = "(async function(" + strings.Join(formals, ", ") + ") { " + body + "\n})"
		}
		p, err := goja.Compile("", wrapped, true)
		if err != nil {
			return nil, fmt.Errorf("bad expression %q: %s", src, err)
		}
		v, err := runProgram(in.vm, p)
		if err != nil {
			return nil, err
		}
		fn, is := goja.AssertFunction(v)
		if !is {
			return nil, fmt.Errorf("internal error: %q did not compile to a function", src)
		}
		c = &compiled{fn: fn}
		in.progs[key] = c
	}
	return &Compiled{in: in, fn: c.fn, mode: mode, params: params, Src: src}, nil
}

// Env is what an evaluation can see.
type Env struct {
	// Ref resolves a definition name.  It may return a *Ref, a
	// plain value, or nil.
	Ref func(name string) interface{}

	// Locals supplies values for the compiled params and is also
	// exposed on the context as $locals so Ref can prioritize
	// locals over definitions of the same name.
	Locals map[string]interface{}
}

// Eval runs the compiled code.  In StmtMode the returned promise is
// settled by the time the call returns because the engine's helpers
// are synchronous; a rejection becomes an error.
func (c *Compiled) Eval(env *Env) (interface{}, error) {
	vm := c.in.vm

	ctx := vm.NewObject()
	locals := env.Locals
	ctx.Set("$ref", func(name string) goja.Value {
		if locals != nil {
			if v, have := locals[name]; have {
				return c.in.toValue(v)
			}
		}
		if env.Ref == nil {
			return goja.Undefined()
		}
		return c.in.toValue(env.Ref(name))
	})
	if locals != nil {
		bag := vm.NewObject()
		for k, v := range locals {
			bag.Set(k, c.in.toValue(v))
		}
		ctx.Set("$locals", bag)
	}

	args := make([]goja.Value, 0, 1+len(c.params))
	args = append(args, ctx)
	for _, p := range c.params {
		var v interface{}
		if locals != nil {
			v = locals[p]
		}
		args = append(args, c.in.toValue(v))
	}

	res, err := c.call(args)
	if err != nil {
		return nil, err
	}

	if c.mode == StmtMode {
		if p, is := res.Export().(*goja.Promise); is {
			switch p.State() {
			case goja.PromiseStateRejected:
				return nil, fmt.Errorf("%v", p.Result())
			case goja.PromiseStateFulfilled:
				res = p.Result()
			default:
				// Nothing awaits a genuinely pending
				// promise: the engine's helpers are all
				// synchronous.
				return nil, nil
			}
		}
	}

	return c.in.Export(res), nil
}

func (c *Compiled) call(args []goja.Value) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s", r)
		}
	}()
	return c.fn(goja.Undefined(), args...)
}

func runProgram(vm *goja.Runtime, p *goja.Program) (v goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s", r)
		}
	}()
	return vm.RunProgram(p)
}

// toValue lifts a Go value into the runtime, mapping *Ref to its
// proxy object.
func (in *Interp) toValue(x interface{}) goja.Value {
	switch vv := x.(type) {
	case nil:
		return goja.Undefined()
	case *Ref:
		return vv.obj
	case goja.Value:
		return vv
	default:
		return in.vm.ToValue(x)
	}
}

// Export maps a runtime value back to Go, recognizing reference
// proxies by their hidden registration and unwrapping nothing else.
func (in *Interp) Export(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if obj, is := v.(*goja.Object); is {
		if r, have := in.refs[obj]; have {
			return r
		}
	}
	return v.Export()
}
