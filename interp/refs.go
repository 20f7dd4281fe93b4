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

package interp

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
)

// StateAccessor is what a state reference needs from its definition.
type StateAccessor interface {
	GetKey(key string) (interface{}, bool)
	SetKey(key string, v interface{})
	Keys() []string

	// Canonical returns the single value the reference coerces to
	// in a primitive context, if there is one.
	Canonical() (interface{}, bool)
}

// SourceAccessor is what a source reference needs from its definition.
type SourceAccessor interface {
	Value() interface{}
	Status() string
	LastError() interface{}
	Refresh()
}

// Ref is a reference proxy: the engine-facing handle for the object a
// '@name' evaluates to.  Exactly one of State and Source is set.
type Ref struct {
	State  StateAccessor
	Source SourceAccessor

	obj *goja.Object
}

// Live returns the referenced definition's current value.
func (r *Ref) Live() interface{} {
	if r.Source != nil {
		return r.Source.Value()
	}
	m := make(map[string]interface{})
	for _, k := range r.State.Keys() {
		if v, have := r.State.GetKey(k); have {
			m[k] = v
		}
	}
	return m
}

// NewStateRef wraps a state as a transparent object: property reads
// forward to the live value and property writes mutate it (the
// accessor is responsible for marking pending keys).
func (in *Interp) NewStateRef(acc StateAccessor) *Ref {
	r := &Ref{State: acc}
	d := &stateDyn{in: in, acc: acc, ref: r}
	r.obj = in.vm.NewDynamicObject(d)
	in.refs[r.obj] = r
	return r
}

// NewSourceRef wraps a source as a read-only object exposing $status,
// $error, and refresh().
func (in *Interp) NewSourceRef(acc SourceAccessor) *Ref {
	r := &Ref{Source: acc}
	d := &sourceDyn{in: in, acc: acc, ref: r}
	r.obj = in.vm.NewDynamicObject(d)
	in.refs[r.obj] = r
	return r
}

type stateDyn struct {
	in  *Interp
	acc StateAccessor
	ref *Ref
}

func (d *stateDyn) Get(key string) goja.Value {
	switch key {
	case "toString":
		return d.in.vm.ToValue(func() string { return stringify(d.canon()) })
	case "valueOf":
		return d.in.vm.ToValue(func() interface{} { return d.canon() })
	}
	if v, have := d.acc.GetKey(key); have {
		return d.in.vm.ToValue(v)
	}
	return goja.Undefined()
}

func (d *stateDyn) canon() interface{} {
	if v, have := d.acc.Canonical(); have {
		return v
	}
	m := make(map[string]interface{})
	for _, k := range d.acc.Keys() {
		if v, have := d.acc.GetKey(k); have {
			m[k] = v
		}
	}
	return m
}

func (d *stateDyn) Set(key string, val goja.Value) bool {
	d.acc.SetKey(key, d.in.Export(val))
	return true
}

func (d *stateDyn) Has(key string) bool {
	_, have := d.acc.GetKey(key)
	return have
}

// Delete refuses: a state's key set never loses entries.
func (d *stateDyn) Delete(key string) bool { return false }

func (d *stateDyn) Keys() []string { return d.acc.Keys() }

type sourceDyn struct {
	in  *Interp
	acc SourceAccessor
	ref *Ref
}

func (d *sourceDyn) Get(key string) goja.Value {
	switch key {
	case "$status":
		return d.in.vm.ToValue(d.acc.Status())
	case "$error":
		return d.in.vm.ToValue(d.acc.LastError())
	case "refresh":
		return d.in.vm.ToValue(func() { d.acc.Refresh() })
	case "toString":
		return d.in.vm.ToValue(func() string { return stringify(d.acc.Value()) })
	case "valueOf":
		return d.in.vm.ToValue(func() interface{} { return d.acc.Value() })
	}
	switch vv := d.acc.Value().(type) {
	case map[string]interface{}:
		if v, have := vv[key]; have {
			return d.in.vm.ToValue(v)
		}
	case []interface{}:
		if key == "length" {
			return d.in.vm.ToValue(len(vv))
		}
		if i, err := strconv.Atoi(key); err == nil && 0 <= i && i < len(vv) {
			return d.in.vm.ToValue(vv[i])
		}
	}
	return goja.Undefined()
}

// Set refuses: writing through a source reference is not supported.
func (d *sourceDyn) Set(key string, val goja.Value) bool { return false }

func (d *sourceDyn) Has(key string) bool {
	return !goja.IsUndefined(d.Get(key))
}

func (d *sourceDyn) Delete(key string) bool { return false }

func (d *sourceDyn) Keys() []string {
	if m, is := d.acc.Value().(map[string]interface{}); is {
		acc := make([]string, 0, len(m))
		for k := range m {
			acc = append(acc, k)
		}
		return acc
	}
	return nil
}

// AsRef recovers the reference proxy behind a value that crossed the
// runtime boundary, if there is one.
func (in *Interp) AsRef(x interface{}) *Ref {
	switch vv := x.(type) {
	case *Ref:
		return vv
	case *stateDyn:
		return vv.ref
	case *sourceDyn:
		return vv.ref
	case *goja.Object:
		return in.refs[vv]
	}
	return nil
}

func stringify(x interface{}) string {
	switch vv := x.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", vv)
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return fmt.Sprintf("%v", x)
	}
	return string(js)
}
