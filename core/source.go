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

package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jtx-io/jtx/dom"
	"github.com/jtx-io/jtx/interp"

	"github.com/gorhill/cronexpr"
	"github.com/ohler55/ojg/jp"
)

// Source statuses.
const (
	StatusIdle    = "idle"
	StatusLoading = "loading"
	StatusReady   = "ready"
	StatusError   = "error"
)

// SourceError is the taxonomized last-error record of a source.
type SourceError struct {
	Type    string `json:"type"` // "network", "format", "connection"
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

func (e *SourceError) Error() string { return e.Type + ": " + e.Message }

func (e *SourceError) detail(name string) map[string]interface{} {
	d := map[string]interface{}{
		"name":    name,
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Status != 0 {
		d["status"] = e.Status
	}
	if e.Raw != "" {
		d["raw"] = e.Raw
	}
	return d
}

type fetchMode struct {
	kind string // onload, idle, visible, manual, every, cron
	arg  string
}

// Source is a read-only value produced by a transport.
type Source struct {
	name string
	url  string
	kind string // http, sse, ws, mqtt

	value  interface{}
	status string
	err    *SourceError

	selectPath jp.Expr
	sseEvent   string
	modes      []fetchMode
	headers    *interp.Compiled

	// extraEvents are additional stream event names from the
	// element's own 'on' attribute; they fan out as DOM events but
	// do not update the value.
	extraEvents map[string]bool

	slots map[string]*dom.Node

	el *dom.Node
	e  *Engine
	r  *interp.Ref

	conn   transport
	timers []chan struct{}
	opened bool
}

func (s *Source) Name() string     { return s.name }
func (s *Source) Kind() string     { return "source" }
func (s *Source) El() *dom.Node    { return s.el }
func (s *Source) ref() *interp.Ref { return s.r }

// Value returns the last parsed payload (after any selection).
func (s *Source) Value() interface{} { return s.value }

// Status returns idle, loading, ready, or error.
func (s *Source) Status() string { return s.status }

// LastError returns the last error record, or nil.
func (s *Source) LastError() *SourceError { return s.err }

// sourceKind infers the transport from the URL scheme prefix.
func sourceKind(u string) string {
	switch {
	case strings.HasPrefix(u, "sse:"):
		return "sse"
	case strings.HasPrefix(u, "ws:"), strings.HasPrefix(u, "wss:"):
		return "ws"
	case strings.HasPrefix(u, "mqtt:"), strings.HasPrefix(u, "mqtts:"):
		return "mqtt"
	}
	return "http"
}

// initSource builds a source from its <src> element.
func (e *Engine) initSource(el *dom.Node) *Source {
	name, have := el.Attr("name")
	if !have || name == "" {
		e.logf("warning: <src> without a name ignored")
		return nil
	}
	u := el.AttrOr("url", "")

	s := &Source{
		name:        name,
		url:         u,
		kind:        sourceKind(u),
		status:      StatusIdle,
		sseEvent:    el.AttrOr("sse-event", ""),
		extraEvents: make(map[string]bool),
		slots:       make(map[string]*dom.Node),
		el:          el,
		e:           e,
	}
	s.r = e.in.NewSourceRef((*sourceAccessor)(s))

	if sel := el.AttrOr("select", ""); sel != "" {
		x, err := jp.ParseString(sel)
		if err != nil {
			e.logf("warning: source %s bad select %q: %s", name, sel, err)
		} else {
			s.selectPath = x
		}
	}

	for _, m := range splitList(el.AttrOr("fetch", "")) {
		parts := strings.Fields(m)
		fm := fetchMode{kind: parts[0]}
		if len(parts) > 1 {
			fm.arg = strings.Join(parts[1:], " ")
		}
		s.modes = append(s.modes, fm)
	}
	if len(s.modes) == 0 {
		s.modes = []fetchMode{{kind: "onload"}}
	}

	// Extra stream event subscriptions come from the element's own
	// 'on' attribute.
	for _, entry := range ParseOn(el.AttrOr(attrPrefix+"on", "")) {
		s.extraEvents[entry.Event] = true
	}

	// Status slots.
	for _, kid := range el.Elements() {
		switch kid.Tag {
		case "loading", "error", "empty":
			kid.SetAttr("hidden", "")
			s.slots[kid.Tag] = kid
		}
	}

	if hdrs := el.AttrOr("headers", ""); hdrs != "" {
		c, err := e.in.Compile(hdrs, interp.ExprMode, nil)
		if err != nil {
			e.logf("warning: source %s bad headers expression: %s", name, err)
		} else {
			s.headers = c
		}
	}

	if !e.registerDef(s, false) {
		return nil
	}
	el.SetProp(propDef, Def(s))
	e.addCleanup(el, s.teardown)

	s.fire("init", map[string]interface{}{"name": name})
	s.arm()
	return s
}

// arm schedules the configured fetch modes.
func (s *Source) arm() {
	for _, m := range s.modes {
		switch m.kind {
		case "manual":
			// Automatic fetches suppressed.
		case "onload":
			s.start()
		case "idle":
			s.after(50*time.Millisecond, s.start)
		case "visible":
			// The host signals visibility with a 'visible'
			// event on the source element; fire once.
			var off func()
			off = s.el.On("visible", func(*dom.Event) {
				off()
				s.e.enter()
				defer s.e.leave()
				s.start()
			})
		case "every":
			d, err := parseDuration(m.arg)
			if err != nil {
				s.e.logf("warning: source %s bad interval %q: %s", s.name, m.arg, err)
				continue
			}
			s.every(d)
		case "cron":
			x, err := cronexpr.Parse(m.arg)
			if err != nil {
				s.e.logf("warning: source %s bad cron %q: %s", s.name, m.arg, err)
				continue
			}
			s.cron(x)
		default:
			s.e.logf("warning: source %s unknown fetch mode %q", s.name, m.kind)
		}
	}
}

// after runs f once on the engine turn after the delay, cancellable
// by element removal.
func (s *Source) after(d time.Duration, f func()) {
	stop := make(chan struct{})
	s.timers = append(s.timers, stop)
	go func() {
		select {
		case <-time.After(d):
			s.e.Do(f)
		case <-stop:
		}
	}()
}

func (s *Source) every(d time.Duration) {
	stop := make(chan struct{})
	s.timers = append(s.timers, stop)
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				s.e.Do(s.start)
			case <-stop:
				return
			}
		}
	}()
}

func (s *Source) cron(x *cronexpr.Expression) {
	stop := make(chan struct{})
	s.timers = append(s.timers, stop)
	go func() {
		for {
			next := x.Next(time.Now())
			if next.IsZero() {
				return
			}
			select {
			case <-time.After(time.Until(next)):
				s.e.Do(s.start)
			case <-stop:
				return
			}
		}
	}()
}

// start begins a fetch (http) or opens the stream (sse, ws, mqtt).
func (s *Source) start() {
	switch s.kind {
	case "http":
		s.startFetch()
	default:
		s.openStream()
	}
}

// Refresh re-triggers the source: a fresh fetch for HTTP, a teardown
// and re-open for streams.
func (s *Source) Refresh() {
	switch s.kind {
	case "http":
		s.startFetch()
	default:
		s.closeConn()
		s.openStream()
	}
}

// setStatus is the sole status mutator, keeping the slots consistent.
func (s *Source) setStatus(status string) {
	if s.status != status {
		s.status = status
	}
	s.updateSlots()
	s.e.markChanged(s)
}

// updateSlots reveals at most one slot, matching the current status.
func (s *Source) updateSlots() {
	show := func(tag string, visible bool) {
		slot, have := s.slots[tag]
		if !have {
			return
		}
		if visible {
			slot.RemoveAttr("hidden")
		} else {
			slot.SetAttr("hidden", "")
		}
	}
	show("loading", s.status == StatusLoading)
	show("error", s.status == StatusError)
	show("empty", s.status == StatusReady && s.err == nil && isEmptyValue(s.value))
}

// fail records an error without clearing the value.
func (s *Source) fail(err *SourceError) {
	s.err = err
	s.setStatus(StatusError)
	s.fire("error", err.detail(s.name))
}

// accept runs a parsed payload through selection and publishes it.
func (s *Source) accept(v interface{}) {
	if s.selectPath != nil {
		hits := s.selectPath.Get(v)
		if len(hits) == 0 {
			v = nil
		} else {
			v = hits[0]
		}
	}
	s.value = v
	s.err = nil
	s.e.markChanged(s)
	s.fire("update", map[string]interface{}{"name": s.name, "value": v})
	s.setStatus(StatusReady)
}

// handleMessage is the common stream delivery path for SSE, WS, and
// MQTT messages.
func (s *Source) handleMessage(typ, raw, lastEventID string) {
	detail := map[string]interface{}{
		"name": s.name,
		"type": typ,
		"data": raw,
	}
	if lastEventID != "" {
		detail["lastEventId"] = lastEventID
	}

	dataEvent := "message"
	if s.kind == "sse" && s.sseEvent != "" {
		dataEvent = s.sseEvent
	}
	if typ != dataEvent {
		if s.extraEvents[typ] {
			s.fire(typ, detail)
		}
		return
	}
	s.fire("message", detail)

	var v interface{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.fail(&SourceError{Type: "format", Message: err.Error(), Raw: raw})
			return
		}
	}
	s.accept(v)
}

func (s *Source) fire(typ string, detail map[string]interface{}) {
	s.e.enter()
	defer s.e.leave()
	s.el.Dispatch(typ, detail)
}

// evalHeaders re-evaluates the headers expression; it can read live
// state, e.g. auth tokens.
func (s *Source) evalHeaders() map[string]string {
	acc := make(map[string]string)
	if s.headers == nil {
		return acc
	}
	v, err := s.headers.Eval(&interp.Env{
		Ref: func(name string) interface{} { return s.e.resolve(name, s.el) },
	})
	if err != nil {
		s.e.logf("warning: source %s headers: %s", s.name, err)
		return acc
	}
	if m, is := s.e.unwrap(v).(map[string]interface{}); is {
		for k, hv := range m {
			acc[k] = stringify(hv)
		}
	}
	return acc
}

// teardown closes the connection and cancels the timers.
func (s *Source) teardown() {
	s.closeConn()
	for _, stop := range s.timers {
		close(stop)
	}
	s.timers = nil
}

func (s *Source) closeConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.opened = false
}

// sourceAccessor adapts Source to the interpreter's reference shape.
type sourceAccessor Source

func (a *sourceAccessor) Value() interface{} { return a.value }
func (a *sourceAccessor) Status() string     { return a.status }
func (a *sourceAccessor) Refresh()           { (*Source)(a).Refresh() }

func (a *sourceAccessor) LastError() interface{} {
	if a.err == nil {
		return nil
	}
	return (*Source)(a).err.detail(a.name)
}
