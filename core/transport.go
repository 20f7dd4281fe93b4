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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
)

// transport is an open stream connection.
type transport interface {
	Close() error
}

// startFetch runs one HTTP request/response cycle.  Refreshing does
// not cancel an in-flight fetch; the later response wins because it
// writes last.
func (s *Source) startFetch() {
	hdrs := s.evalHeaders()
	s.setStatus(StatusLoading)
	s.fire("fetch", map[string]interface{}{"url": s.url, "headers": hdrs})

	req, err := http.NewRequest("GET", s.absURL("http"), nil)
	if err != nil {
		s.fail(&SourceError{Type: "network", Message: err.Error()})
		return
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}

	e := s.e
	e.go_(func() {
		resp, err := e.fetcher.Do(req)
		if err != nil {
			e.Do(func() {
				s.fail(&SourceError{Type: "network", Message: err.Error()})
			})
			return
		}
		body, rerr := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		e.Do(func() {
			s.finishFetch(resp.StatusCode, body, rerr)
		})
	})
}

func (s *Source) finishFetch(code int, body []byte, rerr error) {
	if rerr != nil {
		s.fail(&SourceError{Type: "network", Message: rerr.Error()})
		return
	}
	if code < 200 || 300 <= code {
		s.fail(&SourceError{
			Type:    "network",
			Status:  code,
			Message: http.StatusText(code),
			Raw:     string(body),
		})
		return
	}
	if code == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		s.accept(nil)
		return
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		s.fail(&SourceError{Type: "format", Message: err.Error(), Raw: string(body)})
		return
	}
	s.accept(v)
}

// absURL resolves the source URL against the page origin and maps it
// to the given scheme family.
func (s *Source) absURL(family string) string {
	raw := s.url
	switch s.kind {
	case "sse":
		raw = strings.TrimPrefix(raw, "sse:")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	base := s.e.loc
	abs := base.ResolveReference(u)
	if family == "ws" {
		switch abs.Scheme {
		case "http", "ws":
			abs.Scheme = "ws"
		default:
			abs.Scheme = "wss"
		}
	}
	return abs.String()
}

// openStream opens the stream transport for the source's kind.
func (s *Source) openStream() {
	if s.conn != nil {
		return
	}
	if !s.opened {
		s.setStatus(StatusLoading)
	}
	switch s.kind {
	case "sse":
		s.openSSE()
	case "ws":
		s.openWS()
	case "mqtt":
		s.openMQTT()
	default:
		s.fail(&SourceError{Type: "connection", Message: "unknown stream kind " + s.kind})
	}
}

func (s *Source) streamOpened(typ string) {
	s.opened = true
	s.fire("open", map[string]interface{}{"name": s.name, "type": typ})
	s.err = nil
	s.setStatus(StatusReady)
}

// sseConn is a cancellable response body reader.
type sseConn struct {
	body io.Closer
	done chan struct{}
}

func (c *sseConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.body.Close()
}

// openSSE connects to a Server-Sent Events endpoint and parses the
// event stream.
func (s *Source) openSSE() {
	req, err := http.NewRequest("GET", s.absURL("http"), nil)
	if err != nil {
		s.fail(&SourceError{Type: "connection", Message: err.Error()})
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range s.evalHeaders() {
		req.Header.Set(k, v)
	}

	e := s.e
	e.go_(func() {
		resp, err := e.fetcher.Do(req)
		if err != nil {
			e.Do(func() {
				s.fail(&SourceError{Type: "connection", Message: err.Error()})
			})
			return
		}
		if resp.StatusCode < 200 || 300 <= resp.StatusCode {
			resp.Body.Close()
			e.Do(func() {
				s.fail(&SourceError{
					Type:    "connection",
					Status:  resp.StatusCode,
					Message: http.StatusText(resp.StatusCode),
				})
			})
			return
		}

		conn := &sseConn{body: resp.Body, done: make(chan struct{})}
		e.Do(func() {
			s.conn = conn
			s.streamOpened("sse")
		})

		var (
			event  string
			dataB  strings.Builder
			haveD  bool
			lastID string
		)
		dispatch := func() {
			if !haveD {
				event = ""
				return
			}
			typ := event
			if typ == "" {
				typ = "message"
			}
			data, id := dataB.String(), lastID
			e.Do(func() { s.handleMessage(typ, data, id) })
			event = ""
			dataB.Reset()
			haveD = false
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				dispatch()
			case strings.HasPrefix(line, ":"):
				// Comment; keep-alive.
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(line[len("event:"):])
			case strings.HasPrefix(line, "data:"):
				if haveD {
					dataB.WriteByte('\n')
				}
				dataB.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
				haveD = true
			case strings.HasPrefix(line, "id:"):
				lastID = strings.TrimSpace(line[len("id:"):])
			}
		}
		dispatch()

		select {
		case <-conn.done:
			// Closed on purpose.
		default:
			err := sc.Err()
			e.Do(func() {
				if s.conn == conn {
					s.conn = nil
				}
				if err != nil {
					s.fail(&SourceError{Type: "connection", Message: err.Error()})
				}
				s.fire("close", map[string]interface{}{"name": s.name})
			})
		}
	})
}

// wsConn wraps a websocket connection.
type wsConn struct {
	c    *websocket.Conn
	done chan struct{}
}

func (c *wsConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.c.Close()
}

// openWS dials the websocket and routes text frames through the
// common message handler.
func (s *Source) openWS() {
	target := s.absURL("ws")
	e := s.e
	go func() {
		c, _, err := websocket.DefaultDialer.Dial(target, nil)
		if err != nil {
			e.Do(func() {
				s.fail(&SourceError{Type: "connection", Message: err.Error()})
			})
			return
		}

		conn := &wsConn{c: c, done: make(chan struct{})}
		e.Do(func() {
			s.conn = conn
			s.streamOpened("ws")
		})

		for {
			mt, message, err := c.ReadMessage()
			if err != nil {
				code, reason := 0, ""
				if ce, is := err.(*websocket.CloseError); is {
					code, reason = ce.Code, ce.Text
				}
				select {
				case <-conn.done:
				default:
					e.Do(func() {
						if s.conn == conn {
							s.conn = nil
						}
						if code == 0 {
							s.fail(&SourceError{Type: "connection", Message: err.Error()})
						}
						detail := map[string]interface{}{"name": s.name}
						if code != 0 {
							detail["code"] = code
						}
						if reason != "" {
							detail["reason"] = reason
						}
						s.fire("close", detail)
					})
				}
				return
			}
			if mt != websocket.TextMessage {
				continue
			}
			raw := string(message)
			e.Do(func() { s.handleMessage("message", raw, "") })
		}
	}()
}

// mqttConn wraps a paho client subscription.
type mqttConn struct {
	client mqtt.Client
	topic  string
}

func (c *mqttConn) Close() error {
	c.client.Unsubscribe(c.topic)
	c.client.Disconnect(100)
	return nil
}

// openMQTT connects to the broker named by an mqtt:// URL and
// subscribes to the topic given as the path.
func (s *Source) openMQTT() {
	u, err := url.Parse(s.url)
	if err != nil {
		s.fail(&SourceError{Type: "connection", Message: err.Error()})
		return
	}
	scheme := "tcp"
	if u.Scheme == "mqtts" {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s", scheme, u.Host)
	topic := strings.TrimPrefix(u.Path, "/")
	if topic == "" {
		s.fail(&SourceError{Type: "connection", Message: "mqtt URL has no topic"})
		return
	}

	e := s.e
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	if user := u.User; user != nil {
		opts.Username = user.Username()
		if pw, have := user.Password(); have {
			opts.Password = pw
		}
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		e.Do(func() {
			s.fail(&SourceError{Type: "connection", Message: err.Error()})
		})
	})

	client := mqtt.NewClient(opts)
	go func() {
		if t := client.Connect(); t.Wait() && t.Error() != nil {
			e.Do(func() {
				s.fail(&SourceError{Type: "connection", Message: t.Error().Error()})
			})
			return
		}
		handler := func(_ mqtt.Client, m mqtt.Message) {
			raw := string(m.Payload())
			e.Do(func() { s.handleMessage("message", raw, "") })
		}
		if t := client.Subscribe(topic, 0, handler); t.Wait() && t.Error() != nil {
			err := t.Error()
			client.Disconnect(100)
			e.Do(func() {
				s.fail(&SourceError{Type: "connection", Message: err.Error()})
			})
			return
		}
		e.Do(func() {
			s.conn = &mqttConn{client: client, topic: topic}
			s.streamOpened("mqtt")
		})
	}()
}

// fetchJSON is the synchronous HTTP helper behind the handler verbs
// get/post/put/patch/del.  Bodies serialize as JSON; responses parse
// as JSON (empty → nil).  Failures are logged and yield nil.
func (e *Engine) fetchJSON(verb, rawurl string, body, headers interface{}) interface{} {
	method := strings.ToUpper(verb)
	if verb == "del" {
		method = "DELETE"
	}

	u, err := url.Parse(rawurl)
	if err != nil {
		e.logf("warning: %s %s: %s", method, rawurl, err)
		return nil
	}
	target := e.loc.ResolveReference(u).String()

	var rd io.Reader
	if body != nil {
		js, err := json.Marshal(body)
		if err != nil {
			e.logf("warning: %s %s: %s", method, rawurl, err)
			return nil
		}
		rd = bytes.NewReader(js)
	}

	req, err := http.NewRequest(method, target, rd)
	if err != nil {
		e.logf("warning: %s %s: %s", method, rawurl, err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hm, is := headers.(map[string]interface{}); is {
		for k, v := range hm {
			req.Header.Set(k, stringify(v))
		}
	}

	resp, err := e.fetcher.Do(req)
	if err != nil {
		e.logf("warning: %s %s: %s", method, rawurl, err)
		return nil
	}
	defer resp.Body.Close()
	bs, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		e.logf("warning: %s %s: %s", method, rawurl, err)
		return nil
	}
	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		e.logf("warning: %s %s: HTTP %d", method, rawurl, resp.StatusCode)
		return nil
	}
	if len(bytes.TrimSpace(bs)) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(bs, &v); err != nil {
		e.logf("warning: %s %s: %s", method, rawurl, err)
		return nil
	}
	return v
}
