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

package bolt

import (
	"path/filepath"
	"testing"
)

func TestStorage(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "jtx.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, have, err := s.Get("jtx:ui:counter"); err != nil || have {
		t.Fatalf("unexpected: %v %v", have, err)
	}

	if err := s.Put("jtx:ui:counter", []byte("42")); err != nil {
		t.Fatal(err)
	}
	v, have, err := s.Get("jtx:ui:counter")
	if err != nil || !have {
		t.Fatalf("missing: %v", err)
	}
	if string(v) != "42" {
		t.Fatalf("got %q", v)
	}

	if err := s.Put("jtx:ui:counter", nil); err != nil {
		t.Fatal(err)
	}
	if _, have, _ := s.Get("jtx:ui:counter"); have {
		t.Fatal("still present after delete")
	}
}
