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
	md "github.com/russross/blackfriday/v2"
)

// Markdown renders the given Markdown source as HTML.  It is exposed
// to handler code as the 'markdown' helper; when the result is bound
// via 'html' it still flows through the configured sanitizer.
func Markdown(s string) string {
	return string(md.Run([]byte(s)))
}
