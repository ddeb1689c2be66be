// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package directory

import (
	"strings"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// normalizeName lowercases a principal name Unicode-aware, so names
// that differ only by non-ASCII case still collide in NameToId.
func normalizeName(name string) string {
	return foldCaser.String(name)
}

// normalizeEmail lowercases an email address the same way.
func normalizeEmail(email string) string {
	return foldCaser.String(email)
}

// domainOf extracts the part after the last '@', or "" if name has
// none.
func domainOf(name string) (string, bool) {
	i := strings.LastIndexByte(name, '@')
	if i < 0 || i == len(name)-1 {
		return "", false
	}
	return name[i+1:], true
}
