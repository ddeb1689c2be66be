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

// Package id generates time-ordered unique identifiers shared across
// the module for anything that is not a directory principal id
// (audit event ids).
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a UUIDv7 string: lexically and chronologically sortable,
// unlike the v4 ids it replaces.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Only fails if the system entropy source is broken; a random
		// v4 id is still safe for our purposes in that case.
		return uuid.NewString()
	}
	return u.String()
}

// NewUUIDv7 returns a parsed UUIDv7 value.
func NewUUIDv7() (uuid.UUID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("id: generate uuidv7: %w", err)
	}
	return u, nil
}
