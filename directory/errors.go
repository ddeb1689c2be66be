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
	"errors"
	"fmt"

	"github.com/meshdir/directory-core/kv"
)

// ErrNotSupported is returned for malformed change triples and
// unsupported query shapes.
var ErrNotSupported = errors.New("directory: not supported")

// MissingParameterError is returned when a required field is absent or
// empty.
type MissingParameterError struct {
	Field string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("directory: missing parameter %q", e.Field)
}

// AlreadyExistsError is returned on a unique-index violation (name or
// email already claimed by another principal).
type AlreadyExistsError struct {
	Field string
	Value string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("directory: %s %q already exists", e.Field, e.Value)
}

// NotFoundError is returned when a referenced principal, domain, or
// tenant does not exist, or is invisible under the active tenant scope.
type NotFoundError struct {
	Value string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("directory: %q not found", e.Value)
}

// ViolationError is a domain-level invariant violation: invalid domain,
// not-a-tenant, tenant-has-members, invalid permission, edge type
// mismatch, and similar.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("directory: %s", e.Reason)
}

func errMissing(field string) error              { return &MissingParameterError{Field: field} }
func errAlreadyExists(field, value string) error { return &AlreadyExistsError{Field: field, Value: value} }
func errNotFound(value string) error             { return &NotFoundError{Value: value} }
func errViolation(reason string) error           { return &ViolationError{Reason: reason} }
func errViolationf(format string, args ...any) error {
	return &ViolationError{Reason: fmt.Sprintf(format, args...)}
}

// IsAssertionFailure reports whether err is the KV store's distinguishable
// optimistic-concurrency-conflict error. Only GetOrCreatePrincipalID
// retries on it automatically; everywhere else it is surfaced to the
// caller unchanged.
func IsAssertionFailure(err error) bool {
	return kv.IsAssertionFailure(err)
}
