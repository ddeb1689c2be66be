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

// Package kv defines the ordered key-value store contract the directory
// engine is built on: byte-ordered range iteration plus atomic write
// batches with conditional (assert) clauses and dynamic document-id
// allocation. Concrete backends live in sibling packages (memkv, pgkv);
// this package only describes the shape they implement.
package kv

import (
	"context"
	"errors"
)

// ErrAssertionFailed is returned by Store.Write when any AssertValue (or
// assert-absent) clause in the batch does not match the stored value.
// It is a distinguishable sentinel so callers can retry the narrow set
// of operations that tolerate it (see IsAssertionFailure).
var ErrAssertionFailed = errors.New("kv: assertion failed")

// IsAssertionFailure reports whether err is, or wraps, ErrAssertionFailed.
func IsAssertionFailure(err error) bool {
	return errors.Is(err, ErrAssertionFailed)
}

// IterFunc is invoked once per key in ascending order during Iterate. Returning false stops iteration early without error.
type IterFunc func(key, value []byte) (cont bool, err error)

// Store is the ordered key-value store consumed by the directory engine.
// Implementations must provide a total byte-order over keys and must
// make Write atomic: either every operation in the batch applies, or
// none do.
type Store interface {
	// GetValue returns the stored value for key, or ok=false if absent.
	GetValue(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// GetCounter returns the current value of a counter key (see Batch.Add),
	// or 0 if it has never been written.
	GetCounter(ctx context.Context, key []byte) (int64, error)

	// Iterate performs an ascending range scan over [begin, end) and
	// invokes fn for every key found, in key order. If withValues is
	// false, implementations may pass a nil value to fn to avoid
	// paying for a value fetch the caller doesn't need.
	Iterate(ctx context.Context, begin, end []byte, withValues bool, fn IterFunc) error

	// Write commits batch atomically. If any assertion clause fails the
	// whole batch is rejected and the returned error satisfies
	// IsAssertionFailure. If the batch called CreateDocument, the
	// resulting id is available on the returned BatchResult.
	Write(ctx context.Context, batch *Batch) (*BatchResult, error)
}

// BatchResult is returned by a successful Store.Write.
type BatchResult struct {
	newDocumentID uint32
	hasNewID      bool
}

// LastDocumentID returns the id assigned by this batch's CreateDocument
// call. It panics if the batch never called CreateDocument — callers
// that didn't ask for one have no business reading this.
func (r *BatchResult) LastDocumentID() uint32 {
	if !r.hasNewID {
		panic("kv: BatchResult.LastDocumentID called on a batch without CreateDocument")
	}
	return r.newDocumentID
}

// NewBatchResult constructs a BatchResult. Backends use this to report
// the id they assigned; it is exported so out-of-tree Store
// implementations can return a result without a constructor dance.
func NewBatchResult(newDocumentID uint32) *BatchResult {
	return &BatchResult{newDocumentID: newDocumentID, hasNewID: true}
}

// NewEmptyBatchResult is returned for batches that never allocated an id.
func NewEmptyBatchResult() *BatchResult {
	return &BatchResult{}
}
