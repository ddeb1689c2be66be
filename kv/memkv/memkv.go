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

// Package memkv is an in-process, in-memory implementation of kv.Store.
// It exists for tests and local development: no disk I/O, ordered by
// raw key bytes, single global mutex around the whole keyspace so batch
// commits are trivially atomic.
package memkv

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/meshdir/directory-core/kv"
)

// Store is a single in-memory keyspace.
type Store struct {
	mu       sync.RWMutex
	values   map[string][]byte
	counters map[string]int64
	nextID   uint32
}

// New returns an empty store. The first CreateDocument call assigns id 1.
func New() *Store {
	return &Store{
		values:   make(map[string][]byte),
		counters: make(map[string]int64),
	}
}

func (s *Store) GetValue(_ context.Context, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) GetCounter(_ context.Context, key []byte) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[string(key)], nil
}

func (s *Store) Iterate(_ context.Context, begin, end []byte, withValues bool, fn kv.IterFunc) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		kb := []byte(k)
		if bytes.Compare(kb, begin) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// Snapshot values under the lock, then call back without holding it
	// so callbacks may themselves call back into the store.
	type kvpair struct {
		key, value []byte
	}
	pairs := make([]kvpair, 0, len(keys))
	for _, k := range keys {
		var v []byte
		if withValues {
			v = append([]byte(nil), s.values[k]...)
		}
		pairs = append(pairs, kvpair{key: []byte(k), value: v})
	}
	s.mu.RUnlock()

	for _, p := range pairs {
		cont, err := fn(p.key, p.value)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (s *Store) Write(_ context.Context, batch *kv.Batch) (*kv.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every assertion against current state before mutating
	// anything, so a failed batch never has partial effects visible.
	for _, op := range batch.Ops {
		switch op.Kind {
		case kv.OpAssertValue:
			key := op.KeyFn(0)
			want := op.ValueFn(0)
			got, ok := s.values[string(key)]
			if !ok || !bytes.Equal(got, want) {
				return nil, kv.ErrAssertionFailed
			}
		case kv.OpAssertAbsent:
			key := op.KeyFn(0)
			if _, ok := s.values[string(key)]; ok {
				return nil, kv.ErrAssertionFailed
			}
		}
	}

	var newID uint32
	if batch.WantsNewID {
		s.nextID++
		newID = s.nextID
	}

	for _, op := range batch.Ops {
		switch op.Kind {
		case kv.OpSet:
			key := op.KeyFn(newID)
			value := op.ValueFn(newID)
			s.values[string(key)] = append([]byte(nil), value...)
		case kv.OpClear:
			key := op.KeyFn(newID)
			delete(s.values, string(key))
		case kv.OpAdd:
			key := op.KeyFn(newID)
			s.counters[string(key)] += op.Delta
		case kv.OpAssertValue, kv.OpAssertAbsent:
			// already validated above
		}
	}

	if batch.WantsNewID {
		return kv.NewBatchResult(newID), nil
	}
	return kv.NewEmptyBatchResult(), nil
}
