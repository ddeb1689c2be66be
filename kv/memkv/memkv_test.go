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

package memkv

import (
	"context"
	"testing"

	"github.com/meshdir/directory-core/kv"
)

func TestWriteSetAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	b := kv.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	if _, err := s.Write(ctx, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	v, ok, err := s.GetValue(ctx, []byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("got %q, %v, %v", v, ok, err)
	}
}

func TestCreateDocumentAssignsMonotonicIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	b1 := kv.NewBatch()
	b1.CreateDocument()
	b1.SetDynamic(func(id uint32) []byte { return []byte("k1") }, func(id uint32) []byte { return []byte{byte(id)} })
	r1, err := s.Write(ctx, b1)
	if err != nil {
		t.Fatalf("write 1: %v", err)
	}

	b2 := kv.NewBatch()
	b2.CreateDocument()
	b2.SetDynamic(func(id uint32) []byte { return []byte("k2") }, func(id uint32) []byte { return []byte{byte(id)} })
	r2, err := s.Write(ctx, b2)
	if err != nil {
		t.Fatalf("write 2: %v", err)
	}

	if r2.LastDocumentID() != r1.LastDocumentID()+1 {
		t.Fatalf("expected monotonic ids, got %d then %d", r1.LastDocumentID(), r2.LastDocumentID())
	}
}

func TestAssertAbsentRejectsExistingKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	b := kv.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	if _, err := s.Write(ctx, b); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	b2 := kv.NewBatch()
	b2.AssertAbsent([]byte("a"))
	b2.Set([]byte("b"), []byte("2"))
	_, err := s.Write(ctx, b2)
	if !kv.IsAssertionFailure(err) {
		t.Fatalf("expected assertion failure, got %v", err)
	}

	if _, ok, _ := s.GetValue(ctx, []byte("b")); ok {
		t.Fatalf("rejected batch must not apply any op")
	}
}

func TestAssertValueMismatchRejectsBatch(t *testing.T) {
	s := New()
	ctx := context.Background()

	b := kv.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	if _, err := s.Write(ctx, b); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	b2 := kv.NewBatch()
	b2.AssertValue([]byte("a"), []byte("2"))
	b2.Clear([]byte("a"))
	_, err := s.Write(ctx, b2)
	if !kv.IsAssertionFailure(err) {
		t.Fatalf("expected assertion failure, got %v", err)
	}

	v, ok, _ := s.GetValue(ctx, []byte("a"))
	if !ok || string(v) != "1" {
		t.Fatalf("rejected batch must leave prior state untouched, got %q %v", v, ok)
	}
}

func TestIterateRangeOrderedAscending(t *testing.T) {
	s := New()
	ctx := context.Background()

	b := kv.NewBatch()
	b.Set([]byte("c"), []byte("3"))
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	if _, err := s.Write(ctx, b); err != nil {
		t.Fatalf("write: %v", err)
	}

	var keys []string
	err := s.Iterate(ctx, []byte("a"), []byte("c"), true, func(k, v []byte) (bool, error) {
		keys = append(keys, string(k))
		return true, nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected scan order: %v", keys)
	}
}

func TestAddAccumulatesCounter(t *testing.T) {
	s := New()
	ctx := context.Background()

	b1 := kv.NewBatch()
	b1.Add([]byte("quota"), 10)
	if _, err := s.Write(ctx, b1); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	b2 := kv.NewBatch()
	b2.Add([]byte("quota"), -3)
	if _, err := s.Write(ctx, b2); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	v, err := s.GetCounter(ctx, []byte("quota"))
	if err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
}
