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

package kv

// OpKind identifies the kind of operation accumulated in a Batch.
type OpKind uint8

const (
	OpSet OpKind = iota
	OpClear
	OpAdd
	OpAssertValue
	OpAssertAbsent
)

// Op is a single accumulated batch operation. Key and Value are resolved
// lazily through KeyFn/ValueFn so a CreateDocument placeholder can be
// substituted once the store assigns the new document id; ops that
// don't need the dynamic id simply ignore the argument.
type Op struct {
	Kind    OpKind
	KeyFn   func(newID uint32) []byte
	ValueFn func(newID uint32) []byte // OpSet, OpAssertValue
	Delta   int64                     // OpAdd
}

// Batch accumulates Set/Clear/Add/AssertValue operations to be applied
// atomically by Store.Write, plus an optional CreateDocument marker that
// requests a freshly allocated document id usable by subsequent ops in
// the same batch via the id passed to KeyFn/ValueFn.
//
// A Batch is not safe for concurrent use; each directory operation
// builds and commits exactly one.
type Batch struct {
	Ops          []Op
	WantsNewID   bool
	AccountID    uint32
	HasAccountID bool
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// WithAccountID records an account id on the batch. The memkv and pgkv
// backends ignore it: every key lives in one keyspace whatever the
// account id.
func (b *Batch) WithAccountID(id uint32) *Batch {
	b.AccountID = id
	b.HasAccountID = true
	return b
}

// CreateDocument reserves a freshly allocated document id. Ops added
// after this call may reference the id through their KeyFn/ValueFn
// argument; the store resolves it immediately before commit.
func (b *Batch) CreateDocument() *Batch {
	b.WantsNewID = true
	return b
}

// Set stores a static key/value pair.
func (b *Batch) Set(key, value []byte) *Batch {
	b.Ops = append(b.Ops, Op{
		Kind:    OpSet,
		KeyFn:   func(uint32) []byte { return key },
		ValueFn: func(uint32) []byte { return value },
	})
	return b
}

// SetDynamic stores a key and/or value that embeds the id assigned by
// this batch's CreateDocument call (the "dynamic id" design note: a
// deferred value carrying a closure evaluated after id assignment).
func (b *Batch) SetDynamic(keyFn, valueFn func(newID uint32) []byte) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpSet, KeyFn: keyFn, ValueFn: valueFn})
	return b
}

// Clear removes a key.
func (b *Batch) Clear(key []byte) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpClear, KeyFn: func(uint32) []byte { return key }})
	return b
}

// Add applies delta to a counter key (e.g. UsedQuota).
func (b *Batch) Add(key []byte, delta int64) *Batch {
	b.Ops = append(b.Ops, Op{
		Kind:  OpAdd,
		KeyFn: func(uint32) []byte { return key },
		Delta: delta,
	})
	return b
}

// AssertValue requires key's stored value to equal expected at commit
// time, or the whole batch is rejected with ErrAssertionFailed. This is
// the optimistic-lock primitive: load a value, mutate a copy, and
// assert the original bytes are still current before writing it back.
func (b *Batch) AssertValue(key, expected []byte) *Batch {
	b.Ops = append(b.Ops, Op{
		Kind:    OpAssertValue,
		KeyFn:   func(uint32) []byte { return key },
		ValueFn: func(uint32) []byte { return expected },
	})
	return b
}

// AssertAbsent requires key to not exist at commit time. Used to
// serialize unique-name allocation: at most one of N racing creators
// can win the assertion.
func (b *Batch) AssertAbsent(key []byte) *Batch {
	b.Ops = append(b.Ops, Op{Kind: OpAssertAbsent, KeyFn: func(uint32) []byte { return key }})
	return b
}
