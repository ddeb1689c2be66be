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

import "github.com/meshdir/directory-core/kv"

// setName appends the NameToId entry for id. Callers that already hold
// id (update path) pass it directly; the creation path instead calls
// setNameDynamic so the value closes over the store-assigned id.
func setName(b *kv.Batch, name string, id uint32, typ Type, tenantID *uint32) {
	b.Set(nameKey(name), encodeInfo(Info{ID: id, Type: typ, TenantID: tenantID, HasTenant: tenantID != nil}))
}

// setNameDynamic is the CreateDocument-era form: the id is not known
// until the batch commits, so the value is built from the closure.
func setNameDynamic(b *kv.Batch, name string, typ Type, tenantID *uint32) {
	b.SetDynamic(
		func(uint32) []byte { return nameKey(name) },
		func(newID uint32) []byte {
			return encodeInfo(Info{ID: newID, Type: typ, TenantID: tenantID, HasTenant: tenantID != nil})
		},
	)
}

func clearName(b *kv.Batch, name string) {
	b.Clear(nameKey(name))
}

func setEmail(b *kv.Batch, email string, id uint32, typ Type) {
	b.Set(emailKey(email), encodeInfo(Info{ID: id, Type: typ}))
}

func setEmailDynamic(b *kv.Batch, email string, typ Type) {
	b.SetDynamic(
		func(uint32) []byte { return emailKey(email) },
		func(newID uint32) []byte { return encodeInfo(Info{ID: newID, Type: typ}) },
	)
}

func clearEmail(b *kv.Batch, email string) {
	b.Clear(emailKey(email))
}

// addEdge writes both directions of a membership edge: the forward
// MemberOf(owner, target) and its mandatory reverse Members(target,
// owner). Centralizing this in one place is what guarantees invariant
// P2 (forward/reverse symmetry) everywhere an edge is written.
func addEdge(b *kv.Batch, owner uint32, target uint32, targetType Type) {
	b.Set(memberOfKey(owner, target), []byte{byte(targetType)})
	b.Set(membersKey(target, owner), nil)
}

// addEdgeDynamic writes an edge where owner is the not-yet-allocated
// id from the enclosing CreateDocument.
func addEdgeDynamic(b *kv.Batch, target uint32, targetType Type) {
	b.SetDynamic(
		func(newID uint32) []byte { return memberOfKey(newID, target) },
		func(uint32) []byte { return []byte{byte(targetType)} },
	)
	b.SetDynamic(
		func(newID uint32) []byte { return membersKey(target, newID) },
		func(uint32) []byte { return nil },
	)
}

func removeEdge(b *kv.Batch, owner uint32, target uint32) {
	b.Clear(memberOfKey(owner, target))
	b.Clear(membersKey(target, owner))
}

// addMemberDynamic writes an edge where the *target* of Members is the
// not-yet-allocated id: memberID declares itself MemberOf(newID), and
// newID gains a Members(newID, memberID) reverse entry. Used by
// CreatePrincipal when the new principal's own Members list is given.
func addMemberDynamic(b *kv.Batch, memberID uint32, newPrincipalType Type) {
	b.SetDynamic(
		func(newID uint32) []byte { return memberOfKey(memberID, newID) },
		func(newID uint32) []byte { return []byte{byte(newPrincipalType)} },
	)
	b.SetDynamic(
		func(newID uint32) []byte { return membersKey(newID, memberID) },
		func(uint32) []byte { return nil },
	)
}
