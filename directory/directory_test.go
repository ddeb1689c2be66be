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
	"context"
	"testing"

	"github.com/meshdir/directory-core/kv"
	"github.com/meshdir/directory-core/kv/memkv"
)

// indexRecipients answers RecipientExists from the engine's own
// EmailToId index, standing in for the mail system's recipient lookup.
type indexRecipients struct{ e *Engine }

func (r *indexRecipients) RecipientExists(ctx context.Context, email string) (bool, error) {
	_, ok, err := r.e.lookupEmail(ctx, email)
	return ok, err
}

func newTestEngine() *Engine {
	recipients := &indexRecipients{}
	e := New(Config{Store: memkv.New(), Recipients: recipients})
	recipients.e = e
	return e
}

// createDomain is a test helper: domains are principals like any other.
func createDomain(t *testing.T, e *Engine, name string) uint32 {
	t.Helper()
	id, err := e.CreatePrincipal(context.Background(), NewPrincipal{Type: TypeDomain, Name: name}, nil)
	if err != nil {
		t.Fatalf("create domain %q: %v", name, err)
	}
	return id
}

func TestCreateIndividual(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	id, err := e.CreatePrincipal(ctx, NewPrincipal{
		Type:   TypeIndividual,
		Name:   "alice@example.com",
		Emails: []string{"alice@example.com"},
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	gotID, err := e.GetPrincipalID(ctx, "alice@example.com", nil)
	if err != nil || gotID != id {
		t.Fatalf("GetPrincipalID = %d, %v; want %d", gotID, err, id)
	}

	info, ok, err := e.lookupEmail(ctx, "alice@example.com")
	if err != nil || !ok {
		t.Fatalf("lookupEmail: ok=%v, %v", ok, err)
	}
	if info.ID != id {
		t.Fatalf("EmailToId info.ID = %d, want %d", info.ID, id)
	}
}

func TestCreateDuplicateEmailRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	if _, err := e.CreatePrincipal(ctx, NewPrincipal{
		Type: TypeIndividual, Name: "alice@example.com", Emails: []string{"alice@example.com"},
	}, nil); err != nil {
		t.Fatalf("create alice: %v", err)
	}

	_, err := e.CreatePrincipal(ctx, NewPrincipal{
		Type: TypeIndividual, Name: "bob@example.com", Emails: []string{"alice@example.com"},
	}, nil)
	var already *AlreadyExistsError
	if err == nil {
		t.Fatalf("expected AlreadyExistsError, got nil")
	}
	if ae, ok := err.(*AlreadyExistsError); ok {
		already = ae
	}
	if already == nil || already.Field != "email" {
		t.Fatalf("got %v, want AlreadyExistsError{Field: email}", err)
	}
}

func TestAddToGroup(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	aliceID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "alice@example.com"}, nil)
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	groupID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeGroup, Name: "ops"}, nil)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	if err := e.UpdatePrincipal(ctx, ByID(aliceID), []Change{AddItem(FieldMemberOf, "ops")}, nil); err != nil {
		t.Fatalf("add to group: %v", err)
	}

	memberOf, err := e.GetMemberOf(ctx, aliceID)
	if err != nil {
		t.Fatalf("get_member_of: %v", err)
	}
	if len(memberOf) != 1 || memberOf[0].ID != groupID || memberOf[0].Type != TypeGroup {
		t.Fatalf("unexpected member_of: %+v", memberOf)
	}

	members, err := e.GetMembers(ctx, groupID)
	if err != nil {
		t.Fatalf("get_members: %v", err)
	}
	if len(members) != 1 || members[0] != aliceID {
		t.Fatalf("unexpected members: %+v", members)
	}
}

func TestRenameWithTenantConstraintRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	tenantID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeTenant, Name: "t1"}, nil)
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	tenantDomainID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeDomain, Name: "example.com", TenantName: "t1"}, nil)
	_ = tenantDomainID
	if err != nil {
		t.Fatalf("create tenant domain: %v", err)
	}

	aliceID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "alice@example.com", TenantName: "t1"}, nil)
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}

	err = e.UpdatePrincipal(ctx, ByID(aliceID), []Change{SetString(FieldName, "alice@other.com")}, &tenantID)
	if err == nil {
		t.Fatalf("expected domain validation error, got nil")
	}
	if v, ok := err.(*ViolationError); !ok || v.Reason != "Principal name must include a valid domain" {
		t.Fatalf("got %v, want the domain violation error", err)
	}

	name, err := e.GetPrincipalName(ctx, aliceID, nil)
	if err != nil || name != "alice@example.com" {
		t.Fatalf("name changed despite rejected update: %q, %v", name, err)
	}
}

func TestDeleteTenantWithMembersFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	tenantID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeTenant, Name: "t1"}, nil)
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if _, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "alice@example.com", TenantName: "t1"}, nil); err != nil {
		t.Fatalf("create alice: %v", err)
	}

	err = e.DeletePrincipal(ctx, ByID(tenantID), nil)
	if err == nil {
		t.Fatalf("expected Tenant has members error")
	}
	if v, ok := err.(*ViolationError); !ok || v.Reason[:18] != "Tenant has members" {
		t.Fatalf("got %v", err)
	}

	if _, _, _, err := e.resolveIdentifier(ctx, ByID(tenantID), nil); err != nil {
		t.Fatalf("tenant should still exist: %v", err)
	}
}

func TestOptimisticLockSecondUpdateFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	aliceID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "alice@example.com"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, raw1, err := e.loadPrincipal(ctx, aliceID)
	if err != nil {
		t.Fatalf("load 1: %v", err)
	}

	if err := e.UpdatePrincipal(ctx, ByID(aliceID), []Change{SetString(FieldDescription, "x")}, nil); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Simulate a racing writer that loaded the pre-update snapshot and
	// now tries to commit its own write-back against the now-stale
	// raw bytes it captured before the first update landed.
	staleBatch := kv.NewBatch()
	staleBatch.AssertValue(principalKey(aliceID), raw1)
	staleBatch.Set(principalKey(aliceID), raw1)
	if _, err := e.store.Write(ctx, staleBatch); !kv.IsAssertionFailure(err) {
		t.Fatalf("expected assertion failure on stale write-back, got %v", err)
	}

	p, _, err := e.loadPrincipal(ctx, aliceID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if p.Description != "x" {
		t.Fatalf("description = %q, want the winner's value", p.Description)
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	id1, err := e.GetOrCreatePrincipalID(ctx, "ghost@example.com", TypeIndividual, nil)
	if err != nil {
		t.Fatalf("first get-or-create: %v", err)
	}
	id2, err := e.GetOrCreatePrincipalID(ctx, "ghost@example.com", TypeIndividual, nil)
	if err != nil {
		t.Fatalf("second get-or-create: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids diverged: %d != %d", id1, id2)
	}
}

func TestDeletePrincipalTearsDownEdges(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	aliceID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "alice@example.com", Emails: []string{"alice@example.com"}}, nil)
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	groupID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeGroup, Name: "ops", Members: []string{"alice@example.com"}}, nil)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	if err := e.DeletePrincipal(ctx, ByID(aliceID), nil); err != nil {
		t.Fatalf("delete alice: %v", err)
	}

	if _, ok, _ := e.lookupName(ctx, nil, "alice@example.com"); ok {
		t.Fatalf("NameToId entry should be gone")
	}
	if _, ok, _ := e.lookupEmail(ctx, "alice@example.com"); ok {
		t.Fatalf("EmailToId entry should be gone")
	}
	members, err := e.GetMembers(ctx, groupID)
	if err != nil {
		t.Fatalf("get_members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("reverse edge should be torn down, got %v", members)
	}
}

func TestListPrincipalsTenantIsolation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	t1, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeTenant, Name: "t1"}, nil)
	if err != nil {
		t.Fatalf("create t1: %v", err)
	}
	t2, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeTenant, Name: "t2"}, nil)
	if err != nil {
		t.Fatalf("create t2: %v", err)
	}
	if _, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "a@example.com", TenantName: "t1"}, nil); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "b@example.com", TenantName: "t2"}, nil); err != nil {
		t.Fatalf("create b: %v", err)
	}

	got, err := e.ListPrincipals(ctx, ListFilter{}, &t1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, p := range got {
		if p.TenantID == nil || *p.TenantID != t1 {
			t.Fatalf("principal %q leaked across tenant scope %d", p.Name, t2)
		}
	}
}

func TestMemberOfMembersSymmetry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	aliceID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "alice@example.com"}, nil)
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	groupID, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeGroup, Name: "ops"}, nil)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := e.UpdatePrincipal(ctx, ByID(aliceID), []Change{AddItem(FieldMemberOf, "ops")}, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := e.UpdatePrincipal(ctx, ByID(aliceID), []Change{RemoveItem(FieldMemberOf, "ops")}, nil); err != nil {
		t.Fatalf("remove: %v", err)
	}

	memberOf, err := e.GetMemberOf(ctx, aliceID)
	if err != nil || len(memberOf) != 0 {
		t.Fatalf("member_of should be empty: %+v, %v", memberOf, err)
	}
	members, err := e.GetMembers(ctx, groupID)
	if err != nil || len(members) != 0 {
		t.Fatalf("members should be empty: %+v, %v", members, err)
	}
}

func TestMemberTypeLegality(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	if _, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeIndividual, Name: "alice@example.com"}, nil); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if _, err := e.CreatePrincipal(ctx, NewPrincipal{Type: TypeResource, Name: "printer"}, nil); err != nil {
		t.Fatalf("create resource: %v", err)
	}

	_, err := e.CreatePrincipal(ctx, NewPrincipal{
		Type: TypeResource, Name: "printer2", Members: []string{"alice@example.com"},
	}, nil)
	if err == nil {
		t.Fatalf("expected type-legality violation for Resource owning an Individual")
	}
}

func TestPermissionRegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	id, err := e.CreatePrincipal(ctx, NewPrincipal{
		Type: TypeIndividual, Name: "alice@example.com",
		EnabledPermissions: []string{PermMailboxRead, PermMailboxRead, PermMailboxWrite},
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, _, err := e.loadPrincipal(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.EnabledPermissions) != 2 {
		t.Fatalf("expected dedupe to 2 entries, got %v", p.EnabledPermissions)
	}
}

func TestPermissionRegistryRejectsUnknownName(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	_, err := e.CreatePrincipal(ctx, NewPrincipal{
		Type: TypeIndividual, Name: "alice@example.com",
		EnabledPermissions: []string{"not:a:real:permission"},
	}, nil)
	if err == nil {
		t.Fatalf("expected an invalid-permission error")
	}
}

func TestBuiltinRoleFallback(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	createDomain(t, e, "example.com")

	id, err := e.CreatePrincipal(ctx, NewPrincipal{
		Type: TypeIndividual, Name: "alice@example.com", Roles: []string{"admin"},
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	memberOf, err := e.GetMemberOf(ctx, id)
	if err != nil {
		t.Fatalf("get_member_of: %v", err)
	}
	if len(memberOf) != 1 || memberOf[0].ID != RoleAdmin {
		t.Fatalf("expected built-in admin role edge, got %+v", memberOf)
	}
}
