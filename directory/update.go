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
	"fmt"
	"strings"

	"github.com/meshdir/directory-core/kv"
)

// isMembershipField reports whether f is one of the four fields whose
// changes never arm the optimistic lock on Principal(id): edges live
// outside the principal blob, so touching only these needs no
// AssertValue on it.
func isMembershipField(f Field) bool {
	switch f {
	case FieldMemberOf, FieldLists, FieldRoles, FieldMembers:
		return true
	}
	return false
}

// UpdatePrincipal applies changes to the principal named by ident,
// committing every resulting index/edge mutation in one batch. When any
// change touches a non-membership field the batch also carries an
// optimistic lock on the current Principal(id) value; a change set that
// touches only membership fields is committed without it.
func (e *Engine) UpdatePrincipal(ctx context.Context, ident Identifier, changes []Change, tenantScope *uint32) error {
	id, p, raw, err := e.resolveIdentifier(ctx, ident, tenantScope)
	if err != nil {
		return err
	}

	memberOf, err := e.GetMemberOf(ctx, id)
	if err != nil {
		return err
	}
	members, err := e.GetMembers(ctx, id)
	if err != nil {
		return err
	}

	armLock := false
	for _, c := range changes {
		if !isMembershipField(c.Field) {
			armLock = true
			break
		}
	}

	var prefetchedQuota int64
	needsQuotaTransfer := tenantScope == nil && hasTenantChange(changes)
	if needsQuotaTransfer {
		prefetchedQuota, err = e.store.GetCounter(ctx, usedQuotaKey(id))
		if err != nil {
			return fmt.Errorf("directory: prefetch used quota for %d: %w", id, err)
		}
	}

	b := kv.NewBatch()
	oldName := p.Name
	fieldNames := make([]string, 0, len(changes))

	for _, c := range changes {
		fieldNames = append(fieldNames, fieldLabel(c.Field))
		if err := e.applyChange(ctx, b, id, p, &memberOf, &members, c, oldName, tenantScope, prefetchedQuota); err != nil {
			return err
		}
	}

	if armLock {
		b.AssertValue(principalKey(id), raw)
		encoded, err := encodePrincipal(p)
		if err != nil {
			return err
		}
		b.Set(principalKey(id), encoded)
	}

	if _, err := e.store.Write(ctx, b); err != nil {
		return fmt.Errorf("directory: update principal %d: %w", id, err)
	}
	e.logAudit(ctx, "principal_updated", id, p.Name, p.TenantID, fieldNames)
	return nil
}

func hasTenantChange(changes []Change) bool {
	for _, c := range changes {
		if c.Field == FieldTenant {
			return true
		}
	}
	return false
}

func fieldLabel(f Field) string {
	switch f {
	case FieldName:
		return "name"
	case FieldTenant:
		return "tenant"
	case FieldSecrets:
		return "secrets"
	case FieldDescription:
		return "description"
	case FieldQuota:
		return "quota"
	case FieldEmails:
		return "emails"
	case FieldMemberOf:
		return "member_of"
	case FieldLists:
		return "lists"
	case FieldRoles:
		return "roles"
	case FieldMembers:
		return "members"
	case FieldEnabledPermissions:
		return "enabled_permissions"
	case FieldDisabledPermissions:
		return "disabled_permissions"
	default:
		return "unknown"
	}
}

// applyChange dispatches one Change by (action, field, value-shape).
// memberOf/members are pointers so sequential membership-field changes
// within the same call observe each other's effect on the in-memory
// edge lists (diffing against what has already been queued, not just
// the pre-call snapshot).
func (e *Engine) applyChange(
	ctx context.Context,
	b *kv.Batch,
	id uint32,
	p *Principal,
	memberOf *[]MemberOfEdge,
	members *[]uint32,
	c Change,
	oldName string,
	tenantScope *uint32,
	prefetchedQuota int64,
) error {
	switch {
	case c.Action == ActionSet && c.Field == FieldName:
		return e.setName(ctx, b, id, p, c, tenantScope)
	case c.Action == ActionSet && c.Field == FieldTenant:
		return e.setTenant(ctx, b, id, p, c, tenantScope, prefetchedQuota)
	case c.Action == ActionSet && c.Field == FieldSecrets:
		p.Secrets = secretsValue(c)
		return nil
	case c.Action == ActionAddItem && c.Field == FieldSecrets:
		p.Secrets = addSecret(p.Secrets, c.ValueString)
		return nil
	case c.Action == ActionRemoveItem && c.Field == FieldSecrets:
		p.Secrets = removeSecret(p.Secrets, c.ValueString)
		return nil
	case c.Action == ActionSet && c.Field == FieldDescription:
		p.Description = c.ValueString
		return nil
	case c.Action == ActionSet && c.Field == FieldQuota:
		return e.setQuota(p, c)
	case c.Action == ActionSet && c.Field == FieldEmails:
		return e.setEmails(ctx, b, id, p, c, tenantScope)
	case c.Action == ActionAddItem && c.Field == FieldEmails:
		return e.addEmail(ctx, b, id, p, c, tenantScope)
	case c.Action == ActionRemoveItem && c.Field == FieldEmails:
		return e.removeEmail(ctx, b, id, p, c)
	case isMembershipField(c.Field) && c.Field != FieldMembers:
		return e.applyOutgoingEdgeChange(ctx, b, id, memberOf, c, tenantScope)
	case isMembershipField(c.Field) && c.Field == FieldMembers:
		return e.applyMembersChange(ctx, b, id, p.Type, members, c, tenantScope)
	case (c.Field == FieldEnabledPermissions || c.Field == FieldDisabledPermissions):
		return e.applyPermissionChange(p, c)
	default:
		return ErrNotSupported
	}
}

func (e *Engine) setName(ctx context.Context, b *kv.Batch, id uint32, p *Principal, c Change, tenantScope *uint32) error {
	newName := normalizeName(c.ValueString)
	if newName == "" {
		return errMissing("name")
	}
	if newName == p.Name {
		return nil
	}
	// Only the new name's domain is checked; existing emails and their
	// EmailToId entries are left as they are.
	if tenantScope != nil {
		domain, ok := domainOf(newName)
		if !ok {
			return errViolation("Principal name must include a valid domain")
		}
		info, ok, err := e.lookupName(ctx, tenantScope, domain)
		if err != nil {
			return err
		}
		if !ok || info.Type != TypeDomain {
			return errViolation("Principal name must include a valid domain")
		}
	}
	if _, ok, err := e.lookupName(ctx, nil, newName); err != nil {
		return err
	} else if ok {
		return errAlreadyExists("name", newName)
	}
	clearName(b, p.Name)
	setName(b, newName, id, p.Type, p.TenantID)
	p.Name = newName
	return nil
}

func (e *Engine) setTenant(ctx context.Context, b *kv.Batch, id uint32, p *Principal, c Change, tenantScope *uint32, prefetchedQuota int64) error {
	if tenantScope != nil {
		return ErrNotSupported
	}
	if c.ValueString == "" {
		if p.TenantID != nil {
			b.Add(usedQuotaKey(*p.TenantID), -prefetchedQuota)
		}
		p.TenantID = nil
		setName(b, p.Name, id, p.Type, nil)
		return nil
	}
	info, ok, err := e.lookupName(ctx, nil, normalizeName(c.ValueString))
	if err != nil {
		return err
	}
	if !ok || info.Type != TypeTenant {
		return errNotFound(c.ValueString)
	}
	oldTenant := p.TenantID
	if oldTenant == nil || *oldTenant != info.ID {
		if oldTenant != nil {
			b.Add(usedQuotaKey(*oldTenant), -prefetchedQuota)
		}
		b.Add(usedQuotaKey(info.ID), prefetchedQuota)
	}
	newTenant := info.ID
	p.TenantID = &newTenant
	setName(b, p.Name, id, p.Type, &newTenant)
	return nil
}

func secretsValue(c Change) []string {
	if c.ValueStrings != nil {
		return c.ValueStrings
	}
	if c.ValueString == "" {
		return nil
	}
	return []string{c.ValueString}
}

func isOTPAuthURI(s string) bool { return strings.HasPrefix(s, "otpauth://") }

func isAppPasswordLike(s string) bool {
	return isOTPAuthURI(s) || strings.Contains(s, ":")
}

func addSecret(secrets []string, value string) []string {
	for _, s := range secrets {
		if s == value {
			return secrets
		}
	}
	if isOTPAuthURI(value) {
		return append([]string{value}, secrets...)
	}
	return append(secrets, value)
}

// removeSecret follows the prefix-removal rule for app passwords and
// OTP-auth URIs, exact-match otherwise, and wipes every plain password
// when value is empty.
func removeSecret(secrets []string, value string) []string {
	if value == "" {
		out := secrets[:0]
		for _, s := range secrets {
			if isAppPasswordLike(s) {
				out = append(out, s)
			}
		}
		return out
	}
	if isAppPasswordLike(value) {
		out := secrets[:0]
		for _, s := range secrets {
			if s == value || strings.HasPrefix(s, value) {
				continue
			}
			out = append(out, s)
		}
		return out
	}
	out := secrets[:0]
	for _, s := range secrets {
		if s != value {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) setQuota(p *Principal, c Change) error {
	if c.ValueInts != nil {
		// A quota vector only makes sense for a Tenant and only up to
		// TypeOther+1 entries; outside that shape the (Set, Quota,
		// IntegerList) arm simply does not match, same as any other
		// malformed change triple.
		if p.Type != TypeTenant {
			return ErrNotSupported
		}
		if len(c.ValueInts) > int(TypeOther)+1 {
			return ErrNotSupported
		}
		p.QuotaByType = c.ValueInts
		return nil
	}
	if p.Type != TypeIndividual && p.Type != TypeGroup && p.Type != TypeTenant {
		return ErrNotSupported
	}
	if !c.IsIntNotEmpty && c.ValueString == "" {
		p.Quota = 0
		return nil
	}
	p.Quota = c.ValueInt
	return nil
}

func (e *Engine) setEmails(ctx context.Context, b *kv.Batch, id uint32, p *Principal, c Change, tenantScope *uint32) error {
	next := dedupeLower(c.ValueStrings)
	current := make(map[string]struct{}, len(p.Emails))
	for _, email := range p.Emails {
		current[email] = struct{}{}
	}
	wanted := make(map[string]struct{}, len(next))
	for _, email := range next {
		wanted[email] = struct{}{}
	}

	for _, email := range next {
		if _, already := current[email]; already {
			continue
		}
		if err := e.validateNewEmail(ctx, email, tenantScope); err != nil {
			return err
		}
	}
	for _, email := range p.Emails {
		if _, keep := wanted[email]; !keep {
			clearEmail(b, email)
		}
	}
	for _, email := range next {
		if _, already := current[email]; !already {
			setEmail(b, email, id, p.Type)
		}
	}
	p.Emails = next
	return nil
}

func (e *Engine) addEmail(ctx context.Context, b *kv.Batch, id uint32, p *Principal, c Change, tenantScope *uint32) error {
	email := normalizeEmail(c.ValueString)
	for _, existing := range p.Emails {
		if existing == email {
			return nil
		}
	}
	if err := e.validateNewEmail(ctx, email, tenantScope); err != nil {
		return err
	}
	setEmail(b, email, id, p.Type)
	p.Emails = append(p.Emails, email)
	return nil
}

func (e *Engine) removeEmail(ctx context.Context, b *kv.Batch, id uint32, p *Principal, c Change) error {
	email := normalizeEmail(c.ValueString)
	out := p.Emails[:0]
	found := false
	for _, existing := range p.Emails {
		if existing == email {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		return nil
	}
	clearEmail(b, email)
	p.Emails = out
	return nil
}

func (e *Engine) validateNewEmail(ctx context.Context, email string, tenantScope *uint32) error {
	exists, err := e.recipients.RecipientExists(ctx, email)
	if err != nil {
		return fmt.Errorf("directory: check recipient %q: %w", email, err)
	}
	if exists {
		return errAlreadyExists("email", email)
	}
	return e.validateEmailDomain(ctx, email, nil, tenantScope)
}

func dedupeLower(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		lv := normalizeEmail(v)
		if _, ok := seen[lv]; ok {
			continue
		}
		seen[lv] = struct{}{}
		out = append(out, lv)
	}
	return out
}

// applyOutgoingEdgeChange handles MemberOf/Lists/Roles, all of which
// are forward edges owned by id pointing at a Group/List/Role peer.
func (e *Engine) applyOutgoingEdgeChange(ctx context.Context, b *kv.Batch, id uint32, memberOf *[]MemberOfEdge, c Change, tenantScope *uint32) error {
	want, err := e.requiredType(c.Field)
	if err != nil {
		return err
	}

	resolve := func(name string) (Info, error) {
		if want == TypeRole {
			return e.resolveRole(ctx, tenantScope, normalizeName(name))
		}
		info, ok, err := e.lookupName(ctx, tenantScope, normalizeName(name))
		if err != nil {
			return Info{}, err
		}
		if !ok {
			return Info{}, errNotFound(name)
		}
		if info.Type != want {
			return Info{}, errViolationf("%q is not a %s", name, want.String())
		}
		return info, nil
	}

	has := func(target uint32) bool {
		for _, edge := range *memberOf {
			if edge.ID == target {
				return true
			}
		}
		return false
	}

	switch c.Action {
	case ActionSet:
		wanted := make(map[uint32]Info)
		for _, name := range c.ValueStrings {
			info, err := resolve(name)
			if err != nil {
				return err
			}
			wanted[info.ID] = info
		}
		for _, edge := range *memberOf {
			if !isOwnedEdgeType(edge.Type, want) {
				continue
			}
			if _, keep := wanted[edge.ID]; !keep {
				removeEdge(b, id, edge.ID)
			}
		}
		kept := make([]MemberOfEdge, 0, len(*memberOf))
		for _, edge := range *memberOf {
			if isOwnedEdgeType(edge.Type, want) {
				if _, keep := wanted[edge.ID]; keep {
					kept = append(kept, edge)
				}
				continue
			}
			kept = append(kept, edge)
		}
		for targetID, info := range wanted {
			if has(targetID) {
				continue
			}
			addEdge(b, id, info.ID, info.Type)
			kept = append(kept, MemberOfEdge{ID: info.ID, Type: info.Type})
		}
		*memberOf = kept
	case ActionAddItem:
		info, err := resolve(c.ValueString)
		if err != nil {
			return err
		}
		if has(info.ID) {
			return nil
		}
		addEdge(b, id, info.ID, info.Type)
		*memberOf = append(*memberOf, MemberOfEdge{ID: info.ID, Type: info.Type})
	case ActionRemoveItem:
		info, err := resolve(c.ValueString)
		if err != nil {
			return err
		}
		if !has(info.ID) {
			return nil
		}
		removeEdge(b, id, info.ID)
		kept := (*memberOf)[:0]
		for _, edge := range *memberOf {
			if edge.ID != info.ID {
				kept = append(kept, edge)
			}
		}
		*memberOf = kept
	}
	return nil
}

func (e *Engine) requiredType(f Field) (Type, error) {
	switch f {
	case FieldMemberOf:
		return TypeGroup, nil
	case FieldLists:
		return TypeList, nil
	case FieldRoles:
		return TypeRole, nil
	default:
		return 0, ErrNotSupported
	}
}

// isOwnedEdgeType reports whether edge belongs to the MemberOf/Lists/
// Roles bucket identified by want, so a Set on one of those three
// fields only touches edges of its own kind.
func isOwnedEdgeType(edgeType, want Type) bool {
	if want == TypeRole {
		return edgeType == TypeRole
	}
	return edgeType == want
}

// applyMembersChange handles the Members field: edges where id is the
// owner and the peer is a member of id, enforcing the owner-type
// legality table.
func (e *Engine) applyMembersChange(ctx context.Context, b *kv.Batch, id uint32, ownerType Type, members *[]uint32, c Change, tenantScope *uint32) error {
	resolve := func(name string) (Info, error) {
		info, ok, err := e.lookupName(ctx, tenantScope, normalizeName(name))
		if err != nil {
			return Info{}, err
		}
		if !ok {
			return Info{}, errNotFound(name)
		}
		if !memberTypeLegal(ownerType, info.Type) {
			return Info{}, errViolationf("member %q has an illegal type for owner type %s", name, ownerType)
		}
		return info, nil
	}

	has := func(target uint32) bool {
		for _, m := range *members {
			if m == target {
				return true
			}
		}
		return false
	}

	switch c.Action {
	case ActionSet:
		wanted := make(map[uint32]Info)
		for _, name := range c.ValueStrings {
			info, err := resolve(name)
			if err != nil {
				return err
			}
			wanted[info.ID] = info
		}
		for _, m := range *members {
			if _, keep := wanted[m]; !keep {
				removeEdge(b, m, id)
			}
		}
		kept := make([]uint32, 0, len(wanted))
		for memberID, info := range wanted {
			if !has(memberID) {
				addEdge(b, memberID, id, ownerType)
			}
			kept = append(kept, info.ID)
		}
		*members = kept
	case ActionAddItem:
		info, err := resolve(c.ValueString)
		if err != nil {
			return err
		}
		if has(info.ID) {
			return nil
		}
		addEdge(b, info.ID, id, ownerType)
		*members = append(*members, info.ID)
	case ActionRemoveItem:
		info, err := resolve(c.ValueString)
		if err != nil {
			return err
		}
		if !has(info.ID) {
			return nil
		}
		removeEdge(b, info.ID, id)
		kept := (*members)[:0]
		for _, m := range *members {
			if m != info.ID {
				kept = append(kept, m)
			}
		}
		*members = kept
	}
	return nil
}

func (e *Engine) applyPermissionChange(p *Principal, c Change) error {
	var target *[]uint64
	switch c.Field {
	case FieldEnabledPermissions:
		target = &p.EnabledPermissions
	case FieldDisabledPermissions:
		target = &p.DisabledPermissions
	default:
		return ErrNotSupported
	}

	switch c.Action {
	case ActionSet:
		names := c.ValueStrings
		if names == nil && c.ValueString != "" {
			names = []string{c.ValueString}
		}
		ids, err := resolvePermissions(names)
		if err != nil {
			return err
		}
		*target = ids
	case ActionAddItem:
		id, err := resolvePermission(c.ValueString)
		if err != nil {
			return err
		}
		for _, existing := range *target {
			if existing == id {
				return nil
			}
		}
		*target = append(*target, id)
	case ActionRemoveItem:
		id, err := resolvePermission(c.ValueString)
		if err != nil {
			return err
		}
		*target = removePermission(*target, id)
	}
	return nil
}
