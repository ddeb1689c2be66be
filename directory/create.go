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

	"golang.org/x/sync/errgroup"

	"github.com/meshdir/directory-core/kv"
)

// NewPrincipal is the caller-supplied shape for CreatePrincipal: every
// field is optional except Type and Name.
type NewPrincipal struct {
	Type                Type
	Name                string
	Description         string
	TenantName          string // resolved to TenantID if non-empty
	Quota               int64
	QuotaByType         []int64
	Emails              []string
	Secrets             []string
	Members             []string
	MemberOf            []string
	Lists               []string
	Roles               []string
	EnabledPermissions  []string
	DisabledPermissions []string
}

// CreatePrincipal validates np, resolves every cross-reference it
// contains, and commits one batch that writes the principal plus its
// full set of secondary indexes and membership edges.
func (e *Engine) CreatePrincipal(ctx context.Context, np NewPrincipal, tenantScope *uint32) (uint32, error) {
	name := normalizeName(np.Name)
	if name == "" {
		return 0, errMissing("name")
	}

	validDomains := make(map[string]struct{})
	if tenantScope != nil {
		domain, ok := domainOf(name)
		if !ok {
			return 0, errViolation("Principal name must include a valid domain")
		}
		domainInfo, ok, err := e.lookupName(ctx, tenantScope, domain)
		if err != nil {
			return 0, err
		}
		if !ok || domainInfo.Type != TypeDomain {
			return 0, errViolation("Principal name must include a valid domain")
		}
		validDomains[domain] = struct{}{}
	}

	if _, ok, err := e.lookupName(ctx, nil, name); err != nil {
		return 0, err
	} else if ok {
		return 0, errAlreadyExists("name", name)
	}

	// Members/MemberOf/Lists/Roles each resolve through independent
	// NameToId lookups, so they run concurrently rather than as four
	// sequential round trips to the store.
	var members, memberOf, lists, roles []resolvedRef
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		members, err = e.resolveTypedRefs(groupCtx, tenantScope, np.Members, nil)
		return err
	})
	group.Go(func() error {
		groupType := TypeGroup
		var err error
		memberOf, err = e.resolveTypedRefs(groupCtx, tenantScope, np.MemberOf, &groupType)
		return err
	})
	group.Go(func() error {
		listType := TypeList
		var err error
		lists, err = e.resolveTypedRefs(groupCtx, tenantScope, np.Lists, &listType)
		return err
	})
	group.Go(func() error {
		var err error
		roles, err = e.resolveRoleRefs(groupCtx, tenantScope, np.Roles)
		return err
	})
	if err := group.Wait(); err != nil {
		return 0, err
	}
	for _, m := range members {
		if !memberTypeLegal(np.Type, m.Type) {
			return 0, errViolationf("member %q has an illegal type for owner type %s", m.name, np.Type)
		}
	}

	enabledIDs, err := resolvePermissions(np.EnabledPermissions)
	if err != nil {
		return 0, err
	}
	disabledIDs, err := resolvePermissions(np.DisabledPermissions)
	if err != nil {
		return 0, err
	}

	emails := make([]string, 0, len(np.Emails))
	for _, raw := range np.Emails {
		email := normalizeEmail(raw)
		if email == "" {
			continue
		}
		exists, err := e.recipients.RecipientExists(ctx, email)
		if err != nil {
			return 0, fmt.Errorf("directory: check recipient %q: %w", email, err)
		}
		if exists {
			return 0, errAlreadyExists("email", email)
		}
		if err := e.validateEmailDomain(ctx, email, validDomains, tenantScope); err != nil {
			return 0, err
		}
		emails = append(emails, email)
	}

	var tenantID *uint32
	switch {
	case tenantScope != nil:
		tenantID = tenantScope
	case np.TenantName != "":
		info, ok, err := e.lookupName(ctx, nil, normalizeName(np.TenantName))
		if err != nil {
			return 0, err
		}
		if !ok || info.Type != TypeTenant {
			return 0, errNotFound(np.TenantName)
		}
		tenantID = &info.ID
	}

	principal := &Principal{
		Type:                np.Type,
		Name:                name,
		Description:         np.Description,
		TenantID:            tenantID,
		Quota:               np.Quota,
		QuotaByType:         np.QuotaByType,
		Emails:              emails,
		Secrets:             np.Secrets,
		EnabledPermissions:  enabledIDs,
		DisabledPermissions: disabledIDs,
	}

	b := kv.NewBatch()
	b.CreateDocument()
	b.AssertAbsent(nameKey(name))

	b.SetDynamic(
		func(newID uint32) []byte { principal.ID = newID; return principalKey(newID) },
		func(newID uint32) []byte {
			principal.ID = newID
			encoded, encErr := encodePrincipal(principal)
			if encErr != nil {
				return nil
			}
			return encoded
		},
	)
	setNameDynamic(b, name, np.Type, tenantID)
	for _, email := range emails {
		setEmailDynamic(b, email, np.Type)
	}
	for _, m := range members {
		addMemberDynamic(b, m.ID, np.Type)
	}
	for _, ref := range append(append(memberOf, lists...), roles...) {
		addEdgeDynamic(b, ref.ID, ref.Type)
	}

	result, err := e.store.Write(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("directory: create principal: %w", err)
	}
	newID := result.LastDocumentID()
	e.logAudit(ctx, "principal_created", newID, name, tenantID, nil)
	return newID, nil
}

type resolvedRef struct {
	Info
	name string
}

// resolveTypedRefs resolves a list of names to Info, failing NotFound
// on any miss, and optionally requiring an exact type match.
func (e *Engine) resolveTypedRefs(ctx context.Context, tenantScope *uint32, names []string, want *Type) ([]resolvedRef, error) {
	out := make([]resolvedRef, 0, len(names))
	for _, raw := range names {
		name := normalizeName(raw)
		info, ok, err := e.lookupName(ctx, tenantScope, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errNotFound(raw)
		}
		if want != nil && info.Type != *want {
			return nil, errViolationf("%q is not a %s", raw, want.String())
		}
		out = append(out, resolvedRef{Info: info, name: name})
	}
	return out, nil
}

func (e *Engine) resolveRoleRefs(ctx context.Context, tenantScope *uint32, names []string) ([]resolvedRef, error) {
	out := make([]resolvedRef, 0, len(names))
	for _, raw := range names {
		info, err := e.resolveRole(ctx, tenantScope, normalizeName(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, resolvedRef{Info: info, name: raw})
	}
	return out, nil
}

// validateEmailDomain requires email's domain either be one of the
// already-validated tenant domains or resolve as a Domain principal
// under tenantScope (when set), else fall back to the local-domain
// predicate.
func (e *Engine) validateEmailDomain(ctx context.Context, email string, validDomains map[string]struct{}, tenantScope *uint32) error {
	domain, ok := domainOf(email)
	if !ok {
		return errViolationf("email %q must include a domain", email)
	}
	if _, ok := validDomains[domain]; ok {
		return nil
	}
	if tenantScope != nil {
		info, ok, err := e.lookupName(ctx, tenantScope, domain)
		if err != nil {
			return err
		}
		if ok && info.Type == TypeDomain {
			return nil
		}
		return errViolationf("email %q domain is not local to this tenant", email)
	}
	local, err := e.localDomain.IsLocalDomain(ctx, domain)
	if err != nil {
		return fmt.Errorf("directory: check local domain %q: %w", domain, err)
	}
	if !local {
		return errViolationf("email %q domain is not local", email)
	}
	return nil
}

// memberTypeLegal implements the §4.E Members type-legality table.
func memberTypeLegal(owner, member Type) bool {
	switch owner {
	case TypeGroup:
		return member == TypeIndividual || member == TypeGroup
	case TypeResource:
		return member == TypeResource
	case TypeLocation:
		switch member {
		case TypeLocation, TypeResource, TypeIndividual, TypeGroup, TypeOther:
			return true
		}
		return false
	case TypeList:
		return member == TypeIndividual || member == TypeGroup
	case TypeRole:
		return member == TypeRole
	default:
		return false
	}
}
