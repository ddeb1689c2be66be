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
	"strconv"
	"strings"
)

func formatID(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// visibleUnderScope reports whether info may be referenced under
// tenantScope. A nil tenantScope sees everything; a non-nil scope sees
// only principals in that tenant, except tenant-less Role principals,
// which are always visible (built-in or custom global roles).
func visibleUnderScope(info Info, tenantScope *uint32) bool {
	if tenantScope == nil {
		return true
	}
	if info.Type == TypeRole && !info.HasTenant {
		return true
	}
	return info.HasTenant && *info.TenantID == *tenantScope
}

// lookupName performs the raw NameToId point lookup and applies tenant
// scoping. A tenant-invisible match is reported as absent, mirroring
// the spec's "never trust a name resolution that lacked this check".
func (e *Engine) lookupName(ctx context.Context, tenantScope *uint32, name string) (Info, bool, error) {
	raw, ok, err := e.store.GetValue(ctx, nameKey(name))
	if err != nil {
		return Info{}, false, fmt.Errorf("directory: lookup name %q: %w", name, err)
	}
	if !ok {
		return Info{}, false, nil
	}
	info, err := decodeInfo(raw)
	if err != nil {
		return Info{}, false, err
	}
	if !visibleUnderScope(info, tenantScope) {
		return Info{}, false, nil
	}
	return info, true, nil
}

// lookupEmail performs the raw EmailToId point lookup (email index
// entries carry no tenant of their own; the owning principal's tenant
// is what matters, and callers check that separately when relevant).
func (e *Engine) lookupEmail(ctx context.Context, email string) (Info, bool, error) {
	raw, ok, err := e.store.GetValue(ctx, emailKey(email))
	if err != nil {
		return Info{}, false, fmt.Errorf("directory: lookup email %q: %w", email, err)
	}
	if !ok {
		return Info{}, false, nil
	}
	info, err := decodeInfo(raw)
	if err != nil {
		return Info{}, false, err
	}
	return info, true, nil
}

func (e *Engine) loadPrincipal(ctx context.Context, id uint32) (*Principal, []byte, error) {
	raw, ok, err := e.store.GetValue(ctx, principalKey(id))
	if err != nil {
		return nil, nil, fmt.Errorf("directory: load principal %d: %w", id, err)
	}
	if !ok {
		return nil, nil, errNotFound(formatID(id))
	}
	p, err := decodePrincipal(raw)
	if err != nil {
		return nil, nil, err
	}
	return p, raw, nil
}

// resolveIdentifier resolves ident to (id, principal, raw-encoded-value)
// honoring tenantScope. raw is the exact bytes currently stored under
// Principal(id), reused as the optimistic-lock assertion value by
// callers that need it.
func (e *Engine) resolveIdentifier(ctx context.Context, ident Identifier, tenantScope *uint32) (uint32, *Principal, []byte, error) {
	var id uint32
	if ident.hasID {
		id = ident.id
	} else if ident.hasName {
		info, ok, err := e.lookupName(ctx, tenantScope, strings.ToLower(ident.name))
		if err != nil {
			return 0, nil, nil, err
		}
		if !ok {
			return 0, nil, nil, errNotFound(ident.name)
		}
		id = info.ID
	} else {
		return 0, nil, nil, errMissing("identifier")
	}

	p, raw, err := e.loadPrincipal(ctx, id)
	if err != nil {
		return 0, nil, nil, err
	}
	if tenantScope != nil {
		info := Info{Type: p.Type, TenantID: p.TenantID, HasTenant: p.TenantID != nil}
		if !visibleUnderScope(info, tenantScope) {
			return 0, nil, nil, errNotFound(formatID(id))
		}
	}
	return id, p, raw, nil
}

// GetPrincipalID resolves a principal name to its id.
func (e *Engine) GetPrincipalID(ctx context.Context, name string, tenantScope *uint32) (uint32, error) {
	info, ok, err := e.lookupName(ctx, tenantScope, strings.ToLower(name))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errNotFound(name)
	}
	return info.ID, nil
}

// GetPrincipalInfo returns the denormalized (id, type, tenant?) triple
// for a principal name.
func (e *Engine) GetPrincipalInfo(ctx context.Context, name string, tenantScope *uint32) (Info, error) {
	info, ok, err := e.lookupName(ctx, tenantScope, strings.ToLower(name))
	if err != nil {
		return Info{}, err
	}
	if !ok {
		return Info{}, errNotFound(name)
	}
	return info, nil
}

// GetPrincipalName returns the stored name for a principal id.
func (e *Engine) GetPrincipalName(ctx context.Context, id uint32, tenantScope *uint32) (string, error) {
	_, p, _, err := e.resolveIdentifier(ctx, ByID(id), tenantScope)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

// ListFilter narrows ListPrincipals and CountPrincipals.
type ListFilter struct {
	Type       *Type
	TenantID   *uint32
	TextFilter string
}

// ListPrincipals performs an ascending range scan over NameToId,
// keeping entries that match Type/TenantID, then if TextFilter is
// non-empty loads each surviving candidate and requires every
// whitespace-separated lowercased token to appear as a substring of
// one of the principal's string fields.
func (e *Engine) ListPrincipals(ctx context.Context, filter ListFilter, tenantScope *uint32) ([]*Principal, error) {
	infos, err := e.scanNames(ctx, filter.Type, filter.TenantID, tenantScope)
	if err != nil {
		return nil, err
	}

	tokens := searchTokens(filter.TextFilter)
	out := make([]*Principal, 0, len(infos))
	for _, info := range infos {
		p, _, err := e.loadPrincipal(ctx, info.ID)
		if err != nil {
			return nil, err
		}
		if len(tokens) > 0 && !matchesAllTokens(p, tokens) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// CountPrincipals performs the same scan as ListPrincipals but filters
// on the name bytes alone, never loading a full Principal.
func (e *Engine) CountPrincipals(ctx context.Context, filter ListFilter, tenantScope *uint32) (int, error) {
	infos, err := e.scanNamesWithNames(ctx, filter.Type, filter.TenantID, tenantScope)
	if err != nil {
		return 0, err
	}
	tokens := searchTokens(filter.TextFilter)
	if len(tokens) == 0 {
		return len(infos), nil
	}
	count := 0
	for _, entry := range infos {
		if matchesAllTokensString(entry.name, tokens) {
			count++
		}
	}
	return count, nil
}

type nameInfo struct {
	info Info
	name string
}

func (e *Engine) scanNames(ctx context.Context, typeFilter *Type, tenantFilter *uint32, tenantScope *uint32) ([]Info, error) {
	entries, err := e.scanNamesWithNames(ctx, typeFilter, tenantFilter, tenantScope)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.info)
	}
	return out, nil
}

func (e *Engine) scanNamesWithNames(ctx context.Context, typeFilter *Type, tenantFilter *uint32, tenantScope *uint32) ([]nameInfo, error) {
	begin, end := nameKeyRangeAll()
	var out []nameInfo
	err := e.store.Iterate(ctx, begin, end, true, func(key, value []byte) (bool, error) {
		info, err := decodeInfo(value)
		if err != nil {
			return false, err
		}
		if !visibleUnderScope(info, tenantScope) {
			return true, nil
		}
		if typeFilter != nil && info.Type != *typeFilter {
			return true, nil
		}
		if tenantFilter != nil {
			if !info.HasTenant || *info.TenantID != *tenantFilter {
				return true, nil
			}
		}
		out = append(out, nameInfo{info: info, name: decodeNameFromKey(key)})
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory: scan names: %w", err)
	}
	return out, nil
}

func searchTokens(filter string) []string {
	fields := strings.Fields(strings.ToLower(filter))
	return fields
}

func matchesAllTokensString(haystack string, tokens []string) bool {
	h := strings.ToLower(haystack)
	for _, t := range tokens {
		if !strings.Contains(h, t) {
			return false
		}
	}
	return true
}

func matchesAllTokens(p *Principal, tokens []string) bool {
	fields := make([]string, 0, 2+len(p.Emails))
	fields = append(fields, p.Name, p.Description)
	fields = append(fields, p.Emails...)
	haystack := strings.ToLower(strings.Join(fields, " "))
	for _, t := range tokens {
		if !strings.Contains(haystack, t) {
			return false
		}
	}
	return true
}

// GetMemberOf returns every forward edge owned by id: the principals
// id declares itself a member of.
func (e *Engine) GetMemberOf(ctx context.Context, id uint32) ([]MemberOfEdge, error) {
	begin, end := memberOfRange(id)
	var out []MemberOfEdge
	err := e.store.Iterate(ctx, begin, end, true, func(key, value []byte) (bool, error) {
		_, target := decodeMemberOfKey(key)
		var typ Type
		if len(value) == 1 {
			typ = Type(value[0])
		}
		out = append(out, MemberOfEdge{ID: target, Type: typ})
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory: get member_of %d: %w", id, err)
	}
	return out, nil
}

// GetMembers returns every principal id that declares itself a member
// of id (the reverse of GetMemberOf).
func (e *Engine) GetMembers(ctx context.Context, id uint32) ([]uint32, error) {
	begin, end := membersRange(id)
	var out []uint32
	err := e.store.Iterate(ctx, begin, end, false, func(key, _ []byte) (bool, error) {
		_, member := decodeMembersKey(key)
		out = append(out, member)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("directory: get members %d: %w", id, err)
	}
	return out, nil
}
