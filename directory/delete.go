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
	"log/slog"

	"github.com/meshdir/directory-core/kv"
)

const tenantMembersSampleSize = 5

// DeletePrincipal removes a principal and tears down every index entry
// and membership edge incident to it. Deleting a Tenant that still has
// members is rejected.
func (e *Engine) DeletePrincipal(ctx context.Context, ident Identifier, tenantScope *uint32) error {
	id, p, _, err := e.resolveIdentifier(ctx, ident, tenantScope)
	if err != nil {
		return err
	}

	if p.Type == TypeTenant {
		members, err := e.ListPrincipals(ctx, ListFilter{TenantID: &id}, nil)
		if err != nil {
			return err
		}
		if len(members) > 0 {
			return errViolationf("Tenant has members%s", sampleNames(members))
		}
	}

	if err := e.blobs.UnlinkAccount(ctx, id); err != nil {
		e.logger.ErrorContext(ctx, "directory: blob unlink failed during delete", slog.Uint64("principal_id", uint64(id)), slog.Any("error", err))
		return fmt.Errorf("directory: unlink blobs for %d: %w", id, err)
	}
	if err := e.acls.RevokeAll(ctx, id); err != nil {
		e.logger.ErrorContext(ctx, "directory: acl revoke failed during delete", slog.Uint64("principal_id", uint64(id)), slog.Any("error", err))
		return fmt.Errorf("directory: revoke acls for %d: %w", id, err)
	}
	if err := e.purger.Purge(ctx, id); err != nil {
		e.logger.ErrorContext(ctx, "directory: account purge failed during delete", slog.Uint64("principal_id", uint64(id)), slog.Any("error", err))
		return fmt.Errorf("directory: purge account %d: %w", id, err)
	}

	memberOf, err := e.GetMemberOf(ctx, id)
	if err != nil {
		return err
	}
	members, err := e.GetMembers(ctx, id)
	if err != nil {
		return err
	}

	b := kv.NewBatch()
	clearName(b, p.Name)
	b.Clear(principalKey(id))
	b.Clear(usedQuotaKey(id))
	for _, email := range p.Emails {
		clearEmail(b, email)
	}
	for _, edge := range memberOf {
		removeEdge(b, id, edge.ID)
	}
	for _, memberID := range members {
		removeEdge(b, memberID, id)
	}

	if (p.Type == TypeIndividual || p.Type == TypeGroup) && p.TenantID != nil {
		used, err := e.store.GetCounter(ctx, usedQuotaKey(id))
		if err != nil {
			return fmt.Errorf("directory: read used quota for %d: %w", id, err)
		}
		if used != 0 {
			b.Add(usedQuotaKey(*p.TenantID), -used)
		}
	}

	if _, err := e.store.Write(ctx, b); err != nil {
		return fmt.Errorf("directory: delete principal %d: %w", id, err)
	}
	e.logAudit(ctx, "principal_deleted", id, p.Name, p.TenantID, nil)
	return nil
}

func sampleNames(principals []*Principal) string {
	if len(principals) == 0 {
		return ""
	}
	n := len(principals)
	if n > tenantMembersSampleSize {
		n = tenantMembersSampleSize
	}
	sample := ": "
	for i := 0; i < n; i++ {
		if i > 0 {
			sample += ", "
		}
		sample += principals[i].Name
	}
	if len(principals) > tenantMembersSampleSize {
		sample += fmt.Sprintf(" and %d more", len(principals)-tenantMembersSampleSize)
	}
	return sample
}
