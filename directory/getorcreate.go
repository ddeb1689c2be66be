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

// getOrCreateAttempts bounds the retry loop: one initial attempt plus
// three retries on a racing creator, per the source's observed
// low-contention behavior.
const getOrCreateAttempts = 4

// GetOrCreatePrincipalID vivifies a local principal for name if one
// does not already exist, used by external directories that need a
// local id for a name they just authenticated elsewhere. Concurrent
// callers racing on the same name converge on a single id: the loser
// of the AssertAbsent race simply re-reads and returns the winner's id.
func (e *Engine) GetOrCreatePrincipalID(ctx context.Context, name string, typ Type, tenantScope *uint32) (uint32, error) {
	normalized := normalizeName(name)

	for attempt := 0; attempt < getOrCreateAttempts; attempt++ {
		info, ok, err := e.lookupName(ctx, tenantScope, normalized)
		if err != nil {
			return 0, err
		}
		if ok {
			return info.ID, nil
		}

		var tenantID *uint32
		if tenantScope != nil {
			tenantID = tenantScope
		}

		b := kv.NewBatch()
		b.AssertAbsent(nameKey(normalized))
		b.CreateDocument()
		principal := &Principal{Type: typ, Name: normalized, TenantID: tenantID}
		b.SetDynamic(
			func(newID uint32) []byte { return principalKey(newID) },
			func(newID uint32) []byte {
				principal.ID = newID
				encoded, _ := encodePrincipal(principal)
				return encoded
			},
		)
		setNameDynamic(b, normalized, typ, tenantID)

		result, err := e.store.Write(ctx, b)
		if err != nil {
			if kv.IsAssertionFailure(err) {
				e.logger.InfoContext(ctx, "directory: get-or-create lost creation race, retrying",
					slog.String("name", normalized), slog.Int("attempt", attempt))
				continue
			}
			return 0, fmt.Errorf("directory: get-or-create %q: %w", name, err)
		}
		newID := result.LastDocumentID()
		e.logAudit(ctx, "principal_created", newID, normalized, tenantID, nil)
		return newID, nil
	}

	return 0, fmt.Errorf("directory: get-or-create %q: %w", name, kv.ErrAssertionFailed)
}
