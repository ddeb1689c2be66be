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

import "context"

// Built-in role ids. These live outside the principal table: a Roles
// edge may legally target one of these ids even when no Principal(id)
// record was ever created for it.
const (
	RoleAdmin       uint32 = 1
	RoleTenantAdmin uint32 = 2
	RoleUser        uint32 = 3
)

var builtinRoleNames = map[string]uint32{
	"admin":        RoleAdmin,
	"tenant-admin": RoleTenantAdmin,
	"user":         RoleUser,
}

func isBuiltinRoleID(id uint32) bool {
	return id == RoleAdmin || id == RoleTenantAdmin || id == RoleUser
}

// resolveRole resolves a role reference by name: a stored Role
// principal wins over a built-in name collision, since a tenant could
// in principle create a custom role and its lookup should still
// succeed through the normal NameToId path. Only when no principal
// record exists for the name do we fall back to the built-in ids.
func (e *Engine) resolveRole(ctx context.Context, tenantScope *uint32, name string) (Info, error) {
	info, ok, err := e.lookupName(ctx, tenantScope, name)
	if err != nil {
		return Info{}, err
	}
	if ok {
		if info.Type != TypeRole {
			return Info{}, errViolationf("principal %q is not a role", name)
		}
		return info, nil
	}
	if id, ok := builtinRoleNames[name]; ok {
		return Info{ID: id, Type: TypeRole}, nil
	}
	return Info{}, errNotFound(name)
}
