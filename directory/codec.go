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
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
)

// encodeInfo serializes an Info as a fixed 10-byte layout:
// id(4) | type(1) | has_tenant(1) | tenant_id(4). Email index entries
// are written without a tenant, so their last five bytes are zero.
func encodeInfo(info Info) []byte {
	b := make([]byte, 10)
	binary.BigEndian.PutUint32(b[0:4], info.ID)
	b[4] = byte(info.Type)
	if info.HasTenant {
		b[5] = 1
		binary.BigEndian.PutUint32(b[6:10], *info.TenantID)
	}
	return b
}

func decodeInfo(b []byte) (Info, error) {
	if len(b) != 10 {
		return Info{}, fmt.Errorf("directory: malformed principal-info value (%d bytes)", len(b))
	}
	info := Info{
		ID:   binary.BigEndian.Uint32(b[0:4]),
		Type: Type(b[4]),
	}
	if b[5] == 1 {
		tenant := binary.BigEndian.Uint32(b[6:10])
		info.TenantID = &tenant
		info.HasTenant = true
	}
	return info, nil
}

// principalRecord is the gob-serializable shape of Principal. Pointer
// fields are flattened to plain values with presence flags because gob
// round-trips *uint32 fine, but keeping the wire type separate from the
// public Principal type lets the two evolve independently.
type principalRecord struct {
	ID                  uint32
	Type                Type
	Name                string
	Description         string
	HasTenant           bool
	TenantID            uint32
	Quota               int64
	QuotaByType         []int64
	Emails              []string
	Secrets             []string
	EnabledPermissions  []uint64
	DisabledPermissions []uint64
}

func toRecord(p *Principal) principalRecord {
	r := principalRecord{
		ID:                  p.ID,
		Type:                p.Type,
		Name:                p.Name,
		Description:         p.Description,
		Quota:               p.Quota,
		QuotaByType:         p.QuotaByType,
		Emails:              p.Emails,
		Secrets:             p.Secrets,
		EnabledPermissions:  p.EnabledPermissions,
		DisabledPermissions: p.DisabledPermissions,
	}
	if p.TenantID != nil {
		r.HasTenant = true
		r.TenantID = *p.TenantID
	}
	return r
}

func fromRecord(r principalRecord) *Principal {
	p := &Principal{
		ID:                  r.ID,
		Type:                r.Type,
		Name:                r.Name,
		Description:         r.Description,
		Quota:               r.Quota,
		QuotaByType:         r.QuotaByType,
		Emails:              r.Emails,
		Secrets:             r.Secrets,
		EnabledPermissions:  r.EnabledPermissions,
		DisabledPermissions: r.DisabledPermissions,
	}
	if r.HasTenant {
		tenant := r.TenantID
		p.TenantID = &tenant
	}
	return p
}

// encodePrincipal serializes the opaque Principal(id) value. gob is
// used rather than JSON because the value is never inspected outside
// this package and gob's self-describing wire format tolerates adding
// fields to principalRecord across releases without a migration step.
func encodePrincipal(p *Principal) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toRecord(p)); err != nil {
		return nil, fmt.Errorf("directory: encode principal: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePrincipal(b []byte) (*Principal, error) {
	var r principalRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&r); err != nil {
		return nil, fmt.Errorf("directory: decode principal: %w", err)
	}
	return fromRecord(r), nil
}
