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
	"log/slog"

	"github.com/meshdir/directory-core/directory/audit"
	"github.com/meshdir/directory-core/id"
	"github.com/meshdir/directory-core/kv"
)

// RecipientChecker answers whether an email address is already a
// recipient anywhere in the mail system, regardless of directory
// membership. It is consulted before an email is added to any
// principal.
type RecipientChecker interface {
	RecipientExists(ctx context.Context, email string) (bool, error)
}

// LocalDomainChecker answers whether a domain is served locally, used
// when an email's domain does not resolve to a Domain principal under
// the active tenant scope.
type LocalDomainChecker interface {
	IsLocalDomain(ctx context.Context, domain string) (bool, error)
}

// BlobUnlinker releases blob storage references owned by a deleted
// account.
type BlobUnlinker interface {
	UnlinkAccount(ctx context.Context, id uint32) error
}

// ACLRevoker revokes every ACL entry naming a deleted principal as
// grantee or subject.
type ACLRevoker interface {
	RevokeAll(ctx context.Context, id uint32) error
}

// AccountPurger tears down mail-store state (mailboxes, blobs not
// already released, search indexes) owned by a deleted account.
type AccountPurger interface {
	Purge(ctx context.Context, id uint32) error
}

// Config wires the external collaborators the engine depends on but
// does not own. Store is required; the rest default to no-ops so the
// engine remains usable in tests that don't exercise email or delete
// side effects.
type Config struct {
	Store       kv.Store
	Recipients  RecipientChecker
	LocalDomain LocalDomainChecker
	Blobs       BlobUnlinker
	ACLs        ACLRevoker
	Purger      AccountPurger
	AuditLog    audit.Logger
	Logger      *slog.Logger
}

// Engine implements the principal directory operations over a single
// ordered kv.Store. It is stateless: every exported mutating method
// builds and commits exactly one batch; read methods commit none.
type Engine struct {
	store       kv.Store
	recipients  RecipientChecker
	localDomain LocalDomainChecker
	blobs       BlobUnlinker
	acls        ACLRevoker
	purger      AccountPurger
	auditLog    audit.Logger
	logger      *slog.Logger
}

type noopRecipients struct{}

func (noopRecipients) RecipientExists(context.Context, string) (bool, error) { return false, nil }

type noopLocalDomain struct{}

func (noopLocalDomain) IsLocalDomain(context.Context, string) (bool, error) { return true, nil }

type noopLifecycle struct{}

func (noopLifecycle) UnlinkAccount(context.Context, uint32) error { return nil }
func (noopLifecycle) RevokeAll(context.Context, uint32) error     { return nil }
func (noopLifecycle) Purge(context.Context, uint32) error         { return nil }

// New builds an Engine from cfg. cfg.Store must be non-nil.
func New(cfg Config) *Engine {
	e := &Engine{
		store:       cfg.Store,
		recipients:  cfg.Recipients,
		localDomain: cfg.LocalDomain,
		blobs:       cfg.Blobs,
		acls:        cfg.ACLs,
		purger:      cfg.Purger,
		auditLog:    cfg.AuditLog,
		logger:      cfg.Logger,
	}
	if e.recipients == nil {
		e.recipients = noopRecipients{}
	}
	if e.localDomain == nil {
		e.localDomain = noopLocalDomain{}
	}
	lifecycle := noopLifecycle{}
	if e.blobs == nil {
		e.blobs = lifecycle
	}
	if e.acls == nil {
		e.acls = lifecycle
	}
	if e.purger == nil {
		e.purger = lifecycle
	}
	if e.auditLog == nil {
		e.auditLog = audit.NopLogger{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

func (e *Engine) logAudit(ctx context.Context, typ string, principalID uint32, name string, tenantID *uint32, fields []string) {
	var tenant string
	if tenantID != nil {
		tenant = formatID(*tenantID)
	}
	e.auditLog.Log(ctx, audit.Event{
		ID:          id.New(),
		Type:        typ,
		TenantID:    tenant,
		PrincipalID: principalID,
		Name:        name,
		Fields:      fields,
	})
}
