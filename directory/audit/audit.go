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

// Package audit records directory lifecycle events: principal
// creation, update, and deletion. It is consulted by the directory
// engine but never blocks a commit on a logging failure.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event types emitted by the directory engine.
const (
	TypePrincipalCreated = "principal_created"
	TypePrincipalUpdated = "principal_updated"
	TypePrincipalDeleted = "principal_deleted"
	TypeRoleGranted      = "role_granted"
	TypeRoleRevoked      = "role_revoked"
)

// Standard attribute keys.
const (
	AttrAuditID   = "audit_id"
	AttrAuditType = "audit_type"
	AttrTenantID  = "tenant_id"
	AttrPrincipal = "principal_id"
	AttrName      = "name"
	AttrFields    = "fields"
	AttrTimestamp = "timestamp"
	AttrComponent = "component"
	AttrMetadata  = "metadata"
)

// Event represents one auditable directory mutation. ID is a caller-
// supplied unique token (a UUIDv7 from the id package) so a single
// event can be correlated across logger and downstream sink.
type Event struct {
	ID          string
	Type        string
	TenantID    string
	PrincipalID uint32
	Name        string
	Fields      []string
	Metadata    map[string]any
	Timestamp   time.Time
}

// Logger is the abstraction the directory engine logs through.
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger on top of log/slog.
type SlogLogger struct{}

// NewSlogLogger returns the default structured-logging implementation.
func NewSlogLogger() *SlogLogger { return &SlogLogger{} }

// Log records event at INFO level with a stable attribute shape.
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		slog.String(AttrAuditID, event.ID),
		slog.String(AttrAuditType, event.Type),
		slog.String(AttrTenantID, event.TenantID),
		slog.Uint64(AttrPrincipal, uint64(event.PrincipalID)),
		slog.String(AttrName, event.Name),
		slog.Time(AttrTimestamp, event.Timestamp),
	}
	if len(event.Fields) > 0 {
		attrs = append(attrs, slog.Any(AttrFields, event.Fields))
	}
	if len(event.Metadata) > 0 {
		group := make([]any, 0, len(event.Metadata)*2)
		for k, v := range event.Metadata {
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group(AttrMetadata, group...))
	}

	slog.InfoContext(ctx, "DIRECTORY_AUDIT_EVENT", append(attrs, slog.String(AttrComponent, "directory"))...)
}

// NopLogger discards every event. Used when callers wire no logger.
type NopLogger struct{}

// Log is a no-op.
func (NopLogger) Log(context.Context, Event) {}

func isSecret(key string) bool {
	k := strings.ToLower(key)
	for _, s := range []string{"password", "secret", "token", "hash", "credential", "otp"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
