// Copyright 2026 The QMS Portal Authors
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

package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeSignIn          = "sign_in"
	TypeSignOut         = "sign_out"
	TypeAccessDenied    = "access_denied"
	TypeActionProposed  = "action_proposed"
	TypeActionExecuted  = "action_executed"
	TypeActionCancelled = "action_cancelled"
	TypeActionDenied    = "action_denied"
	TypeActionFailed    = "action_failed"
)

// Event is an immutable record of an authorization-relevant occurrence.
// Once emitted it is never modified or deleted by this service.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"event_type"`
	Actor      string         `json:"actor"` // verified principal, e.g. email
	Role       string         `json:"role"`  // role held at the time of the action
	Action     string         `json:"action,omitempty"`
	Resource   string         `json:"resource,omitempty"` // target resource kind, e.g. capa, dcr, session
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
}

// Sink is the durable append-only store for audit events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Logger is the audit emission surface handed to services. Log is
// best-effort: it must never fail in a way that aborts the caller's
// operation. The action's own authorization check is the correctness
// gate, not the audit write.
type Logger interface {
	Log(ctx context.Context, event Event)
}

// FallbackCounter counts events diverted from the primary sink, so a
// failing sink never becomes silent. Backed by an OTel counter in
// production.
type FallbackCounter interface {
	Diverted(ctx context.Context)
}

// Emitter writes events to the primary sink, falling back to slog when the
// sink is unreachable so the event stays visible to operators.
type Emitter struct {
	sink     Sink
	fallback *slog.Logger
	counter  FallbackCounter
}

// NewEmitter creates an audit emitter. counter may be nil.
func NewEmitter(sink Sink, fallback *slog.Logger, counter FallbackCounter) *Emitter {
	if fallback == nil {
		fallback = slog.Default()
	}
	return &Emitter{sink: sink, fallback: fallback, counter: counter}
}

// Log records an audit event. The primary path is the durable sink; on
// sink failure the event and the failure itself go to the local stream
// and the diversion is counted.
func (e *Emitter) Log(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	err := e.sink.Append(ctx, event)
	if err == nil {
		return
	}

	if e.counter != nil {
		e.counter.Diverted(ctx)
	}
	e.fallback.LogAttrs(ctx, slog.LevelWarn, "AUDIT_EVENT_FALLBACK",
		append(eventAttrs(event), slog.String("sink_error", err.Error()))...)
}

// SlogLogger emits audit events to the process log only. Used as the
// emitter in tests and local development where no durable sink is
// configured.
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "AUDIT_EVENT", eventAttrs(event)...)
}

func eventAttrs(event Event) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("component", "audit"),
		slog.String("audit_id", event.ID),
		slog.String("audit_type", event.Type),
		slog.String("actor", event.Actor),
		slog.String("role", event.Role),
		slog.String("action", event.Action),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}

	if event.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", event.ResourceID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	// Flatten metadata
	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			// Redact secrets
			if isSecret(k) {
				v = "[REDACTED]"
			}
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	return attrs
}

// isSecret checks if a key likely contains a secret
func isSecret(key string) bool {
	key = strings.ToLower(key)
	needles := []string{"password", "secret", "token", "key", "authorization", "credential", "hash"}
	for _, n := range needles {
		if strings.Contains(key, n) {
			return true
		}
	}
	return false
}
