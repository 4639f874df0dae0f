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

// Package action wraps every state-mutating record operation in a
// two-phase confirm flow. A mutating call first produces a dry-run
// proposal with a confirmation message; only a second, confirmed call
// executes it. Read operations bypass the flow. Every invocation emits an
// audit event regardless of outcome.
package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qmsportal/qmsportal/internal/audit"
	"github.com/qmsportal/qmsportal/internal/rbac"
	"github.com/qmsportal/qmsportal/internal/records"
)

// RecordStore is the external collaborator that validates and applies
// record mutations. Implemented by records.Service.
type RecordStore interface {
	Validate(ctx context.Context, op string, args map[string]any) (*records.Proposal, error)
	Execute(ctx context.Context, op string, args map[string]any) (map[string]any, error)
}

// Metrics counts gate outcomes by operation. Implemented by
// metrics.Portal; a nil Metrics disables counting.
type Metrics interface {
	ActionProposed(ctx context.Context, op string)
	ActionExecuted(ctx context.Context, op string)
	ActionDenied(ctx context.Context, op string)
	ActionCancelled(ctx context.Context, op string)
}

// Identity is the verified caller context for a gate invocation.
type Identity struct {
	Principal string
	Role      rbac.Role
	SessionID string
	IPAddress string
	UserAgent string
}

// Outcome is the caller-visible result of a gate invocation.
type Outcome struct {
	Result               map[string]any `json:"result,omitempty"`
	ConfirmationRequired bool           `json:"confirmation_required,omitempty"`
	ConfirmationMessage  string         `json:"confirmation_message,omitempty"`
	ConfirmationID       string         `json:"confirmation_id,omitempty"`
	Cancelled            bool           `json:"cancelled,omitempty"`
}

// Config bounds the gate's pending state and upstream calls.
type Config struct {
	// MaxPendingPerSession caps unconfirmed proposals per conversation.
	MaxPendingPerSession int
	// PendingTTL is how long an unresolved proposal stays live before the
	// sweeper expires it.
	PendingTTL time.Duration
	// UpstreamTimeout bounds each record-store call.
	UpstreamTimeout time.Duration
}

// DefaultConfig mirrors the portal's operational limits.
func DefaultConfig() Config {
	return Config{
		MaxPendingPerSession: 16,
		PendingTTL:           30 * time.Minute,
		UpstreamTimeout:      10 * time.Second,
	}
}

// Gate is the action gate. Safe for concurrent use.
type Gate struct {
	store   RecordStore
	pending *pendingStore
	auditor audit.Logger
	metrics Metrics
	timeout time.Duration
}

// NewGate creates an action gate. metrics may be nil.
func NewGate(store RecordStore, auditor audit.Logger, metrics Metrics, cfg Config) *Gate {
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultConfig().UpstreamTimeout
	}
	return &Gate{
		store:   store,
		pending: newPendingStore(cfg.MaxPendingPerSession, cfg.PendingTTL),
		auditor: auditor,
		metrics: metrics,
		timeout: cfg.UpstreamTimeout,
	}
}

// Propose handles an unconfirmed call. Read operations execute
// immediately; mutating operations are dry-run validated and parked as a
// PendingAction whose ID the caller must confirm or cancel.
func (g *Gate) Propose(ctx context.Context, op string, args map[string]any, id Identity) (*Outcome, error) {
	spec, err := records.Lookup(op)
	if err != nil {
		g.emit(ctx, audit.TypeActionFailed, op, id, "", map[string]any{"reason": "unknown_operation"})
		return nil, records.NewValidationError("unknown operation %q", op)
	}

	if !rbac.IsAllowed(id.Role, spec.Permission) {
		g.emit(ctx, audit.TypeActionDenied, op, id, "", map[string]any{"phase": "propose"})
		return nil, ErrPermissionDenied
	}

	if !spec.Mutating {
		result, err := g.execute(ctx, op, args)
		if err != nil {
			g.emit(ctx, audit.TypeActionFailed, op, id, "", map[string]any{"phase": "read", "error": err.Error()})
			return nil, err
		}
		g.emit(ctx, audit.TypeActionExecuted, op, id, "", map[string]any{"phase": "read"})
		return &Outcome{Result: result}, nil
	}

	proposal, err := g.dryRun(ctx, op, args)
	if err != nil {
		g.emit(ctx, audit.TypeActionFailed, op, id, "", map[string]any{"phase": "validate", "error": err.Error()})
		return nil, err
	}

	pa := &PendingAction{
		ID:        uuid.NewString(),
		Operation: op,
		Args:      args,
		Actor:     id.Principal,
		SessionID: id.SessionID,
		Message:   proposal.Summary,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.pending.add(pa); err != nil {
		g.emit(ctx, audit.TypeActionFailed, op, id, "", map[string]any{"phase": "propose", "error": err.Error()})
		return nil, err
	}

	g.emit(ctx, audit.TypeActionProposed, op, id, pa.ID, map[string]any{"summary": proposal.Summary})

	return &Outcome{
		ConfirmationRequired: true,
		ConfirmationMessage:  proposal.Summary,
		ConfirmationID:       pa.ID,
	}, nil
}

// Confirm resolves a PendingAction. confirmed=true re-checks the caller's
// permission and executes the mutation; confirmed=false cancels. Either
// way the proposal is resolved exactly once: a later call with the same
// ID gets ErrConfirmationNotFound.
func (g *Gate) Confirm(ctx context.Context, pendingID string, confirmed bool, id Identity) (*Outcome, error) {
	pa, ok := g.pending.take(pendingID)
	if !ok {
		g.emit(ctx, audit.TypeActionFailed, "", id, pendingID, map[string]any{"reason": "confirmation_not_found"})
		return nil, ErrConfirmationNotFound
	}

	// A confirmation is only valid from the identity that proposed it.
	// Treated as not-found so a probing caller learns nothing.
	if pa.Actor != id.Principal {
		g.emit(ctx, audit.TypeActionDenied, pa.Operation, id, pa.ID, map[string]any{"reason": "actor_mismatch"})
		return nil, ErrConfirmationNotFound
	}

	if !confirmed {
		g.emit(ctx, audit.TypeActionCancelled, pa.Operation, id, pa.ID, nil)
		return &Outcome{Cancelled: true}, nil
	}

	// Re-check authorization: the client-held confirmation state is never
	// proof that the caller may still execute.
	spec, err := records.Lookup(pa.Operation)
	if err != nil {
		g.emit(ctx, audit.TypeActionFailed, pa.Operation, id, pa.ID, map[string]any{"reason": "unknown_operation"})
		return nil, records.NewValidationError("unknown operation %q", pa.Operation)
	}
	if !rbac.IsAllowed(id.Role, spec.Permission) {
		g.emit(ctx, audit.TypeActionDenied, pa.Operation, id, pa.ID, map[string]any{"phase": "confirm"})
		return nil, ErrPermissionDenied
	}

	result, err := g.execute(ctx, pa.Operation, pa.Args)
	if err != nil {
		g.emit(ctx, audit.TypeActionFailed, pa.Operation, id, pa.ID, map[string]any{"phase": "execute", "error": err.Error()})
		return nil, err
	}

	g.emit(ctx, audit.TypeActionExecuted, pa.Operation, id, pa.ID, map[string]any{"result": result})
	return &Outcome{Result: result}, nil
}

// PendingCount reports the number of unresolved proposals.
func (g *Gate) PendingCount() int {
	return g.pending.len()
}

// Sweep expires stale proposals and audits each expiry. Run periodically
// from the server's maintenance loop.
func (g *Gate) Sweep(ctx context.Context) int {
	expired := g.pending.evictExpired(time.Now().UTC())
	for _, pa := range expired {
		g.emit(ctx, audit.TypeActionCancelled, pa.Operation,
			Identity{Principal: pa.Actor, SessionID: pa.SessionID},
			pa.ID, map[string]any{"reason": "expired"})
	}
	return len(expired)
}

func (g *Gate) dryRun(ctx context.Context, op string, args map[string]any) (*records.Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	proposal, err := g.store.Validate(ctx, op, args)
	if err != nil {
		if records.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return proposal, nil
}

func (g *Gate) execute(ctx context.Context, op string, args map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.store.Execute(ctx, op, args)
	if err != nil {
		if records.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return result, nil
}

func (g *Gate) emit(ctx context.Context, eventType, op string, id Identity, pendingID string, metadata map[string]any) {
	if g.metrics != nil {
		switch eventType {
		case audit.TypeActionProposed:
			g.metrics.ActionProposed(ctx, op)
		case audit.TypeActionExecuted:
			g.metrics.ActionExecuted(ctx, op)
		case audit.TypeActionDenied:
			g.metrics.ActionDenied(ctx, op)
		case audit.TypeActionCancelled:
			g.metrics.ActionCancelled(ctx, op)
		}
	}

	resource := "action"
	if op != "" {
		if spec, err := records.Lookup(op); err == nil {
			// resource kind is the permission namespace, e.g. capa:create -> capa
			if idx := strings.IndexByte(string(spec.Permission), ':'); idx > 0 {
				resource = string(spec.Permission)[:idx]
			}
		}
	}

	g.auditor.Log(ctx, audit.Event{
		Type:       eventType,
		Actor:      id.Principal,
		Role:       id.Role.String(),
		Action:     op,
		Resource:   resource,
		ResourceID: pendingID,
		Metadata:   metadata,
		IPAddress:  id.IPAddress,
		UserAgent:  id.UserAgent,
	})
}
