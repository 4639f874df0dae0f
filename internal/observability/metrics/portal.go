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

package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Portal holds the application's instrument set.
type Portal struct {
	ActionsProposed  metric.Int64Counter
	ActionsExecuted  metric.Int64Counter
	ActionsDenied    metric.Int64Counter
	ActionsCancelled metric.Int64Counter
	AuditDiversions  metric.Int64Counter
	AssistantTurns   metric.Int64Counter
}

// NewPortal registers the portal's instruments on the given meter.
func NewPortal(m *Meter) (*Portal, error) {
	proposed, err := m.CreateCounter("qms.actions.proposed", "Mutating operations proposed through the action gate")
	if err != nil {
		return nil, err
	}
	executed, err := m.CreateCounter("qms.actions.executed", "Confirmed operations executed against the records store")
	if err != nil {
		return nil, err
	}
	denied, err := m.CreateCounter("qms.actions.denied", "Operations rejected by the permission check")
	if err != nil {
		return nil, err
	}
	cancelled, err := m.CreateCounter("qms.actions.cancelled", "Proposals cancelled or expired before confirmation")
	if err != nil {
		return nil, err
	}
	diversions, err := m.CreateCounter("qms.audit.diversions", "Audit events diverted from the primary sink to the log fallback")
	if err != nil {
		return nil, err
	}
	turns, err := m.CreateCounter("qms.assistant.turns", "Chat turns processed by the assistant")
	if err != nil {
		return nil, err
	}

	return &Portal{
		ActionsProposed:  proposed,
		ActionsExecuted:  executed,
		ActionsDenied:    denied,
		ActionsCancelled: cancelled,
		AuditDiversions:  diversions,
		AssistantTurns:   turns,
	}, nil
}

// Diverted implements the audit fallback counter.
func (p *Portal) Diverted(ctx context.Context) {
	p.AuditDiversions.Add(ctx, 1)
}

// ActionProposed counts a proposal parked by the action gate.
func (p *Portal) ActionProposed(ctx context.Context, op string) {
	countAction(ctx, p.ActionsProposed, op)
}

// ActionExecuted counts an operation applied to the records store.
func (p *Portal) ActionExecuted(ctx context.Context, op string) {
	countAction(ctx, p.ActionsExecuted, op)
}

// ActionDenied counts an operation rejected by the permission check.
func (p *Portal) ActionDenied(ctx context.Context, op string) {
	countAction(ctx, p.ActionsDenied, op)
}

// ActionCancelled counts a proposal cancelled or expired unconfirmed.
func (p *Portal) ActionCancelled(ctx context.Context, op string) {
	countAction(ctx, p.ActionsCancelled, op)
}

// AssistantTurn counts one processed chat turn.
func (p *Portal) AssistantTurn(ctx context.Context) {
	p.AssistantTurns.Add(ctx, 1)
}

func countAction(ctx context.Context, counter metric.Int64Counter, op string) {
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
