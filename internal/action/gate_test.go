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

package action

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qmsportal/qmsportal/internal/audit"
	"github.com/qmsportal/qmsportal/internal/rbac"
	"github.com/qmsportal/qmsportal/internal/records"
)

// MockRecordStore counts executions and can be forced to fail.
type MockRecordStore struct {
	mu           sync.Mutex
	executions   int64
	validateErr  error
	executeErr   error
	lastExecOp   string
	lastExecArgs map[string]any
}

func (m *MockRecordStore) Validate(_ context.Context, op string, args map[string]any) (*records.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validateErr != nil {
		return nil, m.validateErr
	}
	return &records.Proposal{
		Draft:   args,
		Summary: "Create a Major CAPA for Production",
	}, nil
}

func (m *MockRecordStore) Execute(_ context.Context, op string, args map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.executeErr != nil {
		return nil, m.executeErr
	}
	atomic.AddInt64(&m.executions, 1)
	m.lastExecOp = op
	m.lastExecArgs = args
	return map[string]any{"capa_id": "CAPA-20260901-AAAAAA"}, nil
}

// recordingAuditor captures every emitted event.
type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAuditor) Log(_ context.Context, event audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAuditor) typesSeen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	types := make([]string, len(a.events))
	for i, e := range a.events {
		types[i] = e.Type
	}
	return types
}

func qaIdentity() Identity {
	return Identity{
		Principal: "qa.manager@lwscientific.com",
		Role:      rbac.RoleQA,
		SessionID: "sess1",
	}
}

func newTestGate() (*Gate, *MockRecordStore, *recordingAuditor) {
	store := &MockRecordStore{}
	auditor := &recordingAuditor{}
	gate := NewGate(store, auditor, nil, DefaultConfig())
	return gate, store, auditor
}

func TestPropose_MutatingReturnsConfirmation(t *testing.T) {
	gate, store, auditor := newTestGate()

	outcome, err := gate.Propose(context.Background(), records.OpCreateCAPA,
		map[string]any{"department": "Production"}, qaIdentity())
	require.NoError(t, err)

	assert.True(t, outcome.ConfirmationRequired)
	assert.NotEmpty(t, outcome.ConfirmationID)
	assert.Contains(t, outcome.ConfirmationMessage, "CAPA")
	assert.EqualValues(t, 0, store.executions, "propose must not mutate")
	assert.Contains(t, auditor.typesSeen(), audit.TypeActionProposed)
}

func TestPropose_ReadBypassesConfirmation(t *testing.T) {
	gate, store, auditor := newTestGate()

	outcome, err := gate.Propose(context.Background(), records.OpGetCAPAStatus,
		map[string]any{"capa_id": "CAPA-20260901-AAAAAA"}, qaIdentity())
	require.NoError(t, err)

	assert.False(t, outcome.ConfirmationRequired)
	assert.NotNil(t, outcome.Result)
	assert.EqualValues(t, 1, store.executions)
	assert.Contains(t, auditor.typesSeen(), audit.TypeActionExecuted)
}

func TestPropose_PermissionDenied(t *testing.T) {
	gate, store, auditor := newTestGate()

	// QA does not hold dcr:create.
	_, err := gate.Propose(context.Background(), records.OpCreateDCR,
		map[string]any{}, qaIdentity())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.EqualValues(t, 0, store.executions)
	assert.Contains(t, auditor.typesSeen(), audit.TypeActionDenied)
}

func TestConfirm_ExecutesOnce(t *testing.T) {
	gate, store, auditor := newTestGate()
	ctx := context.Background()

	outcome, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)

	confirmed, err := gate.Confirm(ctx, outcome.ConfirmationID, true, qaIdentity())
	require.NoError(t, err)
	assert.Equal(t, "CAPA-20260901-AAAAAA", confirmed.Result["capa_id"])
	assert.EqualValues(t, 1, store.executions)

	// The proposal is resolved; a duplicate confirm must not re-execute.
	_, err = gate.Confirm(ctx, outcome.ConfirmationID, true, qaIdentity())
	assert.ErrorIs(t, err, ErrConfirmationNotFound)
	assert.EqualValues(t, 1, store.executions)
	assert.Contains(t, auditor.typesSeen(), audit.TypeActionExecuted)
}

func TestConfirm_Cancel(t *testing.T) {
	gate, store, auditor := newTestGate()
	ctx := context.Background()

	outcome, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)

	cancelled, err := gate.Confirm(ctx, outcome.ConfirmationID, false, qaIdentity())
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)
	assert.EqualValues(t, 0, store.executions)
	assert.Contains(t, auditor.typesSeen(), audit.TypeActionCancelled)

	// Cancellation resolves the proposal.
	_, err = gate.Confirm(ctx, outcome.ConfirmationID, true, qaIdentity())
	assert.ErrorIs(t, err, ErrConfirmationNotFound)
}

func TestConfirm_UnknownID(t *testing.T) {
	gate, _, auditor := newTestGate()

	_, err := gate.Confirm(context.Background(), "no-such-id", true, qaIdentity())
	assert.ErrorIs(t, err, ErrConfirmationNotFound)
	assert.NotEmpty(t, auditor.typesSeen(), "failed confirms are still audited")
}

func TestConfirm_ActorMismatch(t *testing.T) {
	gate, store, _ := newTestGate()
	ctx := context.Background()

	outcome, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)

	other := Identity{Principal: "admin@lwscientific.com", Role: rbac.RoleAdmin}
	_, err = gate.Confirm(ctx, outcome.ConfirmationID, true, other)
	assert.ErrorIs(t, err, ErrConfirmationNotFound, "mismatch reads as not-found")
	assert.EqualValues(t, 0, store.executions)
}

// Two concurrent confirms on the same ID: exactly one executes, the other
// sees ErrConfirmationNotFound.
func TestConfirm_ConcurrentAtMostOnce(t *testing.T) {
	gate, store, _ := newTestGate()
	ctx := context.Background()

	outcome, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	var successes, notFound int64

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Confirm(ctx, outcome.ConfirmationID, true, qaIdentity())
			switch {
			case err == nil:
				atomic.AddInt64(&successes, 1)
			case errors.Is(err, ErrConfirmationNotFound):
				atomic.AddInt64(&notFound, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes)
	assert.EqualValues(t, attempts-1, notFound)
	assert.EqualValues(t, 1, store.executions, "mutation applied exactly once")
}

// Permission is re-checked on confirm; the held confirmation ID is not
// proof of authorization.
func TestConfirm_RechecksPermission(t *testing.T) {
	store := &MockRecordStore{}
	auditor := &recordingAuditor{}
	gate := NewGate(store, auditor, nil, DefaultConfig())
	ctx := context.Background()

	outcome, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)

	// Same principal, but the role resolved at confirm time no longer
	// holds capa:create.
	demoted := Identity{
		Principal: "qa.manager@lwscientific.com",
		Role:      rbac.RoleProduction,
		SessionID: "sess1",
	}
	_, err = gate.Confirm(ctx, outcome.ConfirmationID, true, demoted)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.EqualValues(t, 0, store.executions)
	assert.Contains(t, auditor.typesSeen(), audit.TypeActionDenied)
}

func TestPropose_UpstreamFailureFailsClosed(t *testing.T) {
	store := &MockRecordStore{validateErr: errors.New("record store unreachable")}
	auditor := &recordingAuditor{}
	gate := NewGate(store, auditor, nil, DefaultConfig())

	_, err := gate.Propose(context.Background(), records.OpCreateCAPA, map[string]any{}, qaIdentity())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, auditor.typesSeen(), audit.TypeActionFailed)
}

func TestConfirm_ExecuteFailureFailsClosed(t *testing.T) {
	store := &MockRecordStore{}
	auditor := &recordingAuditor{}
	gate := NewGate(store, auditor, nil, DefaultConfig())
	ctx := context.Background()

	outcome, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)

	store.mu.Lock()
	store.executeErr = errors.New("write failed")
	store.mu.Unlock()

	_, err = gate.Confirm(ctx, outcome.ConfirmationID, true, qaIdentity())
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.EqualValues(t, 0, store.executions)
}

func TestPropose_ValidationErrorPassesThrough(t *testing.T) {
	store := &MockRecordStore{validateErr: records.NewValidationError("issue_description is required")}
	auditor := &recordingAuditor{}
	gate := NewGate(store, auditor, nil, DefaultConfig())

	_, err := gate.Propose(context.Background(), records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.Error(t, err)
	assert.True(t, records.IsValidation(err))
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestPendingCapPerSession(t *testing.T) {
	store := &MockRecordStore{}
	gate := NewGate(store, &recordingAuditor{}, nil, Config{
		MaxPendingPerSession: 2,
		PendingTTL:           time.Hour,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
		require.NoError(t, err)
	}

	_, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	assert.ErrorIs(t, err, ErrTooManyPending)
}

func TestSweep_ExpiresStaleProposals(t *testing.T) {
	store := &MockRecordStore{}
	auditor := &recordingAuditor{}
	gate := NewGate(store, auditor, nil, Config{
		MaxPendingPerSession: 16,
		PendingTTL:           time.Millisecond,
	})
	ctx := context.Background()

	outcome, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, gate.Sweep(ctx))
	assert.Equal(t, 0, gate.PendingCount())

	_, err = gate.Confirm(ctx, outcome.ConfirmationID, true, qaIdentity())
	assert.ErrorIs(t, err, ErrConfirmationNotFound)
}

// Every propose and every confirm produces at least one audit event, for
// every outcome: executed, cancelled, denied, failed.
func TestAuditCompleteness(t *testing.T) {
	gate, _, auditor := newTestGate()
	ctx := context.Background()

	calls := 0

	outcome, _ := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	calls++
	_, _ = gate.Confirm(ctx, outcome.ConfirmationID, true, qaIdentity())
	calls++

	outcome2, _ := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	calls++
	_, _ = gate.Confirm(ctx, outcome2.ConfirmationID, false, qaIdentity())
	calls++

	_, _ = gate.Propose(ctx, records.OpCreateDCR, map[string]any{}, qaIdentity()) // denied
	calls++
	_, _ = gate.Confirm(ctx, "missing", true, qaIdentity()) // not found
	calls++

	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	assert.GreaterOrEqual(t, len(auditor.events), calls,
		"each gate invocation must emit at least one audit event")
}

// recordingMetrics counts gate outcomes per operation.
type recordingMetrics struct {
	mu        sync.Mutex
	proposed  int
	executed  int
	denied    int
	cancelled int
}

func (m *recordingMetrics) ActionProposed(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposed++
}

func (m *recordingMetrics) ActionExecuted(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed++
}

func (m *recordingMetrics) ActionDenied(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied++
}

func (m *recordingMetrics) ActionCancelled(_ context.Context, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
}

func TestGateCountsOutcomes(t *testing.T) {
	store := &MockRecordStore{}
	metrics := &recordingMetrics{}
	gate := NewGate(store, &recordingAuditor{}, metrics, DefaultConfig())
	ctx := context.Background()

	// Proposed then executed.
	outcome, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)
	_, err = gate.Confirm(ctx, outcome.ConfirmationID, true, qaIdentity())
	require.NoError(t, err)

	// Proposed then cancelled.
	outcome2, err := gate.Propose(ctx, records.OpCreateCAPA, map[string]any{}, qaIdentity())
	require.NoError(t, err)
	_, err = gate.Confirm(ctx, outcome2.ConfirmationID, false, qaIdentity())
	require.NoError(t, err)

	// Denied at propose.
	_, err = gate.Propose(ctx, records.OpCreateDCR, map[string]any{}, qaIdentity())
	require.ErrorIs(t, err, ErrPermissionDenied)

	// Reads count as executed.
	_, err = gate.Propose(ctx, records.OpGetCAPAStatus, map[string]any{"capa_id": "CAPA-1"}, qaIdentity())
	require.NoError(t, err)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 2, metrics.proposed)
	assert.Equal(t, 2, metrics.executed)
	assert.Equal(t, 1, metrics.denied)
	assert.Equal(t, 1, metrics.cancelled)
}
