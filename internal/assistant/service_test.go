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

package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qmsportal/qmsportal/internal/action"
	"github.com/qmsportal/qmsportal/internal/rbac"
	"github.com/qmsportal/qmsportal/internal/records"
)

type stubBackend struct {
	reply   *Reply
	err     error
	lastReq generateRequest
}

func (b *stubBackend) GenerateReply(_ context.Context, history []Message, functions []string) (*Reply, error) {
	b.lastReq = generateRequest{Messages: history, Functions: functions}
	if b.err != nil {
		return nil, b.err
	}
	return b.reply, nil
}

type stubGate struct {
	outcome  *action.Outcome
	err      error
	lastOp   string
	lastArgs map[string]any
	calls    int
}

func (g *stubGate) Propose(_ context.Context, op string, args map[string]any, _ action.Identity) (*action.Outcome, error) {
	g.calls++
	g.lastOp = op
	g.lastArgs = args
	return g.outcome, g.err
}

func testIdentity() action.Identity {
	return action.Identity{
		Principal: "qa.lead@lwscientific.com",
		Role:      rbac.RoleQA,
		SessionID: "sess-1",
	}
}

func TestChat_PlainReply(t *testing.T) {
	backend := &stubBackend{reply: &Reply{Message: "CAPA-20260101-ABC123 is currently Open."}}
	gate := &stubGate{}
	svc := NewService(backend, gate, nil)

	turn, err := svc.Chat(context.Background(), testIdentity(), "What is the status of CAPA-20260101-ABC123?")
	require.NoError(t, err)

	assert.Equal(t, "CAPA-20260101-ABC123 is currently Open.", turn.Message)
	assert.False(t, turn.ConfirmationRequired)
	assert.Equal(t, 0, gate.calls)
	assert.Contains(t, backend.lastReq.Functions, records.OpCreateCAPA)
}

func TestChat_FunctionCallRoutesThroughGate(t *testing.T) {
	backend := &stubBackend{
		reply: &Reply{
			Message: "I can create that CAPA for you.",
			FunctionCall: &FunctionCall{
				Name:      records.OpCreateCAPA,
				Arguments: map[string]any{"department": "Production"},
			},
		},
	}
	gate := &stubGate{
		outcome: &action.Outcome{
			ConfirmationRequired: true,
			ConfirmationID:       "conf-1",
			ConfirmationMessage:  "Create a Minor CAPA for Production",
		},
	}
	svc := NewService(backend, gate, nil)

	turn, err := svc.Chat(context.Background(), testIdentity(), "Open a CAPA for the sealing issue")
	require.NoError(t, err)

	assert.Equal(t, 1, gate.calls)
	assert.Equal(t, records.OpCreateCAPA, gate.lastOp)
	assert.True(t, turn.ConfirmationRequired)
	assert.Equal(t, "conf-1", turn.ConfirmationID)
	assert.Equal(t, "Create a Minor CAPA for Production", turn.ConfirmationMessage)
}

func TestChat_ReadResultCarriedOnTurn(t *testing.T) {
	backend := &stubBackend{
		reply: &Reply{
			Message: "Let me look that up.",
			FunctionCall: &FunctionCall{
				Name:      records.OpGetCAPAStatus,
				Arguments: map[string]any{"capa_id": "CAPA-20260101-ABC123"},
			},
		},
	}
	gate := &stubGate{
		outcome: &action.Outcome{Result: map[string]any{"status": "Open", "severity": "Minor"}},
	}
	svc := NewService(backend, gate, nil)

	id := testIdentity()
	turn, err := svc.Chat(context.Background(), id, "What is the status of CAPA-20260101-ABC123?")
	require.NoError(t, err)

	assert.Equal(t, 1, gate.calls)
	assert.False(t, turn.ConfirmationRequired)
	require.NotNil(t, turn.Result)
	assert.Equal(t, "Open", turn.Result["status"])

	// The executed result lands in the stored history so the model can
	// refer to it on the next turn.
	_, err = svc.Chat(context.Background(), id, "And its severity?")
	require.NoError(t, err)
	require.Len(t, backend.lastReq.Messages, 3)
	assert.Contains(t, backend.lastReq.Messages[1].Content, `"status":"Open"`)
}

func TestChat_PermissionDeniedSurfacesAsMessage(t *testing.T) {
	backend := &stubBackend{
		reply: &Reply{
			FunctionCall: &FunctionCall{Name: records.OpCreateDCR, Arguments: map[string]any{}},
		},
	}
	gate := &stubGate{err: action.ErrPermissionDenied}
	svc := NewService(backend, gate, nil)

	turn, err := svc.Chat(context.Background(), testIdentity(), "Create a DCR")
	require.NoError(t, err)
	assert.Contains(t, turn.Message, "do not have permission")
	assert.False(t, turn.ConfirmationRequired)
}

func TestChat_ValidationErrorSurfacesAsMessage(t *testing.T) {
	backend := &stubBackend{
		reply: &Reply{
			FunctionCall: &FunctionCall{Name: records.OpCreateCAPA, Arguments: map[string]any{}},
		},
	}
	gate := &stubGate{err: records.NewValidationError("reported_by is required")}
	svc := NewService(backend, gate, nil)

	turn, err := svc.Chat(context.Background(), testIdentity(), "Open a CAPA")
	require.NoError(t, err)
	assert.Equal(t, "reported_by is required", turn.Message)
}

func TestChat_HistoryIsPerSessionAndBounded(t *testing.T) {
	backend := &stubBackend{reply: &Reply{Message: "ok"}}
	svc := NewService(backend, &stubGate{}, nil)

	id := testIdentity()
	for i := 0; i < maxHistory; i++ {
		_, err := svc.Chat(context.Background(), id, "hello")
		require.NoError(t, err)
	}
	// maxHistory turns produce 2*maxHistory messages, trimmed to the cap.
	assert.Len(t, backend.lastReq.Messages, maxHistory)

	other := id
	other.SessionID = "sess-2"
	_, err := svc.Chat(context.Background(), other, "fresh session")
	require.NoError(t, err)
	assert.Len(t, backend.lastReq.Messages, 1)

	svc.Reset(id.SessionID)
	_, err = svc.Chat(context.Background(), id, "after reset")
	require.NoError(t, err)
	assert.Len(t, backend.lastReq.Messages, 1)
}

type recordingMetrics struct {
	turns int
}

func (m *recordingMetrics) AssistantTurn(_ context.Context) { m.turns++ }

func TestChat_CountsTurns(t *testing.T) {
	backend := &stubBackend{reply: &Reply{Message: "ok"}}
	metrics := &recordingMetrics{}
	svc := NewService(backend, &stubGate{}, metrics)

	for i := 0; i < 3; i++ {
		_, err := svc.Chat(context.Background(), testIdentity(), "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, metrics.turns)
}

func TestClient_GenerateReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 1)

		json.NewEncoder(w).Encode(Reply{
			Message:      "done",
			FunctionCall: &FunctionCall{Name: records.OpGetCAPAStatus, Arguments: map[string]any{"capa_id": "CAPA-1"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	reply, err := client.GenerateReply(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Message)
	require.NotNil(t, reply.FunctionCall)
	assert.Equal(t, records.OpGetCAPAStatus, reply.FunctionCall.Name)
}

func TestClient_BackendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.GenerateReply(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
