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
	"errors"
	"sync"

	"github.com/qmsportal/qmsportal/internal/action"
	"github.com/qmsportal/qmsportal/internal/records"
)

// maxHistory bounds the per-session conversation kept in memory. Older
// turns are dropped from the front.
const maxHistory = 40

// Backend generates a reply for a conversation turn.
type Backend interface {
	GenerateReply(ctx context.Context, history []Message, functions []string) (*Reply, error)
}

// Gate proposes operations on behalf of the assistant. Proposals from the
// model go through the same two-phase gate as direct API calls.
type Gate interface {
	Propose(ctx context.Context, op string, args map[string]any, id action.Identity) (*action.Outcome, error)
}

// Metrics counts processed chat turns. Implemented by metrics.Portal; a
// nil Metrics disables counting.
type Metrics interface {
	AssistantTurn(ctx context.Context)
}

// Turn is the service's answer for one chat message.
type Turn struct {
	Message              string         `json:"message"`
	Result               map[string]any `json:"result,omitempty"`
	ConfirmationRequired bool           `json:"confirmation_required"`
	ConfirmationID       string         `json:"confirmation_id,omitempty"`
	ConfirmationMessage  string         `json:"confirmation_message,omitempty"`
}

// Service holds per-session conversation state and bridges model function
// calls into the action gate.
type Service struct {
	backend Backend
	gate    Gate
	metrics Metrics

	mu            sync.Mutex
	conversations map[string][]Message
}

// NewService creates an assistant service. metrics may be nil.
func NewService(backend Backend, gate Gate, metrics Metrics) *Service {
	return &Service{
		backend:       backend,
		gate:          gate,
		metrics:       metrics,
		conversations: make(map[string][]Message),
	}
}

// Chat processes one user message for the given session. When the model
// proposes a mutating operation the turn carries the gate's confirmation
// prompt instead of an executed result; read-only proposals execute
// immediately and their outcome is folded into the reply.
func (s *Service) Chat(ctx context.Context, id action.Identity, userMessage string) (*Turn, error) {
	if s.metrics != nil {
		s.metrics.AssistantTurn(ctx)
	}
	history := s.appendMessage(id.SessionID, Message{Role: "user", Content: userMessage})

	reply, err := s.backend.GenerateReply(ctx, history, operationNames())
	if err != nil {
		return nil, err
	}

	turn := &Turn{Message: reply.Message}
	if reply.FunctionCall != nil {
		outcome, err := s.gate.Propose(ctx, reply.FunctionCall.Name, reply.FunctionCall.Arguments, id)
		switch {
		case errors.Is(err, action.ErrPermissionDenied):
			turn.Message = "You do not have permission to perform that action."
		case err != nil:
			var verr *records.ValidationError
			if errors.As(err, &verr) {
				turn.Message = verr.Message
			} else {
				return nil, err
			}
		case outcome.ConfirmationRequired:
			turn.ConfirmationRequired = true
			turn.ConfirmationID = outcome.ConfirmationID
			turn.ConfirmationMessage = outcome.ConfirmationMessage
		default:
			turn.Result = outcome.Result
		}
	}

	s.appendMessage(id.SessionID, Message{Role: "assistant", Content: historyContent(turn)})
	return turn, nil
}

// historyContent renders a turn for the stored conversation. Executed read
// results are appended as JSON so the model can refer to them later.
func historyContent(turn *Turn) string {
	if turn.Result == nil {
		return turn.Message
	}
	b, err := json.Marshal(turn.Result)
	if err != nil {
		return turn.Message
	}
	if turn.Message == "" {
		return string(b)
	}
	return turn.Message + "\n" + string(b)
}

// Reset discards the conversation state for a session.
func (s *Service) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, sessionID)
}

func operationNames() []string {
	specs := records.Operations()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}

func (s *Service) appendMessage(sessionID string, m Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.conversations[sessionID], m)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	s.conversations[sessionID] = history

	out := make([]Message, len(history))
	copy(out, history)
	return out
}
