package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type countingCounter struct{ n int }

func (c *countingCounter) Diverted(context.Context) { c.n++ }

func TestEmitter_PrimarySink(t *testing.T) {
	sink := &recordingSink{}
	counter := &countingCounter{}
	emitter := NewEmitter(sink, nil, counter)

	emitter.Log(context.Background(), Event{
		Type:     TypeActionProposed,
		Actor:    "qa.manager@lwscientific.com",
		Role:     "QA",
		Action:   "create_capa",
		Resource: "capa",
	})

	assert.Len(t, sink.events, 1)
	assert.Equal(t, 0, counter.n)
	assert.NotEmpty(t, sink.events[0].ID, "emitter must assign an event ID")
	assert.False(t, sink.events[0].Timestamp.IsZero(), "emitter must stamp the event")
}

// A failing sink must not abort the caller: Log returns normally, the
// diversion is counted, and the event goes to the fallback stream.
func TestEmitter_SinkFailureFallsBack(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection refused")}
	counter := &countingCounter{}
	emitter := NewEmitter(sink, nil, counter)

	assert.NotPanics(t, func() {
		emitter.Log(context.Background(), Event{
			Type:   TypeActionExecuted,
			Actor:  "engineer@lwscientific.com",
			Action: "create_dcr",
		})
	})
	assert.Equal(t, 1, counter.n)
	assert.Empty(t, sink.events)
}

func TestEmitter_NilCounterTolerated(t *testing.T) {
	sink := &recordingSink{err: errors.New("down")}
	emitter := NewEmitter(sink, nil, nil)

	assert.NotPanics(t, func() {
		emitter.Log(context.Background(), Event{Type: TypeAccessDenied})
	})
}

// TestPurpose: Validates that sensitive keys are correctly identified as secrets to prevent them from being logged in plaintext.
// Scope: Unit Test
// Security: Data Masking and Leakage Prevention (CWE-532)
// Expected: Returns true for keys containing 'password', 'token', 'secret', etc., and false for non-sensitive keys.
func TestAudit_IsSecret(t *testing.T) {
	tests := []struct {
		key      string
		isSecret bool
	}{
		{"password", true},
		{"Password", true},
		{"PASSWORD", true},
		{"token", true},
		{"access_token", true},
		{"secret", true},
		{"api_key", true},
		{"hash", true},
		{"password_hash", true},
		{"credential", true},
		{"private_key", true},
		{"actor", false},
		{"resource_id", false},
		{"email", false},
		{"status", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := isSecret(tt.key); got != tt.isSecret {
				t.Errorf("isSecret(%q) = %v, want %v", tt.key, got, tt.isSecret)
			}
		})
	}
}
