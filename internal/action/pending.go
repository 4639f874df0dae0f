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
	"sync"
	"time"
)

// PendingAction is a proposed mutation waiting for an explicit confirm or
// cancel. It has exactly one outcome: take removes it atomically, so a
// duplicate confirm can never re-execute it.
type PendingAction struct {
	ID        string
	Operation string
	Args      map[string]any
	Actor     string
	SessionID string
	Message   string
	CreatedAt time.Time
}

// pendingStore holds unresolved proposals in memory, keyed by ID. All
// access goes through the mutex; take is the single compare-and-resolve
// point that serializes concurrent confirms on the same identifier.
type pendingStore struct {
	mu         sync.Mutex
	byID       map[string]*PendingAction
	maxPerSess int
	ttl        time.Duration
}

func newPendingStore(maxPerSession int, ttl time.Duration) *pendingStore {
	return &pendingStore{
		byID:       make(map[string]*PendingAction),
		maxPerSess: maxPerSession,
		ttl:        ttl,
	}
}

// add records a proposal, enforcing the per-session cap.
func (s *pendingStore) add(pa *PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxPerSess > 0 && pa.SessionID != "" {
		count := 0
		for _, existing := range s.byID {
			if existing.SessionID == pa.SessionID {
				count++
			}
		}
		if count >= s.maxPerSess {
			return ErrTooManyPending
		}
	}

	s.byID[pa.ID] = pa
	return nil
}

// take atomically removes and returns the proposal with the given ID.
// The second return is false when the ID is unknown or already resolved;
// of N concurrent callers exactly one receives the proposal.
func (s *pendingStore) take(id string) (*PendingAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pa, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	return pa, true
}

// evictExpired drops proposals older than the TTL and returns them so the
// gate can audit the expiry. A zero TTL disables eviction.
func (s *pendingStore) evictExpired(now time.Time) []*PendingAction {
	if s.ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*PendingAction
	for id, pa := range s.byID {
		if now.Sub(pa.CreatedAt) > s.ttl {
			delete(s.byID, id)
			expired = append(expired, pa)
		}
	}
	return expired
}

func (s *pendingStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
