package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRepository is a simple in-memory implementation of Repository
type MockRepository struct {
	sessions map[string]*Session
}

func NewMockRepository() *MockRepository {
	return &MockRepository{sessions: make(map[string]*Session)}
}

func (m *MockRepository) Create(_ context.Context, sess *Session) error {
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MockRepository) Get(_ context.Context, id string) (*Session, error) {
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (m *MockRepository) Touch(_ context.Context, id string, seenAt time.Time) error {
	sess, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.LastSeenAt = seenAt
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

func (m *MockRepository) DeleteExpired(_ context.Context) error {
	for id, sess := range m.sessions {
		if sess.IsExpired() {
			delete(m.sessions, id)
		}
	}
	return nil
}

func TestCreateAndGet(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo, 24*time.Hour, 30*time.Minute)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "qa@lwscientific.com", "QA", "10.0.0.1", "go-test")
	require.NoError(t, err)
	assert.Len(t, sess.ID, 64, "session id is 32 random bytes hex encoded")

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "qa@lwscientific.com", got.Email)
}

func TestGet_ExpiredSessionIsDeleted(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo, 24*time.Hour, 30*time.Minute)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "qa@lwscientific.com", "QA", "", "")
	require.NoError(t, err)

	repo.sessions[sess.ID].ExpiresAt = time.Now().Add(-time.Minute)

	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired session is removed")
}

func TestGet_IdleSessionExpires(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo, 24*time.Hour, 30*time.Minute)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "qa@lwscientific.com", "QA", "", "")
	require.NoError(t, err)

	repo.sessions[sess.ID].LastSeenAt = time.Now().Add(-time.Hour)

	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSessionIDsAreUnique(t *testing.T) {
	repo := NewMockRepository()
	svc := NewService(repo, time.Hour, time.Hour)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sess, err := svc.Create(ctx, "a@b.com", "", "", "")
		require.NoError(t, err)
		require.False(t, seen[sess.ID])
		seen[sess.ID] = true
	}
}
