package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/dispatch/internal/domain"
	"github.com/xiaot623/gogo/dispatch/internal/repository"
)

// NewTestSQLiteStore opens an in-memory store that is closed with the test.
func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedSession inserts a session row with the given id, kind and status.
func SeedSession(t *testing.T, s repository.SessionRepository, sessionID, kind string, status domain.SessionStatus) *domain.RunSession {
	t.Helper()

	session := &domain.RunSession{
		SessionID: sessionID,
		Kind:      kind,
		Status:    status,
		CreatedAt: time.Now(),
	}
	if err := s.Create(context.Background(), session); err != nil {
		t.Fatalf("failed to seed session %s: %v", sessionID, err)
	}
	return session
}
