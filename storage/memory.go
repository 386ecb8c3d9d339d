// Package storage provides in-memory session and run storage.
//
// Information Hiding:
// - Map storage structure hidden from users
// - Thread-safe access via RWMutex hidden behind interface
// - Suitable for testing and ephemeral sessions

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/richinex/cloudatlas/model"
)

// InMemoryStorage implements ConversationStorage and RunStorage using
// in-memory maps. Data is lost when process terminates.
type InMemoryStorage struct {
	mu       sync.RWMutex
	sessions map[string][]model.Message
	runs     map[string]Run
	order    []string // request ids in insertion order
}

// NewInMemoryStorage creates a new in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		sessions: make(map[string][]model.Message),
		runs:     make(map[string]Run),
	}
}

// Save replaces the history of a session.
func (s *InMemoryStorage) Save(ctx context.Context, sessionID string, history []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = cloneHistory(history)
	return nil
}

// Load loads the history of a session.
// Returns empty slice if session doesn't exist.
func (s *InMemoryStorage) Load(ctx context.Context, sessionID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.sessions[sessionID]
	if !ok {
		return []model.Message{}, nil
	}
	return cloneHistory(history), nil
}

// Delete deletes the history of a session.
func (s *InMemoryStorage) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// ListSessions lists all session IDs.
func (s *InMemoryStorage) ListSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.sessions))
	for sessionID := range s.sessions {
		sessions = append(sessions, sessionID)
	}
	return sessions, nil
}

// Exists checks if a session exists.
func (s *InMemoryStorage) Exists(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.sessions[sessionID]
	return ok, nil
}

// RecordRun stores a run, replacing any run with the same RequestID.
func (s *InMemoryStorage) RecordRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.RequestID]; !ok {
		s.order = append(s.order, run.RequestID)
	}
	s.runs[run.RequestID] = run
	return nil
}

// GetRun returns the run with the given request id.
func (s *InMemoryStorage) GetRun(ctx context.Context, requestID string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[requestID]
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, requestID)
	}
	return run, nil
}

// ListRuns returns the most recent runs first, at most limit.
func (s *InMemoryStorage) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		runs = append(runs, s.runs[s.order[i]])
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt > runs[j].CreatedAt })
	if limit >= 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func cloneHistory(history []model.Message) []model.Message {
	copied := make([]model.Message, len(history))
	for i, msg := range history {
		copied[i] = msg.Clone()
	}
	return copied
}

// Verify InMemoryStorage implements the storage interfaces
var (
	_ ConversationStorage = (*InMemoryStorage)(nil)
	_ RunStorage          = (*InMemoryStorage)(nil)
)
