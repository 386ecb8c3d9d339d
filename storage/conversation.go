// Package storage provides persistence for interactive sessions and flow runs.
//
// Information Hiding:
// - Storage backend implementation details hidden behind interfaces
// - Allows swapping between memory and SQLite without API changes
// - Each storage implementation encapsulates its own data structures and protocols

package storage

import (
	"context"

	"github.com/richinex/cloudatlas/model"
)

// ConversationStorage defines the interface for storing interactive session
// history. Each entry is one turn: a user message or an assistant answer.
type ConversationStorage interface {
	// Save replaces the history of a session.
	Save(ctx context.Context, sessionID string, history []model.Message) error

	// Load loads the history of a session.
	// Returns empty slice (not nil) if session doesn't exist.
	// Returns error only for storage failures (I/O errors, etc.), not missing sessions.
	Load(ctx context.Context, sessionID string) ([]model.Message, error)

	// Delete deletes the history of a session.
	Delete(ctx context.Context, sessionID string) error

	// ListSessions lists all session IDs.
	ListSessions(ctx context.Context) ([]string, error)

	// Exists checks if a session exists.
	Exists(ctx context.Context, sessionID string) (bool, error)
}
