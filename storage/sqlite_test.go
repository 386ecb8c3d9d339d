package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/richinex/cloudatlas/model"
)

func newTestSqlite(t *testing.T) *SqliteStorage {
	t.Helper()
	storage, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("NewSqliteInMemory failed: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestSqliteStorageSaveAndLoad(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	user := userTurn("Summarise", "Hello")
	user.User.AdditionalContext["Notes/B.md"] = "linked"
	messages := []model.Message{
		{System: model.String("be brief")},
		user,
		assistantTurn("Hi there"),
	}

	if err := storage.Save(ctx, "test-session", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded))
	}
	if got := model.Deref(loaded[0].System); got != "be brief" {
		t.Errorf("expected system turn, got '%s'", got)
	}
	if got := loaded[1].User.AdditionalContext["Notes/B.md"]; got != "linked" {
		t.Errorf("expected additional context to survive, got '%s'", got)
	}
	if got := model.Deref(loaded[2].Assistant); got != "Hi there" {
		t.Errorf("expected 'Hi there', got '%s'", got)
	}
}

func TestSqliteStorageSaveReplacesHistory(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	_ = storage.Save(ctx, "s", []model.Message{userTurn("", "one"), assistantTurn("two")})
	if err := storage.Save(ctx, "s", []model.Message{userTurn("", "three")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, _ := storage.Load(ctx, "s")
	if len(loaded) != 1 || model.Deref(loaded[0].User.Input) != "three" {
		t.Errorf("expected history to be replaced, got %+v", loaded)
	}
}

func TestSqliteStorageDeleteSession(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	_ = storage.Save(ctx, "to-delete", []model.Message{userTurn("", "Test")})

	if err := storage.Delete(ctx, "to-delete"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := storage.Exists(ctx, "to-delete")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected session to not exist after delete")
	}

	loaded, _ := storage.Load(ctx, "to-delete")
	if len(loaded) != 0 {
		t.Errorf("expected messages to be deleted with the session, got %d", len(loaded))
	}
}

func TestSqliteStorageListSessions(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	_ = storage.Save(ctx, "a", nil)
	_ = storage.Save(ctx, "b", nil)

	sessions, err := storage.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestSqliteStorageRuns(t *testing.T) {
	storage := newTestSqlite(t)
	ctx := context.Background()

	run := Run{
		RequestID: "abc123",
		Kind:      "flow",
		Flow:      "summarize",
		Source:    "Notes/A.md",
		Status:    RunSucceeded,
		Response:  "done",
		Payload:   `{"requestId":"abc123"}`,
		CreatedAt: 42,
	}
	if err := storage.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := storage.RecordRun(ctx, Run{RequestID: "later", Kind: "canvas", Status: RunFailed, CreatedAt: 43}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	got, err := storage.GetRun(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != run {
		t.Errorf("expected %+v, got %+v", run, got)
	}

	runs, err := storage.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RequestID != "later" {
		t.Errorf("expected newest run first, got %+v", runs)
	}

	if _, err := storage.GetRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestOpenSqliteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "runs.db")

	storage, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("OpenSqlite failed: %v", err)
	}
	defer storage.Close()

	if err := storage.Save(context.Background(), "s", []model.Message{userTurn("", "x")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}
