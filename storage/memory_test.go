package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/richinex/cloudatlas/model"
)

func userTurn(prompt, input string) model.Message {
	return model.Message{User: &model.User{
		UserPrompt:        model.String(prompt),
		Input:             model.String(input),
		AdditionalContext: map[string]string{},
	}}
}

func assistantTurn(content string) model.Message {
	return model.Message{Assistant: model.String(content)}
}

func TestInMemoryStorageSaveAndLoad(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	messages := []model.Message{
		userTurn("Summarise", "Hello"),
		assistantTurn("Hi there"),
	}

	if err := storage.Save(ctx, "test-session", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := storage.Load(ctx, "test-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	if got := model.Deref(loaded[0].User.Input); got != "Hello" {
		t.Errorf("expected 'Hello', got '%s'", got)
	}
	if got := model.Deref(loaded[1].Assistant); got != "Hi there" {
		t.Errorf("expected 'Hi there', got '%s'", got)
	}
}

func TestInMemoryStorageLoadIsACopy(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	messages := []model.Message{userTurn("p", "original")}
	if err := storage.Save(ctx, "s", messages); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	messages[0].User.AdditionalContext["leak"] = "x"

	loaded, _ := storage.Load(ctx, "s")
	if _, ok := loaded[0].User.AdditionalContext["leak"]; ok {
		t.Error("saved history shares state with the caller")
	}
}

func TestInMemoryStorageLoadNonexistentSession(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	loaded, err := storage.Load(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != 0 {
		t.Errorf("expected empty slice, got %d messages", len(loaded))
	}
}

func TestInMemoryStorageDeleteSession(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	if err := storage.Save(ctx, "to-delete", []model.Message{userTurn("", "Test")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	exists, _ := storage.Exists(ctx, "to-delete")
	if !exists {
		t.Error("expected session to exist before delete")
	}

	if err := storage.Delete(ctx, "to-delete"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, _ = storage.Exists(ctx, "to-delete")
	if exists {
		t.Error("expected session to not exist after delete")
	}
}

func TestInMemoryStorageListSessions(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := storage.Save(ctx, id, nil); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	sessions, err := storage.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("expected 3 sessions, got %d", len(sessions))
	}
}

func TestInMemoryStorageRuns(t *testing.T) {
	storage := NewInMemoryStorage()
	ctx := context.Background()

	runs := []Run{
		{RequestID: "r1", Kind: "flow", Flow: "summarize", Status: RunSucceeded, CreatedAt: 100},
		{RequestID: "r2", Kind: "canvas", Status: RunFailed, Error: "boom", CreatedAt: 200},
		{RequestID: "r3", Kind: "flow", Flow: "translate", Status: RunSucceeded, CreatedAt: 300},
	}
	for _, run := range runs {
		if err := storage.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	got, err := storage.GetRun(ctx, "r2")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Error != "boom" || got.Status != RunFailed {
		t.Errorf("unexpected run: %+v", got)
	}

	listed, err := storage.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(listed) != 2 || listed[0].RequestID != "r3" || listed[1].RequestID != "r2" {
		t.Errorf("expected [r3 r2], got %+v", listed)
	}

	if _, err := storage.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
