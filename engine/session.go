package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/cloudatlas/dispatch"
	"github.com/richinex/cloudatlas/model"
	"github.com/richinex/cloudatlas/notice"
	"github.com/richinex/cloudatlas/storage"
	"github.com/richinex/cloudatlas/vault"
)

// SessionInput is the fixed input of an interactive turn; the prompt and
// attached notes carry the content.
const SessionInput = "See Additional Context and Respond to Prompt"

// Session is a multi-turn conversation over a set of attached notes.
// Each turn resends the full history.
type Session struct {
	ID string

	engine        *Engine
	dispatcher    dispatch.Dispatcher
	conversations storage.ConversationStorage
	runs          storage.RunStorage
	notifier      notice.Notifier
	now           func() time.Time

	attached map[string]bool
	history  []model.Message
}

// OpenSession loads or starts the session id.
func (r *Runner) OpenSession(ctx context.Context, id string, conversations storage.ConversationStorage) (*Session, error) {
	s := &Session{
		ID:            id,
		engine:        r.engine,
		dispatcher:    r.dispatcher,
		conversations: conversations,
		runs:          r.runs,
		notifier:      r.notifier,
		now:           r.now,
		attached:      map[string]bool{},
	}
	if conversations != nil {
		history, err := conversations.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", id, err)
		}
		s.history = history
	}
	return s, nil
}

// Attach adds notes whose content is sent as context with every turn.
func (s *Session) Attach(ids ...string) {
	for _, id := range ids {
		s.attached[id] = true
	}
}

// Detach removes attached notes.
func (s *Session) Detach(ids ...string) {
	for _, id := range ids {
		delete(s.attached, id)
	}
}

// Attached returns the attached notes, sorted.
func (s *Session) Attached() []string {
	out := make([]string, 0, len(s.attached))
	for id := range s.attached {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// History returns a copy of the conversation so far.
func (s *Session) History() []model.Message {
	out := make([]model.Message, len(s.history))
	for i, m := range s.history {
		out[i] = m.Clone()
	}
	return out
}

// Send sends prompt with the attached context and the full history.
// The history only grows when the dispatch succeeds.
func (s *Session) Send(ctx context.Context, prompt string) (string, error) {
	turn := model.Message{User: &model.User{
		UserPrompt:        model.String(prompt),
		Input:             model.String(SessionInput),
		AdditionalContext: s.context(ctx),
	}}

	seed, _ := s.engine.Seed()
	p := seed
	p.Messages = append(s.History(), turn)

	text, err := s.dispatcher.Dispatch(ctx, p)
	recordRun(ctx, s.runs, s.engine.logger, s.now, KindSession, "", s.ID, p, text, err)
	if err != nil {
		s.engine.logger.Error("session turn failed", zap.String("session", s.ID), zap.Error(err))
		s.notifier.Notify(ctx, notice.Failure, "Chat failed: "+Describe(err))
		return "", err
	}

	s.history = append(s.history, turn, model.Message{Assistant: model.String(text)})
	if s.conversations != nil {
		if err := s.conversations.Save(ctx, s.ID, s.history); err != nil {
			s.engine.logger.Warn("failed to save session", zap.String("session", s.ID), zap.Error(err))
		}
	}
	return text, nil
}

// Reset clears the history.
func (s *Session) Reset(ctx context.Context) error {
	s.history = nil
	if s.conversations == nil {
		return nil
	}
	return s.conversations.Delete(ctx, s.ID)
}

func (s *Session) context(ctx context.Context) map[string]string {
	e := s.engine
	opts := e.settings.Interactive
	links := e.expander(nil)
	out := map[string]string{}
	visited := map[string]bool{}

	for _, id := range s.Attached() {
		visited[id] = true
		links.Add(ctx, id, out)
	}
	for _, id := range s.Attached() {
		if opts.ResolveLinks {
			links.ForwardLinks(ctx, id, out, visited)
		}
		if opts.ResolveBacklinks {
			links.Backlinks(ctx, id, out)
		}
		if opts.ExpandURLs {
			body, err := vault.Body(ctx, e.store, id)
			if err == nil {
				e.collectURLs(ctx, body, out)
			}
		}
	}
	return out
}
