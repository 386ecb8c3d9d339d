// Package payload implements the merge algebra used to fold flow layers and
// canvas nodes into a single request.
package payload

import (
	"errors"
	"strings"

	"github.com/richinex/cloudatlas/model"
)

// ErrNoPayload is returned when both sides of a merge are nil.
var ErrNoPayload = errors.New("no base or override payload")

// Merge combines base and override into a new payload.
//
// The last message of each side is the active turn. Context maps are
// unioned with override keys winning; input and user_prompt are joined
// with a newline; system and assistant are taken from override when set.
// Scalar fields follow a single rule: override wins when present.
// The result always has exactly one message. Inputs are never modified.
func Merge(base, override *model.Payload) (model.Payload, error) {
	if base == nil {
		if override == nil {
			return model.Payload{}, ErrNoPayload
		}
		return override.Clone(), nil
	}
	if override == nil {
		return base.Clone(), nil
	}

	b := base.LastMessage()
	o := override.LastMessage()
	bu := userOf(b)
	ou := userOf(o)

	ctx := make(map[string]string, len(bu.AdditionalContext)+len(ou.AdditionalContext))
	for k, v := range bu.AdditionalContext {
		ctx[k] = v
	}
	for k, v := range ou.AdditionalContext {
		ctx[k] = v
	}

	msg := model.Message{
		User: &model.User{
			UserPrompt:        model.String(JoinStrings(model.Deref(bu.UserPrompt), model.Deref(ou.UserPrompt))),
			Input:             model.String(JoinStrings(model.Deref(bu.Input), model.Deref(ou.Input))),
			AdditionalContext: ctx,
		},
		System:    firstSet(o.System, b.System),
		Assistant: firstSet(o.Assistant, b.Assistant),
	}

	out := model.Payload{
		Messages:   []model.Message{msg},
		Options:    base.Options,
		Provider:   base.Provider,
		Model:      base.Model,
		LLMOptions: base.LLMOptions,
		RequestID:  base.RequestID,
		Version:    base.Version,
	}
	if !optionsZero(override.Options) {
		out.Options = override.Options
	}
	if override.Provider != "" {
		out.Provider = override.Provider
	}
	if model.Deref(override.Model) != "" {
		out.Model = override.Model
	}
	if !override.LLMOptions.IsZero() {
		out.LLMOptions = override.LLMOptions
	}
	if override.RequestID != "" {
		out.RequestID = override.RequestID
	}
	if override.Version != "" {
		out.Version = override.Version
	}

	// Detach from the inputs.
	return out.Clone(), nil
}

// JoinStrings joins the non-empty arguments with "\n".
func JoinStrings(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func userOf(m model.Message) model.User {
	if m.User == nil {
		return model.User{}
	}
	return *m.User
}

func firstSet(values ...*string) *string {
	for _, v := range values {
		if model.Deref(v) != "" {
			return v
		}
	}
	return nil
}

func optionsZero(o model.Options) bool {
	return !o.GenerateEmbeddings && !o.EntityRecognition && len(o.Wikify) == 0
}
