package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/cloudatlas/dispatch"
	"github.com/richinex/cloudatlas/flowconfig"
	jsonutil "github.com/richinex/cloudatlas/internal/json"
	"github.com/richinex/cloudatlas/model"
	"github.com/richinex/cloudatlas/notice"
	"github.com/richinex/cloudatlas/storage"
	"github.com/richinex/cloudatlas/vault"
)

// Run kinds recorded in run storage.
const (
	KindFlow     = "flow"
	KindDelegate = "delegate"
	KindSession  = "session"
)

// Result is the outcome of one flow run.
type Result struct {
	model.FlowResponse
	Flow   string
	Source string
	// Output is the note the response was written to.
	Output string
	// Delegated holds the runs started by a delegating flow, in order.
	Delegated []Result
}

// Runner runs flows end to end: compose, dispatch, write back, record.
type Runner struct {
	engine     *Engine
	dispatcher dispatch.Dispatcher
	runs       storage.RunStorage
	notifier   notice.Notifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewRunner creates a runner. runs may be nil to disable run recording.
func NewRunner(engine *Engine, dispatcher dispatch.Dispatcher, runs storage.RunStorage, notifier notice.Notifier) *Runner {
	if notifier == nil {
		notifier = notice.Discard{}
	}
	return &Runner{
		engine:     engine,
		dispatcher: dispatcher,
		runs:       runs,
		notifier:   notifier,
		logger:     engine.logger,
		now:        time.Now,
	}
}

// RunFlow runs flow against noteID. selection, when not empty, replaces the
// note body as input. Failures produce exactly one notice.
func (r *Runner) RunFlow(ctx context.Context, flow, noteID, selection string) (Result, error) {
	res, err := r.runFlow(ctx, r.engine, KindFlow, flow, noteID, noteID, selection)
	if err != nil {
		r.fail(ctx, flow, err)
		return res, err
	}

	if model.Enabled(res.Config.CanDelegate) {
		delegated, err := r.delegate(ctx, noteID, res.Response)
		res.Delegated = delegated
		if err != nil {
			r.fail(ctx, flow, err)
			return res, err
		}
	}

	if res.Output != "" {
		r.notifier.Notify(ctx, notice.Success, fmt.Sprintf("%s flow finished: %s", flow, res.Output))
	} else {
		r.notifier.Notify(ctx, notice.Success, fmt.Sprintf("%s flow delegated to %d flows", flow, len(res.Delegated)))
	}
	return res, nil
}

// RunNote re-runs a saved run note named <name>.<flow>.flowrun.md.
func (r *Runner) RunNote(ctx context.Context, noteID string) (Result, error) {
	flow, ok := flowconfig.RunFlowName(noteID)
	if !ok {
		err := fmt.Errorf("%s is not a flow run note", noteID)
		r.notifier.Notify(ctx, notice.Failure, err.Error())
		return Result{}, err
	}
	return r.RunFlow(ctx, flow, noteID, "")
}

// runFlow composes flow over noteID and dispatches it. The response is
// written back to dest, which differs from noteID only for delegates
// reading an ephemeral note.
func (r *Runner) runFlow(ctx context.Context, eng *Engine, kind, flow, noteID, dest, selection string) (Result, error) {
	res := Result{Flow: flow, Source: noteID}

	layers := []string{flowconfig.TemplatePath(flow), flowconfig.DataPath(flow), noteID}
	pc, err := eng.Compose(ctx, layers, selection)
	if err != nil {
		return res, err
	}
	res.Config = pc.Config
	res.Payload = pc.Payload

	r.logger.Info("dispatching flow",
		zap.String("flow", flow),
		zap.String("note", noteID),
		zap.String("request_id", pc.Payload.RequestID))

	text, err := r.dispatcher.Dispatch(ctx, pc.Payload)
	r.record(ctx, kind, flow, noteID, pc.Payload, text, err)
	if err != nil {
		return res, err
	}
	res.Response = text

	// A delegating flow answers with a plan, not content.
	if kind == KindFlow && model.Enabled(pc.Config.CanDelegate) {
		return res, nil
	}

	out, err := r.writeBack(ctx, eng.store, flow, dest, pc.Config, text)
	if err != nil {
		return res, err
	}
	res.Output = out
	return res, nil
}

// delegate runs the flows named in response. The first runs against the
// original note; each later one reads an ephemeral note holding the
// previous delegate's response. Every delegate writes back to the original
// note under its own write mode. Delegates never delegate further.
func (r *Runner) delegate(ctx context.Context, noteID, response string) ([]Result, error) {
	flows, err := jsonutil.ExtractStringList(response)
	if err != nil {
		return nil, fmt.Errorf("delegation: %w", err)
	}

	overlay := vault.NewOverlay(r.engine.store)
	eng := r.engine.withStore(overlay)

	var results []Result
	previous := ""
	for i, flow := range flows {
		target := noteID
		if i > 0 {
			target = ephemeralNote(noteID, i, flow)
			overlay.Put(target, previous)
		}

		r.logger.Info("running delegate",
			zap.String("flow", flow),
			zap.String("note", target),
			zap.Int("step", i+1),
			zap.Int("of", len(flows)))

		res, err := r.runFlow(ctx, eng, KindDelegate, flow, target, noteID, "")
		if err != nil {
			return results, fmt.Errorf("delegate %s: %w", flow, err)
		}
		results = append(results, res)
		previous = res.Response
	}
	return results, nil
}

func ephemeralNote(noteID string, step int, flow string) string {
	base := strings.TrimSuffix(noteID, path.Ext(noteID))
	return fmt.Sprintf("%s.delegate-%d-%s.md", base, step, flow)
}

// writeBack stores text according to the write mode and returns the
// identifier written.
func (r *Runner) writeBack(ctx context.Context, store vault.Store, flow, noteID string,
	cfg model.FlowConfig, text string) (string, error) {
	mode := cfg.WriteMode()
	if r.engine.settings.Flow.CreateNewFile || mode == model.ModeNew {
		out := OutputPath(r.engine.settings.Flow.OutputFileTemplate, noteID, flow)
		if err := store.Write(ctx, out, text+"\n"); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", out, err)
		}
		return out, nil
	}

	current, err := store.Read(ctx, noteID)
	if err != nil && !errors.Is(err, vault.ErrNotFound) {
		return "", fmt.Errorf("failed to read %s: %w", noteID, err)
	}

	var updated string
	switch mode {
	case model.ModeReplace:
		// The offset is valid even when the block fails to decode.
		_, offset, _ := vault.SplitFrontMatter(current)
		updated = current[:offset] + text + "\n"
	default:
		updated = text + "\n"
		if trimmed := strings.TrimRight(current, "\n"); trimmed != "" {
			updated = trimmed + "\n\n" + updated
		}
	}

	if err := store.Write(ctx, noteID, updated); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", noteID, err)
	}
	return noteID, nil
}

// OutputPath expands the output file template for a run of flow on noteID.
// {{name}} is the note's base name and {{flow}} the flow name; the file is
// placed next to the note. A run note keeps its original name.
func OutputPath(template, noteID, flow string) string {
	dir, file := path.Split(noteID)
	name := strings.TrimSuffix(file, path.Ext(file))
	if _, ok := flowconfig.RunFlowName(noteID); ok {
		name = strings.Split(file, ".")[0]
	}
	out := strings.NewReplacer("{{name}}", name, "{{flow}}", flow).Replace(template)
	return dir + out
}

func (r *Runner) record(ctx context.Context, kind, flow, source string, p model.Payload, response string, dispatchErr error) {
	recordRun(ctx, r.runs, r.logger, r.now, kind, flow, source, p, response, dispatchErr)
}

func recordRun(ctx context.Context, runs storage.RunStorage, logger *zap.Logger, now func() time.Time,
	kind, flow, source string, p model.Payload, response string, dispatchErr error) {
	if runs == nil {
		return
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		logger.Warn("failed to encode payload for run record", zap.Error(err))
	}
	run := storage.Run{
		RequestID: p.RequestID,
		Kind:      kind,
		Flow:      flow,
		Source:    source,
		Status:    storage.RunSucceeded,
		Response:  response,
		Payload:   string(encoded),
		CreatedAt: now().Unix(),
	}
	if dispatchErr != nil {
		run.Status = storage.RunFailed
		run.Error = dispatchErr.Error()
	}
	if err := runs.RecordRun(ctx, run); err != nil {
		logger.Warn("failed to record run", zap.String("request_id", p.RequestID), zap.Error(err))
	}
}

func (r *Runner) fail(ctx context.Context, flow string, err error) {
	r.logger.Error("flow failed", zap.String("flow", flow), zap.Error(err))
	r.notifier.Notify(ctx, notice.Failure, fmt.Sprintf("%s flow failed: %s", flow, Describe(err)))
}

// Describe returns a short user-facing description of err.
func Describe(err error) string {
	var statusErr *dispatch.StatusError
	var patternErr *ExclusionPatternError
	switch {
	case errors.Is(err, dispatch.ErrPollTimeout):
		return "timed out waiting for a response"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("service returned status %d", statusErr.StatusCode)
	case errors.As(err, &patternErr):
		return fmt.Sprintf("invalid exclusion pattern %q", patternErr.Pattern)
	case errors.Is(err, jsonutil.ErrNotAList):
		return "delegation response is not a list of flows"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "see the log for details"
	}
}
