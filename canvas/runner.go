package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/cloudatlas/dispatch"
	"github.com/richinex/cloudatlas/engine"
	"github.com/richinex/cloudatlas/model"
	"github.com/richinex/cloudatlas/notice"
	"github.com/richinex/cloudatlas/storage"
	"github.com/richinex/cloudatlas/vault"
)

// KindCanvas is the run kind recorded for canvas requests.
const KindCanvas = "canvas"

// BatchSize is the number of requests dispatched concurrently.
const BatchSize = 3

// Response node geometry.
const (
	responseGap    = 100
	responseWidth  = 400
	responseHeight = 400
	responseStride = responseHeight + 50
)

// ErrAllRequestsFailed is returned when no request of a canvas run succeeded.
var ErrAllRequestsFailed = errors.New("all canvas requests failed")

// Outcome is one dispatched canvas request.
type Outcome struct {
	RequestID string
	Response  string
	Err       error
	// NodeID is the response node added for a successful request.
	NodeID string
}

// Report summarises a canvas run.
type Report struct {
	Canvas   string
	Outcomes []Outcome
}

// Succeeded returns the number of successful requests.
func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Runner resolves a canvas, dispatches its requests and splices the
// responses back into the document.
type Runner struct {
	store      vault.Store
	resolver   *Resolver
	dispatcher dispatch.Dispatcher
	runs       storage.RunStorage
	notifier   notice.Notifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewRunner creates a canvas runner. runs may be nil to disable run recording.
func NewRunner(store vault.Store, resolver *Resolver, dispatcher dispatch.Dispatcher,
	runs storage.RunStorage, notifier notice.Notifier) *Runner {
	if notifier == nil {
		notifier = notice.Discard{}
	}
	return &Runner{
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		runs:       runs,
		notifier:   notifier,
		logger:     resolver.logger,
		now:        time.Now,
	}
}

// Run processes the canvas stored at canvasID. Requests are sent in batches
// of BatchSize; a failed request is logged and skipped. The document is
// written once, after every batch has finished.
func (r *Runner) Run(ctx context.Context, canvasID string) (Report, error) {
	report := Report{Canvas: canvasID}

	c, sc, variants, err := r.prepare(ctx, canvasID)
	if err != nil {
		r.fail(ctx, canvasID, err)
		return report, err
	}

	r.logger.Info("running canvas",
		zap.String("canvas", canvasID),
		zap.Int("requests", len(variants)))

	placed := 0
	for start := 0; start < len(variants); start += BatchSize {
		end := min(start+BatchSize, len(variants))
		batch := r.dispatchBatch(ctx, canvasID, variants[start:end])

		for i := range batch {
			if batch[i].Err != nil {
				continue
			}
			batch[i].NodeID = r.splice(c, sc.Input, batch[i].Response, placed)
			placed++
		}
		report.Outcomes = append(report.Outcomes, batch...)

		if err := ctx.Err(); err != nil {
			r.fail(ctx, canvasID, err)
			return report, err
		}
	}

	if placed == 0 {
		err := ErrAllRequestsFailed
		if len(report.Outcomes) > 0 {
			err = fmt.Errorf("%w: %w", err, report.Outcomes[0].Err)
		}
		r.fail(ctx, canvasID, err)
		return report, err
	}

	data, err := Marshal(c)
	if err != nil {
		err = fmt.Errorf("failed to encode canvas: %w", err)
		r.fail(ctx, canvasID, err)
		return report, err
	}
	if err := r.store.Write(ctx, canvasID, string(data)); err != nil {
		err = fmt.Errorf("failed to write canvas %s: %w", canvasID, err)
		r.fail(ctx, canvasID, err)
		return report, err
	}

	msg := fmt.Sprintf("canvas updated with %d responses", placed)
	if failed := len(report.Outcomes) - placed; failed > 0 {
		msg = fmt.Sprintf("%s, %d failed", msg, failed)
	}
	r.notifier.Notify(ctx, notice.Success, msg)
	return report, nil
}

func (r *Runner) prepare(ctx context.Context, canvasID string) (*Canvas, *Scaffolding, []model.Payload, error) {
	raw, err := r.store.Read(ctx, canvasID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read canvas %s: %w", canvasID, err)
	}
	c, err := Parse([]byte(raw))
	if err != nil {
		return nil, nil, nil, err
	}
	sc, err := r.resolver.Resolve(ctx, c)
	if err != nil {
		return nil, nil, nil, err
	}
	variants, err := r.resolver.FanOut(ctx, sc.Payload)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, sc, variants, nil
}

// dispatchBatch sends payloads concurrently and returns their outcomes in
// payload order. Individual failures do not cancel the rest of the batch.
func (r *Runner) dispatchBatch(ctx context.Context, canvasID string, payloads []model.Payload) []Outcome {
	outcomes := make([]Outcome, len(payloads))
	var g errgroup.Group

	for i, p := range payloads {
		g.Go(func() error {
			text, err := r.dispatcher.Dispatch(ctx, p)
			r.record(ctx, canvasID, p, text, err)
			if err != nil {
				r.logger.Warn("canvas request failed",
					zap.String("canvas", canvasID),
					zap.String("request_id", p.RequestID),
					zap.Error(err))
			}

			outcomes[i] = Outcome{RequestID: p.RequestID, Response: text, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// splice adds a response node to the right of input, stacked by slot, and
// connects it to the input. It returns the new node's id.
func (r *Runner) splice(c *Canvas, input Node, text string, slot int) string {
	node := NewTextNode(text, RoleNone,
		input.X+input.Width+responseGap,
		input.Y+slot*responseStride,
		responseWidth, responseHeight)
	c.Nodes = append(c.Nodes, node)
	c.Edges = append(c.Edges, NewEdge(input.ID, "right", node.ID, "left"))
	return node.ID
}

func (r *Runner) record(ctx context.Context, canvasID string, p model.Payload, response string, dispatchErr error) {
	if r.runs == nil {
		return
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		r.logger.Warn("failed to encode payload for run record", zap.Error(err))
	}
	run := storage.Run{
		RequestID: p.RequestID,
		Kind:      KindCanvas,
		Source:    canvasID,
		Status:    storage.RunSucceeded,
		Response:  response,
		Payload:   string(encoded),
		CreatedAt: r.now().Unix(),
	}
	if dispatchErr != nil {
		run.Status = storage.RunFailed
		run.Error = dispatchErr.Error()
	}
	if err := r.runs.RecordRun(ctx, run); err != nil {
		r.logger.Warn("failed to record run", zap.String("request_id", p.RequestID), zap.Error(err))
	}
}

func (r *Runner) fail(ctx context.Context, canvasID string, err error) {
	r.logger.Error("canvas run failed", zap.String("canvas", canvasID), zap.Error(err))

	var msg string
	switch {
	case errors.Is(err, ErrNoInputNode):
		msg = "canvas has no input node"
	case errors.Is(err, ErrMultipleInputNodes):
		msg = "canvas has more than one input node"
	default:
		msg = engine.Describe(err)
	}
	r.notifier.Notify(ctx, notice.Failure, fmt.Sprintf("canvas %s failed: %s", canvasID, msg))
}
