// Command execution for CLI commands.
//
// Information Hiding:
// - Component wiring (vault, engine, dispatcher, storage) hidden behind App
// - Output formatting hidden
// - Interactive chat loop and its slash commands hidden

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/richinex/cloudatlas/canvas"
	"github.com/richinex/cloudatlas/config"
	"github.com/richinex/cloudatlas/dispatch"
	"github.com/richinex/cloudatlas/engine"
	"github.com/richinex/cloudatlas/fetch"
	"github.com/richinex/cloudatlas/flowconfig"
	"github.com/richinex/cloudatlas/internal/logging"
	"github.com/richinex/cloudatlas/model"
	"github.com/richinex/cloudatlas/notice"
	"github.com/richinex/cloudatlas/storage"
	"github.com/richinex/cloudatlas/vault"
)

// Options holds CLI execution options.
type Options struct {
	Provider   string
	Vault      string
	ConfigPath string
	Verbose    bool
}

// App holds the wired components shared by every command.
type App struct {
	settings config.Settings
	store    vault.Store
	db       *storage.SqliteStorage
	logger   *zap.Logger
	out      io.Writer

	engine   *engine.Engine
	flows    *engine.Runner
	canvases *canvas.Runner
}

// Open loads settings and wires the components for opts.
func Open(opts Options) (*App, error) {
	settings, err := config.Load(opts.Provider, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if opts.Vault != "" {
		settings.VaultRoot = opts.Vault
	}

	level := settings.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, opts.Verbose)
	if err != nil {
		return nil, err
	}

	store, err := vault.OpenFS(settings.VaultRoot)
	if err != nil {
		return nil, err
	}

	dispatcher, err := dispatch.New(settings, logger)
	if err != nil {
		return nil, err
	}

	db, err := storage.OpenSqlite(databasePath(settings))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	app, err := newApp(settings, store, dispatcher, db, logger, notice.NewConsole(nil), os.Stdout)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

// databasePath resolves a relative database path against the vault root.
func databasePath(s config.Settings) string {
	if s.DatabasePath == "" || filepath.IsAbs(s.DatabasePath) {
		return s.DatabasePath
	}
	return filepath.Join(s.VaultRoot, s.DatabasePath)
}

func newApp(settings config.Settings, store vault.Store, dispatcher dispatch.Dispatcher,
	db *storage.SqliteStorage, logger *zap.Logger, notifier notice.Notifier, out io.Writer) (*App, error) {
	logger = logging.OrNop(logger)

	fetcher, err := fetch.New(fetch.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	eng := engine.New(store, settings, engine.WithLogger(logger), engine.WithFetcher(fetcher))

	var runs storage.RunStorage
	if db != nil {
		runs = db
	}
	resolver := canvas.NewResolver(store, settings, canvas.WithLogger(logger))

	return &App{
		settings: settings,
		store:    store,
		db:       db,
		logger:   logger,
		out:      out,
		engine:   eng,
		flows:    engine.NewRunner(eng, dispatcher, runs, notifier),
		canvases: canvas.NewRunner(store, resolver, dispatcher, runs, notifier),
	}, nil
}

// Close releases the database and flushes the logger.
func (a *App) Close() error {
	_ = a.logger.Sync()
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// RunFlow runs flow against note, or re-runs note when flow is empty and
// note is a saved run.
func (a *App) RunFlow(ctx context.Context, flow, note, selection string) error {
	var (
		res engine.Result
		err error
	)
	if flow == "" {
		res, err = a.flows.RunNote(ctx, note)
	} else {
		res, err = a.flows.RunFlow(ctx, flow, note, selection)
	}
	if err != nil {
		return err
	}

	a.printResult(res, "")
	return nil
}

func (a *App) printResult(res engine.Result, indent string) {
	bold := color.New(color.Bold)
	if res.Output != "" {
		fmt.Fprintf(a.out, "%s%s %s -> %s\n", indent, bold.Sprint(res.Flow), res.Source, res.Output)
	} else {
		fmt.Fprintf(a.out, "%s%s %s delegated:\n", indent, bold.Sprint(res.Flow), res.Source)
	}
	for _, d := range res.Delegated {
		a.printResult(d, indent+"  ")
	}
}

// RunCanvas runs the canvas stored at id.
func (a *App) RunCanvas(ctx context.Context, id string) error {
	report, err := a.canvases.Run(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %d of %d requests answered\n",
		id, report.Succeeded(), len(report.Outcomes))
	for _, o := range report.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(a.out, "  %s %s: %s\n", color.RedString("✗"), o.RequestID, engine.Describe(o.Err))
		}
	}
	return nil
}

// ListFlows prints the flow templates in the vault.
func (a *App) ListFlows(ctx context.Context) error {
	flows, err := flowconfig.ListFlows(ctx, a.store)
	if err != nil {
		return fmt.Errorf("failed to list flows: %w", err)
	}
	if len(flows) == 0 {
		fmt.Fprintf(a.out, "No flows found in %s\n", flowconfig.Root)
		return nil
	}
	for _, f := range flows {
		fmt.Fprintln(a.out, f)
	}
	return nil
}

// ListRuns prints the most recent runs.
func (a *App) ListRuns(ctx context.Context, limit int) error {
	if a.db == nil {
		return fmt.Errorf("run history is not available")
	}
	runs, err := a.db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		status := color.GreenString(r.Status)
		if r.Status == storage.RunFailed {
			status = color.RedString(r.Status)
		}
		name := r.Flow
		if name == "" {
			name = r.Kind
		}
		fmt.Fprintf(a.out, "%s  %-9s  %-12s  %s\n", r.RequestID, status, name, r.Source)
	}
	return nil
}

// ExportCanvas composes flow against note and writes the payload as a
// canvas. With requestID set, the recorded payload of that run is used
// instead. It returns the identifier written.
func (a *App) ExportCanvas(ctx context.Context, flow, note, requestID, out string) (string, error) {
	var p model.Payload
	if requestID != "" {
		if a.db == nil {
			return "", fmt.Errorf("run history is not available")
		}
		run, err := a.db.GetRun(ctx, requestID)
		if err != nil {
			return "", err
		}
		if err := json.Unmarshal([]byte(run.Payload), &p); err != nil {
			return "", fmt.Errorf("failed to decode payload of run %s: %w", requestID, err)
		}
		if out == "" {
			out = requestID + ".flow.canvas"
		}
	} else {
		layers := []string{flowconfig.TemplatePath(flow), flowconfig.DataPath(flow), note}
		pc, err := a.engine.Compose(ctx, layers, "")
		if err != nil {
			return "", err
		}
		p = pc.Payload
		if out == "" {
			out = engine.OutputPath("{{name}}.{{flow}}.flow.canvas", note, flow)
		}
	}

	data, err := canvas.Marshal(canvas.FromPayload(p))
	if err != nil {
		return "", err
	}
	if err := a.store.Write(ctx, out, string(data)); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(a.out, "Canvas written to %s\n", out)
	return out, nil
}

// Chat starts an interactive session reading prompts from in.
// Lines starting with a slash are commands: /attach, /detach, /list,
// /reset. "exit" or "quit" ends the session.
func (a *App) Chat(ctx context.Context, sessionID string, attach []string, in io.Reader) error {
	var conversations storage.ConversationStorage
	if a.db != nil {
		conversations = a.db
	}
	session, err := a.flows.OpenSession(ctx, sessionID, conversations)
	if err != nil {
		return err
	}
	session.Attach(attach...)

	if n := len(session.History()); n > 0 {
		fmt.Fprintf(a.out, "Resuming session '%s' (%d messages)\n\n", sessionID, n)
	}
	fmt.Fprintf(a.out, "Chat session '%s'. Type 'exit' to quit, /attach <note> to add context.\n\n", sessionID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(a.out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if strings.HasPrefix(line, "/") {
			a.chatCommand(ctx, session, line)
			continue
		}

		answer, err := session.Send(ctx, line)
		if err != nil {
			// The notifier has already reported the failure.
			continue
		}
		fmt.Fprintf(a.out, "\n%s\n\n", answer)
	}

	return scanner.Err()
}

func (a *App) chatCommand(ctx context.Context, session *engine.Session, line string) {
	fields := strings.Fields(line)
	args := fields[1:]
	switch fields[0] {
	case "/attach":
		session.Attach(args...)
	case "/detach":
		session.Detach(args...)
	case "/list":
		for _, id := range session.Attached() {
			fmt.Fprintln(a.out, "  "+id)
		}
	case "/reset":
		if err := session.Reset(ctx); err != nil {
			fmt.Fprintf(a.out, "failed to reset session: %v\n", err)
			return
		}
		fmt.Fprintln(a.out, "History cleared.")
	default:
		fmt.Fprintf(a.out, "unknown command %s\n", fields[0])
	}
}
