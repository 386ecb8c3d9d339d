// Package main provides the cloudatlas CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/cloudatlas/cli"
	"github.com/richinex/cloudatlas/config"
)

var (
	// Global flags
	provider   string
	vaultDir   string
	configPath string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "cloudatlas",
		Short: "Compose vault notes into LLM requests",
		Long: `Run flows and canvases over a folder of markdown notes.

A flow is a template note under CloudAtlas/ whose front-matter and body
are layered with an optional data note and the target note into one
request. A canvas is a node graph whose colored nodes become the input,
prompt, system text and context of a request.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "Dispatch backend ("+strings.Join(config.SupportedProviders(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault", "", "Vault directory (default $CLOUDATLAS_VAULT or .)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(canvasCmd())
	rootCmd.AddCommand(flowsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(exportCanvasCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	return cli.Options{
		Provider:   provider,
		Vault:      vaultDir,
		ConfigPath: configPath,
		Verbose:    verbose,
	}
}

// withApp opens the application for the duration of fn.
func withApp(fn func(app *cli.App) error) error {
	app, err := cli.Open(options())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func runCmd() *cobra.Command {
	var selection string

	cmd := &cobra.Command{
		Use:   "run [flow] <note>",
		Short: "Run a flow against a note",
		Long: `Run a flow against a note and write the response back.

With a single argument naming a saved run note (<name>.<flow>.flowrun.md),
the flow is taken from the file name.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, note := "", args[0]
			if len(args) == 2 {
				flow, note = args[0], args[1]
			}
			return withApp(func(app *cli.App) error {
				return app.RunFlow(cmd.Context(), flow, note, selection)
			})
		},
	}

	cmd.Flags().StringVarP(&selection, "selection", "s", "", "Text to use as input instead of the note body")

	return cmd
}

func canvasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "canvas <file.canvas>",
		Short: "Resolve a canvas, send its requests and add the responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *cli.App) error {
				return app.RunCanvas(cmd.Context(), args[0])
			})
		},
	}
}

func flowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List available flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *cli.App) error {
				return app.ListFlows(cmd.Context())
			})
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *cli.App) error {
				return app.ListRuns(cmd.Context(), limit)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")

	return cmd
}

func chatCmd() *cobra.Command {
	var sessionID string
	var attach []string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session over attached notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(app *cli.App) error {
				return app.Chat(cmd.Context(), sessionID, attach, os.Stdin)
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "default", "Session ID for conversation persistence")
	cmd.Flags().StringArrayVarP(&attach, "attach", "a", nil, "Note to attach as context (repeatable)")

	return cmd
}

func exportCanvasCmd() *cobra.Command {
	var requestID string
	var out string

	cmd := &cobra.Command{
		Use:   "export-canvas [flow] [note]",
		Short: "Render a composed or recorded request as a canvas",
		Args: func(cmd *cobra.Command, args []string) error {
			if requestID != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, note := "", ""
			if len(args) == 2 {
				flow, note = args[0], args[1]
			}
			return withApp(func(app *cli.App) error {
				_, err := app.ExportCanvas(cmd.Context(), flow, note, requestID, out)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&requestID, "run", "", "Export the payload of a recorded run")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Canvas file to write inside the vault")

	return cmd
}
