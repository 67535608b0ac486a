package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/objrewrite/internal/canonical"
	"github.com/roach88/objrewrite/internal/rewriter"
)

// RewriteOptions holds flags for the rewrite command.
type RewriteOptions struct {
	*RootOptions
	Fields   []string
	Input    string
	Context  string
	Database string
	Async    bool
}

// RewriteResult is the JSON payload of the rewrite command.
type RewriteResult struct {
	Fetch  []string        `json:"fetch"`
	Output json.RawMessage `json:"output"`
}

// NewRewriteCommand creates the rewrite command.
func NewRewriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RewriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rewrite <config>",
		Short: "Rewrite an object tree",
		Long: `Run the rewrite pipeline (inject, filter, sort, retain) over a JSON object
and print the result as canonical JSON.

The input tree is read from --input, or from stdin when --input is empty or
"-". --context is a JSON value handed to every plugin. Lookup plugins read
from the SQLite database given by --db and require --async.

Examples:
  objrewrite rewrite ./items.cue --fields items.id --input tree.json
  cat tree.json | objrewrite rewrite ./items.cue --fields items.id,items.owner --db users.db --async
  objrewrite rewrite ./items.cue --fields items.id --context '{"top": 3}' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "requested fields (comma-separated, required)")
	cmd.Flags().StringVar(&opts.Input, "input", "", `input JSON file ("-" or empty for stdin)`)
	cmd.Flags().StringVar(&opts.Context, "context", "", "rewrite context as JSON")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for lookup plugins")
	cmd.Flags().BoolVar(&opts.Async, "async", false, "await asynchronous inject plugins")
	_ = cmd.MarkFlagRequired("fields")

	return cmd
}

func runRewrite(opts *RewriteOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}

	tree, err := readInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid input", err)
	}
	var rc any
	if opts.Context != "" {
		if rc, err = canonical.Decode(strings.NewReader(opts.Context)); err != nil {
			_ = formatter.Error(ErrCodeInvalidInput, "context: "+err.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid context", err)
		}
	}

	runIDs := &lastRunID{}
	env, err := NewEnvironment(cfg, opts.Database, slog.Default(), rewriter.WithRunIDGenerator(runIDs))
	if err != nil {
		_ = formatter.Error(ErrCodeBuildFailed, err.Error(), nil)
		return err
	}
	defer func() {
		if closeErr := env.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	req, err := env.Registry.Init(opts.Fields)
	if err != nil {
		return outputRewriteError(formatter, err)
	}
	formatter.VerboseLog("Fetch: %s", strings.Join(req.FieldsToRequest(), ", "))

	if opts.Async {
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}
		ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
		defer stop()
		err = req.RewriteAsync(ctx, tree, rc)
	} else {
		err = req.Rewrite(tree, rc)
	}
	formatter.RunID = runIDs.id
	if err != nil {
		return outputRewriteError(formatter, err)
	}

	if formatter.isJSON() {
		out, err := canonical.Marshal(tree)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode output", err)
		}
		return formatter.Success(RewriteResult{Fetch: req.FieldsToRequest(), Output: out})
	}
	out, err := canonical.MarshalIndent(tree)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode output", err)
	}
	fmt.Fprintln(formatter.Writer, string(out))
	return nil
}

// lastRunID generates UUIDv7 run ids and keeps the latest for the JSON
// response.
type lastRunID struct {
	rewriter.UUIDv7Generator
	id string
}

func (g *lastRunID) Generate() string {
	g.id = g.UUIDv7Generator.Generate()
	return g.id
}

// readInput decodes the input tree from path, or from stdin for "" and "-".
func readInput(path string, stdin io.Reader) (map[string]any, error) {
	r := stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return canonical.DecodeObject(r)
}
