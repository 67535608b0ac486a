package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/objrewrite/internal/compiler"
	"github.com/roach88/objrewrite/internal/rewriter"
)

// FieldsOptions holds flags for the fields command.
type FieldsOptions struct {
	*RootOptions
	Fields []string
}

// FieldsResult is the JSON payload of the fields command.
type FieldsResult struct {
	Allowed []string `json:"allowed,omitempty"`
	Fields  []string `json:"fields,omitempty"`
	Fetch   []string `json:"fetch,omitempty"`
}

// NewFieldsCommand creates the fields command.
func NewFieldsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FieldsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fields <config>",
		Short: "Show allowed fields or the fields a request must fetch",
		Long: `Without --fields, list every field that may be requested: the source
fields followed by the fields injected by plugins.

With --fields, compile the request and list the source fields that must be
fetched before the tree is rewritten.

Examples:
  objrewrite fields ./items.cue
  objrewrite fields ./items.cue --fields items.id,items.owner
  objrewrite fields ./config --fields title --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFields(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "requested fields (comma-separated)")

	return cmd
}

func runFields(opts *FieldsOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}

	// Fetch lists do not depend on lookup results.
	mounts, err := compiler.Build(cfg, nopLookups{})
	if err != nil {
		return outputConfigError(formatter, err)
	}
	reg, err := rewriter.New(mounts, cfg.Source, rewriter.WithLogger(slog.Default()))
	if err != nil {
		return outputRewriteError(formatter, err)
	}
	defer reg.Close()

	if len(opts.Fields) == 0 {
		return outputFieldList(formatter, FieldsResult{Allowed: reg.AllowedFields()}, reg.AllowedFields())
	}

	req, err := reg.Init(opts.Fields)
	if err != nil {
		return outputRewriteError(formatter, err)
	}
	formatter.VerboseLog("Active plugins: %v", req.Active())
	return outputFieldList(formatter, FieldsResult{Fields: req.Fields(), Fetch: req.FieldsToRequest()}, req.FieldsToRequest())
}

func outputFieldList(formatter *OutputFormatter, result FieldsResult, lines []string) error {
	if formatter.isJSON() {
		return formatter.Success(result)
	}
	for _, f := range lines {
		fmt.Fprintln(formatter.Writer, f)
	}
	return nil
}

// loadConfig loads a configuration, reporting load errors with exit code 2.
func loadConfig(formatter *OutputFormatter, path string) (*compiler.Config, error) {
	cfg, err := LoadConfig(path)
	if err == nil {
		formatter.VerboseLog("Loaded %s: %d source field(s), %d mount(s)", path, len(cfg.Source), len(cfg.Mounts))
		return cfg, nil
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Error(), nil)
	} else {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	}
	return nil, WrapExitError(ExitCommandError, "failed to load config", err)
}

// outputConfigError reports configuration errors found while building
// plugins.
func outputConfigError(formatter *OutputFormatter, err error) error {
	code := ErrCodeGeneric
	var ve compiler.ValidationError
	if errors.As(err, &ve) {
		code = ve.Code
	}
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitFailure, "invalid configuration", err)
}

// outputRewriteError reports a rewriter error under its code.
func outputRewriteError(formatter *OutputFormatter, err error) error {
	code := ErrCodeGeneric
	var rerr *rewriter.Error
	if errors.As(err, &rerr) {
		code = string(rerr.Code)
	}
	_ = formatter.Error(code, err.Error(), fieldDetails(rerr))
	return WrapExitError(ExitFailure, "rewrite failed", err)
}

func fieldDetails(err *rewriter.Error) any {
	if err == nil || len(err.Fields) == 0 {
		return nil
	}
	return map[string]string{"fields": strings.Join(err.Fields, ",")}
}
