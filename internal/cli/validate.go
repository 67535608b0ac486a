package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/objrewrite/internal/compiler"
	"github.com/roach88/objrewrite/internal/rewriter"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool                       `json:"valid"`
	Mounts  int                        `json:"mounts"`
	Plugins int                        `json:"plugins"`
	Allowed []string                   `json:"allowed,omitempty"`
	Errors  []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a plugin configuration",
		Long: `Validate a CUE plugin configuration without rewriting anything.

Checks the configuration against its schema, validates paths, plugin options
and expressions, then instantiates every plugin at its mount prefix.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}

	result, err := ValidateConfig(cfg)
	if err != nil {
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}
	if !result.Valid {
		return outputValidationErrors(formatter, result.Errors)
	}
	return outputValidateSuccess(formatter, result)
}

// ValidateConfig validates cfg and instantiates its plugins. A returned error
// means the check itself could not run; configuration problems are reported
// in the result.
func ValidateConfig(cfg *compiler.Config) (*ValidationResult, error) {
	result := &ValidationResult{Mounts: len(cfg.Mounts)}
	for _, m := range cfg.Mounts {
		result.Plugins += len(m.Plugins)
	}

	if errs := compiler.Validate(cfg); len(errs) > 0 {
		result.Errors = errs
		return result, nil
	}

	mounts, err := compiler.Build(cfg, nopLookups{})
	if err != nil {
		return nil, err
	}
	reg, err := rewriter.New(mounts, cfg.Source, rewriter.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		var rerr *rewriter.Error
		if !errors.As(err, &rerr) {
			return nil, err
		}
		result.Errors = []compiler.ValidationError{{
			Field:   "mount",
			Message: rerr.Error(),
			Code:    string(rerr.Code),
		}}
		return result, nil
	}

	defer reg.Close()

	result.Valid = true
	result.Allowed = reg.AllowedFields()
	return result, nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result *ValidationResult) error {
	if formatter.isJSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Config valid: %d mount(s), %d plugin(s), %d allowed field(s)\n",
		result.Mounts, result.Plugins, len(result.Allowed))
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.isJSON() {
		if err := formatter.Failure(ValidationResult{Errors: errs}, errs[0].Code, errs[0].Message); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
