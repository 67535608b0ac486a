package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/objrewrite/internal/compiler"
	"github.com/roach88/objrewrite/internal/rewriter"
	"github.com/roach88/objrewrite/internal/store"
)

// LoadError represents an error that occurred while loading a configuration.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeScanError    = "E002" // Directory scan error
	ErrCodeNoFiles      = "E003" // No CUE files found
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeBuildFailed  = "E006" // CUE build or schema check failed
	ErrCodeInvalidInput = "E007" // Unreadable input tree or context
	ErrCodeDatabase     = "E008" // Lookup database could not be opened
)

// LoadConfig loads a plugin configuration from a CUE file, or from every
// CUE file of one package in a directory.
func LoadConfig(path string) (*compiler.Config, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing config: %v", err)}
	}

	if !info.IsDir() {
		cfg, err := compiler.CompileFile(path)
		if err != nil {
			return nil, convertCompileError(err, path)
		}
		return cfg, nil
	}

	cueFiles, err := FindCUEFiles(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	cfg, err := compiler.CompileValue(value)
	if err != nil {
		return nil, convertCompileError(err, path)
	}
	return cfg, nil
}

// FindCUEFiles returns the .cue files directly inside dir.
func FindCUEFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.cue"))
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeBuildFailed,
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// Environment is a loaded configuration turned into a registry, together
// with the database serving its lookups.
type Environment struct {
	Config   *compiler.Config
	Registry *rewriter.Registry
	store    *store.Store
}

// Close stops the registry and releases the lookup database, if one was
// opened.
func (e *Environment) Close() error {
	if e.Registry != nil {
		e.Registry.Close()
	}
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// NewEnvironment builds the plugins of cfg and registers them. Lookup plugins
// read from the SQLite database at dbPath; with an empty dbPath a config
// declaring lookups is rejected. opts are applied to the registry after the
// logger.
func NewEnvironment(cfg *compiler.Config, dbPath string, logger *slog.Logger, opts ...rewriter.Option) (*Environment, error) {
	env := &Environment{Config: cfg}

	var lookups compiler.Lookuper
	if dbPath != "" {
		st, err := store.Open(dbPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, ErrCodeDatabase+": failed to open database", err)
		}
		env.store = st
		lookups = st
	}

	mounts, err := compiler.Build(cfg, lookups)
	if err != nil {
		_ = env.Close()
		return nil, WrapExitError(ExitFailure, "invalid configuration", err)
	}
	env.Registry, err = rewriter.New(mounts, cfg.Source, append([]rewriter.Option{rewriter.WithLogger(logger)}, opts...)...)
	if err != nil {
		_ = env.Close()
		return nil, WrapExitError(ExitFailure, "invalid configuration", err)
	}
	return env, nil
}

// nopLookups satisfies lookup plugins when a configuration is only checked,
// never run.
type nopLookups struct{}

func (nopLookups) Lookup(context.Context, string, string, string, any) (any, bool, error) {
	return nil, false, errors.New("lookups are not available while validating")
}
