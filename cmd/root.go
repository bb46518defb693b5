// Package cmd implements the suremd CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/eykd/suremd-go/internal/config"
	"github.com/eykd/suremd-go/internal/document"
	"github.com/eykd/suremd-go/internal/engine"
	"github.com/eykd/suremd-go/internal/fence"
	"github.com/eykd/suremd-go/internal/format"
	"github.com/eykd/suremd-go/internal/materialize"
	"github.com/eykd/suremd-go/internal/runner"
	"github.com/eykd/suremd-go/internal/workdir"
)

// NewRootCmd creates the root suremd command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := NewRunCmd(newDefaultRunIO())
	root.AddCommand(NewInitCmd(newDefaultInitIO()))
	root.AddCommand(NewFencesCmd(newDefaultFencesReader()))
	return root
}

// NewRunCmd creates the command that executes markdown documents. It is
// the root command: "suremd [paths...]".
func NewRunCmd(io RunIO) *cobra.Command {
	var (
		configPath string
		verbosity  int
		logFormat  string
		noColor    bool
		jsonMode   bool
		formats    extensionSet
	)

	cmd := &cobra.Command{
		Use:   "suremd [paths...]",
		Short: "suremd - run markdown documents as tests",
		Long: "suremd executes the console blocks of markdown documents, checks their\n" +
			"output against the expected lines in the document, and writes file\n" +
			"blocks to disk. Directories are searched recursively for *.md files.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, found, err := io.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !found && cmd.Flags().Changed("config") {
				return fmt.Errorf("config file %s not found", configPath)
			}
			applyFlags(cmd.Flags(), &cfg, formats)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(verbosity, logFormat, cmd.ErrOrStderr()).With("run", uuid.NewString())
			if found {
				logger.Info("loaded config", "path", configPath)
			}

			cwd, err := io.Getwd()
			if err != nil {
				return fmt.Errorf("getting working directory: %w", err)
			}
			stack, err := workdir.New(cwd)
			if err != nil {
				return fmt.Errorf("initializing working directory: %w", err)
			}

			if len(args) == 0 {
				args = []string{"."}
			}
			paths, err := io.FindDocuments(ctx, args, stack.Resolve(cfg.BuildDir))
			if err != nil {
				return fmt.Errorf("finding documents: %w", err)
			}
			if len(paths) == 0 {
				return fmt.Errorf("no markdown documents found in %v", args)
			}

			docs := make([]*document.Document, 0, len(paths))
			for _, p := range paths {
				doc, err := io.LoadDocument(p)
				if err != nil {
					return fmt.Errorf("loading document: %w", err)
				}
				docs = append(docs, doc)
			}

			eng, err := io.NewEngine(cfg, logger)
			if err != nil {
				return fmt.Errorf("configuring engine: %w", err)
			}

			printer := newReportPrinter(cmd.ErrOrStderr(), noColor || jsonMode)
			onReport := printer.Report
			if jsonMode {
				onReport = nil
			}
			sum, runErr := eng.RunBatch(ctx, stack, docs, onReport)

			var leak *workdir.LeakError
			if errors.As(runErr, &leak) {
				printer.Fatal(leak)
			}
			if runErr != nil {
				return fmt.Errorf("running documents: %w", runErr)
			}

			if jsonMode {
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(newRunOutput(sum)); err != nil {
					return fmt.Errorf("encoding output: %w", err)
				}
			} else {
				printer.Summary(sum)
			}
			if sum.Errors > 0 {
				return fmt.Errorf("%d error(s) in %d of %d document(s)", sum.Errors, len(sum.Failed()), len(sum.Reports))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringP("build-dir", "b", config.Default().BuildDir, "directory commands run under")
	f.Bool("single-dir", false, "run every document directly in the build directory")
	f.Bool("stop-on-error", true, "skip the rest of a document after its first failed block")
	f.Bool("fail-fast", false, "skip remaining documents after the first failed one")
	f.Var(&formats, "format", "check file blocks with these extensions using external formatters (comma-separated, repeatable, or \"all\")")
	f.String("file-marker", fence.DefaultMarkerKeyword, "keyword of file markers, as in \"# File: path\"")
	f.String("shell", runner.DefaultShell, "shell used to run commands")
	f.Duration("timeout", 0, "time limit per command (0 disables)")
	f.StringVar(&configPath, "config", config.DefaultPath, "configuration file")
	f.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	f.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	f.BoolVar(&noColor, "no-color", false, "disable colored output")
	f.BoolVar(&jsonMode, "json", false, "print the batch summary as JSON on stdout")

	return cmd
}

// applyFlags copies explicitly set flags over values from the config file.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config, formats extensionSet) {
	if flags.Changed("build-dir") {
		cfg.BuildDir, _ = flags.GetString("build-dir")
	}
	if flags.Changed("single-dir") {
		cfg.SingleDir, _ = flags.GetBool("single-dir")
	}
	if flags.Changed("stop-on-error") {
		cfg.StopOnError, _ = flags.GetBool("stop-on-error")
	}
	if flags.Changed("fail-fast") {
		cfg.FailFast, _ = flags.GetBool("fail-fast")
	}
	if flags.Changed("format") {
		cfg.Format = append([]string(nil), formats...)
	}
	if flags.Changed("file-marker") {
		cfg.FileMarker, _ = flags.GetString("file-marker")
	}
	if flags.Changed("shell") {
		cfg.Shell, _ = flags.GetString("shell")
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		cfg.Timeout = d.String()
	}
}

// newLogger builds the diagnostic logger: warnings by default, info with
// -v, debug with -vv.
func newLogger(verbosity int, formatStr string, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// BatchRunner runs a batch of documents.
type BatchRunner interface {
	RunBatch(ctx context.Context, stack *workdir.Stack, docs []*document.Document, onReport func(engine.Report)) (engine.Summary, error)
}

// RunIO handles I/O for the run command.
type RunIO interface {
	LoadConfig(path string) (config.Config, bool, error)
	Getwd() (string, error)
	FindDocuments(ctx context.Context, paths []string, buildDir string) ([]string, error)
	LoadDocument(path string) (*document.Document, error)
	NewEngine(cfg config.Config, logger *slog.Logger) (BatchRunner, error)
}

// fileRunIO implements RunIO using the OS and real shell processes.
type fileRunIO struct{}

func newDefaultRunIO() *fileRunIO {
	return &fileRunIO{}
}

func (f *fileRunIO) LoadConfig(path string) (config.Config, bool, error) {
	return config.Load(path)
}

func (f *fileRunIO) Getwd() (string, error) {
	return os.Getwd()
}

// FindDocuments expands paths into markdown documents.
func (f *fileRunIO) FindDocuments(ctx context.Context, paths []string, buildDir string) ([]string, error) {
	return FindDocumentsImpl(ctx, paths, buildDir)
}

func (f *fileRunIO) LoadDocument(path string) (*document.Document, error) {
	return document.Load(filepath.Clean(path))
}

// NewEngine wires the engine to a shell runner and external formatters.
func (f *fileRunIO) NewEngine(cfg config.Config, logger *slog.Logger) (BatchRunner, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	r := runner.New(runner.WithShell(cfg.Shell), runner.WithTimeout(timeout))
	files := materialize.New(format.NewExternal(cfg.Format))
	return engine.New(cfg.Engine(), r, files, logger), nil
}
