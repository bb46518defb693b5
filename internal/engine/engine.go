package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/eykd/suremd-go/internal/document"
	"github.com/eykd/suremd-go/internal/fence"
	"github.com/eykd/suremd-go/internal/match"
	"github.com/eykd/suremd-go/internal/materialize"
	"github.com/eykd/suremd-go/internal/runner"
	"github.com/eykd/suremd-go/internal/workdir"
)

// CommandRunner executes one command line in dir.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (runner.Result, error)
}

// FileMaterializer writes a file block under dir and checks its formatting.
type FileMaterializer interface {
	Materialize(ctx context.Context, dir string, b materialize.FileBlock) (materialize.Outcome, error)
}

// Engine runs documents through the block state machine. It never changes
// the process working directory; all side effects happen in the directory
// held by the workdir.Stack passed to each call.
type Engine struct {
	cfg    Config
	runner CommandRunner
	files  FileMaterializer
	marker *fence.Marker
	logger *slog.Logger
}

// New creates an Engine. A nil logger discards log output.
func New(cfg Config, r CommandRunner, files FileMaterializer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		cfg:    cfg,
		runner: r,
		files:  files,
		marker: fence.NewMarker(cfg.MarkerKeyword),
		logger: logger,
	}
}

// RunDocument executes doc in its isolation directory under the stack's
// current directory, or in the current directory itself in single-dir
// mode. The stack depth is the same on return as on entry.
func (e *Engine) RunDocument(ctx context.Context, stack *workdir.Stack, doc *document.Document) Report {
	r := &docRun{
		eng:    e,
		ctx:    ctx,
		stack:  stack,
		doc:    doc,
		state:  idle{},
		report: Report{Document: doc.Display},
		logger: e.logger.With("document", doc.Display),
	}

	target := doc.IsolationName()
	if e.cfg.SingleDir {
		target = "."
	}
	if err := stack.Push(target); err != nil {
		r.addError(SMD003, 0, fmt.Sprintf("creating working directory: %v", err), "")
		return r.report
	}
	defer func() {
		if err := stack.Pop(); err != nil {
			r.logger.Error("restoring directory", "err", err)
		}
	}()

	r.logger.Info("running document", "dir", stack.Dir())
	r.run()
	r.logger.Info("document finished", "errors", r.report.Errors, "warnings", r.report.Warnings)
	return r.report
}

// docRun is the mutable state of one RunDocument call.
type docRun struct {
	eng     *Engine
	ctx     context.Context
	stack   *workdir.Stack
	doc     *document.Document
	state   state
	report  Report
	logger  *slog.Logger
	aborted bool
}

func (r *docRun) run() {
	for i := range r.doc.Lines {
		if _, ok := r.state.(idle); ok {
			if err := r.ctx.Err(); err != nil {
				r.logger.Warn("run cancelled", "line", i+1, "err", err)
				r.report.Aborted = true
				return
			}
		}
		r.step(i)
		if r.aborted {
			r.report.Aborted = true
			r.unwind()
			return
		}
	}
	r.endOfDocument()
}

// step feeds line i (0-based) to the state machine.
func (r *docRun) step(i int) {
	line := r.doc.Lines[i]
	lineNo := i + 1
	kind, tag := fence.Classify(line)

	switch s := r.state.(type) {
	case idle:
		switch kind {
		case fence.KindConsole:
			if err := r.stack.Push("."); err != nil {
				r.addError(SMD001, lineNo, fmt.Sprintf("saving working directory: %v", err), "")
				r.failBlock()
				return
			}
			r.transition(&runningCommand{fenceLine: lineNo})
		case fence.KindFile:
			r.transition(&creatingFile{fenceLine: lineNo, suffix: tag})
		}

	case *runningCommand:
		if kind == fence.KindClose {
			r.closeConsole()
			return
		}
		r.runCommand(s.fenceLine, line, lineNo)

	case *awaitingOutput:
		if kind == fence.KindClose {
			r.closeConsole()
			return
		}
		if fence.IsPrompt(line) {
			r.transition(&runningCommand{fenceLine: s.fenceLine})
			r.runCommand(s.fenceLine, line, lineNo)
			return
		}
		if strings.TrimSpace(line) == "" {
			return
		}
		if !s.matcher.Expect(line) {
			detail := fmt.Sprintf("pattern: %s\nremaining output:\n%s", match.Pattern(line), s.matcher.Remaining())
			r.addError(SMD002, lineNo,
				fmt.Sprintf("expected %q in output of %q", strings.TrimSpace(line), s.command), detail)
			r.transition(&failingCommand{fenceLine: s.fenceLine})
			return
		}
		r.logger.Info("found line", "line", lineNo, "expected", strings.TrimSpace(line))

	case *failingCommand:
		if kind == fence.KindClose {
			r.closeConsole()
			r.failBlock()
			return
		}
		if !r.eng.cfg.StopOnError && fence.IsPrompt(line) {
			r.transition(&runningCommand{fenceLine: s.fenceLine})
			r.runCommand(s.fenceLine, line, lineNo)
		}

	case *creatingFile:
		if kind == fence.KindClose {
			r.logger.Debug("empty file block", "line", s.fenceLine)
			r.transition(idle{})
			return
		}
		acc := &accumulatingFile{fenceLine: s.fenceLine, suffix: s.suffix}
		if target, ok := r.eng.marker.Parse(line); ok {
			acc.target = target
		} else {
			acc.content.WriteString(r.doc.Line(i))
		}
		r.transition(acc)

	case *accumulatingFile:
		if kind == fence.KindClose {
			r.transition(idle{})
			r.finishFile(s)
			return
		}
		s.content.WriteString(r.doc.Line(i))
	}
}

// runCommand executes the command on a prompt line. Lines that are not
// prompts are ignored.
func (r *docRun) runCommand(fenceLine int, line string, lineNo int) {
	command, ok := fence.ParseCommand(line)
	if !ok {
		return
	}
	dir := r.stack.Dir()
	r.logger.Info("running command", "line", lineNo, "command", command, "dir", dir)

	res, err := r.eng.runner.Run(r.ctx, dir, command)
	if err != nil {
		r.addError(SMD001, lineNo, fmt.Sprintf("command %q could not be run: %v", command, err), "")
		r.transition(&failingCommand{fenceLine: fenceLine})
		return
	}
	if !res.SentinelFound {
		r.logger.Debug("directory sentinel missing, assuming unchanged", "line", lineNo)
	} else if res.Dir != dir {
		r.logger.Debug("changing directory", "from", dir, "to", res.Dir)
		r.stack.Cd(res.Dir)
	}

	switch {
	case res.TimedOut:
		r.addError(SMD001, lineNo, fmt.Sprintf("command %q timed out", command), res.Stdout)
		r.transition(&failingCommand{fenceLine: fenceLine})
	case res.ExitCode != 0:
		r.addError(SMD001, lineNo, fmt.Sprintf("command %q exited with status %d", command, res.ExitCode), res.Stdout)
		r.transition(&failingCommand{fenceLine: fenceLine})
	default:
		r.transition(&awaitingOutput{
			fenceLine: fenceLine,
			command:   command,
			matcher:   match.New(res.Stdout),
		})
	}
}

// closeConsole restores the directory saved when the console block opened.
func (r *docRun) closeConsole() {
	if err := r.stack.Pop(); err != nil {
		r.logger.Error("restoring directory", "err", err)
	}
	r.transition(idle{})
}

// finishFile materializes a completed file block.
func (r *docRun) finishFile(s *accumulatingFile) {
	block := materialize.FileBlock{Target: s.target, Name: s.target, Content: s.content.String()}
	if block.Anonymous() {
		block.Name = materialize.AnonymousName(r.doc.IsolationName(), s.fenceLine, s.suffix)
	}
	out, err := r.eng.files.Materialize(r.ctx, r.stack.Dir(), block)
	if err != nil {
		r.addError(SMD003, s.fenceLine, err.Error(), "")
		r.failBlock()
		return
	}
	if out.Written {
		r.logger.Debug("wrote file", "path", out.Path)
	}
	if out.FormatErr != nil {
		r.addWarning(SMDW003, s.fenceLine, fmt.Sprintf("formatting %s: %v", block.Name, out.FormatErr), "")
	}
	if out.Diff != "" {
		r.addWarning(SMDW001, s.fenceLine, fmt.Sprintf("%s is not formatted", block.Name), out.Diff)
	}
}

// endOfDocument closes a block left open by a missing fence.
func (r *docRun) endOfDocument() {
	if _, ok := r.state.(idle); ok {
		return
	}
	line := r.state.opened()
	if inConsole(r.state) {
		r.addWarning(SMDW002, line, "console block is never closed", "")
	} else {
		r.addWarning(SMDW002, line, "file block is never closed; content discarded", "")
	}
	r.unwind()
}

// unwind pops the save point of an open console block and returns to idle.
func (r *docRun) unwind() {
	if inConsole(r.state) {
		r.closeConsole()
		return
	}
	r.transition(idle{})
}

// failBlock aborts the document when stop-on-error is set.
func (r *docRun) failBlock() {
	if r.eng.cfg.StopOnError {
		r.aborted = true
	}
}

func (r *docRun) transition(next state) {
	r.logger.Debug("state", "from", stateName(r.state), "to", stateName(next))
	r.state = next
}

func (r *docRun) addError(code Code, line int, msg, detail string) {
	r.add(Diagnostic{Severity: SeverityError, Code: code, Message: msg, Detail: detail,
		Location: Location{Path: r.doc.Display, Line: line}})
	r.report.Errors++
}

func (r *docRun) addWarning(code Code, line int, msg, detail string) {
	r.add(Diagnostic{Severity: SeverityWarning, Code: code, Message: msg, Detail: detail,
		Location: Location{Path: r.doc.Display, Line: line}})
	r.report.Warnings++
}

func (r *docRun) add(d Diagnostic) {
	r.logger.Debug("diagnostic", "code", d.Code, "line", d.Location.Line, "message", d.Message)
	r.report.Diagnostics = append(r.report.Diagnostics, d)
}
