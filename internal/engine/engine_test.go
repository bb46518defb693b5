package engine_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/eykd/suremd-go/internal/document"
	"github.com/eykd/suremd-go/internal/engine"
	"github.com/eykd/suremd-go/internal/materialize"
	"github.com/eykd/suremd-go/internal/runner"
	"github.com/eykd/suremd-go/internal/workdir"
)

// call records one command run by fakeRunner.
type call struct {
	dir     string
	command string
}

// fakeRunner returns canned results keyed by command text.
type fakeRunner struct {
	calls    []call
	outputs  map[string]string
	exits    map[string]int
	cds      map[string]string // command -> subdirectory it moves into
	errs     map[string]error
	timeouts map[string]bool
	// onRun, when set, runs before each command.
	onRun func(dir, command string)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs:  make(map[string]string),
		exits:    make(map[string]int),
		cds:      make(map[string]string),
		errs:     make(map[string]error),
		timeouts: make(map[string]bool),
	}
}

func (f *fakeRunner) Run(_ context.Context, dir, command string) (runner.Result, error) {
	f.calls = append(f.calls, call{dir: dir, command: command})
	if f.onRun != nil {
		f.onRun(dir, command)
	}
	if err, ok := f.errs[command]; ok {
		return runner.Result{Dir: dir}, err
	}
	res := runner.Result{
		Stdout:        f.outputs[command],
		ExitCode:      f.exits[command],
		Dir:           dir,
		SentinelFound: true,
	}
	if f.timeouts[command] {
		res.ExitCode = -1
		res.TimedOut = true
	}
	if sub, ok := f.cds[command]; ok {
		res.Dir = filepath.Join(dir, sub)
	}
	return res, nil
}

func (f *fakeRunner) commands() []string {
	var out []string
	for _, c := range f.calls {
		out = append(out, c.command)
	}
	return out
}

// fakeFiles records file blocks instead of writing them.
type fakeFiles struct {
	blocks  []materialize.FileBlock
	dirs    []string
	outcome materialize.Outcome
	err     error
}

func (f *fakeFiles) Materialize(_ context.Context, dir string, b materialize.FileBlock) (materialize.Outcome, error) {
	f.blocks = append(f.blocks, b)
	f.dirs = append(f.dirs, dir)
	return f.outcome, f.err
}

func newDoc(src string) *document.Document {
	return document.New("/docs/guide.md", "guide.md", []byte(src))
}

func newStack(t *testing.T) *workdir.Stack {
	t.Helper()
	s, err := workdir.New(t.TempDir())
	if err != nil {
		t.Fatalf("workdir.New: %v", err)
	}
	return s
}

func newEngine(cfg engine.Config, r engine.CommandRunner, f engine.FileMaterializer) *engine.Engine {
	if f == nil {
		f = &fakeFiles{}
	}
	return engine.New(cfg, r, f, nil)
}

func codes(rep engine.Report) []engine.Code {
	var out []engine.Code
	for _, d := range rep.Diagnostics {
		out = append(out, d.Code)
	}
	return out
}

func TestRunDocument_NoBlocks(t *testing.T) {
	r := newFakeRunner()
	rep := newEngine(engine.DefaultConfig(), r, nil).
		RunDocument(context.Background(), newStack(t), newDoc("# Title\n\nJust prose.\n"))

	if rep.Errors != 0 || rep.Warnings != 0 || len(rep.Diagnostics) != 0 {
		t.Errorf("report = %+v, want clean", rep)
	}
	if len(r.calls) != 0 {
		t.Errorf("runner called %d times, want 0", len(r.calls))
	}
}

func TestRunDocument_OutputMatching(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		expected   string
		wantErrors int
	}{
		{name: "exact", output: "hello\n", expected: "hello", wantErrors: 0},
		{name: "wildcard", output: "hello\n", expected: "he...o", wantErrors: 0},
		{name: "in order with noise", output: "a\nx\nb\n", expected: "a\nb", wantErrors: 0},
		{name: "wrong order", output: "b\na\n", expected: "a\nb", wantErrors: 1},
		{name: "missing", output: "hello\n", expected: "goodbye", wantErrors: 1},
		{name: "blank expectations ignored", output: "a\n", expected: "\na\n\n", wantErrors: 0},
		{name: "no expectations", output: "ignored\n", expected: "", wantErrors: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			r.outputs["cmd"] = tt.output
			src := "```console\n$ cmd\n" + tt.expected + "\n```\n"

			rep := newEngine(engine.DefaultConfig(), r, nil).
				RunDocument(context.Background(), newStack(t), newDoc(src))

			if rep.Errors != tt.wantErrors {
				t.Errorf("Errors = %d, want %d; diagnostics %v", rep.Errors, tt.wantErrors, rep.Diagnostics)
			}
			for _, d := range rep.Diagnostics {
				if d.Code != engine.SMD002 {
					t.Errorf("unexpected diagnostic %v", d)
				}
			}
		})
	}
}

func TestRunDocument_MismatchDiagnostic(t *testing.T) {
	r := newFakeRunner()
	r.outputs["cmd"] = "actual\n"
	src := "intro\n```console\n$ cmd\nexpected\n```\n"

	rep := newEngine(engine.DefaultConfig(), r, nil).
		RunDocument(context.Background(), newStack(t), newDoc(src))

	if len(rep.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v, want one", rep.Diagnostics)
	}
	d := rep.Diagnostics[0]
	if d.Severity != engine.SeverityError || d.Location != (engine.Location{Path: "guide.md", Line: 4}) {
		t.Errorf("diagnostic = %+v", d)
	}
	if !strings.Contains(d.Detail, "actual") || !strings.Contains(d.Detail, "pattern:") {
		t.Errorf("Detail = %q, want pattern and remaining output", d.Detail)
	}
}

func TestRunDocument_StopOnError(t *testing.T) {
	src := "```console\n$ fail\n$ after\n```\n\n```console\n$ second\n```\n"

	tests := []struct {
		name         string
		stopOnError  bool
		wantCommands []string
		wantAborted  bool
	}{
		{name: "stop", stopOnError: true, wantCommands: []string{"fail"}, wantAborted: true},
		{name: "continue", stopOnError: false, wantCommands: []string{"fail", "after", "second"}, wantAborted: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			r.exits["fail"] = 1
			cfg := engine.DefaultConfig()
			cfg.StopOnError = tt.stopOnError

			rep := newEngine(cfg, r, nil).RunDocument(context.Background(), newStack(t), newDoc(src))

			if rep.Errors != 1 {
				t.Errorf("Errors = %d, want 1", rep.Errors)
			}
			if rep.Aborted != tt.wantAborted {
				t.Errorf("Aborted = %v, want %v", rep.Aborted, tt.wantAborted)
			}
			if diff := cmp.Diff(tt.wantCommands, r.commands()); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunDocument_ErrorsAccumulateWithoutStopOnError(t *testing.T) {
	r := newFakeRunner()
	r.exits["a"] = 2
	r.exits["b"] = 3
	r.outputs["c"] = "x\n"
	src := "```console\n$ a\n```\n```console\n$ b\n```\n```console\n$ c\ny\n```\n"
	cfg := engine.DefaultConfig()
	cfg.StopOnError = false

	rep := newEngine(cfg, r, nil).RunDocument(context.Background(), newStack(t), newDoc(src))

	want := []engine.Code{engine.SMD001, engine.SMD001, engine.SMD002}
	if diff := cmp.Diff(want, codes(rep)); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
	if rep.Errors != 3 {
		t.Errorf("Errors = %d, want 3", rep.Errors)
	}
}

func TestRunDocument_FailedCommandSkipsItsExpectations(t *testing.T) {
	r := newFakeRunner()
	r.exits["fail"] = 1
	src := "```console\n$ fail\nthis is never checked\n```\n"
	cfg := engine.DefaultConfig()
	cfg.StopOnError = false

	rep := newEngine(cfg, r, nil).RunDocument(context.Background(), newStack(t), newDoc(src))

	if diff := cmp.Diff([]engine.Code{engine.SMD001}, codes(rep)); diff != "" {
		t.Errorf("codes mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDocument_CommandFailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeRunner)
		wantMsg string
	}{
		{
			name:    "nonzero exit",
			setup:   func(r *fakeRunner) { r.exits["cmd"] = 7 },
			wantMsg: "exited with status 7",
		},
		{
			name:    "timeout",
			setup:   func(r *fakeRunner) { r.timeouts["cmd"] = true },
			wantMsg: "timed out",
		},
		{
			name:    "spawn failure",
			setup:   func(r *fakeRunner) { r.errs["cmd"] = errors.New("no shell") },
			wantMsg: "no shell",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			tt.setup(r)
			rep := newEngine(engine.DefaultConfig(), r, nil).
				RunDocument(context.Background(), newStack(t), newDoc("```console\n$ cmd\n```\n"))

			if len(rep.Diagnostics) != 1 || rep.Diagnostics[0].Code != engine.SMD001 {
				t.Fatalf("diagnostics = %v, want one SMD001", rep.Diagnostics)
			}
			if !strings.Contains(rep.Diagnostics[0].Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", rep.Diagnostics[0].Message, tt.wantMsg)
			}
			if rep.Diagnostics[0].Location.Line != 2 {
				t.Errorf("Line = %d, want 2", rep.Diagnostics[0].Location.Line)
			}
		})
	}
}

func TestRunDocument_CommandsRunInIsolationDir(t *testing.T) {
	tests := []struct {
		name      string
		singleDir bool
		wantSub   string
	}{
		{name: "isolated", singleDir: false, wantSub: "guide.md"},
		{name: "single dir", singleDir: true, wantSub: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := newStack(t)
			base := stack.Dir()
			r := newFakeRunner()
			cfg := engine.DefaultConfig()
			cfg.SingleDir = tt.singleDir

			newEngine(cfg, r, nil).RunDocument(context.Background(), stack, newDoc("```console\n$ pwd\n```\n"))

			want := filepath.Join(base, tt.wantSub)
			if len(r.calls) != 1 || r.calls[0].dir != want {
				t.Errorf("calls = %v, want one in %s", r.calls, want)
			}
			if stack.Dir() != base {
				t.Errorf("stack dir = %s after run, want %s", stack.Dir(), base)
			}
		})
	}
}

func TestRunDocument_CdLastsUntilClosingFence(t *testing.T) {
	stack := newStack(t)
	r := newFakeRunner()
	r.cds["cd sub"] = "sub"
	src := "```console\n$ cd sub\n$ inside\n```\n```console\n$ outside\n```\n"

	newEngine(engine.DefaultConfig(), r, nil).RunDocument(context.Background(), stack, newDoc(src))

	iso := filepath.Join(stack.Dir(), "guide.md")
	want := []call{
		{dir: iso, command: "cd sub"},
		{dir: filepath.Join(iso, "sub"), command: "inside"},
		{dir: iso, command: "outside"},
	}
	if diff := cmp.Diff(want, r.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDocument_CdUpIsRestored(t *testing.T) {
	stack := newStack(t)
	base := stack.Dir()
	r := newFakeRunner()
	r.cds["cd .."] = ".."
	src := "```console\n$ cd ..\n```\n```console\n$ where\n```\n"

	newEngine(engine.DefaultConfig(), r, nil).RunDocument(context.Background(), stack, newDoc(src))

	if got := r.calls[1].dir; got != filepath.Join(base, "guide.md") {
		t.Errorf("second block ran in %s, want isolation dir", got)
	}
	if stack.Dir() != base || stack.Depth() != 0 {
		t.Errorf("stack = %s depth %d, want %s depth 0", stack.Dir(), stack.Depth(), base)
	}
}

func TestRunDocument_FileBlocks(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []materialize.FileBlock
	}{
		{
			name: "labelled",
			src:  "```python\n# File: pkg/app.py\nprint(1)\n```\n",
			want: []materialize.FileBlock{{Target: "pkg/app.py", Name: "pkg/app.py", Content: "print(1)\n"}},
		},
		{
			name: "anonymous keeps first line",
			src:  "text\n```python\nprint(1)\nprint(2)\n```\n",
			want: []materialize.FileBlock{{Name: "guide.md_L2.py", Content: "print(1)\nprint(2)\n"}},
		},
		{
			name: "malformed marker is content",
			src:  "```c\n// File: ../escape.c\nint x;\n```\n",
			want: []materialize.FileBlock{{Name: "guide.md_L1.c", Content: "// File: ../escape.c\nint x;\n"}},
		},
		{
			name: "marker only",
			src:  "```text\n# File: empty.txt\n```\n",
			want: []materialize.FileBlock{{Target: "empty.txt", Name: "empty.txt", Content: ""}},
		},
		{
			name: "empty block",
			src:  "```text\n```\n",
			want: nil,
		},
		{
			name: "nested fence opener is content",
			src:  "```markdown\n<!-- File: inner.md -->\n```console\n$ echo hi\n```\n",
			want: []materialize.FileBlock{{Target: "inner.md", Name: "inner.md", Content: "```console\n$ echo hi\n"}},
		},
		{
			name: "CRLF preserved",
			src:  "```text\r\n# File: a.txt\r\nx\r\n```\r\n",
			want: []materialize.FileBlock{{Target: "a.txt", Name: "a.txt", Content: "x\r\n"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRunner()
			files := &fakeFiles{}
			rep := newEngine(engine.DefaultConfig(), r, files).
				RunDocument(context.Background(), newStack(t), newDoc(tt.src))

			if rep.Errors != 0 {
				t.Errorf("Errors = %d, diagnostics %v", rep.Errors, rep.Diagnostics)
			}
			if diff := cmp.Diff(tt.want, files.blocks); diff != "" {
				t.Errorf("blocks mismatch (-want +got):\n%s", diff)
			}
			if len(r.calls) != 0 {
				t.Errorf("commands ran inside a file block: %v", r.commands())
			}
		})
	}
}

func TestRunDocument_CustomMarkerKeyword(t *testing.T) {
	files := &fakeFiles{}
	cfg := engine.DefaultConfig()
	cfg.MarkerKeyword = "Path"
	src := "```go\n// Path: main.go\npackage main\n```\n"

	newEngine(cfg, newFakeRunner(), files).RunDocument(context.Background(), newStack(t), newDoc(src))

	if len(files.blocks) != 1 || files.blocks[0].Target != "main.go" {
		t.Errorf("blocks = %+v, want target main.go", files.blocks)
	}
}

func TestRunDocument_FilesWrittenInCurrentDir(t *testing.T) {
	stack := newStack(t)
	base := stack.Dir()
	files := &fakeFiles{}
	r := newFakeRunner()
	src := "```text\n# File: a.txt\na\n```\n"

	newEngine(engine.DefaultConfig(), r, files).RunDocument(context.Background(), stack, newDoc(src))

	if want := filepath.Join(base, "guide.md"); len(files.dirs) != 1 || files.dirs[0] != want {
		t.Errorf("dirs = %v, want [%s]", files.dirs, want)
	}
}

func TestRunDocument_FileOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		outcome      materialize.Outcome
		err          error
		wantCodes    []engine.Code
		wantErrors   int
		wantWarnings int
	}{
		{
			name:      "clean",
			outcome:   materialize.Outcome{Written: true, Checked: true},
			wantCodes: nil,
		},
		{
			name:         "formatting difference is a warning",
			outcome:      materialize.Outcome{Written: true, Checked: true, Diff: "--- a/a.py\n+++ b/a.py\n"},
			wantCodes:    []engine.Code{engine.SMDW001},
			wantWarnings: 1,
		},
		{
			name:         "formatter failure is a warning",
			outcome:      materialize.Outcome{Written: true, FormatErr: errors.New("black: not found")},
			wantCodes:    []engine.Code{engine.SMDW003},
			wantWarnings: 1,
		},
		{
			name:       "write failure is an error",
			err:        errors.New("permission denied"),
			wantCodes:  []engine.Code{engine.SMD003},
			wantErrors: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := &fakeFiles{outcome: tt.outcome, err: tt.err}
			src := "```python\n# File: a.py\nx=1\n```\n"

			rep := newEngine(engine.DefaultConfig(), newFakeRunner(), files).
				RunDocument(context.Background(), newStack(t), newDoc(src))

			if diff := cmp.Diff(tt.wantCodes, codes(rep)); diff != "" {
				t.Errorf("codes mismatch (-want +got):\n%s", diff)
			}
			if rep.Errors != tt.wantErrors || rep.Warnings != tt.wantWarnings {
				t.Errorf("Errors/Warnings = %d/%d, want %d/%d",
					rep.Errors, rep.Warnings, tt.wantErrors, tt.wantWarnings)
			}
		})
	}
}

func TestRunDocument_WriteFailureStopsDocument(t *testing.T) {
	r := newFakeRunner()
	files := &fakeFiles{err: errors.New("disk full")}
	src := "```text\n# File: a.txt\na\n```\n```console\n$ later\n```\n"

	rep := newEngine(engine.DefaultConfig(), r, files).RunDocument(context.Background(), newStack(t), newDoc(src))

	if !rep.Aborted || len(r.calls) != 0 {
		t.Errorf("Aborted = %v, calls = %v; want aborted with no commands", rep.Aborted, r.calls)
	}
}

func TestRunDocument_UnterminatedBlocks(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		wantBlocks int
		wantErrors int
	}{
		{name: "console", src: "```console\n$ echo hi\nhi\n", wantErrors: 0},
		{name: "failing console", src: "```console\n$ fail\n", wantErrors: 1},
		{name: "file content discarded", src: "```text\n# File: a.txt\nabc\n", wantBlocks: 0},
		{name: "file fence only", src: "```text\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := newStack(t)
			base := stack.Dir()
			r := newFakeRunner()
			r.outputs["echo hi"] = "hi\n"
			r.exits["fail"] = 1
			files := &fakeFiles{}

			rep := newEngine(engine.DefaultConfig(), r, files).RunDocument(context.Background(), stack, newDoc(tt.src))

			if rep.Warnings != 1 || rep.Diagnostics[len(rep.Diagnostics)-1].Code != engine.SMDW002 {
				t.Errorf("diagnostics = %v, want trailing SMDW002", rep.Diagnostics)
			}
			if rep.Errors != tt.wantErrors {
				t.Errorf("Errors = %d, want %d", rep.Errors, tt.wantErrors)
			}
			if len(files.blocks) != tt.wantBlocks {
				t.Errorf("materialized %d blocks, want %d", len(files.blocks), tt.wantBlocks)
			}
			if stack.Depth() != 0 || stack.Dir() != base {
				t.Errorf("stack not restored: depth %d dir %s", stack.Depth(), stack.Dir())
			}
		})
	}
}

func TestRunDocument_StrayClosingFenceIgnored(t *testing.T) {
	r := newFakeRunner()
	rep := newEngine(engine.DefaultConfig(), r, nil).
		RunDocument(context.Background(), newStack(t), newDoc("```\n```console\n$ ok\n```\n"))

	if rep.Errors != 0 || len(r.calls) != 1 {
		t.Errorf("report = %+v calls = %v", rep, r.calls)
	}
}

func TestRunDocument_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newFakeRunner()

	rep := newEngine(engine.DefaultConfig(), r, nil).RunDocument(ctx, newStack(t), newDoc("```console\n$ cmd\n```\n"))

	if !rep.Aborted || len(r.calls) != 0 {
		t.Errorf("Aborted = %v calls = %v, want aborted before any command", rep.Aborted, r.calls)
	}
}

func TestRunDocument_PromptWithoutCommandIgnored(t *testing.T) {
	r := newFakeRunner()
	rep := newEngine(engine.DefaultConfig(), r, nil).
		RunDocument(context.Background(), newStack(t), newDoc("```console\n$\n$   \nnot a prompt\n```\n"))

	if rep.Errors != 0 || len(r.calls) != 0 {
		t.Errorf("report = %+v calls = %v", rep, r.calls)
	}
}

func TestRunDocument_LogsMatchedLines(t *testing.T) {
	r := newFakeRunner()
	r.outputs["cmd"] = "alpha\nbeta\n"
	buf := new(bytes.Buffer)
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	e := engine.New(engine.DefaultConfig(), r, &fakeFiles{}, logger)

	rep := e.RunDocument(context.Background(), newStack(t), newDoc("```console\n$ cmd\nalpha\nbeta\n```\n"))

	if rep.Errors != 0 {
		t.Fatalf("Errors = %d, want 0: %v", rep.Errors, rep.Diagnostics)
	}
	logs := buf.String()
	if got := strings.Count(logs, `msg="found line"`); got != 2 {
		t.Errorf("found-line records = %d, want 2:\n%s", got, logs)
	}
	if !strings.Contains(logs, "expected=beta") || !strings.Contains(logs, "line=4") {
		t.Errorf("log missing matched line details:\n%s", logs)
	}
}
