// Package format offers file-block content to external code formatters and
// renders the differences as unified diffs.
package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// All enables every known extension when passed in the extension list.
const All = "all"

// ErrToolFailed wraps failures of the external formatter process.
var ErrToolFailed = errors.New("formatter failed")

// Result is the outcome of a Format call. Supported is false when no
// formatter applies to the file name; Formatted is then empty.
type Result struct {
	Formatted string
	Supported bool
}

// Changed reports whether formatting would modify content.
func (r Result) Changed(content string) bool {
	return r.Supported && r.Formatted != content
}

// Formatter formats file contents chosen by file name.
type Formatter interface {
	Format(ctx context.Context, name, content string) (Result, error)
}

// Tool is an external formatter reading content on stdin and writing the
// formatted content on stdout. "{name}" in Args is replaced by the file name.
type Tool struct {
	Command string
	Args    []string
}

// DefaultTools maps lowercase extensions to their formatter.
var DefaultTools = map[string]Tool{
	"c":    {Command: "clang-format", Args: []string{"--assume-filename={name}"}},
	"h":    {Command: "clang-format", Args: []string{"--assume-filename={name}"}},
	"cc":   {Command: "clang-format", Args: []string{"--assume-filename={name}"}},
	"cpp":  {Command: "clang-format", Args: []string{"--assume-filename={name}"}},
	"hpp":  {Command: "clang-format", Args: []string{"--assume-filename={name}"}},
	"py":   {Command: "black", Args: []string{"-q", "-"}},
	"sh":   {Command: "shfmt", Args: []string{"-i", "4", "-"}},
	"bash": {Command: "shfmt", Args: []string{"-i", "4", "-"}},
	"go":   {Command: "gofmt"},
}

// TagAliases maps fence language tags to the extension their formatter is
// registered under.
var TagAliases = map[string]string{
	"python":  "py",
	"python3": "py",
	"shell":   "sh",
	"golang":  "go",
	"c++":     "cpp",
	"cxx":     "cpp",
}

var nonWord = regexp.MustCompile(`\W+`)

// ExtensionForTag turns a fence tag such as "python" or "{.c++}" into a file
// extension ("py", "cpp"). Only the first word of the tag is used; unknown
// tags keep their word characters.
func ExtensionForTag(tag string) string {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return ""
	}
	t := strings.ToLower(strings.Trim(fields[0], "{}."))
	if ext, ok := TagAliases[t]; ok {
		return ext
	}
	return nonWord.ReplaceAllString(t, "")
}

// execFunc runs name with args, feeding stdin, and returns stdout.
type execFunc func(ctx context.Context, stdin, name string, args ...string) (string, error)

// External dispatches to command-line formatters for enabled extensions.
type External struct {
	tools   map[string]Tool
	enabled map[string]bool
	all     bool
	exec    execFunc
}

// Option configures an External formatter.
type Option func(*External)

// WithTool registers or replaces the tool for ext.
func WithTool(ext string, tool Tool) Option {
	return func(f *External) {
		f.tools[normalizeExt(ext)] = tool
	}
}

// NewExternal enables formatting for the given extensions. Entries may be
// comma-separated lists; "all" enables every extension with a tool.
func NewExternal(extensions []string, opts ...Option) *External {
	f := &External{
		tools:   make(map[string]Tool, len(DefaultTools)),
		enabled: make(map[string]bool),
		exec:    runTool,
	}
	for ext, tool := range DefaultTools {
		f.tools[ext] = tool
	}
	for _, ext := range SplitExtensions(extensions) {
		if ext == All {
			f.all = true
			continue
		}
		f.enabled[ext] = true
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enabled reports whether files with extension ext are formatted.
func (f *External) Enabled(ext string) bool {
	ext = normalizeExt(ext)
	if _, ok := f.tools[ext]; !ok {
		return false
	}
	return f.all || f.enabled[ext]
}

// Extensions returns the enabled extensions that have a tool, sorted.
func (f *External) Extensions() []string {
	var exts []string
	for ext := range f.tools {
		if f.Enabled(ext) {
			exts = append(exts, ext)
		}
	}
	sort.Strings(exts)
	return exts
}

// Format runs the tool registered for name's extension.
func (f *External) Format(ctx context.Context, name, content string) (Result, error) {
	ext := normalizeExt(filepath.Ext(name))
	if ext == "" || !f.Enabled(ext) {
		return Result{}, nil
	}
	tool := f.tools[ext]
	args := make([]string, len(tool.Args))
	for i, a := range tool.Args {
		args[i] = strings.ReplaceAll(a, "{name}", name)
	}
	out, err := f.exec(ctx, content, tool.Command, args...)
	if err != nil {
		return Result{}, fmt.Errorf("%s %s: %w", tool.Command, name, err)
	}
	return Result{Formatted: out, Supported: true}, nil
}

// runTool is the execFunc backed by os/exec.
func runTool(ctx context.Context, stdin, name string, args ...string) (string, error) {
	c := exec.CommandContext(ctx, name, args...)
	c.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%w: %s", ErrToolFailed, msg)
	}
	return stdout.String(), nil
}

// SplitExtensions flattens comma-separated extension lists, lowercasing
// entries and dropping leading dots and blanks.
func SplitExtensions(lists []string) []string {
	var exts []string
	for _, list := range lists {
		for _, ext := range strings.Split(list, ",") {
			if ext = normalizeExt(ext); ext != "" {
				exts = append(exts, ext)
			}
		}
	}
	return exts
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Diff returns a unified diff from before to after labelled a/name and
// b/name. It returns "" when the inputs are equal.
func Diff(name, before, after string) string {
	if before == after {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("diff unavailable: %v", err)
	}
	return diff
}
