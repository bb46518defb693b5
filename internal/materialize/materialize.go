// Package materialize writes file blocks into a document's working directory
// and checks their formatting.
package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/eykd/suremd-go/internal/format"
	"github.com/eykd/suremd-go/internal/fsutil"
)

// FileBlock is the content of one non-console fenced block.
type FileBlock struct {
	// Target is the relative path named by the file marker. Empty for
	// anonymous blocks, which are never written.
	Target string
	// Name is the file name shown to the formatter: Target, or a synthesized
	// name for anonymous blocks.
	Name    string
	Content string
}

// Anonymous reports whether the block has no target path.
func (b FileBlock) Anonymous() bool {
	return b.Target == ""
}

// Outcome describes what Materialize did.
type Outcome struct {
	// Path is the absolute path written; empty for anonymous blocks.
	Path    string
	Written bool
	// Checked is true when a formatter handled the block's extension.
	Checked bool
	// Diff is the unified diff from the content to its formatted form.
	Diff string
	// FormatErr holds a formatter failure. It never fails the block.
	FormatErr error
}

// Materializer writes file blocks and offers them to a Formatter.
type Materializer struct {
	formatter format.Formatter
}

// New creates a Materializer. A nil formatter disables formatting checks.
func New(f format.Formatter) *Materializer {
	return &Materializer{formatter: f}
}

// Materialize writes b under dir, creating parent directories, then formats
// it. The returned error is non-nil only when the write failed.
func (m *Materializer) Materialize(ctx context.Context, dir string, b FileBlock) (Outcome, error) {
	var out Outcome
	if !b.Anonymous() {
		path := filepath.Join(dir, filepath.FromSlash(b.Target))
		if err := writeFile(path, b.Content); err != nil {
			return out, fmt.Errorf("writing %s: %w", b.Target, err)
		}
		out.Path = path
		out.Written = true
	}

	if m.formatter == nil {
		return out, nil
	}
	name := b.Name
	if name == "" {
		name = b.Target
	}
	res, err := m.formatter.Format(ctx, name, b.Content)
	if err != nil {
		out.FormatErr = err
		return out, nil
	}
	out.Checked = res.Supported
	if res.Changed(b.Content) {
		out.Diff = format.Diff(name, b.Content, res.Formatted)
	}
	return out, nil
}

// writeFile creates path's parent directories and replaces path with
// content.
func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return fsutil.WriteFileAtomic(path, []byte(content), 0o644)
}

// AnonymousName synthesizes a file name for an unlabelled block from the
// document's isolation name, the fence line and the fence suffix. The suffix
// goes through format.ExtensionForTag, so "{.python}" yields ".py".
func AnonymousName(isolation string, line int, suffix string) string {
	name := isolation + "_L" + strconv.Itoa(line)
	if ext := format.ExtensionForTag(suffix); ext != "" {
		name += "." + ext
	}
	return name
}
