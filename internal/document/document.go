// Package document loads markdown documents for execution.
package document

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxSize is the largest document Load accepts (10 MB).
const MaxSize = 10 * 1024 * 1024

// ErrTooLarge is returned by ReadFile for documents over MaxSize.
var ErrTooLarge = errors.New("document exceeds the 10 MB size limit")

// Document is a markdown file read once for a run. Lines do not include
// their endings; Ends[i] holds the ending of Lines[i] ("\n", "\r\n", "\r",
// or "" for a final line without one).
type Document struct {
	// Path is the absolute path of the file.
	Path string
	// Display is the path as the user supplied or discovered it.
	Display string
	// Lines holds the document text split into lines.
	Lines []string
	// Ends holds the line ending of each line.
	Ends []string
}

// New builds a Document from source bytes.
func New(absPath, display string, src []byte) *Document {
	lines, ends := splitLines(src)
	return &Document{Path: absPath, Display: display, Lines: lines, Ends: ends}
}

// Load reads the file at display (relative to the process working
// directory or absolute).
func Load(display string) (*Document, error) {
	abs, err := filepath.Abs(display)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", display, err)
	}
	src, err := ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", display, err)
	}
	return New(abs, display, src), nil
}

// ReadFile reads at most MaxSize bytes from path, failing with ErrTooLarge
// when the file is bigger.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	src, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(src) > MaxSize {
		return nil, ErrTooLarge
	}
	return src, nil
}

// Line returns line i (0-based) with its original ending.
func (d *Document) Line(i int) string {
	return d.Lines[i] + d.Ends[i]
}

// IsolationName is the name of the per-document directory created under
// the build directory: the display path with separators and spaces
// replaced by underscores.
func (d *Document) IsolationName() string {
	name := filepath.ToSlash(filepath.Clean(d.Display))
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ':
			return '_'
		}
		return r
	}, name)
}

// splitLines splits src into lines and their corresponding line endings.
// A trailing newline does not produce an extra empty line.
func splitLines(src []byte) ([]string, []string) {
	if len(src) == 0 {
		return []string{}, []string{}
	}

	var lines []string
	var ends []string
	start := 0

	for i := 0; i < len(src); {
		switch src[i] {
		case '\n':
			lines = append(lines, string(src[start:i]))
			ends = append(ends, "\n")
			i++
			start = i
		case '\r':
			end := "\r"
			advance := 1
			if i+1 < len(src) && src[i+1] == '\n' {
				end = "\r\n"
				advance = 2
			}
			lines = append(lines, string(src[start:i]))
			ends = append(ends, end)
			i += advance
			start = i
		default:
			i++
		}
	}
	if start < len(src) {
		lines = append(lines, string(src[start:]))
		ends = append(ends, "")
	}
	return lines, ends
}
