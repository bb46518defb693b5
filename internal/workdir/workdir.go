// Package workdir provides the explicit execution context shared by every
// component of a run: the current working directory and the stack of
// directories saved by nested scopes (batch, document, console block).
//
// The process working directory is never changed. Commands receive Dir()
// as their starting directory and files are written relative to it.
package workdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyStack is returned by Pop when no directory has been saved.
var ErrEmptyStack = errors.New("directory stack is empty")

// Stack holds the current absolute directory and the saved directories of
// enclosing scopes, most recent last.
type Stack struct {
	dir   string
	saved []string
}

// New returns a Stack whose current directory is dir made absolute.
func New(dir string) (*Stack, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	return &Stack{dir: abs}, nil
}

// Dir returns the current absolute directory.
func (s *Stack) Dir() string {
	return s.dir
}

// Resolve returns p joined to the current directory unless p is absolute.
func (s *Stack) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.dir, p)
}

// Push saves the current directory, creates dir (resolved against the
// current directory) when missing, and makes it current. On error the
// stack is left unchanged.
func (s *Stack) Push(dir string) error {
	target := s.Resolve(dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	s.saved = append(s.saved, s.dir)
	s.dir = target
	return nil
}

// Pop restores the most recently saved directory.
func (s *Stack) Pop() error {
	if len(s.saved) == 0 {
		return ErrEmptyStack
	}
	last := len(s.saved) - 1
	s.dir = s.saved[last]
	s.saved = s.saved[:last]
	return nil
}

// Cd makes dir current without saving the previous directory. It is used
// to follow a directory change reported by a command.
func (s *Stack) Cd(dir string) {
	s.dir = s.Resolve(dir)
}

// Depth returns the number of saved directories.
func (s *Stack) Depth() int {
	return len(s.saved)
}

// Saved returns a copy of the saved directories, oldest first.
func (s *Stack) Saved() []string {
	return append([]string(nil), s.saved...)
}

// LeakError reports that a scope returned with a different stack depth than
// it started with. It is a programming error, not a test failure.
type LeakError struct {
	Scope string
	Want  int
	Got   int
	Dir   string
	Saved []string
}

func (e *LeakError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "directory stack leak after %s: depth %d, want %d\n", e.Scope, e.Got, e.Want)
	fmt.Fprintf(&b, "  current: %s\n", e.Dir)
	for i := len(e.Saved) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "  [%d] %s\n", i, e.Saved[i])
	}
	return strings.TrimRight(b.String(), "\n")
}

// CheckDepth returns a *LeakError when the stack depth differs from want.
func (s *Stack) CheckDepth(scope string, want int) error {
	if got := s.Depth(); got != want {
		return &LeakError{Scope: scope, Want: want, Got: got, Dir: s.dir, Saved: s.Saved()}
	}
	return nil
}
