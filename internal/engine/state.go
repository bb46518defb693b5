package engine

import (
	"strings"

	"github.com/eykd/suremd-go/internal/match"
)

// state is the block state machine's current state. The set of
// implementations is closed; opened returns the 1-based line of the fence
// that opened the current block, or 0 outside a block.
type state interface {
	opened() int
}

// idle is outside any block.
type idle struct{}

// runningCommand is inside a console block, waiting for a "$" line.
type runningCommand struct {
	fenceLine int
}

// awaitingOutput checks expected lines against the last command's output.
type awaitingOutput struct {
	fenceLine int
	command   string
	matcher   *match.Matcher
}

// failingCommand skips the rest of a console block after a failure.
type failingCommand struct {
	fenceLine int
}

// creatingFile has seen a file fence and waits for the marker line.
type creatingFile struct {
	fenceLine int
	suffix    string
}

// accumulatingFile collects file block content until the closing fence.
type accumulatingFile struct {
	fenceLine int
	suffix    string
	target    string
	content   strings.Builder
}

func (idle) opened() int { return 0 }

func (s *runningCommand) opened() int { return s.fenceLine }

func (s *awaitingOutput) opened() int { return s.fenceLine }

func (s *failingCommand) opened() int { return s.fenceLine }

func (s *creatingFile) opened() int { return s.fenceLine }

func (s *accumulatingFile) opened() int { return s.fenceLine }

// stateName is used in log records.
func stateName(s state) string {
	switch s.(type) {
	case idle:
		return "idle"
	case *runningCommand:
		return "running-command"
	case *awaitingOutput:
		return "awaiting-output"
	case *failingCommand:
		return "failing-command"
	case *creatingFile:
		return "creating-file"
	case *accumulatingFile:
		return "accumulating-file"
	default:
		return "unknown"
	}
}

// inConsole reports whether s holds a console block's save point.
func inConsole(s state) bool {
	switch s.(type) {
	case *runningCommand, *awaitingOutput, *failingCommand:
		return true
	}
	return false
}
