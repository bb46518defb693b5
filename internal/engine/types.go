// Package engine executes markdown documents block by block.
package engine

import (
	"fmt"

	"github.com/eykd/suremd-go/internal/fence"
)

// Code identifies the rule that produced a diagnostic.
type Code string

const (
	// SMD001 indicates a command exited nonzero, timed out, or could not be started.
	SMD001 Code = "SMD001"
	// SMD002 indicates an expected output line was not found after the previous match.
	SMD002 Code = "SMD002"
	// SMD003 indicates a file block could not be written to disk.
	SMD003 Code = "SMD003"
	// SMDW001 is a warning indicating a file block differs from its formatter's output.
	SMDW001 Code = "SMDW001"
	// SMDW002 is a warning indicating a fenced block is never closed before end of document.
	SMDW002 Code = "SMDW002"
	// SMDW003 is a warning indicating the formatter for a file block failed to run.
	SMDW003 Code = "SMDW003"
)

// Severity classifies the impact of a diagnostic.
type Severity string

const (
	// SeverityError counts toward the document's failure.
	SeverityError Severity = "error"
	// SeverityWarning is reported but never fails a document.
	SeverityWarning Severity = "warning"
)

// Location identifies a line in a document.
type Location struct {
	Path string // display path
	Line int    // 1-based
}

func (l Location) String() string {
	if l.Line == 0 {
		return l.Path
	}
	return fmt.Sprintf("%s:%d", l.Path, l.Line)
}

// Diagnostic is a single finding produced while running a document.
type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Location Location
	// Detail carries multi-line context such as command output or a diff.
	Detail string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Location, d.Code, d.Message)
}

// Report is the outcome of running one document.
type Report struct {
	Document    string
	Errors      int
	Warnings    int
	Diagnostics []Diagnostic
	// Aborted is true when blocks were skipped after a failure or
	// cancellation.
	Aborted bool
}

// Failed reports whether the document had any errors.
func (r Report) Failed() bool {
	return r.Errors > 0
}

// Summary is the outcome of a batch.
type Summary struct {
	Reports  []Report
	Errors   int
	Warnings int
	// Stopped is true when fail-fast skipped the remaining documents.
	Stopped bool
}

// Failed returns the reports of failed documents.
func (s Summary) Failed() []Report {
	var failed []Report
	for _, r := range s.Reports {
		if r.Failed() {
			failed = append(failed, r)
		}
	}
	return failed
}

func (s *Summary) add(r Report) {
	s.Reports = append(s.Reports, r)
	s.Errors += r.Errors
	s.Warnings += r.Warnings
}

// Config controls how documents are run.
type Config struct {
	// BuildDir is the batch working directory, relative to the stack's
	// directory or absolute.
	BuildDir string
	// SingleDir runs every document directly in BuildDir instead of a
	// per-document isolation directory.
	SingleDir bool
	// StopOnError skips the rest of a document after its first failed block.
	StopOnError bool
	// FailFast skips the remaining documents after the first failed one.
	FailFast bool
	// MarkerKeyword names file markers, e.g. "File" in "# File: a.py".
	MarkerKeyword string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		BuildDir:      "build",
		StopOnError:   true,
		MarkerKeyword: fence.DefaultMarkerKeyword,
	}
}
