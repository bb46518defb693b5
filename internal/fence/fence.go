// Package fence classifies markdown fence lines and parses the two kinds of
// block headers suremd understands: shell prompts inside console blocks and
// file markers on the first line of file blocks.
//
// All functions are pure; they never touch the filesystem.
package fence

import (
	"regexp"
	"strings"
)

// Delimiter is the fence opener and closer recognised by suremd.
const Delimiter = "```"

// ConsoleTag is the fence tag that marks a shell session block.
const ConsoleTag = "console"

// DefaultMarkerKeyword is the file marker keyword used when none is configured.
const DefaultMarkerKeyword = "File"

// Kind identifies what a line means at fence level.
type Kind int

const (
	// KindText is any line that is not a fence.
	KindText Kind = iota
	// KindClose is a bare fence that closes the current block.
	KindClose
	// KindConsole opens a console block.
	KindConsole
	// KindFile opens a file block; the tag is its language or extension.
	KindFile
)

// String returns the lowercase name used in JSON output and logs.
func (k Kind) String() string {
	switch k {
	case KindClose:
		return "close"
	case KindConsole:
		return "console"
	case KindFile:
		return "file"
	default:
		return "text"
	}
}

// Classify reports the fence kind of line and, for file fences, the tag
// that follows the backticks. Surrounding whitespace is ignored.
func Classify(line string) (Kind, string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, Delimiter) {
		return KindText, ""
	}
	tag := strings.TrimSpace(trimmed[len(Delimiter):])
	switch tag {
	case "":
		return KindClose, ""
	case ConsoleTag:
		return KindConsole, ""
	default:
		return KindFile, tag
	}
}

var commandRE = regexp.MustCompile(`^\$\s*(.+)$`)

// IsPrompt reports whether line starts a new command, i.e. begins with "$".
func IsPrompt(line string) bool {
	return strings.HasPrefix(line, "$")
}

// ParseCommand extracts the command text from a prompt line such as
// "$ echo hello". It returns false for lines that are not prompts or whose
// command is blank.
func ParseCommand(line string) (string, bool) {
	m := commandRE.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	command := strings.TrimSpace(m[1])
	return command, command != ""
}

// Marker parses file markers for one keyword, e.g. "// File: src/main.c".
type Marker struct {
	keyword string
	re      *regexp.Regexp
}

// NewMarker compiles a marker parser for keyword. An empty keyword selects
// DefaultMarkerKeyword.
func NewMarker(keyword string) *Marker {
	if keyword == "" {
		keyword = DefaultMarkerKeyword
	}
	// comment prefix, keyword, colon, then slash-separated path segments
	pattern := `^\W*` + regexp.QuoteMeta(keyword) + `:\s*((?:[\w.-]+/)*[\w.-]+)`
	return &Marker{keyword: keyword, re: regexp.MustCompile(pattern)}
}

// Keyword returns the marker keyword.
func (m *Marker) Keyword() string {
	return m.keyword
}

// Parse returns the relative path named by a marker line. Paths that would
// escape the block's directory are rejected.
func (m *Marker) Parse(line string) (string, bool) {
	match := m.re.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	path := match[1]
	if escapesRoot(path) {
		return "", false
	}
	return path, true
}

// ParseFileMarker is a convenience wrapper around NewMarker(keyword).Parse.
func ParseFileMarker(line, keyword string) (string, bool) {
	return NewMarker(keyword).Parse(line)
}

// escapesRoot reports whether any path segment is "." or "..".
func escapesRoot(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." || seg == "." {
			return true
		}
	}
	return false
}
