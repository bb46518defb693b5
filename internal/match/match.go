// Package match checks that expected lines occur, in order, in a command's
// output.
//
// Each expected line becomes a line-anchored regular expression built from
// its literal text. An ellipsis ("...") matches any run of characters within
// the line, including none, so volatile output such as timestamps or paths
// can be elided. A cursor advances past every match so that later
// expectations can never match earlier output; unmatched actual lines in
// between are skipped.
package match

import (
	"regexp"
	"strings"
)

// Ellipsis is the wildcard token in expected lines.
const Ellipsis = "..."

// Matcher walks one command output.
type Matcher struct {
	output string
	cursor int
}

// New returns a Matcher positioned at the start of output.
func New(output string) *Matcher {
	return &Matcher{output: output}
}

// Cursor returns the byte offset of the next unsearched output.
func (m *Matcher) Cursor() int {
	return m.cursor
}

// Remaining returns the output not yet consumed by a match.
func (m *Matcher) Remaining() string {
	return m.output[m.cursor:]
}

// Expect searches for line starting at the cursor. On success the cursor
// moves past the match and its newline. Blank lines always succeed without
// moving the cursor.
func (m *Matcher) Expect(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	re := regexp.MustCompile(Pattern(line))
	loc := re.FindStringIndex(m.output[m.cursor:])
	if loc == nil {
		return false
	}
	m.cursor += loc[1]
	if m.cursor < len(m.output) && m.output[m.cursor] == '\n' {
		m.cursor++
	}
	return true
}

// Pattern returns the regular expression used for an expected line.
func Pattern(line string) string {
	pieces := strings.Split(strings.TrimSpace(line), Ellipsis)
	for i, p := range pieces {
		if i > 0 {
			p = strings.TrimLeft(p, " \t")
		}
		if i < len(pieces)-1 {
			p = strings.TrimRight(p, " \t")
		}
		pieces[i] = regexp.QuoteMeta(p)
	}
	return `(?m)^[ \t]*` + strings.Join(pieces, `.*`) + `[ \t\r]*$`
}
