package cmd

import (
	"strings"

	"github.com/eykd/suremd-go/internal/format"
)

// extensionSet is a repeatable flag of comma-separated file extensions.
type extensionSet []string

func (s *extensionSet) String() string {
	return strings.Join(*s, ",")
}

// Set appends the extensions in value, normalized by format.SplitExtensions.
func (s *extensionSet) Set(value string) error {
	*s = append(*s, format.SplitExtensions([]string{value})...)
	return nil
}

func (s *extensionSet) Type() string {
	return "extensions"
}
