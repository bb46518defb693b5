package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eykd/suremd-go/internal/document"
	"github.com/eykd/suremd-go/internal/fence"
)

// FencesReader reads the document for the fences command.
type FencesReader interface {
	ReadDocument(ctx context.Context, path string) ([]byte, error)
}

// fencesOutput is the JSON output schema for the fences command.
type fencesOutput struct {
	Version  string       `json:"version"`
	Document string       `json:"document"`
	Fences   []fenceEntry `json:"fences"`             // never nil
	Unclosed int          `json:"unclosed,omitempty"` // line of a block never closed
}

type fenceEntry struct {
	Line   int    `json:"line"`
	Kind   string `json:"kind"` // "console" | "file" | "close"
	Tag    string `json:"tag,omitempty"`
	Target string `json:"target,omitempty"`
}

// NewFencesCmd creates the fences subcommand, which prints the block
// structure of a document as the engine will see it.
func NewFencesCmd(reader FencesReader) *cobra.Command {
	var marker string

	cmd := &cobra.Command{
		Use:          "fences <document>",
		Short:        "List the fenced blocks of a document as JSON",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			src, err := reader.ReadDocument(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("reading document: %w", err)
			}
			doc := document.New(path, path, src)
			outline := fence.Scan(doc.Lines, fence.NewMarker(marker))

			out := fencesOutput{
				Version:  "1",
				Document: path,
				Fences:   []fenceEntry{},
				Unclosed: outline.Unclosed,
			}
			for _, f := range outline.Fences {
				out.Fences = append(out.Fences, fenceEntry{
					Line:   f.Line,
					Kind:   f.Kind.String(),
					Tag:    f.Tag,
					Target: f.Target,
				})
			}
			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(out); err != nil {
				return fmt.Errorf("encoding output: %w", err)
			}
			if outline.Unclosed != 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: block opened at line %d is never closed\n", outline.Unclosed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&marker, "file-marker", fence.DefaultMarkerKeyword, "keyword of file markers")

	return cmd
}

// fileFencesReader implements FencesReader using OS file I/O.
type fileFencesReader struct{}

func newDefaultFencesReader() *fileFencesReader {
	return &fileFencesReader{}
}

func (r *fileFencesReader) ReadDocument(_ context.Context, path string) ([]byte, error) {
	return document.ReadFile(path)
}
