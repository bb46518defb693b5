package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/eykd/suremd-go/internal/engine"
	"github.com/eykd/suremd-go/internal/workdir"
)

// reportPrinter writes human-readable run results.
type reportPrinter struct {
	w         io.Writer
	errLabel  *color.Color
	warnLabel *color.Color
	okLabel   *color.Color
	failLabel *color.Color
}

func newReportPrinter(w io.Writer, noColor bool) *reportPrinter {
	p := &reportPrinter{
		w:         w,
		errLabel:  color.New(color.FgRed, color.Bold),
		warnLabel: color.New(color.FgYellow),
		okLabel:   color.New(color.FgGreen),
		failLabel: color.New(color.FgRed, color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{p.errLabel, p.warnLabel, p.okLabel, p.failLabel} {
			c.DisableColor()
		}
	}
	return p
}

// Report prints a document's diagnostics followed by its OK/FAIL line.
func (p *reportPrinter) Report(r engine.Report) {
	for _, d := range r.Diagnostics {
		label := p.warnLabel.Sprint("warning:")
		if d.Severity == engine.SeverityError {
			label = p.errLabel.Sprint("error:")
		}
		fmt.Fprintf(p.w, "%s %s: %s (%s)\n", label, sanitizePath(d.Location.String()), sanitizePath(d.Message), d.Code)
		if d.Detail != "" {
			writeIndented(p.w, sanitizeText(d.Detail))
		}
	}
	status := p.okLabel.Sprint("OK")
	if r.Failed() {
		status = p.failLabel.Sprint("FAIL")
	}
	fmt.Fprintf(p.w, "%s %s\n", sanitizePath(r.Document), status)
}

// Summary prints batch totals.
func (p *reportPrinter) Summary(s engine.Summary) {
	fmt.Fprintf(p.w, "%d document(s), %d failed, %d error(s), %d warning(s)\n",
		len(s.Reports), len(s.Failed()), s.Errors, s.Warnings)
	if s.Stopped {
		fmt.Fprintln(p.w, "remaining documents skipped after failure (--fail-fast)")
	}
}

// Fatal prints a directory stack leak with its stack dump.
func (p *reportPrinter) Fatal(err *workdir.LeakError) {
	fmt.Fprintf(p.w, "%s %s\n", p.errLabel.Sprint("fatal:"), sanitizeText(err.Error()))
}

// writeIndented writes text with every line indented by four spaces.
func writeIndented(w io.Writer, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

// runOutput is the JSON output schema of the run command.
type runOutput struct {
	Version   string           `json:"version"`
	Documents []documentOutput `json:"documents"`
	Errors    int              `json:"errors"`
	Warnings  int              `json:"warnings"`
	Stopped   bool             `json:"stopped"`
}

type documentOutput struct {
	Document    string             `json:"document"`
	Status      string             `json:"status"` // "ok" | "fail"
	Errors      int                `json:"errors"`
	Warnings    int                `json:"warnings"`
	Aborted     bool               `json:"aborted"`
	Diagnostics []diagnosticOutput `json:"diagnostics"` // never nil
}

type diagnosticOutput struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Detail   string `json:"detail,omitempty"`
}

func newRunOutput(s engine.Summary) runOutput {
	out := runOutput{
		Version:   "1",
		Documents: []documentOutput{},
		Errors:    s.Errors,
		Warnings:  s.Warnings,
		Stopped:   s.Stopped,
	}
	for _, r := range s.Reports {
		doc := documentOutput{
			Document:    r.Document,
			Status:      "ok",
			Errors:      r.Errors,
			Warnings:    r.Warnings,
			Aborted:     r.Aborted,
			Diagnostics: []diagnosticOutput{},
		}
		if r.Failed() {
			doc.Status = "fail"
		}
		for _, d := range r.Diagnostics {
			doc.Diagnostics = append(doc.Diagnostics, diagnosticOutput{
				Severity: string(d.Severity),
				Code:     string(d.Code),
				Message:  d.Message,
				Line:     d.Location.Line,
				Detail:   d.Detail,
			})
		}
		out.Documents = append(out.Documents, doc)
	}
	return out
}
