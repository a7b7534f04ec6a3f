// Package template renders the final batch summary for the terminal.
package template

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/util"
)

//go:embed summary.tmpl
var defaultTemplateContent string

// PathWidth is the width long paths are truncated to in the text summary.
const PathWidth = 60

// ErrTemplate wraps failures to parse or execute a summary template.
var ErrTemplate = errors.New("summary template failed")

// SummaryData is the value passed to the summary template. The listed entries
// are capped; the More* fields count the rest.
type SummaryData struct {
	Report      batch.Report
	Failed      []batch.ResultRecord
	MoreFailed  int
	Skipped     []batch.ResultRecord
	MoreSkipped int
	Outputs     []batch.PathMapping
	MoreOutputs int
}

// NewSummaryData prepares report for display, listing at most limit entries
// per section. A non-positive limit uses batch.DefaultDisplayCap.
func NewSummaryData(report batch.Report, limit int) SummaryData {
	if limit <= 0 {
		limit = batch.DefaultDisplayCap
	}
	d := SummaryData{Report: report}
	d.Failed, d.MoreFailed = batch.Capped(report.Failed(), limit)
	d.Skipped, d.MoreSkipped = batch.Capped(report.Skipped(), limit)
	d.Outputs, d.MoreOutputs = batch.Capped(report.Outputs, limit)
	return d
}

// Executor renders summary data to a writer.
type Executor interface {
	Execute(w io.Writer, tmpl *template.Template, data SummaryData) error
}

// GoExecutor implements Executor with text/template.
type GoExecutor struct{}

// NewGoExecutor creates a GoExecutor.
func NewGoExecutor() *GoExecutor {
	return &GoExecutor{}
}

// Execute renders data with tmpl, or with the embedded default when tmpl is nil.
func (e *GoExecutor) Execute(w io.Writer, tmpl *template.Template, data SummaryData) error {
	if tmpl == nil {
		def, err := LoadDefaultTemplate()
		if err != nil {
			return err
		}
		tmpl = def
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("%w: execute %q: %w", ErrTemplate, tmpl.Name(), err)
	}
	return nil
}

var customTemplateFuncs = template.FuncMap{
	"duration": func(seconds float64) string {
		return batch.FormatDuration(time.Duration(seconds * float64(time.Second)))
	},
	"bytes":   FormatBytes,
	"percent": func(p float64) string { return fmt.Sprintf("%.1f%%", p) },
	"path":    func(p string) string { return util.TruncatePath(p, PathWidth) },
	"heading": func(op string) string {
		if op == "" {
			return "Batch"
		}
		return strings.ToUpper(op[:1]) + op[1:]
	},
}

// LoadDefaultTemplate parses the embedded summary template.
func LoadDefaultTemplate() (*template.Template, error) {
	if defaultTemplateContent == "" {
		return nil, fmt.Errorf("%w: embedded summary template is empty", ErrTemplate)
	}
	tmpl, err := template.New("summary").Funcs(customTemplateFuncs).Parse(defaultTemplateContent)
	if err != nil {
		return nil, fmt.Errorf("%w: parse default: %w", ErrTemplate, err)
	}
	return tmpl, nil
}

// Render writes report to w in the requested format. JSON output is the full
// indented report; text output is the capped human summary.
func Render(w io.Writer, report batch.Report, format batch.OutputFormat, limit int) error {
	switch format {
	case batch.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report as JSON: %w", err)
		}
		return nil
	case batch.OutputFormatText, "":
		return NewGoExecutor().Execute(w, nil, NewSummaryData(report, limit))
	default:
		return fmt.Errorf("%w: unknown output format %q", batch.ErrConfigValidation, format)
	}
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
