package verify

import (
	"encoding/json"
	"fmt"
	"io"
)

// ReportFormat selects the rendering of a verification report.
type ReportFormat string

const (
	FormatText ReportFormat = "text"
	FormatJSON ReportFormat = "json"
)

// ReportGenerator renders verification reports.
type ReportGenerator struct {
	format  ReportFormat
	verbose bool
}

// NewReportGenerator creates a generator for the given format.
func NewReportGenerator(format ReportFormat) *ReportGenerator {
	return &ReportGenerator{format: format}
}

// WithVerbose enables detail output for the text format.
func (g *ReportGenerator) WithVerbose(v bool) *ReportGenerator {
	g.verbose = v
	return g
}

// Generate writes the report to w.
func (g *ReportGenerator) Generate(report *Report, w io.Writer) error {
	switch g.format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		return g.generateText(report, w)
	}
}

func (g *ReportGenerator) generateText(report *Report, w io.Writer) error {
	verdict := "VALID"
	if !report.Valid {
		verdict = "INVALID"
	}
	if _, err := fmt.Fprintf(w, "Result: %s\n", verdict); err != nil {
		return err
	}

	fmt.Fprintf(w, "Entries: %d\n", report.Entries)
	fmt.Fprintf(w, "Total working time: %ds\n", report.TotalWorkTime)
	if report.PeriodStart != "" {
		fmt.Fprintf(w, "Period: %s .. %s\n", report.PeriodStart, report.PeriodEnd)
	}
	fmt.Fprintf(w, "Cipher mode: %s\n", report.Mode)
	if report.Degraded {
		fmt.Fprintln(w, "WARNING: degraded XOR mode, no tamper resistance")
	}
	if report.Tampered {
		fmt.Fprintln(w, "WARNING: hash chain broken, log has been modified")
	}

	if g.verbose {
		fmt.Fprintf(w, "Schema: ok=%v\n", report.SchemaOK)
		fmt.Fprintf(w, "Verified at: %s\n", report.VerifiedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	for _, e := range report.Errors {
		fmt.Fprintf(w, "Error: %s\n", e)
	}
	return nil
}
