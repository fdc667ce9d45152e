package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"proxima/adapters/excel"
	"proxima/app"
	"proxima/domain/report"
	"proxima/internal/errors"
	"proxima/internal/inference"
)

var titleStyle = lipgloss.NewStyle().Bold(true)

// output is one command result in every printable shape
type output struct {
	value    any
	sections []report.Section
	markdown string
	warnings []string
}

func validateFormat(format string) error {
	switch format {
	case "table", "json", "markdown", "html":
		return nil
	}
	return errors.InvalidInputf("unknown format %q (table, json, markdown or html)", format)
}

func reportOutput(rep *report.Report) output {
	return output{
		value:    rep,
		sections: report.Sections(rep),
		markdown: report.RenderMarkdown(rep),
		warnings: rep.Warnings,
	}
}

func intervalOutput(title string, value any, ci inference.BootstrapInterval, warnings []string) output {
	sec := report.Section{
		Name:    "interval",
		Title:   title,
		Headers: []string{"Statistic", "Value"},
		Rows: [][]string{
			{"estimate", fmt.Sprintf("%.4f", ci.Estimate)},
			{"lower", fmt.Sprintf("%.4f", ci.Lower)},
			{"upper", fmt.Sprintf("%.4f", ci.Upper)},
			{"alpha", fmt.Sprintf("%g", ci.Alpha)},
			{"draws", fmt.Sprint(ci.Draws)},
			{"failed draws", fmt.Sprint(ci.Failed)},
		},
	}
	return sectionOutput(value, []report.Section{sec}, warnings)
}

func effectOutput(res *app.EffectCIResult) output {
	o := res.Overall
	overall := report.Section{
		Name:    "effect",
		Title:   "Treatment effect on " + res.Metric,
		Headers: []string{"Statistic", "Value"},
		Rows: [][]string{
			{"effect", fmt.Sprintf("%.4f", o.Effect)},
			{"welch CI", fmt.Sprintf("[%.4f, %.4f]", o.CILower, o.CIUpper)},
			{"bootstrap CI", fmt.Sprintf("[%.4f, %.4f]", res.Bootstrap.Lower, res.Bootstrap.Upper)},
			{"p-value", fmt.Sprintf("%.4g", o.PValue)},
			{"cohen's d", fmt.Sprintf("%.3f", o.CohensD)},
			{"n control / treatment", fmt.Sprintf("%d / %d", o.NControl, o.NTreatment)},
		},
	}
	perExp := report.Section{
		Name:    "experiments",
		Title:   "Per-experiment effects",
		Headers: []string{"Experiment", "Effect", "CI lower", "CI upper", "p-value", "Significant"},
	}
	for _, r := range res.Experiments.Rows {
		perExp.Rows = append(perExp.Rows, []string{r.ExpID, fmt.Sprintf("%.4f", r.Effect),
			fmt.Sprintf("%.4f", r.CILower), fmt.Sprintf("%.4f", r.CIUpper), fmt.Sprintf("%.4g", r.PValue),
			fmt.Sprint(r.Significant)})
	}
	warnings := res.Warnings
	if res.Experiments.Skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d experiments skipped for too few users in an arm", res.Experiments.Skipped))
	}
	return sectionOutput(res, []report.Section{overall, perExp}, warnings)
}

func comparisonOutput(res *inference.ProxyComparison) output {
	sec := report.Section{
		Name:    "comparison",
		Title:   fmt.Sprintf("%s vs %s", res.Proxy1, res.Proxy2),
		Headers: []string{"Statistic", "Value"},
		Rows: [][]string{
			{"accuracy " + res.Proxy1, fmt.Sprintf("%.3f", res.Accuracy1)},
			{"accuracy " + res.Proxy2, fmt.Sprintf("%.3f", res.Accuracy2)},
			{"only " + res.Proxy1 + " correct", fmt.Sprint(res.OnlyProxy1)},
			{"only " + res.Proxy2 + " correct", fmt.Sprint(res.OnlyProxy2)},
			{"mcnemar statistic", fmt.Sprintf("%.4f", res.Statistic)},
			{"p-value", fmt.Sprintf("%.4g", res.PValue)},
			{"significant", fmt.Sprint(res.IsSignificant)},
			{"winner", res.Winner},
			{"experiments", fmt.Sprint(res.NExperiments)},
		},
	}
	return sectionOutput(res, []report.Section{sec}, nil)
}

func sectionOutput(value any, secs []report.Section, warnings []string) output {
	md := "# " + secs[0].Title + "\n" + report.MarkdownTables(secs)
	if len(warnings) > 0 {
		md += "\n## Warnings\n\n"
		for _, w := range warnings {
			md += "- " + w + "\n"
		}
	}
	return output{value: value, sections: secs, markdown: md, warnings: warnings}
}

// render formats out for the terminal or a text file
func render(out output, format string) ([]byte, error) {
	switch format {
	case "json":
		b, err := json.MarshalIndent(out.value, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode JSON")
		}
		return append(b, '\n'), nil
	case "markdown":
		return []byte(out.markdown), nil
	case "html":
		return report.MarkdownToHTML(out.markdown), nil
	default:
		return []byte(renderTables(out)), nil
	}
}

func renderTables(out output) string {
	var b strings.Builder
	for i, sec := range out.sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(titleStyle.Render(sec.Title))
		b.WriteString("\n")
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers(sec.Headers...).
			Rows(sec.Rows...)
		b.WriteString(t.Render())
		b.WriteString("\n")
	}
	if len(out.sections) == 0 {
		b.WriteString("no results\n")
	}
	for _, w := range out.warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}

// sheets converts sections to spreadsheet tables
func sheets(secs []report.Section) []excel.Sheet {
	out := make([]excel.Sheet, 0, len(secs))
	for _, sec := range secs {
		rows := make([][]interface{}, len(sec.Rows))
		for i, r := range sec.Rows {
			row := make([]interface{}, len(r))
			for j, v := range r {
				row[j] = v
			}
			rows[i] = row
		}
		out = append(out, excel.Sheet{Name: sec.Name, Headers: sec.Headers, Rows: rows})
	}
	return out
}

// emit prints out in --format, or writes it to --out
func (g *globals) emit(cmd *cobra.Command, out output) error {
	if g.out == "" {
		b, err := render(out, g.format)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	}
	return writeOutput(cmd.OutOrStdout(), g.out, g.format, out)
}

func writeOutput(w io.Writer, path, format string, out output) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx", ".xlsm":
		secs := sheets(out.sections)
		if len(secs) == 0 {
			return errors.InsufficientData("no result tables to write")
		}
		if strings.EqualFold(filepath.Ext(path), ".csv") && len(secs) > 1 {
			// CSV holds one table; the first is the headline result
			secs = secs[:1]
		}
		if err := excel.WriteFile(path, secs); err != nil {
			return err
		}
	default:
		b, err := render(out, format)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
	}
	fmt.Fprintf(w, "wrote %s\n", path)
	return nil
}
