package report

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// RenderMarkdown renders the report as a Markdown document with one table per section
func RenderMarkdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Proxy metric report\n\n")
	fmt.Fprintf(&b, "- Report: `%s`\n- Kind: %s\n- Created: %s\n", r.ID, r.Kind, r.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if r.Kind == KindDecisions || r.Kind == KindFullAnalysis || r.Kind == KindRegret {
		fmt.Fprintf(&b, "- Decision threshold: %g\n", r.Threshold)
	}

	if s := r.Summary; s != nil {
		fmt.Fprintf(&b, "\n## Data\n\n")
		fmt.Fprintf(&b, "- Users: %d\n- Experiments: %d\n", s.NUsers, s.NExperiments)
		if s.NFailureCohort != nil && s.FailureCohortRate != nil {
			fmt.Fprintf(&b, "- Failure cohort: %d users (%.2f%%)\n", *s.NFailureCohort, 100*(*s.FailureCohortRate))
		}
		if s.BestProxy != "" {
			fmt.Fprintf(&b, "- Best proxy: **%s** (reliability %.3f)\n", s.BestProxy, s.BestReliability)
		}
	}

	b.WriteString(MarkdownTables(Sections(r)))

	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "\n## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	return b.String()
}

// MarkdownTables renders each section as a level-two heading and a table whose value
// columns are right-aligned
func MarkdownTables(secs []Section) string {
	var b strings.Builder
	for _, sec := range secs {
		fmt.Fprintf(&b, "\n## %s\n\n", sec.Title)
		fmt.Fprintf(&b, "| %s |\n", strings.Join(sec.Headers, " | "))
		b.WriteString("|---" + strings.Repeat("|---:", len(sec.Headers)-1) + "|\n")
		for _, row := range sec.Rows {
			fmt.Fprintf(&b, "| %s |\n", strings.Join(row, " | "))
		}
	}
	return b.String()
}

// MarkdownToHTML converts a Markdown document to an HTML fragment
func MarkdownToHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return markdown.ToHTML([]byte(md), p, renderer)
}

// RenderHTML renders the Markdown document to an HTML fragment
func RenderHTML(r *Report) []byte {
	return MarkdownToHTML(RenderMarkdown(r))
}
