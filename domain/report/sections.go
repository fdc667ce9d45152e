package report

import (
	"fmt"
	"strconv"
)

// Section is one result table of a report, with cells already formatted
type Section struct {
	Name    string
	Title   string
	Headers []string
	Rows    [][]string
}

// Sections returns the non-empty tables of r in display order
func Sections(r *Report) []Section {
	var out []Section

	if len(r.ProxyScores) > 0 {
		sec := Section{
			Name:    "proxy_scores",
			Title:   "Proxy reliability",
			Headers: []string{"Metric", "Reliability", "Effect corr", "Directional acc.", "Fragility", "Experiments"},
		}
		for _, s := range r.ProxyScores {
			sec.Rows = append(sec.Rows, []string{s.Metric, f3(s.Reliability), f3(s.EffectCorr),
				f3(s.DirectionalAccuracy), f3(s.FragilityRate), strconv.Itoa(s.NExperimentsScored)})
		}
		out = append(out, sec)
	}

	if len(r.Decisions) > 0 {
		sec := Section{
			Name:    "decision_simulation",
			Title:   "Decision simulation",
			Headers: []string{"Decision metric", "Win rate", "FPR", "FNR", "Avg regret", "Shipped"},
		}
		for _, d := range r.Decisions {
			sec.Rows = append(sec.Rows, []string{d.ProxyMetric, f3(d.WinRate), f3(d.FalsePositiveRate),
				f3(d.FalseNegativeRate), fmt.Sprintf("%.4f", d.AvgRegret), strconv.Itoa(d.TotalShipped)})
		}
		out = append(out, sec)
	}

	if len(r.Fragility) > 0 {
		sec := Section{
			Name:    "fragility_analysis",
			Title:   "Fragile segments",
			Headers: []string{"Segment", "Flip rate", "Cells", "Avg cell size"},
		}
		if m := fragilityMetric(r); m != "" {
			sec.Title += " for " + m
		}
		for _, f := range r.Fragility {
			sec.Rows = append(sec.Rows, []string{f.Segment.String(), f3(f.FlipRate), strconv.Itoa(f.NCells),
				fmt.Sprintf("%.0f", f.AvgCellN)})
		}
		out = append(out, sec)
	}

	if len(r.Regret) > 0 {
		sec := Section{
			Name:    "segment_regret",
			Title:   "Regret by segment",
			Headers: []string{"Segment", "Avg regret", "Total regret", "Error rate", "Cells"},
		}
		if r.Metric != "" {
			sec.Title += " for " + r.Metric
		}
		for _, g := range r.Regret {
			sec.Rows = append(sec.Rows, []string{g.Segment.String(), fmt.Sprintf("%.4f", g.AvgRegret),
				fmt.Sprintf("%.4f", g.TotalRegret), f3(g.ErrorRate), strconv.Itoa(g.NCells)})
		}
		out = append(out, sec)
	}
	return out
}

func f3(v float64) string { return fmt.Sprintf("%.3f", v) }

func fragilityMetric(r *Report) string {
	if r.Metric != "" {
		return r.Metric
	}
	if r.Summary != nil {
		return r.Summary.FragilityMetric
	}
	return ""
}
