// Package fragility finds segments where a proxy's direction disagrees with the
// experiment-level long-term outcome.
package fragility

import (
	"sort"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"proxima/domain/experiment"
	"proxima/internal/effects"
	"proxima/internal/errors"
)

const (
	// DefaultMinCount is the minimum rows per cell considered by default.
	DefaultMinCount = 500
	// ReportMinCount is the stricter-sample floor used by the full analysis report.
	ReportMinCount = 400
)

// FragileSegment aggregates sign flips for one segment tuple across experiments
type FragileSegment struct {
	Segment  experiment.Segment `json:"segment"`
	Labels   map[string]string  `json:"labels"`
	FlipRate float64            `json:"flip_rate"`
	NCells   int                `json:"n_cells"`
	AvgCellN float64            `json:"avg_cell_n"`
}

// Detector finds fragile segments for a long-term metric
type Detector struct {
	longTerm string
	logger   *zap.Logger
}

// NewDetector creates a detector for the given long-term metric
func NewDetector(longTerm string, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{longTerm: longTerm, logger: logger}
}

// FindFragileSegments aggregates proxy-vs-global sign flips per segment tuple over cells
// with at least minCount rows, sorted by flip rate (highest first).
func (d *Detector) FindFragileSegments(ds *experiment.Dataset, proxy string, keys []string, minCount int) ([]FragileSegment, error) {
	if minCount < 0 {
		return nil, errors.InvalidInputf("min_count must be non-negative, got %d", minCount)
	}
	cells, err := effects.SegmentPairs(ds, proxy, d.longTerm, keys)
	if err != nil {
		return nil, err
	}

	kept := make([]effects.SegmentPair, 0, len(cells))
	for _, c := range cells {
		if c.N >= minCount {
			kept = append(kept, c)
		}
	}
	d.logger.Debug("fragility cells filtered",
		zap.String("proxy", proxy),
		zap.Int("cells", len(cells)),
		zap.Int("kept", len(kept)),
		zap.Int("min_count", minCount))

	return Aggregate(kept, keys), nil
}

// Aggregate groups cells by segment tuple, keeping first-encounter order for ties.
func Aggregate(cells []effects.SegmentPair, keys []string) []FragileSegment {
	type group struct {
		seg   experiment.Segment
		flips []float64
		sizes []float64
	}
	var order []*group
	groups := make(map[string]*group)
	for _, c := range cells {
		k := c.Segment.Key()
		g, ok := groups[k]
		if !ok {
			g = &group{seg: c.Segment}
			groups[k] = g
			order = append(order, g)
		}
		flip := 0.0
		if c.FlipsGlobal() {
			flip = 1
		}
		g.flips = append(g.flips, flip)
		g.sizes = append(g.sizes, float64(c.N))
	}

	out := make([]FragileSegment, 0, len(order))
	for _, g := range order {
		// groups are never empty so Mean cannot fail
		flipRate, _ := stats.Mean(g.flips)
		avgN, _ := stats.Mean(g.sizes)
		out = append(out, FragileSegment{
			Segment:  g.seg,
			Labels:   g.seg.Labels(keys),
			FlipRate: flipRate,
			NCells:   len(g.flips),
			AvgCellN: avgN,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FlipRate > out[j].FlipRate
	})
	return out
}

// Top returns at most n rows
func Top(rows []FragileSegment, n int) []FragileSegment {
	if n >= 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}
