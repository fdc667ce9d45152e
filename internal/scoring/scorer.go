// Package scoring ranks candidate proxy metrics by how reliably their experiment effects
// track the long-term outcome.
package scoring

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"proxima/domain/experiment"
	"proxima/internal/effects"
	"proxima/internal/errors"
)

// Reliability weights
const (
	WeightCorrelation = 0.6
	WeightDirection   = 0.2
	WeightRobustness  = 0.2

	// MinStdDev below which a series is treated as constant and its correlation as 0.
	MinStdDev = 1e-12
)

// Config selects the columns a Scorer works on
type Config struct {
	LongTermMetric string   `json:"long_term_metric"`
	Metrics        []string `json:"metrics"`
	SegmentKeys    []string `json:"segment_keys"`
}

// ConfigFromSchema scores every proxy of a schema against its long-term metric
func ConfigFromSchema(s experiment.Schema) Config {
	return Config{
		LongTermMetric: s.LongTermMetric,
		Metrics:        append([]string(nil), s.Metrics...),
		SegmentKeys:    append([]string(nil), s.SegmentKeys...),
	}
}

// ProxyScore is the reliability breakdown for one metric
type ProxyScore struct {
	Metric              string  `json:"metric"`
	Reliability         float64 `json:"reliability"`
	EffectCorr          float64 `json:"effect_corr"`
	DirectionalAccuracy float64 `json:"directional_accuracy"`
	FragilityRate       float64 `json:"fragility_rate"`
	NExperimentsScored  int     `json:"n_experiments_scored"`
	NCellsScored        int     `json:"n_cells_scored"`
}

// ScoreTable is sorted by reliability, highest first
type ScoreTable struct {
	Ranked   []ProxyScore          `json:"ranked"`
	ByMetric map[string]ProxyScore `json:"by_metric"`
}

// Best returns the top-ranked proxy
func (t ScoreTable) Best() (ProxyScore, bool) {
	if len(t.Ranked) == 0 {
		return ProxyScore{}, false
	}
	return t.Ranked[0], true
}

// Scorer computes proxy reliability scores
type Scorer struct {
	cfg Config
}

// NewScorer validates the configuration
func NewScorer(cfg Config) (*Scorer, error) {
	if cfg.LongTermMetric == "" {
		return nil, errors.InvalidInput("long-term metric is required")
	}
	if len(cfg.SegmentKeys) == 0 {
		return nil, errors.InvalidInput("at least one segment key is required")
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the scorer configuration
func (s *Scorer) Config() Config { return s.cfg }

type longTermTables struct {
	global   *effects.EffectTable
	segments *effects.SegmentEffectTable
}

func (s *Scorer) longTerm(ds *experiment.Dataset) (*longTermTables, error) {
	global, err := effects.ExperimentEffects(ds, s.cfg.LongTermMetric)
	if err != nil {
		return nil, err
	}
	segs, err := effects.SegmentEffects(ds, s.cfg.LongTermMetric, s.cfg.SegmentKeys)
	if err != nil {
		return nil, err
	}
	return &longTermTables{global: global, segments: segs}, nil
}

// Score scores every configured metric. Long-term effects are computed once.
func (s *Scorer) Score(ds *experiment.Dataset) (*ScoreTable, error) {
	for _, m := range s.cfg.Metrics {
		if !ds.HasMetric(m) {
			return nil, errors.InvalidInputf("unknown metric %q", m)
		}
	}
	lt, err := s.longTerm(ds)
	if err != nil {
		return nil, err
	}

	table := &ScoreTable{
		Ranked:   make([]ProxyScore, 0, len(s.cfg.Metrics)),
		ByMetric: make(map[string]ProxyScore, len(s.cfg.Metrics)),
	}
	for _, m := range s.cfg.Metrics {
		score, err := s.scoreMetric(ds, m, lt)
		if err != nil {
			return nil, errors.Wrapf(err, "scoring %s", m)
		}
		table.Ranked = append(table.Ranked, score)
		table.ByMetric[m] = score
	}
	sort.SliceStable(table.Ranked, func(i, j int) bool {
		return table.Ranked[i].Reliability > table.Ranked[j].Reliability
	})
	return table, nil
}

// ScoreMetric scores a single metric
func (s *Scorer) ScoreMetric(ds *experiment.Dataset, metric string) (ProxyScore, error) {
	lt, err := s.longTerm(ds)
	if err != nil {
		return ProxyScore{}, err
	}
	return s.scoreMetric(ds, metric, lt)
}

func (s *Scorer) scoreMetric(ds *experiment.Dataset, metric string, lt *longTermTables) (ProxyScore, error) {
	proxy, err := effects.ExperimentEffects(ds, metric)
	if err != nil {
		return ProxyScore{}, err
	}
	pairs := effects.PairExperiments(proxy, lt.global)
	corr := EffectCorrelation(pairs)
	dirAcc := DirectionalAccuracy(pairs)

	proxySegs, err := effects.SegmentEffects(ds, metric, s.cfg.SegmentKeys)
	if err != nil {
		return ProxyScore{}, err
	}
	cells, err := effects.PairSegments(proxySegs, lt.segments, lt.global)
	if err != nil {
		return ProxyScore{}, err
	}
	fragility := FragilityRate(cells)

	return ProxyScore{
		Metric:              metric,
		Reliability:         Reliability(corr, dirAcc, fragility),
		EffectCorr:          corr,
		DirectionalAccuracy: dirAcc,
		FragilityRate:       fragility,
		NExperimentsScored:  len(pairs),
		NCellsScored:        len(cells),
	}, nil
}

// Reliability combines the three components with fixed weights.
func Reliability(corr, dirAcc, fragility float64) float64 {
	corr01 := (corr + 1) / 2
	return WeightCorrelation*corr01 + WeightDirection*dirAcc + WeightRobustness*(1-fragility)
}

// EffectCorrelation is the Pearson correlation of joined effects; 0 for a constant series
// or fewer than two experiments.
func EffectCorrelation(pairs []effects.ExperimentPair) float64 {
	if len(pairs) < 2 {
		return 0
	}
	proxy, long := effects.SplitPairs(pairs)
	if stat.StdDev(proxy, nil) < MinStdDev || stat.StdDev(long, nil) < MinStdDev {
		return 0
	}
	return stat.Correlation(proxy, long, nil)
}

// DirectionalAccuracy is the share of experiments where proxy and long-term signs agree.
func DirectionalAccuracy(pairs []effects.ExperimentPair) float64 {
	if len(pairs) == 0 {
		return 0
	}
	agree := 0
	for _, p := range pairs {
		if p.SameDirection() {
			agree++
		}
	}
	return float64(agree) / float64(len(pairs))
}

// FragilityRate is the share of cells whose proxy sign flips against the global long-term sign.
func FragilityRate(cells []effects.SegmentPair) float64 {
	if len(cells) == 0 {
		return 0
	}
	flips := 0
	for _, c := range cells {
		if c.FlipsGlobal() {
			flips++
		}
	}
	return float64(flips) / float64(len(cells))
}
