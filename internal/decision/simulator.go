// Package decision replays ship / don't-ship decisions driven by a proxy metric and
// scores them against the true long-term outcome.
package decision

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"proxima/domain/experiment"
	"proxima/internal/effects"
	"proxima/internal/errors"
)

// OracleName labels the row that decides on the long-term metric itself.
const OracleName = "Oracle (True Long-term)"

// MaxAbsThreshold bounds the accepted decision threshold.
const MaxAbsThreshold = 1e6

// Result summarizes the decisions a proxy would have made
type Result struct {
	ProxyMetric         string  `json:"proxy_metric"`
	WinRate             float64 `json:"win_rate"`
	FalsePositiveRate   float64 `json:"false_positive_rate"`
	FalseNegativeRate   float64 `json:"false_negative_rate"`
	AvgRegret           float64 `json:"avg_regret"`
	TotalShipped        int     `json:"total_shipped"`
	CorrectShips        int     `json:"correct_ships"`
	IncorrectShips      int     `json:"incorrect_ships"`
	MissedOpportunities int     `json:"missed_opportunities"`
	NExperiments        int     `json:"n_experiments"`
}

// ValidateThreshold rejects non-finite or absurd thresholds
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || math.Abs(threshold) > MaxAbsThreshold {
		return errors.InvalidInputf("threshold must be finite and within ±%g, got %v", MaxAbsThreshold, threshold)
	}
	return nil
}

// Simulate ships an experiment when its proxy effect exceeds the threshold and compares
// against shipping when the long-term effect exceeds it.
func Simulate(ds *experiment.Dataset, proxy, long string, threshold float64) (Result, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return Result{}, err
	}
	proxyTable, err := effects.ExperimentEffects(ds, proxy)
	if err != nil {
		return Result{}, err
	}
	longTable, err := effects.ExperimentEffects(ds, long)
	if err != nil {
		return Result{}, err
	}
	res := Evaluate(effects.PairExperiments(proxyTable, longTable), threshold)
	res.ProxyMetric = proxy
	return res, nil
}

// Evaluate computes decision quality over joined experiment effects.
func Evaluate(pairs []effects.ExperimentPair, threshold float64) Result {
	var (
		res                     Result
		shouldShip, shouldntCnt int
		incorrectLoss           float64
		missedGain              float64
	)
	res.NExperiments = len(pairs)
	for _, p := range pairs {
		ship := p.Proxy > threshold
		should := p.Long > threshold
		if should {
			shouldShip++
		} else {
			shouldntCnt++
		}
		switch {
		case ship && should:
			res.CorrectShips++
		case ship && !should:
			res.IncorrectShips++
			incorrectLoss += p.Long
		case !ship && should:
			res.MissedOpportunities++
			missedGain += p.Long
		}
	}
	res.TotalShipped = res.CorrectShips + res.IncorrectShips

	res.WinRate = ratio(res.CorrectShips, res.TotalShipped)
	res.FalsePositiveRate = ratio(res.IncorrectShips, shouldntCnt)
	res.FalseNegativeRate = ratio(res.MissedOpportunities, shouldShip)
	if res.NExperiments > 0 {
		res.AvgRegret = (math.Abs(incorrectLoss) + missedGain) / float64(res.NExperiments)
	}
	return res
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Compare simulates each proxy plus the oracle and sorts by win rate, highest first.
func Compare(ds *experiment.Dataset, proxies []string, long string, threshold float64) ([]Result, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	longTable, err := effects.ExperimentEffects(ds, long)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(proxies)+1)
	for _, p := range proxies {
		proxyTable, err := effects.ExperimentEffects(ds, p)
		if err != nil {
			return nil, errors.Wrapf(err, "simulating %s", p)
		}
		res := Evaluate(effects.PairExperiments(proxyTable, longTable), threshold)
		res.ProxyMetric = p
		results = append(results, res)
	}

	oracle := Evaluate(effects.PairExperiments(longTable, longTable), threshold)
	oracle.ProxyMetric = OracleName
	results = append(results, oracle)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].WinRate > results[j].WinRate
	})
	return results, nil
}

// SegmentRegret aggregates wrong decisions for one segment tuple
type SegmentRegret struct {
	Segment     experiment.Segment `json:"segment"`
	Labels      map[string]string  `json:"labels"`
	AvgRegret   float64            `json:"avg_regret"`
	TotalRegret float64            `json:"total_regret"`
	ErrorRate   float64            `json:"error_rate"`
	NCells      int                `json:"n_cells"`
}

// RegretOptions restricts which cells enter the regret aggregation
type RegretOptions struct {
	Only     []experiment.Segment
	MinCount int
}

// RegretBySegment judges each cell's proxy-driven decision against the cell's own
// long-term effect; a wrong decision costs |long effect|.
func RegretBySegment(ds *experiment.Dataset, proxy, long string, keys []string, threshold float64, opts RegretOptions) ([]SegmentRegret, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	if opts.MinCount < 0 {
		return nil, errors.InvalidInputf("min_count must be non-negative, got %d", opts.MinCount)
	}
	for _, s := range opts.Only {
		if len(s) != len(keys) {
			return nil, errors.InvalidInputf("segment %s does not match keys %v", s, keys)
		}
	}
	cells, err := effects.SegmentPairs(ds, proxy, long, keys)
	if err != nil {
		return nil, err
	}

	var allowed map[string]bool
	if len(opts.Only) > 0 {
		allowed = make(map[string]bool, len(opts.Only))
		for _, s := range opts.Only {
			allowed[s.Key()] = true
		}
	}

	type group struct {
		seg     experiment.Segment
		regrets []float64
		errs    int
	}
	var order []*group
	groups := make(map[string]*group)
	for _, c := range cells {
		k := c.Segment.Key()
		if allowed != nil && !allowed[k] {
			continue
		}
		if c.N < opts.MinCount {
			continue
		}
		g, ok := groups[k]
		if !ok {
			g = &group{seg: c.Segment}
			groups[k] = g
			order = append(order, g)
		}
		regret := 0.0
		if (c.Proxy > threshold) != (c.Long > threshold) {
			regret = math.Abs(c.Long)
			g.errs++
		}
		g.regrets = append(g.regrets, regret)
	}

	out := make([]SegmentRegret, 0, len(order))
	for _, g := range order {
		total, _ := stats.Sum(g.regrets)
		avg, _ := stats.Mean(g.regrets)
		out = append(out, SegmentRegret{
			Segment:     g.seg,
			Labels:      g.seg.Labels(keys),
			AvgRegret:   avg,
			TotalRegret: total,
			ErrorRate:   float64(g.errs) / float64(len(g.regrets)),
			NCells:      len(g.regrets),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AvgRegret > out[j].AvgRegret
	})
	return out, nil
}
