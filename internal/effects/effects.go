// Package effects estimates treatment effects as differences in arm means, at the
// experiment level and per (experiment, segment) cell.
package effects

import (
	"math"
	"strings"

	"proxima/domain/experiment"
	"proxima/internal/errors"
)

// ExperimentEffect is the difference in means for one experiment
type ExperimentEffect struct {
	ExpID         string  `json:"exp_id"`
	Effect        float64 `json:"effect"`
	ControlMean   float64 `json:"control_mean"`
	TreatmentMean float64 `json:"treatment_mean"`
	NControl      int     `json:"n_control"`
	NTreatment    int     `json:"n_treatment"`
}

// EffectTable holds experiment effects in first-encounter order
type EffectTable struct {
	Metric string
	rows   []ExperimentEffect
	index  map[string]int
}

func newEffectTable(metric string) *EffectTable {
	return &EffectTable{Metric: metric, index: make(map[string]int)}
}

func (t *EffectTable) add(e ExperimentEffect) {
	t.index[e.ExpID] = len(t.rows)
	t.rows = append(t.rows, e)
}

// Len returns the number of experiments with an estimable effect
func (t *EffectTable) Len() int { return len(t.rows) }

// Rows returns the effects in encounter order
func (t *EffectTable) Rows() []ExperimentEffect { return t.rows }

// Get looks up an experiment. Experiments with an empty arm are absent.
func (t *EffectTable) Get(expID string) (ExperimentEffect, bool) {
	i, ok := t.index[expID]
	if !ok {
		return ExperimentEffect{}, false
	}
	return t.rows[i], true
}

// Values returns the effect column
func (t *EffectTable) Values() []float64 {
	out := make([]float64, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Effect
	}
	return out
}

type armAccumulator struct {
	sumC, sumT float64
	nC, nT     int
	rows       int
}

func (a *armAccumulator) add(treated bool, v float64) {
	a.rows++
	if math.IsNaN(v) {
		return
	}
	if treated {
		a.sumT += v
		a.nT++
	} else {
		a.sumC += v
		a.nC++
	}
}

func (a *armAccumulator) estimable() bool { return a.nC > 0 && a.nT > 0 }

func (a *armAccumulator) means() (control, treatment float64) {
	return a.sumC / float64(a.nC), a.sumT / float64(a.nT)
}

// ExperimentEffects computes mean(metric | treated) - mean(metric | control) per experiment.
func ExperimentEffects(ds *experiment.Dataset, metric string) (*EffectTable, error) {
	values, err := ds.Metric(metric)
	if err != nil {
		return nil, err
	}

	table := newEffectTable(metric)
	for _, expID := range ds.Experiments() {
		var acc armAccumulator
		for _, r := range ds.Rows(expID) {
			acc.add(ds.Treated(r), values[r])
		}
		if !acc.estimable() {
			continue
		}
		c, t := acc.means()
		table.add(ExperimentEffect{
			ExpID:         expID,
			Effect:        t - c,
			ControlMean:   c,
			TreatmentMean: t,
			NControl:      acc.nC,
			NTreatment:    acc.nT,
		})
	}
	return table, nil
}

// SegmentEffect is the difference in means for one (experiment, segment) cell.
// N counts every row of the cell in both arms.
type SegmentEffect struct {
	ExpID         string             `json:"exp_id"`
	Segment       experiment.Segment `json:"segment"`
	Effect        float64            `json:"effect"`
	ControlMean   float64            `json:"control_mean"`
	TreatmentMean float64            `json:"treatment_mean"`
	NControl      int                `json:"n_control"`
	NTreatment    int                `json:"n_treatment"`
	N             int                `json:"n"`
}

// SegmentEffectTable holds cell effects in first-encounter order
type SegmentEffectTable struct {
	Metric string
	Keys   []string
	rows   []SegmentEffect
	index  map[string]int
}

func cellKey(expID string, seg experiment.Segment) string {
	return expID + "\x1e" + seg.Key()
}

// Len returns the number of estimable cells
func (t *SegmentEffectTable) Len() int { return len(t.rows) }

// Rows returns the cells in encounter order
func (t *SegmentEffectTable) Rows() []SegmentEffect { return t.rows }

// Get looks up one cell
func (t *SegmentEffectTable) Get(expID string, seg experiment.Segment) (SegmentEffect, bool) {
	i, ok := t.index[cellKey(expID, seg)]
	if !ok {
		return SegmentEffect{}, false
	}
	return t.rows[i], true
}

// SegmentEffects computes the difference in means per (experiment, segment tuple).
func SegmentEffects(ds *experiment.Dataset, metric string, keys []string) (*SegmentEffectTable, error) {
	values, err := ds.Metric(metric)
	if err != nil {
		return nil, err
	}
	cols, err := ds.SegmentColumns(keys)
	if err != nil {
		return nil, err
	}

	type cell struct {
		expID string
		seg   experiment.Segment
		acc   armAccumulator
	}
	var order []*cell
	cells := make(map[string]*cell)

	var sb strings.Builder
	for i := 0; i < ds.Len(); i++ {
		sb.Reset()
		sb.WriteString(ds.ExpID(i))
		for _, col := range cols {
			sb.WriteByte(0x1e)
			sb.WriteString(col[i])
		}
		k := sb.String()
		c, ok := cells[k]
		if !ok {
			seg := make(experiment.Segment, len(cols))
			for j, col := range cols {
				seg[j] = col[i]
			}
			c = &cell{expID: ds.ExpID(i), seg: seg}
			cells[k] = c
			order = append(order, c)
		}
		c.acc.add(ds.Treated(i), values[i])
	}

	table := &SegmentEffectTable{
		Metric: metric,
		Keys:   append([]string(nil), keys...),
		index:  make(map[string]int),
	}
	for _, c := range order {
		if !c.acc.estimable() {
			continue
		}
		cm, tm := c.acc.means()
		table.index[cellKey(c.expID, c.seg)] = len(table.rows)
		table.rows = append(table.rows, SegmentEffect{
			ExpID:         c.expID,
			Segment:       c.seg,
			Effect:        tm - cm,
			ControlMean:   cm,
			TreatmentMean: tm,
			NControl:      c.acc.nC,
			NTreatment:    c.acc.nT,
			N:             c.acc.rows,
		})
	}
	return table, nil
}

// Sign returns -1, 0 or 1. Zero is its own class.
func Sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// ExperimentPair joins a proxy and a long-term effect for one experiment
type ExperimentPair struct {
	ExpID string  `json:"exp_id"`
	Proxy float64 `json:"proxy"`
	Long  float64 `json:"long"`
}

// SameDirection reports whether proxy and long-term effect share a sign
func (p ExperimentPair) SameDirection() bool {
	return Sign(p.Proxy) == Sign(p.Long)
}

// PairExperiments inner-joins two effect tables on exp_id, in the proxy table's order.
func PairExperiments(proxy, long *EffectTable) []ExperimentPair {
	pairs := make([]ExperimentPair, 0, proxy.Len())
	for _, p := range proxy.rows {
		l, ok := long.Get(p.ExpID)
		if !ok {
			continue
		}
		pairs = append(pairs, ExperimentPair{ExpID: p.ExpID, Proxy: p.Effect, Long: l.Effect})
	}
	return pairs
}

// SplitPairs returns the proxy and long-term columns of a join
func SplitPairs(pairs []ExperimentPair) (proxy, long []float64) {
	proxy = make([]float64, len(pairs))
	long = make([]float64, len(pairs))
	for i, p := range pairs {
		proxy[i] = p.Proxy
		long[i] = p.Long
	}
	return proxy, long
}

// SegmentPair joins proxy and long-term cell effects with the experiment's global long-term effect
type SegmentPair struct {
	ExpID      string             `json:"exp_id"`
	Segment    experiment.Segment `json:"segment"`
	Proxy      float64            `json:"proxy"`
	Long       float64            `json:"long"`
	GlobalLong float64            `json:"global_long"`
	N          int                `json:"n"`
}

// FlipsGlobal reports whether the cell's proxy sign disagrees with the experiment's
// global long-term sign.
func (p SegmentPair) FlipsGlobal() bool {
	return Sign(p.Proxy) != Sign(p.GlobalLong)
}

// PairSegments inner-joins proxy and long-term cells on (exp_id, segment) and attaches
// the global long-term effect. Cells of experiments without a global effect are dropped.
func PairSegments(proxy, long *SegmentEffectTable, global *EffectTable) ([]SegmentPair, error) {
	if !sameKeys(proxy.Keys, long.Keys) {
		return nil, errors.InvalidInputf("segment keys differ: %v vs %v", proxy.Keys, long.Keys)
	}
	pairs := make([]SegmentPair, 0, proxy.Len())
	for _, p := range proxy.rows {
		l, ok := long.Get(p.ExpID, p.Segment)
		if !ok {
			continue
		}
		g, ok := global.Get(p.ExpID)
		if !ok {
			continue
		}
		pairs = append(pairs, SegmentPair{
			ExpID:      p.ExpID,
			Segment:    p.Segment,
			Proxy:      p.Effect,
			Long:       l.Effect,
			GlobalLong: g.Effect,
			N:          p.N,
		})
	}
	return pairs, nil
}

// SegmentPairs computes every table PairSegments needs from the dataset.
func SegmentPairs(ds *experiment.Dataset, proxy, long string, keys []string) ([]SegmentPair, error) {
	ps, err := SegmentEffects(ds, proxy, keys)
	if err != nil {
		return nil, err
	}
	ls, err := SegmentEffects(ds, long, keys)
	if err != nil {
		return nil, err
	}
	global, err := ExperimentEffects(ds, long)
	if err != nil {
		return nil, err
	}
	return PairSegments(ps, ls, global)
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
