package decision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxima/domain/experiment"
	"proxima/internal/effects"
	"proxima/internal/errors"
	"proxima/internal/fragility"
	"proxima/internal/testkit"
)

func decisionFixture(t *testing.T) *experiment.Dataset {
	spec := func(exp string, p1, p2, long float64) testkit.EffectSpec {
		return testkit.EffectSpec{ExpID: exp, Segment: []string{"a"}, N: 4,
			Effects: map[string]float64{"p1": p1, "p2": p2, "long": long}}
	}
	return testkit.MustBuildEffects(t, testkit.SmallSchema(), []testkit.EffectSpec{
		spec("e1", 0.2, -1, 0.1),  // correct ship
		spec("e2", 0.3, -1, -0.2), // incorrect ship
		spec("e3", -0.1, -1, 0.3), // missed
		spec("e4", -0.2, -1, -0.1),
	})
}

func TestSimulate_OutcomeClasses(t *testing.T) {
	res, err := Simulate(decisionFixture(t), "p1", "long", 0)
	require.NoError(t, err)

	assert.Equal(t, "p1", res.ProxyMetric)
	assert.Equal(t, 4, res.NExperiments)
	assert.Equal(t, 2, res.TotalShipped)
	assert.Equal(t, 1, res.CorrectShips)
	assert.Equal(t, 1, res.IncorrectShips)
	assert.Equal(t, 1, res.MissedOpportunities)
	assert.Equal(t, res.TotalShipped, res.CorrectShips+res.IncorrectShips)
	assert.InDelta(t, 0.5, res.WinRate, 1e-12)
	assert.InDelta(t, 0.5, res.FalsePositiveRate, 1e-12)
	assert.InDelta(t, 0.5, res.FalseNegativeRate, 1e-12)
	assert.InDelta(t, (0.2+0.3)/4, res.AvgRegret, 1e-12)
}

func TestSimulate_NothingShipped(t *testing.T) {
	res, err := Simulate(decisionFixture(t), "p2", "long", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalShipped)
	assert.Equal(t, 0.0, res.WinRate)
	assert.Equal(t, 0.0, res.FalsePositiveRate)
	assert.InDelta(t, 1.0, res.FalseNegativeRate, 1e-12)
}

func TestSimulate_ThresholdValidation(t *testing.T) {
	ds := decisionFixture(t)
	for _, th := range []float64{math.NaN(), math.Inf(1), 2e6} {
		_, err := Simulate(ds, "p1", "long", th)
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	}
}

func TestEvaluate_Empty(t *testing.T) {
	res := Evaluate(nil, 0)
	assert.Equal(t, Result{}, res)
}

func TestCompare_OracleRowAndOrdering(t *testing.T) {
	results, err := Compare(decisionFixture(t), []string{"p2", "p1"}, "long", 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, OracleName, results[0].ProxyMetric)
	assert.Equal(t, 1.0, results[0].WinRate)
	assert.Equal(t, 0.0, results[0].FalsePositiveRate)
	assert.Equal(t, 0.0, results[0].FalseNegativeRate)
	assert.Equal(t, 0.0, results[0].AvgRegret)

	assert.Equal(t, "p1", results[1].ProxyMetric)
	assert.Equal(t, "p2", results[2].ProxyMetric)
}

func TestRegretBySegment(t *testing.T) {
	ds := testkit.MustBuildEffects(t, testkit.SmallSchema(), []testkit.EffectSpec{
		{ExpID: "e1", Segment: []string{"a"}, N: 5, Effects: map[string]float64{"p1": 0.2, "long": 0.4}},
		{ExpID: "e1", Segment: []string{"b"}, N: 5, Effects: map[string]float64{"p1": 0.2, "long": -0.3}},
		{ExpID: "e2", Segment: []string{"a"}, N: 5, Effects: map[string]float64{"p1": -0.1, "long": 0.2}},
		{ExpID: "e2", Segment: []string{"b"}, N: 5, Effects: map[string]float64{"p1": -0.1, "long": -0.1}},
	})

	rows, err := RegretBySegment(ds, "p1", "long", []string{"seg"}, 0, RegretOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// a: e1 correct, e2 missed (0.2); b: e1 wrong ship (0.3), e2 correct
	assert.Equal(t, experiment.Segment{"b"}, rows[0].Segment)
	assert.InDelta(t, 0.15, rows[0].AvgRegret, 1e-12)
	assert.InDelta(t, 0.3, rows[0].TotalRegret, 1e-12)
	assert.InDelta(t, 0.5, rows[0].ErrorRate, 1e-12)
	assert.Equal(t, 2, rows[0].NCells)
	assert.Equal(t, experiment.Segment{"a"}, rows[1].Segment)
	assert.InDelta(t, 0.1, rows[1].AvgRegret, 1e-12)

	only, err := RegretBySegment(ds, "p1", "long", []string{"seg"}, 0, RegretOptions{Only: []experiment.Segment{{"a"}}})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, experiment.Segment{"a"}, only[0].Segment)

	_, err = RegretBySegment(ds, "p1", "long", []string{"seg"}, 0, RegretOptions{MinCount: -3})
	assert.Error(t, err)
}

func TestSimulate_CountsJoinedExperiments(t *testing.T) {
	ds := testkit.MustGenerate(t, testkit.GeneratorConfig{Users: 8000, Experiments: 10, Seed: 11})

	proxy, err := effects.ExperimentEffects(ds, "early_ctr")
	require.NoError(t, err)
	long, err := effects.ExperimentEffects(ds, experiment.DefaultLongTermMetric)
	require.NoError(t, err)

	res, err := Simulate(ds, "early_ctr", experiment.DefaultLongTermMetric, 0)
	require.NoError(t, err)
	assert.Equal(t, len(effects.PairExperiments(proxy, long)), res.NExperiments)
	assert.GreaterOrEqual(t, res.WinRate, 0.0)
	assert.LessOrEqual(t, res.WinRate, 1.0)
}

// fragileFixture keeps each experiment's long effect equal in every segment, so a
// cell's long effect is also its experiment's global long effect.
func fragileFixture(t *testing.T) *experiment.Dataset {
	t.Helper()
	long := map[string]float64{"e1": 0.2, "e2": -0.3, "e3": 0.1, "e4": -0.05}
	proxy := map[string]map[string]float64{
		"e1": {"a": 0.4, "b": -0.1, "c": 0.3},
		"e2": {"a": -0.2, "b": 0.25, "c": 0.1},
		"e3": {"a": 0.05, "b": -0.15, "c": -0.2},
		"e4": {"a": -0.1, "b": 0.3, "c": -0.4},
	}
	n := map[string]int{"a": 30, "b": 20, "c": 2}

	var specs []testkit.EffectSpec
	for _, exp := range []string{"e1", "e2", "e3", "e4"} {
		for _, seg := range []string{"a", "b", "c"} {
			specs = append(specs, testkit.EffectSpec{
				ExpID:   exp,
				Segment: []string{seg},
				N:       n[seg],
				Effects: map[string]float64{"p1": proxy[exp][seg], "p2": 1, "long": long[exp]},
			})
		}
	}
	return testkit.MustBuildEffects(t, testkit.SmallSchema(), specs)
}

func TestRegretBySegment_AgreesWithFragileSegments(t *testing.T) {
	ds := fragileFixture(t)
	keys := []string{"seg"}
	const minCount = 10

	fragile, err := fragility.NewDetector("long", nil).FindFragileSegments(ds, "p1", keys, minCount)
	require.NoError(t, err)
	require.Len(t, fragile, 2, "segment c is below min_count")

	only := make([]experiment.Segment, 0, len(fragile))
	for _, f := range fragile {
		only = append(only, f.Segment)
	}
	regret, err := RegretBySegment(ds, "p1", "long", keys, 0, RegretOptions{Only: only, MinCount: minCount})
	require.NoError(t, err)
	require.Len(t, regret, len(fragile))

	byKey := make(map[string]SegmentRegret, len(regret))
	for _, r := range regret {
		byKey[r.Segment.Key()] = r
	}
	for _, f := range fragile {
		r, ok := byKey[f.Segment.Key()]
		require.True(t, ok, "segment %s missing from regret", f.Segment)
		assert.Equal(t, f.NCells, r.NCells, "segment %s", f.Segment)
		assert.InDelta(t, f.FlipRate, r.ErrorRate, 1e-12, "segment %s", f.Segment)
	}

	// a: every cell agrees with its experiment; b: every cell disagrees
	assert.InDelta(t, 0.0, byKey[experiment.Segment{"a"}.Key()].ErrorRate, 1e-12)
	assert.InDelta(t, 1.0, byKey[experiment.Segment{"b"}.Key()].ErrorRate, 1e-12)
}

func TestRegretBySegment_SameCellsAsFragility(t *testing.T) {
	ds := testkit.MustGenerate(t, testkit.GeneratorConfig{Users: 20000, Experiments: 8, Seed: 3})
	keys := []string{"region", "device"}
	const minCount = 150

	fragile, err := fragility.NewDetector(experiment.DefaultLongTermMetric, nil).
		FindFragileSegments(ds, "early_ctr", keys, minCount)
	require.NoError(t, err)
	require.NotEmpty(t, fragile)

	only := make([]experiment.Segment, 0, len(fragile))
	cells := make(map[string]int, len(fragile))
	for _, f := range fragile {
		only = append(only, f.Segment)
		cells[f.Segment.Key()] = f.NCells
	}
	regret, err := RegretBySegment(ds, "early_ctr", experiment.DefaultLongTermMetric, keys, 0,
		RegretOptions{Only: only, MinCount: minCount})
	require.NoError(t, err)
	require.Len(t, regret, len(fragile))
	for _, r := range regret {
		assert.Equal(t, cells[r.Segment.Key()], r.NCells, "segment %s", r.Segment)
	}
}
