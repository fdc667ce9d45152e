package fragility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxima/domain/experiment"
	"proxima/internal/errors"
	"proxima/internal/testkit"
)

// Two experiments with a positive global long-term effect; segment "b" moves the proxy
// the wrong way in e1 only, segment "c" in both.
func fragileFixture(t *testing.T) *experiment.Dataset {
	return testkit.MustBuildEffects(t, testkit.SmallSchema(), []testkit.EffectSpec{
		{ExpID: "e1", Segment: []string{"a"}, N: 300, Effects: map[string]float64{"p1": 0.4, "long": 0.4}},
		{ExpID: "e1", Segment: []string{"b"}, N: 300, Effects: map[string]float64{"p1": -0.1, "long": 0.1}},
		{ExpID: "e1", Segment: []string{"c"}, N: 300, Effects: map[string]float64{"p1": -0.2, "long": 0.1}},
		{ExpID: "e2", Segment: []string{"a"}, N: 300, Effects: map[string]float64{"p1": 0.3, "long": 0.2}},
		{ExpID: "e2", Segment: []string{"b"}, N: 300, Effects: map[string]float64{"p1": 0.1, "long": 0.1}},
		{ExpID: "e2", Segment: []string{"c"}, N: 100, Effects: map[string]float64{"p1": -0.3, "long": 0.0}},
	})
}

func TestFindFragileSegments_SortedByFlipRate(t *testing.T) {
	d := NewDetector("long", nil)
	rows, err := d.FindFragileSegments(fragileFixture(t), "p1", []string{"seg"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, experiment.Segment{"c"}, rows[0].Segment)
	assert.InDelta(t, 1.0, rows[0].FlipRate, 1e-12)
	assert.Equal(t, 2, rows[0].NCells)
	assert.InDelta(t, 400.0, rows[0].AvgCellN, 1e-9)
	assert.Equal(t, map[string]string{"seg": "c"}, rows[0].Labels)

	assert.Equal(t, experiment.Segment{"b"}, rows[1].Segment)
	assert.InDelta(t, 0.5, rows[1].FlipRate, 1e-12)

	assert.Equal(t, experiment.Segment{"a"}, rows[2].Segment)
	assert.Equal(t, 0.0, rows[2].FlipRate)
}

func TestFindFragileSegments_MinCountFiltersCells(t *testing.T) {
	d := NewDetector("long", nil)
	rows, err := d.FindFragileSegments(fragileFixture(t), "p1", []string{"seg"}, 500)
	require.NoError(t, err)

	for _, r := range rows {
		if r.Segment.Equal(experiment.Segment{"c"}) {
			assert.Equal(t, 1, r.NCells, "the 200-row cell of e2 is dropped")
			assert.InDelta(t, 600.0, r.AvgCellN, 1e-9)
		}
		assert.GreaterOrEqual(t, r.AvgCellN, 500.0)
	}

	rows, err = d.FindFragileSegments(fragileFixture(t), "p1", []string{"seg"}, 10_000)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFindFragileSegments_InvalidParameters(t *testing.T) {
	d := NewDetector("long", nil)
	ds := fragileFixture(t)

	_, err := d.FindFragileSegments(ds, "p1", []string{"seg"}, -1)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = d.FindFragileSegments(ds, "missing", []string{"seg"}, 0)
	assert.Error(t, err)

	_, err = d.FindFragileSegments(ds, "p1", []string{"country"}, 0)
	assert.Error(t, err)
}

func TestFindFragileSegments_GeneratedFailureCohortIsFragile(t *testing.T) {
	ds := testkit.MustGenerate(t, testkit.GeneratorConfig{Users: 40000, Experiments: 20, Seed: 7})
	d := NewDetector(experiment.DefaultLongTermMetric, nil)

	rows, err := d.FindFragileSegments(ds, "early_watch_min", experiment.DefaultSegmentKeys, 0)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i-1].FlipRate, rows[i].FlipRate)
	}
}

func TestTop(t *testing.T) {
	rows := make([]FragileSegment, 30)
	assert.Len(t, Top(rows, 20), 20)
	assert.Len(t, Top(rows[:5], 20), 5)
}
