package experiment

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallSchema() Schema {
	return Schema{Metrics: []string{"p1"}, LongTermMetric: "long", SegmentKeys: []string{"seg"}}
}

func obs(exp string, treated bool, seg string, p1, long float64) Observation {
	return Observation{
		ExpID:     exp,
		Treatment: treated,
		Segments:  map[string]string{"seg": seg},
		Metrics:   map[string]float64{"p1": p1, "long": long},
	}
}

func TestSchema_Validate(t *testing.T) {
	assert.NoError(t, DefaultSchema().Validate())
	assert.Error(t, Schema{Metrics: []string{"a"}}.Validate())
	assert.Error(t, Schema{LongTermMetric: "l"}.Validate())
	assert.Error(t, Schema{Metrics: []string{"l"}, LongTermMetric: "l"}.Validate())
	assert.Error(t, Schema{Metrics: []string{"a"}, LongTermMetric: "l", SegmentKeys: []string{"a"}}.Validate())
}

func TestBuilder_ColumnsAndOrder(t *testing.T) {
	b, err := NewBuilder(smallSchema())
	require.NoError(t, err)
	require.NoError(t, b.Append(obs("e2", false, "x", 1, 0)))
	require.NoError(t, b.Append(obs("e1", true, "y", 2, 1)))
	require.NoError(t, b.Append(Observation{ExpID: "e2", Treatment: true, Segments: map[string]string{"seg": "x"}}))
	assert.Equal(t, 3, b.Len())

	ds, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"e2", "e1"}, ds.Experiments())
	assert.Equal(t, []int{0, 2}, ds.Rows("e2"))
	assert.True(t, ds.Treated(1))

	p1, err := ds.Metric("p1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p1[0])
	assert.True(t, math.IsNaN(p1[2]), "absent metric is missing")

	_, err = ds.Metric("nope")
	assert.Error(t, err)
	_, err = ds.SegmentColumns(nil)
	assert.Error(t, err)

	_, err = b.Build()
	assert.Error(t, err, "builder cannot be reused")
}

func TestBuilder_RejectsBadObservations(t *testing.T) {
	b, err := NewBuilder(smallSchema())
	require.NoError(t, err)

	assert.Error(t, b.Append(Observation{Segments: map[string]string{"seg": "x"}}))
	assert.Error(t, b.Append(Observation{ExpID: "e1"}))
	assert.Error(t, b.Append(Observation{
		ExpID: "e1", Segments: map[string]string{"seg": "x"},
		Metrics: map[string]float64{"ghost": 1},
	}))
}

func TestDataset_ResampleExperimentsRelabelsRepeats(t *testing.T) {
	b, err := NewBuilder(smallSchema())
	require.NoError(t, err)
	require.NoError(t, b.Append(obs("e1", false, "x", 1, 0)))
	require.NoError(t, b.Append(obs("e1", true, "x", 2, 1)))
	require.NoError(t, b.Append(obs("e2", true, "y", 3, 1)))
	ds, err := b.Build()
	require.NoError(t, err)

	rs, err := ds.ResampleExperiments([]string{"e1", "e1", "e2"})
	require.NoError(t, err)
	assert.Equal(t, 5, rs.Len())
	assert.Equal(t, []string{"e1", "e1#1", "e2"}, rs.Experiments())

	p1, _ := rs.Metric("p1")
	assert.Equal(t, []float64{1, 2, 1, 2, 3}, p1)

	_, err = ds.ResampleExperiments([]string{"e9"})
	assert.Error(t, err)
}

func TestDataset_ResampleExperimentsAvoidsLabelCollisions(t *testing.T) {
	b, err := NewBuilder(smallSchema())
	require.NoError(t, err)
	require.NoError(t, b.Append(obs("a", false, "x", 1, 0)))
	require.NoError(t, b.Append(obs("a", true, "x", 2, 1)))
	require.NoError(t, b.Append(obs("a#1", true, "y", 7, 1)))
	ds, err := b.Build()
	require.NoError(t, err)

	for _, ids := range [][]string{{"a", "a", "a#1"}, {"a#1", "a", "a"}} {
		rs, err := ds.ResampleExperiments(ids)
		require.NoError(t, err)
		assert.Equal(t, 5, rs.Len(), "%v", ids)
		assert.Len(t, rs.Experiments(), 3, "%v", ids)
	}

	rs, err := ds.ResampleExperiments([]string{"a", "a", "a#1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a#1", "a#1#1"}, rs.Experiments())
	p1, _ := rs.Metric("p1")
	assert.Equal(t, []float64{1, 2, 1, 2, 7}, p1)
}

func TestDataset_Summary(t *testing.T) {
	schema := smallSchema()
	schema.Extra = []string{FailureCohortColumn}
	b, err := NewBuilder(schema)
	require.NoError(t, err)
	o := obs("e1", true, "x", 1, 1)
	o.Metrics[FailureCohortColumn] = 1
	require.NoError(t, b.Append(o))
	require.NoError(t, b.Append(obs("e1", false, "x", 1, 1)))
	ds, err := b.Build()
	require.NoError(t, err)

	s := ds.Summary()
	assert.Equal(t, 2, s.NUsers)
	assert.Equal(t, 1, s.NExperiments)
	assert.Equal(t, 1, s.NTreated)
	require.NotNil(t, s.NFailureCohort)
	assert.Equal(t, 1, *s.NFailureCohort)
	assert.InDelta(t, 0.5, *s.FailureCohortRate, 1e-12)
}

func TestSegment_KeyRoundTrip(t *testing.T) {
	s := Segment{"IN", "Mobile", "New"}
	assert.True(t, s.Equal(ParseSegmentKey(s.Key())))
	assert.Equal(t, "IN/Mobile/New", s.String())
	assert.Equal(t, map[string]string{"region": "IN", "device": "Mobile", "tenure": "New"}, s.Labels(DefaultSegmentKeys))
}
