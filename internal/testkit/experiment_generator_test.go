package testkit

import (
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxima/domain/experiment"
)

func TestExperimentGenerator_Deterministic(t *testing.T) {
	cfg := GeneratorConfig{Users: 2000, Experiments: 6, Seed: 42}
	a := MustGenerate(t, cfg)
	b := MustGenerate(t, cfg)

	require.Equal(t, a.Len(), b.Len())
	assert.Equal(t, a.Experiments(), b.Experiments())
	for _, m := range a.Schema().NumericColumns() {
		ca, err := a.Metric(m)
		require.NoError(t, err)
		cb, err := b.Metric(m)
		require.NoError(t, err)
		assert.Equal(t, ca, cb, "column %s", m)
	}

	cfg.Seed = 43
	c := MustGenerate(t, cfg)
	ca, _ := a.Metric("early_watch_min")
	cc, _ := c.Metric("early_watch_min")
	assert.NotEqual(t, ca, cc)
	assert.Equal(t, a.Schema(), c.Schema())
}

func TestExperimentGenerator_SchemaAndRanges(t *testing.T) {
	ds := MustGenerate(t, GeneratorConfig{Users: 5000, Experiments: 10, Seed: 7})

	assert.Equal(t, 5000, ds.Len())
	assert.Len(t, ds.Experiments(), 10)
	for _, k := range experiment.DefaultSegmentKeys {
		assert.True(t, ds.HasSegment(k), k)
	}

	ctr, err := ds.Metric("early_ctr")
	require.NoError(t, err)
	for _, v := range ctr {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	watch, err := ds.Metric("early_watch_min")
	require.NoError(t, err)
	for _, v := range watch {
		assert.GreaterOrEqual(t, v, 0.0)
	}
	long, err := ds.Metric(experiment.DefaultLongTermMetric)
	require.NoError(t, err)
	for _, v := range long {
		assert.True(t, v == 0 || v == 1)
	}

	summary := ds.Summary()
	require.NotNil(t, summary.NFailureCohort)
	assert.Greater(t, *summary.NFailureCohort, 0)
	// Mobile .45 * IN .20 * New .30
	assert.InDelta(t, 0.027, *summary.FailureCohortRate, 0.01)
}

func TestGeneratorConfig_ValidateBounds(t *testing.T) {
	assert.NoError(t, DefaultGeneratorConfig().ValidateBounds())
	assert.Error(t, GeneratorConfig{Users: 999, Experiments: 10}.ValidateBounds())
	assert.Error(t, GeneratorConfig{Users: 1000, Experiments: 201}.ValidateBounds())
	assert.Error(t, GeneratorConfig{Users: 2_000_000, Experiments: 10}.ValidateBounds())
}

func TestExperimentGenerator_RejectsEmpty(t *testing.T) {
	_, err := Generate(GeneratorConfig{Users: 0, Experiments: 3})
	assert.Error(t, err)
}

func TestBuildEffects_ExactEffects(t *testing.T) {
	ds := MustBuildEffects(t, SmallSchema(), []EffectSpec{
		{ExpID: "e1", Segment: []string{"a"}, N: 3, Effects: map[string]float64{"p1": 0.25}},
	})
	assert.Equal(t, 6, ds.Len())
	assert.Equal(t, []string{"e1"}, ds.Experiments())
}

type fatalRecorder struct{ msg string }

func (r *fatalRecorder) Helper() {}

func (r *fatalRecorder) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestMustGenerate_ReportsThroughTB(t *testing.T) {
	rec := &fatalRecorder{}
	ds := MustGenerate(rec, GeneratorConfig{Users: 0, Experiments: 5, Seed: 1})
	assert.Nil(t, ds)
	assert.Contains(t, rec.msg, "Failed to generate experiments")
}

func TestNonTestFilesDoNotImportTesting(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		require.NoError(t, err, name)
		for _, imp := range f.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			assert.NotEqual(t, "testing", path, name)
		}
	}
}
