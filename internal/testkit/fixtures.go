package testkit

import (
	"fmt"

	"proxima/domain/experiment"
)

// CellSpec describes one (experiment, segment) cell with constant metric values per arm,
// so every effect in the resulting dataset is known exactly.
type CellSpec struct {
	ExpID      string
	Segment    []string
	NControl   int
	NTreatment int
	Control    map[string]float64
	Treatment  map[string]float64
}

// BuildCells expands cell specs into observations
func BuildCells(schema experiment.Schema, cells []CellSpec) (*experiment.Dataset, error) {
	b, err := experiment.NewBuilder(schema)
	if err != nil {
		return nil, err
	}
	for _, c := range cells {
		if len(c.Segment) != len(schema.SegmentKeys) {
			return nil, fmt.Errorf("cell %s: %d segment values for %d keys", c.ExpID, len(c.Segment), len(schema.SegmentKeys))
		}
		segs := make(map[string]string, len(c.Segment))
		for i, k := range schema.SegmentKeys {
			segs[k] = c.Segment[i]
		}
		for i := 0; i < c.NControl; i++ {
			if err := b.Append(experiment.Observation{ExpID: c.ExpID, Segments: segs, Metrics: c.Control}); err != nil {
				return nil, err
			}
		}
		for i := 0; i < c.NTreatment; i++ {
			if err := b.Append(experiment.Observation{ExpID: c.ExpID, Treatment: true, Segments: segs, Metrics: c.Treatment}); err != nil {
				return nil, err
			}
		}
	}
	return b.Build()
}

// TB is the subset of testing.TB used by the Must helpers. Non-test files in this
// package must not import testing; the server and CLI link the generator.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// MustBuildCells fails the test if the fixture cannot be built
func MustBuildCells(tb TB, schema experiment.Schema, cells []CellSpec) *experiment.Dataset {
	tb.Helper()
	ds, err := BuildCells(schema, cells)
	if err != nil {
		tb.Fatalf("Failed to build fixture: %v", err)
	}
	return ds
}

// EffectSpec is a compact way to say "experiment X, segment S, proxy effect p, long effect l".
type EffectSpec struct {
	ExpID   string
	Segment []string
	N       int // rows per arm
	Effects map[string]float64
}

// BuildEffects turns effect specs into cells whose control arm is zero for every metric.
func BuildEffects(schema experiment.Schema, specs []EffectSpec) (*experiment.Dataset, error) {
	cells := make([]CellSpec, 0, len(specs))
	for _, s := range specs {
		control := make(map[string]float64, len(s.Effects))
		for m := range s.Effects {
			control[m] = 0
		}
		cells = append(cells, CellSpec{
			ExpID:      s.ExpID,
			Segment:    s.Segment,
			NControl:   s.N,
			NTreatment: s.N,
			Control:    control,
			Treatment:  s.Effects,
		})
	}
	return BuildCells(schema, cells)
}

// MustBuildEffects fails the test if the fixture cannot be built
func MustBuildEffects(tb TB, schema experiment.Schema, specs []EffectSpec) *experiment.Dataset {
	tb.Helper()
	ds, err := BuildEffects(schema, specs)
	if err != nil {
		tb.Fatalf("Failed to build fixture: %v", err)
	}
	return ds
}

// SmallSchema is a two-metric, one-segment schema used by unit tests.
func SmallSchema() experiment.Schema {
	return experiment.Schema{
		Metrics:        []string{"p1", "p2"},
		LongTermMetric: "long",
		SegmentKeys:    []string{"seg"},
	}
}
