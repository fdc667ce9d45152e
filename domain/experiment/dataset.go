package experiment

import (
	"fmt"
	"math"

	"proxima/internal/errors"
)

// Observation is one user row of an experiment
type Observation struct {
	ExpID     string             `json:"exp_id"`
	Treatment bool               `json:"treatment"`
	Segments  map[string]string  `json:"segments"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Dataset is a columnar, read-only table of observations. NaN metric values are missing.
type Dataset struct {
	schema    Schema
	expIDs    []string
	treatment []bool
	segments  map[string][]string
	metrics   map[string][]float64

	expOrder []string
	expRows  map[string][]int
}

// Summary describes the size of a dataset
type Summary struct {
	NUsers            int      `json:"n_users"`
	NExperiments      int      `json:"n_experiments"`
	NTreated          int      `json:"n_treated"`
	Metrics           []string `json:"metrics"`
	LongTermMetric    string   `json:"long_term_metric"`
	SegmentKeys       []string `json:"segment_keys"`
	NFailureCohort    *int     `json:"n_failure_cohort,omitempty"`
	FailureCohortRate *float64 `json:"failure_cohort_rate,omitempty"`
}

// Len returns the number of rows
func (d *Dataset) Len() int { return len(d.expIDs) }

// Schema returns the column names the dataset was built for
func (d *Dataset) Schema() Schema { return d.schema }

// ExpID returns the experiment id of row i
func (d *Dataset) ExpID(i int) string { return d.expIDs[i] }

// Treated reports whether row i is in the treatment arm
func (d *Dataset) Treated(i int) bool { return d.treatment[i] }

// Experiments returns the distinct experiment ids in first-encounter order
func (d *Dataset) Experiments() []string {
	return append([]string(nil), d.expOrder...)
}

// Rows returns the row indices of one experiment
func (d *Dataset) Rows(expID string) []int {
	return d.expRows[expID]
}

// HasMetric reports whether a numeric column exists
func (d *Dataset) HasMetric(name string) bool {
	_, ok := d.metrics[name]
	return ok
}

// HasSegment reports whether a segment column exists
func (d *Dataset) HasSegment(key string) bool {
	_, ok := d.segments[key]
	return ok
}

// Metric returns the column for a numeric metric. The slice must not be modified.
func (d *Dataset) Metric(name string) ([]float64, error) {
	col, ok := d.metrics[name]
	if !ok {
		return nil, errors.InvalidInputf("unknown metric %q", name)
	}
	return col, nil
}

// Segment returns the column for a segment key. The slice must not be modified.
func (d *Dataset) Segment(key string) ([]string, error) {
	col, ok := d.segments[key]
	if !ok {
		return nil, errors.InvalidInputf("unknown segment key %q", key)
	}
	return col, nil
}

// SegmentColumns resolves a list of keys, rejecting an empty list.
func (d *Dataset) SegmentColumns(keys []string) ([][]string, error) {
	if len(keys) == 0 {
		return nil, errors.InvalidInput("at least one segment key is required")
	}
	cols := make([][]string, len(keys))
	for i, k := range keys {
		col, err := d.Segment(k)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return cols, nil
}

// Summary counts rows, experiments and the failure cohort when the column exists.
func (d *Dataset) Summary() Summary {
	s := Summary{
		NUsers:         d.Len(),
		NExperiments:   len(d.expOrder),
		Metrics:        append([]string(nil), d.schema.Metrics...),
		LongTermMetric: d.schema.LongTermMetric,
		SegmentKeys:    append([]string(nil), d.schema.SegmentKeys...),
	}
	for _, t := range d.treatment {
		if t {
			s.NTreated++
		}
	}
	if col, ok := d.metrics[FailureCohortColumn]; ok {
		n := 0
		for _, v := range col {
			if v == 1 {
				n++
			}
		}
		rate := 0.0
		if d.Len() > 0 {
			rate = float64(n) / float64(d.Len())
		}
		s.NFailureCohort = &n
		s.FailureCohortRate = &rate
	}
	return s
}

// ResampleExperiments builds a dataset holding the rows of each listed experiment once
// per occurrence. Repeated experiments are relabelled "<id>#<k>", with k raised past any
// label already in the draw, so every draw keeps as many distinct experiments as ids
// were passed.
func (d *Dataset) ResampleExperiments(ids []string) (*Dataset, error) {
	total := 0
	for _, id := range ids {
		rows, ok := d.expRows[id]
		if !ok {
			return nil, errors.InvalidInputf("unknown experiment %q", id)
		}
		total += len(rows)
	}

	out := d.emptyLike(total)
	used := make(map[string]bool, len(ids))
	for _, id := range ids {
		label := id
		for k := 1; used[label]; k++ {
			label = fmt.Sprintf("%s#%d", id, k)
		}
		used[label] = true
		for _, r := range d.expRows[id] {
			out.appendRow(d, r, label)
		}
	}
	out.index()
	return out, nil
}

func (d *Dataset) emptyLike(capacity int) *Dataset {
	out := &Dataset{
		schema:    d.schema,
		expIDs:    make([]string, 0, capacity),
		treatment: make([]bool, 0, capacity),
		segments:  make(map[string][]string, len(d.segments)),
		metrics:   make(map[string][]float64, len(d.metrics)),
	}
	for k := range d.segments {
		out.segments[k] = make([]string, 0, capacity)
	}
	for k := range d.metrics {
		out.metrics[k] = make([]float64, 0, capacity)
	}
	return out
}

func (d *Dataset) appendRow(src *Dataset, r int, label string) {
	d.expIDs = append(d.expIDs, label)
	d.treatment = append(d.treatment, src.treatment[r])
	for k, col := range src.segments {
		d.segments[k] = append(d.segments[k], col[r])
	}
	for k, col := range src.metrics {
		d.metrics[k] = append(d.metrics[k], col[r])
	}
}

func (d *Dataset) index() {
	d.expOrder = d.expOrder[:0]
	d.expRows = make(map[string][]int)
	for i, id := range d.expIDs {
		if _, ok := d.expRows[id]; !ok {
			d.expOrder = append(d.expOrder, id)
		}
		d.expRows[id] = append(d.expRows[id], i)
	}
}

// Builder accumulates observations into a Dataset
type Builder struct {
	ds    *Dataset
	built bool
}

// NewBuilder validates the schema and returns an empty builder
func NewBuilder(schema Schema) (*Builder, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	ds := &Dataset{
		schema:   schema,
		segments: make(map[string][]string, len(schema.SegmentKeys)),
		metrics:  make(map[string][]float64),
	}
	for _, k := range schema.SegmentKeys {
		ds.segments[k] = nil
	}
	for _, m := range schema.NumericColumns() {
		ds.metrics[m] = nil
	}
	return &Builder{ds: ds}, nil
}

// Grow preallocates room for n more rows
func (b *Builder) Grow(n int) {
	d := b.ds
	d.expIDs = growStrings(d.expIDs, n)
	d.treatment = append(make([]bool, 0, len(d.treatment)+n), d.treatment...)
	for k, col := range d.segments {
		d.segments[k] = growStrings(col, n)
	}
	for k, col := range d.metrics {
		d.metrics[k] = append(make([]float64, 0, len(col)+n), col...)
	}
}

func growStrings(s []string, n int) []string {
	return append(make([]string, 0, len(s)+n), s...)
}

// Append adds one observation. Metrics absent from the observation are stored as missing.
func (b *Builder) Append(obs Observation) error {
	if b.built {
		return errors.InternalError("builder already used")
	}
	if obs.ExpID == "" {
		return errors.InvalidInput("observation has empty exp_id")
	}
	for name := range obs.Metrics {
		if _, ok := b.ds.metrics[name]; !ok {
			return errors.InvalidInputf("observation has unknown metric %q", name)
		}
	}
	for _, k := range b.ds.schema.SegmentKeys {
		if _, ok := obs.Segments[k]; !ok {
			return errors.InvalidInputf("observation is missing segment %q", k)
		}
	}

	d := b.ds
	d.expIDs = append(d.expIDs, obs.ExpID)
	d.treatment = append(d.treatment, obs.Treatment)
	for k := range d.segments {
		d.segments[k] = append(d.segments[k], obs.Segments[k])
	}
	for name := range d.metrics {
		v, ok := obs.Metrics[name]
		if !ok {
			v = math.NaN()
		}
		d.metrics[name] = append(d.metrics[name], v)
	}
	return nil
}

// Len returns the number of rows appended so far
func (b *Builder) Len() int { return len(b.ds.expIDs) }

// Build finalizes the dataset. The builder cannot be reused.
func (b *Builder) Build() (*Dataset, error) {
	if b.built {
		return nil, errors.InternalError("builder already used")
	}
	b.built = true
	b.ds.index()
	return b.ds, nil
}
