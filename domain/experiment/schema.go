// Package experiment holds the observation-level dataset the proxy analyses run on.
package experiment

import (
	"proxima/internal/errors"
)

// Default column names of the streaming experiment dataset.
const (
	DefaultLongTermMetric = "long_retained"
	FailureCohortColumn   = "failure_cohort"
)

// DefaultMetrics are the early-signal proxy candidates.
var DefaultMetrics = []string{"early_watch_min", "early_starts", "early_ctr", "rebuffer_rate"}

// DefaultSegmentKeys are the categorical attributes used for heterogeneity analysis.
var DefaultSegmentKeys = []string{"region", "device", "tenure"}

// Schema names the columns of a dataset
type Schema struct {
	Metrics        []string `json:"metrics" yaml:"metrics"`
	LongTermMetric string   `json:"long_term_metric" yaml:"long_term_metric"`
	SegmentKeys    []string `json:"segment_keys" yaml:"segment_keys"`
	Extra          []string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// DefaultSchema returns the schema of the synthetic streaming dataset
func DefaultSchema() Schema {
	return Schema{
		Metrics:        append([]string(nil), DefaultMetrics...),
		LongTermMetric: DefaultLongTermMetric,
		SegmentKeys:    append([]string(nil), DefaultSegmentKeys...),
	}
}

// NumericColumns returns proxies, the long-term metric and extra columns in that order.
func (s Schema) NumericColumns() []string {
	cols := make([]string, 0, len(s.Metrics)+1+len(s.Extra))
	cols = append(cols, s.Metrics...)
	cols = append(cols, s.LongTermMetric)
	cols = append(cols, s.Extra...)
	return cols
}

// Validate checks names are present and unique across numeric and segment columns.
func (s Schema) Validate() error {
	if s.LongTermMetric == "" {
		return errors.InvalidInput("long-term metric name is required")
	}
	if len(s.Metrics) == 0 {
		return errors.InvalidInput("at least one proxy metric is required")
	}
	seen := make(map[string]bool)
	for _, name := range s.NumericColumns() {
		if name == "" {
			return errors.InvalidInput("empty metric name in schema")
		}
		if seen[name] {
			return errors.InvalidInputf("column %q listed more than once", name)
		}
		seen[name] = true
	}
	for _, key := range s.SegmentKeys {
		if key == "" {
			return errors.InvalidInput("empty segment key in schema")
		}
		if seen[key] {
			return errors.InvalidInputf("column %q listed more than once", key)
		}
		seen[key] = true
	}
	return nil
}
