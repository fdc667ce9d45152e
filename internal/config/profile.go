package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"proxima/domain/experiment"
	"proxima/internal/errors"
)

// AnalysisProfile maps the columns of an uploaded dataset onto the analysis schema
type AnalysisProfile struct {
	ExpIDColumn     string   `yaml:"exp_id_column" validate:"required"`
	TreatmentColumn string   `yaml:"treatment_column" validate:"required"`
	LongTermMetric  string   `yaml:"long_term_metric" validate:"required"`
	Metrics         []string `yaml:"metrics" validate:"min=1,dive,required"`
	SegmentKeys     []string `yaml:"segment_keys" validate:"min=1,dive,required"`
	Extra           []string `yaml:"extra,omitempty" validate:"dive,required"`
}

// DefaultProfile describes the synthetic streaming dataset
func DefaultProfile() *AnalysisProfile {
	s := experiment.DefaultSchema()
	return &AnalysisProfile{
		ExpIDColumn:     "exp_id",
		TreatmentColumn: "treatment",
		LongTermMetric:  s.LongTermMetric,
		Metrics:         s.Metrics,
		SegmentKeys:     s.SegmentKeys,
		Extra:           []string{experiment.FailureCohortColumn},
	}
}

// LoadProfile reads a YAML profile. An empty path returns the default profile.
// Fields left out of the file keep their default values.
func LoadProfile(path string) (*AnalysisProfile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read analysis profile %s", path)
	}
	if err := yaml.Unmarshal(raw, profile); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, errors.Wrapf(err, "failed to parse analysis profile %s", path))
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Validate checks tags and that the resulting schema is consistent
func (p *AnalysisProfile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if err := p.Schema().Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

// Schema returns the dataset schema the profile describes
func (p *AnalysisProfile) Schema() experiment.Schema {
	return experiment.Schema{
		Metrics:        append([]string(nil), p.Metrics...),
		LongTermMetric: p.LongTermMetric,
		SegmentKeys:    append([]string(nil), p.SegmentKeys...),
		Extra:          append([]string(nil), p.Extra...),
	}
}
