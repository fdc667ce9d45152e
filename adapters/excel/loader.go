package excel

import (
	"math"
	"strconv"
	"strings"

	"proxima/domain/experiment"
	"proxima/internal/config"
	"proxima/internal/errors"
)

// LoadReport describes what ToDataset did with the raw cells
type LoadReport struct {
	Rows int `json:"rows"`
	// Missing counts empty or NA cells per numeric column
	Missing map[string]int `json:"missing,omitempty"`
	// Unparsed counts non-numeric cells per numeric column; they are loaded as missing
	Unparsed map[string]int `json:"unparsed,omitempty"`
	// DroppedExtra lists optional columns named by the profile but absent from the file
	DroppedExtra []string `json:"dropped_extra,omitempty"`
}

// ToDataset maps a raw table onto the profile's schema
func ToDataset(t *Table, profile *config.AnalysisProfile) (*experiment.Dataset, *LoadReport, error) {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	if err := profile.Validate(); err != nil {
		return nil, nil, err
	}

	expCol, err := requireColumn(t, profile.ExpIDColumn)
	if err != nil {
		return nil, nil, err
	}
	treatCol, err := requireColumn(t, profile.TreatmentColumn)
	if err != nil {
		return nil, nil, err
	}

	report := &LoadReport{Rows: len(t.Rows), Missing: map[string]int{}, Unparsed: map[string]int{}}
	schema := profile.Schema()
	extra := schema.Extra[:0]
	for _, name := range schema.Extra {
		if _, ok := t.Column(name); ok {
			extra = append(extra, name)
		} else {
			report.DroppedExtra = append(report.DroppedExtra, name)
		}
	}
	schema.Extra = extra

	numeric := schema.NumericColumns()
	numCols := make([]int, len(numeric))
	for i, name := range numeric {
		if numCols[i], err = requireColumn(t, name); err != nil {
			return nil, nil, err
		}
	}
	segCols := make([]int, len(schema.SegmentKeys))
	for i, key := range schema.SegmentKeys {
		if segCols[i], err = requireColumn(t, key); err != nil {
			return nil, nil, err
		}
	}

	b, err := experiment.NewBuilder(schema)
	if err != nil {
		return nil, nil, err
	}
	b.Grow(len(t.Rows))

	for r := range t.Rows {
		line := r + 2 // header is line 1
		treated, err := parseTreatment(t.Cell(r, treatCol))
		if err != nil {
			return nil, nil, errors.InvalidInputf("line %d column %s (%s): %v",
				line, columnName(treatCol), profile.TreatmentColumn, err)
		}
		obs := experiment.Observation{
			ExpID:     t.Cell(r, expCol),
			Treatment: treated,
			Segments:  make(map[string]string, len(segCols)),
			Metrics:   make(map[string]float64, len(numCols)),
		}
		if obs.ExpID == "" {
			return nil, nil, errors.InvalidInputf("line %d: empty %s", line, profile.ExpIDColumn)
		}
		for i, key := range schema.SegmentKeys {
			obs.Segments[key] = t.Cell(r, segCols[i])
		}
		for i, name := range numeric {
			v, state := parseNumber(t.Cell(r, numCols[i]))
			switch state {
			case cellMissing:
				report.Missing[name]++
			case cellUnparsed:
				report.Unparsed[name]++
			}
			obs.Metrics[name] = v
		}
		if err := b.Append(obs); err != nil {
			return nil, nil, errors.Wrapf(err, "line %d", line)
		}
	}

	ds, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return ds, report, nil
}

func requireColumn(t *Table, name string) (int, error) {
	col, ok := t.Column(name)
	if !ok {
		return -1, errors.InvalidInputf("required column %q not found (have %s)", name, strings.Join(t.Headers, ", "))
	}
	return col, nil
}

func parseTreatment(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "1.0", "true", "t", "yes":
		return true, nil
	case "0", "0.0", "false", "f", "no":
		return false, nil
	default:
		return false, errors.InvalidInputf("treatment must be 0/1 or true/false, got %q", s)
	}
}

type cellState int

const (
	cellOK cellState = iota
	cellMissing
	cellUnparsed
)

func parseNumber(s string) (float64, cellState) {
	switch strings.ToLower(s) {
	case "", "na", "n/a", "nan", "null", "none":
		return math.NaN(), cellMissing
	case "true":
		return 1, cellOK
	case "false":
		return 0, cellOK
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN(), cellUnparsed
	}
	return v, cellOK
}
