package inference

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"proxima/domain/experiment"
	"proxima/internal/errors"
)

// ErrInsufficientData is returned when an arm has fewer than two observations.
var ErrInsufficientData = errors.InsufficientData("each arm needs at least two observations")

// TreatmentEffect is a Welch t-test of treatment vs control
type TreatmentEffect struct {
	Effect           float64 `json:"effect"`
	StdError         float64 `json:"std_error"`
	CILower          float64 `json:"ci_lower"`
	CIUpper          float64 `json:"ci_upper"`
	PValue           float64 `json:"p_value"`
	TStatistic       float64 `json:"t_statistic"`
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`
	CohensD          float64 `json:"cohens_d"`
	ControlMean      float64 `json:"control_mean"`
	TreatmentMean    float64 `json:"treatment_mean"`
	NControl         int     `json:"n_control"`
	NTreatment       int     `json:"n_treatment"`
}

// ValidateAlpha rejects significance levels outside (0, 1)
func ValidateAlpha(alpha float64) error {
	if !(alpha > 0 && alpha < 1) {
		return errors.InvalidInputf("alpha must be in (0, 1), got %v", alpha)
	}
	return nil
}

// WelchEffect runs a two-sided Welch t-test with a (1-alpha) confidence interval on the
// difference treatment - control.
func WelchEffect(control, treatment []float64, alpha float64) (TreatmentEffect, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return TreatmentEffect{}, err
	}
	nC, nT := len(control), len(treatment)
	if nC < 2 || nT < 2 {
		return TreatmentEffect{}, ErrInsufficientData
	}

	meanC, varC := stat.MeanVariance(control, nil)
	meanT, varT := stat.MeanVariance(treatment, nil)
	effect := meanT - meanC

	vc := varC / float64(nC)
	vt := varT / float64(nT)
	se := math.Sqrt(vc + vt)

	res := TreatmentEffect{
		Effect:        effect,
		StdError:      se,
		ControlMean:   meanC,
		TreatmentMean: meanT,
		NControl:      nC,
		NTreatment:    nT,
		CohensD:       dist.EffectSizeCohenD(meanT, meanC, math.Sqrt(varT), math.Sqrt(varC), nT, nC),
	}

	if se == 0 {
		res.CILower, res.CIUpper = effect, effect
		res.DegreesOfFreedom = float64(nC + nT - 2)
		res.PValue = 1
		if effect != 0 {
			res.PValue = 0
		}
		return res, nil
	}

	df := (vc + vt) * (vc + vt) / (vc*vc/float64(nC-1) + vt*vt/float64(nT-1))
	t := effect / se
	margin := dist.TQuantile(1-alpha/2, df) * se

	res.TStatistic = t
	res.DegreesOfFreedom = df
	res.PValue = dist.TTestPValue(t, df)
	res.CILower = effect - margin
	res.CIUpper = effect + margin
	return res, nil
}

// armValues splits a metric column into non-missing control and treatment values over rows.
func armValues(ds *experiment.Dataset, values []float64, rows []int) (control, treatment []float64) {
	for _, r := range rows {
		v := values[r]
		if math.IsNaN(v) {
			continue
		}
		if ds.Treated(r) {
			treatment = append(treatment, v)
		} else {
			control = append(control, v)
		}
	}
	return control, treatment
}

func allRows(ds *experiment.Dataset) []int {
	rows := make([]int, ds.Len())
	for i := range rows {
		rows[i] = i
	}
	return rows
}

// EffectCI runs WelchEffect on a metric over the whole dataset
func EffectCI(ds *experiment.Dataset, metric string, alpha float64) (TreatmentEffect, error) {
	values, err := ds.Metric(metric)
	if err != nil {
		return TreatmentEffect{}, err
	}
	control, treatment := armValues(ds, values, allRows(ds))
	return WelchEffect(control, treatment, alpha)
}

// ExperimentCI is the Welch test for one experiment
type ExperimentCI struct {
	ExpID string `json:"exp_id"`
	TreatmentEffect
	Significant bool `json:"significant"`
}

// ExperimentCITable lists per-experiment tests in encounter order
type ExperimentCITable struct {
	Metric  string         `json:"metric"`
	Alpha   float64        `json:"alpha"`
	Rows    []ExperimentCI `json:"rows"`
	Skipped int            `json:"skipped"`
}

// ExperimentCIs runs a Welch test per experiment. Experiments with fewer than two
// observations in an arm are skipped and counted.
func ExperimentCIs(ds *experiment.Dataset, metric string, alpha float64) (ExperimentCITable, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return ExperimentCITable{}, err
	}
	values, err := ds.Metric(metric)
	if err != nil {
		return ExperimentCITable{}, err
	}

	table := ExperimentCITable{Metric: metric, Alpha: alpha}
	for _, expID := range ds.Experiments() {
		control, treatment := armValues(ds, values, ds.Rows(expID))
		te, err := WelchEffect(control, treatment, alpha)
		if errors.Is(err, ErrInsufficientData) {
			table.Skipped++
			continue
		}
		if err != nil {
			return ExperimentCITable{}, errors.Wrapf(err, "experiment %s", expID)
		}
		table.Rows = append(table.Rows, ExperimentCI{
			ExpID:           expID,
			TreatmentEffect: te,
			Significant:     te.PValue < alpha,
		})
	}
	return table, nil
}
