// Package inference provides confidence intervals and significance tests for
// experiment effects and proxy quality scores.
package inference

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Distributions provides unified access to the sampling distributions used by the tests
type Distributions struct{}

// NewDistributions creates a new distributions utility
func NewDistributions() *Distributions {
	return &Distributions{}
}

var dist = NewDistributions()

// TTestPValue computes the two-sided p-value for a t statistic. df may be fractional (Welch).
func (d *Distributions) TTestPValue(tStatistic, degreesOfFreedom float64) float64 {
	if degreesOfFreedom <= 0 || math.IsNaN(tStatistic) {
		return 1.0
	}
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: degreesOfFreedom}
	return 2 * (1 - tDist.CDF(math.Abs(tStatistic)))
}

// TQuantile returns the p-quantile of Student's t with df degrees of freedom
func (d *Distributions) TQuantile(p, degreesOfFreedom float64) float64 {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: degreesOfFreedom}.Quantile(p)
}

// ChiSquarePValue computes the upper-tail p-value for a chi-square statistic
func (d *Distributions) ChiSquarePValue(chiSquare float64, degreesOfFreedom int) float64 {
	if degreesOfFreedom <= 0 {
		return 1.0
	}
	chiDist := distuv.ChiSquared{K: float64(degreesOfFreedom)}
	return 1 - chiDist.CDF(chiSquare)
}

// NormalCDF computes cumulative distribution function for standard normal
func (d *Distributions) NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormalQuantile computes quantile function for standard normal (inverse CDF)
func (d *Distributions) NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// EffectSizeCohenD computes Cohen's d for two groups using the pooled standard deviation
func (d *Distributions) EffectSizeCohenD(mean1, mean2, std1, std2 float64, n1, n2 int) float64 {
	if n1 <= 0 || n2 <= 0 || n1+n2 <= 2 {
		return 0
	}
	pooledStd := math.Sqrt(((float64(n1-1) * std1 * std1) + (float64(n2-1) * std2 * std2)) / float64(n1+n2-2))
	if pooledStd == 0 {
		return 0
	}
	return (mean1 - mean2) / pooledStd
}

// PercentileInterval returns the alpha/2 and 1-alpha/2 quantiles of the samples.
func (d *Distributions) PercentileInterval(samples []float64, alpha float64) (lower, upper float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	return stat.Quantile(alpha/2, stat.LinInterp, sorted, nil),
		stat.Quantile(1-alpha/2, stat.LinInterp, sorted, nil)
}

// maxAbsCorrelation keeps atanh finite for perfectly correlated samples.
const maxAbsCorrelation = 1 - 1e-12

// FisherZ is the variance-stabilizing transform of a correlation coefficient
func (d *Distributions) FisherZ(r float64) float64 {
	return math.Atanh(math.Max(-maxAbsCorrelation, math.Min(maxAbsCorrelation, r)))
}
