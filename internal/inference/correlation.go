package inference

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SignificanceTest is the outcome of a hypothesis test
type SignificanceTest struct {
	TestName      string  `json:"test_name"`
	Statistic     float64 `json:"statistic"`
	PValue        float64 `json:"p_value"`
	EffectSize    float64 `json:"effect_size"`
	CILower       float64 `json:"ci_lower"`
	CIUpper       float64 `json:"ci_upper"`
	IsSignificant bool    `json:"is_significant"`
	N             int     `json:"n"`
}

// CorrelationSignificance tests a Pearson correlation with a Fisher z interval and
// z-test p-value. Pairs with a NaN on either side are dropped. Fewer than three pairs,
// or a constant series, yield the sentinel result (effect 0, p 1).
func CorrelationSignificance(x, y []float64, alpha float64) SignificanceTest {
	xs := make([]float64, 0, len(x))
	ys := make([]float64, 0, len(y))
	for i := 0; i < len(x) && i < len(y); i++ {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	res := SignificanceTest{TestName: "Pearson correlation (Fisher z)", PValue: 1, N: len(xs)}
	if len(xs) < 3 || ValidateAlpha(alpha) != nil {
		return res
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return res
	}
	z := dist.FisherZ(r)
	se := 1 / math.Sqrt(float64(len(xs)-3))
	zCrit := dist.NormalQuantile(1 - alpha/2)

	res.EffectSize = r
	res.Statistic = z / se
	res.CILower = math.Tanh(z - zCrit*se)
	res.CIUpper = math.Tanh(z + zCrit*se)
	res.PValue = 2 * (1 - dist.NormalCDF(math.Abs(res.Statistic)))
	if math.IsNaN(res.PValue) {
		res.PValue = 1
	}
	res.IsSignificant = res.PValue < alpha
	return res
}
