package inference

import (
	"math"

	"proxima/domain/experiment"
	"proxima/internal/effects"
)

// ProxyComparison is a McNemar test on the directional correctness of two proxies
type ProxyComparison struct {
	Proxy1        string  `json:"proxy1"`
	Proxy2        string  `json:"proxy2"`
	Accuracy1     float64 `json:"accuracy1"`
	Accuracy2     float64 `json:"accuracy2"`
	OnlyProxy1    int     `json:"only_proxy1_correct"`
	OnlyProxy2    int     `json:"only_proxy2_correct"`
	Statistic     float64 `json:"statistic"`
	PValue        float64 `json:"p_value"`
	IsSignificant bool    `json:"is_significant"`
	Winner        string  `json:"winner"`
	NExperiments  int     `json:"n_experiments"`
}

// CompareProxies checks, per experiment present for both proxies and the long-term
// metric, whether each proxy's sign matches the long-term sign, and tests the
// discordant counts with a continuity-corrected McNemar statistic.
func CompareProxies(ds *experiment.Dataset, proxy1, proxy2, long string, alpha float64) (ProxyComparison, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return ProxyComparison{}, err
	}
	t1, err := effects.ExperimentEffects(ds, proxy1)
	if err != nil {
		return ProxyComparison{}, err
	}
	t2, err := effects.ExperimentEffects(ds, proxy2)
	if err != nil {
		return ProxyComparison{}, err
	}
	lt, err := effects.ExperimentEffects(ds, long)
	if err != nil {
		return ProxyComparison{}, err
	}

	res := ProxyComparison{Proxy1: proxy1, Proxy2: proxy2, PValue: 1}
	correct1, correct2 := 0, 0
	for _, l := range lt.Rows() {
		e1, ok1 := t1.Get(l.ExpID)
		e2, ok2 := t2.Get(l.ExpID)
		if !ok1 || !ok2 {
			continue
		}
		res.NExperiments++
		c1 := effects.Sign(e1.Effect) == effects.Sign(l.Effect)
		c2 := effects.Sign(e2.Effect) == effects.Sign(l.Effect)
		if c1 {
			correct1++
		}
		if c2 {
			correct2++
		}
		switch {
		case c1 && !c2:
			res.OnlyProxy1++
		case !c1 && c2:
			res.OnlyProxy2++
		}
	}

	if res.NExperiments > 0 {
		res.Accuracy1 = float64(correct1) / float64(res.NExperiments)
		res.Accuracy2 = float64(correct2) / float64(res.NExperiments)
	}
	res.Statistic, res.PValue = McNemar(res.OnlyProxy1, res.OnlyProxy2)
	res.IsSignificant = res.PValue < alpha

	res.Winner = proxy2
	if res.Accuracy1 > res.Accuracy2 {
		res.Winner = proxy1
	}
	return res, nil
}

// McNemar returns the continuity-corrected statistic (|b-c|-1)^2/(b+c) and its chi-square
// p-value with one degree of freedom. No discordant pairs gives (0, 1).
func McNemar(b, c int) (statistic, pValue float64) {
	if b+c == 0 {
		return 0, 1
	}
	d := math.Abs(float64(b-c)) - 1
	statistic = d * d / float64(b+c)
	return statistic, dist.ChiSquarePValue(statistic, 1)
}
