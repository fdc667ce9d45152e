package inference

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"proxima/domain/experiment"
	"proxima/internal/effects"
	"proxima/internal/errors"
	"proxima/internal/scoring"
	"proxima/ports"
)

// ErrTooFewDraws is returned when too many bootstrap draws failed to trust the interval.
var ErrTooFewDraws = errors.InsufficientData("too few successful bootstrap draws")

// MaxBootstrapDraws caps N when BootstrapConfig.MaxDraws is unset
const MaxBootstrapDraws = 100_000

// BootstrapConfig controls a resampling procedure
type BootstrapConfig struct {
	N                     int
	MaxDraws              int
	Alpha                 float64
	Seed                  uint64
	Workers               int
	MinSuccessfulFraction float64
	Streams               ports.RNGPort
	Logger                *zap.Logger
}

// DefaultBootstrapConfig returns 1000 draws at alpha 0.05
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		N:                     1000,
		Alpha:                 0.05,
		Seed:                  42,
		Workers:               runtime.GOMAXPROCS(0),
		MinSuccessfulFraction: 0.5,
		MaxDraws:              MaxBootstrapDraws,
	}
}

func (c BootstrapConfig) validate() (BootstrapConfig, error) {
	if c.N <= 0 {
		return c, errors.InvalidInputf("n_bootstrap must be positive, got %d", c.N)
	}
	limit := c.MaxDraws
	if limit <= 0 {
		limit = MaxBootstrapDraws
	}
	if c.N > limit {
		return c, errors.InvalidInputf("n_bootstrap must be at most %d, got %d", limit, c.N)
	}
	if err := ValidateAlpha(c.Alpha); err != nil {
		return c, err
	}
	if c.MinSuccessfulFraction < 0 || c.MinSuccessfulFraction > 1 {
		return c, errors.InvalidInputf("min successful fraction must be in [0, 1], got %v", c.MinSuccessfulFraction)
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Streams == nil {
		c.Streams = DerivedStreams{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c, nil
}

// BootstrapInterval is a percentile interval around a point estimate
type BootstrapInterval struct {
	Estimate float64 `json:"estimate"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Alpha    float64 `json:"alpha"`
	Draws    int     `json:"draws"`
	Failed   int     `json:"failed"`
}

type drawFunc func(rng *rand.Rand) (float64, error)

// runDraws evaluates N draws, each on its own derived stream, and keeps results by index
// so the outcome does not depend on scheduling.
func runDraws(ctx context.Context, cfg BootstrapConfig, name string, draw drawFunc) (BootstrapInterval, error) {
	values := make([]float64, cfg.N)
	ok := make([]bool, cfg.N)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < cfg.N; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := draw(cfg.Streams.Stream(name, cfg.Seed, i))
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil
			}
			values[i], ok[i] = v, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BootstrapInterval{}, err
	}
	if err := ctx.Err(); err != nil {
		return BootstrapInterval{}, err
	}

	samples := make([]float64, 0, cfg.N)
	for i, v := range values {
		if ok[i] {
			samples = append(samples, v)
		}
	}
	failed := cfg.N - len(samples)
	if failed > 0 {
		cfg.Logger.Warn("bootstrap draws failed",
			zap.String("procedure", name),
			zap.Int("failed", failed),
			zap.Int("requested", cfg.N))
	}
	minOK := int(math.Ceil(cfg.MinSuccessfulFraction * float64(cfg.N)))
	if len(samples) == 0 || len(samples) < minOK {
		return BootstrapInterval{Draws: len(samples), Failed: failed, Alpha: cfg.Alpha},
			errors.Wrapf(ErrTooFewDraws, "%s: %d of %d draws succeeded", name, len(samples), cfg.N)
	}

	lo, hi := dist.PercentileInterval(samples, cfg.Alpha)
	return BootstrapInterval{
		Lower:  lo,
		Upper:  hi,
		Alpha:  cfg.Alpha,
		Draws:  len(samples),
		Failed: failed,
	}, nil
}

func resampleMean(rng *rand.Rand, xs []float64) float64 {
	var sum float64
	for range xs {
		sum += xs[rng.IntN(len(xs))]
	}
	return sum / float64(len(xs))
}

// BootstrapEffectCI resamples each arm with replacement and reports a percentile
// interval of the difference in means.
func BootstrapEffectCI(ctx context.Context, ds *experiment.Dataset, metric string, cfg BootstrapConfig) (BootstrapInterval, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return BootstrapInterval{}, err
	}
	values, err := ds.Metric(metric)
	if err != nil {
		return BootstrapInterval{}, err
	}
	control, treatment := armValues(ds, values, allRows(ds))
	if len(control) == 0 || len(treatment) == 0 {
		return BootstrapInterval{}, errors.InsufficientData("both arms need observations")
	}

	ci, err := runDraws(ctx, cfg, "effect:"+metric, func(rng *rand.Rand) (float64, error) {
		return resampleMean(rng, treatment) - resampleMean(rng, control), nil
	})
	if err != nil {
		return ci, err
	}
	ci.Estimate = stat.Mean(treatment, nil) - stat.Mean(control, nil)
	return ci, nil
}

// CorrelationCI is the experiment-level correlation between a proxy and the long-term metric
type CorrelationCI struct {
	Metric         string  `json:"metric"`
	LongTermMetric string  `json:"long_term_metric"`
	Correlation    float64 `json:"correlation"`
	PValue         float64 `json:"p_value"`
	NExperiments   int     `json:"n_experiments"`
	BootstrapInterval
}

// ProxyCorrelationCI bootstraps experiments to put an interval on the effect correlation.
// Draws where either series is constant fail and are counted.
func ProxyCorrelationCI(ctx context.Context, ds *experiment.Dataset, proxy, long string, cfg BootstrapConfig) (CorrelationCI, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return CorrelationCI{}, err
	}
	proxyTable, err := effects.ExperimentEffects(ds, proxy)
	if err != nil {
		return CorrelationCI{}, err
	}
	longTable, err := effects.ExperimentEffects(ds, long)
	if err != nil {
		return CorrelationCI{}, err
	}
	px, ly := effects.SplitPairs(effects.PairExperiments(proxyTable, longTable))
	sig := CorrelationSignificance(px, ly, cfg.Alpha)
	out := CorrelationCI{
		Metric:         proxy,
		LongTermMetric: long,
		Correlation:    sig.EffectSize,
		PValue:         sig.PValue,
		NExperiments:   len(px),
	}
	if len(px) < 3 {
		return out, errors.InsufficientData("correlation interval needs at least three experiments")
	}

	n := len(px)
	ci, err := runDraws(ctx, cfg, "corr:"+proxy+":"+long, func(rng *rand.Rand) (float64, error) {
		xs := make([]float64, n)
		ys := make([]float64, n)
		for i := range xs {
			j := rng.IntN(n)
			xs[i], ys[i] = px[j], ly[j]
		}
		if stat.StdDev(xs, nil) < scoring.MinStdDev || stat.StdDev(ys, nil) < scoring.MinStdDev {
			return math.NaN(), nil
		}
		return stat.Correlation(xs, ys, nil), nil
	})
	ci.Estimate = out.Correlation
	out.BootstrapInterval = ci
	return out, err
}

// ReliabilityInterval is a bootstrap interval on one proxy's reliability score
type ReliabilityInterval struct {
	Metric       string `json:"metric"`
	NExperiments int    `json:"n_experiments"`
	BootstrapInterval
}

// ReliabilityCI resamples whole experiments with replacement, rescoring the proxy on
// each draw. Repeated experiments count as distinct experiments in a draw.
func ReliabilityCI(ctx context.Context, ds *experiment.Dataset, sc scoring.Config, metric string, cfg BootstrapConfig) (ReliabilityInterval, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return ReliabilityInterval{}, err
	}
	scorer, err := scoring.NewScorer(sc)
	if err != nil {
		return ReliabilityInterval{}, err
	}
	point, err := scorer.ScoreMetric(ds, metric)
	if err != nil {
		return ReliabilityInterval{}, err
	}

	ids := ds.Experiments()
	out := ReliabilityInterval{Metric: metric, NExperiments: len(ids)}
	if len(ids) == 0 {
		return out, errors.InsufficientData("dataset has no experiments")
	}

	ci, err := runDraws(ctx, cfg, "reliability:"+metric, func(rng *rand.Rand) (float64, error) {
		picked := make([]string, len(ids))
		for i := range picked {
			picked[i] = ids[rng.IntN(len(ids))]
		}
		sample, err := ds.ResampleExperiments(picked)
		if err != nil {
			return 0, err
		}
		s, err := scorer.ScoreMetric(sample, metric)
		if err != nil {
			return 0, err
		}
		return s.Reliability, nil
	})
	ci.Estimate = point.Reliability
	out.BootstrapInterval = ci
	return out, err
}
