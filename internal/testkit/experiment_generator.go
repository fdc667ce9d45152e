package testkit

import (
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/stat/distuv"

	"proxima/domain/experiment"
	"proxima/internal/errors"
)

// GeneratorConfig configures the synthetic streaming experiment generator
type GeneratorConfig struct {
	Users       int    `json:"n_users"`
	Experiments int    `json:"n_experiments"`
	Seed        uint64 `json:"seed"`
}

// Bounds accepted by the data generation API
const (
	MinUsers       = 1_000
	MaxUsers       = 1_000_000
	MinExperiments = 5
	MaxExperiments = 200
)

// DefaultGeneratorConfig returns 200k users over 40 experiments
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{Users: 200_000, Experiments: 40, Seed: 7}
}

// ValidateBounds enforces the API limits on generator size.
func (c GeneratorConfig) ValidateBounds() error {
	if c.Users < MinUsers || c.Users > MaxUsers {
		return errors.InvalidInputf("n_users must be between %d and %d, got %d", MinUsers, MaxUsers, c.Users)
	}
	if c.Experiments < MinExperiments || c.Experiments > MaxExperiments {
		return errors.InvalidInputf("n_experiments must be between %d and %d, got %d", MinExperiments, MaxExperiments, c.Experiments)
	}
	return nil
}

var (
	regions = []string{"NA", "LATAM", "EU", "IN"}
	devices = []string{"TV", "Mobile", "Desktop"}
	tenures = []string{"New", "Existing"}
	regionP = []float64{0.35, 0.20, 0.25, 0.20}
	deviceP = []float64{0.45, 0.45, 0.10}
	tenureP = []float64{0.30, 0.70}
	regionW = map[string]float64{"NA": 0.2, "LATAM": -0.1, "EU": 0.05, "IN": -0.15}
	deviceW = map[string]float64{"TV": 0.25, "Mobile": -0.05, "Desktop": 0.0}
	tenureW = map[string]float64{"New": -0.1, "Existing": 0.1}
)

const failureLongPenalty = -0.25

// ExperimentGenerator produces user-level experiment rows with good proxies, gameable
// proxies and a failure cohort (Mobile, IN, New) where treatment lifts early engagement
// but hurts long-term retention.
type ExperimentGenerator struct {
	config GeneratorConfig
	rng    *rand.Rand
}

// NewExperimentGenerator creates a generator seeded from config.Seed
func NewExperimentGenerator(config GeneratorConfig) *ExperimentGenerator {
	return &ExperimentGenerator{
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, 0x7072_6f78_696d_61)),
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-math.Max(-500, math.Min(500, x))))
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clip(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// Generate builds the dataset. The same config always yields the same rows.
func (g *ExperimentGenerator) Generate() (*experiment.Dataset, error) {
	cfg := g.config
	if cfg.Users <= 0 || cfg.Experiments <= 0 {
		return nil, errors.InvalidInputf("users and experiments must be positive, got %d and %d", cfg.Users, cfg.Experiments)
	}

	schema := experiment.DefaultSchema()
	schema.Extra = []string{experiment.FailureCohortColumn}
	b, err := experiment.NewBuilder(schema)
	if err != nil {
		return nil, err
	}
	b.Grow(cfg.Users)

	stdNormal := distuv.Normal{Mu: 0, Sigma: 1, Src: g.rng}
	regionDist := distuv.NewCategorical(regionP, g.rng)
	deviceDist := distuv.NewCategorical(deviceP, g.rng)
	tenureDist := distuv.NewCategorical(tenureP, g.rng)

	expTau := make([]float64, cfg.Experiments)
	expBias := make([]float64, cfg.Experiments)
	tauDist := distuv.Normal{Mu: 0, Sigma: 0.12, Src: g.rng}
	biasDist := distuv.Normal{Mu: 0, Sigma: 0.08, Src: g.rng}
	for e := range expTau {
		expTau[e] = tauDist.Rand()
	}
	for e := range expBias {
		expBias[e] = biasDist.Rand()
	}
	expIDs := make([]string, cfg.Experiments)
	for e := range expIDs {
		expIDs[e] = strconv.Itoa(e)
	}

	for i := 0; i < cfg.Users; i++ {
		exp := g.rng.IntN(cfg.Experiments)
		region := regions[int(regionDist.Rand())]
		device := devices[int(deviceDist.Rand())]
		tenure := tenures[int(tenureDist.Rand())]
		treated := g.rng.IntN(2) == 1
		t := indicator(treated)

		isTV := indicator(device == "TV")
		isMobile := indicator(device == "Mobile")
		isIN := indicator(region == "IN")
		failure := indicator(device == "Mobile" && region == "IN" && tenure == "New")

		segTau := 0.06*isTV - 0.05*isMobile - 0.03*isIN + 0.03*indicator(tenure == "Existing")

		sat := stdNormal.Rand() + regionW[region] + deviceW[device] + tenureW[tenure]
		eng := stdNormal.Rand() + 0.5*deviceW[device] - 0.2*tenureW[tenure]

		baseLogit := -0.3 + 0.7*sat + 0.15*eng + expBias[exp]
		tauLong := expTau[exp] + segTau + failureLongPenalty*failure
		longProb := sigmoid(baseLogit + t*tauLong)
		retained := distuv.Bernoulli{P: longProb, Src: g.rng}.Rand()

		watch := 25 + 10*eng + 6*sat +
			8*t*(expTau[exp]+0.3*segTau) +
			6*t*failure +
			5*stdNormal.Rand()

		starts := 1.8 + 0.7*sigmoid(eng) + 0.2*sigmoid(sat) +
			0.4*t*(expTau[exp]+0.2*segTau) +
			0.6*t*failure +
			0.3*stdNormal.Rand()

		ctrBase := sigmoid(0.3*eng - 0.35*sat + 0.1*stdNormal.Rand())
		ctr := ctrBase + 0.06*t + 0.04*isMobile*t

		rebuffer := sigmoid(-0.2*sat + 0.25*isIN + 0.15*isMobile + 0.1*stdNormal.Rand())
		rebuffer -= 0.03 * t * isTV

		err := b.Append(experiment.Observation{
			ExpID:     expIDs[exp],
			Treatment: treated,
			Segments: map[string]string{
				"region": region,
				"device": device,
				"tenure": tenure,
			},
			Metrics: map[string]float64{
				"early_watch_min":                math.Max(0, watch),
				"early_starts":                   math.Max(0, starts),
				"early_ctr":                      clip(ctr, 0, 1),
				"rebuffer_rate":                  clip(rebuffer, 0, 1),
				experiment.DefaultLongTermMetric: retained,
				experiment.FailureCohortColumn:   failure,
			},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
	}
	return b.Build()
}

// Generate is a shorthand for NewExperimentGenerator(cfg).Generate()
func Generate(cfg GeneratorConfig) (*experiment.Dataset, error) {
	return NewExperimentGenerator(cfg).Generate()
}

// MustGenerate fails the test if generation fails
func MustGenerate(tb TB, cfg GeneratorConfig) *experiment.Dataset {
	tb.Helper()
	ds, err := Generate(cfg)
	if err != nil {
		tb.Fatalf("Failed to generate experiments: %v", err)
	}
	return ds
}
