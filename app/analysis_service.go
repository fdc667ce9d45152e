package app

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"proxima/domain/experiment"
	"proxima/domain/report"
	"proxima/internal/decision"
	"proxima/internal/errors"
	"proxima/internal/fragility"
	"proxima/internal/inference"
	"proxima/internal/scoring"
	"proxima/internal/session"
	"proxima/internal/telemetry"
	"proxima/ports"
)

const (
	// FragilityLimit caps the rows returned by the fragility operation.
	FragilityLimit = 20
	// FullAnalysisFragilityLimit caps the fragile segments in a full analysis.
	FullAnalysisFragilityLimit = 15
)

// Target is the dataset an operation runs on, and the session it belongs to
type Target struct {
	SessionID string
	Dataset   *experiment.Dataset
}

// TargetFromSession resolves a session snapshot into a target, rejecting empty sessions
func TargetFromSession(sess session.Session) (Target, error) {
	if !sess.HasDataset() {
		return Target{}, errors.NoDataset()
	}
	return Target{SessionID: sess.ID.String(), Dataset: sess.Dataset}, nil
}

// BootstrapParams overrides the configured bootstrap settings for one call. Zero fields
// keep the configured value.
type BootstrapParams struct {
	N     int
	Alpha float64
	Seed  *uint64
}

// AnalysisOptions configures an AnalysisService
type AnalysisOptions struct {
	Reports   ports.ReportRepository // optional
	Bootstrap inference.BootstrapConfig
	Logger    *zap.Logger
}

// AnalysisService runs proxy analyses against a session's dataset and keeps the
// resulting reports
type AnalysisService struct {
	reports   ports.ReportRepository
	bootstrap inference.BootstrapConfig
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAnalysisService creates an analysis service
func NewAnalysisService(opts AnalysisOptions) *AnalysisService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bs := opts.Bootstrap
	if bs.N == 0 {
		def := inference.DefaultBootstrapConfig()
		def.Streams = bs.Streams
		bs = def
	}
	bs.Logger = logger
	return &AnalysisService{
		reports:   opts.Reports,
		bootstrap: bs,
		logger:    logger,
		tracer:    telemetry.Tracer(tracerName),
	}
}

// EffectCIResult is the treatment-effect view of one metric
type EffectCIResult struct {
	Metric      string                      `json:"metric"`
	Overall     inference.TreatmentEffect   `json:"overall"`
	Bootstrap   inference.BootstrapInterval `json:"bootstrap"`
	Experiments inference.ExperimentCITable `json:"experiments"`
	Warnings    []string                    `json:"warnings,omitempty"`
}

// ReliabilityCIResult wraps a reliability interval with draw warnings
type ReliabilityCIResult struct {
	inference.ReliabilityInterval
	Warnings []string `json:"warnings,omitempty"`
}

// CorrelationCIResult wraps a correlation interval with draw warnings
type CorrelationCIResult struct {
	inference.CorrelationCI
	Warnings []string `json:"warnings,omitempty"`
}

func validateTarget(t Target) error {
	if t.Dataset == nil {
		return errors.NoDataset()
	}
	return nil
}

// requireProxy rejects names that are not proxy candidates of the dataset
func requireProxy(ds *experiment.Dataset, metric string) error {
	metrics := ds.Schema().Metrics
	if !slices.Contains(metrics, metric) {
		return errors.InvalidInputf("invalid metric %q, choose from %v", metric, metrics)
	}
	return nil
}

func (s *AnalysisService) bootstrapConfig(p BootstrapParams) inference.BootstrapConfig {
	cfg := s.bootstrap
	if p.N != 0 {
		cfg.N = p.N
	}
	if p.Alpha != 0 {
		cfg.Alpha = p.Alpha
	}
	if p.Seed != nil {
		cfg.Seed = *p.Seed
	}
	return cfg
}

// drawWarnings records failed draws and describes them for the response
func drawWarnings(procedure string, ci inference.BootstrapInterval) []string {
	if ci.Failed == 0 {
		return nil
	}
	telemetry.BootstrapFailedDraws.WithLabelValues(procedure).Add(float64(ci.Failed))
	return []string{fmt.Sprintf("%d of %d bootstrap draws failed and were skipped", ci.Failed, ci.Failed+ci.Draws)}
}

// persist saves a report when a repository is configured. A failed save is a warning
// on the report, not an analysis failure.
func (s *AnalysisService) persist(ctx context.Context, rep *report.Report) {
	if s.reports == nil {
		return
	}
	if err := s.reports.Save(ctx, rep); err != nil {
		s.logger.Warn("failed to save report",
			zap.String("report_id", rep.ID.String()),
			zap.String("kind", string(rep.Kind)),
			zap.Error(err))
		rep.Warnings = append(rep.Warnings, "report could not be saved")
	}
}

func (s *AnalysisService) scoreTable(ds *experiment.Dataset) (*scoring.ScoreTable, error) {
	scorer, err := scoring.NewScorer(scoring.ConfigFromSchema(ds.Schema()))
	if err != nil {
		return nil, err
	}
	return scorer.Score(ds)
}

func sessionAttrs(t Target, extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{attribute.String("session.id", t.SessionID)}, extra...)
}

// Scores ranks every proxy metric by reliability
func (s *AnalysisService) Scores(ctx context.Context, t Target) (*report.Report, error) {
	var rep *report.Report
	err := observe(ctx, s.tracer, "proxy_scores", sessionAttrs(t), func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		table, err := s.scoreTable(t.Dataset)
		if err != nil {
			return err
		}
		rep = report.New(t.SessionID, report.KindProxyScores)
		rep.ProxyScores = table.Ranked
		s.persist(ctx, rep)
		return nil
	})
	return rep, err
}

// Fragility lists the segments where proxy direction disagrees most with the global
// long-term direction
func (s *AnalysisService) Fragility(ctx context.Context, t Target, proxy string, minCount int) (*report.Report, error) {
	var rep *report.Report
	attrs := sessionAttrs(t, attribute.String("proxy", proxy), attribute.Int("min_count", minCount))
	err := observe(ctx, s.tracer, "fragility", attrs, func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		if err := requireProxy(t.Dataset, proxy); err != nil {
			return err
		}
		schema := t.Dataset.Schema()
		rows, err := fragility.NewDetector(schema.LongTermMetric, s.logger).
			FindFragileSegments(t.Dataset, proxy, schema.SegmentKeys, minCount)
		if err != nil {
			return err
		}
		rep = report.New(t.SessionID, report.KindFragility)
		rep.MinCount = minCount
		rep.Fragility = fragility.Top(rows, FragilityLimit)
		rep.Metric = proxy
		s.persist(ctx, rep)
		return nil
	})
	return rep, err
}

// Decisions compares ship decisions of every proxy and the oracle
func (s *AnalysisService) Decisions(ctx context.Context, t Target, threshold float64) (*report.Report, error) {
	var rep *report.Report
	attrs := sessionAttrs(t, attribute.Float64("threshold", threshold))
	err := observe(ctx, s.tracer, "decision_simulation", attrs, func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		schema := t.Dataset.Schema()
		results, err := decision.Compare(t.Dataset, schema.Metrics, schema.LongTermMetric, threshold)
		if err != nil {
			return err
		}
		rep = report.New(t.SessionID, report.KindDecisions)
		rep.Threshold = threshold
		rep.Decisions = results
		s.persist(ctx, rep)
		return nil
	})
	return rep, err
}

// RegretBySegment attributes wrong proxy-driven decisions to segments
func (s *AnalysisService) RegretBySegment(ctx context.Context, t Target, proxy string, threshold float64, minCount int) (*report.Report, error) {
	var rep *report.Report
	attrs := sessionAttrs(t, attribute.String("proxy", proxy), attribute.Float64("threshold", threshold))
	err := observe(ctx, s.tracer, "segment_regret", attrs, func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		if err := requireProxy(t.Dataset, proxy); err != nil {
			return err
		}
		if minCount < 0 {
			return errors.InvalidInputf("min_count must be non-negative, got %d", minCount)
		}
		schema := t.Dataset.Schema()
		rows, err := decision.RegretBySegment(t.Dataset, proxy, schema.LongTermMetric, schema.SegmentKeys,
			threshold, decision.RegretOptions{MinCount: minCount})
		if err != nil {
			return err
		}
		rep = report.New(t.SessionID, report.KindRegret)
		rep.Threshold = threshold
		rep.MinCount = minCount
		rep.Regret = rows
		rep.Metric = proxy
		s.persist(ctx, rep)
		return nil
	})
	return rep, err
}

// FullAnalysis scores proxies, simulates decisions and reports the fragile segments of
// the most reliable proxy
func (s *AnalysisService) FullAnalysis(ctx context.Context, t Target, threshold float64) (*report.Report, error) {
	var rep *report.Report
	attrs := sessionAttrs(t, attribute.Float64("threshold", threshold))
	err := observe(ctx, s.tracer, "full_analysis", attrs, func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		if err := decision.ValidateThreshold(threshold); err != nil {
			return err
		}
		ds := t.Dataset
		schema := ds.Schema()

		table, err := s.scoreTable(ds)
		if err != nil {
			return err
		}
		best, ok := table.Best()
		if !ok {
			return errors.InsufficientData("no proxy could be scored")
		}

		results, err := decision.Compare(ds, schema.Metrics, schema.LongTermMetric, threshold)
		if err != nil {
			return err
		}

		fragile, err := fragility.NewDetector(schema.LongTermMetric, s.logger).
			FindFragileSegments(ds, best.Metric, schema.SegmentKeys, fragility.ReportMinCount)
		if err != nil {
			return err
		}

		rep = report.New(t.SessionID, report.KindFullAnalysis)
		rep.Threshold = threshold
		rep.MinCount = fragility.ReportMinCount
		rep.ProxyScores = table.Ranked
		rep.Decisions = results
		rep.Fragility = fragility.Top(fragile, FullAnalysisFragilityLimit)
		rep.Summary = &report.DataSummary{
			Summary:         ds.Summary(),
			BestProxy:       best.Metric,
			BestReliability: best.Reliability,
			FragilityMetric: best.Metric,
		}
		if best.NExperimentsScored < 3 {
			rep.Warnings = append(rep.Warnings,
				fmt.Sprintf("only %d experiments could be scored", best.NExperimentsScored))
		}

		s.logger.Info("full analysis complete",
			zap.String("session_id", t.SessionID),
			zap.String("best_proxy", best.Metric),
			zap.Float64("best_reliability", best.Reliability),
			zap.Int("fragile_segments", len(fragile)))
		s.persist(ctx, rep)
		return nil
	})
	return rep, err
}

// EffectCIs reports the pooled Welch effect, its bootstrap interval and the
// per-experiment significance table for one metric
func (s *AnalysisService) EffectCIs(ctx context.Context, t Target, metric string, p BootstrapParams) (*EffectCIResult, error) {
	var out *EffectCIResult
	attrs := sessionAttrs(t, attribute.String("metric", metric))
	err := observe(ctx, s.tracer, "effect_ci", attrs, func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		cfg := s.bootstrapConfig(p)
		overall, err := inference.EffectCI(t.Dataset, metric, cfg.Alpha)
		if err != nil {
			return err
		}
		perExp, err := inference.ExperimentCIs(t.Dataset, metric, cfg.Alpha)
		if err != nil {
			return err
		}
		ci, err := inference.BootstrapEffectCI(ctx, t.Dataset, metric, cfg)
		if err != nil {
			return err
		}
		out = &EffectCIResult{
			Metric:      metric,
			Overall:     overall,
			Bootstrap:   ci,
			Experiments: perExp,
			Warnings:    drawWarnings("effect", ci),
		}
		if perExp.Skipped > 0 {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%d experiments skipped for too few observations per arm", perExp.Skipped))
		}
		return nil
	})
	return out, err
}

// ReliabilityCI puts a bootstrap interval on one proxy's reliability
func (s *AnalysisService) ReliabilityCI(ctx context.Context, t Target, metric string, p BootstrapParams) (*ReliabilityCIResult, error) {
	var out *ReliabilityCIResult
	attrs := sessionAttrs(t, attribute.String("metric", metric))
	err := observe(ctx, s.tracer, "reliability_ci", attrs, func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		if err := requireProxy(t.Dataset, metric); err != nil {
			return err
		}
		sc := scoring.ConfigFromSchema(t.Dataset.Schema())
		ci, err := inference.ReliabilityCI(ctx, t.Dataset, sc, metric, s.bootstrapConfig(p))
		if err != nil {
			return err
		}
		out = &ReliabilityCIResult{ReliabilityInterval: ci, Warnings: drawWarnings("reliability", ci.BootstrapInterval)}
		return nil
	})
	return out, err
}

// CompareProxies runs McNemar's test on the directional accuracy of two proxies
func (s *AnalysisService) CompareProxies(ctx context.Context, t Target, proxy1, proxy2 string, alpha float64) (*inference.ProxyComparison, error) {
	var out *inference.ProxyComparison
	attrs := sessionAttrs(t, attribute.String("proxy1", proxy1), attribute.String("proxy2", proxy2))
	err := observe(ctx, s.tracer, "compare_proxies", attrs, func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		for _, m := range []string{proxy1, proxy2} {
			if err := requireProxy(t.Dataset, m); err != nil {
				return err
			}
		}
		if alpha == 0 {
			alpha = s.bootstrap.Alpha
		}
		cmp, err := inference.CompareProxies(t.Dataset, proxy1, proxy2, t.Dataset.Schema().LongTermMetric, alpha)
		if err != nil {
			return err
		}
		out = &cmp
		return nil
	})
	return out, err
}

// CorrelationCI reports the experiment-level proxy/long-term correlation with its
// bootstrap interval and Fisher p-value
func (s *AnalysisService) CorrelationCI(ctx context.Context, t Target, metric string, p BootstrapParams) (*CorrelationCIResult, error) {
	var out *CorrelationCIResult
	attrs := sessionAttrs(t, attribute.String("metric", metric))
	err := observe(ctx, s.tracer, "correlation_ci", attrs, func(ctx context.Context) error {
		if err := validateTarget(t); err != nil {
			return err
		}
		if err := requireProxy(t.Dataset, metric); err != nil {
			return err
		}
		ci, err := inference.ProxyCorrelationCI(ctx, t.Dataset, metric, t.Dataset.Schema().LongTermMetric, s.bootstrapConfig(p))
		if err != nil {
			return err
		}
		out = &CorrelationCIResult{CorrelationCI: ci, Warnings: drawWarnings("correlation", ci.BootstrapInterval)}
		return nil
	})
	return out, err
}

var errSessionRequired = errors.InvalidInput("a session is required to read reports")

// Report loads a stored report owned by sessionID. Reports of other sessions read as
// not found.
func (s *AnalysisService) Report(ctx context.Context, sessionID, id string) (*report.Report, error) {
	if sessionID == "" {
		return nil, errSessionRequired
	}
	rid, err := session.ParseID(id)
	if err != nil {
		return nil, errors.InvalidInputf("invalid report ID %q", id)
	}
	if s.reports == nil {
		return nil, errors.NotFound("report " + id)
	}
	rep, err := s.reports.Get(ctx, rid)
	if err != nil {
		return nil, err
	}
	if rep.SessionID != sessionID {
		return nil, errors.NotFound("report " + id)
	}
	return rep, nil
}

// Reports lists a session's stored reports, newest first
func (s *AnalysisService) Reports(ctx context.Context, sessionID string, limit int) ([]report.Header, error) {
	if sessionID == "" {
		return nil, errSessionRequired
	}
	if s.reports == nil {
		return []report.Header{}, nil
	}
	return s.reports.List(ctx, sessionID, limit)
}
