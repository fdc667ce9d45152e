package app

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"proxima/adapters/excel"
	"proxima/domain/experiment"
	"proxima/internal/config"
	"proxima/internal/errors"
	"proxima/internal/session"
	"proxima/internal/telemetry"
	"proxima/internal/testkit"
)

// LoadResult describes a dataset placed into a session
type LoadResult struct {
	SessionID string             `json:"session_id"`
	Source    string             `json:"source"`
	Summary   experiment.Summary `json:"summary"`
	Load      *excel.LoadReport  `json:"load,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// DatasetService generates or ingests datasets and binds them to sessions
type DatasetService struct {
	sessions *session.Store
	profile  *config.AnalysisProfile
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewDatasetService creates a dataset service. A nil profile uses the default columns.
func NewDatasetService(sessions *session.Store, profile *config.AnalysisProfile, logger *zap.Logger) *DatasetService {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetService{
		sessions: sessions,
		profile:  profile,
		logger:   logger,
		tracer:   telemetry.Tracer(tracerName),
	}
}

// Sessions exposes the underlying store
func (s *DatasetService) Sessions() *session.Store { return s.sessions }

// Generate builds a synthetic dataset and stores it in the session
func (s *DatasetService) Generate(ctx context.Context, sessionID string, cfg testkit.GeneratorConfig) (*LoadResult, error) {
	var out *LoadResult
	attrs := []attribute.KeyValue{
		attribute.Int("users", cfg.Users),
		attribute.Int("experiments", cfg.Experiments),
		attribute.Int64("seed", int64(cfg.Seed)),
	}
	err := observe(ctx, s.tracer, "generate_data", attrs, func(ctx context.Context) error {
		if err := cfg.ValidateBounds(); err != nil {
			return err
		}
		ds, err := testkit.Generate(cfg)
		if err != nil {
			return err
		}
		source := fmt.Sprintf("synthetic(users=%d,experiments=%d,seed=%d)", cfg.Users, cfg.Experiments, cfg.Seed)
		out, err = s.bind(sessionID, ds, source)
		return err
	})
	return out, err
}

// Upload ingests a CSV or Excel file and stores it in the session
func (s *DatasetService) Upload(ctx context.Context, sessionID string, src io.Reader, filename string) (*LoadResult, error) {
	var out *LoadResult
	err := observe(ctx, s.tracer, "upload_dataset", []attribute.KeyValue{attribute.String("file", filename)}, func(ctx context.Context) error {
		table, err := excel.ReadUpload(src, filename, s.logger)
		if err != nil {
			return err
		}
		ds, load, err := excel.ToDataset(table, s.profile)
		if err != nil {
			return err
		}
		out, err = s.bind(sessionID, ds, "upload:"+filename)
		if err != nil {
			return err
		}
		out.Load = load
		out.Warnings = loadWarnings(load)
		return nil
	})
	return out, err
}

// LoadFile reads a CSV or Excel file from disk into the session
func (s *DatasetService) LoadFile(ctx context.Context, sessionID, path string) (*LoadResult, error) {
	var out *LoadResult
	err := observe(ctx, s.tracer, "load_file", []attribute.KeyValue{attribute.String("file", path)}, func(ctx context.Context) error {
		ds, load, err := ReadDatasetFile(path, s.profile, s.logger)
		if err != nil {
			return err
		}
		out, err = s.bind(sessionID, ds, "file:"+path)
		if err != nil {
			return err
		}
		out.Load = load
		out.Warnings = loadWarnings(load)
		return nil
	})
	return out, err
}

// ReadDatasetFile reads and maps a dataset file without binding it to a session
func ReadDatasetFile(path string, profile *config.AnalysisProfile, logger *zap.Logger) (*experiment.Dataset, *excel.LoadReport, error) {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	table, err := excel.NewDataReader(path, logger).ReadData()
	if err != nil {
		return nil, nil, err
	}
	return excel.ToDataset(table, profile)
}

// Use stores an already built dataset
func (s *DatasetService) Use(sessionID string, ds *experiment.Dataset, source string) (*LoadResult, error) {
	if ds == nil {
		return nil, errors.NoDataset()
	}
	return s.bind(sessionID, ds, source)
}

// bind puts ds into the session, starting a new session when the id is empty or gone
func (s *DatasetService) bind(sessionID string, ds *experiment.Dataset, source string) (*LoadResult, error) {
	sess, err := s.sessions.Put(sessionID, ds, source)
	if errors.GetCode(err) == errors.CodeNotFound {
		s.logger.Info("session expired, starting a new one", zap.String("session_id", sessionID))
		sess, err = s.sessions.Put("", ds, source)
	}
	if err != nil {
		return nil, err
	}

	telemetry.SessionsActive.Set(float64(s.sessions.Len()))
	telemetry.DatasetRows.WithLabelValues(sourceLabel(source)).Set(float64(ds.Len()))
	s.logger.Info("dataset loaded",
		zap.String("session_id", sess.ID.String()),
		zap.String("source", source),
		zap.Int("rows", ds.Len()),
		zap.Int("experiments", len(ds.Experiments())))

	return &LoadResult{
		SessionID: sess.ID.String(),
		Source:    source,
		Summary:   ds.Summary(),
	}, nil
}

func sourceLabel(source string) string {
	for i, r := range source {
		if r == '(' || r == ':' {
			return source[:i]
		}
	}
	return source
}

func loadWarnings(load *excel.LoadReport) []string {
	var out []string
	cols := make([]string, 0, len(load.Unparsed))
	for col := range load.Unparsed {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		out = append(out, fmt.Sprintf("%d non-numeric values in %s loaded as missing", load.Unparsed[col], col))
	}
	for _, col := range load.DroppedExtra {
		out = append(out, fmt.Sprintf("optional column %s not found", col))
	}
	return out
}
