// Package ui serves the JSON API over the analysis services.
package ui

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"proxima/app"
	"proxima/ui/middleware"
)

// SessionHeader carries the caller's session id
const SessionHeader = "X-Session-ID"

const (
	// DefaultMaxUploadBytes bounds an upload request body
	DefaultMaxUploadBytes int64 = 128 << 20
	multipartMemory       int64 = 32 << 20
)

// Defaults are applied when a request omits the corresponding query parameter
type Defaults struct {
	Threshold float64
	MinCount  int
	Alpha     float64
}

// Options configures a Server
type Options struct {
	Analysis    *app.AnalysisService
	Datasets    *app.DatasetService
	Logger      *zap.Logger
	Version     string
	ServiceName string
	Defaults    Defaults

	// GenerateRate limits generate and upload requests per second; 0 disables the limit
	GenerateRate  float64
	GenerateBurst int

	// MaxUploadBytes caps the upload body; 0 means DefaultMaxUploadBytes
	MaxUploadBytes int64
}

// Server represents the API server
type Server struct {
	router   *gin.Engine
	analysis *app.AnalysisService
	datasets *app.DatasetService
	logger   *zap.Logger
	version  string
	defaults Defaults
	limiter  *rate.Limiter

	maxUploadBytes int64
}

// NewServer creates the API server and registers its routes
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "proxima"
	}
	s := &Server{
		router:   gin.New(),
		analysis: opts.Analysis,
		datasets: opts.Datasets,
		logger:   logger,
		version:  opts.Version,
		defaults: opts.Defaults,

		maxUploadBytes: opts.MaxUploadBytes,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = DefaultMaxUploadBytes
	}
	s.router.MaxMultipartMemory = min(s.maxUploadBytes, multipartMemory)
	if opts.GenerateRate > 0 {
		burst := opts.GenerateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.GenerateRate), burst)
	}

	s.setupMiddleware(opts.ServiceName)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(service string) {
	s.router.Use(otelgin.Middleware(service))
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.Recovery(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleHealth)

	api := s.router.Group("/api")
	{
		limited := api.Group("", middleware.RateLimit(s.limiter))
		limited.POST("/generate-data", s.handleGenerate)
		limited.POST("/datasets/upload", s.handleUpload)

		api.GET("/proxy-scores", s.handleProxyScores)
		api.GET("/fragility/:proxy_metric", s.handleFragility)
		api.GET("/decision-simulation", s.handleDecisionSimulation)
		api.GET("/regret/:proxy_metric", s.handleRegret)
		api.GET("/full-analysis", s.handleFullAnalysis)

		api.GET("/effects/:metric/ci", s.handleEffectCIs)
		api.GET("/reliability/:metric/ci", s.handleReliabilityCI)
		api.GET("/compare/:proxy1/:proxy2", s.handleCompare)
		api.GET("/correlation/:metric/ci", s.handleCorrelationCI)

		api.GET("/reports", s.handleListReports)
		api.GET("/reports/:id", s.handleGetReport)
	}
}

// Handler returns the server as an http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}
