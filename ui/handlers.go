package ui

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"proxima/app"
	"proxima/domain/report"
	"proxima/internal/errors"
	"proxima/internal/testkit"
)

// respondError writes the {error, message} body with the status mapped from the error code
func (s *Server) respondError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	code := errors.GetCode(err)
	if code == "" {
		code = errors.CodeInternalError
	}
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", zap.String("path", c.FullPath()), zap.Error(err))
		message = "internal server error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

func sessionID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(SessionHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(c.Query("session"))
}

// target resolves the request's session into its dataset. Missing, expired and empty
// sessions all read as "no dataset loaded".
func (s *Server) target(c *gin.Context) (app.Target, error) {
	id := sessionID(c)
	if id == "" {
		return app.Target{}, errors.NoDataset()
	}
	sess, err := s.datasets.Sessions().Get(id)
	if err != nil {
		if errors.GetCode(err) == errors.CodeNotFound {
			return app.Target{}, errors.NoDataset()
		}
		return app.Target{}, err
	}
	return app.TargetFromSession(sess)
}

func queryFloat(c *gin.Context, name string, def float64) (float64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.InvalidInputf("%s must be a number, got %q", name, raw)
	}
	return v, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.InvalidInputf("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

// bootstrapParams reads alpha, n_bootstrap and seed
func bootstrapParams(c *gin.Context) (app.BootstrapParams, error) {
	var p app.BootstrapParams
	var err error
	if p.Alpha, err = queryFloat(c, "alpha", 0); err != nil {
		return p, err
	}
	if p.N, err = queryInt(c, "n_bootstrap", 0); err != nil {
		return p, err
	}
	if raw := c.Query("seed"); raw != "" {
		seed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return p, errors.InvalidInputf("seed must be a non-negative integer, got %q", raw)
		}
		p.Seed = &seed
	}
	return p, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "proxima",
		"version":  s.version,
		"status":   "ok",
		"sessions": s.datasets.Sessions().Len(),
	})
}

func (s *Server) handleGenerate(c *gin.Context) {
	cfg := testkit.DefaultGeneratorConfig()
	// an empty body keeps the defaults
	if err := c.ShouldBindJSON(&cfg); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(c, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "invalid request body")))
		return
	}
	res, err := s.datasets.Generate(c.Request.Context(), sessionID(c), cfg)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header(SessionHeader, res.SessionID)
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(c, errors.InvalidInputf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.respondError(c, errors.InvalidInput("multipart field \"file\" is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.respondError(c, errors.Wrap(err, "failed to open upload"))
		return
	}
	defer f.Close()

	res, err := s.datasets.Upload(c.Request.Context(), sessionID(c), f, fh.Filename)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header(SessionHeader, res.SessionID)
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleProxyScores(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rep, err := s.analysis.Scores(c.Request.Context(), t)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleFragility(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	minCount, err := queryInt(c, "min_count", s.defaults.MinCount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rep, err := s.analysis.Fragility(c.Request.Context(), t, c.Param("proxy_metric"), minCount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleDecisionSimulation(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	threshold, err := queryFloat(c, "threshold", s.defaults.Threshold)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rep, err := s.analysis.Decisions(c.Request.Context(), t, threshold)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleRegret(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	threshold, err := queryFloat(c, "threshold", s.defaults.Threshold)
	if err != nil {
		s.respondError(c, err)
		return
	}
	minCount, err := queryInt(c, "min_count", 0)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rep, err := s.analysis.RegretBySegment(c.Request.Context(), t, c.Param("proxy_metric"), threshold, minCount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleFullAnalysis(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	threshold, err := queryFloat(c, "threshold", s.defaults.Threshold)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rep, err := s.analysis.FullAnalysis(c.Request.Context(), t, threshold)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleEffectCIs(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p, err := bootstrapParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.analysis.EffectCIs(c.Request.Context(), t, c.Param("metric"), p)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleReliabilityCI(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p, err := bootstrapParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.analysis.ReliabilityCI(c.Request.Context(), t, c.Param("metric"), p)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCompare(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	alpha, err := queryFloat(c, "alpha", s.defaults.Alpha)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.analysis.CompareProxies(c.Request.Context(), t, c.Param("proxy1"), c.Param("proxy2"), alpha)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCorrelationCI(c *gin.Context) {
	t, err := s.target(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	p, err := bootstrapParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	res, err := s.analysis.CorrelationCI(c.Request.Context(), t, c.Param("metric"), p)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListReports(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		s.respondError(c, err)
		return
	}
	headers, err := s.analysis.Reports(c.Request.Context(), sessionID(c), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": headers, "count": len(headers)})
}

func (s *Server) handleGetReport(c *gin.Context) {
	rep, err := s.analysis.Report(c.Request.Context(), sessionID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	switch strings.ToLower(c.DefaultQuery("format", "json")) {
	case "json":
		c.JSON(http.StatusOK, rep)
	case "html":
		c.Data(http.StatusOK, "text/html; charset=utf-8", report.RenderHTML(rep))
	case "markdown", "md":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.RenderMarkdown(rep)))
	default:
		s.respondError(c, errors.InvalidInputf("unknown report format %q", c.Query("format")))
	}
}
