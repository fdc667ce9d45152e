package ui

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxima/adapters/store"
	"proxima/app"
	"proxima/internal/config"
	"proxima/internal/inference"
	"proxima/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, profile *config.AnalysisProfile) *Server {
	t.Helper()
	bs := inference.DefaultBootstrapConfig()
	bs.N = 50
	bs.Workers = 2
	return NewServer(Options{
		Analysis: app.NewAnalysisService(app.AnalysisOptions{
			Reports:   store.NewMemoryReportRepository(),
			Bootstrap: bs,
		}),
		Datasets: app.NewDatasetService(session.NewStore(time.Hour, 8), profile, nil),
		Version:  "test",
		Defaults: Defaults{MinCount: 500, Alpha: 0.05},
	})
}

func do(t *testing.T, s *Server, method, path, sessionID string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func generate(t *testing.T, s *Server) string {
	t.Helper()
	w := do(t, s, http.MethodPost, "/api/generate-data", "", []byte(`{"n_users":1000,"n_experiments":5,"seed":1}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, id, w.Header().Get(SessionHeader))
	return id
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "proxima", body["service"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestAnalysisWithoutDataset(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{
		"/api/proxy-scores",
		"/api/full-analysis",
		"/api/decision-simulation",
		"/api/proxy-scores?session=7d3c1c5e-4a0b-4b7a-9d43-bb1d2e3f4a5b",
	} {
		w := do(t, s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "NO_DATASET", decode(t, w)["error"], path)
	}
}

func TestGenerateRejectsBounds(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/api/generate-data", "", []byte(`{"n_users":10,"n_experiments":5}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])

	w = do(t, s, http.MethodPost, "/api/generate-data", "", []byte(`{"n_users":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalysisEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	sid := generate(t, s)

	w := do(t, s, http.MethodGet, "/api/proxy-scores", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	scores := decode(t, w)
	assert.Equal(t, "proxy_scores", scores["kind"])
	assert.NotEmpty(t, scores["proxy_scores"])

	w = do(t, s, http.MethodGet, "/api/decision-simulation?threshold=0", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rows, _ := decode(t, w)["decision_simulation"].([]any)
	assert.NotEmpty(t, rows)

	w = do(t, s, http.MethodGet, "/api/fragility/early_watch_min?min_count=10", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "early_watch_min", decode(t, w)["metric"])

	w = do(t, s, http.MethodGet, "/api/regret/early_watch_min", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/full-analysis", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	full := decode(t, w)
	summary, _ := full["data_summary"].(map[string]any)
	require.NotNil(t, summary)
	assert.Equal(t, float64(1000), summary["n_users"])

	w = do(t, s, http.MethodGet, "/api/compare/early_watch_min/rebuffer_rate", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/effects/early_watch_min/ci?alpha=0.1&n_bootstrap=20&seed=3", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "early_watch_min", decode(t, w)["metric"])

	w = do(t, s, http.MethodGet, "/api/reliability/early_watch_min/ci?n_bootstrap=20", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/correlation/early_watch_min/ci?n_bootstrap=20", sid, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestInvalidParameters(t *testing.T) {
	s := newTestServer(t, nil)
	sid := generate(t, s)

	for _, path := range []string{
		"/api/fragility/early_watch_min?min_count=-1",
		"/api/fragility/early_watch_min?min_count=abc",
		"/api/fragility/not_a_metric",
		"/api/decision-simulation?threshold=nope",
		"/api/effects/early_watch_min/ci?alpha=2",
		"/api/effects/early_watch_min/ci?seed=-4",
		"/api/effects/early_ctr/ci?n_bootstrap=1099511627776",
		"/api/reliability/early_ctr/ci?n_bootstrap=100001",
		"/api/correlation/early_ctr/ci?n_bootstrap=100001",
	} {
		w := do(t, s, http.MethodGet, path, sid, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"], path)
	}
}

func TestReports(t *testing.T) {
	s := newTestServer(t, nil)
	sid := generate(t, s)

	w := do(t, s, http.MethodGet, "/api/decision-simulation", sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	id, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)

	w = do(t, s, http.MethodGet, "/api/reports?session="+sid, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = do(t, s, http.MethodGet, "/api/reports/"+id, sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["id"])

	w = do(t, s, http.MethodGet, "/api/reports/"+id+"?format=markdown", sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "## Decision simulation")

	w = do(t, s, http.MethodGet, "/api/reports/"+id+"?format=html", sid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<table>")

	w = do(t, s, http.MethodGet, "/api/reports/"+id+"?format=pdf", sid, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/reports/not-a-uuid", sid, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/reports/7d3c1c5e-4a0b-4b7a-9d43-bb1d2e3f4a5b", sid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReports_IsolatedBetweenSessions(t *testing.T) {
	s := newTestServer(t, nil)
	owner := generate(t, s)
	other := generate(t, s)

	w := do(t, s, http.MethodGet, "/api/proxy-scores", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	id, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)

	w = do(t, s, http.MethodGet, "/api/reports/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/api/reports/"+id, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/reports", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), owner)

	w = do(t, s, http.MethodGet, "/api/reports", other, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])
}

func TestUpload(t *testing.T) {
	profile := &config.AnalysisProfile{
		ExpIDColumn:     "exp",
		TreatmentColumn: "arm",
		LongTermMetric:  "long",
		Metrics:         []string{"p1"},
		SegmentKeys:     []string{"seg"},
	}
	s := newTestServer(t, profile)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "data.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(strings.Join([]string{
		"exp,arm,seg,p1,long",
		"e1,0,a,1,1",
		"e1,1,a,2,2",
		"e2,0,b,1,1",
		"e2,1,b,3,0",
	}, "\n")))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode(t, w)
	assert.Equal(t, "upload:data.csv", res["source"])
	sid, _ := res["session_id"].(string)

	w = do(t, s, http.MethodGet, "/api/proxy-scores", sid, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/api/datasets/upload", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_BodyCap(t *testing.T) {
	s := NewServer(Options{
		Analysis:       app.NewAnalysisService(app.AnalysisOptions{}),
		Datasets:       app.NewDatasetService(session.NewStore(time.Hour, 8), nil, nil),
		MaxUploadBytes: 512,
	})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "data.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("exp_id,treatment\n" + strings.Repeat("e1,0\n", 400)))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/datasets/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	res := decode(t, w)
	assert.Equal(t, "INVALID_INPUT", res["error"])
	assert.Contains(t, res["message"], "exceeds 512 bytes")
	assert.Equal(t, 0, s.datasets.Sessions().Len())
}

func TestGenerateRateLimited(t *testing.T) {
	s := NewServer(Options{
		Analysis:      app.NewAnalysisService(app.AnalysisOptions{}),
		Datasets:      app.NewDatasetService(session.NewStore(time.Hour, 8), nil, nil),
		GenerateRate:  0.001,
		GenerateBurst: 1,
	})
	body := []byte(`{"n_users":10,"n_experiments":5}`)
	w := do(t, s, http.MethodPost, "/api/generate-data", "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, s, http.MethodPost, "/api/generate-data", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestOpsHandler(t *testing.T) {
	h := OpsHandler()
	for path, want := range map[string]int{
		"/healthz":        http.StatusOK,
		"/metrics":        http.StatusOK,
		"/debug/pprof/":   http.StatusOK,
		"/does-not-exist": http.StatusNotFound,
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code, path)
	}
}
