package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"proxima/internal/errors"
)

var small = []string{"--users", "2000", "--experiments", "6", "--seed", "3", "--n-bootstrap", "30"}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, small...))
	err := cmd.Execute()
	return out.String(), err
}

func TestScore_JSON(t *testing.T) {
	out, err := runCLI(t, "score", "--format", "json")
	require.NoError(t, err)

	var rep struct {
		Kind        string `json:"kind"`
		ProxyScores []struct {
			Metric string `json:"metric"`
		} `json:"proxy_scores"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "proxy_scores", rep.Kind)
	assert.Len(t, rep.ProxyScores, 4)
}

func TestScore_Table(t *testing.T) {
	out, err := runCLI(t, "score")
	require.NoError(t, err)
	assert.Contains(t, out, "Proxy reliability")
	assert.Contains(t, out, "Reliability")
	assert.Contains(t, out, "early_watch_min")
}

func TestReport_Markdown(t *testing.T) {
	out, err := runCLI(t, "report", "--format", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "# Proxy metric report")
	assert.Contains(t, out, "## Decision simulation")
	assert.Contains(t, out, "Oracle (True Long-term)")
}

func TestGenerateThenAnalyseFile(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data.csv")

	out, err := runCLI(t, "generate", "--out", data)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2000 users across 6 experiments")

	out, err = runCLI(t, "decide", "--data", data, "--format", "json")
	require.NoError(t, err)
	var rep struct {
		Decisions []struct {
			ProxyMetric  string `json:"proxy_metric"`
			NExperiments int    `json:"n_experiments"`
		} `json:"decision_simulation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Decisions, 5)
	assert.Equal(t, 6, rep.Decisions[0].NExperiments)
}

func TestGenerate_RequiresOut(t *testing.T) {
	_, err := runCLI(t, "generate")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestCI_Kinds(t *testing.T) {
	for _, kind := range []string{"effect", "reliability", "correlation"} {
		out, err := runCLI(t, "ci", "early_watch_min", "--kind", kind)
		require.NoError(t, err, kind)
		assert.Contains(t, out, "early_watch_min", kind)
	}
	_, err := runCLI(t, "ci", "early_watch_min", "--kind", "median")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestCompare(t *testing.T) {
	out, err := runCLI(t, "compare", "early_watch_min", "rebuffer_rate", "--format", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "# early_watch_min vs rebuffer_rate")
	assert.Contains(t, out, "| winner |")
}

func TestInvalidFormat(t *testing.T) {
	_, err := runCLI(t, "score", "--format", "yaml")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestReport_Workbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	_, err := runCLI(t, "report", "--out", path)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	names := f.GetSheetList()
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, []string{"proxy_scores", "decision_simulation"}, names[:2])
}

func TestFragility_HTMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragility.html")
	_, err := runCLI(t, "fragility", "early_watch_min", "--min-count", "10", "--format", "html", "--out", path)
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "<h1>Proxy metric report</h1>")
}
