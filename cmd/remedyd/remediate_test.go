package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReportFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"severity": "warning",
		"root_cause": "missing timeout",
		"auto_fixable": true,
		"fix_suggestion": "add a 30s timeout",
		"error_code": "AI5001",
		"target": "server::domain::ai::service"
	}`), 0o644))

	report, err := loadReport(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "AI5001", report.ErrorCode)
	assert.True(t, report.Actionable())
}

func TestLoadReportFromStdin(t *testing.T) {
	stdin := strings.NewReader(`{"severity": "info", "auto_fixable": false}`)

	report, err := loadReport("-", stdin)
	require.NoError(t, err)
	assert.False(t, report.Actionable())
}

func TestLoadReportRejectsMalformedJSON(t *testing.T) {
	_, err := loadReport("-", strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestOpsServerHealthz(t *testing.T) {
	e := newOpsServer()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestOpsServerMetrics(t *testing.T) {
	e := newOpsServer()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
