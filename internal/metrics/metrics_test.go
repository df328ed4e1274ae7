package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/heal-orchestrator/internal/domain"
)

func TestRunMetrics(t *testing.T) {
	m := New()

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))

	m.RunFinished(domain.RunResult{
		Status:          domain.OutcomePassed,
		DurationSeconds: 42,
		IterationsUsed:  1,
		Score:           110,
		FixesApplied: []domain.FixRecord{
			{Status: domain.FixFixed},
			{Status: domain.FixFailedCommit},
		},
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("PASSED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fixesTotal.WithLabelValues("Fixed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fixesTotal.WithLabelValues("Failed Commit")))
}

func TestSandboxMetrics(t *testing.T) {
	m := New()
	m.SandboxExecuted(domain.SandboxResult{Status: domain.SandboxFailed, Language: "python"}, 3*time.Second)
	m.SandboxExecuted(domain.SandboxResult{Status: domain.SandboxFailed, Language: "python"}, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sandboxTotal.WithLabelValues("FAILED", "python")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RunStarted()
	m.RunFinished(domain.RunResult{})
	m.SandboxExecuted(domain.SandboxResult{}, 0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RunStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "heal_orch_runs_active 1")
	assert.Contains(t, string(body), "go_goroutines")
}
