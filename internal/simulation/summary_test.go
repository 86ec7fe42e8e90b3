package simulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gilkh/livret-sub003/internal/shared/model"
)

func actionsWithErrors(total, errs int) []model.ActionMetric {
	out := make([]model.ActionMetric, total)
	for i := range out {
		out[i] = model.ActionMetric{Name: "teacher.listClasses", OK: i >= errs, Ms: float64(i + 1)}
	}
	return out
}

func TestVerdictThresholds(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		errors int
		want   model.Verdict
	}{
		{"4 percent", 100, 4, model.VerdictPass},
		{"5 percent boundary", 100, 5, model.VerdictWarning},
		{"10 percent", 100, 10, model.VerdictWarning},
		{"15 percent boundary", 100, 15, model.VerdictFail},
		{"20 percent", 100, 20, model.VerdictFail},
		{"no actions", 0, 0, model.VerdictPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(actionsWithErrors(tt.total, tt.errors))
			assert.Equal(t, tt.want, s.Verdict)
			assert.Equal(t, tt.total, s.TotalActions)
			assert.Equal(t, tt.errors, s.ErrorActions)
			assert.Equal(t, tt.total-tt.errors, s.OKActions)
		})
	}
}

func TestPercentile(t *testing.T) {
	sorted := make([]float64, 100)
	for i := range sorted {
		sorted[i] = float64(i + 1)
	}
	assert.Equal(t, 50.0, percentile(sorted, 0.50))
	assert.Equal(t, 95.0, percentile(sorted, 0.95))
	assert.Equal(t, 99.0, percentile(sorted, 0.99))
	assert.Equal(t, 0.0, percentile(nil, 0.5))
	assert.Equal(t, 7.0, percentile([]float64{7}, 0.99))
}

func TestSummarizeByAction(t *testing.T) {
	s := Summarize([]model.ActionMetric{
		{Name: "a", OK: true, Ms: 10},
		{Name: "a", OK: false, Ms: 30},
		{Name: "b", OK: true, Ms: 20},
	})
	assert.Equal(t, model.ActionBreakdown{Total: 2, Errors: 1}, s.ByAction["a"])
	assert.Equal(t, model.ActionBreakdown{Total: 1}, s.ByAction["b"])
	assert.Equal(t, 20.0, s.Latency.P50)
	assert.Equal(t, 3, s.Latency.Count)
}

func TestBuildSummaryPrefersFullRunCounts(t *testing.T) {
	start := resourceSample{At: time.Now(), UserMs: 100, RSS: 1000}
	end := resourceSample{At: start.At.Add(10 * time.Second), UserMs: 350, RSS: 1500}
	full := fullRunStats{
		Total:    1000,
		Errors:   200,
		ByAction: map[string]model.ActionBreakdown{"a": {Total: 1000, Errors: 200}},
		Latency:  model.LatencyPercentiles{P50: 5, P95: 9, P99: 12, Count: 1000},
	}

	s := buildSummary(actionsWithErrors(200, 0), full, start, end)

	assert.Equal(t, 1000, s.TotalActions)
	assert.InDelta(t, 0.2, s.ErrorRate, 1e-9)
	assert.Equal(t, model.VerdictFail, s.Verdict)
	assert.Equal(t, 200, s.Latency.Count)
	assert.Equal(t, 1000, s.LatencyFullRun.Count)
	assert.Equal(t, 250.0, s.Resources.CPUUserMs)
	assert.EqualValues(t, 500, s.Resources.RSSDelta)
	assert.Equal(t, 10.0, s.DurationSec)
}
