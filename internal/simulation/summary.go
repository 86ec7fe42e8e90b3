package simulation

import (
	"math"
	"slices"

	"github.com/gilkh/livret-sub003/internal/shared/model"
)

// 稳定性阈值：错误率 < 5% pass，< 15% warning，其余 fail
const (
	passErrorRate    = 0.05
	warningErrorRate = 0.15
)

// VerdictFor 根据错误率给出稳定性结论
func VerdictFor(errorRate float64) model.Verdict {
	switch {
	case errorRate < passErrorRate:
		return model.VerdictPass
	case errorRate < warningErrorRate:
		return model.VerdictWarning
	default:
		return model.VerdictFail
	}
}

// percentile 最近秩法，sorted 必须升序
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}

// windowLatency 基于给定 action 列表的延迟分位数
func windowLatency(actions []model.ActionMetric) model.LatencyPercentiles {
	ms := make([]float64, 0, len(actions))
	for _, a := range actions {
		ms = append(ms, a.Ms)
	}
	slices.Sort(ms)
	return model.LatencyPercentiles{
		P50:   round2(percentile(ms, 0.50)),
		P95:   round2(percentile(ms, 0.95)),
		P99:   round2(percentile(ms, 0.99)),
		Count: len(ms),
	}
}

// Summarize 只基于 action 列表计算汇总
func Summarize(actions []model.ActionMetric) *model.SimulationSummary {
	s := &model.SimulationSummary{
		ByAction: make(map[string]model.ActionBreakdown),
		Latency:  windowLatency(actions),
	}
	for _, a := range actions {
		b := s.ByAction[a.Name]
		b.Total++
		if !a.OK {
			b.Errors++
			s.ErrorActions++
		}
		s.ByAction[a.Name] = b
	}
	s.TotalActions = len(actions)
	s.RecordedTotal = int64(len(actions))
	applyVerdict(s)
	return s
}

// buildSummary 执行结束时的汇总
//
// Latency 取持久化窗口（最近 200 条），计数、错误率、按 action 分组和
// LatencyFullRun 取全量统计；全量统计为空时退回窗口。
func buildSummary(window []model.ActionMetric, full fullRunStats, start, end resourceSample) *model.SimulationSummary {
	s := Summarize(window)
	if full.Total > 0 {
		s.TotalActions = full.Total
		s.ErrorActions = full.Errors
		s.ByAction = full.ByAction
		s.LatencyFullRun = full.Latency
		s.RecordedTotal = int64(full.Total)
		applyVerdict(s)
	} else {
		s.LatencyFullRun = s.Latency
	}
	s.Resources = end.delta(start)
	s.DurationSec = round2(end.At.Sub(start.At).Seconds())
	return s
}

// applyVerdict 由计数推导 OK 数、错误率和结论
func applyVerdict(s *model.SimulationSummary) {
	s.OKActions = s.TotalActions - s.ErrorActions
	if s.TotalActions > 0 {
		s.ErrorRate = float64(s.ErrorActions) / float64(s.TotalActions)
	} else {
		s.ErrorRate = 0
	}
	s.Verdict = VerdictFor(s.ErrorRate)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
