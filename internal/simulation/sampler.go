package simulation

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/gilkh/livret-sub003/internal/shared/model"
)

// resourceSample 一次资源采样
type resourceSample struct {
	At         time.Time
	UserMs     float64
	SystemMs   float64
	RSS        uint64
	HeapUsed   uint64
	HeapTotal  uint64
	External   uint64
	Goroutines int
}

// resourceSampler 采集当前进程的 CPU / 内存
type resourceSampler struct {
	proc *process.Process // 获取失败时为 nil，只采集 runtime 指标
}

func newResourceSampler() *resourceSampler {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &resourceSampler{}
	}
	return &resourceSampler{proc: p}
}

func (p *resourceSampler) sample() resourceSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := resourceSample{
		At:         time.Now(),
		HeapUsed:   ms.HeapAlloc,
		HeapTotal:  ms.HeapSys,
		External:   ms.StackSys + ms.MSpanSys + ms.MCacheSys + ms.GCSys + ms.OtherSys,
		Goroutines: runtime.NumGoroutine(),
	}
	if p.proc == nil {
		return s
	}
	if t, err := p.proc.Times(); err == nil {
		s.UserMs = t.User * 1000
		s.SystemMs = t.System * 1000
	}
	if mem, err := p.proc.MemoryInfo(); err == nil {
		s.RSS = mem.RSS
	}
	return s
}

// liveMetrics 以 base 为起点生成快照
func (s resourceSample) liveMetrics(base resourceSample, phase string) *model.LiveMetrics {
	return &model.LiveMetrics{
		At:    s.At,
		Phase: phase,
		CPU: model.CPUUsage{
			UserMs:   round2(s.UserMs - base.UserMs),
			SystemMs: round2(s.SystemMs - base.SystemMs),
		},
		Memory: model.MemoryUsage{
			RSS:       s.RSS,
			HeapUsed:  s.HeapUsed,
			HeapTotal: s.HeapTotal,
			External:  s.External,
		},
		Goroutines: s.Goroutines,
	}
}

// delta 结束采样相对开始采样的变化
func (s resourceSample) delta(base resourceSample) model.ResourceDelta {
	return model.ResourceDelta{
		CPUUserMs:     round2(s.UserMs - base.UserMs),
		CPUSystemMs:   round2(s.SystemMs - base.SystemMs),
		RSSDelta:      int64(s.RSS) - int64(base.RSS),
		HeapUsedDelta: int64(s.HeapUsed) - int64(base.HeapUsed),
	}
}
