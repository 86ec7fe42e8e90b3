package simulation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/gilkh/livret-sub003/internal/shared/model"
	"github.com/gilkh/livret-sub003/pkg/logging"
)

// Scenario 负载场景
type Scenario string

const (
	ScenarioMixed Scenario = "mixed"
)

// ParseScenario 空值默认 mixed，未知场景返回 ErrInvalidScenario
func ParseScenario(s string) (Scenario, error) {
	switch Scenario(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScenarioMixed:
		return ScenarioMixed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScenario, s)
}

// behavior 单个角色的行为脚本，只在本包内实现
type behavior interface {
	// episode 执行一轮完整的业务操作；失败只记录，不返回
	episode(ctx context.Context, l *actorLoop)
	// thinkTime 两轮之间的随机等待范围
	thinkTime() (lo, hi time.Duration)
}

// behaviorFor 场景 × 角色 的唯一分发点
func (s Scenario) behaviorFor(role model.UserRole) behavior {
	switch s {
	case ScenarioMixed:
		switch role {
		case model.UserRoleTeacher:
			return teacherBehavior{}
		case model.UserRoleSubAdmin:
			return subAdminBehavior{}
		}
	}
	return nil
}

// ============================================================================
// actorLoop - 单个虚拟用户的执行循环
// ============================================================================

// actorLoop 绑定一个虚拟用户；同一个 loop 内部的调用严格串行
type actorLoop struct {
	actor    *Actor
	behavior behavior
	live     *liveRun
	client   *Client
	recorder *Recorder
	seed     *SeedResult
	rng      *rand.Rand
	scale    float64 // thinkTime 缩放系数
	logger   *logging.Logger
}

// run 循环执行 episode，直到停止或超过截止时间
func (l *actorLoop) run(ctx context.Context) {
	episodes := 0
	defer func() {
		l.logger.Debug("Actor loop finished", "episodes", episodes)
	}()
	for !l.live.stopRequested() && time.Now().Before(l.live.deadline) {
		l.behavior.episode(ctx, l)
		episodes++
		if !l.live.sleep(l.think()) {
			return
		}
	}
}

func (l *actorLoop) think() time.Duration {
	lo, hi := l.behavior.thinkTime()
	if l.scale > 0 {
		lo = time.Duration(float64(lo) * l.scale)
		hi = time.Duration(float64(hi) * l.scale)
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(l.rng.Int64N(int64(hi-lo)))
}

// call 计时调用并记录结果，返回响应体和是否成功
func (l *actorLoop) call(ctx context.Context, name, method, path string, body any) ([]byte, bool) {
	l.live.inFlight.Add(1)
	m, data := timed(ctx, name, func(ctx context.Context) (*Response, error) {
		return l.client.Do(ctx, l.actor.Token, method, path, body)
	})
	l.live.inFlight.Add(-1)
	if m.Status == 0 && !m.OK {
		l.logger.Debug("Actor call failed", "action", name, "error", m.Error)
	}

	l.recorder.Record(ctx, m)
	return data, m.OK
}

func (l *actorLoop) chance(p float64) bool {
	return l.rng.Float64() < p
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}

func (l *actorLoop) get(ctx context.Context, name, path string) ([]byte, bool) {
	return l.call(ctx, name, http.MethodGet, path, nil)
}
