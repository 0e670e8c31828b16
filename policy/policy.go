// 决策策略：(快照, 控制器状态) -> 动作
// 策略只负责给出建议，最小/最大绿灯与清空约束由信号控制器保证
package policy

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

const (
	NameQueuePressure = "queue_pressure"
	NameMaxPressure   = "max_pressure"
	NameFixed         = "fixed"
)

// New 根据配置名称创建决策策略
// 参数：cfg-策略配置，capacity-进口道容量表
// 返回：策略实例，名称未知时返回错误
func New(cfg config.Policy, capacity Capacity) (entity.IPolicy, error) {
	switch cfg.Name {
	case NameQueuePressure, "":
		return &QueuePressure{
			Capacity:        capacity,
			SwitchRatio:     cfg.SwitchRatio,
			ExtendThreshold: cfg.ExtendThreshold,
			ExtendSeconds:   cfg.ExtendSeconds,
		}, nil
	case NameMaxPressure:
		return &MaxPressure{Capacity: capacity}, nil
	case NameFixed:
		return &FixedTime{Green: cfg.FixedGreen}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q", cfg.Name)
	}
}

// greenPressure 按当前相位汇总绿灯与非绿灯方向的排队压力
// 返回：绿灯压力和、非绿灯压力和、绿灯进口道数
func greenPressure(c Capacity, s *entity.Snapshot, st entity.ControllerState) (green, other float64, n int) {
	phase := st.CurrentPhase()
	for _, a := range s.Approaches {
		p := c.Pressure(s.JunctionID, a.Name, a.QueueLength)
		if phase.IsGreen(a.Name) {
			green += p
			n++
		} else {
			other += p
		}
	}
	return
}

// QueuePressure 排队压力启发式
// 算法说明：
// 1. 最小绿灯已满足且非绿灯方向压力和 > 绿灯方向压力和 × SwitchRatio时切换到下一相位
// 2. 否则若绿灯方向平均压力 > ExtendThreshold且未达最大绿灯，延长绿灯ExtendSeconds秒
// 3. 否则保持
type QueuePressure struct {
	Capacity        Capacity
	SwitchRatio     float64
	ExtendThreshold float64
	ExtendSeconds   float64
}

func (q *QueuePressure) Decide(s *entity.Snapshot, st entity.ControllerState) entity.Action {
	green, other, n := greenPressure(q.Capacity, s, st)
	if st.Elapsed >= st.MinGreen && other > green*q.SwitchRatio {
		return entity.SwitchTo(st.NextInOrder())
	}
	if n > 0 && green/float64(n) > q.ExtendThreshold && st.Elapsed < st.MaxGreen {
		return entity.Extend(q.ExtendSeconds)
	}
	return entity.Hold()
}

// FixedTime 定时控制：每个相位绿灯Green秒后按顺序切换
// 说明：用作效率评分的基线
type FixedTime struct {
	Green float64
}

func (f *FixedTime) Decide(s *entity.Snapshot, st entity.ControllerState) entity.Action {
	if st.Elapsed >= f.Green {
		return entity.SwitchTo(st.NextInOrder())
	}
	return entity.Hold()
}

// MaxPressure 最大压力控制
// 算法说明：
// 1. 计算每个相位绿灯进口道的压力和
// 2. 选出压力最大的相位
// 3. 最小绿灯已满足且最大压力相位不是当前相位、压力严格大于当前相位时切换过去
type MaxPressure struct {
	Capacity Capacity
}

func (m *MaxPressure) Decide(s *entity.Snapshot, st entity.ControllerState) entity.Action {
	if st.Elapsed < st.MinGreen {
		return entity.Hold()
	}
	pressures := make([]float64, len(st.Phases))
	for i, phase := range st.Phases {
		for _, a := range s.Approaches {
			if phase.IsGreen(a.Name) {
				pressures[i] += m.Capacity.Pressure(s.JunctionID, a.Name, a.QueueLength)
			}
		}
	}
	// 压力相同时取编号较小的相位
	best := int32(lo.MaxBy(lo.Range(len(pressures)), func(a, b int) bool {
		return pressures[a] > pressures[b]
	}))
	if best != st.PhaseIndex && pressures[best] > pressures[st.PhaseIndex] {
		return entity.SwitchTo(best)
	}
	return entity.Hold()
}
