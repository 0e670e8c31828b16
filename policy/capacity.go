package policy

import (
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Capacity 进口道容量表，用于把排队长度归一化为排队压力
type Capacity struct {
	Default    float64                      // 未配置进口道的容量
	ByJunction map[int32]map[string]float64 // 路口ID->进口道->容量
}

// NewCapacity 从配置构造容量表
func NewCapacity(rc *config.RuntimeConfig) Capacity {
	c := Capacity{
		Default:    rc.All.Policy.Capacity,
		ByJunction: make(map[int32]map[string]float64),
	}
	for _, in := range rc.All.Intersections {
		m := make(map[string]float64, len(in.Approaches))
		for _, a := range in.Approaches {
			m[a.Name] = a.Capacity
		}
		c.ByJunction[in.ID] = m
	}
	return c
}

// Of 查询进口道容量
func (c Capacity) Of(junctionID int32, approach string) float64 {
	if m, ok := c.ByJunction[junctionID]; ok {
		if v, ok := m[approach]; ok && v > 0 {
			return v
		}
	}
	if c.Default > 0 {
		return c.Default
	}
	return config.DefaultCapacity
}

// Pressure 排队压力 = 排队长度 / 进口道容量
func (c Capacity) Pressure(junctionID int32, approach string, queue int32) float64 {
	return float64(queue) / c.Of(junctionID, approach)
}

// Seed 用到达率估计修正容量
// 功能：视频分析给出的到达率（辆/小时）换算为一个信号周期内的到达车辆数，容量取配置值与该值的较大者
// 参数：rates-路口ID->进口道->到达率，cycle-信号周期（秒）
// 说明：到达率缺失的进口道保持配置容量
func (c Capacity) Seed(rates map[int32]map[string]float64, cycle float64) {
	for id, m := range rates {
		caps, ok := c.ByJunction[id]
		if !ok {
			log.Warnf("seed: ignore unknown junction %d", id)
			continue
		}
		for name, rate := range m {
			if _, ok := caps[name]; !ok {
				log.Warnf("seed: ignore unknown approach %s of junction %d", name, id)
				continue
			}
			caps[name] = max(c.Of(id, name), rate*cycle/3600)
		}
	}
}

// Cycle 估计信号周期：每个相位最大绿灯加黄灯
func Cycle(timing config.Timing, numPhases int) float64 {
	return float64(numPhases) * (timing.MaxGreen + timing.Yellow)
}
