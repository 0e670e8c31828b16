package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// 默认值
const (
	DefaultInterval        = 1.
	DefaultMinGreen        = 10.
	DefaultMaxGreen        = 60.
	DefaultYellow          = 3.
	DefaultPolicy          = "queue_pressure"
	DefaultSwitchRatio     = 1.5
	DefaultExtendThreshold = 0.7
	DefaultExtendSeconds   = 5.
	DefaultCapacity        = 20.
	DefaultFixedGreen      = 30.
	DefaultTimeout         = 2.
	DefaultConnectRetries  = 5
	DefaultConnectInterval = 1.
	DefaultSaturationFlow  = 1800.
	DefaultTravelTime      = 10.
	DefaultLinkRatio       = 1.
	DefaultDashboardPoll   = 2.
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

// RuntimeConfig 运行时配置
// 功能：存储补全默认值并校验后的配置，提供按路口查询的便捷接口
// 说明：启动阶段构造一次，之后只读
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置

	intersections map[int32]*Intersection
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 功能：补全默认值并校验配置
// 参数：config-原始配置对象
// 返回：运行时配置指针，配置无效时返回包装了ErrInvalidConfig的错误
// 算法说明：
// 1. 补全控制、配时、策略、会话、本地仿真、看板的默认值
// 2. 校验路口ID唯一、进口道名称唯一、相位引用的进口道存在、配时约束合法
// 3. 校验连接引用的路口与进口道存在
func NewRuntimeConfig(config Config) (*RuntimeConfig, error) {
	setDefaults(&config)
	if err := validate(&config); err != nil {
		return nil, err
	}
	rc := &RuntimeConfig{
		All:           config,
		C:             config.Control,
		intersections: make(map[int32]*Intersection, len(config.Intersections)),
	}
	for i := range rc.All.Intersections {
		in := &rc.All.Intersections[i]
		rc.intersections[in.ID] = in
	}
	return rc, nil
}

func setDefaults(c *Config) {
	if c.Control.Step.Interval <= 0 {
		c.Control.Step.Interval = DefaultInterval
	}
	if c.Control.DecisionPeriod <= 0 {
		c.Control.DecisionPeriod = c.Control.Step.Interval
	}
	if c.Timing == (Timing{}) {
		c.Timing = Timing{MinGreen: DefaultMinGreen, MaxGreen: DefaultMaxGreen, Yellow: DefaultYellow}
	}
	p := &c.Policy
	if p.Name == "" {
		p.Name = DefaultPolicy
	}
	if p.SwitchRatio <= 0 {
		p.SwitchRatio = DefaultSwitchRatio
	}
	if p.ExtendThreshold <= 0 {
		p.ExtendThreshold = DefaultExtendThreshold
	}
	if p.ExtendSeconds <= 0 {
		p.ExtendSeconds = DefaultExtendSeconds
	}
	if p.Capacity <= 0 {
		p.Capacity = DefaultCapacity
	}
	if p.FixedGreen <= 0 {
		p.FixedGreen = DefaultFixedGreen
	}
	s := &c.Session
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.ConnectRetries <= 0 {
		s.ConnectRetries = DefaultConnectRetries
	}
	if s.ConnectInterval <= 0 {
		s.ConnectInterval = DefaultConnectInterval
	}
	if c.World.SaturationFlow <= 0 {
		c.World.SaturationFlow = DefaultSaturationFlow
	}
	if c.World.TravelTime < 0 {
		c.World.TravelTime = 0
	} else if c.World.TravelTime == 0 {
		c.World.TravelTime = DefaultTravelTime
	}
	if c.Dashboard.Interval <= 0 {
		c.Dashboard.Interval = DefaultDashboardPoll
	}
	for i := range c.Intersections {
		in := &c.Intersections[i]
		for j := range in.Approaches {
			if in.Approaches[j].Capacity <= 0 {
				in.Approaches[j].Capacity = p.Capacity
			}
		}
	}
	for i := range c.Links {
		if c.Links[i].Ratio <= 0 {
			c.Links[i].Ratio = DefaultLinkRatio
		}
		if c.Links[i].TravelTime <= 0 {
			c.Links[i].TravelTime = c.World.TravelTime
		}
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func validateTiming(t Timing) error {
	if t.MinGreen < 0 || t.Yellow < 0 {
		return invalid("negative timing %+v", t)
	}
	if t.MaxGreen <= 0 || t.MaxGreen < t.MinGreen {
		return invalid("max green %.1f must be positive and >= min green %.1f", t.MaxGreen, t.MinGreen)
	}
	return nil
}

func validate(c *Config) error {
	if c.Control.Step.Total < 0 {
		return invalid("negative total steps %d", c.Control.Step.Total)
	}
	if len(c.Intersections) == 0 {
		return invalid("no intersection")
	}
	if err := validateTiming(c.Timing); err != nil {
		return err
	}
	approaches := make(map[int32]map[string]struct{}, len(c.Intersections))
	for _, in := range c.Intersections {
		if _, ok := approaches[in.ID]; ok {
			return invalid("duplicate intersection id %d", in.ID)
		}
		if in.Offset < 0 {
			return invalid("intersection %d: negative offset %.1f", in.ID, in.Offset)
		}
		if in.Timing != nil {
			if err := validateTiming(*in.Timing); err != nil {
				return fmt.Errorf("intersection %d: %w", in.ID, err)
			}
		}
		names := make(map[string]struct{}, len(in.Approaches))
		for _, a := range in.Approaches {
			if a.Name == "" {
				return invalid("intersection %d: empty approach name", in.ID)
			}
			if _, ok := names[a.Name]; ok {
				return invalid("intersection %d: duplicate approach %s", in.ID, a.Name)
			}
			if a.ArrivalRate < 0 {
				return invalid("intersection %d: negative arrival rate on %s", in.ID, a.Name)
			}
			names[a.Name] = struct{}{}
		}
		if len(in.Phases) < 2 {
			return invalid("intersection %d: at least 2 phases required, got %d", in.ID, len(in.Phases))
		}
		for i, p := range in.Phases {
			if len(p.Green) == 0 {
				return invalid("intersection %d: phase %d has no green approach", in.ID, i)
			}
			for _, g := range p.Green {
				if _, ok := names[g]; !ok {
					return invalid("intersection %d: phase %d references unknown approach %s", in.ID, i, g)
				}
			}
		}
		approaches[in.ID] = names
	}
	for _, l := range c.Links {
		from, ok := approaches[l.From]
		if !ok {
			return invalid("link references unknown intersection %d", l.From)
		}
		to, ok := approaches[l.To]
		if !ok {
			return invalid("link references unknown intersection %d", l.To)
		}
		if l.From == l.To {
			return invalid("link from intersection %d to itself", l.From)
		}
		if _, ok := from[l.FromApproach]; !ok {
			return invalid("link references unknown approach %s of intersection %d", l.FromApproach, l.From)
		}
		if _, ok := to[l.ToApproach]; !ok {
			return invalid("link references unknown approach %s of intersection %d", l.ToApproach, l.To)
		}
	}
	return nil
}

// Intersection 查询路口配置
func (rc *RuntimeConfig) Intersection(id int32) (*Intersection, bool) {
	in, ok := rc.intersections[id]
	return in, ok
}

// IntersectionIDs 所有路口ID（配置顺序）
func (rc *RuntimeConfig) IntersectionIDs() []int32 {
	return lo.Map(rc.All.Intersections, func(in Intersection, _ int) int32 { return in.ID })
}

// TimingOf 路口的配时约束，未单独配置时使用全局配置
func (rc *RuntimeConfig) TimingOf(id int32) Timing {
	if in, ok := rc.intersections[id]; ok && in.Timing != nil {
		return *in.Timing
	}
	return rc.All.Timing
}

// SessionTimeout 单次会话读写超时
func (rc *RuntimeConfig) SessionTimeout() time.Duration {
	return time.Duration(rc.All.Session.Timeout * float64(time.Second))
}

// DecisionPeriod 决策周期（秒）
func (rc *RuntimeConfig) DecisionPeriod() float64 {
	return rc.C.DecisionPeriod
}
