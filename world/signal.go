package world

import (
	"fmt"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// signalRuntime 信号程序运行时数据
type signalRuntime struct {
	tl         *mapv2.TrafficLight
	step       int32   // 程序中的当前阶段，2*相位+(0绿灯|1黄灯)
	totalT     float64 // 当前阶段总时长
	remainingT float64 // 当前阶段剩余时间
}

// signal 本地仿真中路口的信号程序
// 功能：每个相位展开为绿灯、黄灯两个阶段，黄灯倒计时结束后自动进入下一相位的绿灯，绿灯倒计时结束后保持直到收到新指令
// 说明：写入先进入buffer，下一步开始时生效
type signal struct {
	junctionID int32
	approaches []string // 程序中States的顺序

	snapshot signalRuntime  // 当前步对外可见的数据
	runtime  signalRuntime  // 运行时数据
	buffer   *signalRuntime // 交互式接口写入的buffer
	ok       bool           // true信控工作，false信控失效（全绿）
	okBuffer bool
}

// newProgram 由相位定义生成信号程序
// 说明：绿灯阶段时长为最大绿灯，黄灯阶段时长为黄灯时间，黄灯阶段原绿灯方向为黄灯
func newProgram(junctionID int32, approaches []string, phases []entity.Phase, timing config.Timing) *mapv2.TrafficLight {
	tl := &mapv2.TrafficLight{JunctionId: junctionID}
	for _, p := range phases {
		green := make([]mapv2.LightState, len(approaches))
		yellow := make([]mapv2.LightState, len(approaches))
		for i, a := range approaches {
			if p.IsGreen(a) {
				green[i] = mapv2.LightState_LIGHT_STATE_GREEN
				yellow[i] = mapv2.LightState_LIGHT_STATE_YELLOW
			} else {
				green[i] = mapv2.LightState_LIGHT_STATE_RED
				yellow[i] = mapv2.LightState_LIGHT_STATE_RED
			}
		}
		tl.Phases = append(tl.Phases,
			&mapv2.Phase{Duration: timing.MaxGreen, States: green},
			&mapv2.Phase{Duration: timing.Yellow, States: yellow},
		)
	}
	return tl
}

func newSignal(junctionID int32, approaches []string, tl *mapv2.TrafficLight) *signal {
	s := &signal{
		junctionID: junctionID,
		approaches: approaches,
		ok:         true,
		okBuffer:   true,
	}
	if tl != nil {
		s.runtime = signalRuntime{tl: tl, step: 0, totalT: tl.Phases[0].Duration, remainingT: tl.Phases[0].Duration}
		s.snapshot = s.runtime
	}
	return s
}

// prepare 提交buffer，更新对外可见的数据
func (s *signal) prepare() {
	s.ok = s.okBuffer
	if s.buffer != nil {
		s.runtime = *s.buffer
		s.buffer = nil
	}
	s.snapshot = s.runtime
}

// update 倒计时
// 算法说明：
// 1. 无程序或信控失效时不计时
// 2. 绿灯阶段倒计时到0后保持
// 3. 黄灯阶段倒计时到0后进入下一阶段，跳过时长为0的阶段
func (s *signal) update(dt float64) {
	r := &s.runtime
	if r.tl == nil || !s.ok {
		return
	}
	r.remainingT -= dt
	if r.remainingT > 0 {
		return
	}
	if r.step%2 == 0 {
		r.remainingT = 0
		return
	}
	r.remainingT = 0
	n := int32(len(r.tl.Phases))
	for range n {
		r.step = (r.step + 1) % n
		r.remainingT += r.tl.Phases[r.step].Duration
		if r.remainingT > 0 {
			break
		}
	}
	r.totalT = r.remainingT
}

// state 进口道在当前步的信号状态
func (s *signal) state(approachIndex int) mapv2.LightState {
	if s.snapshot.tl == nil || !s.ok {
		return mapv2.LightState_LIGHT_STATE_GREEN
	}
	return s.snapshot.tl.Phases[s.snapshot.step].States[approachIndex]
}

// remaining 当前阶段剩余时间，无信控时为无穷大
func (s *signal) remaining() float64 {
	if s.snapshot.tl == nil || !s.ok {
		return mathutil.INF
	}
	return s.snapshot.remainingT
}

// elapsed 当前阶段已持续时间
func (s *signal) elapsed() float64 {
	return max(0, s.snapshot.totalT-s.snapshot.remainingT)
}

// set 替换信号程序
func (s *signal) set(tl *mapv2.TrafficLight) error {
	if tl.JunctionId != s.junctionID {
		return fmt.Errorf("set junction %d with wrong traffic light id %d", s.junctionID, tl.JunctionId)
	}
	if len(tl.Phases) == 0 {
		return fmt.Errorf("set with empty traffic light")
	}
	for _, p := range tl.Phases {
		if len(p.States) != len(s.approaches) {
			return fmt.Errorf("number of approaches %d and traffic light states %d does not match", len(s.approaches), len(p.States))
		}
	}
	s.buffer = &signalRuntime{tl: tl, step: 0, totalT: tl.Phases[0].Duration, remainingT: tl.Phases[0].Duration}
	return nil
}

// unset 删除信号程序（全绿）
func (s *signal) unset() {
	s.buffer = &signalRuntime{}
}

// setPhase 设置当前阶段与剩余时间
func (s *signal) setPhase(step int32, remainingT float64) error {
	tl := s.runtime.tl
	if s.buffer != nil {
		tl = s.buffer.tl
	}
	if tl == nil {
		return fmt.Errorf("junction %d has no traffic light program", s.junctionID)
	}
	if step < 0 || int(step) >= len(tl.Phases) {
		return fmt.Errorf("junction %d: phase index %d out of range [0, %d)", s.junctionID, step, len(tl.Phases))
	}
	if remainingT < 0 {
		return fmt.Errorf("junction %d: invalid remaining time %.1f", s.junctionID, remainingT)
	}
	s.buffer = &signalRuntime{tl: tl, step: step, totalT: remainingT, remainingT: remainingT}
	return nil
}

// setOk 设置信控开关
func (s *signal) setOk(ok bool) {
	s.okBuffer = ok
}
