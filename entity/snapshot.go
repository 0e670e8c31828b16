package entity

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Approach 进口道在某一时刻的交通状态
// 说明：只读值，每个tick整体替换
type Approach struct {
	Name         string  `msgpack:"name" json:"name"`
	QueueLength  int32   `msgpack:"queue_length" json:"queue_length"`   // 排队车辆数
	WaitingTime  float64 `msgpack:"waiting_time" json:"waiting_time"`   // 排队车辆累计等待时间（秒）
	FlowRate     float64 `msgpack:"flow_rate" json:"flow_rate"`         // 瞬时流率（辆/小时）
	VehicleCount int32   `msgpack:"vehicle_count" json:"vehicle_count"` // 进口道上的车辆数
}

// Snapshot 单个路口在一个tick内的交通状态快照
// 功能：汇总各进口道的排队、等待、流率与车辆数，以及路口当前的相位和相位内已用时间
// 说明：不可变值，生命周期为一个tick
type Snapshot struct {
	JunctionID int32      `msgpack:"junction_id" json:"junction_id"`
	T          float64    `msgpack:"t" json:"t"`                     // 快照对应的仿真时间（秒）
	PhaseIndex int32      `msgpack:"phase_index" json:"phase_index"` // 仿真器中当前相位
	Elapsed    float64    `msgpack:"elapsed" json:"elapsed"`         // 仿真器中当前相位已持续时间
	Approaches []Approach `msgpack:"approaches" json:"approaches"`
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("Snapshot{Junction=%d, T=%.1f, Phase=%d, Queue=%d}", s.JunctionID, s.T, s.PhaseIndex, s.TotalQueue())
}

// Approach 按名称查找进口道
func (s *Snapshot) Approach(name string) (Approach, bool) {
	return lo.Find(s.Approaches, func(a Approach) bool { return a.Name == name })
}

// TotalQueue 所有进口道排队车辆数之和
func (s *Snapshot) TotalQueue() int32 {
	if s == nil {
		return 0
	}
	return lo.SumBy(s.Approaches, func(a Approach) int32 { return a.QueueLength })
}

// TotalWaiting 所有进口道累计等待时间之和
func (s *Snapshot) TotalWaiting() float64 {
	return lo.SumBy(s.Approaches, func(a Approach) float64 { return a.WaitingTime })
}

// TotalVehicles 所有进口道车辆数之和
func (s *Snapshot) TotalVehicles() int32 {
	return lo.SumBy(s.Approaches, func(a Approach) int32 { return a.VehicleCount })
}

// TotalFlow 所有进口道流率之和（辆/小时）
func (s *Snapshot) TotalFlow() float64 {
	return lo.SumBy(s.Approaches, func(a Approach) float64 { return a.FlowRate })
}

// TrafficState 一个tick内所有受控路口的快照（路口ID->快照）
type TrafficState map[int32]*Snapshot

// Phase 相位：获得通行权的进口道集合，切换时统一经过黄灯清空
type Phase struct {
	Name  string
	Green []string
}

// IsGreen 判断进口道在该相位下是否为绿灯
func (p Phase) IsGreen(approach string) bool {
	return lo.Contains(p.Green, approach)
}

// NewPhases 由配置构造相位定义，未命名的相位按序号命名
func NewPhases(phases []config.Phase) []Phase {
	return lo.Map(phases, func(p config.Phase, i int) Phase {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("phase%d", i)
		}
		return Phase{Name: name, Green: p.Green}
	})
}

// Stage 相位内的阶段
type Stage int32

const (
	StageGreen     Stage = 0 // 绿灯
	StageClearance Stage = 1 // 黄灯清空
)

func (s Stage) String() string {
	if s == StageClearance {
		return "clearance"
	}
	return "green"
}

// PhaseCommand 写入仿真器的相位指令
type PhaseCommand struct {
	Phase     int32   // 相位索引
	Stage     Stage   // 阶段
	Remaining float64 // 该阶段的剩余时间（秒）
}

func (c PhaseCommand) String() string {
	return fmt.Sprintf("PhaseCommand{Phase=%d, Stage=%v, Remaining=%.1f}", c.Phase, c.Stage, c.Remaining)
}

// ControllerState 信号控制器对外暴露的只读状态
type ControllerState struct {
	JunctionID         int32
	PhaseIndex         int32   // 当前相位
	Elapsed            float64 // 当前相位已持续时间（含清空阶段）
	MinGreen           float64
	MaxGreen           float64
	PendingSwitch      bool    // 已接受切换，等待清空结束
	InClearance        bool    // 处于黄灯清空阶段
	ClearanceRemaining float64 // 清空剩余时间
	NextPhase          int32   // 清空结束后进入的相位
	NumPhases          int32
	HoldUntil          float64 // 绿灯延长截止时间
	Phases             []Phase // 相位定义（只读）
}

// CurrentPhase 当前相位定义
func (s ControllerState) CurrentPhase() Phase {
	return s.Phases[s.PhaseIndex]
}

// NextInOrder 按相位顺序的下一个相位
func (s ControllerState) NextInOrder() int32 {
	return (s.PhaseIndex + 1) % s.NumPhases
}
