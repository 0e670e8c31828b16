package entity

import (
	"context"
	"time"
)

// 交通世界会话接口（本地仿真与远程仿真的依赖倒置）
type ISession interface {
	// 推进仿真dt秒，返回推进后的仿真时间
	Advance(ctx context.Context, dt float64) (float64, error)
	// 读取路口的交通状态快照
	ReadState(ctx context.Context, junctionID int32) (*Snapshot, error)
	// 写入路口的相位指令
	WritePhase(ctx context.Context, junctionID int32, cmd PhaseCommand) error
	// 关闭会话
	Close() error
}

// 决策策略接口：(快照, 控制器状态) -> 动作，必须是纯函数
type IPolicy interface {
	Decide(snapshot *Snapshot, state ControllerState) Action
}

// PolicyFunc 函数形式的决策策略
type PolicyFunc func(snapshot *Snapshot, state ControllerState) Action

func (f PolicyFunc) Decide(snapshot *Snapshot, state ControllerState) Action {
	return f(snapshot, state)
}

// 指标记录接口（metrics/aggregator.go的依赖倒置）
type IRecorder interface {
	// 记录一个路口在一个tick内的快照与最终动作
	Record(junctionID int32, snapshot *Snapshot, action Action, wall time.Time)
	// 记录一个路口在一个tick内的错误
	RecordError(junctionID int32, t float64, err error)
}
