package entity

import "context"

// Manager依赖倒置

// entity/junction/manager.go的依赖倒置
type IScheduler interface {
	// 注册受控路口，重复ID返回ErrDuplicateRegistration
	Register(controller IController, offset float64) error
	// 执行一个协调周期
	Tick(ctx context.Context, now float64)
	// 输入Junction ID，查找控制器，如果不存在则返回error
	GetOrError(id int32) (IController, error)
	// 所有受控路口ID（升序）
	IDs() []int32

	Stop()         // 设置停止标志
	Stopped() bool // 检查停止标志
}

// entity/junction/trafficlight/controller.go的依赖倒置
type IController interface {
	ID() int32
	State() ControllerState
	MustSwitch() bool // 已达最大绿灯，必须切换

	AdvanceTo(now float64)                     // 时间簿记，提交已完成的清空
	Flush(ctx context.Context) error           // 写入清空结束后挂起的绿灯指令
	Observe(snapshot *Snapshot)                // 观测快照
	Decide(policy IPolicy) Action              // 决策并校验
	Apply(ctx context.Context, a Action) error // 校验并写入
	DeferSwitch(until float64)                 // 推迟策略发起的切换
}
