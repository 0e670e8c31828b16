// 信号控制器：单个路口的相位状态机
// 状态为(相位 × {绿灯, 黄灯清空})，策略只能在约束内改变相位，所有切换都经过黄灯清空
package trafficlight

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

const eps = 1e-6

var (
	writeRetries = flag.Int("tl.write_retries", 1, "相位写入失败后的重试次数")
)

// controllerRuntime 控制器运行时数据
type controllerRuntime struct {
	index        int32        // 当前相位
	stage        entity.Stage // 当前阶段
	phaseStart   float64      // 当前相位绿灯开始时间
	clearanceEnd float64      // 清空结束时间
	nextIndex    int32        // 清空结束后进入的相位
	holdUntil    float64      // 绿灯延长写入仿真的截止时间，不约束之后的切换
	deferUntil   float64      // 协调偏移截止时间，之前不接受策略发起的切换
}

// Controller 单路口信号控制器
// 功能：维护相位与相位内已用时间，校验策略动作是否满足最小/最大绿灯与清空约束，并写入仿真
// 说明：所有字段只由协调调度器所在的goroutine写入
type Controller struct {
	ctx entity.ITaskContext

	id      int32
	phases  []entity.Phase
	timing  config.Timing
	timeout time.Duration

	now      float64              // 最近一次簿记的时间
	elapsed  float64              // 当前相位已持续时间
	runtime  controllerRuntime    // 运行时数据
	pending  *entity.PhaseCommand // 清空结束后挂起的绿灯指令
	snapshot *entity.Snapshot     // 最近一次观测的快照
}

// NewController 创建信号控制器
// 功能：初始状态为相位0绿灯，并挂起一条相位0绿灯指令，首次Flush时写入仿真
// 参数：ctx-任务上下文，id-路口ID，phases-相位定义（至少两个）
// 返回：初始化完成的控制器
func NewController(ctx entity.ITaskContext, id int32, phases []entity.Phase) *Controller {
	if len(phases) < 2 {
		log.Panicf("junction %d: at least 2 phases required, got %d", id, len(phases))
	}
	rc := ctx.RuntimeConfig()
	start := ctx.Clock().T
	c := &Controller{
		ctx:     ctx,
		id:      id,
		phases:  phases,
		timing:  rc.TimingOf(id),
		timeout: rc.SessionTimeout(),
		now:     start,
		runtime: controllerRuntime{
			index:      0,
			stage:      entity.StageGreen,
			phaseStart: start,
		},
	}
	c.pending = &entity.PhaseCommand{Phase: 0, Stage: entity.StageGreen, Remaining: c.timing.MaxGreen}
	return c
}

func (c *Controller) String() string {
	return fmt.Sprintf("Controller{ID=%d, Phase=%d, Stage=%v, Elapsed=%.1f}", c.id, c.runtime.index, c.runtime.stage, c.elapsed)
}

// ID 路口ID
func (c *Controller) ID() int32 {
	return c.id
}

// Phases 相位定义
func (c *Controller) Phases() []entity.Phase {
	return c.phases
}

// Timing 配时约束
func (c *Controller) Timing() config.Timing {
	return c.timing
}

// Snapshot 最近一次观测的快照
func (c *Controller) Snapshot() *entity.Snapshot {
	return c.snapshot
}

// State 控制器的只读状态
func (c *Controller) State() entity.ControllerState {
	r := c.runtime
	s := entity.ControllerState{
		JunctionID:    c.id,
		PhaseIndex:    r.index,
		Elapsed:       c.elapsed,
		MinGreen:      c.timing.MinGreen,
		MaxGreen:      c.timing.MaxGreen,
		PendingSwitch: r.stage == entity.StageClearance,
		InClearance:   r.stage == entity.StageClearance,
		NextPhase:     c.nextInOrder(),
		NumPhases:     int32(len(c.phases)),
		HoldUntil:     r.holdUntil,
		Phases:        c.phases,
	}
	if s.InClearance {
		s.NextPhase = r.nextIndex
		s.ClearanceRemaining = max(0, r.clearanceEnd-c.now)
	}
	return s
}

func (c *Controller) nextInOrder() int32 {
	return (c.runtime.index + 1) % int32(len(c.phases))
}

// MustSwitch 是否已达最大绿灯
// 说明：达到后无论策略输出如何都必须切换，调度器据此把该路口视为到期
func (c *Controller) MustSwitch() bool {
	return c.runtime.stage == entity.StageGreen && c.elapsed >= c.timing.MaxGreen-eps
}

// AdvanceTo 时间簿记
// 功能：根据绝对时间更新相位已用时间，清空结束时提交到下一相位
// 参数：now-当前仿真时间
// 算法说明：
// 1. 时间不回退，重复调用同一时间无副作用
// 2. 清空阶段内已用时间继续增长
// 3. 清空结束时切换到下一相位，新相位从清空结束时刻开始计时，并挂起一条绿灯指令
func (c *Controller) AdvanceTo(now float64) {
	if now < c.now {
		return
	}
	c.now = now
	r := &c.runtime
	if r.stage == entity.StageClearance && now >= r.clearanceEnd-eps {
		r.index = r.nextIndex
		r.stage = entity.StageGreen
		r.phaseStart = r.clearanceEnd
		r.holdUntil = 0
		c.pending = &entity.PhaseCommand{
			Phase:     r.index,
			Stage:     entity.StageGreen,
			Remaining: c.timing.MaxGreen - max(0, now-r.phaseStart),
		}
		log.Debugf("junction %d: commit phase %d at %.1f", c.id, r.index, now)
	}
	c.elapsed = max(0, now-r.phaseStart)
}

// Flush 写入挂起的绿灯指令
// 说明：写入失败时指令保留，下个tick再次尝试
func (c *Controller) Flush(ctx context.Context) error {
	if c.pending == nil {
		return nil
	}
	if err := c.write(ctx, *c.pending); err != nil {
		return err
	}
	c.pending = nil
	return nil
}

// Observe 观测快照
// 功能：用快照时间推进簿记并保存快照，路口ID不匹配时记录日志并忽略
func (c *Controller) Observe(snapshot *entity.Snapshot) {
	if snapshot == nil {
		return
	}
	if snapshot.JunctionID != c.id {
		log.Warnf("junction %d: ignore snapshot of junction %d", c.id, snapshot.JunctionID)
		return
	}
	c.AdvanceTo(snapshot.T)
	c.snapshot = snapshot
}

// Decide 决策
// 功能：调用策略并校验其输出
// 参数：policy-决策策略
// 返回：满足约束的动作
// 算法说明：
// 1. 清空阶段总是保持
// 2. 达到最大绿灯时无论策略输出如何都切换到下一相位
// 3. 其余情况调用策略，违反最小绿灯或协调偏移的切换降级为保持
func (c *Controller) Decide(policy entity.IPolicy) entity.Action {
	if c.runtime.stage == entity.StageClearance {
		return entity.Hold()
	}
	if c.MustSwitch() {
		return entity.SwitchTo(c.nextInOrder())
	}
	if policy == nil || c.snapshot == nil {
		return entity.Hold()
	}
	return c.validate(policy.Decide(c.snapshot, c.State()))
}

// validate 校验动作，不满足约束的降级为保持
func (c *Controller) validate(a entity.Action) entity.Action {
	r := c.runtime
	switch a.Kind {
	case entity.ActionHold:
		return a
	case entity.ActionSwitch:
		if r.stage == entity.StageClearance {
			return entity.Hold()
		}
		if a.PhaseIndex < 0 || int(a.PhaseIndex) >= len(c.phases) || a.PhaseIndex == r.index {
			return entity.Hold()
		}
		if c.MustSwitch() {
			return a
		}
		if c.elapsed < c.timing.MinGreen-eps || c.now < r.deferUntil-eps {
			return entity.Hold()
		}
		return a
	case entity.ActionExtend:
		if r.stage == entity.StageClearance || a.Seconds <= 0 || c.MustSwitch() {
			return entity.Hold()
		}
		return a
	case entity.ActionOffset:
		if a.Seconds <= 0 {
			return entity.Hold()
		}
		return a
	default:
		return entity.Hold()
	}
}

// Apply 校验并执行动作
// 功能：切换写入黄灯指令并进入清空阶段，延长写入带剩余时间的绿灯指令（只设置仿真中的相位剩余时间）
// 参数：ctx-上下文，a-动作
// 返回：写入重试后仍失败时返回*entity.ActuationFailure，此时状态不变
// 说明：黄灯时长为0时立即提交并写入新相位的绿灯指令
func (c *Controller) Apply(ctx context.Context, a entity.Action) error {
	a = c.validate(a)
	r := &c.runtime
	switch a.Kind {
	case entity.ActionSwitch:
		cmd := entity.PhaseCommand{Phase: r.index, Stage: entity.StageClearance, Remaining: c.timing.Yellow}
		if err := c.write(ctx, cmd); err != nil {
			return err
		}
		r.stage = entity.StageClearance
		r.nextIndex = a.PhaseIndex
		r.clearanceEnd = c.now + c.timing.Yellow
		r.holdUntil = 0
		c.pending = nil
		if c.timing.Yellow <= 0 {
			c.AdvanceTo(c.now)
			return c.Flush(ctx)
		}
	case entity.ActionExtend:
		until := min(c.now+a.Seconds, r.phaseStart+c.timing.MaxGreen)
		cmd := entity.PhaseCommand{Phase: r.index, Stage: entity.StageGreen, Remaining: until - c.now}
		if err := c.write(ctx, cmd); err != nil {
			return err
		}
		r.holdUntil = max(r.holdUntil, until)
	}
	return nil
}

// DeferSwitch 推迟策略发起的切换到until之后（最大绿灯强制切换不受影响）
func (c *Controller) DeferSwitch(until float64) {
	c.runtime.deferUntil = max(c.runtime.deferUntil, until)
}

// write 写入相位指令，失败后按配置重试
func (c *Controller) write(ctx context.Context, cmd entity.PhaseCommand) error {
	var err error
	for attempt := 0; attempt <= *writeRetries; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, c.timeout)
		err = c.ctx.Session().WritePhase(wctx, c.id, cmd)
		cancel()
		if err == nil {
			return nil
		}
		log.Warnf("junction %d: write %v failed (attempt %d): %v", c.id, cmd, attempt+1, err)
		if ctx.Err() != nil {
			break
		}
	}
	return &entity.ActuationFailure{JunctionID: c.id, Err: err}
}
