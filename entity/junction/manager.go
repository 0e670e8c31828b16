package junction

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/container"
	"gonum.org/v1/gonum/graph/simple"
)

const eps = 1e-6

// entry 受控路口
type entry struct {
	controller entity.IController
	offset     float64 // 协调偏移（秒）
}

// candidate 本tick到期的路口与其预读快照
type candidate struct {
	e        *entry
	snapshot *entity.Snapshot
}

// CoordinationScheduler 多路口协调调度器
// 功能：以固定决策周期驱动所有信号控制器，按协调偏移决定到期路口，并避免物理相连的路口在同一tick内同时切换
// 说明：单协程调度，任意时刻只有一个控制器在决策
type CoordinationScheduler struct {
	ctx    entity.ITaskContext
	policy entity.IPolicy

	period  float64       // 决策周期（秒）
	timeout time.Duration // 单次读取超时

	data    map[int32]*entry
	entries []*entry                // 按ID升序
	graph   *simple.UndirectedGraph // 路口冲突拓扑

	stopped atomic.Bool
}

// NewScheduler 创建协调调度器
// 功能：从运行时配置读取决策周期与读写超时，并根据路口连接构建冲突拓扑
// 参数：ctx-任务上下文，policy-决策策略
// 返回：调度器实例
func NewScheduler(ctx entity.ITaskContext, policy entity.IPolicy) *CoordinationScheduler {
	rc := ctx.RuntimeConfig()
	s := &CoordinationScheduler{
		ctx:     ctx,
		policy:  policy,
		period:  rc.DecisionPeriod(),
		timeout: rc.SessionTimeout(),
		data:    make(map[int32]*entry),
		entries: make([]*entry, 0),
		graph:   simple.NewUndirectedGraph(),
	}
	for _, l := range rc.All.Links {
		s.Connect(l.From, l.To)
	}
	return s
}

// Connect 声明两个路口物理相连
func (s *CoordinationScheduler) Connect(a, b int32) {
	if a == b || s.graph.HasEdgeBetween(int64(a), int64(b)) {
		return
	}
	s.graph.SetEdge(s.graph.NewEdge(simple.Node(a), simple.Node(b)))
}

// Interacts 两个路口是否物理相连
func (s *CoordinationScheduler) Interacts(a, b int32) bool {
	return s.graph.HasEdgeBetween(int64(a), int64(b))
}

// Neighbors 与路口相连的所有路口（升序）
func (s *CoordinationScheduler) Neighbors(id int32) []int32 {
	if s.graph.Node(int64(id)) == nil {
		return nil
	}
	res := make([]int32, 0)
	nodes := s.graph.From(int64(id))
	for nodes.Next() {
		res = append(res, int32(nodes.Node().ID()))
	}
	slices.Sort(res)
	return res
}

func (s *CoordinationScheduler) interactsWithAny(id int32, others []int32) bool {
	return lo.SomeBy(others, func(o int32) bool { return s.Interacts(id, o) })
}

// Register 注册受控路口
// 参数：controller-信号控制器，offset-协调偏移（秒）
// 返回：ID重复时返回包装了entity.ErrDuplicateRegistration的错误
func (s *CoordinationScheduler) Register(controller entity.IController, offset float64) error {
	id := controller.ID()
	if _, ok := s.data[id]; ok {
		return fmt.Errorf("junction %d: %w", id, entity.ErrDuplicateRegistration)
	}
	e := &entry{controller: controller, offset: offset}
	s.data[id] = e
	s.entries = append(s.entries, e)
	slices.SortFunc(s.entries, func(a, b *entry) int {
		return cmp.Compare(a.controller.ID(), b.controller.ID())
	})
	return nil
}

// Get 根据ID获取控制器，如果不存在则panic
func (s *CoordinationScheduler) Get(id int32) entity.IController {
	if e, ok := s.data[id]; !ok {
		log.Panicf("no id %d in scheduler", id)
		return nil
	} else {
		return e.controller
	}
}

// GetOrError 根据ID获取控制器，如果不存在则返回错误
func (s *CoordinationScheduler) GetOrError(id int32) (entity.IController, error) {
	if e, ok := s.data[id]; !ok {
		return nil, fmt.Errorf("junction %d: %w", id, entity.ErrUnknownIntersection)
	} else {
		return e.controller, nil
	}
}

// IDs 所有受控路口ID（升序）
func (s *CoordinationScheduler) IDs() []int32 {
	return lo.Map(s.entries, func(e *entry, _ int) int32 { return e.controller.ID() })
}

// LocalTime 路口的协调时间：全局时间减去协调偏移
func (s *CoordinationScheduler) LocalTime(id int32, now float64) float64 {
	if e, ok := s.data[id]; ok {
		return now - e.offset
	}
	return now
}

// IsDue 路口在now时刻是否到期
// 说明：now >= offset且(now - offset)为决策周期的整数倍
func (s *CoordinationScheduler) IsDue(id int32, now float64) bool {
	e, ok := s.data[id]
	if !ok {
		return false
	}
	return s.isDue(e, now)
}

func (s *CoordinationScheduler) isDue(e *entry, now float64) bool {
	local := now - e.offset
	if local < -eps {
		return false
	}
	r := math.Mod(local, s.period)
	return r < eps || s.period-r < eps
}

// Stop 设置停止标志，控制循环在下一个tick开始时退出
func (s *CoordinationScheduler) Stop() {
	s.stopped.Store(true)
}

// Stopped 检查停止标志
func (s *CoordinationScheduler) Stopped() bool {
	return s.stopped.Load()
}

// Tick 执行一个协调周期
// 功能：推进所有控制器的时间簿记，并依次驱动本tick到期的控制器完成观测、决策、执行与记录
// 参数：ctx-上下文，now-当前仿真时间
// 算法说明：
// 1. 所有控制器（无论是否到期）推进簿记，并写入清空结束后挂起的绿灯指令
// 2. 到期条件：按协调偏移与决策周期到期，或已达最大绿灯
// 3. 预读到期路口的快照，读取失败（含超时）的路口本tick保持并记录错误
// 4. 按总排队长度降序（相同时按ID升序）依次处理
// 5. 与已处理路口相连的路口重新读取快照，且若相连路口本tick已切换，则其切换降级为保持
// 6. 协调偏移动作推迟目标路口由策略发起的切换
// 7. 执行失败的路口记录错误，不影响其他路口
func (s *CoordinationScheduler) Tick(ctx context.Context, now float64) {
	for _, e := range s.entries {
		e.controller.AdvanceTo(now)
		if err := e.controller.Flush(ctx); err != nil {
			s.fail(e.controller.ID(), now, err)
		}
	}

	due := lo.Filter(s.entries, func(e *entry, _ int) bool {
		return s.isDue(e, now) || e.controller.MustSwitch()
	})
	if len(due) == 0 {
		return
	}

	candidates := make([]candidate, 0, len(due))
	for _, e := range due {
		snapshot, err := s.read(ctx, e.controller.ID())
		if err != nil {
			s.fail(e.controller.ID(), now, err)
			continue
		}
		candidates = append(candidates, candidate{e: e, snapshot: snapshot})
	}
	order := container.NewPriorityQueue(func(a, b candidate) bool {
		if qa, qb := a.snapshot.TotalQueue(), b.snapshot.TotalQueue(); qa != qb {
			return qa > qb
		}
		return a.e.controller.ID() < b.e.controller.ID()
	}, candidates...)

	evaluated := make([]int32, 0, len(candidates))
	switched := make([]int32, 0)
	for order.Len() > 0 {
		cand := order.Pop()
		c := cand.e.controller
		id := c.ID()
		snapshot := cand.snapshot
		if s.interactsWithAny(id, evaluated) {
			fresh, err := s.read(ctx, id)
			evaluated = append(evaluated, id)
			if err != nil {
				s.fail(id, now, err)
				continue
			}
			snapshot = fresh
		} else {
			evaluated = append(evaluated, id)
		}

		c.Observe(snapshot)
		a := c.Decide(s.policy)
		if a.Kind == entity.ActionSwitch && s.interactsWithAny(id, switched) {
			log.Debugf("junction %d: defer switch at %.1f, neighbor already switched", id, now)
			a = entity.Hold()
		}
		if a.Kind == entity.ActionOffset {
			s.deferSwitch(id, a, now)
		}
		if err := c.Apply(ctx, a); err != nil {
			s.fail(id, now, err)
			a = entity.Hold()
		} else if a.Kind == entity.ActionSwitch {
			switched = append(switched, id)
		}
		if r := s.ctx.Recorder(); r != nil {
			r.Record(id, snapshot, a, time.Now())
		}
	}
}

// read 读取快照，超时转换为*entity.SnapshotTimeout
func (s *CoordinationScheduler) read(ctx context.Context, id int32) (*entity.Snapshot, error) {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	snapshot, err := s.ctx.Session().ReadState(rctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrSnapshotTimeout) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, &entity.SnapshotTimeout{JunctionID: id, After: s.timeout.Seconds()}
		}
		return nil, fmt.Errorf("junction %d: read state: %w", id, err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("junction %d: read state: empty snapshot", id)
	}
	return snapshot, nil
}

func (s *CoordinationScheduler) deferSwitch(from int32, a entity.Action, now float64) {
	target, ok := s.data[a.JunctionID]
	if !ok {
		log.Warnf("junction %d: offset targets unknown junction %d", from, a.JunctionID)
		return
	}
	target.controller.DeferSwitch(now + a.Seconds)
}

// fail 记录单个路口在本tick内的错误
func (s *CoordinationScheduler) fail(id int32, now float64, err error) {
	log.WithFields(logrus.Fields{
		"junction": id,
		"t":        now,
		"kind":     entity.ErrorKind(err),
	}).Warnf("%v", err)
	if r := s.ctx.Recorder(); r != nil {
		r.RecordError(id, now, err)
	}
}
