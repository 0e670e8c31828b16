package junction_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

var errWrite = errors.New("write refused")

// scriptSession 按脚本生成快照的会话
type scriptSession struct {
	mtx sync.Mutex

	now    float64
	queues func(id int32, t float64) map[string]int32

	reads     map[int32]int
	writes    map[int32][]entity.PhaseCommand
	failWrite map[int32]bool
	slowRead  map[int32]bool
}

func newScriptSession(queues func(id int32, t float64) map[string]int32) *scriptSession {
	return &scriptSession{
		queues:    queues,
		reads:     make(map[int32]int),
		writes:    make(map[int32][]entity.PhaseCommand),
		failWrite: make(map[int32]bool),
		slowRead:  make(map[int32]bool),
	}
}

func (s *scriptSession) Advance(ctx context.Context, dt float64) (float64, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.now += dt
	return s.now, nil
}

func (s *scriptSession) ReadState(ctx context.Context, id int32) (*entity.Snapshot, error) {
	s.mtx.Lock()
	s.reads[id]++
	slow := s.slowRead[id]
	now := s.now
	s.mtx.Unlock()
	if slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	snap := &entity.Snapshot{JunctionID: id, T: now}
	var queues map[string]int32
	if s.queues != nil {
		queues = s.queues(id, now)
	}
	for _, name := range []string{"north", "south", "east", "west"} {
		snap.Approaches = append(snap.Approaches, entity.Approach{Name: name, QueueLength: queues[name]})
	}
	return snap, nil
}

func (s *scriptSession) WritePhase(ctx context.Context, id int32, cmd entity.PhaseCommand) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.failWrite[id] {
		return errWrite
	}
	s.writes[id] = append(s.writes[id], cmd)
	return nil
}

func (s *scriptSession) Close() error {
	return nil
}

type tickRecord struct {
	ID     int32
	T      float64
	Action entity.Action
}

type errorRecord struct {
	ID  int32
	T   float64
	Err error
}

// memRecorder 内存记录器
type memRecorder struct {
	records []tickRecord
	errors  []errorRecord
}

func (r *memRecorder) Record(id int32, snapshot *entity.Snapshot, action entity.Action, wall time.Time) {
	r.records = append(r.records, tickRecord{ID: id, T: snapshot.T, Action: action})
}

func (r *memRecorder) RecordError(id int32, t float64, err error) {
	r.errors = append(r.errors, errorRecord{ID: id, T: t, Err: err})
}

// of 某个路口的所有记录
func (r *memRecorder) of(id int32) []tickRecord {
	res := make([]tickRecord, 0)
	for _, rec := range r.records {
		if rec.ID == id {
			res = append(res, rec)
		}
	}
	return res
}

// firstSwitch 某个路口第一次切换的时间，没有切换时返回-1
func (r *memRecorder) firstSwitch(id int32) float64 {
	for _, rec := range r.of(id) {
		if rec.Action.Kind == entity.ActionSwitch {
			return rec.T
		}
	}
	return -1
}

type testContext struct {
	clock    *clock.Clock
	rc       *config.RuntimeConfig
	session  *scriptSession
	recorder *memRecorder
}

func (c *testContext) Clock() *clock.Clock                  { return c.clock }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig { return c.rc }
func (c *testContext) Session() entity.ISession             { return c.session }
func (c *testContext) Recorder() entity.IRecorder           { return c.recorder }

// testIntersection 四个进口道、南北/东西两相位的路口
func testIntersection(id int32, offset float64) config.Intersection {
	return config.Intersection{
		ID:     id,
		Offset: offset,
		Approaches: []config.Approach{
			{Name: "north"}, {Name: "south"}, {Name: "east"}, {Name: "west"},
		},
		Phases: []config.Phase{
			{Name: "ns", Green: []string{"north", "south"}},
			{Name: "ew", Green: []string{"east", "west"}},
		},
	}
}

// newTestContext 构造测试上下文
// 参数：period-决策周期（秒），intersections-路口，links-路口连接
func newTestContext(period float64, session *scriptSession, intersections []config.Intersection, links []config.Link) *testContext {
	rc, err := config.NewRuntimeConfig(config.Config{
		Control:       config.Control{Step: config.ControlStep{Total: 1000, Interval: 1}, DecisionPeriod: period},
		Timing:        config.Timing{MinGreen: 10, MaxGreen: 60, Yellow: 3},
		Session:       config.Session{Timeout: 0.05},
		Intersections: intersections,
		Links:         links,
	})
	if err != nil {
		panic(err)
	}
	return &testContext{
		clock:    clock.New(rc.C.Step),
		rc:       rc,
		session:  session,
		recorder: &memRecorder{},
	}
}

// newScheduler 按配置创建调度器并注册所有路口的控制器
func newScheduler(ctx *testContext, policy entity.IPolicy) *junction.CoordinationScheduler {
	s := junction.NewScheduler(ctx, policy)
	if err := junction.RegisterAll(ctx, s); err != nil {
		panic(err)
	}
	return s
}

// run 从from到to（含）逐秒驱动调度器
func run(ctx *testContext, s *junction.CoordinationScheduler, from, to float64, each func(now float64)) {
	for now := from; now <= to; now++ {
		ctx.session.now = now
		s.Tick(context.Background(), now)
		if each != nil {
			each(now)
		}
	}
}

func alwaysHold() entity.IPolicy {
	return entity.PolicyFunc(func(*entity.Snapshot, entity.ControllerState) entity.Action {
		return entity.Hold()
	})
}

func alwaysSwitch() entity.IPolicy {
	return entity.PolicyFunc(func(_ *entity.Snapshot, s entity.ControllerState) entity.Action {
		return entity.SwitchTo(s.NextInOrder())
	})
}

var _ entity.IController = (*trafficlight.Controller)(nil)
