package trafficlight_test

import (
	"context"
	"errors"
	"sync"

	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

var errWrite = errors.New("write refused")

type writeRecord struct {
	JunctionID int32
	Cmd        entity.PhaseCommand
}

// fakeSession 记录写入的会话，可按次数注入写入失败
type fakeSession struct {
	mtx        sync.Mutex
	writes     []writeRecord
	calls      int
	failNext   int
	failAlways bool
}

func (s *fakeSession) Advance(ctx context.Context, dt float64) (float64, error) {
	return 0, nil
}

func (s *fakeSession) ReadState(ctx context.Context, id int32) (*entity.Snapshot, error) {
	return nil, errors.New("not supported")
}

func (s *fakeSession) WritePhase(ctx context.Context, id int32, cmd entity.PhaseCommand) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.calls++
	if s.failAlways || s.failNext > 0 {
		s.failNext--
		return errWrite
	}
	s.writes = append(s.writes, writeRecord{id, cmd})
	return nil
}

func (s *fakeSession) Close() error {
	return nil
}

type testContext struct {
	clock   *clock.Clock
	rc      *config.RuntimeConfig
	session entity.ISession
}

func (c *testContext) Clock() *clock.Clock                  { return c.clock }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig { return c.rc }
func (c *testContext) Session() entity.ISession             { return c.session }
func (c *testContext) Recorder() entity.IRecorder           { return nil }

var twoPhases = []entity.Phase{
	{Name: "ns", Green: []string{"north", "south"}},
	{Name: "ew", Green: []string{"east", "west"}},
}

func newContext(timing config.Timing, session entity.ISession) *testContext {
	rc, err := config.NewRuntimeConfig(config.Config{
		Control: config.Control{Step: config.ControlStep{Total: 1000, Interval: 1}},
		Timing:  timing,
		Intersections: []config.Intersection{{
			ID: 1,
			Approaches: []config.Approach{
				{Name: "north"}, {Name: "south"}, {Name: "east"}, {Name: "west"},
			},
			Phases: []config.Phase{
				{Name: "ns", Green: []string{"north", "south"}},
				{Name: "ew", Green: []string{"east", "west"}},
			},
		}},
	})
	if err != nil {
		panic(err)
	}
	return &testContext{
		clock:   clock.New(rc.C.Step),
		rc:      rc,
		session: session,
	}
}

func snapshotAt(t float64, queues map[string]int32) *entity.Snapshot {
	s := &entity.Snapshot{JunctionID: 1, T: t}
	for _, name := range []string{"north", "south", "east", "west"} {
		s.Approaches = append(s.Approaches, entity.Approach{Name: name, QueueLength: queues[name]})
	}
	return s
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
