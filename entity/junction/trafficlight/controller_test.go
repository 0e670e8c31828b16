package trafficlight_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/randengine"
)

var defaultTiming = config.Timing{MinGreen: 10, MaxGreen: 60, Yellow: 3}

// step 模拟一个tick：簿记、写入挂起指令、观测、决策、执行
func step(t *testing.T, c *trafficlight.Controller, policy entity.IPolicy, now float64) entity.Action {
	ctx := context.Background()
	c.AdvanceTo(now)
	require.NoError(t, c.Flush(ctx))
	c.Observe(snapshotAt(now, nil))
	a := c.Decide(policy)
	require.NoError(t, c.Apply(ctx, a))
	return a
}

func TestInitialState(t *testing.T) {
	session := &fakeSession{}
	c := trafficlight.NewController(newContext(defaultTiming, session), 1, twoPhases)
	s := c.State()
	assert.Equal(t, int32(0), s.PhaseIndex)
	assert.Equal(t, 0., s.Elapsed)
	assert.False(t, s.InClearance)
	assert.Equal(t, int32(2), s.NumPhases)

	require.NoError(t, c.Flush(context.Background()))
	require.Len(t, session.writes, 1)
	assert.Equal(t, entity.PhaseCommand{Phase: 0, Stage: entity.StageGreen, Remaining: 60}, session.writes[0].Cmd)
	// 已写入的指令不会重复写入
	require.NoError(t, c.Flush(context.Background()))
	assert.Len(t, session.writes, 1)
}

func TestClearanceCommit(t *testing.T) {
	session := &fakeSession{}
	c := trafficlight.NewController(newContext(defaultTiming, session), 1, twoPhases)

	for now := 0.; now < 10; now++ {
		assert.Equal(t, entity.Hold(), step(t, c, alwaysSwitch(), now))
	}
	assert.Equal(t, entity.SwitchTo(1), step(t, c, alwaysSwitch(), 10))
	s := c.State()
	assert.True(t, s.InClearance)
	assert.True(t, s.PendingSwitch)
	assert.Equal(t, int32(1), s.NextPhase)
	assert.Equal(t, 3., s.ClearanceRemaining)

	for now := 11.; now < 13; now++ {
		assert.Equal(t, entity.Hold(), step(t, c, alwaysSwitch(), now))
		assert.Equal(t, int32(0), c.State().PhaseIndex)
		assert.Equal(t, now, c.State().Elapsed)
	}
	step(t, c, alwaysSwitch(), 13)
	s = c.State()
	assert.False(t, s.InClearance)
	assert.Equal(t, int32(1), s.PhaseIndex)
	assert.Equal(t, 0., s.Elapsed)

	cmds := make([]entity.PhaseCommand, 0)
	for _, w := range session.writes {
		cmds = append(cmds, w.Cmd)
	}
	assert.Equal(t, []entity.PhaseCommand{
		{Phase: 0, Stage: entity.StageGreen, Remaining: 60},
		{Phase: 0, Stage: entity.StageClearance, Remaining: 3},
		{Phase: 1, Stage: entity.StageGreen, Remaining: 60},
	}, cmds)
}

func TestElapsedMonotonicUntilCommit(t *testing.T) {
	c := trafficlight.NewController(newContext(defaultTiming, &fakeSession{}), 1, twoPhases)
	prevPhase, prevElapsed := int32(0), 0.
	commits := 0
	for now := 0.; now <= 200; now += 0.5 {
		step(t, c, alwaysSwitch(), now)
		s := c.State()
		assert.GreaterOrEqual(t, s.Elapsed, 0.)
		if s.PhaseIndex != prevPhase {
			commits++
			assert.Less(t, s.Elapsed, 0.5+1e-9)
		} else {
			assert.GreaterOrEqual(t, s.Elapsed, prevElapsed)
		}
		prevPhase, prevElapsed = s.PhaseIndex, s.Elapsed
	}
	assert.Greater(t, commits, 10)
}

// randomActions 用随机动作序列驱动控制器，返回写入记录
func randomActions(t *testing.T, seed uint64, check func(before, after entity.ControllerState, now float64)) []writeRecord {
	session := &fakeSession{}
	c := trafficlight.NewController(newContext(defaultTiming, session), 1, twoPhases)
	r := randengine.New(seed)
	ctx := context.Background()
	for now := 0.; now <= 600; now++ {
		c.AdvanceTo(now)
		require.NoError(t, c.Flush(ctx))
		var a entity.Action
		switch r.Intn(4) {
		case 0:
			a = entity.Hold()
		case 1:
			a = entity.Extend(float64(r.Intn(20)))
		case 2:
			a = entity.SwitchTo(int32(r.Intn(3)))
		case 3:
			a = entity.Offset(1, float64(r.Intn(10)))
		}
		before := c.State()
		require.NoError(t, c.Apply(ctx, a))
		if check != nil {
			check(before, c.State(), now)
		}
	}
	return session.writes
}

func TestNoSwitchBeforeMinGreen(t *testing.T) {
	switches := 0
	for seed := uint64(0); seed < 20; seed++ {
		randomActions(t, seed, func(before, after entity.ControllerState, now float64) {
			if after.InClearance && !before.InClearance {
				switches++
				assert.GreaterOrEqual(t, before.Elapsed, before.MinGreen)
			}
		})
	}
	assert.Greater(t, switches, 0)
}

func TestDeterminism(t *testing.T) {
	a := randomActions(t, 42, nil)
	b := randomActions(t, 42, nil)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestForcedSwitchAtMaxGreen(t *testing.T) {
	c := trafficlight.NewController(newContext(defaultTiming, &fakeSession{}), 1, twoPhases)
	switchedAt := -1.
	for now := 0.; now <= 70; now++ {
		a := step(t, c, alwaysHold(), now)
		if a.Kind == entity.ActionSwitch {
			switchedAt = now
			assert.Equal(t, int32(1), a.PhaseIndex)
			break
		}
		assert.Equal(t, now >= 60, c.MustSwitch())
	}
	assert.Equal(t, 60., switchedAt)
}

func TestObserveIdempotent(t *testing.T) {
	c := trafficlight.NewController(newContext(defaultTiming, &fakeSession{}), 1, twoPhases)
	snap := snapshotAt(12, map[string]int32{"east": 4})
	c.Observe(snap)
	first := c.State()
	c.Observe(snap)
	assert.Equal(t, first, c.State())
	assert.Equal(t, snap, c.Snapshot())

	// 其他路口的快照被忽略
	other := snapshotAt(20, nil)
	other.JunctionID = 2
	c.Observe(other)
	assert.Equal(t, first, c.State())
	assert.Equal(t, snap, c.Snapshot())

	// 时间不回退
	c.AdvanceTo(5)
	assert.Equal(t, 12., c.State().Elapsed)
}

func TestActuationRetry(t *testing.T) {
	session := &fakeSession{failNext: 1}
	c := trafficlight.NewController(newContext(defaultTiming, session), 1, twoPhases)
	c.AdvanceTo(10)
	require.NoError(t, c.Apply(context.Background(), entity.SwitchTo(1)))
	assert.Equal(t, 2, session.calls)
	assert.True(t, c.State().InClearance)
}

func TestActuationFailure(t *testing.T) {
	session := &fakeSession{failAlways: true}
	c := trafficlight.NewController(newContext(defaultTiming, session), 1, twoPhases)
	c.AdvanceTo(10)
	err := c.Apply(context.Background(), entity.SwitchTo(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrActuation)
	assert.ErrorIs(t, err, errWrite)
	var af *entity.ActuationFailure
	require.True(t, errors.As(err, &af))
	assert.Equal(t, int32(1), af.JunctionID)
	assert.Equal(t, 2, session.calls)

	// 状态不前进
	s := c.State()
	assert.False(t, s.InClearance)
	assert.Equal(t, int32(0), s.PhaseIndex)

	// 挂起的绿灯指令在写入失败后保留
	assert.Error(t, c.Flush(context.Background()))
	session.failAlways = false
	assert.NoError(t, c.Flush(context.Background()))
	assert.Len(t, session.writes, 1)
}

func TestExtendGreen(t *testing.T) {
	session := &fakeSession{}
	c := trafficlight.NewController(newContext(defaultTiming, session), 1, twoPhases)
	ctx := context.Background()

	c.AdvanceTo(10)
	require.NoError(t, c.Apply(ctx, entity.Extend(5)))
	assert.Equal(t, 15., c.State().HoldUntil)
	assert.Equal(t, entity.PhaseCommand{Phase: 0, Stage: entity.StageGreen, Remaining: 5}, session.writes[0].Cmd)

	// 延长只改写仿真中的剩余时间，之后的切换不受其约束
	c.AdvanceTo(12)
	c.Observe(snapshotAt(12, nil))
	assert.Equal(t, entity.SwitchTo(1), c.Decide(alwaysSwitch()))
	require.NoError(t, c.Apply(ctx, entity.SwitchTo(1)))
	s := c.State()
	assert.True(t, s.InClearance)
	assert.Equal(t, 0., s.HoldUntil)
	require.Len(t, session.writes, 2)
	assert.Equal(t, entity.PhaseCommand{Phase: 0, Stage: entity.StageClearance, Remaining: 3}, session.writes[1].Cmd)
}

func TestExtendBeforeMinGreen(t *testing.T) {
	c := trafficlight.NewController(newContext(defaultTiming, &fakeSession{}), 1, twoPhases)
	ctx := context.Background()
	c.AdvanceTo(2)
	require.NoError(t, c.Apply(ctx, entity.Extend(20)))
	// 最小绿灯仍然生效
	c.AdvanceTo(9)
	require.NoError(t, c.Apply(ctx, entity.SwitchTo(1)))
	assert.False(t, c.State().InClearance)
	c.AdvanceTo(10)
	require.NoError(t, c.Apply(ctx, entity.SwitchTo(1)))
	assert.True(t, c.State().InClearance)
}

func TestExtendClampedToMaxGreen(t *testing.T) {
	session := &fakeSession{}
	c := trafficlight.NewController(newContext(defaultTiming, session), 1, twoPhases)
	c.AdvanceTo(58)
	require.NoError(t, c.Apply(context.Background(), entity.Extend(5)))
	assert.Equal(t, 60., c.State().HoldUntil)
	assert.InDelta(t, 2., session.writes[0].Cmd.Remaining, 1e-9)

	// 最大绿灯时强制切换不受延长影响
	c.AdvanceTo(60)
	c.Observe(snapshotAt(60, nil))
	assert.Equal(t, entity.SwitchTo(1), c.Decide(alwaysHold()))
}

func TestDeferSwitch(t *testing.T) {
	c := trafficlight.NewController(newContext(defaultTiming, &fakeSession{}), 1, twoPhases)
	ctx := context.Background()
	c.DeferSwitch(20)
	c.AdvanceTo(15)
	require.NoError(t, c.Apply(ctx, entity.SwitchTo(1)))
	assert.False(t, c.State().InClearance)
	c.AdvanceTo(20)
	require.NoError(t, c.Apply(ctx, entity.SwitchTo(1)))
	assert.True(t, c.State().InClearance)
}

func TestZeroYellowCommitsImmediately(t *testing.T) {
	session := &fakeSession{}
	c := trafficlight.NewController(newContext(config.Timing{MinGreen: 10, MaxGreen: 60}, session), 1, twoPhases)
	c.AdvanceTo(10)
	require.NoError(t, c.Apply(context.Background(), entity.SwitchTo(1)))
	s := c.State()
	assert.False(t, s.InClearance)
	assert.Equal(t, int32(1), s.PhaseIndex)
	require.Len(t, session.writes, 2)
	assert.Equal(t, entity.StageClearance, session.writes[0].Cmd.Stage)
	assert.Equal(t, entity.PhaseCommand{Phase: 1, Stage: entity.StageGreen, Remaining: 60}, session.writes[1].Cmd)
}

func TestInvalidSwitchTarget(t *testing.T) {
	c := trafficlight.NewController(newContext(defaultTiming, &fakeSession{}), 1, twoPhases)
	c.AdvanceTo(20)
	c.Observe(snapshotAt(20, nil))
	for _, target := range []int32{-1, 0, 2} {
		a := c.Decide(entity.PolicyFunc(func(*entity.Snapshot, entity.ControllerState) entity.Action {
			return entity.SwitchTo(target)
		}))
		assert.Equal(t, entity.Hold(), a)
	}
}
