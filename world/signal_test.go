package world

import (
	"testing"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

var (
	testApproaches = []string{"north", "south", "east", "west"}
	testPhases     = []entity.Phase{
		{Name: "ns", Green: []string{"north", "south"}},
		{Name: "ew", Green: []string{"east", "west"}},
	}
)

const (
	G = mapv2.LightState_LIGHT_STATE_GREEN
	Y = mapv2.LightState_LIGHT_STATE_YELLOW
	R = mapv2.LightState_LIGHT_STATE_RED
)

func testSignal(timing config.Timing) *signal {
	return newSignal(1, testApproaches, newProgram(1, testApproaches, testPhases, timing))
}

func TestNewProgram(t *testing.T) {
	tl := newProgram(1, testApproaches, testPhases, config.Timing{MinGreen: 10, MaxGreen: 60, Yellow: 3})
	require.Len(t, tl.Phases, 4)
	assert.Equal(t, int32(1), tl.JunctionId)
	assert.Equal(t, []mapv2.LightState{G, G, R, R}, tl.Phases[0].States)
	assert.Equal(t, []mapv2.LightState{Y, Y, R, R}, tl.Phases[1].States)
	assert.Equal(t, []mapv2.LightState{R, R, G, G}, tl.Phases[2].States)
	assert.Equal(t, []mapv2.LightState{R, R, Y, Y}, tl.Phases[3].States)
	assert.Equal(t, 60., tl.Phases[0].Duration)
	assert.Equal(t, 3., tl.Phases[1].Duration)
}

func TestGreenHolds(t *testing.T) {
	s := testSignal(config.Timing{MinGreen: 10, MaxGreen: 60, Yellow: 3})
	require.NoError(t, s.setPhase(0, 5))
	s.prepare()
	for range 10 {
		s.update(1)
		s.prepare()
	}
	assert.Equal(t, int32(0), s.snapshot.step)
	assert.Equal(t, 0., s.remaining())
	assert.Equal(t, G, s.state(0))
	assert.Equal(t, R, s.state(2))
}

func TestYellowAdvances(t *testing.T) {
	s := testSignal(config.Timing{MinGreen: 10, MaxGreen: 60, Yellow: 3})
	require.NoError(t, s.setPhase(1, 3))
	s.prepare()
	assert.Equal(t, Y, s.state(0))
	for range 2 {
		s.update(1)
	}
	assert.Equal(t, int32(1), s.runtime.step)
	s.update(1)
	assert.Equal(t, int32(2), s.runtime.step)
	assert.Equal(t, 60., s.runtime.remainingT)

	// 最后一个相位的黄灯之后回到相位0
	require.NoError(t, s.setPhase(3, 1))
	s.prepare()
	s.update(1)
	assert.Equal(t, int32(0), s.runtime.step)
}

func TestZeroYellowSkipped(t *testing.T) {
	s := testSignal(config.Timing{MinGreen: 10, MaxGreen: 60})
	require.NoError(t, s.setPhase(1, 0))
	s.prepare()
	s.update(1)
	s.prepare()
	assert.Equal(t, int32(2), s.snapshot.step)
	assert.Equal(t, 60., s.remaining())
	assert.Equal(t, 0., s.elapsed())
}

func TestSignalStatus(t *testing.T) {
	s := testSignal(config.Timing{MinGreen: 10, MaxGreen: 60, Yellow: 3})
	s.setOk(false)
	s.prepare()
	for i := range testApproaches {
		assert.Equal(t, G, s.state(i))
	}
	assert.Equal(t, mathutil.INF, s.remaining())
	// 失效时不计时
	s.update(100)
	assert.Equal(t, 60., s.runtime.remainingT)

	s.setOk(true)
	s.prepare()
	assert.Equal(t, R, s.state(2))
}

func TestSignalWrites(t *testing.T) {
	s := testSignal(config.Timing{MinGreen: 10, MaxGreen: 60, Yellow: 3})
	assert.Error(t, s.setPhase(4, 1))
	assert.Error(t, s.setPhase(-1, 1))
	assert.Error(t, s.setPhase(0, -1))

	other := newProgram(2, testApproaches, testPhases, config.Timing{MaxGreen: 30})
	assert.Error(t, s.set(other))
	assert.Error(t, s.set(&mapv2.TrafficLight{JunctionId: 1}))
	assert.Error(t, s.set(&mapv2.TrafficLight{JunctionId: 1, Phases: []*mapv2.Phase{{Duration: 1, States: []mapv2.LightState{G}}}}))

	s.unset()
	s.prepare()
	assert.Nil(t, s.snapshot.tl)
	assert.Equal(t, G, s.state(3))
	assert.Error(t, s.setPhase(0, 1))

	require.NoError(t, s.set(newProgram(1, testApproaches, testPhases, config.Timing{MaxGreen: 30, Yellow: 2})))
	s.prepare()
	assert.Equal(t, 30., s.remaining())
}
