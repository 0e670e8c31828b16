package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"gopkg.in/yaml.v2"
)

const sample = `
control:
  step:
    start: 0
    total: 600
    interval: 1
  decision_period: 5
timing:
  min_green: 10
  max_green: 60
  yellow: 3
intersections:
  - id: 1
    approaches:
      - name: north
      - name: south
        capacity: 30
      - name: east
      - name: west
    phases:
      - name: ns
        green: [north, south]
      - name: ew
        green: [east, west]
  - id: 2
    offset: 5
    timing:
      min_green: 5
      max_green: 30
      yellow: 2
    approaches:
      - name: north
      - name: east
    phases:
      - green: [north]
      - green: [east]
links:
  - from: 1
    from_approach: east
    to: 2
    to_approach: east
`

func load(t *testing.T, s string) config.Config {
	var c config.Config
	require.NoError(t, yaml.UnmarshalStrict([]byte(s), &c))
	return c
}

func TestNewRuntimeConfigDefaults(t *testing.T) {
	rc, err := config.NewRuntimeConfig(load(t, sample))
	require.NoError(t, err)

	assert.Equal(t, 5., rc.DecisionPeriod())
	assert.Equal(t, "queue_pressure", rc.All.Policy.Name)
	assert.Equal(t, 1.5, rc.All.Policy.SwitchRatio)
	assert.Equal(t, 0.7, rc.All.Policy.ExtendThreshold)
	assert.Equal(t, 5., rc.All.Policy.ExtendSeconds)
	assert.Equal(t, 2., rc.All.Session.Timeout)
	assert.Equal(t, 2., rc.All.Dashboard.Interval)
	assert.Equal(t, []int32{1, 2}, rc.IntersectionIDs())

	in, ok := rc.Intersection(1)
	require.True(t, ok)
	assert.Equal(t, 20., in.Approaches[0].Capacity)
	assert.Equal(t, 30., in.Approaches[1].Capacity)

	assert.Equal(t, config.Timing{MinGreen: 10, MaxGreen: 60, Yellow: 3}, rc.TimingOf(1))
	assert.Equal(t, config.Timing{MinGreen: 5, MaxGreen: 30, Yellow: 2}, rc.TimingOf(2))
	assert.Equal(t, 1., rc.All.Links[0].Ratio)
	assert.Equal(t, 10., rc.All.Links[0].TravelTime)
}

func TestNewRuntimeConfigInvalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"duplicate id", func(c *config.Config) { c.Intersections[1].ID = 1 }},
		{"single phase", func(c *config.Config) { c.Intersections[0].Phases = c.Intersections[0].Phases[:1] }},
		{"unknown approach in phase", func(c *config.Config) { c.Intersections[0].Phases[0].Green = []string{"up"} }},
		{"max below min", func(c *config.Config) { c.Timing.MaxGreen = 5 }},
		{"negative offset", func(c *config.Config) { c.Intersections[1].Offset = -1 }},
		{"link unknown intersection", func(c *config.Config) { c.Links[0].To = 9 }},
		{"link unknown approach", func(c *config.Config) { c.Links[0].ToApproach = "south" }},
		{"no intersection", func(c *config.Config) { c.Intersections = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := load(t, sample)
			tc.mutate(&c)
			_, err := config.NewRuntimeConfig(c)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestUnmarshalStrictRejectsUnknownField(t *testing.T) {
	var c config.Config
	err := yaml.UnmarshalStrict([]byte("control:\n  unknown: 1\n"), &c)
	assert.Error(t, err)
}
