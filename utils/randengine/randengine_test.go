package randengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/randengine"
)

func TestPoissonMean(t *testing.T) {
	for _, lambda := range []float64{0.2, 3, 50} {
		e := randengine.New(7)
		sum := 0
		n := 20000
		for range n {
			k := e.Poisson(lambda)
			assert.GreaterOrEqual(t, k, 0)
			sum += k
		}
		assert.InDelta(t, lambda, float64(sum)/float64(n), lambda*0.05+0.02)
	}
	assert.Equal(t, 0, randengine.New(1).Poisson(0))
}

func TestDeterministicSeed(t *testing.T) {
	a, b := randengine.New(42), randengine.New(42)
	for range 100 {
		assert.Equal(t, a.Poisson(2), b.Poisson(2))
	}
}

func TestPTrue(t *testing.T) {
	e := randengine.New(3)
	for range 100 {
		assert.True(t, e.PTrue(1))
		assert.False(t, e.PTrue(0))
	}
}
