package clock_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

func TestClockStep(t *testing.T) {
	c := clock.New(config.ControlStep{Start: 10, Total: 3, Interval: 2})
	assert.Equal(t, 20., c.T)
	assert.False(t, c.Done())
	c.Step()
	c.Step()
	assert.Equal(t, 24., c.Step())
	assert.True(t, c.Done())
	assert.Equal(t, "00:00:24", c.String())
}

func TestClockAdvance(t *testing.T) {
	c := clock.New(config.ControlStep{Total: 10, Interval: 1})
	c.Advance(3661.5)
	h, m, s := c.GetHourMinuteSecond()
	assert.Equal(t, 1, h)
	assert.Equal(t, 1, m)
	assert.InDelta(t, 1.5, s, 1e-9)
	assert.Equal(t, int32(3661), c.InternalStep)
}

func TestClockNowRPC(t *testing.T) {
	c := clock.New(config.ControlStep{Total: 10, Interval: 1})
	c.Step()
	mux := http.NewServeMux()
	c.Mount(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	client := clockv1connect.NewClockServiceClient(server.Client(), server.URL)
	res, err := client.Now(context.Background(), connect.NewRequest(&clockv1.NowRequest{}))
	require.NoError(t, err)
	assert.Equal(t, 1., res.Msg.T)
}
