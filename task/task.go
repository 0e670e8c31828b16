package task

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/dashboard"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction"
	"github.com/tsinghua-fib-lab/agentsociety-signal/metrics"
	"github.com/tsinghua-fib-lab/agentsociety-signal/policy"
	"github.com/tsinghua-fib-lab/agentsociety-signal/session"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/input"
	"github.com/tsinghua-fib-lab/agentsociety-signal/world"
)

// waitForServerReady 等待服务器就绪
// 功能：通过HTTP请求检查服务器是否已经启动并可以响应
// 参数：addr-服务器地址，retryCount-重试次数，interval-重试间隔
// 返回：错误信息，如果服务器就绪则返回nil
func waitForServerReady(addr string, retryCount int, interval time.Duration) error {
	client := &http.Client{
		Timeout: interval,
	}
	for range retryCount {
		resp, err := client.Get(addr)
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("server `%v` did not become ready after %d retries", addr, retryCount)
}

// Context 控制任务上下文
// 功能：包含一次控制任务的所有组件，实现entity.ITaskContext
// 说明：管理时钟、仿真会话、协调调度器、指标聚合器与看板
type Context struct {
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock
	// 运行时配置
	runtimeConfig *config.RuntimeConfig

	// 仿真会话（本地仿真或远程仿真）
	session entity.ISession
	// 本地仿真，使用远程仿真时为nil
	world *world.World

	// 协调调度器
	scheduler *junction.CoordinationScheduler
	// 指标聚合器
	aggregator *metrics.Aggregator
	// MongoDB输出，未配置时为nil
	mongoSink *metrics.MongoSink
	// 看板，未配置监听地址时为nil
	dashboard *dashboard.Server
}

// NewContext 创建控制任务上下文
// 功能：初始化控制系统的所有组件
// 参数：
//   - ctx: 建立会话、加载输入与运行基线使用的上下文
//   - c: 配置对象
//
// 返回：初始化完成的Context实例；配置无效、连接失败、路口不存在或重复注册时返回错误
// 算法说明：
// 1. 补全并校验配置，创建时钟
// 2. 建立仿真会话：未配置远程地址时使用本地仿真，否则连接远程仿真并检查路口
// 3. 加载到达率估计修正进口道容量，创建决策策略
// 4. 创建指标聚合器及其输出，按需运行定时控制基线
// 5. 创建协调调度器并注册所有受控路口
// 6. 按需创建看板
func NewContext(ctx context.Context, c config.Config) (*Context, error) {
	rc, err := config.NewRuntimeConfig(c)
	if err != nil {
		return nil, err
	}
	t := &Context{
		clock:         clock.New(rc.C.Step),
		runtimeConfig: rc,
	}
	ok := false
	defer func() {
		if !ok {
			t.release()
		}
	}()

	// 仿真会话
	if rc.All.Session.Endpoint == "" {
		t.world = world.New(rc)
		t.session = t.world
	} else {
		remote, err := session.Dial(ctx, rc.All.Session)
		if err != nil {
			return nil, err
		}
		t.session = remote
		numPhases := lo.SliceToMap(rc.All.Intersections, func(in config.Intersection) (int32, int) {
			return in.ID, len(in.Phases)
		})
		if err := remote.CheckIntersections(ctx, numPhases); err != nil {
			return nil, err
		}
	}

	// 决策策略
	capacity := policy.NewCapacity(rc)
	seed, err := input.Load(ctx, rc.All.Input)
	if err != nil {
		return nil, err
	}
	if seed != nil {
		if missing := seed.Missing(rc.IntersectionIDs()); len(missing) > 0 {
			log.Warnf("no arrival rate estimate for junctions %v, use configured capacity", missing)
		}
		for _, in := range rc.All.Intersections {
			if rates, ok := seed[in.ID]; ok {
				capacity.Seed(input.Seed{in.ID: rates}, policy.Cycle(rc.TimingOf(in.ID), len(in.Phases)))
			}
		}
	}
	p, err := policy.New(rc.All.Policy, capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	// 指标
	sinks := []metrics.ISink{metrics.LogSink{}}
	if rc.All.Output.URI != "" && rc.All.Output.Summary != nil {
		t.mongoSink = metrics.NewMongoSink(rc.All.Output.URI, *rc.All.Output.Summary)
		sinks = append(sinks, t.mongoSink)
	}
	t.aggregator = metrics.NewAggregator(rc.All.Policy.Name, sinks...)
	switch {
	case rc.All.Metrics.RunBaseline:
		wait, throughput, err := RunBaseline(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("baseline: %w", err)
		}
		t.aggregator.SetBaseline(wait, throughput)
	case rc.All.Metrics.BaselineWait > 0:
		t.aggregator.SetBaseline(rc.All.Metrics.BaselineWait, 0)
	}

	// 协调调度器
	t.scheduler = junction.NewScheduler(t, p)
	if err := junction.RegisterAll(t, t.scheduler); err != nil {
		return nil, err
	}

	if rc.All.Dashboard.Listen != "" {
		t.dashboard = dashboard.New(t.aggregator, time.Duration(rc.All.Dashboard.Interval*float64(time.Second)))
	}
	ok = true
	return t, nil
}

func (t *Context) Clock() *clock.Clock {
	return t.clock
}

func (t *Context) RuntimeConfig() *config.RuntimeConfig {
	return t.runtimeConfig
}

func (t *Context) Session() entity.ISession {
	return t.session
}

func (t *Context) Recorder() entity.IRecorder {
	return t.aggregator
}

func (t *Context) Scheduler() *junction.CoordinationScheduler {
	return t.scheduler
}

func (t *Context) Aggregator() *metrics.Aggregator {
	return t.aggregator
}

// World 本地仿真，使用远程仿真时为nil
func (t *Context) World() *world.World {
	return t.world
}

// Stop 设置停止标志，当前tick结束后退出控制循环
func (t *Context) Stop() {
	t.closed.Store(true)
	if t.scheduler != nil {
		t.scheduler.Stop()
	}
}

// release 关闭会话与输出
func (t *Context) release() {
	if t.session != nil {
		if err := t.session.Close(); err != nil {
			log.Warnf("close session: %v", err)
		}
	}
	if t.mongoSink != nil {
		if err := t.mongoSink.Close(context.Background()); err != nil {
			log.Warnf("close mongo sink: %v", err)
		}
	}
}

// RunBaseline 运行定时控制基线
// 功能：在全新的本地仿真中使用相同的配置与随机种子运行定时控制，得到效率评分的基线
// 返回：基线的平均等待时间与通行量
func RunBaseline(ctx context.Context, c config.Config) (wait, throughput float64, err error) {
	c.Policy.Name = policy.NameFixed
	c.Session = config.Session{}
	c.Dashboard.Listen = ""
	c.Output = config.Output{}
	c.Metrics = config.Metrics{}
	c.Control.Pace = 0
	log.Info("start fixed-time baseline")
	t, err := NewContext(ctx, c)
	if err != nil {
		return 0, 0, err
	}
	if err := t.Run(ctx); err != nil {
		return 0, 0, err
	}
	s := t.aggregator.Summary()
	log.Infof("baseline: avg wait %.2f s, throughput %.1f veh", s.AverageWait, s.Throughput)
	return s.AverageWait, s.Throughput, nil
}
