package task

import (
	"context"
	"flag"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	SelfName = "signal" // 本程序在模拟任务集群中的名字
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
	flushTimeout      = flag.Float64("metrics.flush_timeout", 10, "退出时写入指标汇总的超时（秒）")
)

// step 执行一个控制步
// 算法说明：
// 1. 调度器在当前时间执行一个协调周期（读取快照、决策、写入）
// 2. 仿真推进一个步长
// 3. 时钟前进一步，与仿真返回的时间不一致时对齐到仿真时间
// 4. 心跳日志
func (t *Context) step(ctx context.Context) error {
	now := t.clock.T
	t.scheduler.Tick(ctx, now)
	simT, err := t.session.Advance(ctx, t.clock.DT)
	if err != nil {
		return fmt.Errorf("advance at t=%.1f: %w", now, err)
	}
	t.clock.Step()
	if math.Abs(simT-t.clock.T) > 1e-6 {
		log.Debugf("sync clock %.3f to simulation time %.3f", t.clock.T, simT)
		t.clock.Sync(simT)
	}
	if t.clock.InternalStep%int32(*heartBeatInterval) == 0 {
		s := t.aggregator.Summary()
		log.Infof(
			"STEP: %d(%s) avg wait %.2f s, avg queue %.2f, switches %d",
			t.clock.InternalStep, t.clock.String(),
			s.AverageWait, s.AverageQueue, s.TotalSwitches(),
		)
	}
	return nil
}

// dashboardURL 看板存活检查地址
func dashboardURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "localhost" + listen
	}
	return "http://" + listen + "/healthz"
}

// Run 运行控制循环
// 功能：从起始步运行到结束步，或直到收到停止指令
// 返回：仿真推进失败时返回错误，停止与ctx结束不视为错误
// 算法说明：
// 1. 按需启动看板
// 2. 每个tick开始时检查停止标志与ctx，设置后完成排空退出
// 3. 执行控制步，按配置的节奏等待墙钟时间
// 4. 退出时写入指标汇总并关闭会话
// 说明：控制步使用不随ctx取消的上下文，tick进行中收到停止信号时仍完成该tick
func (t *Context) Run(ctx context.Context) (err error) {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if t.dashboard != nil {
		listen := t.runtimeConfig.All.Dashboard.Listen
		go func() {
			if err := t.dashboard.Serve(dctx, listen); err != nil {
				log.Errorf("dashboard: %v", err)
			}
		}()
		if err := waitForServerReady(dashboardURL(listen), 10, 100*time.Millisecond); err != nil {
			log.Warnf("dashboard: %v", err)
		}
	}
	defer t.drain()

	stepCtx := context.WithoutCancel(ctx)
	pace := time.Duration(t.runtimeConfig.C.Pace * float64(time.Second))
	log.Infof("control loop start at %s, %d intersections, policy %s",
		t.clock.String(), len(t.scheduler.IDs()), t.runtimeConfig.All.Policy.Name)
	for !t.clock.Done() {
		if t.closed.Load() || t.scheduler.Stopped() || ctx.Err() != nil {
			log.Infof("stop at %s", t.clock.String())
			break
		}
		if err := t.step(stepCtx); err != nil {
			return err
		}
		if pace > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(pace):
			}
		}
	}
	log.Infof("control loop complete")
	return nil
}

// drain 写入指标汇总并释放资源
func (t *Context) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*flushTimeout*float64(time.Second)))
	defer cancel()
	if err := t.aggregator.Flush(ctx); err != nil {
		log.Errorf("flush metrics: %v", err)
	}
	t.release()
}
