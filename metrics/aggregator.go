// 指标汇总：记录每个路口每个tick的快照与动作，计算平均等待、通行量与效率评分
// 聚合器由控制循环写入、由看板读取，是唯一跨goroutine共享的可变对象
package metrics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// 拥堵等级阈值：平均排队（辆）与平均等待（秒）
const (
	lowQueue    = 5.
	lowWait     = 10.
	mediumQueue = 15.
	mediumWait  = 30.
)

const (
	CongestionLow    = "Low"
	CongestionMedium = "Medium"
	CongestionHigh   = "High"
)

// junctionStats 单个路口的累计统计
type junctionStats struct {
	ticks             int
	switches          int
	extends           int
	actuationFailures int
	snapshotTimeouts  int
	otherErrors       int

	lastT      float64 // 上一次记录的仿真时间
	hasLast    bool
	throughput float64 // 通过车辆数（流率对仿真时间积分）
	queueSum   float64 // 排队长度之和
	maxQueue   int32
}

// Summary 指标汇总
type Summary struct {
	Episode string `json:"episode" bson:"episode"`
	Policy  string `json:"policy" bson:"policy"`
	Ticks   int    `json:"ticks" bson:"ticks"` // 记录的路口-tick数

	AverageWait  float64 `json:"average_wait" bson:"average_wait"`   // 每辆观测车辆的平均等待时间（秒）
	Throughput   float64 `json:"throughput" bson:"throughput"`       // 总通过车辆数
	AverageQueue float64 `json:"average_queue" bson:"average_queue"` // 每路口每tick的平均排队
	MaxQueue     int32   `json:"max_queue" bson:"max_queue"`
	Congestion   string  `json:"congestion" bson:"congestion"`

	BaselineWait          float64 `json:"baseline_wait" bson:"baseline_wait"`
	BaselineThroughput    float64 `json:"baseline_throughput" bson:"baseline_throughput"`
	Efficiency            float64 `json:"efficiency" bson:"efficiency"`                         // clamp(1 - 平均等待/基线等待, 0, 1)
	WaitImprovement       float64 `json:"wait_improvement" bson:"wait_improvement"`             // 等待时间相对基线的降低百分比
	ThroughputImprovement float64 `json:"throughput_improvement" bson:"throughput_improvement"` // 通行量相对基线的提升百分比

	Switches          map[int32]int `json:"switches" bson:"-"`
	Extends           map[int32]int `json:"extends" bson:"-"`
	ActuationFailures map[int32]int `json:"actuation_failures" bson:"-"`
	SnapshotTimeouts  map[int32]int `json:"snapshot_timeouts" bson:"-"`
	Errors            map[int32]int `json:"errors" bson:"-"`

	SimTime float64   `json:"sim_time" bson:"sim_time"`
	Wall    time.Time `json:"wall" bson:"wall"`
}

// TotalSwitches 所有路口的切换次数之和
func (s Summary) TotalSwitches() int {
	return lo.Sum(lo.Values(s.Switches))
}

// Aggregator 指标聚合器
// 功能：实现entity.IRecorder，累计每个路口的等待、排队、通行量与切换次数
// 说明：读写锁保护，Record/RecordError由控制循环调用，Summary/Flat可由其他goroutine调用
type Aggregator struct {
	mtx sync.RWMutex

	episode string
	policy  string

	stats    map[int32]*junctionStats
	waiting  float64 // 所有记录的等待时间之和
	vehicles int64   // 所有记录的车辆数之和
	simTime  float64
	wall     time.Time

	baselineWait       float64
	baselineThroughput float64

	sinks []ISink
}

// NewAggregator 创建指标聚合器
// 参数：policy-策略名称（写入汇总），sinks-汇总结果输出
func NewAggregator(policy string, sinks ...ISink) *Aggregator {
	return &Aggregator{
		episode: uuid.NewString(),
		policy:  policy,
		stats:   make(map[int32]*junctionStats),
		sinks:   sinks,
	}
}

// Episode 本次运行的唯一标识
func (a *Aggregator) Episode() string {
	return a.episode
}

func (a *Aggregator) get(id int32) *junctionStats {
	s, ok := a.stats[id]
	if !ok {
		s = &junctionStats{}
		a.stats[id] = s
	}
	return s
}

// Record 记录路口在一个tick内的快照与最终动作
// 算法说明：
// 1. 等待时间与车辆数累加到全局，平均等待 = 总等待 / 总车辆
// 2. 通行量 = 流率(辆/小时) / 3600 × 与上一次记录的仿真时间间隔
// 3. 切换与延长按动作类型计数
func (a *Aggregator) Record(junctionID int32, snapshot *entity.Snapshot, action entity.Action, wall time.Time) {
	if snapshot == nil {
		return
	}
	a.mtx.Lock()
	defer a.mtx.Unlock()
	s := a.get(junctionID)
	s.ticks++
	if s.hasLast && snapshot.T > s.lastT {
		s.throughput += snapshot.TotalFlow() / 3600 * (snapshot.T - s.lastT)
	}
	s.lastT, s.hasLast = snapshot.T, true
	q := snapshot.TotalQueue()
	s.queueSum += float64(q)
	s.maxQueue = max(s.maxQueue, q)
	switch action.Kind {
	case entity.ActionSwitch:
		s.switches++
	case entity.ActionExtend:
		s.extends++
	}
	a.waiting += snapshot.TotalWaiting()
	a.vehicles += int64(snapshot.TotalVehicles())
	a.simTime = max(a.simTime, snapshot.T)
	a.wall = wall
}

// RecordError 记录路口在一个tick内的错误
func (a *Aggregator) RecordError(junctionID int32, t float64, err error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	s := a.get(junctionID)
	switch {
	case errors.Is(err, entity.ErrActuation):
		s.actuationFailures++
	case errors.Is(err, entity.ErrSnapshotTimeout):
		s.snapshotTimeouts++
	default:
		s.otherErrors++
	}
	a.simTime = max(a.simTime, t)
}

// SetBaseline 设置定时控制基线
// 参数：wait-基线平均等待时间（秒），throughput-基线总通行量（0表示未知）
func (a *Aggregator) SetBaseline(wait, throughput float64) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.baselineWait = wait
	a.baselineThroughput = throughput
}

// Summary 计算指标汇总
func (a *Aggregator) Summary() Summary {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	res := Summary{
		Episode:            a.episode,
		Policy:             a.policy,
		BaselineWait:       a.baselineWait,
		BaselineThroughput: a.baselineThroughput,
		Switches:           make(map[int32]int, len(a.stats)),
		Extends:            make(map[int32]int, len(a.stats)),
		ActuationFailures:  make(map[int32]int, len(a.stats)),
		SnapshotTimeouts:   make(map[int32]int, len(a.stats)),
		Errors:             make(map[int32]int, len(a.stats)),
		SimTime:            a.simTime,
		Wall:               a.wall,
	}
	queueSum := 0.
	for id, s := range a.stats {
		res.Ticks += s.ticks
		res.Throughput += s.throughput
		res.MaxQueue = max(res.MaxQueue, s.maxQueue)
		queueSum += s.queueSum
		res.Switches[id] = s.switches
		res.Extends[id] = s.extends
		res.ActuationFailures[id] = s.actuationFailures
		res.SnapshotTimeouts[id] = s.snapshotTimeouts
		res.Errors[id] = s.actuationFailures + s.snapshotTimeouts + s.otherErrors
	}
	if a.vehicles > 0 {
		res.AverageWait = a.waiting / float64(a.vehicles)
	}
	if res.Ticks > 0 {
		res.AverageQueue = queueSum / float64(res.Ticks)
	}
	res.Congestion = Congestion(res.AverageQueue, res.AverageWait)
	if a.baselineWait > 0 {
		res.Efficiency = min(max(1-res.AverageWait/a.baselineWait, 0), 1)
		res.WaitImprovement = (a.baselineWait - res.AverageWait) / a.baselineWait * 100
	}
	if a.baselineThroughput > 0 {
		res.ThroughputImprovement = (res.Throughput - a.baselineThroughput) / a.baselineThroughput * 100
	}
	return res
}

// Congestion 拥堵等级
// 说明：平均排队<5且平均等待<10为Low，平均排队<15且平均等待<30为Medium，否则为High
func Congestion(avgQueue, avgWait float64) string {
	switch {
	case avgQueue < lowQueue && avgWait < lowWait:
		return CongestionLow
	case avgQueue < mediumQueue && avgWait < mediumWait:
		return CongestionMedium
	default:
		return CongestionHigh
	}
}

func congestionLevel(c string) float64 {
	switch c {
	case CongestionLow:
		return 0
	case CongestionMedium:
		return 1
	default:
		return 2
	}
}

// Flat 看板使用的扁平指标表（名称->数值）
// 说明：按路口统计的指标以"<名称>.<路口ID>"为键
func (a *Aggregator) Flat() map[string]float64 {
	s := a.Summary()
	res := map[string]float64{
		"ticks":                  float64(s.Ticks),
		"sim_time":               s.SimTime,
		"avg_wait":               s.AverageWait,
		"throughput":             s.Throughput,
		"avg_queue":              s.AverageQueue,
		"max_queue":              float64(s.MaxQueue),
		"congestion":             congestionLevel(s.Congestion),
		"baseline_wait":          s.BaselineWait,
		"efficiency":             s.Efficiency,
		"wait_improvement":       s.WaitImprovement,
		"throughput_improvement": s.ThroughputImprovement,
		"switches":               float64(s.TotalSwitches()),
	}
	for name, m := range map[string]map[int32]int{
		"switches":           s.Switches,
		"extends":            s.Extends,
		"actuation_failures": s.ActuationFailures,
		"snapshot_timeouts":  s.SnapshotTimeouts,
	} {
		for id, v := range m {
			res[fmt.Sprintf("%s.%d", name, id)] = float64(v)
		}
	}
	return res
}

// IDs 已记录的路口ID（升序）
func (a *Aggregator) IDs() []int32 {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	ids := lo.Keys(a.stats)
	slices.Sort(ids)
	return ids
}

// Flush 将汇总写入所有输出
// 返回：所有输出的错误合并
func (a *Aggregator) Flush(ctx context.Context) error {
	s := a.Summary()
	errs := make([]error, 0)
	for _, sink := range a.sinks {
		if err := sink.Write(ctx, s); err != nil {
			log.Errorf("flush summary to %s failed: %v", sink.Name(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
