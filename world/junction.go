package world

import (
	"flag"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/container"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/randengine"
)

var (
	flowAlpha = flag.Float64("world.flow_alpha", 0.3, "进口道流率的指数平滑系数")
)

// vehicleList 车辆链表，键值为时间，值为车辆ID
type vehicleList = container.List[int64, struct{}]
type vehicleNode = container.ListNode[int64, struct{}]

// departure 驶离路口的车辆
type departure struct {
	vehicle  int64
	approach string
	t        float64
}

// delivery 经连接到达下游路口的车辆
type delivery struct {
	to       int32
	approach string
	node     *vehicleNode
}

// approach 进口道
// 说明：车辆生成后先进入在途链表，到达停车线后进入排队链表，绿灯时按饱和流率驶离
type approach struct {
	name        string
	arrivalRate float64 // 辆/小时

	inflight vehicleList // 在途车辆，键值为到达停车线的时间
	queue    vehicleList // 排队车辆，键值为进入排队的时间

	carry float64 // 不足一辆的放行能力
	flow  float64 // 平滑后的驶离流率（辆/小时）
}

// junction 本地仿真中的路口
type junction struct {
	id         int32
	approaches []*approach
	byName     map[string]*approach
	signal     *signal

	generator   *randengine.Engine
	nextVehicle int64

	departures []departure // 本步驶离的车辆
}

func newJunction(in config.Intersection, timing config.Timing, seed uint64) *junction {
	j := &junction{
		id:         in.ID,
		approaches: make([]*approach, 0, len(in.Approaches)),
		byName:     make(map[string]*approach, len(in.Approaches)),
		generator:  randengine.New(seed + uint64(in.ID)),
		departures: make([]departure, 0),
	}
	for _, a := range in.Approaches {
		ap := &approach{
			name:        a.Name,
			arrivalRate: a.ArrivalRate,
			inflight:    vehicleList{ID: a.Name + ".inflight"},
			queue:       vehicleList{ID: a.Name + ".queue"},
		}
		j.approaches = append(j.approaches, ap)
		j.byName[a.Name] = ap
	}
	names := lo.Map(j.approaches, func(a *approach, _ int) string { return a.name })
	j.signal = newSignal(in.ID, names, newProgram(in.ID, names, entity.NewPhases(in.Phases), timing))
	return j
}

func (j *junction) newVehicle() int64 {
	j.nextVehicle++
	return int64(j.id)<<32 | j.nextVehicle
}

// update 推进路口一步
// 参数：t-本步开始时间，dt-步长，travelTime-生成车辆到达停车线的时间，saturation-饱和流率（辆/小时）
// 算法说明：
// 1. 按泊松分布生成到达车辆，经travelTime后到达停车线
// 2. 到达停车线的在途车辆进入排队
// 3. 绿灯进口道按饱和流率放行排队车辆，不足一辆的放行能力累积到下一步，红灯或黄灯时清零
// 4. 驶离流率按指数平滑更新
func (j *junction) update(t, dt, travelTime, saturation float64) {
	j.departures = j.departures[:0]
	end := t + dt
	for i, a := range j.approaches {
		if n := j.generator.Poisson(a.arrivalRate / 3600 * dt); n > 0 {
			arrivals := make([]*vehicleNode, n)
			for k := range arrivals {
				arrivals[k] = &vehicleNode{S: end + travelTime, Value: j.newVehicle()}
			}
			a.inflight.Merge(arrivals)
		}
		for _, node := range a.inflight.PopUntil(end) {
			node.S = max(node.S, t)
			a.queue.PushBack(node)
		}
		departed := 0
		if j.signal.state(i) == mapv2.LightState_LIGHT_STATE_GREEN {
			a.carry += saturation / 3600 * dt
			for a.carry >= 1 && a.queue.Len() > 0 {
				node := a.queue.PopFront()
				j.departures = append(j.departures, departure{vehicle: node.Value, approach: a.name, t: end})
				a.carry--
				departed++
			}
			if a.queue.Len() == 0 {
				a.carry = min(a.carry, 1)
			}
		} else {
			a.carry = 0
		}
		a.flow = *flowAlpha*float64(departed)/dt*3600 + (1-*flowAlpha)*a.flow
	}
	j.signal.update(dt)
}

// route 为驶离车辆选择下游连接
// 参数：links-进口道->从该进口道驶出的连接
// 返回：需要投递到下游路口的车辆
func (j *junction) route(links map[string][]config.Link) []delivery {
	res := make([]delivery, 0)
	for _, d := range j.departures {
		for _, l := range links[d.approach] {
			if j.generator.PTrue(l.Ratio) {
				res = append(res, delivery{
					to:       l.To,
					approach: l.ToApproach,
					node:     &vehicleNode{S: d.t + l.TravelTime, Value: d.vehicle},
				})
				break
			}
		}
	}
	return res
}

// snapshot 路口在t时刻的快照
func (j *junction) snapshot(t float64) *entity.Snapshot {
	s := &entity.Snapshot{
		JunctionID: j.id,
		T:          t,
		PhaseIndex: j.signal.snapshot.step / 2,
		Elapsed:    j.signal.elapsed(),
		Approaches: make([]entity.Approach, 0, len(j.approaches)),
	}
	for _, a := range j.approaches {
		waiting := 0.
		for _, enter := range a.queue.Keys() {
			waiting += max(0, t-enter)
		}
		s.Approaches = append(s.Approaches, entity.Approach{
			Name:         a.name,
			QueueLength:  int32(a.queue.Len()),
			WaitingTime:  waiting,
			FlowRate:     a.flow,
			VehicleCount: int32(a.queue.Len() + a.inflight.Len()),
		})
	}
	return s
}
