// 本地交通世界：路口排队模型
// 实现与远程仿真相同的会话接口，用于独立运行、定时控制基线与测试，也可以通过RPC对外提供服务
package world

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/session"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

type linkKey struct {
	junction int32
	approach string
}

// World 本地交通世界
// 功能：实现entity.ISession，并提供信号程序的读写接口
// 说明：所有接口由互斥锁保护，可被控制循环与RPC同时调用
type World struct {
	mtx sync.Mutex

	clock      *clock.Clock
	junctions  []*junction // 按ID升序
	data       map[int32]*junction
	links      map[int32]map[string][]config.Link // 路口->进口道->驶出连接
	travelTime float64
	saturation float64
}

// New 根据配置创建本地交通世界
// 参数：rc-运行时配置
// 返回：初始化完成的世界，信号程序处于相位0绿灯
func New(rc *config.RuntimeConfig) *World {
	w := &World{
		clock:      clock.New(rc.C.Step),
		junctions:  make([]*junction, 0, len(rc.All.Intersections)),
		data:       make(map[int32]*junction, len(rc.All.Intersections)),
		links:      make(map[int32]map[string][]config.Link),
		travelTime: rc.All.World.TravelTime,
		saturation: rc.All.World.SaturationFlow,
	}
	for _, in := range rc.All.Intersections {
		j := newJunction(in, rc.TimingOf(in.ID), rc.All.World.Seed)
		w.junctions = append(w.junctions, j)
		w.data[in.ID] = j
	}
	slices.SortFunc(w.junctions, func(a, b *junction) int { return int(a.id) - int(b.id) })
	for _, l := range rc.All.Links {
		m, ok := w.links[l.From]
		if !ok {
			m = make(map[string][]config.Link)
			w.links[l.From] = m
		}
		m[l.FromApproach] = append(m[l.FromApproach], l)
	}
	log.Infof("local world: %d junctions, %d links, saturation %.0f veh/h", len(w.junctions), len(rc.All.Links), w.saturation)
	return w
}

// Clock 世界时钟
func (w *World) Clock() *clock.Clock {
	return w.clock
}

// step 推进一步
// 算法说明：
// 1. 提交所有路口信号的写入buffer
// 2. 并行更新所有路口的到达、排队、放行与信号倒计时
// 3. 按路口ID顺序把驶离车辆投递到下游路口
// 4. 时钟前进一步
func (w *World) step() {
	t, dt := w.clock.T, w.clock.DT
	for _, j := range w.junctions {
		j.signal.prepare()
	}
	parallel.GoFor(w.junctions, func(j *junction) {
		j.update(t, dt, w.travelTime, w.saturation)
	})
	for _, j := range w.junctions {
		links, ok := w.links[j.id]
		if !ok {
			continue
		}
		for _, d := range j.route(links) {
			to := w.data[d.to].byName[d.approach]
			to.inflight.Merge([]*vehicleNode{d.node})
		}
	}
	w.clock.Step()
}

// Advance 推进dt秒，返回推进后的仿真时间
// 说明：按时钟步长推进，至少推进一步
func (w *World) Advance(ctx context.Context, dt float64) (float64, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	n := max(1, int(math.Round(dt/w.clock.DT)))
	for range n {
		if err := ctx.Err(); err != nil {
			return w.clock.T, err
		}
		w.step()
	}
	return w.clock.T, nil
}

func (w *World) get(id int32) (*junction, error) {
	j, ok := w.data[id]
	if !ok {
		return nil, fmt.Errorf("junction %d: %w", id, entity.ErrUnknownIntersection)
	}
	return j, nil
}

// ReadState 读取路口快照
func (w *World) ReadState(ctx context.Context, id int32) (*entity.Snapshot, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	j, err := w.get(id)
	if err != nil {
		return nil, err
	}
	return j.snapshot(w.clock.T), nil
}

// WritePhase 写入相位指令
func (w *World) WritePhase(ctx context.Context, id int32, cmd entity.PhaseCommand) error {
	return w.SetPhase(id, session.ProgramIndex(cmd), cmd.Remaining)
}

// SetPhase 设置信号程序的当前阶段与剩余时间，下一步生效
func (w *World) SetPhase(id int32, index int32, remaining float64) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	j, err := w.get(id)
	if err != nil {
		return err
	}
	return j.signal.setPhase(index, remaining)
}

// SetProgram 替换信号程序，program为空时删除信号程序（全绿）
func (w *World) SetProgram(tl *mapv2.TrafficLight) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	j, err := w.get(tl.JunctionId)
	if err != nil {
		return err
	}
	if len(tl.Phases) == 0 {
		j.signal.unset()
		return nil
	}
	return j.signal.set(tl)
}

// SetStatus 开启或关闭路口信号（关闭时全绿），下一步生效
func (w *World) SetStatus(id int32, ok bool) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	j, err := w.get(id)
	if err != nil {
		return err
	}
	j.signal.setOk(ok)
	return nil
}

// Program 读取信号程序、当前阶段与剩余时间
func (w *World) Program(id int32) (tl *mapv2.TrafficLight, step int32, remaining float64, err error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	j, err := w.get(id)
	if err != nil {
		return nil, 0, 0, err
	}
	return j.signal.snapshot.tl, j.signal.snapshot.step, j.signal.remaining(), nil
}

// Close 本地世界无需释放资源
func (w *World) Close() error {
	return nil
}
