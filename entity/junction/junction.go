package junction

import (
	"fmt"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction/trafficlight"
)

// RegisterAll 为配置中的所有路口创建信号控制器并注册到调度器
// 功能：按配置顺序创建控制器，协调偏移取自路口配置
// 参数：ctx-任务上下文，s-协调调度器
// 返回：注册失败（如ID重复）时返回错误
func RegisterAll(ctx entity.ITaskContext, s *CoordinationScheduler) error {
	for _, in := range ctx.RuntimeConfig().All.Intersections {
		c := trafficlight.NewController(ctx, in.ID, entity.NewPhases(in.Phases))
		if err := s.Register(c, in.Offset); err != nil {
			return fmt.Errorf("register junction %d: %w", in.ID, err)
		}
		log.Debugf("register junction %d with %d phases, offset %.1f", in.ID, len(in.Phases), in.Offset)
	}
	log.Infof("%d junctions registered", len(s.IDs()))
	return nil
}
