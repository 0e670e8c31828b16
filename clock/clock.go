package clock

import (
	"fmt"
	"sync"

	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Clock 仿真时钟
// 功能：管理控制循环与本地仿真的时间推进
// 说明：维护当前仿真时间、步数等信息，提供时间格式化和RPC服务
type Clock struct {
	clockv1connect.UnimplementedClockServiceHandler

	DT         float64 // 每步时间间隔（秒）
	START_STEP int32   // 起始步
	END_STEP   int32   // 结束步，模拟区间[START, END)

	T            float64 // 当前时间（秒）
	InternalStep int32   // 当前步数

	mtx sync.RWMutex // 保护RPC读取与步进
}

// New 根据配置创建新的时钟实例
// 参数：stepConfig-控制步配置
// 返回：初始化完成的时钟实例
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:         stepConfig.Interval,
		START_STEP: stepConfig.Start,
		END_STEP:   stepConfig.Start + stepConfig.Total,
	}
	c.Init()
	return c
}

// Init 重置时钟到起始步
func (c *Clock) Init() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.InternalStep = c.START_STEP
	c.T = float64(c.InternalStep) * c.DT
}

// Step 前进一步
// 返回：前进后的时间
func (c *Clock) Step() float64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.InternalStep++
	c.T = float64(c.InternalStep) * c.DT
	return c.T
}

// Advance 前进dt秒（dt不必是步长的整数倍）
// 说明：步数按已前进的时间向下取整
func (c *Clock) Advance(dt float64) float64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.T += dt
	c.InternalStep = int32(c.T/c.DT + 1e-9)
	return c.T
}

// Sync 将时钟对齐到外部时间
func (c *Clock) Sync(t float64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.T = t
}

// Time 线程安全地读取当前时间
func (c *Clock) Time() float64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.T
}

// Done 是否已到达结束步
func (c *Clock) Done() bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.InternalStep >= c.END_STEP
}

// String 获取时钟的字符串表示
// 返回：格式化的时间字符串（HH:MM:SS）
func (c *Clock) String() string {
	hour, minute, second := c.GetHourMinuteSecond()
	return fmt.Sprintf("%02d:%02d:%02d", hour, minute, int(second))
}

// GetHourMinuteSecond 获取当前时间的小时、分钟、秒
// 返回：小时、分钟、秒（秒为浮点数，支持亚秒级精度）
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	t := c.Time()
	hour := int(t) / 3600
	minute := int(t) % 3600 / 60
	second := t - float64(hour*3600+minute*60)
	return hour, minute, second
}
