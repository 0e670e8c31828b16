package config

// InputPath 指定外部数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入/输出路径，文件优先级高于MongoDB
type InputPath struct {
	DB   string `yaml:"db,omitempty"`   // 数据库名
	Col  string `yaml:"col,omitempty"`  // 集合名
	File string `yaml:"file,omitempty"` // 文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// Input 指定控制器启动时可选的外部输入
// 说明：Seed为视频分析流水线产生的各进口道到达率估计，不存在时使用默认阈值
type Input struct {
	URI  string     `yaml:"uri,omitempty"`  // MongoDB连接字符串
	Seed *InputPath `yaml:"seed,omitempty"` // 到达率估计
}

// Output 指定指标汇总的持久化位置
type Output struct {
	URI     string     `yaml:"uri,omitempty"`     // MongoDB连接字符串，为空则不输出
	Summary *InputPath `yaml:"summary,omitempty"` // 汇总结果写入的集合
}

// ControlStep 指定模拟时间范围和间隔的配置项
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
}

// Control 控制循环配置
type Control struct {
	Step           ControlStep `yaml:"step"`
	DecisionPeriod float64     `yaml:"decision_period,omitempty"` // 决策周期（秒），默认等于步长
	Pace           float64     `yaml:"pace,omitempty"`            // 每步实际等待的墙钟时间（秒），0表示不等待
}

// Timing 信号配时约束
type Timing struct {
	MinGreen float64 `yaml:"min_green"` // 最小绿灯时间（秒）
	MaxGreen float64 `yaml:"max_green"` // 最大绿灯时间（秒）
	Yellow   float64 `yaml:"yellow"`    // 黄灯清空时间（秒）
}

// Approach 路口进口道
type Approach struct {
	Name        string  `yaml:"name"`
	Capacity    float64 `yaml:"capacity,omitempty"`     // 进口道容量（辆），用于计算排队压力
	ArrivalRate float64 `yaml:"arrival_rate,omitempty"` // 本地仿真中的到达率（辆/小时）
}

// Phase 相位：获得通行权的进口道集合
type Phase struct {
	Name  string   `yaml:"name"`
	Green []string `yaml:"green"`
}

// Intersection 受控路口
type Intersection struct {
	ID         int32      `yaml:"id"`
	Name       string     `yaml:"name,omitempty"`
	Offset     float64    `yaml:"offset,omitempty"` // 相对参考路口的协调偏移（秒）
	Approaches []Approach `yaml:"approaches"`
	Phases     []Phase    `yaml:"phases"`
	Timing     *Timing    `yaml:"timing,omitempty"` // 单独的配时约束，为空则使用全局配置
}

// Link 路口间的物理连接
// 说明：From路口From进口道驶出的车辆按Ratio比例经TravelTime后到达To路口ToApproach进口道
type Link struct {
	From         int32   `yaml:"from"`
	FromApproach string  `yaml:"from_approach"`
	To           int32   `yaml:"to"`
	ToApproach   string  `yaml:"to_approach"`
	Ratio        float64 `yaml:"ratio,omitempty"`
	TravelTime   float64 `yaml:"travel_time,omitempty"`
}

// Policy 决策策略配置
type Policy struct {
	Name            string  `yaml:"name,omitempty"`             // queue_pressure | max_pressure | fixed
	SwitchRatio     float64 `yaml:"switch_ratio,omitempty"`     // 非绿灯方向压力超过绿灯方向的倍数时切换
	ExtendThreshold float64 `yaml:"extend_threshold,omitempty"` // 绿灯方向压力高于该值时延长绿灯
	ExtendSeconds   float64 `yaml:"extend_seconds,omitempty"`   // 每次延长的秒数
	Capacity        float64 `yaml:"capacity,omitempty"`         // 默认进口道容量
	FixedGreen      float64 `yaml:"fixed_green,omitempty"`      // 定时策略的绿灯时长
}

// Session 仿真会话配置
type Session struct {
	Endpoint        string  `yaml:"endpoint,omitempty"`         // 远程仿真地址，为空则使用本地仿真
	Timeout         float64 `yaml:"timeout,omitempty"`          // 单次读写超时（秒）
	ConnectRetries  int     `yaml:"connect_retries,omitempty"`  // 建立连接的最大重试次数
	ConnectInterval float64 `yaml:"connect_interval,omitempty"` // 首次重试间隔（秒），之后指数退避
}

// World 本地仿真配置
type World struct {
	Seed           uint64  `yaml:"seed,omitempty"`
	SaturationFlow float64 `yaml:"saturation_flow,omitempty"` // 绿灯时每个进口道的饱和流率（辆/小时）
	TravelTime     float64 `yaml:"travel_time,omitempty"`     // 车辆生成后到达停车线的时间（秒）
}

// Dashboard 指标看板配置
type Dashboard struct {
	Listen   string  `yaml:"listen,omitempty"`   // 监听地址，为空则不启动
	Interval float64 `yaml:"interval,omitempty"` // websocket推送间隔（秒）
}

// Metrics 指标配置
type Metrics struct {
	BaselineWait float64 `yaml:"baseline_wait,omitempty"` // 定时控制下的平均等待时间（秒）
	RunBaseline  bool    `yaml:"run_baseline,omitempty"`  // 启动前在本地仿真中运行定时控制以获得基线
}

// Config YAML配置文件的根结构
type Config struct {
	Control       Control        `yaml:"control"`
	Session       Session        `yaml:"session,omitempty"`
	Timing        Timing         `yaml:"timing"`
	Policy        Policy         `yaml:"policy,omitempty"`
	Intersections []Intersection `yaml:"intersections"`
	Links         []Link         `yaml:"links,omitempty"`
	World         World          `yaml:"world,omitempty"`
	Input         Input          `yaml:"input,omitempty"`
	Output        Output         `yaml:"output,omitempty"`
	Dashboard     Dashboard      `yaml:"dashboard,omitempty"`
	Metrics       Metrics        `yaml:"metrics,omitempty"`
}
