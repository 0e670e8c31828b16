// 远程仿真会话：通过connect RPC读取路口快照、写入相位指令、推进仿真
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Remote 远程仿真会话
// 功能：实现entity.ISession
// 说明：相位指令通过TrafficLightService写入，快照与推进通过msgpack编码的WorldService读取
type Remote struct {
	endpoint   string
	httpClient connect.HTTPClient

	clock        clockv1connect.ClockServiceClient
	trafficLight mapv2connect.TrafficLightServiceClient
	readState    *connect.Client[ReadStateRequest, ReadStateResponse]
	advance      *connect.Client[AdvanceRequest, AdvanceResponse]
}

// normalize 补全协议前缀并去掉末尾的斜杠
func normalize(endpoint string) string {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	return strings.TrimRight(endpoint, "/")
}

// NewRemote 创建远程会话（不检查连通性）
// 参数：httpClient-HTTP客户端，endpoint-仿真服务地址
func NewRemote(httpClient connect.HTTPClient, endpoint string) *Remote {
	endpoint = normalize(endpoint)
	return &Remote{
		endpoint:     endpoint,
		httpClient:   httpClient,
		clock:        clockv1connect.NewClockServiceClient(httpClient, endpoint),
		trafficLight: mapv2connect.NewTrafficLightServiceClient(httpClient, endpoint),
		readState: connect.NewClient[ReadStateRequest, ReadStateResponse](
			httpClient, endpoint+ReadStateProcedure, connect.WithCodec(Codec{}),
		),
		advance: connect.NewClient[AdvanceRequest, AdvanceResponse](
			httpClient, endpoint+AdvanceProcedure, connect.WithCodec(Codec{}),
		),
	}
}

// Dial 建立远程会话
// 功能：创建客户端并通过ClockService.Now探测仿真是否就绪
// 参数：ctx-上下文，cfg-会话配置
// 返回：会话实例，重试耗尽后返回包装了entity.ErrConnection的错误
// 算法说明：
// 1. 每次探测使用会话读写超时
// 2. 失败后等待重试间隔，间隔每次翻倍
// 3. 重试次数达到ConnectRetries后放弃
func Dial(ctx context.Context, cfg config.Session) (*Remote, error) {
	return dial(ctx, &http.Client{}, cfg)
}

func dial(ctx context.Context, httpClient connect.HTTPClient, cfg config.Session) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: empty endpoint", entity.ErrConnection)
	}
	r := NewRemote(httpClient, cfg.Endpoint)
	timeout := time.Duration(cfg.Timeout * float64(time.Second))
	interval := time.Duration(cfg.ConnectInterval * float64(time.Second))
	retries := max(cfg.ConnectRetries, 1)
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		var t float64
		if t, err = r.now(ctx, timeout); err == nil {
			log.Infof("connected to %s at t=%.1f", r.endpoint, t)
			return r, nil
		}
		log.Warnf("connect to %s failed (attempt %d/%d): %v", r.endpoint, attempt, retries, err)
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: dial %s: %v", entity.ErrConnection, r.endpoint, ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
	}
	return nil, fmt.Errorf("%w: dial %s after %d attempts: %v", entity.ErrConnection, r.endpoint, retries, err)
}

func (r *Remote) now(ctx context.Context, timeout time.Duration) (float64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := r.clock.Now(ctx, connect.NewRequest(&clockv1.NowRequest{}))
	if err != nil {
		return 0, err
	}
	return res.Msg.T, nil
}

// Endpoint 仿真服务地址
func (r *Remote) Endpoint() string {
	return r.endpoint
}

// classify 将RPC错误归入统一的错误分类
func classify(junctionID int32, op string, err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeNotFound:
		return fmt.Errorf("junction %d: %s: %w: %v", junctionID, op, entity.ErrUnknownIntersection, err)
	case connect.CodeUnavailable:
		return fmt.Errorf("junction %d: %s: %w: %v", junctionID, op, entity.ErrConnection, err)
	}
	return fmt.Errorf("junction %d: %s: %w", junctionID, op, err)
}

// Advance 推进仿真dt秒
func (r *Remote) Advance(ctx context.Context, dt float64) (float64, error) {
	res, err := r.advance.CallUnary(ctx, connect.NewRequest(&AdvanceRequest{DT: dt}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeUnavailable {
			return 0, fmt.Errorf("advance: %w: %v", entity.ErrConnection, err)
		}
		return 0, fmt.Errorf("advance: %w", err)
	}
	return res.Msg.T, nil
}

// ReadState 读取路口快照
// 返回：超时返回包装了context.DeadlineExceeded的错误
func (r *Remote) ReadState(ctx context.Context, junctionID int32) (*entity.Snapshot, error) {
	res, err := r.readState.CallUnary(ctx, connect.NewRequest(&ReadStateRequest{JunctionID: junctionID}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeDeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("junction %d: read state: %w: %v", junctionID, context.DeadlineExceeded, err)
		}
		return nil, classify(junctionID, "read state", err)
	}
	snapshot := res.Msg.Snapshot
	return &snapshot, nil
}

// WritePhase 写入相位指令
func (r *Remote) WritePhase(ctx context.Context, junctionID int32, cmd entity.PhaseCommand) error {
	_, err := r.trafficLight.SetTrafficLightPhase(ctx, connect.NewRequest(&mapv2.SetTrafficLightPhaseRequest{
		JunctionId:    junctionID,
		PhaseIndex:    ProgramIndex(cmd),
		TimeRemaining: cmd.Remaining,
	}))
	if err != nil {
		return classify(junctionID, "write phase", err)
	}
	return nil
}

// SetStatus 开启或关闭路口信号（关闭时全绿）
func (r *Remote) SetStatus(ctx context.Context, junctionID int32, ok bool) error {
	_, err := r.trafficLight.SetTrafficLightStatus(ctx, connect.NewRequest(&mapv2.SetTrafficLightStatusRequest{
		JunctionId: junctionID,
		Ok:         ok,
	}))
	if err != nil {
		return classify(junctionID, "set status", err)
	}
	return nil
}

// CheckIntersections 检查配置的路口在仿真中都存在，且信号程序与相位数一致
// 参数：ctx-上下文，numPhases-路口ID->相位数
// 返回：路口不存在时返回包装了entity.ErrUnknownIntersection的错误
func (r *Remote) CheckIntersections(ctx context.Context, numPhases map[int32]int) error {
	for id, n := range numPhases {
		res, err := r.trafficLight.GetTrafficLight(ctx, connect.NewRequest(&mapv2.GetTrafficLightRequest{JunctionId: id}))
		if err != nil {
			// 仿真器对不存在的路口返回InvalidArgument
			if connect.CodeOf(err) == connect.CodeInvalidArgument {
				return fmt.Errorf("junction %d: %w: %v", id, entity.ErrUnknownIntersection, err)
			}
			return classify(id, "get traffic light", err)
		}
		tl := res.Msg.TrafficLight
		if tl == nil || len(tl.Phases) == 0 {
			log.Warnf("junction %d has no signal program", id)
			continue
		}
		if len(tl.Phases) != 2*n {
			return fmt.Errorf("junction %d: program has %d stages, want %d", id, len(tl.Phases), 2*n)
		}
	}
	return nil
}

// Close 关闭会话
func (r *Remote) Close() error {
	if c, ok := r.httpClient.(*http.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}
