package world

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/session"
)

// trafficLightService 信号灯服务
type trafficLightService struct {
	mapv2connect.UnimplementedTrafficLightServiceHandler
	w *World
}

// Register 将世界的全部服务注册到sidecar
// 功能：注册时钟服务、信号灯服务与快照推进服务
// 说明：仿真由控制器通过Advance推进，不参与syncer的锁步，所有服务均不加锁
// 参数：sidecar-同步器侧车实例
func (w *World) Register(sidecar *syncer.Sidecar) {
	w.clock.Register(sidecar)
	sidecar.Register(
		mapv2connect.TrafficLightServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return mapv2connect.NewTrafficLightServiceHandler(&trafficLightService{w: w}, opts...)
		},
		syncer.WithNoLock(),
	)
	sidecar.Register(
		session.WorldServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return w.worldServiceHandler(opts...)
		},
		syncer.WithNoLock(),
	)
}

// Mount 将世界的全部服务挂载到mux（不经过sidecar的独立部署与测试）
func (w *World) Mount(mux *http.ServeMux) {
	w.clock.Mount(mux)
	mux.Handle(mapv2connect.NewTrafficLightServiceHandler(&trafficLightService{w: w}))
	mux.Handle(w.worldServiceHandler())
}

// worldServiceHandler 快照与推进服务，使用msgpack编码
func (w *World) worldServiceHandler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append(opts, connect.WithCodec(session.Codec{}))
	mux := http.NewServeMux()
	mux.Handle(session.ReadStateProcedure, connect.NewUnaryHandler(session.ReadStateProcedure, w.readState, opts...))
	mux.Handle(session.AdvanceProcedure, connect.NewUnaryHandler(session.AdvanceProcedure, w.advance, opts...))
	return "/" + session.WorldServiceName + "/", mux
}

// toConnectError 路口不存在时返回NotFound，其余为InvalidArgument
func toConnectError(err error) error {
	if errors.Is(err, entity.ErrUnknownIntersection) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInvalidArgument, err)
}

func (w *World) readState(
	ctx context.Context, in *connect.Request[session.ReadStateRequest],
) (*connect.Response[session.ReadStateResponse], error) {
	s, err := w.ReadState(ctx, in.Msg.JunctionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&session.ReadStateResponse{Snapshot: *s}), nil
}

func (w *World) advance(
	ctx context.Context, in *connect.Request[session.AdvanceRequest],
) (*connect.Response[session.AdvanceResponse], error) {
	if in.Msg.DT <= 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("dt must be positive"))
	}
	t, err := w.Advance(ctx, in.Msg.DT)
	if err != nil {
		return nil, connect.NewError(connect.CodeCanceled, err)
	}
	return connect.NewResponse(&session.AdvanceResponse{T: t}), nil
}

// GetTrafficLight RPC接口：获取路口的信号程序
// 返回：信号程序、当前阶段与剩余时间，路口不存在时返回NotFound
func (s *trafficLightService) GetTrafficLight(
	ctx context.Context, in *connect.Request[mapv2.GetTrafficLightRequest],
) (*connect.Response[mapv2.GetTrafficLightResponse], error) {
	tl, step, remaining, err := s.w.Program(in.Msg.JunctionId)
	if err != nil {
		return nil, toConnectError(err)
	}
	if tl == nil {
		return connect.NewResponse(&mapv2.GetTrafficLightResponse{}), nil
	}
	return connect.NewResponse(&mapv2.GetTrafficLightResponse{
		TrafficLight:  tl,
		PhaseIndex:    step,
		TimeRemaining: remaining,
	}), nil
}

// SetTrafficLight RPC接口：替换路口的信号程序
// 说明：程序为空时删除信号程序（全绿）
func (s *trafficLightService) SetTrafficLight(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightRequest],
) (*connect.Response[mapv2.SetTrafficLightResponse], error) {
	req := in.Msg
	if req.TrafficLight == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("empty traffic light"))
	}
	if err := s.w.SetProgram(req.TrafficLight); err != nil {
		return nil, toConnectError(err)
	}
	if len(req.TrafficLight.Phases) > 0 {
		if req.TimeRemaining < 0 {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid remaining time"))
		}
		if err := s.w.SetPhase(req.TrafficLight.JunctionId, req.PhaseIndex, req.TimeRemaining); err != nil {
			return nil, toConnectError(err)
		}
	}
	return connect.NewResponse(&mapv2.SetTrafficLightResponse{}), nil
}

// SetTrafficLightPhase RPC接口：设置路口信号程序的当前阶段与剩余时间
// 说明：阶段索引为2*相位+(0绿灯|1黄灯)
func (s *trafficLightService) SetTrafficLightPhase(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightPhaseRequest],
) (*connect.Response[mapv2.SetTrafficLightPhaseResponse], error) {
	req := in.Msg
	if req.TimeRemaining < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid remaining time"))
	}
	if err := s.w.SetPhase(req.JunctionId, req.PhaseIndex, req.TimeRemaining); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&mapv2.SetTrafficLightPhaseResponse{}), nil
}

// SetTrafficLightStatus RPC接口：开启或关闭路口信号
func (s *trafficLightService) SetTrafficLightStatus(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightStatusRequest],
) (*connect.Response[mapv2.SetTrafficLightStatusResponse], error) {
	if err := s.w.SetStatus(in.Msg.JunctionId, in.Msg.Ok); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&mapv2.SetTrafficLightStatusResponse{}), nil
}
