// 指标看板：以HTTP、websocket与connect RPC三种方式对外提供指标汇总
// 看板只读取聚合器，不参与控制循环
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/metrics"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	MetricsServiceName = "trafficsignal.metrics.v1.MetricsService"
	SummaryProcedure   = "/" + MetricsServiceName + "/Summary"
)

// Source 看板的数据来源（metrics.Aggregator）
type Source interface {
	Summary() metrics.Summary
	Flat() map[string]float64
}

// Server 指标看板
type Server struct {
	source   Source
	interval time.Duration
	engine   *gin.Engine
	hub      *hub
	ctx      context.Context
}

// New 创建指标看板
// 参数：source-指标来源，interval-websocket推送间隔
// 说明：路由如下
//   - GET /healthz：存活检查
//   - GET /api/metrics：扁平化的指标（名称->数值）
//   - GET /api/summary：完整的指标汇总
//   - GET /api/ws：按推送间隔广播扁平化的指标
//   - POST /trafficsignal.metrics.v1.MetricsService/Summary：connect RPC，返回google.protobuf.Struct
func New(source Source, interval time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		source:   source,
		interval: interval,
		engine:   gin.New(),
		hub:      newHub(),
		ctx:      context.Background(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.engine.Group("/api")
	api.GET("/metrics", func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, s.source.Flat())
	})
	api.GET("/summary", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Summary())
	})
	api.GET("/ws", func(c *gin.Context) {
		s.hub.handle(s.ctx, c.Writer, c.Request)
	})
	s.engine.POST(SummaryProcedure, gin.WrapH(connect.NewUnaryHandler(SummaryProcedure, s.summary)))
	return s
}

// Handler HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 启动websocket广播，ctx结束时停止并关闭所有连接
func (s *Server) Start(ctx context.Context) {
	s.ctx = ctx
	go s.hub.run(ctx)
	go s.poll(ctx)
}

// Serve 启动看板并阻塞到ctx结束
func (s *Server) Serve(ctx context.Context, listen string) error {
	s.Start(ctx)
	srv := &http.Server{Addr: listen, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Infof("dashboard listening on %s", listen)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) poll(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.push(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) push(ctx context.Context) {
	data, err := json.Marshal(s.source.Flat())
	if err != nil {
		log.Errorf("failed to marshal metrics: %v", err)
		return
	}
	select {
	case s.hub.broadcast <- data:
	case <-ctx.Done():
	}
}

func (s *Server) summary(
	ctx context.Context, in *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	flat := lo.MapValues(s.source.Flat(), func(v float64, _ string) any { return v })
	res, err := structpb.NewStruct(flat)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(res), nil
}
