package main

import (
	"context"
	"encoding/base64"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"git.fiblab.net/sim/syncer/v3"
	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/task"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/world"
	"gopkg.in/yaml.v2"
)

var (
	// 分布式模式syncer地址，仅在仿真服务模式下使用，如果设置为空则激活独立部署模式
	syncerAddr = flag.String("syncer", "", "syncer address (empty means standalone mode), e.g. http://localhost:53001")
	// 仿真服务模式：不运行控制循环，以RPC对外提供本地仿真
	worldMode = flag.Bool("world", false, "serve the local traffic world over RPC instead of running the controller")
	// 仿真服务模式下本程序监听的gRPC地址
	grpcAddr = flag.String("listen", ":51102", "gRPC listening address (world mode)")
	// 远程仿真地址，覆盖配置文件中的session.endpoint
	endpoint = flag.String("session", "", "remote simulation endpoint (overrides session.endpoint)")
	// 看板监听地址，覆盖配置文件中的dashboard.listen
	dashboardAddr = flag.String("dashboard", "", "dashboard listening address (overrides dashboard.listen)")
	// 配置文件路径
	configPath = flag.String("config", "", "config file path")
	// 配置文件Base64编码后的数据
	configData = flag.String("config-data", "", "config file base64 encoded data")

	// log
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}
	logLevel = flag.String("log.level", "info", "日志级别（可选项：trace debug info warn error critical off）")

	log = logrus.WithField("module", "signal")
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	// log: 运行时才修改
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}
	// 获取配置
	var c config.Config
	var file []byte
	var err error
	if *configPath != "" {
		file, err = os.ReadFile(*configPath)
		if err != nil {
			log.Panicf("config file load err: %v", err)
		}
	} else if *configData != "" {
		file, err = base64.StdEncoding.DecodeString(*configData)
		if err != nil {
			log.Panicf("config data load err: %v", err)
		}
	} else {
		log.Panic("config file or config data must be specified")
	}
	if err := yaml.UnmarshalStrict(file, &c); err != nil {
		log.Panicf("config file load err: %v", err)
	}
	if *endpoint != "" {
		c.Session.Endpoint = *endpoint
	}
	if *dashboardAddr != "" {
		c.Dashboard.Listen = *dashboardAddr
	}
	log.Debugf("%+v", c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *worldMode {
		serveWorld(ctx, c)
		return
	}

	t, err := task.NewContext(ctx, c)
	if err != nil {
		log.Panicf("init err: %v", err)
	}
	// 信号只设置停止标志，进行中的tick不会被取消
	go func() {
		<-ctx.Done()
		log.Info("received stop signal, finish current tick and exit")
		t.Stop()
	}()
	if err := t.Run(ctx); err != nil {
		log.Fatalf("run err: %v", err)
	}
}

// serveWorld 仿真服务模式：通过sidecar提供时钟、信号灯与快照推进服务，直到收到退出信号
func serveWorld(ctx context.Context, c config.Config) {
	rc, err := config.NewRuntimeConfig(c)
	if err != nil {
		log.Panicf("config err: %v", err)
	}
	w := world.New(rc)
	sidecar := syncer.NewSidecar(task.SelfName, *grpcAddr, *syncerAddr)
	w.Register(sidecar)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sidecar.Serve(); err != nil {
			log.Panicf("failed to serve: %v", err)
		}
	}()
	log.Infof("world serving on %s", *grpcAddr)
	select {
	case <-ctx.Done():
		sidecar.Close()
		<-done
	case <-done:
	}
	log.Infof("world complete at %s", w.Clock().String())
}
