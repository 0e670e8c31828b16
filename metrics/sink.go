package metrics

import (
	"context"
	"fmt"
	"strconv"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ISink 汇总结果输出
type ISink interface {
	Name() string
	Write(ctx context.Context, s Summary) error
}

// LogSink 以结构化日志输出汇总
type LogSink struct{}

func (LogSink) Name() string {
	return "log"
}

func (LogSink) Write(ctx context.Context, s Summary) error {
	log.WithFields(logrus.Fields{
		"episode":    s.Episode,
		"policy":     s.Policy,
		"ticks":      s.Ticks,
		"avg_wait":   fmt.Sprintf("%.2f", s.AverageWait),
		"throughput": fmt.Sprintf("%.1f", s.Throughput),
		"avg_queue":  fmt.Sprintf("%.2f", s.AverageQueue),
		"congestion": s.Congestion,
		"efficiency": fmt.Sprintf("%.3f", s.Efficiency),
		"switches":   s.TotalSwitches(),
	}).Info("summary")
	return nil
}

// MongoSink 将汇总写入MongoDB集合，每次运行一条文档
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoSink 连接MongoDB并定位汇总集合
// 参数：uri-连接字符串，path-数据库与集合
func NewMongoSink(uri string, path config.InputPath) *MongoSink {
	client := mongoutil.NewClient(uri)
	return &MongoSink{
		client: client,
		coll:   mongoutil.GetMongoColl(client, path),
	}
}

func (m *MongoSink) Name() string {
	return fmt.Sprintf("mongo(%s)", m.coll.Name())
}

// Write 插入汇总文档
// 说明：按路口统计的计数以字符串路口ID为键
func (m *MongoSink) Write(ctx context.Context, s Summary) error {
	if _, err := m.coll.InsertOne(ctx, Document(s)); err != nil {
		return fmt.Errorf("insert summary %s: %w", s.Episode, err)
	}
	return nil
}

// Close 断开连接
func (m *MongoSink) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func byID(m map[int32]int) bson.M {
	res := make(bson.M, len(m))
	for id, v := range m {
		res[strconv.Itoa(int(id))] = v
	}
	return res
}

// Document 汇总对应的BSON文档
func Document(s Summary) bson.M {
	return bson.M{
		"episode":                s.Episode,
		"policy":                 s.Policy,
		"ticks":                  s.Ticks,
		"average_wait":           s.AverageWait,
		"throughput":             s.Throughput,
		"average_queue":          s.AverageQueue,
		"max_queue":              s.MaxQueue,
		"congestion":             s.Congestion,
		"baseline_wait":          s.BaselineWait,
		"baseline_throughput":    s.BaselineThroughput,
		"efficiency":             s.Efficiency,
		"wait_improvement":       s.WaitImprovement,
		"throughput_improvement": s.ThroughputImprovement,
		"switches":               byID(s.Switches),
		"extends":                byID(s.Extends),
		"actuation_failures":     byID(s.ActuationFailures),
		"snapshot_timeouts":      byID(s.SnapshotTimeouts),
		"sim_time":               s.SimTime,
		"wall":                   s.Wall,
	}
}
