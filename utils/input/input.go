package input

import (
	"context"
	"fmt"
	"os"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v2"
)

// Record 视频分析流水线给出的单条到达率估计
type Record struct {
	JunctionID  int32   `yaml:"junction_id" bson:"junction_id"`
	Approach    string  `yaml:"approach" bson:"approach"`
	ArrivalRate float64 `yaml:"arrival_rate" bson:"arrival_rate"` // 辆/小时
}

// Seed 到达率估计：路口ID->进口道->到达率（辆/小时）
type Seed map[int32]map[string]float64

// NewSeed 由估计记录构造到达率表
// 说明：负的到达率被忽略，同一进口道出现多次时取最后一条
func NewSeed(records []Record) Seed {
	s := make(Seed)
	for _, r := range records {
		if r.ArrivalRate < 0 {
			log.Warnf("ignore negative arrival rate %.1f on junction %d approach %s", r.ArrivalRate, r.JunctionID, r.Approach)
			continue
		}
		m, ok := s[r.JunctionID]
		if !ok {
			m = make(map[string]float64)
			s[r.JunctionID] = m
		}
		m[r.Approach] = r.ArrivalRate
	}
	return s
}

// Missing 返回没有任何估计的路口ID
func (s Seed) Missing(ids []int32) []int32 {
	return lo.Filter(ids, func(id int32, _ int) bool {
		_, ok := s[id]
		return !ok
	})
}

// Load 加载到达率估计
// 功能：根据配置从文件或MongoDB加载视频分析给出的到达率估计
// 参数：ctx-上下文，in-输入配置
// 返回：到达率表，未配置时返回nil
// 算法说明：
// 1. 未配置Seed时返回nil，调用方使用默认阈值
// 2. 配置了文件时从YAML文件加载（优先级高于MongoDB）
// 3. 否则从in.URI指向的MongoDB集合加载全部文档
func Load(ctx context.Context, in config.Input) (Seed, error) {
	if in.Seed == nil {
		log.Info("no seed configured, use default thresholds")
		return nil, nil
	}
	var records []Record
	var err error
	if in.Seed.File != "" {
		records, err = loadFile(in.Seed.File)
	} else {
		if in.URI == "" {
			return nil, fmt.Errorf("seed %s.%s: empty mongo uri", in.Seed.DB, in.Seed.Col)
		}
		records, err = loadMongo(ctx, in.URI, *in.Seed)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("loaded %d seed records", len(records))
	return NewSeed(records), nil
}

func loadFile(path string) ([]Record, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed file load err: %w", err)
	}
	var records []Record
	if err := yaml.UnmarshalStrict(file, &records); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return records, nil
}

func loadMongo(ctx context.Context, uri string, path config.InputPath) ([]Record, error) {
	client := mongoutil.NewClient(uri)
	defer client.Disconnect(context.Background())
	coll := mongoutil.GetMongoColl(client, path)
	log.Infof("start fetching seed from %s.%s", path.DB, path.Col)
	cursor, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("seed %s.%s: %w", path.DB, path.Col, err)
	}
	var records []Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("seed %s.%s: %w", path.DB, path.Col, err)
	}
	log.Infof("finish fetching seed from %s.%s", path.DB, path.Col)
	return records, nil
}
