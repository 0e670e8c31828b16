// 随机数引擎，包装了golang.org/x/exp/rand，为本地仿真提供车辆到达与分流的随机过程
package randengine

import (
	"flag"
	"math"

	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎
// 说明：非线程安全，本地仿真中每个路口持有独立的引擎，同一种子得到相同的到达序列
type Engine struct {
	*rand.Rand
}

// New 创建随机数引擎
// 参数：seed-随机数种子，实际种子为seed加上rand.seed_offset
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + *seedOffset))}
}

// PTrue 以概率p返回true
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}

// Poisson 生成泊松分布随机数
// 功能：生成给定均值的泊松分布随机整数，用于模拟单位时间内的车辆到达数
// 参数：lambda-均值
// 返回：非负整数
// 算法说明：
// 1. lambda<=0时返回0
// 2. lambda较小时使用乘积法：连乘均匀随机数直到小于exp(-lambda)
// 3. lambda较大时使用正态近似并截断到非负
func (e *Engine) Poisson(lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda > 30 {
		n := math.Round(lambda + math.Sqrt(lambda)*e.NormFloat64())
		if n < 0 {
			return 0
		}
		return int(n)
	}
	limit := math.Exp(-lambda)
	k := 0
	p := e.Float64()
	for p > limit {
		k++
		p *= e.Float64()
	}
	return k
}
