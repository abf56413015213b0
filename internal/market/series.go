package market

import (
	"fmt"
	"math"
	"sort"
)

// Series 是按时间升序、只读的一组 K 线，整体替换而不原地修改。
type Series struct {
	candles  []Candle
	interval int64
}

// NewSeries 复制并校验 candles；interval<=0 时按最常见的时间步长推断。
func NewSeries(candles []Candle, interval int64) (*Series, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("candle series is empty")
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	for i, c := range out {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if i > 0 && out[i-1].Time == c.Time {
			return nil, fmt.Errorf("duplicate candle time %d", c.Time)
		}
	}
	if interval <= 0 {
		interval = DetectInterval(out)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("cannot infer interval from %d candle(s), set it explicitly", len(out))
	}
	return &Series{candles: out, interval: interval}, nil
}

// DetectInterval 返回相邻 K 线最常见的正时间差，相同频次取较小值。
func DetectInterval(candles []Candle) int64 {
	if len(candles) < 2 {
		return 0
	}
	counts := make(map[int64]int)
	for i := 1; i < len(candles); i++ {
		d := candles[i].Time - candles[i-1].Time
		if d > 0 {
			counts[d]++
		}
	}
	var best int64
	bestCount := 0
	for d, n := range counts {
		if n > bestCount || (n == bestCount && d < best) {
			best, bestCount = d, n
		}
	}
	return best
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.candles)
}

func (s *Series) At(i int) Candle {
	return s.candles[i]
}

// Candles 返回副本。
func (s *Series) Candles() []Candle {
	if s == nil {
		return nil
	}
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Interval 返回单根 K 线的周期（秒）。
func (s *Series) Interval() int64 {
	if s == nil {
		return 0
	}
	return s.interval
}

func (s *Series) First() Candle { return s.candles[0] }

func (s *Series) Last() Candle { return s.candles[len(s.candles)-1] }

// End 返回最后一根 K 线 bucket 的结束时间（开区间）。
func (s *Series) End() int64 {
	return s.Last().Time + s.interval
}

// Locate 找到包含 t 的 K 线 bucket；落在缺口时取一个周期以内最近的 bucket。
func (s *Series) Locate(t int64) (int, bool) {
	n := s.Len()
	if n == 0 {
		return -1, false
	}
	i := sort.Search(n, func(i int) bool { return s.candles[i].Time > t })
	if i > 0 {
		c := s.candles[i-1]
		if t < c.Time+s.interval {
			return i - 1, true
		}
	}
	// 距离按 bucket 边界计算：左侧为 bucket 结束，右侧为下一根起点
	best := -1
	bestDist := int64(math.MaxInt64)
	if i > 0 {
		best, bestDist = i-1, t-(s.candles[i-1].Time+s.interval)
	}
	if i < n {
		if d := s.candles[i].Time - t; d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 && bestDist < s.interval {
		return best, true
	}
	return -1, false
}

// PriceBounds 返回最低 low 与最高 high。
func (s *Series) PriceBounds() (minVal, maxVal float64) {
	if s.Len() == 0 {
		return 0, 0
	}
	minVal = s.candles[0].Low
	maxVal = s.candles[0].High
	for _, c := range s.candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}
