package drawing

import (
	"fmt"
	"math"
	"time"

	"chartdraw/internal/market"
)

const (
	// 距离 high/low 不超过 K 线振幅 10% 视为对应极值。
	swingBandRatio = 0.1
	// 同一天、同类型、价格差 0.5% 以内的 swing point 视为重复。
	DefaultSwingDedupPct = 0.005
)

// Snapper 把数据空间点击吸附到 K 线的 high/low。
type Snapper struct {
	series *market.Series
}

func NewSnapper(series *market.Series) *Snapper {
	return &Snapper{series: series}
}

func (s *Snapper) Series() *market.Series {
	if s == nil {
		return nil
	}
	return s.series
}

// Snap 找到点击所在的 K 线，价格在区间外夹到较近边界，区间内取更近的极值（相等取 high）。
func (s *Snapper) Snap(p Point) (SnappedPoint, error) {
	if s == nil || s.series.Len() == 0 {
		return SnappedPoint{}, newError(CodeInvalidSnap, "no candles loaded", nil)
	}
	if !finite(p.Price) {
		return SnappedPoint{}, newError(CodeInvalidSnap, "click price is not finite", nil)
	}
	idx, ok := s.series.Locate(p.Time)
	if !ok {
		return SnappedPoint{}, newError(CodeInvalidSnap, fmt.Sprintf("no candle for time %d", p.Time), nil)
	}
	c := s.series.At(idx)
	price, ext := snapPrice(c, p.Price)
	return SnappedPoint{
		Point:       Point{Time: c.Time, Price: price},
		CandleIndex: idx,
		CandleTime:  c.Time,
		Extreme:     ext,
		Interval:    s.series.Interval(),
	}, nil
}

// Candle 返回吸附点所在的 K 线。
func (s *Snapper) Candle(sp SnappedPoint) (market.Candle, bool) {
	if s == nil || sp.CandleIndex < 0 || sp.CandleIndex >= s.series.Len() {
		return market.Candle{}, false
	}
	c := s.series.At(sp.CandleIndex)
	if c.Time != sp.CandleTime {
		return market.Candle{}, false
	}
	return c, true
}

func snapPrice(c market.Candle, price float64) (float64, Extreme) {
	switch {
	case !c.Contains(price) && price > c.High:
		return c.High, ExtremeHigh
	case !c.Contains(price):
		return c.Low, ExtremeLow
	case c.High-price <= price-c.Low:
		return c.High, ExtremeHigh
	default:
		return c.Low, ExtremeLow
	}
}

// ClassifySwing 判定 swing 类型，规则与 snapPrice 的就近规则相互独立。
func ClassifySwing(price float64, c market.Candle) SwingKind {
	band := swingBandRatio * c.Range()
	switch {
	case price >= c.High-band:
		return SwingHigh
	case price <= c.Low+band:
		return SwingLow
	case price >= c.Mid():
		return SwingHigh
	default:
		return SwingLow
	}
}

// advancePastStart 保证两点标注的锚点时间不同：同一根 K 线时终点推进一个周期。
func advancePastStart(start, end SnappedPoint) SnappedPoint {
	if end.CandleTime != start.CandleTime {
		return end
	}
	step := start.Interval
	if step <= 0 {
		step = end.Interval
	}
	if step <= 0 {
		step = 1
	}
	end.Time = start.Time + step
	return end
}

func isDuplicateSwing(existing []*SwingPoint, cand *SwingPoint, pct float64) bool {
	if cand == nil {
		return false
	}
	if pct <= 0 {
		pct = DefaultSwingDedupPct
	}
	for _, sp := range existing {
		if sp == nil || sp.Kind != cand.Kind || !sameDay(sp.Time, cand.Time) {
			continue
		}
		ref := math.Abs(sp.Price)
		if ref == 0 {
			if cand.Price == 0 {
				return true
			}
			continue
		}
		if math.Abs(cand.Price-sp.Price)/ref <= pct {
			return true
		}
	}
	return false
}

func sameDay(a, b int64) bool {
	ya, ma, da := time.Unix(a, 0).UTC().Date()
	yb, mb, db := time.Unix(b, 0).UTC().Date()
	return ya == yb && ma == mb && da == db
}
