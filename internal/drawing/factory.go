package drawing

import (
	"fmt"
	"time"

	"chartdraw/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Draft 是状态机产出的、尚未构建的标注输入。
type Draft struct {
	Tool  Tool
	Start SnappedPoint
	End   SnappedPoint
}

// Factory 根据锚点构造各类标注。
type Factory struct {
	fib   *FibLevelConfig
	newID func() string
	now   func() time.Time
}

func NewFactory(fib *FibLevelConfig) *Factory {
	return &Factory{fib: fib, newID: uuid.NewString, now: time.Now}
}

func (f *Factory) overlay() overlay {
	return overlay{id: f.newID(), created: f.now()}
}

// Build 按工具类型分发；单点工具需要 candle 做 swing 分类。
func (f *Factory) Build(d Draft, candle market.Candle) (Annotation, error) {
	switch d.Tool {
	case ToolTrendline:
		return f.Trendline(d.Start, d.End)
	case ToolFibonacci:
		return f.Fibonacci(d.Start, d.End)
	case ToolFairValueGap:
		return f.FairValueGap(d.Start, d.End)
	case ToolSwingPoint:
		return f.SwingPoint(d.Start, candle)
	default:
		return nil, newError(CodeInvalidTool, fmt.Sprintf("tool %q does not build annotations", d.Tool), nil)
	}
}

func (f *Factory) Trendline(start, end SnappedPoint) (*Trendline, error) {
	if err := checkAnchors(start, end); err != nil {
		return nil, err
	}
	delta, pct := priceDelta(start.Price, end.Price)
	return &Trendline{
		overlay:  f.overlay(),
		Start:    start,
		End:      end,
		Delta:    delta,
		DeltaPct: pct,
		Label:    formatDelta(delta, pct),
	}, nil
}

func (f *Factory) SwingPoint(p SnappedPoint, candle market.Candle) (*SwingPoint, error) {
	if candle.Time != p.CandleTime {
		return nil, newError(CodeInvalidSnap, fmt.Sprintf("anchor %d does not belong to candle %d", p.CandleTime, candle.Time), nil)
	}
	if p.Price != candle.High && p.Price != candle.Low {
		return nil, newError(CodeInvalidSnap, fmt.Sprintf("swing price %.8f is not a candle extreme", p.Price), nil)
	}
	return &SwingPoint{
		overlay:     f.overlay(),
		Time:        p.Time,
		Price:       p.Price,
		Kind:        ClassifySwing(p.Price, candle),
		CandleIndex: p.CandleIndex,
	}, nil
}

func (f *Factory) Fibonacci(start, end SnappedPoint) (*Fibonacci, error) {
	if err := checkAnchors(start, end); err != nil {
		return nil, err
	}
	var levels []FibLevel
	if f.fib != nil {
		levels = f.fib.Levels()
	} else {
		levels = DefaultFibLevels()
	}
	fib := &Fibonacci{overlay: f.overlay(), Start: start, End: end}
	fib.applyLevels(levels)
	return fib, nil
}

func (f *Factory) FairValueGap(start, end SnappedPoint) (*FairValueGap, error) {
	if err := checkAnchors(start, end); err != nil {
		return nil, err
	}
	top, bottom := start.Price, end.Price
	if bottom > top {
		top, bottom = bottom, top
	}
	return &FairValueGap{
		overlay: f.overlay(),
		Start:   start,
		End:     end,
		Top:     top,
		Bottom:  bottom,
	}, nil
}

func checkAnchors(start, end SnappedPoint) error {
	if start.Time == end.Time {
		return newError(CodeInvalidSnap, fmt.Sprintf("anchors share time %d", start.Time), nil)
	}
	return nil
}

func priceDelta(from, to float64) (delta, pct float64) {
	d := decimal.NewFromFloat(to).Sub(decimal.NewFromFloat(from))
	delta, _ = d.Float64()
	if from == 0 {
		return delta, 0
	}
	pct, _ = d.Div(decimal.NewFromFloat(from)).Mul(decimal.NewFromInt(100)).Float64()
	return delta, pct
}

func formatDelta(delta, pct float64) string {
	return fmt.Sprintf("%s (%s%%)", signedFixed(delta), signedFixed(pct))
}

func signedFixed(v float64) string {
	d := decimal.NewFromFloat(v)
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
