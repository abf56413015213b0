package drawing

import (
	"fmt"
	"strings"
)

// Point 数据空间坐标（unix 秒, 价格），尚未绑定到 K 线。
type Point struct {
	Time  int64   `json:"time"`
	Price float64 `json:"price"`
}

// PixelPoint 像素坐标。
type PixelPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Extreme string

const (
	ExtremeHigh Extreme = "high"
	ExtremeLow  Extreme = "low"
)

// SnappedPoint 价格恰好等于某根 K 线的 high 或 low。
type SnappedPoint struct {
	Point
	CandleIndex int     `json:"candle_index"`
	CandleTime  int64   `json:"candle_time"`
	Extreme     Extreme `json:"extreme"`
	// Interval 是吸附时所用序列的周期（秒），用于同一根 K 线的终点推进。
	Interval int64 `json:"-"`
}

type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

type Tool string

const (
	ToolPointer      Tool = "pointer"
	ToolTrendline    Tool = "trendline"
	ToolSwingPoint   Tool = "swing_point"
	ToolFibonacci    Tool = "fibonacci"
	ToolFairValueGap Tool = "fvg"
)

var toolAliases = map[string]Tool{
	"":               ToolPointer,
	"pointer":        ToolPointer,
	"trendline":      ToolTrendline,
	"trend":          ToolTrendline,
	"swing_point":    ToolSwingPoint,
	"swing":          ToolSwingPoint,
	"swingpoint":     ToolSwingPoint,
	"fibonacci":      ToolFibonacci,
	"fib":            ToolFibonacci,
	"fvg":            ToolFairValueGap,
	"fair_value_gap": ToolFairValueGap,
}

// ParseTool 解析工具名（大小写/别名不敏感）。
func ParseTool(raw string) (Tool, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	if t, ok := toolAliases[key]; ok {
		return t, nil
	}
	return "", newError(CodeInvalidTool, fmt.Sprintf("unknown tool %q", raw), nil)
}

// Drawing 表示该工具会产生标注。
func (t Tool) Drawing() bool {
	switch t {
	case ToolTrendline, ToolSwingPoint, ToolFibonacci, ToolFairValueGap:
		return true
	default:
		return false
	}
}

// TwoPoint 表示需要两次点击才能完成。
func (t Tool) TwoPoint() bool {
	switch t {
	case ToolTrendline, ToolFibonacci, ToolFairValueGap:
		return true
	default:
		return false
	}
}
