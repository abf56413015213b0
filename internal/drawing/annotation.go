package drawing

import "time"

// Annotation 是封闭的标注类型集合：Trendline / SwingPoint / Fibonacci / FairValueGap。
// 新增类型时必须实现 annotationVisitor 的全部方法，否则无法编译。
type Annotation interface {
	ID() string
	Tool() Tool
	CreatedAt() time.Time
	// Handles 返回当前持有的 overlay 句柄（副本）。
	Handles() []Handle
	accept(v annotationVisitor)
	base() *overlay
}

type annotationVisitor interface {
	visitTrendline(*Trendline)
	visitSwingPoint(*SwingPoint)
	visitFibonacci(*Fibonacci)
	visitFairValueGap(*FairValueGap)
}

type overlay struct {
	id      string
	created time.Time
	handles []Handle
}

func (o *overlay) ID() string           { return o.id }
func (o *overlay) CreatedAt() time.Time { return o.created }
func (o *overlay) base() *overlay       { return o }

func (o *overlay) Handles() []Handle {
	if len(o.handles) == 0 {
		return nil
	}
	out := make([]Handle, len(o.handles))
	copy(out, o.handles)
	return out
}

// Trendline 两点趋势线，Label 为起点到终点的绝对/百分比涨跌。
type Trendline struct {
	overlay
	Start    SnappedPoint
	End      SnappedPoint
	Delta    float64
	DeltaPct float64
	Label    string
}

func (t *Trendline) Tool() Tool                 { return ToolTrendline }
func (t *Trendline) accept(v annotationVisitor) { v.visitTrendline(t) }

// SwingPoint 单根 K 线上的高/低点标记，Price 恒等于 K 线 high 或 low。
type SwingPoint struct {
	overlay
	Time        int64
	Price       float64
	Kind        SwingKind
	CandleIndex int
}

func (s *SwingPoint) Tool() Tool                 { return ToolSwingPoint }
func (s *SwingPoint) accept(v annotationVisitor) { v.visitSwingPoint(s) }

// Fibonacci 回撤，Levels 由 (Start, End) 与当前 FibLevelConfig 计算。
type Fibonacci struct {
	overlay
	Start  SnappedPoint
	End    SnappedPoint
	Levels []FibLevelPrice
}

func (f *Fibonacci) Tool() Tool                 { return ToolFibonacci }
func (f *Fibonacci) accept(v annotationVisitor) { v.visitFibonacci(f) }

// Base 返回价格较低的锚点（0 位）。
func (f *Fibonacci) Base() SnappedPoint {
	if f.End.Price < f.Start.Price {
		return f.End
	}
	return f.Start
}

// VisibleLevels 返回可见水平（保持配置顺序）。
func (f *Fibonacci) VisibleLevels() []FibLevelPrice {
	out := make([]FibLevelPrice, 0, len(f.Levels))
	for _, l := range f.Levels {
		if l.Visible {
			out = append(out, l)
		}
	}
	return out
}

func (f *Fibonacci) applyLevels(levels []FibLevel) {
	f.Levels = computeFibLevels(f.Start.Point, f.End.Point, levels)
}

// FairValueGap 两锚点之间的价格失衡区间。
type FairValueGap struct {
	overlay
	Start  SnappedPoint
	End    SnappedPoint
	Top    float64
	Bottom float64
}

func (g *FairValueGap) Tool() Tool                 { return ToolFairValueGap }
func (g *FairValueGap) accept(v annotationVisitor) { v.visitFairValueGap(g) }

// timeSpan 返回按时间升序的两个锚点时间。
func timeSpan(a, b SnappedPoint) (int64, int64) {
	if a.Time <= b.Time {
		return a.Time, b.Time
	}
	return b.Time, a.Time
}

// Snapshot 是标注的只读 JSON 视图，供宿主页面展示。
type Snapshot struct {
	ID        string          `json:"id"`
	Tool      Tool            `json:"tool"`
	CreatedAt time.Time       `json:"created_at"`
	Handles   int             `json:"handles"`
	Start     *SnappedPoint   `json:"start,omitempty"`
	End       *SnappedPoint   `json:"end,omitempty"`
	Time      int64           `json:"time,omitempty"`
	Price     float64         `json:"price,omitempty"`
	Kind      SwingKind       `json:"kind,omitempty"`
	Label     string          `json:"label,omitempty"`
	Delta     float64         `json:"delta,omitempty"`
	DeltaPct  float64         `json:"delta_pct,omitempty"`
	Levels    []FibLevelPrice `json:"levels,omitempty"`
	Top       float64         `json:"top,omitempty"`
	Bottom    float64         `json:"bottom,omitempty"`
}

type describer struct {
	out Snapshot
}

func (d *describer) visitTrendline(t *Trendline) {
	d.out.Start, d.out.End = pointRef(t.Start), pointRef(t.End)
	d.out.Label, d.out.Delta, d.out.DeltaPct = t.Label, t.Delta, t.DeltaPct
}

func (d *describer) visitSwingPoint(s *SwingPoint) {
	d.out.Time, d.out.Price, d.out.Kind = s.Time, s.Price, s.Kind
}

func (d *describer) visitFibonacci(f *Fibonacci) {
	d.out.Start, d.out.End = pointRef(f.Start), pointRef(f.End)
	d.out.Levels = append([]FibLevelPrice(nil), f.Levels...)
}

func (d *describer) visitFairValueGap(g *FairValueGap) {
	d.out.Start, d.out.End = pointRef(g.Start), pointRef(g.End)
	d.out.Top, d.out.Bottom = g.Top, g.Bottom
}

func pointRef(p SnappedPoint) *SnappedPoint {
	return &p
}

// Describe 生成标注快照。
func Describe(a Annotation) Snapshot {
	d := &describer{out: Snapshot{
		ID:        a.ID(),
		Tool:      a.Tool(),
		CreatedAt: a.CreatedAt(),
		Handles:   len(a.base().handles),
	}}
	a.accept(d)
	return d.out
}

// DescribeAll 按历史顺序生成快照列表。
func DescribeAll(list []Annotation) []Snapshot {
	out := make([]Snapshot, 0, len(list))
	for _, a := range list {
		out = append(out, Describe(a))
	}
	return out
}
