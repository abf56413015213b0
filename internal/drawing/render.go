package drawing

import (
	"fmt"
	"sort"
	"strconv"

	"chartdraw/internal/logger"
)

const (
	colorTrendline  = "#3b82f6"
	colorSwingHigh  = "#f87171"
	colorSwingLow   = "#34d399"
	colorFVG        = "#a78bfa"
	colorFibDefault = "#9ca3af"

	lineWidthDefault = 1
	lineWidthKey     = 2
)

// primitive 是一个待创建的宿主图元。
type primitive struct {
	kind      HandleKind
	style     LineStyle
	points    []Point
	priceLine PriceLineOptions
}

// planner 把标注展开为宿主图元列表。
type planner struct {
	out []primitive
}

func (p *planner) segment(style LineStyle, points ...Point) {
	p.out = append(p.out, primitive{kind: HandleSeries, style: style, points: points})
}

func (p *planner) visitTrendline(t *Trendline) {
	a, b := t.Start.Point, t.End.Point
	if b.Time < a.Time {
		a, b = b, a
	}
	p.segment(LineStyle{Color: colorTrendline, Width: lineWidthKey, Title: t.Label}, a, b)
}

func (p *planner) visitSwingPoint(*SwingPoint) {}

func (p *planner) visitFibonacci(f *Fibonacci) {
	t0, t1 := timeSpan(f.Start, f.End)
	for _, lvl := range f.VisibleLevels() {
		width := float64(lineWidthDefault)
		if lvl.IsKey {
			width = lineWidthKey
		}
		title := fmt.Sprintf("%s (%s)", lvl.Label, strconv.FormatFloat(lvl.Price, 'f', -1, 64))
		p.segment(LineStyle{Color: lvl.Color, Width: width, Title: title},
			Point{Time: t0, Price: lvl.Price}, Point{Time: t1, Price: lvl.Price})
	}
}

func (p *planner) visitFairValueGap(g *FairValueGap) {
	t0, t1 := timeSpan(g.Start, g.End)
	for _, edge := range []struct {
		price float64
		title string
	}{{g.Top, "FVG top"}, {g.Bottom, "FVG bottom"}} {
		p.out = append(p.out, primitive{kind: HandlePriceLine, priceLine: PriceLineOptions{
			Price:            edge.price,
			Color:            colorFVG,
			Width:            lineWidthDefault,
			Dashed:           true,
			Title:            edge.title,
			AxisLabelVisible: true,
		}})
	}
	p.segment(LineStyle{Color: colorFVG, Width: lineWidthDefault}, Point{Time: t0, Price: g.Top}, Point{Time: t1, Price: g.Top})
	p.segment(LineStyle{Color: colorFVG, Width: lineWidthDefault}, Point{Time: t0, Price: g.Bottom}, Point{Time: t1, Price: g.Bottom})
}

// markerCollector 收集共享标记列表中属于各标注的条目。
type markerCollector struct {
	out []Marker
}

func (m *markerCollector) visitTrendline(*Trendline) {}
func (m *markerCollector) visitFibonacci(*Fibonacci) {}

func (m *markerCollector) visitSwingPoint(s *SwingPoint) {
	mk := Marker{Time: s.Time, Price: s.Price, OwnerID: s.ID()}
	if s.Kind == SwingHigh {
		mk.Position, mk.Shape, mk.Color, mk.Text = MarkerAboveBar, MarkerArrowDown, colorSwingHigh, "SH"
	} else {
		mk.Position, mk.Shape, mk.Color, mk.Text = MarkerBelowBar, MarkerArrowUp, colorSwingLow, "SL"
	}
	m.out = append(m.out, mk)
}

func (m *markerCollector) visitFairValueGap(g *FairValueGap) {
	for _, p := range []SnappedPoint{g.Start, g.End} {
		m.out = append(m.out, Marker{
			Time:     p.Time,
			Price:    p.Price,
			Position: MarkerInBar,
			Shape:    MarkerCircle,
			Color:    colorFVG,
			OwnerID:  g.ID(),
		})
	}
}

func ownsMarkers(a Annotation) bool {
	c := &markerCollector{}
	a.accept(c)
	return len(c.out) > 0
}

// RenderStats 记录图元创建/销毁计数。
type RenderStats struct {
	Created     int `json:"created"`
	Disposed    int `json:"disposed"`
	Outstanding int `json:"outstanding"`
}

// Renderer 负责在宿主上创建/销毁标注图元。句柄按标注分组保存，
// 单个图元失败不会影响同一标注的其它图元。
type Renderer struct {
	host  Host
	log   logger.Scoped
	live  map[string]Annotation
	stats RenderStats
}

func NewRenderer(host Host) *Renderer {
	return &Renderer{host: host, log: logger.Named("render"), live: make(map[string]Annotation)}
}

// Create 尽力创建标注的全部图元，返回成功的句柄。
func (r *Renderer) Create(a Annotation) []Handle {
	p := &planner{}
	a.accept(p)
	handles := make([]Handle, 0, len(p.out))
	for i, prim := range p.out {
		h, err := r.createPrimitive(prim)
		if err != nil {
			r.log.Warnf("create %s #%d for %s %s failed: %v", prim.kind, i+1, a.Tool(), a.ID(), err)
			continue
		}
		handles = append(handles, h)
	}
	o := a.base()
	o.handles = handles
	if len(handles) > 0 {
		r.live[a.ID()] = a
	}
	r.stats.Created += len(handles)
	return a.Handles()
}

func (r *Renderer) createPrimitive(p primitive) (Handle, error) {
	switch p.kind {
	case HandleSeries:
		return r.host.AddLineSeries(p.style, p.points)
	case HandlePriceLine:
		return r.host.CreatePriceLine(p.priceLine)
	default:
		return Handle{}, fmt.Errorf("unknown primitive kind %d", p.kind)
	}
}

// Dispose 移除标注持有的全部句柄并强制重绘，返回处理的句柄数。
// 宿主删除失败时记录日志，句柄仍视为已释放。
func (r *Renderer) Dispose(a Annotation) int {
	o := a.base()
	n := 0
	for _, h := range o.handles {
		var err error
		switch h.Kind {
		case HandleSeries:
			err = r.host.RemoveSeries(h)
		case HandlePriceLine:
			err = r.host.RemovePriceLine(h)
		default:
			err = fmt.Errorf("unknown handle kind %d", h.Kind)
		}
		if err != nil {
			r.log.Warnf("dispose %s %s of %s failed: %v", h.Kind, h.ID, a.ID(), err)
		}
		n++
	}
	o.handles = nil
	delete(r.live, a.ID())
	r.stats.Disposed += n
	if n > 0 {
		r.host.Redraw()
	}
	return n
}

// SyncMarkers 用 list 中所有标注的标记重建宿主的共享标记列表。
func (r *Renderer) SyncMarkers(list []Annotation) error {
	c := &markerCollector{}
	for _, a := range list {
		a.accept(c)
	}
	sort.SliceStable(c.out, func(i, j int) bool { return c.out[i].Time < c.out[j].Time })
	if err := r.host.SetMarkers(c.out); err != nil {
		r.log.Warnf("set %d markers failed: %v", len(c.out), err)
		return err
	}
	return nil
}

// DisposeAll 在宿主销毁前释放所有未释放的句柄并清空标记。
func (r *Renderer) DisposeAll() int {
	n := 0
	for _, a := range r.live {
		n += r.Dispose(a)
	}
	if err := r.host.SetMarkers(nil); err != nil {
		r.log.Warnf("reset markers failed: %v", err)
	}
	r.host.Redraw()
	return n
}

// Outstanding 返回仍在宿主上的句柄数。
func (r *Renderer) Outstanding() int {
	n := 0
	for _, a := range r.live {
		n += len(a.base().handles)
	}
	return n
}

func (r *Renderer) Stats() RenderStats {
	s := r.stats
	s.Outstanding = r.Outstanding()
	return s
}
