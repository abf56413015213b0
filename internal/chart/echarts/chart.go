package echarts

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"chartdraw/internal/drawing"
	"chartdraw/internal/market"
)

// 绘图区边距（像素），与 buildHTML 中的 grid 设置一致。
const (
	marginLeft   = 60
	marginRight  = 80
	marginTop    = 48
	marginBottom = 64

	pricePaddingRatio = 0.05
)

// Options 构造 Chart 的参数。
type Options struct {
	Symbol     string
	Width      int
	Height     int
	EMAPeriods []int
}

// Viewport 当前可见的数据范围。
type Viewport struct {
	From int64   `json:"from"`
	To   int64   `json:"to"`
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

var (
	_ drawing.Host        = (*Chart)(nil)
	_ drawing.ClickSource = (*Chart)(nil)
	_ drawing.Resizer     = (*Chart)(nil)
)

func (v Viewport) valid() bool {
	return v.To > v.From && v.High > v.Low
}

type lineOverlay struct {
	id     string
	style  drawing.LineStyle
	points []drawing.Point
}

type priceLine struct {
	id   string
	opts drawing.PriceLineOptions
}

// Chart 是基于 go-echarts 的宿主图表：维护视口与叠加图元，
// 坐标换算按当前视口线性计算，渲染时输出 HTML/PNG。
type Chart struct {
	mu         sync.RWMutex
	symbol     string
	width      int
	height     int
	emaPeriods []int
	series     *market.Series
	view       Viewport
	lines      []lineOverlay
	priceLines []priceLine
	markers    []drawing.Marker
	nextID     int
	revision   int64
	closed     bool

	subMu   sync.Mutex
	subs    map[int]func(x, y float64)
	nextSub int
}

func NewChart(series *market.Series, o Options) *Chart {
	c := &Chart{
		symbol:     strings.ToUpper(strings.TrimSpace(o.Symbol)),
		width:      o.Width,
		height:     o.Height,
		emaPeriods: append([]int(nil), o.EMAPeriods...),
		subs:       make(map[int]func(x, y float64)),
	}
	c.SetSeries(series)
	return c
}

// SetSeries 替换 K 线数据并把视口重置为全部数据。
func (c *Chart) SetSeries(series *market.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series = series
	c.view = fitViewport(series)
	c.revision++
}

func fitViewport(series *market.Series) Viewport {
	if series.Len() == 0 {
		return Viewport{}
	}
	lo, hi := series.PriceBounds()
	pad := (hi - lo) * pricePaddingRatio
	if pad <= 0 {
		pad = math.Max(1, math.Abs(hi)*0.01)
	}
	return Viewport{
		From: series.First().Time,
		To:   series.End(),
		Low:  lo - pad,
		High: hi + pad,
	}
}

func (c *Chart) Series() *market.Series {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.series
}

func (c *Chart) Symbol() string { return c.symbol }

func (c *Chart) Size() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.width, c.height
}

func (c *Chart) Viewport() Viewport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Revision 每次重绘递增，页面据此判断是否需要刷新。
func (c *Chart) Revision() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revision
}

func (c *Chart) readyLocked() bool {
	return !c.closed && c.series.Len() > 0 && c.plotWidth() > 0 && c.plotHeight() > 0 && c.view.valid()
}

func (c *Chart) plotWidth() float64  { return float64(c.width - marginLeft - marginRight) }
func (c *Chart) plotHeight() float64 { return float64(c.height - marginTop - marginBottom) }

func (c *Chart) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readyLocked()
}

func (c *Chart) ToPixels(p drawing.Point) (drawing.PixelPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.readyLocked() {
		return drawing.PixelPoint{}, false
	}
	v := c.view
	x := marginLeft + float64(p.Time-v.From)/float64(v.To-v.From)*c.plotWidth()
	y := marginTop + (v.High-p.Price)/(v.High-v.Low)*c.plotHeight()
	return drawing.PixelPoint{X: x, Y: y}, true
}

func (c *Chart) ToValue(px drawing.PixelPoint) (drawing.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.readyLocked() {
		return drawing.Point{}, false
	}
	v := c.view
	t := float64(v.From) + (px.X-marginLeft)/c.plotWidth()*float64(v.To-v.From)
	price := v.High - (px.Y-marginTop)/c.plotHeight()*(v.High-v.Low)
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return drawing.Point{}, false
	}
	return drawing.Point{Time: int64(math.Round(t)), Price: price}, true
}

// Zoom 以像素 anchorX 为中心缩放时间轴，factor > 1 放大。
func (c *Chart) Zoom(factor, anchorX float64) error {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("invalid zoom factor %v", factor)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.readyLocked() {
		return drawing.ErrChartNotReady
	}
	v := c.view
	span := float64(v.To - v.From)
	ratio := (anchorX - marginLeft) / c.plotWidth()
	ratio = math.Min(1, math.Max(0, ratio))
	anchor := float64(v.From) + ratio*span
	next := span / factor
	if next < 1 {
		next = 1
	}
	from := anchor - ratio*next
	c.view.From = int64(math.Round(from))
	c.view.To = c.view.From + int64(math.Max(1, math.Round(next)))
	c.revision++
	return nil
}

// Pan 按像素平移视口，dx > 0 向右拖动（显示更早的数据）。
func (c *Chart) Pan(dx, dy float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.readyLocked() {
		return drawing.ErrChartNotReady
	}
	v := c.view
	dt := int64(math.Round(dx / c.plotWidth() * float64(v.To-v.From)))
	dp := dy / c.plotHeight() * (v.High - v.Low)
	c.view.From -= dt
	c.view.To -= dt
	c.view.Low += dp
	c.view.High += dp
	c.revision++
	return nil
}

// FitContent 把视口重置为全部数据。
func (c *Chart) FitContent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = fitViewport(c.series)
	c.revision++
}

// Resize 只改变像素尺寸，视口数据范围不变。
func (c *Chart) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = width, height
	c.revision++
}

func (c *Chart) AddLineSeries(style drawing.LineStyle, points []drawing.Point) (drawing.Handle, error) {
	if len(points) < 2 {
		return drawing.Handle{}, fmt.Errorf("line series needs at least 2 points, got %d", len(points))
	}
	for _, p := range points {
		if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			return drawing.Handle{}, fmt.Errorf("line point %d has non-finite price", p.Time)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return drawing.Handle{}, drawing.ErrEngineClosed
	}
	c.nextID++
	id := fmt.Sprintf("line-%d", c.nextID)
	pts := append([]drawing.Point(nil), points...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time < pts[j].Time })
	c.lines = append(c.lines, lineOverlay{id: id, style: style, points: pts})
	return drawing.Handle{Kind: drawing.HandleSeries, ID: id}, nil
}

func (c *Chart) CreatePriceLine(o drawing.PriceLineOptions) (drawing.Handle, error) {
	if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) {
		return drawing.Handle{}, fmt.Errorf("price line has non-finite price")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return drawing.Handle{}, drawing.ErrEngineClosed
	}
	c.nextID++
	id := fmt.Sprintf("price-%d", c.nextID)
	c.priceLines = append(c.priceLines, priceLine{id: id, opts: o})
	return drawing.Handle{Kind: drawing.HandlePriceLine, ID: id}, nil
}

func (c *Chart) SetMarkers(markers []drawing.Marker) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = append([]drawing.Marker(nil), markers...)
	return nil
}

func (c *Chart) RemoveSeries(h drawing.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.lines {
		if l.id == h.ID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("series %s not found", h.ID)
}

func (c *Chart) RemovePriceLine(h drawing.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, pl := range c.priceLines {
		if pl.id == h.ID {
			c.priceLines = append(c.priceLines[:i], c.priceLines[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("price line %s not found", h.ID)
}

func (c *Chart) Redraw() {
	c.mu.Lock()
	c.revision++
	c.mu.Unlock()
}

// OverlayCount 返回当前的线段与价格线数量。
func (c *Chart) OverlayCount() (lines, priceLines, markers int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.lines), len(c.priceLines), len(c.markers)
}

func (c *Chart) SubscribeClick(fn func(x, y float64)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

// Click 投递一次指针点击，返回收到点击的订阅者数量。订阅者在锁外按注册顺序执行。
func (c *Chart) Click(x, y float64) int {
	c.subMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(x, y float64), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(x, y)
	}
	return len(fns)
}

// Close 销毁图表；之后 Ready 返回 false，新图元创建失败。
func (c *Chart) Close() error {
	c.mu.Lock()
	c.closed = true
	c.lines = nil
	c.priceLines = nil
	c.markers = nil
	c.mu.Unlock()
	c.subMu.Lock()
	c.subs = make(map[int]func(x, y float64))
	c.subMu.Unlock()
	return nil
}

// snapshot 是渲染用的只读副本。
type snapshot struct {
	symbol     string
	width      int
	height     int
	emaPeriods []int
	candles    []market.Candle
	interval   int64
	view       Viewport
	lines      []lineOverlay
	priceLines []priceLine
	markers    []drawing.Marker
}

func (c *Chart) snapshot() snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := snapshot{
		symbol:     c.symbol,
		width:      c.width,
		height:     c.height,
		emaPeriods: append([]int(nil), c.emaPeriods...),
		view:       c.view,
		lines:      append([]lineOverlay(nil), c.lines...),
		priceLines: append([]priceLine(nil), c.priceLines...),
		markers:    append([]drawing.Marker(nil), c.markers...),
	}
	if c.series.Len() > 0 {
		s.candles = c.series.Candles()
		s.interval = c.series.Interval()
	}
	return s
}
