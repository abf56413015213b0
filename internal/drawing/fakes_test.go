package drawing

import (
	"errors"
	"fmt"
	"testing"

	"chartdraw/internal/market"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeHost 把像素 x 直接当作时间、y 当作价格。
type fakeHost struct {
	ready      bool
	nextID     int
	series     map[string][]Point
	styles     map[string]LineStyle
	priceLines map[string]PriceLineOptions
	markers    []Marker
	redraws    int
	removed    int
	// failSeries 中的序号（从 1 开始）对应的 AddLineSeries 调用返回错误。
	failSeries map[int]bool
	seriesCall int
	clickFns   map[int]func(x, y float64)
	width      int
	height     int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		ready:      true,
		series:     make(map[string][]Point),
		styles:     make(map[string]LineStyle),
		priceLines: make(map[string]PriceLineOptions),
		failSeries: make(map[int]bool),
		clickFns:   make(map[int]func(x, y float64)),
	}
}

func (h *fakeHost) Ready() bool { return h.ready }

func (h *fakeHost) ToPixels(p Point) (PixelPoint, bool) {
	return PixelPoint{X: float64(p.Time), Y: p.Price}, h.ready
}

func (h *fakeHost) ToValue(px PixelPoint) (Point, bool) {
	return Point{Time: int64(px.X), Price: px.Y}, h.ready
}

func (h *fakeHost) AddLineSeries(style LineStyle, points []Point) (Handle, error) {
	h.seriesCall++
	if h.failSeries[h.seriesCall] {
		return Handle{}, fmt.Errorf("series #%d rejected", h.seriesCall)
	}
	h.nextID++
	id := fmt.Sprintf("s%d", h.nextID)
	h.series[id] = append([]Point(nil), points...)
	h.styles[id] = style
	return Handle{Kind: HandleSeries, ID: id}, nil
}

func (h *fakeHost) CreatePriceLine(opts PriceLineOptions) (Handle, error) {
	h.nextID++
	id := fmt.Sprintf("p%d", h.nextID)
	h.priceLines[id] = opts
	return Handle{Kind: HandlePriceLine, ID: id}, nil
}

func (h *fakeHost) SetMarkers(markers []Marker) error {
	h.markers = append([]Marker(nil), markers...)
	return nil
}

func (h *fakeHost) RemoveSeries(handle Handle) error {
	if _, ok := h.series[handle.ID]; !ok {
		return errors.New("unknown series")
	}
	delete(h.series, handle.ID)
	delete(h.styles, handle.ID)
	h.removed++
	return nil
}

func (h *fakeHost) RemovePriceLine(handle Handle) error {
	if _, ok := h.priceLines[handle.ID]; !ok {
		return errors.New("unknown price line")
	}
	delete(h.priceLines, handle.ID)
	h.removed++
	return nil
}

func (h *fakeHost) Redraw() { h.redraws++ }

func (h *fakeHost) primitives() int { return len(h.series) + len(h.priceLines) }

// clickHost 额外实现 ClickSource 与 Resizer。
type clickHost struct {
	*fakeHost
	nextSub int
}

func (h *clickHost) SubscribeClick(fn func(x, y float64)) func() {
	h.nextSub++
	id := h.nextSub
	h.clickFns[id] = fn
	return func() { delete(h.clickFns, id) }
}

func (h *clickHost) Resize(width, height int) {
	h.width, h.height = width, height
}

func (h *clickHost) click(x, y float64) {
	for _, fn := range h.clickFns {
		fn(x, y)
	}
}

// mockHost 用于验证宿主调用顺序与失败路径。
type mockHost struct {
	mock.Mock
}

func (m *mockHost) Ready() bool { return m.Called().Bool(0) }

func (m *mockHost) ToPixels(p Point) (PixelPoint, bool) {
	args := m.Called(p)
	return args.Get(0).(PixelPoint), args.Bool(1)
}

func (m *mockHost) ToValue(px PixelPoint) (Point, bool) {
	args := m.Called(px)
	return args.Get(0).(Point), args.Bool(1)
}

func (m *mockHost) AddLineSeries(style LineStyle, points []Point) (Handle, error) {
	args := m.Called(style, points)
	return args.Get(0).(Handle), args.Error(1)
}

func (m *mockHost) CreatePriceLine(opts PriceLineOptions) (Handle, error) {
	args := m.Called(opts)
	return args.Get(0).(Handle), args.Error(1)
}

func (m *mockHost) SetMarkers(markers []Marker) error { return m.Called(markers).Error(0) }
func (m *mockHost) RemoveSeries(h Handle) error       { return m.Called(h).Error(0) }
func (m *mockHost) RemovePriceLine(h Handle) error    { return m.Called(h).Error(0) }
func (m *mockHost) Redraw()                           { m.Called() }

// testSeries: 四根 500 秒 K 线。
//
//	1000: O100 H110 L95  C105
//	1500: O105 H108 L90  C100
//	2000: O100 H110 L98  C108
//	2500: O108 H120 L105 C118
func testSeries(t *testing.T) *market.Series {
	t.Helper()
	s, err := market.NewSeries([]market.Candle{
		{Time: 1000, Open: 100, High: 110, Low: 95, Close: 105},
		{Time: 1500, Open: 105, High: 108, Low: 90, Close: 100},
		{Time: 2000, Open: 100, High: 110, Low: 98, Close: 108},
		{Time: 2500, Open: 108, High: 120, Low: 105, Close: 118},
	}, 500)
	require.NoError(t, err)
	return s
}

func snapped(t *testing.T, s *market.Series, ts int64, price float64) SnappedPoint {
	t.Helper()
	sp, err := NewSnapper(s).Snap(Point{Time: ts, Price: price})
	require.NoError(t, err)
	return sp
}
