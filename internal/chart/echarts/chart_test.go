package echarts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chartdraw/internal/drawing"
	"chartdraw/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlySeries(t *testing.T, n int) *market.Series {
	t.Helper()
	candles := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)
		candles = append(candles, market.Candle{
			Time:  int64(i) * 3600,
			Open:  base,
			High:  base + 5,
			Low:   base - 5,
			Close: base + 1,
		})
	}
	s, err := market.NewSeries(candles, 0)
	require.NoError(t, err)
	return s
}

func newTestChart(t *testing.T) *Chart {
	t.Helper()
	return NewChart(hourlySeries(t, 10), Options{Symbol: "btcusdt", Width: 1140, Height: 612, EMAPeriods: []int{3}})
}

func TestChartReadiness(t *testing.T) {
	empty := NewChart(nil, Options{Width: 800, Height: 600})
	assert.False(t, empty.Ready())
	_, ok := empty.ToValue(drawing.PixelPoint{X: 100, Y: 100})
	assert.False(t, ok)

	c := newTestChart(t)
	assert.True(t, c.Ready())
	assert.Equal(t, "BTCUSDT", c.Symbol())

	c.Resize(100, 80)
	assert.False(t, c.Ready(), "plot area collapsed")
	c.Resize(1140, 612)
	assert.True(t, c.Ready())
}

func TestChartCoordinateRoundTrip(t *testing.T) {
	c := newTestChart(t)
	v := c.Viewport()
	assert.Equal(t, int64(0), v.From)
	assert.Equal(t, int64(36000), v.To)

	p := drawing.Point{Time: 7200, Price: 103}
	px, ok := c.ToPixels(p)
	require.True(t, ok)
	back, ok := c.ToValue(px)
	require.True(t, ok)
	assert.Equal(t, p.Time, back.Time)
	assert.InDelta(t, p.Price, back.Price, 1e-9)

	origin, ok := c.ToPixels(drawing.Point{Time: v.From, Price: v.High})
	require.True(t, ok)
	assert.Equal(t, float64(marginLeft), origin.X)
	assert.Equal(t, float64(marginTop), origin.Y)
}

func TestChartZoomAndPanChangeMapping(t *testing.T) {
	c := newTestChart(t)
	p := drawing.Point{Time: 18000, Price: 105}
	before, _ := c.ToPixels(p)

	center := marginLeft + c.plotWidth()/2
	require.NoError(t, c.Zoom(2, center))
	v := c.Viewport()
	assert.Equal(t, int64(18000), v.To-v.From)
	after, _ := c.ToPixels(p)
	assert.InDelta(t, before.X, after.X, 1e-6, "anchor stays in place")

	other, _ := c.ToPixels(drawing.Point{Time: 9000, Price: 105})
	assert.Less(t, other.X, float64(marginLeft)+1e-6)

	require.NoError(t, c.Pan(c.plotWidth()/2, 0))
	v2 := c.Viewport()
	assert.Equal(t, v.From-9000, v2.From)
	back, ok := c.ToValue(after)
	require.True(t, ok)
	assert.Equal(t, int64(9000), back.Time, "same pixel resolves to a different time after pan")

	assert.Error(t, c.Zoom(0, center))
	c.FitContent()
	assert.Equal(t, int64(36000), c.Viewport().To)
}

func TestChartOverlayLifecycle(t *testing.T) {
	c := newTestChart(t)
	_, err := c.AddLineSeries(drawing.LineStyle{}, []drawing.Point{{Time: 0, Price: 1}})
	assert.Error(t, err)

	h, err := c.AddLineSeries(drawing.LineStyle{Color: "#fff", Title: "trend"},
		[]drawing.Point{{Time: 7200, Price: 110}, {Time: 0, Price: 95}})
	require.NoError(t, err)
	pl, err := c.CreatePriceLine(drawing.PriceLineOptions{Price: 100, Title: "FVG top", AxisLabelVisible: true})
	require.NoError(t, err)
	require.NoError(t, c.SetMarkers([]drawing.Marker{{Time: 3600, Price: 106, Shape: drawing.MarkerArrowDown, Color: "#f00"}}))

	lines, priceLines, markers := c.OverlayCount()
	assert.Equal(t, []int{1, 1, 1}, []int{lines, priceLines, markers})

	rev := c.Revision()
	c.Redraw()
	assert.Equal(t, rev+1, c.Revision())

	require.NoError(t, c.RemoveSeries(h))
	assert.Error(t, c.RemoveSeries(h))
	require.NoError(t, c.RemovePriceLine(pl))
	assert.Error(t, c.RemovePriceLine(pl))

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	_, err = c.CreatePriceLine(drawing.PriceLineOptions{Price: 1})
	assert.True(t, errors.Is(err, drawing.ErrEngineClosed))
}

func TestChartClickDispatch(t *testing.T) {
	c := newTestChart(t)
	var got [][2]float64
	unsub := c.SubscribeClick(func(x, y float64) { got = append(got, [2]float64{x, y}) })
	assert.Equal(t, 1, c.Click(10, 20))
	unsub()
	assert.Equal(t, 0, c.Click(30, 40))
	assert.Equal(t, [][2]float64{{10, 20}}, got)
}

func TestChartHostsDrawingEngine(t *testing.T) {
	c := newTestChart(t)
	e, err := drawing.NewEngine(c, drawing.Options{Candles: c.Series()})
	require.NoError(t, err)
	require.NoError(t, e.BindClicks())
	_, err = e.SelectTool(drawing.ToolFibonacci)
	require.NoError(t, err)

	clickAt := func(p drawing.Point) {
		px, ok := c.ToPixels(p)
		require.True(t, ok)
		c.Click(px.X, px.Y)
	}
	clickAt(drawing.Point{Time: 3600 + 60, Price: 95})
	require.NoError(t, c.Zoom(1.5, marginLeft+c.plotWidth()/3))
	clickAt(drawing.Point{Time: 5*3600 + 60, Price: 111})

	list := e.Annotations()
	require.Len(t, list, 1)
	fib := list[0]
	assert.Equal(t, int64(3600), fib.Start.Time)
	assert.Equal(t, 96.0, fib.Start.Price)
	assert.Equal(t, int64(5*3600), fib.End.Time)
	assert.Equal(t, 110.0, fib.End.Price)
	lines, _, _ := c.OverlayCount()
	assert.Equal(t, len(drawing.DefaultFibLevels()), lines)

	html, err := c.RenderHTML()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(html), "EMA3"))
	assert.True(t, strings.Contains(string(html), "0.618"))

	require.NoError(t, e.Close())
	lines, _, _ = c.OverlayCount()
	assert.Zero(t, lines)
}

func TestRenderHTMLRequiresCandles(t *testing.T) {
	_, err := NewChart(nil, Options{Width: 800, Height: 600}).RenderHTML()
	assert.Error(t, err)
}

func TestRenderPNG(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		t.Skipf("headless chrome unavailable: %v", err)
	}
	png, err := newTestChart(t).RenderPNG(ctx, 20*time.Second)
	require.NoError(t, err)
	assert.True(t, len(png) > 8)
	assert.Equal(t, "\x89PNG", string(png[:4]))
}
