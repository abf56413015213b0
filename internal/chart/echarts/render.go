package echarts

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"chartdraw/internal/drawing"
	"chartdraw/internal/market"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"

	defaultSnapshotTimeout = 20 * time.Second
)

var emaPalette = []string{"#3b82f6", "#fbbf24", "#f472b6", "#22d3ee"}

// RenderHTML 输出包含 K 线、EMA 与全部标注图元的独立 HTML 页面。
func (c *Chart) RenderHTML() ([]byte, error) {
	return buildHTML(c.snapshot())
}

// RenderPNG 用 headless Chrome 截图当前图表。
func (c *Chart) RenderPNG(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, fmt.Errorf("headless chrome unavailable: %w", err)
	}
	html, err := c.RenderHTML()
	if err != nil {
		return nil, err
	}
	w, h := c.Size()
	return renderHTMLToPNG(ctx, html, w, h, timeout)
}

// timeAxis 是 K 线与标注共用的类目轴。
type timeAxis struct {
	times  []int64
	labels []string
	index  map[int64]int
}

func buildTimeAxis(s snapshot) timeAxis {
	seen := make(map[int64]struct{}, len(s.candles))
	add := func(t int64) { seen[t] = struct{}{} }
	for _, c := range s.candles {
		add(c.Time)
	}
	for _, l := range s.lines {
		for _, p := range l.points {
			add(p.Time)
		}
	}
	for _, m := range s.markers {
		add(m.Time)
	}
	ax := timeAxis{times: make([]int64, 0, len(seen)), index: make(map[int64]int, len(seen))}
	for t := range seen {
		ax.times = append(ax.times, t)
	}
	sort.Slice(ax.times, func(i, j int) bool { return ax.times[i] < ax.times[j] })
	layout := "01-02 15:04"
	if s.interval >= int64((24 * time.Hour).Seconds()) {
		layout = "2006-01-02"
	}
	ax.labels = make([]string, len(ax.times))
	for i, t := range ax.times {
		ax.index[t] = i
		ax.labels[i] = time.Unix(t, 0).UTC().Format(layout)
	}
	return ax
}

func buildHTML(s snapshot) ([]byte, error) {
	if len(s.candles) == 0 {
		return nil, fmt.Errorf("no candles to render")
	}
	if s.width <= 0 || s.height <= 0 {
		return nil, fmt.Errorf("invalid chart size %dx%d", s.width, s.height)
	}
	ax := buildTimeAxis(s)

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", s.width),
			Height:          fmt.Sprintf("%dpx", s.height),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:      s.symbol,
			Subtitle:   fmt.Sprintf("%d lines | %d price lines | %d markers", len(s.lines), len(s.priceLines), len(s.markers)),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(s.view.Low, 4),
			Max:       round(s.view.High, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	kline.SetXAxis(ax.labels)
	kline.AddSeries(s.symbol, buildKlineSeries(ax, s.candles))

	if ema := buildEMALine(ax, s.candles, s.emaPeriods); ema != nil {
		kline.Overlap(ema)
	}
	if overlays := buildOverlayLine(ax, s.lines, s.priceLines); overlays != nil {
		kline.Overlap(overlays)
	}
	if markers := buildMarkerScatter(ax, s.markers); markers != nil {
		kline.Overlap(markers)
	}

	page := components.NewPage()
	page.AddCharts(kline)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildKlineSeries(ax timeAxis, candles []market.Candle) []opts.KlineData {
	data := make([]opts.KlineData, len(ax.times))
	for _, c := range candles {
		data[ax.index[c.Time]] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}
	return data
}

func buildEMALine(ax timeAxis, candles []market.Candle, periods []int) *charts.Line {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), ConnectNulls: opts.Bool(true)}),
	)
	added := 0
	for i, period := range periods {
		if period < 2 || len(closes) < period {
			continue
		}
		ema := talib.Ema(closes, period)
		data := nullLine(len(ax.times))
		for j, v := range ema {
			if j < period-1 || math.IsNaN(v) {
				continue
			}
			data[ax.index[candles[j].Time]] = opts.LineData{Value: round(v, 4)}
		}
		color := emaPalette[i%len(emaPalette)]
		line.AddSeries(fmt.Sprintf("EMA%d", period), data, charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 1}))
		added++
	}
	if added == 0 {
		return nil
	}
	line.SetXAxis(ax.labels)
	return line
}

// buildOverlayLine 把每个线段、价格线渲染为独立的折线系列。
func buildOverlayLine(ax timeAxis, lines []lineOverlay, priceLines []priceLine) *charts.Line {
	if len(lines) == 0 && len(priceLines) == 0 {
		return nil
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), ConnectNulls: opts.Bool(true)}),
	)
	for _, l := range lines {
		data := nullLine(len(ax.times))
		for _, p := range l.points {
			data[ax.index[p.Time]] = opts.LineData{Value: round(p.Price, 8)}
		}
		line.AddSeries(seriesName(l.id, l.style.Title), data,
			charts.WithLineStyleOpts(lineStyle(l.style.Color, l.style.Width, l.style.Dashed)))
	}
	for _, pl := range priceLines {
		data := make([]opts.LineData, len(ax.times))
		for i := range data {
			data[i] = opts.LineData{Value: round(pl.opts.Price, 8)}
		}
		name := seriesName(pl.id, pl.opts.Title)
		if pl.opts.AxisLabelVisible {
			name = fmt.Sprintf("%s %s", name, strconv.FormatFloat(pl.opts.Price, 'f', -1, 64))
		}
		line.AddSeries(name, data, charts.WithLineStyleOpts(lineStyle(pl.opts.Color, pl.opts.Width, pl.opts.Dashed)))
	}
	line.SetXAxis(ax.labels)
	return line
}

// buildMarkerScatter 按颜色分组渲染标记。
func buildMarkerScatter(ax timeAxis, markers []drawing.Marker) *charts.Scatter {
	if len(markers) == 0 {
		return nil
	}
	groups := make(map[string][]opts.ScatterData)
	var colors []string
	for _, m := range markers {
		symbol, rotate := markerSymbol(m.Shape)
		if _, ok := groups[m.Color]; !ok {
			colors = append(colors, m.Color)
		}
		groups[m.Color] = append(groups[m.Color], opts.ScatterData{
			Name:         m.Text,
			Value:        []interface{}{ax.labels[ax.index[m.Time]], round(m.Price, 8)},
			Symbol:       symbol,
			SymbolSize:   12,
			SymbolRotate: rotate,
		})
	}
	scatter := charts.NewScatter()
	for _, color := range colors {
		scatter.AddSeries("markers "+color, groups[color], charts.WithItemStyleOpts(opts.ItemStyle{Color: color}))
	}
	scatter.SetXAxis(ax.labels)
	return scatter
}

func markerSymbol(shape drawing.MarkerShape) (string, int) {
	switch shape {
	case drawing.MarkerArrowUp:
		return "triangle", 0
	case drawing.MarkerArrowDown:
		return "triangle", 180
	default:
		return "circle", 0
	}
}

func lineStyle(color string, width float64, dashed bool) opts.LineStyle {
	ls := opts.LineStyle{Color: color, Width: 1}
	if width >= 2 {
		ls.Width = 2
	}
	if dashed {
		ls.Type = "dashed"
	}
	return ls
}

func seriesName(id, title string) string {
	if title == "" {
		return id
	}
	return title
}

func nullLine(n int) []opts.LineData {
	out := make([]opts.LineData, n)
	for i := range out {
		out[i] = opts.LineData{Value: nil}
	}
	return out
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 检查本机能否启动 headless Chrome（只检查一次）。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int, timeout time.Duration) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, timeout)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(800 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 100),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
