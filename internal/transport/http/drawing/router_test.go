package drawinghttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chartdraw/internal/chart/echarts"
	"chartdraw/internal/config/loader"
	"chartdraw/internal/drawing"
	"chartdraw/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	events       []Event
	unsubscribed bool
}

func (f *fakeStream) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, func() { f.unsubscribed = true }
}

type testEnv struct {
	handler http.Handler
	chart   *echarts.Chart
	engine  *drawing.Engine
	levels  *drawing.FibLevelConfig
	stream  *fakeStream
}

func hourlyCandles(t *testing.T) *market.Series {
	t.Helper()
	candles := make([]market.Candle, 0, 10)
	for i := 0; i < 10; i++ {
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

func newTestEnv(t *testing.T, series *market.Series) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	chart := echarts.NewChart(series, echarts.Options{Symbol: "BTCUSDT", Width: 1140, Height: 612})
	levels, err := drawing.NewFibLevelConfig(nil)
	require.NoError(t, err)
	engine, err := drawing.NewEngine(chart, drawing.Options{Candles: series, FibLevels: levels})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	stream := &fakeStream{}
	router, err := NewRouter(RouterConfig{
		Engine:       engine,
		Chart:        chart,
		Levels:       levels,
		DecodeLevels: loader.DecodeLevels,
		Events:       stream,
	})
	require.NoError(t, err)
	srv, err := NewServer(ServerConfig{Addr: ":0", Router: router})
	require.NoError(t, err)
	return &testEnv{handler: srv.Handler(), chart: chart, engine: engine, levels: levels, stream: stream}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestNewRouterRequiresEngine(t *testing.T) {
	_, err := NewRouter(RouterConfig{})
	assert.Error(t, err)
	_, err = NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))
	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDrawFibonacciOverHTTP(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))

	w := env.do(t, http.MethodPost, "/api/drawing/tool", `{"tool":"fib"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "armed", decodeBody(t, w)["state"])

	w = env.do(t, http.MethodPost, "/api/drawing/click", `{"time":3660,"price":95}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Nil(t, body["created"])
	assert.Equal(t, "awaiting_second_click", body["state"].(map[string]any)["state"])

	// 第二次点击走像素坐标
	px, ok := env.chart.ToPixels(drawing.Point{Time: 5*3600 + 60, Price: 111})
	require.True(t, ok)
	w = env.do(t, http.MethodPost, "/api/drawing/click", `{"x":`+jsonNumber(px.X)+`,"y":`+jsonNumber(px.Y)+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decodeBody(t, w)["created"].(map[string]any)
	assert.Equal(t, "fibonacci", created["tool"])
	assert.Len(t, created["levels"], len(drawing.DefaultFibLevels()))

	w = env.do(t, http.MethodGet, "/api/drawing/annotations?tool=fibonacci", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])

	w = env.do(t, http.MethodGet, "/api/drawing/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	state := decodeBody(t, w)
	assert.Equal(t, float64(1), state["annotations"])
	assert.Equal(t, float64(len(drawing.DefaultFibLevels())), state["live_handles"])
	assert.Equal(t, true, state["chart_ready"])

	w = env.do(t, http.MethodPost, "/api/drawing/undo", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, float64(0), body["remaining"])
	assert.NotNil(t, body["removed"])
	lines, _, _ := env.chart.OverlayCount()
	assert.Zero(t, lines)

	w = env.do(t, http.MethodPost, "/api/drawing/undo", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeBody(t, w)["removed"])
}

func jsonNumber(v float64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func TestErrorCodesMapToStatus(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))

	w := env.do(t, http.MethodPost, "/api/drawing/tool", `{"tool":"ruler"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, drawing.CodeInvalidTool, decodeBody(t, w)["code"])

	env.do(t, http.MethodPost, "/api/drawing/tool", `{"tool":"trendline"}`)
	w = env.do(t, http.MethodPost, "/api/drawing/click", `{"time":900000,"price":100}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, drawing.CodeInvalidSnap, decodeBody(t, w)["code"])

	w = env.do(t, http.MethodPost, "/api/drawing/click", `{"x":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/drawing/click", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, env.engine.Close())
	w = env.do(t, http.MethodPost, "/api/drawing/undo", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, drawing.CodeEngineClosed, decodeBody(t, w)["code"])
}

func TestClickOnEmptyChartIsNotReady(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/drawing/tool", `{"tool":"swing"}`)
	w := env.do(t, http.MethodPost, "/api/drawing/click", `{"x":100,"y":100}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, drawing.CodeChartNotReady, decodeBody(t, w)["code"])

	w = env.do(t, http.MethodGet, "/api/drawing/chart", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCancelAndClear(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))
	env.do(t, http.MethodPost, "/api/drawing/tool", `{"tool":"swing"}`)
	env.do(t, http.MethodPost, "/api/drawing/click", `{"time":3600,"price":106}`)
	env.do(t, http.MethodPost, "/api/drawing/click", `{"time":7200,"price":97}`)
	assert.Equal(t, 2, env.engine.Len())

	env.do(t, http.MethodPost, "/api/drawing/tool", `{"tool":"trendline"}`)
	env.do(t, http.MethodPost, "/api/drawing/click", `{"time":3600,"price":106}`)
	w := env.do(t, http.MethodPost, "/api/drawing/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["cancelled"])

	w = env.do(t, http.MethodPost, "/api/drawing/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["remaining"])
	assert.Equal(t, float64(0), body["disposed_handles"], "swing points only own markers")
	_, _, markers := env.chart.OverlayCount()
	assert.Zero(t, markers)
}

func TestFibLevelSettings(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))
	env.do(t, http.MethodPost, "/api/drawing/tool", `{"tool":"fib"}`)
	env.do(t, http.MethodPost, "/api/drawing/click", `{"time":3600,"price":95}`)
	env.do(t, http.MethodPost, "/api/drawing/click", `{"time":18000,"price":111}`)

	w := env.do(t, http.MethodGet, "/api/drawing/fib-levels", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["levels"], len(drawing.DefaultFibLevels()))

	w = env.do(t, http.MethodPut, "/api/drawing/fib-levels", "levels:\n  - ratio: 0.5\n    is_key: true\n  - ratio: 1\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decodeBody(t, w)["levels"], 2)
	lines, _, _ := env.chart.OverlayCount()
	assert.Equal(t, 2, lines, "existing retracement rebuilt with new levels")

	w = env.do(t, http.MethodPut, "/api/drawing/fib-levels", `{"levels":[{"ratio":"x"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, drawing.CodeInvalidLevels, decodeBody(t, w)["code"])
	assert.Len(t, env.levels.Levels(), 2)

	w = env.do(t, http.MethodPatch, "/api/drawing/fib-levels/visibility", `{"ratio":1,"visible":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	lines, _, _ = env.chart.OverlayCount()
	assert.Equal(t, 1, lines)

	w = env.do(t, http.MethodPatch, "/api/drawing/fib-levels/visibility", `{"ratio":0.33,"visible":false}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodPatch, "/api/drawing/fib-levels/visibility", `{"ratio":0.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutLevelsRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))
	body := "levels:\n  - ratio: 0.5\n#" + strings.Repeat("x", maxLevelBody)
	w := env.do(t, http.MethodPut, "/api/drawing/fib-levels", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Len(t, env.levels.Levels(), len(drawing.DefaultFibLevels()))
}

func TestLevelSettingsReportSaveFailure(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))
	dir := filepath.Join(t.TempDir(), "levels")
	fibLoader, err := loader.NewFibLoader(filepath.Join(dir, "fib_levels.yaml"), env.levels)
	require.NoError(t, err)
	router, err := NewRouter(RouterConfig{Engine: env.engine, Levels: fibLoader, DecodeLevels: loader.DecodeLevels})
	require.NoError(t, err)
	srv, err := NewServer(ServerConfig{Router: router})
	require.NoError(t, err)
	env.handler = srv.Handler()

	w := env.do(t, http.MethodGet, "/api/drawing/fib-levels", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	source := body["source"].(map[string]any)
	assert.Equal(t, fibLoader.Path(), source["path"])
	assert.NotEmpty(t, source["loaded_at"])
	assert.Nil(t, body["warning"])

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	w = env.do(t, http.MethodPatch, "/api/drawing/fib-levels/visibility", `{"ratio":0.236,"visible":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decodeBody(t, w)["warning"], "not saved")
	assert.False(t, env.levels.Levels()[1].Visible)
}

func TestStatePendingPixelFollowsViewport(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))
	env.do(t, http.MethodPost, "/api/drawing/tool", `{"tool":"trendline"}`)

	w := env.do(t, http.MethodGet, "/api/drawing/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decodeBody(t, w)["pending_pixel"])

	env.do(t, http.MethodPost, "/api/drawing/click", `{"time":18000,"price":111}`)
	start := env.engine.ToolState().PendingStart
	require.NotNil(t, start)

	pending := func() map[string]any {
		w := env.do(t, http.MethodGet, "/api/drawing/state", "")
		require.Equal(t, http.StatusOK, w.Code)
		px, ok := decodeBody(t, w)["pending_pixel"].(map[string]any)
		require.True(t, ok, w.Body.String())
		return px
	}
	want, ok := env.chart.ToPixels(start.Point)
	require.True(t, ok)
	before := pending()
	assert.InDelta(t, want.X, before["x"], 1e-6)
	assert.InDelta(t, want.Y, before["y"], 1e-6)

	w = env.do(t, http.MethodPost, "/api/drawing/viewport", `{"action":"zoom","factor":2,"anchor_x":60}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	want, ok = env.chart.ToPixels(start.Point)
	require.True(t, ok)
	after := pending()
	assert.InDelta(t, want.X, after["x"], 1e-6)
	assert.NotEqual(t, before["x"], after["x"], "projection re-queried after zoom")
}

func TestResizeAndViewport(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))

	w := env.do(t, http.MethodPost, "/api/drawing/resize", `{"width":800,"height":500}`)
	require.Equal(t, http.StatusOK, w.Code)
	width, height := env.chart.Size()
	assert.Equal(t, []int{800, 500}, []int{width, height})

	w = env.do(t, http.MethodPost, "/api/drawing/resize", `{"width":0,"height":500}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	before := env.chart.Viewport()
	w = env.do(t, http.MethodPost, "/api/drawing/viewport", `{"action":"zoom","factor":2,"anchor_x":60}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	after := env.chart.Viewport()
	assert.Equal(t, before.From, after.From)
	assert.Equal(t, (before.To-before.From)/2, after.To-after.From)

	w = env.do(t, http.MethodPost, "/api/drawing/viewport", `{"action":"zoom","factor":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodPost, "/api/drawing/viewport", `{"action":"spin"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/drawing/viewport", `{"action":"fit"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, before, env.chart.Viewport())
}

func TestChartPageAndSnapshot(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))

	w := env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/drawing/chart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "BTCUSDT")

	w = env.do(t, http.MethodGet, "/api/drawing/snapshot.png", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "snapshot disabled")
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, hourlyCandles(t))
	env.stream.events = []Event{
		{Type: "drawing.complete", Data: drawing.Snapshot{ID: "a1", Tool: drawing.ToolSwingPoint}},
		{Type: "drawing.change", Data: []drawing.Snapshot{}},
	}

	w := env.do(t, http.MethodGet, "/api/drawing/events", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	body := w.Body.String()
	assert.Contains(t, body, "state")
	assert.Contains(t, body, "drawing.complete")
	assert.Contains(t, body, `"id":"a1"`)
	assert.Contains(t, body, "drawing.change")
	assert.True(t, env.stream.unsubscribed)
}

func TestStatusForCode(t *testing.T) {
	cases := map[string]int{
		drawing.CodeChartNotReady:  http.StatusConflict,
		drawing.CodeInvalidSnap:    http.StatusUnprocessableEntity,
		drawing.CodeInvalidTool:    http.StatusUnprocessableEntity,
		drawing.CodeInvalidLevels:  http.StatusUnprocessableEntity,
		drawing.CodeHostCapability: http.StatusNotImplemented,
		drawing.CodeEngineClosed:   http.StatusServiceUnavailable,
		"":                         http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusForCode(code), code)
	}
}
