package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chartdraw/internal/chart/echarts"
	brcfg "chartdraw/internal/config"
	cfgloader "chartdraw/internal/config/loader"
	"chartdraw/internal/drawing"
	"chartdraw/internal/logger"
	"chartdraw/internal/market"
	drawinghttp "chartdraw/internal/transport/http/drawing"
)

type AppBuilder struct {
	cfg *brcfg.Config

	candlesFn   func(context.Context, brcfg.ChartConfig) (*market.Series, error)
	fibLoaderFn func(brcfg.DrawingConfig, *drawing.FibLevelConfig) (*cfgloader.FibLoader, error)
	httpFn      func(brcfg.AppConfig, *drawinghttp.Router) (*drawinghttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithCandles 替换 K 线来源（测试注入内存数据）。
func WithCandles(fn func(context.Context, brcfg.ChartConfig) (*market.Series, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.candlesFn = fn }
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		candlesFn:   loadCandles,
		fibLoaderFn: buildFibLoader,
		httpFn:      buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func loadCandles(ctx context.Context, c brcfg.ChartConfig) (*market.Series, error) {
	var src market.Source = market.FileSource{Path: c.CandlesPath}
	return src.FetchHistory(ctx, c.Symbol, c.Interval)
}

func buildFibLoader(d brcfg.DrawingConfig, levels *drawing.FibLevelConfig) (*cfgloader.FibLoader, error) {
	if strings.TrimSpace(d.FibLevelsPath) == "" {
		return nil, nil
	}
	l, err := cfgloader.NewFibLoader(d.FibLevelsPath, levels)
	if err != nil {
		return nil, err
	}
	if d.WatchFibLevels {
		if err := l.Watch(); err != nil {
			_ = l.Close()
			return nil, err
		}
	}
	return l, nil
}

func buildHTTPServer(a brcfg.AppConfig, router *drawinghttp.Router) (*drawinghttp.Server, error) {
	return drawinghttp.NewServer(drawinghttp.ServerConfig{Addr: a.HTTPAddr, Router: router})
}

// Build 按依赖顺序组装应用；任一步失败时回收已创建的资源。
func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	var cleanups []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	series, err := b.candlesFn(ctx, cfg.Chart)
	if err != nil {
		return nil, fmt.Errorf("load candles failed: %w", err)
	}
	logger.Infof("✓ 已加载 %s K 线 %d 根 (周期 %ds)", cfg.Chart.Symbol, series.Len(), series.Interval())

	chart := echarts.NewChart(series, echarts.Options{
		Symbol:     cfg.Chart.Symbol,
		Width:      cfg.Chart.Width,
		Height:     cfg.Chart.Height,
		EMAPeriods: cfg.Chart.EMAPeriods,
	})
	cleanups = append(cleanups, func() { _ = chart.Close() })

	levels, err := drawing.NewFibLevelConfig(nil)
	if err != nil {
		return nil, err
	}
	fibLoader, err := b.fibLoaderFn(cfg.Drawing, levels)
	if err != nil {
		return nil, fmt.Errorf("load fib levels failed: %w", err)
	}
	var settings drawinghttp.LevelSettings = levels
	if fibLoader != nil {
		settings = fibLoader
		cleanups = append(cleanups, func() { _ = fibLoader.Close() })
		logger.Infof("✓ Fib 水平 %d 条，来自 %s", len(levels.Levels()), fibLoader.Path())
	}

	hub := NewEventHub()
	cleanups = append(cleanups, hub.Close)
	unsubLevels := levels.Subscribe(hub.OnFibLevels)
	cleanups = append(cleanups, unsubLevels)

	engine, err := drawing.NewEngine(chart, drawing.Options{
		Candles:           series,
		FibLevels:         levels,
		SwingDedupPct:     cfg.Drawing.SwingDedupPct,
		OnDrawingChange:   hub.OnDrawingChange,
		OnDrawingComplete: hub.OnDrawingComplete,
	})
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, func() { _ = engine.Close() })
	if err := engine.BindClicks(); err != nil {
		return nil, err
	}
	if tool, perr := drawing.ParseTool(cfg.Drawing.DefaultTool); perr == nil && tool != drawing.ToolPointer {
		if _, err := engine.SelectTool(tool); err != nil {
			return nil, err
		}
	}

	router, err := drawinghttp.NewRouter(drawinghttp.RouterConfig{
		Engine:          engine,
		Chart:           chart,
		Levels:          settings,
		DecodeLevels:    cfgloader.DecodeLevels,
		Events:          hub,
		SnapshotEnabled: cfg.Render.SnapshotEnabled,
		SnapshotTimeout: time.Duration(cfg.Render.SnapshotTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	server, err := b.httpFn(cfg.App, router)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:         cfg,
		chart:       chart,
		engine:      engine,
		levels:      levels,
		fibLoader:   fibLoader,
		hub:         hub,
		unsubLevels: unsubLevels,
		server:      server,
		Summary:     buildSummary(cfg, series, levels, fibLoader),
	}, nil
}
