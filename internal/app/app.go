package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"chartdraw/internal/chart/echarts"
	brcfg "chartdraw/internal/config"
	cfgloader "chartdraw/internal/config/loader"
	"chartdraw/internal/drawing"
	"chartdraw/internal/logger"
	drawinghttp "chartdraw/internal/transport/http/drawing"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化图表与绘图引擎→启动 HTTP 服务。
type App struct {
	cfg         *brcfg.Config
	chart       *echarts.Chart
	engine      *drawing.Engine
	levels      *drawing.FibLevelConfig
	fibLoader   *cfgloader.FibLoader
	hub         *EventHub
	unsubLevels func()
	server      *drawinghttp.Server
	Summary     *StartupSummary

	closeOnce sync.Once
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务，直到 ctx 取消；返回前释放所有资源。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Infof("收到退出信号，正在关闭绘图引擎")
		a.hub.Close()
		return nil
	})
	return group.Wait()
}

// Close 先停止事件与配置推送，再释放引擎图元，最后销毁图表。可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		if a.unsubLevels != nil {
			a.unsubLevels()
		}
		if a.fibLoader != nil {
			_ = a.fibLoader.Close()
		}
		if a.engine != nil {
			if err := a.engine.Close(); err != nil {
				logger.Warnf("close drawing engine failed: %v", err)
			}
		}
		if a.chart != nil {
			_ = a.chart.Close()
		}
		if a.hub != nil {
			a.hub.Close()
		}
	})
}

// Engine exposes the drawing engine (for tests and embedding pages).
func (a *App) Engine() *drawing.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) Chart() *echarts.Chart {
	if a == nil {
		return nil
	}
	return a.chart
}

// Handler 返回完整的 HTTP handler，不监听端口。
func (a *App) Handler() http.Handler {
	if a == nil || a.server == nil {
		return nil
	}
	return a.server.Handler()
}
