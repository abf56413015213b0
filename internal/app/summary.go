package app

import (
	"fmt"
	"strings"

	brcfg "chartdraw/internal/config"
	cfgloader "chartdraw/internal/config/loader"
	"chartdraw/internal/drawing"
	"chartdraw/internal/market"
)

type StartupSummary struct {
	Chart   ChartSummary
	Drawing DrawingSummary
	HTTP    HTTPSummary
}

type ChartSummary struct {
	Symbol     string
	Candles    int
	Interval   int64
	From       string
	To         string
	Size       string
	EMAPeriods []int
}

type DrawingSummary struct {
	DefaultTool   string
	SwingDedupPct float64
	FibLevels     []string
	FibLevelsPath string
	Watching      bool
}

type HTTPSummary struct {
	Addr     string
	Snapshot bool
}

func buildSummary(cfg *brcfg.Config, series *market.Series, levels *drawing.FibLevelConfig, loader *cfgloader.FibLoader) *StartupSummary {
	s := &StartupSummary{
		Chart: ChartSummary{
			Symbol:     cfg.Chart.Symbol,
			Candles:    series.Len(),
			Interval:   series.Interval(),
			Size:       fmt.Sprintf("%dx%d", cfg.Chart.Width, cfg.Chart.Height),
			EMAPeriods: cfg.Chart.EMAPeriods,
		},
		Drawing: DrawingSummary{
			DefaultTool:   cfg.Drawing.DefaultTool,
			SwingDedupPct: cfg.Drawing.SwingDedupPct,
		},
		HTTP: HTTPSummary{Addr: cfg.App.HTTPAddr, Snapshot: cfg.Render.SnapshotEnabled},
	}
	if series.Len() > 0 {
		s.Chart.From = series.First().TimeString()
		s.Chart.To = series.Last().TimeString()
	}
	for _, l := range levels.Levels() {
		mark := ""
		if !l.Visible {
			mark = " (隐藏)"
		}
		s.Drawing.FibLevels = append(s.Drawing.FibLevels, l.Label+mark)
	}
	if loader != nil {
		s.Drawing.FibLevelsPath = loader.Path()
		s.Drawing.Watching = cfg.Drawing.WatchFibLevels
	}
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[图表 (CHART)]")
	fmt.Printf("  交易对: %s\n", s.Chart.Symbol)
	fmt.Printf("  K线数量: %d (周期 %ds)\n", s.Chart.Candles, s.Chart.Interval)
	fmt.Printf("  时间范围: %s ~ %s\n", orDash(s.Chart.From), orDash(s.Chart.To))
	fmt.Printf("  画布尺寸: %s\n", s.Chart.Size)
	fmt.Printf("  EMA: %s\n", formatInts(s.Chart.EMAPeriods))
	fmt.Println()

	fmt.Println("[绘图 (DRAWING)]")
	fmt.Printf("  默认工具: %s\n", orDash(s.Drawing.DefaultTool))
	fmt.Printf("  Swing 去重阈值: %.4f\n", s.Drawing.SwingDedupPct)
	fmt.Printf("  Fib 水平: %s\n", formatList(s.Drawing.FibLevels))
	if s.Drawing.FibLevelsPath != "" {
		fmt.Printf("  Fib 配置文件: %s (热加载: %v)\n", s.Drawing.FibLevelsPath, s.Drawing.Watching)
	}
	fmt.Println()

	fmt.Println("[HTTP]")
	fmt.Printf("  监听地址: %s\n", s.HTTP.Addr)
	fmt.Printf("  PNG 快照: %v\n", s.HTTP.Snapshot)
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func formatInts(items []int) string {
	out := make([]string, 0, len(items))
	for _, v := range items {
		out = append(out, fmt.Sprint(v))
	}
	return formatList(out)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
