package config

import "strings"

// Config 是 chartdraw 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Chart   ChartConfig   `toml:"chart"`
	Drawing DrawingConfig `toml:"drawing"`
	Render  RenderConfig  `toml:"render"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ChartConfig 宿主图表与 K 线数据来源。
type ChartConfig struct {
	Symbol      string `toml:"symbol"`
	Interval    string `toml:"interval"`
	CandlesPath string `toml:"candles_path"`
	Width       int    `toml:"width"`
	Height      int    `toml:"height"`
	EMAPeriods  []int  `toml:"ema_periods"`
}

type DrawingConfig struct {
	FibLevelsPath  string  `toml:"fib_levels_path"`
	WatchFibLevels bool    `toml:"watch_fib_levels"`
	SwingDedupPct  float64 `toml:"swing_dedup_pct"`
	DefaultTool    string  `toml:"default_tool"`
}

// RenderConfig 控制 headless Chrome 快照。
type RenderConfig struct {
	SnapshotEnabled        bool `toml:"snapshot_enabled"`
	SnapshotTimeoutSeconds int  `toml:"snapshot_timeout_seconds"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
