package config

import (
	"strings"

	"chartdraw/internal/drawing"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultChartSymbol     = "BTCUSDT"
	defaultChartCandles    = "configs/candles.json"
	defaultChartWidth      = 1200
	defaultChartHeight     = 600
	defaultFibLevelsPath   = "configs/fib_levels.yaml"
	defaultDrawingTool     = string(drawing.ToolPointer)
	defaultSnapshotTimeout = 20
)

var defaultEMAPeriods = []int{20, 50}

// applyDefaults 为所有子配置应用默认值，只填充配置文件中未出现的字段。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Chart.applyDefaults(keys)
	c.Drawing.applyDefaults(keys)
	c.Render.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (c *ChartConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("chart.symbol", &c.Symbol, defaultChartSymbol),
		stringFieldDefault("chart.candles_path", &c.CandlesPath, defaultChartCandles),
		intFieldDefault("chart.width", &c.Width, defaultChartWidth),
		intFieldDefault("chart.height", &c.Height, defaultChartHeight),
		fieldDefault{
			key:   "chart.ema_periods",
			need:  func() bool { return len(c.EMAPeriods) == 0 },
			apply: func() { c.EMAPeriods = append([]int(nil), defaultEMAPeriods...) },
		},
	)
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Interval = strings.ToLower(strings.TrimSpace(c.Interval))
}

func (d *DrawingConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("drawing.fib_levels_path", &d.FibLevelsPath, defaultFibLevelsPath),
		boolFieldDefault("drawing.watch_fib_levels", &d.WatchFibLevels, true),
		stringFieldDefault("drawing.default_tool", &d.DefaultTool, defaultDrawingTool),
		fieldDefault{
			key:   "drawing.swing_dedup_pct",
			need:  func() bool { return d.SwingDedupPct <= 0 },
			apply: func() { d.SwingDedupPct = drawing.DefaultSwingDedupPct },
		},
	)
}

func (r *RenderConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("render.snapshot_enabled", &r.SnapshotEnabled, true),
		intFieldDefault("render.snapshot_timeout_seconds", &r.SnapshotTimeoutSeconds, defaultSnapshotTimeout),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
