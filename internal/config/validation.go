package config

import (
	"fmt"
	"strings"

	"chartdraw/internal/drawing"
	"chartdraw/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Chart.validate(); err != nil {
		return err
	}
	if err := c.Drawing.validate(); err != nil {
		return err
	}
	if err := c.Render.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level unsupported: %s", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (c *ChartConfig) validate() error {
	if c.Interval != "" {
		if _, err := market.ParseTimeframe(c.Interval); err != nil {
			return fmt.Errorf("chart.interval: %w", err)
		}
	}
	if strings.TrimSpace(c.CandlesPath) == "" {
		return fmt.Errorf("chart.candles_path cannot be empty")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("chart.width/height must be > 0 (got %dx%d)", c.Width, c.Height)
	}
	for _, p := range c.EMAPeriods {
		if p < 2 {
			return fmt.Errorf("chart.ema_periods must be >= 2 (got %d)", p)
		}
	}
	return nil
}

func (d *DrawingConfig) validate() error {
	if strings.TrimSpace(d.FibLevelsPath) == "" {
		return fmt.Errorf("drawing.fib_levels_path cannot be empty")
	}
	if d.SwingDedupPct <= 0 || d.SwingDedupPct > 0.1 {
		return fmt.Errorf("drawing.swing_dedup_pct must be in (0, 0.1] (got %v)", d.SwingDedupPct)
	}
	if _, err := drawing.ParseTool(d.DefaultTool); err != nil {
		return fmt.Errorf("drawing.default_tool: %w", err)
	}
	return nil
}

func (r *RenderConfig) validate() error {
	if r.SnapshotEnabled && r.SnapshotTimeoutSeconds <= 0 {
		return fmt.Errorf("render.snapshot_timeout_seconds must be > 0")
	}
	return nil
}
