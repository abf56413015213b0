package market

import (
	"context"
	"fmt"
	"strings"

	"chartdraw/internal/logger"
)

// Source 提供图表使用的历史 K 线。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string) (*Series, error)
}

// FileSource 从本地 JSON 文件读取 K 线，symbol 只用于日志。
type FileSource struct {
	Path string
}

// FetchHistory 读取并校验文件；interval 为空时按最常见的时间步长推断周期。
func (s FileSource) FetchHistory(ctx context.Context, symbol, interval string) (*Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Path) == "" {
		return nil, fmt.Errorf("candle source for %s has no path", symbol)
	}
	candles, err := LoadCandlesFile(s.Path)
	if err != nil {
		return nil, err
	}
	var step int64
	if strings.TrimSpace(interval) != "" {
		tf, err := ParseTimeframe(interval)
		if err != nil {
			return nil, err
		}
		step = tf.Seconds()
		if n := misaligned(candles, tf); n > 0 {
			logger.Warnf("%s: %d candles are not aligned to the %s grid", symbol, n, tf.Key)
		}
	}
	series, err := NewSeries(candles, step)
	if err != nil {
		return nil, fmt.Errorf("%s candles: %w", symbol, err)
	}
	return series, nil
}

// misaligned 统计开盘时间不在周期网格上的 K 线数量。
func misaligned(candles []Candle, tf Timeframe) int {
	n := 0
	for _, c := range candles {
		if tf.AlignDown(c.Time) != c.Time {
			n++
		}
	}
	return n
}
