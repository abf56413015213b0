package drawing

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"chartdraw/internal/logger"

	"github.com/shopspring/decimal"
)

const ratioEpsilon = 1e-9

// FibLevel 单条斐波那契回撤水平的配置。
type FibLevel struct {
	Ratio   float64 `json:"ratio" yaml:"ratio" mapstructure:"ratio"`
	Label   string  `json:"label" yaml:"label" mapstructure:"label"`
	Visible bool    `json:"visible" yaml:"visible" mapstructure:"visible"`
	Color   string  `json:"color" yaml:"color" mapstructure:"color"`
	IsKey   bool    `json:"is_key" yaml:"is_key" mapstructure:"is_key"`
}

// DefaultFibLevels 常用回撤比例，0.5 与 0.618 为关键位。
func DefaultFibLevels() []FibLevel {
	return []FibLevel{
		{Ratio: 0, Label: "0", Visible: true, Color: "#9ca3af"},
		{Ratio: 0.236, Label: "0.236", Visible: true, Color: "#f87171"},
		{Ratio: 0.382, Label: "0.382", Visible: true, Color: "#fbbf24"},
		{Ratio: 0.5, Label: "0.5", Visible: true, Color: "#34d399", IsKey: true},
		{Ratio: 0.618, Label: "0.618", Visible: true, Color: "#22d3ee", IsKey: true},
		{Ratio: 0.786, Label: "0.786", Visible: true, Color: "#3b82f6"},
		{Ratio: 1, Label: "1", Visible: true, Color: "#9ca3af"},
	}
}

// NormalizeFibLevels 校验并补全 label/color，保持原有顺序。
func NormalizeFibLevels(levels []FibLevel) ([]FibLevel, error) {
	if len(levels) == 0 {
		return nil, newError(CodeInvalidLevels, "at least one level required", nil)
	}
	out := make([]FibLevel, len(levels))
	seen := make([]float64, 0, len(levels))
	for i, lvl := range levels {
		if !finite(lvl.Ratio) {
			return nil, newError(CodeInvalidLevels, fmt.Sprintf("level #%d ratio is not finite", i+1), nil)
		}
		for _, r := range seen {
			if math.Abs(r-lvl.Ratio) < ratioEpsilon {
				return nil, newError(CodeInvalidLevels, fmt.Sprintf("duplicate ratio %v", lvl.Ratio), nil)
			}
		}
		seen = append(seen, lvl.Ratio)
		lvl.Label = strings.TrimSpace(lvl.Label)
		if lvl.Label == "" {
			lvl.Label = formatRatio(lvl.Ratio)
		}
		lvl.Color = strings.TrimSpace(lvl.Color)
		if lvl.Color == "" {
			lvl.Color = colorFibDefault
		}
		out[i] = lvl
	}
	return out, nil
}

func formatRatio(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// FibListener 在配置变化后同步调用。
type FibListener func(levels []FibLevel)

type fibSubscriber struct {
	id int
	fn FibListener
}

// FibLevelConfig 进程级共享的回撤水平配置，变更时同步通知订阅者。
// 变更与通知整体串行：订阅者按写入顺序收到每一版配置，最后一次通知即当前配置。
// 订阅者内不能再调用 Update/SetVisible。
type FibLevelConfig struct {
	// writeMu 覆盖 存储→版本号→通知 全过程
	writeMu   sync.Mutex
	mu        sync.RWMutex
	levels    []FibLevel
	version   int64
	subs      []fibSubscriber
	nextSubID int
}

// NewFibLevelConfig levels 为空时使用 DefaultFibLevels。
func NewFibLevelConfig(levels []FibLevel) (*FibLevelConfig, error) {
	if len(levels) == 0 {
		levels = DefaultFibLevels()
	}
	norm, err := NormalizeFibLevels(levels)
	if err != nil {
		return nil, err
	}
	return &FibLevelConfig{levels: norm, version: 1}, nil
}

// Levels 返回副本。
func (c *FibLevelConfig) Levels() []FibLevel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneLevels(c.levels)
}

func (c *FibLevelConfig) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Update 替换整组配置，返回前同步执行所有订阅者。
func (c *FibLevelConfig) Update(levels []FibLevel) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.updateLocked(levels)
}

// SetVisible 切换某个比例的可见性（设置面板勾选框）。
func (c *FibLevelConfig) SetVisible(ratio float64, visible bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	levels := c.Levels()
	found := false
	for i := range levels {
		if math.Abs(levels[i].Ratio-ratio) < ratioEpsilon {
			levels[i].Visible = visible
			found = true
		}
	}
	if !found {
		return newError(CodeInvalidLevels, fmt.Sprintf("ratio %v not configured", ratio), nil)
	}
	return c.updateLocked(levels)
}

func (c *FibLevelConfig) updateLocked(levels []FibLevel) error {
	norm, err := NormalizeFibLevels(levels)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.levels = norm
	c.version++
	subs := append([]fibSubscriber(nil), c.subs...)
	snapshot := cloneLevels(norm)
	c.mu.Unlock()
	for _, sub := range subs {
		c.deliver(sub, snapshot)
	}
	return nil
}

// Subscribe 注册监听器，返回取消函数；监听器按注册顺序执行。
func (c *FibLevelConfig) Subscribe(fn FibListener) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, fibSubscriber{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subs {
			if sub.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *FibLevelConfig) deliver(sub fibSubscriber, levels []FibLevel) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("fib level listener %d panic: %v", sub.id, r)
		}
	}()
	sub.fn(cloneLevels(levels))
}

func cloneLevels(in []FibLevel) []FibLevel {
	if in == nil {
		return nil
	}
	out := make([]FibLevel, len(in))
	copy(out, in)
	return out
}

// FibLevelPrice 单条回撤水平及其价格。
type FibLevelPrice struct {
	FibLevel
	Price float64 `json:"price"`
}

// computeFibLevels 以较低锚点为 0 位：price = base + |end-start| * ratio，
// 与绘制方向无关。用 decimal 计算保证同一对锚点反复计算结果一致。
func computeFibLevels(start, end Point, levels []FibLevel) []FibLevelPrice {
	lo, hi := start.Price, end.Price
	if lo > hi {
		lo, hi = hi, lo
	}
	base := decimal.NewFromFloat(lo)
	span := decimal.NewFromFloat(hi).Sub(base)
	out := make([]FibLevelPrice, 0, len(levels))
	for _, lvl := range levels {
		price, _ := base.Add(span.Mul(decimal.NewFromFloat(lvl.Ratio))).Float64()
		out = append(out, FibLevelPrice{FibLevel: lvl, Price: price})
	}
	return out
}

// sortedRatios 供日志/摘要使用。
func sortedRatios(levels []FibLevel) []float64 {
	out := make([]float64, 0, len(levels))
	for _, l := range levels {
		out = append(out, l.Ratio)
	}
	sort.Float64s(out)
	return out
}
