package market

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// 毫秒级时间戳阈值（约 2286 年的秒数）。
const epochMillisThreshold = 1e10

// LoadCandlesFile 读取 JSON K 线文件。
func LoadCandlesFile(path string) ([]Candle, error) {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("read candles file failed: %w", err)
	}
	return DecodeCandles(raw)
}

// DecodeCandles 解析 K 线数组，time 可以是 unix 秒/毫秒，也可以用 date 字符串代替。
// 支持根节点为数组或 {"candles": [...]}。
func DecodeCandles(raw []byte) ([]Candle, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("candles json is invalid")
	}
	parsed := gjson.ParseBytes(raw)
	if parsed.IsObject() {
		if inner := parsed.Get("candles"); inner.IsArray() {
			parsed = inner
		}
	}
	if !parsed.IsArray() {
		return nil, fmt.Errorf("candles root must be an array")
	}
	var (
		out    []Candle
		decErr error
		idx    int
	)
	parsed.ForEach(func(_, value gjson.Result) bool {
		idx++
		c, err := decodeCandle(idx, value)
		if err != nil {
			decErr = err
			return false
		}
		out = append(out, c)
		return true
	})
	if decErr != nil {
		return nil, decErr
	}
	return out, nil
}

func decodeCandle(idx int, value gjson.Result) (Candle, error) {
	if !value.IsObject() {
		return Candle{}, fmt.Errorf("candle #%d must be an object", idx)
	}
	ts, err := candleTime(value)
	if err != nil {
		return Candle{}, fmt.Errorf("candle #%d: %w", idx, err)
	}
	c := Candle{Time: ts}
	fields := []struct {
		key string
		dst *float64
	}{
		{"open", &c.Open},
		{"high", &c.High},
		{"low", &c.Low},
		{"close", &c.Close},
	}
	for _, f := range fields {
		v, err := numberField(value.Get(f.key))
		if err != nil {
			return Candle{}, fmt.Errorf("candle #%d %s: %w", idx, f.key, err)
		}
		*f.dst = v
	}
	if vol := value.Get("volume"); vol.Exists() {
		c.Volume, err = numberField(vol)
		if err != nil {
			return Candle{}, fmt.Errorf("candle #%d volume: %w", idx, err)
		}
	}
	return c, nil
}

func candleTime(value gjson.Result) (int64, error) {
	if t := value.Get("time"); t.Exists() {
		switch t.Type {
		case gjson.Number:
			return normalizeEpoch(t.Int()), nil
		case gjson.String:
			if n, err := strconv.ParseInt(strings.TrimSpace(t.Str), 10, 64); err == nil {
				return normalizeEpoch(n), nil
			}
			return parseDate(t.Str)
		default:
			return 0, fmt.Errorf("time must be a number or string")
		}
	}
	if d := value.Get("date"); d.Exists() {
		return parseDate(d.String())
	}
	return 0, fmt.Errorf("missing time or date")
}

func normalizeEpoch(ts int64) int64 {
	if ts > epochMillisThreshold {
		return ts / 1000
	}
	return ts
}

func parseDate(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized date %q", raw)
}

func numberField(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Num, nil
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", r.Str)
		}
		return v, nil
	case gjson.Null:
		if !r.Exists() {
			return 0, fmt.Errorf("missing")
		}
		return 0, fmt.Errorf("null value")
	default:
		return 0, fmt.Errorf("unexpected type %s", r.Type)
	}
}
