package market

import (
	"fmt"
	"math"
	"time"
)

// Candle 单根 K 线，Time 为该周期 bucket 的起始时间（unix 秒）。
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// Range 返回 high-low。
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Mid 返回 K 线中点价格。
func (c Candle) Mid() float64 {
	return (c.High + c.Low) / 2
}

func (c Candle) Contains(price float64) bool {
	return price >= c.Low && price <= c.High
}

func (c Candle) TimeString() string {
	if c.Time <= 0 {
		return "-"
	}
	return time.Unix(c.Time, 0).UTC().Format("01-02 15:04") + "Z"
}

func (c Candle) validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("candle %d has non-finite price", c.Time)
		}
	}
	if c.High < c.Low {
		return fmt.Errorf("candle %d high %.8f below low %.8f", c.Time, c.High, c.Low)
	}
	return nil
}
