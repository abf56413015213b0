package drawing

import (
	"fmt"
	"math"
)

// CoordinateAdapter 在像素空间与数据空间之间换算。
// 宿主视口（缩放/平移）在两次点击之间可能变化，所以每次都向宿主查询。
type CoordinateAdapter struct {
	host Host
}

func NewCoordinateAdapter(host Host) *CoordinateAdapter {
	return &CoordinateAdapter{host: host}
}

func (c *CoordinateAdapter) PixelToData(x, y float64) (Point, error) {
	if c == nil || c.host == nil || !c.host.Ready() {
		return Point{}, ErrChartNotReady
	}
	if !finite(x) || !finite(y) {
		return Point{}, newError(CodeChartNotReady, fmt.Sprintf("pixel (%v,%v) is not finite", x, y), nil)
	}
	p, ok := c.host.ToValue(PixelPoint{X: x, Y: y})
	if !ok || !finite(p.Price) {
		return Point{}, newError(CodeChartNotReady, fmt.Sprintf("host cannot resolve pixel (%.1f,%.1f)", x, y), nil)
	}
	return p, nil
}

func (c *CoordinateAdapter) DataToPixel(p Point) (PixelPoint, error) {
	if c == nil || c.host == nil || !c.host.Ready() {
		return PixelPoint{}, ErrChartNotReady
	}
	px, ok := c.host.ToPixels(p)
	if !ok || !finite(px.X) || !finite(px.Y) {
		return PixelPoint{}, newError(CodeChartNotReady, fmt.Sprintf("host cannot project (%d,%.8f)", p.Time, p.Price), nil)
	}
	return px, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
