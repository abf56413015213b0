package drawing

// HandleKind 区分 overlay 句柄对应的宿主图元类型。
type HandleKind uint8

const (
	HandleSeries HandleKind = iota + 1
	HandlePriceLine
)

func (k HandleKind) String() string {
	switch k {
	case HandleSeries:
		return "series"
	case HandlePriceLine:
		return "price_line"
	default:
		return "unknown"
	}
}

// Handle 是宿主图元的不透明引用，仅用于销毁。
type Handle struct {
	Kind HandleKind `json:"kind"`
	ID   string     `json:"id"`
}

type LineStyle struct {
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Dashed bool    `json:"dashed,omitempty"`
	Title  string  `json:"title,omitempty"`
}

type PriceLineOptions struct {
	Price            float64 `json:"price"`
	Color            string  `json:"color"`
	Width            float64 `json:"width"`
	Dashed           bool    `json:"dashed,omitempty"`
	Title            string  `json:"title,omitempty"`
	AxisLabelVisible bool    `json:"axis_label_visible"`
}

type MarkerPosition string

const (
	MarkerAboveBar MarkerPosition = "aboveBar"
	MarkerBelowBar MarkerPosition = "belowBar"
	MarkerInBar    MarkerPosition = "inBar"
)

type MarkerShape string

const (
	MarkerArrowUp   MarkerShape = "arrowUp"
	MarkerArrowDown MarkerShape = "arrowDown"
	MarkerCircle    MarkerShape = "circle"
)

// Marker 是宿主序列上的单个标记；所有标记共用一个列表，整体替换。
type Marker struct {
	Time     int64          `json:"time"`
	Price    float64        `json:"price"`
	Position MarkerPosition `json:"position"`
	Shape    MarkerShape    `json:"shape"`
	Color    string         `json:"color"`
	Text     string         `json:"text,omitempty"`
	OwnerID  string         `json:"owner_id"`
}

// Host 是宿主图表库必须提供的能力。坐标换算每次交互都重新查询，不做缓存。
type Host interface {
	// Ready 在坐标轴和主序列初始化后返回 true。
	Ready() bool
	ToPixels(p Point) (PixelPoint, bool)
	ToValue(px PixelPoint) (Point, bool)
	AddLineSeries(style LineStyle, points []Point) (Handle, error)
	CreatePriceLine(opts PriceLineOptions) (Handle, error)
	SetMarkers(markers []Marker) error
	RemoveSeries(h Handle) error
	RemovePriceLine(h Handle) error
	// Redraw 强制宿主重绘。
	Redraw()
}

// ClickSource 由能够投递指针点击的宿主实现。
type ClickSource interface {
	SubscribeClick(fn func(x, y float64)) (unsubscribe func())
}

// Resizer 由支持尺寸变化的宿主实现；尺寸变化只影响像素，不触碰标注。
type Resizer interface {
	Resize(width, height int)
}
